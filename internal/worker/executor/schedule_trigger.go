package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron"
)

// ScheduleTriggerConfig is the config of a trigger_schedule node.
type ScheduleTriggerConfig struct {
	// Cron is a standard 5-field or robfig 6-field (with seconds) cron
	// expression, or one of the @every/@hourly/@daily/... descriptors.
	// A 5-field expression is parsed with cron.ParseStandard, anything
	// else with cron.Parse.
	Cron     string `json:"cron"`
	Timezone string `json:"timezone,omitempty"`
}

// ScheduleTriggerExecutor validates a cron expression when the trigger node
// runs (in Execute), so a malformed expression surfaces as a non-retryable
// node failure rather than silently never firing; nothing checks it earlier. It never runs the schedule itself — the process
// that enqueues a job for a due schedule lives outside the execution plane
// and enqueues a normal trigger job when the schedule is due.
type ScheduleTriggerExecutor struct{}

func NewScheduleTriggerExecutor() *ScheduleTriggerExecutor {
	return &ScheduleTriggerExecutor{}
}

func (e *ScheduleTriggerExecutor) NodeType() string {
	return "trigger_schedule"
}

func (e *ScheduleTriggerExecutor) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	start := time.Now()

	var cfg ScheduleTriggerConfig
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return &ExecuteResponse{
				Error: &ExecutionError{
					Message: fmt.Sprintf("failed to parse schedule trigger config: %v", err),
					Type:    ErrorTypeNonRetryable,
				},
				Duration: time.Since(start),
			}, nil
		}
	}

	if cfg.Cron == "" {
		return &ExecuteResponse{
			Error: &ExecutionError{
				Message: "schedule trigger requires a non-empty cron expression",
				Type:    ErrorTypeNonRetryable,
			},
			Duration: time.Since(start),
		}, nil
	}

	parse := cron.Parse
	if len(strings.Fields(cfg.Cron)) == 5 {
		parse = cron.ParseStandard
	}
	schedule, err := parse(cfg.Cron)
	if err != nil {
		return &ExecuteResponse{
			Error: &ExecutionError{
				Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.Cron, err),
				Type:    ErrorTypeNonRetryable,
			},
			Duration: time.Since(start),
		}, nil
	}

	output := req.Input
	if len(output) == 0 {
		output = json.RawMessage("{}")
	}

	next := schedule.Next(time.Now())

	return &ExecuteResponse{
		Output: output,
		Logs: []LogEntry{
			{
				Timestamp: time.Now(),
				Level:     "info",
				Message:   fmt.Sprintf("schedule %q valid, next fire at %s", cfg.Cron, next.Format(time.RFC3339)),
			},
		},
		Duration: time.Since(start),
	}, nil
}
