// Command localrun drives a single workflow definition to completion
// in-process, without the History/Matching/Worker service split - the same
// node executors registered by cmd/worker, wired instead to
// execution/scheduler.LocalRunner. It exists for local development and
// integration tests against a workflow JSON file on disk.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linkflow/engine/internal/execution/graph"
	"github.com/linkflow/engine/internal/execution/scheduler"
	"github.com/linkflow/engine/internal/resolver"
	"github.com/linkflow/engine/internal/sandbox"
	"github.com/linkflow/engine/internal/worker/executor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		workflowPath = flag.String("workflow", "", "path to a workflow definition JSON file (graph.WorkflowDefinition)")
		inputPath    = flag.String("input", "", "path to a JSON file with the trigger input (optional, defaults to {})")
		dbURL        = flag.String("db-url", getEnv("DATABASE_URL", ""), "database URL for credential resolution (optional)")
	)
	flag.Parse()

	if *workflowPath == "" {
		return errors.New("-workflow is required")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	workflowBytes, err := os.ReadFile(*workflowPath)
	if err != nil {
		return fmt.Errorf("failed to read workflow file: %w", err)
	}

	var workflow graph.WorkflowDefinition
	if err := json.Unmarshal(workflowBytes, &workflow); err != nil {
		return fmt.Errorf("failed to parse workflow definition: %w", err)
	}

	dag, err := graph.BuildDAG(&workflow)
	if err != nil {
		return fmt.Errorf("failed to build workflow graph: %w", err)
	}

	input := json.RawMessage(`{}`)
	if *inputPath != "" {
		input, err = os.ReadFile(*inputPath)
		if err != nil {
			return fmt.Errorf("failed to read input file: %w", err)
		}
	}

	registry, err := buildRegistry(*dbURL, logger)
	if err != nil {
		return err
	}

	runner := scheduler.NewLocalRunner(dag, &registryExecutor{registry: registry}, scheduler.DefaultConfig(), logger)

	result, err := runner.Run(context.Background(), workflow.ID, input)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))

	if result.Status == "failed" {
		os.Exit(1)
	}
	return nil
}

// buildRegistry wires the same node executors cmd/worker registers, minus
// the subworkflow executor - it needs a live History service this local
// runner deliberately has none of.
func buildRegistry(dbURL string, logger *slog.Logger) (*executor.Registry, error) {
	registry := executor.NewRegistry()

	codeSandbox, err := sandbox.NewSandbox(sandbox.Config{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to create code sandbox: %w", err)
	}

	var credentialResolver *resolver.CredentialResolver
	if dbURL != "" {
		dbPool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		credentialResolver, err = resolver.NewCredentialResolver(dbPool, resolver.CredentialConfig{
			MasterKey: getEnv("CREDENTIAL_MASTER_KEY", ""),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create credential resolver: %w", err)
		}
	}

	registry.MustRegister(executor.NewHTTPExecutor(credentialResolver))
	registry.MustRegister(executor.NewCodeExecutor(codeSandbox))
	registry.MustRegister(executor.NewScriptExecutor(codeSandbox))
	registry.MustRegister(executor.NewTransformExecutor())
	registry.MustRegister(executor.NewLoopExecutor())
	registry.MustRegister(executor.NewConditionExecutor())
	registry.MustRegister(executor.NewLogicConditionExecutor())
	registry.MustRegister(executor.NewEmailExecutor())
	registry.MustRegister(executor.NewDelayExecutor())
	registry.MustRegister(executor.NewAIExecutor())
	registry.MustRegister(executor.NewWebhookExecutor())
	registry.MustRegister(executor.NewManualExecutor())
	registry.MustRegister(executor.NewSlackExecutor())
	registry.MustRegister(executor.NewDiscordExecutor())
	registry.MustRegister(executor.NewTwilioExecutor())
	registry.MustRegister(executor.NewOutputExecutor())

	return registry, nil
}

// registryExecutor adapts executor.Registry's ExecuteRequest/ExecuteResponse
// shape to scheduler.NodeExecutor's narrower signature.
type registryExecutor struct {
	registry *executor.Registry
}

func (r *registryExecutor) Execute(ctx context.Context, nodeType string, input json.RawMessage, config json.RawMessage) (*scheduler.NodeResult, error) {
	resp, err := r.registry.Execute(ctx, &executor.ExecuteRequest{
		NodeType: nodeType,
		Input:    input,
		Config:   config,
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, errors.New(resp.Error.Message)
	}
	return &scheduler.NodeResult{Output: resp.Output}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
