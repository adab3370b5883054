package frontend

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/linkflow/engine/internal/callback"
	"github.com/linkflow/engine/internal/controlplane"
	"github.com/linkflow/engine/internal/frontend/namespace"
	"github.com/linkflow/engine/internal/frontend/ratelimit"
	"github.com/linkflow/engine/internal/resolver"
)

type HistoryClient interface {
	RecordEvent(ctx context.Context, req *RecordEventRequest) error
	GetHistory(ctx context.Context, req *GetHistoryRequest) (*GetHistoryResponse, error)
	GetMutableState(ctx context.Context, key ExecutionKey) (*MutableState, error)
}

type MatchingClient interface {
	AddTask(ctx context.Context, req *AddTaskRequest) error
	PollTask(ctx context.Context, req *PollTaskRequest) (*Task, error)
}

type Service struct {
	historyClient  HistoryClient
	matchingClient MatchingClient
	namespaceCache *namespace.Cache
	rateLimiter    *ratelimit.Limiter
	logger         *slog.Logger
	variables      *resolver.VariableResolver
	callbacks      *callback.Client
	controlPlane   *controlplane.Service
}

type ServiceConfig struct {
	RateLimitConfig ratelimit.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		RateLimitConfig: ratelimit.DefaultConfig(),
	}
}

func NewService(
	historyClient HistoryClient,
	matchingClient MatchingClient,
	logger *slog.Logger,
	cfg ServiceConfig,
) *Service {
	return &Service{
		historyClient:  historyClient,
		matchingClient: matchingClient,
		namespaceCache: namespace.NewCache(),
		rateLimiter:    ratelimit.NewLimiter(cfg.RateLimitConfig),
		logger:         logger,
	}
}

func (s *Service) HistoryClient() HistoryClient {
	return s.historyClient
}

func (s *Service) MatchingClient() MatchingClient {
	return s.matchingClient
}

func (s *Service) NamespaceCache() *namespace.Cache {
	return s.namespaceCache
}

func (s *Service) RateLimiter() *ratelimit.Limiter {
	return s.rateLimiter
}

func (s *Service) Logger() *slog.Logger {
	return s.logger
}

// SetVariableResolver wires namespace variable interpolation into
// StartWorkflowExecution. Without it, trigger input is recorded verbatim.
func (s *Service) SetVariableResolver(r *resolver.VariableResolver) {
	s.variables = r
}

// SetCallbackClient wires execution-lifecycle notifications back to the
// caller-supplied callback URL (Laravel). Without it, CallbackURL on
// StartWorkflowExecutionRequest is accepted but never notified.
func (s *Service) SetCallbackClient(c *callback.Client) {
	s.callbacks = c
}

// SetControlPlane wires the cluster's namespace registry into the request
// path. Without it, namespaces are registered in namespaceCache on first use
// with defaulted settings and never persisted beyond process lifetime.
func (s *Service) SetControlPlane(cp *controlplane.Service) {
	s.controlPlane = cp
}

// namespaceNumericID derives the stable int64 key namespace.Cache indexes by
// from the control plane's string namespace name.
func namespaceNumericID(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

// ensureNamespace resolves req.Namespace through the namespace cache,
// falling back to the control plane's namespace registry (auto-provisioning
// on first use) when one is configured, or to a bare defaulted entry when
// it isn't.
func (s *Service) ensureNamespace(ctx context.Context, name string) *namespace.Namespace {
	if ns, err := s.namespaceCache.Get(name); err == nil {
		return ns
	}

	if s.controlPlane == nil {
		ns := &namespace.Namespace{ID: namespaceNumericID(name), Name: name}
		s.namespaceCache.Put(ns)
		return ns
	}

	cfg, err := s.controlPlane.GetNamespace(ctx, name)
	if err != nil {
		cfg = &controlplane.NamespaceConfig{
			Name:          name,
			RetentionDays: 30,
		}
		if createErr := s.controlPlane.CreateNamespace(ctx, cfg); createErr != nil {
			s.logger.Warn("failed to auto-provision namespace",
				slog.String("namespace", name),
				slog.String("error", createErr.Error()),
			)
		}
	}

	ns := &namespace.Namespace{
		ID:            namespaceNumericID(name),
		Name:          name,
		RetentionDays: cfg.RetentionDays,
		Config: map[string]interface{}{
			"default_cluster": cfg.DefaultCluster,
		},
	}
	s.namespaceCache.Put(ns)
	return ns
}

func (s *Service) StartWorkflowExecution(ctx context.Context, req *StartWorkflowExecutionRequest) (*StartWorkflowExecutionResponse, error) {
	s.ensureNamespace(ctx, req.Namespace)

	runID := req.RequestID
	if runID == "" {
		runID = generateRunID()
	}

	input := req.Input
	if s.variables != nil && len(input) > 0 {
		interpolated, err := s.variables.InterpolateJSON(ctx, req.Namespace, input)
		if err != nil {
			return nil, fmt.Errorf("failed to interpolate namespace variables: %w", err)
		}
		input = interpolated
	}

	eventReq := &RecordEventRequest{
		NamespaceID: req.Namespace,
		WorkflowID:  req.WorkflowID,
		RunID:       runID,
		EventType:   "WorkflowExecutionStarted",
		Attributes: &ExecutionStartedAttributes{
			WorkflowType: req.WorkflowType,
			TaskQueue:    req.TaskQueue,
			Input:        input,
		},
	}
	if err := s.historyClient.RecordEvent(ctx, eventReq); err != nil {
		return nil, err
	}

	taskReq := &AddTaskRequest{
		NamespaceID:      req.Namespace,
		WorkflowID:       req.WorkflowID,
		RunID:            runID,
		TaskQueue:        req.TaskQueue,
		TaskType:         TaskTypeWorkflow,
		TaskInfo:         nil,
		ScheduledEventID: 1,
	}
	if err := s.matchingClient.AddTask(ctx, taskReq); err != nil {
		return nil, err
	}

	if s.callbacks != nil && req.CallbackURL != "" {
		var inputMap map[string]interface{}
		_ = json.Unmarshal(input, &inputMap)

		go func() {
			if err := s.callbacks.NotifyExecutionStarted(
				context.Background(), req.CallbackURL,
				req.Namespace, req.WorkflowID, req.WorkflowID, runID,
				inputMap,
			); err != nil {
				s.logger.Warn("failed to notify execution started callback",
					slog.String("callback_url", req.CallbackURL),
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	return &StartWorkflowExecutionResponse{
		RunID: runID,
	}, nil
}

func (s *Service) SignalWorkflowExecution(ctx context.Context, req *SignalWorkflowExecutionRequest) error {
	eventReq := &RecordEventRequest{
		NamespaceID: req.Namespace,
		WorkflowID:  req.WorkflowID,
		RunID:       req.RunID,
		EventType:   "WorkflowExecutionSignaled",
		Attributes:  req.Input,
	}
	return s.historyClient.RecordEvent(ctx, eventReq)
}

func (s *Service) TerminateWorkflowExecution(ctx context.Context, req *TerminateWorkflowExecutionRequest) error {
	eventReq := &RecordEventRequest{
		NamespaceID: req.Namespace,
		WorkflowID:  req.WorkflowID,
		RunID:       req.RunID,
		EventType:   "WorkflowExecutionTerminated",
		Attributes:  req.Details,
	}
	return s.historyClient.RecordEvent(ctx, eventReq)
}

func (s *Service) QueryWorkflow(ctx context.Context, req *QueryWorkflowRequest) (*QueryWorkflowResponse, error) {
	key := ExecutionKey{
		NamespaceID: req.Namespace,
		WorkflowID:  req.WorkflowID,
		RunID:       req.RunID,
	}

	state, err := s.historyClient.GetMutableState(ctx, key)
	if err != nil {
		return nil, err
	}

	_ = state

	return &QueryWorkflowResponse{
		QueryResult: nil,
	}, nil
}

func (s *Service) GetExecution(ctx context.Context, req *GetExecutionRequest) (*GetExecutionResponse, error) {
	key := ExecutionKey{
		NamespaceID: req.Namespace,
		WorkflowID:  req.WorkflowID,
		RunID:       req.RunID,
	}

	state, err := s.historyClient.GetMutableState(ctx, key)
	if err != nil {
		return nil, err
	}

	return &GetExecutionResponse{
		Execution: state.ExecutionInfo,
	}, nil
}

func (s *Service) ListExecutions(ctx context.Context, req *ListExecutionsRequest) (*ListExecutionsResponse, error) {
	return &ListExecutionsResponse{
		Executions:    []*WorkflowExecution{},
		NextPageToken: nil,
	}, nil
}

func (s *Service) DescribeExecution(ctx context.Context, req *DescribeExecutionRequest) (*DescribeExecutionResponse, error) {
	key := ExecutionKey{
		NamespaceID: req.Namespace,
		WorkflowID:  req.WorkflowID,
		RunID:       req.RunID,
	}

	state, err := s.historyClient.GetMutableState(ctx, key)
	if err != nil {
		return nil, err
	}

	pendingActivities := make([]*PendingActivity, 0, len(state.ActivityInfos))
	for _, info := range state.ActivityInfos {
		pendingActivities = append(pendingActivities, &PendingActivity{
			ActivityID:    info.ActivityID,
			ActivityType:  info.ActivityType,
			ScheduledTime: info.ScheduledTime,
			Attempt:       info.Attempt,
		})
	}

	pendingChildren := make([]*PendingChildExecution, 0, len(state.ChildExecutions))
	for _, child := range state.ChildExecutions {
		pendingChildren = append(pendingChildren, &PendingChildExecution{
			WorkflowID:   child.WorkflowID,
			RunID:        child.RunID,
			WorkflowType: child.WorkflowType,
			InitiatedID:  child.InitiatedID,
		})
	}

	return &DescribeExecutionResponse{
		Execution:         state.ExecutionInfo,
		PendingActivities: pendingActivities,
		PendingChildExecs: pendingChildren,
	}, nil
}

func generateRunID() string {
	return "run-" + secureRandomString(32)
}

func secureRandomString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// Fall back to the decimal UnixNano timestamp if crypto/rand fails
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return string(b)
}
