package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/comigor/jarvis-go/types"
)

const tracerName = "jarvis/agent"

// =============================================================================
// 协作方契约
// =============================================================================

// ModelTurn is one model reply: either final content or a batch of tool calls.
type ModelTurn struct {
	Content   string
	ToolCalls []types.ToolCallRequest
}

// HasToolCalls reports whether the model asked for tools.
func (t ModelTurn) HasToolCalls() bool {
	return len(t.ToolCalls) > 0
}

// ModelClient produces the next model turn for a history.
type ModelClient interface {
	Complete(ctx context.Context, messages []types.Message, tools []types.ToolDefinition) (ModelTurn, error)
}

// ToolExecutor runs one tool call. A non-nil error means the tool provider
// could not be reached; a tool that ran and failed reports IsError instead.
type ToolExecutor interface {
	Execute(ctx context.Context, req types.ToolCallRequest) (types.ToolCallResult, error)
}

// =============================================================================
// 配置
// =============================================================================

// DriverConfig bounds one conversation run.
type DriverConfig struct {
	// MaxIterations 每个会话允许的工具循环次数上限
	MaxIterations int `json:"max_iterations"`
	// ModelTimeout 单次模型调用超时
	ModelTimeout time.Duration `json:"model_timeout"`
	// ToolTimeout 单次工具调用超时
	ToolTimeout time.Duration `json:"tool_timeout"`
	// MaxConcurrentTools 同一批次并发执行的工具数，0 表示不限制
	MaxConcurrentTools int `json:"max_concurrent_tools"`
}

// DefaultDriverConfig returns the default bounds.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		MaxIterations:      10,
		ModelTimeout:       2 * time.Minute,
		ToolTimeout:        30 * time.Second,
		MaxConcurrentTools: 8,
	}
}

// Result is the outcome of a conversation run.
type Result struct {
	State      State           `json:"state"`
	Content    string          `json:"content,omitempty"`
	Error      string          `json:"error,omitempty"`
	ToolCycles int             `json:"tool_cycles"`
	ModelCalls int             `json:"model_calls"`
	Messages   []types.Message `json:"-"`
	Duration   time.Duration   `json:"duration"`
}

// =============================================================================
// Driver
// =============================================================================

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithLogger sets the driver logger.
func WithLogger(logger *zap.Logger) DriverOption {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithObserver sets the telemetry sink.
func WithObserver(o Observer) DriverOption {
	return func(d *Driver) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithTracer sets the tracer for conversation, model and tool spans.
func WithTracer(tracer trace.Tracer) DriverOption {
	return func(d *Driver) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

// Driver 驱动一次会话直到终态：交替调用模型与工具执行器。
//
// Driver 本身无会话状态，可被多个会话并发复用；每个会话的 StateMachine
// 只由执行它的那一次 Drive 调用修改。
type Driver struct {
	model    ModelClient
	executor ToolExecutor
	config   DriverConfig
	logger   *zap.Logger
	observer Observer
	tracer   trace.Tracer
}

// NewDriver creates a driver. Zero-valued config fields take their defaults.
func NewDriver(model ModelClient, executor ToolExecutor, cfg DriverConfig, opts ...DriverOption) (*Driver, error) {
	if model == nil {
		return nil, ErrModelNotSet
	}
	if executor == nil {
		return nil, ErrExecutorNotSet
	}
	defaults := DefaultDriverConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = defaults.ModelTimeout
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = defaults.ToolTimeout
	}
	if cfg.MaxConcurrentTools < 0 {
		cfg.MaxConcurrentTools = 0
	}

	d := &Driver{
		model:    model,
		executor: executor,
		config:   cfg,
		logger:   zap.NewNop(),
		observer: noopObserver{},
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(zap.String("component", "driver"))
	return d, nil
}

// Config returns the effective bounds.
func (d *Driver) Config() DriverConfig {
	return d.config
}

// NewConversation creates a state machine wired to the driver's observer.
func (d *Driver) NewConversation(messages []types.Message, tools []types.ToolDefinition) (*StateMachine, error) {
	return NewStateMachine(messages, tools, WithTransitionHook(func(from, to State, event Event) {
		d.observer.ObserveTransition(string(from), string(to), string(event))
	}))
}

// Run seeds a new conversation and drives it to a terminal state.
func (d *Driver) Run(ctx context.Context, messages []types.Message, tools []types.ToolDefinition) (*Result, error) {
	sm, err := d.NewConversation(messages, tools)
	if err != nil {
		return nil, types.WrapError(err, types.ErrInvalidRequest, "invalid conversation seed")
	}
	return d.Drive(ctx, sm)
}

// Drive runs sm until it is terminal.
//
// A conversation that ends in Error returns its Result together with a
// *types.Error whose message is the recorded last error. A rejected event is
// a driver bug and is reported as INVALID_TRANSITION without touching state.
func (d *Driver) Drive(ctx context.Context, sm *StateMachine) (*Result, error) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "agent.conversation",
		trace.WithAttributes(
			attribute.Int("agent.messages", sm.Context().MessageCount()),
			attribute.Int("agent.tools", len(sm.Context().Tools())),
		))
	defer span.End()

	r := &run{driver: d, sm: sm, logger: d.logger.With(contextFields(ctx)...)}
	if id, ok := types.SessionID(ctx); ok {
		span.SetAttributes(attribute.String("session.id", id))
	}
	for !sm.IsTerminal() {
		var err error
		switch state := sm.CurrentState(); state {
		case StateReadyToCallLlm:
			err = r.callModel(ctx)
		case StateExecutingTools:
			err = r.executeTools(ctx)
		default:
			// AwaitingLlmResponse 只在 callModel 内部短暂存在
			err = fmt.Errorf("%w %s", ErrUnexpectedState, state)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "protocol violation")
			r.logger.Error("conversation protocol violated",
				zap.String("state", string(sm.CurrentState())), zap.Error(err))
			return r.result(start), types.WrapError(err, types.ErrInvalidTransition, "conversation protocol violated")
		}
	}

	res := r.result(start)
	span.SetAttributes(
		attribute.String("agent.state", string(res.State)),
		attribute.Int("agent.tool_cycles", res.ToolCycles),
	)
	d.observer.ObserveConversation(string(res.State), res.ToolCycles, res.Duration)

	if res.State == StateError {
		span.SetStatus(codes.Error, res.Error)
		r.logger.Warn("conversation failed",
			zap.String("error", res.Error),
			zap.Int("tool_cycles", res.ToolCycles),
			zap.Duration("duration", res.Duration))
		return res, types.NewError(r.failCode, res.Error)
	}

	r.logger.Info("conversation completed",
		zap.Int("model_calls", res.ModelCalls),
		zap.Int("tool_cycles", res.ToolCycles),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// run 保存单次 Drive 的可变计数，不在会话之间共享
type run struct {
	driver     *Driver
	sm         *StateMachine
	logger     *zap.Logger
	toolCycles int
	modelCalls int
	failCode   types.ErrorCode
}

func (r *run) fail(event Event, code types.ErrorCode, msg string) error {
	r.failCode = code
	r.sm.Context().SetLastError(msg)
	return r.sm.Transition(event)
}

func (r *run) result(start time.Time) *Result {
	res := &Result{
		State:      r.sm.CurrentState(),
		ToolCycles: r.toolCycles,
		ModelCalls: r.modelCalls,
		Messages:   r.sm.Context().Messages(),
		Duration:   time.Since(start),
	}
	switch res.State {
	case StateDone:
		res.Content = r.sm.GetFinalContent()
	case StateError:
		msg, ok := r.sm.GetLastError()
		if !ok {
			msg = "conversation failed"
		}
		res.Error = msg
		if r.failCode == "" {
			r.failCode = types.ErrInternalError
		}
	}
	return res
}

func (r *run) callModel(ctx context.Context) error {
	d := r.driver
	if err := r.sm.Transition(EventProcessInput); err != nil {
		return err
	}

	modelCtx, cancel := context.WithTimeout(ctx, d.config.ModelTimeout)
	ctxSpan, span := d.tracer.Start(modelCtx, "agent.model_call",
		trace.WithAttributes(attribute.Int("agent.model_call", r.modelCalls+1)))
	started := time.Now()
	turn, err := d.model.Complete(ctxSpan, r.sm.Context().Messages(), r.sm.Context().Tools())
	elapsed := time.Since(started)
	span.End()
	cancel()
	r.modelCalls++

	if err != nil {
		code, status := types.ErrModelFailed, OutcomeError
		if errors.Is(err, context.DeadlineExceeded) {
			code, status = types.ErrTimeout, OutcomeTimeout
		}
		d.observer.ObserveModelCall(status, elapsed)
		r.logger.Warn("model call failed", zap.Error(err), zap.Duration("duration", elapsed))
		return r.fail(EventErrorOccurred, code, fmt.Sprintf("model call failed: %v", err))
	}
	d.observer.ObserveModelCall(OutcomeSuccess, elapsed)

	if !turn.HasToolCalls() {
		r.sm.Context().AppendMessage(types.NewAssistantMessage(turn.Content))
		return r.sm.Transition(EventLlmRespondedWithContent)
	}

	if r.toolCycles >= d.config.MaxIterations {
		r.logger.Warn("iteration limit exceeded", zap.Int("max_iterations", d.config.MaxIterations))
		return r.fail(EventErrorOccurred, types.ErrIterationLimit,
			fmt.Sprintf("%s (%d)", ErrIterationLimitExceeded, d.config.MaxIterations))
	}

	calls := make([]types.ToolCallRequest, len(turn.ToolCalls))
	for i, c := range turn.ToolCalls {
		if c.ID == "" {
			c.ID = "call_" + uuid.NewString()
		}
		calls[i] = c
	}
	r.sm.Context().SetPendingToolCalls(calls)
	r.sm.Context().AppendMessage(types.NewAssistantMessage(turn.Content, calls...))
	r.toolCycles++
	r.logger.Debug("model requested tools",
		zap.Int("count", len(calls)),
		zap.Int("tool_cycle", r.toolCycles))
	return r.sm.Transition(EventLlmRequestedTools)
}

func (r *run) executeTools(ctx context.Context) error {
	reqs := r.sm.PrepareToolExecution()
	results, err := r.driver.dispatch(ctx, reqs)
	if err != nil {
		return r.fail(EventToolsExecutionFailed, types.ErrToolTransportFailed,
			fmt.Sprintf("tool transport failure: %v", err))
	}

	r.sm.AddToolExecutionResults(results)
	var failed []string
	for i, res := range results {
		text := res.Text()
		r.sm.Context().AppendMessage(types.NewToolMessage(reqs[i].ID, reqs[i].Name, text))
		if res.IsError {
			failed = append(failed, fmt.Sprintf("%s: %s", reqs[i].Name, text))
		}
	}
	if len(failed) > 0 {
		return r.fail(EventToolsExecutionFailed, types.ErrToolExecutionFailed,
			"tool execution failed: "+strings.Join(failed, "; "))
	}
	return r.sm.Transition(EventToolsExecutionCompleted)
}

// dispatch 并发执行一个批次的工具调用。单个调用失败不会取消兄弟调用，
// 结果按请求下标写回，与请求顺序一致。
func (d *Driver) dispatch(ctx context.Context, reqs []types.ToolCallRequest) ([]types.ToolCallResult, error) {
	results := make([]types.ToolCallResult, len(reqs))
	errs := make([]error, len(reqs))

	var g errgroup.Group
	if d.config.MaxConcurrentTools > 0 {
		g.SetLimit(d.config.MaxConcurrentTools)
	}
	for i, req := range reqs {
		// 闭包恒返回 nil，错误按下标收集，避免 errgroup 只保留第一个错误
		g.Go(func() error {
			results[i], errs[i] = d.executeOne(ctx, req)
			return nil
		})
	}
	_ = g.Wait() // 恒为 nil

	return results, errors.Join(errs...)
}

func (d *Driver) executeOne(ctx context.Context, req types.ToolCallRequest) (types.ToolCallResult, error) {
	toolCtx, cancel := context.WithTimeout(ctx, d.config.ToolTimeout)
	defer cancel()
	toolCtx, span := d.tracer.Start(toolCtx, "agent.tool_call",
		trace.WithAttributes(
			attribute.String("tool.name", req.Name),
			attribute.String("tool.call_id", req.ID),
		))
	defer span.End()

	started := time.Now()
	res, err := d.executor.Execute(toolCtx, req)
	elapsed := time.Since(started)

	if err != nil {
		status := OutcomeTransport
		if errors.Is(err, context.DeadlineExceeded) {
			status = OutcomeTimeout
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		d.observer.ObserveToolCall(req.Name, status, elapsed)
		d.logger.Warn("tool call failed",
			zap.String("tool", req.Name),
			zap.String("call_id", req.ID),
			zap.Error(err))
		return types.ToolCallResult{}, fmt.Errorf("%s: %w", req.Name, err)
	}

	if res.ToolCallID == "" {
		res.ToolCallID = req.ID
	}
	status := OutcomeSuccess
	if res.IsError {
		status = OutcomeError
		span.SetStatus(codes.Error, "tool reported error")
	}
	span.SetAttributes(attribute.Bool("tool.is_error", res.IsError))
	d.observer.ObserveToolCall(req.Name, status, elapsed)
	d.logger.Debug("tool call finished",
		zap.String("tool", req.Name),
		zap.Bool("is_error", res.IsError),
		zap.Duration("duration", elapsed))
	return res, nil
}

// contextFields 提取请求级标识，附加到单次会话的日志上
func contextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if id, ok := types.SessionID(ctx); ok {
		fields = append(fields, zap.String("session_id", id))
	}
	if id, ok := types.TraceID(ctx); ok {
		fields = append(fields, zap.String("trace_id", id))
	}
	return fields
}
