package usecase

import (
	"context"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"salesagent/internal/domain"
	"salesagent/internal/infra/tracer"
)

// Planner retry constants.
const (
	maxPlannerRetries = 3
	baseRetryDelay    = 500 * time.Millisecond
	maxRetryDelay     = 10 * time.Second
)

// rePromptNudge is appended once per turn when the planner returns neither
// text nor a tool call.
const rePromptNudge = "Respond with a real output."

// OrchestratorDeps holds injected dependencies for the orchestrator.
type OrchestratorDeps struct {
	Planner     domain.Planner
	Tools       domain.ToolExecutor
	Checkpoints domain.CheckpointStore
	Logger      *slog.Logger
	Bus         domain.EventBus // optional, nil = no events
	Locker      *ThreadLocker   // optional, nil = no per-thread locking

	MaxIterations int
	SystemPrompt  string
	// SubmitRatePerMinute throttles SubmitUserMessage per customer.
	// Zero disables throttling.
	SubmitRatePerMinute int
}

// TurnResult is what a resolved turn hands back to the caller.
type TurnResult struct {
	// AppendedMessages are the messages this turn added to the thread, in
	// order, starting with the triggering user message when there is one.
	AppendedMessages []domain.Message
	// Pending is non-nil when the turn suspended on a sensitive tool call.
	Pending *domain.PendingApproval
}

// Reply returns the content of the turn's final assistant message, or the
// empty string when the turn suspended before producing one.
func (r *TurnResult) Reply() string {
	for i := len(r.AppendedMessages) - 1; i >= 0; i-- {
		if r.AppendedMessages[i].Role == domain.RoleAssistant && r.AppendedMessages[i].Content != "" {
			return r.AppendedMessages[i].Content
		}
	}
	return ""
}

// Orchestrator drives the plan-act loop for conversation threads. A turn
// either runs to a final assistant reply or parks on a pending approval;
// both outcomes persist the thread in one checkpoint write, so a turn that
// fails midway leaves the stored thread exactly as it was.
type Orchestrator struct {
	deps OrchestratorDeps

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewOrchestrator creates an orchestrator with the given dependencies.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	if deps.MaxIterations <= 0 {
		deps.MaxIterations = 10
	}
	return &Orchestrator{
		deps:     deps,
		limiters: make(map[string]*rate.Limiter),
	}
}

// SubmitUserMessage runs one conversation turn: append the user message,
// plan, execute safe tools, and either return the assistant's reply or
// suspend on a sensitive tool call. While a thread is suspended, further
// submissions are refused with ErrThreadBusy until the pending call is
// approved or denied.
func (o *Orchestrator) SubmitUserMessage(ctx context.Context, threadID, customerID, text string) (*TurnResult, error) {
	ctx, span := tracer.StartSpan(ctx, "orchestrator.submit",
		trace.WithAttributes(tracer.StringAttr("thread.id", threadID)),
	)
	defer span.End()

	if !o.allowSubmit(customerID) {
		err := domain.NewDomainError("Orchestrator.SubmitUserMessage", domain.ErrRateLimited, customerID)
		tracer.RecordError(span, err)
		return nil, err
	}

	unlock, err := o.lockThread(ctx, threadID)
	if err != nil {
		return nil, domain.NewDomainError("Orchestrator.SubmitUserMessage", err, "thread lock")
	}
	defer unlock()

	thread, err := o.deps.Checkpoints.Load(ctx, threadID, customerID)
	if err != nil {
		return nil, err
	}
	if thread.CustomerID != customerID {
		return nil, domain.NewDomainError("Orchestrator.SubmitUserMessage",
			domain.ErrThreadNotFound, "thread belongs to another customer")
	}
	if thread.Position == domain.PositionSuspended {
		return nil, domain.NewDomainError("Orchestrator.SubmitUserMessage",
			domain.ErrThreadBusy, thread.Pending.Call.Name)
	}

	ctx = domain.ContextWithThreadID(ctx, threadID)
	ctx = domain.ContextWithCustomerID(ctx, customerID)

	// Mutate a clone; the stored thread changes only on Save below.
	work := thread.Clone()
	base := len(work.Messages)
	if base == 0 && o.deps.SystemPrompt != "" {
		work.Append(domain.Message{Role: domain.RoleSystem, Content: o.deps.SystemPrompt})
		base = 1
	}
	work.Append(domain.Message{Role: domain.RoleUser, Content: text})
	o.publishEvent(ctx, domain.EventMessageReceived, threadID, nil)

	if err := o.runLoop(ctx, work); err != nil {
		o.publishEvent(ctx, domain.EventTurnError, threadID, map[string]string{"error": err.Error()})
		tracer.RecordError(span, err)
		return nil, err
	}

	if err := o.deps.Checkpoints.Save(ctx, work); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	tracer.SetOK(span)
	return o.turnResult(work, base), nil
}

// Pending returns the thread's pending approval, or ErrNoPendingApproval.
func (o *Orchestrator) Pending(ctx context.Context, threadID string) (*domain.PendingApproval, error) {
	thread, err := o.deps.Checkpoints.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.Pending == nil {
		return nil, domain.NewDomainError("Orchestrator.Pending", domain.ErrNoPendingApproval, threadID)
	}
	p := *thread.Pending
	return &p, nil
}

// Approve executes the thread's pending sensitive tool call and resumes the
// turn to a final reply. The decision is refused with ErrStaleApproval when
// the thread's history no longer matches the suspension snapshot.
func (o *Orchestrator) Approve(ctx context.Context, threadID string) (*TurnResult, error) {
	return o.resolve(ctx, threadID, "Orchestrator.Approve", "")
}

// Deny rejects the pending call. The planner sees the denial (and the
// optional reason) as the tool's result and composes a reply that accounts
// for it.
func (o *Orchestrator) Deny(ctx context.Context, threadID, reason string) (*TurnResult, error) {
	if reason == "" {
		reason = "no reason given"
	}
	return o.resolve(ctx, threadID, "Orchestrator.Deny", reason)
}

// resolve is the shared approve/deny path. An empty denyReason means approve.
func (o *Orchestrator) resolve(ctx context.Context, threadID, op, denyReason string) (*TurnResult, error) {
	decision := "approve"
	if denyReason != "" {
		decision = "deny"
	}
	ctx, span := tracer.StartSpan(ctx, "orchestrator.resolve",
		trace.WithAttributes(
			tracer.StringAttr("thread.id", threadID),
			tracer.StringAttr("decision", decision),
		),
	)
	defer span.End()

	unlock, err := o.lockThread(ctx, threadID)
	if err != nil {
		return nil, domain.NewDomainError(op, err, "thread lock")
	}
	defer unlock()

	thread, err := o.deps.Checkpoints.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.Pending == nil {
		return nil, domain.NewDomainError(op, domain.ErrNoPendingApproval, threadID)
	}
	if thread.Digest() != thread.Pending.Snapshot {
		return nil, domain.NewDomainError(op, domain.ErrStaleApproval, threadID)
	}

	ctx = domain.ContextWithThreadID(ctx, threadID)
	ctx = domain.ContextWithCustomerID(ctx, thread.CustomerID)

	work := thread.Clone()
	base := len(work.Messages)
	call := work.Pending.Call
	work.Pending = nil
	work.Position = domain.PositionIdle

	if denyReason == "" {
		work.Append(o.executeTool(ctx, threadID, call))
	} else {
		work.Append(domain.NewToolResultMessage(call,
			"Tool call denied by the user. Reasoning: '"+denyReason+"'. Continue assisting, accounting for the user's input."))
	}
	o.publishEvent(ctx, domain.EventApprovalResolved, threadID, map[string]string{
		"tool":     call.Name,
		"approved": strconv.FormatBool(denyReason == ""),
	})

	if err := o.runLoop(ctx, work); err != nil {
		o.publishEvent(ctx, domain.EventTurnError, threadID, map[string]string{"error": err.Error()})
		tracer.RecordError(span, err)
		return nil, err
	}

	if err := o.deps.Checkpoints.Save(ctx, work); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	tracer.SetOK(span)
	return o.turnResult(work, base), nil
}

// runLoop advances the plan-act loop on the working thread until the planner
// produces a final reply, the turn suspends on a sensitive call, or the
// iteration bound trips. It mutates work but never persists it.
func (o *Orchestrator) runLoop(ctx context.Context, work *domain.Thread) error {
	rePrompted := false

	for i := 0; i < o.deps.MaxIterations; i++ {
		o.publishEvent(ctx, domain.EventPlannerCallStarted, work.ID, nil)
		resp, err := o.planWithRetry(ctx, domain.PlanRequest{
			Messages: work.Messages,
			Tools:    o.deps.Tools.Schemas(),
		})
		if err != nil {
			return err
		}
		o.publishEvent(ctx, domain.EventPlannerCallDone, work.ID, nil)

		msg := resp.Message
		msg.Role = domain.RoleAssistant

		o.deps.Logger.Debug("planner response",
			"thread", work.ID,
			"iteration", i,
			"tool_calls", len(msg.ToolCalls),
			"tokens", resp.Usage.TotalTokens,
		)

		if len(msg.ToolCalls) == 0 {
			if strings.TrimSpace(msg.Content) == "" && !rePrompted {
				// One nudge per turn, then whatever comes back stands.
				rePrompted = true
				work.Append(msg)
				work.Append(domain.Message{Role: domain.RoleUser, Content: rePromptNudge})
				continue
			}
			work.Append(msg)
			o.publishEvent(ctx, domain.EventMessageSent, work.ID, nil)
			return nil
		}

		// One tool call per planning step: extras beyond the first are
		// discarded before the message enters the thread, so history and
		// tool results always pair one to one.
		if len(msg.ToolCalls) > 1 {
			o.deps.Logger.Warn("planner proposed multiple tool calls, keeping first",
				"thread", work.ID,
				"kept", msg.ToolCalls[0].Name,
				"discarded", len(msg.ToolCalls)-1,
			)
			msg.ToolCalls = msg.ToolCalls[:1]
		}
		call := msg.ToolCalls[0]

		capability, err := o.deps.Tools.Classify(call.Name)
		if err != nil {
			// An unroutable call fails the turn; the thread stays unsaved.
			return domain.NewDomainError("Orchestrator.runLoop", domain.ErrUnknownTool, call.Name)
		}

		work.Append(msg)

		if capability == domain.CapabilitySensitive {
			work.Position = domain.PositionSuspended
			work.Pending = &domain.PendingApproval{
				ThreadID:  work.ID,
				Call:      call,
				Snapshot:  work.Digest(),
				CreatedAt: time.Now(),
			}
			o.publishEvent(ctx, domain.EventApprovalRequested, work.ID, map[string]string{"tool": call.Name})
			return nil
		}

		work.Append(o.executeTool(ctx, work.ID, call))
	}

	return domain.NewDomainError("Orchestrator.runLoop", domain.ErrMaxIterations, work.ID)
}

// executeTool runs a single tool call and returns its thread message. Tool
// failures become result content, not turn errors.
func (o *Orchestrator) executeTool(ctx context.Context, threadID string, call domain.ToolCall) domain.Message {
	ctx, span := tracer.StartSpan(ctx, "orchestrator.execute_tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)
	defer span.End()

	tool, err := o.deps.Tools.Get(call.Name)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.NewToolResultMessage(call, err.Error())
	}

	o.publishEvent(ctx, domain.EventToolCallStarted, threadID, map[string]string{"tool": call.Name})
	result, err := tool.Execute(ctx, call.Arguments)
	o.publishEvent(ctx, domain.EventToolCallCompleted, threadID, map[string]string{
		"tool":    call.Name,
		"success": strconv.FormatBool(err == nil),
	})

	if err != nil {
		tracer.RecordError(span, err)
		return domain.NewToolResultMessage(call, err.Error())
	}

	tracer.SetOK(span)
	return domain.NewToolResultMessage(call, result.Content)
}

// planWithRetry calls the planner, retrying transient failures with
// exponential backoff.
func (o *Orchestrator) planWithRetry(ctx context.Context, req domain.PlanRequest) (*domain.PlanResponse, error) {
	var lastErr error
	for attempt := 0; attempt < maxPlannerRetries; attempt++ {
		planCtx, planSpan := tracer.StartSpan(ctx, "orchestrator.plan")
		resp, err := o.deps.Planner.Plan(planCtx, req)
		planSpan.End()

		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !domain.IsRetryableError(err) {
			return nil, err
		}
		if attempt < maxPlannerRetries-1 {
			delay := retryBackoff(attempt)
			o.deps.Logger.Info("retrying planner call after error",
				"attempt", attempt+1, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// retryBackoff computes exponential backoff with jitter.
func retryBackoff(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	// Add 0-25% jitter.
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}

func (o *Orchestrator) lockThread(ctx context.Context, threadID string) (func(), error) {
	if o.deps.Locker == nil {
		return func() {}, nil
	}
	return o.deps.Locker.Lock(ctx, threadID)
}

// allowSubmit applies the per-customer submission limiter.
func (o *Orchestrator) allowSubmit(customerID string) bool {
	if o.deps.SubmitRatePerMinute <= 0 {
		return true
	}
	o.limMu.Lock()
	lim, ok := o.limiters[customerID]
	if !ok {
		perMinute := rate.Every(time.Minute / time.Duration(o.deps.SubmitRatePerMinute))
		lim = rate.NewLimiter(perMinute, o.deps.SubmitRatePerMinute)
		o.limiters[customerID] = lim
	}
	o.limMu.Unlock()
	return lim.Allow()
}

func (o *Orchestrator) turnResult(work *domain.Thread, base int) *TurnResult {
	appended := make([]domain.Message, len(work.Messages)-base)
	copy(appended, work.Messages[base:])
	res := &TurnResult{AppendedMessages: appended}
	if work.Pending != nil {
		p := *work.Pending
		res.Pending = &p
	}
	return res
}

// publishEvent publishes a domain event on the bus if it is configured.
func (o *Orchestrator) publishEvent(ctx context.Context, eventType domain.EventType, threadID string, payload any) {
	publishEvent(o.deps.Bus, ctx, eventType, threadID, payload)
}
