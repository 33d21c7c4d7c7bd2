// Package orchestrator drives each action request through validation and
// execution, emitting exactly one terminal record per request.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ghosthand/api/schemas"
	"github.com/xkilldash9x/ghosthand/internal/audit"
	"github.com/xkilldash9x/ghosthand/internal/bus"
	"github.com/xkilldash9x/ghosthand/internal/ghosthand"
)

// Validator is the policy gate.
type Validator interface {
	ValidateRequest(ctx context.Context, req schemas.ActionRequest) schemas.ValidationVerdict
}

// Executor injects an approved, executable request.
type Executor interface {
	Execute(ctx context.Context, req schemas.ActionRequest) (ghosthand.Progress, error)
}

// Publisher puts records back on the dispatch bus.
type Publisher interface {
	Publish(priority int, payload schemas.Payload) (schemas.TaskMessage, error)
}

// Config tunes the orchestrator.
type Config struct {
	// StateRetention bounds how many finished requests keep a queryable state.
	StateRetention int `mapstructure:"state_retention" yaml:"state_retention"`
}

// Deps are the orchestrator's collaborators. Sink may be nil.
type Deps struct {
	Validator Validator
	Executor  Executor
	Publisher Publisher
	Halt      ghosthand.HaltSignal
	Sink      audit.Sink
}

// Observer receives every verdict, result and kill-switch event routed back
// through the dispatcher.
type Observer func(msg schemas.TaskMessage)

// Orchestrator binds the policy gate, the emergency stop and the input injector.
type Orchestrator struct {
	deps   Deps
	logger *zap.Logger

	mu     sync.Mutex
	states *stateTable

	obsMu     sync.RWMutex
	observers []Observer

	now func() time.Time
}

// New creates an Orchestrator. Every dependency except the sink is required.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Validator == nil || deps.Executor == nil || deps.Publisher == nil || deps.Halt == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		deps:   deps,
		logger: logger.Named("orchestrator"),
		states: newStateTable(cfg.StateRetention),
		now:    time.Now,
	}, nil
}

// Register routes every payload kind of the dispatcher to the orchestrator.
func (o *Orchestrator) Register(d *bus.Dispatcher) {
	d.Handle(schemas.PayloadActionRequest, o.HandleAction)
	d.Handle(schemas.PayloadValidationVerdict, o.handleRecord)
	d.Handle(schemas.PayloadExecutionResult, o.handleRecord)
	d.Handle(schemas.PayloadKillSwitchEvent, o.handleRecord)
}

// Observe adds an observer for records coming back off the bus.
func (o *Orchestrator) Observe(fn Observer) {
	o.obsMu.Lock()
	o.observers = append(o.observers, fn)
	o.obsMu.Unlock()
}

// Submit normalizes a request, records it as idle and publishes it.
func (o *Orchestrator) Submit(req schemas.ActionRequest) (schemas.TaskMessage, error) {
	if err := req.Normalize(); err != nil {
		return schemas.TaskMessage{}, err
	}
	o.mu.Lock()
	_, exists := o.states.get(req.ID)
	if !exists {
		_ = o.states.set(req.ID, "", StateIdle)
	}
	o.mu.Unlock()
	if exists {
		return schemas.TaskMessage{}, fmt.Errorf("%w: %s", ErrDuplicateRequest, req.ID)
	}
	return o.deps.Publisher.Publish(schemas.PriorityAction, req)
}

// State returns the current state of a request.
func (o *Orchestrator) State(id string) (State, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.states.get(id)
}

// HandleAction is the dispatcher handler for action requests.
func (o *Orchestrator) HandleAction(ctx context.Context, msg schemas.TaskMessage) error {
	req, ok := msg.Payload.(schemas.ActionRequest)
	if !ok {
		return fmt.Errorf("unexpected payload %T", msg.Payload)
	}
	_, err := o.Process(ctx, req)
	return err
}

// Process runs one request to its terminal state and returns the published result.
// An error means the request was rejected before entering the pipeline.
func (o *Orchestrator) Process(ctx context.Context, req schemas.ActionRequest) (schemas.ExecutionResult, error) {
	if err := o.admit(req.ID); err != nil {
		o.logger.Warn("Dropping request.", zap.String("request_id", req.ID), zap.Error(err))
		return schemas.ExecutionResult{}, err
	}
	inFlight.Inc()
	defer inFlight.Dec()

	started := o.now().UTC()
	res := schemas.ExecutionResult{RequestID: req.ID, Kind: req.Kind, StartedAt: started}
	log := o.logger.With(zap.String("request_id", req.ID))

	o.move(req.ID, StateDispatched, StateValidating)
	verdict := o.deps.Validator.ValidateRequest(ctx, req)
	o.publish(schemas.PriorityVerdict, verdict)

	if !verdict.Approved {
		o.move(req.ID, StateValidating, StateDenied)
		log.Info("Request denied.", zap.String("gate", string(verdict.GateTriggered)), zap.String("reason", verdict.Reason))
		res.Status, res.Error = schemas.StatusDenied, verdict.Reason
		return o.finish(res), nil
	}
	o.move(req.ID, StateValidating, StateValidated)

	if o.deps.Halt.Halted() {
		o.move(req.ID, StateValidated, StateHalted)
		log.Warn("Emergency stop active, request not executed.")
		res.Status, res.ErrorKind, res.Error = schemas.StatusHalted, "halted", ghosthand.ErrHalted.Error()
		return o.finish(res), nil
	}

	exec, err := req.Executable()
	if err != nil {
		o.move(req.ID, StateValidated, StateDenied)
		log.Info("Request is not executable.", zap.Error(err))
		res.Status, res.ErrorKind, res.Error = schemas.StatusDenied, "invalid_action", err.Error()
		return o.finish(res), nil
	}
	res.Kind = exec.Kind

	o.move(req.ID, StateValidated, StateExecuting)
	progress, err := o.execute(ctx, exec)
	res.StepsApplied, res.StepsPlanned = progress.Applied, progress.Planned

	var resolution *ghosthand.ResolutionError
	switch {
	case err == nil:
		o.move(req.ID, StateExecuting, StateCompleted)
		res.Status, res.Success = schemas.StatusCompleted, true
	case errors.Is(err, ghosthand.ErrHalted):
		o.move(req.ID, StateExecuting, StateHalted)
		log.Warn("Execution halted.", zap.Int("applied", progress.Applied), zap.Int("planned", progress.Planned))
		res.Status, res.ErrorKind, res.Error = schemas.StatusHalted, "halted", err.Error()
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		o.move(req.ID, StateExecuting, StateHalted)
		log.Warn("Execution cancelled.", zap.Error(err))
		res.Status, res.ErrorKind, res.Error = schemas.StatusHalted, "cancelled", err.Error()
	case errors.As(err, &resolution):
		o.move(req.ID, StateExecuting, StateDenied)
		log.Info("Target window not found.", zap.Error(err))
		res.Status, res.ErrorKind, res.Error = schemas.StatusDenied, ghosthand.ErrorKindOf(err), err.Error()
	default:
		o.move(req.ID, StateExecuting, StateCompleted)
		log.Error("Injection failed.", zap.Error(err))
		res.Status, res.ErrorKind, res.Error = schemas.StatusCompleted, ghosthand.ErrorKindOf(err), err.Error()
	}
	return o.finish(res), nil
}

// execute runs the executor, turning a panic into an error so the request still
// reaches a terminal state.
func (o *Orchestrator) execute(ctx context.Context, req schemas.ActionRequest) (p ghosthand.Progress, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Executor panicked.", zap.String("request_id", req.ID), zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return o.deps.Executor.Execute(ctx, req)
}

// admit moves a request from idle (or unseen) to dispatched exactly once.
func (o *Orchestrator) admit(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	cur, ok := o.states.get(id)
	if ok && cur != StateIdle {
		return fmt.Errorf("%w: %s is %s", ErrDuplicateRequest, id, cur)
	}
	if !ok {
		if err := o.states.set(id, "", StateIdle); err != nil {
			return err
		}
	}
	return o.states.set(id, StateIdle, StateDispatched)
}

// move applies a transition that the pipeline guarantees is legal. A failure
// indicates a bug and is logged rather than aborting the request.
func (o *Orchestrator) move(id string, from, to State) {
	o.mu.Lock()
	err := o.states.set(id, from, to)
	o.mu.Unlock()
	if err != nil {
		o.logger.Error("State transition rejected.", zap.String("request_id", id), zap.Error(err))
	}
}

func (o *Orchestrator) finish(res schemas.ExecutionResult) schemas.ExecutionResult {
	res.FinishedAt = o.now().UTC()
	requestsTotal.WithLabelValues(string(res.Kind), string(res.Status)).Inc()
	executionDuration.WithLabelValues(string(res.Kind)).Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())

	o.publish(schemas.PriorityResult, res)
	if o.deps.Sink != nil {
		entry, err := audit.FromPayload(res)
		if err == nil {
			err = o.deps.Sink.Append(context.Background(), entry)
		}
		if err != nil {
			o.logger.Error("Failed to audit execution result.", zap.String("request_id", res.RequestID), zap.Error(err))
		}
	}
	return res
}

func (o *Orchestrator) publish(priority int, p schemas.Payload) {
	if _, err := o.deps.Publisher.Publish(priority, p); err != nil {
		o.logger.Warn("Failed to publish record.", zap.String("kind", string(p.PayloadKind())), zap.Error(err))
	}
}

func (o *Orchestrator) handleRecord(_ context.Context, msg schemas.TaskMessage) error {
	if ev, ok := msg.Payload.(schemas.KillSwitchEvent); ok {
		o.logger.Warn("Emergency stop event observed.",
			zap.String("source", string(ev.TriggerSource)),
			zap.String("reason", ev.Reason),
			zap.Bool("success", ev.Success))
	}
	o.obsMu.RLock()
	observers := append([]Observer(nil), o.observers...)
	o.obsMu.RUnlock()
	for _, fn := range observers {
		fn(msg)
	}
	return nil
}
