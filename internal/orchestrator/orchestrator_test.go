package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/ghosthand/api/schemas"
	"github.com/xkilldash9x/ghosthand/internal/audit"
	"github.com/xkilldash9x/ghosthand/internal/bus"
	"github.com/xkilldash9x/ghosthand/internal/ghosthand"
	"github.com/xkilldash9x/ghosthand/internal/killswitch"
	"github.com/xkilldash9x/ghosthand/internal/motion"
	"github.com/xkilldash9x/ghosthand/internal/policy"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Test Fixtures --

type countingExecutor struct {
	inner Executor
	calls atomic.Int32
}

func (c *countingExecutor) Execute(ctx context.Context, req schemas.ActionRequest) (ghosthand.Progress, error) {
	c.calls.Add(1)
	return c.inner.Execute(ctx, req)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []schemas.TaskMessage
}

func (r *recordingPublisher) Publish(priority int, p schemas.Payload) (schemas.TaskMessage, error) {
	msg, err := schemas.NewTaskMessage(priority, p)
	if err != nil {
		return msg, err
	}
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	return msg, nil
}

func (r *recordingPublisher) kinds() []schemas.PayloadKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schemas.PayloadKind
	for _, m := range r.msgs {
		out = append(out, m.Kind())
	}
	return out
}

type fixture struct {
	orch *Orchestrator
	rec  *ghosthand.RecordingBackend
	exec *countingExecutor
	pub  *recordingPublisher
	stop *killswitch.Switch
	mem  *audit.Memory
}

func fastProfile() *motion.Profile {
	cfg := motion.DefaultConfig()
	cfg.Seed = 5
	cfg.FittsA, cfg.FittsB = 1, 1
	cfg.KeyLatencyMeanMs, cfg.KeyLatencyStdDevMs = 1, 0
	cfg.KeyHoldMeanMs, cfg.KeyHoldStdDevMs = 1, 0
	cfg.ClickHoldMinMs, cfg.ClickHoldMaxMs = 1, 2
	cfg.ScrollNotchMeanMs, cfg.ScrollNotchStdMs = 1, 0
	return motion.NewProfile(cfg)
}

func newFixture(t *testing.T, windows ...ghosthand.WindowHandle) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	mem := audit.NewMemory()

	engine, err := policy.NewEngine(policy.DefaultConfig(), mem, logger)
	require.NoError(t, err)
	stop, err := killswitch.New(killswitch.Config{}, killswitch.Options{}, logger)
	require.NoError(t, err)

	rec := ghosthand.NewRecordingBackend(windows...)
	exec := &countingExecutor{inner: ghosthand.New(rec, fastProfile(), stop, logger)}
	pub := &recordingPublisher{}

	orch, err := New(Config{}, Deps{Validator: engine, Executor: exec, Publisher: pub, Halt: stop, Sink: mem}, logger)
	require.NoError(t, err)
	return &fixture{orch: orch, rec: rec, exec: exec, pub: pub, stop: stop, mem: mem}
}

func request(t *testing.T, description string) schemas.ActionRequest {
	t.Helper()
	req, err := schemas.NewActionRequest(description, "planner")
	require.NoError(t, err)
	return req
}

// -- Test Cases --

func TestNew_NilDependencies(t *testing.T) {
	_, err := New(Config{}, Deps{}, nil)
	assert.Error(t, err)
}

func TestProcess_ScenarioA_CostDenial(t *testing.T) {
	f := newFixture(t)
	req := request(t, "buy $500 of shares")

	res, err := f.orch.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusDenied, res.Status)
	assert.False(t, res.Success)
	assert.Zero(t, f.exec.calls.Load(), "injector must never be invoked")
	assert.Empty(t, f.rec.Events())

	state, ok := f.orch.State(req.ID)
	require.True(t, ok)
	assert.Equal(t, StateDenied, state)
	assert.Equal(t, []schemas.PayloadKind{schemas.PayloadValidationVerdict, schemas.PayloadExecutionResult}, f.pub.kinds())

	verdicts := f.mem.OfKind(audit.KindVerdict)
	require.Len(t, verdicts, 1)
	v := verdicts[0].Data.(schemas.ValidationVerdict)
	assert.Equal(t, schemas.GateCost, v.GateTriggered)
	assert.True(t, v.RequiresConfirmation)
}

func TestProcess_ScenarioB_HaltedBeforeExecution(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.stop.Trigger(context.Background(), schemas.TriggerManual, "test"))

	req := request(t, "move to (120,340)")
	res, err := f.orch.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusHalted, res.Status)
	assert.NotEqual(t, schemas.StatusCompleted, res.Status)
	assert.Zero(t, f.exec.calls.Load())
	state, _ := f.orch.State(req.ID)
	assert.Equal(t, StateHalted, state)
}

func TestProcess_Completes(t *testing.T) {
	f := newFixture(t)
	req := request(t, "move to (120,340)")

	res, err := f.orch.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusCompleted, res.Status)
	assert.True(t, res.Success)
	assert.Equal(t, schemas.ActionMove, res.Kind)
	assert.Positive(t, res.StepsApplied)
	assert.Equal(t, res.StepsPlanned, res.StepsApplied)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))

	results := f.mem.OfKind(audit.KindResult)
	require.Len(t, results, 1)
	assert.Equal(t, req.ID, results[0].RequestID)
}

func TestProcess_HaltMidExecution(t *testing.T) {
	f := newFixture(t)
	f.rec.OnEvent(func(e ghosthand.Event) {
		if e.Type == ghosthand.EventMove && f.rec.Count(ghosthand.EventMove) == 3 {
			f.stop.Trigger(context.Background(), schemas.TriggerHotkey, "test")
		}
	})

	req := request(t, "move to (900,700)")
	res, err := f.orch.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusHalted, res.Status)
	assert.Equal(t, 3, res.StepsApplied)
	assert.Greater(t, res.StepsPlanned, res.StepsApplied)
	assert.Equal(t, 3, f.rec.Count(ghosthand.EventMove), "no compensating input after a halt")
}

func TestProcess_InjectionFailure(t *testing.T) {
	f := newFixture(t)
	f.rec.FailOn = ghosthand.EventButton

	res, err := f.orch.Process(context.Background(), request(t, "click (10,20)"))
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusCompleted, res.Status)
	assert.False(t, res.Success)
	assert.Equal(t, string(ghosthand.KindNativeCall), res.ErrorKind)
}

type panickingExecutor struct{}

func (panickingExecutor) Execute(context.Context, schemas.ActionRequest) (ghosthand.Progress, error) {
	panic("makeslice: len out of range")
}

func TestProcess_ExecutorPanicStillResolves(t *testing.T) {
	f := newFixture(t)
	f.exec.inner = panickingExecutor{}
	req := request(t, "move to (1,1)")

	var res schemas.ExecutionResult
	var err error
	require.NotPanics(t, func() { res, err = f.orch.Process(context.Background(), req) })
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusCompleted, res.Status)
	assert.False(t, res.Success)
	assert.Equal(t, "internal", res.ErrorKind)
	assert.Contains(t, res.Error, "makeslice")
	state, _ := f.orch.State(req.ID)
	assert.Equal(t, StateCompleted, state)
	assert.Len(t, f.mem.OfKind(audit.KindResult), 1)
}

func TestProcess_OversizedScrollIsDenied(t *testing.T) {
	f := newFixture(t)
	res, err := f.orch.Process(context.Background(), request(t, "scroll down 99999999999999999999"))
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusDenied, res.Status)
	assert.Equal(t, "invalid_action", res.ErrorKind)
	assert.Zero(t, f.exec.calls.Load())
	assert.Empty(t, f.rec.Events())
}

func TestProcess_UnresolvedWindowIsDenied(t *testing.T) {
	f := newFixture(t)
	req := request(t, "move to the editor window")
	req.Kind = schemas.ActionMove
	req.Target = schemas.Target{Window: &schemas.WindowDescriptor{Title: "editor"}}

	res, err := f.orch.Process(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusDenied, res.Status)
	assert.Equal(t, "resolution", res.ErrorKind)
	assert.Empty(t, f.rec.Events())
}

func TestProcess_WindowTarget(t *testing.T) {
	win := ghosthand.WindowHandle{ID: 9, PID: 31, Title: "Editor", Bounds: ghosthand.Rect{Width: 200, Height: 100}}
	f := newFixture(t, win)
	req := request(t, "click the editor")
	req.Kind = schemas.ActionClick
	req.Target = schemas.Target{Window: &schemas.WindowDescriptor{PID: 31}}

	res, err := f.orch.Process(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, f.rec.Count(ghosthand.EventButton))
}

func TestProcess_UnparseableActionIsDenied(t *testing.T) {
	f := newFixture(t)
	res, err := f.orch.Process(context.Background(), request(t, "do a little dance"))
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusDenied, res.Status)
	assert.Equal(t, "invalid_action", res.ErrorKind)
	assert.Zero(t, f.exec.calls.Load())
}

func TestProcess_ExactlyOneResultPerRequest(t *testing.T) {
	f := newFixture(t)
	req := request(t, "scroll down 2")

	_, err := f.orch.Process(context.Background(), req)
	require.NoError(t, err)
	_, err = f.orch.Process(context.Background(), req)
	assert.ErrorIs(t, err, ErrDuplicateRequest)

	assert.Len(t, f.mem.OfKind(audit.KindResult), 1)
}

func TestPipeline_ThroughDispatcher(t *testing.T) {
	logger := zaptest.NewLogger(t)
	b := bus.New(logger)
	d := bus.NewDispatcher(b, 5*time.Millisecond, logger)

	engine, err := policy.NewEngine(policy.DefaultConfig(), nil, logger)
	require.NoError(t, err)
	stop, err := killswitch.New(killswitch.Config{}, killswitch.Options{Publisher: b}, logger)
	require.NoError(t, err)
	hand := ghosthand.New(ghosthand.NewRecordingBackend(), fastProfile(), stop, logger)

	orch, err := New(Config{}, Deps{Validator: engine, Executor: hand, Publisher: b, Halt: stop}, logger)
	require.NoError(t, err)
	orch.Register(d)

	var mu sync.Mutex
	results := map[string]schemas.ExecutionStatus{}
	verdicts := 0
	orch.Observe(func(msg schemas.TaskMessage) {
		mu.Lock()
		defer mu.Unlock()
		switch p := msg.Payload.(type) {
		case schemas.ExecutionResult:
			results[p.RequestID] = p.Status
		case schemas.ValidationVerdict:
			verdicts++
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	var ids []string
	for _, desc := range []string{"move to (10,10)", "buy $500 of shares", `type "ok"`} {
		msg, err := orch.Submit(request(t, desc))
		require.NoError(t, err)
		ids = append(ids, msg.Payload.(schemas.ActionRequest).ID)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 3
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, verdicts)
	assert.Equal(t, schemas.StatusCompleted, results[ids[0]])
	assert.Equal(t, schemas.StatusDenied, results[ids[1]])
	assert.Equal(t, schemas.StatusCompleted, results[ids[2]])

	_, err = orch.Submit(schemas.ActionRequest{ID: ids[0], Description: "again", Origin: "x"})
	assert.ErrorIs(t, err, ErrDuplicateRequest)
}

func TestStateTable(t *testing.T) {
	st := newStateTable(2)
	require.NoError(t, st.set("a", "", StateIdle))
	assert.ErrorIs(t, st.set("a", StateIdle, StateExecuting), ErrIllegalTransition)
	assert.ErrorIs(t, st.set("a", StateDispatched, StateValidating), ErrIllegalTransition)
	assert.ErrorIs(t, st.set("zz", StateIdle, StateDispatched), ErrIllegalTransition)

	for _, step := range [][2]State{
		{StateIdle, StateDispatched},
		{StateDispatched, StateValidating},
		{StateValidating, StateValidated},
		{StateValidated, StateExecuting},
		{StateExecuting, StateCompleted},
	} {
		require.NoError(t, st.set("a", step[0], step[1]))
	}
	assert.ErrorIs(t, st.set("a", StateCompleted, StateHalted), ErrIllegalTransition)

	require.NoError(t, st.set("b", "", StateIdle))
	require.NoError(t, st.set("c", "", StateIdle))
	_, ok := st.get("a")
	assert.False(t, ok, "the oldest terminal request is evicted")
	_, ok = st.get("b")
	assert.True(t, ok, "in-flight requests are never evicted")
}
