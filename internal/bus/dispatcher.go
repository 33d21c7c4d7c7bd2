package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ghosthand/api/schemas"
)

// Handler processes one routed message.
type Handler func(ctx context.Context, msg schemas.TaskMessage) error

// Dispatcher is the single consumer of a bus. It routes each message to the handler
// registered for its payload kind, so unrelated workers never compete for the same
// queue. Handlers run one at a time in priority order.
type Dispatcher struct {
	bus    *PriorityDispatchBus
	logger *zap.Logger
	poll   time.Duration

	mu        sync.RWMutex
	handlers  map[schemas.PayloadKind]Handler
	heartbeat func()
}

// NewDispatcher creates a dispatcher that wakes at least every poll interval.
func NewDispatcher(b *PriorityDispatchBus, poll time.Duration, logger *zap.Logger) *Dispatcher {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		bus:      b,
		logger:   logger.Named("dispatcher"),
		poll:     poll,
		handlers: make(map[schemas.PayloadKind]Handler),
	}
}

// Handle registers h for kind, replacing any earlier handler.
func (d *Dispatcher) Handle(kind schemas.PayloadKind, h Handler) {
	d.mu.Lock()
	d.handlers[kind] = h
	d.mu.Unlock()
}

// OnHeartbeat registers fn to run on every loop iteration, busy or idle.
func (d *Dispatcher) OnHeartbeat(fn func()) {
	d.mu.Lock()
	d.heartbeat = fn
	d.mu.Unlock()
}

// Run routes messages until ctx is done or the bus is closed and drained. Handler
// errors are logged and do not stop the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Dispatcher started.")
	defer d.logger.Info("Dispatcher stopped.")

	for {
		d.beat()
		msg, err := d.bus.Subscribe(ctx, true, d.poll)
		switch {
		case errors.Is(err, ErrEmpty):
			continue
		case errors.Is(err, ErrClosed):
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		d.dispatch(ctx, msg)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, msg schemas.TaskMessage) {
	kind := msg.Kind()
	d.mu.RLock()
	h, ok := d.handlers[kind]
	d.mu.RUnlock()

	if !ok {
		dispatchedTotal.WithLabelValues(string(kind), "unrouted").Inc()
		d.logger.Debug("No handler for message kind, dropping.", zap.String("kind", string(kind)), zap.Uint64("seq", msg.Seq))
		return
	}
	if err := safeCall(ctx, h, msg); err != nil {
		dispatchedTotal.WithLabelValues(string(kind), "error").Inc()
		d.logger.Error("Handler failed.", zap.String("kind", string(kind)), zap.Uint64("seq", msg.Seq), zap.Error(err))
		return
	}
	dispatchedTotal.WithLabelValues(string(kind), "ok").Inc()
}

// safeCall keeps one misbehaving handler from taking the dispatcher down.
func safeCall(ctx context.Context, h Handler, msg schemas.TaskMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, msg)
}

func (d *Dispatcher) beat() {
	d.mu.RLock()
	fn := d.heartbeat
	d.mu.RUnlock()
	if fn != nil {
		fn()
	}
}
