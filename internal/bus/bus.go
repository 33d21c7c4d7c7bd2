// Package bus carries task messages between the pipeline stages in strict priority
// order.
package bus

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ghosthand/api/schemas"
)

var (
	// ErrEmpty is returned by a non-blocking Subscribe on an empty queue, or when a
	// blocking Subscribe times out.
	ErrEmpty = errors.New("bus: no message available")
	// ErrClosed is returned by Publish after Close, and by Subscribe once a closed
	// bus has been drained.
	ErrClosed = errors.New("bus: closed")
)

// PriorityDispatchBus is a thread-safe priority queue. Lower priority values are
// delivered first and equal priorities keep publish order. Each message is delivered
// to exactly one Subscribe caller.
type PriorityDispatchBus struct {
	logger *zap.Logger

	mu     sync.Mutex
	queue  messageHeap
	seq    uint64
	closed bool
	// ready is closed and replaced on every publish to wake all waiting subscribers.
	ready chan struct{}
}

// New creates an empty bus.
func New(logger *zap.Logger) *PriorityDispatchBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriorityDispatchBus{
		logger: logger.Named("dispatch_bus"),
		ready:  make(chan struct{}),
	}
}

// Publish enqueues payload at priority. The bus assigns the sequence number and
// enqueue time; the returned message is the one subscribers will see.
func (b *PriorityDispatchBus) Publish(priority int, payload schemas.Payload) (schemas.TaskMessage, error) {
	msg, err := schemas.NewTaskMessage(priority, payload)
	if err != nil {
		return schemas.TaskMessage{}, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return schemas.TaskMessage{}, ErrClosed
	}
	b.seq++
	msg.Seq = b.seq
	msg.EnqueuedAt = time.Now().UTC()
	heap.Push(&b.queue, msg)
	depth := len(b.queue)
	b.wakeLocked()
	b.mu.Unlock()

	publishedTotal.WithLabelValues(string(msg.Kind())).Inc()
	queueDepth.Set(float64(depth))
	b.logger.Debug("Message published.",
		zap.String("kind", string(msg.Kind())),
		zap.Int("priority", priority),
		zap.Uint64("seq", msg.Seq))
	return msg, nil
}

// Subscribe returns the next message. With block=false it returns ErrEmpty at once
// when nothing is queued. With block=true it waits up to timeout (forever when
// timeout <= 0) or until ctx is done.
func (b *PriorityDispatchBus) Subscribe(ctx context.Context, block bool, timeout time.Duration) (schemas.TaskMessage, error) {
	var deadline <-chan time.Time
	if block && timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			msg := heap.Pop(&b.queue).(schemas.TaskMessage)
			depth := len(b.queue)
			b.mu.Unlock()
			queueDepth.Set(float64(depth))
			queueWait.Observe(time.Since(msg.EnqueuedAt).Seconds())
			return msg, nil
		}
		if b.closed {
			b.mu.Unlock()
			return schemas.TaskMessage{}, ErrClosed
		}
		ready := b.ready
		b.mu.Unlock()

		if !block {
			return schemas.TaskMessage{}, ErrEmpty
		}
		select {
		case <-ready:
		case <-deadline:
			return schemas.TaskMessage{}, ErrEmpty
		case <-ctx.Done():
			return schemas.TaskMessage{}, ctx.Err()
		}
	}
}

// Len returns the number of queued messages.
func (b *PriorityDispatchBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Close stops accepting messages and wakes every waiting subscriber. Messages
// already queued are still delivered.
func (b *PriorityDispatchBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.wakeLocked()
	b.logger.Debug("Dispatch bus closed.", zap.Int("pending", len(b.queue)))
}

func (b *PriorityDispatchBus) wakeLocked() {
	close(b.ready)
	b.ready = make(chan struct{})
}
