// Package audit persists the append-only trail of verdicts, execution results and
// kill-switch firings. Every entry is self-contained: one JSON object per line.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/ghosthand/api/schemas"
)

// EntryKind names the record type carried by an Entry.
type EntryKind string

const (
	KindVerdict    EntryKind = "validation_verdict"
	KindOverride   EntryKind = "emergency_override"
	KindResult     EntryKind = "execution_result"
	KindKillSwitch EntryKind = "kill_switch_event"
)

// Entry is one audit line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      EntryKind `json:"kind"`
	RequestID string    `json:"request_id,omitempty"`
	Data      any       `json:"data"`
}

// ErrClosed is returned by sinks after Close.
var ErrClosed = errors.New("audit: sink closed")

// Sink receives audit entries. Implementations must be safe for concurrent use and
// must never reorder entries from a single caller.
type Sink interface {
	Append(ctx context.Context, e Entry) error
	Close() error
}

// FromPayload wraps a bus payload into an entry stamped with the payload's own time.
func FromPayload(p schemas.Payload) (Entry, error) {
	switch v := p.(type) {
	case schemas.ValidationVerdict:
		kind := KindVerdict
		if v.Audit.EmergencyOverride {
			kind = KindOverride
		}
		return Entry{Timestamp: stamp(v.Audit.Timestamp), Kind: kind, RequestID: v.RequestID, Data: v}, nil
	case schemas.ExecutionResult:
		return Entry{Timestamp: stamp(v.FinishedAt), Kind: KindResult, RequestID: v.RequestID, Data: v}, nil
	case schemas.KillSwitchEvent:
		return Entry{Timestamp: stamp(v.Timestamp), Kind: KindKillSwitch, Data: v}, nil
	}
	return Entry{}, fmt.Errorf("audit: unsupported payload %T", p)
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// Multi fans entries out to several sinks. Every sink sees every entry; the first
// error is returned after all sinks were tried.
type Multi []Sink

func (m Multi) Append(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps entries in process. Used by tests and `validate` one-shots.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
	closed  bool
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Entries returns a snapshot copy.
func (m *Memory) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// OfKind returns the entries of one kind, in append order.
func (m *Memory) OfKind(k EntryKind) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, e := range m.entries {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
