// File: internal/service/runner.go
package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ghosthand/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrHalted is returned by RunRequests when the emergency stop fired during the run.
var ErrHalted = errors.New("emergency stop fired")

// Summary counts terminal outcomes of one run.
type Summary struct {
	Submitted int                      `json:"submitted"`
	Completed int                      `json:"completed"`
	Failed    int                      `json:"failed"`
	Denied    int                      `json:"denied"`
	Halted    int                      `json:"halted"`
	Rejected  int                      `json:"rejected"`
	Event     *schemas.KillSwitchEvent `json:"kill_switch_event,omitempty"`
}

// record is one line of run output.
type record struct {
	Kind     schemas.PayloadKind `json:"kind"`
	Priority int                 `json:"priority"`
	Payload  schemas.Payload     `json:"payload"`
}

// RunRequests submits every request read from in and writes each verdict, result and
// kill-switch event to out as a JSON line. A line that starts with '{' is decoded as
// an ActionRequest; any other non-empty line is taken as a plain description.
// The components must already be running. RunRequests returns once every submitted
// request is terminal and either the input is exhausted or the emergency stop fired.
func RunRequests(ctx context.Context, c *Components, in io.Reader, out io.Writer, origin string) (Summary, error) {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if origin == "" {
		origin = "cli"
	}

	var (
		mu       sync.Mutex
		sum      Summary
		pending  = make(map[string]struct{})
		inputEOF bool
		writeErr error
		finished bool
		settled  = make(chan struct{}, 1)
	)
	signal := func() {
		select {
		case settled <- struct{}{}:
		default:
		}
	}
	enc := json.NewEncoder(out)
	defer func() {
		mu.Lock()
		finished = true
		mu.Unlock()
	}()

	c.Orchestrator.Observe(func(msg schemas.TaskMessage) {
		mu.Lock()
		defer mu.Unlock()
		if finished {
			return
		}
		if err := enc.Encode(record{Kind: msg.Kind(), Priority: msg.Priority, Payload: msg.Payload}); err != nil && writeErr == nil {
			writeErr = err
		}
		switch p := msg.Payload.(type) {
		case schemas.ExecutionResult:
			if _, ok := pending[p.RequestID]; !ok {
				return
			}
			delete(pending, p.RequestID)
			switch {
			case p.Status == schemas.StatusDenied:
				sum.Denied++
			case p.Status == schemas.StatusHalted:
				sum.Halted++
			case p.Success:
				sum.Completed++
			default:
				sum.Failed++
			}
			signal()
		case schemas.KillSwitchEvent:
			ev := p
			sum.Event = &ev
			signal()
		}
	})

	lines := make(chan string)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	halted := c.KillSwitch.Done()
	for {
		select {
		case <-ctx.Done():
			return snapshot(&mu, &sum), ctx.Err()
		case <-halted:
			// Stop reading; what is already queued still resolves to a terminal state.
			halted = nil
			mu.Lock()
			inputEOF = true
			mu.Unlock()
			signal()
		case line, ok := <-lines:
			if !ok {
				lines = nil
				mu.Lock()
				inputEOF = true
				mu.Unlock()
				signal()
				continue
			}
			req, err := decodeRequest(line, origin)
			if err != nil {
				logger.Warn("Skipping unreadable request.", zap.Error(err))
				mu.Lock()
				sum.Rejected++
				mu.Unlock()
				continue
			}
			if req == nil {
				continue
			}
			// Submit assigns the ID; hold the lock so the result cannot race the bookkeeping.
			mu.Lock()
			msg, err := c.Orchestrator.Submit(*req)
			if err != nil {
				sum.Rejected++
				mu.Unlock()
				logger.Warn("Request rejected.", zap.Error(err))
				continue
			}
			pending[msg.Payload.(schemas.ActionRequest).ID] = struct{}{}
			sum.Submitted++
			mu.Unlock()
		case <-settled:
		}

		mu.Lock()
		// A halted run also waits for the firing to be recorded.
		done := inputEOF && len(pending) == 0 && (!c.KillSwitch.Halted() || len(c.KillSwitch.Events()) > 0)
		werr := writeErr
		mu.Unlock()
		if werr != nil {
			return snapshot(&mu, &sum), fmt.Errorf("failed to write output: %w", werr)
		}
		if done {
			break
		}
	}

	select {
	case err := <-readErr:
		if err != nil {
			return snapshot(&mu, &sum), fmt.Errorf("failed to read requests: %w", err)
		}
	default:
	}
	s := snapshot(&mu, &sum)
	if c.KillSwitch.Halted() {
		if events := c.KillSwitch.Events(); s.Event == nil && len(events) > 0 {
			s.Event = &events[0]
		}
		return s, ErrHalted
	}
	return s, nil
}

func snapshot(mu *sync.Mutex, s *Summary) Summary {
	mu.Lock()
	defer mu.Unlock()
	return *s
}

// decodeRequest returns nil for blank lines and comments.
func decodeRequest(line, origin string) (*schemas.ActionRequest, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, nil
	}
	if strings.HasPrefix(line, "{") {
		var req schemas.ActionRequest
		if err := json.UnmarshalFromString(line, &req); err != nil {
			return nil, fmt.Errorf("invalid request json: %w", err)
		}
		if req.Origin == "" {
			req.Origin = origin
		}
		return &req, nil
	}
	req, err := schemas.NewActionRequest(line, origin)
	if err != nil {
		return nil, err
	}
	return &req, nil
}
