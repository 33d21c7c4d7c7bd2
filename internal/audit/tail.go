package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpcloud/tail"
)

// TailOptions controls Tail.
type TailOptions struct {
	// Follow keeps reading as the sink appends, surviving rotation.
	Follow bool
	// Poll uses stat polling instead of filesystem notifications.
	Poll bool
	// Kind, when set, skips entries of other kinds.
	Kind EntryKind
}

// Tail reads a JSONL audit file and calls fn with each decoded entry and its raw line.
// Without Follow it returns at end of file; with Follow it returns when ctx is done.
func Tail(ctx context.Context, path string, opts TailOptions, fn func(e Entry, raw string) error) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    opts.Follow,
		ReOpen:    opts.Follow,
		MustExist: !opts.Follow,
		Poll:      opts.Poll,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail audit log: %w", err)
	}
	defer func() {
		_ = t.Stop()
		t.Cleanup()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				return line.Err
			}
			raw := strings.TrimSpace(line.Text)
			if raw == "" {
				continue
			}
			var e Entry
			if err := json.UnmarshalFromString(raw, &e); err != nil {
				return fmt.Errorf("corrupt audit line %q: %w", raw, err)
			}
			if opts.Kind != "" && e.Kind != opts.Kind {
				continue
			}
			if err := fn(e, raw); err != nil {
				return err
			}
		}
	}
}
