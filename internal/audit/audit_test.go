package audit

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/ghosthand/api/schemas"
)

func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func sampleEvent() schemas.KillSwitchEvent {
	return schemas.KillSwitchEvent{
		ID:                 "evt-1",
		Timestamp:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		TriggerSource:      schemas.TriggerFile,
		Reason:             "sentinel file present",
		AffectedProcessIDs: []int{42},
		Success:            true,
	}
}

func TestFromPayload(t *testing.T) {
	e, err := FromPayload(sampleEvent())
	require.NoError(t, err)
	assert.Equal(t, KindKillSwitch, e.Kind)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), e.Timestamp)

	override := schemas.ValidationVerdict{RequestID: "r1", Approved: true, Audit: schemas.AuditRecord{EmergencyOverride: true}}
	e, err = FromPayload(override)
	require.NoError(t, err)
	assert.Equal(t, KindOverride, e.Kind)
	assert.Equal(t, "r1", e.RequestID)
	assert.False(t, e.Timestamp.IsZero())

	_, err = FromPayload(schemas.ActionRequest{})
	assert.Error(t, err)
}

func TestJSONLSink_OneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e, err := FromPayload(sampleEvent())
		require.NoError(t, err)
		require.NoError(t, sink.Append(ctx, e))
	}
	require.NoError(t, sink.Close())
	assert.ErrorIs(t, sink.Append(ctx, Entry{}), ErrClosed)

	scanner := bufio.NewScanner(&buf)
	lines := 0
	for scanner.Scan() {
		lines++
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &decoded))
		assert.Equal(t, "2026-03-01T12:00:00Z", decoded["timestamp"])
		assert.Equal(t, "kill_switch_event", decoded["kind"])
		data := decoded["data"].(map[string]any)
		assert.Equal(t, "file", data["trigger_source"])
	}
	assert.Equal(t, 3, lines)
}

func TestJSONLSink_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewJSONLSink(FileConfig{Path: path, MaxSizeMB: 1})
	require.NoError(t, err)

	e, err := FromPayload(sampleEvent())
	require.NoError(t, err)
	require.NoError(t, sink.Append(context.Background(), e))
	require.NoError(t, sink.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(raw, []byte("\n")))

	_, err = NewJSONLSink(FileConfig{})
	assert.Error(t, err)
}

type failingSink struct{ closed bool }

func (f *failingSink) Append(context.Context, Entry) error { return errors.New("disk full") }
func (f *failingSink) Close() error                        { f.closed = true; return nil }

func TestMulti_DeliversToAllSinks(t *testing.T) {
	mem := NewMemory()
	bad := &failingSink{}
	m := Multi{bad, mem}

	err := m.Append(context.Background(), Entry{Kind: KindResult})
	assert.ErrorContains(t, err, "disk full")
	assert.Len(t, mem.Entries(), 1, "a failing sink must not starve the others")

	require.NoError(t, m.Close())
	assert.True(t, bad.closed)
}

func TestPostgresSink(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	t.Run("creates table and inserts", func(t *testing.T) {
		mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectPing()
		mock.ExpectExec(flexibleSQLMatcher(createAuditTable)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
		sink, err := NewPostgresSink(ctx, mock, nil, logger)
		require.NoError(t, err)

		e, err := FromPayload(sampleEvent())
		require.NoError(t, err)
		mock.ExpectExec(flexibleSQLMatcher(insertAuditEntry)).
			WithArgs(e.Timestamp, string(KindKillSwitch), nil, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		require.NoError(t, sink.Append(ctx, e))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ping failure", func(t *testing.T) {
		mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		_, err = NewPostgresSink(ctx, mock, nil, logger)
		assert.ErrorContains(t, err, "failed to ping audit database")
	})

	t.Run("insert failure is returned", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(flexibleSQLMatcher(createAuditTable)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
		sink, err := NewPostgresSink(ctx, mock, nil, logger)
		require.NoError(t, err)

		mock.ExpectExec(flexibleSQLMatcher(insertAuditEntry)).WillReturnError(errors.New("boom"))
		err = sink.Append(ctx, Entry{Timestamp: time.Now(), Kind: KindResult, RequestID: "r1", Data: map[string]int{"a": 1}})
		assert.ErrorContains(t, err, "insert entry")
	})
}
