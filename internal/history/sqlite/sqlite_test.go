package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/jobletd/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkIntegration(t *testing.T) {
	sink, err := New("sqlite://" + filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	ctx := context.Background()

	rec := history.Record{ID: "job-1", Name: "nightly", Factory: "command", PID: 4242, SubmittedAt: time.Now().UTC()}
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventLaunched, OccurredAt: time.Now(), Record: rec}))

	rec.Outcome, rec.ErrorCode, rec.ErrorMessage = "error", 3, "exit status 3"
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventTerminated, OccurredAt: time.Now(), Record: rec}))

	rows, err := sink.DB().QueryContext(ctx, `SELECT event, job_id, pid, outcome, error_code, error_message FROM joblet_history ORDER BY rowid`)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	type row struct {
		event, jobID string
		pid          int
		outcome      sql.NullString
		code         sql.NullInt64
		message      sql.NullString
	}
	var got []row
	for rows.Next() {
		var r row
		require.NoError(t, rows.Scan(&r.event, &r.jobID, &r.pid, &r.outcome, &r.code, &r.message))
		got = append(got, r)
	}
	require.NoError(t, rows.Err())
	require.Len(t, got, 2)

	assert.Equal(t, "launched", got[0].event)
	assert.False(t, got[0].outcome.Valid)
	assert.False(t, got[0].code.Valid)

	assert.Equal(t, "terminated", got[1].event)
	assert.Equal(t, "job-1", got[1].jobID)
	assert.Equal(t, 4242, got[1].pid)
	assert.Equal(t, "error", got[1].outcome.String)
	assert.Equal(t, int64(3), got[1].code.Int64)
	assert.Equal(t, "exit status 3", got[1].message.String)
}

func TestInMemory(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	require.NoError(t, sink.Send(context.Background(), history.Event{Type: history.EventTerminated, OccurredAt: time.Now(), Record: history.Record{ID: "x", Outcome: "done"}}))

	var n int
	require.NoError(t, sink.DB().QueryRow(`SELECT COUNT(*) FROM joblet_history`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestEmptyDSN(t *testing.T) {
	_, err := New("  ")
	require.Error(t, err)
}
