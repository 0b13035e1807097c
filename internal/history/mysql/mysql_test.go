package mysql

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/loykin/jobletd/internal/history"
)

func TestMySQLSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := mysql.Run(ctx,
		"mysql:8.0.36",
		mysql.WithDatabase("jobletd"),
		mysql.WithUsername("jobletd"),
		mysql.WithPassword("secret"),
	)
	if err != nil {
		t.Fatalf("Failed to start MySQL container: %v", err)
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate MySQL container: %v", err)
		}
	}()

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}
	sink, err := New("mysql://" + connStr)
	if err != nil {
		t.Fatalf("Failed to create MySQL sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	rec := history.Record{ID: "job-my", Name: "nightly", Factory: "command", PID: 99, Outcome: "crashed", ErrorCode: -1}
	if err := sink.Send(ctx, history.Event{Type: history.EventTerminated, OccurredAt: time.Now(), Record: rec}); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}

	var outcome string
	var code int64
	err = sink.db.QueryRowContext(ctx, "SELECT outcome, error_code FROM joblet_history WHERE job_id = ?", rec.ID).Scan(&outcome, &code)
	if err != nil {
		t.Fatalf("Failed to query joblet_history: %v", err)
	}
	if outcome != "crashed" || code != -1 {
		t.Errorf("unexpected row: outcome=%s code=%d", outcome, code)
	}
}

func TestNewRejectsBadDSN(t *testing.T) {
	if _, err := New("mysql://"); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
	_, err := New("mysql://user@tcp(localhost:3306")
	if err == nil || !strings.Contains(err.Error(), "invalid DSN") {
		t.Fatalf("expected DSN parse error, got %v", err)
	}
}
