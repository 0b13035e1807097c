package jobletd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDaemon(t *testing.T, pid int) *Daemon {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseDir = t.TempDir()
	cfg.MaxConcurrent = 1
	cfg.Server.Enabled = false
	reg := prometheus.NewRegistry()
	d, err := New(Options{
		Config:     cfg,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Runner:     RunnerFunc(func(RunRequest) (int, error) { return pid, nil }),
		Registerer: reg,
		Gatherer:   reg,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestFacadeExecuteAndList(t *testing.T) {
	d := newTestDaemon(t, 424242)
	ctx := context.Background()

	ok, err := d.CanExecuteAnother()
	require.NoError(t, err)
	assert.True(t, ok)

	res, err := d.Execute(ctx, JobletConfig{Name: "facade", Command: "true"})
	require.NoError(t, err)
	assert.Equal(t, 424242, res.PID)
	assert.NotEmpty(t, res.ID)

	entries, err := d.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, res.ID, entries[0].Metadata.ConfigID)
	assert.Equal(t, "facade", entries[0].Metadata.Name)

	_, ok, err = d.TryExecute(ctx, JobletConfig{Command: "true"})
	require.NoError(t, err)
	assert.False(t, ok, "limit of one is reached")

	d.SetMaxConcurrent(3)
	assert.Equal(t, 3, d.MaxConcurrent())

	st, err := d.Status(res.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, st)
	info, err := d.ErrorInfo(res.ID)
	require.NoError(t, err)
	assert.Nil(t, info)
	require.NoError(t, d.Forget(res.ID))
}

func TestFacadeHandler(t *testing.T) {
	d := newTestDaemon(t, 1)
	h := d.Handler("/jobs")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/capacity", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 1, got["max"])
}

func TestRegisterFactory(t *testing.T) {
	RegisterFactory("facade-test", func(cfg JobletConfig) (Joblet, error) {
		return JobletFunc(func(context.Context) error { return nil }), nil
	})
	assert.NotPanics(t, func() {
		RegisterFactory("facade-test", func(JobletConfig) (Joblet, error) { return nil, errors.New("replaced") })
	})
}

func TestLoadConfigMissing(t *testing.T) {
	_, err := LoadConfig("/does/not/exist.toml")
	require.Error(t, err)
}
