package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/jobletd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDaemonServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := jobletd.DefaultConfig()
	cfg.BaseDir = t.TempDir()
	cfg.MaxConcurrent = 1
	reg := prometheus.NewRegistry()
	d, err := jobletd.New(jobletd.Options{
		Config:     cfg,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Runner:     jobletd.RunnerFunc(func(jobletd.RunRequest) (int, error) { return 515151, nil }),
		Registerer: reg,
		Gatherer:   reg,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	srv := httptest.NewServer(d.Handler("/api"))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(srv *httptest.Server) *Client {
	return New(Config{BaseURL: srv.URL + "/api", Timeout: 2 * time.Second, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

func TestDefaults(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, DefaultTimeout, c.client.Timeout)
}

func TestSubmitStatusAndCapacity(t *testing.T) {
	c := newClient(newDaemonServer(t))
	ctx := context.Background()
	require.True(t, c.IsReachable(ctx))

	sub, err := c.Submit(ctx, JobletRequest{Name: "client-job", Command: "true"})
	require.NoError(t, err)
	assert.Equal(t, 515151, sub.PID)
	require.NotEmpty(t, sub.ID)

	_, err = c.Submit(ctx, JobletRequest{Command: "true"})
	assert.ErrorIs(t, err, ErrAtCapacity)

	capacity, err := c.Capacity(ctx)
	require.NoError(t, err)
	assert.Equal(t, Capacity{Max: 1, Running: 1, Available: 0}, capacity)

	procs, err := c.Processes(ctx)
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, sub.ID, procs[0].Metadata.ConfigID)
	assert.Equal(t, "client-job", procs[0].Metadata.Name)
	assert.Equal(t, StatePending, procs[0].State)

	st, err := c.Status(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, st.State)

	err = c.Forget(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrNotFound, "nothing recorded yet")
}

func TestSubmitValidationError(t *testing.T) {
	c := newClient(newDaemonServer(t))
	_, err := c.Submit(context.Background(), JobletRequest{Name: "../bad", Command: "true"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API error (400)")
	assert.Contains(t, err.Error(), "invalid name")
}

func TestWaitTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := "IN_PROGRESS"
		if calls.Add(1) >= 3 {
			state = "DONE"
		}
		_, _ = w.Write([]byte(`{"id":"j","state":"` + state + `"}`))
	}))
	defer srv.Close()

	st, err := newClient(srv).WaitTerminal(context.Background(), "j", 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StateDone, st.State)
	assert.EqualValues(t, 3, calls.Load())
}

func TestWaitTerminalContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"j","state":"IN_PROGRESS"}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newClient(srv).WaitTerminal(ctx, "j", 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSetupClientTLS(t *testing.T) {
	cfg, err := setupClientTLS(Config{Insecure: true})
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)

	_, err = setupClientTLS(Config{TLS: &TLSClientConfig{CACert: "/does/not/exist.pem"}})
	assert.Error(t, err)
}
