package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))

	IncRegistration("ok")
	SetTracked(2)
	ObserveReconcile(0.01, true)
	ObserveReconcile(0.02, false)
	IncDeregistration()
	IncHandlerFailure()
	IncExecution("command", "ok")
	IncAdmissionRejection()
	SetMaxConcurrent(4)
	IncTermination("command", "done")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	want := map[string]bool{
		"jobletd_registry_registrations_total":     false,
		"jobletd_registry_tracked_processes":       false,
		"jobletd_registry_reconcile_cycles_total":  false,
		"jobletd_registry_deregistrations_total":   false,
		"jobletd_registry_handler_failures_total":  false,
		"jobletd_executor_executions_total":        false,
		"jobletd_executor_admission_rejections_total": false,
		"jobletd_executor_max_concurrent_processes":   false,
		"jobletd_joblet_terminations_total":           false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
			assert.NotEmpty(t, mf.GetMetric(), mf.GetName())
		}
	}
	for n, ok := range want {
		assert.True(t, ok, "expected metric %s", n)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	require.NoError(t, Register(prometheus.DefaultRegisterer))

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncRegistration("ok")

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(b), "jobletd_registry_registrations_total"))
}

func TestConcurrentIncrements(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncRegistration("ok")
			IncDeregistration()
			IncTermination("command", "crashed")
		}()
	}
	wg.Wait()
	_, err := reg.Gather()
	require.NoError(t, err)
}

func TestMetricsBeforeRegister(t *testing.T) {
	original := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(original)

	assert.NotPanics(t, func() {
		IncRegistration("ok")
		SetTracked(1)
		ObserveReconcile(1, true)
		IncHandlerFailure()
		IncExecution("x", "ok")
		IncTermination("x", "done")
	})
}

func TestRegisterError(t *testing.T) {
	original := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(original)

	err := Register(&errorRegisterer{})
	require.Error(t, err)
	assert.Equal(t, "test registration error", err.Error())
}

type errorRegisterer struct{}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	return errors.New("test registration error")
}
func (e *errorRegisterer) MustRegister(...prometheus.Collector)  {}
func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }

func TestResourceCollectorSamplesSelf(t *testing.T) {
	c := NewResourceCollector(ResourceConfig{Enabled: true, MaxHistory: 2})
	require.NoError(t, c.RegisterMetrics(prometheus.NewRegistry()))

	self := int32(os.Getpid())
	for i := 0; i < 3; i++ {
		c.Collect(map[string]int32{"job-a": self})
	}
	s, ok := c.Latest("job-a")
	require.True(t, ok)
	assert.Equal(t, self, s.PID)
	assert.Greater(t, s.MemoryRSS, uint64(0))
	assert.Len(t, c.History("job-a"), 2, "history is bounded by MaxHistory")

	// job no longer listed: dropped
	c.Collect(map[string]int32{})
	_, ok = c.Latest("job-a")
	assert.False(t, ok)
}

func TestResourceCollectorDisabled(t *testing.T) {
	c := NewResourceCollector(ResourceConfig{})
	assert.False(t, c.Enabled())
	require.NoError(t, c.RegisterMetrics(prometheus.NewRegistry()))
	c.Stop()
}
