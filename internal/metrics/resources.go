package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Sample holds CPU and memory usage of one joblet process.
type Sample struct {
	JobID      string    `json:"job_id"`
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// ResourceConfig configures joblet resource sampling.
type ResourceConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxHistory int           `mapstructure:"max_history"`
}

// ResourceCollector periodically samples CPU and memory of tracked joblets.
type ResourceCollector struct {
	enabled    bool
	interval   time.Duration
	maxHistory int

	mu      sync.RWMutex
	history map[string][]Sample // job id -> samples, oldest first

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

func NewResourceCollector(cfg ResourceConfig) *ResourceCollector {
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 100
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "jobletd",
			Subsystem: "joblet",
			Name:      name,
			Help:      help,
		}, []string{"job_id"})
	}
	return &ResourceCollector{
		enabled:    cfg.Enabled,
		interval:   interval,
		maxHistory: maxHistory,
		history:    make(map[string][]Sample),
		stopCh:     make(chan struct{}),
		cpuPercent: gauge("cpu_percent", "CPU usage percentage of running joblets."),
		memoryMB:   gauge("memory_mb", "Resident memory in MB of running joblets."),
		numThreads: gauge("num_threads", "Thread count of running joblets."),
		numFDs:     gauge("num_fds", "Open file descriptors of running joblets (Unix only)."),
	}
}

// RegisterMetrics registers the collector's gauges with r.
func (c *ResourceCollector) RegisterMetrics(r prometheus.Registerer) error {
	if !c.enabled {
		return nil
	}
	cs := []prometheus.Collector{c.cpuPercent, c.memoryMB, c.numThreads}
	if runtime.GOOS != "windows" {
		cs = append(cs, c.numFDs)
	}
	for _, col := range cs {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start samples the processes returned by getProcesses (job id -> pid) every interval.
func (c *ResourceCollector) Start(ctx context.Context, getProcesses func() map[string]int32) {
	if !c.enabled {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t := time.NewTicker(c.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-t.C:
				c.Collect(getProcesses())
			}
		}
	}()
}

// Stop ends sampling and waits for the sampling goroutine.
func (c *ResourceCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect takes one sample of every process and drops jobs that are no longer listed.
func (c *ResourceCollector) Collect(processes map[string]int32) {
	now := time.Now()
	samples := make(map[string]Sample, len(processes))
	for id, pid := range processes {
		if pid <= 0 {
			continue
		}
		s, err := sample(id, pid, now)
		if err != nil {
			slog.Debug("resource sample failed", "job_id", id, "pid", pid, "error", err)
			continue
		}
		samples[id] = s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, s := range samples {
		c.cpuPercent.WithLabelValues(id).Set(s.CPUPercent)
		c.memoryMB.WithLabelValues(id).Set(s.MemoryMB)
		c.numThreads.WithLabelValues(id).Set(float64(s.NumThreads))
		if runtime.GOOS != "windows" && s.NumFDs > 0 {
			c.numFDs.WithLabelValues(id).Set(float64(s.NumFDs))
		}
		h := append(c.history[id], s)
		if len(h) > c.maxHistory {
			h = h[len(h)-c.maxHistory:]
		}
		c.history[id] = h
	}
	for id := range c.history {
		if _, ok := processes[id]; ok {
			continue
		}
		delete(c.history, id)
		c.cpuPercent.DeleteLabelValues(id)
		c.memoryMB.DeleteLabelValues(id)
		c.numThreads.DeleteLabelValues(id)
		c.numFDs.DeleteLabelValues(id)
	}
}

func sample(id string, pid int32, ts time.Time) (Sample, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return Sample{}, fmt.Errorf("process handle: %w", err)
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return Sample{}, fmt.Errorf("memory info: %w", err)
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		cpu = 0
	}
	threads, err := p.NumThreads()
	if err != nil {
		threads = 0
	}
	s := Sample{
		JobID:      id,
		PID:        pid,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		MemoryRSS:  mem.RSS,
		MemoryVMS:  mem.VMS,
		NumThreads: threads,
		Timestamp:  ts,
	}
	if runtime.GOOS != "windows" {
		if fds, err := p.NumFDs(); err == nil {
			s.NumFDs = fds
		}
	}
	return s, nil
}

// Latest returns the most recent sample for a job.
func (c *ResourceCollector) Latest(jobID string) (Sample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.history[jobID]
	if len(h) == 0 {
		return Sample{}, false
	}
	return h[len(h)-1], true
}

// History returns a copy of the retained samples for a job, oldest first.
func (c *ResourceCollector) History(jobID string) []Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Sample(nil), c.history[jobID]...)
}

// Enabled reports whether sampling is turned on.
func (c *ResourceCollector) Enabled() bool { return c.enabled }
