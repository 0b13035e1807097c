package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoad_Minimal(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "jobletd.toml")
	writeFile(t, file, `base_dir = "state"`)

	c, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "state"), c.BaseDir)
	assert.Equal(t, DefaultMaxConcurrent, c.MaxConcurrent)
	assert.Equal(t, DefaultPollInterval, c.PollInterval)
	assert.Equal(t, "command", c.Factory)
	assert.True(t, c.UseOSEnv)
	assert.Equal(t, LockFile, c.Lock.Type)
	assert.True(t, c.Server.Enabled)
	assert.Equal(t, DefaultListen, c.Server.Listen)
	assert.Equal(t, DefaultBasePath, c.Server.BasePath)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, file, c.Path())
}

func TestLoad_Full(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "jobletd.toml")
	writeFile(t, file, `
base_dir = "/var/lib/jobletd"
max_concurrent_processes = 8
poll_interval = "250ms"
factory = "custom"
work_dir = "/srv"
env = ["A=1", "B=2"]
use_os_env = false
history = ["sqlite:///tmp/h.db", "opensearch://localhost:9200/idx"]

[log]
level = "debug"
format = "json"
  [log.file]
  dir = "logs"
  max_size_mb = 20

[server]
listen = "0.0.0.0:9000"
base_path = "/v1"
  [server.tls]
  enabled = true
  dir = "certs"
  auto_generate = true
  min_version = "1.2"

[metrics]
listen = ":9100"
  [metrics.resources]
  enabled = true
  interval = "2s"
  max_history = 10

[lock]
type = "none"
`)
	c, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/jobletd", c.BaseDir)
	assert.Equal(t, 8, c.MaxConcurrent)
	assert.Equal(t, 250*time.Millisecond, c.PollInterval)
	assert.Equal(t, "custom", c.Factory)
	assert.Equal(t, "/srv", c.WorkDir)
	assert.Equal(t, []string{"A=1", "B=2"}, c.Env)
	assert.False(t, c.UseOSEnv)
	assert.Len(t, c.History, 2)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, filepath.Join(dir, "logs"), c.Log.File.Dir)
	assert.Equal(t, 20, c.Log.File.MaxSizeMB)
	assert.Equal(t, "0.0.0.0:9000", c.Server.Listen)
	assert.Equal(t, "/v1", c.Server.BasePath)
	assert.True(t, c.Server.TLS.Enabled)
	assert.True(t, c.Server.TLS.AutoGenerate)
	assert.Equal(t, filepath.Join(dir, "certs"), c.Server.TLS.Dir)
	assert.Equal(t, "1.2", c.Server.TLS.MinVersion)
	assert.Equal(t, ":9100", c.Metrics.Listen)
	assert.True(t, c.Metrics.Resources.Enabled)
	assert.Equal(t, 2*time.Second, c.Metrics.Resources.Interval)
	assert.Equal(t, 10, c.Metrics.Resources.MaxHistory)
	assert.Equal(t, LockNone, c.Lock.Type)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.toml")
	writeFile(t, bad, "base_dir = [")
	_, err = Load(bad)
	require.Error(t, err)

	for name, data := range map[string]string{
		"no base dir":   `max_concurrent_processes = 1`,
		"zero limit":    "base_dir = \"/x\"\nmax_concurrent_processes = 0",
		"bad lock":      "base_dir = \"/x\"\n[lock]\ntype = \"redis\"",
		"bad base path": "base_dir = \"/x\"\n[server]\nbase_path = \"api\"",
		"bad env":       "base_dir = \"/x\"\nenv = [\"NOVALUE\"]",
		"empty listen":  "base_dir = \"/x\"\n[server]\nlisten = \"\"",
		"negative poll": "base_dir = \"/x\"\npoll_interval = \"-1s\"",
		"empty factory": "base_dir = \"/x\"\nfactory = \"\"",
		"tls no certs":  "base_dir = \"/x\"\n[server.tls]\nenabled = true",
	} {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "c.toml")
			writeFile(t, p, data)
			_, err := Load(p)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, DefaultMaxConcurrent, c.MaxConcurrent)
	assert.ErrorIs(t, c.Validate(), ErrInvalidConfig, "base_dir is still required")
	c.BaseDir = t.TempDir()
	assert.NoError(t, c.Validate())
}

func TestGlobalEnv(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	writeFile(t, dotenv, "A=1\n#comment\nB=two\n\n=skipped\n")
	writeFile(t, filepath.Join(dir, "c.toml"), "base_dir = \"/x\"\nenv_files = [\".env\"]\nenv = [\"B=override\", \"C=3\"]\n")

	c, err := Load(filepath.Join(dir, "c.toml"))
	require.NoError(t, err)
	m, err := c.GlobalEnv()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "override", "C": "3"}, m)

	pairs, err := LoadEnvFile(dotenv)
	require.NoError(t, err)
	assert.Equal(t, []string{"A=1", "B=two"}, pairs)

	c.EnvFiles = []string{filepath.Join(dir, "missing.env")}
	_, err = c.GlobalEnv()
	require.Error(t, err)
}

func TestEnvironment(t *testing.T) {
	t.Setenv("JOBLETD_OS_ONLY", "osv")

	c := Default()
	c.Env = []string{"TOP=tv"}
	e, err := c.Environment()
	require.NoError(t, err)
	assert.Contains(t, e.Merge(nil), "JOBLETD_OS_ONLY=osv")
	assert.Contains(t, e.Merge(nil), "TOP=tv")

	c.UseOSEnv = false
	e, err = c.Environment()
	require.NoError(t, err)
	assert.Equal(t, []string{"TOP=tv"}, e.Merge(nil))
}

// waitFor drains reload events until match accepts one. A single write may
// surface as more than one reload.
func waitFor(t *testing.T, w *Watcher, match func(Event) bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if match(ev) {
				return
			}
		case <-deadline:
			t.Fatal("no matching reload event")
		}
	}
}

func TestWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "jobletd.toml")
	writeFile(t, file, "base_dir = \"/x\"\nmax_concurrent_processes = 2\n")

	w, err := NewWatcher(file)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()
	assert.Equal(t, 2, w.Current().MaxConcurrent)

	// unrelated files in the same directory are ignored
	writeFile(t, filepath.Join(dir, "other.toml"), "x = 1")
	writeFile(t, file, "base_dir = \"/x\"\nmax_concurrent_processes = 5\n")

	waitFor(t, w, func(ev Event) bool { return ev.Config != nil && ev.Config.MaxConcurrent == 5 })
	assert.Equal(t, 5, w.Current().MaxConcurrent)

	writeFile(t, file, "base_dir = \"/x\"\nmax_concurrent_processes = 0\n")
	waitFor(t, w, func(ev Event) bool { return errors.Is(ev.Error, ErrInvalidConfig) && ev.Config == nil })
	assert.Equal(t, 5, w.Current().MaxConcurrent, "a bad reload keeps the previous config")
}

func TestWatcher_StartFailsOnInvalidFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "jobletd.toml")
	writeFile(t, file, "max_concurrent_processes = 2\n")
	w, err := NewWatcher(file)
	require.NoError(t, err)
	require.Error(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	_, ok := <-w.Events()
	assert.False(t, ok)
}
