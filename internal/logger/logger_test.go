package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestProcessWritersPaths(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name             string
		cfg              FileConfig
		wantOut, wantErr string // "" means no writer
	}{
		{"nothing configured", FileConfig{}, "", ""},
		{"dir derives both", FileConfig{Dir: dir}, filepath.Join(dir, "3f2c-job.stdout.log"), filepath.Join(dir, "3f2c-job.stderr.log")},
		{"explicit paths win", FileConfig{Dir: dir, StdoutPath: filepath.Join(dir, "o.log"), StderrPath: filepath.Join(dir, "e.log")}, filepath.Join(dir, "o.log"), filepath.Join(dir, "e.log")},
		{"stdout only", FileConfig{StdoutPath: filepath.Join(dir, "only.log")}, filepath.Join(dir, "only.log"), ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outW, errW, err := Config{File: tc.cfg}.ProcessWriters("3f2c-job")
			require.NoError(t, err)
			assertWriter(t, outW, tc.wantOut)
			assertWriter(t, errW, tc.wantErr)
		})
	}
}

func assertWriter(t *testing.T, w io.WriteCloser, path string) {
	t.Helper()
	if path == "" {
		assert.Nil(t, w)
		return
	}
	require.NotNil(t, w)
	_, err := w.Write([]byte("line\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(b))
}

func TestProcessWritersRotationSettings(t *testing.T) {
	outW, _, err := FileConfig{StdoutPath: "x"}.ProcessWriters("n")
	require.NoError(t, err)
	l := outW.(*lj.Logger)
	assert.Equal(t, DefaultMaxSizeMB, l.MaxSize)
	assert.Equal(t, DefaultMaxBackups, l.MaxBackups)
	assert.Equal(t, DefaultMaxAgeDays, l.MaxAge)
	assert.False(t, l.Compress)

	outW, _, err = FileConfig{StdoutPath: "x", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}.ProcessWriters("n")
	require.NoError(t, err)
	l = outW.(*lj.Logger)
	assert.Equal(t, 1, l.MaxSize)
	assert.Equal(t, 9, l.MaxBackups)
	assert.Equal(t, 11, l.MaxAge)
	assert.True(t, l.Compress)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNewWritesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobletd.log")
	lg, closer := New(Config{Level: "debug", Format: "json", File: FileConfig{Path: path}})
	lg.Debug("hello", "pid", 42)
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"hello"`)
	assert.Contains(t, string(b), `"pid":42`)
}

func TestNewStderrDefaults(t *testing.T) {
	lg, closer := New(Config{Color: true})
	require.NotNil(t, lg)
	_, ok := lg.Handler().(*ColorTextHandler)
	assert.True(t, ok)
	assert.False(t, lg.Enabled(context.Background(), slog.LevelDebug))
	require.NoError(t, closer.Close())
}

func TestColorTextHandlerKeepsColorOnWith(t *testing.T) {
	var buf bytes.Buffer
	lg := slog.New(NewColorTextHandler(&buf, nil)).With("component", "registry")
	lg.Warn("cycle skipped")
	out := buf.String()
	assert.True(t, strings.Contains(out, "[33mWARN"), out)
	assert.Contains(t, out, "component=registry")
}
