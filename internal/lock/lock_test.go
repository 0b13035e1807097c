//go:build !windows

package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "base", FileName)
	a := NewFile(path)
	b := NewFile(path)

	require.NoError(t, a.Acquire())
	require.NoError(t, a.Acquire(), "re-acquiring a held lock is a no-op")

	err := b.Acquire()
	assert.ErrorIs(t, err, ErrLocked)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(content)))

	require.NoError(t, a.Release())
	require.NoError(t, a.Release())
	require.NoError(t, b.Acquire())
	require.NoError(t, b.Release())
}

func TestNoOp(t *testing.T) {
	var l Lock = NoOp{}
	require.NoError(t, l.Acquire())
	require.NoError(t, l.Acquire())
	require.NoError(t, l.Release())
}
