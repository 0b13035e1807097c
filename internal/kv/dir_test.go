package kv

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetDelete(t *testing.T) {
	d := NewDir(filepath.Join(t.TempDir(), "nested", "base"))

	require.NoError(t, d.Put("a", []byte("one")))
	b, err := d.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "one", string(b))

	// overwrite replaces the whole value
	require.NoError(t, d.Put("a", []byte("2")))
	b, err = d.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "2", string(b))

	ok, err := d.Exists("a")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, d.Delete("a"))
	ok, err = d.Exists("a")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = d.Get("a")
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting again is fine
	require.NoError(t, d.Delete("a"))
}

func TestPutLeavesNoStagedFile(t *testing.T) {
	base := t.TempDir()
	d := NewDir(base)
	require.NoError(t, d.Put("k", []byte("v")))
	_, err := os.Stat(filepath.Join(base, "k"+TmpSuffix))
	assert.True(t, errors.Is(err, os.ErrNotExist), "staged file should be renamed away")
}

func TestScanSkipsStagedFilesAndDirs(t *testing.T) {
	base := t.TempDir()
	d := NewDir(base)
	require.NoError(t, d.Put("2", nil))
	require.NoError(t, d.Put("1", nil))
	require.NoError(t, os.WriteFile(filepath.Join(base, "3"+TmpSuffix), []byte("partial"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(base, "4"), 0o750))

	keys, err := d.Scan(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, keys)

	keys, err = d.Scan(func(k string) bool { return k == "2" })
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, keys)
}

func TestScanMissingDir(t *testing.T) {
	d := NewDir(filepath.Join(t.TempDir(), "absent"))
	keys, err := d.Scan(nil)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestInvalidKeys(t *testing.T) {
	d := NewDir(t.TempDir())
	for _, k := range []string{"", ".", "..", "a/b", `a\b`, "../x", "x.tmp"} {
		err := d.Put(k, []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", k)
	}
}

func TestPutMkdirFailure(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	d := NewDir(filepath.Join(blocker, "sub"))
	err := d.Put("k", []byte("v"))
	assert.ErrorIs(t, err, ErrDirectoryCreate)
}

func TestPutCommitFailure(t *testing.T) {
	base := t.TempDir()
	d := NewDir(base)
	// a non-empty directory at the target name makes rename fail
	require.NoError(t, os.MkdirAll(filepath.Join(base, "k", "child"), 0o750))
	err := d.Put("k", []byte("v"))
	assert.ErrorIs(t, err, ErrCommit)
	_, statErr := os.Stat(filepath.Join(base, "k"+TmpSuffix))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}
