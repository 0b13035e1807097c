package kv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// TmpSuffix marks staged files that have not been committed yet.
const TmpSuffix = ".tmp"

var (
	ErrDirectoryCreate = errors.New("mkdir failed")
	ErrWrite           = errors.New("write failed")
	ErrCommit          = errors.New("commit failed")
	ErrNotFound        = errors.New("key not found")
	ErrInvalidKey      = errors.New("invalid key")
)

// Dir is a key-value store backed by a directory: one file per key.
// Values are published with stage-then-commit (write <key>.tmp, then rename),
// so a reader never observes a partially written value under its key.
// Dir does no locking of its own; callers serialise where they need to.
type Dir struct {
	path string
	perm os.FileMode
}

// NewDir returns a store rooted at path. The directory is created lazily by Put.
func NewDir(path string) *Dir {
	return &Dir{path: filepath.Clean(path), perm: 0o600}
}

// Path returns the base directory.
func (d *Dir) Path() string { return d.path }

func (d *Dir) keyPath(key string) (string, error) {
	if !validKey(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(d.path, key), nil
}

// validKey rejects anything that could escape the directory or collide with staging files.
func validKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	if strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return false
	}
	return !strings.HasSuffix(key, TmpSuffix)
}

// Put writes value under key using stage-then-commit.
func (d *Dir) Put(key string, value []byte) error {
	p, err := d.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d.path, 0o750); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDirectoryCreate, d.path, err)
	}
	tmp := p + TmpSuffix
	if err := writeSynced(tmp, value, d.perm); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %s: %w", ErrWrite, tmp, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %s: %w", ErrCommit, p, err)
	}
	return nil
}

func writeSynced(path string, value []byte, perm os.FileMode) error {
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(value); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Get returns the committed value for key, or ErrNotFound.
func (d *Dir) Get(key string) ([]byte, error) {
	p, err := d.keyPath(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, err
	}
	return b, nil
}

// Exists reports whether a committed value exists for key.
func (d *Dir) Exists(key string) (bool, error) {
	p, err := d.keyPath(key)
	if err != nil {
		return false, err
	}
	st, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return st.Mode().IsRegular(), nil
}

// Delete removes key. A missing key is not an error.
func (d *Dir) Delete(key string) error {
	p, err := d.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Scan returns the committed keys accepted by match, sorted.
// Staged files and subdirectories are never returned. A missing base directory yields no keys.
func (d *Dir) Scan(match func(key string) bool) ([]string, error) {
	ents, err := os.ReadDir(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	keys := make([]string, 0, len(ents))
	for _, e := range ents {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if !validKey(name) {
			continue
		}
		if match != nil && !match(name) {
			continue
		}
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys, nil
}
