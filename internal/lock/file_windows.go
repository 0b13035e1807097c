//go:build windows

package lock

import "errors"

// File is not supported on Windows; use NoOp.
type File struct{ path string }

func NewFile(path string) *File { return &File{path: path} }

func (l *File) Acquire() error { return errors.New("lock: file lock is not supported on windows") }
func (l *File) Release() error { return nil }
