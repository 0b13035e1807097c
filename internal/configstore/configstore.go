// Package configstore persists joblet configurations as JSON documents and
// hands out opaque ids for them.
package configstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/loykin/jobletd/internal/joblet"
)

// DirName is the sub-directory of the base directory that holds configs.
const DirName = "joblet_configs"

var (
	ErrConfigPersistFailed = errors.New("configstore: persist failed")
	ErrNotFound            = errors.New("configstore: config not found")
	ErrInvalidID           = errors.New("configstore: invalid id")
)

// Store keeps one <id>.json file per submitted configuration.
type Store struct {
	dir     string
	baseURL string
	fs      afs.Service
	mu      sync.RWMutex
}

// New returns a store rooted at dir. The directory is created when missing.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("configstore: directory cannot be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("configstore: resolve %s: %w", dir, err)
	}
	fs := afs.New()
	ctx := context.Background()
	if ok, _ := fs.Exists(ctx, abs); !ok {
		if err := fs.Create(ctx, abs, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("configstore: create %s: %w", abs, err)
		}
	}
	return &Store{dir: abs, baseURL: url.Normalize(abs, file.Scheme), fs: fs}, nil
}

// Dir returns the local directory backing the store.
func (s *Store) Dir() string { return s.dir }

// Store persists cfg under a freshly generated id.
func (s *Store) Store(ctx context.Context, cfg joblet.Config) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("%w: marshal: %w", ErrConfigPersistFailed, err)
	}
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fs.Upload(ctx, s.url(id), file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrConfigPersistFailed, id, err)
	}
	return id, nil
}

// Load returns the configuration stored under id.
func (s *Store) Load(ctx context.Context, id string) (joblet.Config, error) {
	if err := validateID(id); err != nil {
		return joblet.Config{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := s.url(id)
	ok, err := s.fs.Exists(ctx, u)
	if err != nil {
		return joblet.Config{}, fmt.Errorf("configstore: check %s: %w", id, err)
	}
	if !ok {
		return joblet.Config{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	data, err := s.fs.DownloadWithURL(ctx, u)
	if err != nil {
		return joblet.Config{}, fmt.Errorf("configstore: read %s: %w", id, err)
	}
	var cfg joblet.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return joblet.Config{}, fmt.Errorf("configstore: decode %s: %w", id, err)
	}
	return cfg, nil
}

// Delete removes the configuration. A missing config is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.url(id)
	ok, err := s.fs.Exists(ctx, u)
	if err != nil {
		return fmt.Errorf("configstore: check %s: %w", id, err)
	}
	if !ok {
		return nil
	}
	if err := s.fs.Delete(ctx, u); err != nil {
		return fmt.Errorf("configstore: delete %s: %w", id, err)
	}
	return nil
}

// IDs lists the ids of all stored configurations, sorted.
func (s *Store) IDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, err := s.fs.List(ctx, s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("configstore: list: %w", err)
	}
	var ids []string
	for _, o := range objects {
		if o.IsDir() || !strings.HasSuffix(o.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(o.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) url(id string) string {
	return url.Join(s.baseURL, id+".json")
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
