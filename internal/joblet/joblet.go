// Package joblet defines the unit of work run inside a forked process and the
// named factories that rebuild it on the child side.
package joblet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Config describes one submitted job. It is persisted by the config store
// and loaded again by id inside the forked process.
type Config struct {
	Name    string            `json:"name" mapstructure:"name"`
	Factory string            `json:"factory,omitempty" mapstructure:"factory"` // empty selects the executor default
	Command string            `json:"command,omitempty" mapstructure:"command"`
	WorkDir string            `json:"work_dir,omitempty" mapstructure:"work_dir"`
	Env     []string          `json:"env,omitempty" mapstructure:"env"`
	Params  map[string]string `json:"params,omitempty" mapstructure:"params"`
}

// Metadata is what the registry stores for every tracked joblet process.
type Metadata struct {
	ConfigID    string    `json:"config_id"`
	Factory     string    `json:"factory"`
	Name        string    `json:"name,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Joblet is one unit of work.
type Joblet interface {
	Run(ctx context.Context) error
}

// Func adapts a function to Joblet.
type Func func(ctx context.Context) error

func (f Func) Run(ctx context.Context) error { return f(ctx) }

// Factory builds a joblet from its stored configuration.
type Factory func(cfg Config) (Joblet, error)

var ErrUnknownFactory = errors.New("joblet: unknown factory")

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a factory available under name. Registering the same name
// twice replaces the earlier factory.
func Register(name string, f Factory) {
	if name == "" || f == nil {
		panic("joblet: Register requires a name and a factory")
	}
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, error) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFactory, name)
	}
	return f, nil
}

// Names lists registered factories, sorted.
func Names() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	out := make([]string, 0, len(factories))
	for n := range factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// CodedError is an error that carries a numeric code for the status store.
type CodedError struct {
	Code int64
	Err  error
}

func (e *CodedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e *CodedError) Unwrap() error { return e.Err }

// CodeOf returns the code carried by err, or 1 when it carries none.
func CodeOf(err error) int64 {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 1
}
