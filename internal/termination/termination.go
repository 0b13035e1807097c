// Package termination decides what happens once a tracked joblet process is gone.
package termination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/jobletd/internal/history"
	"github.com/loykin/jobletd/internal/joblet"
	"github.com/loykin/jobletd/internal/metrics"
	"github.com/loykin/jobletd/internal/registry"
	"github.com/loykin/jobletd/internal/status"
)

// Outcome classifies how a joblet ended.
type Outcome string

const (
	OutcomeDone    Outcome = "done"
	OutcomeError   Outcome = "error"
	OutcomeCrashed Outcome = "crashed" // exited without recording DONE or ERROR
)

// DefaultTimeout bounds each history send, callback and config delete.
const DefaultTimeout = 10 * time.Second

// CrashedCode is recorded for joblets that died without reporting a result.
const CrashedCode int64 = -1

// Result is passed to the success and failure callbacks.
type Result struct {
	PID      int
	Metadata joblet.Metadata
	Outcome  Outcome
	Error    *status.ErrorInfo
}

// ConfigDeleter removes a stored configuration.
type ConfigDeleter interface {
	Delete(ctx context.Context, id string) error
}

type Options struct {
	Statuses *status.Store
	Configs  ConfigDeleter // optional; configs are kept when nil
	History  history.Sink  // optional
	// OnSuccess and OnFailure are optional hooks. An error they return is
	// reported as a handler failure.
	OnSuccess func(ctx context.Context, r Result) error
	OnFailure func(ctx context.Context, r Result) error
	// Timeout bounds each external step of OnRemove. Zero means DefaultTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Handler is the default termination handler of the daemon.
type Handler struct {
	opts Options
	log  *slog.Logger
	now  func() time.Time
}

var _ registry.Handler[joblet.Metadata] = (*Handler)(nil)

func New(opts Options) (*Handler, error) {
	if opts.Statuses == nil {
		return nil, errors.New("termination: status store is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Handler{opts: opts, log: log, now: time.Now}, nil
}

// step runs fn with a context limited to the handler timeout. OnRemove runs
// under the registry lock, so a hung sink or callback must not outlive it.
func (h *Handler) step(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, h.opts.Timeout)
	defer cancel()
	return fn(ctx)
}

// OnRemove classifies the finished joblet from its recorded status, records a
// crash when nothing terminal was written, emits history and metrics, runs
// the callbacks and deletes the stored configuration. Every step runs even
// when an earlier one fails; the failures are returned joined.
func (h *Handler) OnRemove(ctx context.Context, e registry.Entry[joblet.Metadata]) error {
	md := e.Metadata
	id := md.ConfigID
	var errs []error

	res := Result{PID: e.PID, Metadata: md}
	st, err := h.opts.Statuses.Status(id)
	if err != nil {
		errs = append(errs, fmt.Errorf("read status: %w", err))
	}
	switch st {
	case status.StateDone:
		res.Outcome = OutcomeDone
	case status.StateError:
		res.Outcome = OutcomeError
		info, err := h.opts.Statuses.ErrorInfo(id)
		if err != nil {
			errs = append(errs, fmt.Errorf("read error info: %w", err))
		}
		res.Error = info
	default:
		res.Outcome = OutcomeCrashed
		res.Error = &status.ErrorInfo{
			Code:    CrashedCode,
			Message: fmt.Sprintf("joblet process %d exited without reporting a result (last state %s)", e.PID, stateOrUnknown(st)),
		}
		if err == nil {
			if err := h.opts.Statuses.SaveError(id, *res.Error); err != nil {
				errs = append(errs, fmt.Errorf("record crash: %w", err))
			}
		}
	}

	metrics.IncTermination(md.Factory, string(res.Outcome))
	h.log.Info("Joblet terminated", "pid", e.PID, "id", id, "name", md.Name, "outcome", res.Outcome)

	if h.opts.History != nil {
		ev := h.event(res)
		if err := h.step(ctx, func(ctx context.Context) error { return h.opts.History.Send(ctx, ev) }); err != nil {
			// history is best effort
			h.log.Warn("Failed to send history event", "id", id, "error", err)
		}
	}

	hook := h.opts.OnFailure
	if res.Outcome == OutcomeDone {
		hook = h.opts.OnSuccess
	}
	if hook != nil {
		if err := h.step(ctx, func(ctx context.Context) error { return hook(ctx, res) }); err != nil {
			errs = append(errs, fmt.Errorf("%s callback: %w", res.Outcome, err))
		}
	}

	if h.opts.Configs != nil && id != "" {
		if err := h.step(ctx, func(ctx context.Context) error { return h.opts.Configs.Delete(ctx, id) }); err != nil {
			errs = append(errs, fmt.Errorf("delete config: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (h *Handler) event(res Result) history.Event {
	rec := history.Record{
		ID:          res.Metadata.ConfigID,
		Name:        res.Metadata.Name,
		Factory:     res.Metadata.Factory,
		PID:         res.PID,
		SubmittedAt: res.Metadata.SubmittedAt,
		Outcome:     string(res.Outcome),
	}
	if res.Error != nil {
		rec.ErrorCode = res.Error.Code
		rec.ErrorMessage = res.Error.Message
	}
	return history.Event{Type: history.EventTerminated, OccurredAt: h.now().UTC(), Record: rec}
}

func stateOrUnknown(st status.State) string {
	if st == "" {
		return "unknown"
	}
	return string(st)
}
