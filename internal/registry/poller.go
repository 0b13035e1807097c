package registry

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/loykin/jobletd/internal/metrics"
)

// Start launches the liveness poller. The first cycle runs immediately.
// Calling Start on a running poller is a no-op.
func (c *Controller[T]) Start(ctx context.Context) {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	go c.loop(ctx, done)
}

// Stop cancels the poller and waits for an in-flight cycle to finish.
func (c *Controller[T]) Stop() {
	c.pollMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.pollMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Controller[T]) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		c.cycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// cycle runs one reconciliation and never lets a failure escape the loop.
func (c *Controller[T]) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Reconciliation cycle panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	if _, err := c.Reconcile(ctx); err != nil {
		c.log.Warn("Reconciliation cycle skipped", "dir", c.store.Path(), "error", err)
	}
}

// Reconcile runs one reconciliation cycle synchronously and returns how many
// entries were removed. When the directory scan or the live-pid snapshot
// fails, nothing is removed and the error is returned.
func (c *Controller[T]) Reconcile(ctx context.Context) (removed int, err error) {
	started := time.Now()
	defer func() {
		metrics.ObserveReconcile(time.Since(started).Seconds(), err == nil)
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	items, err := c.scan()
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		metrics.SetTracked(0)
		return 0, nil
	}
	live, err := c.insp.LivePIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("registry: live pid snapshot: %w", err)
	}

	tracked := 0
	for _, it := range items {
		if live.Has(it.entry.PID) {
			tracked++
			continue
		}
		if it.err != nil {
			c.log.Error("Removing corrupt entry of dead process", "pid", it.entry.PID, "error", it.err)
			c.notifier.Notify(
				fmt.Sprintf("Dead process %d had an unreadable registry entry", it.entry.PID),
				fmt.Sprintf("pid: %d\nerror: %v", it.entry.PID, it.err),
				it.err,
			)
		} else if herr := c.invokeHandler(ctx, it.entry); herr != nil {
			metrics.IncHandlerFailure()
			c.log.Error("Termination handler failed", "pid", it.entry.PID, "metadata", fmt.Sprintf("%+v", it.entry.Metadata), "error", herr)
			c.notifier.Notify(
				fmt.Sprintf("Termination handling failed for process %d", it.entry.PID),
				fmt.Sprintf("pid: %d\nmetadata: %+v\nerror: %+v", it.entry.PID, it.entry.Metadata, herr),
				herr,
			)
		}
		if derr := c.store.Delete(strconv.Itoa(it.entry.PID)); derr != nil {
			c.log.Error("Failed to delete registry entry", "pid", it.entry.PID, "error", derr)
			tracked++
			continue
		}
		metrics.IncDeregistration()
		removed++
	}
	metrics.SetTracked(tracked)
	return removed, nil
}

// invokeHandler calls the handler, converting a panic into an error with its stack.
func (c *Controller[T]) invokeHandler(ctx context.Context, e Entry[T]) (err error) {
	if c.handler == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v\n%s", ErrHandlerFailed, r, debug.Stack())
		}
	}()
	if herr := c.handler.OnRemove(ctx, e); herr != nil {
		return fmt.Errorf("%w: %w", ErrHandlerFailed, herr)
	}
	return nil
}
