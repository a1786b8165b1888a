package learning

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultReportTimeout = 10 * time.Second

// Dispatcher sends learning reports in the background. Every report to every sink
// runs in its own goroutine with no ordering and no retry; failures are only logged.
type Dispatcher struct {
	sinks     []Sink
	recorders []MissingTermRecorder
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewDispatcher creates a Dispatcher reporting corrections to the given sinks
func NewDispatcher(sinks ...Sink) *Dispatcher {
	return NewDispatcherWithDeps(sinks, nil, defaultReportTimeout)
}

// NewDispatcherWithDeps creates a Dispatcher with missing-term recorders and a custom per-report timeout
func NewDispatcherWithDeps(sinks []Sink, recorders []MissingTermRecorder, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultReportTimeout
	}
	return &Dispatcher{
		sinks:     sinks,
		recorders: recorders,
		timeout:   timeout,
	}
}

// Dispatch reports every divergent correction and returns how many were reported.
// It never blocks on the sinks and the caller's cancellation does not reach them.
func (d *Dispatcher) Dispatch(ctx context.Context, corrections []Correction) int {
	base := context.WithoutCancel(ctx)

	reported := 0
	for _, c := range corrections {
		if !Divergent(c.OriginalTerm, c.AcceptedName) {
			continue
		}
		reported++

		original := strings.TrimSpace(c.OriginalTerm)
		accepted := strings.TrimSpace(c.AcceptedName)
		for _, sink := range d.sinks {
			d.goWithTimeout(base, func(ctx context.Context) {
				if err := sink.Learn(ctx, original, accepted); err != nil {
					slog.Warn("Learning report failed",
						"original_term", original,
						"accepted_name", accepted,
						"error", err,
					)
				}
			})
		}
	}

	if reported > 0 {
		slog.Debug("Dispatched learning reports", "count", reported, "sinks", len(d.sinks))
	}
	return reported
}

// DispatchMissing records terms that ended up without a catalog match
func (d *Dispatcher) DispatchMissing(ctx context.Context, unit string, terms []string) {
	base := context.WithoutCancel(ctx)

	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		for _, recorder := range d.recorders {
			d.goWithTimeout(base, func(ctx context.Context) {
				if err := recorder.RecordMissing(ctx, unit, term); err != nil {
					slog.Warn("Recording missing term failed", "term", term, "unit", unit, "error", err)
				}
			})
		}
	}
}

// Wait blocks until every report dispatched so far has settled
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) goWithTimeout(base context.Context, fn func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()
		fn(ctx)
	}()
}
