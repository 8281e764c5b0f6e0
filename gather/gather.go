// Package gather runs one data-gathering batch: every configured provider is
// fetched concurrently under a concurrency cap, failures are replaced by
// synthesized stand-ins, and unconfigured sources are synthesized outright.
// A batch always completes with an entry per source; it is never cut short
// because one provider failed or because the task was cancelled mid-flight.
package gather

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tripstream/tripstream/fallback"
	"github.com/tripstream/tripstream/provider"
	"github.com/tripstream/tripstream/task"
)

// Fetcher is the provider access the coordinator needs. *provider.Registry
// implements it.
type Fetcher interface {
	Fetch(ctx context.Context, source provider.Source, req provider.Request) (provider.Payload, error)
	Configured() []provider.Source
	Missing() []provider.Source
}

// Entry is the outcome for one source in a batch.
type Entry struct {
	Source  provider.Source  `json:"source"`
	Payload provider.Payload `json:"payload"`
	// Synthesized marks stand-in data. FallbackReason records why the live
	// fetch was skipped or failed; it is empty for live data.
	Synthesized    bool            `json:"synthesized"`
	FallbackReason provider.Reason `json:"fallback_reason,omitempty"`
}

// Result is one completed batch.
type Result struct {
	Entries map[provider.Source]Entry `json:"entries"`
	// Degraded is true when any entry is synthesized.
	Degraded bool `json:"degraded"`
}

// Progress is the per-batch callback fired after each source resolves, with
// the running resolved count and the batch total. May be nil.
type Progress func(resolved, total int)

// Coordinator runs gather batches.
type Coordinator struct {
	fetcher     Fetcher
	concurrency int
	logger      *slog.Logger
	onResult    func(source provider.Source, synthesized bool, reason provider.Reason)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConcurrency caps concurrent provider fetches within one batch.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithObserver registers a per-source outcome callback, used for metrics.
func WithObserver(fn func(source provider.Source, synthesized bool, reason provider.Reason)) Option {
	return func(c *Coordinator) { c.onResult = fn }
}

// WithLogger sets the coordinator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Coordinator over fetcher.
func New(fetcher Fetcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		fetcher:     fetcher,
		concurrency: 4,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Gather runs one batch for req. Every source in provider.AllSources gets an
// entry: live data where the fetch succeeded, a synthesized stand-in where it
// failed or the source is unconfigured. The batch waits for every in-flight
// fetch; cancelling ctx makes remaining fetches fail fast into fallbacks
// rather than abandoning the batch.
func (c *Coordinator) Gather(ctx context.Context, req provider.Request, onProgress Progress) Result {
	return c.run(ctx, req, c.fetcher.Configured(), c.fetcher.Missing(), onProgress)
}

// GatherSubset runs a batch restricted to the given sources. Replanning uses
// it to re-fetch only what a modification actually touches.
func (c *Coordinator) GatherSubset(ctx context.Context, req provider.Request, only []provider.Source, onProgress Progress) Result {
	want := make(map[provider.Source]bool, len(only))
	for _, s := range only {
		want[s] = true
	}

	var configured, missing []provider.Source
	for _, s := range c.fetcher.Configured() {
		if want[s] {
			configured = append(configured, s)
		}
	}
	for _, s := range c.fetcher.Missing() {
		if want[s] {
			missing = append(missing, s)
		}
	}
	return c.run(ctx, req, configured, missing, onProgress)
}

func (c *Coordinator) run(ctx context.Context, req provider.Request, configured, missing []provider.Source, onProgress Progress) Result {
	total := len(configured) + len(missing)

	result := Result{Entries: make(map[provider.Source]Entry, total)}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		resolved int
	)
	// Callbacks fire under the lock so progress ticks arrive in resolution
	// order; they must not call back into the coordinator.
	record := func(e Entry) {
		mu.Lock()
		defer mu.Unlock()
		result.Entries[e.Source] = e
		if e.Synthesized {
			result.Degraded = true
		}
		resolved++

		if c.onResult != nil {
			c.onResult(e.Source, e.Synthesized, e.FallbackReason)
		}
		if onProgress != nil {
			onProgress(resolved, total)
		}
	}

	sem := make(chan struct{}, c.concurrency)
	for _, source := range configured {
		wg.Add(1)
		go func(source provider.Source) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			record(c.fetchOne(ctx, source, req))
		}(source)
	}
	wg.Wait()

	// Unconfigured sources are synthesized after the live fetches so their
	// progress ticks land in order behind real work.
	for _, source := range missing {
		record(Entry{
			Source:         source,
			Payload:        fallback.Synthesize(source, req),
			Synthesized:    true,
			FallbackReason: provider.ReasonNotConfigured,
		})
	}

	if result.Degraded {
		c.logger.Info("Gather batch degraded",
			"destination", req.Destination,
			"synthesized", synthesizedSources(result))
	}
	return result
}

func (c *Coordinator) fetchOne(ctx context.Context, source provider.Source, req provider.Request) Entry {
	payload, err := c.fetcher.Fetch(ctx, source, req)
	if err == nil {
		return Entry{Source: source, Payload: payload}
	}

	reason := provider.Classify(err)
	c.logger.Warn("Provider failed, synthesizing stand-in",
		"source", source,
		"reason", reason,
		"error", err)
	return Entry{
		Source:         source,
		Payload:        fallback.Synthesize(source, req),
		Synthesized:    true,
		FallbackReason: reason,
	}
}

// SourceStatuses summarizes the batch for the task record, in stable source
// order: live entries are active, synthesized entries are degraded with their
// fallback reason, and unconfigured sources are missing.
func (r Result) SourceStatuses() []task.SourceStatus {
	var out []task.SourceStatus
	for _, source := range provider.AllSources() {
		entry, ok := r.Entries[source]
		if !ok {
			continue
		}
		status := task.SourceStatus{Source: source, State: task.SourceActive}
		if entry.Synthesized {
			status.State = task.SourceDegraded
			status.Reason = entry.FallbackReason
			if entry.FallbackReason == provider.ReasonNotConfigured {
				status.State = task.SourceMissing
			}
		}
		out = append(out, status)
	}
	return out
}

func synthesizedSources(r Result) []provider.Source {
	var out []provider.Source
	for _, s := range provider.AllSources() {
		if e, ok := r.Entries[s]; ok && e.Synthesized {
			out = append(out, s)
		}
	}
	return out
}
