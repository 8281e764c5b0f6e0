package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tripstream/tripstream/config"
)

// ErrNotConfigured is returned when a fetch targets a source the deployment
// has not enabled.
var ErrNotConfigured = fmt.Errorf("provider not configured")

// defaultProviderTimeout applies when a provider has no timeout configured.
const defaultProviderTimeout = 15 * time.Second

type registryEntry struct {
	adapter Adapter
	limiter *rate.Limiter
	timeout time.Duration
	// creds is the credential sink for hot reloads; nil for adapters that
	// need no API key.
	creds *httpClient
}

// Registry holds the configured provider adapters and enforces per-provider
// rate limits and timeouts around every fetch. Unconfigured sources are
// reported as missing so the gather layer can synthesize fallbacks for them
// without ever dialing out.
type Registry struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	entries map[Source]*registryEntry
}

// NewRegistry builds adapters for every enabled provider in cfg. The shared
// http.Client may be nil, in which case http.DefaultClient is used.
func NewRegistry(cfg config.ProvidersConfig, client *http.Client, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		logger:  logger,
		entries: make(map[Source]*registryEntry),
	}

	if cfg.Weather.Enabled {
		a := NewWeatherAdapter(cfg.Weather.BaseURL, cfg.Weather.APIKey, client)
		r.add(a, a.http, cfg.Weather)
	}
	if cfg.Flights.Enabled {
		a := NewFlightsAdapter(cfg.Flights.BaseURL, cfg.Flights.APIKey, client)
		r.add(a, a.http, cfg.Flights)
	}
	if cfg.Hotels.Enabled {
		a := NewHotelsAdapter(cfg.Hotels.BaseURL, cfg.Hotels.APIKey, client)
		r.add(a, a.http, cfg.Hotels)
	}
	if cfg.Transit.Enabled {
		a := NewTransitAdapter(cfg.Transit.BaseURL, cfg.Transit.APIKey, client)
		r.add(a, a.http, cfg.Transit)
	}
	if cfg.Images.Enabled {
		a := NewImagesAdapter(cfg.Images.BaseURL, cfg.Images.APIKey, client)
		r.add(a, a.http, cfg.Images)
	}
	if cfg.Guides.Enabled {
		a := NewGuidesAdapter(cfg.Guides.BaseURL, client)
		r.add(a, nil, cfg.Guides)
	}

	logger.Info("Provider registry initialized",
		"configured", len(r.entries),
		"missing", len(r.Missing()))
	return r
}

func (r *Registry) add(a Adapter, creds *httpClient, cfg config.ProviderConfig) {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	r.entries[a.Source()] = &registryEntry{
		adapter: a,
		limiter: limiter,
		timeout: timeout,
		creds:   creds,
	}
}

// Register installs or replaces an adapter directly. Intended for tests and
// for deployments wiring custom adapters.
func (r *Registry) Register(a Adapter, cfg config.ProviderConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(a, nil, cfg)
}

// Has reports whether source has a configured adapter.
func (r *Registry) Has(source Source) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[source]
	return ok
}

// Configured lists the configured sources in stable order.
func (r *Registry) Configured() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Source
	for _, s := range AllSources() {
		if _, ok := r.entries[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Missing lists the sources without a configured adapter in stable order.
func (r *Registry) Missing() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Source
	for _, s := range AllSources() {
		if _, ok := r.entries[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

// Fetch performs one rate-limited, deadline-bounded call against the adapter
// for source. It returns ErrNotConfigured for sources without an adapter.
func (r *Registry) Fetch(ctx context.Context, source Source, req Request) (Payload, error) {
	r.mu.RLock()
	entry, ok := r.entries[source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, source)
	}

	if err := entry.limiter.Wait(ctx); err != nil {
		return nil, NewError(source, ReasonTimeout, "rate limit wait aborted", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, entry.timeout)
	defer cancel()

	start := time.Now()
	payload, err := entry.adapter.Fetch(callCtx, req)
	elapsed := time.Since(start)
	if err != nil {
		r.logger.Warn("Provider fetch failed",
			"source", source,
			"reason", Classify(err),
			"elapsed", elapsed,
			"error", err)
		return nil, err
	}
	r.logger.Debug("Provider fetch succeeded", "source", source, "elapsed", elapsed)
	return payload, nil
}

// ApplyCredentials updates provider API keys in place. Used as the
// credentials watcher callback so key rotation needs no restart.
func (r *Registry) ApplyCredentials(creds config.Credentials) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	apply := func(source Source, key string) {
		entry, ok := r.entries[source]
		if !ok || entry.creds == nil || key == "" {
			return
		}
		entry.creds.setAPIKey(key)
	}
	apply(SourceWeather, creds.Weather)
	apply(SourceFlights, creds.Flights)
	apply(SourceHotels, creds.Hotels)
	apply(SourceTransit, creds.Transit)
	apply(SourceImages, creds.Images)
}
