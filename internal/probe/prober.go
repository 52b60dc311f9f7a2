// Package probe runs the background connectivity check loop.
package probe

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/portalkeep/portalkeep/internal/config"
	"github.com/portalkeep/portalkeep/internal/eventbus"
)

// SnapshotFunc returns the current configuration snapshot. The prober calls
// it at the top of every cycle so settings edits take effect from the next
// cycle onward.
type SnapshotFunc func() *config.Config

// Prober periodically fetches the configured probe URL and publishes the
// result on the bus. A 2xx response means the network is reachable; any
// transport failure or non-2xx status means it is not.
type Prober struct {
	bus       *eventbus.Bus
	snapshot  SnapshotFunc
	client    *http.Client
	logger    *log.Logger
	lifecycle eventbus.ServiceLifecycle
}

// Option customises the prober.
type Option func(*Prober)

// WithHTTPClient overrides the HTTP client, primarily for tests. The
// per-probe timeout from settings is applied through the request context, so
// the client itself carries no timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Prober) {
		if client != nil {
			p.client = client
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Prober) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New constructs a prober reading settings through snapshot.
func New(bus *eventbus.Bus, snapshot SnapshotFunc, opts ...Option) *Prober {
	p := &Prober{
		bus:      bus,
		snapshot: snapshot,
		client:   &http.Client{},
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the probe loop.
func (p *Prober) Start(ctx context.Context) error {
	p.lifecycle.Start(ctx)
	p.lifecycle.Go(p.run)
	return nil
}

// Shutdown stops the loop and waits for it to exit.
func (p *Prober) Shutdown(ctx context.Context) error {
	return p.lifecycle.Shutdown(ctx)
}

func (p *Prober) run(ctx context.Context) {
	for {
		cfg := p.snapshot()
		if cfg == nil {
			cfg = &config.Config{}
			cfg.Normalize()
		}

		p.probeOnce(ctx, cfg)

		interval := time.Duration(cfg.Settings.CheckInterval) * time.Second
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (p *Prober) probeOnce(ctx context.Context, cfg *config.Config) {
	timeout := time.Duration(cfg.Settings.ProbeTimeout * float64(time.Second))
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	reachable := p.fetch(probeCtx, cfg.Settings.ProbeURL)
	latency := time.Since(started)

	if !reachable {
		p.logger.Printf("[Probe] %s unreachable after %s", cfg.Settings.ProbeURL, latency.Round(time.Millisecond))
	}

	eventbus.Publish(ctx, p.bus, eventbus.Probe.Status, eventbus.SourceProber, eventbus.ProbeStatusEvent{
		Reachable: reachable,
		ProbeURL:  cfg.Settings.ProbeURL,
		Latency:   latency,
		CheckedAt: started.UTC(),
	})
}

func (p *Prober) fetch(ctx context.Context, probeURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
