// Package probe detects, on a best-effort basis, the address the host
// service is listening on.
//
// The listening address is usually not known until the host has finished
// building its network layer, which races with the agent's own startup.
// Probe therefore polls an AddressSource for a bounded time instead of
// imposing an ordering on the host.
package probe

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultInterval between polls of the address source.
	DefaultInterval = 100 * time.Millisecond

	// DefaultAttempts bounds the wait to DefaultAttempts*DefaultInterval.
	DefaultAttempts = 20
)

// Probe polls an AddressSource. It never caches, so every call observes the
// source afresh.
type Probe struct {
	source   AddressSource
	interval time.Duration
	attempts int
}

// Option configures a Probe.
type Option func(*Probe)

// WithInterval overrides the polling cadence.
func WithInterval(d time.Duration) Option {
	return func(p *Probe) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithAttempts overrides the number of polls before giving up.
func WithAttempts(n int) Option {
	return func(p *Probe) {
		if n > 0 {
			p.attempts = n
		}
	}
}

// New creates a probe over source. A nil source always reports absent.
func New(source AddressSource, opts ...Option) *Probe {
	p := &Probe{
		source:   source,
		interval: DefaultInterval,
		attempts: DefaultAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DetectURL returns the first address reported by the source.
// ok is false if none appeared in time, the source is unavailable, or ctx
// was canceled.
func (p *Probe) DetectURL(ctx context.Context) (string, bool) {
	return p.poll(ctx)
}

// DetectPort returns the port of the first address reported by the source.
// Addresses without an explicit port fall back to the scheme default.
func (p *Probe) DetectPort(ctx context.Context) (int, bool) {
	addr, ok := p.poll(ctx)
	if !ok {
		return 0, false
	}
	return PortOf(addr)
}

// PortOf extracts the port from a scheme://host[:port] address.
func PortOf(addr string) (int, bool) {
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		return 0, false
	}
	if ps := u.Port(); ps != "" {
		port, err := strconv.Atoi(ps)
		if err != nil || port <= 0 || port > 65535 {
			return 0, false
		}
		return port, true
	}
	switch u.Scheme {
	case "http":
		return 80, true
	case "https":
		return 443, true
	}
	return 0, false
}

func (p *Probe) poll(ctx context.Context) (addr string, ok bool) {
	if p == nil || p.source == nil {
		return "", false
	}
	defer func() {
		if r := recover(); r != nil {
			addr, ok = "", false
		}
	}()

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for i := 0; ; i++ {
		if ctx.Err() != nil {
			return "", false
		}
		addrs, err := p.source.Addresses()
		if err != nil {
			return "", false
		}
		if first := firstNonEmpty(addrs); first != "" {
			return first, true
		}
		if i >= p.attempts {
			return "", false
		}

		timer.Reset(p.interval)
		select {
		case <-ctx.Done():
			return "", false
		case <-timer.C:
		}
	}
}

func firstNonEmpty(addrs []string) string {
	for _, a := range addrs {
		if a != "" {
			return a
		}
	}
	return ""
}
