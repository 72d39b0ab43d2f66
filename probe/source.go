package probe

import (
	"errors"
	"net"
	"sync"
)

// ErrUnavailable is returned by a source that cannot report addresses at all,
// for example when the host has no network server.
var ErrUnavailable = errors.New("address source unavailable")

// AddressSource reports the addresses the host is currently listening on,
// in scheme://host:port form. An empty slice means "not yet known".
type AddressSource interface {
	Addresses() ([]string, error)
}

// SourceFunc adapts a function to AddressSource.
type SourceFunc func() ([]string, error)

// Addresses implements AddressSource.
func (f SourceFunc) Addresses() ([]string, error) {
	return f()
}

// ListenerSet is an AddressSource fed by the host as it binds listeners.
// It is safe for concurrent use.
type ListenerSet struct {
	mu    sync.RWMutex
	addrs []string
}

// NewListenerSet returns an empty set.
func NewListenerSet() *ListenerSet {
	return &ListenerSet{}
}

// Add records a bound listener under the given scheme ("http", "https").
func (s *ListenerSet) Add(scheme string, l net.Listener) {
	s.AddAddress(scheme + "://" + l.Addr().String())
}

// AddAddress records a full scheme://host:port address.
func (s *ListenerSet) AddAddress(addr string) {
	if addr == "" {
		return
	}
	s.mu.Lock()
	s.addrs = append(s.addrs, addr)
	s.mu.Unlock()
}

// Reset forgets all addresses, e.g. after the host stops listening.
func (s *ListenerSet) Reset() {
	s.mu.Lock()
	s.addrs = nil
	s.mu.Unlock()
}

// Addresses implements AddressSource.
func (s *ListenerSet) Addresses() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.addrs))
	copy(out, s.addrs)
	return out, nil
}
