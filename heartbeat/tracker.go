package heartbeat

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/servicemonitor/metadata"
)

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// Timeout after the last heartbeat before an instance is presumed dead.
	// Should be 2-3x the expected heartbeat interval.
	// Default: 90 seconds
	Timeout time.Duration

	// CheckInterval for the dead instance checker run by Run.
	// Default: 5 seconds
	CheckInterval time.Duration

	// Now overrides time.Now.
	Now func() time.Time
}

// Validate checks the configuration.
func (c *TrackerConfig) Validate() error {
	if c.Timeout < 0 || c.CheckInterval < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultTrackerConfig returns configuration with sensible defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Timeout:       90 * time.Second,
		CheckInterval: 5 * time.Second,
	}
}

// Sighting is the latest heartbeat seen from one instance.
type Sighting struct {
	InstanceID uuid.UUID
	ReceivedAt time.Time
	Metadata   metadata.Bag
	Count      int64
}

// Tracker records heartbeats per instance and reports instances that have
// gone quiet. Liveness uses the receive time, never the sender's timestamp.
type Tracker struct {
	timeout       time.Duration
	checkInterval time.Duration
	now           func() time.Time

	mu       sync.RWMutex
	lastSeen map[uuid.UUID]*Sighting
	reported map[uuid.UUID]bool
	deadCBs  []func(uuid.UUID)

	running atomic.Bool
}

// NewTracker creates a tracker.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	defaults := DefaultTrackerConfig()
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = defaults.CheckInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		timeout:       cfg.Timeout,
		checkInterval: cfg.CheckInterval,
		now:           cfg.Now,
		lastSeen:      make(map[uuid.UUID]*Sighting),
		reported:      make(map[uuid.UUID]bool),
	}, nil
}

// Record stores a received heartbeat and clears any dead report for it.
func (t *Tracker) Record(req *Request) *Sighting {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.lastSeen[req.InstanceID]
	s := &Sighting{
		InstanceID: req.InstanceID,
		ReceivedAt: t.now(),
		Metadata:   req.Metadata.Clone(),
		Count:      1,
	}
	if prev != nil {
		s.Count = prev.Count + 1
	}
	t.lastSeen[req.InstanceID] = s
	delete(t.reported, req.InstanceID)

	cp := *s
	return &cp
}

// IsAlive reports whether id was heard from within the timeout.
func (t *Tracker) IsAlive(id uuid.UUID) bool {
	t.mu.RLock()
	s, ok := t.lastSeen[id]
	t.mu.RUnlock()

	if !ok {
		return false
	}
	return t.now().Sub(s.ReceivedAt) <= t.timeout
}

// Last returns a copy of the latest sighting of id, or nil.
func (t *Tracker) Last(id uuid.UUID) *Sighting {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.lastSeen[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// Instances returns every tracked instance id in a stable order.
func (t *Tracker) Instances() []uuid.UUID {
	t.mu.RLock()
	ids := make([]uuid.UUID, 0, len(t.lastSeen))
	for id := range t.lastSeen {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Forget drops all state for id.
func (t *Tracker) Forget(id uuid.UUID) {
	t.mu.Lock()
	delete(t.lastSeen, id)
	delete(t.reported, id)
	t.mu.Unlock()
}

// OnDead registers a callback for when an instance is presumed dead.
// Each death is reported once until the instance is heard from again.
func (t *Tracker) OnDead(callback func(id uuid.UUID)) {
	t.mu.Lock()
	t.deadCBs = append(t.deadCBs, callback)
	t.mu.Unlock()
}

// CheckDead reports newly dead instances to the callbacks and returns them.
func (t *Tracker) CheckDead() []uuid.UUID {
	now := t.now()
	var dead []uuid.UUID

	t.mu.Lock()
	for id, s := range t.lastSeen {
		if now.Sub(s.ReceivedAt) > t.timeout && !t.reported[id] {
			dead = append(dead, id)
			t.reported[id] = true
		}
	}
	callbacks := make([]func(uuid.UUID), len(t.deadCBs))
	copy(callbacks, t.deadCBs)
	t.mu.Unlock()

	for _, id := range dead {
		for _, cb := range callbacks {
			cb(id)
		}
	}
	return dead
}

// Run checks for dead instances every CheckInterval until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	if t.running.Swap(true) {
		return ErrAlreadyStarted
	}
	defer t.running.Store(false)

	ticker := time.NewTicker(t.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.CheckDead()
		}
	}
}
