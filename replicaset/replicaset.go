// Package replicaset tracks which replicas a client still trusts
// and which of them owe an acknowledgment for each message sent.
package replicaset

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/bobg/arsync"
)

// DefaultTimeout is how long a replica may leave a message unacknowledged before it is evicted.
const DefaultTimeout = 5 * time.Second

// Reason says why a replica was evicted.
type Reason int

const (
	// Timeout means the replica failed to acknowledge a message in time.
	Timeout Reason = iota

	// Shutdown means the replica announced that it was shutting down.
	Shutdown
)

func (r Reason) String() string {
	switch r {
	case Timeout:
		return "timeout"
	case Shutdown:
		return "shutdown"
	}
	return "unknown"
}

// Pending is one entry in the pending-ack ledger.
type Pending struct {
	Sent     time.Time
	Replicas []arsync.Endpoint
}

// Options configures a Manager.
type Options struct {
	// Timeout is the server timeout.
	// The default is DefaultTimeout.
	Timeout time.Duration

	// OnEvict, if non-nil, is called after each eviction.
	// Remaining is the size of the replica set afterwards.
	OnEvict func(ep arsync.Endpoint, reason Reason, remaining int)

	// OnQuorumLost, if non-nil, is called once,
	// after the eviction that empties the replica set.
	OnQuorumLost func()
}

// Manager owns a replica set and its pending-ack ledger.
// It is safe for concurrent use.
// Callbacks are invoked without the Manager's lock held,
// so they may call back into the Manager.
type Manager struct {
	timeout      time.Duration
	onEvict      func(arsync.Endpoint, Reason, int)
	onQuorumLost func()

	mu       sync.Mutex
	replicas []arsync.Endpoint
	pending  map[arsync.MessageID]*Pending
	lost     bool
}

// New produces a Manager for the given (non-empty) replica set.
// Duplicate endpoints are collapsed.
func New(replicas []arsync.Endpoint, opts Options) *Manager {
	m := &Manager{
		timeout:      opts.Timeout,
		onEvict:      opts.OnEvict,
		onQuorumLost: opts.OnQuorumLost,
		pending:      make(map[arsync.MessageID]*Pending),
	}
	if m.timeout <= 0 {
		m.timeout = DefaultTimeout
	}
	for _, ep := range replicas {
		if indexOf(m.replicas, ep) < 0 {
			m.replicas = append(m.replicas, ep)
		}
	}
	m.lost = len(m.replicas) == 0
	return m
}

// Timeout is the server timeout in effect.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// Replicas returns a snapshot of the current replica set.
func (m *Manager) Replicas() []arsync.Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyEndpoints(m.replicas)
}

// Lost tells whether the replica set has become empty.
func (m *Manager) Lost() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lost
}

// RegisterSend records that message id is about to be sent, at time t,
// to every replica currently in the set.
// It must be called before the message is transmitted,
// so that no acknowledgment can arrive for an unregistered id.
// Nothing is recorded when the set is empty.
func (m *Manager) RegisterSend(id arsync.MessageID, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.replicas) == 0 {
		return
	}
	m.pending[id] = &Pending{Sent: t, Replicas: copyEndpoints(m.replicas)}
}

// RegisterAck records that ep acknowledged message id.
// An unknown id or an endpoint not pending for it is ignored.
func (m *Manager) RegisterAck(id arsync.MessageID, ep arsync.Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[id]
	if !ok {
		return
	}
	i := indexOf(p.Replicas, ep)
	if i < 0 {
		return
	}
	p.Replicas = append(p.Replicas[:i], p.Replicas[i+1:]...)
	if len(p.Replicas) == 0 {
		delete(m.pending, id)
	}
}

// SweepTimeouts evicts every replica still pending on a message
// whose age at time now exceeds the server timeout.
func (m *Manager) SweepTimeouts(now time.Time) {
	var stale []arsync.Endpoint

	m.mu.Lock()
	for _, p := range m.pending {
		if now.Sub(p.Sent) <= m.timeout {
			continue
		}
		for _, ep := range p.Replicas {
			if indexOf(stale, ep) < 0 {
				stale = append(stale, ep)
			}
		}
	}
	m.mu.Unlock()

	for _, ep := range stale {
		m.Evict(ep, Timeout)
	}
}

// Evict removes ep from the replica set and from every pending entry.
// Evicting an endpoint that is not in the set does nothing.
// If this empties the set,
// the OnQuorumLost callback runs before Evict returns.
func (m *Manager) Evict(ep arsync.Endpoint, reason Reason) {
	m.mu.Lock()

	i := indexOf(m.replicas, ep)
	if i < 0 {
		m.mu.Unlock()
		return
	}
	m.replicas = append(m.replicas[:i], m.replicas[i+1:]...)

	for id, p := range m.pending {
		if j := indexOf(p.Replicas, ep); j >= 0 {
			p.Replicas = append(p.Replicas[:j], p.Replicas[j+1:]...)
			if len(p.Replicas) == 0 {
				delete(m.pending, id)
			}
		}
	}

	remaining := len(m.replicas)

	// Only one caller can observe the transition to empty.
	justLost := remaining == 0 && !m.lost
	if justLost {
		m.lost = true
	}

	m.mu.Unlock()

	log.Printf("evicted replica %s (%s), %d remaining", ep, reason, remaining)

	if m.onEvict != nil {
		m.onEvict(ep, reason, remaining)
	}
	if justLost && m.onQuorumLost != nil {
		m.onQuorumLost()
	}
}

// Pending returns a copy of the ledger entry for id.
func (m *Manager) Pending(id arsync.MessageID) (Pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[id]
	if !ok {
		return Pending{}, false
	}
	return Pending{Sent: p.Sent, Replicas: copyEndpoints(p.Replicas)}, true
}

// Len is the number of messages still awaiting acknowledgment.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Run calls SweepTimeouts every interval until ctx is canceled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.SweepTimeouts(now)
		}
	}
}

func indexOf(eps []arsync.Endpoint, ep arsync.Endpoint) int {
	for i, e := range eps {
		if e == ep {
			return i
		}
	}
	return -1
}

func copyEndpoints(eps []arsync.Endpoint) []arsync.Endpoint {
	if eps == nil {
		return nil
	}
	result := make([]arsync.Endpoint, len(eps))
	copy(result, eps)
	return result
}
