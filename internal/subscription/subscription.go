// Package subscription runs the pub/sub fan-out task: it holds
// (subscriber, rig, field-set) tuples and turns each RigInstance status
// update into one notification per subscriber whose field set
// intersects the change. Grounded on api.WSHub
// (api/wshub.go): a mutex-guarded pool keyed by connection, a bounded
// per-connection outbound channel, and a single delivery loop — adapted
// from "broadcast everything to every websocket" to "compute the
// per-subscriber intersection and drop-oldest on backpressure" per
// spec.md §4.6.
package subscription

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"holyrig/internal/rig"
)

// Notification is one status push destined for exactly one subscriber.
type Notification struct {
	RigID          string
	SubscriptionID string
	Updates        map[string]any
}

// Subscriber is a live (rig, field-set) subscription and its outbound
// queue. The zero value is not usable; obtain one from Manager.Subscribe.
type Subscriber struct {
	id     string
	rigID  string
	fields map[string]struct{}
	out    chan Notification

	mu       sync.Mutex
	degraded bool
}

// ID returns the subscription id handed back to the client as
// subscribe_status's subscription_id.
func (s *Subscriber) ID() string { return s.id }

// Notifications is the channel the JSON-RPC layer drains to push
// status_update messages to this subscriber's client.
func (s *Subscriber) Notifications() <-chan Notification { return s.out }

// Degraded reports whether this subscriber has ever had an update
// dropped for exceeding its outbound queue depth.
func (s *Subscriber) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// deliver is fire-and-forget: on a full queue it drops the oldest
// pending notification, marks the subscriber degraded, and enqueues the
// new one, so a slow client sees fresh state rather than stale state.
func (s *Subscriber) deliver(n Notification) {
	select {
	case s.out <- n:
		return
	default:
	}

	s.mu.Lock()
	s.degraded = true
	s.mu.Unlock()

	select {
	case <-s.out:
	default:
	}
	select {
	case s.out <- n:
	default:
		// Another goroutine raced us and refilled the queue; the
		// client's next successful delivery will still reflect
		// current state, so this update may be skipped without
		// violating at-most-once.
	}
}

func (s *Subscriber) close() { close(s.out) }

// Manager owns every live Subscriber and the Subscription-manager task
// that turns rig status updates into per-subscriber notifications.
type Manager struct {
	queueDepth int
	nextID     int64

	mu    sync.Mutex
	byRig map[string]map[string]*Subscriber // rigID -> subscription id -> *Subscriber
}

// New builds a Manager whose subscribers each get an outbound queue of
// depth queueDepth (spec.md §4.6's Q).
func New(queueDepth int) *Manager {
	return &Manager{
		queueDepth: queueDepth,
		byRig:      make(map[string]map[string]*Subscriber),
	}
}

// Subscribe registers a new subscriber on rigID covering fields and
// returns its handle. The caller is responsible for reading
// Notifications() until Unsubscribe is called.
func (m *Manager) Subscribe(rigID string, fields []string) *Subscriber {
	id := fmt.Sprintf("sub_%d", atomic.AddInt64(&m.nextID, 1))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	s := &Subscriber{
		id:     id,
		rigID:  rigID,
		fields: set,
		out:    make(chan Notification, m.queueDepth),
	}

	m.mu.Lock()
	if m.byRig[rigID] == nil {
		m.byRig[rigID] = make(map[string]*Subscriber)
	}
	m.byRig[rigID][id] = s
	m.mu.Unlock()
	return s
}

// Unsubscribe removes s and closes its Notifications channel. Safe to
// call from the JSON-RPC layer once its client disconnects.
func (m *Manager) Unsubscribe(s *Subscriber) {
	m.mu.Lock()
	if subs, ok := m.byRig[s.rigID]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(m.byRig, s.rigID)
		}
	}
	m.mu.Unlock()
	s.close()
}

// NumSubscribers reports how many live subscriptions exist for rigID,
// for diagnostics and tests.
func (m *Manager) NumSubscribers(rigID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byRig[rigID])
}

// Run drains updates until ctx is done, publishing each one to every
// intersecting subscriber. It is meant to be the body of the
// Subscription manager's single dedicated task.
func (m *Manager) Run(ctx context.Context, updates <-chan rig.StatusUpdate) {
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			m.publish(u)
		case <-ctx.Done():
			return
		}
	}
}

// publish computes, for every subscriber on u.RigID, the intersection
// of its field set with u.Changed, and delivers a notification only
// when that intersection is non-empty (spec.md's S4 scenario).
func (m *Manager) publish(u rig.StatusUpdate) {
	m.mu.Lock()
	targets := make([]*Subscriber, 0, len(m.byRig[u.RigID]))
	for _, s := range m.byRig[u.RigID] {
		targets = append(targets, s)
	}
	m.mu.Unlock()

	for _, s := range targets {
		updates := make(map[string]any)
		for _, field := range u.Changed {
			if _, ok := s.fields[field]; !ok {
				continue
			}
			if v, ok := u.Values[field]; ok {
				updates[field] = v
			}
		}
		if len(updates) == 0 {
			continue
		}
		s.deliver(Notification{RigID: u.RigID, SubscriptionID: s.id, Updates: updates})
	}
}
