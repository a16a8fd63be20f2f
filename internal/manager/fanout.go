package manager

import (
	"github.com/segmentio/ksuid"

	"github.com/hexfall/ipavault/internal/domain"
)

// subscriberBuffer bounds how many undelivered events a slow consumer can
// hold before new ones are dropped on the floor.
const subscriberBuffer = 16

// subscriber is one progress listener. Events is never closed; Done closes
// when the task disappears so the consumer can bail out.
type subscriber struct {
	events chan *domain.TaskView
	done   chan struct{}
}

// Subscription is the consumer half of a progress subscription.
type Subscription struct {
	Key    string
	Events <-chan *domain.TaskView
	Done   <-chan struct{}
}

// Subscribe registers a listener for one task's progress and status events.
func (m *Manager) Subscribe(id string) (*Subscription, error) {
	if _, ok := m.store.Get(id); !ok {
		return nil, domain.ErrTaskNotFound
	}

	sub := &subscriber{
		events: make(chan *domain.TaskView, subscriberBuffer),
		done:   make(chan struct{}),
	}
	key := ksuid.New().String()

	m.mu.Lock()
	if m.subs[id] == nil {
		m.subs[id] = make(map[string]*subscriber)
	}
	m.subs[id][key] = sub
	m.mu.Unlock()

	return &Subscription{Key: key, Events: sub.events, Done: sub.done}, nil
}

// Unsubscribe drops one listener. Safe to call after the task was deleted.
func (m *Manager) Unsubscribe(id, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subs[id]; ok {
		delete(subs, key)
		if len(subs) == 0 {
			delete(m.subs, id)
		}
	}
}

// notify delivers the task's current view to every subscriber. The set is
// snapshotted under the lock and the sends happen outside it, so a slow
// listener can't stall the progress ticker; a full buffer just drops the
// sample.
func (m *Manager) notify(id string) {
	t, ok := m.store.Get(id)
	if !ok {
		return
	}
	view := t.View(fileExists(t.FilePath))

	m.mu.Lock()
	snapshot := make([]*subscriber, 0, len(m.subs[id]))
	for _, sub := range m.subs[id] {
		snapshot = append(snapshot, sub)
	}
	m.mu.Unlock()

	for _, sub := range snapshot {
		select {
		case sub.events <- view:
		default:
		}
	}
}

// closeSubscribersLocked signals every listener of id that the task is gone.
// Caller holds m.mu.
func (m *Manager) closeSubscribersLocked(id string) {
	for _, sub := range m.subs[id] {
		close(sub.done)
	}
	delete(m.subs, id)
}
