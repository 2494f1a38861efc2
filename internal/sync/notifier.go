package sync

import (
	"fmt"
	stdsync "sync"

	"github.com/kimhsiao/noorsync/backend/internal/logging"
	"github.com/kimhsiao/noorsync/backend/internal/models"
)

// Listener receives the result of every completed full sync. All listeners
// of one sync share the same result value and must not modify it.
type Listener func(*models.SyncResult)

type subscription struct {
	id       uint64
	listener Listener
}

// notifier keeps listeners in registration order.
type notifier struct {
	mu     stdsync.Mutex
	nextID uint64
	subs   []subscription
}

func newNotifier() *notifier {
	return &notifier{}
}

// subscribe adds listener and returns an idempotent unsubscribe function.
func (n *notifier) subscribe(listener Listener) func() {
	if listener == nil {
		return func() {}
	}

	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.subs = append(n.subs, subscription{id: id, listener: listener})
	n.mu.Unlock()

	var once stdsync.Once
	return func() {
		once.Do(func() { n.remove(id) })
	}
}

func (n *notifier) remove(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, s := range n.subs {
		if s.id == id {
			n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
			return
		}
	}
}

func (n *notifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// notify calls every listener outside the lock, so listeners may subscribe,
// unsubscribe or call back into the engine. A panicking listener is logged
// and skipped.
func (n *notifier) notify(result *models.SyncResult) {
	n.mu.Lock()
	subs := make([]subscription, len(n.subs))
	copy(subs, n.subs)
	n.mu.Unlock()

	for _, s := range subs {
		n.call(s, result)
	}
}

func (n *notifier) call(s subscription, result *models.SyncResult) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Sync listener panicked", fmt.Errorf("%v", r),
				map[string]interface{}{"listener": s.id})
		}
	}()
	s.listener(result)
}
