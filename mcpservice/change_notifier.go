package mcpservice

import (
	"context"
	"sync"
)

// ChangeSubscriber is implemented by capabilities whose item lists can
// change at runtime. The gate subscribes once per session and forwards each
// signal as the matching list_changed notification; it calls cancel when the
// session's transport closes so the subscription does not outlive it.
type ChangeSubscriber interface {
	Subscriber() (ch <-chan struct{}, cancel func())
}

// ChangeNotifier is a small in-process fan-out used by containers to signal
// that their list contents changed. The zero value is ready to use.
type ChangeNotifier struct {
	mu          sync.Mutex
	subscribers []chan struct{}
	closed      bool
}

// Notify signals every subscriber. Sends are non-blocking; a subscriber that
// has not drained its previous signal keeps the single pending one, which is
// sufficient for list_changed semantics.
func (cn *ChangeNotifier) Notify(ctx context.Context) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.closed {
		return
	}
	for _, ch := range cn.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscriber registers and returns a signal channel plus a cancel func that
// unregisters it. The channel is buffered with capacity 1; it is closed by
// cancel or when the notifier itself is closed.
func (cn *ChangeNotifier) Subscriber() (<-chan struct{}, func()) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.closed {
		ch := make(chan struct{})
		close(ch)
		return ch, func() {}
	}
	ch := make(chan struct{}, 1)
	cn.subscribers = append(cn.subscribers, ch)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cn.mu.Lock()
			defer cn.mu.Unlock()
			for i, c := range cn.subscribers {
				if c == ch {
					cn.subscribers = append(cn.subscribers[:i], cn.subscribers[i+1:]...)
					close(ch)
					return
				}
			}
			// Not found: the notifier's Close already released the channel.
		})
	}
	return ch, cancel
}

// Close releases all subscriber channels. Idempotent.
func (cn *ChangeNotifier) Close() {
	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		return
	}
	cn.closed = true
	subs := cn.subscribers
	cn.subscribers = nil
	cn.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}
