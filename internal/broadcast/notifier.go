// ABOUTME: In-process publish/subscribe bus for conversation change events
// ABOUTME: Delivers add/edit/delete notifications synchronously to handlers and to bounded channels

package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/store"
)

const (
	// watcherBufferSize is the channel buffer for each Watch subscription.
	watcherBufferSize = 64
)

// Action identifies the kind of mutation a ChangeEvent describes.
type Action string

const (
	ActionAdd    Action = "add"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// ChangeEvent reports one mutation of the conversation store.
// ID is 0 for bulk operations. Conversation is nil for deletes.
type ChangeEvent struct {
	Action       Action
	ID           int64
	Conversation *store.Conversation
}

// Handler receives change events. A returned error is logged and does not
// affect delivery to other handlers.
type Handler func(ev ChangeEvent) error

type subscription struct {
	id      string
	handler Handler
	onClose func()
}

// Notifier fans change events out to subscribers in subscription order.
// Publish runs every handler on the caller's goroutine before returning.
type Notifier struct {
	mu     sync.RWMutex
	subs   []subscription
	logger *slog.Logger
}

// NewNotifier creates a notifier. Pass nil logger for default.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		logger: logger.With("component", "notifier"),
	}
}

// Subscribe registers h and returns a handle for Unsubscribe.
func (n *Notifier) Subscribe(h Handler) string {
	return n.subscribe(h, nil)
}

func (n *Notifier) subscribe(h Handler, onClose func()) string {
	subID := uuid.New().String()

	n.mu.Lock()
	n.subs = append(n.subs, subscription{id: subID, handler: h, onClose: onClose})
	n.mu.Unlock()

	n.logger.Debug("subscriber added", "sub_id", subID)
	return subID
}

// Unsubscribe removes the subscription, closing its channel if it came from
// Watch. Unknown handles are ignored.
func (n *Notifier) Unsubscribe(subID string) {
	var onClose func()

	n.mu.Lock()
	for i, s := range n.subs {
		if s.id == subID {
			n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
			onClose = s.onClose
			n.logger.Debug("subscriber removed", "sub_id", subID)
			break
		}
	}
	n.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}

// Publish delivers ev to every current subscriber. Subscriptions added or
// removed by a handler take effect from the next Publish.
func (n *Notifier) Publish(ev ChangeEvent) {
	n.mu.RLock()
	targets := make([]subscription, len(n.subs))
	copy(targets, n.subs)
	n.mu.RUnlock()

	for _, s := range targets {
		if err := n.deliver(s, ev); err != nil {
			n.logger.Error("change handler failed",
				"sub_id", s.id,
				"action", ev.Action,
				"id", ev.ID,
				"error", err)
		}
	}
}

func (n *Notifier) deliver(s subscription, ev ChangeEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(ev)
}

// Len reports the number of live subscriptions.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// Close removes every subscription. Channels returned by Watch are closed.
func (n *Notifier) Close() {
	n.mu.Lock()
	subs := n.subs
	n.subs = nil
	n.mu.Unlock()

	for _, s := range subs {
		if s.onClose != nil {
			s.onClose()
		}
	}
	n.logger.Debug("notifier closed")
}

// watcher adapts a subscription to a channel that is safe to close while a
// Publish may be in flight.
type watcher struct {
	mu     sync.Mutex
	ch     chan ChangeEvent
	closed bool
}

func (w *watcher) send(ev ChangeEvent) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return true
	}
	select {
	case w.ch <- ev:
		return true
	default:
		return false
	}
}

func (w *watcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
}

// Watch subscribes a buffered channel. Events are dropped for a watcher
// whose buffer is full. The channel is closed once ctx is done or the
// notifier is closed.
func (n *Notifier) Watch(ctx context.Context) (<-chan ChangeEvent, string) {
	w := &watcher{ch: make(chan ChangeEvent, watcherBufferSize)}

	subID := n.subscribe(func(ev ChangeEvent) error {
		if !w.send(ev) {
			n.logger.Debug("dropped event for slow watcher",
				"action", ev.Action,
				"id", ev.ID)
		}
		return nil
	}, w.close)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		n.Unsubscribe(subID)
	}()

	return w.ch, subID
}
