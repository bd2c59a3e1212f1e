// Package broadcast delivers domain messages and partial updates to live
// subscribers. A nil Broadcaster is valid everywhere; executor behavior
// never depends on a subscriber being present.
package broadcast

import (
	"context"
	"sync"

	"github.com/haasonsaas/sessiond/pkg/models"
)

// Notification is one push delivered to subscribers. Partial updates carry
// Text only; completed assistant turns carry Message.
type Notification struct {
	SessionID string
	Message   *models.Message
	Text      string
	Partial   bool
}

// Broadcaster accepts push notifications for real-time delivery.
// Implementations must be non-blocking or drop under backpressure.
type Broadcaster interface {
	// Publish pushes a completed domain message.
	Publish(ctx context.Context, msg *models.Message)

	// PublishPartial pushes an incremental text update.
	PublishPartial(ctx context.Context, sessionID, text string)
}

// Fanout is an in-process Broadcaster delivering to channel subscribers.
// Slow subscribers have notifications dropped rather than stalling the
// executor's stream consumption.
type Fanout struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Notification
}

// NewFanout creates an empty fan-out broadcaster.
func NewFanout() *Fanout {
	return &Fanout{subs: make(map[int]chan Notification)}
}

// Subscribe registers a listener. The returned cancel function removes the
// subscription and closes its channel.
func (f *Fanout) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Notification, buffer)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish pushes a completed domain message to all subscribers.
func (f *Fanout) Publish(ctx context.Context, msg *models.Message) {
	if msg == nil {
		return
	}
	f.emit(ctx, Notification{SessionID: msg.SessionID, Message: msg})
}

// PublishPartial pushes an incremental text update to all subscribers.
func (f *Fanout) PublishPartial(ctx context.Context, sessionID, text string) {
	f.emit(ctx, Notification{SessionID: sessionID, Text: text, Partial: true})
}

func (f *Fanout) emit(ctx context.Context, n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		select {
		case sub <- n:
		case <-ctx.Done():
			return
		default:
			// Subscriber full: drop rather than block.
		}
	}
}
