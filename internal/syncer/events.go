package syncer

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/uptime-sync/internal/db"
)

type EventType string

const (
	EventStarted   EventType = "sync_started"
	EventStatus    EventType = "sync_status"
	EventRetry     EventType = "sync_retry"
	EventCompleted EventType = "sync_completed"
	EventFailed    EventType = "sync_failed"
)

// Event is a progress notification for one sync run.
type Event struct {
	Type              EventType     `json:"type"`
	SourceID          string        `json:"source_id"`
	SourceName        string        `json:"source_name"`
	RunID             string        `json:"run_id"`
	Status            db.SyncStatus `json:"status"`
	Attempt           int           `json:"attempt,omitempty"`
	MonitorsUpdated   int           `json:"monitors_updated"`
	HeartbeatsFetched int           `json:"heartbeats_fetched"`
	Message           string        `json:"message,omitempty"`
	Timestamp         time.Time     `json:"timestamp"`
}

type Listener func(Event)

// eventBus delivers events synchronously, in subscription order. A panicking
// listener is logged and skipped.
type eventBus struct {
	mu        sync.RWMutex
	nextID    int
	listeners []subscription
	logger    *zap.Logger
}

type subscription struct {
	id int
	fn Listener
}

func (b *eventBus) subscribe(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *eventBus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.listeners {
		if s.id == id {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return
		}
	}
}

func (b *eventBus) publish(ev Event) {
	b.mu.RLock()
	listeners := make([]subscription, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for _, s := range listeners {
		b.deliver(s, ev)
	}
}

func (b *eventBus) deliver(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Sync event listener panicked",
				zap.Any("panic", r),
				zap.String("event", string(ev.Type)),
				zap.String("source_id", ev.SourceID),
			)
		}
	}()
	s.fn(ev)
}

func (b *eventBus) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
