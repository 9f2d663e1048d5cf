package summarizer

import (
    "context"
    "sync"
    "time"
)

type EventType string

const (
    EventElectedChanged EventType = "elected_changed"
    EventReconsidered   EventType = "reconsidered"
    EventWorkerStarted  EventType = "worker_started"
    EventWorkerStopped  EventType = "worker_stopped"
    EventWorkerRetry    EventType = "worker_retry"
)

// Event is an application-consumable notification of coordinator state
// changes. Only the fields relevant for an event type are populated.
type Event struct {
    Type       EventType
    At         time.Time
    OldID      string
    NewID      string
    Generation uint64
    Attempt    int
    Reason     string
}

// Subscribe returns a channel of events. The returned channel is buffered and
// closed automatically when ctx is done. Events may be dropped if the
// consumer is too slow (best-effort delivery) to avoid back-pressuring the
// coordinator.
func (c *Coordinator) Subscribe(ctx context.Context) <-chan Event {
    ch := make(chan Event, 64)
    c.eb.add(ch)
    go func() {
        <-ctx.Done()
        c.eb.remove(ch)
        close(ch)
    }()
    return ch
}

// internal event bus
type eventBus struct {
    mu   sync.Mutex
    subs map[chan Event]struct{}
}

func (e *eventBus) add(ch chan Event) {
    e.mu.Lock()
    if e.subs == nil {
        e.subs = make(map[chan Event]struct{})
    }
    e.subs[ch] = struct{}{}
    e.mu.Unlock()
}

func (e *eventBus) remove(ch chan Event) {
    e.mu.Lock()
    if e.subs != nil {
        delete(e.subs, ch)
    }
    e.mu.Unlock()
}

func (e *eventBus) publish(ev Event) {
    e.mu.Lock()
    for ch := range e.subs {
        select {
        case ch <- ev:
        default:
            // drop if receiver is slow
        }
    }
    e.mu.Unlock()
}
