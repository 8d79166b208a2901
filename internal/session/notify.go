package session

import (
	"sync"

	"github.com/kalambet/insurepredict/internal/ingest"
	"github.com/kalambet/insurepredict/internal/schema"
)

// EventKind names a session notification. The values double as SSE event
// names.
type EventKind string

const (
	EventReset EventKind = "reset"
	EventRow   EventKind = "row"
	// EventProgress stands in for row notifications a subscriber did not
	// keep up with. Count is the number of rows buffered so far.
	EventProgress  EventKind = "progress"
	EventComplete  EventKind = "complete"
	EventError     EventKind = "error"
	EventPredicted EventKind = "predicted"
)

// rowBacklog is how many undelivered notifications a subscriber may hold
// before further rows are folded into a single progress notification.
const rowBacklog = 256

// Notification is one ordered change to a session.
type Notification struct {
	Kind    EventKind    `json:"kind"`
	State   ingest.State `json:"state"`
	Index   int          `json:"index,omitempty"`
	Row     *schema.Row  `json:"row,omitempty"`
	Count   int          `json:"count,omitempty"`
	Message string       `json:"message,omitempty"`
}

// subscriber queues notifications for one reader. Pushing never blocks;
// reset, complete, error and predicted are always kept.
type subscriber struct {
	mu    sync.Mutex
	queue []Notification
	wake  chan struct{}
	quit  chan struct{}
	once  sync.Once
}

func newSubscriber() *subscriber {
	return &subscriber{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
}

func (sub *subscriber) push(n Notification) {
	sub.mu.Lock()
	switch {
	case n.Kind == EventReset:
		// Anything still queued belongs to the previous file.
		sub.queue = append(sub.queue[:0], n)
	case n.Kind == EventRow && len(sub.queue) >= rowBacklog:
		progress := Notification{Kind: EventProgress, State: n.State, Index: n.Index, Count: n.Count}
		if last := &sub.queue[len(sub.queue)-1]; last.Kind == EventRow || last.Kind == EventProgress {
			*last = progress
		} else {
			sub.queue = append(sub.queue, progress)
		}
	default:
		sub.queue = append(sub.queue, n)
	}
	sub.mu.Unlock()

	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscriber) pop() (Notification, bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.queue) == 0 {
		return Notification{}, false
	}
	n := sub.queue[0]
	sub.queue[0] = Notification{}
	sub.queue = sub.queue[1:]
	return n, true
}

func (sub *subscriber) stop() {
	sub.once.Do(func() { close(sub.quit) })
}

// run delivers queued notifications to out until stopped.
func (sub *subscriber) run(out chan<- Notification) {
	defer close(out)
	for {
		n, ok := sub.pop()
		if !ok {
			select {
			case <-sub.wake:
				continue
			case <-sub.quit:
				return
			}
		}
		select {
		case out <- n:
		case <-sub.quit:
			return
		}
	}
}

// Subscribe returns a channel of notifications in the order they happen
// and a function that ends the subscription. The channel is closed when
// the subscription ends or the session is deleted.
func (s *Session) Subscribe() (<-chan Notification, func()) {
	out := make(chan Notification)
	sub := newSubscriber()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(out)
		return out, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.mu.Unlock()

	go sub.run(out)

	return out, func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		sub.stop()
	}
}

// notifyLocked must be called with s.mu held.
func (s *Session) notifyLocked(n Notification) {
	for _, sub := range s.subs {
		sub.push(n)
	}
}
