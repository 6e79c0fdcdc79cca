package agui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/thipages/js-crud-api/internal/runner"
)

// StreamConfig controls SSE stream behavior.
type StreamConfig struct {
	// Heartbeat is the interval of SSE comment lines keeping idle
	// connections open.
	Heartbeat   time.Duration
	MaxDuration time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() StreamConfig {
	return StreamConfig{
		Heartbeat:   15 * time.Second,
		MaxDuration: 2 * time.Hour,
	}
}

// subscriberBuffer is the backlog a subscriber may fall behind by before it
// is dropped.
const subscriberBuffer = 256

// Broker fans runner events out to SSE subscribers. Every event is kept so a
// subscriber joining mid-run receives the whole run so far. After
// RUN_FINISHED the broker is closed and subscriptions end once drained.
type Broker struct {
	mu        sync.Mutex
	history   []Event
	subs      map[chan Event]struct{}
	closed    bool
	now       func() time.Time
	startedBy string
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithStartedBy stamps the RUN_STARTED event with the authenticated subject.
func WithStartedBy(user string) BrokerOption {
	return func(b *Broker) { b.startedBy = user }
}

// NewBroker creates an empty broker.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{subs: make(map[chan Event]struct{}), now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Observe is a runner.Observer.
func (b *Broker) Observe(e runner.Event) {
	ev := FromRunner(e, b.now())
	if data, ok := ev.Data.(RunStartedData); ok {
		data.StartedBy = b.startedBy
		ev.Data = data
	}
	b.Publish(ev)
}

// Publish records ev and delivers it to current subscribers. A subscriber
// whose buffer is full is dropped rather than stalling the run.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.history = append(b.history, ev)
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			delete(b.subs, ch)
			close(ch)
		}
	}
	if ev.Type == EventRunFinished || ev.Type == EventRunError {
		b.closed = true
		for ch := range b.subs {
			close(ch)
		}
		b.subs = nil
	}
}

// Subscribe returns a channel replaying the history then following live
// events, and a function releasing the subscription.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, len(b.history)+subscriberBuffer)
	for _, ev := range b.history {
		ch <- ev
	}
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
}

// Closed reports whether the run has finished.
func (b *Broker) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// StreamHandler serves the events of the broker returned by source as SSE.
// source returns nil when there is nothing to stream.
func StreamHandler(source func() *Broker, cfg StreamConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := source()
		if b == nil {
			http.Error(w, "no run", http.StatusNotFound)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		ctx, cancel := context.WithTimeout(r.Context(), cfg.MaxDuration)
		defer cancel()

		events, release := b.Subscribe()
		defer release()

		heartbeat := time.NewTicker(cfg.Heartbeat)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case ev, ok := <-events:
				if !ok {
					return
				}
				writeSSE(w, flusher, ev)
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	flusher.Flush()
}
