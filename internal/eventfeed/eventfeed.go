// Package eventfeed fans pool lifecycle events out to websocket subscribers.
//
// A [Hub] never blocks its publisher: each subscriber owns a bounded buffer
// and events that do not fit are dropped for that subscriber only. The
// [Hub.ServeHTTP] handler upgrades a request with coder/websocket and streams
// events as JSON text frames until the client leaves or the hub closes.
package eventfeed

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voicepool/internal/observe"
)

// Kind identifies a pool event.
type Kind string

const (
	KindAcquired Kind = "acquired"
	KindEvicted  Kind = "evicted"
	KindRefused  Kind = "refused"
	KindFreed    Kind = "freed"
	KindState    Kind = "state"
	KindNotified Kind = "notified"
)

// Event is one entry on the feed.
type Event struct {
	Kind     Kind      `json:"kind"`
	Voice    string    `json:"voice,omitempty"`
	Priority uint32    `json:"priority"`
	Owner    string    `json:"owner,omitempty"`
	By       string    `json:"by,omitempty"`
	State    string    `json:"state,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Aux      uint32    `json:"aux,omitempty"`
	Time     time.Time `json:"time"`
}

const (
	defaultBuffer = 64
	writeTimeout  = 5 * time.Second
)

// Option configures a [Hub].
type Option func(*Hub)

// WithLogger sets the hub's logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.log = l }
}

// WithMetrics records subscriber counts and drops.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithBuffer sets the per-subscriber buffer size.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

type subscriber struct {
	ch    chan Event
	kinds map[Kind]bool // nil means all
}

// Hub is a non-blocking event broadcaster. It is safe for concurrent use.
type Hub struct {
	log     *slog.Logger
	metrics *observe.Metrics
	buffer  int

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewHub returns an open hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		log:    slog.Default(),
		buffer: defaultBuffer,
		subs:   make(map[*subscriber]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscribe registers a subscriber for the given kinds (all kinds if none are
// given). The returned channel is closed by cancel or by [Hub.Close].
func (h *Hub) Subscribe(kinds ...Kind) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, h.buffer)}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	h.addSubscribers(1)

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			_, ok := h.subs[s]
			delete(h.subs, s)
			h.mu.Unlock()
			if ok {
				close(s.ch)
				h.addSubscribers(-1)
			}
		})
	}
}

// Publish delivers ev to every interested subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	dropped := 0

	h.mu.Lock()
	for s := range h.subs {
		if s.kinds != nil && !s.kinds[ev.Kind] {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			dropped++
		}
	}
	h.mu.Unlock()

	if dropped > 0 && h.metrics != nil {
		h.metrics.FeedDropped.Add(context.Background(), int64(dropped))
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber. Later publishes are discarded and
// later subscriptions receive a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for s := range subs {
		close(s.ch)
	}
	h.addSubscribers(-int64(len(subs)))
}

func (h *Hub) addSubscribers(n int64) {
	if h.metrics != nil && n != 0 {
		h.metrics.FeedSubscribers.Add(context.Background(), n)
	}
}

// ParseKinds parses a comma-separated kind filter such as "evicted,freed".
func ParseKinds(s string) ([]Kind, error) {
	if s == "" {
		return nil, nil
	}
	var kinds []Kind
	for _, part := range strings.Split(s, ",") {
		k := Kind(strings.TrimSpace(part))
		switch k {
		case KindAcquired, KindEvicted, KindRefused, KindFreed, KindState, KindNotified:
			kinds = append(kinds, k)
		default:
			return nil, errors.New("eventfeed: unknown event kind " + string(k))
		}
	}
	return kinds, nil
}

// ServeHTTP upgrades the request to a websocket and streams events. The
// optional "kinds" query parameter filters the feed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kinds, err := ParseKinds(r.URL.Query().Get("kinds"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Debug("eventfeed: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	events, cancel := h.Subscribe(kinds...)
	defer cancel()

	// The feed is one-way; CloseRead handles control frames and cancels ctx
	// when the client goes away.
	ctx := conn.CloseRead(r.Context())
	log := h.log.With("remote", r.RemoteAddr)
	log.Debug("eventfeed: subscriber connected")

	for {
		select {
		case <-ctx.Done():
			log.Debug("eventfeed: subscriber left")
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			wcancel()
			if err != nil {
				log.Debug("eventfeed: write failed", "err", err)
				return
			}
		}
	}
}
