package voice

import (
	"context"
	"log/slog"
	"sync"
)

// Eviction is a pending notification for an owner whose voice was forcibly
// repurposed.
type Eviction struct {
	// Voice is the evicted owner's handle. It is already stale when the
	// notification runs.
	Voice Handle

	// Priority is the evicted owner's priority.
	Priority uint32

	Reason Reason

	// Aux is the priority of the acquisition that displaced the voice.
	Aux uint32

	// Context is the value the evicted owner passed at acquisition.
	Context any

	callback   Callback
	callbackEx CallbackEx
}

// notifies reports whether the owner registered a callback.
func (e Eviction) notifies() bool {
	return e.callback != nil || e.callbackEx != nil
}

// Notifier queues eviction notifications and delivers them outside the pool's
// critical section. Each queued notification is delivered at most once.
//
// Delivery happens from whichever goroutine calls [Notifier.Drain], typically
// [Notifier.Run] or the render driver. All methods are safe for concurrent use.
type Notifier struct {
	log       *slog.Logger
	delivered func(Eviction)

	mu    sync.Mutex
	queue []Eviction
	wake  chan struct{}
}

// NotifierOption configures a [Notifier].
type NotifierOption func(*Notifier)

// WithNotifierLogger sets the logger used to report panicking callbacks.
func WithNotifierLogger(l *slog.Logger) NotifierOption {
	return func(n *Notifier) {
		if l != nil {
			n.log = l
		}
	}
}

// OnDelivered registers fn to run after each notification is delivered.
func OnDelivered(fn func(Eviction)) NotifierOption {
	return func(n *Notifier) {
		n.delivered = fn
	}
}

// NewNotifier creates an empty [Notifier].
func NewNotifier(opts ...NotifierOption) *Notifier {
	n := &Notifier{
		log:  slog.Default(),
		wake: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Enqueue appends ev to the queue and wakes [Notifier.Run]. It never invokes
// a callback.
func (n *Notifier) Enqueue(ev Eviction) {
	n.mu.Lock()
	n.queue = append(n.queue, ev)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued notifications.
func (n *Notifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}

// Drain delivers every queued notification and returns how many ran.
// Notifications enqueued by the callbacks themselves are left for the next
// Drain.
func (n *Notifier) Drain() int {
	n.mu.Lock()
	batch := n.queue
	n.queue = nil
	n.mu.Unlock()

	for _, ev := range batch {
		n.deliver(ev)
	}
	return len(batch)
}

// Run drains the queue each time a notification is enqueued, until ctx is
// cancelled. Anything still queued at cancellation is delivered before Run
// returns.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n.Drain()
			return ctx.Err()
		case <-n.wake:
			n.Drain()
		}
	}
}

func (n *Notifier) deliver(ev Eviction) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("voice: eviction callback panicked", "voice", ev.Voice, "panic", r)
		}
	}()

	switch {
	case ev.callbackEx != nil:
		ev.callbackEx(ev.Voice, ev.Context, ev.Reason, ev.Aux)
	case ev.callback != nil:
		ev.callback(ev.Voice, ev.Context)
	}
	if n.delivered != nil {
		n.delivered(ev)
	}
}
