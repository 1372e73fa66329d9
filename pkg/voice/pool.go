package voice

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// MaxCapacity is the largest pool [New] accepts.
const MaxCapacity = 1 << 16

// TieBreak decides whether an acquisition may evict an incumbent of equal
// priority.
type TieBreak int

const (
	// RefuseOnEqual evicts only strictly lower-priority voices.
	RefuseOnEqual TieBreak = iota

	// EvictOnEqual also evicts the oldest voice of equal priority.
	EvictOnEqual
)

// String returns the config spelling of the policy.
func (t TieBreak) String() string {
	if t == EvictOnEqual {
		return "evict"
	}
	return "refuse"
}

// ParseTieBreak converts "refuse" or "evict" into a [TieBreak].
func ParseTieBreak(s string) (TieBreak, error) {
	switch s {
	case "refuse", "":
		return RefuseOnEqual, nil
	case "evict":
		return EvictOnEqual, nil
	}
	return 0, fmt.Errorf("voice: unknown tie break %q", s)
}

// Hooks are optional observers of pool activity. Each hook runs on the
// goroutine that caused the event, after every lock has been released, and
// must not block.
//
// Hooks fired from different goroutines are not ordered with respect to each
// other. A render pass stopping a voice and a concurrent FreeVoice of the
// same handle may report Freed before StateChanged.
type Hooks struct {
	Acquired     func(h Handle, priority uint32, evicted bool)
	Evicted      func(ev Eviction, by Handle)
	Refused      func(priority uint32)
	Freed        func(h Handle)
	StateChanged func(h Handle, s State)
}

// Option configures a [Pool] during construction.
type Option func(*Pool)

// WithTieBreak sets the equal-priority eviction policy. Default:
// [RefuseOnEqual].
func WithTieBreak(t TieBreak) Option {
	return func(p *Pool) {
		p.tieBreak = t
	}
}

// WithRatioBounds sets the accepted sample-rate ratio range. Default:
// [DefaultRatioBounds].
func WithRatioBounds(b RatioBounds) Option {
	return func(p *Pool) {
		p.bounds.Store(&b)
	}
}

// WithLogger sets the pool's logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.log = l
		}
	}
}

// WithHooks installs activity observers.
func WithHooks(h Hooks) Option {
	return func(p *Pool) {
		p.hooks = h
	}
}

// WithNotifier routes eviction notifications to n instead of a private
// notifier.
func WithNotifier(n *Notifier) Option {
	return func(p *Pool) {
		if n != nil {
			p.notifier = n
		}
	}
}

// Pool is a fixed set of voice records with a free stack and a
// priority-ordered active list.
//
// All exported methods are safe for concurrent use.
type Pool struct {
	log      *slog.Logger
	hooks    Hooks
	notifier *Notifier
	tieBreak TieBreak
	bounds   atomic.Pointer[RatioBounds]

	mu      sync.Mutex
	records []record
	free    freeStack
	active  activeList
}

// New creates a pool of maxVoices voices, all free.
func New(maxVoices uint32, opts ...Option) (*Pool, error) {
	if maxVoices == 0 || maxVoices > MaxCapacity {
		return nil, fmt.Errorf("voice: capacity %d not in [1, %d]: %w", maxVoices, MaxCapacity, ErrInvalidCapacity)
	}
	p := &Pool{
		log:     slog.Default(),
		records: make([]record, maxVoices),
		free:    newFreeStack(maxVoices),
		active:  newActiveList(),
	}
	p.bounds.Store(&DefaultRatioBounds)
	for i := range p.records {
		r := &p.records[i]
		r.index = uint32(i)
		r.generation = 1
		r.link = link{next: none, prev: none}
		r.resetLocked()
	}
	for _, o := range opts {
		o(p)
	}
	if b := p.RatioBounds(); !b.Valid() {
		return nil, fmt.Errorf("voice: ratio bounds (%g, %g]: %w", b.Min, b.Max, ErrRatioOutOfRange)
	}
	if p.notifier == nil {
		p.notifier = NewNotifier(WithNotifierLogger(p.log))
	}
	return p, nil
}

// MaxVoices returns the fixed pool capacity.
func (p *Pool) MaxVoices() uint32 {
	return uint32(len(p.records))
}

// Notifier returns the notifier that receives this pool's evictions.
func (p *Pool) Notifier() *Notifier {
	return p.notifier
}

// TieBreak returns the equal-priority eviction policy.
func (p *Pool) TieBreak() TieBreak {
	return p.tieBreak
}

// RatioBounds returns the current sample-rate ratio range.
func (p *Pool) RatioBounds() RatioBounds {
	return *p.bounds.Load()
}

// SetRatioBounds replaces the sample-rate ratio range. Ratios already set on
// voices are not revalidated.
func (p *Pool) SetRatioBounds(b RatioBounds) error {
	if !b.Valid() {
		return fmt.Errorf("voice: ratio bounds (%g, %g]: %w", b.Min, b.Max, ErrRatioOutOfRange)
	}
	p.bounds.Store(&b)
	return nil
}

// AcquireVoice claims a voice at the given priority. cb, if non-nil, runs
// once if the voice is later evicted by a higher-priority acquisition; it is
// never called for [Pool.FreeVoice].
//
// AcquireVoice never waits. It returns false when the pool is exhausted and
// no active voice may be evicted, in which case nothing changes.
func (p *Pool) AcquireVoice(priority uint32, cb Callback, context any) (Handle, bool) {
	return p.acquire(priority, cb, nil, context)
}

// AcquireVoiceEx is [Pool.AcquireVoice] with the extended callback form.
func (p *Pool) AcquireVoiceEx(priority uint32, cb CallbackEx, context any) (Handle, bool) {
	return p.acquire(priority, nil, cb, context)
}

func (p *Pool) acquire(priority uint32, cb Callback, cbEx CallbackEx, ctx any) (Handle, bool) {
	var (
		ev      Eviction
		evicted bool
	)

	p.mu.Lock()
	idx, ok := p.free.pop()
	if !ok {
		head := p.active.peek()
		if head == none || !p.evictable(p.records[head].priority, priority) {
			p.mu.Unlock()
			if p.hooks.Refused != nil {
				p.hooks.Refused(priority)
			}
			return Handle{}, false
		}
		victim := &p.records[head]
		p.active.remove(p.records, head)
		ev = Eviction{
			Voice:      victim.handle(),
			Priority:   victim.priority,
			Reason:     ReasonForceFree,
			Aux:        priority,
			Context:    victim.context,
			callback:   victim.callback,
			callbackEx: victim.callbackEx,
		}
		evicted = true
		victim.release()
		idx = uint32(head)
	}

	r := &p.records[idx]
	r.claim(priority, cb, cbEx, ctx)
	p.active.insert(p.records, int32(idx))
	h := r.handle()
	p.mu.Unlock()

	if evicted {
		p.log.Debug("voice: evicted", "voice", ev.Voice, "priority", ev.Priority, "by", h, "by_priority", priority)
		if p.hooks.Evicted != nil {
			p.hooks.Evicted(ev, h)
		}
	}
	if p.hooks.Acquired != nil {
		p.hooks.Acquired(h, priority, evicted)
	}
	// Enqueue last: a running dispatcher may deliver at once, and the
	// callback must not observe an acquisition that has not returned yet.
	if evicted && ev.notifies() {
		p.notifier.Enqueue(ev)
	}
	return h, true
}

func (p *Pool) evictable(incumbent, requested uint32) bool {
	if p.tieBreak == EvictOnEqual {
		return incumbent <= requested
	}
	return incumbent < requested
}

// FreeVoice returns an acquired voice to the pool. The owner's callback is
// not invoked. A stale, free or out-of-range handle yields
// [ErrInvalidHandle] and leaves the pool untouched.
func (p *Pool) FreeVoice(h Handle) error {
	p.mu.Lock()
	r, err := p.ownedLocked(h)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.active.remove(p.records, int32(h.Index))
	r.release()
	p.free.push(h.Index)
	p.mu.Unlock()

	if p.hooks.Freed != nil {
		p.hooks.Freed(h)
	}
	return nil
}

// ownedLocked validates h against owner fields. Caller holds p.mu.
func (p *Pool) ownedLocked(h Handle) (*record, error) {
	if h.Index >= uint32(len(p.records)) {
		return nil, fmt.Errorf("voice: index %d: %w", h.Index, ErrInvalidHandle)
	}
	r := &p.records[h.Index]
	if !r.inUse || r.generation != h.Generation {
		return nil, fmt.Errorf("voice: %s: %w", h, ErrInvalidHandle)
	}
	return r, nil
}

// lockVoice validates h and returns its record with record.mu held. The
// caller must unlock it.
func (p *Pool) lockVoice(h Handle) (*record, error) {
	if h.Index >= uint32(len(p.records)) {
		return nil, fmt.Errorf("voice: index %d: %w", h.Index, ErrInvalidHandle)
	}
	r := &p.records[h.Index]
	r.mu.Lock()
	if !r.inUse || r.generation != h.Generation {
		r.mu.Unlock()
		return nil, fmt.Errorf("voice: %s: %w", h, ErrInvalidHandle)
	}
	return r, nil
}

// Stats is a count of free and active voices.
type Stats struct {
	MaxVoices uint32
	Free      int
	Active    int
}

// Stats returns the current free/active split.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		MaxVoices: uint32(len(p.records)),
		Free:      p.free.len(),
		Active:    p.active.len(),
	}
}

// Snapshot returns every acquired voice, lowest priority first.
func (p *Pool) Snapshot() []Info {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Info, 0, p.active.len())
	p.active.each(p.records, func(i int32) bool {
		r := &p.records[i]
		r.mu.Lock()
		out = append(out, r.infoLocked())
		r.mu.Unlock()
		return true
	})
	return out
}

// Voice returns a copy of the acquired voice h.
func (p *Pool) Voice(h Handle) (Info, error) {
	r, err := p.lockVoice(h)
	if err != nil {
		return Info{}, err
	}
	defer r.mu.Unlock()
	return r.infoLocked(), nil
}

// Check verifies that every slot is in exactly one of the free stack and the
// active list, that list links are consistent, and that the active list is
// sorted ascending by priority.
func (p *Pool) Check() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.records)
	seen := make([]bool, n)
	var errs []error

	for _, i := range p.free.idx {
		if int(i) >= n {
			errs = append(errs, fmt.Errorf("free stack holds out-of-range index %d", i))
			continue
		}
		if seen[i] {
			errs = append(errs, fmt.Errorf("index %d appears twice in the free stack", i))
		}
		seen[i] = true
		if p.records[i].inUse {
			errs = append(errs, fmt.Errorf("index %d is free but marked in use", i))
		}
	}

	prev := none
	count := 0
	for i := p.active.head; i != none; i = p.records[i].link.next {
		if count > n {
			errs = append(errs, errors.New("active list has a cycle"))
			break
		}
		count++
		r := &p.records[i]
		if seen[i] {
			errs = append(errs, fmt.Errorf("index %d is both free and active, or linked twice", i))
		}
		seen[i] = true
		if !r.inUse {
			errs = append(errs, fmt.Errorf("index %d is active but not in use", i))
		}
		if r.link.prev != prev {
			errs = append(errs, fmt.Errorf("index %d prev link is %d, want %d", i, r.link.prev, prev))
		}
		if prev != none && p.records[prev].priority > r.priority {
			errs = append(errs, fmt.Errorf("active list unsorted at index %d (%d after %d)", i, r.priority, p.records[prev].priority))
		}
		prev = i
	}
	if prev != p.active.tail {
		errs = append(errs, fmt.Errorf("active list tail is %d, want %d", p.active.tail, prev))
	}
	if count != p.active.len() {
		errs = append(errs, fmt.Errorf("active list length is %d, counted %d", p.active.len(), count))
	}

	for i, ok := range seen {
		if !ok {
			errs = append(errs, fmt.Errorf("index %d is neither free nor active", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("voice: pool invariant violated: %w", errors.Join(errs...))
	}
	return nil
}
