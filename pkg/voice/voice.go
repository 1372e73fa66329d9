// Package voice implements a fixed-capacity pool of mixing voices shared
// between producer goroutines and a periodic render pass.
//
// A [Pool] owns exactly MaxVoices voice records for its whole lifetime.
// Producers claim voices with [Pool.AcquireVoice] or [Pool.AcquireVoiceEx]
// and give them back with [Pool.FreeVoice]. When the pool is exhausted, an
// acquisition may forcibly evict the lowest-priority voice. The displaced owner
// is told through its callback, which the [Notifier] invokes only after the
// pool's lock has been released.
//
// The render path calls [Pool.Render] (or [Pool.Advance] per voice) to move
// playback offsets forward. It never takes the pool-wide lock, so producers
// acquiring or freeing voices cannot stall it.
package voice

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

// State is the user-visible playback state of an acquired voice.
type State uint8

const (
	// Stopped is the state of a freshly acquired voice.
	Stopped State = iota

	// Playing voices are advanced by every render pass.
	Playing
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	default:
		return "unknown"
	}
}

// ParseState converts "stopped" or "playing" into a [State].
func ParseState(s string) (State, error) {
	switch strings.ToLower(s) {
	case "stopped":
		return Stopped, nil
	case "playing":
		return Playing, nil
	}
	return 0, fmt.Errorf("voice: unknown state %q: %w", s, ErrInvalidState)
}

// Reason identifies why an owner lost its voice.
type Reason uint32

const (
	// ReasonForceFree means a higher-priority acquisition repurposed the voice.
	ReasonForceFree Reason = iota + 1
)

// String returns the name of the reason code.
func (r Reason) String() string {
	if r == ReasonForceFree {
		return "force_free"
	}
	return "unknown"
}

// Handle identifies one acquisition of a voice slot. The generation changes
// every time the slot returns to the free pool, so a handle kept after
// [Pool.FreeVoice] or an eviction is rejected with [ErrInvalidHandle].
//
// The zero Handle is never issued.
type Handle struct {
	Index      uint32
	Generation uint32
}

// IsZero reports whether h is the zero handle returned by a failed acquisition.
func (h Handle) IsZero() bool { return h.Generation == 0 }

// String formats h as "index-generation".
func (h Handle) String() string {
	return strconv.FormatUint(uint64(h.Index), 10) + "-" + strconv.FormatUint(uint64(h.Generation), 10)
}

// ParseHandle is the inverse of [Handle.String].
func ParseHandle(s string) (Handle, error) {
	idx, gen, ok := strings.Cut(s, "-")
	if !ok {
		return Handle{}, fmt.Errorf("voice: malformed handle %q: %w", s, ErrInvalidHandle)
	}
	i, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return Handle{}, fmt.Errorf("voice: malformed handle %q: %w", s, ErrInvalidHandle)
	}
	g, err := strconv.ParseUint(gen, 10, 32)
	if err != nil || g == 0 {
		return Handle{}, fmt.Errorf("voice: malformed handle %q: %w", s, ErrInvalidHandle)
	}
	return Handle{Index: uint32(i), Generation: uint32(g)}, nil
}

// Callback is the simple eviction notification. context is the value passed
// to [Pool.AcquireVoice].
type Callback func(v Handle, context any)

// CallbackEx is the extended eviction notification. aux carries the priority
// of the acquisition that displaced the voice.
type CallbackEx func(v Handle, context any, reason Reason, aux uint32)

// DataRef is an opaque reference to sample data, resolved by the mixing
// collaborator. Zero means no data.
type DataRef uint32

// Offsets describes the playback window of a voice in samples.
type Offsets struct {
	Looping       bool
	LoopOffset    uint32
	EndOffset     uint32
	CurrentOffset uint32
	Data          DataRef
}

// bounded reports whether the offsets satisfy the ordering constraints. Data
// is not checked.
func (o Offsets) bounded() bool {
	if o.CurrentOffset > o.EndOffset {
		return false
	}
	return !o.Looping || o.LoopOffset <= o.EndOffset
}

// playable reports whether a voice with these offsets may be Playing.
func (o Offsets) playable() bool {
	return o.Data != 0 && o.bounded()
}

// AdpcmLoop holds the decoder state restored at the loop point. It is passed
// through to the mixing collaborator untouched.
type AdpcmLoop struct {
	PredScale   uint16
	PrevSample0 int16
	PrevSample1 int16
}

// VolumeEnvelope is the per-voice volume and per-sample delta. Passed through
// to the mixing collaborator.
type VolumeEnvelope struct {
	Volume uint16
	Delta  int16
}

// RatioBounds is the accepted sample-rate-conversion ratio range. Min is
// exclusive and Max inclusive.
type RatioBounds struct {
	Min float32
	Max float32
}

// DefaultRatioBounds accepts any positive ratio up to 8x.
var DefaultRatioBounds = RatioBounds{Min: 0, Max: 8}

// Valid reports whether b is a finite, non-negative, non-empty range.
func (b RatioBounds) Valid() bool {
	if math.IsInf(float64(b.Min), 0) || math.IsInf(float64(b.Max), 0) {
		return false
	}
	// NaN fails both comparisons.
	return b.Min >= 0 && b.Max > b.Min
}

func (b RatioBounds) contains(r float32) bool {
	if math.IsNaN(float64(r)) || math.IsInf(float64(r), 0) {
		return false
	}
	return r > b.Min && r <= b.Max
}

// link is the intrusive active-list node. none marks the end of the list.
type link struct {
	next int32
	prev int32
}

const none int32 = -1

// record is one pool slot.
//
// Fields written only while holding both Pool.mu and record.mu (inUse,
// generation, priority and owner fields) may be read under either lock.
// Playback fields are guarded by record.mu alone. link is guarded by Pool.mu.
type record struct {
	index uint32
	link  link

	mu         sync.Mutex
	inUse      bool
	generation uint32
	priority   uint32
	callback   Callback
	callbackEx CallbackEx
	context    any

	state     State
	offsets   Offsets
	srcRatio  float32
	routes    map[route]MixData
	adpcmLoop AdpcmLoop
	envelope  VolumeEnvelope
}

func (r *record) handle() Handle {
	return Handle{Index: r.index, Generation: r.generation}
}

// claim installs a new owner. Caller holds Pool.mu.
func (r *record) claim(priority uint32, cb Callback, cbEx CallbackEx, ctx any) {
	r.mu.Lock()
	r.inUse = true
	r.priority = priority
	r.callback = cb
	r.callbackEx = cbEx
	r.context = ctx
	r.state = Stopped
	r.mu.Unlock()
}

// release returns the slot to its free form and invalidates outstanding
// handles. Caller holds Pool.mu.
func (r *record) release() {
	r.mu.Lock()
	r.inUse = false
	r.generation++
	if r.generation == 0 {
		r.generation = 1
	}
	r.resetLocked()
	r.mu.Unlock()
}

// resetLocked zeroes everything an owner may have set.
func (r *record) resetLocked() {
	r.priority = 0
	r.callback = nil
	r.callbackEx = nil
	r.context = nil
	r.state = Stopped
	r.offsets = Offsets{}
	r.srcRatio = 1
	r.routes = nil
	r.adpcmLoop = AdpcmLoop{}
	r.envelope = VolumeEnvelope{}
}

// Info is a point-in-time copy of an acquired voice.
type Info struct {
	Handle    Handle
	Priority  uint32
	State     State
	Offsets   Offsets
	SrcRatio  float32
	Routes    []Route
	AdpcmLoop AdpcmLoop
	Envelope  VolumeEnvelope
	Notifies  bool // an eviction callback is registered
}

func (r *record) infoLocked() Info {
	return Info{
		Handle:    r.handle(),
		Priority:  r.priority,
		State:     r.state,
		Offsets:   r.offsets,
		SrcRatio:  r.srcRatio,
		Routes:    r.routeList(),
		AdpcmLoop: r.adpcmLoop,
		Envelope:  r.envelope,
		Notifies:  r.callback != nil || r.callbackEx != nil,
	}
}
