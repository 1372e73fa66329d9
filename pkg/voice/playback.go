package voice

import (
	"fmt"
	"math"
)

// SetVoiceState starts or stops an acquired voice. Starting requires a data
// reference and offsets that satisfy the playback window.
func (p *Pool) SetVoiceState(h Handle, s State) error {
	if s != Stopped && s != Playing {
		return fmt.Errorf("voice: state %d: %w", s, ErrInvalidState)
	}
	r, err := p.lockVoice(h)
	if err != nil {
		return err
	}
	if s == Playing && !r.offsets.playable() {
		r.mu.Unlock()
		return fmt.Errorf("voice: %s cannot play with offsets %+v: %w", h, r.offsets, ErrInvalidOffsets)
	}
	changed := r.state != s
	r.state = s
	r.mu.Unlock()

	if changed && p.hooks.StateChanged != nil {
		p.hooks.StateChanged(h, s)
	}
	return nil
}

// VoiceState returns the playback state of an acquired voice.
func (p *Pool) VoiceState(h Handle) (State, error) {
	r, err := p.lockVoice(h)
	if err != nil {
		return 0, err
	}
	defer r.mu.Unlock()
	return r.state, nil
}

// IsVoiceRunning reports whether h is acquired and Playing.
func (p *Pool) IsVoiceRunning(h Handle) bool {
	s, err := p.VoiceState(h)
	return err == nil && s == Playing
}

// SetVoiceLoop enables or disables looping.
func (p *Pool) SetVoiceLoop(h Handle, enabled bool) error {
	return p.updateOffsets(h, func(o *Offsets) { o.Looping = enabled })
}

// SetVoiceEndOffset sets the sample at which playback ends or wraps.
func (p *Pool) SetVoiceEndOffset(h Handle, offset uint32) error {
	return p.updateOffsets(h, func(o *Offsets) { o.EndOffset = offset })
}

// SetVoiceLoopOffset sets the sample that playback wraps to.
func (p *Pool) SetVoiceLoopOffset(h Handle, offset uint32) error {
	return p.updateOffsets(h, func(o *Offsets) { o.LoopOffset = offset })
}

// SetVoiceCurrentOffset moves the play position.
func (p *Pool) SetVoiceCurrentOffset(h Handle, offset uint32) error {
	return p.updateOffsets(h, func(o *Offsets) { o.CurrentOffset = offset })
}

// SetVoiceOffsets replaces the whole playback window. Unlike the single-field
// setters, the ordering constraints are checked in either state.
func (p *Pool) SetVoiceOffsets(h Handle, o Offsets) error {
	if !o.bounded() {
		return fmt.Errorf("voice: %s offsets %+v: %w", h, o, ErrInvalidOffsets)
	}
	return p.updateOffsets(h, func(dst *Offsets) { *dst = o })
}

// updateOffsets applies fn to a copy of the voice's offsets and stores it
// unless the voice is Playing and the result is no longer playable.
func (p *Pool) updateOffsets(h Handle, fn func(*Offsets)) error {
	r, err := p.lockVoice(h)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	o := r.offsets
	fn(&o)
	if r.state == Playing && !o.playable() {
		return fmt.Errorf("voice: %s offsets %+v while playing: %w", h, o, ErrInvalidOffsets)
	}
	r.offsets = o
	return nil
}

// SetVoiceSrcRatio sets the sample-rate conversion ratio. Ratios outside the
// pool's bounds are rejected, never clamped, and the previous ratio is kept.
func (p *Pool) SetVoiceSrcRatio(h Handle, ratio float32) error {
	b := p.RatioBounds()
	if !b.contains(ratio) {
		return fmt.Errorf("voice: ratio %g not in (%g, %g]: %w", ratio, b.Min, b.Max, ErrRatioOutOfRange)
	}
	r, err := p.lockVoice(h)
	if err != nil {
		return err
	}
	r.srcRatio = ratio
	r.mu.Unlock()
	return nil
}

// SetVoiceDeviceMix routes the voice to one output device. An empty mix
// removes the route.
func (p *Pool) SetVoiceDeviceMix(h Handle, device DeviceType, id uint32, mix MixData) error {
	if err := validateMix(device, id, mix); err != nil {
		return err
	}
	r, err := p.lockVoice(h)
	if err != nil {
		return err
	}
	r.setRouteLocked(device, id, mix)
	r.mu.Unlock()
	return nil
}

// SetVoiceAdpcmLoop stores the decoder state used at the loop point.
func (p *Pool) SetVoiceAdpcmLoop(h Handle, loop AdpcmLoop) error {
	r, err := p.lockVoice(h)
	if err != nil {
		return err
	}
	r.adpcmLoop = loop
	r.mu.Unlock()
	return nil
}

// SetVoiceVe stores the volume envelope.
func (p *Pool) SetVoiceVe(h Handle, ve VolumeEnvelope) error {
	r, err := p.lockVoice(h)
	if err != nil {
		return err
	}
	r.envelope = ve
	r.mu.Unlock()
	return nil
}

// Advance moves a Playing voice forward by samples. At the end offset a
// looping voice wraps into its loop region and keeps playing; any other voice
// stops at the end offset. Stopped voices do not move. The resulting state is
// returned.
func (p *Pool) Advance(h Handle, samples uint32) (State, error) {
	r, err := p.lockVoice(h)
	if err != nil {
		return 0, err
	}
	stopped := r.advanceLocked(samples)
	s := r.state
	r.mu.Unlock()

	if stopped && p.hooks.StateChanged != nil {
		p.hooks.StateChanged(h, Stopped)
	}
	return s, nil
}

// advanceLocked applies the end-of-window rule and reports whether the voice
// stopped.
func (r *record) advanceLocked(samples uint32) bool {
	if r.state != Playing {
		return false
	}
	o := &r.offsets
	cur := uint64(o.CurrentOffset) + uint64(samples)
	end := uint64(o.EndOffset)
	if cur < end {
		o.CurrentOffset = uint32(cur)
		return false
	}
	if o.Looping {
		loop := uint64(o.LoopOffset)
		if span := end - loop; span > 0 {
			o.CurrentOffset = uint32(loop + (cur-end)%span)
		} else {
			o.CurrentOffset = o.LoopOffset
		}
		return false
	}
	o.CurrentOffset = o.EndOffset
	r.state = Stopped
	return true
}

// View is the read-only state of a Playing voice handed to a render step. It
// is only valid for the duration of the step.
type View struct {
	Handle    Handle
	Priority  uint32
	Offsets   Offsets
	SrcRatio  float32
	AdpcmLoop AdpcmLoop
	Envelope  VolumeEnvelope

	routes map[route]MixData
}

// Route returns the mix for one device, or false if the voice is not routed
// there. The returned slice must not be modified or retained.
func (v View) Route(device DeviceType, id uint32) (MixData, bool) {
	m, ok := v.routes[route{device: device, id: id}]
	return m, ok
}

// EachRoute calls fn for every device the voice is routed to, in no
// particular order. mix must not be modified or retained.
func (v View) EachRoute(fn func(device DeviceType, id uint32, mix MixData)) {
	for k, m := range v.routes {
		fn(k.device, k.id, m)
	}
}

// Step returns round(frames * ratio), the input samples consumed to produce
// frames output samples.
func (v View) Step(frames uint32) uint32 {
	s := math.Round(float64(frames) * float64(v.SrcRatio))
	if s >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(s)
}

// RenderStats summarises one render pass.
type RenderStats struct {
	Rendered int // Playing voices visited
	Stopped  int // voices that reached their end offset
}

// Render visits every Playing voice in index order. step receives the voice
// and returns how many samples to advance it. Only the visited voice's lock is
// held while step runs; step must not call back into the pool.
func (p *Pool) Render(step func(View) uint32) RenderStats {
	var (
		stats   RenderStats
		stopped []Handle
	)
	for i := range p.records {
		r := &p.records[i]
		r.mu.Lock()
		if !r.inUse || r.state != Playing {
			r.mu.Unlock()
			continue
		}
		stats.Rendered++
		n := step(View{
			Handle:    r.handle(),
			Priority:  r.priority,
			Offsets:   r.offsets,
			SrcRatio:  r.srcRatio,
			AdpcmLoop: r.adpcmLoop,
			Envelope:  r.envelope,
			routes:    r.routes,
		})
		if r.advanceLocked(n) {
			stats.Stopped++
			stopped = append(stopped, r.handle())
		}
		r.mu.Unlock()
	}

	if p.hooks.StateChanged != nil {
		for _, h := range stopped {
			p.hooks.StateChanged(h, Stopped)
		}
	}
	return stats
}
