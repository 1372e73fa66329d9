package render

import (
	"slices"
	"sync"

	"github.com/MrWong99/voicepool/pkg/voice"
)

// unity is the fixed-point value of a gain of 1.0 for mix and envelope
// volumes.
const unity = 0x8000

// BusLevel is the load on one output device during a pass.
type BusLevel struct {
	Device voice.DeviceType `json:"-"`
	Name   string           `json:"device"`
	ID     uint32           `json:"id"`

	// Voices is the number of Playing voices routed to the device.
	Voices int `json:"voices"`

	// Gain is the summed linear gain per channel, each voice contributing
	// channel volume × envelope volume.
	Gain []float64 `json:"gain"`
}

type busKey struct {
	device voice.DeviceType
	id     uint32
}

// Meter is a [Mixer] that accumulates per-device bus levels. Levels reports
// the most recently completed pass.
type Meter struct {
	cur map[busKey]*BusLevel // only touched by the render goroutine

	mu   sync.Mutex
	last []BusLevel
}

// NewMeter returns an empty meter.
func NewMeter() *Meter {
	return &Meter{cur: make(map[busKey]*BusLevel)}
}

// BeginPass resets the working accumulators.
func (m *Meter) BeginPass(uint32) {
	clear(m.cur)
}

// MixVoice adds the voice's routed gain to each bus it feeds.
func (m *Meter) MixVoice(v voice.View, _ uint32) {
	env := float64(v.Envelope.Volume) / unity
	v.EachRoute(func(device voice.DeviceType, id uint32, mix voice.MixData) {
		k := busKey{device: device, id: id}
		b, ok := m.cur[k]
		if !ok {
			b = &BusLevel{Device: device, Name: device.String(), ID: id}
			m.cur[k] = b
		}
		b.Voices++
		if len(b.Gain) < len(mix) {
			b.Gain = append(b.Gain, make([]float64, len(mix)-len(b.Gain))...)
		}
		for ch, c := range mix {
			b.Gain[ch] += float64(c.Volume) / unity * env
		}
	})
}

// EndPass publishes the pass's bus levels ordered by device then id.
func (m *Meter) EndPass() {
	levels := make([]BusLevel, 0, len(m.cur))
	for _, b := range m.cur {
		levels = append(levels, *b)
	}
	slices.SortFunc(levels, func(a, b BusLevel) int {
		if a.Device != b.Device {
			return int(a.Device) - int(b.Device)
		}
		return int(a.ID) - int(b.ID)
	})

	m.mu.Lock()
	m.last = levels
	m.mu.Unlock()
}

// Levels returns the bus levels of the last completed pass.
func (m *Meter) Levels() []BusLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.last)
}
