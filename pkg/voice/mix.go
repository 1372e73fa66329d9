package voice

import (
	"fmt"
	"slices"
	"strings"
)

// DeviceType selects an output device family.
type DeviceType uint32

const (
	DeviceTV DeviceType = iota
	DeviceDRC
	DeviceController
)

// String returns the lower-case device family name.
func (d DeviceType) String() string {
	switch d {
	case DeviceTV:
		return "tv"
	case DeviceDRC:
		return "drc"
	case DeviceController:
		return "controller"
	default:
		return "unknown"
	}
}

// ParseDeviceType converts "tv", "drc" or "controller" into a [DeviceType].
func ParseDeviceType(s string) (DeviceType, error) {
	switch strings.ToLower(s) {
	case "tv":
		return DeviceTV, nil
	case "drc":
		return DeviceDRC, nil
	case "controller":
		return DeviceController, nil
	}
	return 0, fmt.Errorf("voice: unknown device %q: %w", s, ErrInvalidDevice)
}

// deviceLimit is the number of devices and channels per device family.
type deviceLimit struct {
	devices  uint32
	channels int
}

var deviceLimits = map[DeviceType]deviceLimit{
	DeviceTV:         {devices: 1, channels: 6},
	DeviceDRC:        {devices: 2, channels: 4},
	DeviceController: {devices: 4, channels: 1},
}

// ChannelMix is the weight of a voice on one output channel.
type ChannelMix struct {
	Volume uint16
	Delta  int16
}

// MixData holds one [ChannelMix] per output channel. An empty MixData means
// the voice is not routed to the device.
type MixData []ChannelMix

type route struct {
	device DeviceType
	id     uint32
}

// Route is one device the voice is mixed into.
type Route struct {
	Device DeviceType
	ID     uint32
	Mix    MixData
}

func validateMix(device DeviceType, id uint32, mix MixData) error {
	lim, ok := deviceLimits[device]
	if !ok {
		return fmt.Errorf("voice: device %d: %w", device, ErrInvalidDevice)
	}
	if id >= lim.devices {
		return fmt.Errorf("voice: %s id %d: %w", device, id, ErrInvalidDeviceID)
	}
	if len(mix) > lim.channels {
		return fmt.Errorf("voice: %s has %d channels, got %d: %w", device, lim.channels, len(mix), ErrInvalidMix)
	}
	return nil
}

// setRouteLocked stores a copy of mix, or removes the route when mix is empty.
func (r *record) setRouteLocked(device DeviceType, id uint32, mix MixData) {
	k := route{device: device, id: id}
	if len(mix) == 0 {
		delete(r.routes, k)
		return
	}
	if r.routes == nil {
		r.routes = make(map[route]MixData)
	}
	r.routes[k] = slices.Clone(mix)
}

// routeList returns the routes ordered by device then id.
func (r *record) routeList() []Route {
	if len(r.routes) == 0 {
		return nil
	}
	out := make([]Route, 0, len(r.routes))
	for k, m := range r.routes {
		out = append(out, Route{Device: k.device, ID: k.id, Mix: slices.Clone(m)})
	}
	slices.SortFunc(out, func(a, b Route) int {
		if a.Device != b.Device {
			return int(a.Device) - int(b.Device)
		}
		return int(a.ID) - int(b.ID)
	})
	return out
}
