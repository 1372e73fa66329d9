package voice

import "errors"

var (
	// ErrInvalidHandle is returned for out-of-range slots, free slots and
	// handles whose generation no longer matches.
	ErrInvalidHandle = errors.New("invalid voice handle")

	// ErrInvalidState is returned for unknown playback states.
	ErrInvalidState = errors.New("invalid voice state")

	// ErrInvalidOffsets is returned when offsets would violate the playback
	// window of a Playing voice, or a voice without data is started.
	ErrInvalidOffsets = errors.New("invalid voice offsets")

	// ErrRatioOutOfRange is returned by SetVoiceSrcRatio for ratios outside the
	// pool's [RatioBounds].
	ErrRatioOutOfRange = errors.New("sample rate ratio out of range")

	// ErrInvalidDevice is returned for unknown device types.
	ErrInvalidDevice = errors.New("invalid device type")

	// ErrInvalidDeviceID is returned for device ids beyond the device type's
	// count.
	ErrInvalidDeviceID = errors.New("invalid device id")

	// ErrInvalidMix is returned when mix data has more channels than the
	// device supports.
	ErrInvalidMix = errors.New("invalid device mix")

	// ErrInvalidCapacity is returned by New for a zero or oversized pool.
	ErrInvalidCapacity = errors.New("invalid pool capacity")
)
