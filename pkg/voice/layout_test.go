package voice_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/voicepool/pkg/voice"
)

func TestMarshalVoice_Layout(t *testing.T) {
	t.Parallel()

	const base = 0x1000_0000
	p := newPool(t, 3)
	low := mustAcquire(t, p, 1, nil, nil)
	mid := mustAcquire(t, p, 4, nil, nil)
	mustAcquire(t, p, 8, nil, nil)

	o := voice.Offsets{Looping: true, LoopOffset: 0x10, EndOffset: 0x200, CurrentOffset: 0x20, Data: 0x8000_0000}
	if err := p.SetVoiceOffsets(mid, o); err != nil {
		t.Fatal(err)
	}
	if err := p.SetVoiceState(mid, voice.Playing); err != nil {
		t.Fatal(err)
	}

	b, err := p.MarshalVoice(mid, base)
	if err != nil {
		t.Fatalf("MarshalVoice: %v", err)
	}
	if len(b) != voice.RecordSize {
		t.Fatalf("len = %#x, want %#x", len(b), voice.RecordSize)
	}

	be := binary.BigEndian
	u32 := func(off int) uint32 { return be.Uint32(b[off:]) }
	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"index", u32(voice.OffIndex), mid.Index},
		{"state", u32(voice.OffState), uint32(voice.Playing)},
		{"next", u32(voice.OffLinkNext), base + 2*voice.RecordSize},
		{"prev", u32(voice.OffLinkPrev), base + low.Index*voice.RecordSize},
		{"priority", u32(voice.OffPriority), 4},
		{"callback", u32(voice.OffCallback), 0},
		{"loopingEnabled", uint32(be.Uint16(b[voice.OffOffsets+voice.OffLoopingEnabled:])), 1},
		{"loopOffset", u32(voice.OffOffsets + voice.OffLoopOffset), 0x10},
		{"endOffset", u32(voice.OffOffsets + voice.OffEndOffset), 0x200},
		{"currentOffset", u32(voice.OffOffsets + voice.OffCurrentOffset), 0x20},
		{"data", u32(voice.OffOffsets + voice.OffData), 0x8000_0000},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %#x, want %#x", c.name, c.got, c.want)
		}
	}

	head, err := p.MarshalVoice(low, base)
	if err != nil {
		t.Fatal(err)
	}
	if prev := be.Uint32(head[voice.OffLinkPrev:]); prev != 0 {
		t.Errorf("head prev = %#x, want 0", prev)
	}
}

func TestMarshalVoice_FreeSlot(t *testing.T) {
	t.Parallel()

	p := newPool(t, 1)
	if _, err := p.MarshalVoice(voice.Handle{Index: 0, Generation: 1}, 0); !errors.Is(err, voice.ErrInvalidHandle) {
		t.Fatalf("err = %v, want ErrInvalidHandle", err)
	}
}
