package voice

import "encoding/binary"

// Byte layout of a voice record as read by code that addresses voice memory
// directly. All fields are big-endian.
const (
	RecordSize = 0x58

	OffIndex       = 0x00
	OffState       = 0x04
	OffLinkNext    = 0x10
	OffLinkPrev    = 0x14
	OffPriority    = 0x1c
	OffCallback    = 0x20
	OffUserContext = 0x24
	OffOffsets     = 0x34
	OffCallbackEx  = 0x48

	// Relative to OffOffsets.
	OffLoopingEnabled = 0x02
	OffLoopOffset     = 0x04
	OffEndOffset      = 0x08
	OffCurrentOffset  = 0x0c
	OffData           = 0x10
	OffsetsSize       = 0x14
)

// MarshalVoice encodes the acquired voice h as a RecordSize-byte image. Links
// are written as base + index*RecordSize, or 0 at either end of the active
// list. Callback and context slots are left zero since they hold host values.
func (p *Pool) MarshalVoice(h Handle, base uint32) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.ownedLocked(h); err != nil {
		return nil, err
	}
	r := &p.records[h.Index]
	r.mu.Lock()
	defer r.mu.Unlock()

	addr := func(i int32) uint32 {
		if i == none {
			return 0
		}
		return base + uint32(i)*RecordSize
	}

	b := make([]byte, RecordSize)
	be := binary.BigEndian
	be.PutUint32(b[OffIndex:], r.index)
	be.PutUint32(b[OffState:], uint32(r.state))
	be.PutUint32(b[OffLinkNext:], addr(r.link.next))
	be.PutUint32(b[OffLinkPrev:], addr(r.link.prev))
	be.PutUint32(b[OffPriority:], r.priority)

	o := b[OffOffsets : OffOffsets+OffsetsSize]
	if r.offsets.Looping {
		be.PutUint16(o[OffLoopingEnabled:], 1)
	}
	be.PutUint32(o[OffLoopOffset:], r.offsets.LoopOffset)
	be.PutUint32(o[OffEndOffset:], r.offsets.EndOffset)
	be.PutUint32(o[OffCurrentOffset:], r.offsets.CurrentOffset)
	be.PutUint32(o[OffData:], uint32(r.offsets.Data))
	return b, nil
}
