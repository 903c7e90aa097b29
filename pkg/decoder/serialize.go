package decoder

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// DecodeFunc resolves a raw instruction encoding back to a live
// Handler. It is supplied by the (out-of-scope-here) instruction
// decoder; deserialization calls it once per distinct handler index
// recovered from the serialized image.
type DecodeFunc func(encoding uint32) (bytecode uint8, handler Handler)

// Serialize writes cache to the preferred raw encoding: the
// contiguous slot image, followed by one byte giving the number of
// handler bindings H, followed by H little-endian {handler_idx uint32,
// representative_encoding uint32} pairs.
func Serialize(cache *DecoderCache, reg *Registry) ([]byte, error) {
	bindings := reg.Bindings()
	if len(bindings) > 255 {
		return nil, fmt.Errorf("decoder: %d handler bindings exceed the 255 representable in one byte", len(bindings))
	}
	idxs := make([]int, 0, len(bindings))
	for idx := range bindings {
		idxs = append(idxs, int(idx))
	}
	sort.Ints(idxs)

	slotBytes := len(cache.Slots) * DataSize
	out := make([]byte, slotBytes+1+len(bindings)*8)
	for i, slot := range cache.Slots {
		copy(out[i*DataSize:], slot[:])
	}
	out[slotBytes] = byte(len(bindings))
	off := slotBytes + 1
	for _, idx := range idxs {
		binary.LittleEndian.PutUint32(out[off:], uint32(idx))
		binary.LittleEndian.PutUint32(out[off+4:], bindings[uint8(idx)])
		off += 8
	}
	return out, nil
}

// SerializePortable writes cache to the portable encoding: one 8-byte
// entry per instruction slot, with no trailing handler table — each
// slot carries enough (handler index + raw instruction) for
// DeserializePortable to rebind it independently.
func SerializePortable(cache *DecoderCache) []byte {
	out := make([]byte, len(cache.Slots)*DataSize)
	for i, slot := range cache.Slots {
		copy(out[i*DataSize:], slot[:])
	}
	return out
}

// Deserialize parses the raw encoding produced by Serialize, installing
// recovered handlers into reg via decode and returning the
// reconstructed cache.
func Deserialize(data []byte, compressed bool, reg *Registry, decode DecodeFunc) (*DecoderCache, error) {
	n := SlotCount(compressed)
	slotBytes := n * DataSize
	if len(data) < slotBytes+1 {
		return nil, fmt.Errorf("decoder: raw cache image too short: got %d bytes, need at least %d", len(data), slotBytes+1)
	}

	cache := NewDecoderCache(compressed)
	for i := 0; i < n; i++ {
		copy(cache.Slots[i][:], data[i*DataSize:(i+1)*DataSize])
	}

	h := int(data[slotBytes])
	off := slotBytes + 1
	needed := off + h*8
	if len(data) < needed {
		return nil, fmt.Errorf("decoder: raw cache image truncated: %d handler bindings need %d bytes, got %d", h, needed, len(data))
	}

	for i := 0; i < h; i++ {
		idx := uint8(binary.LittleEndian.Uint32(data[off:]))
		encoding := binary.LittleEndian.Uint32(data[off+4:])
		_, handler := decode(encoding)
		reg.InstallAt(idx, handler)
		off += 8
	}
	return cache, nil
}

// DeserializePortable parses the portable per-instruction encoding.
// Any slot with a non-zero handler index triggers a decode(instr)
// rebind, since the portable form carries no separate handler table.
func DeserializePortable(data []byte, compressed bool, reg *Registry, decode DecodeFunc) (*DecoderCache, error) {
	n := SlotCount(compressed)
	slotBytes := n * DataSize
	if len(data) != slotBytes {
		return nil, fmt.Errorf("decoder: portable cache image must be exactly %d bytes, got %d", slotBytes, len(data))
	}

	cache := NewDecoderCache(compressed)
	for i := 0; i < n; i++ {
		copy(cache.Slots[i][:], data[i*DataSize:(i+1)*DataSize])
		slot := &cache.Slots[i]
		if !slot.IsInvalidHandler() {
			_, handler := decode(slot.Instr())
			reg.InstallAt(slot.Handler(), handler)
		}
	}
	return cache, nil
}
