package decoder

import "unsafe"

// decodeDataHead and decodeDataFull give a typed pointer into the
// first two, respectively all eight, bytes of a DecoderData.
// sync/atomic has no 16-bit operations, so SetAtomicBytecodeAndHandler
// and AtomicOverwrite both go through decodeDataFull: the first with a
// 64-bit compare-and-swap, the second with a single 64-bit store.
// DecoderData is backed by a plain [8]byte array, so these casts never
// alias anything outside the descriptor itself.
func decodeDataHead(d *DecoderData) *uint16 {
	return (*uint16)(unsafe.Pointer(&d[0]))
}

func decodeDataFull(d *DecoderData) *uint64 {
	return (*uint64)(unsafe.Pointer(&d[0]))
}
