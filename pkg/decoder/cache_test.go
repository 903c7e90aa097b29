package decoder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataSetFieldsAndAccessors(t *testing.T) {
	var d DecoderData
	d.SetFields(BytecodeAddi, 7, 3, 0, 0x00150513)
	require.Equal(t, uint8(BytecodeAddi), d.Bytecode())
	require.Equal(t, uint8(7), d.Handler())
	require.Equal(t, uint8(3), d.IdxEnd())
	require.Equal(t, uint8(0), d.ICount())
	require.Equal(t, uint32(0x00150513), d.Instr())
	require.False(t, d.IsInvalidHandler())
}

func TestInvalidHandlerSlotIsZeroValue(t *testing.T) {
	var d DecoderData
	require.True(t, d.IsInvalidHandler())
}

func TestAtomicOverwrite(t *testing.T) {
	var d DecoderData
	var other DecoderData
	other.SetFields(1, 2, 3, 4, 0xcafebabe)
	d.AtomicOverwrite(other)
	require.Equal(t, other, d)
}

func TestSetAtomicBytecodeAndHandler(t *testing.T) {
	var d DecoderData
	d.SetFields(0, 0, 9, 1, 0x11223344)
	d.SetAtomicBytecodeAndHandler(5, 6)
	require.Equal(t, uint8(5), d.Bytecode())
	require.Equal(t, uint8(6), d.Handler())
	// untouched bytes survive the 16-bit store
	require.Equal(t, uint8(9), d.IdxEnd())
	require.Equal(t, uint32(0x11223344), d.Instr())
}

func TestBlockBytesAndInstructionCount(t *testing.T) {
	var d DecoderData
	d.SetFields(0, 1, 4, 1, 0)
	require.Equal(t, uint32(16), d.BlockBytes(false))
	require.Equal(t, uint32(8), d.BlockBytes(true))
	require.Equal(t, uint32(5), d.InstructionCount(false))
	require.Equal(t, uint32(4), d.InstructionCount(true))
}

func TestRegistrySetHandlerDedupsByIdentity(t *testing.T) {
	reg := NewRegistry()
	h := func(cpu any, instr uint32) error { return nil }

	idx1, err := reg.SetHandler(h, 0x1111)
	require.NoError(t, err)
	idx2, err := reg.SetHandler(h, 0x2222)
	require.NoError(t, err)
	require.Equal(t, idx1, idx2, "the same function value must reuse its index")

	enc, ok := reg.RepresentativeEncoding(idx1)
	require.True(t, ok)
	require.Equal(t, uint32(0x1111), enc)
}

func TestRegistryDistinctHandlersGetDistinctIndices(t *testing.T) {
	reg := NewRegistry()
	h1 := func(cpu any, instr uint32) error { return nil }
	h2 := func(cpu any, instr uint32) error { return nil }

	idx1, err := reg.SetHandler(h1, 1)
	require.NoError(t, err)
	idx2, err := reg.SetHandler(h2, 2)
	require.NoError(t, err)
	require.NotEqual(t, idx1, idx2)
}

func TestRegistryHandlerResolvesToLiveFunction(t *testing.T) {
	reg := NewRegistry()
	called := false
	h := func(cpu any, instr uint32) error { called = true; return nil }
	idx, err := reg.SetHandler(h, 0)
	require.NoError(t, err)

	resolved := reg.Handler(idx)
	require.NotNil(t, resolved)
	require.NoError(t, resolved(nil, 0))
	require.True(t, called)
}

func TestSetHandlerSlotBindsCacheToRegistry(t *testing.T) {
	reg := NewRegistry()
	cache := NewDecoderCache(false)
	insn := DecodedInstruction{
		Bytecode:    BytecodeAdd,
		Handler:     func(cpu any, instr uint32) error { return nil },
		RawEncoding: 0x003100b3,
		IdxEnd:      0,
		ICount:      0,
	}
	require.NoError(t, cache.SetHandlerSlot(reg, 10, insn))
	require.Equal(t, uint8(BytecodeAdd), cache.Slots[10].Bytecode())
	require.False(t, cache.Slots[10].IsInvalidHandler())
}
