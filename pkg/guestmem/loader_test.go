package guestmem

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildMinimalRISCVELF assembles, by hand, the smallest ET_EXEC/EM_RISCV
// ELF64 file debug/elf will parse: one PT_LOAD segment containing code,
// no section headers, no symbol table.
func buildMinimalRISCVELF(t *testing.T, entry, vaddr uint64, code []byte) []byte {
	t.Helper()
	const ehdrSize = 64
	const phdrSize = 56

	var buf bytes.Buffer

	ident := [16]byte{0x7f, 'E', 'L', 'F', 2 /* ELFCLASS64 */, 1 /* ELFDATA2LSB */, 1, 0}
	buf.Write(ident[:])

	write := func(v any) { require.NoError(t, binary.Write(&buf, binary.LittleEndian, v)) }

	write(uint16(elf.ET_EXEC))
	write(uint16(elf.EM_RISCV))
	write(uint32(1)) // e_version
	write(uint64(entry))
	write(uint64(ehdrSize)) // e_phoff
	write(uint64(0))        // e_shoff
	write(uint32(0))        // e_flags
	write(uint16(ehdrSize))
	write(uint16(phdrSize))
	write(uint16(1)) // e_phnum
	write(uint16(0)) // e_shentsize
	write(uint16(0)) // e_shnum
	write(uint16(0)) // e_shstrndx

	fileOff := uint64(ehdrSize + phdrSize)
	write(uint32(elf.PT_LOAD))
	write(uint32(elf.PF_R | elf.PF_X))
	write(fileOff)          // p_offset
	write(vaddr)            // p_vaddr
	write(vaddr)            // p_paddr
	write(uint64(len(code))) // p_filesz
	write(uint64(len(code))) // p_memsz
	write(uint64(PageSize))  // p_align

	buf.Write(code)
	return buf.Bytes()
}

func TestLoadBinaryMapsEntryAndCode(t *testing.T) {
	code := []byte{0x13, 0x00, 0x00, 0x00} // addi x0, x0, 0 (nop)
	const vaddr = 0x10000
	raw := buildMinimalRISCVELF(t, vaddr, vaddr, code)

	f, err := elf.NewFile(bytes.NewReader(raw))
	require.NoError(t, err)

	bin, err := LoadBinary(f, LoaderOptions{ProtectSegments: true, PagesTotal: 1024})
	require.NoError(t, err)
	require.Equal(t, uint64(vaddr), bin.Mem.StartAddress)

	got, err := bin.Mem.CopyFromGuest(vaddr, uint64(len(code)))
	require.NoError(t, err)
	require.Equal(t, code, got)

	p, ok := bin.Mem.PageAt(PageNo(vaddr))
	require.True(t, ok)
	require.True(t, p.Attr.Read)
	require.True(t, p.Attr.Exec)
	require.False(t, p.Attr.Write)
}

func TestLoadBinaryRejectsWrongMachine(t *testing.T) {
	code := []byte{0, 0, 0, 0}
	raw := buildMinimalRISCVELF(t, 0x1000, 0x1000, code)
	// Flip e_machine (bytes 18-19) to something else.
	raw[18], raw[19] = 0x03, 0x00 // EM_386
	f, err := elf.NewFile(bytes.NewReader(raw))
	require.NoError(t, err)
	_, err = LoadBinary(f, LoaderOptions{PagesTotal: 16})
	require.Error(t, err)
}

func TestLoadBinaryCreatesDenyAllNullPage(t *testing.T) {
	code := []byte{0, 0, 0, 0}
	raw := buildMinimalRISCVELF(t, 0x10000, 0x10000, code)
	f, err := elf.NewFile(bytes.NewReader(raw))
	require.NoError(t, err)
	bin, err := LoadBinary(f, LoaderOptions{PagesTotal: 1024})
	require.NoError(t, err)

	p, ok := bin.Mem.PageAt(0)
	require.True(t, ok)
	require.Equal(t, DenyAll, p.Attr)
}
