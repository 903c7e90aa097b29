package guestmem

import (
	"debug/elf"
	"fmt"
	"sort"
)

// LoaderOptions configures binary_loader's behavior.
type LoaderOptions struct {
	// ProtectSegments, when true, maps PT_LOAD segments with the
	// permissions given in the program header (PF_R/PF_W/PF_X).
	// When false, every loaded page is mapped R+W+X.
	ProtectSegments bool

	// PagesTotal is the hard cap on resident pages for the Memory the
	// loader creates.
	PagesTotal uint64
}

// Symbol describes a resolved backtrace entry: the enclosing function
// symbol (or the closest preceding one) and the byte offset into it.
type Symbol struct {
	Name    string
	Address uint64
	Offset  uint64
}

// Binary is a loaded ELF executable: the populated Memory plus the
// section/symbol tables needed for symbol resolution and backtraces.
type Binary struct {
	Mem *Memory

	elf     *elf.File
	symbols []elf.Symbol // sorted by Value
}

// LoadBinary validates the ELF header, maps PT_LOAD segments into a
// fresh Memory, and resolves start_address/exit_address/elf_end_vaddr.
func LoadBinary(f *elf.File, opt LoaderOptions) (*Binary, error) {
	switch f.Machine {
	case elf.EM_RISCV:
		// expected
	default:
		return nil, fmt.Errorf("guestmem: unsupported ELF machine %s, want RISC-V", f.Machine)
	}
	if f.Type != elf.ET_EXEC {
		return nil, fmt.Errorf("guestmem: unsupported ELF type %s, want ET_EXEC (static binaries only)", f.Type)
	}

	mem := NewMemory(opt.PagesTotal)
	mem.ProtectSegments = opt.ProtectSegments
	if _, err := mem.CreatePage(0, DenyAll); err != nil {
		return nil, fmt.Errorf("guestmem: creating null page: %w", err)
	}

	b := &Binary{Mem: mem, elf: f}

	for _, prog := range f.Progs {
		switch prog.Type {
		case elf.PT_LOAD:
			if err := b.loadSegment(prog, opt.ProtectSegments); err != nil {
				return nil, err
			}
			end := prog.Vaddr + prog.Filesz
			if end > mem.ElfEndVaddr {
				mem.ElfEndVaddr = end
			}
		case elf.PT_GNU_STACK:
			mem.StackAddress = prog.Vaddr
		case elf.PT_GNU_RELRO:
			// recognized, not enforced: marking the relro range
			// read-only after relocation is relevant only to
			// dynamically linked guests, which are out of scope.
		}
	}

	mem.StartAddress = f.Entry
	mem.HeapAddress = (mem.ElfEndVaddr + PageSize - 1) &^ (PageSize - 1)

	if err := b.loadSymbols(); err != nil {
		return nil, err
	}
	if sym, ok := b.ResolveSymbol("_exit"); ok {
		mem.ExitAddress = sym.Value
	}

	return b, nil
}

func (b *Binary) loadSegment(prog *elf.Prog, protect bool) error {
	data := make([]byte, prog.Filesz)
	if prog.Filesz > 0 {
		r := prog.Open()
		if _, err := readFull(r, data); err != nil {
			return fmt.Errorf("guestmem: reading PT_LOAD segment at %#x: %w", prog.Vaddr, err)
		}
	}

	attr := PageAttributes{Read: true, Write: true, Exec: true}
	if protect {
		attr = PageAttributesFromELF(ElfFlags(prog.Flags))
	}

	start := prog.Vaddr
	end := prog.Vaddr + prog.Memsz // remainder up to Memsz is left zero: pages are zeroed on allocation
	for addr := start &^ (PageSize - 1); addr < end; addr += PageSize {
		pageNo := PageNo(addr)
		if _, ok := b.Mem.PageAt(pageNo); !ok {
			// Created writable so the Memcpy below can fill it; the
			// segment's own attributes are applied afterwards.
			if _, err := b.Mem.CreatePage(pageNo, PageAttributes{Read: true, Write: true}); err != nil {
				return err
			}
		}
	}
	if len(data) > 0 {
		if err := b.Mem.Memcpy(start, data); err != nil {
			return err
		}
	}
	// Apply the segment's attributes now that the data is in place:
	// the pages were created writable for the copy above.
	for addr := start &^ (PageSize - 1); addr < end; addr += PageSize {
		if p, ok := b.Mem.PageAt(PageNo(addr)); ok {
			p.Attr = attr
		}
	}
	return nil
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			if total == len(buf) {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

func (b *Binary) loadSymbols() error {
	syms, err := b.elf.Symbols()
	if err != nil {
		// A static binary with a stripped symtab is legal; treat
		// the absence of .symtab as an empty symbol table.
		return nil
	}
	b.symbols = syms
	sort.Slice(b.symbols, func(i, j int) bool { return b.symbols[i].Value < b.symbols[j].Value })
	return nil
}

// SectionByName returns the named section header, if present.
func (b *Binary) SectionByName(name string) *elf.Section {
	return b.elf.Section(name)
}

// ResolveSymbol looks up a symbol by exact name in .symtab/.strtab.
func (b *Binary) ResolveSymbol(name string) (elf.Symbol, bool) {
	for _, s := range b.symbols {
		if s.Name == name {
			return s, true
		}
	}
	return elf.Symbol{}, false
}

// Lookup returns the enclosing function symbol for address, or the
// closest preceding symbol, suitable for backtraces. Names are returned
// exactly as stored in the symbol table: C++ Itanium manglings (leading
// "_Z") are not demangled and no prefix is stripped.
func (b *Binary) Lookup(address uint64) (Symbol, bool) {
	if len(b.symbols) == 0 {
		return Symbol{}, false
	}
	idx := sort.Search(len(b.symbols), func(i int) bool { return b.symbols[i].Value > address })
	if idx == 0 {
		return Symbol{}, false
	}
	sym := b.symbols[idx-1]
	return Symbol{
		Name:    demangle(sym.Name),
		Address: sym.Value,
		Offset:  address - sym.Value,
	}, true
}

func demangle(name string) string {
	// Best-effort only: a full Itanium demangler is out of scope and
	// unused anywhere in the retrieval pack for a core of this size.
	if len(name) > 2 && name[:2] == "_Z" {
		return name
	}
	return name
}
