package guestmem

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// GatherSpan is one contiguous host-memory span backing part of a
// guest range. It stands in for the neutral {ptr,len} pair the gather
// primitive is specified to return: a Go slice already carries its own
// length, so one field is enough. Syscall handlers adapt a []GatherSpan
// to whatever vectored-I/O type the host call expects (net.Buffers,
// [][]byte, ...).
type GatherSpan struct {
	Host []byte
}

// pageCache remembers the last page touched in one direction so that
// sequential access can skip the map lookup. It is invalidated
// whenever the page it names is allocated or has its attributes changed.
type pageCache struct {
	valid  bool
	pageNo uint64
	page   *Page
}

func (c *pageCache) invalidate(pageNo uint64) {
	if c.valid && c.pageNo == pageNo {
		c.valid = false
		c.page = nil
	}
}

// Memory is the guest's page table: a map from page number (guest
// address >> PageShift) to Page, plus the scalars the loader and
// syscall layer need to agree on (entry point, stack/heap/brk bounds).
type Memory struct {
	pages map[uint64]*Page

	pagesTotal   uint64
	pagesActive  uint64
	pagesHighest uint64

	readCache  pageCache
	writeCache pageCache

	ProtectSegments bool

	StartAddress  uint64 // ELF entry point
	StackAddress  uint64 // PT_GNU_STACK-derived top of stack
	HeapAddress   uint64 // brk() base
	ElfEndVaddr   uint64 // highest mapped PT_LOAD end
	ExitAddress   uint64 // resolved _exit symbol, 0 if absent
}

// NewMemory creates an empty page table with a hard cap of pagesTotal
// resident pages. Page 0 is not created automatically; callers doing
// full initial paging should call CreatePage(0, DenyAll) themselves,
// as binary_loader does.
func NewMemory(pagesTotal uint64) *Memory {
	return &Memory{
		pages:      make(map[uint64]*Page),
		pagesTotal: pagesTotal,
	}
}

// PageNo converts a guest virtual address to a page number.
func PageNo(addr uint64) uint64 { return addr >> PageShift }

// PageOffset returns the in-page offset of a guest virtual address.
func PageOffset(addr uint64) uint64 { return addr & (PageSize - 1) }

// PagesActive returns the number of currently resident pages.
func (m *Memory) PagesActive() uint64 { return m.pagesActive }

// PagesHighest returns the peak number of resident pages observed.
func (m *Memory) PagesHighest() uint64 { return m.pagesHighest }

func (m *Memory) invalidateCaches(pageNo uint64) {
	m.readCache.invalidate(pageNo)
	m.writeCache.invalidate(pageNo)
}

func (m *Memory) insert(pageNo uint64, p *Page) {
	if _, exists := m.pages[pageNo]; !exists {
		m.pagesActive++
		if m.pagesActive > m.pagesHighest {
			m.pagesHighest = m.pagesActive
		}
	}
	m.pages[pageNo] = p
	m.invalidateCaches(pageNo)
}

// AllocatePage inserts a freshly zeroed owned page at pageNo.
func (m *Memory) AllocatePage(pageNo uint64, attr PageAttributes) (*Page, error) {
	if m.pagesActive >= m.pagesTotal {
		return nil, fmt.Errorf("%w: page %#x would exceed %d resident pages", ErrOutOfMemory, pageNo, m.pagesTotal)
	}
	p := NewOwnedPage(attr)
	m.insert(pageNo, p)
	return p, nil
}

// CreatePage behaves like AllocatePage; it exists as a distinct name
// because the loader uses it during initial paging,
// including for page 0 which must be created with DenyAll.
func (m *Memory) CreatePage(pageNo uint64, attr PageAttributes) (*Page, error) {
	return m.AllocatePage(pageNo, attr)
}

// InstallSharedPage places a caller-owned shared page at pageNo. It
// fails if an existing page there is not a COW page, or if page.Attr.Shared
// is false.
func (m *Memory) InstallSharedPage(pageNo uint64, page *Page) error {
	if !page.Attr.Shared {
		return fmt.Errorf("%w: page to install at %#x is not marked shared", ErrIllegalOperation, pageNo)
	}
	if existing, ok := m.pages[pageNo]; ok && !existing.Attr.IsCow {
		return fmt.Errorf("%w: page %#x is occupied by a non-COW page", ErrIllegalOperation, pageNo)
	}
	m.insert(pageNo, page)
	return nil
}

// DefaultPageFault performs on-demand page creation: it allocates a
// fresh owned page if the quota allows, failing with ErrOutOfMemory
// otherwise.
func (m *Memory) DefaultPageFault(pageNo uint64) (*Page, error) {
	attr := PageAttributes{Read: true, Write: true, Exec: false}
	return m.AllocatePage(pageNo, attr)
}

// PageAt returns the page resident at pageNo, if any.
func (m *Memory) PageAt(pageNo uint64) (*Page, bool) {
	p, ok := m.pages[pageNo]
	return p, ok
}

// resolve returns the page backing pageNo, consulting and updating
// the per-direction cache, and faulting it in via DefaultPageFault
// when absent. If forWrite is true and the resolved page is COW, it is
// materialized into an owned copy first.
func (m *Memory) resolve(pageNo uint64, forWrite bool) (*Page, error) {
	cache := &m.readCache
	if forWrite {
		cache = &m.writeCache
	}
	if cache.valid && cache.pageNo == pageNo {
		p := cache.page
		if forWrite && p.Attr.IsCow {
			p.cowToOwned()
		}
		if forWrite && !p.Attr.Write {
			return nil, fmt.Errorf("%w: page %#x is not writable", ErrSegFault, pageNo)
		}
		if !forWrite && !p.Attr.Read {
			return nil, fmt.Errorf("%w: page %#x is not readable", ErrSegFault, pageNo)
		}
		return p, nil
	}
	p, ok := m.pages[pageNo]
	if !ok {
		var err error
		p, err = m.DefaultPageFault(pageNo)
		if err != nil {
			return nil, err
		}
	}
	if forWrite && p.Attr.IsCow {
		p.cowToOwned()
	}
	if forWrite && !p.Attr.Write {
		return nil, fmt.Errorf("%w: page %#x is not writable", ErrSegFault, pageNo)
	}
	if !forWrite && !p.Attr.Read {
		return nil, fmt.Errorf("%w: page %#x is not readable", ErrSegFault, pageNo)
	}
	cache.valid = true
	cache.pageNo = pageNo
	cache.page = p
	return p, nil
}

// Memset writes n copies of b starting at guest address addr, walking
// page by page and faulting in pages as needed.
func (m *Memory) Memset(addr uint64, b byte, n uint64) error {
	for n > 0 {
		pageNo := PageNo(addr)
		off := PageOffset(addr)
		chunk := PageSize - off
		if uint64(chunk) > n {
			chunk = uint64(n)
		}
		p, err := m.resolve(pageNo, true)
		if err != nil {
			return err
		}
		buf := p.Buf[off : off+chunk]
		for i := range buf {
			buf[i] = b
		}
		addr += chunk
		n -= chunk
	}
	return nil
}

// Memcpy copies src into guest memory starting at addr.
func (m *Memory) Memcpy(addr uint64, src []byte) error {
	for len(src) > 0 {
		pageNo := PageNo(addr)
		off := PageOffset(addr)
		chunk := PageSize - off
		if uint64(chunk) > uint64(len(src)) {
			chunk = uint64(len(src))
		}
		p, err := m.resolve(pageNo, true)
		if err != nil {
			return err
		}
		copy(p.Buf[off:off+chunk], src[:chunk])
		addr += chunk
		src = src[chunk:]
	}
	return nil
}

// CopyFromGuest reads n bytes of guest memory starting at addr into a
// freshly allocated host buffer.
func (m *Memory) CopyFromGuest(addr uint64, n uint64) ([]byte, error) {
	out := make([]byte, n)
	cursor := out
	for uint64(len(cursor)) > 0 {
		pageNo := PageNo(addr)
		off := PageOffset(addr)
		chunk := PageSize - off
		if uint64(chunk) > uint64(len(cursor)) {
			chunk = uint64(len(cursor))
		}
		p, err := m.resolve(pageNo, false)
		if err != nil {
			return nil, err
		}
		copy(cursor[:chunk], p.Buf[off:off+chunk])
		addr += chunk
		cursor = cursor[chunk:]
	}
	return out, nil
}

// Memstring reads a NUL-terminated string starting at addr, one page
// at a time, and returns it without the trailing NUL.
func (m *Memory) Memstring(addr uint64) (string, error) {
	var out bytes.Buffer
	for {
		pageNo := PageNo(addr)
		off := PageOffset(addr)
		p, err := m.resolve(pageNo, false)
		if err != nil {
			return "", err
		}
		for _, c := range p.Buf[off:] {
			if c == 0 {
				return out.String(), nil
			}
			out.WriteByte(c)
		}
		addr += PageSize - off
	}
}

// CopyToGuestStruct little-endian-encodes v and writes it to guest
// memory at addr; v must be a fixed-size value accepted by
// encoding/binary.Write (struct of fixed-width fields, no pointers).
func (m *Memory) CopyToGuestStruct(addr uint64, v any) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("guestmem: encoding struct for guest copy: %w", err)
	}
	return m.Memcpy(addr, buf.Bytes())
}

// CopyFromGuestStruct reads sizeof(v) bytes from guest memory at addr
// and little-endian-decodes them into v, which must be a pointer.
func (m *Memory) CopyFromGuestStruct(addr uint64, v any) error {
	n := uint64(binary.Size(v))
	raw, err := m.CopyFromGuest(addr, n)
	if err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(raw), binary.LittleEndian, v)
}

// GatherBuffersFromRange fills out, up to max entries, with the
// contiguous host spans backing [addr, addr+length) in order. It
// returns the number of spans written. Every entry covers a mapped
// page; an unmapped page triggers a page fault (which may allocate).
// write selects whether the spans must be writable (COW pages are
// materialized) or merely readable.
func (m *Memory) GatherBuffersFromRange(out []GatherSpan, addr uint64, length uint64, write bool) (int, error) {
	n := 0
	for length > 0 {
		if n >= len(out) {
			return n, fmt.Errorf("guestmem: gather exceeded %d spans", len(out))
		}
		pageNo := PageNo(addr)
		off := PageOffset(addr)
		chunk := PageSize - off
		if uint64(chunk) > length {
			chunk = uint64(length)
		}
		p, err := m.resolve(pageNo, write)
		if err != nil {
			return n, err
		}
		out[n] = GatherSpan{Host: p.Buf[off : off+chunk]}
		n++
		addr += chunk
		length -= chunk
	}
	return n, nil
}
