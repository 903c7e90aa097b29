package sysemu

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bassosimone/rvuser/pkg/fdtable"
	"github.com/bassosimone/rvuser/pkg/guestmem"
)

type testRegs struct {
	a  [8]uint64
	pc uint64
	sp uint64
}

func (r *testRegs) A(i int) uint64 { return r.a[i] }
func (r *testRegs) SetA0(v uint64) { r.a[0] = v }
func (r *testRegs) PC() uint64     { return r.pc }
func (r *testRegs) SetPC(v uint64) { r.pc = v }
func (r *testRegs) SP() uint64     { return r.sp }
func (r *testRegs) SetSP(v uint64) { r.sp = v }

func newTestMachine(t *testing.T, opt Options) (*Machine, *guestmem.Memory) {
	t.Helper()
	mem := guestmem.NewMemory(1 << 16)
	if opt.Width == 0 {
		opt.Width = Width64
	}
	m := NewMachine(mem, opt)
	return m, mem
}

func TestHelloViaWritev(t *testing.T) {
	var captured []byte
	m, mem := newTestMachine(t, Options{
		Print: func(fd int, p []byte) { captured = append(captured, p...) },
	})

	const bufAddr = 0x10000
	require.NoError(t, mem.Memcpy(bufAddr, []byte("hello\n")))

	const iovAddr = 0x20000
	type iovec64 struct{ Base, Len uint64 }
	iovs := [2]iovec64{{bufAddr, 5}, {bufAddr + 5, 1}}
	require.NoError(t, mem.CopyToGuestStruct(iovAddr, &iovs))

	regs := &testRegs{a: [8]uint64{1, iovAddr, 2, 0, 0, 0, 0, SysWritev}}
	require.NoError(t, m.Syscall(regs))

	require.Equal(t, uint64(6), regs.A(0))
	require.Equal(t, "hello\n", string(captured))
}

func TestOpenatThenRead(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "rvuser-test")
	require.NoError(t, err)
	_, err = f.WriteString("guestdata")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	m, mem := newTestMachine(t, Options{Filesystem: true, Filters: fdtable.Filters{}})
	defer m.FD.CloseAll()

	const pathAddr = 0x30000
	require.NoError(t, mem.Memcpy(pathAddr, append([]byte(f.Name()), 0)))

	regs := &testRegs{a: [8]uint64{uint64(uint32(0xFFFFFF9C)), pathAddr, 0, 0, 0, 0, 0, SysOpenat}}
	require.NoError(t, m.Syscall(regs))
	vfd := int32(regs.A(0))
	require.GreaterOrEqual(t, vfd, int32(3))

	const readBufAddr = 0x40000
	regs = &testRegs{a: [8]uint64{uint64(vfd), readBufAddr, 64, 0, 0, 0, 0, SysRead}}
	require.NoError(t, m.Syscall(regs))
	require.Equal(t, uint64(9), regs.A(0))

	got, err := mem.CopyFromGuest(readBufAddr, 9)
	require.NoError(t, err)
	require.Equal(t, "guestdata", string(got))

	regs = &testRegs{a: [8]uint64{uint64(vfd), 0, 0, 0, 0, 0, 0, SysClose}}
	require.NoError(t, m.Syscall(regs))
	require.Equal(t, uint64(0), regs.A(0))

	_, ok := m.FD.Translate(int(vfd))
	require.False(t, ok)
}

func TestGetrandomBound(t *testing.T) {
	m, mem := newTestMachine(t, Options{})

	regs := &testRegs{a: [8]uint64{0x50000, 512, 0, 0, 0, 0, 0, SysGetrandom}}
	require.NoError(t, m.Syscall(regs))
	require.Less(t, int64(regs.A(0)), int64(0), "over-ceiling request must fail, not silently truncate")

	regs = &testRegs{a: [8]uint64{0x50000, 128, 0, 0, 0, 0, 0, SysGetrandom}}
	require.NoError(t, m.Syscall(regs))
	require.Equal(t, uint64(128), regs.A(0))

	_, err := mem.CopyFromGuest(0x50000, 128)
	require.NoError(t, err)
}

func newBrkTestMachine(t *testing.T) *Machine {
	t.Helper()
	mem := guestmem.NewMemory(1 << 20)
	mem.HeapAddress = 0x80000000
	return NewMachine(mem, Options{Width: Width64, BrkMax: 0x1000000})
}

// TestBrkClampsToMax covers the first of the two independent brk()
// facts from the worked example: an out-of-range request clamps to
// heap_address+BrkMax. TestBrkQueryReportsHeapAddress covers the
// second: querying with 0 on a fresh break reports heap_address.
func TestBrkClampsToMax(t *testing.T) {
	m := newBrkTestMachine(t)
	regs := &testRegs{a: [8]uint64{0x90000000, 0, 0, 0, 0, 0, 0, SysBrk}}
	require.NoError(t, m.Syscall(regs))
	require.Equal(t, uint64(0x81000000), regs.A(0), "a request beyond heap_address+BrkMax clamps to that ceiling")
}

func TestBrkQueryReportsHeapAddress(t *testing.T) {
	m := newBrkTestMachine(t)
	regs := &testRegs{a: [8]uint64{0, 0, 0, 0, 0, 0, 0, SysBrk}}
	require.NoError(t, m.Syscall(regs))
	require.Equal(t, uint64(0x80000000), regs.A(0))
}

// TestBrkQueryReportsCurrentBreak confirms brk(0) is a live query, not a
// reset: after a prior call moves the break, a later brk(0) reports the
// break as it stands now, matching the real kernel's brk(0) semantics.
func TestBrkQueryReportsCurrentBreak(t *testing.T) {
	m := newBrkTestMachine(t)
	regs := &testRegs{a: [8]uint64{0x80100000, 0, 0, 0, 0, 0, 0, SysBrk}}
	require.NoError(t, m.Syscall(regs))
	require.Equal(t, uint64(0x80100000), regs.A(0))

	regs = &testRegs{a: [8]uint64{0, 0, 0, 0, 0, 0, 0, SysBrk}}
	require.NoError(t, m.Syscall(regs))
	require.Equal(t, uint64(0x80100000), regs.A(0))
}

func TestSigactionRoundTrip(t *testing.T) {
	m, mem := newTestMachine(t, Options{})

	type kernelSigaction64 struct{ Handler, Flags, Mask uint64 }
	const newAddr = 0x60000
	const oldAddr = 0x61000

	in := kernelSigaction64{Handler: 0x1234, Flags: 0x08000000 /* SA_ONSTACK */, Mask: 0xF}
	require.NoError(t, mem.CopyToGuestStruct(newAddr, &in))

	regs := &testRegs{a: [8]uint64{10, newAddr, 0, 0, 0, 0, 0, SysRtSigaction}}
	require.NoError(t, m.Syscall(regs))

	regs = &testRegs{a: [8]uint64{10, 0, oldAddr, 0, 0, 0, 0, SysRtSigaction}}
	require.NoError(t, m.Syscall(regs))

	var out kernelSigaction64
	require.NoError(t, mem.CopyFromGuestStruct(oldAddr, &out))
	require.Equal(t, uint64(0x1234), out.Handler)
	require.Equal(t, uint64(0x08000000), out.Flags)
	require.Equal(t, uint64(0xF), out.Mask)
}

func TestTgkillPushesSigreturnFrame(t *testing.T) {
	m, mem := newTestMachine(t, Options{})

	type kernelSigaction64 struct{ Handler, Flags, Mask uint64 }
	const actionAddr = 0x62000
	in := kernelSigaction64{Handler: 0x5000}
	require.NoError(t, mem.CopyToGuestStruct(actionAddr, &in))
	regs := &testRegs{a: [8]uint64{10, actionAddr, 0, 0, 0, 0, 0, SysRtSigaction}}
	require.NoError(t, m.Syscall(regs))

	tg := &testRegs{pc: 0x1000, sp: 0x9000, a: [8]uint64{1, 1, 10, 0, 0, 0, 0, SysTgkill}}
	require.NoError(t, m.Syscall(tg))
	require.Equal(t, uint64(0x5000), tg.PC())
	require.Equal(t, uint64(0x9000-sigreturnFrameSize), tg.SP())

	var frame sigreturnFrame
	require.NoError(t, mem.CopyFromGuestStruct(tg.SP(), &frame))
	require.Equal(t, uint64(0x1000), frame.PC)
	require.Equal(t, uint64(0x9000), frame.SP)

	// Syscall 131 is the tgkill alias folded into the same handler.
	tg2 := &testRegs{pc: 0x1100, sp: 0x9000, a: [8]uint64{1, 1, 10, 0, 0, 0, 0, SysTgkillAlias}}
	require.NoError(t, m.Syscall(tg2))
	require.Equal(t, uint64(0x5000), tg2.PC())
}

func TestUnameReportsConfiguredWidth(t *testing.T) {
	m, mem := newTestMachine(t, Options{Width: Width64})
	regs := &testRegs{a: [8]uint64{0x70000, 0, 0, 0, 0, 0, 0, SysUname}}
	require.NoError(t, m.Syscall(regs))

	var u Utsname
	require.NoError(t, mem.CopyFromGuestStruct(0x70000, &u))
	require.Contains(t, string(u.Machine[:]), "rv64")
}

func TestUnknownSyscallReflectsENOSYS(t *testing.T) {
	m, _ := newTestMachine(t, Options{})
	regs := &testRegs{a: [8]uint64{0, 0, 0, 0, 0, 0, 0, 999999}}
	require.NoError(t, m.Syscall(regs))
	require.Less(t, int64(regs.A(0)), int64(0))
}
