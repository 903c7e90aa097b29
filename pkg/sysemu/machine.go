package sysemu

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"

	"github.com/bassosimone/rvuser/pkg/fdtable"
	"github.com/bassosimone/rvuser/pkg/guestmem"
	"github.com/bassosimone/rvuser/pkg/sigtable"
)

// ErrUnhandledSyscall is raised explicitly by EBREAK (syscall 17). A
// syscall number absent from the dispatch table does not raise it:
// Syscall reflects -ENOSYS to the guest instead.
var ErrUnhandledSyscall = errors.New("sysemu: unhandled syscall")

// Regs is the only contract a syscall handler needs from the CPU
// execution dispatch loop: the RISC-V calling convention's argument
// registers a0..a5, the syscall number a7, the return-value register
// a0, and the program counter. Everything about fetch/decode/execute
// beyond this contract is out of scope here.
type Regs interface {
	A(i int) uint64   // a0..a5 for i in 0..5; a7 for i == 7
	SetA0(v uint64)
	PC() uint64
	SetPC(v uint64)
	SP() uint64
	SetSP(v uint64)
}

// StdinReader is the host's configurable source for guest reads from
// vfd 0; it exists as its own type so a host embedding this emulator
// can impose its own buffering or capture policy.
type StdinReader interface {
	Read(p []byte) (int, error)
}

// Printer is the host's sink for guest writes to vfd 1/2 — the
// "print" collaborator used by write/writev.
type Printer func(fd int, p []byte)

// Options configures a Machine. The Memory's own page-count cap is set
// when it is constructed (guestmem.NewMemory/LoadBinary); Options only
// covers what a Machine layers on top of an already-paged address space.
type Options struct {
	Width      Width
	BrkMax     uint64
	Stdin      StdinReader
	Print      Printer
	Filesystem bool
	Filters    fdtable.Filters
	Budget     *uint64 // instruction budget; Stop() zeroes it
}

// Machine ties guest memory, the virtual fd table, and the signal
// table together and implements the syscall dispatch table.
type Machine struct {
	Mem    *guestmem.Memory
	FD     *fdtable.Table
	Sig    *sigtable.Table
	Width  Width
	BrkMax uint64
	Stdin  StdinReader
	Print  Printer
	umask  uint32
	brk    uint64
	budget *uint64
}

// NewMachine wires a Machine around an already-loaded Memory. FD is
// created only when opt.Filesystem is set, matching the contract that the
// "created on demand when the machine is configured with filesystem
// or socket support"; when filesystem support is enabled, SIGPIPE is
// ignored process-wide so a broken pipe/socket never kills the host.
func NewMachine(mem *guestmem.Memory, opt Options) *Machine {
	m := &Machine{
		Mem:    mem,
		Sig:    sigtable.NewTable(),
		Width:  opt.Width,
		BrkMax: opt.BrkMax,
		Stdin:  opt.Stdin,
		Print:  opt.Print,
		budget: opt.Budget,
	}
	if opt.Filesystem {
		m.FD = fdtable.New(true, opt.Filters)
		ignoreSIGPIPE()
	}
	if m.Stdin == nil {
		m.Stdin = os.Stdin
	}
	if m.Print == nil {
		m.Print = func(fd int, p []byte) {
			if fd == 2 {
				os.Stderr.Write(p)
				return
			}
			os.Stdout.Write(p)
		}
	}
	return m
}

// Stop zeroes the instruction budget so the (external) interpreter
// loop returns on its next check: stopping the machine is modeled by
// zeroing the instruction budget, not by any direct control-flow signal.
func (m *Machine) Stop() {
	if m.budget != nil {
		*m.budget = 0
	}
}

// errnoOf extracts a Linux errno from a host error, defaulting to EIO
// for errors that did not originate from a unix syscall.
func errnoOf(err error) int {
	if err == nil {
		return 0
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return int(unix.EIO)
}

// reflectErrno writes -errno into a0 per the Linux kernel ABI
// convention for a failed host call, or the non-negative result on
// success.
func reflectErrno(regs Regs, result int64, err error) {
	if err != nil {
		regs.SetA0(uint64(int64(-errnoOf(err))))
		return
	}
	regs.SetA0(uint64(result))
}
