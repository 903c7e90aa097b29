package sysemu

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// HandlerFunc implements one syscall number. It reads its arguments
// from regs.A(0)..A(5), writes its result (or -errno) to a0, and
// returns a non-nil error only when the run should stop: EBREAK's
// UnhandledSyscall, a fault while accessing guest memory (including
// gather/scatter), and exit/exit_group's *ExitEvent.
type HandlerFunc func(m *Machine, regs Regs) error

// table is the process syscall dispatch table, indexed by RISC-V
// syscall number (a7). It is built once; Syscall looks the number up
// in this map rather than in a [N]HandlerFunc array, since RISC-V
// syscall numbers are sparse.
var table = map[uint64]HandlerFunc{
	SysEBREAK: func(m *Machine, regs Regs) error {
		return fmt.Errorf("%w: EBREAK instruction", ErrUnhandledSyscall)
	},

	SysEpollCreate: stubENOSYS, // no epoll module is wired in: -ENOSYS
	SysEpollCtl:    stubENOSYS,
	SysEpollPWait:  stubENOSYS,
	SysPselect6:    stubENOSYS, // no select module is wired in: -ENOSYS
	SysPpoll:       stubENOSYS, // no poll module is wired in: -ENOSYS

	SysDup:        sysDup,
	SysDup3:       sysDup3,
	SysFcntl:      sysFcntl,
	SysIoctl:      sysIoctl,
	SysFaccessat:  sysFaccessat,
	SysChdir:      sysChdir,
	SysOpenat:     sysOpenat,
	SysClose:      sysClose,
	SysPipe2:      sysPipe2,
	SysGetdents64: sysGetdents64,
	SysLseek:      sysLseek,
	SysRead:       sysRead,
	SysWrite:      sysWrite,
	SysReadv:      sysReadv,
	SysWritev:     sysWritev,
	SysReadlinkat: sysReadlinkat,
	SysFstatat:    sysFstatat,
	SysFstat:      sysFstat,
	SysStatx:      sysStatx,

	SysExit:      sysExit,
	SysExitGroup: sysExit,

	SysSetTidAddress: func(m *Machine, regs Regs) error { regs.SetA0(1); return nil },
	SysSetRobustList: func(m *Machine, regs Regs) error { regs.SetA0(0); return nil },
	SysGettid:        func(m *Machine, regs Regs) error { regs.SetA0(1); return nil },

	SysNanosleep:        sysNanosleep,
	SysClockGettime:     sysClockGettime,
	SysClockNanosleep:   sysClockNanosleep,
	SysGettimeofday:     sysGettimeofday,
	SysClockGettime64:   sysClockGettime64,

	SysSchedGetaffinity: stubENOSYS,

	SysTgkill:        sysKill,
	SysTgkillAlias:   sysKill,
	SysSigaltstack:   sysSigaltstack,
	SysRtSigaction:   sysRtSigaction,
	SysRtSigprocmask: func(m *Machine, regs Regs) error { regs.SetA0(0); return nil },

	SysUname: sysUname,
	SysUmask: sysUmask,

	SysGetpid:  zero,
	SysGetuid:  zero,
	SysGeteuid: zero,
	SysGetgid:  zero,
	SysGetegid: zero,

	SysBrk:       sysBrk,
	SysMsync:     zero,
	SysPrlimit64: sysPrlimit64,
	SysGetrandom: sysGetrandom,
}

func zero(m *Machine, regs Regs) error {
	regs.SetA0(0)
	return nil
}

func stubENOSYS(m *Machine, regs Regs) error {
	reflectErrno(regs, 0, unix.ENOSYS)
	return nil
}

// Syscall dispatches on regs.A(7). A syscall number absent from the
// table reflects -ENOSYS to the guest rather than terminating the run,
// matching how a real kernel responds to an unimplemented syscall number.
func (m *Machine) Syscall(regs Regs) error {
	num := regs.A(7)
	h, ok := table[num]
	if !ok {
		reflectErrno(regs, 0, unix.ENOSYS)
		return nil
	}
	return h(m, regs)
}
