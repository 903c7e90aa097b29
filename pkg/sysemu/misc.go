package sysemu

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/sys/unix"
)

// ExitEvent is returned by sysExit so an embedding CPU loop
// can distinguish a guest-requested exit from ErrUnhandledSyscall.
type ExitEvent struct {
	Code int
}

func (e *ExitEvent) Error() string {
	return fmt.Sprintf("sysemu: guest exited with code %d", e.Code)
}

func sysExit(m *Machine, regs Regs) error {
	m.Stop()
	return &ExitEvent{Code: int(int32(regs.A(0)))}
}

func sysUname(m *Machine, regs Regs) error {
	var u Utsname
	putUtsnameField(&u.Sysname, "Linux")
	putUtsnameField(&u.Nodename, "rvuser")
	putUtsnameField(&u.Release, "6.1.0-rvuser")
	putUtsnameField(&u.Version, "#1 SMP")
	putUtsnameField(&u.Machine, m.Width.MachineString())
	putUtsnameField(&u.Domainname, "(none)")
	if err := m.Mem.CopyToGuestStruct(regs.A(0), &u); err != nil {
		return err
	}
	regs.SetA0(0)
	return nil
}

func sysUmask(m *Machine, regs Regs) error {
	old := m.umask
	m.umask = uint32(regs.A(0)) & 0o777
	regs.SetA0(uint64(old))
	return nil
}

// sysBrk implements the classic "query with 0, else clamp" brk()
// convention: the requested address is clamped into
// [heap_address, heap_address+BrkMax] and the clamped value is always
// returned, even when it differs from what the guest asked for (the
// same signal glibc's brk wrapper already reads as partial success or
// ENOMEM).
func sysBrk(m *Machine, regs Regs) error {
	if m.brk == 0 {
		m.brk = m.Mem.HeapAddress
	}
	req := regs.A(0)
	if req == 0 {
		regs.SetA0(m.brk)
		return nil
	}
	lo := m.Mem.HeapAddress
	hi := ^uint64(0)
	if m.BrkMax != 0 {
		hi = lo + m.BrkMax
	}
	clamped := req
	if clamped < lo {
		clamped = lo
	}
	if clamped > hi {
		clamped = hi
	}
	if clamped > m.brk {
		if err := m.Mem.Memset(m.brk, 0, clamped-m.brk); err != nil {
			regs.SetA0(m.brk)
			return nil
		}
	}
	m.brk = clamped
	regs.SetA0(m.brk)
	return nil
}

func sysPrlimit64(m *Machine, regs Regs) error {
	newAddr := regs.A(2)
	oldAddr := regs.A(3)
	if oldAddr != 0 {
		var lim struct{ Cur, Max uint64 }
		lim.Cur, lim.Max = ^uint64(0), ^uint64(0)
		if err := m.Mem.CopyToGuestStruct(oldAddr, &lim); err != nil {
			return err
		}
	}
	if newAddr != 0 {
		// accepted and ignored: no resource limit is actually enforced
	}
	regs.SetA0(0)
	return nil
}

// sysGetrandom rejects any request over the 256-byte ceiling outright
// rather than silently truncating it, so a guest asking for more
// randomness than promised gets an error instead of a short,
// unexpectedly-sized fill.
func sysGetrandom(m *Machine, regs Regs) error {
	addr := regs.A(0)
	count := regs.A(1)
	if count > getrandomCap {
		reflectErrno(regs, 0, unix.EINVAL)
		return nil
	}
	buf := make([]byte, count)
	n, err := rand.Read(buf)
	if err != nil {
		reflectErrno(regs, 0, unix.EIO)
		return nil
	}
	if err := m.Mem.Memcpy(addr, buf[:n]); err != nil {
		return err
	}
	regs.SetA0(uint64(n))
	return nil
}
