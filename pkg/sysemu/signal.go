package sysemu

import (
	"golang.org/x/sys/unix"

	"github.com/bassosimone/rvuser/pkg/sigtable"
)

func sysRtSigaction(m *Machine, regs Regs) error {
	sig := int(regs.A(0))
	newAddr := regs.A(1)
	oldAddr := regs.A(2)

	old := m.Sig.Action(sig)
	if oldAddr != 0 {
		a := sigtable.Action{Handler: old.Handler, Mask: old.Mask, Flags: old.Flags}
		if err := writeSigaction(m.Mem, oldAddr, m.Width, KernelSigaction{
			Handler: a.Handler, Flags: a.Flags, Mask: a.Mask,
		}); err != nil {
			return err
		}
	}

	// Signal 0 is a pure probe: the old-out above already ran, and
	// installing a new action for it is a no-op rather than an error.
	if sig != 0 && newAddr != 0 {
		raw, err := readSigaction(m.Mem, newAddr, m.Width)
		if err != nil {
			return err
		}
		// Only SA_ONSTACK round-trips through sa_flags; every other bit
		// the guest set is discarded rather than echoed back later.
		flags := raw.Flags & uint64(sigtable.FlagOnStack)
		action := sigtable.Action{
			Handler:  raw.Handler,
			Mask:     raw.Mask,
			Flags:    flags,
			AltStack: flags != 0,
		}
		if _, ok := m.Sig.SetAction(sig, action); !ok {
			reflectErrno(regs, 0, unix.EINVAL)
			return nil
		}
	}
	regs.SetA0(0)
	return nil
}

func sysSigaltstack(m *Machine, regs Regs) error {
	newAddr := regs.A(0)
	oldAddr := regs.A(1)

	old := m.Sig.AltStack()
	if oldAddr != 0 {
		var raw struct {
			SP    uint64
			Flags uint32
			Size  uint64
		}
		raw.SP, raw.Flags, raw.Size = old.SP, uint32(old.Flags), old.Size
		if !old.Enabled {
			raw.Flags |= 2 // SS_DISABLE
		}
		if err := m.Mem.CopyToGuestStruct(oldAddr, &raw); err != nil {
			return err
		}
	}

	if newAddr != 0 {
		var raw struct {
			SP    uint64
			Flags uint32
			Size  uint64
		}
		if err := m.Mem.CopyFromGuestStruct(newAddr, &raw); err != nil {
			return err
		}
		m.Sig.SetAltStack(sigtable.AltStack{
			SP:      raw.SP,
			Flags:   uint64(raw.Flags),
			Size:    raw.Size,
			Enabled: raw.Flags&2 == 0, // not SS_DISABLE
		})
	}
	regs.SetA0(0)
	return nil
}

// sigreturnFrame is the minimal context a delivered signal's handler
// needs to restore the interrupted thread and sigreturn back to it:
// the PC and SP sampled the instant before Enter redirected them.
type sigreturnFrame struct {
	PC uint64
	SP uint64
}

const sigreturnFrameSize = 16

// sysKill backs both kill (syscall 129, not wired here since the
// supplemental table only needs tgkill) and tgkill: delivery is
// software-only per package sigtable's doc, so this never raises a
// real host signal regardless of the target thread/process id.
//
// sigtable.Table.Enter only redirects PC/SP; it has no guest memory to
// write to. sysKill is the one call site that does, so it is the one
// responsible for actually pushing the saved PC/SP onto the handler's
// stack (below whatever Enter left in SP — the altstack top when
// SA_ONSTACK applies, the guest's own SP otherwise) so the guest
// handler's sigreturn path has something to restore from.
func sysKill(m *Machine, regs Regs) error {
	sig := int(regs.A(2))
	savedPC, savedSP, delivered := m.Sig.Enter(regs, sig)
	if delivered {
		frameAddr := regs.SP() - sigreturnFrameSize
		if err := m.Mem.CopyToGuestStruct(frameAddr, &sigreturnFrame{PC: savedPC, SP: savedSP}); err != nil {
			return err
		}
		regs.SetSP(frameAddr)
	}
	regs.SetA0(0)
	return nil
}
