// Package sigtable implements the process-wide signal action table and
// the per-thread alternate signal stack used by the syscall emulation
// layer's rt_sigaction/sigaltstack/kill family.
//
// Signal delivery here is purely a guest-software concept: entering a
// handler means redirecting the guest PC and (optionally) guest SP,
// exactly as the Linux kernel would before a sigreturn — no real host
// OS signal is ever raised on the guest's behalf.
package sigtable

// NumSignals is one more than the highest signal number this table
// tracks (Linux defines real-time signals up to 64).
const NumSignals = 65

// Flag bits recognized in an Action's Flags field. Only SA_ONSTACK is
// meaningful to this emulation layer; every other bit round-trips
// through rt_sigaction without affecting behavior here.
const (
	FlagOnStack = 0x08000000 // SA_ONSTACK
)

// Action is one signal's registered action: the guest handler address,
// whether delivery should switch to the altstack, the blocked-signal
// mask to install during the handler, and the raw flags word
// (bits mirror SA_* flags; only SA_ONSTACK changes behavior here).
type Action struct {
	Handler  uint64
	AltStack bool
	Mask     uint64
	Flags    uint64
}

// IsUnset reports whether this action has never been installed (the
// default disposition).
func (a Action) IsUnset() bool {
	return a.Handler == 0 && a.Mask == 0 && a.Flags == 0
}

// AltStack is a per-thread alternate signal stack descriptor, mirroring
// the guest's stack_t.
type AltStack struct {
	SP      uint64
	Flags   uint64
	Size    uint64
	Enabled bool
}

// Top returns the highest address of the altstack, where a handler's
// initial SP should land (the guest stack grows down).
func (s AltStack) Top() uint64 {
	return s.SP + s.Size
}

// Table is the process-wide signal action table plus one thread's
// altstack. A real multi-threaded guest would need one AltStack per
// thread; thread emulation beyond this single altstack is out of
// scope here: higher-level thread/futex emulation belongs elsewhere.
type Table struct {
	actions  [NumSignals]Action
	altstack AltStack
}

// NewTable returns a table with every signal in its default (unset)
// disposition and no altstack configured.
func NewTable() *Table {
	return &Table{}
}

// Action returns the currently registered action for sig, or the zero
// Action (IsUnset() == true) if none was ever installed. Signal 0 is
// always unset: rt_sigaction treats it as a no-op probe.
func (t *Table) Action(sig int) Action {
	if sig <= 0 || sig >= NumSignals {
		return Action{}
	}
	return t.actions[sig]
}

// SetAction installs a new action for sig, returning the previous one.
func (t *Table) SetAction(sig int, a Action) (Action, bool) {
	if sig <= 0 || sig >= NumSignals {
		return Action{}, false
	}
	old := t.actions[sig]
	t.actions[sig] = a
	return old, true
}

// AltStack returns the currently configured alternate stack.
func (t *Table) AltStack() AltStack {
	return t.altstack
}

// SetAltStack installs a new altstack, returning the previous one.
func (t *Table) SetAltStack(s AltStack) AltStack {
	old := t.altstack
	t.altstack = s
	return old
}

// Regs is the minimal PC/SP contract Enter needs from the CPU.
type Regs interface {
	PC() uint64
	SetPC(uint64)
	SP() uint64
	SetSP(uint64)
}

// Enter delivers sig to regs: it redirects PC to the handler and, when
// the action requests SA_ONSTACK and an altstack is configured,
// switches SP to the top of the altstack. Enter itself has no guest
// memory to write to, so it does not push the saved PC/SP onto the
// handler's stack — it returns them instead, and the caller (the
// syscall layer, which does have guest memory) is responsible for
// writing them into a frame the guest handler's sigreturn path can
// restore from. See sysemu.sysKill for that push.
func (t *Table) Enter(regs Regs, sig int) (savedPC, savedSP uint64, delivered bool) {
	a := t.Action(sig)
	if sig == 0 || a.IsUnset() {
		return 0, 0, false
	}
	savedPC, savedSP = regs.PC(), regs.SP()
	regs.SetPC(a.Handler)
	if a.AltStack && t.altstack.Enabled {
		regs.SetSP(t.altstack.Top())
	}
	return savedPC, savedSP, true
}
