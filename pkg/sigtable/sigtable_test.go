package sigtable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRegs struct {
	pc, sp uint64
}

func (r *fakeRegs) PC() uint64     { return r.pc }
func (r *fakeRegs) SetPC(v uint64) { r.pc = v }
func (r *fakeRegs) SP() uint64     { return r.sp }
func (r *fakeRegs) SetSP(v uint64) { r.sp = v }

func TestActionDefaultsToUnset(t *testing.T) {
	tbl := NewTable()
	a := tbl.Action(11)
	require.True(t, a.IsUnset())
}

func TestSetActionRoundTrips(t *testing.T) {
	tbl := NewTable()
	action := Action{Handler: 0x4000, Mask: 0xff, Flags: FlagOnStack}
	_, ok := tbl.SetAction(11, action)
	require.True(t, ok)
	require.Equal(t, action, tbl.Action(11))
}

func TestSetActionRejectsOutOfRangeSignal(t *testing.T) {
	tbl := NewTable()
	_, ok := tbl.SetAction(0, Action{Handler: 1})
	require.False(t, ok)
	_, ok = tbl.SetAction(NumSignals, Action{Handler: 1})
	require.False(t, ok)
}

func TestEnterRedirectsPCAndSavesOldState(t *testing.T) {
	tbl := NewTable()
	tbl.SetAction(10, Action{Handler: 0x8000})
	regs := &fakeRegs{pc: 0x1000, sp: 0x2000}

	savedPC, savedSP, delivered := tbl.Enter(regs, 10)
	require.True(t, delivered)
	require.Equal(t, uint64(0x1000), savedPC)
	require.Equal(t, uint64(0x2000), savedSP)
	require.Equal(t, uint64(0x8000), regs.PC())
	require.Equal(t, uint64(0x2000), regs.SP()) // no altstack switch requested
}

func TestEnterSwitchesToAltStackWhenRequested(t *testing.T) {
	tbl := NewTable()
	tbl.SetAltStack(AltStack{SP: 0x9000, Size: 0x1000, Enabled: true})
	tbl.SetAction(10, Action{Handler: 0x8000, AltStack: true})
	regs := &fakeRegs{pc: 0x1000, sp: 0x2000}

	_, _, delivered := tbl.Enter(regs, 10)
	require.True(t, delivered)
	require.Equal(t, uint64(0xa000), regs.SP())
}

func TestEnterNoOpWhenActionUnset(t *testing.T) {
	tbl := NewTable()
	regs := &fakeRegs{pc: 0x1000, sp: 0x2000}
	_, _, delivered := tbl.Enter(regs, 10)
	require.False(t, delivered)
	require.Equal(t, uint64(0x1000), regs.PC())
}

func TestAltStackTop(t *testing.T) {
	s := AltStack{SP: 0x1000, Size: 0x500}
	require.Equal(t, uint64(0x1500), s.Top())
}
