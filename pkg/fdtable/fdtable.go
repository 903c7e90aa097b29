// Package fdtable implements the virtual file descriptor table: the
// translation between small guest-visible integers and real host file
// descriptors, plus the policy filter callbacks a host embedding this
// emulator uses to sandbox guest filesystem/ioctl access.
package fdtable

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FirstVFD is the first virtual fd handed out; 0, 1, and 2 are
// reserved for the guest's stdin/stdout/stderr and are never entered
// into the table (close() on them is a silent no-op, matching
// exercise filesystem syscalls).
const FirstVFD = 3

// Filters holds the optional policy callbacks a host can install.
// A nil callback always permits the operation.
type Filters struct {
	FilterOpen  func(path string) bool
	FilterIoctl func(req uint64) bool
	FilterStat  func(path string) bool
	PermitWrite func(vfd int) bool
}

func (f Filters) allowOpen(path string) bool {
	return f.FilterOpen == nil || f.FilterOpen(path)
}

func (f Filters) allowIoctl(req uint64) bool {
	return f.FilterIoctl == nil || f.FilterIoctl(req)
}

func (f Filters) allowStat(path string) bool {
	return f.FilterStat == nil || f.FilterStat(path)
}

func (f Filters) allowWrite(vfd int) bool {
	return f.PermitWrite == nil || f.PermitWrite(vfd)
}

// Table translates virtual fds to real host fds. It is created on
// demand when a Machine is configured with filesystem or socket
// support and owns every real fd it hands out: closing a vfd closes
// the real fd, and CloseAll() sweeps every survivor.
type Table struct {
	PermitFilesystem bool
	Filters          Filters

	real map[int]int // vfd -> real fd
	next int
}

// New creates an empty table. permitFilesystem is stored as
// PermitFilesystem, which the syscall layer consults only for chdir
// (refused with EPERM when it is false); openat, readlinkat,
// faccessat, and statx do not check it.
func New(permitFilesystem bool, filters Filters) *Table {
	return &Table{
		PermitFilesystem: permitFilesystem,
		Filters:          filters,
		real:             make(map[int]int),
		next:             FirstVFD,
	}
}

// Translate returns the real host fd for vfd. vfd values 0, 1, 2 map
// to themselves (stdio is never virtualized).
func (t *Table) Translate(vfd int) (int, bool) {
	if vfd >= 0 && vfd <= 2 {
		return vfd, true
	}
	real, ok := t.real[vfd]
	return real, ok
}

// Assign allocates the next vfd for an already-open real fd.
func (t *Table) Assign(real int) int {
	vfd := t.next
	t.next++
	t.real[vfd] = real
	return vfd
}

// Close removes vfd from the table and closes its real fd. Closing
// stdio (vfd 0/1/2) is a silent no-op, as is closing an unknown vfd:
// Close returns nil for it rather than an error.
func (t *Table) Close(vfd int) error {
	if vfd >= 0 && vfd <= 2 {
		return nil
	}
	real, ok := t.real[vfd]
	if !ok {
		return nil
	}
	delete(t.real, vfd)
	return unix.Close(real)
}

// PermitWrite reports whether vfd may be written to.
func (t *Table) PermitWrite(vfd int) bool {
	return t.Filters.allowWrite(vfd)
}

// AllowOpen applies the configured open filter.
func (t *Table) AllowOpen(path string) bool { return t.Filters.allowOpen(path) }

// AllowIoctl applies the configured ioctl filter.
func (t *Table) AllowIoctl(req uint64) bool { return t.Filters.allowIoctl(req) }

// AllowStat applies the configured stat filter.
func (t *Table) AllowStat(path string) bool { return t.Filters.allowStat(path) }

// CloseAll closes every surviving real fd; it is the table's
// destructor and is idempotent.
func (t *Table) CloseAll() error {
	var firstErr error
	for vfd, real := range t.real {
		if err := unix.Close(real); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("fdtable: closing vfd %d (real fd %d): %w", vfd, real, err)
		}
		delete(t.real, vfd)
	}
	return firstErr
}
