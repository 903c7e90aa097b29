package sysemu

import (
	"golang.org/x/sys/unix"

	"github.com/bassosimone/rvuser/pkg/guestmem"
)

type guestSpan = guestmem.GatherSpan

// gather is the shared zero-copy scatter/gather entry point every
// fd-reading or fd-writing handler uses to turn a guest (addr, length)
// range into host-backed byte slices, honoring copy-on-write faults
// exactly like any other memory access.
func (m *Machine) gather(out []guestSpan, addr, length uint64, write bool) (int, error) {
	return m.Mem.GatherBuffersFromRange(out, addr, length, write)
}

const (
	maxReadvIovecs  = 128
	maxWritevIovecs = 256
	maxGatherSpans  = 256
	maxSpansPerIov  = 64
	stdinReadCap    = 16 << 20 // 16 MiB
	readlinkatCap   = 16 << 10 // 16 KiB
	getrandomCap    = 256
)

func (m *Machine) translate(vfd int) (int, bool) {
	if vfd >= 0 && vfd <= 2 {
		return vfd, true
	}
	if m.FD == nil {
		return 0, false
	}
	return m.FD.Translate(vfd)
}

func requireFD(m *Machine, regs Regs) bool {
	if m.FD == nil {
		reflectErrno(regs, 0, unix.EPERM)
		return false
	}
	return true
}

func sysDup(m *Machine, regs Regs) error {
	if !requireFD(m, regs) {
		return nil
	}
	vfd := int(regs.A(0))
	real, ok := m.translate(vfd)
	if !ok {
		reflectErrno(regs, 0, unix.EBADF)
		return nil
	}
	newReal, err := unix.Dup(real)
	if err != nil {
		reflectErrno(regs, 0, err)
		return nil
	}
	// The new real fd is assigned its own vfd rather than returned bare:
	// otherwise it would be unreachable from the guest and would leak
	// (every virtual fd entry owns its real host fd, so it can be closed).
	reflectErrno(regs, int64(m.FD.Assign(newReal)), nil)
	return nil
}

func sysDup3(m *Machine, regs Regs) error {
	if !requireFD(m, regs) {
		return nil
	}
	vfd := int(regs.A(0))
	real, ok := m.translate(vfd)
	if !ok {
		reflectErrno(regs, 0, unix.EBADF)
		return nil
	}
	newReal, err := unix.Dup(real)
	if err != nil {
		reflectErrno(regs, 0, err)
		return nil
	}
	reflectErrno(regs, int64(m.FD.Assign(newReal)), nil)
	return nil
}

func sysFcntl(m *Machine, regs Regs) error {
	if !requireFD(m, regs) {
		return nil
	}
	vfd := int(regs.A(0))
	cmd := int(regs.A(1))
	arg := int(regs.A(2))
	real, ok := m.translate(vfd)
	if !ok {
		reflectErrno(regs, 0, unix.EBADF)
		return nil
	}
	n, err := unix.FcntlInt(uintptr(real), cmd, arg)
	reflectErrno(regs, int64(n), err)
	return nil
}

// knownIoctls is the small explicit dispatch table chosen in
// over raw argument forwarding: portable behavior
// for a handful of common request codes, -ENOTTY for everything else.
var knownIoctls = map[uint64]bool{
	uint64(unix.TCGETS):     true,
	uint64(unix.TIOCGWINSZ): true,
	uint64(unix.FIONREAD):   true,
}

func sysIoctl(m *Machine, regs Regs) error {
	if !requireFD(m, regs) {
		return nil
	}
	vfd := int(regs.A(0))
	req := regs.A(1)
	if !m.FD.AllowIoctl(req) {
		reflectErrno(regs, 0, unix.EPERM)
		return nil
	}
	if !knownIoctls[req] {
		reflectErrno(regs, 0, unix.ENOTTY)
		return nil
	}
	real, ok := m.translate(vfd)
	if !ok {
		reflectErrno(regs, 0, unix.EBADF)
		return nil
	}
	switch req {
	case uint64(unix.FIONREAD):
		n, err := unix.IoctlGetInt(real, unix.FIONREAD)
		reflectErrno(regs, int64(n), err)
	case uint64(unix.TIOCGWINSZ):
		ws, err := unix.IoctlGetWinsize(real, unix.TIOCGWINSZ)
		if err != nil {
			reflectErrno(regs, 0, err)
			return nil
		}
		var out struct{ Row, Col, Xpixel, Ypixel uint16 }
		out.Row, out.Col, out.Xpixel, out.Ypixel = ws.Row, ws.Col, ws.Xpixel, ws.Ypixel
		if err := m.Mem.CopyToGuestStruct(regs.A(2), &out); err != nil {
			return err
		}
		regs.SetA0(0)
	default: // TCGETS: report success without exposing host termios state
		regs.SetA0(0)
	}
	return nil
}

func sysFaccessat(m *Machine, regs Regs) error {
	path, err := m.Mem.Memstring(regs.A(1))
	if err != nil {
		return err
	}
	mode := uint32(regs.A(2))
	flags := int(regs.A(3))
	err = unix.Faccessat(unix.AT_FDCWD, path, mode, flags)
	reflectErrno(regs, 0, err)
	return nil
}

func sysChdir(m *Machine, regs Regs) error {
	if m.FD == nil || !m.FD.PermitFilesystem {
		reflectErrno(regs, 0, unix.EPERM)
		return nil
	}
	path, err := m.Mem.Memstring(regs.A(0))
	if err != nil {
		return err
	}
	reflectErrno(regs, 0, unix.Chdir(path))
	return nil
}

func sysOpenat(m *Machine, regs Regs) error {
	if !requireFD(m, regs) {
		return nil
	}
	path, err := m.Mem.Memstring(regs.A(1))
	if err != nil {
		return err
	}
	if !m.FD.AllowOpen(path) {
		reflectErrno(regs, 0, unix.EPERM)
		return nil
	}
	flags := int(regs.A(2))
	mode := uint32(regs.A(3))
	real, err := unix.Openat(unix.AT_FDCWD, path, flags, mode)
	if err != nil {
		reflectErrno(regs, 0, err)
		return nil
	}
	reflectErrno(regs, int64(m.FD.Assign(real)), nil)
	return nil
}

func sysClose(m *Machine, regs Regs) error {
	vfd := int(regs.A(0))
	if vfd >= 0 && vfd <= 2 {
		regs.SetA0(0)
		return nil
	}
	if !requireFD(m, regs) {
		return nil
	}
	err := m.FD.Close(vfd)
	reflectErrno(regs, 0, err)
	return nil
}

func sysPipe2(m *Machine, regs Regs) error {
	if !requireFD(m, regs) {
		return nil
	}
	var fds [2]int
	if err := unix.Pipe2(fds[:], int(regs.A(1))); err != nil {
		reflectErrno(regs, 0, err)
		return nil
	}
	vfds := [2]int32{int32(m.FD.Assign(fds[0])), int32(m.FD.Assign(fds[1]))}
	if err := m.Mem.CopyToGuestStruct(regs.A(0), &vfds); err != nil {
		return err
	}
	regs.SetA0(0)
	return nil
}

func sysGetdents64(m *Machine, regs Regs) error {
	if !requireFD(m, regs) {
		return nil
	}
	vfd := int(regs.A(0))
	real, ok := m.translate(vfd)
	if !ok {
		reflectErrno(regs, 0, unix.EBADF)
		return nil
	}
	count := int(regs.A(2))
	buf := make([]byte, count)
	// getdents64's wire format is already the guest ABI format: no
	// struct translation is needed, only the raw bytes.
	n, err := unix.Getdents(real, buf)
	if err != nil {
		reflectErrno(regs, 0, err)
		return nil
	}
	if err := m.Mem.Memcpy(regs.A(1), buf[:n]); err != nil {
		return err
	}
	regs.SetA0(uint64(n))
	return nil
}

func sysLseek(m *Machine, regs Regs) error {
	if !requireFD(m, regs) {
		return nil
	}
	vfd := int(regs.A(0))
	real, ok := m.translate(vfd)
	if !ok {
		reflectErrno(regs, 0, unix.EBADF)
		return nil
	}
	off, err := unix.Seek(real, int64(regs.A(1)), int(regs.A(2)))
	reflectErrno(regs, off, err)
	return nil
}

func sysRead(m *Machine, regs Regs) error {
	vfd := int(regs.A(0))
	addr := regs.A(1)
	count := regs.A(2)

	if vfd == 0 {
		if count > stdinReadCap {
			count = stdinReadCap
		}
		buf := make([]byte, count)
		n, err := m.Stdin.Read(buf)
		if n > 0 {
			if werr := m.Mem.Memcpy(addr, buf[:n]); werr != nil {
				return werr
			}
		}
		if n == 0 && err != nil {
			reflectErrno(regs, 0, err)
			return nil
		}
		regs.SetA0(uint64(n))
		return nil
	}

	if !requireFD(m, regs) {
		return nil
	}
	real, ok := m.translate(vfd)
	if !ok {
		reflectErrno(regs, 0, unix.EBADF)
		return nil
	}
	var spans [maxGatherSpans]guestSpan
	n, err := m.gather(spans[:], addr, count, true)
	if err != nil {
		return err
	}
	iovs := make([][]byte, n)
	for i := 0; i < n; i++ {
		iovs[i] = spans[i].Host
	}
	nr, err := unix.Readv(real, iovs)
	reflectErrno(regs, int64(nr), err)
	return nil
}

func sysWrite(m *Machine, regs Regs) error {
	vfd := int(regs.A(0))
	addr := regs.A(1)
	count := regs.A(2)

	if vfd == 1 || vfd == 2 {
		var spans [maxGatherSpans]guestSpan
		n, err := m.gather(spans[:], addr, count, false)
		if err != nil {
			return err
		}
		var total uint64
		for i := 0; i < n; i++ {
			m.Print(vfd, spans[i].Host)
			total += uint64(len(spans[i].Host))
		}
		regs.SetA0(total)
		return nil
	}

	if m.FD == nil || !m.FD.PermitWrite(vfd) {
		reflectErrno(regs, 0, unix.EBADF)
		return nil
	}
	real, ok := m.translate(vfd)
	if !ok {
		reflectErrno(regs, 0, unix.EBADF)
		return nil
	}
	var spans [maxGatherSpans]guestSpan
	n, err := m.gather(spans[:], addr, count, false)
	if err != nil {
		return err
	}
	iovs := make([][]byte, n)
	for i := 0; i < n; i++ {
		iovs[i] = spans[i].Host
	}
	nw, err := unix.Writev(real, iovs)
	reflectErrno(regs, int64(nw), err)
	return nil
}

func sysReadv(m *Machine, regs Regs) error {
	vfd := int(regs.A(0))
	iovAddr := regs.A(1)
	iovcnt := int(regs.A(2))
	if iovcnt < 1 || iovcnt > maxReadvIovecs {
		reflectErrno(regs, 0, unix.EINVAL)
		return nil
	}
	if !requireFD(m, regs) {
		return nil
	}
	real, ok := m.translate(vfd)
	if !ok {
		reflectErrno(regs, 0, unix.EBADF)
		return nil
	}
	var iovs [][]byte
	iovSize := ioVecSize(m.Width)
	for i := 0; i < iovcnt; i++ {
		iov, err := readIOVec(m.Mem, iovAddr+uint64(i)*iovSize, m.Width)
		if err != nil {
			return err
		}
		var spans [maxSpansPerIov]guestSpan
		n, err := m.gather(spans[:], iov.Base, iov.Len, true)
		if err != nil {
			return err
		}
		for j := 0; j < n; j++ {
			iovs = append(iovs, spans[j].Host)
		}
	}
	n, err := unix.Readv(real, iovs)
	reflectErrno(regs, int64(n), err)
	return nil
}

func sysWritev(m *Machine, regs Regs) error {
	vfd := int(regs.A(0))
	iovAddr := regs.A(1)
	iovcnt := int(regs.A(2))
	if iovcnt < 0 || iovcnt > maxWritevIovecs {
		reflectErrno(regs, 0, unix.EINVAL)
		return nil
	}
	iovSize := ioVecSize(m.Width)

	if vfd == 1 || vfd == 2 {
		var total uint64
		for i := 0; i < iovcnt; i++ {
			iov, err := readIOVec(m.Mem, iovAddr+uint64(i)*iovSize, m.Width)
			if err != nil {
				return err
			}
			var spans [maxSpansPerIov]guestSpan
			n, err := m.gather(spans[:], iov.Base, iov.Len, false)
			if err != nil {
				return err
			}
			for j := 0; j < n; j++ {
				m.Print(vfd, spans[j].Host)
				total += uint64(len(spans[j].Host))
			}
		}
		regs.SetA0(total)
		return nil
	}

	if m.FD == nil || !m.FD.PermitWrite(vfd) {
		reflectErrno(regs, 0, unix.EBADF)
		return nil
	}
	real, ok := m.translate(vfd)
	if !ok {
		reflectErrno(regs, 0, unix.EBADF)
		return nil
	}
	var total int64
	for i := 0; i < iovcnt; i++ {
		iov, err := readIOVec(m.Mem, iovAddr+uint64(i)*iovSize, m.Width)
		if err != nil {
			return err
		}
		var spans [maxSpansPerIov]guestSpan
		n, err := m.gather(spans[:], iov.Base, iov.Len, false)
		if err != nil {
			return err
		}
		iovs := make([][]byte, n)
		for j := 0; j < n; j++ {
			iovs[j] = spans[j].Host
		}
		nw, werr := unix.Writev(real, iovs)
		total += int64(nw)
		if werr != nil {
			reflectErrno(regs, total, werr)
			return nil
		}
	}
	regs.SetA0(uint64(total))
	return nil
}

func ioVecSize(w Width) uint64 {
	if w == Width32 {
		return 8
	}
	return 16
}

func sysReadlinkat(m *Machine, regs Regs) error {
	if !requireFD(m, regs) {
		return nil
	}
	path, err := m.Mem.Memstring(regs.A(1))
	if err != nil {
		return err
	}
	if !m.FD.AllowOpen(path) {
		reflectErrno(regs, 0, unix.EPERM)
		return nil
	}
	count := regs.A(3)
	if count > readlinkatCap {
		count = readlinkatCap
	}
	buf := make([]byte, count)
	n, err := unix.Readlinkat(unix.AT_FDCWD, path, buf)
	if err != nil {
		reflectErrno(regs, 0, err)
		return nil
	}
	if err := m.Mem.Memcpy(regs.A(2), buf[:n]); err != nil {
		return err
	}
	regs.SetA0(uint64(n))
	return nil
}

func sysFstatat(m *Machine, regs Regs) error {
	if !requireFD(m, regs) {
		return nil
	}
	dirfd := int(regs.A(0))
	path, err := m.Mem.Memstring(regs.A(1))
	if err != nil {
		return err
	}
	if !m.FD.AllowStat(path) {
		reflectErrno(regs, 0, unix.EPERM)
		return nil
	}
	realDirfd, ok := m.translate(dirfd)
	if !ok && dirfd != unix.AT_FDCWD {
		reflectErrno(regs, 0, unix.EBADF)
		return nil
	}
	if dirfd == unix.AT_FDCWD {
		realDirfd = unix.AT_FDCWD
	}
	var st unix.Stat_t
	flags := int(regs.A(3))
	if err := unix.Fstatat(realDirfd, path, &st, flags); err != nil {
		reflectErrno(regs, 0, err)
		return nil
	}
	if err := m.Mem.CopyToGuestStruct(regs.A(2), translateStat(&st)); err != nil {
		return err
	}
	regs.SetA0(0)
	return nil
}

func sysFstat(m *Machine, regs Regs) error {
	vfd := int(regs.A(0))
	real, ok := m.translate(vfd)
	if !ok {
		reflectErrno(regs, 0, unix.EBADF)
		return nil
	}
	var st unix.Stat_t
	if err := unix.Fstat(real, &st); err != nil {
		reflectErrno(regs, 0, err)
		return nil
	}
	if err := m.Mem.CopyToGuestStruct(regs.A(1), translateStat(&st)); err != nil {
		return err
	}
	regs.SetA0(0)
	return nil
}

func sysStatx(m *Machine, regs Regs) error {
	if !requireFD(m, regs) {
		return nil
	}
	dirfd := int(regs.A(0))
	path, err := m.Mem.Memstring(regs.A(1))
	if err != nil {
		return err
	}
	if !m.FD.AllowStat(path) {
		reflectErrno(regs, 0, unix.EPERM)
		return nil
	}
	realDirfd, ok := m.translate(dirfd)
	if !ok && dirfd != unix.AT_FDCWD {
		reflectErrno(regs, 0, unix.EBADF)
		return nil
	}
	if dirfd == unix.AT_FDCWD {
		realDirfd = unix.AT_FDCWD
	}
	flags := int(regs.A(2))
	mask := uint32(regs.A(3))
	var sx unix.Statx_t
	if err := unix.Statx(realDirfd, path, flags, int(mask), &sx); err != nil {
		reflectErrno(regs, 0, err)
		return nil
	}
	out := &RVStat{
		Dev:     (uint64(sx.Dev_major) << 32) | uint64(sx.Dev_minor),
		Ino:     sx.Ino,
		Mode:    uint32(sx.Mode),
		Nlink:   sx.Nlink,
		Uid:     sx.Uid,
		Gid:     sx.Gid,
		Rdev:    (uint64(sx.Rdev_major) << 32) | uint64(sx.Rdev_minor),
		Size:    int64(sx.Size),
		Blksize: int32(sx.Blksize),
		Blocks:  int64(sx.Blocks),
		Atime:   RVTimespec64{Sec: sx.Atime.Sec, Nsec: uint64(sx.Atime.Nsec)},
		Mtime:   RVTimespec64{Sec: sx.Mtime.Sec, Nsec: uint64(sx.Mtime.Nsec)},
		Ctime:   RVTimespec64{Sec: sx.Ctime.Sec, Nsec: uint64(sx.Ctime.Nsec)},
	}
	if err := m.Mem.CopyToGuestStruct(regs.A(4), out); err != nil {
		return err
	}
	regs.SetA0(0)
	return nil
}

func translateStat(st *unix.Stat_t) *RVStat {
	return &RVStat{
		Dev:     uint64(st.Dev),
		Ino:     st.Ino,
		Mode:    st.Mode,
		Nlink:   uint32(st.Nlink),
		Uid:     st.Uid,
		Gid:     st.Gid,
		Rdev:    uint64(st.Rdev),
		Size:    st.Size,
		Blksize: int32(st.Blksize),
		Blocks:  st.Blocks,
		Atime:   RVTimespec64{Sec: st.Atim.Sec, Nsec: uint64(st.Atim.Nsec)},
		Mtime:   RVTimespec64{Sec: st.Mtim.Sec, Nsec: uint64(st.Mtim.Nsec)},
		Ctime:   RVTimespec64{Sec: st.Ctim.Sec, Nsec: uint64(st.Ctim.Nsec)},
	}
}
