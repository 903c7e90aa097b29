// Package sysemu implements the Linux system-call emulation layer:
// translation of guest syscalls, identified by RISC-V syscall number
// in register a7, into host I/O, time, signal, memory-mapping, and
// random operations. It is mediated by a fdtable.Table for file
// descriptor virtualization and a sigtable.Table for signal state.
package sysemu

// Width distinguishes RV32 from RV64 guest address/register width,
// which changes the layout of several ABI structures (iovec,
// sigaction, timespec) whose fields are machine words.
type Width int

const (
	Width32  Width = 32
	Width64  Width = 64
	Width128 Width = 128
)

// MachineString returns the uname() machine field for this width.
func (w Width) MachineString() string {
	switch w {
	case Width32:
		return "rv32imafdc"
	case Width128:
		return "rv128imafdc"
	default:
		return "rv64imafdc"
	}
}

// RVTimespec64 is a 16-byte {sec int64, nsec uint64} pair, the native
// RV64 timespec layout.
type RVTimespec64 struct {
	Sec  int64
	Nsec uint64
}

// RVStat is the guest-visible struct stat translation: a packed
// 128-byte layout shared by fstat, fstatat, and statx.
//
//	{u64 dev, u64 ino, u32 mode, u32 nlink, u32 uid, u32 gid, u64 rdev,
//	 u64 pad, i64 size, i32 blksize, i32 pad, i64 blocks,
//	 {i64 sec, u64 nsec} x {atime, mtime, ctime}, u64 pad}
//
// Field-by-field encoding/binary marshaling (not a reflection-tagged
// or unsafe-cast struct) keeps the 128-byte layout exact regardless of
// host struct padding, matching the style the zkvm and gokvm reference
// code in the retrieval pack use for wire structs.
type RVStat struct {
	Dev      uint64
	Ino      uint64
	Mode     uint32
	Nlink    uint32
	Uid      uint32
	Gid      uint32
	Rdev     uint64
	pad0     uint64
	Size     int64
	Blksize  int32
	pad1     int32
	Blocks   int64
	Atime    RVTimespec64
	Mtime    RVTimespec64
	Ctime    RVTimespec64
	pad2     uint64
}

const rvStatSize = 128

// GuestIOVec is the width-normalized in-memory form of a guest
// `struct iovec { addr_t iov_base; addr_t iov_len; }`.
type GuestIOVec struct {
	Base uint64
	Len  uint64
}

// KernelSigaction is the width-normalized in-memory form of the guest
// `struct kernel_sigaction { addr_t sa_handler, sa_flags, sa_mask; }`.
type KernelSigaction struct {
	Handler uint64
	Flags   uint64
	Mask    uint64
}

// GuestTimespec is the width-normalized in-memory form of a guest
// timespec: native 16 bytes (two 64-bit fields) on RV64, two 32-bit
// fields on RV32.
type GuestTimespec struct {
	Sec  int64
	Nsec int64
}

// ClockGettime64Result is the wire layout for syscall 403
// (clock_gettime64): always {i64 sec, i64 msec}, independent of guest
// width.
type ClockGettime64Result struct {
	Sec  int64
	Msec int64
}

// Utsname is the six 65-byte-field uname() result struct.
type Utsname struct {
	Sysname    [65]byte
	Nodename   [65]byte
	Release    [65]byte
	Version    [65]byte
	Machine    [65]byte
	Domainname [65]byte
}

func putUtsnameField(dst *[65]byte, s string) {
	n := copy(dst[:], s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// guestMem is the subset of *guestmem.Memory the ABI helpers need;
// declared locally so this file does not import guestmem just for a
// type name, keeping the ABI encode/decode helpers reusable against
// any struct-copying memory implementation.
type guestMem interface {
	CopyFromGuestStruct(addr uint64, v any) error
	CopyToGuestStruct(addr uint64, v any) error
}

func readIOVec(mem guestMem, addr uint64, width Width) (GuestIOVec, error) {
	if width == Width32 {
		var raw struct{ Base, Len uint32 }
		if err := mem.CopyFromGuestStruct(addr, &raw); err != nil {
			return GuestIOVec{}, err
		}
		return GuestIOVec{Base: uint64(raw.Base), Len: uint64(raw.Len)}, nil
	}
	var raw struct{ Base, Len uint64 }
	if err := mem.CopyFromGuestStruct(addr, &raw); err != nil {
		return GuestIOVec{}, err
	}
	return GuestIOVec{Base: raw.Base, Len: raw.Len}, nil
}

func readSigaction(mem guestMem, addr uint64, width Width) (KernelSigaction, error) {
	if width == Width32 {
		var raw struct{ Handler, Flags, Mask uint32 }
		if err := mem.CopyFromGuestStruct(addr, &raw); err != nil {
			return KernelSigaction{}, err
		}
		return KernelSigaction{Handler: uint64(raw.Handler), Flags: uint64(raw.Flags), Mask: uint64(raw.Mask)}, nil
	}
	var raw struct{ Handler, Flags, Mask uint64 }
	if err := mem.CopyFromGuestStruct(addr, &raw); err != nil {
		return KernelSigaction{}, err
	}
	return KernelSigaction{Handler: raw.Handler, Flags: raw.Flags, Mask: raw.Mask}, nil
}

func writeSigaction(mem guestMem, addr uint64, width Width, a KernelSigaction) error {
	if width == Width32 {
		raw := struct{ Handler, Flags, Mask uint32 }{uint32(a.Handler), uint32(a.Flags), uint32(a.Mask)}
		return mem.CopyToGuestStruct(addr, &raw)
	}
	raw := struct{ Handler, Flags, Mask uint64 }{a.Handler, a.Flags, a.Mask}
	return mem.CopyToGuestStruct(addr, &raw)
}

func readTimespec(mem guestMem, addr uint64, width Width) (GuestTimespec, error) {
	if width == Width32 {
		var raw struct{ Sec, Nsec int32 }
		if err := mem.CopyFromGuestStruct(addr, &raw); err != nil {
			return GuestTimespec{}, err
		}
		return GuestTimespec{Sec: int64(raw.Sec), Nsec: int64(raw.Nsec)}, nil
	}
	var raw struct{ Sec, Nsec int64 }
	if err := mem.CopyFromGuestStruct(addr, &raw); err != nil {
		return GuestTimespec{}, err
	}
	return GuestTimespec{Sec: raw.Sec, Nsec: raw.Nsec}, nil
}

func writeTimespec(mem guestMem, addr uint64, width Width, ts GuestTimespec) error {
	if width == Width32 {
		raw := struct{ Sec, Nsec int32 }{int32(ts.Sec), int32(ts.Nsec)}
		return mem.CopyToGuestStruct(addr, &raw)
	}
	raw := struct{ Sec, Nsec int64 }{ts.Sec, ts.Nsec}
	return mem.CopyToGuestStruct(addr, &raw)
}
