package guestmem

import "errors"

// The following errors are fatal to the guest: they are reported up
// through the machine exception path and the current run terminates.
var (
	// ErrOutOfMemory indicates that pages_total was exceeded.
	ErrOutOfMemory = errors.New("guestmem: out of memory")

	// ErrIllegalOperation indicates an invalid page table transition,
	// such as installing a shared page over a non-COW page, or a
	// shared page whose Shared attribute is not set.
	ErrIllegalOperation = errors.New("guestmem: illegal operation")

	// ErrSegFault indicates an access to unmapped or permission-denied
	// memory that cannot be resolved by the default page fault handler.
	ErrSegFault = errors.New("guestmem: segmentation fault")
)
