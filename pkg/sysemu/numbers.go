package sysemu

// RISC-V Linux syscall numbers (register a7): the core syscall table's
// required set plus a supplemental set covering common libc startup
// and I/O paths.
const (
	SysEBREAK            = 17
	SysEpollCreate       = 20
	SysEpollCtl          = 21
	SysEpollPWait        = 22
	SysDup               = 23
	SysDup3              = 24
	SysFcntl             = 25
	SysIoctl             = 29
	SysFaccessat         = 48
	SysChdir             = 49
	SysOpenat            = 56
	SysClose             = 57
	SysPipe2             = 59
	SysGetdents64        = 61
	SysLseek             = 62
	SysRead              = 63
	SysWrite             = 64
	SysReadv             = 65
	SysWritev            = 66
	SysPselect6          = 72
	SysPpoll             = 73
	SysReadlinkat        = 78
	SysFstatat           = 79
	SysFstat             = 80
	SysExit              = 93
	SysExitGroup         = 94
	SysSetTidAddress     = 96
	SysSetRobustList     = 99
	SysNanosleep         = 101
	SysClockGettime      = 113
	SysClockNanosleep    = 115
	SysSchedGetaffinity  = 123
	SysTgkill            = 130
	SysTgkillAlias       = 131 // folded into syscall 130's handler, per the supplemental table
	SysSigaltstack       = 132
	SysRtSigaction       = 134
	SysRtSigprocmask     = 135
	SysUname             = 160
	SysUmask             = 166
	SysGettid            = 178
	SysGettimeofday      = 169
	SysGetpid            = 172
	SysGetuid            = 174
	SysGeteuid           = 175
	SysGetgid            = 176
	SysGetegid           = 177
	SysBrk               = 214
	SysMsync             = 227
	SysPrlimit64         = 261
	SysGetrandom         = 278
	SysStatx             = 291
	SysClockGettime64    = 403
)
