//go:build linux

package admin

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

type schedParam struct {
	priority int32
}

// SyscallPolicy sets policies with sched_setscheduler(2).
type SyscallPolicy struct{}

func (SyscallPolicy) SetPolicy(tid int, policy int) error {
	param := schedParam{}
	_, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER,
		uintptr(tid), uintptr(policy), uintptr(unsafe.Pointer(&param)))
	if errno != 0 {
		return fmt.Errorf("sched_setscheduler(%d, %d): %w", tid, policy, errno)
	}
	return nil
}
