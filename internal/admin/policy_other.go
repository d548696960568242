//go:build !linux

package admin

import "errors"

type SyscallPolicy struct{}

func (SyscallPolicy) SetPolicy(int, int) error {
	return errors.New("admin: scheduling policies need linux")
}
