//go:build linux

package verifier

import "golang.org/x/sys/unix"

func limitAddressSpace(pid int, bytes uint64) error {
	lim := unix.Rlimit{Cur: bytes, Max: bytes}
	return unix.Prlimit(pid, unix.RLIMIT_AS, &lim, nil)
}
