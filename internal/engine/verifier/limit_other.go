//go:build !linux

package verifier

import "errors"

func limitAddressSpace(int, uint64) error {
	return errors.New("address space limits are only supported on linux")
}
