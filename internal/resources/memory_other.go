//go:build !linux

package resources

import "errors"

func systemMemory() (uint64, error) {
	return 0, errors.New("free memory detection is only supported on linux")
}
