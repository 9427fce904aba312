// Package diskspace checks free space on the filesystem holding an output directory.
package diskspace

import (
	"errors"
	"fmt"

	"github.com/oceanhydro/hydrodl/internal/util/humansize"
)

// InsufficientSpaceError indicates that there is not enough disk space available.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space in %s: need %s, have %s available",
		e.Path, humansize.Format(e.RequiredBytes), humansize.Format(e.AvailableBytes))
}

// CheckAvailableSpace checks that dir's filesystem can hold requiredBytes
// plus a buffer (bufferPercent, e.g. 0.15 for 15%).
//
// dir must exist. If the filesystem cannot be queried the check passes and
// the download is left to fail on its own.
func CheckAvailableSpace(dir string, requiredBytes int64, bufferPercent float64) error {
	if requiredBytes <= 0 {
		return nil
	}

	available, ok := availableBytes(dir)
	if !ok {
		return nil
	}

	required := int64(float64(requiredBytes) * (1 + bufferPercent))
	if available < required {
		return &InsufficientSpaceError{
			Path:           dir,
			RequiredBytes:  required,
			AvailableBytes: available,
		}
	}
	return nil
}

// GetAvailableSpace returns the available space in bytes for the filesystem
// containing dir. Returns 0 if unable to determine.
func GetAvailableSpace(dir string) int64 {
	n, _ := availableBytes(dir)
	return n
}

// IsInsufficientSpaceError checks if an error is an InsufficientSpaceError
func IsInsufficientSpaceError(err error) bool {
	var target *InsufficientSpaceError
	return errors.As(err, &target)
}
