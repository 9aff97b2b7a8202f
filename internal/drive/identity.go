package drive

import (
	"errors"
	"fmt"
	"strings"
)

// sizeTolerance is the fraction of the reference size two volumes may differ
// by and still be considered the same drive when no serials are available.
const sizeTolerance = 0.05

// ErrDriveNotFound is returned when a required drive is not connected.
var ErrDriveNotFound = errors.New("drive not connected")

// Identity describes a physical volume well enough to recognize it after
// it has been unplugged and reconnected, possibly under a different mount point.
type Identity struct {
	SerialNumber string `yaml:"serial_number,omitempty" toml:"serial_number,omitempty"`
	Label        string `yaml:"label" toml:"label"`
	TotalSize    int64  `yaml:"total_size" toml:"total_size"`
}

// Validate checks the invariants every stored identity must satisfy.
func (id Identity) Validate() error {
	if strings.TrimSpace(id.Label) == "" {
		return fmt.Errorf("drive label must not be empty")
	}
	if id.TotalSize <= 0 {
		return fmt.Errorf("drive %q: total size must be positive, got %d", id.Label, id.TotalSize)
	}
	return nil
}

func (id Identity) String() string {
	if id.SerialNumber != "" {
		return fmt.Sprintf("%s (serial %s, %d bytes)", id.Label, id.SerialNumber, id.TotalSize)
	}
	return fmt.Sprintf("%s (%d bytes)", id.Label, id.TotalSize)
}

// Matches reports whether a and b describe the same physical drive.
//
// When both carry a serial number the serials alone decide. Otherwise the
// labels must be equal ignoring case and the sizes must agree to within 5%
// of b's size. The tolerance is taken from b only, so Matches is not symmetric
// for sizes near the boundary.
func Matches(a, b Identity) bool {
	if a.SerialNumber != "" && b.SerialNumber != "" {
		return a.SerialNumber == b.SerialNumber
	}

	if !strings.EqualFold(a.Label, b.Label) {
		return false
	}

	diff := a.TotalSize - b.TotalSize
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) <= float64(b.TotalSize)*sizeTolerance
}
