package drive

import (
	"context"
	"path/filepath"
	"strings"
)

// Volume is a drive that is currently connected and mounted.
type Volume struct {
	Identity
	MountPoint string
}

// Detector enumerates the volumes connected to this host.
type Detector interface {
	Volumes(ctx context.Context) ([]Volume, error)
}

// StaticDetector reports a fixed list of volumes. It backs the "static"
// drives configuration and tests.
type StaticDetector struct {
	volumes []Volume
}

// NewStaticDetector creates a detector that always reports the given volumes.
func NewStaticDetector(volumes ...Volume) *StaticDetector {
	return &StaticDetector{volumes: volumes}
}

func (d *StaticDetector) Volumes(context.Context) ([]Volume, error) {
	out := make([]Volume, len(d.volumes))
	copy(out, d.volumes)
	return out, nil
}

// Locate returns the first connected volume matching id.
func Locate(volumes []Volume, id Identity) (Volume, bool) {
	for _, v := range volumes {
		if Matches(v.Identity, id) {
			return v, true
		}
	}
	return Volume{}, false
}

// VolumeForPath returns the volume whose mount point is the longest prefix of path.
func VolumeForPath(volumes []Volume, path string) (Volume, bool) {
	clean := filepath.Clean(path)

	var best Volume
	found := false
	for _, v := range volumes {
		mp := filepath.Clean(v.MountPoint)
		if clean != mp && !strings.HasPrefix(clean, strings.TrimSuffix(mp, string(filepath.Separator))+string(filepath.Separator)) {
			continue
		}
		if !found || len(mp) > len(filepath.Clean(best.MountPoint)) {
			best = v
			found = true
		}
	}
	return best, found
}

var _ Detector = (*StaticDetector)(nil)
