//go:build !linux

package fs

import (
	"io/fs"
	"time"
)

// AccessTime returns the modification time on platforms where the access
// time is not exposed uniformly.
func AccessTime(info fs.FileInfo) time.Time {
	return info.ModTime()
}
