package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// lsblkOutput mirrors the JSON emitted by `lsblk -J -b`.
type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name       string        `json:"name"`
	Serial     *string       `json:"serial"`
	Label      *string       `json:"label"`
	Size       json.Number   `json:"size"`
	MountPoint *string       `json:"mountpoint"`
	Children   []lsblkDevice `json:"children,omitempty"`
}

// LsblkDetector discovers mounted volumes by running lsblk.
type LsblkDetector struct {
	command string
}

// NewLsblkDetector creates a detector that shells out to lsblk.
func NewLsblkDetector() *LsblkDetector {
	return &LsblkDetector{command: "lsblk"}
}

func (d *LsblkDetector) Volumes(ctx context.Context) ([]Volume, error) {
	out, err := exec.CommandContext(ctx, d.command, "-J", "-b", "-o", "NAME,SERIAL,LABEL,SIZE,MOUNTPOINT").Output()
	if err != nil {
		return nil, fmt.Errorf("running lsblk: %w", err)
	}
	return parseLsblk(out)
}

// parseLsblk flattens the device tree into mounted volumes. Partitions have no
// serial of their own, so they inherit the serial of their parent disk.
func parseLsblk(data []byte) ([]Volume, error) {
	var parsed lsblkOutput
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing lsblk output: %w", err)
	}

	var volumes []Volume
	var walk func(devs []lsblkDevice, parentSerial string) error
	walk = func(devs []lsblkDevice, parentSerial string) error {
		for _, dev := range devs {
			serial := deref(dev.Serial)
			if serial == "" {
				serial = parentSerial
			}

			if mp := deref(dev.MountPoint); mp != "" {
				size, err := strconv.ParseInt(dev.Size.String(), 10, 64)
				if err != nil {
					return fmt.Errorf("device %s: invalid size %q: %w", dev.Name, dev.Size, err)
				}
				label := deref(dev.Label)
				if label == "" {
					label = dev.Name
				}
				volumes = append(volumes, Volume{
					Identity:   Identity{SerialNumber: serial, Label: label, TotalSize: size},
					MountPoint: mp,
				})
			}

			if err := walk(dev.Children, serial); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(parsed.BlockDevices, ""); err != nil {
		return nil, err
	}
	return volumes, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ Detector = (*LsblkDetector)(nil)
