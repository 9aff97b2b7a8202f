package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"drivesync/internal/drive"
	"drivesync/internal/ds"
)

// ErrConfig is wrapped by every validation and decode error of this package.
var ErrConfig = ds.ErrConfig

// Config represents the main configuration for drivesync.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	GroupsFile string           `toml:"groups_file"`
	Ignore     []string         `toml:"ignore,omitempty"`
	Database   DatabaseConfig   `toml:"database"`
	Drives     DrivesConfig     `toml:"drives"`
	Sync       SyncConfig       `toml:"sync"`
	Watch      WatchConfig      `toml:"watch"`
	Schedules  []ScheduleConfig `toml:"schedules,omitempty"`
	Catalog    CatalogConfig    `toml:"catalog"`
}

// DatabaseConfig represents configuration for the tracking database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// DrivesConfig selects how connected volumes are discovered.
type DrivesConfig struct {
	Type    string         `toml:"type"` // "lsblk" or "static"
	Volumes []VolumeConfig `toml:"volumes,omitempty"`
}

// VolumeConfig is one volume reported by the static detector.
type VolumeConfig struct {
	SerialNumber string `toml:"serial_number,omitempty"`
	Label        string `toml:"label"`
	TotalSize    int64  `toml:"total_size"`
	MountPoint   string `toml:"mount_point"`
}

// Volume converts the entry to a drive.Volume.
func (v VolumeConfig) Volume() drive.Volume {
	return drive.Volume{
		Identity: drive.Identity{
			SerialNumber: v.SerialNumber,
			Label:        v.Label,
			TotalSize:    v.TotalSize,
		},
		MountPoint: v.MountPoint,
	}
}

// SyncConfig holds the defaults applied to every sync run.
type SyncConfig struct {
	Incremental     bool   `toml:"incremental"`
	VerifyChecksums bool   `toml:"verify_checksums"`
	SkipExisting    bool   `toml:"skip_existing"`
	BandwidthLimit  int64  `toml:"bandwidth_limit"` // bytes per second, 0 = unlimited
	Parallel        int    `toml:"parallel"`
	Compression     string `toml:"compression,omitempty"` // "", "gzip" or "zstd"
	CompressLevel   int    `toml:"compress_level,omitempty"`
	Encryption      string `toml:"encryption,omitempty"` // "", "aes-256-gcm" or "age"
	KeyFile         string `toml:"key_file,omitempty"`
	ReportSavings   bool   `toml:"report_savings"`
}

// WatchConfig holds realtime watcher settings.
type WatchConfig struct {
	DebounceMS int                `toml:"debounce_ms"`
	Groups     []WatchGroupConfig `toml:"groups,omitempty"`
}

// WatchGroupConfig enables a realtime watcher when the daemon starts.
type WatchGroupConfig struct {
	Group      string `toml:"group"`
	Path       string `toml:"path,omitempty"`
	DebounceMS int    `toml:"debounce_ms,omitempty"`
}

// ScheduleConfig is one scheduled sync. Exactly one of IntervalMinutes and
// Cron must be set.
type ScheduleConfig struct {
	ID              string `toml:"id"`
	Group           string `toml:"group"`
	IntervalMinutes int    `toml:"interval_minutes,omitempty"`
	Cron            string `toml:"cron,omitempty"`
}

// CatalogConfig represents where snapshots of the tracking database are kept.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CatalogConfig struct {
	Type string `toml:"type"` // "none", "memory", "s3" or "filesystem"
	Name string `toml:"name,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`

	// Static credentials; the AWS default chain is used when empty.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// NewConfig creates a new Config with the provided values and defaults.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:     hostID,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		GroupsFile: filepath.Join(baseDir, "groups.yaml"),
		Database:   DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Drives:     DrivesConfig{Type: "lsblk"},
		Sync: SyncConfig{
			Incremental:     true,
			VerifyChecksums: false,
			Parallel:        1,
		},
		Watch:   WatchConfig{DebounceMS: 2000},
		Catalog: CatalogConfig{Type: "none"},
	}
}

// Validate reports the first malformed value. Every error wraps ErrConfig.
func (c *Config) Validate() error {
	if c.HostID == "" {
		return fmt.Errorf("%w: host_id is required", ErrConfig)
	}

	switch c.Database.Type {
	case "memory":
	case "sqlite":
		if c.Database.DataDir == "" {
			return fmt.Errorf("%w: database.data_dir required for sqlite", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown database type %q", ErrConfig, c.Database.Type)
	}

	switch c.Drives.Type {
	case "lsblk", "":
	case "static":
		for i, v := range c.Drives.Volumes {
			if err := v.Volume().Validate(); err != nil {
				return fmt.Errorf("%w: drives.volumes[%d]: %v", ErrConfig, i, err)
			}
			if v.MountPoint == "" {
				return fmt.Errorf("%w: drives.volumes[%d]: mount_point is required", ErrConfig, i)
			}
		}
	default:
		return fmt.Errorf("%w: unknown drives type %q", ErrConfig, c.Drives.Type)
	}

	if c.Sync.BandwidthLimit < 0 {
		return fmt.Errorf("%w: sync.bandwidth_limit must not be negative", ErrConfig)
	}
	if c.Sync.Parallel < 0 {
		return fmt.Errorf("%w: sync.parallel must not be negative", ErrConfig)
	}
	switch strings.ToLower(c.Sync.Compression) {
	case "", "gzip", "gz", "zstd":
	default:
		return fmt.Errorf("%w: unknown compression %q", ErrConfig, c.Sync.Compression)
	}
	switch strings.ToLower(c.Sync.Encryption) {
	case "", "aes-256-gcm", "aes", "age":
	default:
		return fmt.Errorf("%w: unknown encryption %q", ErrConfig, c.Sync.Encryption)
	}

	if c.Watch.DebounceMS < 0 {
		return fmt.Errorf("%w: watch.debounce_ms must not be negative", ErrConfig)
	}
	for i, w := range c.Watch.Groups {
		if w.Group == "" {
			return fmt.Errorf("%w: watch.groups[%d]: group is required", ErrConfig, i)
		}
	}

	seen := make(map[string]bool)
	for i, s := range c.Schedules {
		if s.ID == "" || s.Group == "" {
			return fmt.Errorf("%w: schedules[%d]: id and group are required", ErrConfig, i)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate schedule id %q", ErrConfig, s.ID)
		}
		seen[s.ID] = true
		if (s.IntervalMinutes > 0) == (s.Cron != "") {
			return fmt.Errorf("%w: schedule %q needs exactly one of interval_minutes or cron", ErrConfig, s.ID)
		}
	}

	switch c.Catalog.Type {
	case "", "none", "memory":
	case "filesystem":
		if c.Catalog.FSRoot == "" {
			return fmt.Errorf("%w: catalog.fs_root required for filesystem catalog", ErrConfig)
		}
	case "s3":
		if c.Catalog.S3Bucket == "" {
			return fmt.Errorf("%w: catalog.s3_bucket required for s3 catalog", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown catalog type %q", ErrConfig, c.Catalog.Type)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to decode config: %v", ErrConfig, err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes a new config file. It refuses to overwrite an existing one.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
