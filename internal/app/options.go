package app

import (
	"fmt"
	"os"
	"strings"

	"drivesync/internal/config"
	"drivesync/internal/ds"
	"drivesync/internal/encryption"
)

// PasswordEnv supplies the encryption password to non-interactive runs.
const PasswordEnv = "DRIVESYNC_PASSWORD"

// SyncFlags are per-command overrides of the [sync] config section. Zero
// values keep the configured default.
type SyncFlags struct {
	Verify         bool
	Full           bool // disables incremental mode
	SkipExisting   bool
	BandwidthLimit int64
	Parallel       int
	Compress       string // codec name, or "none" to disable
	Encrypt        string // encryption type, or "none" to disable
	KeyFile        string
	Password       string
	ReportSavings  bool
}

// SyncOptions merges the config defaults with flags. Encryption without a key
// file needs a password, taken from flags or PasswordEnv.
func SyncOptions(cfg *config.Config, flags SyncFlags) (ds.SyncOptions, error) {
	sc := cfg.Sync
	opts := ds.SyncOptions{
		Trigger:         ds.TriggerManual,
		Incremental:     sc.Incremental && !flags.Full,
		VerifyChecksums: sc.VerifyChecksums || flags.Verify,
		SkipExisting:    sc.SkipExisting || flags.SkipExisting,
		Ignore:          cfg.Ignore,
		Advanced: ds.AdvancedSyncOptions{
			BandwidthLimit: sc.BandwidthLimit,
			Parallel:       sc.Parallel,
			ReportSavings:  sc.ReportSavings || flags.ReportSavings,
			Compression: ds.CompressionOptions{
				Type:  sc.Compression,
				Level: sc.CompressLevel,
			},
		},
	}
	if flags.BandwidthLimit > 0 {
		opts.Advanced.BandwidthLimit = flags.BandwidthLimit
	}
	if flags.Parallel > 0 {
		opts.Advanced.Parallel = flags.Parallel
	}
	switch c := strings.ToLower(flags.Compress); c {
	case "":
	case "none":
		opts.Advanced.Compression = ds.CompressionOptions{}
	default:
		opts.Advanced.Compression.Type = c
	}

	enc := encryption.Options{Type: sc.Encryption, KeyFile: sc.KeyFile}
	switch e := strings.ToLower(flags.Encrypt); e {
	case "":
	case "none":
		enc = encryption.Options{}
	default:
		enc.Type = e
	}
	if flags.KeyFile != "" {
		enc.KeyFile = flags.KeyFile
	}
	if enc.Enabled() && enc.KeyFile == "" {
		enc.Password = flags.Password
		if enc.Password == "" {
			enc.Password = os.Getenv(PasswordEnv)
		}
		if enc.Password == "" {
			return ds.SyncOptions{}, fmt.Errorf("%w: encryption %q needs a key file or a password", ds.ErrConfig, enc.Type)
		}
	}
	opts.Advanced.Encryption = enc
	return opts, nil
}

// NeedsPassword reports whether SyncOptions would ask for a password.
func NeedsPassword(cfg *config.Config, flags SyncFlags) bool {
	typ, keyFile := cfg.Sync.Encryption, cfg.Sync.KeyFile
	switch e := strings.ToLower(flags.Encrypt); e {
	case "":
	case "none":
		return false
	default:
		typ = e
	}
	if flags.KeyFile != "" {
		keyFile = flags.KeyFile
	}
	return typ != "" && keyFile == "" && flags.Password == "" && os.Getenv(PasswordEnv) == ""
}
