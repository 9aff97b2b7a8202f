package app

import (
	"errors"
	"testing"

	"drivesync/internal/config"
	"drivesync/internal/ds"
)

func TestSyncOptions(t *testing.T) {
	base := func() *config.Config {
		cfg := config.NewConfig("host", t.TempDir())
		cfg.Ignore = []string{"*.tmp"}
		cfg.Sync.Compression = "gzip"
		cfg.Sync.CompressLevel = 6
		cfg.Sync.BandwidthLimit = 1 << 20
		return cfg
	}

	tests := []struct {
		name  string
		setup func(cfg *config.Config)
		flags SyncFlags
		check func(t *testing.T, opts ds.SyncOptions)
	}{
		{
			name: "config defaults",
			check: func(t *testing.T, opts ds.SyncOptions) {
				if !opts.Incremental || opts.VerifyChecksums || opts.SkipExisting {
					t.Errorf("flags = %+v", opts)
				}
				if opts.Trigger != ds.TriggerManual {
					t.Errorf("Trigger = %q", opts.Trigger)
				}
				if opts.Advanced.Compression.Type != "gzip" || opts.Advanced.Compression.Level != 6 {
					t.Errorf("Compression = %+v", opts.Advanced.Compression)
				}
				if opts.Advanced.BandwidthLimit != 1<<20 || opts.Advanced.Parallel != 1 {
					t.Errorf("Advanced = %+v", opts.Advanced)
				}
				if len(opts.Ignore) != 1 || opts.Ignore[0] != "*.tmp" {
					t.Errorf("Ignore = %v", opts.Ignore)
				}
				if opts.Advanced.Encryption.Enabled() {
					t.Error("encryption enabled without config")
				}
			},
		},
		{
			name:  "flags override",
			flags: SyncFlags{Verify: true, Full: true, SkipExisting: true, BandwidthLimit: 42, Parallel: 8, Compress: "ZSTD"},
			check: func(t *testing.T, opts ds.SyncOptions) {
				if opts.Incremental || !opts.VerifyChecksums || !opts.SkipExisting {
					t.Errorf("flags = %+v", opts)
				}
				if opts.Advanced.BandwidthLimit != 42 || opts.Advanced.Parallel != 8 {
					t.Errorf("Advanced = %+v", opts.Advanced)
				}
				if opts.Advanced.Compression.Type != "zstd" || opts.Advanced.Compression.Level != 6 {
					t.Errorf("Compression = %+v", opts.Advanced.Compression)
				}
			},
		},
		{
			name:  "compression disabled by flag",
			flags: SyncFlags{Compress: "none"},
			check: func(t *testing.T, opts ds.SyncOptions) {
				if opts.Advanced.Compression.Type != "" {
					t.Errorf("Compression = %+v, want none", opts.Advanced.Compression)
				}
			},
		},
		{
			name: "configured key file",
			setup: func(cfg *config.Config) {
				cfg.Sync.Encryption = "aes-256-gcm"
				cfg.Sync.KeyFile = "/keys/drive.key"
			},
			check: func(t *testing.T, opts ds.SyncOptions) {
				enc := opts.Advanced.Encryption
				if enc.Type != "aes-256-gcm" || enc.KeyFile != "/keys/drive.key" || enc.Password != "" {
					t.Errorf("Encryption = %+v", enc)
				}
			},
		},
		{
			name:  "password from flags",
			flags: SyncFlags{Encrypt: "age", Password: "secret"},
			check: func(t *testing.T, opts ds.SyncOptions) {
				enc := opts.Advanced.Encryption
				if enc.Type != "age" || enc.Password != "secret" {
					t.Errorf("Encryption = %+v", enc)
				}
			},
		},
		{
			name:  "encryption disabled by flag",
			setup: func(cfg *config.Config) { cfg.Sync.Encryption = "age" },
			flags: SyncFlags{Encrypt: "none"},
			check: func(t *testing.T, opts ds.SyncOptions) {
				if opts.Advanced.Encryption.Enabled() {
					t.Errorf("Encryption = %+v, want disabled", opts.Advanced.Encryption)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(PasswordEnv, "")
			cfg := base()
			if tt.setup != nil {
				tt.setup(cfg)
			}
			opts, err := SyncOptions(cfg, tt.flags)
			if err != nil {
				t.Fatalf("SyncOptions() error = %v", err)
			}
			tt.check(t, opts)
		})
	}
}

func TestSyncOptions_Password(t *testing.T) {
	cfg := config.NewConfig("host", t.TempDir())
	cfg.Sync.Encryption = "aes-256-gcm"

	t.Setenv(PasswordEnv, "")
	if !NeedsPassword(cfg, SyncFlags{}) {
		t.Error("NeedsPassword() = false without password or key file")
	}
	_, err := SyncOptions(cfg, SyncFlags{})
	if !errors.Is(err, ds.ErrConfig) {
		t.Errorf("SyncOptions() error = %v, want ErrConfig", err)
	}
	if NeedsPassword(cfg, SyncFlags{Encrypt: "none"}) {
		t.Error("NeedsPassword() = true with encryption disabled")
	}
	if NeedsPassword(cfg, SyncFlags{KeyFile: "/k"}) {
		t.Error("NeedsPassword() = true with key file")
	}

	t.Setenv(PasswordEnv, "from-env")
	if NeedsPassword(cfg, SyncFlags{}) {
		t.Error("NeedsPassword() = true with password in environment")
	}
	opts, err := SyncOptions(cfg, SyncFlags{})
	if err != nil {
		t.Fatalf("SyncOptions() error = %v", err)
	}
	if opts.Advanced.Encryption.Password != "from-env" {
		t.Errorf("Password = %q, want %q", opts.Advanced.Encryption.Password, "from-env")
	}
}
