package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"drivesync/internal/app"
	"drivesync/internal/config"
	"drivesync/internal/ds"
	"drivesync/internal/encryption"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a DriveSyncApp. The caller must defer app.Close().
// command identifies the CLI command being run (e.g. "sync", "group create").
func newApp(command string, assumeYes bool) (*app.DriveSyncApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	confirmer := &app.TerminalConfirmer{In: os.Stdin, Out: os.Stderr, Assume: assumeYes}
	a, err := app.NewDriveSyncApp(cfg, command, app.Options{Confirmer: confirmer})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// signalContext is cancelled on SIGINT or SIGTERM so running copies stop
// cleanly and the operation is recorded as cancelled.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// passwordIfNeeded prompts for the encryption password when neither a key
// file nor DRIVESYNC_PASSWORD provides one.
func passwordIfNeeded(cfg *config.Config, flags *app.SyncFlags) error {
	if !app.NeedsPassword(cfg, *flags) {
		return nil
	}
	pw, err := app.ReadPassword(os.Stdin, os.Stderr, "Encryption password: ", false)
	if errors.Is(err, app.ErrNotInteractive) {
		return fmt.Errorf("encryption needs a password: set %s or use --key-file", app.PasswordEnv)
	}
	if err != nil {
		return err
	}
	flags.Password = pw
	return nil
}

var rootCmd = &cobra.Command{
	Use:          "drivesync",
	Short:        "Keep backup drives in sync with their master drives",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Host ID:     %s\n", cfg.HostID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Groups File: %s\n", cfg.GroupsFile)
		fmt.Printf("Database:    %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Drives:      %s\n", cfg.Drives.Type)
		fmt.Printf("Catalog:     %s\n", cfg.Catalog.Type)
		fmt.Printf("Schedules:   %d\n", len(cfg.Schedules))
		fmt.Printf("Watchers:    %d\n", len(cfg.Watch.Groups))
		return nil
	},
}

// catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage tracking database snapshots",
}

var catalogStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Compare the local tracking database with the catalog vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		local, remote, err := app.CatalogStatus(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		fmt.Printf("Local version:  %d\n", local)
		fmt.Printf("Vault version:  %d\n", remote)
		switch {
		case remote > local:
			fmt.Println("Local database is behind; run 'drivesync catalog restore'.")
		case remote < local:
			fmt.Println("Vault is behind; it is updated after the next mutating command.")
		default:
			fmt.Println("Up to date.")
		}
		return nil
	},
}

var catalogRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the local tracking database with the vault snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		version, err := app.RestoreCatalog(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("restoring catalog: %w", err)
		}
		fmt.Printf("Restored tracking database at version %d\n", version)
		return nil
	},
}

// daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduled and realtime syncs until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags, err := syncFlags(cmd)
		if err != nil {
			return err
		}
		a, err := newApp("daemon", false)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := passwordIfNeeded(a.Config(), &flags); err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()
		return a.RunDaemon(ctx, flags)
	},
}

// keygen command
var keygenCmd = &cobra.Command{
	Use:   "keygen PATH",
	Short: "Generate an encryption key file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("type")
		switch kind {
		case "aes-256-gcm", "aes":
			if err := encryption.GenerateKeyFile(args[0]); err != nil {
				return err
			}
			fmt.Printf("AES-256 key written to %s\n", args[0])
		case "age":
			recipient, err := encryption.GenerateAgeIdentity(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("age identity written to %s\n", args[0])
			fmt.Printf("Public key: %s\n", recipient)
		default:
			return fmt.Errorf("%w: unknown key type %q", ds.ErrConfig, kind)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// catalog subcommands
	catalogCmd.AddCommand(catalogStatusCmd)
	catalogCmd.AddCommand(catalogRestoreCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(daemonCmd)
	addSyncFlags(daemonCmd)
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().String("type", "aes-256-gcm", "Key type: aes-256-gcm or age")
}
