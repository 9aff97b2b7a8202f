package app

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	ConfigPathEnv = "DRIVESYNC_CONFIG_PATH"
	HomeEnv       = "DRIVESYNC_HOME"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - DRIVESYNC_CONFIG_PATH: config file location (default: ~/.config/drivesync.toml)
//   - DRIVESYNC_HOME: base directory for drivesync data (default: ~/.local/share/drivesync)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking DRIVESYNC_CONFIG_PATH first.
func getConfigPath() (string, error) {
	if path := os.Getenv(ConfigPathEnv); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "drivesync.toml"), nil
}

// getBaseDir returns the data directory, checking DRIVESYNC_HOME first and
// falling back to the XDG default.
func getBaseDir() (string, error) {
	if path := os.Getenv(HomeEnv); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "drivesync"), nil
}
