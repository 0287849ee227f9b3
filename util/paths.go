package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigDirEnv overrides the per-user config directory
const ConfigDirEnv = "FEDMERGE_CONFIG_DIR"

// GetConfigDir returns the directory user files live in, ~/.config/fedmerge
// unless FEDMERGE_CONFIG_DIR is set. It is created when missing.
func GetConfigDir() (string, error) {
	dir := os.Getenv(ConfigDirEnv)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir = filepath.Join(home, ".config", Name)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// ResolveFilePath prefers filename in the working directory and falls back
// to the config directory, whether or not the file exists there yet
func ResolveFilePath(filename string) string {
	if _, err := os.Stat(filename); err == nil {
		return filename
	}
	dir, err := GetConfigDir()
	if err != nil {
		return filename
	}
	return filepath.Join(dir, filename)
}
