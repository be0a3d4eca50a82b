package config

import (
	"os"
	"path/filepath"
)

// GetUserConfigDir returns the per-user config directory, honoring
// AGENTD_CONFIG_DIR before falling back to ~/.agentd.
func GetUserConfigDir() (string, error) {
	if dir := os.Getenv("AGENTD_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".agentd"), nil
}

// GetStateDir returns the daemon's durable state directory (journal
// segments, snapshots, SQLite registries), honoring AGENTD_STATE_DIR
// before falling back to <home>/.agentd/state.
func GetStateDir() (string, error) {
	if dir := os.Getenv("AGENTD_STATE_DIR"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".agentd", "state"), nil
}

// GetProjectDir walks up from the working directory looking for a
// .agentd or .git directory, falling back to the working directory
// itself when neither is found.
func GetProjectDir() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, ".agentd")); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return wd, nil
		}
		dir = parent
	}
}

// EnsureConfigDirs creates the user config and project .agentd
// directories if they don't already exist.
func EnsureConfigDirs(userConfigDir, projectDir string) error {
	if err := os.MkdirAll(userConfigDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(filepath.Join(projectDir, ".agentd"), 0755)
}
