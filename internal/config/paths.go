package config

import (
	"os"
	"path/filepath"
)

// Paths contains all filesystem locations used by a portalkeep installation.
type Paths struct {
	Home      string // Installation home directory
	Config    string // YAML configuration file path
	Socket    string // Unix socket for the local API
	Lock      string // Daemon lock file path
	Logs      string // Logs directory
	HistoryDB string // SQLite login-history database path
}

// GetPaths returns the filesystem layout rooted at the portalkeep home.
func GetPaths() Paths {
	home := GetHome()

	return Paths{
		Home:      home,
		Config:    filepath.Join(home, "config.yaml"),
		Socket:    filepath.Join(home, "portalkeepd.sock"),
		Lock:      filepath.Join(home, "daemon.lock"),
		Logs:      filepath.Join(home, "logs"),
		HistoryDB: filepath.Join(home, "history.db"),
	}
}

// GetHome returns the portalkeep home directory. The PORTALKEEP_HOME
// environment variable overrides the default ~/.portalkeep.
func GetHome() string {
	if override := os.Getenv("PORTALKEEP_HOME"); override != "" {
		return ExpandPath(override)
	}
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".portalkeep")
}

// ExpandPath expands a leading ~ to the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) == 1 {
			return home
		}
		if path[1] == '/' || path[1] == os.PathSeparator {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// EnsureDirs creates the home directory structure if it does not exist.
func EnsureDirs() (Paths, error) {
	paths := GetPaths()

	for _, dir := range []string{paths.Home, paths.Logs} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, err
		}
	}

	return paths, nil
}
