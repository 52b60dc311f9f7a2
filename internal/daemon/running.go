package daemon

import (
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/portalkeep/portalkeep/internal/config"
	"github.com/portalkeep/portalkeep/internal/procutil"
)

// IsRunning reports whether a daemon instance is already active, either by
// answering on its socket or by holding a live PID in the lock file. Stale
// lock files are removed along the way.
func IsRunning() bool {
	paths := config.GetPaths()

	if conn, err := net.Dial("unix", paths.Socket); err == nil {
		conn.Close()
		return true
	}

	_, alive := LockPID(paths)
	return alive
}

// LockPID returns the PID recorded in the lock file and whether that process
// is still alive. A stale or malformed lock file is removed.
func LockPID(paths config.Paths) (int, bool) {
	data, err := os.ReadFile(paths.Lock)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		os.Remove(paths.Lock)
		return 0, false
	}

	if !procutil.IsProcessAlive(pid) {
		os.Remove(paths.Lock)
		return pid, false
	}

	return pid, true
}
