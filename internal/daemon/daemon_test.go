package daemon

import (
	"context"
	"net"
	"net/http"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/portalkeep/portalkeep/internal/config"
	configstore "github.com/portalkeep/portalkeep/internal/config/store"
)

func testPaths(t *testing.T) config.Paths {
	t.Helper()
	t.Setenv("PORTALKEEP_HOME", t.TempDir())
	paths, err := config.EnsureDirs()
	if err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	return paths
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error for missing store")
	}
}

func TestDaemonStartServesAPIAndStops(t *testing.T) {
	paths := testPaths(t)

	store, err := configstore.Open(paths.Config)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	d, err := New(Options{Store: store, Paths: paths})
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Start() }()

	httpClient := &http.Client{
		Timeout: 2 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var dialer net.Dialer
				return dialer.DialContext(ctx, "unix", paths.Socket)
			},
		},
	}

	// Wait for the socket to come up.
	var resp *http.Response
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = httpClient.Get("http://portalkeepd/api/status")
		if err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("daemon API did not come up: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from status, got %d", resp.StatusCode)
	}

	// The lock file records our own PID while the daemon runs.
	data, err := os.ReadFile(paths.Lock)
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if pid, err := strconv.Atoi(string(data)); err != nil || pid != os.Getpid() {
		t.Fatalf("unexpected lock file contents %q: %v", data, err)
	}

	if err := d.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("daemon run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}

	if _, err := os.Stat(paths.Lock); !os.IsNotExist(err) {
		t.Fatalf("lock file should be removed after shutdown, stat err: %v", err)
	}
	if _, err := os.Stat(paths.Socket); !os.IsNotExist(err) {
		t.Fatalf("socket should be removed after shutdown, stat err: %v", err)
	}
}

func TestIsRunningWithStaleLock(t *testing.T) {
	paths := testPaths(t)

	// A dead PID means not running, and the stale lock gets cleaned up.
	if err := os.WriteFile(paths.Lock, []byte(strconv.Itoa(1<<30-1)), 0o600); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	if IsRunning() {
		t.Fatal("expected not running for stale lock")
	}
	if _, err := os.Stat(paths.Lock); !os.IsNotExist(err) {
		t.Fatal("stale lock file should have been removed")
	}
}

func TestLockPIDMalformed(t *testing.T) {
	paths := testPaths(t)

	if err := os.WriteFile(paths.Lock, []byte("not-a-pid"), 0o600); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	if _, alive := LockPID(paths); alive {
		t.Fatal("expected malformed lock to report not alive")
	}
	if _, err := os.Stat(paths.Lock); !os.IsNotExist(err) {
		t.Fatal("malformed lock file should have been removed")
	}
}

func TestLockPIDMissing(t *testing.T) {
	paths := testPaths(t)
	if pid, alive := LockPID(paths); alive || pid != 0 {
		t.Fatalf("expected no pid for missing lock, got %d/%v", pid, alive)
	}
}
