package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/portalkeep/portalkeep/internal/config"
)

const validYAML = `Login:
  url: "http://portal.example/login.php"
  userName: "alice"
  pwd: "secret"
Settings:
  check_interval: 45
`

func TestOpenMaterializesDefaultTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !s.CreatedDefault() {
		t.Fatal("expected CreatedDefault to report the template write")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected template on disk: %v", err)
	}

	cfg := s.Current()
	if cfg == nil {
		t.Fatal("expected a loaded snapshot")
	}
	if cfg.CredentialsConfigured() {
		t.Fatal("expected the template credentials to read as unconfigured")
	}
	if cfg.Settings.CheckInterval != config.DefaultCheckInterval {
		t.Fatalf("expected default check interval, got %d", cfg.Settings.CheckInterval)
	}
}

func TestOpenExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.CreatedDefault() {
		t.Fatal("expected CreatedDefault false for an existing file")
	}
	if got := s.Current().Settings.CheckInterval; got != 45 {
		t.Fatalf("expected check interval 45, got %d", got)
	}
}

func TestReloadKeepsSnapshotOnMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := os.WriteFile(path, []byte("Login: [broken"), 0o600); err != nil {
		t.Fatalf("corrupt config: %v", err)
	}
	if _, err := s.Reload(); err == nil {
		t.Fatal("expected reload to fail on malformed YAML")
	}

	if got := s.Current().Username(); got != "alice" {
		t.Fatalf("expected the previous snapshot to stay active, got username %q", got)
	}
}

func TestSaveIsNotReportedAsExternalChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	next := s.Current().Clone()
	next.Settings.CheckInterval = 90
	if err := s.Save(next); err != nil {
		t.Fatalf("save: %v", err)
	}

	if s.Poll() {
		t.Fatal("expected Poll to ignore the store's own save")
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reopened.Current().Settings.CheckInterval; got != 90 {
		t.Fatalf("expected persisted interval 90, got %d", got)
	}
}

func TestPollReportsExternalChangeOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// Simulate an editor save with a clearly newer mtime.
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if !s.Poll() {
		t.Fatal("expected Poll to detect the external change")
	}
	if s.Poll() {
		t.Fatal("expected a change to be reported only once")
	}
}

func TestWatchEmitsOnExternalEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := s.Watch(ctx, 50*time.Millisecond)

	edited := `Login:
  url: "http://portal.example/login.php"
  userName: "bob"
  pwd: "secret"
`
	if err := os.WriteFile(path, []byte(edited), 0o600); err != nil {
		t.Fatalf("edit config: %v", err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case ev := <-changes:
		if ev.Err != nil {
			t.Fatalf("unexpected change error: %v", ev.Err)
		}
		if ev.Config.Username() != "bob" {
			t.Fatalf("expected reloaded snapshot, got username %q", ev.Config.Username())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a change event")
	}

	if s.Current().Username() != "bob" {
		t.Fatal("expected the store snapshot to be replaced")
	}
}

func TestWatchReportsMalformedEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := s.Watch(ctx, 50*time.Millisecond)

	if err := os.WriteFile(path, []byte("Login: [broken"), 0o600); err != nil {
		t.Fatalf("corrupt config: %v", err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case ev := <-changes:
		if ev.Err == nil {
			t.Fatal("expected a parse error in the change event")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a change event")
	}

	if s.Current().Username() != "alice" {
		t.Fatal("expected the previous snapshot to survive the broken edit")
	}
}
