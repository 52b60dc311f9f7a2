package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/portalkeep/portalkeep/internal/config"
)

// defaultTemplate is the commented configuration document written on first
// run. The placeholder credentials are a recognized sentinel: the daemon
// refuses login attempts until they are replaced.
const defaultTemplate = `# portalkeep configuration
# How to capture the values below:
# 1. Open a browser and visit any page to trigger the portal login redirect.
# 2. Press F12, switch to the Network tab, then log in on the portal page.
# 3. Find the login request (often "login.php"), right click it and pick
#    "Copy as cURL".
# 4. Transfer the URL, form fields and headers from that command here.

# Login request template. Every key except "url" is sent verbatim as a form
# field, so portal-specific fields can be added freely.
Login:
  url: "http://YOUR_LOGIN_SERVER_URL/ac_portal/login.php"
  opr: "pwdLogin"
  userName: "YOUR_USERNAME"
  pwd: "YOUR_PASSWORD"
  auth_tag: "TIMESTAMP"
  rememberPwd: "0"

# Headers applied verbatim to the login request.
Headers:
  Accept: "*/*"
  Accept-Language: "zh-CN,zh;q=0.9,en;q=0.8"
  Content-Type: "application/x-www-form-urlencoded; charset=UTF-8"
  User-Agent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
  X-Requested-With: "XMLHttpRequest"

# Daemon settings.
Settings:
  # React to detected outages by logging in again.
  auto_reconnect: true

  # Seconds between connectivity probes.
  check_interval: 60

  # URL probed to decide whether the network is reachable.
  test_url: "http://www.baidu.com"

  # Probe timeout in seconds.
  test_timeout: 5

  # Seconds between unconditional re-logins. 0 disables the periodic login.
  # 3600 (1h) or 7200 (2h) helps on portals that expire sessions silently.
  periodic_login_interval: 0

  # Lock auto_reconnect on. When true the toggle can only be changed by
  # editing this file.
  forced_auto_reconnect: false
`

// ErrNotLoaded indicates the store has no usable snapshot.
var ErrNotLoaded = errors.New("config: no configuration loaded")

// Store persists the configuration file and tracks external modification.
// The current snapshot is replaced wholesale on reload so concurrent readers
// never observe a partially-updated configuration.
type Store struct {
	path string

	mu       sync.RWMutex
	current  *config.Config
	observed time.Time // last-observed mtime of the config file
	created  bool      // true when Open materialized the default template
}

// Open loads the configuration at path, materializing the commented default
// template first if the file does not exist.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.writeDefault(); err != nil {
			return nil, err
		}
		s.created = true
	} else if err != nil {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}

	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the configuration file location.
func (s *Store) Path() string {
	return s.path
}

// CreatedDefault reports whether Open wrote the default template because no
// configuration existed yet.
func (s *Store) CreatedDefault() bool {
	return s.created
}

// Current returns the active configuration snapshot. The returned value is
// shared and must not be mutated.
func (s *Store) Current() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Reload re-reads the configuration file and swaps in the new snapshot.
// A malformed file is a recoverable error: the previous snapshot stays
// active and is returned alongside the error by Current.
func (s *Store) Reload() (*config.Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", s.path, err)
	}

	cfg, err := config.Parse(data)
	if err != nil {
		return nil, err
	}

	info, statErr := os.Stat(s.path)

	s.mu.Lock()
	s.current = cfg
	if statErr == nil {
		s.observed = info.ModTime()
	}
	s.mu.Unlock()

	return cfg, nil
}

// Save persists the snapshot and makes it current. The write is atomic
// (temp file + rename) and refreshes the observed modification marker so a
// self-save is not reported as an external change by Poll.
func (s *Store) Save(cfg *config.Config) error {
	if cfg == nil {
		return ErrNotLoaded
	}

	data, err := cfg.Marshal()
	if err != nil {
		return err
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("config: save %s: %w", s.path, err)
	}

	info, statErr := os.Stat(s.path)

	s.mu.Lock()
	s.current = cfg
	if statErr == nil {
		s.observed = info.ModTime()
	}
	s.mu.Unlock()

	return nil
}

// Poll compares the file's modification time against the last-observed
// marker. It returns true at most once per actual external change and
// advances the marker, so every detected change is reported exactly once.
func (s *Store) Poll() bool {
	info, err := os.Stat(s.path)
	if err != nil {
		// The file may be mid-rewrite by an editor; try again next tick.
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if info.ModTime().Equal(s.observed) {
		return false
	}
	s.observed = info.ModTime()
	return true
}

func (s *Store) writeDefault() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("config: create config directory: %w", err)
	}
	if err := writeFileAtomic(s.path, []byte(defaultTemplate)); err != nil {
		return fmt.Errorf("config: write default template: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
