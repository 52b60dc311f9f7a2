package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Placeholder values written into the default configuration template.
// Credentials still carrying these values are treated as unconfigured.
const (
	PlaceholderUsername   = "YOUR_USERNAME"
	PlaceholderPassword   = "YOUR_PASSWORD"
	PlaceholderServerMark = "YOUR_LOGIN_SERVER"
)

// Login template field names the portal body is built from. The field set is
// portal-specific; these two are the only ones portalkeep itself inspects.
const (
	FieldUsername = "userName"
	FieldPassword = "pwd"
)

// Settings defaults applied when keys are missing from the config file.
const (
	DefaultCheckInterval    = 60
	DefaultProbeURL         = "http://www.baidu.com"
	DefaultProbeTimeout     = 5.0
	DefaultPeriodicInterval = 0
)

// Login describes the portal login request template: the endpoint URL plus
// an opaque field map submitted verbatim as the form body.
type Login struct {
	URL    string            `yaml:"url"`
	Fields map[string]string `yaml:",inline"`
}

// Settings holds the daemon tunables. YAML key names match the on-disk
// configuration document.
type Settings struct {
	AutoReconnect         bool    `yaml:"auto_reconnect"`
	CheckInterval         int     `yaml:"check_interval"`
	ProbeURL              string  `yaml:"test_url"`
	ProbeTimeout          float64 `yaml:"test_timeout"`
	PeriodicLoginInterval int     `yaml:"periodic_login_interval"`
	ForcedAutoReconnect   bool    `yaml:"forced_auto_reconnect"`
}

// Config is an immutable configuration snapshot. Snapshots are replaced
// wholesale on reload; callers must not mutate a snapshot they did not
// create — use Clone first.
type Config struct {
	Login    Login             `yaml:"Login"`
	Headers  map[string]string `yaml:"Headers"`
	Settings Settings          `yaml:"Settings"`
}

// settingsDoc mirrors Settings with pointer fields so that missing keys can
// be distinguished from explicit zero values during decoding.
type settingsDoc struct {
	AutoReconnect         *bool    `yaml:"auto_reconnect"`
	CheckInterval         *int     `yaml:"check_interval"`
	ProbeURL              *string  `yaml:"test_url"`
	ProbeTimeout          *float64 `yaml:"test_timeout"`
	PeriodicLoginInterval *int     `yaml:"periodic_login_interval"`
	ForcedAutoReconnect   *bool    `yaml:"forced_auto_reconnect"`
}

// UnmarshalYAML decodes settings and fills documented defaults for missing
// keys. auto_reconnect defaults to true, which a plain struct decode cannot
// express.
func (s *Settings) UnmarshalYAML(value *yaml.Node) error {
	var doc settingsDoc
	if err := value.Decode(&doc); err != nil {
		return err
	}

	s.AutoReconnect = true
	if doc.AutoReconnect != nil {
		s.AutoReconnect = *doc.AutoReconnect
	}
	s.CheckInterval = DefaultCheckInterval
	if doc.CheckInterval != nil {
		s.CheckInterval = *doc.CheckInterval
	}
	s.ProbeURL = DefaultProbeURL
	if doc.ProbeURL != nil {
		s.ProbeURL = *doc.ProbeURL
	}
	s.ProbeTimeout = DefaultProbeTimeout
	if doc.ProbeTimeout != nil {
		s.ProbeTimeout = *doc.ProbeTimeout
	}
	s.PeriodicLoginInterval = DefaultPeriodicInterval
	if doc.PeriodicLoginInterval != nil {
		s.PeriodicLoginInterval = *doc.PeriodicLoginInterval
	}
	if doc.ForcedAutoReconnect != nil {
		s.ForcedAutoReconnect = *doc.ForcedAutoReconnect
	}

	return nil
}

// Parse decodes a configuration document and normalizes its settings.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{Settings: defaultSettings()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.Normalize()
	return cfg, nil
}

func defaultSettings() Settings {
	return Settings{
		AutoReconnect:         true,
		CheckInterval:         DefaultCheckInterval,
		ProbeURL:              DefaultProbeURL,
		ProbeTimeout:          DefaultProbeTimeout,
		PeriodicLoginInterval: DefaultPeriodicInterval,
	}
}

// Normalize clamps out-of-range settings to their documented minimums.
func (c *Config) Normalize() {
	if c.Settings.CheckInterval < 1 {
		c.Settings.CheckInterval = DefaultCheckInterval
	}
	if c.Settings.ProbeTimeout <= 0 {
		c.Settings.ProbeTimeout = DefaultProbeTimeout
	}
	if c.Settings.ProbeURL == "" {
		c.Settings.ProbeURL = DefaultProbeURL
	}
	if c.Settings.PeriodicLoginInterval < 0 {
		c.Settings.PeriodicLoginInterval = 0
	}
	if c.Headers == nil {
		c.Headers = map[string]string{}
	}
	if c.Login.Fields == nil {
		c.Login.Fields = map[string]string{}
	}
}

// Username returns the configured portal username, if any.
func (c *Config) Username() string {
	return c.Login.Fields[FieldUsername]
}

// CredentialsConfigured reports whether the login template was edited away
// from the placeholder values of the default configuration. Attempting a
// login with placeholder credentials is pointless and is refused upstream.
func (c *Config) CredentialsConfigured() bool {
	if c.Login.Fields[FieldUsername] == PlaceholderUsername {
		return false
	}
	if c.Login.Fields[FieldPassword] == PlaceholderPassword {
		return false
	}
	if strings.Contains(c.Login.URL, PlaceholderServerMark) {
		return false
	}
	return c.Login.URL != ""
}

// EffectiveAutoReconnect resolves the auto-reconnect flag: when the
// configuration forces auto-reconnect on, the user toggle is overridden.
func (c *Config) EffectiveAutoReconnect() bool {
	return c.Settings.ForcedAutoReconnect || c.Settings.AutoReconnect
}

// Clone returns a deep copy that is safe to mutate.
func (c *Config) Clone() *Config {
	out := &Config{
		Login: Login{
			URL:    c.Login.URL,
			Fields: make(map[string]string, len(c.Login.Fields)),
		},
		Headers:  make(map[string]string, len(c.Headers)),
		Settings: c.Settings,
	}
	for k, v := range c.Login.Fields {
		out.Login.Fields[k] = v
	}
	for k, v := range c.Headers {
		out.Headers[k] = v
	}
	return out
}

// Marshal serializes the configuration as a YAML document.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("config: marshal: %w", err)
	}
	return data, nil
}
