package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Notifications holds the user's notification preferences.
type Notifications struct {
	Sound  bool `toml:"sound"`
	Visual bool `toml:"visual"`
}

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	ServerURL      string `toml:"server_url"`
	UserID         string `toml:"user_id"`
	AuthToken      string `toml:"auth_token"`

	// Tuning knobs; zero values select engine defaults.
	MatchWindowSeconds    int `toml:"match_window_seconds"`
	StaleAfterSeconds     int `toml:"stale_after_seconds"`
	PersistDebounceMillis int `toml:"persist_debounce_millis"`

	Notifications Notifications `toml:"notifications"`
}

// Load reads config from the given path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
