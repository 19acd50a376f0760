// Package config loads the topoflow TOML configuration with sensible
// defaults for every key.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds topoflow configuration.
type Config struct {
	API     APIConfig         `toml:"api"`
	View    ViewConfig        `toml:"view"`
	Store   StoreConfig       `toml:"store"`
	GeoIP   GeoIPConfig       `toml:"geoip"`
	Audio   AudioConfig       `toml:"audio"`
	Clients map[string]string `toml:"clients"`
}

// APIConfig points at the proxy client's controller API.
type APIConfig struct {
	URL    string `toml:"url"`
	Secret string `toml:"secret"`
}

// ViewConfig controls the window and topology layout.
type ViewConfig struct {
	Alignment string `toml:"alignment"` // "center" or "top"
	TPS       int    `toml:"tps"`
	Width     int    `toml:"width"`
	Height    int    `toml:"height"`
	AutoFit   bool   `toml:"auto_fit"`
	Panel     bool   `toml:"panel"`
}

// StoreConfig controls the lifetime transfer totals store.
type StoreConfig struct {
	Path     string `toml:"path"` // default: XDG cache dir
	Disabled bool   `toml:"disabled"`
}

// GeoIPConfig points at a MaxMind-format country database. When URL is set
// and the file is missing it is downloaded on startup.
type GeoIPConfig struct {
	Database string `toml:"database"`
	URL      string `toml:"url"`
}

// AudioConfig enables ambient playback when MusicDir is set.
type AudioConfig struct {
	MusicDir string `toml:"music_dir"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{URL: "http://127.0.0.1:9090"},
		View: ViewConfig{
			Alignment: "center",
			TPS:       60,
			Width:     1280,
			Height:    800,
			AutoFit:   true,
			Panel:     true,
		},
		Clients: map[string]string{},
	}
}

// ConfigDir returns the topoflow config directory path.
func ConfigDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "topoflow")
}

// CacheDir returns the default directory for the traffic store.
func CacheDir() string {
	dir := os.Getenv("XDG_CACHE_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".cache")
	}
	return filepath.Join(dir, "topoflow")
}

func configPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads the config file, returning defaults when it doesn't exist.
func Load() *Config {
	return LoadFrom(configPath())
}

// LoadFrom reads a specific config file over the defaults.
func LoadFrom(path string) *Config {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	_ = toml.Unmarshal(data, cfg)
	if cfg.Clients == nil {
		cfg.Clients = map[string]string{}
	}
	return cfg
}

// Save writes the config to disk.
func Save(cfg *Config) error {
	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
