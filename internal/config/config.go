// Package config loads gnomepatch settings from a YAML or TOML file and
// GNOME_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"gnomepatch/internal/logger"
	"gnomepatch/internal/rewrite"
	"gnomepatch/internal/worldlist"
)

var ErrInvalid = errors.New("config: invalid configuration")

type Config struct {
	// Patch target
	Host               string   `yaml:"host" toml:"host"`                 // replacement for endpoint literals
	Key                string   `yaml:"key" toml:"key"`                   // replacement modulus, hex
	OriginalKey        string   `yaml:"original_key" toml:"original_key"` // modulus matched in the gamepack
	DomainMarkers      []string `yaml:"domain_markers" toml:"domain_markers"`
	ClientClass        string   `yaml:"client_class" toml:"client_class"`
	LoginMarker        string   `yaml:"login_marker" toml:"login_marker"`
	StructuralAfterRaw bool     `yaml:"structural_after_raw" toml:"structural_after_raw"`
	Workers            int      `yaml:"workers" toml:"workers"` // 0 = one per CPU

	// World-list server
	Listen          string        `yaml:"listen" toml:"listen"` // ex: ":8080"
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	WorldFile       string        `yaml:"world_file" toml:"world_file"` // prebuilt .ws served verbatim
	Worlds          []World       `yaml:"worlds" toml:"worlds"`

	// Logging
	LogLevel  string `yaml:"log_level" toml:"log_level"`   // "debug" | "info" | "warn" | "error"
	PrettyLog bool   `yaml:"pretty_log" toml:"pretty_log"` // true => zap dev (color), false => JSON
}

// World is a world-list entry as written in config files. Types are
// world type names such as MEMBERS or PVP.
type World struct {
	ID         uint16   `yaml:"id" toml:"id"`
	Types      []string `yaml:"types" toml:"types"`
	Host       string   `yaml:"host" toml:"host"`
	Activity   string   `yaml:"activity" toml:"activity"`
	Location   uint8    `yaml:"location" toml:"location"`
	Population int16    `yaml:"population" toml:"population"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		OriginalKey:     rewrite.DefaultOriginalKeyHex,
		DomainMarkers:   append([]string(nil), rewrite.DefaultDomainMarkers...),
		ClientClass:     rewrite.DefaultClientClass,
		LoginMarker:     rewrite.DefaultLoginMarker,
		Listen:          ":8080",
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        "info",
		PrettyLog:       true,
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file. The result is not validated so callers
// can apply flag overrides first.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		return fmt.Errorf("%w: unsupported config format %q", ErrInvalid, ext)
	}
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Host = getenv("GNOME_HOST", c.Host)
	c.Key = getenv("GNOME_KEY", c.Key)
	c.OriginalKey = getenv("GNOME_ORIGINAL_KEY", c.OriginalKey)
	c.Listen = getenv("GNOME_LISTEN", c.Listen)
	c.WorldFile = getenv("GNOME_WORLD_FILE", c.WorldFile)
	c.LogLevel = getenv("GNOME_LOG_LEVEL", c.LogLevel)
	c.PrettyLog = mustBool("GNOME_PRETTY_LOG", c.PrettyLog)
	c.Workers = getenvInt("GNOME_WORKERS", c.Workers)
	c.ShutdownTimeout = mustDuration("GNOME_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
}

// Validate checks settings shared by every command.
func (c *Config) Validate() error {
	if !logger.ValidLevel(c.LogLevel) {
		return fmt.Errorf("%w: log level %q", ErrInvalid, c.LogLevel)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers %d", ErrInvalid, c.Workers)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown timeout %s", ErrInvalid, c.ShutdownTimeout)
	}
	for i, w := range c.Worlds {
		if _, err := parseTypes(w.Types); err != nil {
			return fmt.Errorf("%w: world %d: %v", ErrInvalid, i, err)
		}
	}
	return nil
}

// Target builds the patch target from the configuration.
func (c *Config) Target() (*rewrite.Target, error) {
	return rewrite.NewTarget(c.Host, c.Key,
		rewrite.WithOriginalKey(c.OriginalKey),
		rewrite.WithDomainMarkers(c.DomainMarkers...),
		rewrite.WithClientClass(c.ClientClass),
		rewrite.WithLoginMarker(c.LoginMarker),
	)
}

// Records converts the configured worlds. With none configured it returns
// the default world for Host. Worlds without a host inherit Host.
func (c *Config) Records() ([]worldlist.Record, error) {
	if len(c.Worlds) == 0 {
		if c.Host == "" {
			return nil, fmt.Errorf("%w: no worlds and no host configured", ErrInvalid)
		}
		return []worldlist.Record{worldlist.Default(c.Host)}, nil
	}
	out := make([]worldlist.Record, 0, len(c.Worlds))
	for i, w := range c.Worlds {
		types, err := parseTypes(w.Types)
		if err != nil {
			return nil, fmt.Errorf("%w: world %d: %v", ErrInvalid, i, err)
		}
		host := w.Host
		if host == "" {
			host = c.Host
		}
		out = append(out, worldlist.Record{
			ID:         w.ID,
			Mask:       worldlist.MaskOf(types...),
			Host:       host,
			Activity:   w.Activity,
			Location:   w.Location,
			Population: w.Population,
		})
	}
	return out, nil
}

func parseTypes(names []string) ([]worldlist.WorldType, error) {
	out := make([]worldlist.WorldType, 0, len(names))
	for _, n := range names {
		t, err := worldlist.ParseWorldType(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
