package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gnomepatch/internal/rewrite"
	"gnomepatch/internal/worldlist"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

const yamlConfig = `
host: 192.0.2.1
key: c0ffee
domain_markers: [example.org]
listen: ":9090"
shutdown_timeout: 2s
log_level: debug
pretty_log: false
worlds:
  - id: 301
    types: [MEMBERS, pvp]
    activity: PvP world
    population: 12
  - id: 302
    host: 198.51.100.7
    activity: Trade
    location: 1
`

const tomlConfig = `
host = "192.0.2.1"
key = "c0ffee"
workers = 4
shutdown_timeout = "3s"

[[worlds]]
id = 255
types = ["MEMBERS"]
activity = "Gnome"
`

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "gnome.yaml", yamlConfig))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Host != "192.0.2.1" || cfg.Listen != ":9090" || cfg.LogLevel != "debug" || cfg.PrettyLog {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.ShutdownTimeout != 2*time.Second {
		t.Errorf("ShutdownTimeout = %s", cfg.ShutdownTimeout)
	}
	if cfg.OriginalKey != rewrite.DefaultOriginalKeyHex || cfg.ClientClass != "client" {
		t.Errorf("defaults lost: %+v", cfg)
	}

	recs, err := cfg.Records()
	if err != nil {
		t.Fatal(err)
	}
	want := []worldlist.Record{
		{ID: 301, Mask: 3, Host: "192.0.2.1", Activity: "PvP world", Population: 12},
		{ID: 302, Host: "198.51.100.7", Activity: "Trade", Location: 1},
	}
	if len(recs) != len(want) {
		t.Fatalf("records = %+v", recs)
	}
	for i := range want {
		if recs[i] != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, recs[i], want[i])
		}
	}

	tg, err := cfg.Target()
	if err != nil {
		t.Fatal(err)
	}
	if tg.Classify("login.example.org") != rewrite.RuleDomain || tg.Classify("jagex.com") != rewrite.RuleNone {
		t.Errorf("domain markers not applied: %v", tg.DomainMarkers)
	}
}

func TestLoadTOML(t *testing.T) {
	cfg, err := Load(writeFile(t, "gnome.toml", tomlConfig))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Workers != 4 || cfg.ShutdownTimeout != 3*time.Second || cfg.Listen != ":8080" {
		t.Errorf("cfg = %+v", cfg)
	}
	recs, err := cfg.Records()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0] != worldlist.Default("192.0.2.1") {
		t.Errorf("records = %+v", recs)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GNOME_HOST", "203.0.113.9")
	t.Setenv("GNOME_KEY", "abcdef")
	t.Setenv("GNOME_LISTEN", ":7070")
	t.Setenv("GNOME_PRETTY_LOG", "false")
	t.Setenv("GNOME_WORKERS", "not-a-number")
	t.Setenv("GNOME_SHUTDOWN_TIMEOUT", "250ms")

	cfg, err := Load(writeFile(t, "gnome.yml", yamlConfig))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Host != "203.0.113.9" || cfg.Key != "abcdef" || cfg.Listen != ":7070" || cfg.PrettyLog {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.Workers != 0 {
		t.Errorf("bad GNOME_WORKERS should keep the file value, got %d", cfg.Workers)
	}
	if cfg.ShutdownTimeout != 250*time.Millisecond {
		t.Errorf("ShutdownTimeout = %s", cfg.ShutdownTimeout)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("missing file accepted")
	}
	if _, err := Load(writeFile(t, "gnome.json", "{}")); !errors.Is(err, ErrInvalid) {
		t.Errorf("json config err = %v, want ErrInvalid", err)
	}
	if _, err := Load(writeFile(t, "gnome.yaml", "host: [")); err == nil {
		t.Errorf("broken yaml accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, false},
		{"negative workers", func(c *Config) { c.Workers = -1 }, false},
		{"zero timeout", func(c *Config) { c.ShutdownTimeout = 0 }, false},
		{"unknown world type", func(c *Config) { c.Worlds = []World{{Types: []string{"RAIDS"}}} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.ok != (err == nil) {
				t.Errorf("Validate = %v", err)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("err = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestRecordsWithoutHost(t *testing.T) {
	if _, err := Default().Records(); !errors.Is(err, ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}
