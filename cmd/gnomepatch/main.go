package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"gnomepatch/internal/config"
	"gnomepatch/internal/jarpatch"
	"gnomepatch/internal/logger"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "patch":
		err = cmdPatch(os.Args[2:])
	case "gen-worlds":
		err = cmdGenWorlds(os.Args[2:])
	case "worlds":
		err = cmdWorlds(os.Args[2:])
	case "serve":
		err = cmdServe(os.Args[2:])
	case "strings":
		err = cmdStrings(os.Args[2:])
	case "graph":
		err = cmdGraph(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `gnomepatch: gamepack key/endpoint patcher and world-list tools

Usage:
  gnomepatch patch      --in <jar|class> --out <path>   Rewrite key and endpoints
  gnomepatch strings    --in <jar|class> [--json]       List what patch would rewrite
  gnomepatch graph      --in <jar|class> --out <dir>    Call graph and CFG DOT files
  gnomepatch gen-worlds --out <file.ws>                 Encode the configured world list
  gnomepatch worlds     --in <file.ws> [--json]         Decode a world list
  gnomepatch serve      [--listen <addr>]               Serve the world list over HTTP

Flags:
  --config <path>       YAML or TOML config file
  --host <host>         Replacement host (GNOME_HOST)
  --key <hex>           Replacement modulus (GNOME_KEY)
  --log-level <lvl>     debug, info, warn or error
`)
}

// overrides holds the flags shared by commands that build a patch target.
type overrides struct {
	config      *string
	host        *string
	key         *string
	originalKey *string
	logLevel    *string
}

func targetFlags(fs *flag.FlagSet) overrides {
	return overrides{
		config:      fs.String("config", "", "YAML or TOML config file"),
		host:        fs.String("host", "", "replacement host"),
		key:         fs.String("key", "", "replacement modulus, hex"),
		originalKey: fs.String("original-key", "", "modulus to replace, hex (default: built-in)"),
		logLevel:    fs.String("log-level", "", "log level"),
	}
}

// load reads the config file and applies non-empty flag values over it.
func (o overrides) load() (*config.Config, error) {
	cfg, err := config.Load(*o.config)
	if err != nil {
		return nil, err
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Host, *o.host)
	set(&cfg.Key, *o.key)
	set(&cfg.OriginalKey, *o.originalKey)
	set(&cfg.LogLevel, *o.logLevel)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) logger.Logger {
	return logger.New(cfg.LogLevel, cfg.PrettyLog)
}

// readModules loads a single class file or every module of an archive.
func readModules(path string) ([]jarpatch.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if jarpatch.IsModule(path) {
		return []jarpatch.Entry{{Name: filepath.Base(path), Data: data}}, nil
	}
	return jarpatch.ReadModules(data)
}
