package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"gnomepatch/internal/config"
	"gnomepatch/internal/output"
	"gnomepatch/internal/worldlist"
)

func cmdGenWorlds(args []string) error {
	fs := flag.NewFlagSet("gen-worlds", flag.ExitOnError)
	cfgPath := fs.String("config", "", "YAML or TOML config file")
	host := fs.String("host", "", "host for worlds without one")
	out := fs.String("out", "", "output .ws path")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return fmt.Errorf("--out is required")
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *host != "" {
		cfg.Host = *host
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	records, err := cfg.Records()
	if err != nil {
		return err
	}
	data, err := worldlist.Encode(records)
	if err != nil {
		return err
	}
	if err := output.WriteFile(*out, data); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d worlds, %d bytes)\n", *out, len(records), len(data))
	return nil
}

func cmdWorlds(args []string) error {
	fs := flag.NewFlagSet("worlds", flag.ExitOnError)
	in := fs.String("in", "", "world list (.ws) file")
	asJSON := fs.Bool("json", false, "emit JSON instead of text")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("--in is required")
	}
	data, err := os.ReadFile(*in)
	if err != nil {
		return fmt.Errorf("read %s: %w", *in, err)
	}

	records, err := worldlist.Decode(data)
	if err != nil && !errors.Is(err, worldlist.ErrTruncated) {
		return err
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v (showing %d complete records)\n", err, len(records))
	}

	if *asJSON {
		return output.EncodeJSON(os.Stdout, worldlist.Project(records))
	}
	for _, r := range records {
		fmt.Printf("%5d  %-20s %-24s loc=%d pop=%d types=%v\n",
			r.ID, r.Host, r.Activity, r.Location, r.Population, r.Types())
		if r.Unmatched() {
			fmt.Fprintf(os.Stderr, "warning: world %d mask %#x matches no world type\n", r.ID, r.Mask)
		}
	}
	fmt.Fprintf(os.Stderr, "%d worlds\n", len(records))
	return nil
}
