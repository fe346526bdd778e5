package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gnomepatch/internal/jarpatch"
	"gnomepatch/internal/logger"
	"gnomepatch/internal/output"
)

func cmdPatch(args []string) error {
	fs := flag.NewFlagSet("patch", flag.ExitOnError)
	o := targetFlags(fs)
	in := fs.String("in", "", "gamepack jar or single .class file")
	out := fs.String("out", "", "output path")
	workers := fs.Int("workers", -1, "concurrent module workers (0 = one per CPU)")
	structural := fs.Bool("structural-after-raw", false, "also rewrite endpoints in modules the raw key pass patched")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		return fmt.Errorf("--in and --out are required")
	}

	cfg, err := o.load()
	if err != nil {
		return err
	}
	if *workers >= 0 {
		cfg.Workers = *workers
	}
	if *structural {
		cfg.StructuralAfterRaw = true
	}
	target, err := cfg.Target()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer log.Sync()

	data, err := os.ReadFile(*in)
	if err != nil {
		return fmt.Errorf("read %s: %w", *in, err)
	}

	p := &jarpatch.Patcher{
		Target:             target,
		Logger:             log,
		Workers:            cfg.Workers,
		StructuralAfterRaw: cfg.StructuralAfterRaw,
	}

	start := time.Now()
	if jarpatch.IsModule(*in) {
		res, err := p.PatchModule(data)
		if err != nil {
			return fmt.Errorf("patch %s: %w", *in, err)
		}
		if err := output.WriteFile(*out, res.Bytes); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s (patched=%v raw=%v, %d bytes)\n", *out, res.Patched, res.Raw, len(res.Bytes))
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	res, err := p.PatchArchive(ctx, data)
	if err != nil {
		return fmt.Errorf("patch %s: %w", *in, err)
	}
	if err := output.WriteFile(*out, res.Bytes); err != nil {
		return err
	}
	log.Info("gamepack written",
		logger.String("path", *out),
		logger.Int("patched", res.Patched),
		logger.Int("modules", res.Modules),
		logger.Int("bytes", len(res.Bytes)),
		logger.Duration("took", time.Since(start)))
	fmt.Fprintf(os.Stderr, "wrote %s (%d/%d modules patched, %d bytes)\n", *out, res.Patched, res.Modules, len(res.Bytes))
	if res.Patched == 0 {
		fmt.Fprintf(os.Stderr, "warning: nothing matched; check --original-key and domain markers\n")
	}
	return nil
}
