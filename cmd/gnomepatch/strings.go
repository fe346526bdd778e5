package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"gnomepatch/internal/classfile"
	"gnomepatch/internal/output"
	"gnomepatch/internal/rawpatch"
	"gnomepatch/internal/rewrite"
	"gnomepatch/internal/signal"
)

type stringsReport struct {
	Entry    string            `json:"entry"`
	RawKey   int               `json:"raw_key_offset"` // -1 when absent
	Findings []rewrite.Finding `json:"findings"`
	Signals  []signal.Hit      `json:"signals,omitempty"`
}

func cmdStrings(args []string) error {
	fs := flag.NewFlagSet("strings", flag.ExitOnError)
	o := targetFlags(fs)
	in := fs.String("in", "", "gamepack jar or single .class file")
	asJSON := fs.Bool("json", false, "emit JSON instead of text")
	signals := fs.Bool("signals", false, "also list endpoint/credential-like strings no rule matches")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("--in is required")
	}
	cfg, err := o.load()
	if err != nil {
		return err
	}
	target, err := cfg.Target()
	if err != nil {
		return err
	}

	mods, err := readModules(*in)
	if err != nil {
		return err
	}

	var reports []stringsReport
	total := 0
	for _, m := range mods {
		rep := stringsReport{
			Entry:  m.Name,
			RawKey: rawpatch.Index(m.Data, []byte(target.OriginalKeyHex)),
		}
		cf, err := classfile.Parse(m.Data)
		if err != nil {
			return fmt.Errorf("%s: %w", m.Name, err)
		}
		rep.Findings = rewrite.Scan(cf, target)
		if *signals {
			rep.Signals = unmatchedSignals(cf, rep.Findings)
		}
		if rep.RawKey < 0 && len(rep.Findings) == 0 && len(rep.Signals) == 0 {
			continue
		}
		total += len(rep.Findings)
		reports = append(reports, rep)
	}

	if *asJSON {
		return output.EncodeJSON(os.Stdout, reports)
	}
	for _, rep := range reports {
		if rep.RawKey >= 0 {
			fmt.Printf("%s\t+0x%x\traw-key\n", rep.Entry, rep.RawKey)
		}
		for _, f := range rep.Findings {
			if f.CallSite {
				fmt.Printf("%s\t%s@%d\tkey-call-site\n", rep.Entry, f.Method, f.Offset)
				continue
			}
			fmt.Printf("%s\t%s@%d\t%s\t%q\n", rep.Entry, f.Method, f.Offset, f.Rule, truncate(f.Literal, 80))
		}
		for _, h := range rep.Signals {
			fmt.Printf("%s\t%s@%d\tsignal:%s\t%s\t%q\n", rep.Entry, h.Method, h.Offset, h.Severity,
				strings.Join(h.Categories, ","), truncate(h.Value, 80))
		}
	}
	fmt.Fprintf(os.Stderr, "%d modules scanned, %d with matches, %d findings\n", len(mods), len(reports), total)
	return nil
}

// unmatchedSignals returns the signal hits at load sites no finding covers.
func unmatchedSignals(cf *classfile.ClassFile, findings []rewrite.Finding) []signal.Hit {
	covered := make(map[string]bool, len(findings))
	for _, f := range findings {
		covered[fmt.Sprintf("%s@%d", f.Method, f.Offset)] = true
	}
	var out []signal.Hit
	for _, h := range signal.ScanClass(cf) {
		if !covered[fmt.Sprintf("%s@%d", h.Method, h.Offset)] {
			out = append(out, h)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
