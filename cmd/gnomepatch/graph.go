package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"gnomepatch/internal/callgraph"
	"gnomepatch/internal/classfile"
	"gnomepatch/internal/output"
)

func cmdGraph(args []string) error {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	in := fs.String("in", "", "gamepack jar or single .class file")
	outDir := fs.String("out", "", "output directory")
	cfgs := fs.Bool("cfg", false, "also write per-method CFG DOTs under <out>/cfg")
	minBlocks := fs.Int("min-blocks", 2, "skip CFGs with fewer basic blocks")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *outDir == "" {
		return fmt.Errorf("--in and --out are required")
	}

	mods, err := readModules(*in)
	if err != nil {
		return err
	}

	classes := make([]*classfile.ClassFile, 0, len(mods))
	cfgCount := 0
	for _, m := range mods {
		cf, err := classfile.Parse(m.Data)
		if err != nil {
			return fmt.Errorf("%s: %w", m.Name, err)
		}
		classes = append(classes, cf)
		if !*cfgs {
			continue
		}
		for _, meth := range cf.Methods {
			if meth.Code == nil {
				continue
			}
			f, nblocks, err := callgraph.BuildFuncCFG(cf, meth)
			if err != nil {
				return err
			}
			if nblocks < *minBlocks {
				continue
			}
			g := &lattice.CFGGraph{Funcs: []*lattice.FuncCFG{f}}
			path := filepath.Join(*outDir, "cfg", cf.Name(), fileName(meth.Name+meth.Descriptor)+".dot")
			if err := output.WriteFile(path, []byte(render.DOTCFG(g, f.Name))); err != nil {
				return err
			}
			cfgCount++
		}
	}

	cg, err := callgraph.BuildCallGraph(classes)
	if err != nil {
		return err
	}
	cgPath := filepath.Join(*outDir, "callgraph.dot")
	if err := output.WriteFile(cgPath, []byte(render.DOT(cg, "callgraph"))); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d nodes, %d edges)\n", cgPath, len(cg.Nodes), len(cg.Edges))
	if *cfgs {
		fmt.Fprintf(os.Stderr, "wrote %d per-method CFG DOTs to %s\n", cfgCount, filepath.Join(*outDir, "cfg"))
	}
	return nil
}

// fileName maps a method name and descriptor to a portable file name.
func fileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '<', '>', '(', ')', ';', '[', '*', '?', '"', '|':
			return '_'
		}
		return r
	}, s)
}
