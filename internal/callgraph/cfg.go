package callgraph

import (
	"fmt"
	"sort"

	"github.com/zboralski/lattice"

	"gnomepatch/internal/classfile"
)

// maxLiteral bounds string constants shown in CFG blocks.
const maxLiteral = 50

// BuildCFG constructs a lattice.CFGGraph holding every method of cf that
// has a body.
func BuildCFG(cf *classfile.ClassFile) (*lattice.CFGGraph, error) {
	cg := &lattice.CFGGraph{}
	for _, m := range cf.Methods {
		if m.Code == nil {
			continue
		}
		f, _, err := BuildFuncCFG(cf, m)
		if err != nil {
			return nil, err
		}
		cg.Funcs = append(cg.Funcs, f)
	}
	return cg, nil
}

// BuildFuncCFG builds the basic-block CFG of one method. Block ranges are
// instruction indices. Invokes and string constants loaded in a block are
// listed as its call sites. Returns the FuncCFG and its block count.
func BuildFuncCFG(cf *classfile.ClassFile, m *classfile.Member) (*lattice.FuncCFG, int, error) {
	name := MethodName(cf.Name(), m.Name, m.Descriptor)
	f := &lattice.FuncCFG{Name: name}
	if m.Code == nil || len(m.Code.Insns) == 0 {
		return f, 0, nil
	}
	insns := m.Code.Insns

	starts := leaders(m.Code)
	blockOf := make(map[int]int, len(starts))
	for id, s := range starts {
		blockOf[s] = id
	}

	for id, start := range starts {
		end := len(insns)
		if id+1 < len(starts) {
			end = starts[id+1]
		}
		last := &insns[end-1]
		b := &lattice.BasicBlock{
			ID:    id,
			Start: start,
			End:   end,
			Term:  last.Op.IsTerminal() && !isSwitch(last),
		}
		b.Succs = successors(last, end, blockOf, len(insns))

		for i := start; i < end; i++ {
			site, ok, err := callSite(cf.Pool, i, &insns[i])
			if err != nil {
				return nil, 0, fmt.Errorf("callgraph: %s: %w", name, err)
			}
			if ok {
				b.Calls = append(b.Calls, site)
			}
		}
		f.Blocks = append(f.Blocks, b)
	}
	return f, len(starts), nil
}

// leaders returns the sorted instruction indices that start a block.
func leaders(c *classfile.Code) []int {
	n := len(c.Insns)
	set := map[int]bool{0: true}
	mark := func(i int) {
		if i >= 0 && i < n {
			set[i] = true
		}
	}
	for i := range c.Insns {
		in := &c.Insns[i]
		switch in.Kind() {
		case classfile.KindBranch:
			mark(in.Target)
			mark(i + 1)
		case classfile.KindTableSwitch, classfile.KindLookupSwitch:
			mark(in.Default)
			for _, t := range in.Targets {
				mark(t)
			}
			mark(i + 1)
		default:
			if in.Op.IsTerminal() {
				mark(i + 1)
			}
		}
	}
	for _, h := range c.Handlers {
		mark(h.Start)
		mark(h.End)
		mark(h.Handler)
	}
	out := make([]int, 0, len(set))
	for i := range set {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// successors lists the outgoing edges of the block ending at end.
// Conditional branches label the taken edge "T" and the fallthrough "F".
func successors(last *classfile.Insn, end int, blockOf map[int]int, n int) []lattice.Successor {
	var out []lattice.Successor
	seen := make(map[int]bool)
	add := func(target int, cond string) {
		id, ok := blockOf[target]
		if !ok || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, lattice.Successor{BlockID: id, Cond: cond})
	}

	switch last.Kind() {
	case classfile.KindBranch:
		switch last.Op {
		case classfile.OpGoto, classfile.OpGotoW:
			add(last.Target, "")
		case classfile.OpJsr, classfile.OpJsrW:
			add(last.Target, "")
			add(end, "")
		default:
			add(last.Target, "T")
			add(end, "F")
		}
	case classfile.KindTableSwitch, classfile.KindLookupSwitch:
		for _, t := range last.Targets {
			add(t, "")
		}
		add(last.Default, "")
	default:
		if !last.Op.IsTerminal() && end < n {
			add(end, "")
		}
	}
	return out
}

func isSwitch(in *classfile.Insn) bool {
	k := in.Kind()
	return k == classfile.KindTableSwitch || k == classfile.KindLookupSwitch
}

func callSite(pool *classfile.Pool, i int, in *classfile.Insn) (lattice.CallSite, bool, error) {
	switch in.Kind() {
	case classfile.KindMethod:
		o, n, d, err := pool.MemberRef(in.Index)
		if err != nil {
			return lattice.CallSite{}, false, err
		}
		return lattice.CallSite{Offset: i, Callee: MethodName(o, n, d)}, true, nil
	case classfile.KindDynamic:
		d, err := pool.DynamicDescriptor(in.Index)
		if err != nil {
			return lattice.CallSite{}, false, err
		}
		return lattice.CallSite{Offset: i, Callee: "invokedynamic" + d}, true, nil
	case classfile.KindLdc:
		s, ok := pool.StringValue(in.Index)
		if !ok {
			return lattice.CallSite{}, false, nil
		}
		if len(s) > maxLiteral {
			s = s[:maxLiteral-3] + "..."
		}
		return lattice.CallSite{Offset: i, Callee: fmt.Sprintf("%q", s)}, true, nil
	}
	return lattice.CallSite{}, false, nil
}
