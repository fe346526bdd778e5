// Package callgraph builds lattice call graphs and per-method CFGs from
// parsed classes.
package callgraph

import (
	"fmt"

	"github.com/zboralski/lattice"

	"gnomepatch/internal/classfile"
)

// MethodName is the graph node name for a method: owner.name(desc).
func MethodName(owner, name, desc string) string {
	return owner + "." + name + desc
}

// BuildCallGraph constructs a lattice.Graph from classes. Every method
// with a body becomes a node. Each invoke becomes an edge to the
// referenced method, whether or not its owner is among classes.
// invokedynamic sites are skipped; their target is decided at link time.
func BuildCallGraph(classes []*classfile.ClassFile) (*lattice.Graph, error) {
	g := &lattice.Graph{}
	for _, cf := range classes {
		owner := cf.Name()
		for _, m := range cf.Methods {
			if m.Code == nil {
				continue
			}
			caller := MethodName(owner, m.Name, m.Descriptor)
			g.Nodes = append(g.Nodes, caller)
			for i := range m.Code.Insns {
				in := &m.Code.Insns[i]
				if in.Kind() != classfile.KindMethod {
					continue
				}
				o, n, d, err := cf.Pool.MemberRef(in.Index)
				if err != nil {
					return nil, fmt.Errorf("callgraph: %s: %w", caller, err)
				}
				g.Edges = append(g.Edges, lattice.Edge{
					Caller: caller,
					Callee: MethodName(o, n, d),
				})
			}
		}
	}
	g.Dedup()
	return g, nil
}
