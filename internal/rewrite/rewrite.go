package rewrite

import (
	"fmt"

	"gnomepatch/internal/classfile"
)

// BigInteger(String) constructor spliced by the call-site pass.
const (
	bigIntegerClass = "java/math/BigInteger"
	ctorName        = "<init>"
	ctorDesc        = "(Ljava/lang/String;)V"
)

// Stats counts the edits made to one class.
type Stats struct {
	Domains   int `json:"domains"`
	ExactKeys int `json:"exact_keys"`
	HexKeys   int `json:"hex_keys"`
	CallSites int `json:"call_sites"`
}

// Changed reports whether any edit was made.
func (s Stats) Changed() bool {
	return s.Domains+s.ExactKeys+s.HexKeys+s.CallSites > 0
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Domains += o.Domains
	s.ExactKeys += o.ExactKeys
	s.HexKeys += o.HexKeys
	s.CallSites += o.CallSites
}

func (s *Stats) count(r Rule) {
	switch r {
	case RuleDomain:
		s.Domains++
	case RuleExactKey:
		s.ExactKeys++
	case RuleHexKey:
		s.HexKeys++
	}
}

// Finding is one literal or call site Rewrite would change.
type Finding struct {
	Class    string `json:"class"`
	Method   string `json:"method"`
	Offset   int    `json:"offset"`
	Rule     Rule   `json:"rule"`
	Literal  string `json:"literal,omitempty"`
	CallSite bool   `json:"call_site,omitempty"`
}

// Rewrite applies both passes to every method of cf in place:
// string constants loaded by ldc/ldc_w are replaced per t.Classify, then,
// in client and login classes, every BigInteger(String) construction gets
// its argument swapped for the target key. New constants are appended to
// the pool; existing entries are never edited.
func Rewrite(cf *classfile.ClassFile, t *Target) (Stats, error) {
	var st Stats
	for _, m := range cf.Methods {
		if m.Code == nil {
			continue
		}
		if err := rewriteConstants(cf.Pool, m.Code, t, &st); err != nil {
			return st, fmt.Errorf("rewrite: %s.%s%s: %w", cf.Name(), m.Name, m.Descriptor, err)
		}
	}
	if !t.SplicesClass(cf.Name()) {
		return st, nil
	}
	for _, m := range cf.Methods {
		if m.Code == nil {
			continue
		}
		if err := spliceKey(cf.Pool, m.Code, t, &st); err != nil {
			return st, fmt.Errorf("rewrite: %s.%s%s: %w", cf.Name(), m.Name, m.Descriptor, err)
		}
	}
	return st, nil
}

func rewriteConstants(pool *classfile.Pool, code *classfile.Code, t *Target, st *Stats) error {
	for i := range code.Insns {
		lit, ok := stringOperand(pool, &code.Insns[i])
		if !ok {
			continue
		}
		rule := t.Classify(lit)
		repl := t.Replacement(rule)
		if rule == RuleNone || repl == lit {
			continue
		}
		idx, err := pool.AddString(repl)
		if err != nil {
			return err
		}
		code.SetConstant(i, idx)
		st.count(rule)
	}
	return nil
}

func spliceKey(pool *classfile.Pool, code *classfile.Code, t *Target, st *Stats) error {
	for i := 0; i < len(code.Insns); i++ {
		if !isKeyCtor(pool, &code.Insns[i]) {
			continue
		}
		key, err := pool.AddString(t.KeyHex)
		if err != nil {
			return err
		}
		code.InsertBefore(i,
			classfile.Insn{Op: classfile.OpPop},
			classfile.Insn{Op: classfile.OpLdc, Index: key},
		)
		i += 2
		st.CallSites++
	}
	return nil
}

func stringOperand(pool *classfile.Pool, in *classfile.Insn) (string, bool) {
	if in.Op != classfile.OpLdc && in.Op != classfile.OpLdcW {
		return "", false
	}
	return pool.StringValue(in.Index)
}

func isKeyCtor(pool *classfile.Pool, in *classfile.Insn) bool {
	if in.Op != classfile.OpInvokeSpecial {
		return false
	}
	owner, name, desc, err := pool.MemberRef(in.Index)
	return err == nil && owner == bigIntegerClass && name == ctorName && desc == ctorDesc
}

// Scan lists what Rewrite would change in cf without modifying it.
func Scan(cf *classfile.ClassFile, t *Target) []Finding {
	var out []Finding
	splice := t.SplicesClass(cf.Name())
	for _, m := range cf.Methods {
		if m.Code == nil {
			continue
		}
		for i := range m.Code.Insns {
			in := &m.Code.Insns[i]
			if lit, ok := stringOperand(cf.Pool, in); ok {
				if r := t.Classify(lit); r != RuleNone && t.Replacement(r) != lit {
					out = append(out, Finding{
						Class: cf.Name(), Method: m.Name + m.Descriptor,
						Offset: in.Offset, Rule: r, Literal: lit,
					})
				}
				continue
			}
			if splice && isKeyCtor(cf.Pool, in) {
				out = append(out, Finding{
					Class: cf.Name(), Method: m.Name + m.Descriptor,
					Offset: in.Offset, CallSite: true,
				})
			}
		}
	}
	return out
}
