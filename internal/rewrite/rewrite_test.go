package rewrite

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"gnomepatch/internal/classfile"
	"gnomepatch/internal/classfile/classtest"
)

const testKey = "c0ffee"

func newTarget(t *testing.T, opts ...Option) *Target {
	t.Helper()
	tg, err := NewTarget("192.0.2.1", testKey, opts...)
	if err != nil {
		t.Fatalf("NewTarget: %v", err)
	}
	return tg
}

// loader builds a class whose single static method loads each literal
// and discards it.
func loader(name string, literals ...string) []byte {
	b := classtest.New(name)
	var code []byte
	for _, s := range literals {
		code = append(code, byte(classfile.OpLdcW))
		code = append(code, classtest.U16(b.String(s))...)
		code = append(code, byte(classfile.OpPop))
	}
	code = append(code, byte(classfile.OpReturn))
	b.Method(classtest.Method{Access: classfile.AccStatic, Name: "load", Desc: "()V", MaxStack: 1, Code: code})
	return b.Bytes()
}

func parse(t *testing.T, b []byte) *classfile.ClassFile {
	t.Helper()
	cf, err := classfile.Parse(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return cf
}

func write(t *testing.T, cf *classfile.ClassFile) *classfile.ClassFile {
	t.Helper()
	out, err := cf.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	return parse(t, out)
}

// loaded returns the literals pushed by each ldc in method 0.
func loaded(t *testing.T, cf *classfile.ClassFile) []string {
	t.Helper()
	var out []string
	for _, in := range cf.Methods[0].Code.Insns {
		if in.Op == classfile.OpLdc || in.Op == classfile.OpLdcW {
			s, ok := cf.Pool.StringValue(in.Index)
			if !ok {
				t.Fatalf("ldc operand %d is not a string", in.Index)
			}
			out = append(out, s)
		}
	}
	return out
}

func TestNewTarget(t *testing.T) {
	tests := []struct {
		name string
		host string
		key  string
		opts []Option
		ok   bool
	}{
		{"defaults", "127.0.0.1", "abcdef", nil, true},
		{"empty host", "", "abcdef", nil, false},
		{"non-hex key", "127.0.0.1", "xyz", nil, false},
		{"empty key", "127.0.0.1", "", nil, false},
		{"empty marker", "127.0.0.1", "ab", []Option{WithDomainMarkers("")}, false},
		{"empty original key", "127.0.0.1", "ab", []Option{WithOriginalKey("")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tg, err := NewTarget(tt.host, tt.key, tt.opts...)
			if tt.ok {
				if err != nil {
					t.Fatalf("NewTarget: %v", err)
				}
				if tg.OriginalKeyHex != DefaultOriginalKeyHex || tg.ClientClass != "client" || len(tg.DomainMarkers) != 2 {
					t.Errorf("defaults not applied: %+v", tg)
				}
				return
			}
			if !errors.Is(err, ErrInvalidTarget) {
				t.Errorf("err = %v, want ErrInvalidTarget", err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tg := newTarget(t)
	hex201 := strings.Repeat("aB3", 67)
	tests := []struct {
		lit  string
		want Rule
	}{
		{"https://auth.jagex.com/", RuleDomain},
		{"oldschool1.runescape.com", RuleDomain},
		{"jagex.co", RuleNone},
		{DefaultOriginalKeyHex, RuleExactKey},
		{hex201, RuleHexKey},
		{hex201[:200], RuleNone},
		{hex201[:200] + "g", RuleNone},
		{"", RuleNone},
	}
	for _, tt := range tests {
		if got := tg.Classify(tt.lit); got != tt.want {
			t.Errorf("Classify(%.24q) = %s, want %s", tt.lit, got, tt.want)
		}
	}
}

func TestClassifyDomainWinsOverExactKey(t *testing.T) {
	lit := "abcdef0123.jagex.com"
	tg := newTarget(t, WithOriginalKey(lit))
	if got := tg.Classify(lit); got != RuleDomain {
		t.Fatalf("Classify = %s, want domain", got)
	}

	cf := parse(t, loader("Net", lit))
	st, err := Rewrite(cf, tg)
	if err != nil {
		t.Fatal(err)
	}
	if st.Domains != 1 || st.ExactKeys != 0 {
		t.Errorf("stats = %+v", st)
	}
	if got := loaded(t, write(t, cf)); got[0] != tg.Host {
		t.Errorf("literal = %q, want host", got[0])
	}
}

func TestClassifyExactKeyWinsOverHex(t *testing.T) {
	tg := newTarget(t)
	cf := parse(t, loader("Net", DefaultOriginalKeyHex))
	st, err := Rewrite(cf, tg)
	if err != nil {
		t.Fatal(err)
	}
	if st != (Stats{ExactKeys: 1}) {
		t.Errorf("stats = %+v", st)
	}
}

func TestRewriteAuthEndpoint(t *testing.T) {
	tg := newTarget(t)
	in := loader("Net", "https://auth.jagex.com/", "plain", "java/lang/Object")
	cf := parse(t, in)
	before := cf.Pool.Len()
	var orig []classfile.Constant
	for i := 1; i < before; i++ {
		c, err := cf.Pool.Get(uint16(i))
		if err != nil {
			orig = append(orig, classfile.Constant{})
			continue
		}
		orig = append(orig, *c)
	}

	st, err := Rewrite(cf, tg)
	if err != nil {
		t.Fatal(err)
	}
	if st != (Stats{Domains: 1}) {
		t.Errorf("stats = %+v", st)
	}

	got := write(t, cf)
	lits := loaded(t, got)
	if lits[0] != "192.0.2.1" {
		t.Errorf("endpoint literal = %q, want target host", lits[0])
	}
	if lits[1] != "plain" || lits[2] != "java/lang/Object" {
		t.Errorf("other literals changed: %q", lits[1:])
	}
	for i := 1; i < before; i++ {
		c, err := got.Pool.Get(uint16(i))
		if err != nil {
			continue
		}
		o := orig[i-1]
		if c.Tag != o.Tag || !bytes.Equal(c.Raw, o.Raw) || c.Ref1 != o.Ref1 || c.Ref2 != o.Ref2 {
			t.Errorf("constant %d changed: %+v -> %+v", i, o, *c)
		}
	}
}

func TestRewriteNoMatchKeepsBytes(t *testing.T) {
	in := loader("Net", "hello", "world")
	cf := parse(t, in)
	st, err := Rewrite(cf, newTarget(t))
	if err != nil {
		t.Fatal(err)
	}
	if st.Changed() {
		t.Errorf("stats = %+v", st)
	}
	out, err := cf.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, in) {
		t.Errorf("unchanged class was re-encoded differently")
	}
}

func TestRewriteAlreadyPatched(t *testing.T) {
	tg, err := NewTarget("game.example.org", testKey, WithDomainMarkers("example.org"))
	if err != nil {
		t.Fatal(err)
	}
	cf := parse(t, loader("Net", "game.example.org"))
	st, err := Rewrite(cf, tg)
	if err != nil {
		t.Fatal(err)
	}
	if st.Changed() || cf.Methods[0].Code.Dirty() {
		t.Errorf("literal equal to its replacement counted as edit: %+v", st)
	}
}

// ctorClass builds a class that runs new BigInteger("1234").
func ctorClass(name string) []byte {
	b := classtest.New(name)
	cls := b.Class("java/math/BigInteger")
	ctor := b.Methodref("java/math/BigInteger", "<init>", "(Ljava/lang/String;)V")
	arg := b.String("1234")
	b.Method(classtest.Method{
		Access: classfile.AccStatic, Name: "key", Desc: "()V", MaxStack: 3,
		Code: classtest.Cat(
			[]byte{byte(classfile.OpNew)}, classtest.U16(cls),
			[]byte{byte(classfile.OpDup)},
			[]byte{byte(classfile.OpLdcW)}, classtest.U16(arg),
			[]byte{byte(classfile.OpInvokeSpecial)}, classtest.U16(ctor),
			[]byte{byte(classfile.OpPop), byte(classfile.OpReturn)},
		),
	})
	return b.Bytes()
}

func TestRewriteSplicesKey(t *testing.T) {
	tests := []struct {
		class  string
		splice bool
	}{
		{"client", true},
		{"loginscreen", true},
		{"com/game/loginHandler", true},
		{"Client", false},
		{"renderer", false},
	}
	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			tg := newTarget(t)
			cf := parse(t, ctorClass(tt.class))
			st, err := Rewrite(cf, tg)
			if err != nil {
				t.Fatal(err)
			}
			if (st.CallSites == 1) != tt.splice {
				t.Fatalf("stats = %+v", st)
			}
			got := write(t, cf)
			var ops []classfile.Opcode
			for _, in := range got.Methods[0].Code.Insns {
				ops = append(ops, in.Op)
			}
			want := []classfile.Opcode{classfile.OpNew, classfile.OpDup, classfile.OpLdcW, classfile.OpInvokeSpecial, classfile.OpPop, classfile.OpReturn}
			if tt.splice {
				want = []classfile.Opcode{
					classfile.OpNew, classfile.OpDup, classfile.OpLdcW,
					classfile.OpPop, classfile.OpLdc,
					classfile.OpInvokeSpecial, classfile.OpPop, classfile.OpReturn,
				}
			}
			if len(ops) != len(want) {
				t.Fatalf("ops = %v, want %v", ops, want)
			}
			for i := range ops {
				if ops[i] != want[i] {
					t.Fatalf("ops = %v, want %v", ops, want)
				}
			}
			lits := loaded(t, got)
			if tt.splice && (len(lits) != 2 || lits[1] != testKey) {
				t.Errorf("literals = %q", lits)
			}
			if got.Methods[0].Code.MaxStack < 3 {
				t.Errorf("MaxStack = %d", got.Methods[0].Code.MaxStack)
			}
		})
	}
}

func TestScan(t *testing.T) {
	tg := newTarget(t)
	cf := parse(t, loader("client", "world1.runescape.com", "x", DefaultOriginalKeyHex))
	fs := Scan(cf, tg)
	if len(fs) != 2 {
		t.Fatalf("findings = %+v", fs)
	}
	if fs[0].Rule != RuleDomain || fs[0].Offset != 0 || fs[0].Method != "load()V" {
		t.Errorf("finding 0 = %+v", fs[0])
	}
	if fs[1].Rule != RuleExactKey || fs[1].Offset != 8 {
		t.Errorf("finding 1 = %+v", fs[1])
	}

	cf = parse(t, ctorClass("client"))
	fs = Scan(cf, tg)
	if len(fs) != 1 || !fs[0].CallSite {
		t.Errorf("findings = %+v", fs)
	}
	if cf.Methods[0].Code.Dirty() {
		t.Errorf("Scan modified the method")
	}
}
