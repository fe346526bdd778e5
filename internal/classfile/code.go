package classfile

import (
	"fmt"

	"gnomepatch/internal/wire"
)

// Code attribute sub-attributes with instruction positions the writer
// understands and remaps.
const (
	attrLineNumbers   = "LineNumberTable"
	attrLocalVars     = "LocalVariableTable"
	attrLocalVarTypes = "LocalVariableTypeTable"
	attrStackMap      = "StackMapTable"
)

// Type annotations carry bytecode offsets in several target encodings;
// they are dropped from methods whose code is reassembled.
var droppedOnEdit = map[string]bool{
	"RuntimeVisibleTypeAnnotations":   true,
	"RuntimeInvisibleTypeAnnotations": true,
}

// Handler is an exception table entry. End is exclusive and may equal
// len(Code.Insns).
type Handler struct {
	Start, End, Handler int
	CatchType           uint16
}

// LineNumber maps an instruction to a source line.
type LineNumber struct {
	Start int
	Line  uint16
}

// LocalVar is a LocalVariableTable or LocalVariableTypeTable entry. Desc
// holds the signature index for the type table.
type LocalVar struct {
	Start, End int
	Name, Desc uint16
	Slot       uint16
}

// CodeAttr is an attribute nested in Code. Known tables are decoded into
// Lines, Vars or Frames; everything else is kept in Data.
type CodeAttr struct {
	NameIndex uint16
	Name      string
	Data      []byte
	Lines     []LineNumber
	Vars      []LocalVar
	Frames    []Frame
}

// Code is a decoded Code attribute.
type Code struct {
	MaxStack  uint16
	MaxLocals uint16
	Insns     []Insn
	Handlers  []Handler
	Attrs     []CodeAttr

	raw   []byte
	dirty bool
}

// Dirty reports whether the instruction stream has been edited.
func (c *Code) Dirty() bool { return c.dirty }

// SetConstant points the constant-pool operand of instruction i at idx.
func (c *Code) SetConstant(i int, idx uint16) {
	if c.Insns[i].Index == idx {
		return
	}
	c.Insns[i].Index = idx
	c.dirty = true
}

// InsertBefore splices insns in front of instruction at. References that
// pointed at the old instruction now point at the first inserted one, so
// jumps, handlers, line numbers and frames anchored there cover the new
// prefix. Uninitialized verification types keep following their `new`.
// Positions inside the inserted instructions are taken as final.
func (c *Code) InsertBefore(at int, insns ...Insn) {
	n := len(insns)
	if n == 0 {
		return
	}
	shift := func(p int) int {
		if p > at {
			return p + n
		}
		return p
	}
	follow := func(p int) int {
		if p >= at {
			return p + n
		}
		return p
	}

	for i := range c.Insns {
		in := &c.Insns[i]
		switch in.Kind() {
		case KindBranch:
			in.Target = shift(in.Target)
		case KindTableSwitch, KindLookupSwitch:
			in.Default = shift(in.Default)
			for j := range in.Targets {
				in.Targets[j] = shift(in.Targets[j])
			}
		}
	}
	for i := range c.Handlers {
		h := &c.Handlers[i]
		h.Start, h.End, h.Handler = shift(h.Start), shift(h.End), shift(h.Handler)
	}
	for ai := range c.Attrs {
		a := &c.Attrs[ai]
		for i := range a.Lines {
			a.Lines[i].Start = shift(a.Lines[i].Start)
		}
		for i := range a.Vars {
			a.Vars[i].Start, a.Vars[i].End = shift(a.Vars[i].Start), shift(a.Vars[i].End)
		}
		for i := range a.Frames {
			f := &a.Frames[i]
			f.Insn = shift(f.Insn)
			for _, ts := range [][]VType{f.Locals, f.Stack} {
				for j := range ts {
					if ts[j].Tag == ItemUninitialized {
						ts[j].New = follow(ts[j].New)
					}
				}
			}
		}
	}

	out := make([]Insn, 0, len(c.Insns)+n)
	out = append(out, c.Insns[:at]...)
	out = append(out, insns...)
	out = append(out, c.Insns[at:]...)
	c.Insns = out
	c.dirty = true
}

func decodeCode(data []byte, pool *Pool, d *decoder) (*Code, error) {
	s := wire.NewStream(data)
	c := &Code{raw: data}
	var err error
	if c.MaxStack, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	if c.MaxLocals, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	codeLen, err := s.ReadUint32()
	if err != nil {
		return nil, err
	}
	if codeLen == 0 || codeLen > maxCodeLength {
		return nil, fmt.Errorf("%w: code_length %d", ErrMalformed, codeLen)
	}
	code, err := s.ReadBytes(int(codeLen))
	if err != nil {
		return nil, err
	}
	insns, byOffset, err := decodeInsns(code)
	if err != nil {
		return nil, err
	}
	if err := checkOperands(insns, pool); err != nil {
		return nil, err
	}
	c.Insns = insns
	n := len(insns)

	pos := func(off uint16, allowEnd bool) (int, bool) {
		i, ok := byOffset[int(off)]
		if !ok || (i == n && !allowEnd) {
			return 0, false
		}
		return i, true
	}

	nh, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	for k := 0; k < int(nh); k++ {
		var raw [4]uint16
		for j := range raw {
			if raw[j], err = s.ReadUint16(); err != nil {
				return nil, err
			}
		}
		start, ok1 := pos(raw[0], false)
		end, ok2 := pos(raw[1], true)
		handler, ok3 := pos(raw[2], false)
		if !ok1 || !ok2 || !ok3 || end <= start {
			return nil, fmt.Errorf("%w: exception range [%d,%d)->%d", ErrMalformed, raw[0], raw[1], raw[2])
		}
		if raw[3] != 0 {
			if _, err := pool.expect(raw[3], TagClass); err != nil {
				return nil, err
			}
		}
		c.Handlers = append(c.Handlers, Handler{Start: start, End: end, Handler: handler, CatchType: raw[3]})
	}

	na, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	for k := 0; k < int(na); k++ {
		a, err := readAttribute(s, pool)
		if err != nil {
			return nil, err
		}
		ca := CodeAttr{NameIndex: a.NameIndex, Name: a.Name, Data: a.Data}
		switch a.Name {
		case attrLineNumbers:
			if ca.Lines, err = decodeLines(a.Data, pos, d); err != nil {
				return nil, err
			}
		case attrLocalVars, attrLocalVarTypes:
			if ca.Vars, err = decodeVars(a.Data, a.Name, pos, d); err != nil {
				return nil, err
			}
		case attrStackMap:
			if ca.Frames, err = decodeFrames(a.Data, byOffset, n); err != nil {
				return nil, err
			}
		}
		c.Attrs = append(c.Attrs, ca)
	}
	if s.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes in Code", ErrMalformed, s.Remaining())
	}
	return c, nil
}

// decodeLines and decodeVars report entries off instruction boundaries
// and tables cut short through d, and leave the bad entries out.
func decodeLines(data []byte, pos func(uint16, bool) (int, bool), d *decoder) ([]LineNumber, error) {
	s := wire.NewStream(data)
	n, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	out := make([]LineNumber, 0, n)
	for k := 0; k < int(n); k++ {
		if s.Remaining() < 4 {
			return out, d.cut(attrLineNumbers, s.Position(), k, int(n))
		}
		pc, _ := s.ReadUint16()
		line, _ := s.ReadUint16()
		i, ok := pos(pc, false)
		if !ok {
			if err := d.drop(int(pc), wire.DiagDropped, "line %d off instruction boundary", line); err != nil {
				return nil, err
			}
			continue
		}
		out = append(out, LineNumber{Start: i, Line: line})
	}
	return out, nil
}

func decodeVars(data []byte, table string, pos func(uint16, bool) (int, bool), d *decoder) ([]LocalVar, error) {
	s := wire.NewStream(data)
	n, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	out := make([]LocalVar, 0, n)
	for k := 0; k < int(n); k++ {
		if s.Remaining() < 10 {
			return out, d.cut(table, s.Position(), k, int(n))
		}
		var f [5]uint16
		for j := range f {
			f[j], _ = s.ReadUint16()
		}
		endPC := int(f[0]) + int(f[1])
		if endPC > 0xffff {
			if err := d.drop(int(f[0]), wire.DiagInvalid, "local slot %d range ends past the code array", f[4]); err != nil {
				return nil, err
			}
			continue
		}
		start, ok1 := pos(f[0], true)
		end, ok2 := pos(uint16(endPC), true)
		if !ok1 || !ok2 {
			if err := d.drop(int(f[0]), wire.DiagDropped, "local slot %d range [%d,%d) off instruction boundary", f[4], f[0], endPC); err != nil {
				return nil, err
			}
			continue
		}
		out = append(out, LocalVar{Start: start, End: end, Name: f[2], Desc: f[3], Slot: f[4]})
	}
	return out, nil
}

// checkOperands verifies that every constant-pool operand names an entry
// of a type the instruction accepts.
func checkOperands(insns []Insn, pool *Pool) error {
	for i := range insns {
		in := &insns[i]
		var err error
		switch in.Kind() {
		case KindLdc:
			if in.Op == OpLdc2W {
				_, err = pool.expect(in.Index, TagLong, TagDouble, TagDynamic)
			} else {
				_, err = pool.expect(in.Index, TagInteger, TagFloat, TagString, TagClass,
					TagMethodHandle, TagMethodType, TagDynamic)
			}
		case KindField:
			_, err = pool.expect(in.Index, TagFieldref)
		case KindMethod:
			switch in.Op {
			case OpInvokeVirtual:
				_, err = pool.expect(in.Index, TagMethodref)
			case OpInvokeIface:
				_, err = pool.expect(in.Index, TagInterfaceMethodref)
			default:
				_, err = pool.expect(in.Index, TagMethodref, TagInterfaceMethodref)
			}
		case KindDynamic:
			_, err = pool.expect(in.Index, TagInvokeDynamic)
		case KindType, KindMultiANewArray:
			_, err = pool.expect(in.Index, TagClass)
		}
		if err != nil {
			return fmt.Errorf("%s at %d: %w", in.Op, in.Offset, err)
		}
	}
	return nil
}

// encode reassembles the attribute body with the given limits.
func (c *Code) encode(maxStack, maxLocals uint16) ([]byte, error) {
	code, err := assemble(c.Insns)
	if err != nil {
		return nil, err
	}
	off := func(i int) uint16 {
		if i >= len(c.Insns) {
			return uint16(len(code))
		}
		return uint16(c.Insns[i].Offset)
	}

	w := wire.NewBuffer(len(c.raw) + 16)
	w.WriteUint16(maxStack)
	w.WriteUint16(maxLocals)
	w.WriteUint32(uint32(len(code)))
	w.WriteBytes(code)
	w.WriteUint16(uint16(len(c.Handlers)))
	for _, h := range c.Handlers {
		w.WriteUint16(off(h.Start))
		w.WriteUint16(off(h.End))
		w.WriteUint16(off(h.Handler))
		w.WriteUint16(h.CatchType)
	}

	countAt := w.Len()
	w.WriteUint16(0)
	count := 0
	for _, a := range c.Attrs {
		if droppedOnEdit[a.Name] {
			continue
		}
		body := a.Data
		switch a.Name {
		case attrLineNumbers:
			b := wire.NewBuffer(2 + 4*len(a.Lines))
			b.WriteUint16(uint16(len(a.Lines)))
			for _, l := range a.Lines {
				b.WriteUint16(off(l.Start))
				b.WriteUint16(l.Line)
			}
			body = b.Bytes()
		case attrLocalVars, attrLocalVarTypes:
			b := wire.NewBuffer(2 + 10*len(a.Vars))
			b.WriteUint16(uint16(len(a.Vars)))
			for _, v := range a.Vars {
				b.WriteUint16(off(v.Start))
				b.WriteUint16(off(v.End) - off(v.Start))
				b.WriteUint16(v.Name)
				b.WriteUint16(v.Desc)
				b.WriteUint16(v.Slot)
			}
			body = b.Bytes()
		case attrStackMap:
			if body, err = encodeFrames(a.Frames, c.Insns); err != nil {
				return nil, err
			}
		}
		w.WriteUint16(a.NameIndex)
		w.WriteUint32(uint32(len(body)))
		w.WriteBytes(body)
		count++
	}
	w.PutUint16At(countAt, uint16(count))
	return w.Bytes(), nil
}
