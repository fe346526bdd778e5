// Package classtest assembles small class files for tests.
package classtest

import (
	"math"

	"gnomepatch/internal/wire"
)

// Handler is a raw exception table entry in byte offsets.
type Handler struct {
	Start, End, Handler, CatchType uint16
}

// Attr is a raw attribute.
type Attr struct {
	Name string
	Data []byte
}

// Method describes one method body. Code nil means abstract.
type Method struct {
	Access    uint16
	Name      string
	Desc      string
	MaxStack  uint16
	MaxLocals uint16
	Code      []byte
	Handlers  []Handler
	CodeAttrs []Attr
}

// Builder accumulates a constant pool and methods.
type Builder struct {
	entries [][]byte
	slots   int
	seen    map[string]uint16
	name    string
	ifaces  []uint16
	methods []Method
}

// New starts a public class named name extending java/lang/Object.
func New(name string) *Builder {
	return &Builder{slots: 1, seen: make(map[string]uint16), name: name}
}

func (b *Builder) intern(key string, entry []byte, width int) uint16 {
	if i, ok := b.seen[key]; ok {
		return i
	}
	i := uint16(b.slots)
	b.entries = append(b.entries, entry)
	b.slots += width
	b.seen[key] = i
	return i
}

// Utf8 interns a Utf8 constant. Text is written as plain bytes.
func (b *Builder) Utf8(s string) uint16 {
	w := wire.NewBuffer(3 + len(s))
	w.WriteUint8(1)
	w.WriteUint16(uint16(len(s)))
	w.WriteBytes([]byte(s))
	return b.intern("u:"+s, w.Bytes(), 1)
}

func (b *Builder) ref(tag uint8, key string, r1, r2 uint16, two bool) uint16 {
	w := wire.NewBuffer(5)
	w.WriteUint8(tag)
	w.WriteUint16(r1)
	if two {
		w.WriteUint16(r2)
	}
	return b.intern(key, w.Bytes(), 1)
}

// Implements adds the named interfaces to the class.
func (b *Builder) Implements(names ...string) {
	for _, n := range names {
		b.ifaces = append(b.ifaces, b.Class(n))
	}
}

// Interface adds a raw interfaces entry, which need not name a class.
func (b *Builder) Interface(index uint16) {
	b.ifaces = append(b.ifaces, index)
}

// Class interns a Class constant.
func (b *Builder) Class(name string) uint16 {
	return b.ref(7, "c:"+name, b.Utf8(name), 0, false)
}

// String interns a String constant.
func (b *Builder) String(s string) uint16 {
	return b.ref(8, "s:"+s, b.Utf8(s), 0, false)
}

// Int interns an Integer constant.
func (b *Builder) Int(v int32) uint16 {
	w := wire.NewBuffer(5)
	w.WriteUint8(3)
	w.WriteUint32(uint32(v))
	return b.intern("i:"+string(w.Bytes()), w.Bytes(), 1)
}

// Long interns a Long constant, which takes two slots.
func (b *Builder) Long(v int64) uint16 {
	w := wire.NewBuffer(9)
	w.WriteUint8(5)
	w.WriteUint32(uint32(uint64(v) >> 32))
	w.WriteUint32(uint32(v))
	return b.intern("j:"+string(w.Bytes()), w.Bytes(), 2)
}

// Double interns a Double constant, which takes two slots.
func (b *Builder) Double(v float64) uint16 {
	bits := math.Float64bits(v)
	w := wire.NewBuffer(9)
	w.WriteUint8(6)
	w.WriteUint32(uint32(bits >> 32))
	w.WriteUint32(uint32(bits))
	return b.intern("d:"+string(w.Bytes()), w.Bytes(), 2)
}

// NameAndType interns a NameAndType constant.
func (b *Builder) NameAndType(name, desc string) uint16 {
	return b.ref(12, "nt:"+name+":"+desc, b.Utf8(name), b.Utf8(desc), true)
}

// Methodref interns a Methodref constant.
func (b *Builder) Methodref(owner, name, desc string) uint16 {
	return b.ref(10, "m:"+owner+"."+name+desc, b.Class(owner), b.NameAndType(name, desc), true)
}

// Fieldref interns a Fieldref constant.
func (b *Builder) Fieldref(owner, name, desc string) uint16 {
	return b.ref(9, "f:"+owner+"."+name+desc, b.Class(owner), b.NameAndType(name, desc), true)
}

// Pad appends n throwaway Integer constants so later entries get wide
// indices.
func (b *Builder) Pad(n int) {
	for i := 0; i < n; i++ {
		b.Int(int32(1_000_000 + b.slots))
	}
}

// Method adds a method.
func (b *Builder) Method(m Method) { b.methods = append(b.methods, m) }

// Bytes returns the encoded class.
func (b *Builder) Bytes() []byte {
	this := b.Class(b.name)
	super := b.Class("java/lang/Object")
	type named struct {
		name, desc uint16
		code       uint16
		attrs      []uint16
	}
	ms := make([]named, len(b.methods))
	for i, m := range b.methods {
		ms[i] = named{name: b.Utf8(m.Name), desc: b.Utf8(m.Desc)}
		if m.Code != nil {
			ms[i].code = b.Utf8("Code")
			for _, a := range m.CodeAttrs {
				ms[i].attrs = append(ms[i].attrs, b.Utf8(a.Name))
			}
		}
	}

	w := wire.NewBuffer(1024)
	w.WriteUint32(0xCAFEBABE)
	w.WriteUint16(0)
	w.WriteUint16(52)
	w.WriteUint16(uint16(b.slots))
	for _, e := range b.entries {
		w.WriteBytes(e)
	}
	w.WriteUint16(0x0021)
	w.WriteUint16(this)
	w.WriteUint16(super)
	w.WriteUint16(uint16(len(b.ifaces)))
	for _, i := range b.ifaces {
		w.WriteUint16(i)
	}
	w.WriteUint16(0) // fields
	w.WriteUint16(uint16(len(b.methods)))
	for i, m := range b.methods {
		w.WriteUint16(m.Access)
		w.WriteUint16(ms[i].name)
		w.WriteUint16(ms[i].desc)
		if m.Code == nil {
			w.WriteUint16(0)
			continue
		}
		w.WriteUint16(1)
		w.WriteUint16(ms[i].code)
		lenAt := w.Len()
		w.WriteUint32(0)
		w.WriteUint16(m.MaxStack)
		w.WriteUint16(m.MaxLocals)
		w.WriteUint32(uint32(len(m.Code)))
		w.WriteBytes(m.Code)
		w.WriteUint16(uint16(len(m.Handlers)))
		for _, h := range m.Handlers {
			w.WriteUint16(h.Start)
			w.WriteUint16(h.End)
			w.WriteUint16(h.Handler)
			w.WriteUint16(h.CatchType)
		}
		w.WriteUint16(uint16(len(m.CodeAttrs)))
		for j, a := range m.CodeAttrs {
			w.WriteUint16(ms[i].attrs[j])
			w.WriteUint32(uint32(len(a.Data)))
			w.WriteBytes(a.Data)
		}
		w.PutUint32At(lenAt, uint32(w.Len()-lenAt-4))
	}
	w.WriteUint16(0) // class attributes
	return w.Bytes()
}

// U16 is a shorthand for the two big-endian bytes of v.
func U16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

// Cat concatenates byte slices, used to spell code arrays inline.
func Cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
