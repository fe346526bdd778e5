// Package classfile reads and writes JVM class files. Method bodies are
// decoded into instruction lists that can be edited and reassembled;
// everything else round-trips byte for byte.
package classfile

import (
	"errors"
	"fmt"

	"gnomepatch/internal/wire"
)

var (
	// ErrMalformed reports input that is not a well-formed class file.
	ErrMalformed = errors.New("classfile: malformed class")
	// ErrPoolOverflow reports an edit that would need more than 65535
	// constant pool slots.
	ErrPoolOverflow = errors.New("classfile: constant pool full")
)

const magic = 0xCAFEBABE

// AccStatic is the ACC_STATIC member flag.
const AccStatic = 0x0008

// Attribute is an attribute kept as opaque bytes.
type Attribute struct {
	NameIndex uint16
	Name      string
	Data      []byte
}

// Member is a field or method. Code is non-nil for methods with a body.
type Member struct {
	AccessFlags uint16
	NameIndex   uint16
	DescIndex   uint16
	Name        string
	Descriptor  string
	Attributes  []Attribute
	Code        *Code

	codeAttr int
}

// IsStatic reports whether ACC_STATIC is set.
func (m *Member) IsStatic() bool { return m.AccessFlags&AccStatic != 0 }

// ClassFile is a parsed class.
type ClassFile struct {
	Minor, Major uint16
	Pool         *Pool
	AccessFlags  uint16
	ThisClass    uint16
	SuperClass   uint16
	Interfaces   []uint16
	Fields       []*Member
	Methods      []*Member
	Attributes   []Attribute

	// Diags lists debug-table entries dropped or cut short while
	// decoding method bodies. Always empty under ModeStrict.
	Diags wire.Diags
}

// Parse decodes a class file in best-effort mode. Every error wraps
// ErrMalformed.
func Parse(b []byte) (*ClassFile, error) {
	return ParseMode(b, wire.ModeBestEffort)
}

// ParseMode decodes a class file. Under wire.ModeStrict a debug-table
// entry that does not land on an instruction boundary is an error instead
// of a diagnostic.
func ParseMode(b []byte, mode wire.Mode) (*ClassFile, error) {
	d := &decoder{mode: mode}
	cf, err := parse(b, d)
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	cf.Diags = d.diags
	return cf, nil
}

// decoder carries the parse mode and collected diagnostics.
type decoder struct {
	mode   wire.Mode
	diags  wire.Diags
	method string
}

// drop records a dropped entry, or fails under ModeStrict.
func (d *decoder) drop(offset int, kind wire.DiagKind, format string, args ...any) error {
	msg := d.method + ": " + fmt.Sprintf(format, args...)
	if d.mode == wire.ModeStrict {
		return fmt.Errorf("%w: %s at offset %d", ErrMalformed, msg, offset)
	}
	d.diags.Add(offset, kind, msg)
	return nil
}

// cut records a debug table holding fewer entries than its count
// declares. The entries read so far are kept.
func (d *decoder) cut(table string, offset, got, want int) error {
	if d.mode == wire.ModeStrict {
		return fmt.Errorf("%w: %s: %s has %d of %d entries", ErrMalformed, d.method, table, got, want)
	}
	d.diags.Addf(offset, wire.DiagTruncated, "%s: %s has %d of %d entries", d.method, table, got, want)
	return nil
}

func parse(b []byte, d *decoder) (*ClassFile, error) {
	s := wire.NewStream(b)
	m, err := s.ReadUint32()
	if err != nil {
		return nil, err
	}
	if m != magic {
		return nil, fmt.Errorf("%w: bad magic 0x%08x", ErrMalformed, m)
	}
	cf := &ClassFile{}
	if cf.Minor, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	if cf.Major, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	if cf.Pool, err = readPool(s); err != nil {
		return nil, err
	}
	if cf.AccessFlags, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	if cf.ThisClass, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	if _, err := cf.Pool.ClassName(cf.ThisClass); err != nil {
		return nil, err
	}
	if cf.SuperClass, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	if cf.SuperClass != 0 {
		if _, err := cf.Pool.ClassName(cf.SuperClass); err != nil {
			return nil, err
		}
	}
	ni, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	cf.Interfaces = make([]uint16, ni)
	for i := range cf.Interfaces {
		if cf.Interfaces[i], err = s.ReadUint16(); err != nil {
			return nil, err
		}
		if _, err := cf.Pool.ClassName(cf.Interfaces[i]); err != nil {
			return nil, fmt.Errorf("interface %d: %w", i, err)
		}
	}
	if cf.Fields, err = readMembers(s, cf.Pool, nil); err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}
	if cf.Methods, err = readMembers(s, cf.Pool, d); err != nil {
		return nil, fmt.Errorf("methods: %w", err)
	}
	if cf.Attributes, err = readAttributes(s, cf.Pool); err != nil {
		return nil, err
	}
	if s.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, s.Remaining())
	}
	return cf, nil
}

// readMembers reads fields, or methods when d is non-nil.
func readMembers(s *wire.Stream, pool *Pool, d *decoder) ([]*Member, error) {
	n, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	out := make([]*Member, 0, n)
	for k := 0; k < int(n); k++ {
		m := &Member{codeAttr: -1}
		if m.AccessFlags, err = s.ReadUint16(); err != nil {
			return nil, err
		}
		if m.NameIndex, err = s.ReadUint16(); err != nil {
			return nil, err
		}
		if m.DescIndex, err = s.ReadUint16(); err != nil {
			return nil, err
		}
		if m.Name, err = pool.Utf8(m.NameIndex); err != nil {
			return nil, err
		}
		if m.Descriptor, err = pool.Utf8(m.DescIndex); err != nil {
			return nil, err
		}
		if m.Attributes, err = readAttributes(s, pool); err != nil {
			return nil, err
		}
		if d != nil {
			d.method = m.Name + m.Descriptor
			for i, a := range m.Attributes {
				if a.Name != "Code" {
					continue
				}
				if m.Code != nil {
					return nil, fmt.Errorf("%w: %s%s has two Code attributes", ErrMalformed, m.Name, m.Descriptor)
				}
				if m.Code, err = decodeCode(a.Data, pool, d); err != nil {
					return nil, fmt.Errorf("%s%s: %w", m.Name, m.Descriptor, err)
				}
				m.codeAttr = i
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func readAttributes(s *wire.Stream, pool *Pool) ([]Attribute, error) {
	n, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	out := make([]Attribute, 0, n)
	for k := 0; k < int(n); k++ {
		a, err := readAttribute(s, pool)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func readAttribute(s *wire.Stream, pool *Pool) (Attribute, error) {
	var a Attribute
	var err error
	if a.NameIndex, err = s.ReadUint16(); err != nil {
		return a, err
	}
	if a.Name, err = pool.Utf8(a.NameIndex); err != nil {
		return a, err
	}
	size, err := s.ReadUint32()
	if err != nil {
		return a, err
	}
	if int64(size) > int64(s.Remaining()) {
		return a, fmt.Errorf("%w: attribute %s length %d exceeds input", ErrMalformed, a.Name, size)
	}
	a.Data, err = s.ReadBytes(int(size))
	return a, err
}

// Name returns the internal name of the class, e.g. "com/example/Login".
func (cf *ClassFile) Name() string {
	n, _ := cf.Pool.ClassName(cf.ThisClass)
	return n
}

// Bytes serializes the class. Methods whose code was not edited are
// emitted unchanged; edited methods are reassembled with recomputed
// stack and local limits.
func (cf *ClassFile) Bytes() ([]byte, error) {
	w := wire.NewBuffer(4096)
	w.WriteUint32(magic)
	w.WriteUint16(cf.Minor)
	w.WriteUint16(cf.Major)
	cf.Pool.write(w)
	w.WriteUint16(cf.AccessFlags)
	w.WriteUint16(cf.ThisClass)
	w.WriteUint16(cf.SuperClass)
	w.WriteUint16(uint16(len(cf.Interfaces)))
	for _, i := range cf.Interfaces {
		w.WriteUint16(i)
	}
	for _, members := range [][]*Member{cf.Fields, cf.Methods} {
		w.WriteUint16(uint16(len(members)))
		for _, m := range members {
			if err := cf.writeMember(w, m); err != nil {
				return nil, fmt.Errorf("%s.%s%s: %w", cf.Name(), m.Name, m.Descriptor, err)
			}
		}
	}
	writeAttributes(w, cf.Attributes)
	return w.Bytes(), nil
}

func (cf *ClassFile) writeMember(w *wire.Buffer, m *Member) error {
	w.WriteUint16(m.AccessFlags)
	w.WriteUint16(m.NameIndex)
	w.WriteUint16(m.DescIndex)
	if m.Code == nil || !m.Code.dirty {
		writeAttributes(w, m.Attributes)
		return nil
	}
	stack, locals, err := m.Code.computeMaxs(cf.Pool, m.IsStatic(), m.Descriptor)
	if err != nil {
		return err
	}
	body, err := m.Code.encode(stack, locals)
	if err != nil {
		return err
	}
	attrs := make([]Attribute, len(m.Attributes))
	copy(attrs, m.Attributes)
	attrs[m.codeAttr].Data = body
	writeAttributes(w, attrs)
	return nil
}

func writeAttributes(w *wire.Buffer, attrs []Attribute) {
	w.WriteUint16(uint16(len(attrs)))
	for _, a := range attrs {
		w.WriteUint16(a.NameIndex)
		w.WriteUint32(uint32(len(a.Data)))
		w.WriteBytes(a.Data)
	}
}
