package classfile

import (
	"fmt"
	"unicode/utf8"

	"gnomepatch/internal/wire"
)

// Tag identifies a constant pool entry type.
type Tag uint8

const (
	TagUtf8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldref           Tag = 9
	TagMethodref          Tag = 10
	TagInterfaceMethodref Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagDynamic            Tag = 17
	TagInvokeDynamic      Tag = 18
	TagModule             Tag = 19
	TagPackage            Tag = 20
)

func (t Tag) String() string {
	switch t {
	case TagUtf8:
		return "Utf8"
	case TagInteger:
		return "Integer"
	case TagFloat:
		return "Float"
	case TagLong:
		return "Long"
	case TagDouble:
		return "Double"
	case TagClass:
		return "Class"
	case TagString:
		return "String"
	case TagFieldref:
		return "Fieldref"
	case TagMethodref:
		return "Methodref"
	case TagInterfaceMethodref:
		return "InterfaceMethodref"
	case TagNameAndType:
		return "NameAndType"
	case TagMethodHandle:
		return "MethodHandle"
	case TagMethodType:
		return "MethodType"
	case TagDynamic:
		return "Dynamic"
	case TagInvokeDynamic:
		return "InvokeDynamic"
	case TagModule:
		return "Module"
	case TagPackage:
		return "Package"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

// Constant is one constant pool entry. Which fields are meaningful
// depends on Tag:
//
//	Utf8                         Text, Raw (modified UTF-8 bytes)
//	Integer, Float, Long, Double Raw (4 or 8 big-endian bytes)
//	Class, String, MethodType,
//	Module, Package              Ref1
//	*ref, NameAndType, Dynamic,
//	InvokeDynamic                Ref1, Ref2
//	MethodHandle                 RefKind, Ref1
//
// The second slot of a Long or Double has Tag 0.
type Constant struct {
	Tag     Tag
	Text    string
	Raw     []byte
	RefKind uint8
	Ref1    uint16
	Ref2    uint16
}

// Pool is a class constant pool. Index 0 is unused.
type Pool struct {
	entries []Constant
	utf8s   map[string]uint16 // first index of each Utf8 value
	strings map[uint16]uint16 // Utf8 index -> first String entry referencing it
}

// maxPoolCount is the largest constant_pool_count a class may declare.
const maxPoolCount = 0xffff

// Len returns constant_pool_count (one more than the last valid index).
func (p *Pool) Len() int { return len(p.entries) }

// Get returns the entry at index i.
func (p *Pool) Get(i uint16) (*Constant, error) {
	if i == 0 || int(i) >= len(p.entries) || p.entries[i].Tag == 0 {
		return nil, fmt.Errorf("%w: constant pool index %d out of range", ErrMalformed, i)
	}
	return &p.entries[i], nil
}

func (p *Pool) expect(i uint16, tags ...Tag) (*Constant, error) {
	c, err := p.Get(i)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		if c.Tag == t {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: constant %d is %s, want %v", ErrMalformed, i, c.Tag, tags)
}

// Utf8 returns the decoded text of a Utf8 entry.
func (p *Pool) Utf8(i uint16) (string, error) {
	c, err := p.expect(i, TagUtf8)
	if err != nil {
		return "", err
	}
	return c.Text, nil
}

// ClassName returns the internal name referenced by a Class entry.
func (p *Pool) ClassName(i uint16) (string, error) {
	c, err := p.expect(i, TagClass)
	if err != nil {
		return "", err
	}
	return p.Utf8(c.Ref1)
}

// StringValue returns the literal of a String entry. ok is false when i
// is not a String constant.
func (p *Pool) StringValue(i uint16) (s string, ok bool) {
	c, err := p.Get(i)
	if err != nil || c.Tag != TagString {
		return "", false
	}
	s, err = p.Utf8(c.Ref1)
	return s, err == nil
}

// MemberRef resolves a Fieldref, Methodref or InterfaceMethodref.
func (p *Pool) MemberRef(i uint16) (owner, name, desc string, err error) {
	c, err := p.expect(i, TagFieldref, TagMethodref, TagInterfaceMethodref)
	if err != nil {
		return "", "", "", err
	}
	if owner, err = p.ClassName(c.Ref1); err != nil {
		return "", "", "", err
	}
	name, desc, err = p.NameAndType(c.Ref2)
	return owner, name, desc, err
}

// NameAndType resolves a NameAndType entry.
func (p *Pool) NameAndType(i uint16) (name, desc string, err error) {
	c, err := p.expect(i, TagNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = p.Utf8(c.Ref1); err != nil {
		return "", "", err
	}
	desc, err = p.Utf8(c.Ref2)
	return name, desc, err
}

// DynamicDescriptor returns the descriptor of a Dynamic or InvokeDynamic
// entry.
func (p *Pool) DynamicDescriptor(i uint16) (string, error) {
	c, err := p.expect(i, TagDynamic, TagInvokeDynamic)
	if err != nil {
		return "", err
	}
	_, desc, err := p.NameAndType(c.Ref2)
	return desc, err
}

// AddUtf8 returns the index of a Utf8 entry holding s, appending one if
// none exists.
func (p *Pool) AddUtf8(s string) (uint16, error) {
	if i, ok := p.utf8s[s]; ok {
		return i, nil
	}
	if !utf8.ValidString(s) {
		return 0, fmt.Errorf("classfile: constant text is not valid UTF-8")
	}
	raw := encodeMUTF8(s)
	if len(raw) > 0xffff {
		return 0, fmt.Errorf("%w: constant text of %d bytes", ErrPoolOverflow, len(raw))
	}
	i, err := p.add(Constant{Tag: TagUtf8, Text: s, Raw: raw})
	if err != nil {
		return 0, err
	}
	p.utf8s[s] = i
	return i, nil
}

// AddString returns the index of a String entry for s, reusing existing
// entries and appending Utf8/String entries as needed.
func (p *Pool) AddString(s string) (uint16, error) {
	u, err := p.AddUtf8(s)
	if err != nil {
		return 0, err
	}
	if i, ok := p.strings[u]; ok {
		return i, nil
	}
	i, err := p.add(Constant{Tag: TagString, Ref1: u})
	if err != nil {
		return 0, err
	}
	p.strings[u] = i
	return i, nil
}

func (p *Pool) add(c Constant) (uint16, error) {
	if len(p.entries) >= maxPoolCount {
		return 0, ErrPoolOverflow
	}
	p.entries = append(p.entries, c)
	return uint16(len(p.entries) - 1), nil
}

func (p *Pool) index() {
	p.utf8s = make(map[string]uint16)
	p.strings = make(map[uint16]uint16)
	for i := 1; i < len(p.entries); i++ {
		c := &p.entries[i]
		switch c.Tag {
		case TagUtf8:
			if _, ok := p.utf8s[c.Text]; !ok {
				p.utf8s[c.Text] = uint16(i)
			}
		case TagString:
			if _, ok := p.strings[c.Ref1]; !ok {
				p.strings[c.Ref1] = uint16(i)
			}
		}
	}
}

func readPool(s *wire.Stream) (*Pool, error) {
	count, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: constant_pool_count is 0", ErrMalformed)
	}
	p := &Pool{entries: make([]Constant, count)}
	for i := 1; i < int(count); i++ {
		off := s.Position()
		tb, err := s.ReadUint8()
		if err != nil {
			return nil, err
		}
		c := Constant{Tag: Tag(tb)}
		switch c.Tag {
		case TagUtf8:
			n, err := s.ReadUint16()
			if err != nil {
				return nil, err
			}
			if c.Raw, err = s.ReadBytes(int(n)); err != nil {
				return nil, err
			}
			c.Text = decodeMUTF8(c.Raw)
		case TagInteger, TagFloat:
			if c.Raw, err = s.ReadBytes(4); err != nil {
				return nil, err
			}
		case TagLong, TagDouble:
			if c.Raw, err = s.ReadBytes(8); err != nil {
				return nil, err
			}
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			if c.Ref1, err = s.ReadUint16(); err != nil {
				return nil, err
			}
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			if c.Ref1, err = s.ReadUint16(); err != nil {
				return nil, err
			}
			if c.Ref2, err = s.ReadUint16(); err != nil {
				return nil, err
			}
		case TagMethodHandle:
			if c.RefKind, err = s.ReadUint8(); err != nil {
				return nil, err
			}
			if c.Ref1, err = s.ReadUint16(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unknown constant tag %d at offset %d", ErrMalformed, tb, off)
		}
		p.entries[i] = c
		if c.Tag == TagLong || c.Tag == TagDouble {
			i++
			if i >= int(count) {
				return nil, fmt.Errorf("%w: wide constant in last pool slot", ErrMalformed)
			}
		}
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	p.index()
	return p, nil
}

// validate checks that every reference inside the pool names an entry of
// the right type.
func (p *Pool) validate() error {
	for i := 1; i < len(p.entries); i++ {
		c := &p.entries[i]
		var err error
		switch c.Tag {
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			_, err = p.expect(c.Ref1, TagUtf8)
		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			if _, err = p.expect(c.Ref1, TagClass); err == nil {
				_, err = p.expect(c.Ref2, TagNameAndType)
			}
		case TagNameAndType:
			if _, err = p.expect(c.Ref1, TagUtf8); err == nil {
				_, err = p.expect(c.Ref2, TagUtf8)
			}
		case TagDynamic, TagInvokeDynamic:
			// Ref1 indexes the BootstrapMethods attribute, not the pool.
			_, err = p.expect(c.Ref2, TagNameAndType)
		case TagMethodHandle:
			if c.RefKind < 1 || c.RefKind > 9 {
				err = fmt.Errorf("%w: method handle kind %d", ErrMalformed, c.RefKind)
			} else {
				_, err = p.expect(c.Ref1, TagFieldref, TagMethodref, TagInterfaceMethodref)
			}
		}
		if err != nil {
			return fmt.Errorf("constant %d (%s): %w", i, c.Tag, err)
		}
	}
	return nil
}

func (p *Pool) write(w *wire.Buffer) {
	w.WriteUint16(uint16(len(p.entries)))
	for i := 1; i < len(p.entries); i++ {
		c := &p.entries[i]
		if c.Tag == 0 {
			continue
		}
		w.WriteUint8(uint8(c.Tag))
		switch c.Tag {
		case TagUtf8:
			w.WriteUint16(uint16(len(c.Raw)))
			w.WriteBytes(c.Raw)
		case TagInteger, TagFloat, TagLong, TagDouble:
			w.WriteBytes(c.Raw)
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			w.WriteUint16(c.Ref1)
		case TagMethodHandle:
			w.WriteUint8(c.RefKind)
			w.WriteUint16(c.Ref1)
		default:
			w.WriteUint16(c.Ref1)
			w.WriteUint16(c.Ref2)
		}
	}
}
