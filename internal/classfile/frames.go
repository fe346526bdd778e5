package classfile

import (
	"fmt"

	"gnomepatch/internal/wire"
)

// Verification type tags used in StackMapTable frames.
const (
	ItemTop               uint8 = 0
	ItemInteger           uint8 = 1
	ItemFloat             uint8 = 2
	ItemDouble            uint8 = 3
	ItemLong              uint8 = 4
	ItemNull              uint8 = 5
	ItemUninitializedThis uint8 = 6
	ItemObject            uint8 = 7
	ItemUninitialized     uint8 = 8
)

// VType is a verification type. Class is set for ItemObject; New is the
// instruction index of the allocating `new` for ItemUninitialized.
type VType struct {
	Tag   uint8
	Class uint16
	New   int
}

// FrameKind is the compressed frame shape.
type FrameKind uint8

const (
	FrameSame FrameKind = iota
	FrameSameLocals1
	FrameChop
	FrameAppend
	FrameFull
)

// Frame is one StackMapTable entry anchored at an instruction index.
// Locals holds the appended locals for FrameAppend and all locals for
// FrameFull; Stack holds the single item for FrameSameLocals1 and the full
// stack for FrameFull.
type Frame struct {
	Kind   FrameKind
	Insn   int
	Chop   int
	Locals []VType
	Stack  []VType
}

func decodeFrames(data []byte, byOffset map[int]int, ninsns int) ([]Frame, error) {
	s := wire.NewStream(data)
	n, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	at := func(off int) (int, error) {
		i, ok := byOffset[off]
		if !ok || i >= ninsns {
			return 0, fmt.Errorf("%w: stack map offset %d is not an instruction", ErrMalformed, off)
		}
		return i, nil
	}
	readTypes := func(count int) ([]VType, error) {
		out := make([]VType, 0, count)
		for j := 0; j < count; j++ {
			tag, err := s.ReadUint8()
			if err != nil {
				return nil, err
			}
			vt := VType{Tag: tag}
			switch {
			case tag == ItemObject:
				if vt.Class, err = s.ReadUint16(); err != nil {
					return nil, err
				}
			case tag == ItemUninitialized:
				off, err := s.ReadUint16()
				if err != nil {
					return nil, err
				}
				if vt.New, err = at(int(off)); err != nil {
					return nil, err
				}
			case tag > ItemUninitialized:
				return nil, fmt.Errorf("%w: verification type %d", ErrMalformed, tag)
			}
			out = append(out, vt)
		}
		return out, nil
	}

	frames := make([]Frame, 0, n)
	prev := -1
	for k := 0; k < int(n); k++ {
		ft, err := s.ReadUint8()
		if err != nil {
			return nil, err
		}
		var f Frame
		var delta int
		switch {
		case ft <= 63:
			f.Kind, delta = FrameSame, int(ft)
		case ft <= 127:
			f.Kind, delta = FrameSameLocals1, int(ft-64)
			if f.Stack, err = readTypes(1); err != nil {
				return nil, err
			}
		case ft < 247:
			return nil, fmt.Errorf("%w: reserved frame type %d", ErrMalformed, ft)
		default:
			d, err := s.ReadUint16()
			if err != nil {
				return nil, err
			}
			delta = int(d)
			switch {
			case ft == 247:
				f.Kind = FrameSameLocals1
				if f.Stack, err = readTypes(1); err != nil {
					return nil, err
				}
			case ft <= 250:
				f.Kind, f.Chop = FrameChop, int(251-ft)
			case ft == 251:
				f.Kind = FrameSame
			case ft <= 254:
				f.Kind = FrameAppend
				if f.Locals, err = readTypes(int(ft - 251)); err != nil {
					return nil, err
				}
			default:
				f.Kind = FrameFull
				nl, err := s.ReadUint16()
				if err != nil {
					return nil, err
				}
				if f.Locals, err = readTypes(int(nl)); err != nil {
					return nil, err
				}
				ns, err := s.ReadUint16()
				if err != nil {
					return nil, err
				}
				if f.Stack, err = readTypes(int(ns)); err != nil {
					return nil, err
				}
			}
		}
		off := prev + delta + 1
		if f.Insn, err = at(off); err != nil {
			return nil, err
		}
		prev = off
		frames = append(frames, f)
	}
	if s.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes in StackMapTable", ErrMalformed, s.Remaining())
	}
	return frames, nil
}

// encodeFrames re-encodes frames against freshly assembled offsets,
// switching to the extended frame forms when a delta no longer fits.
func encodeFrames(frames []Frame, insns []Insn) ([]byte, error) {
	w := wire.NewBuffer(2 + 4*len(frames))
	w.WriteUint16(uint16(len(frames)))
	writeTypes := func(ts []VType) {
		for _, t := range ts {
			w.WriteUint8(t.Tag)
			switch t.Tag {
			case ItemObject:
				w.WriteUint16(t.Class)
			case ItemUninitialized:
				w.WriteUint16(uint16(insns[t.New].Offset))
			}
		}
	}

	prev := -1
	for _, f := range frames {
		off := insns[f.Insn].Offset
		delta := off - prev - 1
		if delta < 0 || delta > 0xffff {
			return nil, fmt.Errorf("%w: stack map frames out of order at offset %d", ErrMalformed, off)
		}
		prev = off
		switch f.Kind {
		case FrameSame:
			if delta <= 63 {
				w.WriteUint8(uint8(delta))
			} else {
				w.WriteUint8(251)
				w.WriteUint16(uint16(delta))
			}
		case FrameSameLocals1:
			if delta <= 63 {
				w.WriteUint8(uint8(64 + delta))
			} else {
				w.WriteUint8(247)
				w.WriteUint16(uint16(delta))
			}
			writeTypes(f.Stack)
		case FrameChop:
			w.WriteUint8(uint8(251 - f.Chop))
			w.WriteUint16(uint16(delta))
		case FrameAppend:
			w.WriteUint8(uint8(251 + len(f.Locals)))
			w.WriteUint16(uint16(delta))
			writeTypes(f.Locals)
		case FrameFull:
			w.WriteUint8(255)
			w.WriteUint16(uint16(delta))
			w.WriteUint16(uint16(len(f.Locals)))
			writeTypes(f.Locals)
			w.WriteUint16(uint16(len(f.Stack)))
			writeTypes(f.Stack)
		}
	}
	return w.Bytes(), nil
}
