package classfile

import (
	"errors"
	"fmt"
	"math"

	"gnomepatch/internal/wire"
)

// ErrCodeTooLarge is returned when a reassembled method no longer fits
// the class format limits.
var ErrCodeTooLarge = errors.New("classfile: code too large")

// maxCodeLength is the largest code array a method may carry.
const maxCodeLength = 0xffff

// Insn is one decoded instruction. Positions (Target, Default, Targets)
// are instruction indices into the owning Code, not byte offsets, so
// instructions can be inserted without re-encoding branches by hand.
//
// Field use by Kind:
//
//	KindLocal          Index (local slot), Wide
//	KindInt            Value (bipush/sipush operand, newarray type)
//	KindLdc, KindField,
//	KindType           Index (constant pool)
//	KindMethod         Index, Count (invokeinterface only)
//	KindDynamic        Index
//	KindBranch         Target
//	KindIinc           Index, Value, Wide
//	KindTableSwitch    Default, Low, Targets
//	KindLookupSwitch   Default, Keys, Targets
//	KindMultiANewArray Index, Dims
type Insn struct {
	Op      Opcode
	Index   uint16
	Value   int32
	Target  int
	Default int
	Low     int32
	Keys    []int32
	Targets []int
	Count   uint8
	Dims    uint8
	Wide    bool

	// Offset is the byte offset assigned by the last decode or assemble.
	Offset int
}

// Kind returns the operand shape of the instruction.
func (in *Insn) Kind() Kind { return in.Op.Kind() }

func (in Insn) String() string {
	switch in.Kind() {
	case KindLocal, KindLdc, KindField, KindMethod, KindDynamic, KindType:
		return fmt.Sprintf("%s %d", in.Op, in.Index)
	case KindInt:
		return fmt.Sprintf("%s %d", in.Op, in.Value)
	case KindBranch:
		return fmt.Sprintf("%s @%d", in.Op, in.Target)
	case KindIinc:
		return fmt.Sprintf("%s %d %d", in.Op, in.Index, in.Value)
	case KindMultiANewArray:
		return fmt.Sprintf("%s %d %d", in.Op, in.Index, in.Dims)
	case KindTableSwitch, KindLookupSwitch:
		return fmt.Sprintf("%s default=@%d cases=%d", in.Op, in.Default, len(in.Targets))
	default:
		return in.Op.String()
	}
}

// pendingTarget is a branch destination expressed as a byte offset, kept
// until all instruction boundaries are known.
type pendingTarget struct {
	insn  int
	slot  int // -1 = Target, -2 = Default, >= 0 = Targets[slot]
	dest  int
	where int
}

// decodeInsns decodes a method's code array. Branch destinations must land
// on instruction boundaries.
func decodeInsns(code []byte) ([]Insn, map[int]int, error) {
	s := wire.NewStream(code)
	var insns []Insn
	var pending []pendingTarget

	for s.Remaining() > 0 {
		at := s.Position()
		b, _ := s.ReadUint8()
		in := Insn{Op: Opcode(b), Offset: at}
		idx := len(insns)

		wide := false
		if in.Op == OpWide {
			nb, err := s.ReadUint8()
			if err != nil {
				return nil, nil, err
			}
			in.Op = Opcode(nb)
			wide = true
			if k := in.Kind(); k != KindLocal && k != KindIinc {
				return nil, nil, fmt.Errorf("%w: wide %s at %d", ErrMalformed, in.Op, at)
			}
		}

		var err error
		switch in.Kind() {
		case KindSimple:
		case KindLocal:
			in.Wide = wide
			in.Index, err = readIndex(s, wide)
		case KindInt:
			switch in.Op {
			case OpBipush:
				var v uint8
				v, err = s.ReadUint8()
				in.Value = int32(int8(v))
			case OpSipush:
				var v int16
				v, err = s.ReadInt16()
				in.Value = int32(v)
			default:
				var v uint8
				v, err = s.ReadUint8()
				in.Value = int32(v)
			}
		case KindLdc:
			if in.Op == OpLdc {
				var v uint8
				v, err = s.ReadUint8()
				in.Index = uint16(v)
			} else {
				in.Index, err = s.ReadUint16()
			}
		case KindField, KindType:
			in.Index, err = s.ReadUint16()
		case KindMethod:
			in.Index, err = s.ReadUint16()
			if err == nil && in.Op == OpInvokeIface {
				if in.Count, err = s.ReadUint8(); err == nil {
					err = s.Skip(1)
				}
			}
		case KindDynamic:
			in.Index, err = s.ReadUint16()
			if err == nil {
				err = s.Skip(2)
			}
		case KindMultiANewArray:
			in.Index, err = s.ReadUint16()
			if err == nil {
				in.Dims, err = s.ReadUint8()
			}
		case KindIinc:
			in.Wide = wide
			if in.Index, err = readIndex(s, wide); err != nil {
				break
			}
			if wide {
				var v int16
				v, err = s.ReadInt16()
				in.Value = int32(v)
			} else {
				var v uint8
				v, err = s.ReadUint8()
				in.Value = int32(int8(v))
			}
		case KindBranch:
			var rel int32
			if in.Op.isWideBranch() {
				rel, err = s.ReadInt32()
			} else {
				var v int16
				v, err = s.ReadInt16()
				rel = int32(v)
			}
			pending = append(pending, pendingTarget{insn: idx, slot: -1, dest: at + int(rel), where: at})
		case KindTableSwitch, KindLookupSwitch:
			err = decodeSwitch(s, &in, at, idx, &pending)
		default:
			return nil, nil, fmt.Errorf("%w: undefined opcode 0x%02x at %d", ErrMalformed, b, at)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s at %d: %v", ErrMalformed, in.Op, at, err)
		}
		insns = append(insns, in)
	}

	byOffset := make(map[int]int, len(insns)+1)
	for i := range insns {
		byOffset[insns[i].Offset] = i
	}
	byOffset[len(code)] = len(insns)

	for _, p := range pending {
		ti, ok := byOffset[p.dest]
		if !ok || ti == len(insns) {
			return nil, nil, fmt.Errorf("%w: branch at %d to %d is not an instruction", ErrMalformed, p.where, p.dest)
		}
		in := &insns[p.insn]
		switch p.slot {
		case -1:
			in.Target = ti
		case -2:
			in.Default = ti
		default:
			in.Targets[p.slot] = ti
		}
	}
	return insns, byOffset, nil
}

func readIndex(s *wire.Stream, wide bool) (uint16, error) {
	if wide {
		return s.ReadUint16()
	}
	v, err := s.ReadUint8()
	return uint16(v), err
}

func decodeSwitch(s *wire.Stream, in *Insn, at, idx int, pending *[]pendingTarget) error {
	if err := s.Align(0, 4); err != nil {
		return err
	}
	dflt, err := s.ReadInt32()
	if err != nil {
		return err
	}
	*pending = append(*pending, pendingTarget{insn: idx, slot: -2, dest: at + int(dflt), where: at})

	var n int
	if in.Op == OpTableSwitch {
		low, err := s.ReadInt32()
		if err != nil {
			return err
		}
		high, err := s.ReadInt32()
		if err != nil {
			return err
		}
		if high < low {
			return fmt.Errorf("tableswitch high %d < low %d", high, low)
		}
		in.Low = low
		n64 := int64(high) - int64(low) + 1
		if n64*4 > int64(s.Remaining()) {
			return wire.ErrStreamEOF
		}
		n = int(n64)
	} else {
		npairs, err := s.ReadInt32()
		if err != nil {
			return err
		}
		if npairs < 0 || int64(npairs)*8 > int64(s.Remaining()) {
			return fmt.Errorf("lookupswitch npairs %d", npairs)
		}
		n = int(npairs)
		in.Keys = make([]int32, n)
	}

	in.Targets = make([]int, n)
	for i := 0; i < n; i++ {
		if in.Op == OpLookupSwitch {
			if in.Keys[i], err = s.ReadInt32(); err != nil {
				return err
			}
		}
		rel, err := s.ReadInt32()
		if err != nil {
			return err
		}
		*pending = append(*pending, pendingTarget{insn: idx, slot: i, dest: at + int(rel), where: at})
	}
	return nil
}

// insnSize returns the encoded size of in at byte offset at.
func insnSize(in *Insn, at int, long bool) int {
	switch in.Kind() {
	case KindSimple:
		return 1
	case KindLocal:
		if in.Wide || in.Index > 0xff {
			return 4
		}
		return 2
	case KindInt:
		if in.Op == OpSipush {
			return 3
		}
		return 2
	case KindLdc:
		if in.Op == OpLdc && in.Index <= 0xff {
			return 2
		}
		return 3
	case KindField, KindType:
		return 3
	case KindMethod:
		if in.Op == OpInvokeIface {
			return 5
		}
		return 3
	case KindDynamic:
		return 5
	case KindMultiANewArray:
		return 4
	case KindIinc:
		if in.Wide || in.Index > 0xff || in.Value < math.MinInt8 || in.Value > math.MaxInt8 {
			return 6
		}
		return 3
	case KindBranch:
		if long || in.Op.isWideBranch() {
			return 5
		}
		return 3
	case KindTableSwitch:
		return 1 + switchPad(at) + 12 + 4*len(in.Targets)
	case KindLookupSwitch:
		return 1 + switchPad(at) + 8 + 8*len(in.Targets)
	}
	return 1
}

func switchPad(at int) int {
	return (4 - (at+1)%4) % 4
}

// assemble lays out insns and encodes them. Offsets are written back into
// each Insn. Unconditional branches whose displacement outgrows 16 bits are
// promoted to their _w forms; conditional branches cannot be and fail.
func assemble(insns []Insn) ([]byte, error) {
	long := make([]bool, len(insns))
	offsets := make([]int, len(insns)+1)

	for {
		at := 0
		for i := range insns {
			offsets[i] = at
			at += insnSize(&insns[i], at, long[i])
		}
		offsets[len(insns)] = at
		if at > maxCodeLength {
			return nil, fmt.Errorf("%w: %d bytes", ErrCodeTooLarge, at)
		}

		changed := false
		for i := range insns {
			in := &insns[i]
			if in.Kind() != KindBranch || long[i] || in.Op.isWideBranch() {
				continue
			}
			if in.Target < 0 || in.Target >= len(insns) {
				return nil, fmt.Errorf("%w: branch %d targets instruction %d", ErrMalformed, i, in.Target)
			}
			rel := offsets[in.Target] - offsets[i]
			if rel >= math.MinInt16 && rel <= math.MaxInt16 {
				continue
			}
			if in.Op != OpGoto && in.Op != OpJsr {
				return nil, fmt.Errorf("%w: conditional branch displacement %d", ErrCodeTooLarge, rel)
			}
			long[i] = true
			changed = true
		}
		if !changed {
			break
		}
	}

	w := wire.NewBuffer(offsets[len(insns)])
	for i := range insns {
		in := &insns[i]
		at := offsets[i]
		in.Offset = at
		if err := encodeInsn(w, in, at, long[i], offsets, len(insns)); err != nil {
			return nil, err
		}
		if w.Len() != offsets[i+1] {
			return nil, fmt.Errorf("classfile: internal layout error at %s (%d != %d)", in.Op, w.Len(), offsets[i+1])
		}
	}
	return w.Bytes(), nil
}

func encodeInsn(w *wire.Buffer, in *Insn, at int, long bool, offsets []int, n int) error {
	rel := func(target int) (int32, error) {
		if target < 0 || target >= n {
			return 0, fmt.Errorf("%w: %s at %d targets instruction %d", ErrMalformed, in.Op, at, target)
		}
		return int32(offsets[target] - at), nil
	}

	switch in.Kind() {
	case KindSimple:
		w.WriteUint8(uint8(in.Op))
	case KindLocal:
		if in.Wide || in.Index > 0xff {
			w.WriteUint8(uint8(OpWide))
			w.WriteUint8(uint8(in.Op))
			w.WriteUint16(in.Index)
		} else {
			w.WriteUint8(uint8(in.Op))
			w.WriteUint8(uint8(in.Index))
		}
	case KindInt:
		w.WriteUint8(uint8(in.Op))
		if in.Op == OpSipush {
			w.WriteUint16(uint16(int16(in.Value)))
		} else {
			w.WriteUint8(uint8(in.Value))
		}
	case KindLdc:
		switch {
		case in.Op == OpLdc && in.Index <= 0xff:
			w.WriteUint8(uint8(OpLdc))
			w.WriteUint8(uint8(in.Index))
		case in.Op == OpLdc:
			w.WriteUint8(uint8(OpLdcW))
			w.WriteUint16(in.Index)
		default:
			w.WriteUint8(uint8(in.Op))
			w.WriteUint16(in.Index)
		}
	case KindField, KindType:
		w.WriteUint8(uint8(in.Op))
		w.WriteUint16(in.Index)
	case KindMethod:
		w.WriteUint8(uint8(in.Op))
		w.WriteUint16(in.Index)
		if in.Op == OpInvokeIface {
			w.WriteUint8(in.Count)
			w.WriteUint8(0)
		}
	case KindDynamic:
		w.WriteUint8(uint8(in.Op))
		w.WriteUint16(in.Index)
		w.WriteUint16(0)
	case KindMultiANewArray:
		w.WriteUint8(uint8(in.Op))
		w.WriteUint16(in.Index)
		w.WriteUint8(in.Dims)
	case KindIinc:
		if in.Wide || in.Index > 0xff || in.Value < math.MinInt8 || in.Value > math.MaxInt8 {
			w.WriteUint8(uint8(OpWide))
			w.WriteUint8(uint8(OpIinc))
			w.WriteUint16(in.Index)
			w.WriteUint16(uint16(int16(in.Value)))
		} else {
			w.WriteUint8(uint8(OpIinc))
			w.WriteUint8(uint8(in.Index))
			w.WriteUint8(uint8(int8(in.Value)))
		}
	case KindBranch:
		r, err := rel(in.Target)
		if err != nil {
			return err
		}
		switch {
		case in.Op.isWideBranch():
			w.WriteUint8(uint8(in.Op))
			w.WriteUint32(uint32(r))
		case long && in.Op == OpGoto:
			w.WriteUint8(uint8(OpGotoW))
			w.WriteUint32(uint32(r))
		case long && in.Op == OpJsr:
			w.WriteUint8(uint8(OpJsrW))
			w.WriteUint32(uint32(r))
		default:
			w.WriteUint8(uint8(in.Op))
			w.WriteUint16(uint16(int16(r)))
		}
	case KindTableSwitch, KindLookupSwitch:
		w.WriteUint8(uint8(in.Op))
		for i := 0; i < switchPad(at); i++ {
			w.WriteUint8(0)
		}
		r, err := rel(in.Default)
		if err != nil {
			return err
		}
		w.WriteUint32(uint32(r))
		if in.Op == OpTableSwitch {
			w.WriteUint32(uint32(in.Low))
			w.WriteUint32(uint32(int32(int64(in.Low) + int64(len(in.Targets)) - 1)))
		} else {
			w.WriteUint32(uint32(len(in.Targets)))
		}
		for i, t := range in.Targets {
			if in.Op == OpLookupSwitch {
				w.WriteUint32(uint32(in.Keys[i]))
			}
			r, err := rel(t)
			if err != nil {
				return err
			}
			w.WriteUint32(uint32(r))
		}
	default:
		return fmt.Errorf("%w: cannot encode %s", ErrMalformed, in.Op)
	}
	return nil
}
