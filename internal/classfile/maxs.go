package classfile

import "fmt"

// computeMaxs derives operand stack depth and local slot usage from the
// instruction stream. The result never lowers the declared limits.
func (c *Code) computeMaxs(pool *Pool, static bool, desc string) (stack, locals uint16, err error) {
	args, _, err := methodSlots(desc)
	if err != nil {
		return 0, 0, err
	}
	if !static {
		args++
	}
	ml := args
	for i := range c.Insns {
		if need := localsNeeded(&c.Insns[i]); need > ml {
			ml = need
		}
	}

	ms, err := c.stackDepth(pool)
	if err != nil {
		return 0, 0, err
	}
	if ms > 0xffff || ml > 0xffff {
		return 0, 0, fmt.Errorf("%w: method limits stack=%d locals=%d", ErrCodeTooLarge, ms, ml)
	}
	stack, locals = c.MaxStack, c.MaxLocals
	if uint16(ms) > stack {
		stack = uint16(ms)
	}
	if uint16(ml) > locals {
		locals = uint16(ml)
	}
	return stack, locals, nil
}

func localsNeeded(in *Insn) int {
	spec := &opTable[in.Op]
	switch in.Kind() {
	case KindLocal:
		w := int(spec.width)
		if w == 0 {
			w = 1
		}
		return int(in.Index) + w
	case KindIinc:
		return int(in.Index) + 1
	case KindSimple:
		if spec.local >= 0 {
			return int(spec.local) + int(spec.width)
		}
	}
	return 0
}

// stackDepth walks every path from the entry point and each handler,
// tracking the operand stack height in slots.
func (c *Code) stackDepth(pool *Pool) (int, error) {
	n := len(c.Insns)
	depth := make([]int, n)
	for i := range depth {
		depth[i] = -1
	}
	var work []int
	visit := func(i, d int) error {
		if i < 0 || i >= n {
			return fmt.Errorf("%w: control flow leaves the method", ErrMalformed)
		}
		if depth[i] < 0 {
			depth[i] = d
			work = append(work, i)
		}
		return nil
	}

	maxDepth := 0
	if err := visit(0, 0); err != nil {
		return 0, err
	}
	for _, h := range c.Handlers {
		if err := visit(h.Handler, 1); err != nil {
			return 0, err
		}
		if maxDepth < 1 {
			maxDepth = 1
		}
	}

	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		in := &c.Insns[i]

		pop, push, err := stackEffect(in, pool)
		if err != nil {
			return 0, err
		}
		d := depth[i]
		if d-pop < 0 {
			return 0, fmt.Errorf("%w: stack underflow at %s (insn %d)", ErrMalformed, in.Op, i)
		}
		after := d - pop + push
		if after > maxDepth {
			maxDepth = after
		}

		switch in.Kind() {
		case KindBranch:
			if err := visit(in.Target, after); err != nil {
				return 0, err
			}
			if in.Op.isJsr() {
				// The subroutine returns with the address popped again.
				if err := visit(i+1, d); err != nil {
					return 0, err
				}
				continue
			}
		case KindTableSwitch, KindLookupSwitch:
			if err := visit(in.Default, after); err != nil {
				return 0, err
			}
			for _, t := range in.Targets {
				if err := visit(t, after); err != nil {
					return 0, err
				}
			}
		}
		if !in.Op.IsTerminal() {
			if err := visit(i+1, after); err != nil {
				return 0, err
			}
		}
	}
	return maxDepth, nil
}

func stackEffect(in *Insn, pool *Pool) (pop, push int, err error) {
	spec := &opTable[in.Op]
	switch in.Kind() {
	case KindField:
		_, _, desc, err := pool.MemberRef(in.Index)
		if err != nil {
			return 0, 0, err
		}
		size, err := typeSlots(desc)
		if err != nil {
			return 0, 0, err
		}
		switch in.Op {
		case OpGetStatic:
			return 0, size, nil
		case OpPutStatic:
			return size, 0, nil
		case OpGetField:
			return 1, size, nil
		default:
			return 1 + size, 0, nil
		}
	case KindMethod:
		_, _, desc, err := pool.MemberRef(in.Index)
		if err != nil {
			return 0, 0, err
		}
		args, ret, err := methodSlots(desc)
		if err != nil {
			return 0, 0, err
		}
		if in.Op != OpInvokeStatic {
			args++
		}
		return args, ret, nil
	case KindDynamic:
		desc, err := pool.DynamicDescriptor(in.Index)
		if err != nil {
			return 0, 0, err
		}
		args, ret, err := methodSlots(desc)
		return args, ret, err
	case KindMultiANewArray:
		return int(in.Dims), 1, nil
	case KindLdc:
		if in.Op == OpLdc2W {
			return 0, 2, nil
		}
		return 0, 1, nil
	}
	return int(spec.pop), int(spec.push), nil
}

// methodSlots returns the argument and return slot counts of a method
// descriptor.
func methodSlots(desc string) (args, ret int, err error) {
	if len(desc) < 3 || desc[0] != '(' {
		return 0, 0, fmt.Errorf("%w: method descriptor %q", ErrMalformed, desc)
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		size, next, err := nextType(desc, i)
		if err != nil {
			return 0, 0, err
		}
		args += size
		i = next
	}
	if i >= len(desc) {
		return 0, 0, fmt.Errorf("%w: method descriptor %q", ErrMalformed, desc)
	}
	i++
	if i < len(desc) && desc[i] == 'V' && i+1 == len(desc) {
		return args, 0, nil
	}
	size, next, err := nextType(desc, i)
	if err != nil || next != len(desc) {
		return 0, 0, fmt.Errorf("%w: method descriptor %q", ErrMalformed, desc)
	}
	return args, size, nil
}

func typeSlots(desc string) (int, error) {
	size, next, err := nextType(desc, 0)
	if err != nil || next != len(desc) {
		return 0, fmt.Errorf("%w: field descriptor %q", ErrMalformed, desc)
	}
	return size, nil
}

// nextType scans one field type starting at desc[i].
func nextType(desc string, i int) (size, next int, err error) {
	if i >= len(desc) {
		return 0, 0, fmt.Errorf("%w: truncated descriptor %q", ErrMalformed, desc)
	}
	switch desc[i] {
	case 'J', 'D':
		return 2, i + 1, nil
	case 'B', 'C', 'F', 'I', 'S', 'Z':
		return 1, i + 1, nil
	case 'L':
		for j := i + 1; j < len(desc); j++ {
			if desc[j] == ';' {
				return 1, j + 1, nil
			}
		}
	case '[':
		j := i
		for j < len(desc) && desc[j] == '[' {
			j++
		}
		if _, next, err := nextType(desc, j); err == nil {
			return 1, next, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: bad descriptor %q at %d", ErrMalformed, desc, i)
}
