package interp

import (
	"fmt"

	"github.com/rowanvm/rowan/internal/rtrace"
	"github.com/rowanvm/rowan/internal/rtval"
	"github.com/rowanvm/rowan/internal/symbol"
	"github.com/rowanvm/rowan/internal/vtable"
)

// tailCallRequest is step's signal that an OpInvokeVirtTail resolved to a
// bytecode-only method: execFrame reuses the current Frame in place
// (spec.md §4.3 "Tail calls": reset PC to 0, replace args/locals) rather
// than recursing through invoke/execFrame, so a tail-recursive method
// never grows the Go call stack.
type tailCallRequest struct {
	code  *vtable.Bytecode
	class symbol.Symbol
	args  []rtval.Value
}

// blockIndex maps each OpStartBlock's declared index to its instruction
// offset, so Goto/If/Switch targets are plain slice lookups.
func blockIndex(code *vtable.Bytecode) map[int]int {
	blockPC := make(map[int]int, len(code.Instrs))
	for i, inst := range code.Instrs {
		if inst.Op == vtable.OpStartBlock {
			blockPC[inst.Index] = i
		}
	}
	return blockPC
}

// execFrame is the Bytecode Interpreter's main loop (spec.md §4.2): a
// linear fetch-decode-execute over f.Code.Instrs, with block ids
// resolved once up front so Goto/If/Switch are simple index lookups.
// A thrown exception unwinds through f.Code.Handlers before escaping as
// a *ThrownException error to whatever invoked this frame.
func (c *Context) execFrame(f *Frame) (rtval.Value, error) {
	c.frames = append(c.frames, f)
	defer func() { c.frames = c.frames[:len(c.frames)-1] }()

	blockPC := blockIndex(f.Code)

	for f.PC < len(f.Code.Instrs) {
		c.GC.Safepoint(c)

		at := f.PC
		ret, jumped, tail, err := c.step(f, blockPC)
		if err != nil {
			thrown, ok := err.(*ThrownException)
			if !ok {
				return rtval.Value{}, err
			}
			thrown.Frames = append(thrown.Frames, rtrace.Frame{Class: c.Syms.MustString(f.Class)})
			handlerPC, found := c.findHandler(f.Code.Handlers, at, thrown.Class)
			if !found {
				return rtval.Value{}, thrown
			}
			f.Stack = f.Stack[:0]
			f.push(rtval.Ref(thrown.Addr))
			f.PC = blockPC[handlerPC]
			continue
		}
		if tail != nil {
			f.Code = tail.code
			f.Class = tail.class
			f.Args = tail.args
			f.Local = make([]rtval.Value, f.Code.NumLocals)
			for i := range f.Local {
				f.Local[i] = rtval.Blank
			}
			f.Stack = f.Stack[:0]
			f.PC = 0
			blockPC = blockIndex(f.Code)
			continue
		}
		if ret != nil {
			return *ret, nil
		}
		if !jumped {
			f.PC++
		}
	}
	return rtval.Blank, nil
}

// findHandler returns the first handler range covering instruction index
// at whose class filter matches the thrown class (symbol.Null matches
// any), per spec.md §4.2's innermost-enclosing-range-first rule: ranges
// are recorded by the Linker in that order already, so a linear scan in
// declaration order is correct.
func (c *Context) findHandler(handlers []vtable.HandlerRange, at int, class symbol.Symbol) (int, bool) {
	for _, h := range handlers {
		if at < h.Start || at >= h.End {
			continue
		}
		if h.ClassFilter == symbol.Null || h.ClassFilter == class || c.Classes.IsSubclassOf(class, h.ClassFilter) {
			return h.HandlerPC, true
		}
	}
	return 0, false
}

func (c *Context) throwWellKnown(cls symbol.Symbol) error {
	addr, err := c.Heap.NewObject(c.Classes, cls)
	if err != nil {
		return fmt.Errorf("interp: failed to allocate exception object: %w", err)
	}
	return &ThrownException{Addr: addr, Class: cls}
}

func (c *Context) popN(f *Frame, n int) []rtval.Value {
	out := make([]rtval.Value, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = f.pop()
	}
	return out
}

// step executes exactly one instruction. jumped reports whether PC was
// already advanced by a control-flow op (so execFrame must not also
// increment it); ret is non-nil on OpReturn/OpReturnVoid; tail is
// non-nil on an OpInvokeVirtTail that resolved to a bytecode-only method
// (see tailCallRequest).
func (c *Context) step(f *Frame, blockPC map[int]int) (ret *rtval.Value, jumped bool, tail *tailCallRequest, err error) {
	inst := f.Code.Instrs[f.PC]

	switch inst.Op {
	case vtable.OpNop, vtable.OpStartBlock:
		// no-op at execution time; blocks were indexed up front.

	case vtable.OpLoadU8, vtable.OpLoadU16, vtable.OpLoadU32, vtable.OpLoadU64:
		f.push(rtval.FromU64(inst.Tag, inst.U64))

	case vtable.OpLoadI8, vtable.OpLoadI16, vtable.OpLoadI32, vtable.OpLoadI64:
		f.push(rtval.FromU64(inst.Tag, uint64(inst.I64)))

	case vtable.OpLoadF32:
		f.push(rtval.FromU64(rtval.TagF32, uint64(uint32(inst.U64))))

	case vtable.OpLoadF64:
		f.push(rtval.F64(inst.F64))

	case vtable.OpGetStrRef:
		f.push(rtval.Str(uint32(inst.U64)))

	case vtable.OpPop:
		f.pop()

	case vtable.OpDup:
		f.push(f.peek())

	case vtable.OpSwap:
		a, b := f.pop(), f.pop()
		f.push(a)
		f.push(b)

	case vtable.OpLoadLocal:
		f.push(f.Local[inst.Index])

	case vtable.OpStoreLocal:
		f.Local[inst.Index] = f.pop()

	case vtable.OpLoadArgument:
		f.push(f.Args[inst.Index])

	case vtable.OpStoreArgument:
		f.Args[inst.Index] = f.pop()

	case vtable.OpAdd:
		b, a := f.pop(), f.pop()
		f.push(binWrap(inst.Tag, a, b, func(x, y uint64) uint64 { return x + y }))
	case vtable.OpSub:
		b, a := f.pop(), f.pop()
		f.push(binWrap(inst.Tag, a, b, func(x, y uint64) uint64 { return x - y }))
	case vtable.OpMul:
		b, a := f.pop(), f.pop()
		f.push(binWrap(inst.Tag, a, b, func(x, y uint64) uint64 { return x * y }))

	case vtable.OpDiv, vtable.OpMod:
		b, a := f.pop(), f.pop()
		v, thrown := c.intDivMod(inst.Tag, a, b, inst.Op == vtable.OpMod, false)
		if thrown {
			return nil, false, nil, c.throwWellKnown(c.Well.DivideByZeroException)
		}
		f.push(v)

	case vtable.OpSatAdd:
		b, a := f.pop(), f.pop()
		f.push(satAdd(inst.Tag, a, b))
	case vtable.OpSatSub:
		b, a := f.pop(), f.pop()
		f.push(satSub(inst.Tag, a, b))
	case vtable.OpSatMul:
		b, a := f.pop(), f.pop()
		f.push(satMul(inst.Tag, a, b))
	case vtable.OpSatDiv, vtable.OpSatMod:
		b, a := f.pop(), f.pop()
		v, _ := c.intDivMod(inst.Tag, a, b, inst.Op == vtable.OpSatMod, true)
		f.push(v)

	case vtable.OpAnd:
		b, a := f.pop(), f.pop()
		f.push(binWrap(inst.Tag, a, b, func(x, y uint64) uint64 { return x & y }))
	case vtable.OpOr:
		b, a := f.pop(), f.pop()
		f.push(binWrap(inst.Tag, a, b, func(x, y uint64) uint64 { return x | y }))
	case vtable.OpXor:
		b, a := f.pop(), f.pop()
		f.push(binWrap(inst.Tag, a, b, func(x, y uint64) uint64 { return x ^ y }))
	case vtable.OpShl:
		b, a := f.pop(), f.pop()
		f.push(opShl(inst.Tag, a, b))
	case vtable.OpShr:
		b, a := f.pop(), f.pop()
		f.push(opShr(inst.Tag, a, b))
	case vtable.OpNeg:
		f.push(opNeg(inst.Tag, f.pop()))
	case vtable.OpNot:
		f.push(opNot(inst.Tag, f.pop()))

	case vtable.OpCmpEq, vtable.OpCmpNe, vtable.OpCmpLt, vtable.OpCmpLe, vtable.OpCmpGt, vtable.OpCmpGe:
		b, a := f.pop(), f.pop()
		f.push(rtval.U8(boolU8(compare(inst.Op, inst.Tag, a, b))))

	case vtable.OpGoto:
		f.PC = blockPC[inst.Then]
		jumped = true

	case vtable.OpIf:
		cond := f.pop()
		if cond.Bits() != 0 {
			f.PC = blockPC[inst.Then]
		} else {
			f.PC = blockPC[inst.Else]
		}
		jumped = true

	case vtable.OpSwitch:
		sel := int(f.pop().AsI64())
		target := inst.Default
		if sel >= 0 && sel < len(inst.Targets) {
			target = inst.Targets[sel]
		}
		f.PC = blockPC[target]
		jumped = true

	case vtable.OpReturnVoid:
		v := rtval.Blank
		ret = &v

	case vtable.OpReturn:
		v := f.pop()
		ret = &v

	case vtable.OpConvert:
		f.push(convertValue(f.pop(), inst.Tag))
	case vtable.OpBinaryConvert:
		f.push(binaryConvertValue(f.pop(), inst.Tag))

	case vtable.OpNewObject:
		addr, nerr := c.Heap.NewObject(c.Classes, inst.Class)
		if nerr != nil {
			err = nerr
			return
		}
		f.push(rtval.Ref(addr))

	case vtable.OpGetField:
		obj := f.pop()
		if obj.IsNull() {
			return nil, false, nil, c.throwWellKnown(c.Well.NullPointerException)
		}
		view := inst.Via
		if view == symbol.Null {
			view = inst.Class
		}
		resolved, ok := c.Heap.ResolveView(obj.Addr(), view)
		if !ok {
			err = fmt.Errorf("interp: object has no %d view for field access", view)
			return
		}
		cls, ok := c.Classes.Lookup(view)
		if !ok || inst.Index >= len(cls.Members) {
			err = fmt.Errorf("interp: invalid field index %d on class %d", inst.Index, view)
			return
		}
		f.push(c.Heap.ReadField(resolved, cls.Members[inst.Index]))

	case vtable.OpSetField:
		val := f.pop()
		obj := f.pop()
		if obj.IsNull() {
			return nil, false, nil, c.throwWellKnown(c.Well.NullPointerException)
		}
		view := inst.Via
		if view == symbol.Null {
			view = inst.Class
		}
		resolved, ok := c.Heap.ResolveView(obj.Addr(), view)
		if !ok {
			err = fmt.Errorf("interp: object has no %d view for field access", view)
			return
		}
		cls, ok := c.Classes.Lookup(view)
		if !ok || inst.Index >= len(cls.Members) {
			err = fmt.Errorf("interp: invalid field index %d on class %d", inst.Index, view)
			return
		}
		c.Heap.WriteField(resolved, cls.Members[inst.Index], val)

	case vtable.OpIsA:
		obj := f.pop()
		result := uint8(0)
		if !obj.IsNull() {
			if c.Classes.IsSubclassOf(c.Heap.ClassOf(obj.Addr()), inst.Class) {
				result = 1
			}
		}
		f.push(rtval.U8(result))

	case vtable.OpInvokeStatic:
		args := c.popN(f, inst.Index)
		rec, rerr := c.resolveStatic(inst.Class, inst.Method)
		if rerr != nil {
			err = rerr
			return
		}
		v, ierr := c.invoke(rec, inst.Class, args)
		if ierr != nil {
			err = ierr
			return
		}
		if rec.RetType != rtval.TagBlank {
			f.push(v)
		}

	case vtable.OpInvokeVirt, vtable.OpInvokeVirtTail, vtable.OpInvokeInterface:
		args := c.popN(f, inst.Index)
		recv := f.pop()
		if recv.IsNull() {
			return nil, false, nil, c.throwWellKnown(c.Well.NullPointerException)
		}
		via := inst.Via
		if inst.Op == vtable.OpInvokeInterface && via == symbol.Null {
			via = inst.Class
		}
		rec, actualClass, rerr := c.resolveVirtual(recv.Addr(), inst.Class, via, inst.Method)
		if rerr != nil {
			err = rerr
			return
		}
		full := append([]rtval.Value{recv}, args...)

		if inst.Op == vtable.OpInvokeVirtTail {
			if c.Compile != nil && rec.State() == vtable.SlotBytecodeOnly {
				c.Compile.RequestCompile(rec, rec.ArgTypes, rec.RetType)
			}
			if rec.State() == vtable.SlotBytecodeOnly {
				code, ok := rec.Bytecode()
				if !ok {
					err = fmt.Errorf("interp: bytecode-only method has no bytecode")
					return
				}
				tail = &tailCallRequest{code: code, class: actualClass, args: full}
				return
			}
		}

		v, ierr := c.invoke(rec, actualClass, full)
		if ierr != nil {
			err = ierr
			return
		}
		if rec.RetType != rtval.TagBlank {
			f.push(v)
		}

	case vtable.OpCreateArray:
		length := int(f.pop().AsI64())
		if length < 0 {
			return nil, false, nil, c.throwWellKnown(c.Well.IndexOutOfBoundsException)
		}
		addr, aerr := c.Heap.NewArray(inst.Tag, length)
		if aerr != nil {
			err = aerr
			return
		}
		f.push(rtval.Ref(addr))

	case vtable.OpArrayGet:
		idx := int(f.pop().AsI64())
		arr := f.pop()
		if arr.IsNull() {
			return nil, false, nil, c.throwWellKnown(c.Well.NullPointerException)
		}
		if idx < 0 || idx >= c.Heap.ArrayLen(arr.Addr()) {
			return nil, false, nil, c.throwWellKnown(c.Well.IndexOutOfBoundsException)
		}
		f.push(c.Heap.ArrayGet(arr.Addr(), idx))

	case vtable.OpArraySet:
		val := f.pop()
		idx := int(f.pop().AsI64())
		arr := f.pop()
		if arr.IsNull() {
			return nil, false, nil, c.throwWellKnown(c.Well.NullPointerException)
		}
		if idx < 0 || idx >= c.Heap.ArrayLen(arr.Addr()) {
			return nil, false, nil, c.throwWellKnown(c.Well.IndexOutOfBoundsException)
		}
		c.Heap.ArraySet(arr.Addr(), idx, val)

	default:
		err = fmt.Errorf("interp: unknown opcode %d", inst.Op)
	}
	return
}

func boolU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func compare(op vtable.Op, tag rtval.Tag, a, b rtval.Value) bool {
	if tag.IsFloat() {
		var x, y float64
		if tag == rtval.TagF32 {
			x, y = float64(a.F32()), float64(b.F32())
		} else {
			x, y = a.F64(), b.F64()
		}
		switch op {
		case vtable.OpCmpEq:
			return x == y
		case vtable.OpCmpNe:
			return x != y
		case vtable.OpCmpLt:
			return x < y
		case vtable.OpCmpLe:
			return x <= y
		case vtable.OpCmpGt:
			return x > y
		default:
			return x >= y
		}
	}
	if isSignedTag(tag) {
		x, y := a.AsI64(), b.AsI64()
		switch op {
		case vtable.OpCmpEq:
			return x == y
		case vtable.OpCmpNe:
			return x != y
		case vtable.OpCmpLt:
			return x < y
		case vtable.OpCmpLe:
			return x <= y
		case vtable.OpCmpGt:
			return x > y
		default:
			return x >= y
		}
	}
	x, y := a.Bits(), b.Bits()
	switch op {
	case vtable.OpCmpEq:
		return x == y
	case vtable.OpCmpNe:
		return x != y
	case vtable.OpCmpLt:
		return x < y
	case vtable.OpCmpLe:
		return x <= y
	case vtable.OpCmpGt:
		return x > y
	default:
		return x >= y
	}
}

// intDivMod implements plain and saturating Div/Mod (spec.md §4.2 and
// §8's divide-by-zero boundary behavior: plain Div/Mod throw, SatDiv/
// SatMod return the type's zero value instead). thrown is only ever
// true when sat is false.
func (c *Context) intDivMod(tag rtval.Tag, a, b rtval.Value, mod, sat bool) (rtval.Value, bool) {
	if b.Bits() == 0 {
		if sat {
			return rtval.FromU64(tag, 0), false
		}
		return rtval.Value{}, true
	}
	if isSignedTag(tag) {
		x, y := a.AsI64(), b.AsI64()
		if mod {
			return wrapPack(tag, uint64(x%y)), false
		}
		return wrapPack(tag, uint64(x/y)), false
	}
	x, y := a.Bits(), b.Bits()
	if mod {
		return wrapPack(tag, x%y), false
	}
	return wrapPack(tag, x/y), false
}
