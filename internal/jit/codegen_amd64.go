//go:build amd64

package jit

import (
	"fmt"

	"github.com/rowanvm/rowan/internal/rtval"
	"github.com/rowanvm/rowan/internal/vtable"
)

// maxJITIntArgs bounds the lowerable methods to the SysV register-only
// argument window (spec.md §4.7's five integer argument registers);
// anything wider bails to the interpreter rather than spilling to the
// stack.
const maxJITIntArgs = 5

var sysvArgRegs = [maxJITIntArgs]int{regRSI, regRDX, regRCX, regR8, regR9}

func errUnresolvedBlock(id int) error {
	return fmt.Errorf("jit: block %d referenced but never defined", id)
}

func errUnsupportedOp(op vtable.Op) error {
	return fmt.Errorf("jit: unsupported opcode %d", op)
}

// compile lowers a linear-flow integer bytecode body to native x86-64,
// bailing with an error the moment it meets anything outside the
// supported subset (object/array/dispatch ops, floats, wide argument
// lists, Div/Mod/Sat*/Shl/Shr/Convert). The caller treats a non-nil
// error as "leave this method bytecode-only forever" rather than fatal.
func compile(code *vtable.Bytecode, argTags []rtval.Tag, retTag rtval.Tag) ([]byte, error) {
	if retTag.IsFloat() {
		return nil, fmt.Errorf("jit: float return unsupported")
	}
	if len(argTags) > maxJITIntArgs {
		return nil, fmt.Errorf("jit: too many arguments for register-only lowering")
	}
	for _, t := range argTags {
		if t.IsFloat() {
			return nil, fmt.Errorf("jit: float argument unsupported")
		}
	}

	localsBytes := 8 * code.NumLocals
	argsBytes := 8 * len(argTags)
	frameBytes := localsBytes + argsBytes
	if frameBytes%16 != 0 {
		frameBytes += 8
	}

	localOff := func(i int) int { return 8 * (i + 1) }
	argOff := func(i int) int { return localsBytes + 8*(i+1) }

	a := newAsm()

	// Prologue.
	a.pushR(regRBP)
	a.movRR(regRBP, regRSP)
	if frameBytes > 0 {
		a.subRI(regRSP, int32(frameBytes))
	}
	for i := range argTags {
		if i >= maxJITIntArgs {
			break
		}
		a.storeMem(regRBP, argOff(i), sysvArgRegs[i])
	}

	for pc, inst := range code.Instrs {
		switch inst.Op {
		case vtable.OpNop:
			// no-op

		case vtable.OpStartBlock:
			a.markBlock(inst.Index)

		case vtable.OpLoadU8, vtable.OpLoadU16, vtable.OpLoadU32, vtable.OpLoadU64:
			a.movImm64(regRAX, inst.U64)
			a.pushR(regRAX)

		case vtable.OpLoadI8, vtable.OpLoadI16, vtable.OpLoadI32, vtable.OpLoadI64:
			a.movImm64(regRAX, uint64(inst.I64))
			a.pushR(regRAX)

		case vtable.OpPop:
			a.popR(regRAX)

		case vtable.OpDup:
			a.loadMem(regRAX, regRSP, 0)
			a.pushR(regRAX)

		case vtable.OpSwap:
			a.popR(regRAX)
			a.popR(regRCX)
			a.pushR(regRAX)
			a.pushR(regRCX)

		case vtable.OpLoadLocal:
			a.loadMem(regRAX, regRBP, localOff(inst.Index))
			a.pushR(regRAX)

		case vtable.OpStoreLocal:
			a.popR(regRAX)
			a.storeMem(regRBP, localOff(inst.Index), regRAX)

		case vtable.OpLoadArgument:
			if inst.Index >= maxJITIntArgs {
				return nil, fmt.Errorf("jit: argument index %d out of lowerable range", inst.Index)
			}
			a.loadMem(regRAX, regRBP, argOff(inst.Index))
			a.pushR(regRAX)

		case vtable.OpStoreArgument:
			if inst.Index >= maxJITIntArgs {
				return nil, fmt.Errorf("jit: argument index %d out of lowerable range", inst.Index)
			}
			a.popR(regRAX)
			a.storeMem(regRBP, argOff(inst.Index), regRAX)

		case vtable.OpAdd, vtable.OpSub, vtable.OpMul, vtable.OpAnd, vtable.OpOr, vtable.OpXor:
			a.popR(regRCX) // rhs
			a.popR(regRAX) // lhs
			switch inst.Op {
			case vtable.OpAdd:
				a.addRR(regRAX, regRCX)
			case vtable.OpSub:
				a.subRR(regRAX, regRCX)
			case vtable.OpMul:
				a.imulRR(regRAX, regRCX)
			case vtable.OpAnd:
				a.andRR(regRAX, regRCX)
			case vtable.OpOr:
				a.orRR(regRAX, regRCX)
			case vtable.OpXor:
				a.xorRR(regRAX, regRCX)
			}
			a.pushR(regRAX)

		case vtable.OpCmpEq, vtable.OpCmpNe, vtable.OpCmpLt, vtable.OpCmpLe, vtable.OpCmpGt, vtable.OpCmpGe:
			a.popR(regRCX) // rhs
			a.popR(regRAX) // lhs
			a.cmpRR(regRAX, regRCX)
			cc := byte(0)
			switch inst.Op {
			case vtable.OpCmpEq:
				cc = ccE
			case vtable.OpCmpNe:
				cc = ccNE
			case vtable.OpCmpLt:
				cc = ccL
			case vtable.OpCmpLe:
				cc = ccLE
			case vtable.OpCmpGt:
				cc = ccG
			case vtable.OpCmpGe:
				cc = ccGE
			}
			a.setcc(cc, regRAX)
			a.movzxB(regRAX)
			a.pushR(regRAX)

		case vtable.OpGoto:
			a.jumpToBlock(inst.Then, 0, true)

		case vtable.OpIf:
			a.popR(regRAX)
			a.emitBytes(0x48, 0x85, 0xc0) // test rax, rax
			a.jumpToBlock(inst.Then, ccNE, false)
			a.jumpToBlock(inst.Else, 0, true)

		case vtable.OpReturnVoid:
			a.emitEpilogue(frameBytes)

		case vtable.OpReturn:
			a.popR(regRAX)
			a.emitEpilogue(frameBytes)

		default:
			return nil, errUnsupportedOp(inst.Op)
		}
		_ = pc
	}

	if err := a.resolveFixups(); err != nil {
		return nil, err
	}
	return a.code, nil
}

func (a *asm) emitEpilogue(frameBytes int) {
	if frameBytes > 0 {
		a.addRI(regRSP, int32(frameBytes))
	}
	a.popR(regRBP)
	a.ret()
}

// subRI emits `sub reg, imm32`.
func (a *asm) subRI(reg int, val int32) {
	rex := byte(0x48)
	if reg >= 8 {
		rex |= 0x01
	}
	a.emitBytes(rex, 0x81, byte(0xe8|(reg&7)))
	a.emitU32(uint32(val))
}

// addRI emits `add reg, imm32`.
func (a *asm) addRI(reg int, val int32) {
	rex := byte(0x48)
	if reg >= 8 {
		rex |= 0x01
	}
	a.emitBytes(rex, 0x81, byte(0xc0|(reg&7)))
	a.emitU32(uint32(val))
}
