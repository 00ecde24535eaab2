//go:build amd64

package jit

// Minimal x86-64 mnemonic-level encoder, adapted from the teacher's
// compiler/x64.go assembler down to the handful of instructions the
// bytecode-to-native lowering in codegen_amd64.go actually emits.

const (
	regRAX = 0
	regRCX = 1
	regRDX = 2
	regRBX = 3
	regRSP = 4
	regRBP = 5
	regRSI = 6
	regRDI = 7
	regR8  = 8
	regR9  = 9
)

const (
	ccE  = 0x84
	ccNE = 0x85
	ccL  = 0x8C
	ccGE = 0x8D
	ccLE = 0x8E
	ccG  = 0x8F
)

// asm accumulates machine code bytes plus the forward-jump fixups needed
// to resolve block targets that appear later in the instruction stream.
type asm struct {
	code   []byte
	blocks map[int]int // block id -> code offset, once reached
	fixups []asmFixup
}

type asmFixup struct {
	codeOffset int
	block      int
}

func newAsm() *asm {
	return &asm{blocks: make(map[int]int)}
}

func (a *asm) emitByte(b byte)          { a.code = append(a.code, b) }
func (a *asm) emitBytes(bs ...byte)     { a.code = append(a.code, bs...) }
func (a *asm) emitU32(v uint32) {
	a.code = append(a.code, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
func (a *asm) emitU64(v uint64) {
	a.emitU32(uint32(v))
	a.emitU32(uint32(v >> 32))
}

// movImm64 emits `movabs reg, imm64`.
func (a *asm) movImm64(reg int, val uint64) {
	rex := byte(0x48)
	if reg >= 8 {
		rex = 0x49
	}
	a.emitByte(rex)
	a.emitByte(byte(0xb8 + (reg & 7)))
	a.emitU64(val)
}

// loadMem emits `mov reg, [base - offset]` (our frame slots are all
// negative rbp-relative offsets, mirroring the teacher's emitLoadLocal).
func (a *asm) loadMem(reg, base, offset int) {
	a.memOp(0x8b, reg, base, offset)
}

// storeMem emits `mov [base - offset], reg`.
func (a *asm) storeMem(base, offset, reg int) {
	a.memOp(0x89, reg, base, offset)
}

func (a *asm) memOp(opcode byte, reg, base, offset int) {
	rex := byte(0x48)
	if reg >= 8 {
		rex |= 0x04
	}
	if base >= 8 {
		rex |= 0x01
	}
	neg := -offset
	needsSIB := base&7 == 4 // RSP/R12 as a base always needs a SIB byte
	mod := byte(0x40)       // disp8
	if neg < -128 || neg > 127 {
		mod = 0x80 // disp32
	}
	rm := byte(base) & 7
	if needsSIB {
		rm = 4
	}
	modrm := mod | ((byte(reg) & 7) << 3) | rm
	a.emitBytes(rex, opcode, modrm)
	if needsSIB {
		a.emitByte(0x24) // scale=0, index=none, base=rsp/r12
	}
	if mod == 0x40 {
		a.emitByte(byte(neg))
	} else {
		a.emitU32(uint32(int32(neg)))
	}
}

func (a *asm) pushR(reg int) {
	if reg >= 8 {
		a.emitBytes(0x41, byte(0x50+(reg&7)))
	} else {
		a.emitByte(byte(0x50 + reg))
	}
}

func (a *asm) popR(reg int) {
	if reg >= 8 {
		a.emitBytes(0x41, byte(0x58+(reg&7)))
	} else {
		a.emitByte(byte(0x58 + reg))
	}
}

func rexRR(dst, src int) byte {
	rex := byte(0x48)
	if dst >= 8 {
		rex |= 0x04
	}
	if src >= 8 {
		rex |= 0x01
	}
	return rex
}

func modrmRR(dst, src int) byte {
	return byte(0xc0 | ((dst & 7) << 3) | (src & 7))
}

func (a *asm) movRR(dst, src int) { a.emitBytes(rexRR(src, dst), 0x89, modrmRR(src, dst)) }
func (a *asm) addRR(dst, src int) { a.emitBytes(rexRR(src, dst), 0x01, modrmRR(src, dst)) }
func (a *asm) subRR(dst, src int) { a.emitBytes(rexRR(src, dst), 0x29, modrmRR(src, dst)) }
func (a *asm) andRR(dst, src int) { a.emitBytes(rexRR(src, dst), 0x21, modrmRR(src, dst)) }
func (a *asm) orRR(dst, src int)  { a.emitBytes(rexRR(src, dst), 0x09, modrmRR(src, dst)) }
func (a *asm) xorRR(dst, src int) { a.emitBytes(rexRR(src, dst), 0x31, modrmRR(src, dst)) }
func (a *asm) cmpRR(x, y int)     { a.emitBytes(rexRR(y, x), 0x39, modrmRR(y, x)) }
func (a *asm) imulRR(dst, src int) {
	a.emitBytes(rexRR(dst, src), 0x0f, 0xaf, modrmRR(dst, src))
}

func (a *asm) setcc(cc byte, reg int) {
	op := byte(0x90 | (cc & 0x0f))
	if reg >= 8 {
		a.emitBytes(0x41, 0x0f, op, byte(0xc0|(reg&7)))
	} else {
		a.emitBytes(0x0f, op, byte(0xc0|(reg&7)))
	}
}

func (a *asm) movzxB(reg int) {
	a.emitBytes(rexRR(reg, reg), 0x0f, 0xb6, modrmRR(reg, reg))
}

// jmpRel32 emits `jmp rel32`, returning the fixup offset.
func (a *asm) jmpRel32() int {
	a.emitByte(0xe9)
	off := len(a.code)
	a.emitU32(0)
	return off
}

// jccRel32 emits `jCC rel32`, returning the fixup offset.
func (a *asm) jccRel32(cc byte) int {
	a.emitBytes(0x0f, cc)
	off := len(a.code)
	a.emitU32(0)
	return off
}

func (a *asm) patchRel32(fixupOff, targetOff int) {
	rel := int32(targetOff - (fixupOff + 4))
	a.code[fixupOff] = byte(rel)
	a.code[fixupOff+1] = byte(rel >> 8)
	a.code[fixupOff+2] = byte(rel >> 16)
	a.code[fixupOff+3] = byte(rel >> 24)
}

// markBlock records that block id starts at the current code offset.
func (a *asm) markBlock(id int) { a.blocks[id] = len(a.code) }

// jumpToBlock emits a jmp/jcc whose target may not have been emitted
// yet; resolved immediately if the block already exists (backward
// branch / loop), otherwise queued as a fixup for resolveFixups.
func (a *asm) jumpToBlock(block int, cc byte, isUnconditional bool) {
	var fixupOff int
	if isUnconditional {
		fixupOff = a.jmpRel32()
	} else {
		fixupOff = a.jccRel32(cc)
	}
	if target, ok := a.blocks[block]; ok {
		a.patchRel32(fixupOff, target)
		return
	}
	a.fixups = append(a.fixups, asmFixup{codeOffset: fixupOff, block: block})
}

// resolveFixups patches every forward reference recorded during
// emission. Returns an error if the verifier-trusted bytecode somehow
// referenced a block id that was never marked.
func (a *asm) resolveFixups() error {
	for _, f := range a.fixups {
		target, ok := a.blocks[f.block]
		if !ok {
			return errUnresolvedBlock(f.block)
		}
		a.patchRel32(f.codeOffset, target)
	}
	return nil
}

func (a *asm) ret() { a.emitByte(0xc3) }
