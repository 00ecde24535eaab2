// Package linker implements the Linker (C4): the Class Registry/VTable
// Store/Heap boundary consumes symbol.Symbol-addressed tables and
// rtval-tagged literal values, while classfile.File exchanges local,
// per-file string-table indices (spec.md §6). This package is the
// translation point between the two, plus vtable composition and the
// class-load initializer pass.
package linker

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/rowanvm/rowan/internal/rtval"
	"github.com/rowanvm/rowan/internal/symbol"
	"github.com/rowanvm/rowan/internal/vtable"
)

// encodeBytecode serializes code into the linker's private on-disk
// instruction format, translating every symbol-shaped field from a
// global symbol.Symbol to a local index via toLocal (the inverse of
// decodeBytecode's remap). Nothing in this repository calls it; producing
// the on-disk form is otherwise a compiler front-end's job.
func encodeBytecode(code *vtable.Bytecode, toLocal func(symbol.Symbol) uint32) []byte {
	var buf []byte
	buf = appendU32(buf, uint32(code.MaxOperand))
	buf = appendU32(buf, uint32(code.NumLocals))
	buf = appendU32(buf, uint32(len(code.Instrs)))
	for _, inst := range code.Instrs {
		buf = append(buf, byte(inst.Op))
		buf = appendU32(buf, toLocal(inst.Class))
		buf = appendU32(buf, toLocal(inst.Via))
		buf = appendU32(buf, toLocal(inst.Method))
		buf = appendU32(buf, uint32(int32(inst.Index)))
		buf = appendU64(buf, inst.U64)
		buf = appendU64(buf, uint64(inst.I64))
		buf = appendU64(buf, math.Float64bits(inst.F64))
		buf = append(buf, byte(inst.Tag))
		buf = appendU32(buf, uint32(int32(inst.Then)))
		buf = appendU32(buf, uint32(int32(inst.Else)))
		buf = appendU32(buf, uint32(int32(inst.Default)))
		buf = appendU16(buf, uint16(len(inst.Targets)))
		for _, t := range inst.Targets {
			buf = appendU32(buf, uint32(int32(t)))
		}
	}
	buf = appendU32(buf, uint32(len(code.Handlers)))
	for _, h := range code.Handlers {
		buf = appendU32(buf, uint32(h.Start))
		buf = appendU32(buf, uint32(h.End))
		buf = appendU32(buf, uint32(h.HandlerPC))
		buf = appendU32(buf, toLocal(h.ClassFilter))
	}
	return buf
}

// decodeBytecode parses the linker's private instruction format out of
// raw, translating every symbol-shaped field from a file-local index to
// a global symbol.Symbol via remap.
func decodeBytecode(raw []byte, remap []symbol.Symbol) (*vtable.Bytecode, error) {
	c := &bcCursor{data: raw}
	code := &vtable.Bytecode{
		MaxOperand: int(c.u32()),
		NumLocals:  int(c.u32()),
	}
	numInstrs := int(c.u32())
	code.Instrs = make([]vtable.Inst, numInstrs)
	toSym := func(idx uint32) symbol.Symbol {
		if int(idx) >= len(remap) {
			return symbol.Null
		}
		return remap[idx]
	}
	for i := 0; i < numInstrs; i++ {
		inst := vtable.Inst{
			Op:     vtable.Op(c.u8()),
			Class:  toSym(c.u32()),
			Via:    toSym(c.u32()),
			Method: toSym(c.u32()),
			Index:  int(int32(c.u32())),
			U64:    c.u64(),
			I64:    int64(c.u64()),
			F64:    math.Float64frombits(c.u64()),
			Tag:    rtval.Tag(c.u8()),
			Then:   int(int32(c.u32())),
			Else:   int(int32(c.u32())),
		}
		inst.Default = int(int32(c.u32()))
		numTargets := int(c.u16())
		if numTargets > 0 {
			inst.Targets = make([]int, numTargets)
			for j := range inst.Targets {
				inst.Targets[j] = int(int32(c.u32()))
			}
		}
		code.Instrs[i] = inst
	}
	numHandlers := int(c.u32())
	code.Handlers = make([]vtable.HandlerRange, numHandlers)
	for i := range code.Handlers {
		code.Handlers[i] = vtable.HandlerRange{
			Start:       int(c.u32()),
			End:         int(c.u32()),
			HandlerPC:   int(c.u32()),
			ClassFilter: toSym(c.u32()),
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return code, nil
}

type bcCursor struct {
	data []byte
	pos  int
	err  error
}

func (c *bcCursor) need(n int) bool {
	if c.err != nil {
		return false
	}
	if c.pos+n > len(c.data) {
		c.err = fmt.Errorf("linker: truncated bytecode at offset %d, need %d more bytes", c.pos, n)
		return false
	}
	return true
}

func (c *bcCursor) u8() uint8 {
	if !c.need(1) {
		return 0
	}
	v := c.data[c.pos]
	c.pos++
	return v
}

func (c *bcCursor) u16() uint16 {
	if !c.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(c.data[c.pos:])
	c.pos += 2
	return v
}

func (c *bcCursor) u32() uint32 {
	if !c.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(c.data[c.pos:])
	c.pos += 4
	return v
}

func (c *bcCursor) u64() uint64 {
	if !c.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(c.data[c.pos:])
	c.pos += 8
	return v
}

func appendU16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}
