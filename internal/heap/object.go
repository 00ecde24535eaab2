package heap

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/rowanvm/rowan/internal/rclass"
	"github.com/rowanvm/rowan/internal/rtval"
	"github.com/rowanvm/rowan/internal/symbol"
)

// Object headers and array headers share a 16-byte layout, matching the
// binary-field-reading idiom the pack's saferwall-pe uses throughout
// (encoding/binary.LittleEndian over raw byte slices) rather than Go
// struct overlays:
//
//	offset 0: kind byte (kindObject | kindArray)
//	offset 1: elemTag byte (array only)
//	offset 2: 2 bytes padding
//	offset 4: class symbol (object) | element count (array), uint32
//	offset 8: parent-object address (object) | reserved (array), uint64
//	offset 16: inline member bytes (object) | element bytes (array)
const (
	offKind     = 0
	offElemTag  = 1
	offClassOrN = 4
	offParent   = 8
)

const (
	kindObject byte = 0
	kindArray  byte = 1
)

// NewObject allocates an instance of class, plus one parent-chain
// instance per ancestor (spec.md §4.4: "recursively constructs parent
// objects"), and returns the address of the leaf (most-derived)
// instance.
func (h *Heap) NewObject(reg *rclass.Registry, classSym symbol.Symbol) (uint64, error) {
	class, ok := reg.Lookup(classSym)
	if !ok {
		return 0, fmt.Errorf("heap: unknown class %d", classSym)
	}
	var parentAddr uint64
	if class.Parent != symbol.Null {
		var err error
		parentAddr, err = h.NewObject(reg, class.Parent)
		if err != nil {
			return 0, err
		}
	}
	size := headerSize + class.DataSize
	addr, err := h.alloc(size)
	if err != nil {
		return 0, err
	}
	hdr := h.bytes(addr, headerSize)
	hdr[offKind] = kindObject
	binary.LittleEndian.PutUint32(hdr[offClassOrN:], uint32(classSym))
	binary.LittleEndian.PutUint64(hdr[offParent:], parentAddr)
	return addr, nil
}

// ClassOf returns the class symbol of an object at addr. It does not
// check the header kind: for an array header it returns the element
// count read as a symbol, so callers check IsArray first.
func (h *Heap) ClassOf(addr uint64) symbol.Symbol {
	hdr := h.bytes(addr, headerSize)
	return symbol.Symbol(binary.LittleEndian.Uint32(hdr[offClassOrN:]))
}

// ParentOf returns the immediate parent-instance address, or 0 if addr
// is the root of its chain.
func (h *Heap) ParentOf(addr uint64) uint64 {
	hdr := h.bytes(addr, headerSize)
	return binary.LittleEndian.Uint64(hdr[offParent:])
}

// IsArray reports whether addr is an array header.
func (h *Heap) IsArray(addr uint64) bool {
	return h.bytes(addr, 1)[0] == kindArray
}

// ResolveView walks addr's parent chain (including addr itself) to find
// the instance whose own class equals target, implementing spec.md
// §4.2's GetField addressing: "descend via the chain of parent objects
// whose own class equals V".
func (h *Heap) ResolveView(addr uint64, target symbol.Symbol) (uint64, bool) {
	cur := addr
	for cur != 0 {
		if h.ClassOf(cur) == target {
			return cur, true
		}
		cur = h.ParentOf(cur)
	}
	return 0, false
}

// ReadField reads member m's value out of the instance at addr (addr
// must already be the resolved view whose own class declares m).
func (h *Heap) ReadField(addr uint64, m rclass.Member) rtval.Value {
	off := addr + headerSize + uint64(m.Offset)
	switch m.Type {
	case rtval.TagU8:
		return rtval.U8(h.bytes(off, 1)[0])
	case rtval.TagI8:
		return rtval.I8(int8(h.bytes(off, 1)[0]))
	case rtval.TagU16:
		return rtval.U16(binary.LittleEndian.Uint16(h.bytes(off, 2)))
	case rtval.TagI16:
		return rtval.I16(int16(binary.LittleEndian.Uint16(h.bytes(off, 2))))
	case rtval.TagU32:
		return rtval.U32(binary.LittleEndian.Uint32(h.bytes(off, 4)))
	case rtval.TagI32:
		return rtval.I32(int32(binary.LittleEndian.Uint32(h.bytes(off, 4))))
	case rtval.TagF32:
		bits := binary.LittleEndian.Uint32(h.bytes(off, 4))
		return rtval.FromU64(rtval.TagF32, uint64(bits))
	case rtval.TagU64, rtval.TagObject:
		v := binary.LittleEndian.Uint64(h.bytes(off, 8))
		if m.Type == rtval.TagObject {
			return rtval.Ref(v)
		}
		return rtval.U64(v)
	case rtval.TagI64:
		return rtval.I64(int64(binary.LittleEndian.Uint64(h.bytes(off, 8))))
	case rtval.TagF64:
		bits := binary.LittleEndian.Uint64(h.bytes(off, 8))
		return rtval.FromU64(rtval.TagF64, bits)
	case rtval.TagStr:
		return rtval.Str(binary.LittleEndian.Uint32(h.bytes(off, 4)))
	default:
		return rtval.Blank
	}
}

// WriteField stores v into member m of the instance at addr.
func (h *Heap) WriteField(addr uint64, m rclass.Member, v rtval.Value) {
	off := addr + headerSize + uint64(m.Offset)
	switch m.Type {
	case rtval.TagU8, rtval.TagI8:
		h.bytes(off, 1)[0] = byte(v.Bits())
	case rtval.TagU16, rtval.TagI16:
		binary.LittleEndian.PutUint16(h.bytes(off, 2), uint16(v.Bits()))
	case rtval.TagU32, rtval.TagI32, rtval.TagF32:
		binary.LittleEndian.PutUint32(h.bytes(off, 4), uint32(v.Bits()))
	case rtval.TagU64, rtval.TagI64, rtval.TagF64, rtval.TagObject:
		binary.LittleEndian.PutUint64(h.bytes(off, 8), v.Bits())
	case rtval.TagStr:
		binary.LittleEndian.PutUint32(h.bytes(off, 4), uint32(v.Bits()))
	}
}

// === Arrays ===

// NewArray allocates a homogeneous array of elemTag elements, spec.md
// §4.2's CreateArray / §4.8's new_array FFI entry point.
func (h *Heap) NewArray(elemTag rtval.Tag, length int) (uint64, error) {
	elemSize := elemTag.Size()
	if elemSize == 0 {
		elemSize = 8
	}
	size := headerSize + elemSize*length
	addr, err := h.alloc(size)
	if err != nil {
		return 0, err
	}
	hdr := h.bytes(addr, headerSize)
	hdr[offKind] = kindArray
	hdr[offElemTag] = byte(elemTag)
	binary.LittleEndian.PutUint32(hdr[offClassOrN:], uint32(length))
	return addr, nil
}

// ArrayLen returns an array's element count.
func (h *Heap) ArrayLen(addr uint64) int {
	hdr := h.bytes(addr, headerSize)
	return int(binary.LittleEndian.Uint32(hdr[offClassOrN:]))
}

// ArrayElemTag returns an array's element type tag.
func (h *Heap) ArrayElemTag(addr uint64) rtval.Tag {
	return rtval.Tag(h.bytes(addr, headerSize)[offElemTag])
}

// ArrayGet reads element i. Caller must bounds-check (spec.md §4.2:
// out-of-bounds throws IndexOutOfBounds, not a Go panic).
func (h *Heap) ArrayGet(addr uint64, i int) rtval.Value {
	tag := h.ArrayElemTag(addr)
	elemSize := tag.Size()
	if elemSize == 0 {
		elemSize = 8
	}
	off := addr + headerSize + uint64(i*elemSize)
	switch tag {
	case rtval.TagU8, rtval.TagI8:
		b := h.bytes(off, 1)[0]
		if tag == rtval.TagI8 {
			return rtval.I8(int8(b))
		}
		return rtval.U8(b)
	case rtval.TagU16, rtval.TagI16:
		u := binary.LittleEndian.Uint16(h.bytes(off, 2))
		if tag == rtval.TagI16 {
			return rtval.I16(int16(u))
		}
		return rtval.U16(u)
	case rtval.TagU32, rtval.TagI32, rtval.TagF32:
		u := binary.LittleEndian.Uint32(h.bytes(off, 4))
		switch tag {
		case rtval.TagI32:
			return rtval.I32(int32(u))
		case rtval.TagF32:
			return rtval.FromU64(rtval.TagF32, uint64(u))
		default:
			return rtval.U32(u)
		}
	case rtval.TagU64, rtval.TagI64, rtval.TagF64, rtval.TagObject:
		u := binary.LittleEndian.Uint64(h.bytes(off, 8))
		switch tag {
		case rtval.TagI64:
			return rtval.I64(int64(u))
		case rtval.TagF64:
			return rtval.FromU64(rtval.TagF64, u)
		case rtval.TagObject:
			return rtval.Ref(u)
		default:
			return rtval.U64(u)
		}
	default:
		return rtval.Blank
	}
}

// BufferPointer returns a raw pointer to an array's inline element bytes
// plus their length, for the FFI Surface's get_array_buffer/
// get_string_buffer (spec.md §4.8). The pointer is the address of the
// first element byte in the arena slice, so no uintptr is converted back
// into a pointer; an empty array yields (nil, 0).
func (h *Heap) BufferPointer(addr uint64) (unsafe.Pointer, int) {
	n := h.ArrayLen(addr)
	elem := h.ArrayElemTag(addr)
	elemSize := elem.Size()
	if elemSize == 0 {
		elemSize = 8
	}
	start := addr + headerSize
	buf := h.bytes(start, n*elemSize)
	if len(buf) == 0 {
		return nil, 0
	}
	return unsafe.Pointer(&buf[0]), len(buf)
}

// ArraySet writes element i.
func (h *Heap) ArraySet(addr uint64, i int, v rtval.Value) {
	tag := h.ArrayElemTag(addr)
	elemSize := tag.Size()
	if elemSize == 0 {
		elemSize = 8
	}
	off := addr + headerSize + uint64(i*elemSize)
	switch elemSize {
	case 1:
		h.bytes(off, 1)[0] = byte(v.Bits())
	case 2:
		binary.LittleEndian.PutUint16(h.bytes(off, 2), uint16(v.Bits()))
	case 4:
		binary.LittleEndian.PutUint32(h.bytes(off, 4), uint32(v.Bits()))
	default:
		binary.LittleEndian.PutUint64(h.bytes(off, 8), v.Bits())
	}
}
