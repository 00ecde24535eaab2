//go:build cgo

package ffi

/*
#include <stdint.h>

// rowan_value is the C-ABI shape of an rtval.Value crossing the FFI
// boundary: a type tag plus its raw 64-bit bit pattern, matching how the
// interpreter's own Value is carried internally (rtval.Value.Bits).
typedef struct {
	uint8_t tag;
	uint64_t bits;
} rowan_value;
*/
import "C"

import (
	"unsafe"

	"github.com/rowanvm/rowan/internal/rtval"
)

func goValue(v C.rowan_value) rtval.Value {
	return rtval.FromU64(rtval.Tag(v.tag), uint64(v.bits))
}

func cValue(v rtval.Value) C.rowan_value {
	return C.rowan_value{tag: C.uint8_t(v.Tag), bits: C.uint64_t(v.Bits())}
}

func goValues(ptr *C.rowan_value, n C.int) []rtval.Value {
	if n == 0 {
		return nil
	}
	raw := unsafe.Slice(ptr, int(n))
	out := make([]rtval.Value, n)
	for i, v := range raw {
		out[i] = goValue(v)
	}
	return out
}

//export rowan_new_object
func rowan_new_object(ctx C.uintptr_t, className *C.char) C.uint64_t {
	addr, err := NewObject(uintptr(ctx), C.GoString(className))
	if err != nil {
		return 0
	}
	return C.uint64_t(addr)
}

//export rowan_new_array
func rowan_new_array(ctx C.uintptr_t, elemTag *C.char, length C.int64_t) C.uint64_t {
	addr, err := NewArray(uintptr(ctx), C.GoString(elemTag), int(length))
	if err != nil {
		return 0
	}
	return C.uint64_t(addr)
}

//export rowan_get_array_buffer
func rowan_get_array_buffer(ctx C.uintptr_t, ref C.uint64_t, outPtr *unsafe.Pointer, outLen *C.int64_t) C.int {
	ptr, n := GetArrayBuffer(uintptr(ctx), uint64(ref))
	*outPtr = ptr
	*outLen = C.int64_t(n)
	return C.int(StatusOK)
}

//export rowan_block_collection
func rowan_block_collection(ctx C.uintptr_t, ref C.uint64_t) {
	BlockCollection(uintptr(ctx), uint64(ref))
}

//export rowan_allow_collection
func rowan_allow_collection(ctx C.uintptr_t, ref C.uint64_t) {
	AllowCollection(uintptr(ctx), uint64(ref))
}

//export rowan_create_string_buffer
func rowan_create_string_buffer(ctx C.uintptr_t, utf8 *C.char, length C.int64_t) C.uint64_t {
	s := C.GoStringN(utf8, C.int(length))
	addr, err := CreateStringBuffer(uintptr(ctx), s)
	if err != nil {
		return 0
	}
	return C.uint64_t(addr)
}

//export rowan_get_string_buffer
func rowan_get_string_buffer(ctx C.uintptr_t, ref C.uint64_t, outPtr *unsafe.Pointer, outLen *C.int64_t) C.int {
	ptr, n := GetStringBuffer(uintptr(ctx), uint64(ref))
	*outPtr = ptr
	*outLen = C.int64_t(n)
	return C.int(StatusOK)
}

//export rowan_call_virtual
func rowan_call_virtual(ctx C.uintptr_t, classUtf8, methodUtf8 *C.char, receiver C.uint64_t, args *C.rowan_value, nargs C.int, outRet *C.rowan_value) C.int {
	ret, status := Call(uintptr(ctx), C.GoString(classUtf8), C.GoString(methodUtf8), uint64(receiver), goValues(args, nargs))
	if status == StatusOK {
		*outRet = cValue(ret)
	}
	return C.int(status)
}

//export rowan_call_interface
func rowan_call_interface(ctx C.uintptr_t, ifaceUtf8, methodUtf8 *C.char, receiver C.uint64_t, args *C.rowan_value, nargs C.int, outRet *C.rowan_value) C.int {
	// call_interface resolves against an interface-named vtable view
	// rather than a class-named one; Call's viewName resolution already
	// accepts either (lookupClass falls back to LookupInterface).
	ret, status := Call(uintptr(ctx), C.GoString(ifaceUtf8), C.GoString(methodUtf8), uint64(receiver), goValues(args, nargs))
	if status == StatusOK {
		*outRet = cValue(ret)
	}
	return C.int(status)
}

//export rowan_call_static
func rowan_call_static(ctx C.uintptr_t, classUtf8, methodUtf8 *C.char, args *C.rowan_value, nargs C.int, outRet *C.rowan_value) C.int {
	ret, status := CallStatic(uintptr(ctx), C.GoString(classUtf8), C.GoString(methodUtf8), goValues(args, nargs))
	if status == StatusOK {
		*outRet = cValue(ret)
	}
	return C.int(status)
}

//export rowan_set_object_field
func rowan_set_object_field(ctx C.uintptr_t, ref C.uint64_t, field *C.char, value C.rowan_value) C.int {
	return C.int(SetObjectField(uintptr(ctx), uint64(ref), C.GoString(field), goValue(value)))
}

//export rowan_get_object_field
func rowan_get_object_field(ctx C.uintptr_t, ref C.uint64_t, field *C.char, outValue *C.rowan_value) C.int {
	v, status := GetObjectField(uintptr(ctx), uint64(ref), C.GoString(field))
	if status == StatusOK {
		*outValue = cValue(v)
	}
	return C.int(status)
}

//export rowan_is_a
func rowan_is_a(ctx C.uintptr_t, ref C.uint64_t, className *C.char, outResult *C.int) C.int {
	result, ok := IsA(uintptr(ctx), uint64(ref), C.GoString(className))
	if !ok {
		return C.int(StatusUnknown)
	}
	if result {
		*outResult = 1
	} else {
		*outResult = 0
	}
	return C.int(StatusOK)
}
