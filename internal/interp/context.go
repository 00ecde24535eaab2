// Package interp implements the Bytecode Interpreter (C6) and, in
// dispatch.go, the Dispatch Engine (C7) in the same package: the two are
// mutually recursive (interpreting a method can invoke another method,
// and invoking a bytecode-only method means interpreting it), so keeping
// them together avoids a circular import between separate packages.
package interp

import (
	"fmt"

	"github.com/rowanvm/rowan/internal/heap"
	"github.com/rowanvm/rowan/internal/rclass"
	"github.com/rowanvm/rowan/internal/rtrace"
	"github.com/rowanvm/rowan/internal/rtval"
	"github.com/rowanvm/rowan/internal/symbol"
	"github.com/rowanvm/rowan/internal/vtable"
)

// Compiler is the JIT Controller's contract from the interpreter's point
// of view (spec.md §4.6). internal/jit.Controller implements this
// structurally; nothing in this package imports internal/jit, avoiding
// the interpreter/JIT import cycle the teacher's own compiler package
// never had to worry about but this runtime's split into packages does.
type Compiler interface {
	RequestCompile(rec *vtable.FunctionRecord, argTypes []rtval.Tag, retType rtval.Tag)
}

// WellKnown holds the symbols of the handful of VM-defined exception
// classes the interpreter throws directly (null dereference, bounds
// failure). Populated by cmd/rowan after linking, once the builtin
// class names are known.
type WellKnown struct {
	NullPointerException      symbol.Symbol
	IndexOutOfBoundsException symbol.Symbol
	ClassCastException        symbol.Symbol

	// DivideByZeroException is not named by spec.md's well-known
	// exception list, but plain Div/Mod are required to throw on a zero
	// divisor; cmd/rowan resolves this from the builtin exception
	// hierarchy alongside the other three.
	DivideByZeroException symbol.Symbol
}

// Frame is one call's execution state: spec.md §4.2's "operand stack, a
// register file of... arguments and locals, and a program counter".
type Frame struct {
	Code  *vtable.Bytecode
	PC    int
	Args  []rtval.Value
	Local []rtval.Value
	Stack []rtval.Value
	Class symbol.Symbol // the class that declared this method, for GetField/SetField's implicit C
}

func newFrame(code *vtable.Bytecode, class symbol.Symbol, args []rtval.Value) *Frame {
	locals := make([]rtval.Value, code.NumLocals)
	for i := range locals {
		locals[i] = rtval.Blank
	}
	return &Frame{
		Code:  code,
		Args:  args,
		Local: locals,
		Stack: make([]rtval.Value, 0, code.MaxOperand+4),
		Class: class,
	}
}

func (f *Frame) push(v rtval.Value) { f.Stack = append(f.Stack, v) }

func (f *Frame) pop() rtval.Value {
	n := len(f.Stack)
	v := f.Stack[n-1]
	f.Stack = f.Stack[:n-1]
	return v
}

func (f *Frame) peek() rtval.Value { return f.Stack[len(f.Stack)-1] }

// Context is spec.md's "per-thread Interpreter context": the GC root
// provider, the linked tables it dispatches against, and the frame
// stack of the call in progress on this goroutine.
type Context struct {
	Syms    *symbol.Table
	Classes *rclass.Registry
	Store   *vtable.Store
	Heap    *heap.Heap
	GC      *heap.GC
	Compile Compiler
	Well    WellKnown

	frames []*Frame
}

// NewContext constructs a per-thread context and registers it with the
// collector as a live mutator (spec.md §4.4's live-thread counter).
func NewContext(syms *symbol.Table, classes *rclass.Registry, store *vtable.Store, h *heap.Heap, gc *heap.GC, compiler Compiler, well WellKnown) *Context {
	ctx := &Context{Syms: syms, Classes: classes, Store: store, Heap: h, GC: gc, Compile: compiler, Well: well}
	gc.RegisterThread()
	return ctx
}

// Close unregisters this context's thread from the collector. Call once
// when the owning goroutine is done making calls.
func (c *Context) Close() { c.GC.UnregisterThread() }

// Roots implements heap.RootProvider: every object reference reachable
// from this thread's live frames (operand stack, locals, arguments),
// spec.md §4.4's "operand stacks, frame locals, thread-local
// references".
func (c *Context) Roots() []uint64 {
	var roots []uint64
	for _, f := range c.frames {
		for _, v := range f.Stack {
			if v.Tag == rtval.TagObject && !v.IsNull() {
				roots = append(roots, v.Addr())
			}
		}
		for _, v := range f.Local {
			if v.Tag == rtval.TagObject && !v.IsNull() {
				roots = append(roots, v.Addr())
			}
		}
		for _, v := range f.Args {
			if v.Tag == rtval.TagObject && !v.IsNull() {
				roots = append(roots, v.Addr())
			}
		}
	}
	return roots
}

// ThrownException is a managed exception object propagating up the Go
// call stack between frames, per spec.md §4.2/§7: "unwound through the
// frame stack until a handler is found... unhandled at the thread root,
// the thread prints message + backtrace and terminates."
type ThrownException struct {
	Addr   uint64
	Class  symbol.Symbol
	Frames []rtrace.Frame
}

func (e *ThrownException) Error() string {
	return fmt.Sprintf("unhandled exception (class %d)", e.Class)
}

// Invoke runs rec against args on this context, interpreting,
// JIT-compiled-calling, or builtin/native-calling as its callable slot
// dictates (the Dispatch Engine's step 3/4, spec.md §4.3).
func (c *Context) Invoke(rec *vtable.FunctionRecord, owner symbol.Symbol, args []rtval.Value) (rtval.Value, error) {
	return c.invoke(rec, owner, args)
}
