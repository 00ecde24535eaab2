package linker

import (
	"fmt"

	"github.com/rowanvm/rowan/internal/classfile"
	"github.com/rowanvm/rowan/internal/heap"
	"github.com/rowanvm/rowan/internal/interp"
	"github.com/rowanvm/rowan/internal/rclass"
	"github.com/rowanvm/rowan/internal/rtval"
	"github.com/rowanvm/rowan/internal/symbol"
	"github.com/rowanvm/rowan/internal/vtable"
)

// initBytecodeMethodName is the reserved vtable-entry method name a
// class file uses to carry its class-load initializer: the classfile
// format has no separate init_bytecode slot, so the Linker recognizes
// this name instead of adding it as an ordinary callable method.
const initBytecodeMethodName = "<clinit>"

// MemberDesc describes one builtin class's inline member.
type MemberDesc struct {
	Name     string
	Tag      rtval.Tag
	SizedLen int
}

// MethodDesc describes one builtin method slot. A nil Fn produces a
// blank (abstract) slot, for builtin interfaces.
type MethodDesc struct {
	Name string
	Args []rtval.Tag
	Ret  rtval.Tag
	Fn   vtable.BuiltinFunc
}

// BuiltinClassDesc describes one VM-provided class or interface in terms
// the Linker can compose without internal/builtin needing to touch
// rclass/vtable/symbol itself. Callers must list builtins parent-before-
// child; Load does not topologically sort them the way it does classfile
// input, since the VM's own class hierarchy is fixed and small.
type BuiltinClassDesc struct {
	Name          string
	Parent        string
	IsInterface   bool
	Implements    []string
	Members       []MemberDesc
	Methods       []MethodDesc
	StaticMethods []MethodDesc
	Finalizer     rclass.FinalizerFunc
}

// Result is everything cmd/rowan needs to construct an interp.Context
// after linking.
type Result struct {
	Syms    *symbol.Table
	Classes *rclass.Registry
	Store   *vtable.Store
}

// Load implements the Linker (C4): interns every class name first (the
// pre-class table pass spec.md §4.1 requires so forward references
// between files resolve), then composes vtables and member layouts in
// parent-before-child order, then runs each class's init_bytecode once
// in that same order (spec.md §4.1 step 5). h and gc back any
// allocation init_bytecode performs; a nil compiler is fine, since
// init_bytecode falls back to direct interpretation of bytecode-only
// methods.
func Load(builtins []BuiltinClassDesc, files []*classfile.File, h *heap.Heap, gc *heap.GC, compiler interp.Compiler) (*Result, error) {
	syms := symbol.New()
	classes := rclass.NewRegistry()
	store := vtable.NewStore()
	gc.BindRegistry(classes)

	l := &linker{syms: syms, classes: classes, store: store}

	if err := l.preallocateBuiltinNames(builtins); err != nil {
		return nil, err
	}
	fileNameSyms, err := l.preallocateFileNames(files)
	if err != nil {
		return nil, err
	}

	for i := range builtins {
		if err := l.composeBuiltin(&builtins[i]); err != nil {
			return nil, fmt.Errorf("linker: builtin %q: %w", builtins[i].Name, err)
		}
	}

	order, err := topoSortFiles(files, fileNameSyms, syms)
	if err != nil {
		return nil, err
	}
	for _, idx := range order {
		if err := l.composeFile(files[idx]); err != nil {
			return nil, fmt.Errorf("linker: file %d: %w", idx, err)
		}
	}

	ctx := interp.NewContext(syms, classes, store, h, gc, compiler, interp.WellKnown{})
	defer ctx.Close()
	for _, classSym := range classes.Order() {
		cls, _ := classes.Lookup(classSym)
		if cls.InitBytecode == nil {
			continue
		}
		rec := vtable.NewBytecodeOnly(symbol.Null, nil, rtval.TagBlank, cls.InitBytecode)
		if _, err := ctx.Invoke(rec, classSym, nil); err != nil {
			return nil, fmt.Errorf("linker: class %d init_bytecode: %w", classSym, err)
		}
	}

	return &Result{Syms: syms, Classes: classes, Store: store}, nil
}

type linker struct {
	syms    *symbol.Table
	classes *rclass.Registry
	store   *vtable.Store
}

func (l *linker) preallocateBuiltinNames(builtins []BuiltinClassDesc) error {
	for _, b := range builtins {
		nameSym := l.syms.InternString(b.Name)
		if b.IsInterface {
			l.syms.NewInterface(nameSym)
		} else {
			l.syms.NewClass(nameSym)
		}
	}
	return nil
}

// preallocateFileNames is the §4.1 pre-class table pass: every class
// this program will ever define gets its symbol allocated before any
// vtable composition reads a parent/interface reference, so declaration
// order across files never matters.
func (l *linker) preallocateFileNames(files []*classfile.File) ([]symbol.Symbol, error) {
	out := make([]symbol.Symbol, len(files))
	for i, f := range files {
		if int(f.ClassNameIdx) >= len(f.Strings) {
			return nil, fmt.Errorf("linker: file %d: class name index out of range", i)
		}
		nameSym := l.syms.InternString(f.Strings[f.ClassNameIdx])
		if f.Kind == classfile.KindInterface {
			out[i] = l.syms.NewInterface(nameSym)
		} else {
			out[i] = l.syms.NewClass(nameSym)
		}
	}
	return out, nil
}

// ownEntry is one method this class level declares or overrides, before
// composition with its parent's vtable.
type ownEntry struct {
	name symbol.Symbol
	rec  *vtable.FunctionRecord
}

// compose clones the parent's own-view vtable (or starts empty, for a
// hierarchy root), overrides slots named in own, appends any new ones,
// registers the result, and returns the full Vtables map this class
// should carry forward: every ancestor's view symbol still points at
// that ancestor's frozen vtable (for explicit super/via addressing,
// spec.md §4.2's two-symbol GetField/dispatch addressing), plus this
// class's own symbol now pointing at the freshly composed view.
func (l *linker) compose(classSym, parentSym symbol.Symbol, own []ownEntry) (map[symbol.Symbol]int, int, error) {
	views := make(map[symbol.Symbol]int)
	var composed *vtable.VTable
	if parentSym != symbol.Null {
		parentCls, ok := l.classes.Lookup(parentSym)
		if !ok {
			return nil, 0, fmt.Errorf("parent %d not yet registered", parentSym)
		}
		for k, v := range parentCls.Vtables {
			views[k] = v
		}
		parentIdx, ok := parentCls.Vtables[parentSym]
		if !ok {
			return nil, 0, fmt.Errorf("parent %d has no own vtable view", parentSym)
		}
		composed = l.store.Get(parentIdx).Clone()
	} else {
		composed = vtable.New(classSym)
	}
	composed.Owner = classSym

	for _, e := range own {
		if _, idx, ok := composed.Lookup(e.name); ok {
			composed.Set(idx, e.rec)
		} else {
			composed.Add(e.name, e.rec)
		}
	}

	idx := l.store.Register(composed)
	views[classSym] = idx
	return views, idx, nil
}

func (l *linker) composeBuiltin(desc *BuiltinClassDesc) error {
	nameSym := l.syms.InternString(desc.Name)
	var classSym symbol.Symbol
	var ok bool
	if desc.IsInterface {
		classSym, ok = l.syms.LookupInterface(nameSym)
	} else {
		classSym, ok = l.syms.LookupClass(nameSym)
	}
	if !ok {
		return fmt.Errorf("name %q not preallocated", desc.Name)
	}

	cls := rclass.New(classSym)
	cls.IsInterface = desc.IsInterface
	cls.Finalizer = desc.Finalizer

	var parentSym symbol.Symbol
	if desc.Parent != "" {
		parentNameSym := l.syms.InternString(desc.Parent)
		parentSym, ok = l.syms.LookupClass(parentNameSym)
		if !ok {
			return fmt.Errorf("parent %q not yet registered", desc.Parent)
		}
		cls.Parent = parentSym
	}

	for _, m := range desc.Members {
		cls.AddMember(l.syms.InternString(m.Name), m.Tag, m.SizedLen)
	}

	own := make([]ownEntry, 0, len(desc.Methods))
	for _, m := range desc.Methods {
		methodSym := l.syms.InternString(m.Name)
		var rec *vtable.FunctionRecord
		if m.Fn != nil {
			rec = vtable.NewBuiltin(methodSym, m.Args, m.Ret, m.Fn)
		} else {
			rec = vtable.NewBlank(methodSym, m.Args, m.Ret)
		}
		own = append(own, ownEntry{name: methodSym, rec: rec})
	}

	views, _, err := l.compose(classSym, parentSym, own)
	if err != nil {
		return err
	}
	for _, ifaceName := range desc.Implements {
		ifaceSym, ok := l.syms.LookupInterface(l.syms.InternString(ifaceName))
		if !ok {
			return fmt.Errorf("implements unregistered interface %q", ifaceName)
		}
		views[ifaceSym] = views[classSym]
	}
	cls.Vtables = views

	staticVT := vtable.New(classSym)
	for _, m := range desc.StaticMethods {
		methodSym := l.syms.InternString(m.Name)
		var rec *vtable.FunctionRecord
		if m.Fn != nil {
			rec = vtable.NewBuiltin(methodSym, m.Args, m.Ret, m.Fn)
		} else {
			rec = vtable.NewBlank(methodSym, m.Args, m.Ret)
		}
		staticVT.Add(methodSym, rec)
	}
	cls.StaticMethodsVTable = l.store.Register(staticVT)

	return l.classes.Register(cls)
}

// resolveLocal translates a file-local string-table index to a global
// symbol: a class or interface symbol when the string already names one
// (class/interface references in ParentIdxs, VTableEntry.ClassNameIdx,
// and bytecode Class/Via operands), otherwise the plain interned string
// symbol (method names, field names).
func (l *linker) resolveLocal(f *classfile.File, idx uint32) symbol.Symbol {
	if int(idx) >= len(f.Strings) {
		return symbol.Null
	}
	nameSym := l.syms.InternString(f.Strings[idx])
	if sym, ok := l.syms.LookupClass(nameSym); ok {
		return sym
	}
	if sym, ok := l.syms.LookupInterface(nameSym); ok {
		return sym
	}
	return nameSym
}

func (l *linker) composeFile(f *classfile.File) error {
	localSym := func(idx uint32) symbol.Symbol { return l.resolveLocal(f, idx) }

	ownNameSym := l.syms.InternString(f.Strings[f.ClassNameIdx])
	var classSym symbol.Symbol
	if f.Kind == classfile.KindInterface {
		classSym, _ = l.syms.LookupInterface(ownNameSym)
	} else {
		classSym, _ = l.syms.LookupClass(ownNameSym)
	}

	cls := rclass.New(classSym)
	cls.IsInterface = f.Kind == classfile.KindInterface

	var parentSym symbol.Symbol
	if len(f.ParentIdxs) > 0 && f.ParentIdxs[0] != 0 {
		parentSym = localSym(f.ParentIdxs[0])
		cls.Parent = parentSym
	}

	for _, m := range f.Members {
		cls.AddMember(l.syms.InternString(f.Strings[m.NameIdx]), rtval.Tag(m.Tag), int(m.SizedLen))
	}

	remap := make([]symbol.Symbol, len(f.Strings))
	for i := range f.Strings {
		remap[i] = l.resolveLocal(f, uint32(i))
	}

	argTypesFor := func(sigIdx uint32) ([]rtval.Tag, rtval.Tag, error) {
		if int(sigIdx) >= len(f.Signatures) {
			return nil, 0, fmt.Errorf("signature index %d out of range", sigIdx)
		}
		types := f.Signatures[sigIdx].Types
		if len(types) == 0 {
			return nil, rtval.TagBlank, nil
		}
		ret := rtval.Tag(types[0])
		args := make([]rtval.Tag, len(types)-1)
		for i, t := range types[1:] {
			args[i] = rtval.Tag(t)
		}
		return args, ret, nil
	}

	var own []ownEntry
	for _, decl := range f.VTables {
		for _, e := range decl.Entries {
			methodName := f.Strings[e.MethodNameIdx]
			if methodName == initBytecodeMethodName {
				if int(e.BytecodeIdx) >= len(f.Bytecode) {
					return fmt.Errorf("init_bytecode index %d out of range", e.BytecodeIdx)
				}
				code, derr := decodeBytecode(f.Bytecode[e.BytecodeIdx], remap)
				if derr != nil {
					return derr
				}
				cls.InitBytecode = code
				continue
			}
			methodSym := l.syms.InternString(methodName)
			args, ret, err := argTypesFor(e.SignatureIdx)
			if err != nil {
				return err
			}
			var rec *vtable.FunctionRecord
			if e.BytecodeIdx == classfile.NoBytecode {
				rec = vtable.NewBlank(methodSym, args, ret)
			} else {
				if int(e.BytecodeIdx) >= len(f.Bytecode) {
					return fmt.Errorf("bytecode index %d out of range", e.BytecodeIdx)
				}
				code, derr := decodeBytecode(f.Bytecode[e.BytecodeIdx], remap)
				if derr != nil {
					return derr
				}
				rec = vtable.NewBytecodeOnly(methodSym, args, ret, code)
			}
			own = append(own, ownEntry{name: methodSym, rec: rec})
		}
	}

	views, _, err := l.compose(classSym, parentSym, own)
	if err != nil {
		return err
	}
	for _, pIdx := range f.ParentIdxs[minInt(1, len(f.ParentIdxs)):] {
		ifaceSym := localSym(pIdx)
		views[ifaceSym] = views[classSym]
	}
	cls.Vtables = views
	cls.StaticMethodsVTable = l.store.Register(vtable.New(classSym))

	return l.classes.Register(cls)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// topoSortFiles orders files parent-before-child using each file's own
// class symbol and its declared parent/interfaces, so composeFile never
// looks up a not-yet-registered class. Builtins are assumed already
// fully registered by the time this runs.
func topoSortFiles(files []*classfile.File, fileNameSyms []symbol.Symbol, syms *symbol.Table) ([]int, error) {
	bySym := make(map[symbol.Symbol]int, len(files))
	for i, s := range fileNameSyms {
		bySym[s] = i
	}

	var order []int
	state := make([]int, len(files)) // 0 unvisited, 1 visiting, 2 done
	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("linker: dependency cycle involving file %d", i)
		}
		state[i] = 1
		f := files[i]
		for _, pIdx := range f.ParentIdxs {
			if pIdx == 0 {
				continue
			}
			if int(pIdx) >= len(f.Strings) {
				continue
			}
			nameSym := syms.InternString(f.Strings[pIdx])
			depClassSym, isClass := syms.LookupClass(nameSym)
			depIfaceSym, isIface := syms.LookupInterface(nameSym)
			var depSym symbol.Symbol
			if isClass {
				depSym = depClassSym
			} else if isIface {
				depSym = depIfaceSym
			} else {
				continue
			}
			if depIdx, ok := bySym[depSym]; ok {
				if err := visit(depIdx); err != nil {
					return err
				}
			}
		}
		state[i] = 2
		order = append(order, i)
		return nil
	}

	for i := range files {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return order, nil
}
