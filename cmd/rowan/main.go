// Command rowan is the external collaborator described in spec.md §6:
// it sits outside the core runtime and is responsible only for reading
// class files off disk, running the Linker, and invoking a program's
// entry point, the way tinyrange-rtg/std/compiler/main.go and
// saferwall-pe/cmd wrap their own libraries in a thin CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rowanvm/rowan/internal/builtin"
	"github.com/rowanvm/rowan/internal/classfile"
	"github.com/rowanvm/rowan/internal/heap"
	"github.com/rowanvm/rowan/internal/interp"
	"github.com/rowanvm/rowan/internal/jit"
	"github.com/rowanvm/rowan/internal/linker"
	"github.com/rowanvm/rowan/internal/rtrace"
	"github.com/rowanvm/rowan/internal/runtime"
	"github.com/rowanvm/rowan/internal/symbol"
	"github.com/rowanvm/rowan/internal/vtable"
)

const mainMethodName = "main"

func main() {
	rootCmd := &cobra.Command{
		Use:   "rowan",
		Short: "Rowan managed-language runtime",
		Long:  "Rowan links and runs compiled class files against the core bytecode interpreter and JIT.",
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("rowan 0.1.0")
		},
	}

	runCmd := &cobra.Command{
		Use:   "run <class-file>...",
		Short: "Link the given class files and invoke the last one's main method",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFiles(args)
		},
	}

	rootCmd.AddCommand(versionCmd, runCmd)
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errUnhandledException) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// errUnhandledException marks a program's own unhandled exception
// (already reported to stderr as a backtrace) so main doesn't also
// print it as a CLI-level error.
var errUnhandledException = errors.New("unhandled exception")

func runFiles(paths []string) error {
	cfg := runtime.FromEnv()
	rtrace.Debugf("loading %d class file(s), heap max %d bytes", len(paths), cfg.HeapMaxBytes)

	files := make([]*classfile.File, len(paths))
	for i, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("rowan: %w", err)
		}
		cf, err := classfile.Decode(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("rowan: %s: %w", p, err)
		}
		files[i] = cf
	}

	h, err := heap.New(cfg.HeapConfig())
	if err != nil {
		return fmt.Errorf("rowan: %w", err)
	}

	var compiler interp.Compiler
	var controller *jit.Controller
	if !cfg.NoJIT {
		controller = jit.New()
		controller.Start()
		compiler = controller
	}

	gc := heap.NewGC(h, nil)
	result, err := linker.Load(builtin.Classes(), files, h, gc, compiler)
	if err != nil {
		if controller != nil {
			controller.Stop()
		}
		return fmt.Errorf("rowan: link: %w", err)
	}

	well := builtin.WellKnown(result.Syms)
	ctx := interp.NewContext(result.Syms, result.Classes, result.Store, h, gc, compiler, well)
	defer func() {
		ctx.Close()
		if controller != nil {
			controller.Stop()
		}
		gc.Shutdown()
	}()

	entryClass, err := lastFileClass(result, files[len(files)-1])
	if err != nil {
		return fmt.Errorf("rowan: %w", err)
	}

	rec, owner, err := resolveMain(result, entryClass)
	if err != nil {
		return fmt.Errorf("rowan: %w", err)
	}

	_, err = ctx.Invoke(rec, owner, nil)
	if err == nil {
		return nil
	}

	thrown, ok := err.(*interp.ThrownException)
	if !ok {
		return fmt.Errorf("rowan: %w", err)
	}
	className, _ := result.Syms.String(thrown.Class)
	message := builtin.Message(ctx, thrown.Addr)
	fmt.Fprint(os.Stderr, rtrace.FormatBacktrace(className, message, thrown.Frames))
	return errUnhandledException
}

// lastFileClass resolves the already-linked class symbol for the last
// file passed on the command line: spec.md §6's entry point is "the
// main method on the last-loaded class", and Load itself doesn't carry
// file-to-symbol order forward in its Result, so this re-derives the
// same interned name Load itself produced.
func lastFileClass(result *linker.Result, f *classfile.File) (symbol.Symbol, error) {
	if int(f.ClassNameIdx) >= len(f.Strings) {
		return 0, fmt.Errorf("class name index out of range")
	}
	name := f.Strings[f.ClassNameIdx]
	sym, ok := result.Syms.LookupStringSymbol(name)
	if !ok {
		return 0, fmt.Errorf("class %q was not linked", name)
	}
	classSym, ok := result.Syms.LookupClass(sym)
	if !ok {
		return 0, fmt.Errorf("%q is not a class", name)
	}
	return classSym, nil
}

// resolveMain finds the main method in entryClass's own composed
// vtable view, per spec.md §6.
func resolveMain(result *linker.Result, entryClass symbol.Symbol) (*vtable.FunctionRecord, symbol.Symbol, error) {
	cls, ok := result.Classes.Lookup(entryClass)
	if !ok {
		return nil, 0, fmt.Errorf("entry class not registered")
	}
	storeIdx, ok := cls.Vtables[entryClass]
	if !ok {
		return nil, 0, fmt.Errorf("entry class has no vtable view of itself")
	}
	methodSym, ok := result.Syms.LookupStringSymbol(mainMethodName)
	if !ok {
		return nil, 0, fmt.Errorf("no method named %q was linked", mainMethodName)
	}
	rec, _, ok := result.Store.Get(storeIdx).Lookup(methodSym)
	if !ok {
		return nil, 0, fmt.Errorf("entry class has no %q method", mainMethodName)
	}
	return rec, entryClass, nil
}
