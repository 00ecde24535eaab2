// Package jit implements the JIT Controller (spec.md §4.5/§4.6): a
// single dedicated worker goroutine owns the code-generation module;
// dispatch sites send a compile request over a channel and block on its
// completion reply, the same request/block-for-reply shape the
// teacher's internal/thread package uses to serialize GPU calls onto
// one OS thread (Thread.Call).
package jit

import (
	"sync"

	"github.com/rowanvm/rowan/internal/rtrace"
	"github.com/rowanvm/rowan/internal/rtval"
	"github.com/rowanvm/rowan/internal/vtable"
)

// request is one compile job: the record to compile plus enough
// signature information to lower its argument spill prologue.
type request struct {
	rec     *vtable.FunctionRecord
	argTags []rtval.Tag
	retTag  rtval.Tag
	done    chan struct{}
}

// Controller owns the compile-request queue and the single worker
// goroutine that drains it. Exported so cmd/rowan can wire it as the
// interpreter's Compiler.
type Controller struct {
	reqCh chan request
	done  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[*vtable.FunctionRecord]chan struct{}
	failed   map[*vtable.FunctionRecord]bool

	pages   []*execPage
	pagesMu sync.Mutex
}

// New creates a controller with a buffered request queue; Start must be
// called once before any RequestCompile calls are serviced.
func New() *Controller {
	return &Controller{
		reqCh:    make(chan request, 64),
		done:     make(chan struct{}),
		inFlight: make(map[*vtable.FunctionRecord]chan struct{}),
		failed:   make(map[*vtable.FunctionRecord]bool),
	}
}

// Start launches the single worker goroutine.
func (c *Controller) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case req := <-c.reqCh:
				c.handle(req)
				close(req.done)
			case <-c.done:
				return
			}
		}
	}()
}

// Stop signals the worker to exit and waits for it; requests still in the
// queue are not serviced. Already-published
// executable pages are never released here: a compiled method may still
// be live in another thread's call frame.
func (c *Controller) Stop() {
	close(c.done)
	c.wg.Wait()
}

// RequestCompile is the Dispatch Engine's §4.3 step 4: it blocks the
// calling thread until rec's slot leaves bytecode-only one way or
// another (compiled, or permanently given up on because its bytecode
// uses an opcode outside the lowerable subset). Concurrent callers for
// the same record share one in-flight request (spec.md §4.5's
// "deduplicates by checking the slot before compilation under a lock");
// a record already compiled or already given up on returns immediately.
func (c *Controller) RequestCompile(rec *vtable.FunctionRecord, argTags []rtval.Tag, retTag rtval.Tag) {
	if rec.State() != vtable.SlotBytecodeOnly {
		return
	}

	c.mu.Lock()
	if c.failed[rec] {
		c.mu.Unlock()
		return
	}
	if wait, ok := c.inFlight[rec]; ok {
		c.mu.Unlock()
		<-wait
		return
	}
	waitCh := make(chan struct{})
	c.inFlight[rec] = waitCh
	c.mu.Unlock()

	c.reqCh <- request{rec: rec, argTags: argTags, retTag: retTag, done: waitCh}
	<-waitCh

	c.mu.Lock()
	delete(c.inFlight, rec)
	c.mu.Unlock()
}

func (c *Controller) handle(req request) {
	code, ok := req.rec.Bytecode()
	if !ok {
		return
	}
	machine, err := compile(code, req.argTags, req.retTag)
	if err != nil {
		rtrace.Debugf("jit: compile failed, staying bytecode-only: %v", err)
		c.mu.Lock()
		c.failed[req.rec] = true
		c.mu.Unlock()
		return
	}
	ptr, page, err := publish(machine)
	if err != nil {
		rtrace.Warnf("jit: failed to map executable page: %v", err)
		c.mu.Lock()
		c.failed[req.rec] = true
		c.mu.Unlock()
		return
	}
	if !req.rec.TryPublishCompiled(ptr, spillMapFor(code)) {
		// A race published first; this page is unused.
		_ = page.release()
		return
	}
	c.pagesMu.Lock()
	c.pages = append(c.pages, page)
	c.pagesMu.Unlock()
}

// spillMapFor reports which operand-stack slots the JIT's frame layout
// can hold a live object reference in at a safepoint. The integer-only
// lowering in codegen_amd64.go never pushes a TagObject value, so the
// spill map is always empty; kept as a function (not a constant) so a
// future float/object-aware codegen has a natural place to compute one.
func spillMapFor(code *vtable.Bytecode) []int {
	return nil
}
