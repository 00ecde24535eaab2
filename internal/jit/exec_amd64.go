//go:build amd64

package jit

import (
	"unsafe"

	"github.com/edsrzf/mmap-go"
)

// execPage is one mmap'd RWX region holding a single compiled method's
// machine code, kept alive for the lifetime of the process: nothing
// ever unmaps a published method, since a FunctionRecord's compiled
// slot is published exactly once and never retracted (spec.md §3's
// monotone slot-state invariant).
type execPage struct {
	region mmap.MMap
}

// publish copies code into a freshly mapped executable page and
// returns its entry address, ready to hand to TryPublishCompiled and
// later dial through internal/trampoline exactly like a native symbol.
func publish(code []byte) (uintptr, *execPage, error) {
	region, err := mmap.MapRegion(nil, len(code), mmap.RDWR|mmap.EXEC, mmap.ANON, 0)
	if err != nil {
		return 0, nil, err
	}
	copy(region, code)
	return uintptr(unsafe.Pointer(&region[0])), &execPage{region: region}, nil
}

func (p *execPage) release() error {
	return p.region.Unmap()
}
