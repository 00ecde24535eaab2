//go:build !amd64

package jit

import (
	"fmt"

	"github.com/rowanvm/rowan/internal/rtval"
	"github.com/rowanvm/rowan/internal/vtable"
)

func compile(code *vtable.Bytecode, argTags []rtval.Tag, retTag rtval.Tag) ([]byte, error) {
	return nil, fmt.Errorf("jit: native code generation unsupported on this architecture")
}

func publish(code []byte) (uintptr, *execPage, error) {
	return 0, nil, fmt.Errorf("jit: native code generation unsupported on this architecture")
}

type execPage struct{}

func (p *execPage) release() error { return nil }
