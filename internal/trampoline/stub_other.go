//go:build !amd64

package trampoline

import (
	"fmt"

	"github.com/rowanvm/rowan/internal/rtval"
)

// Invoke is unimplemented outside amd64: spec.md §4.7 only specifies the
// System V and Win64 amd64 ABIs. A faithful AAPCS64 dispatcher would
// follow the same classify-then-cgo-shim shape as sysv_amd64.go.
func Invoke(fnPtr uintptr, ctx uintptr, args []rtval.Value, retTag rtval.Tag) (rtval.Value, error) {
	return rtval.Value{}, fmt.Errorf("trampoline: native calls unsupported on this architecture")
}
