//go:build !(linux && amd64)

package main

import (
	"github.com/pkg/errors"

	"github.com/tinybf/bfc/internal/bferrors"
	"github.com/tinybf/bfc/ir"
)

// runJIT and dumpXbyakC have no native backend outside linux/amd64 — see
// jit_linux_amd64.go and emit/jit_amd64.go's build tag.
func runJIT(prog ir.Program) error {
	return errors.Wrap(bferrors.ErrInvalidTarget, "JIT execution requires linux/amd64")
}

func dumpXbyakC(prog ir.Program) ([]byte, string, error) {
	return nil, "", errors.Wrap(bferrors.ErrInvalidTarget, "xbyakc target requires linux/amd64")
}
