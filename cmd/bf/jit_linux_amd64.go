//go:build linux && amd64

package main

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/tinybf/bfc/emit"
	"github.com/tinybf/bfc/internal/bferrors"
	"github.com/tinybf/bfc/ir"
)

// runJIT assembles prog with the native JIT backend, loads it executable,
// and runs it in-process against a fresh tape.
func runJIT(prog ir.Program) error {
	b := emit.NewJITAmd64Backend()
	emit.Emit(prog, b)
	if err := b.Load(); err != nil {
		return err
	}
	defer b.Unload()

	tape := make([]byte, flagHeapSize)
	b.Run(tape)
	return nil
}

// dumpXbyakC renders the JIT-assembled machine code as a standalone C
// harness.
func dumpXbyakC(prog ir.Program) ([]byte, string, error) {
	b := emit.NewJITAmd64Backend()
	emit.Emit(prog, b)

	var buf bytes.Buffer
	if err := emit.DumpAsC(&buf, b.Bytes()); err != nil {
		return nil, "", errors.Wrap(bferrors.ErrIOFailure, err.Error())
	}
	return buf.Bytes(), ".c", nil
}
