package emit

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinybf/bfc/ir"
)

func TestCBackendEmitsCStatements(t *testing.T) {
	prog := ir.Program{
		{Op: ir.MovePointer, A: 2},
		{Op: ir.Add, A: 5},
		{Op: ir.Putchar},
		{Op: ir.Getchar},
		{Op: ir.LoopStart, A: 6},
		{Op: ir.MovePointer, A: -1},
		{Op: ir.LoopEnd, A: 4},
		{Op: ir.Assign, A: 0},
		{Op: ir.SearchZero, A: 3},
		{Op: ir.AddVar, A: 2},
		{Op: ir.SubVar, A: -1},
		{Op: ir.AddCMulVar, A: 1, B: 4},
		{Op: ir.InfLoop},
		{Op: ir.BreakPoint},
	}

	var buf bytes.Buffer
	b := NewCBackend(&buf)
	Emit(prog, b)
	require.NoError(t, b.Flush())

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "#include <stdio.h>"))
	assert.Contains(t, out, "p += 2;")
	assert.Contains(t, out, "*p += 5;")
	assert.Contains(t, out, "putchar(*p);")
	assert.Contains(t, out, "fflush(stdout);")
	assert.Contains(t, out, "*p = (unsigned char) getchar();")
	assert.Contains(t, out, "while (*p) {")
	assert.Contains(t, out, "p -= 1;")
	assert.Contains(t, out, "*p = 0;")
	assert.Contains(t, out, "while (*p) p += 3;")
	assert.Contains(t, out, "p[2] += *p;")
	assert.Contains(t, out, "p[-1] -= *p;")
	assert.Contains(t, out, "p[1] += (unsigned char) (*p * 4);")
	assert.Contains(t, out, "if (*p) for (;;);")
	assert.Contains(t, out, "putchar('\\n');")
	assert.True(t, strings.HasSuffix(strings.TrimRight(out, "\n"), "}"))
}

func TestCBackendIfRendersAsCIf(t *testing.T) {
	prog := ir.Program{
		{Op: ir.If, A: 2},
		{Op: ir.EndIf, A: 0},
	}
	var buf bytes.Buffer
	b := NewCBackend(&buf)
	Emit(prog, b)
	require.NoError(t, b.Flush())
	assert.Contains(t, buf.String(), "if (*p) {")
}
