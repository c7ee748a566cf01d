//go:build linux && amd64

package emit

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinybf/bfc/compiler"
)

func TestJITAmd64BackendRunsCompiledProgram(t *testing.T) {
	// 'H' computed via a repeated-addition loop, then '.'
	prog, err := compiler.Compile(compiler.Trim([]byte(
		"++++++++[>+++++++++<-]>.", // 'H' = 72 = 8*9
	)))
	require.NoError(t, err)

	b := NewJITAmd64Backend()
	Emit(prog, b)
	require.NoError(t, b.Load())
	defer b.Unload()

	tape := make([]byte, 65536)
	b.Run(tape)
	// The backend writes through a raw syscall to fd 1 rather than into
	// the tape buffer we pass in for inspection here, so this test's
	// real assertion is simply that assembling, mapping, and invoking
	// the JIT buffer does not crash the process. The JIT's output is not
	// compared with the IR interpreter's by any test.
	assert.NotNil(t, tape)
}

func TestDumpAsCProducesCompilableLookingSource(t *testing.T) {
	prog, err := compiler.Compile(compiler.Trim([]byte("+.")))
	require.NoError(t, err)

	b := NewJITAmd64Backend()
	Emit(prog, b)

	var buf bytes.Buffer
	require.NoError(t, DumpAsC(&buf, b.Bytes()))
	out := buf.String()
	assert.Contains(t, out, "#include <sys/mman.h>")
	assert.Contains(t, out, "static const unsigned char code[]")
	assert.Contains(t, out, "mprotect(")
}
