package interp

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinybf/bfc/ir"
)

func run(t *testing.T, prog ir.Program, in string, heap int) string {
	t.Helper()
	var out bytes.Buffer
	m := New(WithHeapSize(heap), WithIO(bytes.NewBufferString(in), &out))
	require.NoError(t, m.Run(context.Background(), prog))
	return out.String()
}

func TestHelloWorldLikeOutput(t *testing.T) {
	prog := ir.Program{
		{Op: ir.Assign, A: 'H'},
		{Op: ir.Putchar},
		{Op: ir.Assign, A: 'i'},
		{Op: ir.Putchar},
	}
	assert.Equal(t, "Hi\n", run(t, prog, "", 64))
}

func TestMovePointerWraps(t *testing.T) {
	prog := ir.Program{
		{Op: ir.MovePointer, A: -1},
		{Op: ir.Assign, A: 42},
		{Op: ir.Putchar},
	}
	out := run(t, prog, "", 4)
	assert.Equal(t, byte(42), out[0])
}

func TestAddWrapsModulo256(t *testing.T) {
	prog := ir.Program{
		{Op: ir.Assign, A: 250},
		{Op: ir.Add, A: 10},
		{Op: ir.Putchar},
	}
	out := run(t, prog, "", 4)
	assert.Equal(t, byte(4), out[0]) // (250+10) mod 256
}

func TestGetcharEOFClearsCell(t *testing.T) {
	prog := ir.Program{
		{Op: ir.Assign, A: 99},
		{Op: ir.Getchar},
		{Op: ir.Putchar},
	}
	out := run(t, prog, "", 4) // empty stdin -> immediate EOF
	assert.Equal(t, byte(0), out[0])
}

func TestEchoTwoBytesNoEOF(t *testing.T) {
	// ,[.,] — echo until EOF.
	prog := ir.Program{
		{Op: ir.Getchar},
		{Op: ir.LoopStart, A: 4},
		{Op: ir.Putchar},
		{Op: ir.Getchar},
		{Op: ir.LoopEnd, A: 1},
	}
	out := run(t, prog, "Hi", 4)
	assert.Equal(t, "Hi\n", out)
}

func TestSearchZero(t *testing.T) {
	prog := ir.Program{
		{Op: ir.Assign, A: 0},
		{Op: ir.MovePointer, A: 1},
		{Op: ir.Assign, A: 1},
		{Op: ir.MovePointer, A: 1},
		{Op: ir.Assign, A: 1},
		{Op: ir.MovePointer, A: 1},
		{Op: ir.Assign, A: 0},
		{Op: ir.MovePointer, A: -3},
		{Op: ir.SearchZero, A: 1},
		{Op: ir.Putchar},
	}
	out := run(t, prog, "", 8)
	assert.Equal(t, byte(0), out[0])
}

func TestAddVarSubVarAddCMulVar(t *testing.T) {
	prog := ir.Program{
		{Op: ir.Assign, A: 5},
		{Op: ir.AddVar, A: 1},
		{Op: ir.MovePointer, A: 1},
		{Op: ir.Putchar}, // expect 5
		{Op: ir.MovePointer, A: -1},
		{Op: ir.SubVar, A: 1},
		{Op: ir.MovePointer, A: 1},
		{Op: ir.Putchar}, // expect 0
		{Op: ir.MovePointer, A: -1},
		{Op: ir.Assign, A: 3},
		{Op: ir.AddCMulVar, A: 1, B: 2},
		{Op: ir.MovePointer, A: 1},
		{Op: ir.Putchar}, // expect 6
	}
	out := run(t, prog, "", 8)
	require.Len(t, out, 4)
	assert.Equal(t, []byte{5, 0, 6, '\n'}, []byte(out))
}

func TestInfLoopDiverges(t *testing.T) {
	prog := ir.Program{
		{Op: ir.Assign, A: 1},
		{Op: ir.InfLoop},
	}
	m := New(WithHeapSize(4), WithIO(bytes.NewReader(nil), &bytes.Buffer{}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Run(ctx, prog)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInfLoopSkippedWhenCellZero(t *testing.T) {
	prog := ir.Program{
		{Op: ir.Assign, A: 0},
		{Op: ir.InfLoop},
		{Op: ir.Putchar},
	}
	out := run(t, prog, "", 4)
	assert.Equal(t, byte(0), out[0])
}

func TestIfEndIfSkipsOnZero(t *testing.T) {
	prog := ir.Program{
		{Op: ir.Assign, A: 0},
		{Op: ir.If, A: 3},
		{Op: ir.Assign, A: 9},
		{Op: ir.EndIf, A: 1},
		{Op: ir.Putchar},
	}
	out := run(t, prog, "", 4)
	assert.Equal(t, byte(0), out[0])
}

func TestIfEndIfRunsOnNonzero(t *testing.T) {
	prog := ir.Program{
		{Op: ir.Assign, A: 1},
		{Op: ir.If, A: 3},
		{Op: ir.Assign, A: 9},
		{Op: ir.EndIf, A: 1},
		{Op: ir.Putchar},
	}
	out := run(t, prog, "", 4)
	assert.Equal(t, byte(9), out[0])
}
