package compiler

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinybf/bfc/interp"
	"github.com/tinybf/bfc/ir"
)

func TestTrimRemovesNonBrainfuckBytes(t *testing.T) {
	got := Trim([]byte("hello +[-]world>>\n<<.,#"))
	assert.Equal(t, "+[-]>><<.,", string(got))
}

func TestTrimIsIdempotent(t *testing.T) {
	src := []byte("foo+-[]<>., bar")
	once := Trim(src)
	twice := Trim(once)
	assert.Equal(t, once, twice)
}

func TestCompileUnmatchedBracketOpen(t *testing.T) {
	_, err := Compile([]byte("+++["))
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.Offset)
}

func TestCompileUnmatchedBracketClose(t *testing.T) {
	_, err := Compile([]byte("+++]"))
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.Offset)
}

func TestCompileEmptyLoopBecomesInfLoop(t *testing.T) {
	prog, err := Compile([]byte("[]"))
	require.NoError(t, err)
	require.Len(t, prog, 1)
	assert.Equal(t, ir.InfLoop, prog[0].Op)
}

func TestCompileClearLoopBecomesAssign(t *testing.T) {
	for _, src := range []string{"[-]", "[+]"} {
		prog, err := Compile([]byte(src))
		require.NoError(t, err)
		require.Len(t, prog, 1)
		assert.Equal(t, ir.Assign, prog[0].Op)
		assert.Equal(t, int32(0), prog[0].A)
	}
}

func TestCompileScanLoopBecomesSearchZero(t *testing.T) {
	prog, err := Compile([]byte("[>>]"))
	require.NoError(t, err)
	require.Len(t, prog, 1)
	assert.Equal(t, ir.SearchZero, prog[0].Op)
	assert.Equal(t, int32(2), prog[0].A)
}

func TestCompileCopyMultiplyLoop(t *testing.T) {
	// [->+>++<<] copies *p into p[1] (x1) and p[2] (x2), zeroing *p.
	prog, err := Compile([]byte("[->+>++<<]"))
	require.NoError(t, err)
	require.NotEmpty(t, prog)
	assert.Equal(t, ir.If, prog[0].Op)

	var ops []ir.Op
	for _, in := range prog {
		ops = append(ops, in.Op)
	}
	assert.Contains(t, ops, ir.AddVar)
	assert.Contains(t, ops, ir.AddCMulVar)
	assert.Contains(t, ops, ir.EndIf)
}

func TestCompileAddFusionR1(t *testing.T) {
	// [-] then a run of '+' should fuse into a single Assign.
	prog, err := Compile([]byte("[-]+++"))
	require.NoError(t, err)
	require.Len(t, prog, 1)
	assert.Equal(t, ir.Assign, prog[0].Op)
	assert.Equal(t, int32(3), prog[0].A)
}

func TestCompileDefaultLoopResolvesJumpTargets(t *testing.T) {
	prog, err := Compile([]byte("+[>+.<-]"))
	require.NoError(t, err)

	var start, end = -1, -1
	for i, in := range prog {
		if in.Op == ir.LoopStart {
			start = i
		}
		if in.Op == ir.LoopEnd {
			end = i
		}
	}
	require.NotEqual(t, -1, start)
	require.NotEqual(t, -1, end)
	assert.Equal(t, int32(end), prog[start].A)
	assert.Equal(t, int32(start), prog[end].A)
}

// TestCompileExecuteEquivalence checks the IR interpreter and the
// bracket-rescanning direct interpreter agree on output for a handful of
// programs exercising the clear, scan-to-zero and copy/multiply rules.
func TestCompileExecuteEquivalence(t *testing.T) {
	programs := []string{
		"++++++++[>++++++++<-]>+.", // basic loop + add
		"[-]",
		"[>>>]",
		"[->+>++<<]",
		"+++++[>+++++<-]>---.",
		"",
	}

	for _, src := range programs {
		trimmed := Trim([]byte(src))

		prog, err := Compile(trimmed)
		require.NoError(t, err)

		var irOut bytes.Buffer
		m := interp.New(interp.WithHeapSize(1024), interp.WithIO(bytes.NewReader(nil), &irOut))
		require.NoError(t, m.Run(context.Background(), prog))

		var directOut bytes.Buffer
		require.NoError(t, interp.RunDirect(trimmed, bytes.NewReader(nil), &directOut, 1024))

		assert.Equal(t, directOut.Bytes(), irOut.Bytes(), "mismatch for %q", src)
	}
}
