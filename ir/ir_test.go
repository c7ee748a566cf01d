package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpString(t *testing.T) {
	require.Equal(t, "MovePointer", MovePointer.String())
	require.Equal(t, "AddCMulVar", AddCMulVar.String())
	require.Equal(t, "Unknown", Op(999).String())
}

func TestInstString(t *testing.T) {
	assert.Equal(t, "Putchar", Inst{Op: Putchar}.String())
	assert.Equal(t, "MovePointer: 3", Inst{Op: MovePointer, A: 3}.String())
	assert.Equal(t, "MovePointer: -3", Inst{Op: MovePointer, A: -3}.String())
	assert.Equal(t, "AddCMulVar: 2, -4", Inst{Op: AddCMulVar, A: 2, B: -4}.String())
	assert.Equal(t, "Assign: 0", Inst{Op: Assign}.String())
}

func TestProgramDump(t *testing.T) {
	p := Program{
		{Op: Add, A: 1},
		{Op: Putchar},
	}
	assert.Equal(t, []string{"Add: 1", "Putchar"}, p.Dump())
}
