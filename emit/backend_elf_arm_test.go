package emit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinybf/bfc/ir"
)

func TestELFArmBackendProducesValidHeader(t *testing.T) {
	prog := ir.Program{
		{Op: ir.Add, A: 3},
		{Op: ir.Putchar},
	}
	b := NewELFArmBackend()
	Emit(prog, b)
	require.NoError(t, b.Err())

	out := b.Bytes()
	require.GreaterOrEqual(t, len(out), armHdrSize)
	assert.Equal(t, []byte{0x7f, 'E', 'L', 'F'}, out[0:4])
	assert.Equal(t, byte(1), out[4]) // ELFCLASS32
	assert.Equal(t, byte(elfOSABIArmAEABI), out[7])

	machine := uint16(out[18]) | uint16(out[19])<<8
	assert.Equal(t, uint16(elfEMARM), machine)
}

func TestELFArmBackendRejectsOffsetOverflow(t *testing.T) {
	prog := ir.Program{
		{Op: ir.If, A: 2},
		{Op: ir.AddVar, A: 5000},
		{Op: ir.EndIf, A: 0},
	}
	b := NewELFArmBackend()
	Emit(prog, b)
	require.Error(t, b.Err())
	assert.ErrorIs(t, b.Err(), ErrOffsetOverflow)
}

func TestELFArmBackendAcceptsMaxInRangeOffset(t *testing.T) {
	prog := ir.Program{
		{Op: ir.If, A: 2},
		{Op: ir.AddVar, A: 4095},
		{Op: ir.EndIf, A: 0},
	}
	b := NewELFArmBackend()
	Emit(prog, b)
	assert.NoError(t, b.Err())
}
