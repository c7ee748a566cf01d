package emit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinybf/bfc/compiler"
)

func TestELFX64BackendProducesValidHeader(t *testing.T) {
	prog, err := compiler.Compile(compiler.Trim([]byte("++++++++[>++++++++<-]>+.")))
	require.NoError(t, err)

	b := NewELFX64Backend()
	Emit(prog, b)
	out := b.Bytes()

	require.GreaterOrEqual(t, len(out), elfX64HdrSize)
	assert.Equal(t, []byte{0x7f, 'E', 'L', 'F'}, out[0:4])
	assert.Equal(t, byte(2), out[4]) // ELFCLASS64
	assert.Equal(t, byte(1), out[5]) // ELFDATA2LSB

	machine := uint16(out[18]) | uint16(out[19])<<8
	assert.Equal(t, uint16(elfEMX8664), machine)

	entry := leU64(out[24:32])
	assert.Equal(t, uint64(elfX64BaseAddr+elfX64HdrSize), entry)
}

func TestELFX64BackendJumpTargetsArePatched(t *testing.T) {
	prog, err := compiler.Compile(compiler.Trim([]byte("+[>+<-]")))
	require.NoError(t, err)

	b := NewELFX64Backend()
	Emit(prog, b)
	out := b.Bytes()
	assert.Greater(t, len(out), elfX64HdrSize)

	// The program compiles to Add(1), If, AddVar(1), Assign(0), EndIf. The
	// If's je rel32 operand follows the 15-byte register setup, the 2-byte
	// inc and the 5 bytes of cmp/je opcode, and must be patched to skip
	// the 8-byte body (AddVar 5 bytes, Assign 3 bytes).
	op := elfX64HdrSize + 15 + 2 + 5
	require.Greater(t, len(out), op+4)
	rel := uint32(out[op]) | uint32(out[op+1])<<8 | uint32(out[op+2])<<16 | uint32(out[op+3])<<24
	assert.Equal(t, uint32(8), rel)
}

func leU64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
