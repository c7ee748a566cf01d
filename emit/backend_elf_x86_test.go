package emit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinybf/bfc/compiler"
)

func TestELFX86BackendProducesValidHeader(t *testing.T) {
	prog, err := compiler.Compile(compiler.Trim([]byte("++++++++[>++++++++<-]>+.")))
	require.NoError(t, err)

	b := NewELFX86Backend()
	Emit(prog, b)
	out := b.Bytes()

	require.GreaterOrEqual(t, len(out), elfX86HdrSize)
	assert.Equal(t, []byte{0x7f, 'E', 'L', 'F'}, out[0:4])
	assert.Equal(t, byte(1), out[4]) // ELFCLASS32

	machine := uint16(out[18]) | uint16(out[19])<<8
	assert.Equal(t, uint16(elfEM386), machine)

	entry := uint32(out[24]) | uint32(out[25])<<8 | uint32(out[26])<<16 | uint32(out[27])<<24
	assert.Equal(t, uint32(elfX86BaseAddr+elfX86HdrSize), entry)
}
