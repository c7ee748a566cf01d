package emit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinybf/bfc/compiler"
)

func TestPEX64BackendProducesValidHeader(t *testing.T) {
	prog, err := compiler.Compile(compiler.Trim([]byte("++++++++[>++++++++<-]>+.")))
	require.NoError(t, err)

	b := NewPEX64Backend()
	Emit(prog, b)
	out := b.Bytes()

	require.GreaterOrEqual(t, len(out), peCodeOffset)
	assert.Equal(t, []byte("MZ"), out[0:2])

	peOff := int(out[0x3c]) | int(out[0x3d])<<8 | int(out[0x3e])<<16 | int(out[0x3f])<<24
	require.Less(t, peOff+4, len(out))
	assert.Equal(t, []byte("PE\x00\x00"), out[peOff:peOff+4])

	machine := uint16(out[peOff+4]) | uint16(out[peOff+5])<<8
	assert.Equal(t, uint16(0x8664), machine) // IMAGE_FILE_MACHINE_AMD64
}

func TestPEX86BackendProducesValidHeader(t *testing.T) {
	prog, err := compiler.Compile(compiler.Trim([]byte("++++++++[>++++++++<-]>+.")))
	require.NoError(t, err)

	b := NewPEX86Backend()
	Emit(prog, b)
	out := b.Bytes()

	require.GreaterOrEqual(t, len(out), peHeaderSize+peIdataSize)
	assert.Equal(t, []byte("MZ"), out[0:2])

	peOff := int(out[0x3c]) | int(out[0x3d])<<8 | int(out[0x3e])<<16 | int(out[0x3f])<<24
	require.Less(t, peOff+4, len(out))
	assert.Equal(t, []byte("PE\x00\x00"), out[peOff:peOff+4])

	machine := uint16(out[peOff+4]) | uint16(out[peOff+5])<<8
	assert.Equal(t, uint16(0x014c), machine) // IMAGE_FILE_MACHINE_I386
}
