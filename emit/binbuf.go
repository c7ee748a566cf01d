package emit

import "encoding/binary"

// binBuf is the in-memory byte vector with a write cursor that every
// binary backend uses as its output sink, supporting patches to earlier
// bytes once later sizes are known.
type binBuf struct {
	b []byte
}

func (s *binBuf) Len() int { return len(s.b) }

func (s *binBuf) Bytes() []byte { return s.b }

func (s *binBuf) u8(v byte) { s.b = append(s.b, v) }

func (s *binBuf) bytes(v []byte) { s.b = append(s.b, v...) }

func (s *binBuf) zero(n int) { s.b = append(s.b, make([]byte, n)...) }

func (s *binBuf) u16le(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	s.b = append(s.b, buf[:]...)
}

func (s *binBuf) u32le(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	s.b = append(s.b, buf[:]...)
}

func (s *binBuf) u64le(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	s.b = append(s.b, buf[:]...)
}

// patchU32 overwrites 4 bytes at offset — the seek-back half of the jump
// patching protocol.
func (s *binBuf) patchU32(offset int, v uint32) {
	binary.LittleEndian.PutUint32(s.b[offset:offset+4], v)
}

func (s *binBuf) patchU8(offset int, v byte) {
	s.b[offset] = v
}

// patchBytes overwrites len(data) bytes starting at offset — used to go
// back and fill in the file header once the body size is known.
func (s *binBuf) patchBytes(offset int, data []byte) {
	copy(s.b[offset:offset+len(data)], data)
}

// placeholder records where a jump backend reserved space for a distance
// operand, the offset in the instruction stream (byte position) the
// distance is measured from, and (for a backward-branching construct like
// LoopEnd) the buffer offset the branch must return to.
type placeholder struct {
	operandOffset int // buffer offset where the operand's bytes live
	width         int // 1 or 4 bytes
	start         int // buffer offset of the matching LoopStart/If, for backward branches
}

// loopStack is a stack of placeholders, one per open LoopStart/If, used to
// patch the forward jump once the matching LoopEnd/EndIf is emitted
// once the matching LoopEnd/EndIf is emitted.
type loopStack []placeholder

func (s *loopStack) push(p placeholder) { *s = append(*s, p) }

func (s *loopStack) pop() placeholder {
	n := len(*s)
	p := (*s)[n-1]
	*s = (*s)[:n-1]
	return p
}
