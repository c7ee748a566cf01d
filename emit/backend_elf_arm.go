package emit

import "github.com/pkg/errors"

// ErrOffsetOverflow is returned by ELFArmBackend when a variable-cell
// offset does not fit ARM's 12-bit ldrb/strb immediate field. The
// reference generator printed a diagnostic and emitted a truncated,
// silently-wrong instruction in this case; this backend refuses instead.
var ErrOffsetOverflow = errors.New("emit: variable-cell offset exceeds ARM 12-bit immediate range")

// ELFArmBackend lowers an ir.Program to a Linux/ARM EABI ELF executable.
// The tape pointer lives in r1; r9 holds the current cell's value across
// an If/EndIf block for the derived AddVar/SubVar/AddCMulVar opcodes,
// mirroring the reference's register convention.
type ELFArmBackend struct {
	Base
	buf   binBuf
	loops loopStack
	err   error
}

func NewELFArmBackend() *ELFArmBackend {
	b := &ELFArmBackend{}
	b.Self = b
	return b
}

func (b *ELFArmBackend) Bytes() []byte { return b.buf.Bytes() }

// Err returns the first offset-overflow error encountered during
// emission, or nil if every offset fit.
func (b *ELFArmBackend) Err() error { return b.err }

const (
	armBaseAddr = 0x00010000
	armBssAddr  = 0x00210000
	armEhdrSize = 52
	armPhdrSize = 32
	armNPhdr    = 2
	armNShdr    = 4
	armHdrSize  = armEhdrSize + armPhdrSize*armNPhdr
)

func (b *ELFArmBackend) Header() {
	b.buf.zero(armHdrSize)
	b.buf.u32le(0xe59f1000) // ldr r1, [pc]
	b.buf.u32le(0xea000000) // b #0
	b.buf.u32le(armBssAddr) // constant: tape base
	b.buf.u32le(0xe3a02001) // mov r2, #1
}

func (b *ELFArmBackend) MoveBy(n int32) {
	if n == 0 {
		return
	}
	if n > 0 {
		if n > 4095 {
			b.buf.u32le(0xe59f8000) // ldr r8, [pc]
			b.buf.u32le(0xea000000) // b #0
			b.buf.u32le(uint32(n))
			b.buf.u32le(0xe0811008) // add r1, r1, r8
		} else {
			b.buf.u32le(0xe2811000 | (uint32(n) & 0xfff))
		}
		return
	}
	m := -n
	if m > 4095 {
		b.buf.u32le(0xe59f8000)
		b.buf.u32le(0xea000000)
		b.buf.u32le(uint32(m))
		b.buf.u32le(0xe0411008) // sub r1, r1, r8
	} else {
		b.buf.u32le(0xe2411000 | (uint32(m) & 0xfff))
	}
}

func (b *ELFArmBackend) AddBy(n int32) {
	if n == 0 {
		return
	}
	b.buf.u32le(0xe5d18000) // ldrb r8, [r1]
	if n > 0 {
		b.buf.u32le(0xe2888000 | (uint32(n) & 0xff))
	} else {
		b.buf.u32le(0xe2488000 | (uint32(-n) & 0xff))
	}
	b.buf.u32le(0xe5c18000) // strb r8, [r1]
}

func (b *ELFArmBackend) Putchar() {
	b.buf.u32le(0xe3a07004) // mov r7, #4 (sys_write)
	b.buf.u32le(0xe3a00001) // mov r0, #1 (stdout)
	b.buf.u32le(0xef000000) // svc #0
}

func (b *ELFArmBackend) Getchar() {
	b.buf.u32le(0xe3a07003) // mov r7, #3 (sys_read)
	b.buf.u32le(0xe3a00000) // mov r0, #0 (stdin)
	b.buf.u32le(0xef000000) // svc #0
}

func (b *ELFArmBackend) openLoop() {
	start := b.buf.Len()
	b.buf.u32le(0xe5d18000) // ldrb r8, [r1]
	b.buf.u32le(0xe3580000) // cmp r8, #0
	operand := b.buf.Len()
	b.buf.u32le(0x0a000000) // beq placeholder
	b.loops.push(placeholder{operandOffset: operand, start: start})
}

func (b *ELFArmBackend) LoopStart() { b.openLoop() }

func (b *ELFArmBackend) LoopEnd() {
	p := b.loops.pop()
	cur := b.buf.Len()
	offset := (cur - p.start) / 4
	back := uint32(0xea000000) | (uint32(int32(-(offset+2))) & 0x00ffffff)
	b.buf.u32le(back)
	exit := uint32(0x0a000000) | (uint32(int32(offset-3)) & 0x00ffffff)
	b.buf.patchU32(p.operandOffset, exit)
}

func (b *ELFArmBackend) IfOpen() {
	b.openLoop()
	b.buf.u32le(0xe5d19000) // ldrb r9, [r1] (current cell, used by AddVar/SubVar/AddCMulVar)
}

func (b *ELFArmBackend) IfClose() {
	p := b.loops.pop()
	cur := b.buf.Len()
	offset := (cur - p.start) / 4
	exit := uint32(0x0a000000) | (uint32(int32(offset-2)) & 0x00ffffff)
	b.buf.patchU32(p.operandOffset, exit)
}

func (b *ELFArmBackend) Assign(n int32) {
	b.buf.u32le(0xe3a08000 | (uint32(byte(n)) & 0xff)) // mov r8, #n
	b.buf.u32le(0xe5c18000)                            // strb r8, [r1]
}

func armLdrbStrb(off int32) (ldr, str uint32) {
	if off >= 0 {
		return 0xe5d18000 | (uint32(off) & 0xfff), 0xe5c18000 | (uint32(off) & 0xfff)
	}
	return 0xe5518000 | (uint32(-off) & 0xfff), 0xe5418000 | (uint32(-off) & 0xfff)
}

func (b *ELFArmBackend) checkOffset(off int32) bool {
	if b.err != nil {
		return false
	}
	if off > 4095 || off < -4095 {
		b.err = errors.Wrapf(ErrOffsetOverflow, "offset %d", off)
		return false
	}
	return true
}

func (b *ELFArmBackend) AddVar(off int32) {
	if !b.checkOffset(off) {
		return
	}
	ldr, str := armLdrbStrb(off)
	b.buf.u32le(ldr)
	b.buf.u32le(0xe0888009) // add r8, r8, r9
	b.buf.u32le(str)
}

func (b *ELFArmBackend) SubVar(off int32) {
	if !b.checkOffset(off) {
		return
	}
	ldr, str := armLdrbStrb(off)
	b.buf.u32le(ldr)
	b.buf.u32le(0xe0488009) // sub r8, r8, r9
	b.buf.u32le(str)
}

func (b *ELFArmBackend) AddCMulVar(off, k int32) {
	if !b.checkOffset(off) {
		return
	}
	ldr, str := armLdrbStrb(off)
	b.buf.u32le(ldr)
	if k > 0 {
		b.buf.u32le(0xe3a06000 | (uint32(k) & 0xff)) // mov r6, #k
		b.buf.u32le(0xe0060699)                      // mul r6, r9, r6
		b.buf.u32le(0xe0888006)                       // add r8, r8, r6
	} else {
		b.buf.u32le(0xe3a06000 | (uint32(-k) & 0xff))
		b.buf.u32le(0xe0060699)
		b.buf.u32le(0xe0488006) // sub r8, r8, r6
	}
	b.buf.u32le(str)
}

func (b *ELFArmBackend) BreakPoint() {
	b.buf.u32le(0xe7f001f0) // undefined instruction trap
}

var elfArmShStrTbl = []byte("\x00.text\x00.shstrtab\x00.bss\x00")

func (b *ELFArmBackend) Footer() {
	b.Self.Assign('\n')
	b.Self.Putchar()
	b.buf.u32le(0xe3a07001) // mov r7, #1 (sys_exit)
	b.buf.u32le(0xe3a00000) // mov r0, #0
	b.buf.u32le(0xef000000) // svc #0

	codeSize := uint32(b.buf.Len() - armHdrSize)
	shStrTblOffset := uint32(armHdrSize) + codeSize
	b.buf.bytes(elfArmShStrTbl)
	shOff := uint32(b.buf.Len())

	writeShdr32(&b.buf, 0, 0, 0, 0, 0, 0, 0)
	writeShdr32(&b.buf, 7, 3, 0, 0, shStrTblOffset, uint32(len(elfArmShStrTbl)), 1)
	writeShdr32(&b.buf, 1, 1, 6, armBaseAddr+armHdrSize, armHdrSize, codeSize, 4)
	writeShdr32(&b.buf, 17, 8, 3, armBssAddr, 0x1000, 0x10000, 0x10)

	fileSize := uint32(b.buf.Len())
	hdr := make([]byte, armHdrSize)
	entry := uint32(armBaseAddr + armHdrSize)
	buildElf32Ehdr(hdr, entry, shOff, elfEMARM, elfOSABIArmAEABI, armNPhdr, armNShdr)
	buildElf32Phdr(hdr[armEhdrSize:], 5, 0, armBaseAddr, fileSize, 0x100)
	buildElf32Phdr(hdr[armEhdrSize+armPhdrSize:], 6, 0x1000, armBssAddr, 0, 0x200000)
	putU32At(hdr[armEhdrSize+armPhdrSize:], 20, 0x10000) // p_memsz: the zero-filled .bss tape
	b.buf.patchBytes(0, hdr)
}
