package emit

// ELFX86Backend lowers an ir.Program to a Linux/i386 ELF executable using
// the int 0x80 syscall ABI. The tape pointer lives in ecx for the whole
// program; edx is pinned to 1 once in the header.
type ELFX86Backend struct {
	Base
	buf   binBuf
	loops loopStack
}

func NewELFX86Backend() *ELFX86Backend {
	b := &ELFX86Backend{}
	b.Self = b
	return b
}

func (b *ELFX86Backend) Bytes() []byte { return b.buf.Bytes() }

const (
	elfX86BaseAddr = 0x08048000
	elfX86BssAddr  = 0x08248000
	elfX86EhdrSize = 52
	elfX86PhdrSize = 32
	elfX86ShdrSize = 40
	elfX86NPhdr    = 2
	elfX86NShdr    = 4
	elfX86HdrSize  = elfX86EhdrSize + elfX86PhdrSize*elfX86NPhdr
)

func (b *ELFX86Backend) Header() {
	b.buf.zero(elfX86HdrSize)
	b.buf.u8(0xb9) // mov ecx, kBssAddr
	b.buf.u32le(elfX86BssAddr)
	b.buf.u8(0xba) // mov edx, 1
	b.buf.u32le(1)
}

func (b *ELFX86Backend) MoveBy(n int32) {
	if n == 0 {
		return
	}
	if n > 0 {
		switch {
		case n > 127:
			b.buf.bytes([]byte{0x81, 0xc1})
			b.buf.u32le(uint32(n))
		case n > 1:
			b.buf.bytes([]byte{0x83, 0xc1, byte(n)})
		default:
			b.buf.u8(0x41) // inc ecx
		}
		return
	}
	m := -n
	switch {
	case m > 127:
		b.buf.bytes([]byte{0x81, 0xe9})
		b.buf.u32le(uint32(m))
	case m > 1:
		b.buf.bytes([]byte{0x83, 0xe9, byte(m)})
	default:
		b.buf.u8(0x49) // dec ecx
	}
}

func (b *ELFX86Backend) AddBy(n int32) {
	if n == 0 {
		return
	}
	if n > 0 {
		if n > 1 {
			b.buf.bytes([]byte{0x80, 0x01, byte(n)})
		} else {
			b.buf.bytes([]byte{0xfe, 0x01})
		}
		return
	}
	m := -n
	if m > 1 {
		b.buf.bytes([]byte{0x80, 0x29, byte(m)})
	} else {
		b.buf.bytes([]byte{0xfe, 0x09})
	}
}

func (b *ELFX86Backend) Putchar() {
	b.buf.u8(0xb8)
	b.buf.u32le(0x04) // mov eax, 4 (sys_write)
	b.buf.u8(0xbb)
	b.buf.u32le(1) // mov ebx, 1 (stdout)
	b.buf.bytes([]byte{0xcd, 0x80})
}

func (b *ELFX86Backend) Getchar() {
	b.buf.u8(0xb8)
	b.buf.u32le(0x03) // mov eax, 3 (sys_read)
	b.buf.bytes([]byte{0x31, 0xdb}) // xor ebx, ebx (stdin)
	b.buf.bytes([]byte{0xcd, 0x80})
}

func (b *ELFX86Backend) openCondJump() {
	start := b.buf.Len()
	b.buf.bytes([]byte{0x80, 0x39, 0x00}) // cmp byte [ecx], 0
	b.buf.bytes([]byte{0x0f, 0x84})
	operand := b.buf.Len()
	b.buf.u32le(0)
	b.loops.push(placeholder{operandOffset: operand, width: 4, start: start})
}

func (b *ELFX86Backend) closeCondJumpForward() {
	p := b.loops.pop()
	target := int32(b.buf.Len() - (p.operandOffset + 4))
	b.buf.patchU32(p.operandOffset, uint32(target))
}

func (b *ELFX86Backend) LoopStart() { b.openCondJump() }

func (b *ELFX86Backend) LoopEnd() {
	p := b.loops.pop()
	cur := b.buf.Len()
	rel8 := p.start - (cur + 2)
	if rel8 >= -128 && rel8 <= 127 {
		b.buf.bytes([]byte{0xeb, byte(int8(rel8))})
	} else {
		rel32 := int32(p.start - (cur + 5))
		b.buf.u8(0xe9)
		b.buf.u32le(uint32(rel32))
	}
	target := int32(b.buf.Len() - (p.operandOffset + 4))
	b.buf.patchU32(p.operandOffset, uint32(target))
}

func (b *ELFX86Backend) IfOpen()  { b.openCondJump() }
func (b *ELFX86Backend) IfClose() { b.closeCondJumpForward() }

func (b *ELFX86Backend) Assign(n int32) {
	b.buf.bytes([]byte{0xc6, 0x01, byte(n)})
}

func (b *ELFX86Backend) AddVar(off int32) {
	b.buf.bytes([]byte{0x8a, 0x01}) // mov al, byte [ecx]
	big, imm32, imm8 := varDisp(off)
	if big {
		b.buf.bytes([]byte{0x00, 0x81})
		b.buf.u32le(imm32)
	} else {
		b.buf.bytes([]byte{0x00, 0x41, imm8})
	}
}

func (b *ELFX86Backend) SubVar(off int32) {
	b.buf.bytes([]byte{0x8a, 0x01})
	big, imm32, imm8 := varDisp(off)
	if big {
		b.buf.bytes([]byte{0x28, 0x81})
		b.buf.u32le(imm32)
	} else {
		b.buf.bytes([]byte{0x28, 0x41, imm8})
	}
}

func (b *ELFX86Backend) AddCMulVar(off, k int32) {
	if k > 0 {
		b.buf.bytes([]byte{0xb0, byte(k)})
		b.buf.bytes([]byte{0xf6, 0x21}) // mul byte [ecx]
		big, imm32, imm8 := varDisp(off)
		if big {
			b.buf.bytes([]byte{0x00, 0x81})
			b.buf.u32le(imm32)
		} else {
			b.buf.bytes([]byte{0x00, 0x41, imm8})
		}
		return
	}
	b.buf.bytes([]byte{0xb0, byte(-k)})
	b.buf.bytes([]byte{0xf6, 0x21})
	big, imm32, imm8 := varDisp(off)
	if big {
		b.buf.bytes([]byte{0x28, 0x81})
		b.buf.u32le(imm32)
	} else {
		b.buf.bytes([]byte{0x28, 0x41, imm8})
	}
}

func (b *ELFX86Backend) InfLoop() {
	b.Self.IfOpen()
	b.buf.bytes([]byte{0xeb, 0xfe})
	b.Self.IfClose()
}

var elfX86ShStrTbl = []byte("\x00.text\x00.shstrtab\x00.bss\x00")

func (b *ELFX86Backend) Footer() {
	b.Self.Assign('\n')
	b.Self.Putchar()
	// mov eax, 1 ; xor ebx, ebx ; int 0x80 (sys_exit(0))
	b.buf.u8(0xb8)
	b.buf.u32le(1)
	b.buf.bytes([]byte{0x31, 0xdb})
	b.buf.bytes([]byte{0xcd, 0x80})

	codeSize := uint32(b.buf.Len() - elfX86HdrSize)
	shStrTblOffset := uint32(elfX86HdrSize) + codeSize
	b.buf.bytes(elfX86ShStrTbl)
	shOff := uint32(b.buf.Len())

	writeShdr32(&b.buf, 0, 0, 0, 0, 0, 0, 0)
	writeShdr32(&b.buf, 7, 3, 0, 0, shStrTblOffset, uint32(len(elfX86ShStrTbl)), 1)
	writeShdr32(&b.buf, 1, 1, 6, elfX86BaseAddr+elfX86HdrSize, elfX86HdrSize, codeSize, 4)
	writeShdr32(&b.buf, 17, 8, 3, elfX86BssAddr, 0x1000, 0x10000, 0x10)

	fileSize := uint32(b.buf.Len())
	hdr := make([]byte, elfX86HdrSize)
	entry := uint32(elfX86BaseAddr + elfX86HdrSize)
	buildElf32Ehdr(hdr, entry, shOff, elfEM386, elfOSABILinux, elfX86NPhdr, elfX86NShdr)
	buildElf32Phdr(hdr[elfX86EhdrSize:], 5, 0, elfX86BaseAddr, fileSize, 0x100)
	buildElf32Phdr(hdr[elfX86EhdrSize+elfX86PhdrSize:], 6, 0x1000, elfX86BssAddr, 0, 0x200000)
	putU32At(hdr[elfX86EhdrSize+elfX86PhdrSize:], 20, 0x10000) // p_memsz: the zero-filled .bss tape
	b.buf.patchBytes(0, hdr)
}
