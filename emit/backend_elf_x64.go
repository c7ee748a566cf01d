package emit

// ELFX64Backend lowers an ir.Program straight to a Linux/x86-64 ELF
// executable: no assembler, no linker, one pass over the IR writing
// machine code into a growing buffer, then a second pass (in Footer)
// that goes back and fills in the ELF header once the body size is
// known. The tape pointer lives in rsi for the whole program; rdx is
// pinned to 1 (the length argument every write/read syscall in this
// backend uses) once in the header and never touched again.
type ELFX64Backend struct {
	Base
	buf   binBuf
	loops loopStack
}

func NewELFX64Backend() *ELFX64Backend {
	b := &ELFX64Backend{}
	b.Self = b
	return b
}

// Bytes returns the finished ELF image. Valid only after Emit has run
// Header through Footer on this backend.
func (b *ELFX64Backend) Bytes() []byte { return b.buf.Bytes() }

const (
	elfX64BaseAddr = 0x04048000
	elfX64BssAddr  = 0x04248000
	elfX64EhdrSize = 64
	elfX64PhdrSize = 56
	elfX64ShdrSize = 64
	elfX64NPhdr    = 2
	elfX64NShdr    = 4
	elfX64HdrSize  = elfX64EhdrSize + elfX64PhdrSize*elfX64NPhdr
)

var elfX64ShStrTbl = []byte("\x00.text\x00.shstrtab\x00.bss\x00")

func (b *ELFX64Backend) Header() {
	b.buf.zero(elfX64HdrSize)
	// movabs rsi, kBssAddr
	b.buf.u8(0x48)
	b.buf.u8(0xbe)
	b.buf.u64le(elfX64BssAddr)
	// mov edx, 1
	b.buf.u8(0xba)
	b.buf.u32le(1)
}

func (b *ELFX64Backend) MoveBy(n int32) {
	if n == 0 {
		return
	}
	if n > 0 {
		switch {
		case n > 127:
			b.buf.bytes([]byte{0x48, 0x81, 0xc6})
			b.buf.u32le(uint32(n))
		case n > 1:
			b.buf.bytes([]byte{0x48, 0x83, 0xc6, byte(n)})
		default:
			b.buf.bytes([]byte{0x48, 0xff, 0xc6}) // inc rsi
		}
		return
	}
	m := -n
	switch {
	case m > 127:
		b.buf.bytes([]byte{0x48, 0x81, 0xee})
		b.buf.u32le(uint32(m))
	case m > 1:
		b.buf.bytes([]byte{0x48, 0x83, 0xee, byte(m)})
	default:
		b.buf.bytes([]byte{0x48, 0xff, 0xce}) // dec rsi
	}
}

func (b *ELFX64Backend) AddBy(n int32) {
	if n == 0 {
		return
	}
	if n > 0 {
		if n > 1 {
			b.buf.bytes([]byte{0x80, 0x06, byte(n)})
		} else {
			b.buf.bytes([]byte{0xfe, 0x06}) // inc byte [rsi]
		}
		return
	}
	m := -n
	if m > 1 {
		b.buf.bytes([]byte{0x80, 0x2e, byte(m)})
	} else {
		b.buf.bytes([]byte{0xfe, 0x0e}) // dec byte [rsi]
	}
}

func (b *ELFX64Backend) Putchar() {
	b.buf.bytes([]byte{0x48, 0xc7, 0xc0})
	b.buf.u32le(1) // mov rax, 1 (sys_write)
	b.buf.u8(0xbf)
	b.buf.u32le(1) // mov edi, 1 (stdout)
	b.buf.bytes([]byte{0x0f, 0x05})
}

func (b *ELFX64Backend) Getchar() {
	b.buf.bytes([]byte{0x48, 0xc7, 0xc0})
	b.buf.u32le(0) // mov rax, 0 (sys_read)
	b.buf.bytes([]byte{0x31, 0xff}) // xor edi, edi (stdin)
	b.buf.bytes([]byte{0x0f, 0x05})
}

func (b *ELFX64Backend) openCondJump() {
	start := b.buf.Len()
	b.buf.bytes([]byte{0x80, 0x3e, 0x00}) // cmp byte [rsi], 0
	b.buf.bytes([]byte{0x0f, 0x84})       // je rel32
	operand := b.buf.Len()
	b.buf.u32le(0)
	b.loops.push(placeholder{operandOffset: operand, width: 4, start: start})
}

// closeCondJumpForward patches the forward branch to land here, without
// emitting a branch back (used by EndIf, which closes a one-shot `if`).
func (b *ELFX64Backend) closeCondJumpForward() {
	p := b.loops.pop()
	target := int32(b.buf.Len() - (p.operandOffset + 4))
	b.buf.patchU32(p.operandOffset, uint32(target))
}

func (b *ELFX64Backend) LoopStart() { b.openCondJump() }

func (b *ELFX64Backend) LoopEnd() {
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

func (b *ELFX64Backend) IfOpen()  { b.openCondJump() }
func (b *ELFX64Backend) IfClose() { b.closeCondJumpForward() }

func (b *ELFX64Backend) Assign(n int32) {
	b.buf.bytes([]byte{0xc6, 0x06, byte(n)})
}

func varDisp(off int32) (useImm32 bool, imm32 uint32, imm8 byte) {
	if off < -128 || off > 127 {
		return true, uint32(off), 0
	}
	return false, 0, byte(off)
}

func (b *ELFX64Backend) AddVar(off int32) {
	b.buf.bytes([]byte{0x8a, 0x06}) // mov al, byte [rsi]
	big, imm32, imm8 := varDisp(off)
	if big {
		b.buf.bytes([]byte{0x00, 0x86})
		b.buf.u32le(imm32)
	} else {
		b.buf.bytes([]byte{0x00, 0x46, imm8})
	}
}

func (b *ELFX64Backend) SubVar(off int32) {
	b.buf.bytes([]byte{0x8a, 0x06})
	big, imm32, imm8 := varDisp(off)
	if big {
		b.buf.bytes([]byte{0x28, 0x86})
		b.buf.u32le(imm32)
	} else {
		b.buf.bytes([]byte{0x28, 0x46, imm8})
	}
}

func (b *ELFX64Backend) AddCMulVar(off, k int32) {
	if k > 0 {
		b.buf.bytes([]byte{0xb0, byte(k)}) // mov al, k
		b.buf.bytes([]byte{0xf6, 0x26})    // mul byte [rsi]
		big, imm32, imm8 := varDisp(off)
		if big {
			b.buf.bytes([]byte{0x00, 0x86})
			b.buf.u32le(imm32)
		} else {
			b.buf.bytes([]byte{0x00, 0x46, imm8})
		}
		return
	}
	b.buf.bytes([]byte{0xb0, byte(-k)})
	b.buf.bytes([]byte{0xf6, 0x26})
	big, imm32, imm8 := varDisp(off)
	if big {
		b.buf.bytes([]byte{0x28, 0x86})
		b.buf.u32le(imm32)
	} else {
		b.buf.bytes([]byte{0x28, 0x46, imm8})
	}
}

func (b *ELFX64Backend) InfLoop() {
	b.Self.IfOpen()
	b.buf.bytes([]byte{0xeb, 0xfe}) // jmp $ (spin)
	b.Self.IfClose()
}

func (b *ELFX64Backend) Footer() {
	b.Self.Assign('\n')
	b.Self.Putchar()
	// mov eax, 0x3c ; xor edi, edi ; syscall (sys_exit(0))
	b.buf.u8(0xb8)
	b.buf.u32le(0x3c)
	b.buf.bytes([]byte{0x31, 0xff})
	b.buf.bytes([]byte{0x0f, 0x05})

	codeSize := uint64(b.buf.Len() - elfX64HdrSize)
	shStrTblOffset := uint64(elfX64HdrSize) + codeSize
	b.buf.bytes(elfX64ShStrTbl)
	shOff := uint64(b.buf.Len())

	writeShdr64(&b.buf, 0, 0 /* SHT_NULL */, 0, 0, 0, 0, 0)
	writeShdr64(&b.buf, 7, 3 /* SHT_STRTAB */, 0, 0, shStrTblOffset, uint64(len(elfX64ShStrTbl)), 1)
	writeShdr64(&b.buf, 1, 1 /* SHT_PROGBITS */, 6 /* EXECINSTR|ALLOC */, elfX64BaseAddr+elfX64HdrSize, elfX64HdrSize, codeSize, 4)
	writeShdr64(&b.buf, 17, 8 /* SHT_NOBITS */, 3 /* ALLOC|WRITE */, elfX64BssAddr, 0x1000, 0x10000, 0x10)

	fileSize := uint64(b.buf.Len())
	hdr := make([]byte, elfX64HdrSize)
	entry := uint64(elfX64BaseAddr + elfX64HdrSize)
	buildElf64Ehdr(hdr, entry, shOff, elfEMX8664, elfOSABILinux, elfX64NPhdr, elfX64NShdr)
	buildElf64Phdr(hdr[elfX64EhdrSize:], 5 /* PF_R|PF_X */, 0, elfX64BaseAddr, fileSize, 0x100)
	buildElf64Phdr(hdr[elfX64EhdrSize+elfX64PhdrSize:], 6 /* PF_R|PF_W */, 0x1000, elfX64BssAddr, 0, 0x200000)
	putU64At(hdr[elfX64EhdrSize+elfX64PhdrSize:], 40, 0x10000) // p_memsz: the zero-filled .bss tape
	b.buf.patchBytes(0, hdr)
}
