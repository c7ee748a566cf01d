package emit

// PEX64Backend lowers an ir.Program to a Windows/x86-64 PE executable.
// Unlike the ELF backends, I/O goes through the C runtime: putchar,
// getchar, and exit are resolved from msvcrt.dll via an import table and
// called indirectly through rsi/rdi/rsi. The tape pointer lives in rbx
// for the whole program. Because this is a process entry point, not a
// callee, rbx is never saved/restored — only rsi and rdi (which hold
// the resolved putchar/getchar addresses) and rbp are.
type PEX64Backend struct {
	Base
	buf   binBuf
	loops loopStack

	putcharFixup int
	getcharFixup int
	bssFixup     int
	exitFixup    int
}

func NewPEX64Backend() *PEX64Backend {
	b := &PEX64Backend{}
	b.Self = b
	return b
}

func (b *PEX64Backend) Bytes() []byte { return b.buf.Bytes() }

const (
	peImageBase       = 0x00400000
	peHeaderSize      = 0x200
	peIdataSize       = 0x200
	peCodeOffset      = peHeaderSize + peIdataSize
	peSectionAlign    = 0x1000
	peFileAlign       = 0x200
	peTextRVA         = 0x1000
)

func (b *PEX64Backend) Header() {
	b.buf.zero(peCodeOffset)
	b.buf.bytes([]byte{0x56, 0x57, 0x55}) // push rsi, rdi, rbp

	b.buf.bytes([]byte{0x48, 0x8b, 0x34, 0x25}) // mov rsi, ds:[abs32]  putchar()
	b.putcharFixup = b.buf.Len()
	b.buf.u32le(0)
	b.buf.bytes([]byte{0x48, 0x8b, 0x3c, 0x25}) // mov rdi, ds:[abs32]  getchar()
	b.getcharFixup = b.buf.Len()
	b.buf.u32le(0)
	b.buf.bytes([]byte{0x48, 0xc7, 0xc3}) // mov rbx, imm32  .bss address
	b.bssFixup = b.buf.Len()
	b.buf.u32le(0)
}

func (b *PEX64Backend) MoveBy(n int32) {
	if n == 0 {
		return
	}
	if n > 0 {
		switch {
		case n > 127:
			b.buf.bytes([]byte{0x48, 0x81, 0xc3})
			b.buf.u32le(uint32(n))
		case n > 1:
			b.buf.bytes([]byte{0x48, 0x83, 0xc3, byte(n)})
		default:
			b.buf.bytes([]byte{0x48, 0xff, 0xc3}) // inc rbx
		}
		return
	}
	m := -n
	switch {
	case m > 127:
		b.buf.bytes([]byte{0x48, 0x81, 0xeb})
		b.buf.u32le(uint32(m))
	case m > 1:
		b.buf.bytes([]byte{0x48, 0x83, 0xeb, byte(m)})
	default:
		b.buf.bytes([]byte{0x48, 0xff, 0xcb}) // dec rbx
	}
}

func (b *PEX64Backend) AddBy(n int32) {
	if n == 0 {
		return
	}
	if n > 0 {
		if n > 1 {
			b.buf.bytes([]byte{0x80, 0x03, byte(n)})
		} else {
			b.buf.bytes([]byte{0xfe, 0x03})
		}
		return
	}
	m := -n
	if m > 1 {
		b.buf.bytes([]byte{0x80, 0x2b, byte(m)})
	} else {
		b.buf.bytes([]byte{0xfe, 0x0b})
	}
}

func (b *PEX64Backend) Putchar() {
	b.buf.bytes([]byte{0x48, 0x8b, 0x0b})       // mov rcx, [rbx]
	b.buf.bytes([]byte{0x48, 0x83, 0xec, 0x20}) // sub rsp, 0x20
	b.buf.bytes([]byte{0xff, 0xd6})             // call rsi
	b.buf.bytes([]byte{0x48, 0x83, 0xc4, 0x20}) // add rsp, 0x20
}

func (b *PEX64Backend) Getchar() {
	b.buf.bytes([]byte{0x48, 0x83, 0xec, 0x20}) // sub rsp, 0x20
	b.buf.bytes([]byte{0xff, 0xd7})             // call rdi
	b.buf.bytes([]byte{0x48, 0x83, 0xc4, 0x20}) // add rsp, 0x20
	b.buf.bytes([]byte{0x88, 0x03})             // mov [rbx], al
}

func (b *PEX64Backend) openCondJump() {
	start := b.buf.Len()
	b.buf.bytes([]byte{0x80, 0x3b, 0x00}) // cmp byte [rbx], 0
	b.buf.bytes([]byte{0x0f, 0x84})
	operand := b.buf.Len()
	b.buf.u32le(0)
	b.loops.push(placeholder{operandOffset: operand, width: 4, start: start})
}

func (b *PEX64Backend) closeCondJumpForward() {
	p := b.loops.pop()
	target := int32(b.buf.Len() - (p.operandOffset + 4))
	b.buf.patchU32(p.operandOffset, uint32(target))
}

func (b *PEX64Backend) LoopStart() { b.openCondJump() }

func (b *PEX64Backend) LoopEnd() {
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

func (b *PEX64Backend) IfOpen()  { b.openCondJump() }
func (b *PEX64Backend) IfClose() { b.closeCondJumpForward() }

func (b *PEX64Backend) Assign(n int32) {
	b.buf.bytes([]byte{0xc6, 0x03, byte(n)})
}

func (b *PEX64Backend) AddVar(off int32) {
	b.buf.bytes([]byte{0x8a, 0x03}) // mov al, [rbx]
	big, imm32, imm8 := varDisp(off)
	if big {
		b.buf.bytes([]byte{0x00, 0x83})
		b.buf.u32le(imm32)
	} else {
		b.buf.bytes([]byte{0x00, 0x43, imm8})
	}
}

func (b *PEX64Backend) SubVar(off int32) {
	b.buf.bytes([]byte{0x8a, 0x03})
	big, imm32, imm8 := varDisp(off)
	if big {
		b.buf.bytes([]byte{0x28, 0x83})
		b.buf.u32le(imm32)
	} else {
		b.buf.bytes([]byte{0x28, 0x43, imm8})
	}
}

func (b *PEX64Backend) AddCMulVar(off, k int32) {
	if k > 0 {
		b.buf.bytes([]byte{0xb0, byte(k)})
		b.buf.bytes([]byte{0xf6, 0x23}) // mul byte [rbx]
		big, imm32, imm8 := varDisp(off)
		if big {
			b.buf.bytes([]byte{0x00, 0x83})
			b.buf.u32le(imm32)
		} else {
			b.buf.bytes([]byte{0x00, 0x43, imm8})
		}
		return
	}
	b.buf.bytes([]byte{0xb0, byte(-k)})
	b.buf.bytes([]byte{0xf6, 0x23})
	big, imm32, imm8 := varDisp(off)
	if big {
		b.buf.bytes([]byte{0x28, 0x83})
		b.buf.u32le(imm32)
	} else {
		b.buf.bytes([]byte{0x28, 0x43, imm8})
	}
}

func (b *PEX64Backend) InfLoop() {
	b.Self.IfOpen()
	b.buf.bytes([]byte{0xeb, 0xfe})
	b.Self.IfClose()
}

func (b *PEX64Backend) BreakPoint() { b.buf.u8(0xcc) }

func alignUp(n, align int) int { return align * ((n + align - 1) / align) }

func (b *PEX64Backend) Footer() {
	b.Self.Assign('\n')
	b.Self.Putchar()
	b.buf.bytes([]byte{0x5d, 0x5f, 0x5e}) // pop rbp, rdi, rsi
	b.buf.bytes([]byte{0x31, 0xc9})       // xor ecx, ecx

	b.buf.bytes([]byte{0x48, 0x8b, 0x34, 0x25}) // mov rsi, ds:[abs32]  exit()
	b.exitFixup = b.buf.Len()
	b.buf.u32le(0)
	b.buf.bytes([]byte{0x48, 0x83, 0xec, 0x20}) // sub rsp, 0x20
	b.buf.bytes([]byte{0xff, 0xd6})             // call rsi

	codeSize := b.buf.Len() - peCodeOffset
	codeSizeAligned := alignUp(codeSize, peSectionAlign)
	b.buf.zero(codeSizeAligned - codeSize)

	textRVA := uint32(peTextRVA)
	idataRVA := textRVA + uint32(codeSizeAligned)
	bssRVA := idataRVA + peSectionAlign

	b.writeImportTable(idataRVA)

	hdr := b.buildPEHeader(uint32(codeSizeAligned), textRVA, idataRVA, bssRVA)
	b.buf.patchBytes(0, hdr)

	b.buf.patchU32(b.putcharFixup, peImageBase+b.firstThunkRVA(idataRVA))
	b.buf.patchU32(b.getcharFixup, peImageBase+b.firstThunkRVA(idataRVA)+8)
	b.buf.patchU32(b.exitFixup, peImageBase+b.firstThunkRVA(idataRVA)+16)
	b.buf.patchU32(b.bssFixup, peImageBase+bssRVA)
}

// firstThunkRVA is the RVA of the Import Address Table, rederived from
// the layout writeImportTable used — both must agree on the constant
// offsets within the .idata region.
func (b *PEX64Backend) firstThunkRVA(idataRVA uint32) uint32 {
	return idataRVA + 40 + 16 + 32
}

func (b *PEX64Backend) writeImportTable(idataRVA uint32) {
	dllName := []byte("msvcrt.dll\x00\x00\x00\x00\x00\x00")
	putcharName := []byte("putchar\x00")
	getcharName := []byte("getchar\x00")
	exitName := []byte("exit\x00\x00\x00\x00")

	originalFirstThunk := idataRVA + 40
	nameRVA := originalFirstThunk + 32
	firstThunk := nameRVA + uint32(len(dllName))

	hint0 := firstThunk + 32
	hint1 := hint0 + 2 + uint32(len(putcharName))
	hint2 := hint1 + 2 + uint32(len(getcharName))

	at := peHeaderSize
	put := func(v []byte) { b.buf.patchBytes(at, v); at += len(v) }

	var iid [20]byte
	putU32At(iid[:], 0, originalFirstThunk)
	putU32At(iid[:], 12, nameRVA)
	putU32At(iid[:], 16, firstThunk)
	put(iid[:])
	var iidZero [20]byte
	put(iidZero[:])

	writeThunk := func(addr uint32) {
		var t [8]byte
		putU32At(t[:], 0, addr)
		put(t[:])
	}
	writeThunk(hint0)
	writeThunk(hint1)
	writeThunk(hint2)
	writeThunk(0)
	put(dllName)
	writeThunk(hint0)
	writeThunk(hint1)
	writeThunk(hint2)
	writeThunk(0)

	put([]byte{0, 0})
	put(putcharName)
	put([]byte{0, 0})
	put(getcharName)
	put([]byte{0, 0})
	put(exitName)
}

func (b *PEX64Backend) buildPEHeader(codeSizeAligned, textRVA, idataRVA, bssRVA uint32) []byte {
	hdr := make([]byte, peHeaderSize)

	// DOS header (64 bytes): just enough for loaders that check e_magic
	// and e_lfanew; the rest of the MZ header fields are cosmetic.
	hdr[0], hdr[1] = 'M', 'Z'
	putU32At(hdr, 0x3c, 0x80) // e_lfanew: COFF header starts at 0x80

	putU32At(hdr, 0x80, 0x00004550) // "PE\0\0"
	coff := hdr[0x84:]
	putU16At(coff, 0, 0x8664) // Machine: AMD64
	putU16At(coff, 2, 3)      // NumberOfSections
	putU32At(coff, 4, 0)      // TimeDateStamp
	putU32At(coff, 8, 0)      // PointerToSymbolTable
	putU32At(coff, 12, 0)     // NumberOfSymbols
	putU16At(coff, 16, 240)   // SizeOfOptionalHeader (IMAGE_OPTIONAL_HEADER64)
	putU16At(coff, 18, 0x0022|0x0002) // EXECUTABLE_IMAGE | LARGE_ADDRESS_AWARE

	opt := hdr[0x98:]
	putU16At(opt, 0, 0x20b) // PE32+ magic
	opt[2] = 14             // MajorLinkerVersion
	opt[3] = 0
	putU32At(opt, 4, codeSizeAligned)        // SizeOfCode
	putU32At(opt, 8, 0)                      // SizeOfInitializedData
	putU32At(opt, 12, 0x10000)               // SizeOfUninitializedData
	putU32At(opt, 16, textRVA)               // AddressOfEntryPoint
	putU32At(opt, 20, textRVA)               // BaseOfCode
	putU64At(opt, 24, peImageBase)           // ImageBase
	putU32At(opt, 32, peSectionAlign)        // SectionAlignment
	putU32At(opt, 36, peFileAlign)           // FileAlignment
	putU16At(opt, 40, 4) // MajorOSVersion
	putU16At(opt, 48, 4) // MajorSubsystemVersion
	putU32At(opt, 56, bssRVA+0x10000+peSectionAlign*2) // SizeOfImage
	putU32At(opt, 60, peHeaderSize)                    // SizeOfHeaders
	putU16At(opt, 68, 3)                               // Subsystem: CUI
	putU64At(opt, 72, 1024*1024) // SizeOfStackReserve
	putU64At(opt, 80, 8*1024)    // SizeOfStackCommit
	putU64At(opt, 88, 1024*1024) // SizeOfHeapReserve
	putU64At(opt, 96, 4*1024)    // SizeOfHeapCommit
	putU32At(opt, 108, 16)       // NumberOfRvaAndSizes
	putU32At(opt, 112+8, idataRVA) // DataDirectory[1] (import table) VirtualAddress
	putU32At(opt, 112+12, 100)    // DataDirectory[1].Size

	sect := hdr[0x98+240:]
	writeSectionHeader := func(i int, name string, vsize, rva, rawsize, rawptr, flags uint32) {
		s := sect[i*40:]
		copy(s[0:8], name)
		putU32At(s, 8, vsize)
		putU32At(s, 12, rva)
		putU32At(s, 16, rawsize)
		putU32At(s, 20, rawptr)
		putU32At(s, 36, flags)
	}
	writeSectionHeader(0, ".text", codeSizeAligned, textRVA, codeSizeAligned, peCodeOffset, 0x60000020)
	writeSectionHeader(1, ".idata", 100, idataRVA, 512, peHeaderSize, 0xc0000040)
	writeSectionHeader(2, ".bss", 0x10000, bssRVA, 0, 0, 0xc0000080)

	return hdr
}
