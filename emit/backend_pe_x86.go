package emit

// PEX86Backend lowers an ir.Program to a Windows/i386 PE executable,
// the 32-bit counterpart to PEX64Backend. putchar/getchar/exit are
// resolved from msvcrt.dll; arguments go on the stack (cdecl), not in
// registers. The tape pointer lives in ebx for the whole program.
type PEX86Backend struct {
	Base
	buf   binBuf
	loops loopStack

	putcharFixup int
	getcharFixup int
	bssFixup     int
	exitFixup    int
}

func NewPEX86Backend() *PEX86Backend {
	b := &PEX86Backend{}
	b.Self = b
	return b
}

func (b *PEX86Backend) Bytes() []byte { return b.buf.Bytes() }

const (
	peX86ImageBase  = 0x00400000
	peX86CodeOffset = peHeaderSize + peIdataSize
)

func (b *PEX86Backend) Header() {
	b.buf.zero(peX86CodeOffset)
	b.buf.bytes([]byte{0x8b, 0x35}) // mov esi, ds:[abs32]  putchar()
	b.putcharFixup = b.buf.Len()
	b.buf.u32le(0)
	b.buf.bytes([]byte{0x8b, 0x3d}) // mov edi, ds:[abs32]  getchar()
	b.getcharFixup = b.buf.Len()
	b.buf.u32le(0)
	b.buf.u8(0xbb) // mov ebx, imm32  .bss address
	b.bssFixup = b.buf.Len()
	b.buf.u32le(0)
}

func (b *PEX86Backend) MoveBy(n int32) {
	if n == 0 {
		return
	}
	if n > 0 {
		switch {
		case n > 127:
			b.buf.bytes([]byte{0x81, 0xc3})
			b.buf.u32le(uint32(n))
		case n > 1:
			b.buf.bytes([]byte{0x83, 0xc3, byte(n)})
		default:
			b.buf.u8(0x43) // inc ebx
		}
		return
	}
	m := -n
	switch {
	case m > 127:
		b.buf.bytes([]byte{0x81, 0xeb})
		b.buf.u32le(uint32(m))
	case m > 1:
		b.buf.bytes([]byte{0x83, 0xeb, byte(m)})
	default:
		b.buf.u8(0x4b) // dec ebx
	}
}

func (b *PEX86Backend) AddBy(n int32) {
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

func (b *PEX86Backend) Putchar() {
	b.buf.bytes([]byte{0xff, 0x33}) // push dword [ebx]  (cdecl argument)
	b.buf.bytes([]byte{0xff, 0xd6}) // call esi
	b.buf.u8(0x58)                  // pop eax  (caller cleans the stack)
}

func (b *PEX86Backend) Getchar() {
	b.buf.bytes([]byte{0xff, 0xd7}) // call edi
	b.buf.bytes([]byte{0x88, 0x03}) // mov [ebx], al
}

func (b *PEX86Backend) openCondJump() {
	start := b.buf.Len()
	b.buf.bytes([]byte{0x80, 0x3b, 0x00}) // cmp byte [ebx], 0
	b.buf.bytes([]byte{0x0f, 0x84})
	operand := b.buf.Len()
	b.buf.u32le(0)
	b.loops.push(placeholder{operandOffset: operand, width: 4, start: start})
}

func (b *PEX86Backend) closeCondJumpForward() {
	p := b.loops.pop()
	target := int32(b.buf.Len() - (p.operandOffset + 4))
	b.buf.patchU32(p.operandOffset, uint32(target))
}

func (b *PEX86Backend) LoopStart() { b.openCondJump() }

func (b *PEX86Backend) LoopEnd() {
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

func (b *PEX86Backend) IfOpen()  { b.openCondJump() }
func (b *PEX86Backend) IfClose() { b.closeCondJumpForward() }

func (b *PEX86Backend) Assign(n int32) {
	b.buf.bytes([]byte{0xc6, 0x03, byte(n)})
}

func (b *PEX86Backend) AddVar(off int32) {
	b.buf.bytes([]byte{0x8a, 0x03}) // mov al, [ebx]
	big, imm32, imm8 := varDisp(off)
	if big {
		b.buf.bytes([]byte{0x00, 0x83})
		b.buf.u32le(imm32)
	} else {
		b.buf.bytes([]byte{0x00, 0x43, imm8})
	}
}

func (b *PEX86Backend) SubVar(off int32) {
	b.buf.bytes([]byte{0x8a, 0x03})
	big, imm32, imm8 := varDisp(off)
	if big {
		b.buf.bytes([]byte{0x28, 0x83})
		b.buf.u32le(imm32)
	} else {
		b.buf.bytes([]byte{0x28, 0x43, imm8})
	}
}

func (b *PEX86Backend) AddCMulVar(off, k int32) {
	if k > 0 {
		b.buf.bytes([]byte{0xb0, byte(k)})
		b.buf.bytes([]byte{0xf6, 0x23}) // mul byte [ebx]
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

func (b *PEX86Backend) InfLoop() {
	b.Self.IfOpen()
	b.buf.bytes([]byte{0xeb, 0xfe})
	b.Self.IfClose()
}

func (b *PEX86Backend) BreakPoint() { b.buf.u8(0xcc) }

func (b *PEX86Backend) Footer() {
	b.Self.Assign('\n')
	b.Self.Putchar()

	b.buf.bytes([]byte{0x8b, 0x35}) // mov esi, ds:[abs32]  exit()
	b.exitFixup = b.buf.Len()
	b.buf.u32le(0)
	b.buf.u8(0x6a) // push 0
	b.buf.u8(0x00)
	b.buf.bytes([]byte{0xff, 0xd6}) // call esi

	codeSize := b.buf.Len() - peX86CodeOffset
	codeSizeAligned := alignUp(codeSize, peSectionAlign)
	b.buf.zero(codeSizeAligned - codeSize)

	textRVA := uint32(peTextRVA)
	idataRVA := textRVA + uint32(codeSizeAligned)
	bssRVA := idataRVA + peSectionAlign

	b.writeImportTable(idataRVA)

	hdr := b.buildPEHeader(uint32(codeSizeAligned), textRVA, idataRVA, bssRVA)
	b.buf.patchBytes(0, hdr)

	iat := b.firstThunkRVA(idataRVA)
	b.buf.patchU32(b.putcharFixup, peX86ImageBase+iat)
	b.buf.patchU32(b.getcharFixup, peX86ImageBase+iat+4)
	b.buf.patchU32(b.exitFixup, peX86ImageBase+iat+8)
	b.buf.patchU32(b.bssFixup, peX86ImageBase+bssRVA)
}

// firstThunkRVA is the RVA of the Import Address Table; it must agree
// with the layout writeImportTable lays down (32-bit thunks, 4 bytes
// each, unlike PEX64Backend's 8-byte thunks).
func (b *PEX86Backend) firstThunkRVA(idataRVA uint32) uint32 {
	return idataRVA + 40 + 16 + 16
}

func (b *PEX86Backend) writeImportTable(idataRVA uint32) {
	dllName := []byte("msvcrt.dll\x00\x00\x00\x00\x00\x00")
	putcharName := []byte("putchar\x00")
	getcharName := []byte("getchar\x00")
	exitName := []byte("exit\x00\x00\x00")

	originalFirstThunk := idataRVA + 40
	nameRVA := originalFirstThunk + 16
	firstThunk := nameRVA + uint32(len(dllName))

	hint0 := firstThunk + 16
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
		var t [4]byte
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

func (b *PEX86Backend) buildPEHeader(codeSizeAligned, textRVA, idataRVA, bssRVA uint32) []byte {
	hdr := make([]byte, peHeaderSize)

	hdr[0], hdr[1] = 'M', 'Z'
	putU32At(hdr, 0x3c, 0x80) // e_lfanew

	putU32At(hdr, 0x80, 0x00004550) // "PE\0\0"
	coff := hdr[0x84:]
	putU16At(coff, 0, 0x014c) // Machine: I386
	putU16At(coff, 2, 3)      // NumberOfSections
	putU16At(coff, 16, 224)   // SizeOfOptionalHeader (IMAGE_OPTIONAL_HEADER32)
	putU16At(coff, 18, 0x0022|0x0002|0x0200|0x0100|0x0400)

	opt := hdr[0x98:]
	putU16At(opt, 0, 0x10b) // PE32 magic
	opt[2] = 14
	putU32At(opt, 4, codeSizeAligned)  // SizeOfCode
	putU32At(opt, 8, 0)                // SizeOfInitializedData
	putU32At(opt, 12, 0x10000)         // SizeOfUninitializedData
	putU32At(opt, 16, peTextRVA)       // AddressOfEntryPoint
	putU32At(opt, 20, peTextRVA)       // BaseOfCode
	putU32At(opt, 24, peTextRVA+codeSizeAligned+peSectionAlign) // BaseOfData
	putU32At(opt, 28, peX86ImageBase)                           // ImageBase
	putU32At(opt, 32, peSectionAlign)                           // SectionAlignment
	putU32At(opt, 36, peFileAlign)                              // FileAlignment
	putU16At(opt, 40, 4) // MajorOSVersion
	putU16At(opt, 48, 4) // MajorSubsystemVersion
	putU32At(opt, 56, bssRVA+0x10000+peSectionAlign*2) // SizeOfImage
	putU32At(opt, 60, peHeaderSize)                    // SizeOfHeaders
	putU16At(opt, 68, 3)                                // Subsystem: CUI
	putU32At(opt, 72, 1024*1024) // SizeOfStackReserve
	putU32At(opt, 76, 8*1024)    // SizeOfStackCommit
	putU32At(opt, 80, 1024*1024) // SizeOfHeapReserve
	putU32At(opt, 84, 4*1024)    // SizeOfHeapCommit
	putU32At(opt, 92, 16)        // NumberOfRvaAndSizes
	putU32At(opt, 96+8, idataRVA) // DataDirectory[1] VirtualAddress (import table)
	putU32At(opt, 96+12, 100)    // DataDirectory[1].Size

	sect := hdr[0x98+224:]
	writeSectionHeader := func(i int, name string, vsize, rva, rawsize, rawptr, flags uint32) {
		s := sect[i*40:]
		copy(s[0:8], name)
		putU32At(s, 8, vsize)
		putU32At(s, 12, rva)
		putU32At(s, 16, rawsize)
		putU32At(s, 20, rawptr)
		putU32At(s, 36, flags)
	}
	writeSectionHeader(0, ".text", codeSizeAligned, textRVA, codeSizeAligned, peX86CodeOffset, 0x60000020)
	writeSectionHeader(1, ".idata", 100, idataRVA, 512, peHeaderSize, 0xc0000040)
	writeSectionHeader(2, ".bss", 0x10000, bssRVA, 0, 0, 0xc0000080)

	return hdr
}
