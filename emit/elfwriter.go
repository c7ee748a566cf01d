package emit

// Shared ELF32/ELF64 header and section-header table construction used by
// the three ELF binary backends (x86-64, i386, ARM EABI). Each backend
// builds its machine code into a binBuf, then calls these once the body
// size is known to produce the surrounding file structure.

const (
	elfOSABILinux    = 0
	elfOSABIArmAEABI = 0x40
	elfEMX8664       = 62
	elfEM386         = 3
	elfEMARM         = 40
	elfETExec        = 2
	elfPTLoad        = 1

	elf64EhdrSize = 64
	elf64PhdrSize = 56
	elf64ShdrSize = 64
	elf32EhdrSize = 52
	elf32PhdrSize = 32
	elf32ShdrSize = 40
)

// writeShdr64 appends one 64-byte Elf64_Shdr entry.
func writeShdr64(buf *binBuf, name, typ uint32, flags, addr, offset, size, addralign uint64) {
	buf.u32le(name)
	buf.u32le(typ)
	buf.u64le(flags)
	buf.u64le(addr)
	buf.u64le(offset)
	buf.u64le(size)
	buf.u32le(0) // sh_link
	buf.u32le(0) // sh_info
	buf.u64le(addralign)
	buf.u64le(0) // sh_entsize
}

// writeShdr32 appends one 40-byte Elf32_Shdr entry.
func writeShdr32(buf *binBuf, name, typ uint32, flags, addr, offset, size, addralign uint32) {
	buf.u32le(name)
	buf.u32le(typ)
	buf.u32le(flags)
	buf.u32le(addr)
	buf.u32le(offset)
	buf.u32le(size)
	buf.u32le(0) // sh_link
	buf.u32le(0) // sh_info
	buf.u32le(addralign)
	buf.u32le(0) // sh_entsize
}

// buildElf64Ehdr fills the 64-byte Elf64_Ehdr at the start of hdr.
func buildElf64Ehdr(hdr []byte, entry, shoff uint64, machine uint16, osabi byte, phnum, shnum uint16) {
	hdr[0], hdr[1], hdr[2], hdr[3] = 0x7f, 'E', 'L', 'F'
	hdr[4] = 2 // ELFCLASS64
	hdr[5] = 1 // ELFDATA2LSB
	hdr[6] = 1 // EV_CURRENT
	hdr[7] = osabi
	putU16At(hdr, 16, elfETExec)
	putU16At(hdr, 18, machine)
	putU32At(hdr, 20, 1) // e_version
	putU64At(hdr, 24, entry)
	putU64At(hdr, 32, elf64EhdrSize) // e_phoff
	putU64At(hdr, 40, shoff)
	putU32At(hdr, 48, 0)                   // e_flags
	putU16At(hdr, 52, elf64EhdrSize)      // e_ehsize
	putU16At(hdr, 54, elf64PhdrSize)      // e_phentsize
	putU16At(hdr, 56, phnum)
	putU16At(hdr, 58, elf64ShdrSize) // e_shentsize
	putU16At(hdr, 60, shnum)
	putU16At(hdr, 62, 1) // e_shstrndx
}

// buildElf64Phdr fills one 56-byte Elf64_Phdr at the start of ph.
func buildElf64Phdr(ph []byte, flags uint32, offset, vaddr, filesz, align uint64) {
	putU32At(ph, 0, elfPTLoad)
	putU32At(ph, 4, flags)
	putU64At(ph, 8, offset)
	putU64At(ph, 16, vaddr)
	putU64At(ph, 24, vaddr)
	putU64At(ph, 32, filesz)
	putU64At(ph, 40, filesz)
	putU64At(ph, 48, align)
}

// buildElf32Ehdr fills the 52-byte Elf32_Ehdr at the start of hdr.
func buildElf32Ehdr(hdr []byte, entry, shoff uint32, machine uint16, osabi byte, phnum, shnum uint16) {
	hdr[0], hdr[1], hdr[2], hdr[3] = 0x7f, 'E', 'L', 'F'
	hdr[4] = 1 // ELFCLASS32
	hdr[5] = 1 // ELFDATA2LSB
	hdr[6] = 1 // EV_CURRENT
	hdr[7] = osabi
	putU16At(hdr, 16, elfETExec)
	putU16At(hdr, 18, machine)
	putU32At(hdr, 20, 1) // e_version
	putU32At(hdr, 24, entry)
	putU32At(hdr, 28, elf32EhdrSize) // e_phoff
	putU32At(hdr, 32, shoff)
	putU32At(hdr, 36, 0)              // e_flags
	putU16At(hdr, 40, elf32EhdrSize) // e_ehsize
	putU16At(hdr, 42, elf32PhdrSize) // e_phentsize
	putU16At(hdr, 44, phnum)
	putU16At(hdr, 46, elf32ShdrSize) // e_shentsize
	putU16At(hdr, 48, shnum)
	putU16At(hdr, 50, 1) // e_shstrndx
}

// buildElf32Phdr fills one 32-byte Elf32_Phdr at the start of ph.
func buildElf32Phdr(ph []byte, flags uint32, offset, vaddr, filesz, align uint32) {
	putU32At(ph, 0, elfPTLoad)
	putU32At(ph, 4, offset)
	putU32At(ph, 8, vaddr)
	putU32At(ph, 12, vaddr)
	putU32At(ph, 16, filesz)
	putU32At(ph, 20, filesz)
	putU32At(ph, 24, flags)
	putU32At(ph, 28, align)
}

func putU16At(b []byte, off int, v uint16) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
}

func putU32At(b []byte, off int, v uint32) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}

func putU64At(b []byte, off int, v uint64) {
	for i := 0; i < 8; i++ {
		b[off+i] = byte(v >> (8 * i))
	}
}
