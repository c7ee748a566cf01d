//go:build linux && amd64

package emit

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// JITAmd64Backend assembles an ir.Program directly into a mmap'd
// executable buffer and runs it in-process — the "JIT" compile mode of
// which the reference builds with Xbyak and invokes as
// void(*)(int(*)(int), int(*)(), unsigned char*). This Go rendition has
// no C runtime to call putchar/getchar through, so I/O is lowered to raw
// Linux syscalls instead (the same convention ELFX64Backend uses); the
// assembled function therefore takes a single tape-pointer argument. The
// tape pointer is moved from rdi (the incoming argument, per the SysV
// convention this trampoline assumes) into rsi at entry, then the body
// is byte-for-byte the same encoding ELFX64Backend uses for rsi/rdx.
type JITAmd64Backend struct {
	Base
	buf   binBuf
	loops loopStack
	mem   []byte
}

func NewJITAmd64Backend() *JITAmd64Backend {
	b := &JITAmd64Backend{}
	b.Self = b
	return b
}

func (b *JITAmd64Backend) Header() {
	b.buf.bytes([]byte{0x48, 0x89, 0xfe}) // mov rsi, rdi (tape ptr arg -> rsi)
	b.buf.u8(0xba)
	b.buf.u32le(1) // mov edx, 1
}

func (b *JITAmd64Backend) MoveBy(n int32) {
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
			b.buf.bytes([]byte{0x48, 0xff, 0xc6})
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
		b.buf.bytes([]byte{0x48, 0xff, 0xce})
	}
}

func (b *JITAmd64Backend) AddBy(n int32) {
	if n == 0 {
		return
	}
	if n > 0 {
		if n > 1 {
			b.buf.bytes([]byte{0x80, 0x06, byte(n)})
		} else {
			b.buf.bytes([]byte{0xfe, 0x06})
		}
		return
	}
	m := -n
	if m > 1 {
		b.buf.bytes([]byte{0x80, 0x2e, byte(m)})
	} else {
		b.buf.bytes([]byte{0xfe, 0x0e})
	}
}

func (b *JITAmd64Backend) Putchar() {
	b.buf.bytes([]byte{0x48, 0xc7, 0xc0})
	b.buf.u32le(1) // mov rax, 1 (sys_write)
	b.buf.u8(0xbf)
	b.buf.u32le(1) // mov edi, 1 (stdout)
	b.buf.bytes([]byte{0x0f, 0x05})
}

func (b *JITAmd64Backend) Getchar() {
	b.buf.bytes([]byte{0x48, 0xc7, 0xc0})
	b.buf.u32le(0) // mov rax, 0 (sys_read)
	b.buf.bytes([]byte{0x31, 0xff})
	b.buf.bytes([]byte{0x0f, 0x05})
}

func (b *JITAmd64Backend) openCondJump() {
	start := b.buf.Len()
	b.buf.bytes([]byte{0x80, 0x3e, 0x00})
	b.buf.bytes([]byte{0x0f, 0x84})
	operand := b.buf.Len()
	b.buf.u32le(0)
	b.loops.push(placeholder{operandOffset: operand, width: 4, start: start})
}

func (b *JITAmd64Backend) closeCondJumpForward() {
	p := b.loops.pop()
	target := int32(b.buf.Len() - (p.operandOffset + 4))
	b.buf.patchU32(p.operandOffset, uint32(target))
}

func (b *JITAmd64Backend) LoopStart() { b.openCondJump() }

func (b *JITAmd64Backend) LoopEnd() {
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

func (b *JITAmd64Backend) IfOpen()  { b.openCondJump() }
func (b *JITAmd64Backend) IfClose() { b.closeCondJumpForward() }

func (b *JITAmd64Backend) Assign(n int32) {
	b.buf.bytes([]byte{0xc6, 0x06, byte(n)})
}

func (b *JITAmd64Backend) AddVar(off int32) {
	b.buf.bytes([]byte{0x8a, 0x06})
	big, imm32, imm8 := varDisp(off)
	if big {
		b.buf.bytes([]byte{0x00, 0x86})
		b.buf.u32le(imm32)
	} else {
		b.buf.bytes([]byte{0x00, 0x46, imm8})
	}
}

func (b *JITAmd64Backend) SubVar(off int32) {
	b.buf.bytes([]byte{0x8a, 0x06})
	big, imm32, imm8 := varDisp(off)
	if big {
		b.buf.bytes([]byte{0x28, 0x86})
		b.buf.u32le(imm32)
	} else {
		b.buf.bytes([]byte{0x28, 0x46, imm8})
	}
}

func (b *JITAmd64Backend) AddCMulVar(off, k int32) {
	if k > 0 {
		b.buf.bytes([]byte{0xb0, byte(k)})
		b.buf.bytes([]byte{0xf6, 0x26})
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

func (b *JITAmd64Backend) InfLoop() {
	b.Self.IfOpen()
	b.buf.bytes([]byte{0xeb, 0xfe})
	b.Self.IfClose()
}

func (b *JITAmd64Backend) BreakPoint() { b.buf.u8(0xcc) }

func (b *JITAmd64Backend) Footer() {
	b.Self.Assign('\n')
	b.Self.Putchar()
	b.buf.u8(0xc3) // ret
}

// ErrJITMapFailed wraps an mmap/mprotect failure when standing up the
// executable buffer.
var ErrJITMapFailed = errors.New("emit: failed to map executable memory for JIT backend")

// Load mmaps the assembled code RW, copies it in, then mprotects it to
// RX — never both writable and executable at once.
func (b *JITAmd64Backend) Load() error {
	code := b.buf.Bytes()
	if len(code) == 0 {
		return nil
	}
	mem, err := unix.Mmap(-1, 0, len(code), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return errors.Wrap(ErrJITMapFailed, err.Error())
	}
	copy(mem, code)
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		unix.Munmap(mem)
		return errors.Wrap(ErrJITMapFailed, err.Error())
	}
	b.mem = mem
	return nil
}

// Unload releases the executable mapping. Call once Run has returned.
func (b *JITAmd64Backend) Unload() error {
	if b.mem == nil {
		return nil
	}
	err := unix.Munmap(b.mem)
	b.mem = nil
	return err
}

// jitTrampoline is the standard unsafe trick every hand-rolled Go JIT
// resorts to in the absence of cgo: a Go func value is a pointer to a
// struct whose first word is the entry PC, so pointing that word at our
// mmap'd buffer turns the raw bytes into a callable Go function.
type jitTrampoline func(tape uintptr)

func (b *JITAmd64Backend) asFunc() jitTrampoline {
	codePtr := uintptr(unsafe.Pointer(&b.mem[0]))
	var fn jitTrampoline
	*(*uintptr)(unsafe.Pointer(&fn)) = uintptr(unsafe.Pointer(&codePtr))
	return fn
}

// Run calls into the loaded JIT buffer with tape as the program's tape.
// Load must have succeeded first.
func (b *JITAmd64Backend) Run(tape []byte) {
	fn := b.asFunc()
	fn(uintptr(unsafe.Pointer(&tape[0])))
}
