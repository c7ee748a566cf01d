package emit

import (
	"bufio"
	"fmt"
	"io"
)

// CBackend lowers an ir.Program to a freestanding C program: a 65536-byte
// static array, a cursor `p`, and the obvious C statement per opcode.
// No pointer-bounds checking is emitted, matching the interpreter's
// semantics.
type CBackend struct {
	Base
	w      *bufio.Writer
	indent int
}

// NewCBackend returns a backend that writes C source to w.
func NewCBackend(w io.Writer) *CBackend {
	b := &CBackend{w: bufio.NewWriter(w)}
	b.Self = b
	return b
}

// Flush flushes any buffered output to the underlying writer.
func (b *CBackend) Flush() error { return b.w.Flush() }

func (b *CBackend) line(format string, args ...interface{}) {
	for i := 0; i < b.indent; i++ {
		b.w.WriteString("  ")
	}
	fmt.Fprintf(b.w, format, args...)
	b.w.WriteByte('\n')
}

func (b *CBackend) Header() {
	b.w.WriteString("#include <stdio.h>\n" +
		"#include <string.h>\n\n" +
		"static unsigned char heap[65536];\n" +
		"static unsigned char *p = heap;\n\n" +
		"int\n" +
		"main(void)\n" +
		"{\n")
	b.indent = 1
}

func (b *CBackend) Footer() {
	b.indent = 0
	b.w.WriteString("  putchar('\\n');\n" +
		"  return 0;\n" +
		"}\n")
}

func (b *CBackend) MoveBy(n int32) {
	if n > 0 {
		b.line("p += %d;", n)
	} else if n < 0 {
		b.line("p -= %d;", -n)
	}
}

func (b *CBackend) AddBy(n int32) {
	if n > 0 {
		b.line("*p += %d;", n)
	} else if n < 0 {
		b.line("*p -= %d;", -n)
	}
}

func (b *CBackend) Putchar() { b.line("putchar(*p);") }

func (b *CBackend) Getchar() {
	b.line("fflush(stdout);")
	b.line("*p = (unsigned char) getchar();")
}

func (b *CBackend) LoopStart() {
	b.line("while (*p) {")
	b.indent++
}

func (b *CBackend) LoopEnd() {
	b.indent--
	b.line("}")
}

func (b *CBackend) IfOpen() {
	b.line("if (*p) {")
	b.indent++
}

func (b *CBackend) IfClose() {
	b.indent--
	b.line("}")
}

func (b *CBackend) Assign(n int32) { b.line("*p = %d;", n) }

func (b *CBackend) SearchZero(stride int32) {
	if stride > 0 {
		b.line("while (*p) p += %d;", stride)
	} else {
		b.line("while (*p) p -= %d;", -stride)
	}
}

func (b *CBackend) AddVar(off int32) { b.line("p[%d] += *p;", off) }
func (b *CBackend) SubVar(off int32) { b.line("p[%d] -= *p;", off) }

func (b *CBackend) AddCMulVar(off, k int32) {
	b.line("p[%d] += (unsigned char) (*p * %d);", off, k)
}

func (b *CBackend) InfLoop() { b.line("if (*p) for (;;);") }

func (b *CBackend) BreakPoint() {}
