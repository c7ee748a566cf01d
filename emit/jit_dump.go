package emit

import (
	"bufio"
	"fmt"
	"io"
)

// DumpAsC writes code (the machine code JITAmd64Backend assembled) as a
// standalone freestanding C program: a byte array plus a main() that
// mprotects it executable and calls it, mirroring dumpXbyak's
// dump-as-C target, which calls the buffer as
// void(*)(int(*)(int), int(*)(), unsigned char*). This rendition's JIT
// body takes only the tape pointer (see JITAmd64Backend's doc comment),
// so the emitted harness matches that narrower signature instead of
// inventing a libc putchar/getchar bridge.
func DumpAsC(w io.Writer, code []byte) error {
	bw := bufio.NewWriter(w)

	bw.WriteString("#include <stdio.h>\n" +
		"#include <stdlib.h>\n" +
		"#include <unistd.h>\n" +
		"#include <sys/mman.h>\n\n" +
		"static unsigned char stack[65536];\n")
	fmt.Fprintf(bw, "/* code size: %d bytes */\n", len(code))
	bw.WriteString("static const unsigned char code[] = {\n ")
	for i, c := range code {
		fmt.Fprintf(bw, " 0x%02x,", c)
		if i%16 == 15 {
			bw.WriteString("\n ")
		}
	}
	bw.WriteString("\n};\n\n\n" +
		"int\n" +
		"main(void)\n" +
		"{\n" +
		"  unsigned long page_size = (unsigned long) (sysconf(_SC_PAGESIZE) - 1);\n" +
		"  mprotect((void *) code, (sizeof(code) + page_size) & ~page_size, PROT_READ | PROT_EXEC);\n" +
		"  ((void (*)(unsigned char *)) (unsigned char *) code)(stack);\n" +
		"  return EXIT_SUCCESS;\n" +
		"}\n")

	return bw.Flush()
}
