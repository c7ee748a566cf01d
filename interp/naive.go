package interp

import (
	"bufio"
	"io"
)

// RunDirect directly interprets trimmed Brainfuck source by re-scanning for
// the matching bracket on every '[' / ']', bypassing IR entirely. It backs
// the compile-execute-equivalence property test and the
// CLI's `-O 0` direct-interpreter mode.
func RunDirect(src []byte, in io.Reader, out io.Writer, heapSize int) error {
	return runNaive(src, in, out, heapSize)
}

func runNaive(src []byte, in io.Reader, out io.Writer, heapSize int) error {
	heap := make([]byte, heapSize)
	w := bufio.NewWriter(out)
	r := bufio.NewReader(in)
	hp := 0

	for pc := 0; pc < len(src); pc++ {
		switch src[pc] {
		case '+':
			heap[hp]++
		case '-':
			heap[hp]--
		case '>':
			hp = wrapIndex(hp+1, len(heap))
		case '<':
			hp = wrapIndex(hp-1, len(heap))
		case '.':
			if err := w.WriteByte(heap[hp]); err != nil {
				return err
			}
		case ',':
			if err := w.Flush(); err != nil {
				return err
			}
			b, err := r.ReadByte()
			if err != nil {
				heap[hp] = 0
			} else {
				heap[hp] = b
			}
		case '[':
			if heap[hp] == 0 {
				depth := 1
				for pc++; depth > 0; pc++ {
					switch src[pc] {
					case '[':
						depth++
					case ']':
						depth--
					}
				}
				pc--
			}
		case ']':
			if heap[hp] != 0 {
				depth := 1
				for pc--; depth > 0; pc-- {
					switch src[pc] {
					case '[':
						depth--
					case ']':
						depth++
					}
				}
				pc++
			}
		}
	}

	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
