// Package interp executes a resolved Brainfuck ir.Program on a
// byte-addressable, wrap-around tape.
package interp

import (
	"bufio"
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tinybf/bfc/internal/bferrors"
	"github.com/tinybf/bfc/ir"
)

// DefaultHeapSize is the tape size used when no Option overrides it
// (the default tape size used by --heap-size).
const DefaultHeapSize = 65536

// cancelCheckMask bounds how often a hot loop-back edge checks ctx.Err();
// a power of two makes the check a cheap AND against the iteration count.
const cancelCheckMask = 1<<16 - 1

// Machine holds interpreter state: the tape, head position, and I/O
// streams. A Machine is reentrant across distinct Run calls but not safe
// for concurrent use by multiple goroutines against the same call.
type Machine struct {
	heapSize int
	in       io.Reader
	out      io.Writer
}

// Option configures a Machine.
type Option func(*Machine)

// WithHeapSize overrides the tape size (default DefaultHeapSize).
func WithHeapSize(n int) Option {
	return func(m *Machine) { m.heapSize = n }
}

// WithIO overrides the input/output streams (default os.Stdin/os.Stdout at
// the call site; interp itself has no default to keep this package free of
// a hidden dependency on the process's stdio).
func WithIO(in io.Reader, out io.Writer) Option {
	return func(m *Machine) {
		m.in = in
		m.out = out
	}
}

// New builds a Machine. out must be supplied via WithIO for every program,
// since Run always writes a trailing newline to it; in is read only by
// ',' instructions.
func New(opts ...Option) *Machine {
	m := &Machine{heapSize: DefaultHeapSize}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run executes prog to completion, or until ctx is canceled. On normal
// termination it writes a trailing newline and flushes (the reference
// implementation's trailing-newline quirk, preserved for golden-output
// parity — see DESIGN.md).
func (m *Machine) Run(ctx context.Context, prog ir.Program) error {
	heap := make([]byte, m.heapSize)
	w := bufio.NewWriter(m.out)
	r := bufio.NewReader(m.in)

	hp := 0
	pc := 0
	iterations := 0
	n := len(prog)
	for pc < n {
		in := prog[pc]
		switch in.Op {
		case ir.MovePointer:
			hp = wrapIndex(hp+int(in.A), len(heap))
		case ir.Add:
			heap[hp] = byte(int(heap[hp]) + int(in.A))
		case ir.Putchar:
			if err := w.WriteByte(heap[hp]); err != nil {
				return errors.Wrap(bferrors.ErrIOFailure, err.Error())
			}
		case ir.Getchar:
			if err := w.Flush(); err != nil {
				return errors.Wrap(bferrors.ErrIOFailure, err.Error())
			}
			b, err := r.ReadByte()
			if err != nil {
				// EOF convention: clear the cell to 0 (a documented open
				// question — documented choice, not the reference's
				// platform-dependent getchar() value).
				heap[hp] = 0
			} else {
				heap[hp] = b
			}
		case ir.LoopStart:
			if heap[hp] == 0 {
				pc = int(in.A)
			}
		case ir.LoopEnd:
			if heap[hp] != 0 {
				pc = int(in.A)
				if iterations++; iterations&cancelCheckMask == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
			}
		case ir.If:
			if heap[hp] == 0 {
				pc = int(in.A)
			}
		case ir.EndIf:
			// no-op at runtime
		case ir.Assign:
			heap[hp] = byte(in.A)
		case ir.SearchZero:
			stride := int(in.A)
			for heap[hp] != 0 {
				hp = wrapIndex(hp+stride, len(heap))
				if iterations++; iterations&cancelCheckMask == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
			}
		case ir.AddVar:
			idx := wrapIndex(hp+int(in.A), len(heap))
			heap[idx] = byte(int(heap[idx]) + int(heap[hp]))
		case ir.SubVar:
			idx := wrapIndex(hp+int(in.A), len(heap))
			heap[idx] = byte(int(heap[idx]) - int(heap[hp]))
		case ir.AddCMulVar:
			idx := wrapIndex(hp+int(in.A), len(heap))
			heap[idx] = byte(int(heap[idx]) + int(heap[hp])*int(in.B))
		case ir.InfLoop:
			if heap[hp] != 0 {
				logrus.Debug("InfLoop: cell nonzero, diverging")
				for i := 0; ; i++ {
					if i&cancelCheckMask == 0 {
						if err := ctx.Err(); err != nil {
							return err
						}
					}
				}
			}
		case ir.BreakPoint:
			logrus.WithField("pc", pc).Debug("breakpoint")
		default:
			panic("interp: unknown opcode reaching dispatch: " + in.Op.String())
		}
		pc++
	}

	if err := w.WriteByte('\n'); err != nil {
		return errors.Wrap(bferrors.ErrIOFailure, err.Error())
	}
	return w.Flush()
}

func wrapIndex(i, size int) int {
	i %= size
	if i < 0 {
		i += size
	}
	return i
}
