// Package compiler reduces trimmed Brainfuck source to a resolved IR
// program via a single forward pass with a fixed peephole catalogue.
package compiler

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tinybf/bfc/internal/bferrors"
	"github.com/tinybf/bfc/ir"
)

// brainfuckChars is the closed significant character set; every other
// byte is trimmed before compilation.
const brainfuckChars = "+-><.,[]"

// Trim removes every byte not in the Brainfuck character set. It is
// idempotent: Trim(Trim(s)) == Trim(s).
func Trim(src []byte) []byte {
	out := make([]byte, 0, len(src))
	for _, c := range src {
		if strings.IndexByte(brainfuckChars, c) >= 0 {
			out = append(out, c)
		}
	}
	return out
}

// CompileError reports an unmatched bracket, with the source offset of the
// offending or still-open bracket.
type CompileError struct {
	Offset int
	err    error
}

func (e *CompileError) Error() string {
	return e.err.Error()
}

// Unwrap exposes the wrapped sentinel so errors.Is/errors.Cause work.
func (e *CompileError) Unwrap() error { return e.err }

// Cause lets github.com/pkg/errors.Cause walk through to the sentinel.
func (e *CompileError) Cause() error { return e.err }

func unmatched(offset int) error {
	return &CompileError{
		Offset: offset,
		err:    errors.Wrapf(bferrors.ErrUnmatchedBracket, "offset %d", offset),
	}
}

// Compile runs the peephole compiler over src, which must already be
// trimmed (callers that skip Trim will simply have non-Brainfuck bytes
// silently ignored, since the switch below only recognizes the eight
// significant characters). On success it returns a fully resolved
// ir.Program; on an unmatched bracket it returns a *CompileError and a nil
// program — the compiler never partially populates its output.
func Compile(src []byte) (ir.Program, error) {
	c := &compilerState{src: src}
	if err := c.run(); err != nil {
		return nil, err
	}
	return c.prog, nil
}

type compilerState struct {
	src       []byte
	prog      ir.Program
	loopStack []int
}

func (c *compilerState) run() error {
	pc := 0
	n := len(c.src)
	var open []int // source offsets of the unclosed '[' brackets
	for pc < n {
		switch c.src[pc] {
		case '>', '<':
			value, next := c.compressRun(pc, '>', '<')
			pc = next
			if value != 0 {
				c.emitMove(int32(value))
			}
		case '+', '-':
			value, next := c.compressRun(pc, '+', '-')
			pc = next
			if value != 0 {
				c.emitAdd(int32(value))
			}
		case '.':
			c.emit(ir.Inst{Op: ir.Putchar})
			pc++
		case ',':
			c.emit(ir.Inst{Op: ir.Getchar})
			pc++
		case '[':
			open = append(open, pc)
			c.loopStack = append(c.loopStack, len(c.prog))
			c.emit(ir.Inst{Op: ir.LoopStart})
			pc++
		case ']':
			if len(c.loopStack) == 0 {
				return unmatched(pc)
			}
			open = open[:len(open)-1]
			c.closeLoop()
			pc++
		default:
			pc++
		}
	}
	if len(open) != 0 {
		return unmatched(open[len(open)-1])
	}
	return nil
}

// compressRun coalesces the longest adjacent run of c1 ('+'/'>') and c2
// ('-'/'<') starting at pc into one signed net count, returning the count
// and the index just past the run.
func (c *compilerState) compressRun(pc int, c1, c2 byte) (int, int) {
	value := 0
	n := len(c.src)
	for ; pc < n; pc++ {
		switch c.src[pc] {
		case c1:
			value++
		case c2:
			value--
		default:
			return value, pc
		}
	}
	return value, pc
}

func (c *compilerState) emit(in ir.Inst) {
	c.prog = append(c.prog, in)
}

// emitMove applies no peephole rule of its own (only Add participates in
// R1), so it is a plain append.
func (c *compilerState) emitMove(offset int32) {
	c.emit(ir.Inst{Op: ir.MovePointer, A: offset})
}

// emitAdd implements R1: Assign(v) followed by Add(k) fuses into
// Assign((v+k) mod 256).
func (c *compilerState) emitAdd(offset int32) {
	if n := len(c.prog); n > 0 {
		tail := c.prog[n-1]
		if tail.Op == ir.Assign {
			c.prog[n-1].A = mod256(tail.A + offset)
			return
		}
	}
	c.emit(ir.Inst{Op: ir.Add, A: offset})
}

func mod256(v int32) int32 {
	v %= 256
	if v < 0 {
		v += 256
	}
	return v
}

// closeLoop applies R2–R6 in priority order against the IR tail and the
// just-popped loop-start index.
func (c *compilerState) closeLoop() {
	base := c.loopStack[len(c.loopStack)-1]
	c.loopStack = c.loopStack[:len(c.loopStack)-1]
	size := len(c.prog)

	// R2: empty loop -> InfLoop.
	if size == base+1 {
		c.prog = c.prog[:base]
		c.emit(ir.Inst{Op: ir.InfLoop})
		return
	}

	// R3/R4: single-instruction body.
	if size == base+2 {
		body := c.prog[base+1]
		switch {
		case body.Op == ir.Add && (body.A == 1 || body.A == -1):
			c.prog = c.prog[:base]
			c.emit(ir.Inst{Op: ir.Assign, A: 0})
			return
		case body.Op == ir.MovePointer:
			c.prog = c.prog[:base]
			c.emit(ir.Inst{Op: ir.SearchZero, A: body.A})
			return
		}
	}

	// R5: copy/multiply loop.
	if size > base+2 {
		if ok := c.tryCopyMultiply(base, size); ok {
			return
		}
	}

	// R6: default, resolve jump targets.
	c.prog[base].A = int32(len(c.prog))
	c.emit(ir.Inst{Op: ir.LoopEnd, A: int32(base)})
}

// tryCopyMultiply implements R5. The loop body (c.prog[base+1:size]) must
// decompose as either Add(-1), pairs..., rollback or pairs..., rollback,
// Add(-1): a decrementer Add(-1) at one end, a single rollback
// MovePointer as the last element before (or after) it, and one or more
// (MovePointer(m), Add(k)) pairs. The rollback's operand plus the running
// sum of pair offsets must bring the pointer back to its starting cell.
func (c *compilerState) tryCopyMultiply(base, size int) bool {
	body := c.prog[base+1 : size]
	n := len(body)
	if n < 2 {
		return false
	}

	var pairStart, pairEnd, rollbackIdx int
	switch {
	case body[0].Op == ir.Add && body[0].A == -1:
		// decrementer, pairs..., rollback
		pairStart, pairEnd, rollbackIdx = 1, n-1, n-1
	case body[n-1].Op == ir.Add && body[n-1].A == -1:
		// pairs..., rollback, decrementer
		pairStart, pairEnd, rollbackIdx = 0, n-2, n-2
	default:
		return false
	}
	if body[rollbackIdx].Op != ir.MovePointer || (pairEnd-pairStart)%2 != 0 {
		return false
	}

	type pair struct {
		offset int32
		k      int32
	}
	var pairs []pair
	sum := int32(0)
	for i := pairStart; i < pairEnd; i += 2 {
		if body[i].Op != ir.MovePointer || body[i+1].Op != ir.Add {
			return false
		}
		sum += body[i].A
		pairs = append(pairs, pair{offset: sum, k: body[i+1].A})
	}
	if len(pairs) == 0 || sum+body[rollbackIdx].A != 0 {
		return false
	}

	var reduced []ir.Inst
	for _, p := range pairs {
		switch p.k {
		case 1:
			reduced = append(reduced, ir.Inst{Op: ir.AddVar, A: p.offset})
		case -1:
			reduced = append(reduced, ir.Inst{Op: ir.SubVar, A: p.offset})
		default:
			reduced = append(reduced, ir.Inst{Op: ir.AddCMulVar, A: p.offset, B: p.k})
		}
	}
	reduced = append(reduced, ir.Inst{Op: ir.Assign, A: 0})

	c.prog = c.prog[:base]
	c.emit(ir.Inst{Op: ir.If})
	ifIdx := base
	c.prog = append(c.prog, reduced...)
	endIfIdx := len(c.prog)
	c.prog[ifIdx].A = int32(endIfIdx)
	c.emit(ir.Inst{Op: ir.EndIf, A: int32(ifIdx)})

	logrus.WithFields(logrus.Fields{
		"base": base,
		"vars": len(pairs),
	}).Trace("R5 copy/multiply loop fired")
	return true
}
