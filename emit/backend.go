// Package emit walks a resolved ir.Program once and dispatches each
// opcode to a Backend's primitive emission hooks. Backends
// fall into two families: source (C) and binary (ELF/PE/JIT).
package emit

import (
	"fmt"

	"github.com/tinybf/bfc/ir"
)

// Backend is the set of primitive emission hooks the framework drives.
// Concrete backends embed Base to inherit default implementations of the
// derived opcodes (Assign, SearchZero, AddVar, SubVar, AddCMulVar,
// InfLoop, If/EndIf) and override only the hooks they encode directly.
type Backend interface {
	Header()
	Footer()
	MoveBy(n int32)
	AddBy(n int32)
	Putchar()
	Getchar()
	LoopStart()
	LoopEnd()
	IfOpen()
	IfClose()
	Assign(n int32)
	SearchZero(stride int32)
	AddVar(off int32)
	SubVar(off int32)
	AddCMulVar(off, k int32)
	InfLoop()
	BreakPoint()
}

// Emit is the framework's single driver method: header,
// one hook call per instruction, footer. Flushing the sink is the
// caller's responsibility once Emit returns, via whatever Close/Flush the
// concrete backend's sink exposes — Emit itself only guarantees the hooks
// ran in program order.
func Emit(prog ir.Program, b Backend) {
	b.Header()
	for _, in := range prog {
		dispatch(in, b)
	}
	b.Footer()
}

func dispatch(in ir.Inst, b Backend) {
	switch in.Op {
	case ir.MovePointer:
		b.MoveBy(in.A)
	case ir.Add:
		b.AddBy(in.A)
	case ir.Putchar:
		b.Putchar()
	case ir.Getchar:
		b.Getchar()
	case ir.LoopStart:
		b.LoopStart()
	case ir.LoopEnd:
		b.LoopEnd()
	case ir.If:
		b.IfOpen()
	case ir.EndIf:
		b.IfClose()
	case ir.Assign:
		b.Assign(in.A)
	case ir.SearchZero:
		b.SearchZero(in.A)
	case ir.AddVar:
		b.AddVar(in.A)
	case ir.SubVar:
		b.SubVar(in.A)
	case ir.AddCMulVar:
		b.AddCMulVar(in.A, in.B)
	case ir.InfLoop:
		b.InfLoop()
	case ir.BreakPoint:
		b.BreakPoint()
	default:
		panic(fmt.Sprintf("emit: unknown opcode reaching backend dispatch: %s", in.Op))
	}
}

// Base implements the derived-opcode default fallbacks in
// terms of the primitive hooks. A concrete backend embeds Base and
// supplies Self so the fallbacks call through to any hooks the embedder
// overrode, then overrides whichever hooks it wants a direct encoding for.
type Base struct {
	// Self is the concrete backend; fallbacks call Self's hooks (not
	// Base's own) so an override is honored even when reached through a
	// fallback (e.g. a backend that overrides MoveBy still gets that
	// override used by the default SearchZero).
	Self Backend
}

func (b *Base) Header() {}
func (b *Base) Footer() {}

func (b *Base) IfOpen()  { b.Self.LoopStart() }
func (b *Base) IfClose() { b.Self.LoopEnd() }

func (b *Base) Assign(n int32) {
	b.Self.LoopStart()
	b.Self.AddBy(-1)
	b.Self.LoopEnd()
	b.Self.AddBy(n)
}

func (b *Base) SearchZero(stride int32) {
	b.Self.LoopStart()
	b.Self.MoveBy(stride)
	b.Self.LoopEnd()
}

func (b *Base) AddVar(off int32) {
	b.Self.MoveBy(off)
	b.Self.AddBy(1)
	b.Self.MoveBy(-off)
}

func (b *Base) SubVar(off int32) {
	b.Self.MoveBy(off)
	b.Self.AddBy(-1)
	b.Self.MoveBy(-off)
}

func (b *Base) AddCMulVar(off, k int32) {
	b.Self.MoveBy(off)
	b.Self.AddBy(k)
	b.Self.MoveBy(-off)
}

func (b *Base) InfLoop() {
	b.Self.LoopStart()
	b.Self.LoopEnd()
}

func (b *Base) BreakPoint() {}
