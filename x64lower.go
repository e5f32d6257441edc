// Package x64lower lowers the target-dependent primitives of a compiler
// backend into x86-64 machine code, optionally confined by bundled software
// fault isolation.
//
// A Function owns the lowering of one function: its variables, the
// amd64.Machine emitting instructions and the assembler receiving the
// encoding. Register allocation is expected to run between lowering and
// Finish; tools without an allocator can rely on Finish binding the
// remaining temporaries to scratch registers.
package x64lower

import (
	"context"
	"fmt"

	"github.com/sfilabs/x64lower/internal/asm"
	"github.com/sfilabs/x64lower/internal/backend"
	"github.com/sfilabs/x64lower/internal/backend/isa/amd64"
	"github.com/sfilabs/x64lower/internal/backend/regalloc"
	"github.com/sfilabs/x64lower/internal/logging"
)

// StaticInit builds the process-wide target tables and returns a context
// carrying them together with the logger of cfg. It is safe to call
// repeatedly; the tables are only built once.
func StaticInit(ctx context.Context, cfg *LoweringConfig) (context.Context, error) {
	ctx, err := amd64.StaticInit(ctx)
	if err != nil {
		return ctx, err
	}
	return logging.WithLogger(ctx, cfg.logger()), nil
}

// Function is the lowering of one function.
type Function struct {
	cfg *LoweringConfig
	fn  *backend.Function
	asm *asm.Assembler
	m   *amd64.Machine
}

// Code is the encoded function.
type Code struct {
	Bytes  []byte
	Fixups []*asm.Fixup
}

// NewFunction returns a Function named name lowered with cfg. ctx must come
// from StaticInit.
func NewFunction(ctx context.Context, cfg *LoweringConfig, name string) (*Function, error) {
	fn := backend.NewFunction(name, cfg.bundleAlignLog2)
	a := asm.NewAssembler(name)
	m, err := amd64.CreateTargetLowering(ctx, fn, a, cfg.machineConfig())
	if err != nil {
		return nil, err
	}
	return &Function{cfg: cfg, fn: fn, asm: a, m: m}, nil
}

// Machine returns the lowering of the function.
func (f *Function) Machine() *amd64.Machine { return f.m }

// Variables returns the variables of the function.
func (f *Function) Variables() *backend.Function { return f.fn }

// Format returns the lowered instructions in AT&T syntax.
func (f *Function) Format() string { return f.m.Format() }

// Reset clears the Function so that another function named name can be
// lowered with the same configuration.
func (f *Function) Reset(name string) {
	f.fn.Reset(name, f.cfg.bundleAlignLog2)
	f.asm.Reset(name)
	f.m.Reset(f.fn)
}

// Finish binds the variables left without a register, encodes the function
// and resolves its local labels. The returned Code is valid until Reset.
func (f *Function) Finish() (*Code, error) {
	var temps []*backend.Variable
	var used regalloc.RegSet
	for i := 0; i < f.fn.NumVariables(); i++ {
		v := f.fn.Variable(regalloc.VRegIDNonReservedBegin + regalloc.VRegID(i))
		if v.HasReg() {
			used = used.Add(v.Reg())
		} else {
			temps = append(temps, v)
		}
	}

	if err := amd64.BindScratchRegisters(f.fn); err != nil {
		return nil, err
	}

	if seed := f.cfg.randomizeSeed; seed != 0 {
		// Registers holding fixed values stay where they are, so only
		// temporaries move.
		var exclude regalloc.RegSet
		for _, r := range used.Slice() {
			exclude = exclude.Union(f.m.Target().Aliases(r))
		}
		perm := f.m.Target().BuildRandomPermutation(seed, exclude)
		for _, v := range temps {
			v.SetReg(perm[v.Reg()])
		}
	}

	if err := f.m.Encode(); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", f.fn.Name(), err)
	}
	if err := f.asm.Finalize(); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", f.fn.Name(), err)
	}
	return &Code{Bytes: f.asm.Bytes(), Fixups: f.asm.Fixups()}, nil
}
