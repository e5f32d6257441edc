package amd64

import (
	"context"
	"math"
	"math/bits"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sfilabs/x64lower/internal/asm"
	"github.com/sfilabs/x64lower/internal/backend"
	"github.com/sfilabs/x64lower/internal/backend/regalloc"
	"github.com/sfilabs/x64lower/internal/ir"
)

// interp executes the comparison, address arithmetic and control transfer
// subset of lowered instructions.
type interp struct {
	gpr                map[regalloc.RealReg]uint64
	xmm                map[regalloc.RealReg][4]uint32
	zf, cf, sf, of, pf bool

	// jumped is set by an indirect jump, which ends the run at target.
	jumped bool
	target uint64
}

func newInterp() *interp {
	return &interp{gpr: map[regalloc.RealReg]uint64{}, xmm: map[regalloc.RealReg][4]uint32{}}
}

func mask(n byte) uint64 {
	if n == 64 {
		return math.MaxUint64
	}
	return 1<<n - 1
}

func (s *interp) readGPR(v *backend.Variable, n byte) uint64 {
	return s.gpr[baseReg(v.Reg())] & mask(n)
}

func (s *interp) writeGPR(v *backend.Variable, val uint64, n byte) {
	r := baseReg(v.Reg())
	switch n {
	case 32, 64:
		s.gpr[r] = val & mask(n)
	default:
		s.gpr[r] = s.gpr[r]&^mask(n) | val&mask(n)
	}
}

func (s *interp) readOperand(o operand, n byte) uint64 {
	switch o.kind {
	case operandKindReg:
		return s.readGPR(o.v, n)
	case operandKindImm32:
		return uint64(int64(int32(o.imm32))) & mask(n)
	default:
		panic("unsupported operand")
	}
}

// addr returns the effective address of mem.
func (s *interp) addr(mem *MemoryOperand) uint64 {
	var a uint64
	if mem.base != nil {
		a += s.readGPR(mem.base, 64)
	}
	if mem.index != nil {
		a += s.readGPR(mem.index, 64) << mem.shift
	}
	return a + uint64(int64(mem.disp))
}

func (s *interp) cmp(x, y uint64, n byte) {
	res := (x - y) & mask(n)
	s.zf = res == 0
	s.cf = x < y
	s.sf = res>>(n-1)&1 == 1
	s.of = ((x^y)&(x^res))>>(n-1)&1 == 1
	s.pf = bits.OnesCount8(uint8(res))%2 == 0
}

func (s *interp) ucomis(x, y float64) {
	s.of, s.sf = false, false
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		s.zf, s.pf, s.cf = true, true, true
	case x < y:
		s.zf, s.pf, s.cf = false, false, true
	case x == y:
		s.zf, s.pf, s.cf = true, false, false
	default:
		s.zf, s.pf, s.cf = false, false, false
	}
}

func (s *interp) eval(c cond) bool {
	switch c {
	case condO:
		return s.of
	case condB:
		return s.cf
	case condE:
		return s.zf
	case condBE:
		return s.cf || s.zf
	case condS:
		return s.sf
	case condP:
		return s.pf
	case condL:
		return s.sf != s.of
	case condLE:
		return s.zf || s.sf != s.of
	default:
		return !s.eval(c.invert())
	}
}

func (s *interp) scalar(v *backend.Variable) float64 {
	lanes := s.xmm[v.Reg()]
	if v.Type() == ir.TypeF32 {
		return float64(math.Float32frombits(lanes[0]))
	}
	return math.Float64frombits(uint64(lanes[1])<<32 | uint64(lanes[0]))
}

func (s *interp) setScalar(v *backend.Variable, f float64) {
	if v.Type() == ir.TypeF32 {
		s.xmm[v.Reg()] = [4]uint32{math.Float32bits(float32(f))}
		return
	}
	b := math.Float64bits(f)
	s.xmm[v.Reg()] = [4]uint32{uint32(b), uint32(b >> 32)}
}

func cmppsLane(p cmppsPred, a, b float32) bool {
	unord := a != a || b != b
	switch p {
	case cmppsEq:
		return a == b
	case cmppsLt:
		return a < b
	case cmppsLe:
		return a <= b
	case cmppsUnord:
		return unord
	case cmppsNeq:
		return !(a == b)
	case cmppsNlt:
		return !(a < b)
	case cmppsNle:
		return !(a <= b)
	case cmppsOrd:
		return !unord
	default:
		panic("invalid predicate")
	}
}

// run executes the instructions of m from the first one until falling off
// the end.
func (s *interp) run(t *testing.T, m *Machine) {
	labels := map[asm.Label]*instruction{}
	for cur := m.rootInstr; cur != nil; cur = cur.next {
		if cur.kind == labelDef {
			labels[cur.label] = cur
		}
	}
	jump := func(l asm.Label) *instruction {
		target, ok := labels[l]
		require.True(t, ok, "label %s is not defined", l)
		return target
	}

	for cur := m.rootInstr; cur != nil; {
		next := cur.next
		switch cur.kind {
		case labelDef, bundleLock, bundleUnlock, shadowDef, keepAlive:
		case push64:
			// Only return addresses are pushed here; the stack is not modeled.
			require.Equal(t, operandKindFixup, cur.op1.kind)
		case movRR:
			s.writeGPR(cur.op2.v, s.readGPR(cur.op1.v, cur.bits), cur.bits)
		case movzxRmR:
			from, to := extMode(cur.u1).sizes()
			s.writeGPR(cur.op2.v, s.readOperand(cur.op1, from*8), to*8)
		case aluRmiR:
			x, y := s.readGPR(cur.op2.v, cur.bits), s.readOperand(cur.op1, cur.bits)
			switch aluRmiROpcode(cur.u1) {
			case aluRmiROpcodeAdd:
				x += y
			case aluRmiROpcodeAnd:
				x &= y
			default:
				t.Fatalf("unsupported %s", cur)
			}
			s.writeGPR(cur.op2.v, x, cur.bits)
		case lea:
			s.writeGPR(cur.op2.v, s.addr(cur.op1.mem), cur.bits)
		case jmpIndirect:
			s.jumped, s.target = true, s.readOperand(cur.op1, 64)
			next = nil
		case imm:
			s.writeGPR(cur.op2.v, cur.u1, cur.bits)
		case setcc:
			var b uint64
			if s.eval(cond(cur.u1)) {
				b = 1
			}
			s.writeGPR(cur.op2.v, b, 8)
		case jmp:
			next = jump(cur.label)
		case jmpIf:
			if s.eval(cond(cur.u1)) {
				next = jump(cur.label)
			}
		case cmpRmiR:
			s.cmp(s.readGPR(cur.op2.v, cur.bits), s.readOperand(cur.op1, cur.bits), cur.bits)
		case xmmCmpRmR:
			s.ucomis(s.scalar(cur.op2.v), s.scalar(cur.op1.v))
		case xmmUnaryRmR:
			require.Equal(t, sseOpcodeMovaps, sseOpcode(cur.u1))
			s.xmm[cur.op2.v.Reg()] = s.xmm[cur.op1.v.Reg()]
		case xmmRmR:
			src, dst := s.xmm[cur.op1.v.Reg()], s.xmm[cur.op2.v.Reg()]
			for i := range dst {
				switch sseOpcode(cur.u1) {
				case sseOpcodeAndps:
					dst[i] &= src[i]
				case sseOpcodeOrps:
					dst[i] |= src[i]
				case sseOpcodeXorps:
					dst[i] ^= src[i]
				case sseOpcodePcmpeqd:
					if dst[i] == src[i] {
						dst[i] = math.MaxUint32
					} else {
						dst[i] = 0
					}
				default:
					t.Fatalf("unsupported %s", cur)
				}
			}
			s.xmm[cur.op2.v.Reg()] = dst
		case xmmRmRImm:
			require.Equal(t, sseOpcodeCmpps, sseOpcode(cur.u1))
			p := cmppsPred(cur.u1 >> 8)
			src, dst := s.xmm[cur.op1.v.Reg()], s.xmm[cur.op2.v.Reg()]
			for i := range dst {
				if cmppsLane(p, math.Float32frombits(dst[i]), math.Float32frombits(src[i])) {
					dst[i] = math.MaxUint32
				} else {
					dst[i] = 0
				}
			}
			s.xmm[cur.op2.v.Reg()] = dst
		default:
			t.Fatalf("unsupported %s", cur)
		}
		cur = next
	}
}

var floatOperands = []float64{
	math.NaN(), math.Inf(-1), -1.5, math.Copysign(0, -1), 0, 1, 1.5, math.Inf(1),
}

func TestMachine_LowerFcmp_semantics(t *testing.T) {
	for c := ir.FloatCmpCond(0); c < ir.FloatCmpCondNum; c++ {
		for _, typ := range []ir.Type{ir.TypeF32, ir.TypeF64} {
			fn, _, m := newSetup(t, backend.SandboxNone)
			dst := fn.AllocateVariable(ir.TypeI8)
			x, y := fn.AllocateVariable(typ), fn.AllocateVariable(typ)
			require.NoError(t, m.LowerFcmp(dst, x, y, c))
			require.NoError(t, BindScratchRegisters(fn))

			for _, a := range floatOperands {
				for _, b := range floatOperands {
					s := newInterp()
					s.gpr[baseReg(dst.Reg())] = 0xdead
					s.setScalar(x, a)
					s.setScalar(y, b)
					s.run(t, m)
					exp := uint64(0)
					if c.Evaluate(a, b) {
						exp = 1
					}
					require.Equal(t, exp, s.readGPR(dst, 8), "%s %s %v %v", typ, c, a, b)
				}
			}
		}
	}
}

func TestMachine_LowerVectorFcmp_semantics(t *testing.T) {
	for c := ir.FloatCmpCond(0); c < ir.FloatCmpCondNum; c++ {
		fn, _, m := newSetup(t, backend.SandboxNone)
		dst := fn.AllocateVariable(ir.TypeV4F32)
		x, y := fn.AllocateVariable(ir.TypeV4F32), fn.AllocateVariable(ir.TypeV4F32)
		require.NoError(t, m.LowerVectorFcmp(dst, x, y, c))
		require.NoError(t, BindScratchRegisters(fn))

		// Four lanes at a time over all operand pairs.
		var pairs [][2]float64
		for _, a := range floatOperands {
			for _, b := range floatOperands {
				pairs = append(pairs, [2]float64{a, b})
			}
		}
		for i := 0; i < len(pairs); i += 4 {
			s := newInterp()
			var xl, yl [4]uint32
			for lane := 0; lane < 4; lane++ {
				xl[lane] = math.Float32bits(float32(pairs[i+lane][0]))
				yl[lane] = math.Float32bits(float32(pairs[i+lane][1]))
			}
			s.xmm[x.Reg()], s.xmm[y.Reg()] = xl, yl
			s.xmm[dst.Reg()] = [4]uint32{1, 2, 3, 4}
			s.run(t, m)
			for lane := 0; lane < 4; lane++ {
				a, b := pairs[i+lane][0], pairs[i+lane][1]
				exp := uint32(0)
				if c.Evaluate(a, b) {
					exp = math.MaxUint32
				}
				require.Equal(t, exp, s.xmm[dst.Reg()][lane], "%s %v %v", c, a, b)
			}
		}
	}
}

var intOperands = []uint64{
	0, 1, 2, 0x7f, 0x80, 0xff, 0x7fff_ffff, 0x8000_0000, 0xffff_fffe, 0xffff_ffff,
	0x1_0000_0000, 0x7fff_ffff_ffff_ffff, 0x8000_0000_0000_0000, math.MaxUint64,
}

func evalIcmp(c ir.IntegerCmpCond, x, y uint64, n byte) bool {
	sx := int64(x<<(64-n)) >> (64 - n)
	sy := int64(y<<(64-n)) >> (64 - n)
	switch c {
	case ir.IntegerCmpCondEqual:
		return x == y
	case ir.IntegerCmpCondNotEqual:
		return x != y
	case ir.IntegerCmpCondUnsignedGreaterThan:
		return x > y
	case ir.IntegerCmpCondUnsignedGreaterThanOrEqual:
		return x >= y
	case ir.IntegerCmpCondUnsignedLessThan:
		return x < y
	case ir.IntegerCmpCondUnsignedLessThanOrEqual:
		return x <= y
	case ir.IntegerCmpCondSignedGreaterThan:
		return sx > sy
	case ir.IntegerCmpCondSignedGreaterThanOrEqual:
		return sx >= sy
	case ir.IntegerCmpCondSignedLessThan:
		return sx < sy
	case ir.IntegerCmpCondSignedLessThanOrEqual:
		return sx <= sy
	default:
		panic(c)
	}
}

func TestMachine_LowerIcmp_semantics(t *testing.T) {
	for c := ir.IntegerCmpCond(0); c < ir.IntegerCmpCondNum; c++ {
		for _, typ := range []ir.Type{ir.TypeI32, ir.TypeI64} {
			n := typ.Bits()
			fn, _, m := newSetup(t, backend.SandboxNone)
			dst := fn.AllocateVariable(ir.TypeI8)
			x, y := fn.AllocateVariable(typ), fn.AllocateVariable(typ)
			require.NoError(t, m.LowerIcmp(dst, x, y, c))
			require.NoError(t, BindScratchRegisters(fn))

			for _, a := range intOperands {
				for _, b := range intOperands {
					a, b := a&mask(n), b&mask(n)
					s := newInterp()
					s.gpr[baseReg(x.Reg())], s.gpr[baseReg(y.Reg())] = a, b
					s.run(t, m)
					exp := uint64(0)
					if evalIcmp(c, a, b, n) {
						exp = 1
					}
					require.Equal(t, exp, s.readGPR(dst, 8), "%s %s %#x %#x", typ, c, a, b)
				}
			}
		}
	}
}

func TestMachine_LowerWideIcmpBranch_semantics(t *testing.T) {
	for c := ir.IntegerCmpCond(0); c < ir.IntegerCmpCondNum; c++ {
		fn, _, m := newSetup(t, backend.SandboxNone)
		result := fn.AllocateVariable(ir.TypeI32)
		xLo, xHi := fn.AllocateVariable(ir.TypeI32), fn.AllocateVariable(ir.TypeI32)
		yLo, yHi := fn.AllocateVariable(ir.TypeI32), fn.AllocateVariable(ir.TypeI32)
		taken, end := m.NewLabel(), m.NewLabel()
		require.NoError(t, m.LowerWideIcmpBranch(xLo, xHi, yLo, yHi, c, taken))
		m.insert(m.allocateInstr().asImm(result, 0, false))
		m.LowerJump(end)
		m.InsertLabel(taken)
		m.insert(m.allocateInstr().asImm(result, 1, false))
		m.InsertLabel(end)
		require.NoError(t, BindScratchRegisters(fn))

		for _, a := range intOperands {
			for _, b := range intOperands {
				s := newInterp()
				s.gpr[baseReg(xLo.Reg())], s.gpr[baseReg(xHi.Reg())] = a&mask(32), a>>32
				s.gpr[baseReg(yLo.Reg())], s.gpr[baseReg(yHi.Reg())] = b&mask(32), b>>32
				s.run(t, m)
				exp := uint64(0)
				if evalIcmp(c, a, b, 64) {
					exp = 1
				}
				require.Equal(t, exp, s.readGPR(result, 32), "%s %#x %#x", c, a, b)
			}
		}
	}
}

// sandboxBaseValue is the address of the sandbox window used by the tests.
const sandboxBaseValue = 0x7f12_0000_0000

func inSandboxWindow(a uint64) bool {
	return a >= sandboxBaseValue && a-sandboxBaseValue < 1<<32
}

func TestMachine_LegalizeMemOperand_window(t *testing.T) {
	shapes := []struct {
		name string
		mem  func(m *Machine, x *backend.Variable, disp int32) *MemoryOperand
	}{
		{name: "base", mem: func(m *Machine, x *backend.Variable, disp int32) *MemoryOperand {
			return m.NewMemoryOperand(x, nil, 0, disp, nil)
		}},
		{name: "index", mem: func(m *Machine, x *backend.Variable, disp int32) *MemoryOperand {
			return m.NewMemoryOperand(nil, x, 0, disp, nil)
		}},
		{name: "scaled index", mem: func(m *Machine, x *backend.Variable, disp int32) *MemoryOperand {
			return m.NewMemoryOperand(nil, x, 3, disp, nil)
		}},
		{name: "absolute", mem: func(m *Machine, _ *backend.Variable, disp int32) *MemoryOperand {
			return m.NewMemoryOperand(nil, nil, 0, disp, nil)
		}},
	}
	for _, shape := range shapes {
		for _, disp := range []int32{-1, -8, -4096, math.MinInt32} {
			fn, _, m := newSetup(t, backend.SandboxBundledSFI)
			x := fn.AllocateVariable(ir.TypeI32)
			mem, err := m.LegalizeMemOperand(shape.mem(m, x, disp))
			require.NoError(t, err)
			require.True(t, mem.Rebased())
			require.NoError(t, BindScratchRegisters(fn))

			for _, v := range []uint64{0, 0xffff_ffff, 0x8000_0000} {
				s := newInterp()
				s.gpr[sandboxBase] = sandboxBaseValue
				// The upper half of a 32-bit register is never trusted.
				s.gpr[baseReg(x.Reg())] = 0xdead_beef<<32 | v
				s.run(t, m)
				a := s.addr(mem)
				require.True(t, inSandboxWindow(a), "%s disp=%d x=%#x: %#x from %s", shape.name, disp, v, a, mem)
			}
		}
	}
}

func TestMachine_LowerIndirectJump_window(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	targets := []uint64{0, 1, 31, 32, 63, 0x7fff_ffff, 0x8000_0001, 0xffff_ffff, math.MaxUint64}
	for i := 0; i < 64; i++ {
		targets = append(targets, rnd.Uint64())
	}

	ctx, err := StaticInit(context.Background())
	require.NoError(t, err)
	for _, log2 := range []byte{5, 6, 12} {
		for _, typ := range []ir.Type{ir.TypeI32, ir.TypeI64} {
			for _, isCall := range []bool{false, true} {
				fn := backend.NewFunction("f", log2)
				m, err := CreateTargetLowering(ctx, fn, asm.NewAssembler("f"),
					Config{Sandbox: backend.SandboxBundledSFI, InstructionSet: InstructionSetSSE41})
				require.NoError(t, err)
				target := fn.AllocateVariable(typ)
				if isCall {
					require.NoError(t, m.LowerCall(CallTarget{Variable: target}, nil))
				} else {
					require.NoError(t, m.LowerIndirectJump(target))
				}
				require.NoError(t, BindScratchRegisters(fn))

				size := uint64(1) << log2
				for _, v := range targets {
					s := newInterp()
					s.gpr[sandboxBase] = sandboxBaseValue
					s.gpr[baseReg(target.Reg())] = v
					s.run(t, m)
					require.True(t, s.jumped)
					require.Zero(t, s.target%size, "%#x", s.target)
					require.True(t, inSandboxWindow(s.target), "%#x", s.target)
					require.Equal(t, uint64(uint32(v))&^(size-1), s.target-sandboxBaseValue)
				}
			}
		}
	}
}
