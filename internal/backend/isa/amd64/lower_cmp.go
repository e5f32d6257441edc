package amd64

import (
	"fmt"

	"github.com/sfilabs/x64lower/internal/asm"
	"github.com/sfilabs/x64lower/internal/backend"
	"github.com/sfilabs/x64lower/internal/ir"
)

// LowerFcmp sets the byte register dst to the result of the scalar float
// comparison x c y.
func (m *Machine) LowerFcmp(dst, x, y *backend.Variable, c ir.FloatCmpCond) error {
	e := floatComparisonMapping(c)
	if e.c1 == condNone {
		m.insert(m.allocateInstr().asImm(dst, boolToUint64(e.dflt), false))
		return nil
	}

	var op sseOpcode
	switch x.Type() {
	case ir.TypeF32:
		op = sseOpcodeUcomiss
	case ir.TypeF64:
		op = sseOpcodeUcomisd
	default:
		return fmt.Errorf("%w: fcmp on %s", ErrInvalidRegisterClass, x.Type())
	}
	if y.Type() != x.Type() {
		return fmt.Errorf("%w: fcmp between %s and %s", ErrInvalidRegisterClass, x.Type(), y.Type())
	}

	if e.swapScalar {
		x, y = y, x
	}
	m.insert(m.allocateInstr().asXmmCmpRmR(op, newOperandReg(y), x))
	if e.c2 == condNone {
		m.insert(m.allocateInstr().asSetcc(e.c1, dst))
		return nil
	}

	// Either condition yields the default.
	join := m.NewLabel()
	m.insert(m.allocateInstr().asImm(dst, boolToUint64(e.dflt), false))
	m.insert(m.allocateInstr().asJmpIf(e.c1, join))
	m.insert(m.allocateInstr().asJmpIf(e.c2, join))
	m.insert(m.allocateInstr().asImm(dst, boolToUint64(!e.dflt), false))
	m.InsertLabel(join)
	return nil
}

// LowerVectorFcmp sets each lane of dst to all ones where x c y holds for the
// lanes of the 4 x f32 vectors x and y, and to zero elsewhere.
func (m *Machine) LowerVectorFcmp(dst, x, y *backend.Variable, c ir.FloatCmpCond) error {
	for _, v := range [...]*backend.Variable{dst, x, y} {
		if v.Type() != ir.TypeV4F32 {
			return fmt.Errorf("%w: vector fcmp on %s", ErrInvalidRegisterClass, v.Type())
		}
	}
	e := floatComparisonMapping(c)
	switch c {
	case ir.FloatCmpCondFalse:
		m.insert(m.allocateInstr().asXmmRmR(sseOpcodeXorps, newOperandReg(dst), dst))
		return nil
	case ir.FloatCmpCondTrue:
		m.insert(m.allocateInstr().asXmmRmR(sseOpcodePcmpeqd, newOperandReg(dst), dst))
		return nil
	}

	if e.pred != cmppsInvalid {
		if e.swapVector {
			x, y = y, x
		}
		t := m.cmpps(e.pred, x, y)
		m.insert(m.allocateInstr().asXmmUnaryRmR(sseOpcodeMovaps, newOperandReg(t), dst))
		return nil
	}

	var p1, p2 cmppsPred
	var combine sseOpcode
	switch c {
	case ir.FloatCmpCondOrderedNotEqual:
		p1, p2, combine = cmppsNeq, cmppsOrd, sseOpcodeAndps
	case ir.FloatCmpCondUnorderedEqual:
		p1, p2, combine = cmppsEq, cmppsUnord, sseOpcodeOrps
	default:
		panic(fmt.Sprintf("BUG: no vector lowering for %s", c))
	}
	t1 := m.cmpps(p1, x, y)
	t2 := m.cmpps(p2, x, y)
	m.insert(m.allocateInstr().asXmmRmR(combine, newOperandReg(t2), t1))
	m.insert(m.allocateInstr().asXmmUnaryRmR(sseOpcodeMovaps, newOperandReg(t1), dst))
	return nil
}

// cmpps returns a new vector holding x p y.
func (m *Machine) cmpps(p cmppsPred, x, y *backend.Variable) *backend.Variable {
	t := m.fn.AllocateVariable(ir.TypeV4F32)
	m.insert(m.allocateInstr().asXmmUnaryRmR(sseOpcodeMovaps, newOperandReg(x), t))
	m.insert(m.allocateInstr().asXmmRmRImm(sseOpcodeCmpps, byte(p), newOperandReg(y), t))
	return t
}

// LowerIcmp sets the byte register dst to the result of x c y.
func (m *Machine) LowerIcmp(dst, x, y *backend.Variable, c ir.IntegerCmpCond) error {
	if err := checkIntegerOperands(x, y); err != nil {
		return err
	}
	cc := integerComparisonMapping(c)
	m.insert(m.allocateInstr().asCmpRmiR(newOperandReg(y), x, bitsOf(x)))
	m.insert(m.allocateInstr().asSetcc(cc, dst))
	return nil
}

// LowerWideIcmpBranch branches to target if the double-word comparison
// (xHi:xLo) c (yHi:yLo) holds, and falls through otherwise.
func (m *Machine) LowerWideIcmpBranch(xLo, xHi, yLo, yHi *backend.Variable, c ir.IntegerCmpCond, target asm.Label) error {
	for _, pair := range [...][2]*backend.Variable{{xLo, yLo}, {xHi, yHi}, {xLo, xHi}} {
		if err := checkIntegerOperands(pair[0], pair[1]); err != nil {
			return err
		}
	}
	bits := bitsOf(xLo)
	cmp := func(x, y *backend.Variable) {
		m.insert(m.allocateInstr().asCmpRmiR(newOperandReg(y), x, bits))
	}

	e := wideIntegerComparisonMapping(c)
	switch c {
	case ir.IntegerCmpCondEqual:
		skip := m.NewLabel()
		cmp(xLo, yLo)
		m.insert(m.allocateInstr().asJmpIf(condNE, skip))
		cmp(xHi, yHi)
		m.insert(m.allocateInstr().asJmpIf(condE, target))
		m.InsertLabel(skip)
	case ir.IntegerCmpCondNotEqual:
		cmp(xLo, yLo)
		m.insert(m.allocateInstr().asJmpIf(condNE, target))
		cmp(xHi, yHi)
		m.insert(m.allocateInstr().asJmpIf(condNE, target))
	default:
		skip := m.NewLabel()
		cmp(xHi, yHi)
		m.insert(m.allocateInstr().asJmpIf(e.c1, target))
		m.insert(m.allocateInstr().asJmpIf(e.c2, skip))
		cmp(xLo, yLo)
		m.insert(m.allocateInstr().asJmpIf(e.c3, target))
		m.InsertLabel(skip)
	}
	return nil
}

func checkIntegerOperands(x, y *backend.Variable) error {
	if !x.Type().IsInt() || x.Type() != y.Type() {
		return fmt.Errorf("%w: integer comparison between %s and %s", ErrInvalidRegisterClass, x.Type(), y.Type())
	}
	return nil
}

func boolToUint64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
