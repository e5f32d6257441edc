package amd64

import (
	"fmt"
	"strings"

	"github.com/sfilabs/x64lower/internal/ir"
)

// cond is a hardware condition code. The value is the 4-bit condition field
// of Jcc/SETcc/CMOVcc opcodes.
type cond byte

const (
	condO cond = iota
	condNO
	condB
	condAE
	condE
	condNE
	condBE
	condA
	condS
	condNS
	condP
	condNP
	condL
	condGE
	condLE
	condG

	// condNone marks the absence of a condition in the tables below.
	condNone
)

// String implements fmt.Stringer.
func (c cond) String() string {
	switch c {
	case condO:
		return "o"
	case condNO:
		return "no"
	case condB:
		return "b"
	case condAE:
		return "ae"
	case condE:
		return "e"
	case condNE:
		return "ne"
	case condBE:
		return "be"
	case condA:
		return "a"
	case condS:
		return "s"
	case condNS:
		return "ns"
	case condP:
		return "p"
	case condNP:
		return "np"
	case condL:
		return "l"
	case condGE:
		return "ge"
	case condLE:
		return "le"
	case condG:
		return "g"
	case condNone:
		return "none"
	default:
		panic(fmt.Sprintf("BUG: invalid cond %d", c))
	}
}

// invert returns the negated condition.
func (c cond) invert() cond {
	if c == condNone {
		panic("BUG: invert of condNone")
	}
	return c ^ 1
}

// cmppsPred is the predicate immediate of cmpps/cmppd.
type cmppsPred byte

const (
	cmppsEq cmppsPred = iota
	cmppsLt
	cmppsLe
	cmppsUnord
	cmppsNeq
	cmppsNlt
	cmppsNle
	cmppsOrd

	// cmppsInvalid marks predicates with no single cmpps form.
	cmppsInvalid
)

// String implements fmt.Stringer.
func (p cmppsPred) String() string {
	switch p {
	case cmppsEq:
		return "eq"
	case cmppsLt:
		return "lt"
	case cmppsLe:
		return "le"
	case cmppsUnord:
		return "unord"
	case cmppsNeq:
		return "neq"
	case cmppsNlt:
		return "nlt"
	case cmppsNle:
		return "nle"
	case cmppsOrd:
		return "ord"
	default:
		return "invalid"
	}
}

// fcmpEntry is how a floating point comparison is lowered.
//
// The scalar form compares with ucomiss/ucomisd, after swapping the operands
// if swapScalar. With a single condition c1 the result is setcc c1 and dflt
// is always true. With two conditions, the result starts as dflt and is
// negated unless either c1 or c2 holds. Without condition the result is
// the constant dflt.
//
// The vector form is cmpps with pred after swapping if swapVector.
// cmppsInvalid entries are synthesized from two compares.
type fcmpEntry struct {
	cond       ir.FloatCmpCond
	name       string
	dflt       bool
	swapScalar bool
	c1, c2     cond
	swapVector bool
	pred       cmppsPred
}

var fcmpTable = [ir.FloatCmpCondNum]fcmpEntry{
	{ir.FloatCmpCondFalse, "false", false, false, condNone, condNone, false, cmppsInvalid},
	{ir.FloatCmpCondOrderedEqual, "oeq", false, false, condNE, condP, false, cmppsEq},
	{ir.FloatCmpCondOrderedGreaterThan, "ogt", true, false, condA, condNone, true, cmppsLt},
	{ir.FloatCmpCondOrderedGreaterThanOrEqual, "oge", true, false, condAE, condNone, true, cmppsLe},
	{ir.FloatCmpCondOrderedLessThan, "olt", true, true, condA, condNone, false, cmppsLt},
	{ir.FloatCmpCondOrderedLessThanOrEqual, "ole", true, true, condAE, condNone, false, cmppsLe},
	{ir.FloatCmpCondOrderedNotEqual, "one", true, false, condNE, condNone, false, cmppsInvalid},
	{ir.FloatCmpCondOrdered, "ord", true, false, condNP, condNone, false, cmppsOrd},
	{ir.FloatCmpCondUnorderedEqual, "ueq", true, false, condE, condNone, false, cmppsInvalid},
	{ir.FloatCmpCondUnorderedGreaterThan, "ugt", true, true, condB, condNone, false, cmppsNle},
	{ir.FloatCmpCondUnorderedGreaterThanOrEqual, "uge", true, true, condBE, condNone, false, cmppsNlt},
	{ir.FloatCmpCondUnorderedLessThan, "ult", true, false, condB, condNone, true, cmppsNle},
	{ir.FloatCmpCondUnorderedLessThanOrEqual, "ule", true, false, condBE, condNone, true, cmppsNlt},
	{ir.FloatCmpCondUnorderedNotEqual, "une", true, false, condNE, condP, false, cmppsNeq},
	{ir.FloatCmpCondUnordered, "uno", true, false, condP, condNone, false, cmppsUnord},
	{ir.FloatCmpCondTrue, "true", true, false, condNone, condNone, false, cmppsInvalid},
}

// icmp32Entry maps an integer comparison of at most 64 bits to the
// condition after cmp x, y.
type icmp32Entry struct {
	cond ir.IntegerCmpCond
	name string
	c    cond
}

var icmp32Table = [ir.IntegerCmpCondNum]icmp32Entry{
	{ir.IntegerCmpCondEqual, "eq", condE},
	{ir.IntegerCmpCondNotEqual, "ne", condNE},
	{ir.IntegerCmpCondUnsignedGreaterThan, "ugt", condA},
	{ir.IntegerCmpCondUnsignedGreaterThanOrEqual, "uge", condAE},
	{ir.IntegerCmpCondUnsignedLessThan, "ult", condB},
	{ir.IntegerCmpCondUnsignedLessThanOrEqual, "ule", condBE},
	{ir.IntegerCmpCondSignedGreaterThan, "sgt", condG},
	{ir.IntegerCmpCondSignedGreaterThanOrEqual, "sge", condGE},
	{ir.IntegerCmpCondSignedLessThan, "slt", condL},
	{ir.IntegerCmpCondSignedLessThanOrEqual, "sle", condLE},
}

// icmp64Entry maps a comparison of two-word values to up to three branches:
// after comparing the high words, c1 branches to true and c2 to false; after
// comparing the low words, c3 branches to true. Equality has no entries as
// it is lowered with two branches over both halves.
type icmp64Entry struct {
	cond       ir.IntegerCmpCond
	name       string
	c1, c2, c3 cond
}

var icmp64Table = [ir.IntegerCmpCondNum]icmp64Entry{
	{ir.IntegerCmpCondEqual, "eq", condNone, condNone, condNone},
	{ir.IntegerCmpCondNotEqual, "ne", condNone, condNone, condNone},
	{ir.IntegerCmpCondUnsignedGreaterThan, "ugt", condA, condB, condA},
	{ir.IntegerCmpCondUnsignedGreaterThanOrEqual, "uge", condA, condB, condAE},
	{ir.IntegerCmpCondUnsignedLessThan, "ult", condB, condA, condB},
	{ir.IntegerCmpCondUnsignedLessThanOrEqual, "ule", condB, condA, condBE},
	{ir.IntegerCmpCondSignedGreaterThan, "sgt", condG, condL, condA},
	{ir.IntegerCmpCondSignedGreaterThanOrEqual, "sge", condG, condL, condAE},
	{ir.IntegerCmpCondSignedLessThan, "slt", condL, condG, condB},
	{ir.IntegerCmpCondSignedLessThanOrEqual, "sle", condL, condG, condBE},
}

// checkConditionTables cross-checks the tables against the predicate
// enumerations: every entry must sit at the index of its predicate and carry
// the predicate's name, so that any reordering or insertion upstream is
// detected before a single instruction is lowered.
func checkConditionTables(
	fcmp *[ir.FloatCmpCondNum]fcmpEntry,
	icmp32 *[ir.IntegerCmpCondNum]icmp32Entry,
	icmp64 *[ir.IntegerCmpCondNum]icmp64Entry,
) error {
	for i := range fcmp {
		e, c := &fcmp[i], ir.FloatCmpCond(i)
		if e.cond != c || e.name != c.String() {
			return fmt.Errorf("%w: float comparison table entry %d is %q, want %q", ErrConfigurationFatal, i, e.name, c)
		}
		switch {
		case e.c1 == condNone && e.c2 != condNone:
			return fmt.Errorf("%w: float comparison %s has a second condition only", ErrConfigurationFatal, c)
		case e.c1 != condNone && e.c2 == condNone && !e.dflt:
			return fmt.Errorf("%w: float comparison %s with one condition must default to true", ErrConfigurationFatal, c)
		}
	}
	for i := range icmp32 {
		e, c := &icmp32[i], ir.IntegerCmpCond(i)
		if e.cond != c || e.name != c.String() {
			return fmt.Errorf("%w: integer comparison table entry %d is %q, want %q", ErrConfigurationFatal, i, e.name, c)
		}
		if e.c == condNone {
			return fmt.Errorf("%w: integer comparison %s has no condition", ErrConfigurationFatal, c)
		}
	}
	for i := range icmp64 {
		e, c := &icmp64[i], ir.IntegerCmpCond(i)
		if e.cond != c || e.name != c.String() {
			return fmt.Errorf("%w: wide integer comparison table entry %d is %q, want %q", ErrConfigurationFatal, i, e.name, c)
		}
		equality := c == ir.IntegerCmpCondEqual || c == ir.IntegerCmpCondNotEqual
		if complete := e.c1 != condNone && e.c2 != condNone && e.c3 != condNone; complete == equality {
			return fmt.Errorf("%w: wide integer comparison %s has malformed conditions", ErrConfigurationFatal, c)
		}
	}
	return nil
}

// integerComparisonMapping returns the condition for p. Out of range input
// is a programming error.
func integerComparisonMapping(p ir.IntegerCmpCond) cond {
	if p >= ir.IntegerCmpCondNum {
		panic(fmt.Sprintf("BUG: integer comparison %d out of range", p))
	}
	return icmp32Table[p].c
}

func floatComparisonMapping(p ir.FloatCmpCond) *fcmpEntry {
	if p >= ir.FloatCmpCondNum {
		panic(fmt.Sprintf("BUG: float comparison %d out of range", p))
	}
	return &fcmpTable[p]
}

func wideIntegerComparisonMapping(p ir.IntegerCmpCond) *icmp64Entry {
	if p >= ir.IntegerCmpCondNum {
		panic(fmt.Sprintf("BUG: integer comparison %d out of range", p))
	}
	return &icmp64Table[p]
}

// FormatConditionTables renders the condition tables for diagnostics.
func FormatConditionTables() string {
	var b strings.Builder
	b.WriteString("fcmp\tdefault\tswap\tc1\tc2\tvswap\tpred\n")
	for i := range fcmpTable {
		e := &fcmpTable[i]
		fmt.Fprintf(&b, "%s\t%t\t%t\t%s\t%s\t%t\t%s\n", e.name, e.dflt, e.swapScalar, e.c1, e.c2, e.swapVector, e.pred)
	}
	b.WriteString("\nicmp\tc\tc1\tc2\tc3\n")
	for i := range icmp32Table {
		e, w := &icmp32Table[i], &icmp64Table[i]
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%s\n", e.name, e.c, w.c1, w.c2, w.c3)
	}
	return b.String()
}
