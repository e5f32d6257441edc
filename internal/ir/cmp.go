package ir

import "math"

// IntegerCmpCond represents a condition for integer comparison.
//
// The order of the constants is relied upon by the target condition tables,
// which cross-check it at initialization.
type IntegerCmpCond byte

const (
	// IntegerCmpCondEqual represents "==".
	IntegerCmpCondEqual IntegerCmpCond = iota
	// IntegerCmpCondNotEqual represents "!=".
	IntegerCmpCondNotEqual
	// IntegerCmpCondUnsignedGreaterThan represents ">" for unsigned integers.
	IntegerCmpCondUnsignedGreaterThan
	// IntegerCmpCondUnsignedGreaterThanOrEqual represents ">=" for unsigned integers.
	IntegerCmpCondUnsignedGreaterThanOrEqual
	// IntegerCmpCondUnsignedLessThan represents "<" for unsigned integers.
	IntegerCmpCondUnsignedLessThan
	// IntegerCmpCondUnsignedLessThanOrEqual represents "<=" for unsigned integers.
	IntegerCmpCondUnsignedLessThanOrEqual
	// IntegerCmpCondSignedGreaterThan represents ">" for signed integers.
	IntegerCmpCondSignedGreaterThan
	// IntegerCmpCondSignedGreaterThanOrEqual represents ">=" for signed integers.
	IntegerCmpCondSignedGreaterThanOrEqual
	// IntegerCmpCondSignedLessThan represents "<" for signed integers.
	IntegerCmpCondSignedLessThan
	// IntegerCmpCondSignedLessThanOrEqual represents "<=" for signed integers.
	IntegerCmpCondSignedLessThanOrEqual

	// IntegerCmpCondNum is the number of integer comparison conditions.
	IntegerCmpCondNum
)

// String implements fmt.Stringer.
func (i IntegerCmpCond) String() string {
	switch i {
	case IntegerCmpCondEqual:
		return "eq"
	case IntegerCmpCondNotEqual:
		return "ne"
	case IntegerCmpCondUnsignedGreaterThan:
		return "ugt"
	case IntegerCmpCondUnsignedGreaterThanOrEqual:
		return "uge"
	case IntegerCmpCondUnsignedLessThan:
		return "ult"
	case IntegerCmpCondUnsignedLessThanOrEqual:
		return "ule"
	case IntegerCmpCondSignedGreaterThan:
		return "sgt"
	case IntegerCmpCondSignedGreaterThanOrEqual:
		return "sge"
	case IntegerCmpCondSignedLessThan:
		return "slt"
	case IntegerCmpCondSignedLessThanOrEqual:
		return "sle"
	default:
		panic("invalid integer comparison condition")
	}
}

// Signed returns true if the condition is signed integer comparison.
func (i IntegerCmpCond) Signed() bool {
	switch i {
	case IntegerCmpCondSignedLessThan, IntegerCmpCondSignedLessThanOrEqual,
		IntegerCmpCondSignedGreaterThan, IntegerCmpCondSignedGreaterThanOrEqual:
		return true
	default:
		return false
	}
}

// FloatCmpCond represents a condition for floating point comparison.
//
// Ordered predicates are false when either operand is NaN, unordered ones
// are true in that case.
type FloatCmpCond byte

const (
	// FloatCmpCondFalse is always false.
	FloatCmpCondFalse FloatCmpCond = iota
	// FloatCmpCondOrderedEqual represents "==" where neither operand is NaN.
	FloatCmpCondOrderedEqual
	// FloatCmpCondOrderedGreaterThan represents ">" where neither operand is NaN.
	FloatCmpCondOrderedGreaterThan
	// FloatCmpCondOrderedGreaterThanOrEqual represents ">=" where neither operand is NaN.
	FloatCmpCondOrderedGreaterThanOrEqual
	// FloatCmpCondOrderedLessThan represents "<" where neither operand is NaN.
	FloatCmpCondOrderedLessThan
	// FloatCmpCondOrderedLessThanOrEqual represents "<=" where neither operand is NaN.
	FloatCmpCondOrderedLessThanOrEqual
	// FloatCmpCondOrderedNotEqual represents "!=" where neither operand is NaN.
	FloatCmpCondOrderedNotEqual
	// FloatCmpCondOrdered is true when neither operand is NaN.
	FloatCmpCondOrdered
	// FloatCmpCondUnorderedEqual represents "==" or either operand is NaN.
	FloatCmpCondUnorderedEqual
	// FloatCmpCondUnorderedGreaterThan represents ">" or either operand is NaN.
	FloatCmpCondUnorderedGreaterThan
	// FloatCmpCondUnorderedGreaterThanOrEqual represents ">=" or either operand is NaN.
	FloatCmpCondUnorderedGreaterThanOrEqual
	// FloatCmpCondUnorderedLessThan represents "<" or either operand is NaN.
	FloatCmpCondUnorderedLessThan
	// FloatCmpCondUnorderedLessThanOrEqual represents "<=" or either operand is NaN.
	FloatCmpCondUnorderedLessThanOrEqual
	// FloatCmpCondUnorderedNotEqual represents "!=" or either operand is NaN.
	FloatCmpCondUnorderedNotEqual
	// FloatCmpCondUnordered is true when either operand is NaN.
	FloatCmpCondUnordered
	// FloatCmpCondTrue is always true.
	FloatCmpCondTrue

	// FloatCmpCondNum is the number of floating point comparison conditions.
	FloatCmpCondNum
)

// String implements fmt.Stringer.
func (f FloatCmpCond) String() string {
	switch f {
	case FloatCmpCondFalse:
		return "false"
	case FloatCmpCondOrderedEqual:
		return "oeq"
	case FloatCmpCondOrderedGreaterThan:
		return "ogt"
	case FloatCmpCondOrderedGreaterThanOrEqual:
		return "oge"
	case FloatCmpCondOrderedLessThan:
		return "olt"
	case FloatCmpCondOrderedLessThanOrEqual:
		return "ole"
	case FloatCmpCondOrderedNotEqual:
		return "one"
	case FloatCmpCondOrdered:
		return "ord"
	case FloatCmpCondUnorderedEqual:
		return "ueq"
	case FloatCmpCondUnorderedGreaterThan:
		return "ugt"
	case FloatCmpCondUnorderedGreaterThanOrEqual:
		return "uge"
	case FloatCmpCondUnorderedLessThan:
		return "ult"
	case FloatCmpCondUnorderedLessThanOrEqual:
		return "ule"
	case FloatCmpCondUnorderedNotEqual:
		return "une"
	case FloatCmpCondUnordered:
		return "uno"
	case FloatCmpCondTrue:
		return "true"
	default:
		panic("invalid float comparison condition")
	}
}

// Evaluate returns the result of comparing x and y with this condition
// following IEEE 754 semantics.
func (f FloatCmpCond) Evaluate(x, y float64) bool {
	unordered := math.IsNaN(x) || math.IsNaN(y)
	switch f {
	case FloatCmpCondFalse:
		return false
	case FloatCmpCondOrderedEqual:
		return !unordered && x == y
	case FloatCmpCondOrderedGreaterThan:
		return !unordered && x > y
	case FloatCmpCondOrderedGreaterThanOrEqual:
		return !unordered && x >= y
	case FloatCmpCondOrderedLessThan:
		return !unordered && x < y
	case FloatCmpCondOrderedLessThanOrEqual:
		return !unordered && x <= y
	case FloatCmpCondOrderedNotEqual:
		return !unordered && x != y
	case FloatCmpCondOrdered:
		return !unordered
	case FloatCmpCondUnorderedEqual:
		return unordered || x == y
	case FloatCmpCondUnorderedGreaterThan:
		return unordered || x > y
	case FloatCmpCondUnorderedGreaterThanOrEqual:
		return unordered || x >= y
	case FloatCmpCondUnorderedLessThan:
		return unordered || x < y
	case FloatCmpCondUnorderedLessThanOrEqual:
		return unordered || x <= y
	case FloatCmpCondUnorderedNotEqual:
		return unordered || x != y
	case FloatCmpCondUnordered:
		return unordered
	case FloatCmpCondTrue:
		return true
	default:
		panic("invalid float comparison condition")
	}
}
