// Package ir holds the types and comparison predicates shared between the
// front-end producing the low-level form and the target lowerings.
package ir

// Type represents the type of a value in the low-level form.
type Type byte

const (
	TypeInvalid Type = iota

	// TypeI1 is a boolean produced by comparisons.
	TypeI1
	TypeI8
	TypeI16
	// TypeI32 is also the type of pointers: addresses are modeled as 32-bit
	// values and zero-extended wherever they reach a 64-bit register.
	TypeI32
	TypeI64
	TypeF32
	TypeF64

	// TypeV4F32 is a 128-bit vector of four f32 lanes.
	TypeV4F32
	// TypeV4I32 is a 128-bit vector of four i32 lanes.
	TypeV4I32

	typeEnd
)

// String implements fmt.Stringer.
func (t Type) String() (ret string) {
	switch t {
	case TypeInvalid:
		return "invalid"
	case TypeI1:
		return "i1"
	case TypeI8:
		return "i8"
	case TypeI16:
		return "i16"
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	case TypeV4F32:
		return "v4f32"
	case TypeV4I32:
		return "v4i32"
	default:
		panic(int(t))
	}
}

// IsInt returns true if the type is a scalar integer type.
func (t Type) IsInt() bool {
	return t >= TypeI1 && t <= TypeI64
}

// IsFloat returns true if the type is a scalar floating point type.
func (t Type) IsFloat() bool {
	return t == TypeF32 || t == TypeF64
}

// IsVector returns true if the type is a 128-bit vector type.
func (t Type) IsVector() bool {
	return t == TypeV4F32 || t == TypeV4I32
}

// Bits returns the number of bits required to represent the type.
func (t Type) Bits() byte {
	switch t {
	case TypeI1, TypeI8:
		return 8
	case TypeI16:
		return 16
	case TypeI32, TypeF32:
		return 32
	case TypeI64, TypeF64:
		return 64
	case TypeV4F32, TypeV4I32:
		return 128
	default:
		panic(int(t))
	}
}

// Size returns the number of bytes required to represent the type.
func (t Type) Size() byte {
	return t.Bits() / 8
}

// Valid returns true if the type is one of the defined types.
func (t Type) Valid() bool {
	return t > TypeInvalid && t < typeEnd
}
