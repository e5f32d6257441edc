package amd64

// extMode represents the mode of extension in movzx. Zero-extensions to 64
// bits from bytes and words are the 32-bit forms, as writing a 32-bit
// register clears the upper half.
type extMode byte

const (
	// extModeBL represents Byte -> Longword.
	extModeBL extMode = iota
	// extModeWL represents Word -> Longword.
	extModeWL
	// extModeLQ represents Longword -> Quadword, encoded as movl.
	extModeLQ
)

// String implements fmt.Stringer.
func (e extMode) String() string {
	switch e {
	case extModeBL:
		return "bl"
	case extModeWL:
		return "wl"
	case extModeLQ:
		return "lq"
	default:
		panic("BUG: invalid ext mode")
	}
}

func (e extMode) sizes() (from, to byte) {
	switch e {
	case extModeBL:
		return 1, 4
	case extModeWL:
		return 2, 4
	case extModeLQ:
		return 4, 8
	default:
		panic("BUG: invalid ext mode")
	}
}
