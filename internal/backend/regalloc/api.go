package regalloc

// RegisterInfo describes the registers of a target to the register
// allocator, which runs outside of this module and hands back a finished
// mapping of values to registers.
type RegisterInfo struct {
	// AllocatableRegisters is a 2D array of allocatable RealReg, indexed by RegType.
	// The order matters: the first element is the most preferred one when allocating.
	AllocatableRegisters [NumRegType][]RealReg
	CalleeSavedRegisters RegSet
	CallerSavedRegisters RegSet
	// RealRegName returns the name of the given RealReg for debugging.
	RealRegName func(r RealReg) string
	// RealRegType returns the RegType of the given RealReg.
	RealRegType func(r RealReg) RegType
}
