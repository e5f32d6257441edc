package amd64

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/sfilabs/x64lower/internal/backend/regalloc"
	"github.com/sfilabs/x64lower/internal/ir"
)

// RegClass partitions the registers by width.
type RegClass byte

const (
	classInvalid RegClass = iota
	classI64
	classI32
	classI16
	classI8
	classXMM
	numRegClasses
)

// String implements fmt.Stringer.
func (c RegClass) String() string {
	switch c {
	case classI64:
		return "i64"
	case classI32:
		return "i32"
	case classI16:
		return "i16"
	case classI8:
		return "i8"
	case classXMM:
		return "xmm"
	default:
		return "invalid"
	}
}

// truncRole identifies the register subsets used when lowering truncations.
type truncRole byte

const (
	roleIs64To8 truncRole = iota
	roleIs32To8
	roleIs16To8
	roleTrunc8Rcvr
	roleAhRcvr
	numTruncRoles
)

var truncRoleFlags = [numTruncRoles]regFlags{
	roleIs64To8:    flagIs64To8,
	roleIs32To8:    flagIs32To8,
	roleIs16To8:    flagIs16To8,
	roleTrunc8Rcvr: flagTrunc8Rcvr,
	roleAhRcvr:     flagAhRcvr,
}

// classPartition holds the register sets derived from the catalog.
type classPartition struct {
	// byClass partitions all registers by width.
	byClass [numRegClasses]regalloc.RegSet
	// byRole are subsets of byClass used by truncations.
	byRole [numTruncRoles]regalloc.RegSet
	// aliases[r] are the registers sharing storage with r, including r.
	aliases [numRegs]regalloc.RegSet
}

func buildClassPartition(regs *[numRegs]regEntry) (p classPartition) {
	for r := rax; r < numRegs; r++ {
		e := &regs[r]
		p.byClass[e.class] = p.byClass[e.class].Add(r)
		for role, f := range truncRoleFlags {
			if e.has(f) {
				p.byRole[role] = p.byRole[role].Add(r)
			}
		}
	}
	for r := rax; r < numRegs; r++ {
		for o := rax; o < numRegs; o++ {
			if overlaps(r, o) {
				p.aliases[r] = p.aliases[r].Add(o)
			}
		}
	}
	return
}

// overlaps returns true if r and o share storage. ah overlaps every view of
// rax except al.
func overlaps(r, o regalloc.RealReg) bool {
	if regTable[r].base != regTable[o].base {
		return false
	}
	return !(r == ah && o == al) && !(r == al && o == ah)
}

// registersForType returns the set of registers holding values of type t.
func (p *classPartition) registersForType(t ir.Type) regalloc.RegSet {
	switch t {
	case ir.TypeI1, ir.TypeI8:
		return p.byClass[classI8].Remove(ah)
	case ir.TypeI16:
		return p.byClass[classI16]
	case ir.TypeI32:
		return p.byClass[classI32]
	case ir.TypeI64:
		return p.byClass[classI64]
	case ir.TypeF32, ir.TypeF64, ir.TypeV4F32, ir.TypeV4I32:
		return p.byClass[classXMM]
	default:
		panic(fmt.Sprintf("BUG: no register class for %s", t))
	}
}

// RegSetMask selects registers by role in SelectRegisterSubset.
type RegSetMask byte

const (
	RegSetCallerSave RegSetMask = 1 << iota
	RegSetCalleeSave
	RegSetStackPointer
	RegSetFramePointer

	RegSetNone RegSetMask = 0
	RegSetAll             = RegSetCallerSave | RegSetCalleeSave | RegSetStackPointer | RegSetFramePointer
)

func (m RegSetMask) matches(e *regEntry) bool {
	return (m&RegSetCallerSave != 0 && e.has(flagScratch)) ||
		(m&RegSetCalleeSave != 0 && e.has(flagPreserved)) ||
		(m&RegSetStackPointer != 0 && e.has(flagStackPtr)) ||
		(m&RegSetFramePointer != 0 && e.has(flagFramePtr))
}

// SelectRegisterSubset returns the registers which match include and do not
// match exclude. When sandboxed, the registers reserved by the sandbox are
// never returned.
func (d *TargetDescriptor) SelectRegisterSubset(include, exclude RegSetMask, sandboxed bool) regalloc.RegSet {
	var ret regalloc.RegSet
	for r := rax; r < numRegs; r++ {
		e := &d.regs[r]
		if !include.matches(e) || exclude.matches(e) {
			continue
		}
		if sandboxed && e.has(flagSandboxReserved) {
			continue
		}
		ret = ret.Add(r)
	}
	return ret
}

// RegisterInfo returns the description of the allocatable registers handed to
// the register allocator.
func (d *TargetDescriptor) RegisterInfo(sandboxed bool) *regalloc.RegisterInfo {
	allocatable := d.SelectRegisterSubset(RegSetCallerSave|RegSetCalleeSave, RegSetStackPointer|RegSetFramePointer, sandboxed)
	info := &regalloc.RegisterInfo{
		CalleeSavedRegisters: d.SelectRegisterSubset(RegSetCalleeSave, RegSetNone, sandboxed),
		CallerSavedRegisters: d.SelectRegisterSubset(RegSetCallerSave, RegSetNone, sandboxed),
		RealRegName:          RegisterName,
		RealRegType: func(r regalloc.RealReg) regalloc.RegType {
			if isXMM(r) {
				return regalloc.RegTypeFloat
			}
			return regalloc.RegTypeInt
		},
	}
	// Caller-saved registers first, as they need no save in the prologue.
	for _, preferCallee := range []bool{false, true} {
		allocatable.Intersect(d.classes.byClass[classI64]).Range(func(r regalloc.RealReg) {
			if d.regs[r].has(flagPreserved) == preferCallee {
				info.AllocatableRegisters[regalloc.RegTypeInt] = append(info.AllocatableRegisters[regalloc.RegTypeInt], r)
			}
		})
	}
	info.AllocatableRegisters[regalloc.RegTypeFloat] = allocatable.Intersect(d.classes.byClass[classXMM]).Slice()
	return info
}

// RegistersForType returns the registers able to hold a value of type t.
func (d *TargetDescriptor) RegistersForType(t ir.Type) regalloc.RegSet {
	return d.classes.registersForType(t)
}

// Aliases returns the registers sharing storage with r, including r.
func (d *TargetDescriptor) Aliases(r regalloc.RealReg) regalloc.RegSet {
	return d.classes.aliases[r]
}

// permutationKey groups base registers which are interchangeable: every
// view has the same flags.
type permutationKey [4]regFlags

func (d *TargetDescriptor) permutationKey(base regalloc.RealReg) permutationKey {
	if isXMM(base) {
		return permutationKey{d.regs[base].flags, 0, 0, 0}
	}
	var k permutationKey
	for i, bits := range [4]byte{64, 32, 16, 8} {
		k[i] = d.regs[gprView(base, bits)].flags
	}
	return k
}

// BuildRandomPermutation returns a bijection over all registers which maps
// each register to one with the same class and roles. Registers aliasing any
// register in exclude map to themselves, as does rax whose ah view has no
// counterpart. The result only depends on seed and exclude.
func (d *TargetDescriptor) BuildRandomPermutation(seed int64, exclude regalloc.RegSet) []regalloc.RealReg {
	perm := make([]regalloc.RealReg, numRegs)
	for r := range perm {
		perm[r] = regalloc.RealReg(r)
	}

	var keys []permutationKey
	groups := map[permutationKey][]regalloc.RealReg{}
	for r := rax; r < numRegs; r++ {
		if baseReg(r) != r || r == rax {
			continue
		}
		if !d.classes.aliases[r].Intersect(exclude).Empty() {
			continue
		}
		k := d.permutationKey(r)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], r)
	}

	rnd := rand.New(rand.NewSource(seed))
	for _, k := range keys {
		members := groups[k]
		shuffled := append([]regalloc.RealReg(nil), members...)
		rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		for i, from := range members {
			to := shuffled[i]
			if isXMM(from) {
				perm[from] = to
				continue
			}
			for _, bits := range [4]byte{64, 32, 16, 8} {
				perm[gprView(from, bits)] = gprView(to, bits)
			}
		}
	}
	return perm
}

// FormatRegisterCatalog renders the registers of d for diagnostics, one per
// line. When perm is not nil, the image of each register under perm is
// appended.
func (d *TargetDescriptor) FormatRegisterCatalog(perm []regalloc.RealReg) string {
	var b strings.Builder
	b.WriteString("reg\tclass\tenc\troles\taliases")
	if perm != nil {
		b.WriteString("\tperm")
	}
	b.WriteByte('\n')
	for r := rax; r < numRegs; r++ {
		e := &d.regs[r]
		fmt.Fprintf(&b, "%s\t%s\t%d\t%s\t%s", e.name, e.class, e.enc, e.flags,
			strings.ReplaceAll(d.classes.aliases[r].Format(RegisterName), " ", ""))
		if perm != nil {
			fmt.Fprintf(&b, "\t%s", RegisterName(perm[r]))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
