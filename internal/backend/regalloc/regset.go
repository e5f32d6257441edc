package regalloc

import (
	"math/bits"
	"strings"
)

// NewRegSet returns a new RegSet with the given registers.
func NewRegSet(regs ...RealReg) RegSet {
	var ret RegSet
	for _, r := range regs {
		ret = ret.Add(r)
	}
	return ret
}

// RegSet represents a set of physical registers. It is a value type: every
// operation returns a new set.
type RegSet [RealRegsNumMax / 64]uint64

// Has returns true if r is in the set.
func (rs RegSet) Has(r RealReg) bool {
	if int(r) >= RealRegsNumMax {
		return false
	}
	return rs[r/64]&(1<<(r%64)) != 0
}

// Add returns the set with r added.
func (rs RegSet) Add(r RealReg) RegSet {
	if int(r) >= RealRegsNumMax {
		return rs
	}
	rs[r/64] |= 1 << (r % 64)
	return rs
}

// Remove returns the set with r removed.
func (rs RegSet) Remove(r RealReg) RegSet {
	if int(r) >= RealRegsNumMax {
		return rs
	}
	rs[r/64] &^= 1 << (r % 64)
	return rs
}

// Union returns the registers in either set.
func (rs RegSet) Union(o RegSet) RegSet {
	for i := range rs {
		rs[i] |= o[i]
	}
	return rs
}

// Intersect returns the registers in both sets.
func (rs RegSet) Intersect(o RegSet) RegSet {
	for i := range rs {
		rs[i] &= o[i]
	}
	return rs
}

// Difference returns the registers in rs but not in o.
func (rs RegSet) Difference(o RegSet) RegSet {
	for i := range rs {
		rs[i] &^= o[i]
	}
	return rs
}

// Empty returns true if the set has no register.
func (rs RegSet) Empty() bool {
	for _, w := range rs {
		if w != 0 {
			return false
		}
	}
	return true
}

// Count returns the number of registers in the set.
func (rs RegSet) Count() (n int) {
	for _, w := range rs {
		n += bits.OnesCount64(w)
	}
	return
}

// Range calls f for each register in the set in increasing order.
func (rs RegSet) Range(f func(r RealReg)) {
	for i, w := range rs {
		for w != 0 {
			n := bits.TrailingZeros64(w)
			f(RealReg(i*64 + n))
			w &^= 1 << uint(n)
		}
	}
}

// Slice returns the registers in the set in increasing order.
func (rs RegSet) Slice() []RealReg {
	ret := make([]RealReg, 0, rs.Count())
	rs.Range(func(r RealReg) { ret = append(ret, r) })
	return ret
}

// Format returns the registers joined with ", " using name.
func (rs RegSet) Format(name func(RealReg) string) string {
	var ret []string
	rs.Range(func(r RealReg) { ret = append(ret, name(r)) })
	return strings.Join(ret, ", ")
}
