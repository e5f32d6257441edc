package amd64

import (
	"fmt"

	"github.com/sfilabs/x64lower/internal/asm"
	"github.com/sfilabs/x64lower/internal/logging"
)

// bundleOption selects where a locked sequence is placed within its bundle.
type bundleOption byte

const (
	// bundleOptionNone only keeps the sequence from crossing a boundary.
	bundleOptionNone bundleOption = iota
	// bundleOptionAlignToEnd makes the sequence end exactly at a boundary.
	bundleOptionAlignToEnd
	// bundleOptionPadToEnd fills the rest of the bundle after the sequence
	// with NOPs, so that the next instruction starts a bundle.
	bundleOptionPadToEnd
)

// String implements fmt.Stringer.
func (o bundleOption) String() string {
	switch o {
	case bundleOptionNone:
		return "none"
	case bundleOptionAlignToEnd:
		return "align_to_end"
	case bundleOptionPadToEnd:
		return "pad_to_end"
	default:
		panic(fmt.Sprintf("BUG: invalid bundle option %d", o))
	}
}

// withBundle inserts the instructions emitted by fn into one bundle.
// Bundles cannot be nested.
func (m *Machine) withBundle(opt bundleOption, fn func()) {
	if m.inBundle {
		panic("BUG: nested bundle")
	}
	m.inBundle = true
	m.insert(m.allocateInstr().asBundleLock(opt))
	defer func() {
		m.insert(m.allocateInstr().asBundleUnlock())
		m.inBundle = false
	}()
	fn()
}

// bundleSize returns the size of a bundle in bytes.
func (m *Machine) bundleSize() int {
	return 1 << m.fn.BundleAlignLog2()
}

// bundleState tracks the bundle being encoded.
type bundleState struct {
	lock  *instruction
	mark  asm.Mark
	start int
}

// closeBundle pads the sequence encoded since the bundleLock b.lock so that
// it satisfies the bundle option. The sequence is emitted again after the
// filler when it has to move.
func (m *Machine) closeBundle(b *bundleState, unlock *instruction) error {
	c := m.asm
	size := m.bundleSize()
	end := c.CurrentOffset()
	n := end - b.start
	if n > size {
		panic(fmt.Sprintf("BUG: bundle of %d bytes exceeds the bundle size %d", n, size))
	}

	opt := bundleOption(b.lock.u1)
	var pad int
	switch opt {
	case bundleOptionNone, bundleOptionPadToEnd:
		if n > 0 && b.start/size != (end-1)/size {
			pad = size - b.start%size
		}
	case bundleOptionAlignToEnd:
		pad = (size - end%size) % size
	}

	if pad > 0 {
		m.logger.Logf(logging.LogScopeBundle, "moved %d-byte bundle at %#x by %d", n, b.start, pad)
		c.Rollback(b.mark)
		c.EmitNops(pad)
		for cur := b.lock.next; cur != unlock; cur = cur.next {
			if err := cur.encode(c); err != nil {
				return err
			}
		}
	}

	if opt == bundleOptionPadToEnd {
		if rem := c.CurrentOffset() % size; rem != 0 {
			m.logger.Logf(logging.LogScopeBundle, "padded bundle end at %#x by %d", c.CurrentOffset(), size-rem)
			c.EmitNops(size - rem)
		}
	}
	return nil
}
