package backend

const poolPageSize = 128

// Pool is an arena of T owned by a single function compilation. Items are
// allocated in fixed-size pages so that pointers to them stay valid until
// Reset, which recycles every item at once.
type Pool[T any] struct {
	pages            []*[poolPageSize]T
	allocated, index int
}

// NewPool returns a new Pool.
func NewPool[T any]() Pool[T] {
	var ret Pool[T]
	ret.Reset()
	return ret
}

// Allocated returns the number of allocated T currently in the pool.
func (p *Pool[T]) Allocated() int {
	return p.allocated
}

// Allocate returns a zeroed T from the pool.
func (p *Pool[T]) Allocate() *T {
	if p.index == poolPageSize {
		if len(p.pages) == cap(p.pages) {
			p.pages = append(p.pages, new([poolPageSize]T))
		} else {
			i := len(p.pages)
			p.pages = p.pages[:i+1]
			if p.pages[i] == nil {
				p.pages[i] = new([poolPageSize]T)
			}
		}
		p.index = 0
	}
	ret := &p.pages[len(p.pages)-1][p.index]
	p.index++
	p.allocated++
	return ret
}

// View returns the i-th allocated item.
func (p *Pool[T]) View(i int) *T {
	if i < 0 || i >= p.allocated {
		panic("BUG: pool index out of range")
	}
	return &p.pages[i/poolPageSize][i%poolPageSize]
}

// Reset zeroes every allocated item and makes them available again.
func (p *Pool[T]) Reset() {
	var zero T
	for _, page := range p.pages {
		for i := range page {
			page[i] = zero
		}
	}
	p.pages = p.pages[:0]
	p.index = poolPageSize
	p.allocated = 0
}
