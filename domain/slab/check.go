package slab

import "fmt"

// Check walks the whole slab and verifies its structural invariants:
// every slot is on exactly one of {free list, tree}, the tree is a valid
// red-black tree in priority order, and the cached best is the minimum.
func (s *Slab) Check() error {
	h := s.Header()
	if h.Capacity > SlotsFor(s.store.Capacity()) {
		return fmt.Errorf("%w: capacity %d exceeds region", ErrCorrupt, h.Capacity)
	}
	if s.store.Used() != RegionLen(h.Capacity) {
		return fmt.Errorf("%w: blob used %d, want %d", ErrCorrupt, s.store.Used(), RegionLen(h.Capacity))
	}

	const (
		unseen byte = iota
		onFree
		onTree
	)
	seen := make([]byte, h.Capacity)

	var free uint32
	for i := h.FreeHead; i != Null; i = s.u32(i, offNext) {
		if i >= h.Capacity {
			return fmt.Errorf("%w: free slot %d out of range", ErrCorrupt, i)
		}
		if seen[i] != unseen {
			return fmt.Errorf("%w: free list revisits slot %d", ErrCorrupt, i)
		}
		if s.live(i) {
			return fmt.Errorf("%w: live slot %d on free list", ErrCorrupt, i)
		}
		seen[i] = onFree
		free++
	}

	var live uint32
	var walk func(n, parent uint32) (int, error)
	walk = func(n, parent uint32) (int, error) {
		if n == Null {
			return 1, nil
		}
		if n >= h.Capacity {
			return 0, fmt.Errorf("%w: tree slot %d out of range", ErrCorrupt, n)
		}
		if seen[n] != unseen {
			return 0, fmt.Errorf("%w: slot %d reachable twice", ErrCorrupt, n)
		}
		if !s.live(n) {
			return 0, fmt.Errorf("%w: dead slot %d in tree", ErrCorrupt, n)
		}
		if s.parent(n) != parent {
			return 0, fmt.Errorf("%w: slot %d parent %d, want %d", ErrCorrupt, n, s.parent(n), parent)
		}
		seen[n] = onTree
		live++

		l, r := s.left(n), s.right(n)
		if l != Null && !s.before(l, n) {
			return 0, fmt.Errorf("%w: order violated at %d/%d", ErrCorrupt, l, n)
		}
		if r != Null && !s.before(n, r) {
			return 0, fmt.Errorf("%w: order violated at %d/%d", ErrCorrupt, n, r)
		}
		if s.colorOf(n) == red && (s.colorOf(l) == red || s.colorOf(r) == red) {
			return 0, fmt.Errorf("%w: red slot %d has red child", ErrCorrupt, n)
		}
		lh, err := walk(l, n)
		if err != nil {
			return 0, err
		}
		rh, err := walk(r, n)
		if err != nil {
			return 0, err
		}
		if lh != rh {
			return 0, fmt.Errorf("%w: black height mismatch at %d", ErrCorrupt, n)
		}
		if s.colorOf(n) == black {
			lh++
		}
		return lh, nil
	}
	if h.Root != Null && s.colorOf(h.Root) != black {
		return fmt.Errorf("%w: red root", ErrCorrupt)
	}
	if _, err := walk(h.Root, Null); err != nil {
		return err
	}

	if live != h.Used {
		return fmt.Errorf("%w: %d live nodes, header says %d", ErrCorrupt, live, h.Used)
	}
	if free+live != h.Capacity {
		return fmt.Errorf("%w: free %d + live %d != capacity %d", ErrCorrupt, free, live, h.Capacity)
	}
	if want := s.minNode(h.Root); h.Best != want {
		return fmt.Errorf("%w: best %d, want %d", ErrCorrupt, h.Best, want)
	}
	return nil
}
