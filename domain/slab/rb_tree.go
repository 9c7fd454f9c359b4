package slab

// Red-black tree over slot indices. Null stands in for the black sentinel;
// because the sentinel has no storage, delete tracks x's parent explicitly.

func (s *Slab) minNode(n uint32) uint32 {
	if n == Null {
		return Null
	}
	for s.left(n) != Null {
		n = s.left(n)
	}
	return n
}

func (s *Slab) successor(n uint32) uint32 {
	if r := s.right(n); r != Null {
		return s.minNode(r)
	}
	p := s.parent(n)
	for p != Null && n == s.right(p) {
		n = p
		p = s.parent(p)
	}
	return p
}

func (s *Slab) leftRotate(x uint32) {
	y := s.right(x)
	s.setRight(x, s.left(y))
	if s.left(y) != Null {
		s.setParent(s.left(y), x)
	}
	p := s.parent(x)
	s.setParent(y, p)
	switch {
	case p == Null:
		s.hset(hRoot, y)
	case x == s.left(p):
		s.setLeft(p, y)
	default:
		s.setRight(p, y)
	}
	s.setLeft(y, x)
	s.setParent(x, y)
}

func (s *Slab) rightRotate(y uint32) {
	x := s.left(y)
	s.setLeft(y, s.right(x))
	if s.right(x) != Null {
		s.setParent(s.right(x), y)
	}
	p := s.parent(y)
	s.setParent(x, p)
	switch {
	case p == Null:
		s.hset(hRoot, x)
	case y == s.right(p):
		s.setRight(p, x)
	default:
		s.setLeft(p, x)
	}
	s.setRight(x, y)
	s.setParent(y, x)
}

func (s *Slab) treeInsert(z uint32) {
	y := Null
	x := s.hget(hRoot)
	for x != Null {
		y = x
		if s.before(z, x) {
			x = s.left(x)
		} else {
			x = s.right(x)
		}
	}

	s.setParent(z, y)
	switch {
	case y == Null:
		s.hset(hRoot, z)
	case s.before(z, y):
		s.setLeft(y, z)
	default:
		s.setRight(y, z)
	}
	s.setLeft(z, Null)
	s.setRight(z, Null)
	s.setColor(z, red)
	s.insertFixup(z)
}

func (s *Slab) insertFixup(z uint32) {
	for s.colorOf(s.parent(z)) == red {
		p := s.parent(z)
		g := s.parent(p)
		if p == s.left(g) {
			y := s.right(g)
			if s.colorOf(y) == red {
				s.setColor(p, black)
				s.setColor(y, black)
				s.setColor(g, red)
				z = g
				continue
			}
			if z == s.right(p) {
				z = p
				s.leftRotate(z)
				p = s.parent(z)
			}
			s.setColor(p, black)
			s.setColor(g, red)
			s.rightRotate(g)
		} else {
			y := s.left(g)
			if s.colorOf(y) == red {
				s.setColor(p, black)
				s.setColor(y, black)
				s.setColor(g, red)
				z = g
				continue
			}
			if z == s.left(p) {
				z = p
				s.rightRotate(z)
				p = s.parent(z)
			}
			s.setColor(p, black)
			s.setColor(g, red)
			s.leftRotate(g)
		}
	}
	s.setColor(s.hget(hRoot), black)
}

func (s *Slab) transplant(u, v uint32) {
	p := s.parent(u)
	switch {
	case p == Null:
		s.hset(hRoot, v)
	case u == s.left(p):
		s.setLeft(p, v)
	default:
		s.setRight(p, v)
	}
	if v != Null {
		s.setParent(v, p)
	}
}

// treeDelete unlinks z by relinking neighbours; no payload is copied between
// slots, so every other node keeps its index.
func (s *Slab) treeDelete(z uint32) {
	y := z
	yColor := s.colorOf(y)
	var x, xParent uint32

	switch {
	case s.left(z) == Null:
		x = s.right(z)
		xParent = s.parent(z)
		s.transplant(z, x)
	case s.right(z) == Null:
		x = s.left(z)
		xParent = s.parent(z)
		s.transplant(z, x)
	default:
		y = s.minNode(s.right(z))
		yColor = s.colorOf(y)
		x = s.right(y)
		if s.parent(y) == z {
			xParent = y
		} else {
			xParent = s.parent(y)
			s.transplant(y, x)
			s.setRight(y, s.right(z))
			s.setParent(s.right(y), y)
		}
		s.transplant(z, y)
		s.setLeft(y, s.left(z))
		s.setParent(s.left(y), y)
		s.setColor(y, s.colorOf(z))
	}

	if yColor == black {
		s.deleteFixup(x, xParent)
	}
}

func (s *Slab) deleteFixup(x, xp uint32) {
	for x != s.hget(hRoot) && s.colorOf(x) == black {
		if x == s.left(xp) {
			w := s.right(xp)
			if s.colorOf(w) == red {
				s.setColor(w, black)
				s.setColor(xp, red)
				s.leftRotate(xp)
				w = s.right(xp)
			}
			if s.colorOf(s.left(w)) == black && s.colorOf(s.right(w)) == black {
				s.setColor(w, red)
				x = xp
				xp = s.parent(x)
				continue
			}
			if s.colorOf(s.right(w)) == black {
				s.setColor(s.left(w), black)
				s.setColor(w, red)
				s.rightRotate(w)
				w = s.right(xp)
			}
			s.setColor(w, s.colorOf(xp))
			s.setColor(xp, black)
			s.setColor(s.right(w), black)
			s.leftRotate(xp)
			x = s.hget(hRoot)
			xp = Null
		} else {
			w := s.left(xp)
			if s.colorOf(w) == red {
				s.setColor(w, black)
				s.setColor(xp, red)
				s.rightRotate(xp)
				w = s.left(xp)
			}
			if s.colorOf(s.right(w)) == black && s.colorOf(s.left(w)) == black {
				s.setColor(w, red)
				x = xp
				xp = s.parent(x)
				continue
			}
			if s.colorOf(s.left(w)) == black {
				s.setColor(s.right(w), black)
				s.setColor(w, red)
				s.leftRotate(w)
				w = s.left(xp)
			}
			s.setColor(w, s.colorOf(xp))
			s.setColor(xp, black)
			s.setColor(s.left(w), black)
			s.rightRotate(xp)
			x = s.hget(hRoot)
			xp = Null
		}
	}
	s.setColor(x, black)
}
