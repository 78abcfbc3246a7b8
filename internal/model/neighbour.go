package model

// Side selects one of the two neighbour slots of a ring member
type Side int

const (
	SideLeft Side = iota
	SideRight
)

// Opposite returns the other slot
func (s Side) Opposite() Side {
	if s == SideLeft {
		return SideRight
	}
	return SideLeft
}

func (s Side) String() string {
	if s == SideLeft {
		return "left"
	}
	return "right"
}

// Neighbour is a remote ring member as known locally
type Neighbour struct {
	Hash    Hash
	Address Address
}

// NewNeighbour computes the ring position of addr with hash
func NewNeighbour(addr Address, hash HashFunc) Neighbour {
	return Neighbour{Hash: hash(addr), Address: addr}
}

// RingState is derived from which neighbour slots are set
type RingState string

const (
	RingStateIsolated   RingState = "isolated"
	RingStateHalfLinked RingState = "half_linked"
	RingStateLinked     RingState = "linked"
)

// Topology is an immutable snapshot of a member's view of the ring.
// It is published by the ring node after each handled message so that
// readers never touch live membership state.
type Topology struct {
	Self     Neighbour
	Left     *Neighbour
	Right    *Neighbour
	State    RingState
	Boundary bool
}

// NewTopology builds a snapshot, copying the neighbour values
func NewTopology(self Neighbour, left, right *Neighbour) *Topology {
	t := &Topology{Self: self}
	if left != nil {
		l := *left
		t.Left = &l
	}
	if right != nil {
		r := *right
		t.Right = &r
	}

	switch {
	case t.Left != nil && t.Right != nil:
		t.State = RingStateLinked
	case t.Left != nil || t.Right != nil:
		t.State = RingStateHalfLinked
	default:
		t.State = RingStateIsolated
	}

	t.Boundary = IsBoundary(self.Hash, t.Left, t.Right)
	return t
}

// Neighbour returns the neighbour held on side, or nil
func (t *Topology) Neighbour(side Side) *Neighbour {
	if side == SideLeft {
		return t.Left
	}
	return t.Right
}

// IsNeighbour reports whether addr currently occupies either slot
func (t *Topology) IsNeighbour(addr Address) bool {
	return (t.Left != nil && t.Left.Address == addr) ||
		(t.Right != nil && t.Right.Address == addr)
}

// IsBoundary reports whether a member at own sits next to the seam of the
// keyspace: a slot is empty, the right neighbour wraps below own, or the
// left neighbour wraps above own.
func IsBoundary(own Hash, left, right *Neighbour) bool {
	if left == nil || right == nil {
		return true
	}
	return right.Hash < own || left.Hash > own
}

// Map renders the snapshot with JSON-compatible values only
func (t *Topology) Map() map[string]interface{} {
	return map[string]interface{}{
		"self":     neighbourMap(&t.Self),
		"left":     neighbourMap(t.Left),
		"right":    neighbourMap(t.Right),
		"state":    string(t.State),
		"boundary": t.Boundary,
	}
}

func neighbourMap(n *Neighbour) interface{} {
	if n == nil {
		return nil
	}
	return map[string]interface{}{
		"address": n.Address.String(),
		"hash":    n.Hash.String(),
	}
}
