package neataptic

import (
	"gonum.org/v1/gonum/floats"
)

// ConnectionSlab is a derived, read-optimized structure-of-arrays view of a
// network's connections: parallel weight and enabled-flag arrays, plus a gain
// array that only exists while at least one connection's gain differs from 1.
// The Version counter bumps on every structural rebuild so consumers can
// detect a stale cached pointer without comparing contents.
//
// The slab lists non-self connections first, then self connections, matching
// the order of Network.Connections followed by Network.SelfConns.
type ConnectionSlab struct {
	Weights []float64
	// Flags packs one enabled bit per connection, bit i of word i/64.
	Flags   []uint64
	Gain    []float64
	Version uint64
}

// slabState carries a network's slab cache together with its dirty flag.
type slabState struct {
	dirty bool
	slab  ConnectionSlab
}

// ConnectionSlab returns the current slab view, repacking it first if a
// structural mutation has occurred since the last call. Consumers must
// re-fetch after any structural mutation; repeated calls without intervening
// mutations return the same version.
func (n *Network) ConnectionSlab() *ConnectionSlab {
	s := n.slab
	if !s.dirty && s.slab.Version > 0 {
		return &s.slab
	}

	total := len(n.Connections) + len(n.SelfConns)
	if cap(s.slab.Weights) < total {
		s.slab.Weights = make([]float64, total)
	}
	s.slab.Weights = s.slab.Weights[:total]

	words := (total + 63) / 64
	if cap(s.slab.Flags) < words {
		s.slab.Flags = make([]uint64, words)
	}
	s.slab.Flags = s.slab.Flags[:words]
	for i := range s.slab.Flags {
		s.slab.Flags[i] = 0
	}

	anyGain := false
	pack := func(i int, conn *Connection) {
		s.slab.Weights[i] = conn.Weight
		if conn.Enabled {
			s.slab.Flags[i/64] |= 1 << (uint(i) % 64)
		}
		if conn.Gain != 1 {
			anyGain = true
		}
	}
	for i, conn := range n.Connections {
		pack(i, conn)
	}
	for i, conn := range n.SelfConns {
		pack(len(n.Connections)+i, conn)
	}

	if anyGain {
		if cap(s.slab.Gain) < total {
			s.slab.Gain = make([]float64, total)
		}
		s.slab.Gain = s.slab.Gain[:total]
		for i, conn := range n.Connections {
			s.slab.Gain[i] = conn.Gain
		}
		for i, conn := range n.SelfConns {
			s.slab.Gain[len(n.Connections)+i] = conn.Gain
		}
	} else {
		// Release the array once every gain has returned to 1.
		s.slab.Gain = nil
	}

	s.slab.Version++
	s.dirty = false
	return &s.slab
}

// Len returns the number of connections in the slab.
func (s *ConnectionSlab) Len() int {
	return len(s.Weights)
}

// Enabled reports the flag bit for connection i.
func (s *ConnectionSlab) Enabled(i int) bool {
	return s.Flags[i/64]&(1<<(uint(i)%64)) != 0
}

// WeightNorm returns the L2 norm over the packed weight array.
func (s *ConnectionSlab) WeightNorm() float64 {
	return floats.Norm(s.Weights, 2)
}

// EffectiveWeights writes weight*gain for every connection into dst, which
// must have the slab's length. Without a gain array this is a straight copy.
func (s *ConnectionSlab) EffectiveWeights(dst []float64) {
	copy(dst, s.Weights)
	if s.Gain != nil {
		floats.Mul(dst, s.Gain)
	}
}
