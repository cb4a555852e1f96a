package neataptic

import "math/bits"

// Object pools for the structures churned by structural mutation and
// activation: nodes, connections, and float scratch arrays. Pools are free
// lists with a bounded capacity; releasing beyond the cap simply drops the
// object so memory stays bounded. They are not thread-safe and assume
// single-threaded access per pool instance, matching the engine's
// one-genome-per-worker concurrency model.

// DefaultPoolCapacity bounds each pool (or bucket) unless a capacity is
// given.
const DefaultPoolCapacity = 256

// --------------------------- NodePool ---------------------------

// NodePool recycles Node objects.
type NodePool struct {
	free     []*Node
	capacity int
}

// NewNodePool creates a node pool with the given per-pool capacity; cap <= 0
// selects the default.
func NewNodePool(capacity int) *NodePool {
	if capacity <= 0 {
		capacity = DefaultPoolCapacity
	}
	return &NodePool{capacity: capacity}
}

// Acquire pops a zeroed node of the given kind, allocating when empty.
func (p *NodePool) Acquire(kind NodeKind) *Node {
	if len(p.free) == 0 {
		return NewNode(kind)
	}
	n := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	// Reset to the state NewNode would produce, keeping the identity.
	*n = Node{
		Index:      n.Index,
		Kind:       kind,
		SquashName: DefaultSquash,
		squash:     ActivationFunctions[DefaultSquash],
		Mask:       1,
		In:         n.In[:0],
		Out:        n.Out[:0],
		Gated:      n.Gated[:0],
	}
	return n
}

// Release returns a node to the pool; beyond capacity it is dropped.
func (p *NodePool) Release(n *Node) {
	if n == nil || len(p.free) >= p.capacity {
		return
	}
	p.free = append(p.free, n)
}

// Len returns the number of pooled nodes.
func (p *NodePool) Len() int { return len(p.free) }

// --------------------------- ConnectionPool ---------------------------

// ConnectionPool recycles Connection objects.
type ConnectionPool struct {
	free     []*Connection
	capacity int
}

// NewConnectionPool creates a connection pool; cap <= 0 selects the default.
func NewConnectionPool(capacity int) *ConnectionPool {
	if capacity <= 0 {
		capacity = DefaultPoolCapacity
	}
	return &ConnectionPool{capacity: capacity}
}

// Acquire pops a zeroed connection wired between from and to.
func (p *ConnectionPool) Acquire(from, to *Node, weight float64) *Connection {
	if len(p.free) == 0 {
		return NewConnection(from, to, weight)
	}
	c := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	*c = Connection{
		From:         from,
		To:           to,
		Weight:       weight,
		Gain:         1,
		Enabled:      true,
		XTraceNodes:  c.XTraceNodes[:0],
		XTraceValues: c.XTraceValues[:0],
	}
	return c
}

// Release returns a connection to the pool; beyond capacity it is dropped.
func (p *ConnectionPool) Release(c *Connection) {
	if c == nil || len(p.free) >= p.capacity {
		return
	}
	c.From, c.To, c.Gater = nil, nil, nil
	p.free = append(p.free, c)
}

// Len returns the number of pooled connections.
func (p *ConnectionPool) Len() int { return len(p.free) }

// --------------------------- FloatPool ---------------------------

// FloatPool recycles float64 scratch slices, bucketed by power-of-two
// capacity so a released slice can serve any request of equal or smaller
// size within its bucket.
type FloatPool struct {
	buckets  map[int][][]float64
	capacity int // per bucket
}

// NewFloatPool creates a float-slice pool; cap <= 0 selects the default
// per-bucket capacity.
func NewFloatPool(capacity int) *FloatPool {
	if capacity <= 0 {
		capacity = DefaultPoolCapacity
	}
	return &FloatPool{buckets: make(map[int][][]float64), capacity: capacity}
}

// bucketFor rounds a size up to the next power of two.
func bucketFor(size int) int {
	if size <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// Acquire returns a zeroed slice of the requested length.
func (p *FloatPool) Acquire(size int) []float64 {
	bucket := bucketFor(size)
	free := p.buckets[bucket]
	if len(free) == 0 {
		return make([]float64, size, bucket)
	}
	s := free[len(free)-1]
	p.buckets[bucket] = free[:len(free)-1]
	s = s[:size]
	for i := range s {
		s[i] = 0
	}
	return s
}

// Release returns a slice to its bucket; past the bucket cap it is dropped.
func (p *FloatPool) Release(s []float64) {
	if s == nil {
		return
	}
	bucket := bucketFor(cap(s))
	if cap(s) != bucket {
		// Slice was not allocated by this pool; drop it rather than serve
		// short capacities from a bucket.
		return
	}
	if len(p.buckets[bucket]) >= p.capacity {
		return
	}
	p.buckets[bucket] = append(p.buckets[bucket], s[:0])
}
