package neataptic

import "fmt"

// Connection is a directed, weighted edge between two nodes. It is a pure
// data holder: all numeric updates are driven by Node and Network methods so
// the backprop math has a single source of truth.
type Connection struct {
	From *Node
	To   *Node

	Weight float64
	// Gain is 1 unless some node gates this connection, in which case it
	// tracks the gater's current activation.
	Gain  float64
	Gater *Node

	// Enabled marks whether the gene is expressed. ADD_NODE disables the
	// connection it splits instead of removing it, keeping the gene around
	// for crossover alignment.
	Enabled bool

	// Eligibility is the one-step recurrent credit-assignment trace.
	Eligibility float64
	// XTraceNodes/XTraceValues form a sparse map from gated nodes to
	// extended-trace accumulators, stored as parallel slices because the
	// set is tiny (usually empty) and iterated on the hot path.
	XTraceNodes  []*Node
	XTraceValues []float64

	// Momentum and batch accumulators.
	PreviousDeltaWeight float64
	TotalDeltaWeight    float64

	// opt holds per-optimizer scratch accumulators, allocated lazily on the
	// first batched update and reset when the optimizer type changes.
	opt *optimizerState
}

// NewConnection creates an enabled connection with gain 1 and no gater.
func NewConnection(from, to *Node, weight float64) *Connection {
	return &Connection{
		From:    from,
		To:      to,
		Weight:  weight,
		Gain:    1,
		Enabled: true,
	}
}

// InnovationID derives the connection's innovation number from its endpoints'
// gene ids via the Cantor pairing function. Two connections with the same
// endpoints compare equal even when independently created, which is what NEAT
// gene matching needs.
func (c *Connection) InnovationID() int64 {
	return InnovationID(c.From.GeneID, c.To.GeneID)
}

// InnovationID is the Cantor pairing function f(a,b) = ((a+b)(a+b+1))/2 + b.
// It is injective over ordered non-negative pairs, so distinct (from, to)
// endpoint pairs never collide.
func InnovationID(a, b int) int64 {
	x, y := int64(a), int64(b)
	return (x+y)*(x+y+1)/2 + y
}

// String returns a short description of the connection for debugging.
func (c *Connection) String() string {
	return fmt.Sprintf("Connection(%d -> %d, weight: %.3f, enabled: %t)",
		c.From.GeneID, c.To.GeneID, c.Weight, c.Enabled)
}

// xtraceIndex returns the position of node in the extended trace, or -1.
func (c *Connection) xtraceIndex(node *Node) int {
	for i, n := range c.XTraceNodes {
		if n == node {
			return i
		}
	}
	return -1
}

// clearTraces resets eligibility, extended traces and batch accumulators.
// Called when a connection is recycled or a network's state is wiped.
func (c *Connection) clearTraces() {
	c.Eligibility = 0
	c.XTraceNodes = c.XTraceNodes[:0]
	c.XTraceValues = c.XTraceValues[:0]
	c.PreviousDeltaWeight = 0
	c.TotalDeltaWeight = 0
	c.opt = nil
}
