package neataptic

import (
	"math"
	"math/rand"
	"sync/atomic"
)

// networkIDCounter hands out process-unique genome ids, used as cache keys by
// the compatibility-distance cache.
var networkIDCounter int64

// Network owns all nodes and connections for one genome and orchestrates
// forward activation, backward propagation, structural mutation, crossover
// and serialization. The node list is ordered inputs, then hidden, then
// outputs; that order is semantically load-bearing for serialization and for
// layer inference.
type Network struct {
	// ID is a process-unique genome id, stable for the network's lifetime.
	ID     int64
	Input  int
	Output int

	Nodes []*Node
	// Connections holds every non-self connection; SelfConns holds the
	// self loops. Each connection is also referenced from its endpoints'
	// In/Out lists, giving three views of one object.
	Connections []*Connection
	SelfConns   []*Connection

	// Score is the fitness assigned by an external evaluator.
	Score float64
	// Dropout is the hidden-node dropout probability used while training.
	Dropout float64

	// Derived caches, rebuilt lazily after structural changes.
	slab       *slabState
	genes      []geneRecord
	genesValid bool

	activating bool
}

// NewNetwork creates a network with the given input and output sizes and all
// inputs connected directly to all outputs.
func NewNetwork(input, output int) *Network {
	n := &Network{
		ID:     atomic.AddInt64(&networkIDCounter, 1),
		Input:  input,
		Output: output,
		slab:   &slabState{},
	}
	for i := 0; i < input; i++ {
		n.Nodes = append(n.Nodes, NewNode(NodeInput))
	}
	for i := 0; i < output; i++ {
		n.Nodes = append(n.Nodes, NewNode(NodeOutput))
	}
	for i := 0; i < input; i++ {
		for j := 0; j < output; j++ {
			// He-style initialization keeps early activations in the
			// squash function's responsive range.
			weight := rand.NormFloat64() * math.Sqrt(2.0/float64(input))
			n.mustConnect(n.Nodes[i], n.Nodes[input+j], weight)
		}
	}
	n.assignGeneIDs()
	return n
}

// NewPerceptron builds a strictly layered, fully connected feed-forward
// network from the given layer sizes.
func NewPerceptron(layers ...int) (*Network, error) {
	if len(layers) < 2 {
		return nil, structuralErrorf("perceptron", "need at least 2 layers, got %d", len(layers))
	}
	for i, size := range layers {
		if size <= 0 {
			return nil, structuralErrorf("perceptron", "layer %d has non-positive size %d", i, size)
		}
	}

	input, output := layers[0], layers[len(layers)-1]
	n := &Network{
		ID:     atomic.AddInt64(&networkIDCounter, 1),
		Input:  input,
		Output: output,
		slab:   &slabState{},
	}
	for i := 0; i < input; i++ {
		n.Nodes = append(n.Nodes, NewNode(NodeInput))
	}
	previous := n.Nodes[:input]
	for li := 1; li < len(layers); li++ {
		kind := NodeHidden
		if li == len(layers)-1 {
			kind = NodeOutput
		}
		current := make([]*Node, layers[li])
		for i := range current {
			current[i] = NewNode(kind)
			n.Nodes = append(n.Nodes, current[i])
		}
		for _, from := range previous {
			for _, to := range current {
				weight := rand.NormFloat64() * math.Sqrt(2.0/float64(len(previous)))
				n.mustConnect(from, to, weight)
			}
		}
		previous = current
	}
	n.assignGeneIDs()
	return n, nil
}

// assignGeneIDs refreshes every node's gene id to its ordinal position. The
// ordering (inputs, hidden, outputs) is stable under the genetic operators,
// which makes the derived innovation numbers a deterministic fallback for a
// global innovation counter.
func (n *Network) assignGeneIDs() {
	for i, node := range n.Nodes {
		node.GeneID = i
	}
}

// markStructureChanged invalidates the derived caches. Every structural
// operation funnels through here.
func (n *Network) markStructureChanged() {
	n.slab.dirty = true
	n.genesValid = false
}

func (n *Network) hiddenCount() int {
	return len(n.Nodes) - n.Input - n.Output
}

// containsNode reports whether node is a member of this network.
func (n *Network) containsNode(node *Node) bool {
	for _, m := range n.Nodes {
		if m == node {
			return true
		}
	}
	return false
}

// --------------------------- Graph surgery ---------------------------

// Connect adds a directed connection between two member nodes. Self loops
// land in SelfConns, everything else in Connections. Duplicate edges are
// rejected with a StructuralError.
func (n *Network) Connect(from, to *Node, weight float64) (*Connection, error) {
	if !n.containsNode(from) || !n.containsNode(to) {
		return nil, structuralErrorf("connect", "both endpoints must be members of the network")
	}
	if to.isProjectedBy(from) {
		return nil, structuralErrorf("connect", "connection %d -> %d already exists", from.GeneID, to.GeneID)
	}

	conn := NewConnection(from, to, weight)
	if from == to {
		from.Self = conn
		n.SelfConns = append(n.SelfConns, conn)
	} else {
		from.Out = append(from.Out, conn)
		to.In = append(to.In, conn)
		n.Connections = append(n.Connections, conn)
	}
	n.markStructureChanged()
	return conn, nil
}

// mustConnect is Connect for construction paths where the edge is known to
// be fresh.
func (n *Network) mustConnect(from, to *Node, weight float64) *Connection {
	conn, err := n.Connect(from, to, weight)
	if err != nil {
		panic(err)
	}
	return conn
}

// Disconnect removes the connection between two nodes from all three views.
// A gated connection is ungated first.
func (n *Network) Disconnect(from, to *Node) {
	if from == to {
		if from.Self != nil {
			if from.Self.Gater != nil {
				n.Ungate(from.Self)
			}
			n.SelfConns = removeConn(n.SelfConns, from.Self)
			from.Self = nil
			n.markStructureChanged()
		}
		return
	}
	for _, conn := range n.Connections {
		if conn.From == from && conn.To == to {
			if conn.Gater != nil {
				n.Ungate(conn)
			}
			from.Out = removeConn(from.Out, conn)
			to.In = removeConn(to.In, conn)
			n.Connections = removeConn(n.Connections, conn)
			n.markStructureChanged()
			return
		}
	}
}

// Gate assigns a gater node to a connection; the connection's gain then
// tracks the gater's activation.
func (n *Network) Gate(gater *Node, conn *Connection) error {
	if !n.containsNode(gater) {
		return structuralErrorf("gate", "gater must be a member of the network")
	}
	if conn.Gater != nil {
		return structuralErrorf("gate", "connection %d -> %d is already gated", conn.From.GeneID, conn.To.GeneID)
	}
	conn.Gater = gater
	gater.Gated = append(gater.Gated, conn)
	n.markStructureChanged()
	return nil
}

// Ungate removes a connection's gater and restores its gain to 1.
func (n *Network) Ungate(conn *Connection) {
	if conn.Gater == nil {
		return
	}
	conn.Gater.Gated = removeConn(conn.Gater.Gated, conn)
	conn.Gater = nil
	conn.Gain = 1
	n.markStructureChanged()
}

// RemoveNode deletes a hidden node, reconnecting its predecessors to its
// successors to preserve signal flow as closely as practical. Gating
// relationships touching the node are resolved: the node's own gating duties
// are dropped, and gaters of its removed connections are reassigned to the
// bridging connections.
func (n *Network) RemoveNode(node *Node) error {
	if node.Kind != NodeHidden {
		return structuralErrorf("remove node", "only hidden nodes can be removed")
	}
	if !n.containsNode(node) {
		return structuralErrorf("remove node", "node is not a member of the network")
	}

	n.Disconnect(node, node)

	// Remember the gaters of the connections about to disappear so their
	// gating role can survive on the bridge connections.
	gaters := []*Node{}
	inputs := []*Node{}
	for _, conn := range append([]*Connection{}, node.In...) {
		if conn.Gater != nil && conn.Gater != node {
			gaters = append(gaters, conn.Gater)
		}
		inputs = append(inputs, conn.From)
		n.Disconnect(conn.From, node)
	}
	outputs := []*Node{}
	for _, conn := range append([]*Connection{}, node.Out...) {
		if conn.Gater != nil && conn.Gater != node {
			gaters = append(gaters, conn.Gater)
		}
		outputs = append(outputs, conn.To)
		n.Disconnect(node, conn.To)
	}

	// Bridge predecessors to successors.
	bridges := []*Connection{}
	for _, from := range inputs {
		for _, to := range outputs {
			if !to.isProjectedBy(from) {
				weight := rand.NormFloat64()
				conn := n.mustConnect(from, to, weight)
				bridges = append(bridges, conn)
			}
		}
	}

	// Reassign stranded gaters to random ungated bridges.
	for _, gater := range gaters {
		if len(bridges) == 0 {
			break
		}
		idx := rand.Intn(len(bridges))
		if err := n.Gate(gater, bridges[idx]); err == nil {
			bridges = append(bridges[:idx], bridges[idx+1:]...)
		}
	}

	// Drop the node's own gating duties.
	for _, conn := range append([]*Connection{}, node.Gated...) {
		n.Ungate(conn)
	}

	for i, m := range n.Nodes {
		if m == node {
			n.Nodes = append(n.Nodes[:i], n.Nodes[i+1:]...)
			break
		}
	}
	n.assignGeneIDs()
	n.markStructureChanged()
	return nil
}

// RebuildConnections restores the invariant that Connections is exactly the
// union of every node's outgoing list. Ad-hoc structural edits (deserializers,
// hand-built topologies) call this rather than maintaining the flat list
// incrementally.
func (n *Network) RebuildConnections() {
	n.Connections = n.Connections[:0]
	n.SelfConns = n.SelfConns[:0]
	for _, node := range n.Nodes {
		for _, conn := range node.Out {
			n.Connections = append(n.Connections, conn)
		}
		if node.Self != nil {
			n.SelfConns = append(n.SelfConns, node.Self)
		}
	}
	n.markStructureChanged()
}

func removeConn(conns []*Connection, target *Connection) []*Connection {
	for i, c := range conns {
		if c == target {
			return append(conns[:i], conns[i+1:]...)
		}
	}
	return conns
}

// --------------------------- Activation ---------------------------

// Activate runs one forward pass. Input values are injected into the input
// nodes, hidden nodes activate in stored order, then outputs. Recurrent and
// self connections are well-defined because every node's old state is
// one-cycle delayed; the pass is a single O(nodes+connections) sweep, never a
// recursive traversal. A re-entrant call on the same network is rejected.
//
// With training=true, hidden nodes draw a fresh dropout mask and trace
// bookkeeping runs; inference callers should prefer NoTraceActivate.
func (n *Network) Activate(input []float64, training bool) ([]float64, error) {
	if len(input) != n.Input {
		return nil, validationErrorf("input", "expected %d values, got %d", n.Input, len(input))
	}
	if n.activating {
		return nil, structuralErrorf("activate", "re-entrant activation of the same network")
	}
	n.activating = true
	defer func() { n.activating = false }()

	output := make([]float64, 0, n.Output)
	inputIndex := 0
	for _, node := range n.Nodes {
		switch node.Kind {
		case NodeInput:
			node.Activate(input[inputIndex])
			inputIndex++
		case NodeOutput:
			output = append(output, node.Activate())
		default:
			if training && n.Dropout > 0 {
				if rand.Float64() < n.Dropout {
					node.Mask = 0
				} else {
					node.Mask = 1
				}
			}
			node.Activate()
		}
	}
	return output, nil
}

// NoTraceActivate runs an inference-only forward pass, skipping dropout and
// all trace bookkeeping.
func (n *Network) NoTraceActivate(input []float64) ([]float64, error) {
	if len(input) != n.Input {
		return nil, validationErrorf("input", "expected %d values, got %d", n.Input, len(input))
	}
	if n.activating {
		return nil, structuralErrorf("activate", "re-entrant activation of the same network")
	}
	n.activating = true
	defer func() { n.activating = false }()

	output := make([]float64, 0, n.Output)
	inputIndex := 0
	for _, node := range n.Nodes {
		switch node.Kind {
		case NodeInput:
			node.NoTraceActivate(input[inputIndex])
			inputIndex++
		case NodeOutput:
			output = append(output, node.NoTraceActivate())
		default:
			node.NoTraceActivate()
		}
	}
	return output, nil
}

// Propagate walks the nodes in reverse declaration order, output nodes first
// (consuming target), propagating error responsibility backward exactly once
// per node. This is the single-step truncated-BPTT approximation that goes
// with the eligibility traces; it is not a full unroll. Output error uses
// the squared-error derivative (target - activation).
func (n *Network) Propagate(rate, momentum float64, update bool, reg Regularization, target []float64) error {
	cost, _ := GetCost(DefaultCost)
	return n.PropagateWithCost(rate, momentum, update, reg, cost, target)
}

// PropagateWithCost is Propagate with the output error responsibility taken
// from the given cost's derivative instead of the squared-error default, so
// training with mae or hinge descends the loss it reports.
func (n *Network) PropagateWithCost(rate, momentum float64, update bool, reg Regularization, cost Cost, target []float64) error {
	if len(target) != n.Output {
		return validationErrorf("target", "expected %d values, got %d", n.Output, len(target))
	}
	if cost.Derivative == nil {
		return configErrorf("cost", "cost %q has no derivative", cost.Name)
	}
	targetIndex := len(target)
	for i := len(n.Nodes) - 1; i >= 0; i-- {
		node := n.Nodes[i]
		switch node.Kind {
		case NodeOutput:
			targetIndex--
			errSignal := cost.Derivative(target[targetIndex], node.Activation)
			node.Propagate(rate, momentum, update, reg, &errSignal)
		case NodeHidden:
			node.Propagate(rate, momentum, update, reg, nil)
		}
	}
	return nil
}

// Clear wipes all runtime state (activations, states, traces), leaving the
// topology and learned parameters untouched.
func (n *Network) Clear() {
	for _, node := range n.Nodes {
		node.clearState()
	}
}

// --------------------------- Cloning ---------------------------

// Clone deep-copies the network, including runtime state and traces, so the
// copy activates identically to the original. The clone receives a fresh
// genome id.
func (n *Network) Clone() *Network {
	clone := &Network{
		ID:      atomic.AddInt64(&networkIDCounter, 1),
		Input:   n.Input,
		Output:  n.Output,
		Score:   n.Score,
		Dropout: n.Dropout,
		slab:    &slabState{},
	}

	nodeMap := make(map[*Node]*Node, len(n.Nodes))
	for _, node := range n.Nodes {
		copied := &Node{
			Index:               atomic.AddInt64(&nodeIndexCounter, 1),
			GeneID:              node.GeneID,
			Kind:                node.Kind,
			Bias:                node.Bias,
			SquashName:          node.SquashName,
			squash:              node.squash,
			Activation:          node.Activation,
			State:               node.State,
			Old:                 node.Old,
			Derivative:          node.Derivative,
			Mask:                node.Mask,
			ErrorResponsibility: node.ErrorResponsibility,
			ErrorProjected:      node.ErrorProjected,
			ErrorGated:          node.ErrorGated,
			PreviousDeltaBias:   node.PreviousDeltaBias,
			TotalDeltaBias:      node.TotalDeltaBias,
		}
		nodeMap[node] = copied
		clone.Nodes = append(clone.Nodes, copied)
	}

	copyConn := func(conn *Connection) *Connection {
		copied := &Connection{
			From:                nodeMap[conn.From],
			To:                  nodeMap[conn.To],
			Weight:              conn.Weight,
			Gain:                conn.Gain,
			Enabled:             conn.Enabled,
			Eligibility:         conn.Eligibility,
			PreviousDeltaWeight: conn.PreviousDeltaWeight,
			TotalDeltaWeight:    conn.TotalDeltaWeight,
		}
		for i, tn := range conn.XTraceNodes {
			copied.XTraceNodes = append(copied.XTraceNodes, nodeMap[tn])
			copied.XTraceValues = append(copied.XTraceValues, conn.XTraceValues[i])
		}
		return copied
	}

	for _, conn := range n.Connections {
		copied := copyConn(conn)
		copied.From.Out = append(copied.From.Out, copied)
		copied.To.In = append(copied.To.In, copied)
		clone.Connections = append(clone.Connections, copied)
	}
	for _, conn := range n.SelfConns {
		copied := copyConn(conn)
		copied.From.Self = copied
		clone.SelfConns = append(clone.SelfConns, copied)
	}

	// Gating links need the connection objects in place first.
	relink := func(original, copied *Connection) {
		if original.Gater != nil {
			gater := nodeMap[original.Gater]
			copied.Gater = gater
			gater.Gated = append(gater.Gated, copied)
		}
	}
	for i, conn := range n.Connections {
		relink(conn, clone.Connections[i])
	}
	for i, conn := range n.SelfConns {
		relink(conn, clone.SelfConns[i])
	}

	return clone
}
