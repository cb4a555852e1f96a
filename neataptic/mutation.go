package neataptic

import (
	"math/rand"
)

// MutationKind enumerates the closed set of mutation operators. Every
// operator is total over any structurally valid network: when its
// precondition fails (no hidden nodes to remove, no ungated connection to
// gate) it is a no-op, and it always leaves the network valid.
type MutationKind int

const (
	MutAddNode MutationKind = iota
	MutSubNode
	MutAddConn
	MutSubConn
	MutModWeight
	MutModBias
	MutModActivation
	MutAddSelfConn
	MutSubSelfConn
	MutAddGate
	MutSubGate
	MutAddBackConn
	MutSubBackConn
	MutSwapNodes
)

var mutationKindNames = map[MutationKind]string{
	MutAddNode:       "ADD_NODE",
	MutSubNode:       "SUB_NODE",
	MutAddConn:       "ADD_CONN",
	MutSubConn:       "SUB_CONN",
	MutModWeight:     "MOD_WEIGHT",
	MutModBias:       "MOD_BIAS",
	MutModActivation: "MOD_ACTIVATION",
	MutAddSelfConn:   "ADD_SELF_CONN",
	MutSubSelfConn:   "SUB_SELF_CONN",
	MutAddGate:       "ADD_GATE",
	MutSubGate:       "SUB_GATE",
	MutAddBackConn:   "ADD_BACK_CONN",
	MutSubBackConn:   "SUB_BACK_CONN",
	MutSwapNodes:     "SWAP_NODES",
}

func (k MutationKind) String() string {
	if name, ok := mutationKindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// MutationKindByName resolves an operator name (as used in configuration
// files) back to its kind.
func MutationKindByName(name string) (MutationKind, bool) {
	for kind, n := range mutationKindNames {
		if n == name {
			return kind, true
		}
	}
	return 0, false
}

// Mutation is a mutation operator together with its parameters: perturbation
// bounds for the parametric operators, the allowed squash set for
// MOD_ACTIVATION, and whether output nodes may change activation.
type Mutation struct {
	Kind MutationKind

	// Min/Max bound the perturbation for MOD_WEIGHT and MOD_BIAS.
	Min float64
	Max float64

	// Allowed restricts the squash set for MOD_ACTIVATION; MutateOutput
	// permits output nodes to change activation too.
	Allowed      []string
	MutateOutput bool
}

// Default operator instances, exported as a closed set. Probabilistic
// engines index AllMutations; callers needing different bounds construct
// their own Mutation values.
var (
	AddNodeMutation       = Mutation{Kind: MutAddNode}
	SubNodeMutation       = Mutation{Kind: MutSubNode}
	AddConnMutation       = Mutation{Kind: MutAddConn}
	SubConnMutation       = Mutation{Kind: MutSubConn}
	ModWeightMutation     = Mutation{Kind: MutModWeight, Min: -1, Max: 1}
	ModBiasMutation       = Mutation{Kind: MutModBias, Min: -1, Max: 1}
	ModActivationMutation = Mutation{Kind: MutModActivation, Allowed: MutationSquashes}
	AddSelfConnMutation   = Mutation{Kind: MutAddSelfConn}
	SubSelfConnMutation   = Mutation{Kind: MutSubSelfConn}
	AddGateMutation       = Mutation{Kind: MutAddGate}
	SubGateMutation       = Mutation{Kind: MutSubGate}
	AddBackConnMutation   = Mutation{Kind: MutAddBackConn}
	SubBackConnMutation   = Mutation{Kind: MutSubBackConn}
	SwapNodesMutation     = Mutation{Kind: MutSwapNodes}
)

// AllMutations lists every operator with its default parameters.
var AllMutations = []Mutation{
	AddNodeMutation, SubNodeMutation, AddConnMutation, SubConnMutation,
	ModWeightMutation, ModBiasMutation, ModActivationMutation,
	AddSelfConnMutation, SubSelfConnMutation, AddGateMutation, SubGateMutation,
	AddBackConnMutation, SubBackConnMutation, SwapNodesMutation,
}

// Mutate applies one mutation operator to the network in place.
func (n *Network) Mutate(m Mutation) error {
	switch m.Kind {
	case MutAddNode:
		n.mutateAddNode()
	case MutSubNode:
		n.mutateSubNode()
	case MutAddConn:
		n.mutateAddConn(false)
	case MutAddBackConn:
		n.mutateAddConn(true)
	case MutSubConn:
		n.mutateSubConn(false)
	case MutSubBackConn:
		n.mutateSubConn(true)
	case MutModWeight:
		n.mutateModWeight(m.Min, m.Max)
	case MutModBias:
		n.mutateModBias(m.Min, m.Max)
	case MutModActivation:
		n.mutateModActivation(m.Allowed, m.MutateOutput)
	case MutAddSelfConn:
		n.mutateAddSelfConn()
	case MutSubSelfConn:
		n.mutateSubSelfConn()
	case MutAddGate:
		n.mutateAddGate()
	case MutSubGate:
		n.mutateSubGate()
	case MutSwapNodes:
		n.mutateSwapNodes()
	default:
		return configErrorf("mutation", "unknown mutation kind %d", m.Kind)
	}
	return nil
}

// mutateAddNode splits a random enabled connection, inserting a hidden node.
// The original connection is disabled rather than removed so the gene stays
// around for crossover alignment; the new input-side connection gets weight 1
// and the output side inherits the original weight, preserving the wiring's
// end-to-end effect as closely as practical.
func (n *Network) mutateAddNode() {
	candidates := make([]*Connection, 0, len(n.Connections))
	for _, conn := range n.Connections {
		if conn.Enabled {
			candidates = append(candidates, conn)
		}
	}
	if len(candidates) == 0 {
		return
	}
	conn := candidates[rand.Intn(len(candidates))]
	gater := conn.Gater
	if gater != nil {
		n.Ungate(conn)
	}
	conn.Enabled = false

	node := NewNode(NodeHidden)

	// Keep the ordering invariant: insert before the target node, but never
	// into the output block.
	insertAt := len(n.Nodes) - n.Output
	for i, m := range n.Nodes {
		if m == conn.To {
			if i < insertAt {
				insertAt = i
			}
			break
		}
	}
	if insertAt < n.Input {
		insertAt = n.Input
	}
	n.Nodes = append(n.Nodes, nil)
	copy(n.Nodes[insertAt+1:], n.Nodes[insertAt:])
	n.Nodes[insertAt] = node

	first := n.mustConnect(conn.From, node, 1)
	second := n.mustConnect(node, conn.To, conn.Weight)

	// A gater on the split connection keeps a gating role on one side.
	if gater != nil {
		if rand.Intn(2) == 0 {
			n.Gate(gater, first)
		} else {
			n.Gate(gater, second)
		}
	}

	n.assignGeneIDs()
	n.markStructureChanged()
}

// mutateSubNode removes a random hidden node.
func (n *Network) mutateSubNode() {
	hidden := make([]*Node, 0, n.hiddenCount())
	for _, node := range n.Nodes {
		if node.Kind == NodeHidden {
			hidden = append(hidden, node)
		}
	}
	if len(hidden) == 0 {
		return
	}
	n.RemoveNode(hidden[rand.Intn(len(hidden))])
}

// mutateAddConn adds a random missing directed edge. Forward edges run from
// a lower node position to a higher one, which keeps feed-forward networks
// acyclic; back=true selects recurrent edges instead.
func (n *Network) mutateAddConn(back bool) {
	type pair struct{ from, to *Node }
	available := []pair{}
	for i, from := range n.Nodes {
		for j, to := range n.Nodes {
			if from == to || to.Kind == NodeInput {
				continue
			}
			if back {
				if from.Kind == NodeInput || j >= i {
					continue
				}
			} else if j <= i {
				continue
			}
			if !to.isProjectedBy(from) {
				available = append(available, pair{from, to})
			}
		}
	}
	if len(available) == 0 {
		return
	}
	p := available[rand.Intn(len(available))]
	n.mustConnect(p.from, p.to, rand.NormFloat64())
}

// mutateSubConn removes a random edge, preferring ones whose removal leaves
// no node stranded (source keeps another outgoing edge, target another
// incoming one).
func (n *Network) mutateSubConn(back bool) {
	candidates := []*Connection{}
	for _, conn := range n.Connections {
		fromIdx, toIdx := -1, -1
		for i, node := range n.Nodes {
			if node == conn.From {
				fromIdx = i
			}
			if node == conn.To {
				toIdx = i
			}
		}
		isBack := toIdx < fromIdx
		if isBack != back {
			continue
		}
		if len(conn.From.Out) > 1 && len(conn.To.In) > 1 {
			candidates = append(candidates, conn)
		}
	}
	if len(candidates) == 0 {
		return
	}
	conn := candidates[rand.Intn(len(candidates))]
	n.Disconnect(conn.From, conn.To)
}

// mutateModWeight perturbs a random connection weight within bounds.
func (n *Network) mutateModWeight(min, max float64) {
	total := len(n.Connections) + len(n.SelfConns)
	if total == 0 {
		return
	}
	idx := rand.Intn(total)
	var conn *Connection
	if idx < len(n.Connections) {
		conn = n.Connections[idx]
	} else {
		conn = n.SelfConns[idx-len(n.Connections)]
	}
	setWeight(conn, conn.Weight+rand.Float64()*(max-min)+min)
}

// mutateModBias perturbs a random non-input node's bias within bounds.
func (n *Network) mutateModBias(min, max float64) {
	if len(n.Nodes) <= n.Input {
		return
	}
	node := n.Nodes[n.Input+rand.Intn(len(n.Nodes)-n.Input)]
	node.mutateBias(min, max)
}

// mutateModActivation swaps a random node's squash function.
func (n *Network) mutateModActivation(allowed []string, mutateOutput bool) {
	if len(allowed) == 0 {
		allowed = MutationSquashes
	}
	candidates := []*Node{}
	for _, node := range n.Nodes {
		if node.Kind == NodeHidden || (mutateOutput && node.Kind == NodeOutput) {
			candidates = append(candidates, node)
		}
	}
	if len(candidates) == 0 {
		return
	}
	candidates[rand.Intn(len(candidates))].mutateSquash(allowed)
}

// mutateAddSelfConn adds a self loop to a random node without one.
func (n *Network) mutateAddSelfConn() {
	candidates := []*Node{}
	for _, node := range n.Nodes {
		if node.Kind != NodeInput && node.Self == nil {
			candidates = append(candidates, node)
		}
	}
	if len(candidates) == 0 {
		return
	}
	node := candidates[rand.Intn(len(candidates))]
	n.mustConnect(node, node, rand.NormFloat64())
}

// mutateSubSelfConn removes a random self loop.
func (n *Network) mutateSubSelfConn() {
	if len(n.SelfConns) == 0 {
		return
	}
	conn := n.SelfConns[rand.Intn(len(n.SelfConns))]
	n.Disconnect(conn.From, conn.To)
}

// mutateAddGate assigns a random non-input node as gater of a random ungated
// connection.
func (n *Network) mutateAddGate() {
	candidates := []*Connection{}
	for _, conn := range n.Connections {
		if conn.Gater == nil {
			candidates = append(candidates, conn)
		}
	}
	for _, conn := range n.SelfConns {
		if conn.Gater == nil {
			candidates = append(candidates, conn)
		}
	}
	if len(candidates) == 0 || len(n.Nodes) <= n.Input {
		return
	}
	conn := candidates[rand.Intn(len(candidates))]
	gater := n.Nodes[n.Input+rand.Intn(len(n.Nodes)-n.Input)]
	n.Gate(gater, conn)
}

// mutateSubGate removes the gater from a random gated connection.
func (n *Network) mutateSubGate() {
	candidates := []*Connection{}
	for _, conn := range n.Connections {
		if conn.Gater != nil {
			candidates = append(candidates, conn)
		}
	}
	for _, conn := range n.SelfConns {
		if conn.Gater != nil {
			candidates = append(candidates, conn)
		}
	}
	if len(candidates) == 0 {
		return
	}
	n.Ungate(candidates[rand.Intn(len(candidates))])
}

// mutateSwapNodes exchanges the bias and squash function of two distinct
// hidden nodes.
func (n *Network) mutateSwapNodes() {
	hidden := []*Node{}
	for _, node := range n.Nodes {
		if node.Kind == NodeHidden {
			hidden = append(hidden, node)
		}
	}
	if len(hidden) < 2 {
		return
	}
	i := rand.Intn(len(hidden))
	j := rand.Intn(len(hidden) - 1)
	if j >= i {
		j++
	}
	a, b := hidden[i], hidden[j]
	a.Bias, b.Bias = b.Bias, a.Bias
	aName, aFn := a.SquashName, a.squash
	a.SquashName, a.squash = b.SquashName, b.squash
	b.SquashName, b.squash = aName, aFn
}
