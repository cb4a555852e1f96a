package neataptic

import (
	"fmt"
	"log"
	"math/rand"
	"sync/atomic"
)

// NodeKind distinguishes the three node roles. Input nodes have bias fixed at
// 0 and bypass the weighted-sum stage; hidden and output nodes compute
// bias + weighted sum of their inputs.
type NodeKind int

const (
	NodeInput NodeKind = iota
	NodeHidden
	NodeOutput
)

func (k NodeKind) String() string {
	switch k {
	case NodeInput:
		return "input"
	case NodeHidden:
		return "hidden"
	case NodeOutput:
		return "output"
	}
	return "unknown"
}

// maxParamMagnitude bounds every weight and bias update. Values beyond this
// range add nothing but overflow risk.
const maxParamMagnitude = 1e12

// nodeIndexCounter hands out process-unique node indices.
var nodeIndexCounter int64

// Node is a single computational unit: bias, squash function and running
// state, plus the connection lists it participates in. Connection lists are
// views into the owning Network's connection collection, never owned copies.
type Node struct {
	// Index is process-unique and stable for the node's lifetime. It is an
	// identity, never persisted and never reused.
	Index int64
	// GeneID is the stable id used by crossover and innovation to match
	// nodes across genomes. It equals the node's ordinal position and is
	// refreshed by the owning Network before innovation-keyed operations.
	GeneID int
	Kind   NodeKind

	Bias       float64
	SquashName string
	squash     Activation

	// Runtime state.
	Activation float64
	State      float64 // pre-activation sum of the current cycle
	Old        float64 // previous-cycle state, feeds the self connection
	Derivative float64
	Mask       float64 // dropout mask, 0 or 1 (scaled after training)

	// Connection views: incoming, outgoing, the optional self loop, and the
	// connections this node gates.
	In    []*Connection
	Out   []*Connection
	Self  *Connection
	Gated []*Connection

	// Error responsibilities computed during propagation.
	ErrorResponsibility float64
	ErrorProjected      float64
	ErrorGated          float64

	// Bias accumulators, the node-level mirror of the connection fields.
	PreviousDeltaBias float64
	TotalDeltaBias    float64
	opt               *optimizerState

	// activating guards against re-entrant activation of the same node. The
	// ordered network pass never recurses, so a set flag means a caller is
	// misusing the graph; activation then yields the previous value instead
	// of looping.
	activating bool

	// scratch for the extended-trace bookkeeping, reused across activations
	// to keep the hot path allocation-free.
	traceNodes      []*Node
	traceInfluences []float64
}

// NewNode creates a node of the given kind with the default squash function,
// a zero bias, and a fresh process-unique index.
func NewNode(kind NodeKind) *Node {
	n := &Node{
		Index:      atomic.AddInt64(&nodeIndexCounter, 1),
		Kind:       kind,
		SquashName: DefaultSquash,
		Mask:       1,
	}
	n.squash = ActivationFunctions[DefaultSquash]
	if kind != NodeInput {
		n.Bias = rand.Float64()*0.2 - 0.1
	}
	return n
}

// SetSquash replaces the node's activation function.
func (n *Node) SetSquash(name string) error {
	fn, err := GetActivation(name)
	if err != nil {
		return err
	}
	n.SquashName = name
	n.squash = fn
	return nil
}

// selfWeight and selfGain fold the absent-self-connection case into the
// activation formula: no self loop contributes exactly zero.
func (n *Node) selfWeight() float64 {
	if n.Self == nil || !n.Self.Enabled {
		return 0
	}
	return n.Self.Weight
}

func (n *Node) selfGain() float64 {
	if n.Self == nil {
		return 1
	}
	return n.Self.Gain
}

// Activate computes the node's activation for the current cycle and updates
// all trace bookkeeping. Input nodes take their activation directly from the
// optional external input and skip the weighted-sum stage.
func (n *Node) Activate(input ...float64) float64 {
	if n.Kind == NodeInput && len(input) > 0 {
		n.Activation = input[0]
		return n.Activation
	}
	if n.activating {
		// Re-entrant traversal; break the cycle with the stored value.
		return n.Activation
	}
	n.activating = true
	defer func() { n.activating = false }()

	n.Old = n.State
	n.State = n.Bias + n.selfGain()*n.selfWeight()*n.Old
	for _, conn := range n.In {
		if !conn.Enabled {
			continue
		}
		n.State += conn.From.Activation * conn.Weight * conn.Gain
	}

	n.Activation = n.squash.Fn(n.State) * n.Mask
	n.Derivative = n.squash.Derivative(n.State)

	// Collect the per-gated-node influences once, then fan them out into
	// every incoming connection's extended trace.
	n.traceNodes = n.traceNodes[:0]
	n.traceInfluences = n.traceInfluences[:0]
	for _, conn := range n.Gated {
		node := conn.To
		idx := -1
		for i, tn := range n.traceNodes {
			if tn == node {
				idx = i
				break
			}
		}
		if idx >= 0 {
			n.traceInfluences[idx] += conn.Weight * conn.From.Activation
		} else {
			influence := conn.Weight * conn.From.Activation
			if node.Self != nil && node.Self.Gater == n {
				influence += node.Old
			}
			n.traceNodes = append(n.traceNodes, node)
			n.traceInfluences = append(n.traceInfluences, influence)
		}
		// The gated connection's gain tracks this node's activation.
		conn.Gain = n.Activation
	}

	sg, sw := n.selfGain(), n.selfWeight()
	for _, conn := range n.In {
		if !conn.Enabled {
			continue
		}
		conn.Eligibility = sg*sw*conn.Eligibility + conn.From.Activation
		for i, node := range n.traceNodes {
			influence := n.traceInfluences[i]
			if idx := conn.xtraceIndex(node); idx >= 0 {
				conn.XTraceValues[idx] = node.selfGain()*node.selfWeight()*conn.XTraceValues[idx] +
					n.Derivative*conn.Eligibility*influence
			} else {
				conn.XTraceNodes = append(conn.XTraceNodes, node)
				conn.XTraceValues = append(conn.XTraceValues, n.Derivative*conn.Eligibility*influence)
			}
		}
	}

	return n.Activation
}

// NoTraceActivate is the inference-only twin of Activate: identical state
// computation with all trace bookkeeping skipped.
func (n *Node) NoTraceActivate(input ...float64) float64 {
	if n.Kind == NodeInput && len(input) > 0 {
		n.Activation = input[0]
		return n.Activation
	}
	if n.activating {
		return n.Activation
	}
	n.activating = true
	defer func() { n.activating = false }()

	n.Old = n.State
	n.State = n.Bias + n.selfGain()*n.selfWeight()*n.Old
	for _, conn := range n.In {
		if !conn.Enabled {
			continue
		}
		n.State += conn.From.Activation * conn.Weight * conn.Gain
	}
	n.Activation = n.squash.Fn(n.State)
	for _, conn := range n.Gated {
		conn.Gain = n.Activation
	}
	return n.Activation
}

// Regularization describes the weight penalty applied during propagation.
// Custom, when set, returns d(penalty)/d(weight) and overrides L1/L2.
type Regularization struct {
	L1     float64
	L2     float64
	Custom func(weight float64) float64
}

// penaltyGradient returns the derivative of the regularization penalty at w.
func (r Regularization) penaltyGradient(w float64) float64 {
	if r.Custom != nil {
		return r.Custom(w)
	}
	g := r.L2 * w
	if r.L1 != 0 {
		if w > 0 {
			g += r.L1
		} else if w < 0 {
			g -= r.L1
		}
	}
	return g
}

// Propagate computes this node's error responsibility and the weight deltas
// of its incoming connections. Output nodes take their responsibility from
// errSignal, the descent-signed cost derivative evaluated by the network
// layer; hidden nodes sum downstream responsibilities over outgoing and
// gated connections. With update=false deltas accumulate in TotalDeltaWeight /
// TotalDeltaBias for later batched application; such callers pass rate 1 (or
// the loss scale) and leave the learning rate to the optimizer applying the
// batch. With update=true the deltas are applied immediately with
// Nesterov-style momentum, rate included.
func (n *Node) Propagate(rate, momentum float64, update bool, reg Regularization, errSignal *float64) {
	if n.Kind == NodeOutput && errSignal != nil {
		n.ErrorResponsibility = *errSignal
		n.ErrorProjected = n.ErrorResponsibility
	} else {
		projected := 0.0
		for _, conn := range n.Out {
			if !conn.Enabled {
				continue
			}
			projected += conn.To.ErrorResponsibility * conn.Weight * conn.Gain
		}
		n.ErrorProjected = n.Derivative * projected

		gated := 0.0
		for _, conn := range n.Gated {
			node := conn.To
			influence := conn.Weight * conn.From.Activation
			if node.Self != nil && node.Self.Gater == n {
				influence += node.Old
			}
			gated += node.ErrorResponsibility * influence
		}
		n.ErrorGated = n.Derivative * gated
		n.ErrorResponsibility = n.ErrorProjected + n.ErrorGated
	}

	if n.Kind == NodeInput {
		return
	}

	for _, conn := range n.In {
		if !conn.Enabled {
			continue
		}
		gradient := n.ErrorProjected * conn.Eligibility
		for i, node := range conn.XTraceNodes {
			gradient += node.ErrorResponsibility * conn.XTraceValues[i]
		}

		deltaWeight := rate * (gradient*n.Mask - reg.penaltyGradient(conn.Weight))
		conn.TotalDeltaWeight += deltaWeight
		if update {
			velocity := momentum*conn.PreviousDeltaWeight + conn.TotalDeltaWeight
			applied := momentum*velocity + conn.TotalDeltaWeight // Nesterov lookahead
			setWeight(conn, conn.Weight+applied)
			conn.PreviousDeltaWeight = velocity
			conn.TotalDeltaWeight = 0
		}
	}

	deltaBias := rate * n.ErrorResponsibility
	n.TotalDeltaBias += deltaBias
	if update {
		velocity := momentum*n.PreviousDeltaBias + n.TotalDeltaBias
		applied := momentum*velocity + n.TotalDeltaBias
		setBias(n, n.Bias+applied)
		n.PreviousDeltaBias = velocity
		n.TotalDeltaBias = 0
	}
}

// setWeight applies a weight value behind the numeric guard: non-finite
// values are rejected (logged, prior value retained) and finite values are
// clipped to the safe range.
func setWeight(c *Connection, v float64) {
	if !isFinite(v) {
		log.Printf("Warning: %v", &NumericGuardError{Op: "weight update", Value: v})
		return
	}
	c.Weight = clamp(v, -maxParamMagnitude, maxParamMagnitude)
}

// setBias is the bias twin of setWeight.
func setBias(n *Node, v float64) {
	if !isFinite(v) {
		log.Printf("Warning: %v", &NumericGuardError{Op: "bias update", Value: v})
		return
	}
	n.Bias = clamp(v, -maxParamMagnitude, maxParamMagnitude)
}

// mutateBias perturbs the bias by a uniform amount in [min, max]. Input
// nodes keep their fixed zero bias.
func (n *Node) mutateBias(min, max float64) {
	if n.Kind == NodeInput {
		return
	}
	setBias(n, n.Bias+rand.Float64()*(max-min)+min)
}

// mutateSquash swaps the squash function for another from the allowed set.
func (n *Node) mutateSquash(allowed []string) {
	if len(allowed) <= 1 {
		return
	}
	for attempt := 0; attempt < 8; attempt++ {
		name := allowed[rand.Intn(len(allowed))]
		if name != n.SquashName {
			// Registry membership is validated when mutation methods are
			// built, so this cannot fail for the default sets.
			if err := n.SetSquash(name); err == nil {
				return
			}
		}
	}
}

// clearState resets runtime state and traces, leaving topology and learned
// parameters intact.
func (n *Node) clearState() {
	n.Activation = 0
	n.State = 0
	n.Old = 0
	n.Derivative = 0
	n.ErrorResponsibility = 0
	n.ErrorProjected = 0
	n.ErrorGated = 0
	n.Mask = 1
	for _, conn := range n.In {
		conn.Eligibility = 0
		conn.XTraceNodes = conn.XTraceNodes[:0]
		conn.XTraceValues = conn.XTraceValues[:0]
	}
	for _, conn := range n.Gated {
		conn.Gain = 0
	}
}

// isProjectedBy reports whether conn projects into this node.
func (n *Node) isProjectedBy(from *Node) bool {
	if from == n {
		return n.Self != nil
	}
	for _, conn := range n.In {
		if conn.From == from {
			return true
		}
	}
	return false
}

// String returns a debug representation of the node.
func (n *Node) String() string {
	return fmt.Sprintf("Node(gene: %d, kind: %s, bias: %.3f, squash: %s)",
		n.GeneID, n.Kind, n.Bias, n.SquashName)
}
