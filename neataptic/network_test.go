package neataptic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildDeterministic221 builds a 2-2-1 perceptron with fixed parameters so
// tests can compare activations across clones and serialization round trips.
func buildDeterministic221(t *testing.T) *Network {
	t.Helper()
	n, err := NewPerceptron(2, 2, 1)
	require.NoError(t, err)
	weights := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}
	for i, conn := range n.Connections {
		conn.Weight = weights[i]
	}
	biases := []float64{0.5, -0.5, 1.0}
	bi := 0
	for _, node := range n.Nodes {
		if node.Kind == NodeInput {
			continue
		}
		node.Bias = biases[bi]
		bi++
		require.NoError(t, node.SetSquash("logistic"))
	}
	n.markStructureChanged()
	return n
}

func TestNewNetworkFullyConnected(t *testing.T) {
	n := NewNetwork(2, 3)

	assert.Len(t, n.Nodes, 5)
	assert.Len(t, n.Connections, 6)
	assert.Empty(t, n.SelfConns)
	for _, node := range n.Nodes[:2] {
		assert.Equal(t, NodeInput, node.Kind)
		assert.Len(t, node.Out, 3)
	}
	for _, node := range n.Nodes[2:] {
		assert.Equal(t, NodeOutput, node.Kind)
		assert.Len(t, node.In, 2)
	}
	for i, node := range n.Nodes {
		assert.Equal(t, i, node.GeneID)
	}
}

func TestNewPerceptronValidation(t *testing.T) {
	_, err := NewPerceptron(2)
	var structural *StructuralError
	require.ErrorAs(t, err, &structural)

	_, err = NewPerceptron(2, 0, 1)
	require.ErrorAs(t, err, &structural)
}

func TestActivateInputSizeMismatch(t *testing.T) {
	n := NewNetwork(2, 1)

	_, err := n.Activate([]float64{1}, false)
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)

	_, err = n.NoTraceActivate([]float64{1, 2, 3})
	require.ErrorAs(t, err, &validation)
}

func TestConnectRejectsDuplicatesAndForeignNodes(t *testing.T) {
	n := NewNetwork(1, 1)
	var structural *StructuralError

	_, err := n.Connect(n.Nodes[0], n.Nodes[1], 0.5)
	require.ErrorAs(t, err, &structural)

	foreign := NewNode(NodeHidden)
	_, err = n.Connect(foreign, n.Nodes[1], 0.5)
	require.ErrorAs(t, err, &structural)
}

func TestSelfConnectionBookkeeping(t *testing.T) {
	n := NewNetwork(1, 1)
	out := n.Nodes[1]

	conn, err := n.Connect(out, out, 0.3)
	require.NoError(t, err)
	assert.Same(t, conn, out.Self)
	assert.Len(t, n.SelfConns, 1)
	assert.Empty(t, conn.To.In, "self loops must not appear in the In list")

	n.Disconnect(out, out)
	assert.Nil(t, out.Self)
	assert.Empty(t, n.SelfConns)
}

func TestGateTracksGaterActivation(t *testing.T) {
	n := buildDeterministic221(t)
	hidden := n.Nodes[2]
	conn := n.Connections[4] // hidden -> output

	require.NoError(t, n.Gate(hidden, conn))
	assert.Same(t, hidden, conn.Gater)

	_, err := n.Activate([]float64{1, 1}, false)
	require.NoError(t, err)
	assert.InDelta(t, hidden.Activation, conn.Gain, 1e-12)

	n.Ungate(conn)
	assert.Nil(t, conn.Gater)
	assert.Equal(t, 1.0, conn.Gain)

	var structural *StructuralError
	require.NoError(t, n.Gate(hidden, conn))
	err = n.Gate(n.Nodes[3], conn)
	require.ErrorAs(t, err, &structural, "double gating must be rejected")
}

func TestRemoveNodeBridgesAndRejectsNonHidden(t *testing.T) {
	n := buildDeterministic221(t)
	var structural *StructuralError

	err := n.RemoveNode(n.Nodes[0])
	require.ErrorAs(t, err, &structural)
	err = n.RemoveNode(n.Nodes[4])
	require.ErrorAs(t, err, &structural)

	hidden := n.Nodes[2]
	output := n.Nodes[4]
	require.NoError(t, n.RemoveNode(hidden))

	assert.Len(t, n.Nodes, 4)
	// The inputs must now project to the output directly (bridged) since
	// their path through the removed node is gone.
	for _, input := range n.Nodes[:2] {
		assert.True(t, output.isProjectedBy(input))
	}
	for i, node := range n.Nodes {
		assert.Equal(t, i, node.GeneID, "gene ids must be reassigned after removal")
	}

	_, err = n.Activate([]float64{1, 0}, false)
	require.NoError(t, err)
}

func TestRebuildConnectionsRestoresFlatLists(t *testing.T) {
	n := buildDeterministic221(t)
	out := n.Nodes[4]
	_, err := n.Connect(out, out, 0.1)
	require.NoError(t, err)

	// Corrupt the flat views, keeping the per-node lists intact.
	n.Connections = nil
	n.SelfConns = nil
	n.RebuildConnections()

	assert.Len(t, n.Connections, 6)
	assert.Len(t, n.SelfConns, 1)
	total := 0
	for _, node := range n.Nodes {
		total += len(node.Out)
	}
	assert.Equal(t, total, len(n.Connections))
}

func TestCloneActivatesIdentically(t *testing.T) {
	n := buildDeterministic221(t)
	out := n.Nodes[4]
	_, err := n.Connect(out, out, 0.25)
	require.NoError(t, err)

	// Warm up state and traces so the clone has to copy runtime state too.
	inputs := [][]float64{{1, 1}, {0, 1}, {1, 0}}
	for _, in := range inputs {
		_, err := n.Activate(in, false)
		require.NoError(t, err)
	}

	clone := n.Clone()
	assert.NotEqual(t, n.ID, clone.ID)
	assert.Len(t, clone.Nodes, len(n.Nodes))
	assert.Len(t, clone.Connections, len(n.Connections))

	for _, in := range [][]float64{{1, 1}, {0, 0}, {1, 0}, {0, 1}} {
		want, err := n.Activate(in, false)
		require.NoError(t, err)
		got, err := clone.Activate(in, false)
		require.NoError(t, err)
		require.Len(t, got, len(want))
		for i := range want {
			assert.InDelta(t, want[i], got[i], 1e-9)
		}
	}
}

func TestClearWipesRuntimeStateOnly(t *testing.T) {
	n := buildDeterministic221(t)
	_, err := n.Activate([]float64{1, 1}, false)
	require.NoError(t, err)

	weight := n.Connections[0].Weight
	n.Clear()

	for _, node := range n.Nodes {
		assert.Zero(t, node.Activation)
		assert.Zero(t, node.State)
		assert.Zero(t, node.Old)
	}
	for _, conn := range n.Connections {
		assert.Zero(t, conn.Eligibility)
		assert.Empty(t, conn.XTraceNodes)
	}
	assert.Equal(t, weight, n.Connections[0].Weight)
}

func TestDisabledConnectionCarriesNoSignal(t *testing.T) {
	n, err := NewPerceptron(1, 1)
	require.NoError(t, err)
	conn := n.Connections[0]
	conn.Weight = 5
	out := n.Nodes[1]
	out.Bias = 0
	require.NoError(t, out.SetSquash("identity"))

	active, err := n.NoTraceActivate([]float64{1})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, active[0], 1e-12)

	conn.Enabled = false
	n.Clear()
	disabled, err := n.NoTraceActivate([]float64{1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, disabled[0], 1e-12)
}

func TestSelfConnectionDelaysStateByOneCycle(t *testing.T) {
	n, err := NewPerceptron(1, 1)
	require.NoError(t, err)
	out := n.Nodes[1]
	out.Bias = 0
	require.NoError(t, out.SetSquash("identity"))
	n.Connections[0].Weight = 1
	_, err = n.Connect(out, out, 0.5)
	require.NoError(t, err)

	// First cycle: old state is zero, so the self loop contributes nothing.
	first, err := n.NoTraceActivate([]float64{1})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, first[0], 1e-12)

	// Second cycle: state = input + 0.5*previous state.
	second, err := n.NoTraceActivate([]float64{1})
	require.NoError(t, err)
	assert.InDelta(t, 1.5, second[0], 1e-12)
}
