package neataptic

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
)

// TestPropagateMatchesNumericGradient checks the analytic backward pass
// against a central-difference gradient of the squared error on a small
// feed-forward network. The output node uses the identity squash, under which
// the output error responsibility (target - output) is exactly the negative
// gradient of 0.5*(target-output)^2.
func TestPropagateMatchesNumericGradient(t *testing.T) {
	n, err := NewPerceptron(2, 3, 1)
	require.NoError(t, err)
	for _, node := range n.Nodes {
		if node.Kind == NodeOutput {
			require.NoError(t, node.SetSquash("identity"))
		}
	}

	input := []float64{0.6, -0.4}
	target := []float64{0.9}

	// Parameter vector: connection weights, then non-input biases.
	var biased []*Node
	for _, node := range n.Nodes {
		if node.Kind != NodeInput {
			biased = append(biased, node)
		}
	}
	dim := len(n.Connections) + len(biased)
	params := make([]float64, dim)
	for i, conn := range n.Connections {
		params[i] = conn.Weight
	}
	for i, node := range biased {
		params[len(n.Connections)+i] = node.Bias
	}

	setParams := func(x []float64) {
		for i, conn := range n.Connections {
			conn.Weight = x[i]
		}
		for i, node := range biased {
			node.Bias = x[len(n.Connections)+i]
		}
	}

	loss := func(x []float64) float64 {
		setParams(x)
		n.Clear()
		out, err := n.NoTraceActivate(input)
		require.NoError(t, err)
		d := target[0] - out[0]
		return 0.5 * d * d
	}

	numeric := fd.Gradient(nil, loss, params, nil)

	// Analytic pass: a single activate/propagate from a clean state with
	// rate 1 accumulates exactly the per-parameter descent direction.
	setParams(params)
	n.Clear()
	_, err = n.Activate(input, true)
	require.NoError(t, err)
	require.NoError(t, n.Propagate(1, 0, false, Regularization{}, target))

	for i, conn := range n.Connections {
		require.InDelta(t, -numeric[i], conn.TotalDeltaWeight, 1e-6,
			"weight gradient of connection %d", i)
	}
	for i, node := range biased {
		require.InDelta(t, -numeric[len(n.Connections)+i], node.TotalDeltaBias, 1e-6,
			"bias gradient of node %d", node.GeneID)
	}
}

// With a perfectly fitted sample the error term vanishes, isolating the
// regularization contribution to the accumulated delta.
func TestPropagateGradientThroughRegularization(t *testing.T) {
	n, err := NewPerceptron(1, 1)
	require.NoError(t, err)
	out := n.Nodes[1]
	require.NoError(t, out.SetSquash("identity"))
	conn := n.Connections[0]
	conn.Weight = 2
	out.Bias = 0

	reg := Regularization{L2: 0.1}
	n.Clear()
	_, err = n.Activate([]float64{1}, true)
	require.NoError(t, err)
	require.NoError(t, n.Propagate(1, 0, false, reg, []float64{2}))

	// o = w*x = 2; responsibility = 0; delta = -(L2*w) = -0.2.
	require.InDelta(t, -0.2, conn.TotalDeltaWeight, 1e-12)
}

// PropagateWithCost must feed the selected cost's derivative into the output
// error responsibility, so mae and hinge descend the loss they report
// instead of the squared error.
func TestPropagateUsesSelectedCostDerivative(t *testing.T) {
	accumulate := func(costName string, target float64) float64 {
		n, err := NewPerceptron(1, 1)
		require.NoError(t, err)
		out := n.Nodes[1]
		require.NoError(t, out.SetSquash("identity"))
		conn := n.Connections[0]
		conn.Weight = 0.5
		out.Bias = 0

		cost, err := GetCost(costName)
		require.NoError(t, err)
		n.Clear()
		_, err = n.Activate([]float64{1}, true)
		require.NoError(t, err)
		require.NoError(t, n.PropagateWithCost(1, 0, false, Regularization{}, cost, []float64{target}))
		return conn.TotalDeltaWeight
	}

	// o = 0.5, eligibility = 1; mse accumulates (t - o), mae its sign.
	require.InDelta(t, -0.5, accumulate("mse", 0), 1e-12)
	require.InDelta(t, -1.0, accumulate("mae", 0), 1e-12)
	require.InDelta(t, 1.0, accumulate("mae", 2), 1e-12)
	// Hinge with margin violated (1 - t*o = 0.5 > 0) pushes toward t.
	require.InDelta(t, 1.0, accumulate("hinge", 1), 1e-12)
	require.InDelta(t, -1.0, accumulate("hinge", -1), 1e-12)

	// The plain Propagate entry point keeps the squared-error derivative.
	n, err := NewPerceptron(1, 1)
	require.NoError(t, err)
	require.NoError(t, n.Nodes[1].SetSquash("identity"))
	n.Connections[0].Weight = 0.5
	n.Nodes[1].Bias = 0
	n.Clear()
	_, err = n.Activate([]float64{1}, true)
	require.NoError(t, err)
	require.NoError(t, n.Propagate(1, 0, false, Regularization{}, []float64{0}))
	require.InDelta(t, -0.5, n.Connections[0].TotalDeltaWeight, 1e-12)
}
