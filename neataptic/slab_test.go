package neataptic

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionSlabPacksWeightsAndFlags(t *testing.T) {
	n := buildDeterministic221(t)
	n.Connections[2].Enabled = false
	n.markStructureChanged()

	slab := n.ConnectionSlab()
	require.Equal(t, 6, slab.Len())
	for i, conn := range n.Connections {
		assert.Equal(t, conn.Weight, slab.Weights[i])
		assert.Equal(t, conn.Enabled, slab.Enabled(i))
	}
}

func TestConnectionSlabVersionBumpsOnlyOnRebuild(t *testing.T) {
	n := NewNetwork(2, 2)

	first := n.ConnectionSlab()
	v := first.Version
	assert.Greater(t, v, uint64(0))

	// No structural change: same version.
	again := n.ConnectionSlab()
	assert.Equal(t, v, again.Version)

	require.NoError(t, n.Mutate(AddNodeMutation))
	rebuilt := n.ConnectionSlab()
	assert.Greater(t, rebuilt.Version, v)
	assert.Equal(t, len(n.Connections)+len(n.SelfConns), rebuilt.Len())
}

func TestConnectionSlabIncludesSelfConnections(t *testing.T) {
	n := NewNetwork(1, 1)
	out := n.Nodes[1]
	_, err := n.Connect(out, out, 0.9)
	require.NoError(t, err)

	slab := n.ConnectionSlab()
	require.Equal(t, 2, slab.Len())
	// Self connections pack after the regular ones.
	assert.Equal(t, 0.9, slab.Weights[1])
}

func TestConnectionSlabGainArrayLifecycle(t *testing.T) {
	n := buildDeterministic221(t)

	slab := n.ConnectionSlab()
	assert.Nil(t, slab.Gain, "all gains at 1 need no gain array")

	gater := n.Nodes[2]
	conn := n.Connections[4]
	require.NoError(t, n.Gate(gater, conn))
	_, err := n.Activate([]float64{1, 1}, false)
	require.NoError(t, err)
	n.markStructureChanged()

	slab = n.ConnectionSlab()
	require.NotNil(t, slab.Gain)
	assert.Equal(t, conn.Gain, slab.Gain[4])

	n.Ungate(conn)
	slab = n.ConnectionSlab()
	assert.Nil(t, slab.Gain, "the gain array is released once every gain returns to 1")
}

func TestConnectionSlabNorms(t *testing.T) {
	n, err := NewPerceptron(1, 1)
	require.NoError(t, err)
	n.Connections[0].Weight = -3
	n.markStructureChanged()

	slab := n.ConnectionSlab()
	assert.InDelta(t, 3, slab.WeightNorm(), 1e-12)

	dst := make([]float64, slab.Len())
	slab.EffectiveWeights(dst)
	assert.Equal(t, []float64{-3}, dst)
}

func TestConnectionSlabEffectiveWeightsWithGain(t *testing.T) {
	n := NewNetwork(1, 1)
	out := n.Nodes[1]
	require.NoError(t, n.Gate(out, n.Connections[0]))
	n.Connections[0].Weight = 2
	n.Connections[0].Gain = 0.5
	n.markStructureChanged()

	slab := n.ConnectionSlab()
	require.NotNil(t, slab.Gain)
	dst := make([]float64, slab.Len())
	slab.EffectiveWeights(dst)
	assert.InDelta(t, 1.0, dst[0], 1e-12)
	assert.InDelta(t, math.Abs(slab.Weights[0]), slab.WeightNorm(), 1e-12)
}
