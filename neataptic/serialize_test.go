package neataptic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeRoundTripActivatesIdentically(t *testing.T) {
	n := buildDeterministic221(t)
	out := n.Nodes[4]
	_, err := n.Connect(out, out, 0.4)
	require.NoError(t, err)
	n.Score = 0.75

	// Warm up state so the round trip has to carry it.
	_, err = n.Activate([]float64{1, 0}, false)
	require.NoError(t, err)

	flat := n.Serialize()
	assert.Equal(t, 1, flat.FormatVersion)
	assert.Equal(t, 0.75, flat.Score)
	assert.Len(t, flat.Biases, 5)
	assert.Len(t, flat.Connections, 7)

	restored, err := Deserialize(flat)
	require.NoError(t, err)
	assert.Equal(t, n.Score, restored.Score)
	require.Len(t, restored.Nodes, 5)
	require.Len(t, restored.Connections, 6)
	require.Len(t, restored.SelfConns, 1)

	for _, in := range [][]float64{{1, 1}, {0, 1}, {1, 0}, {0, 0}} {
		want, err := n.Activate(in, false)
		require.NoError(t, err)
		got, err := restored.Activate(in, false)
		require.NoError(t, err)
		for i := range want {
			assert.InDelta(t, want[i], got[i], 1e-9)
		}
	}
}

func TestSerializePreservesGaters(t *testing.T) {
	n := buildDeterministic221(t)
	require.NoError(t, n.Gate(n.Nodes[2], n.Connections[4]))

	flat := n.Serialize()
	gated := 0
	for _, fc := range flat.Connections {
		if fc.Gater >= 0 {
			gated++
			assert.Equal(t, 2, fc.Gater)
		}
	}
	require.Equal(t, 1, gated)

	restored, err := Deserialize(flat)
	require.NoError(t, err)
	gatedConns := 0
	for _, conn := range restored.Connections {
		if conn.Gater != nil {
			gatedConns++
			assert.Same(t, restored.Nodes[2], conn.Gater)
		}
	}
	assert.Equal(t, 1, gatedConns)
}

func TestSerializePreservesDisabledGenes(t *testing.T) {
	n := NewNetwork(2, 1)
	require.NoError(t, n.Mutate(AddNodeMutation))

	flat := n.Serialize()
	restored, err := Deserialize(flat)
	require.NoError(t, err)

	disabled := 0
	for _, conn := range restored.Connections {
		if !conn.Enabled {
			disabled++
		}
	}
	assert.Equal(t, 1, disabled)
}

func TestDeserializeValidation(t *testing.T) {
	var structural *StructuralError

	_, err := Deserialize(&FlatGenome{FormatVersion: 99})
	require.ErrorAs(t, err, &structural)

	base := NewNetwork(2, 1).Serialize()

	broken := *base
	broken.States = broken.States[:1]
	_, err = Deserialize(&broken)
	require.ErrorAs(t, err, &structural)

	broken = *base
	broken.Input = 0
	_, err = Deserialize(&broken)
	require.ErrorAs(t, err, &structural)

	broken = *base
	broken.Connections = append([]FlatConnection{}, base.Connections...)
	broken.Connections[0].To = 42
	_, err = Deserialize(&broken)
	require.ErrorAs(t, err, &structural)

	broken = *base
	broken.Squashes = append([]string{}, base.Squashes...)
	broken.Squashes[2] = "unheard-of"
	_, err = Deserialize(&broken)
	require.ErrorAs(t, err, &structural)
}

func TestNetworkJSONRoundTrip(t *testing.T) {
	n := buildDeterministic221(t)
	n.Score = 1.25

	data, err := json.Marshal(n)
	require.NoError(t, err)

	var restored Network
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, 1.25, restored.Score)
	require.Len(t, restored.Nodes, 5)

	want, err := n.NoTraceActivate([]float64{0.5, 0.5})
	require.NoError(t, err)
	got, err := restored.NoTraceActivate([]float64{0.5, 0.5})
	require.NoError(t, err)
	assert.InDelta(t, want[0], got[0], 1e-9)
}
