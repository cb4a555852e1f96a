// Package codec exports and imports strictly layered feed-forward networks
// as a portable, JSON-serializable model format. Only networks that are
// layered, fully (or explicitly partially) connected and per-layer
// homogeneous in activation can be exported; everything else is rejected
// with a structural error.
package codec

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/reicek/neataptic-go/neataptic"
)

// FormatVersion identifies the portable model layout.
const FormatVersion = 1

// Layer is one layer of a portable model. The input layer carries only its
// size; every later layer carries biases, an activation name, and a weight
// matrix indexed [target][source] against the previous layer.
type Layer struct {
	Size       int         `json:"size"`
	Activation string      `json:"activation,omitempty"`
	Biases     []float64   `json:"biases,omitempty"`
	Weights    [][]float64 `json:"weights,omitempty"`
}

// PortableModel is a layered MLP in interchange form.
type PortableModel struct {
	ID            string  `json:"id"`
	FormatVersion int     `json:"formatVersion"`
	Layers        []Layer `json:"layers"`
}

// MarshalJSON / UnmarshalJSON come for free from the struct tags; the
// helpers below add the file-friendly entry points.

// Encode renders the model as indented JSON.
func (m *PortableModel) Encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Decode parses a portable model from JSON.
func Decode(data []byte) (*PortableModel, error) {
	var m PortableModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode portable model: %w", err)
	}
	if m.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("unsupported portable model version %d", m.FormatVersion)
	}
	return &m, nil
}

// portableActivations is the closed set of activation names the interchange
// format understands. Anything else degrades to identity on export.
var portableActivations = map[string]bool{
	"logistic":  true,
	"tanh":      true,
	"relu":      true,
	"identity":  true,
	"softsign":  true,
	"step":      true,
	"gaussian":  true,
	"hard-tanh": true,
	"selu":      true,
}

// Export flattens a strictly layered feed-forward network into a portable
// model. Gated, recurrent, self-connected or non-layered topologies return a
// StructuralError. An activation with no portable mapping degrades to
// identity with a logged warning rather than aborting; this is a deliberate
// best-effort policy for interoperability, not a correctness guarantee.
func Export(n *neataptic.Network) (*PortableModel, error) {
	if len(n.SelfConns) > 0 {
		return nil, &neataptic.StructuralError{Op: "export", Detail: "network has self connections"}
	}
	for _, conn := range n.Connections {
		if conn.Gater != nil {
			return nil, &neataptic.StructuralError{Op: "export", Detail: "network has gated connections"}
		}
	}

	layers, nodeLayer, err := inferLayers(n)
	if err != nil {
		return nil, err
	}

	model := &PortableModel{
		ID:            uuid.NewString(),
		FormatVersion: FormatVersion,
		Layers:        []Layer{{Size: len(layers[0])}},
	}

	for li := 1; li < len(layers); li++ {
		nodes := layers[li]
		previous := layers[li-1]

		activation := nodes[0].SquashName
		for _, node := range nodes {
			if node.SquashName != activation {
				return nil, &neataptic.StructuralError{
					Op:     "export",
					Detail: fmt.Sprintf("layer %d mixes activations %q and %q", li, activation, node.SquashName),
				}
			}
		}
		if !portableActivations[activation] {
			log.Printf("Warning: activation %q has no portable mapping, exporting as identity", activation)
			activation = "identity"
		}

		layer := Layer{Size: len(nodes), Activation: activation}
		prevIndex := make(map[*neataptic.Node]int, len(previous))
		for i, node := range previous {
			prevIndex[node] = i
		}

		for _, node := range nodes {
			layer.Biases = append(layer.Biases, node.Bias)
			row := make([]float64, len(previous))
			for _, conn := range node.In {
				if !conn.Enabled {
					continue
				}
				src, ok := prevIndex[conn.From]
				if !ok {
					// inferLayers already guarantees this; layer bookkeeping
					// would have to be broken for it to trigger.
					return nil, &neataptic.StructuralError{
						Op:     "export",
						Detail: fmt.Sprintf("node in layer %d fed from layer %d", li, nodeLayer[conn.From]),
					}
				}
				row[src] = conn.Weight
			}
			layer.Weights = append(layer.Weights, row)
		}
		model.Layers = append(model.Layers, layer)
	}

	return model, nil
}

// inferLayers assigns every node to a layer: inputs at 0 and every other
// node exactly one layer after all its sources. Any edge that skips or
// reverses layers makes the network non-layered.
func inferLayers(n *neataptic.Network) ([][]*neataptic.Node, map[*neataptic.Node]int, error) {
	nodeLayer := make(map[*neataptic.Node]int, len(n.Nodes))
	var layers [][]*neataptic.Node

	for _, node := range n.Nodes {
		var layer int
		switch {
		case node.Kind == neataptic.NodeInput:
			layer = 0
		case len(node.In) == 0:
			return nil, nil, &neataptic.StructuralError{
				Op:     "export",
				Detail: fmt.Sprintf("node %d has no incoming connections", node.GeneID),
			}
		default:
			layer = -1
			for _, conn := range node.In {
				src, ok := nodeLayer[conn.From]
				if !ok {
					return nil, nil, &neataptic.StructuralError{
						Op:     "export",
						Detail: fmt.Sprintf("node %d fed by a later node; network is recurrent", node.GeneID),
					}
				}
				if layer == -1 {
					layer = src + 1
				} else if src+1 != layer {
					return nil, nil, &neataptic.StructuralError{
						Op:     "export",
						Detail: fmt.Sprintf("node %d receives from layers %d and %d", node.GeneID, layer-1, src),
					}
				}
			}
		}
		nodeLayer[node] = layer
		for len(layers) <= layer {
			layers = append(layers, nil)
		}
		layers[layer] = append(layers[layer], node)
	}

	// Output nodes must all sit in the final layer.
	last := len(layers) - 1
	for _, node := range n.Nodes {
		if node.Kind == neataptic.NodeOutput && nodeLayer[node] != last {
			return nil, nil, &neataptic.StructuralError{
				Op:     "export",
				Detail: fmt.Sprintf("output node %d sits in layer %d of %d", node.GeneID, nodeLayer[node], last),
			}
		}
		if node.Kind != neataptic.NodeOutput && nodeLayer[node] == last {
			return nil, nil, &neataptic.StructuralError{
				Op:     "export",
				Detail: fmt.Sprintf("non-output node %d sits in the output layer", node.GeneID),
			}
		}
	}
	return layers, nodeLayer, nil
}

// Import rebuilds a live Network from a portable model.
func Import(m *PortableModel) (*neataptic.Network, error) {
	if m.FormatVersion != FormatVersion {
		return nil, &neataptic.StructuralError{Op: "import", Detail: fmt.Sprintf("unsupported format version %d", m.FormatVersion)}
	}
	if len(m.Layers) < 2 {
		return nil, &neataptic.StructuralError{Op: "import", Detail: fmt.Sprintf("model needs at least 2 layers, has %d", len(m.Layers))}
	}

	sizes := make([]int, len(m.Layers))
	for i, layer := range m.Layers {
		if layer.Size <= 0 {
			return nil, &neataptic.StructuralError{Op: "import", Detail: fmt.Sprintf("layer %d has non-positive size %d", i, layer.Size)}
		}
		sizes[i] = layer.Size
	}

	n, err := neataptic.NewPerceptron(sizes...)
	if err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}

	// Walk the perceptron's node list layer by layer, overwriting the
	// random initialization with the model's parameters.
	offset := 0
	var previous []*neataptic.Node
	for li, layer := range m.Layers {
		nodes := n.Nodes[offset : offset+layer.Size]
		offset += layer.Size
		if li == 0 {
			previous = nodes
			continue
		}
		if len(layer.Biases) != layer.Size || len(layer.Weights) != layer.Size {
			return nil, &neataptic.StructuralError{
				Op:     "import",
				Detail: fmt.Sprintf("layer %d arrays do not match its size %d", li, layer.Size),
			}
		}
		prevIndex := make(map[*neataptic.Node]int, len(previous))
		for i, node := range previous {
			prevIndex[node] = i
		}
		for ni, node := range nodes {
			if err := node.SetSquash(layer.Activation); err != nil {
				return nil, &neataptic.StructuralError{Op: "import", Detail: fmt.Sprintf("layer %d: %v", li, err)}
			}
			node.Bias = layer.Biases[ni]
			row := layer.Weights[ni]
			if len(row) != len(previous) {
				return nil, &neataptic.StructuralError{
					Op:     "import",
					Detail: fmt.Sprintf("layer %d weight row %d has %d entries, previous layer has %d", li, ni, len(row), len(previous)),
				}
			}
			for _, conn := range node.In {
				conn.Weight = row[prevIndex[conn.From]]
			}
		}
		previous = nodes
	}

	return n, nil
}
