package neataptic

import (
	"encoding/json"
	"fmt"
)

// FlatConnection is one connection tuple of the flat genome form. Node
// references are gene ids (positions in the node arrays); Gater is -1 when
// the connection is ungated.
type FlatConnection struct {
	From    int     `json:"from"`
	To      int     `json:"to"`
	Weight  float64 `json:"weight"`
	Gater   int     `json:"gater"`
	Enabled bool    `json:"enabled"`
}

// FlatGenome is the portable flat-array form of a Network: parallel per-node
// arrays in declaration order (inputs, hidden, outputs) plus connection
// tuples. It is the form handed to external evaluators and embedded in
// evolution checkpoints, and it round-trips runtime state so a deserialized
// genome resumes exactly where the original stood.
type FlatGenome struct {
	FormatVersion int `json:"formatVersion"`

	Input  int `json:"input"`
	Output int `json:"output"`

	Biases      []float64 `json:"biases"`
	Squashes    []string  `json:"squashes"`
	Activations []float64 `json:"activations"`
	States      []float64 `json:"states"`
	Olds        []float64 `json:"olds"`

	Connections []FlatConnection `json:"connections"`

	Score float64 `json:"score"`
}

// flatGenomeFormatVersion guards checkpoint compatibility.
const flatGenomeFormatVersion = 1

// Serialize flattens the network to its portable numeric form.
func (n *Network) Serialize() *FlatGenome {
	n.assignGeneIDs()
	g := &FlatGenome{
		FormatVersion: flatGenomeFormatVersion,
		Input:         n.Input,
		Output:        n.Output,
		Score:         n.Score,
	}
	for _, node := range n.Nodes {
		g.Biases = append(g.Biases, node.Bias)
		g.Squashes = append(g.Squashes, node.SquashName)
		g.Activations = append(g.Activations, node.Activation)
		g.States = append(g.States, node.State)
		g.Olds = append(g.Olds, node.Old)
	}
	flatten := func(conn *Connection) {
		fc := FlatConnection{
			From:    conn.From.GeneID,
			To:      conn.To.GeneID,
			Weight:  conn.Weight,
			Gater:   -1,
			Enabled: conn.Enabled,
		}
		if conn.Gater != nil {
			fc.Gater = conn.Gater.GeneID
		}
		g.Connections = append(g.Connections, fc)
	}
	for _, conn := range n.Connections {
		flatten(conn)
	}
	for _, conn := range n.SelfConns {
		flatten(conn)
	}
	return g
}

// Deserialize rebuilds a live Network from its flat form, validating node
// references before any edge is created.
func Deserialize(g *FlatGenome) (*Network, error) {
	if g.FormatVersion != flatGenomeFormatVersion {
		return nil, structuralErrorf("deserialize", "unsupported format version %d", g.FormatVersion)
	}
	total := len(g.Biases)
	if len(g.Squashes) != total || len(g.Activations) != total || len(g.States) != total || len(g.Olds) != total {
		return nil, structuralErrorf("deserialize", "node arrays have mismatched lengths")
	}
	if g.Input <= 0 || g.Output <= 0 || g.Input+g.Output > total {
		return nil, structuralErrorf("deserialize", "invalid sizes: %d inputs, %d outputs, %d nodes", g.Input, g.Output, total)
	}

	n := NewNetwork(g.Input, g.Output)
	// Drop the default wiring; the flat form carries the real topology.
	n.Nodes = n.Nodes[:0]
	n.Connections = n.Connections[:0]
	n.SelfConns = n.SelfConns[:0]
	n.Score = g.Score

	for i := 0; i < total; i++ {
		kind := NodeHidden
		if i < g.Input {
			kind = NodeInput
		} else if i >= total-g.Output {
			kind = NodeOutput
		}
		node := NewNode(kind)
		if kind != NodeInput {
			node.Bias = g.Biases[i]
		}
		if err := node.SetSquash(g.Squashes[i]); err != nil {
			return nil, structuralErrorf("deserialize", "node %d: %v", i, err)
		}
		node.Activation = g.Activations[i]
		node.State = g.States[i]
		node.Old = g.Olds[i]
		n.Nodes = append(n.Nodes, node)
	}
	n.assignGeneIDs()

	for i, fc := range g.Connections {
		if fc.From < 0 || fc.From >= total || fc.To < 0 || fc.To >= total {
			return nil, structuralErrorf("deserialize", "connection %d references node outside the genome", i)
		}
		conn, err := n.Connect(n.Nodes[fc.From], n.Nodes[fc.To], fc.Weight)
		if err != nil {
			return nil, fmt.Errorf("deserialize connection %d: %w", i, err)
		}
		conn.Enabled = fc.Enabled
		if fc.Gater >= 0 {
			if fc.Gater >= total {
				return nil, structuralErrorf("deserialize", "connection %d has gater outside the genome", i)
			}
			if err := n.Gate(n.Nodes[fc.Gater], conn); err != nil {
				return nil, fmt.Errorf("deserialize connection %d: %w", i, err)
			}
		}
	}
	n.markStructureChanged()
	return n, nil
}

// MarshalJSON encodes the network as its flat genome record.
func (n *Network) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Serialize())
}

// UnmarshalJSON replaces the network with the decoded flat genome record.
func (n *Network) UnmarshalJSON(data []byte) error {
	var g FlatGenome
	if err := json.Unmarshal(data, &g); err != nil {
		return err
	}
	decoded, err := Deserialize(&g)
	if err != nil {
		return err
	}
	*n = *decoded
	return nil
}
