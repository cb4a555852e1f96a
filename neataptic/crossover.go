package neataptic

import (
	"math/rand"
	"sort"
	"sync/atomic"
)

// connGene is a connection flattened to gene form for crossover: endpoint
// gene ids, gater gene id (-1 when ungated), weight and enabled flag.
type connGene struct {
	from    int
	to      int
	gater   int
	weight  float64
	enabled bool
}

// connGeneMap collects a parent's connections (self loops included) keyed by
// innovation number.
func connGeneMap(n *Network) map[int64]connGene {
	n.assignGeneIDs()
	genes := make(map[int64]connGene, len(n.Connections)+len(n.SelfConns))
	collect := func(conn *Connection) {
		g := connGene{
			from:    conn.From.GeneID,
			to:      conn.To.GeneID,
			gater:   -1,
			weight:  conn.Weight,
			enabled: conn.Enabled,
		}
		if conn.Gater != nil {
			g.gater = conn.Gater.GeneID
		}
		genes[conn.InnovationID()] = g
	}
	for _, conn := range n.Connections {
		collect(conn)
	}
	for _, conn := range n.SelfConns {
		collect(conn)
	}
	return genes
}

// CrossOver recombines two parents with equal input/output sizes into an
// offspring network. Matching genes (same innovation number) come from a
// uniformly random parent; disjoint and excess genes come from the fitter
// parent, unless equal is set or the scores tie, in which case each is
// inherited with 50% probability. The offspring's node count always lies
// between the parents' minimum and maximum.
func CrossOver(a, b *Network, equal bool) (*Network, error) {
	if a.Input != b.Input || a.Output != b.Output {
		return nil, structuralErrorf("crossover",
			"parents have mismatched sizes: %dx%d vs %dx%d", a.Input, a.Output, b.Input, b.Output)
	}

	scoreTied := a.Score == b.Score
	equal = equal || scoreTied

	// Pick the offspring size.
	var size int
	switch {
	case equal:
		lo, hi := len(a.Nodes), len(b.Nodes)
		if lo > hi {
			lo, hi = hi, lo
		}
		size = lo + rand.Intn(hi-lo+1)
	case a.Score > b.Score:
		size = len(a.Nodes)
	default:
		size = len(b.Nodes)
	}

	offspring := &Network{
		ID:     atomic.AddInt64(&networkIDCounter, 1),
		Input:  a.Input,
		Output: a.Output,
		slab:   &slabState{},
	}

	// Inherit node genes by position. Inputs align trivially; the output
	// block aligns from the tail; hidden nodes come from whichever parent
	// has one at that position.
	for i := 0; i < size; i++ {
		var source *Node
		if i >= size-offspring.Output {
			// Output block, counted from each parent's tail.
			if rand.Intn(2) == 0 {
				source = a.Nodes[len(a.Nodes)+i-size]
			} else {
				source = b.Nodes[len(b.Nodes)+i-size]
			}
		} else {
			var first, second *Network
			if rand.Intn(2) == 0 {
				first, second = a, b
			} else {
				first, second = b, a
			}
			if i < len(first.Nodes) && first.Nodes[i].Kind != NodeOutput {
				source = first.Nodes[i]
			} else {
				source = second.Nodes[i]
			}
		}

		node := NewNode(NodeHidden)
		if i < offspring.Input {
			node.Kind = NodeInput
			node.Bias = 0
		} else if i >= size-offspring.Output {
			node.Kind = NodeOutput
		}
		if node.Kind != NodeInput {
			node.Bias = source.Bias
		}
		node.SquashName = source.SquashName
		node.squash = source.squash
		offspring.Nodes = append(offspring.Nodes, node)
	}
	offspring.assignGeneIDs()

	// Inherit connection genes keyed by innovation number.
	genesA := connGeneMap(a)
	genesB := connGeneMap(b)
	aFitter := a.Score > b.Score

	chosen := map[int64]connGene{}
	innovations := make([]int64, 0, len(genesA)+len(genesB))
	for innov := range genesA {
		innovations = append(innovations, innov)
	}
	for innov := range genesB {
		if _, dup := genesA[innov]; !dup {
			innovations = append(innovations, innov)
		}
	}
	sort.Slice(innovations, func(i, j int) bool { return innovations[i] < innovations[j] })

	for _, innov := range innovations {
		ga, inA := genesA[innov]
		gb, inB := genesB[innov]
		switch {
		case inA && inB:
			// Matching gene: uniformly random parent.
			if rand.Intn(2) == 0 {
				chosen[innov] = ga
			} else {
				chosen[innov] = gb
			}
		case inA:
			if (equal && rand.Intn(2) == 0) || (!equal && aFitter) {
				chosen[innov] = ga
			}
		case inB:
			if (equal && rand.Intn(2) == 0) || (!equal && !aFitter) {
				chosen[innov] = gb
			}
		}
	}

	// Express the chosen genes whose endpoints survived the size cut.
	for _, innov := range innovations {
		gene, ok := chosen[innov]
		if !ok || gene.from >= size || gene.to >= size {
			continue
		}
		from := offspring.Nodes[gene.from]
		to := offspring.Nodes[gene.to]
		if to.isProjectedBy(from) {
			continue
		}
		conn := offspring.mustConnect(from, to, gene.weight)
		conn.Enabled = gene.enabled
		if gene.gater >= 0 && gene.gater < size {
			offspring.Gate(offspring.Nodes[gene.gater], conn)
		}
	}

	offspring.markStructureChanged()
	return offspring, nil
}
