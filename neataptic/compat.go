package neataptic

import "sort"

// geneRecord is one entry of a network's sorted innovation list.
type geneRecord struct {
	Innovation int64
	Weight     float64
}

// geneList returns the network's connections as a sorted [innovation, weight]
// list, memoized until the next structural change. Disabled genes are
// included; NEAT distance compares genomes, not phenotypes.
func (n *Network) geneList() []geneRecord {
	if n.genesValid {
		return n.genes
	}
	n.assignGeneIDs()
	n.genes = n.genes[:0]
	for _, conn := range n.Connections {
		n.genes = append(n.genes, geneRecord{Innovation: conn.InnovationID(), Weight: conn.Weight})
	}
	for _, conn := range n.SelfConns {
		n.genes = append(n.genes, geneRecord{Innovation: conn.InnovationID(), Weight: conn.Weight})
	}
	sort.Slice(n.genes, func(i, j int) bool { return n.genes[i].Innovation < n.genes[j].Innovation })
	n.genesValid = true
	return n.genes
}

// CompatCoefficients weight the three terms of the compatibility distance.
type CompatCoefficients struct {
	Excess   float64
	Disjoint float64
	Weight   float64
}

// DefaultCompatCoefficients are the classic NEAT paper settings.
var DefaultCompatCoefficients = CompatCoefficients{Excess: 1, Disjoint: 1, Weight: 0.4}

// CompatCache memoizes compatibility distances per unordered genome-id pair
// for one generation. It is explicit state owned by the evolution context and
// passed into Compatibility, not an ambient global; it has no internal
// locking and must stay confined to one worker.
type CompatCache struct {
	generation int
	distances  map[[2]int64]float64
	Hits       int
	Misses     int
}

// NewCompatCache creates an empty cache for generation 0.
func NewCompatCache() *CompatCache {
	return &CompatCache{distances: make(map[[2]int64]float64)}
}

// Advance moves the cache to a new generation, invalidating every stored
// distance when the counter actually changes.
func (c *CompatCache) Advance(generation int) {
	if generation == c.generation {
		return
	}
	c.generation = generation
	c.distances = make(map[[2]int64]float64)
}

// Len returns the number of cached pair distances.
func (c *CompatCache) Len() int { return len(c.distances) }

func (c *CompatCache) key(a, b *Network) [2]int64 {
	if a.ID <= b.ID {
		return [2]int64{a.ID, b.ID}
	}
	return [2]int64{b.ID, a.ID}
}

// Compatibility computes the NEAT gene-distance between two genomes:
//
//	(c1*excess + c2*disjoint)/N + c3*avgWeightDiff,  N = max(1, max(genes))
//
// The two sorted gene lists are merged in one O(n) pass. A non-nil cache
// memoizes the result per unordered genome pair for the current generation.
func Compatibility(a, b *Network, coeffs CompatCoefficients, cache *CompatCache) float64 {
	if cache != nil {
		if d, ok := cache.distances[cache.key(a, b)]; ok {
			cache.Hits++
			return d
		}
		cache.Misses++
	}

	genesA, genesB := a.geneList(), b.geneList()
	matched, disjoint, excess := 0, 0, 0
	weightDiff := 0.0

	i, j := 0, 0
	for i < len(genesA) && j < len(genesB) {
		ga, gb := genesA[i], genesB[j]
		switch {
		case ga.Innovation == gb.Innovation:
			matched++
			diff := ga.Weight - gb.Weight
			if diff < 0 {
				diff = -diff
			}
			weightDiff += diff
			i++
			j++
		case ga.Innovation < gb.Innovation:
			disjoint++
			i++
		default:
			disjoint++
			j++
		}
	}
	// Whatever remains on either side lies beyond the other genome's last
	// innovation: excess genes.
	excess += len(genesA) - i
	excess += len(genesB) - j

	n := float64(len(genesA))
	if float64(len(genesB)) > n {
		n = float64(len(genesB))
	}
	if n < 1 {
		n = 1
	}

	distance := (coeffs.Excess*float64(excess) + coeffs.Disjoint*float64(disjoint)) / n
	if matched > 0 {
		distance += coeffs.Weight * weightDiff / float64(matched)
	}

	if cache != nil {
		cache.distances[cache.key(a, b)] = distance
	}
	return distance
}
