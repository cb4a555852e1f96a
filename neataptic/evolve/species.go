package evolve

import (
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/reicek/neataptic-go/neataptic"
)

// Species groups genomes that fall within the compatibility threshold of a
// shared representative.
type Species struct {
	ID             int
	Created        int
	LastImproved   int
	Representative *neataptic.Network
	Members        []*neataptic.Network
	// Fitness is the aggregate member fitness for the current generation,
	// computed by the configured species fitness function.
	Fitness     float64
	BestFitness float64
}

// sortMembers orders members from fittest to least fit.
func (s *Species) sortMembers() {
	sort.SliceStable(s.Members, func(i, j int) bool {
		return s.Members[i].Score > s.Members[j].Score
	})
}

// updateFitness recomputes the aggregate species fitness and the stagnation
// bookkeeping for the given generation.
func (s *Species) updateFitness(funcName string, generation int) {
	scores := make([]float64, len(s.Members))
	for i, m := range s.Members {
		scores[i] = m.Score
	}
	switch strings.ToLower(funcName) {
	case "max":
		s.Fitness = maxOf(scores)
	case "min":
		s.Fitness = minOf(scores)
	case "median":
		s.Fitness = neataptic.Median(scores)
	default:
		s.Fitness = neataptic.Mean(scores)
	}
	if s.Fitness > s.BestFitness {
		s.BestFitness = s.Fitness
		s.LastImproved = generation
	}
}

func maxOf(values []float64) float64 {
	best := values[0]
	for _, v := range values[1:] {
		if v > best {
			best = v
		}
	}
	return best
}

func minOf(values []float64) float64 {
	best := values[0]
	for _, v := range values[1:] {
		if v < best {
			best = v
		}
	}
	return best
}

// speciate reclusters the population around the previous generation's
// representatives. Each existing species first claims the unassigned genome
// closest to its old representative; remaining genomes join the first species
// within the compatibility threshold or found a new one.
func (n *Neat) speciate() {
	coeffs := n.opts.coefficients()
	threshold := n.opts.Speciation.CompatThreshold

	unassigned := make(map[*neataptic.Network]bool, len(n.Population))
	for _, genome := range n.Population {
		unassigned[genome] = true
	}

	var survivors []*Species
	for _, sp := range n.species {
		var closest *neataptic.Network
		closestDist := 0.0
		for genome := range unassigned {
			d := neataptic.Compatibility(sp.Representative, genome, coeffs, n.cache)
			if closest == nil || d < closestDist {
				closest, closestDist = genome, d
			}
		}
		if closest == nil || closestDist > threshold {
			continue
		}
		sp.Representative = closest
		sp.Members = []*neataptic.Network{closest}
		delete(unassigned, closest)
		survivors = append(survivors, sp)
	}
	n.species = survivors

	// Iterate in a deterministic order; map iteration would shuffle species
	// membership from run to run.
	remaining := make([]*neataptic.Network, 0, len(unassigned))
	for _, genome := range n.Population {
		if unassigned[genome] {
			remaining = append(remaining, genome)
		}
	}
	for _, genome := range remaining {
		placed := false
		for _, sp := range n.species {
			if neataptic.Compatibility(sp.Representative, genome, coeffs, n.cache) <= threshold {
				sp.Members = append(sp.Members, genome)
				placed = true
				break
			}
		}
		if !placed {
			n.speciesCounter++
			n.species = append(n.species, &Species{
				ID:             n.speciesCounter,
				Created:        n.Generation,
				LastImproved:   n.Generation,
				Representative: genome,
				Members:        []*neataptic.Network{genome},
				BestFitness:    math.Inf(-1),
			})
		}
	}

	for _, sp := range n.species {
		sp.sortMembers()
		sp.updateFitness(n.opts.Speciation.SpeciesFitnessFunc, n.Generation)
	}
}

// removeStagnant drops species that have not improved for max_stagnation
// generations, always sparing the species_elitism fittest ones.
func (n *Neat) removeStagnant() {
	if len(n.species) == 0 {
		return
	}
	sort.SliceStable(n.species, func(i, j int) bool {
		return n.species[i].Fitness > n.species[j].Fitness
	})
	var kept []*Species
	for i, sp := range n.species {
		stagnant := n.Generation-sp.LastImproved >= n.opts.Speciation.MaxStagnation
		if i < n.opts.Speciation.SpeciesElitism || !stagnant {
			kept = append(kept, sp)
		}
	}
	n.species = kept
}

// spawnCounts apportions the next generation's offspring across species in
// proportion to species fitness, respecting min_species_size and topping the
// total up (or trimming it down) to exactly popSize.
func (n *Neat) spawnCounts(popSize int) []int {
	counts := make([]int, len(n.species))
	if len(n.species) == 0 {
		return counts
	}

	minFitness := n.species[0].Fitness
	for _, sp := range n.species[1:] {
		if sp.Fitness < minFitness {
			minFitness = sp.Fitness
		}
	}
	total := 0.0
	adjusted := make([]float64, len(n.species))
	for i, sp := range n.species {
		adjusted[i] = sp.Fitness - minFitness + 1
		total += adjusted[i]
	}

	assigned := 0
	for i := range n.species {
		counts[i] = int(adjusted[i] / total * float64(popSize))
		if counts[i] < n.opts.Population.MinSpeciesSize {
			counts[i] = n.opts.Population.MinSpeciesSize
		}
		assigned += counts[i]
	}
	// Round-off correction: bleed from or feed the largest species first.
	for assigned != popSize {
		idx := 0
		for i := range counts {
			if counts[i] > counts[idx] {
				idx = i
			}
		}
		if assigned > popSize {
			if counts[idx] <= n.opts.Population.MinSpeciesSize {
				idx = rand.Intn(len(counts))
			}
			counts[idx]--
			assigned--
		} else {
			counts[idx]++
			assigned++
		}
	}
	return counts
}
