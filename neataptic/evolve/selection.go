package evolve

import (
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/reicek/neataptic-go/neataptic"
)

// selectParent picks a parent from a fitness-sorted (descending) candidate
// pool using the configured selection method.
func (n *Neat) selectParent(sorted []*neataptic.Network) *neataptic.Network {
	if len(sorted) == 1 {
		return sorted[0]
	}
	switch strings.ToLower(n.opts.Population.Selection) {
	case "proportionate":
		return selectProportionate(sorted)
	case "tournament":
		return selectTournament(sorted, n.opts.Population.TournamentSize, n.opts.Population.TournamentProbability)
	default:
		return selectPower(sorted, n.opts.Population.Power)
	}
}

// selectPower maps a uniform draw through x^power, biasing the index toward
// the front of the sorted pool.
func selectPower(sorted []*neataptic.Network, power float64) *neataptic.Network {
	idx := int(math.Pow(rand.Float64(), power) * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// selectProportionate runs a roulette wheel over the scores, shifted so the
// worst candidate still has nonzero probability.
func selectProportionate(sorted []*neataptic.Network) *neataptic.Network {
	minScore := sorted[len(sorted)-1].Score
	shift := 0.0
	if minScore < 0 {
		shift = -minScore
	}
	total := 0.0
	for _, g := range sorted {
		total += g.Score + shift + 1
	}
	pick := rand.Float64() * total
	acc := 0.0
	for _, g := range sorted {
		acc += g.Score + shift + 1
		if pick <= acc {
			return g
		}
	}
	return sorted[len(sorted)-1]
}

// selectTournament draws size random candidates and walks them best-first,
// returning each with probability p.
func selectTournament(sorted []*neataptic.Network, size int, probability float64) *neataptic.Network {
	if size > len(sorted) {
		size = len(sorted)
	}
	entrants := make([]*neataptic.Network, size)
	for i := range entrants {
		entrants[i] = sorted[rand.Intn(len(sorted))]
	}
	sort.SliceStable(entrants, func(i, j int) bool {
		return entrants[i].Score > entrants[j].Score
	})
	for _, g := range entrants {
		if rand.Float64() < probability {
			return g
		}
	}
	return entrants[len(entrants)-1]
}
