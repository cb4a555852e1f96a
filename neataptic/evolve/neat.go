package evolve

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/reicek/neataptic-go/neataptic"
)

// FitnessFunc scores a genome. Higher is better.
type FitnessFunc func(n *neataptic.Network) (float64, error)

// Neat runs the evolution loop: evaluate, speciate, cull stagnant species,
// reproduce.
type Neat struct {
	Input  int
	Output int

	Population []*neataptic.Network
	Generation int
	// Best is a clone of the fittest genome seen so far.
	Best      *neataptic.Network
	BestScore float64

	// Recorder, when set, persists per-generation statistics.
	Recorder *Recorder

	opts           *Options
	fitness        FitnessFunc
	species        []*Species
	speciesCounter int
	cache          *neataptic.CompatCache
	mutations      []neataptic.Mutation
	evaluated      bool
}

// NewNeat creates a population of minimal fully connected networks and
// prepares the evolution loop.
func NewNeat(input, output int, fitness FitnessFunc, opts *Options) (*Neat, error) {
	if input <= 0 || output <= 0 {
		return nil, fmt.Errorf("config error: input and output sizes must be positive")
	}
	if fitness == nil {
		return nil, fmt.Errorf("config error: a fitness function is required")
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	n := &Neat{
		Input:     input,
		Output:    output,
		BestScore: math.Inf(-1),
		opts:      opts,
		fitness:   fitness,
		cache:     neataptic.NewCompatCache(),
		mutations: opts.Mutations(),
	}
	n.Population = make([]*neataptic.Network, opts.Population.PopSize)
	for i := range n.Population {
		n.Population[i] = neataptic.NewNetwork(input, output)
	}
	return n, nil
}

// Options exposes the active configuration.
func (n *Neat) Options() *Options { return n.opts }

// Species returns the current species partition, valid after a generation
// has run.
func (n *Neat) Species() []*Species { return n.species }

// Evolve runs a single generation and returns the best genome seen so far.
func (n *Neat) Evolve() (*neataptic.Network, error) {
	if err := n.evaluate(); err != nil {
		return nil, err
	}

	n.cache.Advance(n.Generation)
	n.speciate()
	n.removeStagnant()

	if err := n.reproduce(); err != nil {
		return nil, err
	}

	if n.Recorder != nil {
		if err := n.Recorder.Record(n.generationStats()); err != nil {
			return nil, fmt.Errorf("failed to record generation %d: %w", n.Generation, err)
		}
	}

	n.Generation++
	n.evaluated = false
	return n.Best, nil
}

// Run evolves until the fitness threshold is reached or maxGenerations have
// passed, whichever comes first.
func (n *Neat) Run(maxGenerations int) (*neataptic.Network, error) {
	for i := 0; i < maxGenerations; i++ {
		best, err := n.Evolve()
		if err != nil {
			return nil, err
		}
		if threshold := n.opts.Population.FitnessThreshold; threshold != 0 && best.Score >= threshold {
			return best, nil
		}
	}
	return n.Best, nil
}

// evaluate scores every genome and refreshes the best-so-far clone.
func (n *Neat) evaluate() error {
	if n.evaluated {
		return nil
	}
	for _, genome := range n.Population {
		score, err := n.fitness(genome)
		if err != nil {
			return fmt.Errorf("fitness evaluation failed: %w", err)
		}
		genome.Score = score
		if score > n.BestScore {
			n.BestScore = score
			n.Best = genome.Clone()
			n.Best.Score = score
		}
	}
	n.evaluated = true
	return nil
}

// reproduce builds the next population from the current species partition.
// Elites survive verbatim; the rest are offspring of parents drawn from the
// surviving fraction of each species.
func (n *Neat) reproduce() error {
	popSize := n.opts.Population.PopSize
	next := make([]*neataptic.Network, 0, popSize)

	if len(n.species) == 0 {
		// Every species stagnated out. Reseed around the best genome.
		for len(next) < popSize {
			child := n.Best.Clone()
			child.Clear()
			if err := n.mutate(child); err != nil {
				return err
			}
			next = append(next, child)
		}
		n.Population = next
		return nil
	}

	counts := n.spawnCounts(popSize)
	for i, sp := range n.species {
		spawn := counts[i]
		if spawn == 0 {
			continue
		}

		for e := 0; e < n.opts.Population.Elitism && e < len(sp.Members) && spawn > 0; e++ {
			next = append(next, sp.Members[e])
			spawn--
		}

		survivors := int(math.Ceil(n.opts.Population.SurvivalThreshold * float64(len(sp.Members))))
		if survivors < 1 {
			survivors = 1
		}
		pool := sp.Members[:survivors]

		for ; spawn > 0; spawn-- {
			child, err := n.breed(pool)
			if err != nil {
				return err
			}
			next = append(next, child)
		}
	}

	// Species bookkeeping can leave the count one short when elitism exceeds
	// a tiny species; pad with mutated clones of the global best.
	for len(next) < popSize {
		child := n.Best.Clone()
		child.Clear()
		if err := n.mutate(child); err != nil {
			return err
		}
		next = append(next, child)
	}
	n.Population = next[:popSize]
	return nil
}

// breed produces one offspring from the survivor pool of a species.
func (n *Neat) breed(pool []*neataptic.Network) (*neataptic.Network, error) {
	mother := n.selectParent(pool)
	father := n.selectParent(pool)

	var child *neataptic.Network
	if mother == father {
		child = mother.Clone()
		child.Clear()
	} else {
		a, b := mother, father
		if b.Score > a.Score {
			a, b = b, a
		}
		var err error
		child, err = neataptic.CrossOver(a, b, n.opts.Population.EqualFitness)
		if err != nil {
			return nil, err
		}
	}

	if err := n.mutate(child); err != nil {
		return nil, err
	}
	return child, nil
}

// mutate applies the configured operator schedule to a genome. Structural
// operators may refuse on a given topology; those refusals are swallowed and
// another operator gets its chance next time.
func (n *Neat) mutate(genome *neataptic.Network) error {
	if rand.Float64() >= n.opts.Mutation.MutationRate {
		return nil
	}
	for i := 0; i < n.opts.Mutation.MutationAmount; i++ {
		m := n.mutations[rand.Intn(len(n.mutations))]
		if err := genome.Mutate(m); err != nil {
			var structural *neataptic.StructuralError
			if errors.As(err, &structural) {
				continue
			}
			return err
		}
	}
	return nil
}

// GenerationStats is one row of evolution telemetry.
type GenerationStats struct {
	Generation   int
	SpeciesCount int
	BestScore    float64
	MeanScore    float64
	MeanNodes    float64
	MeanConns    float64
	CacheHits    int
	CacheMisses  int
}

func (n *Neat) generationStats() GenerationStats {
	stats := GenerationStats{
		Generation:   n.Generation,
		SpeciesCount: len(n.species),
		BestScore:    n.BestScore,
		CacheHits:    n.cache.Hits,
		CacheMisses:  n.cache.Misses,
	}
	var scoreSum, nodeSum, connSum float64
	for _, g := range n.Population {
		scoreSum += g.Score
		nodeSum += float64(len(g.Nodes))
		connSum += float64(len(g.Connections) + len(g.SelfConns))
	}
	count := float64(len(n.Population))
	stats.MeanScore = scoreSum / count
	stats.MeanNodes = nodeSum / count
	stats.MeanConns = connSum / count
	return stats
}
