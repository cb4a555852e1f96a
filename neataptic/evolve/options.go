// Package evolve manages populations of neataptic networks: speciation by
// compatibility distance, stagnation tracking, selection and reproduction,
// with an INI configuration surface and gzip+gob checkpoints.
package evolve

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/reicek/neataptic-go/neataptic"
)

// Options stores the configuration parameters for the evolution loop.
type Options struct {
	Population PopulationOptions
	Mutation   MutationOptions
	Speciation SpeciationOptions
}

// PopulationOptions holds parameters of the population and selection.
type PopulationOptions struct {
	PopSize           int     `ini:"pop_size"`
	Elitism           int     `ini:"elitism"`
	SurvivalThreshold float64 `ini:"survival_threshold"`
	MinSpeciesSize    int     `ini:"min_species_size"`
	FitnessThreshold  float64 `ini:"fitness_threshold"`
	// EqualFitness makes crossover treat the parents as equally fit,
	// inheriting disjoint and excess genes from both.
	EqualFitness bool   `ini:"equal_fitness"`
	Selection    string `ini:"selection"` // power | proportionate | tournament
	// Power steepens the bias toward fitter parents for power selection.
	Power                 float64 `ini:"power"`
	TournamentSize        int     `ini:"tournament_size"`
	TournamentProbability float64 `ini:"tournament_probability"`
}

// MutationOptions holds the mutation operator configuration.
type MutationOptions struct {
	// MutationRate is the chance an offspring is mutated at all;
	// MutationAmount is how many operators are applied when it is.
	MutationRate   float64 `ini:"mutation_rate"`
	MutationAmount int     `ini:"mutation_amount"`
	// AllowedMutations lists operator names (ADD_NODE, MOD_WEIGHT, ...);
	// empty means the full closed set.
	AllowedMutations []string `ini:"allowed_mutations" delim:" "`
	WeightPerturbMin float64  `ini:"weight_perturb_min"`
	WeightPerturbMax float64  `ini:"weight_perturb_max"`
	BiasPerturbMin   float64  `ini:"bias_perturb_min"`
	BiasPerturbMax   float64  `ini:"bias_perturb_max"`
}

// SpeciationOptions holds compatibility-distance and stagnation parameters.
type SpeciationOptions struct {
	CompatThreshold    float64 `ini:"compatibility_threshold"`
	ExcessCoefficient  float64 `ini:"excess_coefficient"`
	DisjointCoeff      float64 `ini:"disjoint_coefficient"`
	WeightCoefficient  float64 `ini:"weight_coefficient"`
	MaxStagnation      int     `ini:"max_stagnation"`
	SpeciesElitism     int     `ini:"species_elitism"`
	SpeciesFitnessFunc string  `ini:"species_fitness_func"` // mean | max | min | median
}

// DefaultOptions returns a ready-to-run configuration.
func DefaultOptions() *Options {
	return &Options{
		Population: PopulationOptions{
			PopSize:               100,
			Elitism:               2,
			SurvivalThreshold:     0.2,
			MinSpeciesSize:        2,
			Selection:             "power",
			Power:                 4,
			TournamentSize:        5,
			TournamentProbability: 0.5,
		},
		Mutation: MutationOptions{
			MutationRate:     0.4,
			MutationAmount:   1,
			WeightPerturbMin: -1,
			WeightPerturbMax: 1,
			BiasPerturbMin:   -1,
			BiasPerturbMax:   1,
		},
		Speciation: SpeciationOptions{
			CompatThreshold:    3.0,
			ExcessCoefficient:  1,
			DisjointCoeff:      1,
			WeightCoefficient:  0.4,
			MaxStagnation:      15,
			SpeciesElitism:     2,
			SpeciesFitnessFunc: "mean",
		},
	}
}

// LoadOptions loads evolution options from an INI file, applies defaults for
// unset keys, and validates the result.
func LoadOptions(filePath string) (*Options, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:         true,
		UnescapeValueCommentSymbols: true,
	}, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file '%s': %w", filePath, err)
	}

	opts := DefaultOptions()
	if err := cfg.Section("Population").MapTo(&opts.Population); err != nil {
		return nil, fmt.Errorf("failed to map [Population] section: %w", err)
	}
	if err := cfg.Section("Mutation").MapTo(&opts.Mutation); err != nil {
		return nil, fmt.Errorf("failed to map [Mutation] section: %w", err)
	}
	if err := cfg.Section("Speciation").MapTo(&opts.Speciation); err != nil {
		return nil, fmt.Errorf("failed to map [Speciation] section: %w", err)
	}

	opts.Population.Selection = cleanIniString(opts.Population.Selection)
	opts.Speciation.SpeciesFitnessFunc = cleanIniString(opts.Speciation.SpeciesFitnessFunc)
	for i, name := range opts.Mutation.AllowedMutations {
		opts.Mutation.AllowedMutations[i] = strings.TrimSpace(name)
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// Validate checks every option combination before the first generation runs.
func (o *Options) Validate() error {
	if o.Population.PopSize <= 1 {
		return fmt.Errorf("config error: pop_size must be greater than 1")
	}
	if o.Population.Elitism < 0 || o.Population.Elitism > o.Population.PopSize {
		return fmt.Errorf("config error: elitism must lie in [0, pop_size]")
	}
	if o.Population.SurvivalThreshold <= 0 || o.Population.SurvivalThreshold > 1 {
		return fmt.Errorf("config error: survival_threshold must be in (0, 1]")
	}
	if o.Population.MinSpeciesSize <= 0 {
		return fmt.Errorf("config error: min_species_size must be positive")
	}
	validSelection := map[string]bool{"power": true, "proportionate": true, "tournament": true}
	if !validSelection[strings.ToLower(o.Population.Selection)] {
		return fmt.Errorf("config error: invalid selection '%s', must be one of 'power', 'proportionate', 'tournament'", o.Population.Selection)
	}
	if o.Population.Selection == "tournament" {
		if o.Population.TournamentSize < 2 {
			return fmt.Errorf("config error: tournament_size must be at least 2")
		}
		if o.Population.TournamentProbability <= 0 || o.Population.TournamentProbability > 1 {
			return fmt.Errorf("config error: tournament_probability must be in (0, 1]")
		}
	}
	if o.Population.Selection == "power" && o.Population.Power < 1 {
		return fmt.Errorf("config error: power must be at least 1")
	}

	if o.Mutation.MutationRate < 0 || o.Mutation.MutationRate > 1 {
		return fmt.Errorf("config error: mutation_rate must be between 0 and 1")
	}
	if o.Mutation.MutationAmount <= 0 {
		return fmt.Errorf("config error: mutation_amount must be positive")
	}
	for _, name := range o.Mutation.AllowedMutations {
		if _, ok := neataptic.MutationKindByName(name); !ok {
			return fmt.Errorf("config error: unknown mutation operator '%s'", name)
		}
	}
	if o.Mutation.WeightPerturbMax < o.Mutation.WeightPerturbMin {
		return fmt.Errorf("config error: weight_perturb_max cannot be less than weight_perturb_min")
	}
	if o.Mutation.BiasPerturbMax < o.Mutation.BiasPerturbMin {
		return fmt.Errorf("config error: bias_perturb_max cannot be less than bias_perturb_min")
	}

	if o.Speciation.CompatThreshold <= 0 {
		return fmt.Errorf("config error: compatibility_threshold must be positive")
	}
	if o.Speciation.ExcessCoefficient < 0 || o.Speciation.DisjointCoeff < 0 || o.Speciation.WeightCoefficient < 0 {
		return fmt.Errorf("config error: compatibility coefficients cannot be negative")
	}
	if o.Speciation.MaxStagnation <= 0 {
		return fmt.Errorf("config error: max_stagnation must be positive")
	}
	if o.Speciation.SpeciesElitism < 0 {
		return fmt.Errorf("config error: species_elitism cannot be negative")
	}
	validFuncs := map[string]bool{"mean": true, "max": true, "min": true, "median": true}
	if !validFuncs[strings.ToLower(o.Speciation.SpeciesFitnessFunc)] {
		return fmt.Errorf("config error: invalid species_fitness_func '%s'", o.Speciation.SpeciesFitnessFunc)
	}
	return nil
}

// Mutations builds the operator set from the allowed-operator names, bound
// to the configured perturbation ranges.
func (o *Options) Mutations() []neataptic.Mutation {
	names := o.Mutation.AllowedMutations
	var mutations []neataptic.Mutation
	if len(names) == 0 {
		mutations = append(mutations, neataptic.AllMutations...)
	} else {
		for _, name := range names {
			kind, _ := neataptic.MutationKindByName(name)
			for _, m := range neataptic.AllMutations {
				if m.Kind == kind {
					mutations = append(mutations, m)
					break
				}
			}
		}
	}
	for i := range mutations {
		switch mutations[i].Kind {
		case neataptic.MutModWeight:
			mutations[i].Min = o.Mutation.WeightPerturbMin
			mutations[i].Max = o.Mutation.WeightPerturbMax
		case neataptic.MutModBias:
			mutations[i].Min = o.Mutation.BiasPerturbMin
			mutations[i].Max = o.Mutation.BiasPerturbMax
		}
	}
	return mutations
}

// coefficients folds the speciation options into the core's coefficient
// struct.
func (o *Options) coefficients() neataptic.CompatCoefficients {
	return neataptic.CompatCoefficients{
		Excess:   o.Speciation.ExcessCoefficient,
		Disjoint: o.Speciation.DisjointCoeff,
		Weight:   o.Speciation.WeightCoefficient,
	}
}

// cleanIniString removes inline comments and trims whitespace from a string
// read from INI.
func cleanIniString(s string) string {
	if idx := strings.IndexAny(s, "#;"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
