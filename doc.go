// Package neataptic provides a neuro-evolution engine built around mutable,
// potentially cyclic neural network graphs.
//
// Networks are directed graphs of nodes and weighted connections that can be
// activated, trained with gradient descent, mutated, and recombined. The same
// genome object serves as both genotype and phenotype: structural mutation
// operators rewrite the graph in place, and activation runs directly over it
// with recurrent connections reading one-step-delayed state.
//
// This implementation follows the Neataptic architecture (and its TypeScript
// successor) together with the original NEAT paper by Kenneth O. Stanley and
// Risto Miikkulainen.
//
// The root module is split into three packages:
//
//   - neataptic: core graphs, activation, backpropagation, mutation,
//     crossover, and training.
//   - neataptic/codec: a portable JSON interchange format for strictly
//     layered networks.
//   - neataptic/evolve: population management, speciation, and evolution
//     loops driven by an INI configuration file.
//
// Basic usage:
//
//	// Build a 2-input, 1-output perceptron with one hidden layer of 4.
//	net, err := neataptic.NewPerceptron(2, 4, 1)
//	if err != nil {
//		log.Fatalf("build failed: %v", err)
//	}
//
//	// Train it with backpropagation.
//	result, err := net.Train(dataset, &neataptic.TrainOptions{
//		Rate:       0.3,
//		Iterations: 1000,
//		Error:      0.01,
//	})
//	if err != nil {
//		log.Fatalf("training failed: %v", err)
//	}
//	fmt.Printf("reached error %.4f after %d iterations\n", result.Error, result.Iterations)
//
//	// Or evolve a topology from scratch.
//	opts, err := evolve.LoadOptions("path/to/config.ini")
//	if err != nil {
//		log.Fatalf("config: %v", err)
//	}
//	pop, err := evolve.NewNeat(2, 1, fitness, opts)
//	if err != nil {
//		log.Fatalf("population: %v", err)
//	}
//	for i := 0; i < 100; i++ {
//		if _, err := pop.Evolve(); err != nil {
//			log.Fatalf("generation %d: %v", i, err)
//		}
//	}
package neataptic
