package evolve

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/reicek/neataptic-go/neataptic"
)

// checkpointVersion guards against loading incompatible snapshots.
const checkpointVersion = 1

// checkpointData is the gob envelope written to disk. Live networks are
// cyclic object graphs with unexported state, so genomes are stored as flat
// records and rebuilt on load.
type checkpointData struct {
	Version    int
	Generation int
	Input      int
	Output     int
	BestScore  float64
	Best       *neataptic.FlatGenome
	Population []*neataptic.FlatGenome
}

// SaveCheckpoint writes the population, generation counter and best genome
// to a gzip-compressed gob file. Species assignments are not saved; the next
// generation respeciates from scratch.
func (n *Neat) SaveCheckpoint(filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file '%s': %w", filePath, err)
	}
	defer file.Close()

	gzWriter := gzip.NewWriter(file)
	defer gzWriter.Close()

	data := checkpointData{
		Version:    checkpointVersion,
		Generation: n.Generation,
		Input:      n.Input,
		Output:     n.Output,
		BestScore:  n.BestScore,
		Population: make([]*neataptic.FlatGenome, len(n.Population)),
	}
	if n.Best != nil {
		data.Best = n.Best.Serialize()
	}
	for i, genome := range n.Population {
		data.Population[i] = genome.Serialize()
	}

	encoder := gob.NewEncoder(gzWriter)
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode checkpoint data: %w", err)
	}
	if err := gzWriter.Close(); err != nil {
		return fmt.Errorf("failed to flush checkpoint data: %w", err)
	}
	return nil
}

// LoadCheckpoint restores an evolution run from a file written by
// SaveCheckpoint. The fitness function and options are not serialized and
// must be supplied again.
func LoadCheckpoint(filePath string, fitness FitnessFunc, opts *Options) (*Neat, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file '%s': %w", filePath, err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader for checkpoint: %w", err)
	}
	defer gzReader.Close()

	data := checkpointData{}
	decoder := gob.NewDecoder(gzReader)
	if err := decoder.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint data: %w", err)
	}
	if data.Version != checkpointVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d (expected %d)", data.Version, checkpointVersion)
	}
	if len(data.Population) == 0 {
		return nil, fmt.Errorf("checkpoint '%s' holds an empty population", filePath)
	}

	n, err := NewNeat(data.Input, data.Output, fitness, opts)
	if err != nil {
		return nil, err
	}
	n.Generation = data.Generation
	n.BestScore = data.BestScore

	n.Population = n.Population[:0]
	for i, flat := range data.Population {
		genome, err := neataptic.Deserialize(flat)
		if err != nil {
			return nil, fmt.Errorf("failed to rebuild genome %d: %w", i, err)
		}
		n.Population = append(n.Population, genome)
	}
	if data.Best != nil {
		best, err := neataptic.Deserialize(data.Best)
		if err != nil {
			return nil, fmt.Errorf("failed to rebuild best genome: %w", err)
		}
		n.Best = best
	}
	return n, nil
}
