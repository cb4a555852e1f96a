package evolve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRoundTrip(t *testing.T) {
	neat, err := NewNeat(2, 1, sizeFitness, smallOptions())
	require.NoError(t, err)
	_, err = neat.Run(3)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "run.ckpt")
	require.NoError(t, neat.SaveCheckpoint(path))

	restored, err := LoadCheckpoint(path, sizeFitness, smallOptions())
	require.NoError(t, err)

	assert.Equal(t, neat.Generation, restored.Generation)
	assert.Equal(t, neat.BestScore, restored.BestScore)
	require.Len(t, restored.Population, len(neat.Population))
	require.NotNil(t, restored.Best)

	out, err := restored.Best.NoTraceActivate([]float64{0.5, -0.5})
	require.NoError(t, err)
	require.Len(t, out, 1)

	// The restored run keeps evolving.
	_, err = restored.Evolve()
	require.NoError(t, err)
	assert.Equal(t, neat.Generation+1, restored.Generation)
}

func TestCheckpointPreservesScores(t *testing.T) {
	neat, err := NewNeat(2, 1, sizeFitness, smallOptions())
	require.NoError(t, err)
	require.NoError(t, neat.evaluate())

	path := filepath.Join(t.TempDir(), "scored.ckpt")
	require.NoError(t, neat.SaveCheckpoint(path))

	restored, err := LoadCheckpoint(path, sizeFitness, smallOptions())
	require.NoError(t, err)
	for i, genome := range restored.Population {
		assert.Equal(t, neat.Population[i].Score, genome.Score)
	}
}

func TestLoadCheckpointRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadCheckpoint(filepath.Join(dir, "missing.ckpt"), sizeFitness, nil)
	require.Error(t, err)

	garbage := filepath.Join(dir, "garbage.ckpt")
	require.NoError(t, os.WriteFile(garbage, []byte("not a gzip stream"), 0o644))
	_, err = LoadCheckpoint(garbage, sizeFitness, nil)
	require.Error(t, err)
}
