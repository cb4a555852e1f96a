package evolve

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Recorder persists per-generation statistics to a SQLite database so long
// runs can be inspected after the fact.
type Recorder struct {
	db *sql.DB
}

const recorderSchema = `
CREATE TABLE IF NOT EXISTS generations (
	generation    INTEGER PRIMARY KEY,
	species_count INTEGER NOT NULL,
	best_score    REAL    NOT NULL,
	mean_score    REAL    NOT NULL,
	mean_nodes    REAL    NOT NULL,
	mean_conns    REAL    NOT NULL,
	cache_hits    INTEGER NOT NULL,
	cache_misses  INTEGER NOT NULL,
	recorded_at   TEXT    NOT NULL DEFAULT (datetime('now'))
);`

// OpenRecorder opens (or creates) the statistics database at the given path.
// Use ":memory:" for an ephemeral recorder.
func OpenRecorder(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open stats database '%s': %w", path, err)
	}
	if _, err := db.Exec(recorderSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create stats schema: %w", err)
	}
	return &Recorder{db: db}, nil
}

// Record inserts one generation row. Re-recording a generation (e.g. after a
// checkpoint restore) overwrites the previous row.
func (r *Recorder) Record(stats GenerationStats) error {
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO generations
			(generation, species_count, best_score, mean_score, mean_nodes, mean_conns, cache_hits, cache_misses)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		stats.Generation, stats.SpeciesCount, stats.BestScore, stats.MeanScore,
		stats.MeanNodes, stats.MeanConns, stats.CacheHits, stats.CacheMisses,
	)
	if err != nil {
		return fmt.Errorf("failed to insert generation row: %w", err)
	}
	return nil
}

// GenerationCount returns the number of recorded generations.
func (r *Recorder) GenerationCount() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM generations`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count generation rows: %w", err)
	}
	return count, nil
}

// History returns all recorded rows in generation order.
func (r *Recorder) History() ([]GenerationStats, error) {
	rows, err := r.db.Query(
		`SELECT generation, species_count, best_score, mean_score, mean_nodes, mean_conns, cache_hits, cache_misses
		 FROM generations ORDER BY generation`)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation rows: %w", err)
	}
	defer rows.Close()

	var history []GenerationStats
	for rows.Next() {
		var s GenerationStats
		if err := rows.Scan(&s.Generation, &s.SpeciesCount, &s.BestScore, &s.MeanScore,
			&s.MeanNodes, &s.MeanConns, &s.CacheHits, &s.CacheMisses); err != nil {
			return nil, fmt.Errorf("failed to scan generation row: %w", err)
		}
		history = append(history, s)
	}
	return history, rows.Err()
}

// Close releases the underlying database handle.
func (r *Recorder) Close() error {
	return r.db.Close()
}
