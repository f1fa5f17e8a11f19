package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/matt-peters/bert/bert/features"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"
)

// FeatureStore persists feature tensors keyed by example id: a sentence's
// tensor at its unique id, a pair's two tensors at 2*id and 2*id+1. Each
// run is stamped with its own id so outputs of repeated extractions stay
// distinguishable.
type FeatureStore struct {
	db    *sql.DB
	runID uuid.UUID
}

// Open opens or creates the feature database at path. Use the DSN
// "file::memory:?cache=shared" for an in-memory store.
func Open(path string) (*FeatureStore, error) {
	dsn := path
	if dsn == "" {
		return nil, fmt.Errorf("feature store path is required")
	}
	db, err := sql.Open("libsql", "file:"+dsn)
	if err != nil {
		return nil, fmt.Errorf("open feature store: %w", err)
	}
	s := &FeatureStore{db: db, runID: uuid.New()}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("Feature store opened", "path", path, "run_id", s.runID.String())
	return s, nil
}

// init sets up the store tables.
func (s *FeatureStore) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY UNIQUE,
		started_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	_, err = s.db.Exec(`CREATE TABLE IF NOT EXISTS feature_tensors (
		run_id TEXT NOT NULL,
		key INTEGER NOT NULL,
		layers INTEGER NOT NULL,
		words INTEGER NOT NULL,
		width INTEGER NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (run_id, key)
	)`)
	if err != nil {
		return fmt.Errorf("failed to create feature_tensors table: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO runs (id, started_at) VALUES (?, ?)`,
		s.runID.String(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// RunID returns the id assigned to this store session.
func (s *FeatureStore) RunID() string { return s.runID.String() }

// PutTensor writes one feature tensor under the given key.
func (s *FeatureStore) PutTensor(key int, t *features.FeatureTensor) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Will be a no-op if transaction is committed

	_, err = tx.Exec(
		`INSERT INTO feature_tensors (run_id, key, layers, words, width, data) VALUES (?, ?, ?, ?, ?, ?)`,
		s.runID.String(), key, t.Layers, t.Words, t.Width, encodeFloat32LE(t.Data),
	)
	if err != nil {
		return fmt.Errorf("failed to insert tensor %d: %w", key, err)
	}
	return tx.Commit()
}

// GetTensor reads back the tensor stored under key for this run.
func (s *FeatureStore) GetTensor(key int) (*features.FeatureTensor, error) {
	row := s.db.QueryRow(
		`SELECT layers, words, width, data FROM feature_tensors WHERE run_id = ? AND key = ?`,
		s.runID.String(), key,
	)
	var t features.FeatureTensor
	var blob []byte
	if err := row.Scan(&t.Layers, &t.Words, &t.Width, &blob); err != nil {
		return nil, fmt.Errorf("failed to read tensor %d: %w", key, err)
	}
	data, err := decodeFloat32LE(blob)
	if err != nil {
		return nil, fmt.Errorf("tensor %d: %w", key, err)
	}
	if len(data) != t.Layers*t.Words*t.Width {
		return nil, fmt.Errorf("tensor %d: blob holds %d values, shape wants %d", key, len(data), t.Layers*t.Words*t.Width)
	}
	t.Data = data
	return &t, nil
}

// Close closes the underlying database.
func (s *FeatureStore) Close() error { return s.db.Close() }

func encodeFloat32LE(vals []float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func decodeFloat32LE(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}
