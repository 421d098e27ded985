//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"netsynth/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func newSQLiteStore(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	return NewSQLiteStore(path), nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveModel(ctx context.Context, record model.ModelRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeModel(record)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO models (id, run_id, batch, idx, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			batch = excluded.batch,
			idx = excluded.idx,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, record.ID, record.RunID, record.Batch, record.Index, record.SchemaVersion, record.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetModel(ctx context.Context, id string) (model.ModelRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.ModelRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM models WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ModelRecord{}, false, nil
		}
		return model.ModelRecord{}, false, err
	}

	record, err := DecodeModel(payload)
	if err != nil {
		return model.ModelRecord{}, false, fmt.Errorf("decode model %s: %w", id, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) ListModels(ctx context.Context, runID string) ([]model.ModelRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, payload FROM models WHERE run_id = ? ORDER BY batch, idx, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.ModelRecord, 0)
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		record, err := DecodeModel(payload)
		if err != nil {
			return nil, fmt.Errorf("decode model %s: %w", id, err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveCorpusRun(ctx context.Context, run model.CorpusRun) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeCorpusRun(run)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO corpus_runs (id, started_at, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			started_at = excluded.started_at,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, run.ID, run.StartedAt.UnixNano(), run.SchemaVersion, run.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetCorpusRun(ctx context.Context, id string) (model.CorpusRun, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.CorpusRun{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM corpus_runs WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.CorpusRun{}, false, nil
		}
		return model.CorpusRun{}, false, err
	}

	run, err := DecodeCorpusRun(payload)
	if err != nil {
		return model.CorpusRun{}, false, fmt.Errorf("decode corpus run %s: %w", id, err)
	}
	return run, true, nil
}

func (s *SQLiteStore) ListCorpusRuns(ctx context.Context) ([]model.CorpusRun, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, payload FROM corpus_runs ORDER BY started_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.CorpusRun, 0)
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		run, err := DecodeCorpusRun(payload)
		if err != nil {
			return nil, fmt.Errorf("decode corpus run %s: %w", id, err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveLayerStats(ctx context.Context, stats model.LayerStats) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeLayerStats(stats)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO layer_stats (id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, stats.ID, stats.SchemaVersion, stats.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetLayerStats(ctx context.Context, id string) (model.LayerStats, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.LayerStats{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM layer_stats WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.LayerStats{}, false, nil
		}
		return model.LayerStats{}, false, err
	}

	stats, err := DecodeLayerStats(payload)
	if err != nil {
		return model.LayerStats{}, false, fmt.Errorf("decode layer stats %s: %w", id, err)
	}
	return stats, true, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS models (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			batch INTEGER NOT NULL,
			idx INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS models_run_id ON models (run_id);
		CREATE TABLE IF NOT EXISTS corpus_runs (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS layer_stats (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
