package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/linklab/link-decision-transformer/internal/model"

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

func (s *SQLiteStore) SaveDataset(ctx context.Context, dataset model.Dataset) error {
	payload, err := EncodeDataset(dataset)
	if err != nil {
		return err
	}
	return s.upsert(ctx, "datasets", dataset.Name, dataset.VersionedRecord, payload)
}

func (s *SQLiteStore) GetDataset(ctx context.Context, name string) (model.Dataset, bool, error) {
	payload, ok, err := s.payload(ctx, "datasets", name)
	if err != nil || !ok {
		return model.Dataset{}, false, err
	}
	dataset, err := DecodeDataset(payload)
	if err != nil {
		return model.Dataset{}, false, fmt.Errorf("decode dataset %s: %w", name, err)
	}
	return dataset, true, nil
}

func (s *SQLiteStore) SaveStateStats(ctx context.Context, stats model.StateStats) error {
	payload, err := EncodeStateStats(stats)
	if err != nil {
		return err
	}
	return s.upsert(ctx, "state_stats", stats.Dataset, stats.VersionedRecord, payload)
}

func (s *SQLiteStore) GetStateStats(ctx context.Context, dataset string) (model.StateStats, bool, error) {
	payload, ok, err := s.payload(ctx, "state_stats", dataset)
	if err != nil || !ok {
		return model.StateStats{}, false, err
	}
	stats, err := DecodeStateStats(payload)
	if err != nil {
		return model.StateStats{}, false, fmt.Errorf("decode state stats %s: %w", dataset, err)
	}
	return stats, true, nil
}

func (s *SQLiteStore) SaveEvaluation(ctx context.Context, report model.EvaluationReport) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if report.RunID == "" {
		return errors.New("evaluation record requires a run id")
	}

	payload, err := EncodeEvaluation(report)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO evaluations (run_id, created_at_utc, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			created_at_utc = excluded.created_at_utc,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, report.RunID, report.CreatedAtUTC, report.SchemaVersion, report.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetEvaluation(ctx context.Context, runID string) (model.EvaluationReport, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.EvaluationReport{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM evaluations WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.EvaluationReport{}, false, nil
		}
		return model.EvaluationReport{}, false, err
	}

	report, err := DecodeEvaluation(payload)
	if err != nil {
		return model.EvaluationReport{}, false, fmt.Errorf("decode evaluation %s: %w", runID, err)
	}
	return report, true, nil
}

func (s *SQLiteStore) ListEvaluations(ctx context.Context) ([]model.EvaluationReport, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT run_id, payload FROM evaluations ORDER BY created_at_utc DESC, run_id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []model.EvaluationReport
	for rows.Next() {
		var (
			runID   string
			payload []byte
		)
		if err := rows.Scan(&runID, &payload); err != nil {
			return nil, err
		}
		report, err := DecodeEvaluation(payload)
		if err != nil {
			return nil, fmt.Errorf("decode evaluation %s: %w", runID, err)
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
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

// upsert writes a keyed payload into one of the name-keyed tables. table is
// always a package constant, never caller input.
func (s *SQLiteStore) upsert(ctx context.Context, table, name string, version model.VersionedRecord, payload []byte) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%s record requires a name", table)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO `+table+` (name, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, name, version.SchemaVersion, version.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) payload(ctx context.Context, table, name string) ([]byte, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM `+table+` WHERE name = ?`, name).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS datasets (
			name TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS state_stats (
			name TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS evaluations (
			run_id TEXT PRIMARY KEY,
			created_at_utc TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
