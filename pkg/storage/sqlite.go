// Package storage persists calibration runs: a SQLite store holding every
// stage snapshot for restart and inspection, and a Parquet codec for handing
// populations to external analysis tools.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/XiaoConstantine/smc-go/pkg/core"
	"github.com/XiaoConstantine/smc-go/pkg/errors"
)

// RunRecord describes one stored calibration run.
type RunRecord struct {
	RunID      string   `json:"run_id"`
	ParamNames []string `json:"param_names"`
	Config     string   `json:"config"`
	CreatedAt  string   `json:"created_at"`
}

// SQLiteStore persists stage snapshots in a SQLite database. The path
// ":memory:" gives an ephemeral in-process store.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string

	initialized sync.Once
}

// NewSQLiteStore opens or creates the database at path and ensures the
// schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to open SQLite database"),
			errors.Fields{"path": path},
		)
	}

	store := &SQLiteStore{
		db:   db,
		path: path,
	}
	if err := store.ensureInitialized(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) ensureInitialized() error {
	var initErr error
	s.initialized.Do(func() {
		// Enable WAL mode for better concurrency
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			initErr = errors.Wrap(err, errors.StorageFailed, "failed to enable WAL mode")
			return
		}

		query := `
        CREATE TABLE IF NOT EXISTS runs (
            run_id TEXT PRIMARY KEY,
            param_names TEXT NOT NULL,
            config TEXT NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        );

        CREATE TABLE IF NOT EXISTS steps (
            run_id TEXT NOT NULL REFERENCES runs(run_id),
            stage INTEGER NOT NULL,
            exponent REAL NOT NULL,
            num_particles INTEGER NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (run_id, stage)
        );

        CREATE TABLE IF NOT EXISTS particles (
            run_id TEXT NOT NULL,
            stage INTEGER NOT NULL,
            idx INTEGER NOT NULL,
            params TEXT NOT NULL,
            log_like REAL NOT NULL,
            log_weight REAL NOT NULL,
            PRIMARY KEY (run_id, stage, idx)
        );

        CREATE INDEX IF NOT EXISTS idx_particles_run_stage
        ON particles(run_id, stage);
        `

		if _, err := s.db.Exec(query); err != nil {
			initErr = errors.Wrap(err, errors.StorageFailed, "failed to initialize database schema")
			return
		}
	})
	return initErr
}

// CreateRun registers a run before its first snapshot is saved. The config
// value is serialized to JSON for later inspection.
func (s *SQLiteStore) CreateRun(ctx context.Context, runID string, paramNames []string, config interface{}) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}

	namesJSON, err := json.Marshal(paramNames)
	if err != nil {
		return errors.Wrap(err, errors.InvalidInput, "failed to marshal parameter names")
	}
	configJSON, err := json.Marshal(config)
	if err != nil {
		return errors.Wrap(err, errors.InvalidInput, "failed to marshal run config")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := "INSERT INTO runs (run_id, param_names, config) VALUES (?, ?, ?)"
	if _, err := s.db.ExecContext(ctx, query, runID, string(namesJSON), string(configJSON)); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to create run"),
			errors.Fields{"run_id": runID},
		)
	}
	return nil
}

// SaveStep persists one stage snapshot atomically.
func (s *SQLiteStore) SaveStep(ctx context.Context, runID string, stage int, step *core.ParticleStep) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to begin transaction"),
			errors.Fields{"run_id": runID, "stage": stage},
		)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stepQuery := "INSERT INTO steps (run_id, stage, exponent, num_particles) VALUES (?, ?, ?, ?)"
	if _, err := tx.ExecContext(ctx, stepQuery, runID, stage, step.Exponent(), step.Len()); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to store step"),
			errors.Fields{"run_id": runID, "stage": stage},
		)
	}

	particleQuery := `
    INSERT INTO particles (run_id, stage, idx, params, log_like, log_weight)
    VALUES (?, ?, ?, ?, ?, ?)
    `
	stmt, err := tx.PrepareContext(ctx, particleQuery)
	if err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to prepare particle insert")
	}
	defer stmt.Close()

	for i := 0; i < step.Len(); i++ {
		p := step.Particle(i)
		paramsJSON, err := json.Marshal(p.Params)
		if err != nil {
			return errors.Wrap(err, errors.InvalidInput, "failed to marshal particle parameters")
		}
		if _, err := stmt.ExecContext(ctx, runID, stage, i, string(paramsJSON), p.LogLike, p.LogWeight); err != nil {
			return errors.WithFields(
				errors.Wrap(err, errors.StorageFailed, "failed to store particle"),
				errors.Fields{"run_id": runID, "stage": stage, "index": i},
			)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to commit step"),
			errors.Fields{"run_id": runID, "stage": stage},
		)
	}
	return nil
}

// LoadStep reconstructs one stage snapshot.
func (s *SQLiteStore) LoadStep(ctx context.Context, runID string, stage int) (*core.ParticleStep, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var exponent float64
	var numParticles int
	err := s.db.QueryRowContext(ctx,
		"SELECT exponent, num_particles FROM steps WHERE run_id = ? AND stage = ?",
		runID, stage).Scan(&exponent, &numParticles)
	if err == sql.ErrNoRows {
		return nil, errors.WithFields(
			errors.New(errors.StorageFailed, "step not found"),
			errors.Fields{"run_id": runID, "stage": stage},
		)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to load step")
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT idx, params, log_like, log_weight FROM particles WHERE run_id = ? AND stage = ? ORDER BY idx",
		runID, stage)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to load particles")
	}
	defer rows.Close()

	particles := make([]core.Particle, numParticles)
	for rows.Next() {
		var idx int
		var paramsJSON string
		var logLike, logWeight float64
		if err := rows.Scan(&idx, &paramsJSON, &logLike, &logWeight); err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to scan particle row")
		}
		if idx < 0 || idx >= numParticles {
			return nil, errors.WithFields(
				errors.New(errors.StorageFailed, "particle index out of range"),
				errors.Fields{"run_id": runID, "stage": stage, "index": idx},
			)
		}

		var params []float64
		if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to unmarshal particle parameters")
		}
		particles[idx] = core.Particle{Params: params, LogLike: logLike, LogWeight: logWeight}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "error iterating particle rows")
	}

	return core.NewParticleStep(particles, exponent)
}

// NumSteps returns how many stage snapshots the run has.
func (s *SQLiteStore) NumSteps(ctx context.Context, runID string) (int, error) {
	if err := s.ensureInitialized(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM steps WHERE run_id = ?", runID).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, errors.StorageFailed, "failed to count steps")
	}
	return count, nil
}

// LoadHistory reconstructs the full snapshot history of a run in stage order.
func (s *SQLiteStore) LoadHistory(ctx context.Context, runID string) ([]*core.ParticleStep, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	rows, err := s.db.QueryContext(ctx,
		"SELECT stage FROM steps WHERE run_id = ? ORDER BY stage", runID)
	if err != nil {
		s.mu.RUnlock()
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to list stages")
	}

	var stages []int
	for rows.Next() {
		var stage int
		if err := rows.Scan(&stage); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to scan stage")
		}
		stages = append(stages, stage)
	}
	rows.Close()
	s.mu.RUnlock()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "error iterating stages")
	}

	history := make([]*core.ParticleStep, 0, len(stages))
	for _, stage := range stages {
		step, err := s.LoadStep(ctx, runID, stage)
		if err != nil {
			return nil, err
		}
		history = append(history, step)
	}
	return history, nil
}

// ListRuns returns the stored runs in creation order.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]RunRecord, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id, param_names, config, created_at FROM runs ORDER BY created_at")
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to list runs")
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var namesJSON string
		if err := rows.Scan(&rec.RunID, &namesJSON, &rec.Config, &rec.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to scan run row")
		}
		if err := json.Unmarshal([]byte(namesJSON), &rec.ParamNames); err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to unmarshal parameter names")
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "error iterating run rows")
	}
	return runs, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to close database connection")
	}
	return nil
}
