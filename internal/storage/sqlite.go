package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the menu cache, vectors, predictions,
// batches and the job queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "menumap.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// DB exposes the underlying handle so the vector store can share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Menu items ---

// ReplaceMenuItems swaps the cached master menu for items in one transaction.
func (s *Store) ReplaceMenuItems(items []MenuItem) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning menu transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM menu_items`); err != nil {
		return fmt.Errorf("clearing menu items: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO menu_items (id, name, usage, updated_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, it := range items {
		if _, err := stmt.Exec(it.ID, it.Name, it.Usage, now); err != nil {
			return fmt.Errorf("inserting menu item %d: %w", it.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) CountMenuItems() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM menu_items`).Scan(&n)
	return n, err
}

// --- LLM logs ---

func (s *Store) SaveLLMLog(l LLMLog) error {
	_, err := s.db.Exec(`
		INSERT INTO llm_logs (id, created_at, model, prompt, response, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, l.CreatedAt.UTC().Format(time.RFC3339), l.Model, l.Prompt, l.Response, l.DurationMs,
	)
	return err
}

func (s *Store) GetLLMLog(id string) (LLMLog, error) {
	var l LLMLog
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, created_at, model, prompt, response, duration_ms
		FROM llm_logs WHERE id = ?`, id,
	).Scan(&l.ID, &createdAt, &l.Model, &l.Prompt, &l.Response, &l.DurationMs)
	if err == sql.ErrNoRows {
		return LLMLog{}, ErrNotFound
	}
	if err != nil {
		return LLMLog{}, err
	}
	if l.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return LLMLog{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return l, nil
}

// --- Predictions ---

const predictionColumns = `id, batch_id, menu_id, menu_name, master_menu_id, master_menu_name,
	corrected_menu_name, eval_current, predicted_menu_id, predicted_menu_name, eval_prediction,
	ambiguous, mrp, log_id, response, ranked_nodes, is_approved, created_at`

func (s *Store) SavePrediction(p Prediction) error {
	response := string(p.Response)
	if response == "" {
		response = "[]"
	}
	ranked := string(p.RankedNodes)
	if ranked == "" {
		ranked = "[]"
	}
	var logID sql.NullString
	if p.LogID != "" {
		logID = sql.NullString{String: p.LogID, Valid: true}
	}
	var approved sql.NullBool
	if p.IsApproved != nil {
		approved = sql.NullBool{Bool: *p.IsApproved, Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO menu_mapping_predictions (`+predictionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.BatchID, p.MenuID, p.MenuName, p.MasterMenuID, p.MasterMenuName,
		p.CorrectedMenuName, p.EvalCurrent, p.PredictedMenuID, p.PredictedMenuName, p.EvalPrediction,
		p.Ambiguous, p.MRP, logID, response, ranked, approved,
		p.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrediction(sc rowScanner) (Prediction, error) {
	var p Prediction
	var logID sql.NullString
	var approved sql.NullBool
	var response, ranked, createdAt string
	err := sc.Scan(
		&p.ID, &p.BatchID, &p.MenuID, &p.MenuName, &p.MasterMenuID, &p.MasterMenuName,
		&p.CorrectedMenuName, &p.EvalCurrent, &p.PredictedMenuID, &p.PredictedMenuName, &p.EvalPrediction,
		&p.Ambiguous, &p.MRP, &logID, &response, &ranked, &approved, &createdAt,
	)
	if err != nil {
		return Prediction{}, err
	}
	p.LogID = logID.String
	p.Response = json.RawMessage(response)
	p.RankedNodes = json.RawMessage(ranked)
	if approved.Valid {
		v := approved.Bool
		p.IsApproved = &v
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Prediction{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return p, nil
}

func (s *Store) GetPrediction(id string) (Prediction, error) {
	p, err := scanPrediction(s.db.QueryRow(
		`SELECT `+predictionColumns+` FROM menu_mapping_predictions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Prediction{}, ErrNotFound
	}
	return p, err
}

// ListPredictions returns predictions newest first. An empty batchID lists
// across all batches.
func (s *Store) ListPredictions(limit, offset int, batchID string) ([]Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM menu_mapping_predictions`
	args := []any{}
	if batchID != "" {
		query += ` WHERE batch_id = ?`
		args = append(args, batchID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// SetApproval records a reviewer's verdict on a prediction.
func (s *Store) SetApproval(id string, approved bool) error {
	res, err := s.db.Exec(`UPDATE menu_mapping_predictions SET is_approved = ? WHERE id = ?`, approved, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Batches ---

func (s *Store) CreateBatch(b Batch) error {
	now := time.Now().UTC().Format(time.RFC3339)
	status := b.Status
	if status == "" {
		status = BatchQueued
	}
	source := b.Source
	if source == "" {
		source = "csv"
	}
	_, err := s.db.Exec(`
		INSERT INTO batches (id, filename, source, status, total_rows, processed_rows, failed_rows, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		b.ID, b.Filename, source, status, b.TotalRows, now, now,
	)
	return err
}

func (s *Store) GetBatch(id string) (Batch, error) {
	var b Batch
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, filename, source, status, total_rows, processed_rows, failed_rows, created_at, updated_at
		FROM batches WHERE id = ?`, id,
	).Scan(&b.ID, &b.Filename, &b.Source, &b.Status, &b.TotalRows, &b.ProcessedRows, &b.FailedRows, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Batch{}, ErrNotFound
	}
	if err != nil {
		return Batch{}, err
	}
	if b.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Batch{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if b.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Batch{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return b, nil
}

// RecordBatchRow counts one finished row against the batch. The batch moves
// to running on the first row and to completed once every row is accounted
// for.
func (s *Store) RecordBatchRow(id string, failed bool) error {
	var ok, bad int
	if failed {
		bad = 1
	} else {
		ok = 1
	}
	res, err := s.db.Exec(`
		UPDATE batches SET
			processed_rows = processed_rows + ?,
			failed_rows = failed_rows + ?,
			status = CASE WHEN processed_rows + failed_rows + 1 >= total_rows THEN 'completed' ELSE 'running' END,
			updated_at = ?
		WHERE id = ?`,
		ok, bad, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// BatchAccuracy aggregates evaluation flags over a batch's predictions.
func (s *Store) BatchAccuracy(batchID string) (BatchAccuracy, error) {
	var a BatchAccuracy
	err := s.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(eval_current), 0),
			COALESCE(SUM(eval_prediction), 0),
			COALESCE(SUM(CASE WHEN is_approved = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_approved = 0 THEN 1 ELSE 0 END), 0)
		FROM menu_mapping_predictions WHERE batch_id = ?`, batchID,
	).Scan(&a.Total, &a.CorrectCurrent, &a.CorrectPredict, &a.Approved, &a.Rejected)
	return a, err
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed attempt. The job is rescheduled with exponential
// backoff until max_attempts is reached; final reports whether it was marked
// failed permanently.
func (s *Store) FailJob(id string, errMsg string) (final bool, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	attempts++
	final = attempts >= maxAttempts

	if final {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return false, err
	}

	return final, tx.Commit()
}

// RequeueStaleJobs returns jobs left in 'running' for at least olderThan to
// 'pending' so a restarted worker picks them up again. Attempts are left
// untouched. It reports how many jobs were requeued.
func (s *Store) RequeueStaleJobs(olderThan time.Duration) (int, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-olderThan).Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'pending', run_after = ?, updated_at = ?
		WHERE status = 'running' AND updated_at <= ?`,
		now.Format(time.RFC3339), now.Format(time.RFC3339), cutoff)
	if err != nil {
		return 0, fmt.Errorf("requeueing stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// PendingJobs counts jobs that are still waiting or running.
func (s *Store) PendingJobs() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE status IN ('pending', 'running')`).Scan(&n)
	return n, err
}
