package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/ownership-graph/rollwin/internal/storage/models"
	"github.com/ownership-graph/rollwin/pkg/logger"
)

var ErrRunNotFound = errors.New("run not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dbPath != ":memory:" && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		params_hash TEXT NOT NULL,
		params TEXT NOT NULL,
		status TEXT NOT NULL,
		windows INTEGER NOT NULL DEFAULT 0,
		exported INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_hash ON runs(params_hash);

	CREATE TABLE IF NOT EXISTS manifest (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		params_hash TEXT NOT NULL,
		window_name TEXT NOT NULL,
		start_year INTEGER NOT NULL,
		end_year_inclusive INTEGER NOT NULL,
		start_ms INTEGER NOT NULL,
		end_ms INTEGER NOT NULL,
		node_file TEXT NOT NULL,
		edge_file TEXT,
		predicted_file TEXT,
		nodes INTEGER NOT NULL,
		edges INTEGER NOT NULL,
		pruned_nodes INTEGER NOT NULL,
		properties TEXT NOT NULL,
		fcr_included INTEGER NOT NULL,
		lp_state TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_manifest_hash_window ON manifest(params_hash, window_name);

	CREATE TABLE IF NOT EXISTS lp_variants (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		params_hash TEXT NOT NULL,
		window_name TEXT NOT NULL,
		variant TEXT NOT NULL,
		selected INTEGER NOT NULL,
		skipped TEXT,
		auc REAL,
		threshold REAL,
		recall REAL,
		precision REAL,
		fbeta REAL,
		c REAL,
		train_size INTEGER,
		test_size INTEGER,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_variants_window ON lp_variants(params_hash, window_name);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) StartRun(run *models.Run) error {
	query := `
		INSERT INTO runs (id, params_hash, params, status, windows, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		run.ID,
		run.ParamsHash,
		run.Params,
		string(run.Status),
		run.Windows,
		run.StartedAt.UnixMilli(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	logger.Debug("Run recorded", zap.String("run_id", run.ID), zap.String("params_hash", run.ParamsHash))
	return nil
}

func (c *Client) FinishRun(id string, status models.RunStatus, exported, skipped int, runErr error) error {
	var msg sql.NullString
	if runErr != nil {
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}

	res, err := c.db.Exec(
		`UPDATE runs SET status = ?, exported = ?, skipped = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status),
		exported,
		skipped,
		msg,
		time.Now().UnixMilli(),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

func (c *Client) GetRun(id string) (*models.Run, error) {
	query := `SELECT id, params_hash, params, status, windows, exported, skipped, error, started_at, finished_at FROM runs WHERE id = ?`

	var run models.Run
	var status string
	var runErr sql.NullString
	var startedAt int64
	var finishedAt sql.NullInt64

	err := c.db.QueryRow(query, id).Scan(
		&run.ID,
		&run.ParamsHash,
		&run.Params,
		&status,
		&run.Windows,
		&run.Exported,
		&run.Skipped,
		&runErr,
		&startedAt,
		&finishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.Status = models.RunStatus(status)
	run.Error = runErr.String
	run.StartedAt = time.UnixMilli(startedAt)
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64)
		run.FinishedAt = &t
	}
	return &run, nil
}

func (c *Client) InsertManifestEntry(e *models.ManifestEntry) error {
	query := `
		INSERT INTO manifest (run_id, params_hash, window_name, start_year, end_year_inclusive, start_ms, end_ms,
			node_file, edge_file, predicted_file, nodes, edges, pruned_nodes, properties, fcr_included, lp_state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	fcrIncluded := 0
	if e.FCRIncluded {
		fcrIncluded = 1
	}
	if e.CreatedAtMs == 0 {
		e.CreatedAtMs = time.Now().UnixMilli()
	}

	_, err := c.db.Exec(
		query,
		e.RunID,
		e.ParamsHash,
		e.Window,
		e.StartYear,
		e.EndYearInclusive,
		e.StartMs,
		e.EndMs,
		e.NodeFile,
		e.EdgeFile,
		e.PredictedFile,
		e.Nodes,
		e.Edges,
		e.PrunedNodes,
		e.Properties,
		fcrIncluded,
		e.LinkPrediction,
		e.CreatedAtMs,
	)

	if err != nil {
		return fmt.Errorf("failed to insert manifest entry: %w", err)
	}

	logger.Debug("Manifest entry recorded",
		zap.String("window", e.Window),
		zap.String("params_hash", e.ParamsHash),
		zap.Int64("nodes", e.Nodes),
	)
	return nil
}

const manifestColumns = `run_id, params_hash, window_name, start_year, end_year_inclusive, start_ms, end_ms,
	node_file, COALESCE(edge_file, ''), COALESCE(predicted_file, ''), nodes, edges, pruned_nodes, properties,
	fcr_included, COALESCE(lp_state, ''), created_at`

func scanManifest(row interface{ Scan(...any) error }) (models.ManifestEntry, error) {
	var e models.ManifestEntry
	var fcrIncluded int
	err := row.Scan(
		&e.RunID,
		&e.ParamsHash,
		&e.Window,
		&e.StartYear,
		&e.EndYearInclusive,
		&e.StartMs,
		&e.EndMs,
		&e.NodeFile,
		&e.EdgeFile,
		&e.PredictedFile,
		&e.Nodes,
		&e.Edges,
		&e.PrunedNodes,
		&e.Properties,
		&fcrIncluded,
		&e.LinkPrediction,
		&e.CreatedAtMs,
	)
	e.FCRIncluded = fcrIncluded == 1
	return e, err
}

// LatestManifestEntry returns the newest entry for a window under a parameter
// set, or nil when the window was never written.
func (c *Client) LatestManifestEntry(paramsHash, window string) (*models.ManifestEntry, error) {
	query := `SELECT ` + manifestColumns + ` FROM manifest WHERE params_hash = ? AND window_name = ? ORDER BY id DESC LIMIT 1`

	e, err := scanManifest(c.db.QueryRow(query, paramsHash, window))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get manifest entry: %w", err)
	}
	return &e, nil
}

// ManifestEntries lists the newest entry of every window under a parameter
// set in window order.
func (c *Client) ManifestEntries(paramsHash string) ([]models.ManifestEntry, error) {
	query := `SELECT ` + manifestColumns + ` FROM manifest
		WHERE id IN (SELECT MAX(id) FROM manifest WHERE params_hash = ? GROUP BY window_name)
		ORDER BY start_ms`

	rows, err := c.db.Query(query, paramsHash)
	if err != nil {
		return nil, fmt.Errorf("failed to list manifest: %w", err)
	}
	defer rows.Close()

	var entries []models.ManifestEntry
	for rows.Next() {
		e, err := scanManifest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ShouldSkip reports whether a window already has a manifest row under the
// same parameters and its files are still on disk.
func (c *Client) ShouldSkip(paramsHash, window string, requireEdges bool) (bool, error) {
	e, err := c.LatestManifestEntry(paramsHash, window)
	if err != nil || e == nil {
		return false, err
	}
	if !fileExists(e.NodeFile) {
		return false, nil
	}
	if requireEdges && (e.EdgeFile == "" || !fileExists(e.EdgeFile)) {
		return false, nil
	}
	return true, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (c *Client) InsertVariantRecords(records []models.VariantRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO lp_variants (run_id, params_hash, window_name, variant, selected, skipped, auc, threshold,
			recall, precision, fbeta, c, train_size, test_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare variant insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		selected := 0
		if r.Selected {
			selected = 1
		}
		created := r.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := stmt.Exec(
			r.RunID, r.ParamsHash, r.Window, r.Variant, selected, r.Skipped,
			r.AUC, r.Threshold, r.Recall, r.Precision, r.FBeta, r.C,
			r.TrainSize, r.TestSize, created.UnixMilli(),
		); err != nil {
			return fmt.Errorf("failed to insert variant %s: %w", r.Variant, err)
		}
	}
	return tx.Commit()
}

func (c *Client) GetVariantRecords(paramsHash, window string) ([]models.VariantRecord, error) {
	query := `
		SELECT run_id, params_hash, window_name, variant, selected, COALESCE(skipped, ''), auc, threshold,
			recall, precision, fbeta, c, train_size, test_size, created_at
		FROM lp_variants
		WHERE params_hash = ? AND window_name = ?
		ORDER BY id
	`

	rows, err := c.db.Query(query, paramsHash, window)
	if err != nil {
		return nil, fmt.Errorf("failed to get variant records: %w", err)
	}
	defer rows.Close()

	var records []models.VariantRecord
	for rows.Next() {
		var r models.VariantRecord
		var selected int
		var createdAt int64
		err := rows.Scan(&r.RunID, &r.ParamsHash, &r.Window, &r.Variant, &selected, &r.Skipped,
			&r.AUC, &r.Threshold, &r.Recall, &r.Precision, &r.FBeta, &r.C,
			&r.TrainSize, &r.TestSize, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Selected = selected == 1
		r.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, r)
	}
	return records, rows.Err()
}
