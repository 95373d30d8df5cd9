package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/biokg/backend/internal/graph"
	"github.com/biokg/backend/internal/storage/models"
	"github.com/biokg/backend/pkg/logger"
)

// Client is the abstract ledger: fetched articles and the outcome of
// every attempt to merge them into the graph.
type Client struct {
	db  *sql.DB
	now func() time.Time
}

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dbPath != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite ledger opened", zap.String("path", dbPath))

	return &Client{db: db, now: time.Now}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS abstracts (
		pmid TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		abstract TEXT,
		authors TEXT,
		journal TEXT,
		year INTEGER,
		fetched_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_abstracts_fetched ON abstracts(fetched_at);

	CREATE TABLE IF NOT EXISTS processing_runs (
		id TEXT PRIMARY KEY,
		pmid TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		change_count INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_pmid ON processing_runs(pmid);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON processing_runs(status);

	CREATE TABLE IF NOT EXISTS graph_changes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		edge_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		action TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES processing_runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_changes_run ON graph_changes(run_id);
	CREATE INDEX IF NOT EXISTS idx_changes_edge ON graph_changes(edge_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// UpsertAbstracts stores fetched articles, refreshing the text of ones
// already present. It returns the number of rows written.
func (c *Client) UpsertAbstracts(abstracts []graph.Abstract) (int, error) {
	tx, err := c.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO abstracts (pmid, title, abstract, authors, journal, year, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pmid) DO UPDATE SET
			title = excluded.title,
			abstract = excluded.abstract,
			authors = excluded.authors,
			journal = excluded.journal,
			year = excluded.year
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare abstract upsert: %w", err)
	}
	defer stmt.Close()

	fetchedAt := c.now().Unix()
	for _, a := range abstracts {
		authors, err := json.Marshal(a.Authors)
		if err != nil {
			return 0, fmt.Errorf("failed to encode authors for %s: %w", a.PMID, err)
		}
		var year sql.NullInt64
		if a.Year != nil {
			year = sql.NullInt64{Int64: int64(*a.Year), Valid: true}
		}
		if _, err := stmt.Exec(a.PMID, a.Title, a.Abstract, string(authors), a.Journal, year, fetchedAt); err != nil {
			return 0, fmt.Errorf("failed to upsert abstract %s: %w", a.PMID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit abstracts: %w", err)
	}

	logger.Debug("Abstracts stored", zap.Int("count", len(abstracts)))
	return len(abstracts), nil
}

// ListAbstracts returns stored abstracts in fetch order. With onlyPending
// set, abstracts that already have a successful run are left out.
func (c *Client) ListAbstracts(onlyPending bool) ([]graph.Abstract, error) {
	query := `SELECT a.pmid, a.title, a.abstract, a.authors, a.journal, a.year FROM abstracts a`
	if onlyPending {
		query += ` WHERE NOT EXISTS (
			SELECT 1 FROM processing_runs r WHERE r.pmid = a.pmid AND r.status = 'ok'
		)`
	}
	query += ` ORDER BY a.fetched_at, a.pmid`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list abstracts: %w", err)
	}
	defer rows.Close()

	var out []graph.Abstract
	for rows.Next() {
		var a graph.Abstract
		var text, authors, journal sql.NullString
		var year sql.NullInt64

		if err := rows.Scan(&a.PMID, &a.Title, &text, &authors, &journal, &year); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		a.Abstract = text.String
		a.Journal = journal.String
		if year.Valid {
			a.Year = graph.IntPtr(int(year.Int64))
		}
		if authors.Valid && authors.String != "" {
			if err := json.Unmarshal([]byte(authors.String), &a.Authors); err != nil {
				logger.Warn("Invalid authors column", zap.String("pmid", a.PMID), zap.Error(err))
			}
		}
		out = append(out, a)
	}

	return out, rows.Err()
}

// RecordRun stores a processing run and the edge changes it produced.
// An empty run ID is filled in.
func (c *Client) RecordRun(run *models.ProcessingRun, changes []graph.ChangeRecord) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	run.ChangeCount = len(changes)

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO processing_runs (id, pmid, status, error, change_count, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.PMID,
		string(run.Status),
		run.Error,
		run.ChangeCount,
		run.StartedAt.Unix(),
		run.FinishedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert processing run: %w", err)
	}

	for _, ch := range changes {
		_, err := tx.Exec(`
			INSERT INTO graph_changes (run_id, edge_id, source_id, target_id, action)
			VALUES (?, ?, ?, ?, ?)`,
			run.ID, ch.EdgeID, ch.SourceID, ch.TargetID, string(ch.Action),
		)
		if err != nil {
			return fmt.Errorf("failed to insert graph change: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	logger.Info("Processing run recorded",
		zap.String("run_id", run.ID),
		zap.String("pmid", run.PMID),
		zap.String("status", string(run.Status)),
		zap.Int("changes", run.ChangeCount),
	)
	return nil
}

// Changes returns the edge changes recorded for a run.
func (c *Client) Changes(runID string) ([]models.GraphChange, error) {
	rows, err := c.db.Query(`
		SELECT id, run_id, edge_id, source_id, target_id, action
		FROM graph_changes WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get changes: %w", err)
	}
	defer rows.Close()

	var out []models.GraphChange
	for rows.Next() {
		var ch models.GraphChange
		if err := rows.Scan(&ch.ID, &ch.RunID, &ch.EdgeID, &ch.SourceID, &ch.TargetID, &ch.Action); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (c *Client) Stats() (models.LedgerStats, error) {
	var s models.LedgerStats
	err := c.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM abstracts),
			(SELECT COUNT(*) FROM abstracts a WHERE NOT EXISTS (
				SELECT 1 FROM processing_runs r WHERE r.pmid = a.pmid AND r.status = 'ok')),
			(SELECT COUNT(*) FROM processing_runs WHERE status = 'ok'),
			(SELECT COUNT(*) FROM processing_runs WHERE status = 'failed'),
			(SELECT COUNT(*) FROM graph_changes)
	`).Scan(&s.Abstracts, &s.Pending, &s.RunsOK, &s.RunsFailed, &s.EdgeChanges)
	if err != nil {
		return s, fmt.Errorf("failed to read ledger stats: %w", err)
	}
	return s, nil
}
