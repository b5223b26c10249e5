package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"linkedin-group-scraper/models"
)

// Database represents the SQLite database connection
type Database struct {
	db     *sql.DB
	logger *logrus.Logger
}

// Run is one scrape of one group.
type Run struct {
	ID              int64      `json:"id"`
	GroupURL        string     `json:"group_url"`
	Search          string     `json:"search"`
	Status          string     `json:"status"`
	MembersFound    int        `json:"members_found"`
	MembersEnriched int        `json:"members_enriched"`
	ProfilesVisited int        `json:"profiles_visited"`
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// RunSummary carries the counters recorded when a run finishes.
type RunSummary struct {
	Status          string
	MembersFound    int
	MembersEnriched int
	ProfilesVisited int
	Error           string
}

// NewDatabase creates a new database connection
func NewDatabase(dbPath string, logger *logrus.Logger) (*Database, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serialises writers anyway; a single connection also keeps
	// ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &Database{
		db:     db,
		logger: logger,
	}

	if err := database.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	logger.WithField("path", dbPath).Debug("Database initialized successfully")
	return database, nil
}

// initTables creates all necessary tables
func (d *Database) initTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS members (
			profile_url TEXT PRIMARY KEY,
			name TEXT,
			headline TEXT,
			country TEXT,
			first_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_url TEXT NOT NULL,
			profile_url TEXT NOT NULL,
			seen_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (group_url, profile_url),
			FOREIGN KEY (profile_url) REFERENCES members(profile_url)
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			group_url TEXT NOT NULL,
			search TEXT,
			status TEXT NOT NULL DEFAULT 'running',
			members_found INTEGER DEFAULT 0,
			members_enriched INTEGER DEFAULT 0,
			profiles_visited INTEGER DEFAULT 0,
			error TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_group_members_group_url ON group_members(group_url)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}

	for _, query := range queries {
		if _, err := d.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %s, error: %w", query, err)
		}
	}

	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// UpsertMembers stores records and links them to groupURL. A stored value is
// never replaced by an absent one.
func (d *Database) UpsertMembers(ctx context.Context, groupURL string, records []models.MemberRecord) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	memberStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO members (profile_url, name, headline, country)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(profile_url) DO UPDATE SET
			name = COALESCE(excluded.name, members.name),
			headline = COALESCE(excluded.headline, members.headline),
			country = COALESCE(excluded.country, members.country),
			updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return fmt.Errorf("failed to prepare member upsert: %w", err)
	}
	defer memberStmt.Close()

	linkStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO group_members (group_url, profile_url) VALUES (?, ?)
		ON CONFLICT(group_url, profile_url) DO UPDATE SET seen_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return fmt.Errorf("failed to prepare group link: %w", err)
	}
	defer linkStmt.Close()

	for _, r := range records {
		if _, err := memberStmt.ExecContext(ctx, r.ProfileURL, nullable(r.Name), nullable(r.Headline), nullable(r.Country)); err != nil {
			return fmt.Errorf("failed to save member %s: %w", r.ProfileURL, err)
		}
		if _, err := linkStmt.ExecContext(ctx, groupURL, r.ProfileURL); err != nil {
			return fmt.Errorf("failed to link member %s: %w", r.ProfileURL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit members: %w", err)
	}

	d.logger.WithFields(logrus.Fields{
		"group_url": groupURL,
		"members":   len(records),
	}).Debug("Members saved")
	return nil
}

// MembersByGroup returns every stored member of groupURL in the order they
// were first linked.
func (d *Database) MembersByGroup(ctx context.Context, groupURL string) ([]models.MemberRecord, error) {
	query := `SELECT m.profile_url, m.name, m.headline, m.country
			  FROM group_members g JOIN members m ON m.profile_url = g.profile_url
			  WHERE g.group_url = ? ORDER BY g.rowid`

	rows, err := d.db.QueryContext(ctx, query, groupURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}
	defer rows.Close()

	records := make([]models.MemberRecord, 0)
	for rows.Next() {
		var r models.MemberRecord
		var name, headline, country sql.NullString
		if err := rows.Scan(&r.ProfileURL, &name, &headline, &country); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		r.Name = fromNull(name)
		r.Headline = fromNull(headline)
		r.Country = fromNull(country)
		records = append(records, r)
	}
	return records, rows.Err()
}

// StartRun records the start of a run and returns its ID.
func (d *Database) StartRun(ctx context.Context, groupURL, search string) (int64, error) {
	result, err := d.db.ExecContext(ctx,
		`INSERT INTO runs (group_url, search, started_at) VALUES (?, ?, ?)`,
		groupURL, search, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to save run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run ID: %w", err)
	}

	d.logger.WithFields(logrus.Fields{
		"run_id":    id,
		"group_url": groupURL,
	}).Debug("Run started")
	return id, nil
}

// FinishRun stores the outcome of a run.
func (d *Database) FinishRun(ctx context.Context, id int64, summary RunSummary) error {
	query := `UPDATE runs SET status = ?, members_found = ?, members_enriched = ?,
			  profiles_visited = ?, error = ?, finished_at = ? WHERE id = ?`

	result, err := d.db.ExecContext(ctx, query,
		summary.Status, summary.MembersFound, summary.MembersEnriched,
		summary.ProfilesVisited, summary.Error, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %d not found", id)
	}

	d.logger.WithFields(logrus.Fields{
		"run_id": id,
		"status": summary.Status,
	}).Debug("Run finished")
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (d *Database) RecentRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT id, group_url, search, status, members_found, members_enriched,
			  profiles_visited, error, started_at, finished_at
			  FROM runs ORDER BY id DESC LIMIT ?`

	rows, err := d.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var search, errMsg sql.NullString
		var finished sql.NullTime
		err := rows.Scan(&run.ID, &run.GroupURL, &search, &run.Status, &run.MembersFound,
			&run.MembersEnriched, &run.ProfilesVisited, &errMsg, &run.StartedAt, &finished)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Search = search.String
		run.Error = errMsg.String
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// GetDailyStats returns run counters for runs started at or after since.
func (d *Database) GetDailyStats(ctx context.Context, since time.Time) (map[string]int, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(members_found), 0),
			COALESCE(SUM(members_enriched), 0),
			COALESCE(SUM(profiles_visited), 0)
		FROM runs WHERE julianday(started_at) >= julianday(?)
	`

	row := d.db.QueryRowContext(ctx, query, since.UTC())
	var runs, found, enriched, visited int
	if err := row.Scan(&runs, &found, &enriched, &visited); err != nil {
		return nil, fmt.Errorf("failed to get daily stats: %w", err)
	}

	return map[string]int{
		"runs":             runs,
		"members_found":    found,
		"members_enriched": enriched,
		"profiles_visited": visited,
	}, nil
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func fromNull(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
