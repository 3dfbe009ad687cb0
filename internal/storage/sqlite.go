package storage

import (
	"database/sql"
	"embed"
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

// Store wraps a SQLite database with methods for glossary entries, phrasing
// rules, usage counters, conversations, and background jobs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "traduki.db")
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

// --- Glossary ---

// UpsertGlossaryEntry inserts or replaces an entry keyed by
// (user_id, source_language, target_language, lowercased source_text).
func (s *Store) UpsertGlossaryEntry(e GlossaryEntry) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO glossary_entries (user_id, source_language, target_language, source_text, target_text, note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, source_language, target_language, source_text)
		DO UPDATE SET target_text = excluded.target_text, note = excluded.note, updated_at = excluded.updated_at`,
		e.UserID, e.SourceLanguage, e.TargetLanguage, strings.ToLower(e.SourceText), e.TargetText, e.Note, now, now,
	)
	return err
}

// DeleteGlossaryEntry removes an entry by its unique key. Returns ErrNotFound
// if no such entry exists.
func (s *Store) DeleteGlossaryEntry(userID, sourceLang, targetLang, sourceText string) error {
	res, err := s.db.Exec(`
		DELETE FROM glossary_entries
		WHERE user_id = ? AND source_language = ? AND target_language = ? AND source_text = ?`,
		userID, sourceLang, targetLang, strings.ToLower(sourceText),
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

// GetGlossaryEntry looks up a single entry by its unique key.
func (s *Store) GetGlossaryEntry(userID, sourceLang, targetLang, sourceText string) (GlossaryEntry, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, source_language, target_language, source_text, target_text, note, created_at, updated_at
		FROM glossary_entries
		WHERE user_id = ? AND source_language = ? AND target_language = ? AND source_text = ?`,
		userID, sourceLang, targetLang, strings.ToLower(sourceText),
	)
	return scanGlossaryEntry(row)
}

// ListGlossaryEntries returns all entries for a user and language pair,
// ordered by source text.
func (s *Store) ListGlossaryEntries(userID, sourceLang, targetLang string) ([]GlossaryEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, source_language, target_language, source_text, target_text, note, created_at, updated_at
		FROM glossary_entries
		WHERE user_id = ? AND source_language = ? AND target_language = ?
		ORDER BY source_text`,
		userID, sourceLang, targetLang,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []GlossaryEntry
	for rows.Next() {
		e, err := scanGlossaryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGlossaryEntry(row rowScanner) (GlossaryEntry, error) {
	var e GlossaryEntry
	var createdAt, updatedAt string
	err := row.Scan(&e.ID, &e.UserID, &e.SourceLanguage, &e.TargetLanguage, &e.SourceText, &e.TargetText, &e.Note, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return GlossaryEntry{}, ErrNotFound
	}
	if err != nil {
		return GlossaryEntry{}, err
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return GlossaryEntry{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return GlossaryEntry{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return e, nil
}

// --- Phrasing rules ---

// UpsertRuleEntry inserts a rule; re-inserting the same rule text for the
// same user and pair refreshes its updated_at.
func (s *Store) UpsertRuleEntry(r RuleEntry) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO lang_rule_entries (user_id, source_language, target_language, text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, source_language, target_language, text)
		DO UPDATE SET updated_at = excluded.updated_at`,
		r.UserID, r.SourceLanguage, r.TargetLanguage, r.Text, now, now,
	)
	return err
}

// DeleteRuleEntry removes a rule by its unique key.
func (s *Store) DeleteRuleEntry(userID, sourceLang, targetLang, text string) error {
	res, err := s.db.Exec(`
		DELETE FROM lang_rule_entries
		WHERE user_id = ? AND source_language = ? AND target_language = ? AND text = ?`,
		userID, sourceLang, targetLang, text,
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

// ListRuleEntries returns all rules for a user and language pair, ordered by text.
func (s *Store) ListRuleEntries(userID, sourceLang, targetLang string) ([]RuleEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, source_language, target_language, text, created_at, updated_at
		FROM lang_rule_entries
		WHERE user_id = ? AND source_language = ? AND target_language = ?
		ORDER BY text`,
		userID, sourceLang, targetLang,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []RuleEntry
	for rows.Next() {
		var r RuleEntry
		var createdAt, updatedAt string
		if err := rows.Scan(&r.ID, &r.UserID, &r.SourceLanguage, &r.TargetLanguage, &r.Text, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if r.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		entries = append(entries, r)
	}
	return entries, rows.Err()
}

// --- Usage ---

// GetUsage returns the usage record for an identity, or a zero record if the
// identity has not been seen yet.
func (s *Store) GetUsage(identity, kind string) (UsageRecord, error) {
	var rec UsageRecord
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT identity, kind, used, created_at, updated_at
		FROM usage_records WHERE identity = ? AND kind = ?`,
		identity, kind,
	).Scan(&rec.Identity, &rec.Kind, &rec.Used, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return UsageRecord{Identity: identity, Kind: kind}, nil
	}
	if err != nil {
		return UsageRecord{}, err
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return UsageRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return UsageRecord{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return rec, nil
}

// AddUsage adds cost to an identity's counter, creating the record lazily.
func (s *Store) AddUsage(identity, kind string, cost int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO usage_records (identity, kind, used, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(identity, kind)
		DO UPDATE SET used = used + excluded.used, updated_at = excluded.updated_at`,
		identity, kind, cost, now, now,
	)
	return err
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

	args := make([]interface{}, 0, len(types)+1)
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

func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}
