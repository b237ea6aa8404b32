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

// Store wraps a SQLite database with methods for files, parses, segments,
// the embed job queue, and the key-value blob table.
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
		dsn = filepath.Join(dataDir, "chemkb.db")
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

// DB exposes the underlying database for the vector store.
func (s *Store) DB() *sql.DB {
	return s.db
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

// --- Files ---

func (s *Store) SaveFile(f FileRecord) error {
	status := f.Status
	if status == "" {
		status = FileStatusUploaded
	}
	_, err := s.db.Exec(`
		INSERT INTO files (id, name, saved_as, size, type, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Name, f.SavedAs, f.Size, f.Type, status, f.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetFile(id string) (FileRecord, error) {
	var f FileRecord
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, name, saved_as, size, type, status, created_at
		FROM files WHERE id = ?`, id,
	).Scan(&f.ID, &f.Name, &f.SavedAs, &f.Size, &f.Type, &f.Status, &createdAt)
	if err == sql.ErrNoRows {
		return FileRecord{}, ErrNotFound
	}
	if err != nil {
		return FileRecord{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return FileRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	f.CreatedAt = t
	return f, nil
}

func (s *Store) ListFiles(limit, offset int) ([]FileRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, name, saved_as, size, type, status, created_at
		FROM files ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FileRecord
	for rows.Next() {
		var f FileRecord
		var createdAt string
		if err := rows.Scan(&f.ID, &f.Name, &f.SavedAs, &f.Size, &f.Type, &f.Status, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		f.CreatedAt = t
		results = append(results, f)
	}
	return results, rows.Err()
}

func (s *Store) CountFiles() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM files").Scan(&count)
	return count, err
}

func (s *Store) DeleteFile(id string) error {
	res, err := s.db.Exec("DELETE FROM files WHERE id = ?", id)
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

func (s *Store) UpdateFileStatus(id, status string) error {
	res, err := s.db.Exec("UPDATE files SET status = ? WHERE id = ?", status, id)
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

func (s *Store) GetFileStats() (FileStats, error) {
	stats := FileStats{ByType: make(map[string]int)}

	if err := s.db.QueryRow("SELECT COUNT(*), COALESCE(SUM(size), 0) FROM files").Scan(&stats.TotalFiles, &stats.TotalSize); err != nil {
		return FileStats{}, err
	}

	rows, err := s.db.Query("SELECT type, COUNT(*) FROM files GROUP BY type")
	if err != nil {
		return FileStats{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var typ string
		var count int
		if err := rows.Scan(&typ, &count); err != nil {
			return FileStats{}, err
		}
		stats.ByType[typ] = count
	}
	return stats, rows.Err()
}

// --- Parses ---

func (s *Store) SaveParse(p ParseRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO parses (id, file_id, file_name, content, summary, text_length, file_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.FileID, p.FileName, p.Content, p.Summary, p.TextLength, p.FileType,
		p.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

const parseColumns = "id, file_id, file_name, content, summary, text_length, file_type, created_at"

func scanParse(row interface{ Scan(...any) error }) (ParseRecord, error) {
	var p ParseRecord
	var createdAt string
	if err := row.Scan(&p.ID, &p.FileID, &p.FileName, &p.Content, &p.Summary, &p.TextLength, &p.FileType, &createdAt); err != nil {
		return ParseRecord{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return ParseRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	p.CreatedAt = t
	return p, nil
}

func (s *Store) GetParse(id string) (ParseRecord, error) {
	row := s.db.QueryRow("SELECT "+parseColumns+" FROM parses WHERE id = ?", id)
	p, err := scanParse(row)
	if err == sql.ErrNoRows {
		return ParseRecord{}, ErrNotFound
	}
	return p, err
}

// GetParseByFileID returns the most recent parse of the given upload.
func (s *Store) GetParseByFileID(fileID string) (ParseRecord, error) {
	row := s.db.QueryRow("SELECT "+parseColumns+" FROM parses WHERE file_id = ? ORDER BY created_at DESC LIMIT 1", fileID)
	p, err := scanParse(row)
	if err == sql.ErrNoRows {
		return ParseRecord{}, ErrNotFound
	}
	return p, err
}

func (s *Store) ListParses(limit, offset int) ([]ParseRecord, error) {
	rows, err := s.db.Query("SELECT "+parseColumns+" FROM parses ORDER BY created_at DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ParseRecord
	for rows.Next() {
		p, err := scanParse(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

func (s *Store) DeleteParse(id string) error {
	res, err := s.db.Exec("DELETE FROM parses WHERE id = ?", id)
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

// DeleteParsesByFile removes every parse record of the given file and
// reports how many were removed.
func (s *Store) DeleteParsesByFile(fileID string) (int, error) {
	res, err := s.db.Exec("DELETE FROM parses WHERE file_id = ?", fileID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// SearchParses matches keyword case-insensitively against content and file name.
func (s *Store) SearchParses(keyword string, limit int) ([]ParseRecord, error) {
	pattern := "%" + strings.ToLower(keyword) + "%"
	rows, err := s.db.Query(`
		SELECT `+parseColumns+` FROM parses
		WHERE LOWER(content) LIKE ? OR LOWER(file_name) LIKE ?
		ORDER BY created_at DESC LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ParseRecord
	for rows.Next() {
		p, err := scanParse(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// --- Segments ---

// SaveSegments inserts all segments in a single transaction.
func (s *Store) SaveSegments(segments []SegmentRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning segment transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO segments (id, file_id, file_name, ord, text, tags, character_count, word_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing segment insert: %w", err)
	}
	defer stmt.Close()

	for _, seg := range segments {
		tags := seg.Tags
		if tags == "" {
			tags = "[]"
		}
		createdAt := seg.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		updatedAt := seg.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = createdAt
		}
		if _, err := stmt.Exec(seg.ID, seg.FileID, seg.FileName, seg.Order, seg.Text, tags,
			seg.CharacterCount, seg.WordCount,
			createdAt.Format(time.RFC3339), updatedAt.Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting segment %s: %w", seg.ID, err)
		}
	}

	return tx.Commit()
}

const segmentColumns = "id, file_id, file_name, ord, text, tags, character_count, word_count, created_at, updated_at"

func scanSegment(row interface{ Scan(...any) error }) (SegmentRecord, error) {
	var seg SegmentRecord
	var createdAt, updatedAt string
	if err := row.Scan(&seg.ID, &seg.FileID, &seg.FileName, &seg.Order, &seg.Text, &seg.Tags,
		&seg.CharacterCount, &seg.WordCount, &createdAt, &updatedAt); err != nil {
		return SegmentRecord{}, err
	}
	var err error
	if seg.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return SegmentRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if seg.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return SegmentRecord{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return seg, nil
}

func (s *Store) GetSegment(id string) (SegmentRecord, error) {
	row := s.db.QueryRow("SELECT "+segmentColumns+" FROM segments WHERE id = ?", id)
	seg, err := scanSegment(row)
	if err == sql.ErrNoRows {
		return SegmentRecord{}, ErrNotFound
	}
	return seg, err
}

func (s *Store) GetSegmentsByFile(fileID string) ([]SegmentRecord, error) {
	rows, err := s.db.Query("SELECT "+segmentColumns+" FROM segments WHERE file_id = ? ORDER BY ord ASC", fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SegmentRecord
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, seg)
	}
	return results, rows.Err()
}

// UpdateSegmentTags replaces a segment's tags with the given JSON array.
func (s *Store) UpdateSegmentTags(id, tagsJSON string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec("UPDATE segments SET tags = ?, updated_at = ? WHERE id = ?", tagsJSON, now, id)
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

// SearchSegments matches keyword case-insensitively against segment text.
func (s *Store) SearchSegments(keyword string, limit int) ([]SegmentRecord, error) {
	pattern := "%" + strings.ToLower(keyword) + "%"
	rows, err := s.db.Query(`
		SELECT `+segmentColumns+` FROM segments
		WHERE LOWER(text) LIKE ?
		ORDER BY file_id, ord LIMIT ?`, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SegmentRecord
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, seg)
	}
	return results, rows.Err()
}

// SegmentsByTags returns segments carrying at least one of the given tags.
func (s *Store) SegmentsByTags(tags []string, limit int) ([]SegmentRecord, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	conditions := make([]string, len(tags))
	args := make([]any, 0, len(tags)+1)
	for i, tag := range tags {
		conditions[i] = "tags LIKE ?"
		// Tags are stored as a JSON array, so a tag always appears quoted.
		args = append(args, `%"`+tag+`"%`)
	}
	args = append(args, limit)

	query := "SELECT " + segmentColumns + " FROM segments WHERE " +
		strings.Join(conditions, " OR ") + " ORDER BY file_id, ord LIMIT ?"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SegmentRecord
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, seg)
	}
	return results, rows.Err()
}

// AllSegmentTags returns every distinct tag with its usage count.
func (s *Store) AllSegmentTags() (map[string]int, error) {
	rows, err := s.db.Query("SELECT tags FROM segments")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var tagsJSON string
		if err := rows.Scan(&tagsJSON); err != nil {
			return nil, err
		}
		var tags []string
		if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
			continue
		}
		for _, tag := range tags {
			counts[tag]++
		}
	}
	return counts, rows.Err()
}

func (s *Store) GetSegmentStats() (SegmentStats, error) {
	stats := SegmentStats{TagCounts: make(map[string]int)}

	var totalChars int64
	err := s.db.QueryRow(`
		SELECT COUNT(*), COUNT(DISTINCT file_id), COALESCE(SUM(character_count), 0)
		FROM segments`).Scan(&stats.TotalSegments, &stats.TotalFiles, &totalChars)
	if err != nil {
		return SegmentStats{}, err
	}
	if stats.TotalSegments > 0 {
		stats.AvgLength = float64(totalChars) / float64(stats.TotalSegments)
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM segments WHERE tags != '[]'`).Scan(&stats.TaggedSegments); err != nil {
		return SegmentStats{}, err
	}

	tagCounts, err := s.AllSegmentTags()
	if err != nil {
		return SegmentStats{}, err
	}
	stats.TagCounts = tagCounts
	return stats, nil
}

// DeleteSegmentsByFile removes all segments of a file, returning the count removed.
func (s *Store) DeleteSegmentsByFile(fileID string) (int, error) {
	res, err := s.db.Exec("DELETE FROM segments WHERE file_id = ?", fileID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
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

// --- Key-value blobs ---

func (s *Store) GetBlob(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return value, err
}

func (s *Store) SetBlob(key string, value []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) RemoveBlob(key string) error {
	_, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key)
	return err
}
