package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/vidlens/engine/internal/model"
)

// SQLStore is a database/sql implementation of Store for sqlite and postgres.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore opens the database and runs migrations. dialect is "sqlite" or
// "postgres".
func NewSQLStore(dialect, dsn string) (*SQLStore, error) {
	var driver string
	switch dialect {
	case "sqlite":
		driver = "sqlite"
	case "postgres":
		driver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", dialect, err)
	}

	if dialect == "sqlite" {
		// Serialize writers; an in-memory database also lives on a single connection.
		db.SetMaxOpenConns(1)
		if _, err = db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) migrate() error {
	ts := "DATETIME"
	if s.dialect == "postgres" {
		ts = "TIMESTAMPTZ"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id           TEXT PRIMARY KEY,
			subject_id   TEXT NOT NULL,
			type         TEXT NOT NULL,
			status       TEXT NOT NULL,
			progress     DOUBLE PRECISION NOT NULL DEFAULT 0,
			parameters   TEXT,
			error        TEXT NOT NULL DEFAULT '',
			created_at   ` + ts + ` NOT NULL,
			updated_at   ` + ts + ` NOT NULL,
			started_at   ` + ts + `,
			completed_at ` + ts + `
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_subject ON jobs(subject_id)`,
		`CREATE TABLE IF NOT EXISTS results (
			id           TEXT PRIMARY KEY,
			job_id       TEXT NOT NULL,
			name         TEXT NOT NULL,
			type         TEXT NOT NULL,
			data_id      TEXT NOT NULL DEFAULT '',
			artifact_key TEXT NOT NULL DEFAULT '',
			created_at   ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_job ON results(job_id)`,
		`CREATE TABLE IF NOT EXISTS subjects (
			id       TEXT PRIMARY KEY,
			path     TEXT NOT NULL,
			duration DOUBLE PRECISION NOT NULL DEFAULT 0,
			fps      DOUBLE PRECISION NOT NULL DEFAULT 0,
			width    INTEGER NOT NULL DEFAULT 0,
			height   INTEGER NOT NULL DEFAULT 0,
			added_at ` + ts + ` NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func (s *SQLStore) Create(ctx context.Context, r *model.JobRecord) error {
	params, err := json.Marshal(r.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}

	existing, err := s.Get(ctx, r.ID)
	if err == nil && existing != nil {
		return fmt.Errorf("job %s: %w", r.ID, ErrExists)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO jobs
			(id, subject_id, type, status, progress, parameters, error, created_at, updated_at, started_at, completed_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		r.ID,
		r.SubjectID,
		r.Type,
		string(r.Status),
		r.Progress,
		string(params),
		r.Error,
		r.CreatedAt.UTC(),
		r.UpdatedAt.UTC(),
		nullableTime(r.StartedAt),
		nullableTime(r.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

const jobColumns = `id, subject_id, type, status, progress, parameters, error, created_at, updated_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.JobRecord, error) {
	r := &model.JobRecord{}
	var status string
	var params sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.SubjectID, &r.Type, &status, &r.Progress, &params,
		&r.Error, &r.CreatedAt, &r.UpdatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = model.JobStatus(status)
	if params.Valid && params.String != "" && params.String != "null" {
		if err := json.Unmarshal([]byte(params.String), &r.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		r.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		r.CompletedAt = &t
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*model.JobRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)

	r, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return r, nil
}

func (s *SQLStore) Update(ctx context.Context, r *model.JobRecord) error {
	params, err := json.Marshal(r.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE jobs
		SET status = ?, progress = ?, parameters = ?, error = ?,
		    updated_at = ?, started_at = ?, completed_at = ?
		WHERE id = ?
	`),
		string(r.Status),
		r.Progress,
		string(params),
		r.Error,
		r.UpdatedAt.UTC(),
		nullableTime(r.StartedAt),
		nullableTime(r.CompletedAt),
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s: %w", r.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) queryJobs(ctx context.Context, query string, args ...any) ([]*model.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var records []*model.JobRecord
	for rows.Next() {
		r, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLStore) ListByStatus(ctx context.Context, statuses ...model.JobStatus) ([]*model.JobRecord, error) {
	if len(statuses) == 0 {
		return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at ASC`)
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status IN (` + strings.Join(placeholders, ", ") + `) ORDER BY created_at ASC`
	return s.queryJobs(ctx, query, args...)
}

func (s *SQLStore) ListBySubject(ctx context.Context, subjectID string) ([]*model.JobRecord, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE subject_id = ? ORDER BY created_at DESC`, subjectID)
}

func (s *SQLStore) SaveResult(ctx context.Context, r *model.PluginResult) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO results (id, job_id, name, type, data_id, artifact_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`),
		r.ID, r.JobID, r.Name, r.Type, r.DataID, r.ArtifactKey, r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save result %s: %w", r.ID, err)
	}
	return nil
}

const resultColumns = `id, job_id, name, type, data_id, artifact_key, created_at`

func scanResult(row rowScanner) (*model.PluginResult, error) {
	r := &model.PluginResult{}
	if err := row.Scan(&r.ID, &r.JobID, &r.Name, &r.Type, &r.DataID, &r.ArtifactKey, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

func (s *SQLStore) Results(ctx context.Context, jobID string) ([]*model.PluginResult, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+resultColumns+` FROM results WHERE job_id = ? ORDER BY created_at ASC, id ASC`), jobID)
	if err != nil {
		return nil, fmt.Errorf("list results for job %s: %w", jobID, err)
	}
	defer rows.Close()

	results := []*model.PluginResult{}
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLStore) GetResult(ctx context.Context, id string) (*model.PluginResult, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+resultColumns+` FROM results WHERE id = ?`), id)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get result %s: %w", id, err)
	}
	return r, nil
}

func (s *SQLStore) PutSubject(ctx context.Context, subject *model.Subject) error {
	addedAt := subject.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO subjects (id, path, duration, fps, width, height, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			path = excluded.path,
			duration = excluded.duration,
			fps = excluded.fps,
			width = excluded.width,
			height = excluded.height
	`),
		subject.ID, subject.Path, subject.Duration, subject.FPS, subject.Width, subject.Height, addedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save subject %s: %w", subject.ID, err)
	}
	return nil
}

func (s *SQLStore) GetSubject(ctx context.Context, id string) (*model.Subject, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, path, duration, fps, width, height, added_at FROM subjects WHERE id = ?
	`), id)

	subject := &model.Subject{}
	err := row.Scan(&subject.ID, &subject.Path, &subject.Duration, &subject.FPS, &subject.Width, &subject.Height, &subject.AddedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subject %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get subject %s: %w", id, err)
	}
	subject.AddedAt = subject.AddedAt.UTC()
	return subject, nil
}
