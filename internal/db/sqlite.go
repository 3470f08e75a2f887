package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"JobMailer/internal/models"
	"JobMailer/internal/store"
)

// SQLiteStore keeps timestamps as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// OpenSQLite opens dsn with a single connection so writers never contend
// for the database lock.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	return &SQLiteStore{db: conn}, nil
}

func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

func millis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

const sqliteContactColumns = `id, name, email, source, status, failure_reason, sent_at, resume_path, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteContact(row rowScanner) (models.Contact, error) {
	var (
		c       models.Contact
		status  string
		reason  sql.NullString
		sentAt  sql.NullInt64
		resume  sql.NullString
		created int64
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Source, &status, &reason, &sentAt, &resume, &created); err != nil {
		return models.Contact{}, err
	}
	c.Status = models.ContactStatus(status)
	c.CreatedAt = fromMillis(created)
	if reason.Valid {
		c.FailureReason = &reason.String
	}
	if sentAt.Valid {
		t := fromMillis(sentAt.Int64)
		c.SentAt = &t
	}
	if resume.Valid {
		c.ResumePath = &resume.String
	}
	return c, nil
}

func (s *SQLiteStore) List(ctx context.Context, f models.ListFilter) ([]models.Contact, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		pattern := likePattern(search)
		where = append(where, `(name LIKE ? ESCAPE '\' OR email LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`+clause, args...).Scan(&total); err != nil {
		return nil, 0, storageErr("count contacts", err)
	}

	limit, offset := pageBounds(f)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteContactColumns+` FROM contacts`+clause+` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, storageErr("list contacts", err)
	}
	contacts, err := collectSQLiteContacts(rows)
	if err != nil {
		return nil, 0, storageErr("list contacts", err)
	}
	return contacts, total, nil
}

func (s *SQLiteStore) GetByEmail(ctx context.Context, email string) (*models.Contact, error) {
	c, err := scanSQLiteContact(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteContactColumns+` FROM contacts WHERE email = ?`,
		models.NormalizeEmail(email),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get contact", err)
	}
	return &c, nil
}

func (s *SQLiteStore) GetByID(ctx context.Context, id int64) (*models.Contact, error) {
	c, err := scanSQLiteContact(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteContactColumns+` FROM contacts WHERE id = ?`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get contact", err)
	}
	return &c, nil
}

func (s *SQLiteStore) Create(ctx context.Context, in models.NewContact) (models.Contact, bool, error) {
	email := models.NormalizeEmail(in.Email)

	var resume sql.NullString
	if in.ResumePath != nil {
		resume = sql.NullString{String: *in.ResumePath, Valid: true}
	}

	c, err := scanSQLiteContact(s.db.QueryRowContext(ctx,
		`INSERT INTO contacts (name, email, source, status, resume_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (email) DO NOTHING
		 RETURNING `+sqliteContactColumns,
		in.Name, email, in.Source, string(models.StatusPending), resume, millis(time.Now()),
	))
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Contact{}, false, storageErr("create contact", err)
	}

	existing, err := s.GetByEmail(ctx, email)
	if err != nil {
		return models.Contact{}, false, err
	}
	if existing == nil {
		return models.Contact{}, false, storageErr("create contact", fmt.Errorf("conflicting row for %s vanished", email))
	}
	return *existing, false, nil
}

func (s *SQLiteStore) SetStatus(ctx context.Context, id int64, status models.ContactStatus, reason string) (models.Contact, error) {
	sentAt, failure := transition(status, reason, time.Now())

	var sentArg, failureArg any
	if sentAt != nil {
		sentArg = millis(*sentAt)
	}
	if failure != nil {
		failureArg = *failure
	}

	c, err := scanSQLiteContact(s.db.QueryRowContext(ctx,
		`UPDATE contacts
		 SET status = ?,
		     failure_reason = ?,
		     sent_at = COALESCE(?, sent_at)
		 WHERE id = ?
		 RETURNING `+sqliteContactColumns,
		string(status), failureArg, sentArg, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Contact{}, fmt.Errorf("%w: contact %d", models.ErrNotFound, id)
	}
	if err != nil {
		return models.Contact{}, storageErr("update contact status", err)
	}
	return c, nil
}

func (s *SQLiteStore) CountsByStatus(ctx context.Context) (models.Stats, error) {
	var st models.Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'sent' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'skipped' THEN 1 ELSE 0 END), 0)
		 FROM contacts`,
	).Scan(&st.Total, &st.Pending, &st.Sent, &st.Failed, &st.Skipped)
	if err != nil {
		return models.Stats{}, storageErr("count contacts by status", err)
	}
	return st, nil
}

func (s *SQLiteStore) ListPending(ctx context.Context) ([]models.Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteContactColumns+` FROM contacts WHERE status = ? ORDER BY created_at ASC, id ASC`,
		string(models.StatusPending),
	)
	if err != nil {
		return nil, storageErr("list pending contacts", err)
	}
	contacts, err := collectSQLiteContacts(rows)
	if err != nil {
		return nil, storageErr("list pending contacts", err)
	}
	return contacts, nil
}

func collectSQLiteContacts(rows *sql.Rows) ([]models.Contact, error) {
	defer rows.Close()

	out := make([]models.Contact, 0)
	for rows.Next() {
		c, err := scanSQLiteContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ------------------------------------------------
// Settings
// ------------------------------------------------

const sqliteSettingsColumns = `smtp_host, smtp_port, smtp_user, smtp_pass, smtp_secure, email_subject, email_body, delay_min, delay_max, is_active, resume_filename, updated_at`

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqliteLoadSettings(ctx context.Context, q execQuerier) (models.Settings, error) {
	if _, err := q.ExecContext(ctx,
		`INSERT INTO settings (id, updated_at) VALUES (1, ?) ON CONFLICT (id) DO NOTHING`,
		millis(time.Now()),
	); err != nil {
		return models.Settings{}, storageErr("create settings", err)
	}

	var (
		st      models.Settings
		updated int64
	)
	err := q.QueryRowContext(ctx, `SELECT `+sqliteSettingsColumns+` FROM settings WHERE id = 1`).Scan(
		&st.SMTPHost,
		&st.SMTPPort,
		&st.SMTPUser,
		&st.SMTPPass,
		&st.SMTPSecure,
		&st.EmailSubject,
		&st.EmailBody,
		&st.DelayMin,
		&st.DelayMax,
		&st.IsActive,
		&st.ResumeFilename,
		&updated,
	)
	if err != nil {
		return models.Settings{}, storageErr("get settings", err)
	}
	st.UpdatedAt = fromMillis(updated)
	return st, nil
}

func (s *SQLiteStore) Get(ctx context.Context) (models.Settings, error) {
	return sqliteLoadSettings(ctx, s.db)
}

func (s *SQLiteStore) Update(ctx context.Context, p models.SettingsPatch) (models.Settings, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Settings{}, storageErr("begin settings update", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := sqliteLoadSettings(ctx, tx)
	if err != nil {
		return models.Settings{}, err
	}
	if err := current.Apply(p); err != nil {
		return models.Settings{}, err
	}
	current.UpdatedAt = time.UnixMilli(millis(time.Now())).UTC()

	_, err = tx.ExecContext(ctx,
		`UPDATE settings
		 SET smtp_host = ?, smtp_port = ?, smtp_user = ?, smtp_pass = ?, smtp_secure = ?,
		     email_subject = ?, email_body = ?, delay_min = ?, delay_max = ?, is_active = ?,
		     resume_filename = ?, updated_at = ?
		 WHERE id = 1`,
		current.SMTPHost, current.SMTPPort, current.SMTPUser, current.SMTPPass, current.SMTPSecure,
		current.EmailSubject, current.EmailBody, current.DelayMin, current.DelayMax, current.IsActive,
		current.ResumeFilename, millis(current.UpdatedAt),
	)
	if err != nil {
		return models.Settings{}, storageErr("update settings", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Settings{}, storageErr("commit settings update", err)
	}
	return current, nil
}
