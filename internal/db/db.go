package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"JobMailer/internal/models"
	"JobMailer/internal/store"
)

// DB is the subset of *pgxpool.Pool the Postgres store uses.
// pgxmock satisfies it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

type Store struct {
	Pool  DB
	close func()
}

var _ store.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool, close: pool.Close}
}

// NewWithDB wraps any DB implementation; Close becomes a no-op.
func NewWithDB(db DB) *Store {
	return &Store{Pool: db}
}

func (s *Store) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.Pool.Ping(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

const pgContactColumns = `id, name, email, source, status, failure_reason, sent_at, resume_path, created_at`

func scanPGContact(row pgx.Row) (models.Contact, error) {
	var (
		c      models.Contact
		status string
	)
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Email,
		&c.Source,
		&status,
		&c.FailureReason,
		&c.SentAt,
		&c.ResumePath,
		&c.CreatedAt,
	)
	c.Status = models.ContactStatus(status)
	return c, err
}

func (s *Store) List(ctx context.Context, f models.ListFilter) ([]models.Contact, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		args = append(args, likePattern(search))
		where = append(where, fmt.Sprintf(`(name ILIKE $%[1]d ESCAPE '\' OR email ILIKE $%[1]d ESCAPE '\')`, len(args)))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM contacts`+clause, args...).Scan(&total); err != nil {
		return nil, 0, storageErr("count contacts", err)
	}

	limit, offset := pageBounds(f)
	args = append(args, limit, offset)
	q := fmt.Sprintf(`SELECT %s FROM contacts%s ORDER BY created_at ASC, id ASC LIMIT $%d OFFSET $%d`,
		pgContactColumns, clause, len(args)-1, len(args))

	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, storageErr("list contacts", err)
	}
	contacts, err := collectPGContacts(rows)
	if err != nil {
		return nil, 0, storageErr("list contacts", err)
	}
	return contacts, total, nil
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*models.Contact, error) {
	c, err := scanPGContact(s.Pool.QueryRow(ctx,
		`SELECT `+pgContactColumns+` FROM contacts WHERE email = $1`,
		models.NormalizeEmail(email),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get contact", err)
	}
	return &c, nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*models.Contact, error) {
	c, err := scanPGContact(s.Pool.QueryRow(ctx,
		`SELECT `+pgContactColumns+` FROM contacts WHERE id = $1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get contact", err)
	}
	return &c, nil
}

func (s *Store) Create(ctx context.Context, in models.NewContact) (models.Contact, bool, error) {
	email := models.NormalizeEmail(in.Email)

	c, err := scanPGContact(s.Pool.QueryRow(ctx,
		`INSERT INTO contacts (name, email, source, status, resume_path, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (email) DO NOTHING
		 RETURNING `+pgContactColumns,
		in.Name,
		email,
		in.Source,
		string(models.StatusPending),
		in.ResumePath,
	))
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
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

func (s *Store) SetStatus(ctx context.Context, id int64, status models.ContactStatus, reason string) (models.Contact, error) {
	sentAt, failure := transition(status, reason, time.Now().UTC())

	c, err := scanPGContact(s.Pool.QueryRow(ctx,
		`UPDATE contacts
		 SET status = $1,
		     failure_reason = $2,
		     sent_at = COALESCE($3, sent_at)
		 WHERE id = $4
		 RETURNING `+pgContactColumns,
		string(status),
		failure,
		sentAt,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Contact{}, fmt.Errorf("%w: contact %d", models.ErrNotFound, id)
	}
	if err != nil {
		return models.Contact{}, storageErr("update contact status", err)
	}
	return c, nil
}

func (s *Store) CountsByStatus(ctx context.Context) (models.Stats, error) {
	var st models.Stats
	err := s.Pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'pending'),
		        COUNT(*) FILTER (WHERE status = 'sent'),
		        COUNT(*) FILTER (WHERE status = 'failed'),
		        COUNT(*) FILTER (WHERE status = 'skipped')
		 FROM contacts`,
	).Scan(&st.Total, &st.Pending, &st.Sent, &st.Failed, &st.Skipped)
	if err != nil {
		return models.Stats{}, storageErr("count contacts by status", err)
	}
	return st, nil
}

func (s *Store) ListPending(ctx context.Context) ([]models.Contact, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+pgContactColumns+` FROM contacts WHERE status = $1 ORDER BY created_at ASC, id ASC`,
		string(models.StatusPending),
	)
	if err != nil {
		return nil, storageErr("list pending contacts", err)
	}
	contacts, err := collectPGContacts(rows)
	if err != nil {
		return nil, storageErr("list pending contacts", err)
	}
	return contacts, nil
}

func collectPGContacts(rows pgx.Rows) ([]models.Contact, error) {
	defer rows.Close()

	out := make([]models.Contact, 0)
	for rows.Next() {
		c, err := scanPGContact(rows)
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

const pgSettingsColumns = `smtp_host, smtp_port, smtp_user, smtp_pass, smtp_secure, email_subject, email_body, delay_min, delay_max, is_active, resume_filename, updated_at`

// The singleton always lives at id 1; the primary key makes concurrent
// first access create exactly one row.
const pgEnsureSettings = `INSERT INTO settings (id) VALUES (1) ON CONFLICT (id) DO NOTHING`

func scanPGSettings(row pgx.Row) (models.Settings, error) {
	var st models.Settings
	err := row.Scan(
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
		&st.UpdatedAt,
	)
	return st, err
}

func (s *Store) Get(ctx context.Context) (models.Settings, error) {
	if _, err := s.Pool.Exec(ctx, pgEnsureSettings); err != nil {
		return models.Settings{}, storageErr("create settings", err)
	}
	st, err := scanPGSettings(s.Pool.QueryRow(ctx, `SELECT `+pgSettingsColumns+` FROM settings WHERE id = 1`))
	if err != nil {
		return models.Settings{}, storageErr("get settings", err)
	}
	return st, nil
}

func (s *Store) Update(ctx context.Context, p models.SettingsPatch) (models.Settings, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return models.Settings{}, storageErr("begin settings update", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, pgEnsureSettings); err != nil {
		return models.Settings{}, storageErr("create settings", err)
	}
	current, err := scanPGSettings(tx.QueryRow(ctx, `SELECT `+pgSettingsColumns+` FROM settings WHERE id = 1 FOR UPDATE`))
	if err != nil {
		return models.Settings{}, storageErr("lock settings", err)
	}
	if err := current.Apply(p); err != nil {
		return models.Settings{}, err
	}

	updated, err := scanPGSettings(tx.QueryRow(ctx,
		`UPDATE settings
		 SET smtp_host = $1,
		     smtp_port = $2,
		     smtp_user = $3,
		     smtp_pass = $4,
		     smtp_secure = $5,
		     email_subject = $6,
		     email_body = $7,
		     delay_min = $8,
		     delay_max = $9,
		     is_active = $10,
		     resume_filename = $11,
		     updated_at = NOW()
		 WHERE id = 1
		 RETURNING `+pgSettingsColumns,
		current.SMTPHost,
		current.SMTPPort,
		current.SMTPUser,
		current.SMTPPass,
		current.SMTPSecure,
		current.EmailSubject,
		current.EmailBody,
		current.DelayMin,
		current.DelayMax,
		current.IsActive,
		current.ResumeFilename,
	))
	if err != nil {
		return models.Settings{}, storageErr("update settings", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Settings{}, storageErr("commit settings update", err)
	}
	return updated, nil
}
