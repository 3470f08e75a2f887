package db_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"JobMailer/internal/db"
	"JobMailer/internal/models"
)

var (
	contactCols  = []string{"id", "name", "email", "source", "status", "failure_reason", "sent_at", "resume_path", "created_at"}
	settingsCols = []string{
		"smtp_host", "smtp_port", "smtp_user", "smtp_pass", "smtp_secure", "email_subject", "email_body",
		"delay_min", "delay_max", "is_active", "resume_filename", "updated_at",
	}
	testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *db.Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, db.NewWithDB(mock)
}

func defaultSettingsRow() *pgxmock.Rows {
	return pgxmock.NewRows(settingsCols).
		AddRow("", 587, "", "stored-pass", false, "Job Application", "", 180, 240, false, "", testNow)
}

func TestPostgresCreate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		setup       func(mock pgxmock.PgxPoolIface)
		wantCreated bool
		wantID      int64
		wantErr     error
	}{
		{
			name: "inserts new pending contact with normalized email",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("INSERT INTO contacts").
					WithArgs("Ann", "ann@example.com", models.SourceManual, "pending", (*string)(nil)).
					WillReturnRows(pgxmock.NewRows(contactCols).
						AddRow(int64(7), "Ann", "ann@example.com", models.SourceManual, "pending", nil, nil, nil, testNow))
			},
			wantCreated: true,
			wantID:      7,
		},
		{
			name: "conflict returns the existing row",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("INSERT INTO contacts").
					WithArgs("Ann", "ann@example.com", models.SourceManual, "pending", (*string)(nil)).
					WillReturnError(pgx.ErrNoRows)
				mock.ExpectQuery("SELECT (.+) FROM contacts WHERE email").
					WithArgs("ann@example.com").
					WillReturnRows(pgxmock.NewRows(contactCols).
						AddRow(int64(3), "Ann", "ann@example.com", "csv:list.csv", "sent", nil, &testNow, nil, testNow))
			},
			wantCreated: false,
			wantID:      3,
		},
		{
			name: "driver error is a storage error",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("INSERT INTO contacts").
					WithArgs("Ann", "ann@example.com", models.SourceManual, "pending", (*string)(nil)).
					WillReturnError(errors.New("connection reset"))
			},
			wantErr: models.ErrStorage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mock, s := newMock(t)
			tt.setup(mock)

			c, created, err := s.Create(context.Background(), models.NewContact{
				Name:   "Ann",
				Email:  " Ann@Example.com",
				Source: models.SourceManual,
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantCreated, created)
				assert.Equal(t, tt.wantID, c.ID)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresSetStatus(t *testing.T) {
	t.Parallel()

	t.Run("sent stamps sentAt and clears the reason", func(t *testing.T) {
		t.Parallel()
		mock, s := newMock(t)

		mock.ExpectQuery("UPDATE contacts").
			WithArgs("sent", (*string)(nil), pgxmock.AnyArg(), int64(5)).
			WillReturnRows(pgxmock.NewRows(contactCols).
				AddRow(int64(5), "B", "b@example.com", models.SourceManual, "sent", nil, &testNow, nil, testNow))

		c, err := s.SetStatus(context.Background(), 5, models.StatusSent, "")
		require.NoError(t, err)
		assert.Equal(t, models.StatusSent, c.Status)
		require.NotNil(t, c.SentAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed records the reason and keeps sentAt", func(t *testing.T) {
		t.Parallel()
		mock, s := newMock(t)

		reason := "535 authentication failed"
		mock.ExpectQuery("UPDATE contacts").
			WithArgs("failed", &reason, (*time.Time)(nil), int64(5)).
			WillReturnRows(pgxmock.NewRows(contactCols).
				AddRow(int64(5), "B", "b@example.com", models.SourceManual, "failed", &reason, nil, nil, testNow))

		c, err := s.SetStatus(context.Background(), 5, models.StatusFailed, reason)
		require.NoError(t, err)
		require.NotNil(t, c.FailureReason)
		assert.Equal(t, reason, *c.FailureReason)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		t.Parallel()
		mock, s := newMock(t)

		mock.ExpectQuery("UPDATE contacts").
			WithArgs("skipped", (*string)(nil), (*time.Time)(nil), int64(404)).
			WillReturnError(pgx.ErrNoRows)

		_, err := s.SetStatus(context.Background(), 404, models.StatusSkipped, "")
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresGetByID(t *testing.T) {
	t.Parallel()
	mock, s := newMock(t)

	mock.ExpectQuery("FROM contacts WHERE id = ").
		WithArgs(int64(9)).
		WillReturnRows(pgxmock.NewRows(contactCols).
			AddRow(int64(9), "C", "c@example.com", models.SourceManual, "skipped", nil, nil, nil, testNow))
	mock.ExpectQuery("FROM contacts WHERE id = ").
		WithArgs(int64(10)).
		WillReturnError(pgx.ErrNoRows)

	c, err := s.GetByID(context.Background(), 9)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, models.StatusSkipped, c.Status)

	missing, err := s.GetByID(context.Background(), 10)
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCountsByStatus(t *testing.T) {
	t.Parallel()
	mock, s := newMock(t)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"total", "pending", "sent", "failed", "skipped"}).
			AddRow(10, 4, 3, 2, 1))

	st, err := s.CountsByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Stats{Total: 10, Pending: 4, Sent: 3, Failed: 2, Skipped: 1}, st)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSettingsGetCreatesSingleton(t *testing.T) {
	t.Parallel()
	mock, s := newMock(t)

	mock.ExpectExec("INSERT INTO settings").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT (.+) FROM settings WHERE id = 1").WillReturnRows(defaultSettingsRow())

	st, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 587, st.SMTPPort)
	assert.Equal(t, 180, st.DelayMin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSettingsUpdate(t *testing.T) {
	t.Parallel()

	t.Run("empty password keeps the stored one", func(t *testing.T) {
		t.Parallel()
		mock, s := newMock(t)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO settings").WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mock.ExpectQuery("FOR UPDATE").WillReturnRows(defaultSettingsRow())
		mock.ExpectQuery("UPDATE settings").
			WithArgs("smtp.example.com", 587, "", "stored-pass", false, "Job Application", "", 180, 240, false, "").
			WillReturnRows(pgxmock.NewRows(settingsCols).
				AddRow("smtp.example.com", 587, "", "stored-pass", false, "Job Application", "", 180, 240, false, "", testNow))
		mock.ExpectCommit()

		host, empty := "smtp.example.com", ""
		st, err := s.Update(context.Background(), models.SettingsPatch{SMTPHost: &host, SMTPPass: &empty})
		require.NoError(t, err)
		assert.Equal(t, "stored-pass", st.SMTPPass)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("inverted delay bounds are rejected", func(t *testing.T) {
		t.Parallel()
		mock, s := newMock(t)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO settings").WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mock.ExpectQuery("FOR UPDATE").WillReturnRows(defaultSettingsRow())
		mock.ExpectRollback()

		lo := 10
		_, err := s.Update(context.Background(), models.SettingsPatch{DelayMax: &lo})
		assert.ErrorIs(t, err, models.ErrValidation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
