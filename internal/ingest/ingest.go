// Package ingest feeds the contact queue: manual entry, CSV import and
// quick-send, each with its own duplicate policy, plus the test email and
// resume upload that operate on the same settings.
package ingest

import (
	"context"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"JobMailer/internal/csvparser"
	"JobMailer/internal/email"
	"JobMailer/internal/metrics"
	"JobMailer/internal/models"
	"JobMailer/internal/store"
)

// DefaultMaxRows caps a CSV import when no limit is configured.
const DefaultMaxRows = 10000

type Options struct {
	UploadDir string
	MaxRows   int
	Log       *zap.Logger
}

type Service struct {
	contacts   store.ContactStore
	settings   store.SettingsStore
	transports email.Factory

	uploadDir string
	maxRows   int
	log       *zap.Logger
}

func New(contacts store.ContactStore, settings store.SettingsStore, transports email.Factory, opts Options) *Service {
	s := &Service{
		contacts:   contacts,
		settings:   settings,
		transports: transports,
		uploadDir:  opts.UploadDir,
		maxRows:    opts.MaxRows,
		log:        opts.Log,
	}
	if s.maxRows <= 0 {
		s.maxRows = DefaultMaxRows
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// ImportResult counts what a CSV import did. Processed covers new and
// recycled contacts.
type ImportResult struct {
	Processed  int `json:"processed"`
	Duplicates int `json:"duplicates"`
}

// CreateManual adds a contact by hand. A previously failed address is
// recycled to pending; a sent or still queued one is a conflict.
func (s *Service) CreateManual(ctx context.Context, in models.NewContact) (models.Contact, error) {
	addr, err := parseAddress(in.Email)
	if err != nil {
		return models.Contact{}, err
	}
	in.Email = addr
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return models.Contact{}, fmt.Errorf("%w: name is required", models.ErrValidation)
	}
	if strings.TrimSpace(in.Source) == "" {
		in.Source = models.SourceManual
	}

	existing, err := s.contacts.GetByEmail(ctx, addr)
	if err != nil {
		return models.Contact{}, err
	}
	if existing == nil {
		c, created, err := s.contacts.Create(ctx, in)
		if err != nil {
			return models.Contact{}, err
		}
		if created {
			s.log.Info("contact created", zap.Int64("contact_id", c.ID), zap.String("source", c.Source))
			return c, nil
		}
		// Lost a race with another insert; treat it as pre-existing.
		existing = &c
	}

	switch existing.Status {
	case models.StatusSent:
		return models.Contact{}, fmt.Errorf("%w: %s was already contacted", models.ErrConflict, addr)
	case models.StatusFailed:
		return s.recycle(ctx, *existing)
	default:
		return models.Contact{}, fmt.Errorf("%w: %s is already queued", models.ErrConflict, addr)
	}
}

// ImportCSV queues every row of an uploaded CSV. New addresses are created,
// failed ones recycled; anything else counts as a duplicate and is left
// alone. A storage error stops the import with the counts so far.
func (s *Service) ImportCSV(ctx context.Context, r io.Reader, filename string) (ImportResult, error) {
	var res ImportResult

	rows, err := csvparser.ParseContactRows(r, s.maxRows)
	if err != nil {
		return res, fmt.Errorf("%w: %w", models.ErrValidation, err)
	}

	source := models.CSVSource(filename)
	for _, row := range rows {
		addr := models.NormalizeEmail(row.Email)

		existing, err := s.contacts.GetByEmail(ctx, addr)
		if err != nil {
			return res, err
		}
		if existing == nil {
			c, created, err := s.contacts.Create(ctx, models.NewContact{Name: row.Name, Email: addr, Source: source})
			if err != nil {
				return res, err
			}
			if created {
				res.Processed++
				continue
			}
			existing = &c
		}

		if existing.Status != models.StatusFailed {
			res.Duplicates++
			continue
		}
		if _, err := s.recycle(ctx, *existing); err != nil {
			return res, err
		}
		res.Processed++
	}

	s.log.Info("csv imported",
		zap.String("file", filename),
		zap.Int("rows", len(rows)),
		zap.Int("processed", res.Processed),
		zap.Int("duplicates", res.Duplicates),
	)
	return res, nil
}

// QuickSend queues an address and sends to it immediately, ignoring the
// active flag, working hours and the inter-send delay. A send failure is
// recorded on the contact and returned.
func (s *Service) QuickSend(ctx context.Context, name, rawEmail string) (models.Contact, error) {
	addr, err := parseAddress(rawEmail)
	if err != nil {
		return models.Contact{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = csvparser.DefaultName
	}

	existing, err := s.contacts.GetByEmail(ctx, addr)
	if err != nil {
		return models.Contact{}, err
	}

	var contact models.Contact
	switch {
	case existing == nil:
		contact, _, err = s.contacts.Create(ctx, models.NewContact{Name: name, Email: addr, Source: models.SourceQuickSend})
	case existing.Status == models.StatusSent:
		return models.Contact{}, fmt.Errorf("%w: %s was already contacted", models.ErrConflict, addr)
	case existing.Status == models.StatusPending:
		contact = *existing
	default:
		contact, err = s.recycle(ctx, *existing)
	}
	if err != nil {
		return models.Contact{}, err
	}
	if contact.Status == models.StatusSent {
		return models.Contact{}, fmt.Errorf("%w: %s was already contacted", models.ErrConflict, addr)
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return models.Contact{}, err
	}

	log := s.log.With(zap.Int64("contact_id", contact.ID), zap.String("to", contact.Email))

	msg, sendErr := email.Compose(settings, contact)
	if sendErr == nil {
		sendErr = s.transports.Transport(settings).Send(ctx, msg)
	}
	if sendErr != nil {
		log.Error("quick send failed", zap.Error(sendErr))
		metrics.EmailFailures.Inc()
		if _, err := s.contacts.SetStatus(ctx, contact.ID, models.StatusFailed, sendErr.Error()); err != nil {
			return models.Contact{}, err
		}
		return models.Contact{}, sendErr
	}

	sent, err := s.contacts.SetStatus(ctx, contact.ID, models.StatusSent, "")
	if err != nil {
		return models.Contact{}, err
	}
	log.Info("quick send delivered")
	metrics.EmailsSent.Inc()
	return sent, nil
}

// SendTest sends the fixed test message through the current SMTP settings.
func (s *Service) SendTest(ctx context.Context, to string) error {
	addr, err := parseAddress(to)
	if err != nil {
		return err
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return err
	}
	msg, err := email.TestMessage(settings, addr)
	if err != nil {
		return err
	}
	if err := s.transports.Transport(settings).Send(ctx, msg); err != nil {
		s.log.Warn("test email failed", zap.String("to", addr), zap.Error(err))
		return err
	}
	s.log.Info("test email sent", zap.String("to", addr))
	return nil
}

func (s *Service) recycle(ctx context.Context, c models.Contact) (models.Contact, error) {
	out, err := s.contacts.SetStatus(ctx, c.ID, models.StatusPending, "")
	if err != nil {
		return models.Contact{}, err
	}
	s.log.Info("contact recycled", zap.Int64("contact_id", c.ID), zap.String("from", string(c.Status)))
	return out, nil
}

// parseAddress normalizes and validates a bare address; display-name forms
// like "Ann <ann@example.com>" are rejected.
func parseAddress(raw string) (string, error) {
	addr := models.NormalizeEmail(raw)
	if addr == "" {
		return "", fmt.Errorf("%w: email is required", models.ErrValidation)
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return "", fmt.Errorf("%w: invalid email address %q", models.ErrValidation, raw)
	}
	return addr, nil
}
