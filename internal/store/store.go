// Package store declares the persistence capabilities the engine, ingestion
// and API depend on. internal/db provides the Postgres and SQLite backends.
package store

import (
	"context"

	"JobMailer/internal/models"
)

type ContactStore interface {
	// List returns a page of contacts in creation order and the total
	// number of contacts matching the filter.
	List(ctx context.Context, f models.ListFilter) ([]models.Contact, int, error)

	// GetByEmail returns nil, nil when no contact has the address.
	GetByEmail(ctx context.Context, email string) (*models.Contact, error)

	// GetByID returns nil, nil when the contact does not exist.
	GetByID(ctx context.Context, id int64) (*models.Contact, error)

	// Create inserts a pending contact. When the normalized email already
	// exists the existing row is returned with created=false.
	Create(ctx context.Context, in models.NewContact) (c models.Contact, created bool, err error)

	// SetStatus transitions a contact. Sent stamps sentAt and clears the
	// failure reason; failed records reason; any other status clears it.
	SetStatus(ctx context.Context, id int64, status models.ContactStatus, reason string) (models.Contact, error)

	CountsByStatus(ctx context.Context) (models.Stats, error)

	// ListPending returns every pending contact in creation order.
	ListPending(ctx context.Context) ([]models.Contact, error)
}

type SettingsStore interface {
	// Get returns the singleton, creating it with defaults on first access.
	Get(ctx context.Context) (models.Settings, error)

	// Update merges the patch and bumps updatedAt.
	Update(ctx context.Context, p models.SettingsPatch) (models.Settings, error)
}

type Store interface {
	ContactStore
	SettingsStore
	Ping(ctx context.Context) error
	Close() error
}
