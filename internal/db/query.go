package db

import (
	"fmt"
	"strings"
	"time"

	"JobMailer/internal/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", models.ErrStorage, op, err)
}

func pageBounds(f models.ListFilter) (limit, offset int) {
	limit = f.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	return limit, max(f.Offset, 0)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern builds a substring pattern for LIKE ... ESCAPE '\'.
func likePattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

// transition returns the sent_at and failure_reason values a status change
// writes. A nil sentAt keeps the stored timestamp.
func transition(status models.ContactStatus, reason string, now time.Time) (sentAt *time.Time, failure *string) {
	switch status {
	case models.StatusSent:
		return &now, nil
	case models.StatusFailed:
		if strings.TrimSpace(reason) == "" {
			reason = models.ManualFailureReason
		}
		return nil, &reason
	}
	return nil, nil
}
