package models

import (
	"strings"
	"time"
)

type ContactStatus string

const (
	StatusPending ContactStatus = "pending"
	StatusSent    ContactStatus = "sent"
	StatusFailed  ContactStatus = "failed"
	StatusSkipped ContactStatus = "skipped"
)

// Contact sources that are not derived from an upload.
const (
	SourceManual    = "manual"
	SourceQuickSend = "quick-send"
)

// ManualFailureReason is recorded when a contact is marked failed by hand.
const ManualFailureReason = "marked failed manually"

func (s ContactStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

type Contact struct {
	ID     int64         `json:"id"`
	Name   string        `json:"name"`
	Email  string        `json:"email"`
	Source string        `json:"source"`
	Status ContactStatus `json:"status"`

	FailureReason *string    `json:"failureReason,omitempty"`
	SentAt        *time.Time `json:"sentAt,omitempty"`
	ResumePath    *string    `json:"resumePath,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// NewContact is the input for creating a contact. Status always starts as pending.
type NewContact struct {
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Source     string  `json:"source"`
	ResumePath *string `json:"resumePath,omitempty"`
}

// ListFilter narrows a contact listing. Zero values mean "no filter".
type ListFilter struct {
	Status ContactStatus
	Search string
	Limit  int
	Offset int
}

type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// CSVSource tags contacts imported from the named upload.
func CSVSource(filename string) string {
	return "csv:" + filename
}

// NormalizeEmail lowercases and trims an address; contacts are unique on the result.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
