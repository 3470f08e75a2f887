package csvparser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultName is used for rows without a name column or value.
const DefaultName = "HR Contact"

var (
	ErrNoEmailColumn = errors.New("csv must contain an Email column")
	ErrTooManyRows   = errors.New("csv has too many rows")
)

// ContactRow is a single contact extracted from a CSV upload.
type ContactRow struct {
	Email string
	Name  string
}

// ParseContactRows parses a CSV from an io.Reader. The header row must have
// an "Email" column and may have a "Name" column (both case-insensitive).
// Rows with an empty email are skipped; short rows are padded.
//
// A file with more than maxRows contacts is rejected with ErrTooManyRows
// rather than cut short.
func ParseContactRows(r io.Reader, maxRows int) ([]ContactRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, ErrNoEmailColumn
	}
	if err != nil {
		return nil, err
	}

	emailIdx, nameIdx := -1, -1
	for i, h := range headers {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		switch {
		case strings.EqualFold(h, "email") && emailIdx == -1:
			emailIdx = i
		case strings.EqualFold(h, "name") && nameIdx == -1:
			nameIdx = i
		}
	}
	if emailIdx == -1 {
		return nil, ErrNoEmailColumn
	}

	if maxRows <= 0 {
		maxRows = 1000
	}

	rows := make([]ContactRow, 0)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		email := field(record, emailIdx)
		if email == "" {
			continue
		}

		if len(rows) == maxRows {
			return nil, fmt.Errorf("%w: limit is %d", ErrTooManyRows, maxRows)
		}

		name := field(record, nameIdx)
		if name == "" {
			name = DefaultName
		}

		rows = append(rows, ContactRow{
			Email: email,
			Name:  name,
		})
	}

	return rows, nil
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
