package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidRow is the cause of every row parse failure.
var ErrInvalidRow = errors.New("invalid row")

// nullRowID is echoed when a row carries no usable identifier.
var nullRowID = json.RawMessage("null")

var rowValidator = validator.New()

// InputRow is one (row_id, source_key) item of a batch request.
type InputRow struct {
	// ID is opaque and echoed back verbatim; uniqueness is not checked.
	ID        json.RawMessage
	SourceKey string `validate:"required"`
}

// RowFormatError reports a row that is not a [row_id, filename] pair.
// Its message is the offending row as compact JSON.
type RowFormatError struct {
	Row    string
	Reason string
}

func (e *RowFormatError) Error() string {
	return e.Row
}

func (e *RowFormatError) Unwrap() error {
	return ErrInvalidRow
}

// ParseRow decodes raw as a JSON array [row_id, filename, ...]. Elements
// after the filename are ignored. On failure it returns a *StageError tagged StageParse, and the returned
// row's ID is the first array element when there is one, else null.
func ParseRow(raw json.RawMessage) (InputRow, error) {
	row := InputRow{ID: rowIDOf(raw)}

	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return row, rowError(raw, "not a JSON array")
	}
	if len(parts) < 2 {
		return row, rowError(raw, fmt.Sprintf("expected at least 2 elements, got %d", len(parts)))
	}

	if err := json.Unmarshal(parts[1], &row.SourceKey); err != nil {
		return row, rowError(raw, "filename is not a string")
	}
	if err := rowValidator.Struct(row); err != nil {
		return row, rowError(raw, "filename is empty")
	}

	return row, nil
}

// rowIDOf extracts the first element of a JSON array, or null.
func rowIDOf(raw json.RawMessage) json.RawMessage {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil || len(parts) == 0 || parts[0] == nil {
		return nullRowID
	}
	return parts[0]
}

func rowError(raw json.RawMessage, reason string) error {
	var buf bytes.Buffer
	text := string(raw)
	if err := json.Compact(&buf, raw); err == nil {
		text = buf.String()
	}
	return &StageError{
		Stage: StageParse,
		Err:   &RowFormatError{Row: text, Reason: reason},
	}
}
