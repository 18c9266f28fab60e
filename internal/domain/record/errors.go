package record

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrRecordNotFound indicates a missing financial record
type ErrRecordNotFound struct {
	ID uuid.UUID
}

func (e ErrRecordNotFound) Error() string {
	return "financial record not found: " + e.ID.String()
}

// Is implements the errors.Is interface for ErrRecordNotFound
func (e ErrRecordNotFound) Is(target error) bool {
	t, ok := target.(ErrRecordNotFound)
	if !ok {
		return false
	}
	// A nil target ID matches any ErrRecordNotFound
	if t.ID == uuid.Nil {
		return true
	}
	return e.ID == t.ID
}

// ErrAlreadyClaimed is returned when a compare-and-set claim finds the record already reconciled
type ErrAlreadyClaimed struct {
	ID uuid.UUID
}

func (e ErrAlreadyClaimed) Error() string {
	return "financial record already reconciled: " + e.ID.String()
}

// Is implements the errors.Is interface for ErrAlreadyClaimed
func (e ErrAlreadyClaimed) Is(target error) bool {
	t, ok := target.(ErrAlreadyClaimed)
	if !ok {
		return false
	}
	if t.ID == uuid.Nil {
		return true
	}
	return e.ID == t.ID
}

// ErrInvalidRecord reports a record that fails validation on ingestion
type ErrInvalidRecord struct {
	Source   string
	SourceID string
	Reason   string
}

func (e ErrInvalidRecord) Error() string {
	return fmt.Sprintf("invalid record %s/%s: %s", e.Source, e.SourceID, e.Reason)
}

// Is matches any ErrInvalidRecord
func (e ErrInvalidRecord) Is(target error) bool {
	_, ok := target.(ErrInvalidRecord)
	return ok
}

// ConflictError is returned when a reconciliation targets a record that is already
// reconciled against a different counterparty
type ConflictError struct {
	RecordID  uuid.UUID
	Current   string
	Requested string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("record %s is already reconciled with %q, refusing %q", e.RecordID, e.Current, e.Requested)
}

// Is matches any ConflictError when the target has no record id
func (e ConflictError) Is(target error) bool {
	t, ok := target.(ConflictError)
	if !ok {
		return false
	}
	return t.RecordID == uuid.Nil || t.RecordID == e.RecordID
}

// IntegrityError reports a sync batch that would violate the (source, source_id) key
type IntegrityError struct {
	Source    string
	SourceIDs []string
	Reason    string
}

func (e IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation in source %s (%s): %s", e.Source, strings.Join(e.SourceIDs, ","), e.Reason)
}

// Is matches any IntegrityError
func (e IntegrityError) Is(target error) bool {
	_, ok := target.(IntegrityError)
	return ok
}
