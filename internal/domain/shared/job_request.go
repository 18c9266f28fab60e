package shared

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidJobType     = errors.New("invalid job type")
	ErrJobSourceRequired  = errors.New("job source is required")
	ErrJobCurrencyInvalid = errors.New("job currency must be a 3-letter ISO code")
)

// JobType selects what a reconciliation job does
type JobType string

const (
	// JobTypeSync syncs one source, then reconciles its currency when one is given
	JobTypeSync JobType = "SYNC"
	// JobTypeAuto runs automatic reconciliation across every currency
	JobTypeAuto JobType = "AUTO"
	// JobTypeDisbursementChain reconciles invoice to bank chains for one currency
	JobTypeDisbursementChain JobType = "DISBURSEMENT_CHAIN"
)

// JobRequest defines a Kafka message asking the worker to run a job
type JobRequest struct {
	JobID         uuid.UUID `json:"job_id"`
	Type          JobType   `json:"type"`
	Source        string    `json:"source,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	RequestedBy   string    `json:"requested_by,omitempty"`
	RequestedAt   time.Time `json:"requested_at"`
}

// Validate checks that the request carries what its type needs
func (r *JobRequest) Validate() error {
	switch r.Type {
	case JobTypeSync:
		if r.Source == "" {
			return ErrJobSourceRequired
		}
	case JobTypeAuto:
	case JobTypeDisbursementChain:
		if len(r.Currency) != 3 {
			return ErrJobCurrencyInvalid
		}
	default:
		return ErrInvalidJobType
	}
	if r.Currency != "" && len(r.Currency) != 3 {
		return ErrJobCurrencyInvalid
	}
	return nil
}

// Key returns the partitioning key used on the job topic.
// Jobs for one source land on one partition and run in order.
func (r *JobRequest) Key() string {
	if r.Source != "" {
		return r.Source
	}
	return string(r.Type) + ":" + r.Currency
}
