package audit

import (
	"time"

	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/google/uuid"
)

// Tolerance is the set of matching settings a run was executed with
type Tolerance struct {
	WindowDays  int    `json:"window_days" bson:"window_days"`
	Epsilon     string `json:"epsilon" bson:"epsilon"`
	AssumedPaid bool   `json:"assumed_paid" bson:"assumed_paid"`
	PageSize    int    `json:"page_size,omitempty" bson:"page_size,omitempty"`
}

// SyncStats are the counts reported by a source sync
type SyncStats struct {
	Inserted  int  `json:"inserted" bson:"inserted"`
	Preserved int  `json:"preserved" bson:"preserved"`
	Failed    int  `json:"failed" bson:"failed"`
	Skipped   bool `json:"skipped" bson:"skipped"`
}

// MatchSummary is the persisted form of a successful batch match
type MatchSummary struct {
	BatchID    string               `json:"batch_id" bson:"batch_id"`
	Strategy   shared.MatchStrategy `json:"strategy" bson:"strategy"`
	BankRowIDs []string             `json:"bank_row_ids,omitempty" bson:"bank_row_ids,omitempty"`
	NetAmount  string               `json:"net_amount" bson:"net_amount"`
	Currency   string               `json:"currency" bson:"currency"`
	Delta      string               `json:"delta,omitempty" bson:"delta,omitempty"`
	Ambiguous  bool                 `json:"ambiguous,omitempty" bson:"ambiguous,omitempty"`
}

// BatchIssue records an unmatched or failed batch with its reason
type BatchIssue struct {
	BatchID string `json:"batch_id" bson:"batch_id"`
	Reason  string `json:"reason" bson:"reason"`
}

// Run is the audit output of one sync or reconciliation run
type Run struct {
	RunID              uuid.UUID        `json:"run_id" bson:"run_id"`
	Type               shared.JobType   `json:"type" bson:"type"`
	Status             shared.RunStatus `json:"status" bson:"status"`
	Source             string           `json:"source,omitempty" bson:"source,omitempty"`
	Currency           string           `json:"currency,omitempty" bson:"currency,omitempty"`
	Tolerance          Tolerance        `json:"tolerance" bson:"tolerance"`
	Sync               *SyncStats       `json:"sync,omitempty" bson:"sync,omitempty"`
	Updated            int              `json:"updated" bson:"updated"`
	BySource           map[string]int   `json:"by_source,omitempty" bson:"by_source,omitempty"`
	Failed             int              `json:"failed" bson:"failed"`
	BankRowsReconciled int              `json:"bank_rows_reconciled" bson:"bank_rows_reconciled"`
	ChainsFound        int              `json:"chains_found" bson:"chains_found"`
	Matches            []MatchSummary   `json:"matches,omitempty" bson:"matches,omitempty"`
	Unmatched          []BatchIssue     `json:"unmatched,omitempty" bson:"unmatched,omitempty"`
	Failures           []BatchIssue     `json:"failures,omitempty" bson:"failures,omitempty"`
	Error              string           `json:"error,omitempty" bson:"error,omitempty"`
	CorrelationID      string           `json:"correlation_id,omitempty" bson:"correlation_id,omitempty"`
	StartedAt          time.Time        `json:"started_at" bson:"started_at"`
	FinishedAt         time.Time        `json:"finished_at" bson:"finished_at"`
}
