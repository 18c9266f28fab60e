package shared

// SourceKind discriminates the payload carried by a financial record
type SourceKind string

const (
	SourceKindProcessor SourceKind = "processor"
	SourceKindInvoice   SourceKind = "invoice"
	SourceKindBank      SourceKind = "bank"
)

// Valid reports whether k is one of the known kinds
func (k SourceKind) Valid() bool {
	switch k {
	case SourceKindProcessor, SourceKindInvoice, SourceKindBank:
		return true
	}
	return false
}

// ReconciliationType records how a reconciliation link was established
type ReconciliationType string

const (
	ReconciliationTypeAutomatic ReconciliationType = "automatic"
	ReconciliationTypeManual    ReconciliationType = "manual"
	ReconciliationTypeAssumed   ReconciliationType = "assumed"
)

// Valid reports whether t is one of the known reconciliation types
func (t ReconciliationType) Valid() bool {
	switch t {
	case ReconciliationTypeAutomatic, ReconciliationTypeManual, ReconciliationTypeAssumed:
		return true
	}
	return false
}

// MatchStrategy names the matcher that produced a match
type MatchStrategy string

const (
	MatchStrategyExactSingle     MatchStrategy = "exact_single"
	MatchStrategyAggregatedGroup MatchStrategy = "aggregated_group"
	MatchStrategyAssumedPaid     MatchStrategy = "assumed_paid"
)

// AuditAction defines reconciliation audit trail actions
type AuditAction string

const (
	AuditActionApplied AuditAction = "APPLIED"
	AuditActionCleared AuditAction = "CLEARED"
)

// OutboxStatus defines message publishing states
type OutboxStatus string

const (
	OutboxStatusPending         OutboxStatus = "PENDING"
	OutboxStatusProcessed       OutboxStatus = "PROCESSED"
	OutboxStatusFailedToPublish OutboxStatus = "FAILED_TO_PUBLISH"
)

// RunStatus summarizes how a reconciliation or sync run ended
type RunStatus string

const (
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusPartial   RunStatus = "PARTIAL"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusSkipped   RunStatus = "SKIPPED"
)
