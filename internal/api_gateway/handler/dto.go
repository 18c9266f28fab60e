package handler

import (
	"github.com/backoffice-reconciliation/internal/domain/audit"
)

// ReconcileRequest links a record to an external payment
type ReconcileRequest struct {
	RecordID  string `json:"record_id" binding:"required,uuid"`
	Source    string `json:"source" binding:"required"`
	Reference string `json:"reference,omitempty"`
	Override  bool   `json:"override,omitempty"`
}

// RunQuery carries the optional currency filter of run endpoints
type RunQuery struct {
	Currency string `form:"currency" binding:"omitempty,len=3"`
}

// ChainQuery carries the required currency of a disbursement chain run
type ChainQuery struct {
	Currency string `form:"currency" binding:"required,len=3"`
}

// AutoReconcileResponse summarizes an automatic reconciliation run
type AutoReconcileResponse struct {
	Updated  int            `json:"updated"`
	BySource map[string]int `json:"by_source"`
	Failed   int            `json:"failed"`
	RunID    string         `json:"run_id"`
	Status   string         `json:"status"`
}

// ChainStats are the counters of a disbursement chain run
type ChainStats struct {
	BankRowsReconciled int `json:"bank_rows_reconciled"`
	RecordsUpdated     int `json:"records_updated"`
}

// ChainSummary reports the chains a run completed
type ChainSummary struct {
	ChainsFound int `json:"chains_found"`
}

// DisbursementChainResponse summarizes a disbursement chain run
type DisbursementChainResponse struct {
	Stats   ChainStats   `json:"stats"`
	Summary ChainSummary `json:"summary"`
	RunID   string       `json:"run_id"`
	Status  string       `json:"status"`
}

// SyncAcceptedResponse acknowledges a queued sync job
type SyncAcceptedResponse struct {
	JobID  string `json:"job_id"`
	Source string `json:"source"`
	Status string `json:"status"`
}

// PaginationParams represents pagination parameters for list endpoints
type PaginationParams struct {
	Page    int `form:"page,default=1" binding:"min=1"`
	PerPage int `form:"per_page,default=20" binding:"min=1,max=100"`
}

func mapAutoReconcileResponse(run *audit.Run) AutoReconcileResponse {
	bySource := run.BySource
	if bySource == nil {
		bySource = map[string]int{}
	}
	return AutoReconcileResponse{
		Updated:  run.Updated,
		BySource: bySource,
		Failed:   run.Failed,
		RunID:    run.RunID.String(),
		Status:   string(run.Status),
	}
}

func mapDisbursementChainResponse(run *audit.Run) DisbursementChainResponse {
	return DisbursementChainResponse{
		Stats: ChainStats{
			BankRowsReconciled: run.BankRowsReconciled,
			RecordsUpdated:     run.Updated,
		},
		Summary: ChainSummary{ChainsFound: run.ChainsFound},
		RunID:   run.RunID.String(),
		Status:  string(run.Status),
	}
}
