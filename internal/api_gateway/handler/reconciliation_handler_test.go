package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/backoffice-reconciliation/internal/api_gateway/middleware"
	"github.com/backoffice-reconciliation/internal/domain/audit"
	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/backoffice-reconciliation/internal/reconciliation/manual"
	"github.com/backoffice-reconciliation/internal/reconciliation/run"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func reconciledRecord(id uuid.UUID) *record.FinancialRecord {
	at := time.Date(2025, 6, 12, 9, 30, 0, 0, time.UTC)
	return &record.FinancialRecord{
		ID:             id,
		Source:         "X",
		SourceID:       "42",
		Kind:           shared.SourceKindProcessor,
		Currency:       "EUR",
		Reconciliation: record.Manual(at, "alice", "sepa/R-1", "R-1"),
	}
}

func TestReconciliationHandler_Reconcile(t *testing.T) {
	recordID := uuid.New()

	tests := []struct {
		name           string
		body           interface{}
		actor          string
		setupMock      func(m *MockReconciliationService)
		expectedStatus int
		expectedCode   string
	}{
		{
			name:  "success",
			body:  ReconcileRequest{RecordID: recordID.String(), Source: "sepa", Reference: "R-1"},
			actor: "alice",
			setupMock: func(m *MockReconciliationService) {
				m.On("Reconcile", mock.Anything, mock.MatchedBy(func(cmd manual.Command) bool {
					return cmd.RecordID == recordID && cmd.PaymentSource == "sepa" && cmd.Reference == "R-1" &&
						cmd.Actor == "alice" && !cmd.Override && cmd.CorrelationID == "corr-1"
				})).Return(reconciledRecord(recordID), nil).Once()
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "missing source",
			body:           map[string]string{"record_id": recordID.String()},
			actor:          "alice",
			setupMock:      func(m *MockReconciliationService) {},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "BAD_REQUEST",
		},
		{
			name:           "malformed record id",
			body:           map[string]string{"record_id": "42", "source": "sepa"},
			actor:          "alice",
			setupMock:      func(m *MockReconciliationService) {},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "BAD_REQUEST",
		},
		{
			name: "missing actor is a validation error",
			body: ReconcileRequest{RecordID: recordID.String(), Source: "sepa"},
			setupMock: func(m *MockReconciliationService) {
				m.On("Reconcile", mock.Anything, mock.MatchedBy(func(cmd manual.Command) bool { return cmd.Actor == "" })).
					Return(nil, manual.ErrInvalidCommand).Once()
			},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "BAD_REQUEST",
		},
		{
			name:  "unknown record",
			body:  ReconcileRequest{RecordID: recordID.String(), Source: "sepa"},
			actor: "alice",
			setupMock: func(m *MockReconciliationService) {
				m.On("Reconcile", mock.Anything, mock.Anything).Return(nil, record.ErrRecordNotFound{ID: recordID}).Once()
			},
			expectedStatus: http.StatusNotFound,
			expectedCode:   "NOT_FOUND",
		},
		{
			name:  "already reconciled",
			body:  ReconcileRequest{RecordID: recordID.String(), Source: "sepa"},
			actor: "alice",
			setupMock: func(m *MockReconciliationService) {
				m.On("Reconcile", mock.Anything, mock.Anything).
					Return(nil, record.ConflictError{RecordID: recordID, Current: "bank/row-1", Requested: "sepa/R-2"}).Once()
			},
			expectedStatus: http.StatusConflict,
			expectedCode:   "CONFLICT",
		},
		{
			name:  "store failure",
			body:  ReconcileRequest{RecordID: recordID.String(), Source: "sepa"},
			actor: "alice",
			setupMock: func(m *MockReconciliationService) {
				m.On("Reconcile", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset")).Once()
			},
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   "INTERNAL_SERVER_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockReconciliationService)
			tt.setupMock(mockService)
			h := NewReconciliationHandler(newTestLogger(), mockService)

			router := setupTestRouter()
			router.POST("/reconcile", h.Reconcile)

			body, _ := json.Marshal(tt.body)
			req, _ := http.NewRequest(http.MethodPost, "/reconcile", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(middleware.CorrelationIDHeader, "corr-1")
			if tt.actor != "" {
				req.Header.Set(middleware.ActorIDHeader, tt.actor)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			resp := decode[record.FinancialRecord](t, rr)
			assert.Equal(t, "corr-1", resp.CorrelationID)
			if tt.expectedCode != "" {
				if assert.NotNil(t, resp.Error) {
					assert.Equal(t, tt.expectedCode, resp.Error.Code)
					if tt.expectedStatus == http.StatusConflict {
						assert.Equal(t, map[string]string{"current": "bank/row-1", "requested": "sepa/R-2"}, resp.Error.Details)
					}
				}
			} else {
				assert.Equal(t, recordID, resp.Data.ID)
				assert.Equal(t, shared.ReconciliationTypeManual, resp.Data.Reconciliation.Type)
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestReconciliationHandler_Unreconcile(t *testing.T) {
	recordID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		mockService := new(MockReconciliationService)
		mockService.On("Unreconcile", mock.Anything, recordID, "alice", mock.AnythingOfType("string")).
			Return(&record.FinancialRecord{ID: recordID}, nil).Once()

		router := setupTestRouter()
		router.DELETE("/reconcile/:record_id", NewReconciliationHandler(newTestLogger(), mockService).Unreconcile)

		req, _ := http.NewRequest(http.MethodDelete, "/reconcile/"+recordID.String(), nil)
		req.Header.Set(middleware.ActorIDHeader, "alice")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		resp := decode[record.FinancialRecord](t, rr)
		assert.False(t, resp.Data.Reconciliation.Reconciled)
		mockService.AssertExpectations(t)
	})

	t.Run("InvalidID", func(t *testing.T) {
		mockService := new(MockReconciliationService)
		router := setupTestRouter()
		router.DELETE("/reconcile/:record_id", NewReconciliationHandler(newTestLogger(), mockService).Unreconcile)

		req, _ := http.NewRequest(http.MethodDelete, "/reconcile/not-a-uuid", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertNotCalled(t, "Unreconcile", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("NotFound", func(t *testing.T) {
		mockService := new(MockReconciliationService)
		mockService.On("Unreconcile", mock.Anything, recordID, "alice", mock.Anything).Return(nil, record.ErrRecordNotFound{ID: recordID}).Once()

		router := setupTestRouter()
		router.DELETE("/reconcile/:record_id", NewReconciliationHandler(newTestLogger(), mockService).Unreconcile)

		req, _ := http.NewRequest(http.MethodDelete, "/reconcile/"+recordID.String(), nil)
		req.Header.Set(middleware.ActorIDHeader, "alice")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestReconciliationHandler_AutoReconcile(t *testing.T) {
	runID := uuid.New()

	t.Run("ReturnsSummaryShape", func(t *testing.T) {
		mockService := new(MockReconciliationService)
		mockService.On("AutoReconcile", mock.Anything, mock.MatchedBy(func(r run.Request) bool {
			return r.Currency == "" && r.RequestedBy == "ops"
		})).Return(&audit.Run{
			RunID:    runID,
			Status:   shared.RunStatusPartial,
			Updated:  3,
			BySource: map[string]int{"stripe_eur": 2, "bank_bankinter_eur": 1},
			Failed:   1,
		}, nil).Once()

		router := setupTestRouter()
		router.POST("/reconcile/auto", NewReconciliationHandler(newTestLogger(), mockService).AutoReconcile)

		req, _ := http.NewRequest(http.MethodPost, "/reconcile/auto", nil)
		req.Header.Set(middleware.ActorIDHeader, "ops")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		resp := decode[map[string]interface{}](t, rr)
		assert.Equal(t, float64(3), resp.Data["updated"])
		assert.Equal(t, float64(1), resp.Data["failed"])
		assert.Equal(t, runID.String(), resp.Data["run_id"])
		assert.Equal(t, map[string]interface{}{"stripe_eur": float64(2), "bank_bankinter_eur": float64(1)}, resp.Data["by_source"])
		mockService.AssertExpectations(t)
	})

	t.Run("EmptyBySourceIsAnObject", func(t *testing.T) {
		mockService := new(MockReconciliationService)
		mockService.On("AutoReconcile", mock.Anything, mock.Anything).Return(&audit.Run{RunID: runID, Status: shared.RunStatusCompleted}, nil).Once()

		router := setupTestRouter()
		router.POST("/reconcile/auto", NewReconciliationHandler(newTestLogger(), mockService).AutoReconcile)

		req, _ := http.NewRequest(http.MethodPost, "/reconcile/auto?currency=EUR", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"by_source":{}`)
	})

	t.Run("BadCurrency", func(t *testing.T) {
		mockService := new(MockReconciliationService)
		router := setupTestRouter()
		router.POST("/reconcile/auto", NewReconciliationHandler(newTestLogger(), mockService).AutoReconcile)

		req, _ := http.NewRequest(http.MethodPost, "/reconcile/auto?currency=EURO", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("LoadFailure", func(t *testing.T) {
		mockService := new(MockReconciliationService)
		mockService.On("AutoReconcile", mock.Anything, mock.Anything).Return(&audit.Run{RunID: runID, Status: shared.RunStatusFailed}, errors.New("db down")).Once()

		router := setupTestRouter()
		router.POST("/reconcile/auto", NewReconciliationHandler(newTestLogger(), mockService).AutoReconcile)

		req, _ := http.NewRequest(http.MethodPost, "/reconcile/auto", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestReconciliationHandler_DisbursementChain(t *testing.T) {
	runID := uuid.New()

	t.Run("ReturnsStatsAndSummary", func(t *testing.T) {
		mockService := new(MockReconciliationService)
		mockService.On("DisbursementChain", mock.Anything, mock.MatchedBy(func(r run.Request) bool { return r.Currency == "EUR" })).
			Return(&audit.Run{RunID: runID, Status: shared.RunStatusCompleted, BankRowsReconciled: 2, Updated: 7, ChainsFound: 3}, nil).Once()

		router := setupTestRouter()
		router.POST("/reconcile/disbursement-chain", NewReconciliationHandler(newTestLogger(), mockService).DisbursementChain)

		req, _ := http.NewRequest(http.MethodPost, "/reconcile/disbursement-chain?currency=EUR", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		resp := decode[DisbursementChainResponse](t, rr)
		assert.Equal(t, ChainStats{BankRowsReconciled: 2, RecordsUpdated: 7}, resp.Data.Stats)
		assert.Equal(t, 3, resp.Data.Summary.ChainsFound)
		assert.Equal(t, runID.String(), resp.Data.RunID)
	})

	t.Run("CurrencyRequired", func(t *testing.T) {
		mockService := new(MockReconciliationService)
		router := setupTestRouter()
		router.POST("/reconcile/disbursement-chain", NewReconciliationHandler(newTestLogger(), mockService).DisbursementChain)

		req, _ := http.NewRequest(http.MethodPost, "/reconcile/disbursement-chain", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertNotCalled(t, "DisbursementChain", mock.Anything, mock.Anything)
	})
}
