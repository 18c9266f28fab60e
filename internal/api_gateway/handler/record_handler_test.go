package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/backoffice-reconciliation/internal/domain/audit"
	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/backoffice-reconciliation/internal/reconciliation/chain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRecordHandler_GetChain(t *testing.T) {
	recordID := uuid.New()

	tests := []struct {
		name           string
		path           string
		setupMock      func(m *MockRecordService)
		expectedStatus int
	}{
		{
			name: "complete chain",
			path: "/records/" + recordID.String() + "/chain",
			setupMock: func(m *MockRecordService) {
				m.On("GetChain", mock.Anything, recordID).Return(&chain.Chain{
					Record:   &record.FinancialRecord{ID: recordID, Source: "invoices", Kind: shared.SourceKindInvoice},
					Complete: true,
				}, nil).Once()
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid id",
			path:           "/records/abc/chain",
			setupMock:      func(m *MockRecordService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "unknown record",
			path: "/records/" + recordID.String() + "/chain",
			setupMock: func(m *MockRecordService) {
				m.On("GetChain", mock.Anything, recordID).Return(nil, record.ErrRecordNotFound{ID: recordID}).Once()
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name: "store failure",
			path: "/records/" + recordID.String() + "/chain",
			setupMock: func(m *MockRecordService) {
				m.On("GetChain", mock.Anything, recordID).Return(nil, errors.New("timeout")).Once()
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockRecordService)
			tt.setupMock(mockService)

			router := setupTestRouter()
			router.GET("/records/:id/chain", NewRecordHandler(newTestLogger(), mockService).GetChain)

			req, _ := http.NewRequest(http.MethodGet, tt.path, nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedStatus == http.StatusOK {
				resp := decode[chain.Chain](t, rr)
				assert.True(t, resp.Data.Complete)
				require.NotNil(t, resp.Data.Record)
				assert.Equal(t, recordID, resp.Data.Record.ID)
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestRecordHandler_GetHistory(t *testing.T) {
	recordID := uuid.New()

	t.Run("DefaultsAndMeta", func(t *testing.T) {
		entries := []*audit.Entry{
			{EventID: uuid.New(), Action: shared.AuditActionCleared, RecordID: recordID, Actor: "alice", OccurredAt: time.Now().UTC()},
			{EventID: uuid.New(), Action: shared.AuditActionApplied, RecordID: recordID, Actor: "alice", OccurredAt: time.Now().UTC().Add(-time.Hour)},
		}
		mockService := new(MockRecordService)
		mockService.On("GetHistory", mock.Anything, recordID, 1, 20).Return(entries, int64(45), nil).Once()

		router := setupTestRouter()
		router.GET("/records/:id/history", NewRecordHandler(newTestLogger(), mockService).GetHistory)

		req, _ := http.NewRequest(http.MethodGet, "/records/"+recordID.String()+"/history", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		resp := decode[[]audit.Entry](t, rr)
		assert.Len(t, resp.Data, 2)
		require.NotNil(t, resp.Meta)
		assert.Equal(t, MetaInfo{Page: 1, PerPage: 20, TotalPages: 3, TotalItems: 45}, *resp.Meta)
		mockService.AssertExpectations(t)
	})

	t.Run("ExplicitPage", func(t *testing.T) {
		mockService := new(MockRecordService)
		mockService.On("GetHistory", mock.Anything, recordID, 2, 5).Return([]*audit.Entry{}, int64(6), nil).Once()

		router := setupTestRouter()
		router.GET("/records/:id/history", NewRecordHandler(newTestLogger(), mockService).GetHistory)

		req, _ := http.NewRequest(http.MethodGet, "/records/"+recordID.String()+"/history?page=2&per_page=5", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("PerPageTooLarge", func(t *testing.T) {
		mockService := new(MockRecordService)
		router := setupTestRouter()
		router.GET("/records/:id/history", NewRecordHandler(newTestLogger(), mockService).GetHistory)

		req, _ := http.NewRequest(http.MethodGet, "/records/"+recordID.String()+"/history?per_page=500", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertNotCalled(t, "GetHistory", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("StoreFailure", func(t *testing.T) {
		mockService := new(MockRecordService)
		mockService.On("GetHistory", mock.Anything, recordID, 1, 20).Return(nil, int64(0), errors.New("mongo down")).Once()

		router := setupTestRouter()
		router.GET("/records/:id/history", NewRecordHandler(newTestLogger(), mockService).GetHistory)

		req, _ := http.NewRequest(http.MethodGet, "/records/"+recordID.String()+"/history", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestRecordHandler_GetRun(t *testing.T) {
	runID := uuid.New()

	t.Run("Found", func(t *testing.T) {
		mockService := new(MockRecordService)
		mockService.On("GetRun", mock.Anything, runID).Return(&audit.Run{
			RunID:     runID,
			Type:      shared.JobTypeAuto,
			Status:    shared.RunStatusCompleted,
			Tolerance: audit.Tolerance{WindowDays: 3, Epsilon: "0.01"},
			Updated:   4,
		}, nil).Once()

		router := setupTestRouter()
		router.GET("/runs/:id", NewRecordHandler(newTestLogger(), mockService).GetRun)

		req, _ := http.NewRequest(http.MethodGet, "/runs/"+runID.String(), nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		resp := decode[audit.Run](t, rr)
		assert.Equal(t, runID, resp.Data.RunID)
		assert.Equal(t, 3, resp.Data.Tolerance.WindowDays)
	})

	t.Run("NotFound", func(t *testing.T) {
		mockService := new(MockRecordService)
		mockService.On("GetRun", mock.Anything, runID).Return(nil, nil).Once()

		router := setupTestRouter()
		router.GET("/runs/:id", NewRecordHandler(newTestLogger(), mockService).GetRun)

		req, _ := http.NewRequest(http.MethodGet, "/runs/"+runID.String(), nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
