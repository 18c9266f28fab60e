package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/backoffice-reconciliation/internal/api_gateway/middleware"
	"github.com/backoffice-reconciliation/internal/api_gateway/service"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestSyncHandler_TriggerSync(t *testing.T) {
	jobID := uuid.New()

	tests := []struct {
		name           string
		path           string
		setupMock      func(m *MockSyncService)
		expectedStatus int
	}{
		{
			name: "queued",
			path: "/sync/stripe_eur?currency=EUR",
			setupMock: func(m *MockSyncService) {
				m.On("RequestSync", mock.Anything, "stripe_eur", "EUR", "corr-7", "ops").Return(&shared.JobRequest{
					JobID:       jobID,
					Type:        shared.JobTypeSync,
					Source:      "stripe_eur",
					Currency:    "EUR",
					RequestedAt: time.Now().UTC(),
				}, nil).Once()
			},
			expectedStatus: http.StatusAccepted,
		},
		{
			name: "unknown source",
			path: "/sync/paypal",
			setupMock: func(m *MockSyncService) {
				m.On("RequestSync", mock.Anything, "paypal", "", "corr-7", "ops").
					Return(nil, fmt.Errorf("%w: paypal", service.ErrUnknownSource)).Once()
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "malformed currency",
			path:           "/sync/stripe_eur?currency=EU",
			setupMock:      func(m *MockSyncService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "invalid job",
			path: "/sync/stripe_eur?currency=eur",
			setupMock: func(m *MockSyncService) {
				m.On("RequestSync", mock.Anything, "stripe_eur", "eur", "corr-7", "ops").Return(nil, shared.ErrJobCurrencyInvalid).Once()
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "broker unavailable",
			path: "/sync/stripe_eur",
			setupMock: func(m *MockSyncService) {
				m.On("RequestSync", mock.Anything, "stripe_eur", "", "corr-7", "ops").Return(nil, errors.New("kafka: leader not available")).Once()
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockSyncService)
			tt.setupMock(mockService)

			router := setupTestRouter()
			router.POST("/sync/:source", NewSyncHandler(newTestLogger(), mockService).TriggerSync)

			req, _ := http.NewRequest(http.MethodPost, tt.path, nil)
			req.Header.Set(middleware.CorrelationIDHeader, "corr-7")
			req.Header.Set(middleware.ActorIDHeader, "ops")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedStatus == http.StatusAccepted {
				resp := decode[SyncAcceptedResponse](t, rr)
				assert.Equal(t, SyncAcceptedResponse{JobID: jobID.String(), Source: "stripe_eur", Status: "QUEUED"}, resp.Data)
			}
			mockService.AssertExpectations(t)
		})
	}
}
