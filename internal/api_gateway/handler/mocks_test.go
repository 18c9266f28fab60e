package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/backoffice-reconciliation/internal/api_gateway/middleware"
	"github.com/backoffice-reconciliation/internal/domain/audit"
	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/backoffice-reconciliation/internal/reconciliation/chain"
	"github.com/backoffice-reconciliation/internal/reconciliation/manual"
	"github.com/backoffice-reconciliation/internal/reconciliation/run"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockReconciliationService struct {
	mock.Mock
}

func (m *MockReconciliationService) Reconcile(ctx context.Context, cmd manual.Command) (*record.FinancialRecord, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*record.FinancialRecord), args.Error(1)
}

func (m *MockReconciliationService) Unreconcile(ctx context.Context, recordID uuid.UUID, actor, correlationID string) (*record.FinancialRecord, error) {
	args := m.Called(ctx, recordID, actor, correlationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*record.FinancialRecord), args.Error(1)
}

func (m *MockReconciliationService) AutoReconcile(ctx context.Context, req run.Request) (*audit.Run, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*audit.Run), args.Error(1)
}

func (m *MockReconciliationService) DisbursementChain(ctx context.Context, req run.Request) (*audit.Run, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*audit.Run), args.Error(1)
}

type MockRecordService struct {
	mock.Mock
}

func (m *MockRecordService) GetChain(ctx context.Context, id uuid.UUID) (*chain.Chain, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chain.Chain), args.Error(1)
}

func (m *MockRecordService) GetHistory(ctx context.Context, id uuid.UUID, page, perPage int) ([]*audit.Entry, int64, error) {
	args := m.Called(ctx, id, page, perPage)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*audit.Entry), args.Get(1).(int64), args.Error(2)
}

func (m *MockRecordService) GetRun(ctx context.Context, id uuid.UUID) (*audit.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*audit.Run), args.Error(1)
}

type MockSyncService struct {
	mock.Mock
}

func (m *MockSyncService) RequestSync(ctx context.Context, source, currency, correlationID, actor string) (*shared.JobRequest, error) {
	args := m.Called(ctx, source, currency, correlationID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shared.JobRequest), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// setupTestRouter mirrors the production middleware order
func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Actor())
	return r
}

// testResponse decodes the envelope with a typed data payload
type testResponse[T any] struct {
	Data          T          `json:"data"`
	Error         *ErrorInfo `json:"error"`
	CorrelationID string     `json:"correlation_id"`
	Meta          *MetaInfo  `json:"meta"`
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) testResponse[T] {
	t.Helper()
	var resp testResponse[T]
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}
