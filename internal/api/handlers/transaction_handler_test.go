package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgrid/smarttoll/internal/domain/billing"
	"github.com/tollgrid/smarttoll/pkg/logger"
)

// fakeRepo is an in-memory billing.Repository for handler tests. Only the
// read paths are exercised by the API.
type fakeRepo struct {
	byEventID map[string]*billing.Transaction
	byID      map[int64]*billing.Transaction
	list      []*billing.Transaction
	failWith  error

	gotVehicleID string
	gotStatus    billing.Status
	gotLimit     int
}

func newFakeRepo(txs ...*billing.Transaction) *fakeRepo {
	r := &fakeRepo{
		byEventID: make(map[string]*billing.Transaction),
		byID:      make(map[int64]*billing.Transaction),
	}
	for _, tx := range txs {
		r.byEventID[tx.TollEventID] = tx
		r.byID[tx.ID] = tx
		r.list = append(r.list, tx)
	}
	return r
}

func (r *fakeRepo) Insert(ctx context.Context, tx *billing.Transaction) error { return nil }

func (r *fakeRepo) GetByTollEventID(ctx context.Context, tollEventID string) (*billing.Transaction, error) {
	if r.failWith != nil {
		return nil, r.failWith
	}
	if tx, ok := r.byEventID[tollEventID]; ok {
		return tx, nil
	}
	return nil, billing.ErrTransactionNotFound
}

func (r *fakeRepo) GetByID(ctx context.Context, id int64) (*billing.Transaction, error) {
	if r.failWith != nil {
		return nil, r.failWith
	}
	if tx, ok := r.byID[id]; ok {
		return tx, nil
	}
	return nil, billing.ErrTransactionNotFound
}

func (r *fakeRepo) MarkProcessing(ctx context.Context, id int64) (int, error) { return 0, nil }

func (r *fakeRepo) Finalize(ctx context.Context, id int64, status billing.Status, gatewayRef, errorMessage *string) error {
	return nil
}

func (r *fakeRepo) ListByVehicle(ctx context.Context, vehicleID string, status billing.Status, limit int) ([]*billing.Transaction, error) {
	r.gotVehicleID = vehicleID
	r.gotStatus = status
	r.gotLimit = limit
	if r.failWith != nil {
		return nil, r.failWith
	}
	return r.list, nil
}

func (r *fakeRepo) ClaimStale(ctx context.Context, cutoff time.Time, limit int) ([]*billing.Transaction, error) {
	return nil, nil
}

func newTestRouter(repo billing.Repository) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandlers(repo, logger.NewNop(), nil, Options{Service: "billing-test"})
	r := gin.New()
	r.GET("/api/v1/transactions", h.ListTransactions)
	r.GET("/api/v1/transactions/status/:tollEventId", h.GetTransactionStatus)
	r.GET("/api/v1/transactions/:id", h.GetTransaction)
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sampleTx() *billing.Transaction {
	ref := "MOCKGW_AB12CD34EF56AB78"
	return &billing.Transaction{
		ID:                41,
		TollEventID:       "evt-1001",
		VehicleID:         "VEH-001",
		Amount:            decimal.RequireFromString("0.23"),
		Currency:          "USD",
		Status:            billing.StatusSuccess,
		TransactionTime:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		LastUpdated:       time.Date(2025, 6, 1, 12, 0, 1, 0, time.UTC),
		PaymentGatewayRef: &ref,
		RetryCount:        1,
	}
}

// TestGetTransactionStatus tests lookup by toll event id
func TestGetTransactionStatus(t *testing.T) {
	r := newTestRouter(newFakeRepo(sampleTx()))

	w := get(r, "/api/v1/transactions/status/evt-1001")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"toll_event_id":"evt-1001"`)
	assert.Contains(t, body, `"status":"SUCCESS"`)
	assert.Contains(t, body, `"amount":0.23`, "amount must be a JSON number with two decimals")
	assert.Contains(t, body, "MOCKGW_AB12CD34EF56AB78")
}

// TestGetTransactionStatus_NotFound tests the 404 mapping
func TestGetTransactionStatus_NotFound(t *testing.T) {
	r := newTestRouter(newFakeRepo())

	w := get(r, "/api/v1/transactions/status/evt-unknown")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

// TestGetTransaction tests lookup by surrogate id
func TestGetTransaction(t *testing.T) {
	r := newTestRouter(newFakeRepo(sampleTx()))

	w := get(r, "/api/v1/transactions/41")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":41`)

	w = get(r, "/api/v1/transactions/999")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestGetTransaction_BadID tests id parsing
func TestGetTransaction_BadID(t *testing.T) {
	r := newTestRouter(newFakeRepo())

	w := get(r, "/api/v1/transactions/not-a-number")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "BAD_REQUEST")
}

// TestListTransactions tests the vehicle history query
func TestListTransactions(t *testing.T) {
	repo := newFakeRepo(sampleTx())
	r := newTestRouter(repo)

	w := get(r, "/api/v1/transactions?vehicle_id=VEH-001")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"vehicle_id":"VEH-001"`)
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.Equal(t, "VEH-001", repo.gotVehicleID)
	assert.Equal(t, billing.Status(""), repo.gotStatus)
	assert.Equal(t, 20, repo.gotLimit, "limit defaults to 20")
}

// TestListTransactions_RequiresVehicleID tests the mandatory filter
func TestListTransactions_RequiresVehicleID(t *testing.T) {
	r := newTestRouter(newFakeRepo())

	w := get(r, "/api/v1/transactions")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "vehicle_id")
}

// TestListTransactions_StatusFilter tests status normalization and
// rejection of unknown values
func TestListTransactions_StatusFilter(t *testing.T) {
	repo := newFakeRepo(sampleTx())
	r := newTestRouter(repo)

	w := get(r, "/api/v1/transactions?vehicle_id=VEH-001&status=success")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, billing.StatusSuccess, repo.gotStatus, "status filter is case insensitive")

	w = get(r, "/api/v1/transactions?vehicle_id=VEH-001&status=bogus")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid status filter")
}

// TestListTransactions_Limit tests limit parsing
func TestListTransactions_Limit(t *testing.T) {
	repo := newFakeRepo(sampleTx())
	r := newTestRouter(repo)

	w := get(r, "/api/v1/transactions?vehicle_id=VEH-001&limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, repo.gotLimit)

	w = get(r, "/api/v1/transactions?vehicle_id=VEH-001&limit=zero")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = get(r, "/api/v1/transactions?vehicle_id=VEH-001&limit=-3")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestListTransactions_EmptyResult tests that an empty history is [] on
// the wire, not null
func TestListTransactions_EmptyResult(t *testing.T) {
	r := newTestRouter(newFakeRepo())

	w := get(r, "/api/v1/transactions?vehicle_id=VEH-IDLE")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"transactions":[]`)
	assert.Contains(t, w.Body.String(), `"count":0`)
}

// TestRepositoryFailureIs500 tests the catch-all error mapping
func TestRepositoryFailureIs500(t *testing.T) {
	repo := newFakeRepo()
	repo.failWith = errors.New("connection refused")
	r := newTestRouter(repo)

	w := get(r, "/api/v1/transactions/status/evt-1001")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	assert.NotContains(t, w.Body.String(), "connection refused", "causes stay server-side")
}
