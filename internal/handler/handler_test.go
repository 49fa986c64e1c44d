package handler

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/servicemarket/internal/middleware"
	"github.com/mmeshcher/servicemarket/internal/model"
	"github.com/mmeshcher/servicemarket/internal/repository"
	"github.com/mmeshcher/servicemarket/internal/service"
)

type stubService struct {
	account    *model.Account
	accountErr error

	accounts  []model.Account
	listRole  *model.Role
	services  []model.Service
	ledger    []model.LedgerEntry
	ledgerErr error

	order    *model.Order
	orderErr error
	orders   []model.Order

	createReq    service.CreateOrderRequest
	lastActor    model.Identity
	lastOrderID  int64
	lastRating   int
	inProgress   bool
	listedOrders string
}

func (s *stubService) Register(ctx context.Context, username, password string, role model.Role) (*model.Account, error) {
	return s.account, s.accountErr
}

func (s *stubService) Login(ctx context.Context, username, password string) (*model.Account, error) {
	return s.account, s.accountErr
}

func (s *stubService) Account(ctx context.Context, actor model.Identity) (*model.Account, error) {
	s.lastActor = actor
	return s.account, s.accountErr
}

func (s *stubService) ListAccounts(ctx context.Context, role *model.Role) ([]model.Account, error) {
	s.listRole = role
	return s.accounts, nil
}

func (s *stubService) ListServices(ctx context.Context) ([]model.Service, error) {
	return s.services, nil
}

func (s *stubService) LedgerEntries(ctx context.Context, actor model.Identity) ([]model.LedgerEntry, error) {
	s.lastActor = actor
	return s.ledger, s.ledgerErr
}

func (s *stubService) CreateOrder(ctx context.Context, actor model.Identity, req service.CreateOrderRequest) (*model.Order, error) {
	s.lastActor = actor
	s.createReq = req
	return s.order, s.orderErr
}

func (s *stubService) CancelOrder(ctx context.Context, actor model.Identity, orderID int64) (*model.Order, error) {
	s.lastActor, s.lastOrderID = actor, orderID
	return s.order, s.orderErr
}

func (s *stubService) CompleteOrder(ctx context.Context, actor model.Identity, orderID int64) (*model.Order, error) {
	s.lastActor, s.lastOrderID = actor, orderID
	return s.order, s.orderErr
}

func (s *stubService) RateOrder(ctx context.Context, actor model.Identity, orderID int64, rating int) (*model.Order, error) {
	s.lastActor, s.lastOrderID, s.lastRating = actor, orderID, rating
	return s.order, s.orderErr
}

func (s *stubService) Order(ctx context.Context, actor model.Identity, orderID int64) (*model.Order, error) {
	s.lastActor, s.lastOrderID = actor, orderID
	return s.order, s.orderErr
}

func (s *stubService) SupplierOrders(ctx context.Context, actor model.Identity, inProgress bool) ([]model.Order, error) {
	s.lastActor, s.inProgress, s.listedOrders = actor, inProgress, "supplier"
	return s.orders, nil
}

func (s *stubService) ApplicantOrders(ctx context.Context, actor model.Identity, inProgress bool) ([]model.Order, error) {
	s.lastActor, s.inProgress, s.listedOrders = actor, inProgress, "applicant"
	return s.orders, nil
}

var (
	applicant = model.Identity{AccountID: 1, Role: model.RoleApplicant}
	supplier  = model.Identity{AccountID: 2, Role: model.RoleSupplier}
)

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	return NewHandler(svc, zap.NewNop(), middleware.NewAuthMiddleware("test-secret"))
}

func doRequest(t *testing.T, h *Handler, method, path string, body any, as *model.Identity) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		token, err := h.authMiddleware.IssueToken(*as)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec.Result()
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	defer res.Body.Close()

	var v T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	return v
}

func sampleOrder() *model.Order {
	supplierID := supplier.AccountID
	supplierName := "s1"
	return &model.Order{
		ID:                10,
		ApplicantID:       applicant.AccountID,
		ApplicantUsername: "a1",
		SupplierID:        &supplierID,
		SupplierUsername:  &supplierName,
		Status:            model.OrderStatusInProgress,
		TimeEstimated:     42,
		TotalPrice:        200,
		Items: []model.OrderItem{
			{ID: 1, ServiceID: 1, ServiceName: "charchazo", ServicePrice: 100, Quantity: 1},
			{ID: 2, ServiceID: 2, ServiceName: "abrazo", ServicePrice: 50, Quantity: 2},
		},
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestRegister_ReturnsToken(t *testing.T) {
	svc := &stubService{account: &model.Account{ID: 5, Username: "alice", Role: model.RoleApplicant, Budget: 5000}}
	h := newTestHandler(t, svc)

	res := doRequest(t, h, http.MethodPost, "/api/user/register", registerRequest{
		Username: "alice", Password: "pass", Role: "applicant",
	}, nil)

	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotEmpty(t, res.Header.Get("Authorization"))
	assert.NotEmpty(t, res.Cookies())

	resp := decode[authResponse](t, res)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, int64(5000), resp.Account.Budget)

	// Выданный токен принимается защищёнными маршрутами.
	req := httptest.NewRequest(http.MethodGet, "/api/user/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(5), svc.lastActor.AccountID)
}

func TestRegister_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "duplicate username", err: fmt.Errorf("%w: alice", repository.ErrUsernameTaken), wantStatus: http.StatusConflict},
		{name: "bad role", err: fmt.Errorf("%w: unknown role", service.ErrValidation), wantStatus: http.StatusBadRequest},
		{name: "storage failure", err: errors.New("connection reset"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{accountErr: tt.err})

			res := doRequest(t, h, http.MethodPost, "/api/user/register", registerRequest{Username: "alice", Password: "p", Role: "x"}, nil)
			assert.Equal(t, tt.wantStatus, res.StatusCode)

			body := decode[errorResponse](t, res)
			assert.NotEmpty(t, body.Error)
			if tt.wantStatus == http.StatusInternalServerError {
				assert.NotContains(t, body.Error, "connection reset")
			}
		})
	}
}

func TestLogin_UnauthorizedOnInvalidCredentials(t *testing.T) {
	h := newTestHandler(t, &stubService{accountErr: service.ErrInvalidCredentials})

	res := doRequest(t, h, http.MethodPost, "/api/user/login", loginRequest{Username: "user", Password: "pass"}, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestLogin_MissingFields(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := doRequest(t, h, http.MethodPost, "/api/user/login", loginRequest{Username: "user"}, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	for _, path := range []string{"/api/user/me", "/api/users", "/api/orders/1", "/api/orders/supplier/closed"} {
		res := doRequest(t, h, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode, path)
	}
}

func TestListServices_Public(t *testing.T) {
	desc := "hug"
	h := newTestHandler(t, &stubService{services: []model.Service{
		{ID: 1, Name: "charchazo", Price: 100},
		{ID: 2, Name: "abrazo", Description: &desc, Price: 50},
	}})

	res := doRequest(t, h, http.MethodGet, "/api/services", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	services := decode[[]serviceResponse](t, res)
	require.Len(t, services, 2)
	assert.Nil(t, services[0].Description)
	assert.Equal(t, "hug", *services[1].Description)
}

func TestRouter_CompressesJSONResponses(t *testing.T) {
	h := newTestHandler(t, &stubService{services: []model.Service{{ID: 1, Name: "charchazo", Price: 100}}})

	req := httptest.NewRequest(http.MethodGet, "/api/services", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "gzip", res.Header.Get("Content-Encoding"))

	zr, err := gzip.NewReader(res.Body)
	require.NoError(t, err)
	defer zr.Close()

	var services []serviceResponse
	require.NoError(t, json.NewDecoder(zr).Decode(&services))
	require.Len(t, services, 1)
	assert.Equal(t, "charchazo", services[0].Name)
}

func TestListRecipients_FiltersByRole(t *testing.T) {
	svc := &stubService{accounts: []model.Account{{ID: 3, Username: "r1", Role: model.RoleRecipient}}}
	h := newTestHandler(t, svc)

	res := doRequest(t, h, http.MethodGet, "/api/users/recipients", nil, &applicant)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NotNil(t, svc.listRole)
	assert.Equal(t, model.RoleRecipient, *svc.listRole)

	res = doRequest(t, h, http.MethodGet, "/api/users", nil, &applicant)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Nil(t, svc.listRole)
}

func TestCreateOrder_Created(t *testing.T) {
	svc := &stubService{order: sampleOrder()}
	h := newTestHandler(t, svc)

	recipient := int64(3)
	zero := int64(0)
	res := doRequest(t, h, http.MethodPost, "/api/orders", map[string]any{
		"items": []map[string]any{
			{"service_id": 1},
			{"service_id": 2, "quantity": 2},
			{"service_id": 2, "quantity": zero},
		},
		"recipient_id": recipient,
	}, &applicant)

	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, applicant, svc.lastActor)
	assert.Equal(t, []service.OrderLine{{ServiceID: 1, Quantity: 1}, {ServiceID: 2, Quantity: 2}, {ServiceID: 2, Quantity: 0}}, svc.createReq.Items)
	require.NotNil(t, svc.createReq.RecipientID)
	assert.Equal(t, recipient, *svc.createReq.RecipientID)

	body := decode[orderResponse](t, res)
	assert.Equal(t, int64(10), body.ID)
	assert.Equal(t, "in_progress", body.Status)
	assert.Equal(t, int64(200), body.TotalPrice)
	assert.Equal(t, "2024-01-02T03:04:05Z", body.CreatedAt)
	assert.Nil(t, body.CompletedAt)
	assert.False(t, body.IsRated)
	require.Len(t, body.Items, 2)
	assert.Equal(t, "abrazo", body.Items[1].ServiceName)
}

func TestCreateOrder_BadRequests(t *testing.T) {
	h := newTestHandler(t, &stubService{order: sampleOrder()})

	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString("{not json"))
	token, err := h.authMiddleware.IssueToken(applicant)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	res := doRequest(t, h, http.MethodPost, "/api/orders", map[string]any{
		"items": []map[string]any{{"quantity": 1}},
	}, &applicant)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "validation", err: fmt.Errorf("%w: at least one service is required", service.ErrValidation), wantStatus: http.StatusBadRequest},
		{name: "unknown service", err: fmt.Errorf("%w: service with id 9 does not exist", service.ErrNotFound), wantStatus: http.StatusNotFound},
		{name: "wrong role", err: fmt.Errorf("%w: only applicants can create orders", service.ErrForbidden), wantStatus: http.StatusForbidden},
		{name: "budget", err: fmt.Errorf("%w: order costs 900", service.ErrInsufficientFunds), wantStatus: http.StatusBadRequest},
		{name: "no supplier", err: service.ErrNoSupplierAvailable, wantStatus: http.StatusBadRequest},
		{name: "storage", err: context.DeadlineExceeded, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{orderErr: tt.err})

			res := doRequest(t, h, http.MethodPost, "/api/orders", map[string]any{
				"items": []map[string]any{{"service_id": 9, "quantity": 1}},
			}, &applicant)
			assert.Equal(t, tt.wantStatus, res.StatusCode)

			body := decode[errorResponse](t, res)
			if tt.wantStatus != http.StatusInternalServerError {
				assert.Equal(t, tt.err.Error(), body.Error)
			}
		})
	}
}

func TestOrderTransitions(t *testing.T) {
	completed := sampleOrder()
	now := time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC)
	completed.Status = model.OrderStatusCompleted
	completed.CompletedAt = &now

	svc := &stubService{order: completed}
	h := newTestHandler(t, svc)

	res := doRequest(t, h, http.MethodPut, "/api/orders/10/complete", nil, &supplier)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, int64(10), svc.lastOrderID)
	body := decode[orderResponse](t, res)
	assert.Equal(t, "completed", body.Status)
	require.NotNil(t, body.CompletedAt)

	res = doRequest(t, h, http.MethodPut, "/api/orders/10/cancel", nil, &applicant)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, applicant, svc.lastActor)

	res = doRequest(t, h, http.MethodGet, "/api/orders/10", nil, &supplier)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = doRequest(t, h, http.MethodGet, "/api/orders/abc", nil, &supplier)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestCancelOrder_InvalidState(t *testing.T) {
	h := newTestHandler(t, &stubService{orderErr: fmt.Errorf("%w: order 10 is cancelled", service.ErrInvalidState)})

	res := doRequest(t, h, http.MethodPut, "/api/orders/10/cancel", nil, &applicant)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestRateOrder(t *testing.T) {
	svc := &stubService{order: sampleOrder()}
	h := newTestHandler(t, svc)

	res := doRequest(t, h, http.MethodPost, "/api/orders/10/rate", map[string]any{"rating": 4}, &applicant)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 4, svc.lastRating)
	assert.Equal(t, "order rated successfully", decode[messageResponse](t, res).Message)

	res = doRequest(t, h, http.MethodPost, "/api/orders/10/rate", map[string]any{}, &applicant)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	h = newTestHandler(t, &stubService{orderErr: fmt.Errorf("%w: only the applicant can rate the order", service.ErrForbidden)})
	res = doRequest(t, h, http.MethodPost, "/api/orders/10/rate", map[string]any{"rating": 4}, &supplier)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestListOrders_Routes(t *testing.T) {
	tests := []struct {
		path           string
		as             model.Identity
		wantStatus     int
		wantLister     string
		wantInProgress bool
	}{
		{path: "/api/orders/supplier/in-progress", as: supplier, wantStatus: http.StatusOK, wantLister: "supplier", wantInProgress: true},
		{path: "/api/orders/supplier/closed", as: supplier, wantStatus: http.StatusOK, wantLister: "supplier"},
		{path: "/api/orders/applicant/in-progress", as: applicant, wantStatus: http.StatusOK, wantLister: "applicant", wantInProgress: true},
		{path: "/api/orders/applicant/closed", as: applicant, wantStatus: http.StatusOK, wantLister: "applicant"},
		{path: "/api/orders/supplier/closed", as: applicant, wantStatus: http.StatusForbidden},
		{path: "/api/orders/applicant/in-progress", as: supplier, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.path+" as "+string(tt.as.Role), func(t *testing.T) {
			svc := &stubService{orders: []model.Order{*sampleOrder()}}
			h := newTestHandler(t, svc)

			res := doRequest(t, h, http.MethodGet, tt.path, nil, &tt.as)
			require.Equal(t, tt.wantStatus, res.StatusCode)
			if tt.wantStatus != http.StatusOK {
				return
			}

			assert.Equal(t, tt.wantLister, svc.listedOrders)
			assert.Equal(t, tt.wantInProgress, svc.inProgress)
			assert.Len(t, decode[[]orderResponse](t, res), 1)
		})
	}
}

func TestLedger_JSONResponse(t *testing.T) {
	entryID := uuid.MustParse("6f1c1c5e-3b7a-4d0e-9a43-6a1d5b7c2e11")
	svc := &stubService{ledger: []model.LedgerEntry{
		{ID: entryID, AccountID: 1, OrderID: 10, Kind: model.LedgerDebit, Amount: 200, CreatedAt: time.Now()},
	}}
	h := newTestHandler(t, svc)

	res := doRequest(t, h, http.MethodGet, "/api/user/ledger", nil, &applicant)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

	entries := decode[[]ledgerEntryResponse](t, res)
	require.Len(t, entries, 1)
	assert.Equal(t, entryID.String(), entries[0].ID)
	assert.Equal(t, "debit", entries[0].Kind)
}

func TestEmptyListsAreArrays(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := doRequest(t, h, http.MethodGet, "/api/orders/applicant/closed", nil, &applicant)
	require.Equal(t, http.StatusOK, res.StatusCode)
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(raw))
}
