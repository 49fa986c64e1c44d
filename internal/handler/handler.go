// Package handler содержит HTTP-обработчики API маркетплейса услуг.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/servicemarket/internal/middleware"
	"github.com/mmeshcher/servicemarket/internal/model"
	"github.com/mmeshcher/servicemarket/internal/repository"
	"github.com/mmeshcher/servicemarket/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Register(ctx context.Context, username, password string, role model.Role) (*model.Account, error)
	Login(ctx context.Context, username, password string) (*model.Account, error)
	Account(ctx context.Context, actor model.Identity) (*model.Account, error)
	ListAccounts(ctx context.Context, role *model.Role) ([]model.Account, error)
	ListServices(ctx context.Context) ([]model.Service, error)
	LedgerEntries(ctx context.Context, actor model.Identity) ([]model.LedgerEntry, error)

	CreateOrder(ctx context.Context, actor model.Identity, req service.CreateOrderRequest) (*model.Order, error)
	CancelOrder(ctx context.Context, actor model.Identity, orderID int64) (*model.Order, error)
	CompleteOrder(ctx context.Context, actor model.Identity, orderID int64) (*model.Order, error)
	RateOrder(ctx context.Context, actor model.Identity, orderID int64, rating int) (*model.Order, error)
	Order(ctx context.Context, actor model.Identity, orderID int64) (*model.Order, error)
	SupplierOrders(ctx context.Context, actor model.Identity, inProgress bool) ([]model.Order, error)
	ApplicantOrders(ctx context.Context, actor model.Identity, inProgress bool) ([]model.Order, error)
}

// Handler реализует HTTP-обработчики API маркетплейса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor сопоставляет ошибку бизнес-логики с HTTP-статусом.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrInsufficientFunds),
		errors.Is(err, service.ErrNoSupplierAvailable):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, repository.ErrUsernameTaken):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// handleError отвечает клиенту по ошибке сервиса. Неожиданные ошибки журналируются, их текст клиенту не отдаётся.
func (h *Handler) handleError(w http.ResponseWriter, err error, op string, fields ...zap.Field) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", append(fields, zap.Error(err))...)
		writeError(w, status, http.StatusText(status))
		return
	}
	writeError(w, status, err.Error())
}

func identity(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
	}
	return id, ok
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "order not found")
		return 0, false
	}
	return id, true
}
