package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/servicemarket/internal/model"
	"github.com/mmeshcher/servicemarket/internal/service"
)

type orderLister func(ctx context.Context, actor model.Identity, inProgress bool) ([]model.Order, error)

type orderItemRequest struct {
	ServiceID *int64 `json:"service_id"`
	Quantity  *int64 `json:"quantity"`
}

type createOrderRequest struct {
	Items       []orderItemRequest `json:"items"`
	RecipientID *int64             `json:"recipient_id"`
}

type rateOrderRequest struct {
	Rating *int `json:"rating"`
}

// CreateOrder создаёт заказ от имени текущего заявителя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	lines := make([]service.OrderLine, 0, len(req.Items))
	for _, it := range req.Items {
		if it.ServiceID == nil {
			writeError(w, http.StatusBadRequest, "service_id is required for every item")
			return
		}
		quantity := int64(1)
		if it.Quantity != nil {
			quantity = *it.Quantity
		}
		lines = append(lines, service.OrderLine{ServiceID: *it.ServiceID, Quantity: quantity})
	}

	o, err := h.service.CreateOrder(r.Context(), actor, service.CreateOrderRequest{
		Items:       lines,
		RecipientID: req.RecipientID,
	})
	if err != nil {
		h.handleError(w, err, "create order", zap.Int64("accountID", actor.AccountID))
		return
	}

	writeJSON(w, http.StatusCreated, newOrderResponse(*o))
}

// GetOrder возвращает заказ участнику.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	o, err := h.service.Order(r.Context(), actor, orderID)
	if err != nil {
		h.handleError(w, err, "get order", zap.Int64("orderID", orderID))
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(*o))
}

// CancelOrder отменяет заказ в работе.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	o, err := h.service.CancelOrder(r.Context(), actor, orderID)
	if err != nil {
		h.handleError(w, err, "cancel order", zap.Int64("orderID", orderID))
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(*o))
}

// CompleteOrder завершает заказ исполнителем.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	o, err := h.service.CompleteOrder(r.Context(), actor, orderID)
	if err != nil {
		h.handleError(w, err, "complete order", zap.Int64("orderID", orderID))
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(*o))
}

// RateOrder сохраняет оценку завершённого заказа.
func (h *Handler) RateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req rateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.Rating == nil {
		writeError(w, http.StatusBadRequest, "rating is required")
		return
	}

	if _, err := h.service.RateOrder(r.Context(), actor, orderID, *req.Rating); err != nil {
		h.handleError(w, err, "rate order", zap.Int64("orderID", orderID))
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "order rated successfully"})
}

// SupplierInProgress возвращает открытые заказы текущего исполнителя.
func (h *Handler) SupplierInProgress(w http.ResponseWriter, r *http.Request) {
	h.listOrders(w, r, h.service.SupplierOrders, true)
}

// SupplierClosed возвращает завершённые и отменённые заказы текущего исполнителя.
func (h *Handler) SupplierClosed(w http.ResponseWriter, r *http.Request) {
	h.listOrders(w, r, h.service.SupplierOrders, false)
}

// ApplicantInProgress возвращает открытые заказы текущего заявителя.
func (h *Handler) ApplicantInProgress(w http.ResponseWriter, r *http.Request) {
	h.listOrders(w, r, h.service.ApplicantOrders, true)
}

// ApplicantClosed возвращает завершённые и отменённые заказы текущего заявителя.
func (h *Handler) ApplicantClosed(w http.ResponseWriter, r *http.Request) {
	h.listOrders(w, r, h.service.ApplicantOrders, false)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request, list orderLister, inProgress bool) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	orders, err := list(r.Context(), actor, inProgress)
	if err != nil {
		h.handleError(w, err, "list orders", zap.Int64("accountID", actor.AccountID))
		return
	}

	writeJSON(w, http.StatusOK, newOrderList(orders))
}
