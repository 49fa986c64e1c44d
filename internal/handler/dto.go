package handler

import (
	"time"

	"github.com/mmeshcher/servicemarket/internal/model"
)

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type accountResponse struct {
	ID          int64    `json:"id"`
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Budget      int64    `json:"budget"`
	OrderCount  int64    `json:"order_count"`
	Rating      *float64 `json:"rating"`
	RatingCount int64    `json:"rating_count"`
}

func newAccountResponse(a model.Account) accountResponse {
	return accountResponse{
		ID:          a.ID,
		Username:    a.Username,
		Role:        string(a.Role),
		Budget:      a.Budget,
		OrderCount:  a.OrderCount,
		Rating:      a.Rating,
		RatingCount: a.RatingCount,
	}
}

type authResponse struct {
	Token   string          `json:"token"`
	Account accountResponse `json:"account"`
}

type serviceResponse struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Price       int64   `json:"price"`
}

type ledgerEntryResponse struct {
	ID        string `json:"id"`
	OrderID   int64  `json:"order_id"`
	Kind      string `json:"kind"`
	Amount    int64  `json:"amount"`
	CreatedAt string `json:"created_at"`
}

type orderItemResponse struct {
	ID          int64  `json:"id"`
	ServiceID   int64  `json:"service_id"`
	ServiceName string `json:"service_name"`
	Quantity    int64  `json:"quantity"`
}

type orderResponse struct {
	ID                int64               `json:"id"`
	ApplicantID       int64               `json:"applicant_id"`
	ApplicantUsername string              `json:"applicant_username"`
	SupplierID        *int64              `json:"supplier_id"`
	SupplierUsername  *string             `json:"supplier_username"`
	RecipientID       *int64              `json:"recipient_id"`
	Status            string              `json:"status"`
	TimeEstimated     int                 `json:"time_estimated"`
	CreatedAt         string              `json:"created_at"`
	UpdatedAt         string              `json:"updated_at"`
	CompletedAt       *string             `json:"completed_at"`
	Items             []orderItemResponse `json:"items"`
	TotalPrice        int64               `json:"total_price"`
	Rating            *int                `json:"rating"`
	IsRated           bool                `json:"is_rated"`
}

func newOrderResponse(o model.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResponse{
			ID:          it.ID,
			ServiceID:   it.ServiceID,
			ServiceName: it.ServiceName,
			Quantity:    it.Quantity,
		})
	}

	var completedAt *string
	if o.CompletedAt != nil {
		s := o.CompletedAt.Format(time.RFC3339)
		completedAt = &s
	}

	return orderResponse{
		ID:                o.ID,
		ApplicantID:       o.ApplicantID,
		ApplicantUsername: o.ApplicantUsername,
		SupplierID:        o.SupplierID,
		SupplierUsername:  o.SupplierUsername,
		RecipientID:       o.RecipientID,
		Status:            string(o.Status),
		TimeEstimated:     o.TimeEstimated,
		CreatedAt:         o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         o.UpdatedAt.Format(time.RFC3339),
		CompletedAt:       completedAt,
		Items:             items,
		TotalPrice:        o.TotalPrice,
		Rating:            o.Rating,
		IsRated:           o.IsRated,
	}
}

func newOrderList(orders []model.Order) []orderResponse {
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, newOrderResponse(o))
	}
	return resp
}
