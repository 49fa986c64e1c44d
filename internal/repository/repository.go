// Package repository содержит реализации хранилища маркетплейса: PostgreSQL и in-memory.
package repository

import (
	"context"
	"errors"

	"github.com/mmeshcher/servicemarket/internal/model"
)

var (
	// ErrUsernameTaken возвращается при попытке зарегистрировать занятое имя пользователя.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrAccountNotFound возвращается, если учётная запись не найдена.
	ErrAccountNotFound = errors.New("account not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
)

// Tx описывает операции, выполняемые внутри одной транзакции.
// Методы с суффиксом ForUpdate блокируют прочитанные строки до конца транзакции.
type Tx interface {
	ServicesByIDs(ctx context.Context, ids []int64) (map[int64]model.Service, error)
	AccountForUpdate(ctx context.Context, id int64) (*model.Account, error)
	AccountExists(ctx context.Context, id int64) (bool, error)
	Suppliers(ctx context.Context) ([]model.Account, error)
	CountApplicantOrders(ctx context.Context, applicantID int64) (int64, error)
	CreateOrder(ctx context.Context, o *model.Order) error
	OrderForUpdate(ctx context.Context, id int64) (*model.Order, error)
	UpdateOrder(ctx context.Context, o *model.Order) error
	// AdjustAccount атомарно прибавляет дельты к бюджету и счётчику заказов.
	AdjustAccount(ctx context.Context, id int64, budgetDelta, orderCountDelta int64) error
	SetAccountRating(ctx context.Context, id int64, rating float64, count int64) error
	AddLedgerEntry(ctx context.Context, e model.LedgerEntry) error
}
