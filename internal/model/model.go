// Package model содержит доменные сущности маркетплейса услуг.
package model

import (
	"errors"
	"math"
	"math/bits"
	"time"

	"github.com/google/uuid"
)

// Role описывает роль учётной записи.
type Role string

const (
	RoleApplicant Role = "applicant"
	RoleSupplier  Role = "supplier"
	RoleRecipient Role = "recipient"
)

// Valid сообщает, является ли роль одной из известных.
func (r Role) Valid() bool {
	switch r {
	case RoleApplicant, RoleSupplier, RoleRecipient:
		return true
	}
	return false
}

// DefaultBudget — стартовый бюджет новой учётной записи.
const DefaultBudget int64 = 5000

// Account представляет учётную запись вместе с её балансом и рейтингом.
//
// OrderCount для заявителя — число созданных заказов, для исполнителя — число назначенных,
// для получателя — число завершённых заказов, где он указан получателем.
// Rating определён тогда и только тогда, когда RatingCount > 0.
type Account struct {
	ID          int64
	Username    string
	Role        Role
	Budget      int64
	OrderCount  int64
	Rating      *float64
	RatingCount int64
	CreatedAt   time.Time
}

// Service описывает позицию каталога.
type Service struct {
	ID          int64
	Name        string
	Description *string
	Price       int64
}

// OrderStatus описывает состояние заказа.
type OrderStatus string

const (
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Terminal сообщает, что из состояния нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// OrderItem — строка заказа: услуга и её количество.
type OrderItem struct {
	ID           int64
	ServiceID    int64
	ServiceName  string
	ServicePrice int64
	Quantity     int64
}

// Order описывает заказ и его строки.
type Order struct {
	ID                int64
	ApplicantID       int64
	ApplicantUsername string
	SupplierID        *int64
	SupplierUsername  *string
	RecipientID       *int64
	Status            OrderStatus
	TimeEstimated     int
	TotalPrice        int64
	Rating            *int
	IsRated           bool
	Items             []OrderItem
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

// ErrAmountOverflow возвращается, если стоимость заказа не помещается в int64.
var ErrAmountOverflow = errors.New("order amount is out of range")

// AddLineAmount возвращает total + price*quantity. Все операнды должны быть неотрицательными.
func AddLineAmount(total, price, quantity int64) (int64, error) {
	if total < 0 || price < 0 || quantity < 0 {
		return 0, ErrAmountOverflow
	}
	hi, lo := bits.Mul64(uint64(price), uint64(quantity))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, ErrAmountOverflow
	}
	sum, carry := bits.Add64(uint64(total), lo, 0)
	if carry != 0 || sum > math.MaxInt64 {
		return 0, ErrAmountOverflow
	}
	return int64(sum), nil
}

// LiveTotal пересчитывает стоимость заказа по текущим ценам услуг.
func (o *Order) LiveTotal() (int64, error) {
	var total int64
	for _, it := range o.Items {
		var err error
		if total, err = AddLineAmount(total, it.ServicePrice, it.Quantity); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// LedgerEntryKind описывает направление движения средств.
type LedgerEntryKind string

const (
	LedgerDebit  LedgerEntryKind = "debit"
	LedgerCredit LedgerEntryKind = "credit"
)

// LedgerEntry — неизменяемая запись журнала движения бюджета.
type LedgerEntry struct {
	ID        uuid.UUID
	AccountID int64
	OrderID   int64
	Kind      LedgerEntryKind
	Amount    int64
	CreatedAt time.Time
}

// OrderFilter задаёт выборку заказов для списков.
type OrderFilter struct {
	ApplicantID *int64
	SupplierID  *int64
	// InProgress выбирает открытые заказы, иначе — закрытые (завершённые и отменённые).
	InProgress bool
}

// Identity — аутентифицированный инициатор запроса. Роль и идентификатор принимаются как есть.
type Identity struct {
	AccountID int64
	Role      Role
}
