package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/servicemarket/internal/model"
	"github.com/mmeshcher/servicemarket/internal/policy"
	"github.com/mmeshcher/servicemarket/internal/repository"
	"github.com/mmeshcher/servicemarket/internal/validation"
)

// OrderLine — запрошенная строка заказа.
type OrderLine struct {
	ServiceID int64
	Quantity  int64
}

// CreateOrderRequest описывает новый заказ.
type CreateOrderRequest struct {
	Items       []OrderLine
	RecipientID *int64
}

// CreateOrder создаёт заказ от имени заявителя, назначает исполнителя и списывает стоимость с бюджета.
//
// Проверки выполняются в порядке: роль, количества, существование услуг, существование получателя,
// бюджет, наличие исполнителя. Любая ошибка откатывает все изменения.
func (s *Service) CreateOrder(ctx context.Context, actor model.Identity, req CreateOrderRequest) (*model.Order, error) {
	if actor.Role != model.RoleApplicant {
		return nil, fmt.Errorf("%w: only applicants can create orders", ErrForbidden)
	}

	quantities := make([]int64, 0, len(req.Items))
	ids := make([]int64, 0, len(req.Items))
	for _, l := range req.Items {
		quantities = append(quantities, l.Quantity)
		ids = append(ids, l.ServiceID)
	}
	if err := validation.CheckQuantities(quantities); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	var created *model.Order
	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		services, err := tx.ServicesByIDs(ctx, ids)
		if err != nil {
			return err
		}
		for _, l := range req.Items {
			if _, ok := services[l.ServiceID]; !ok {
				return fmt.Errorf("%w: service with id %d does not exist", ErrNotFound, l.ServiceID)
			}
		}

		if req.RecipientID != nil {
			exists, err := tx.AccountExists(ctx, *req.RecipientID)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("%w: recipient with id %d does not exist", ErrNotFound, *req.RecipientID)
			}
		}

		applicant, err := tx.AccountForUpdate(ctx, actor.AccountID)
		if err != nil {
			if errors.Is(err, repository.ErrAccountNotFound) {
				return fmt.Errorf("%w: account %d does not exist", ErrNotFound, actor.AccountID)
			}
			return err
		}

		prior, err := tx.CountApplicantOrders(ctx, applicant.ID)
		if err != nil {
			return err
		}

		lines := make([]policy.Line, 0, len(req.Items))
		items := make([]model.OrderItem, 0, len(req.Items))
		for _, l := range req.Items {
			svc := services[l.ServiceID]
			lines = append(lines, policy.Line{Price: svc.Price, Quantity: l.Quantity})
			if l.Quantity == 0 {
				continue
			}
			items = append(items, model.OrderItem{
				ServiceID:    svc.ID,
				ServiceName:  svc.Name,
				ServicePrice: svc.Price,
				Quantity:     l.Quantity,
			})
		}

		total, err := policy.OrderTotal(lines, prior)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
		if total > applicant.Budget {
			return fmt.Errorf("%w: order costs %d, available budget is %d", ErrInsufficientFunds, total, applicant.Budget)
		}

		suppliers, err := tx.Suppliers(ctx)
		if err != nil {
			return err
		}
		supplier, ok := policy.PickSupplier(suppliers, s.rnd)
		if !ok {
			return ErrNoSupplierAvailable
		}

		supplierID := supplier.ID
		supplierName := supplier.Username
		o := &model.Order{
			ApplicantID:       applicant.ID,
			ApplicantUsername: applicant.Username,
			SupplierID:        &supplierID,
			SupplierUsername:  &supplierName,
			RecipientID:       req.RecipientID,
			Status:            model.OrderStatusInProgress,
			TimeEstimated:     policy.TimeEstimated(s.rnd),
			TotalPrice:        total,
			Items:             items,
		}
		if err := tx.CreateOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.AdjustAccount(ctx, supplierID, 0, 1); err != nil {
			return err
		}
		if err := tx.AdjustAccount(ctx, applicant.ID, -total, 1); err != nil {
			return err
		}
		if total > 0 {
			if err := tx.AddLedgerEntry(ctx, s.ledgerEntry(applicant.ID, o.ID, model.LedgerDebit, total)); err != nil {
				return err
			}
		}

		created = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order created",
		zap.Int64("orderID", created.ID),
		zap.Int64("applicantID", created.ApplicantID),
		zap.Int64("supplierID", *created.SupplierID),
		zap.Int64("total", created.TotalPrice),
	)
	return created, nil
}

// CancelOrder отменяет заказ в работе. Отменить может заявитель или исполнитель. Средства не возвращаются.
func (s *Service) CancelOrder(ctx context.Context, actor model.Identity, orderID int64) (*model.Order, error) {
	var res *model.Order
	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !isApplicant(o, actor) && !isSupplier(o, actor) {
			return fmt.Errorf("%w: only the applicant or the supplier can cancel the order", ErrForbidden)
		}
		if o.Status != model.OrderStatusInProgress {
			return fmt.Errorf("%w: order %d is %s, only in-progress orders can be cancelled", ErrInvalidState, o.ID, o.Status)
		}

		o.Status = model.OrderStatusCancelled
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		res = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order cancelled", zap.Int64("orderID", res.ID), zap.Int64("by", actor.AccountID))
	return res, nil
}

// CompleteOrder завершает заказ. Исполнитель получает текущую стоимость строк заказа,
// у получателя, если он указан, увеличивается счётчик заказов.
func (s *Service) CompleteOrder(ctx context.Context, actor model.Identity, orderID int64) (*model.Order, error) {
	var res *model.Order
	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !isSupplier(o, actor) {
			return fmt.Errorf("%w: only the assigned supplier can complete the order", ErrForbidden)
		}
		if o.Status != model.OrderStatusInProgress {
			return fmt.Errorf("%w: order %d is %s, only in-progress orders can be completed", ErrInvalidState, o.ID, o.Status)
		}

		payout, err := o.LiveTotal()
		if err != nil {
			return fmt.Errorf("%w: order %d: %w", ErrInvalidState, o.ID, err)
		}
		if err := tx.AdjustAccount(ctx, *o.SupplierID, payout, 0); err != nil {
			return err
		}
		if payout > 0 {
			if err := tx.AddLedgerEntry(ctx, s.ledgerEntry(*o.SupplierID, o.ID, model.LedgerCredit, payout)); err != nil {
				return err
			}
		}
		if o.RecipientID != nil {
			if err := tx.AdjustAccount(ctx, *o.RecipientID, 0, 1); err != nil && !errors.Is(err, repository.ErrAccountNotFound) {
				return err
			}
		}

		completedAt := s.now()
		o.Status = model.OrderStatusCompleted
		o.CompletedAt = &completedAt
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		res = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order completed", zap.Int64("orderID", res.ID), zap.Int64("supplierID", actor.AccountID))
	return res, nil
}

// RateOrder сохраняет оценку завершённого заказа и пересчитывает рейтинг исполнителя.
func (s *Service) RateOrder(ctx context.Context, actor model.Identity, orderID int64, rating int) (*model.Order, error) {
	if !policy.ValidRating(rating) {
		return nil, fmt.Errorf("%w: rating must be between %d and %d", ErrValidation, policy.MinRating, policy.MaxRating)
	}

	var res *model.Order
	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !isApplicant(o, actor) {
			return fmt.Errorf("%w: only the applicant can rate the order", ErrForbidden)
		}
		if o.Status != model.OrderStatusCompleted {
			return fmt.Errorf("%w: order %d is %s, only completed orders can be rated", ErrInvalidState, o.ID, o.Status)
		}
		if o.IsRated {
			return fmt.Errorf("%w: order %d has already been rated", ErrInvalidState, o.ID)
		}
		if o.SupplierID == nil {
			return fmt.Errorf("%w: order %d has no supplier to rate", ErrInvalidState, o.ID)
		}

		supplier, err := tx.AccountForUpdate(ctx, *o.SupplierID)
		if err != nil {
			if errors.Is(err, repository.ErrAccountNotFound) {
				return fmt.Errorf("%w: supplier %d does not exist", ErrNotFound, *o.SupplierID)
			}
			return err
		}
		avg, count := policy.RunningAverage(supplier.Rating, supplier.RatingCount, rating)
		if err := tx.SetAccountRating(ctx, supplier.ID, avg, count); err != nil {
			return err
		}

		r := rating
		o.Rating = &r
		o.IsRated = true
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		res = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order rated", zap.Int64("orderID", res.ID), zap.Int("rating", rating))
	return res, nil
}

// Order возвращает заказ участнику: заявителю, исполнителю или получателю.
func (s *Service) Order(ctx context.Context, actor model.Identity, orderID int64) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, fmt.Errorf("%w: order %d does not exist", ErrNotFound, orderID)
		}
		return nil, err
	}
	if !isApplicant(o, actor) && !isSupplier(o, actor) && !isRecipient(o, actor) {
		return nil, fmt.Errorf("%w: not a participant of order %d", ErrForbidden, orderID)
	}
	return o, nil
}

// SupplierOrders возвращает заказы, назначенные исполнителю: в работе или закрытые.
func (s *Service) SupplierOrders(ctx context.Context, actor model.Identity, inProgress bool) ([]model.Order, error) {
	if actor.Role != model.RoleSupplier {
		return nil, fmt.Errorf("%w: only suppliers can list assigned orders", ErrForbidden)
	}
	id := actor.AccountID
	return s.repo.ListOrders(ctx, model.OrderFilter{SupplierID: &id, InProgress: inProgress})
}

// ApplicantOrders возвращает заказы, созданные заявителем: в работе или закрытые.
func (s *Service) ApplicantOrders(ctx context.Context, actor model.Identity, inProgress bool) ([]model.Order, error) {
	if actor.Role != model.RoleApplicant {
		return nil, fmt.Errorf("%w: only applicants can list created orders", ErrForbidden)
	}
	id := actor.AccountID
	return s.repo.ListOrders(ctx, model.OrderFilter{ApplicantID: &id, InProgress: inProgress})
}

func (s *Service) ledgerEntry(accountID, orderID int64, kind model.LedgerEntryKind, amount int64) model.LedgerEntry {
	return model.LedgerEntry{
		ID:        uuid.New(),
		AccountID: accountID,
		OrderID:   orderID,
		Kind:      kind,
		Amount:    amount,
		CreatedAt: s.now(),
	}
}

func lockOrder(ctx context.Context, tx repository.Tx, orderID int64) (*model.Order, error) {
	o, err := tx.OrderForUpdate(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, fmt.Errorf("%w: order %d does not exist", ErrNotFound, orderID)
		}
		return nil, err
	}
	return o, nil
}

func isApplicant(o *model.Order, actor model.Identity) bool {
	return actor.Role == model.RoleApplicant && o.ApplicantID == actor.AccountID
}

func isSupplier(o *model.Order, actor model.Identity) bool {
	return actor.Role == model.RoleSupplier && o.SupplierID != nil && *o.SupplierID == actor.AccountID
}

func isRecipient(o *model.Order, actor model.Identity) bool {
	return o.RecipientID != nil && *o.RecipientID == actor.AccountID
}
