// Package service реализует бизнес-логику маркетплейса услуг.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/servicemarket/internal/catalog"
	"github.com/mmeshcher/servicemarket/internal/model"
	"github.com/mmeshcher/servicemarket/internal/policy"
	"github.com/mmeshcher/servicemarket/internal/repository"
	"github.com/mmeshcher/servicemarket/internal/validation"
)

var (
	// ErrValidation возвращается для некорректных или отсутствующих входных данных.
	ErrValidation = errors.New("validation error")
	// ErrNotFound возвращается, если упомянутая услуга, учётная запись или заказ не существует.
	ErrNotFound = errors.New("not found")
	// ErrForbidden возвращается, если у инициатора нет нужной роли или связи с заказом.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidState возвращается, если операция недопустима в текущем состоянии заказа.
	ErrInvalidState = errors.New("invalid state")
	// ErrInsufficientFunds возвращается, если бюджета заявителя не хватает на заказ.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNoSupplierAvailable возвращается, если нет ни одного исполнителя.
	ErrNoSupplierAvailable = errors.New("no supplier available")
	// ErrInvalidCredentials возвращается при неверном имени пользователя или пароле.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	InTx(ctx context.Context, fn func(tx repository.Tx) error) error
	CreateAccount(ctx context.Context, a *model.Account, passwordHash []byte) error
	GetCredentials(ctx context.Context, username string) (*model.Account, []byte, error)
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	ListAccounts(ctx context.Context, role *model.Role) ([]model.Account, error)
	ListServices(ctx context.Context) ([]model.Service, error)
	UpsertServices(ctx context.Context, services []model.Service) error
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	ListOrders(ctx context.Context, f model.OrderFilter) ([]model.Order, error)
	ListLedgerEntries(ctx context.Context, accountID int64) ([]model.LedgerEntry, error)
}

// CatalogClient получает каталог услуг из внешней системы.
type CatalogClient interface {
	FetchServices(ctx context.Context) ([]catalog.Item, error)
}

type globalRand struct{}

func (globalRand) IntN(n int) int {
	return rand.IntN(n)
}

// Service содержит бизнес-логику маркетплейса.
type Service struct {
	repo    Repository
	catalog CatalogClient
	logger  *zap.Logger
	rnd     policy.Rand
	now     func() time.Time
}

// NewService создаёт сервис. При nil catalogClient синхронизация каталога отключена.
func NewService(repo Repository, catalogClient CatalogClient, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		catalog: catalogClient,
		logger:  logger,
		rnd:     globalRand{},
		now:     time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Register создаёт учётную запись с бюджетом по умолчанию.
func (s *Service) Register(ctx context.Context, username, password string, role model.Role) (*model.Account, error) {
	if !validation.IsValidUsername(username) {
		return nil, fmt.Errorf("%w: username may contain only letters, digits and @.+-_", ErrValidation)
	}
	if password == "" || len(password) > 72 {
		return nil, fmt.Errorf("%w: password must be between 1 and 72 bytes", ErrValidation)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	a := &model.Account{
		Username: username,
		Role:     role,
		Budget:   model.DefaultBudget,
	}
	if err := s.repo.CreateAccount(ctx, a, hash); err != nil {
		return nil, err
	}

	s.logger.Info("account registered", zap.Int64("accountID", a.ID), zap.String("role", string(role)))
	return a, nil
}

// Login проверяет имя пользователя и пароль и возвращает учётную запись.
func (s *Service) Login(ctx context.Context, username, password string) (*model.Account, error) {
	a, hash, err := s.repo.GetCredentials(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return a, nil
}

// Account возвращает учётную запись инициатора.
func (s *Service) Account(ctx context.Context, actor model.Identity) (*model.Account, error) {
	a, err := s.repo.GetAccount(ctx, actor.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: account %d does not exist", ErrNotFound, actor.AccountID)
		}
		return nil, err
	}
	return a, nil
}

// ListAccounts возвращает все учётные записи или только учётные записи заданной роли.
func (s *Service) ListAccounts(ctx context.Context, role *model.Role) ([]model.Account, error) {
	return s.repo.ListAccounts(ctx, role)
}

// ListServices возвращает каталог услуг.
func (s *Service) ListServices(ctx context.Context) ([]model.Service, error) {
	return s.repo.ListServices(ctx)
}

// LedgerEntries возвращает журнал движения бюджета инициатора.
func (s *Service) LedgerEntries(ctx context.Context, actor model.Identity) ([]model.LedgerEntry, error) {
	return s.repo.ListLedgerEntries(ctx, actor.AccountID)
}
