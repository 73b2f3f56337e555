package store

import (
	"context"
	"errors"
	"time"

	"tokoizzah/backend/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrShiftOpen     = errors.New("shift already open")
	ErrNoActiveShift = errors.New("no active shift")
	ErrDuplicate     = errors.New("already exists")
)

// SaleQuery narrows ListSales at the storage level. Finer slicing (date
// buckets, category, free text) is handled by the ledger package on the
// returned slice.
type SaleQuery struct {
	ShiftID string
	Limit   int
}

type Repository interface {
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, q SaleQuery) ([]domain.Sale, error)
	DeleteSale(ctx context.Context, id string) error

	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	GetShiftByID(ctx context.Context, id string) (*domain.Shift, error)
	GetActiveShift(ctx context.Context, openedBy string) (*domain.Shift, error)
	ListShifts(ctx context.Context, limit int) ([]domain.Shift, error)
	CloseShift(ctx context.Context, id string, report domain.ShiftReport, closedAt time.Time) (*domain.Shift, error)

	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	GetSettings(ctx context.Context) (*domain.Settings, error)
	UpsertSettings(ctx context.Context, settings domain.Settings) (*domain.Settings, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	DeleteUser(ctx context.Context, username string) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)
}
