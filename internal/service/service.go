package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tokoizzah/backend/internal/domain"
	"tokoizzah/backend/internal/ledger"
	"tokoizzah/backend/internal/store"
	"tokoizzah/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo   store.Repository
	engine *ledger.Engine
}

func New(repo store.Repository, engine *ledger.Engine) *Service {
	return &Service{repo: repo, engine: engine}
}

// SaleFilterOptions carries the raw query parameters of a sales listing
// or summary request before they are parsed into a ledger.Filter. From
// and To are YYYY-MM-DD days for an explicit daily window; Month and
// Year pick a specific calendar month or year.
type SaleFilterOptions struct {
	Range    string
	Category string
	Query    string
	Scope    string
	From     string
	To       string
	Month    string
	Year     string
	Limit    int
}

const ScopeCurrentShift = "current-shift"

func (s *Service) resolveFilter(ctx context.Context, opts SaleFilterOptions) (ledger.Filter, error) {
	rng, ok := ledger.ParseRange(opts.Range)
	if !ok {
		return ledger.Filter{}, fmt.Errorf("%w: unknown range %q", store.ErrInvalidInput, opts.Range)
	}
	if opts.Category != "" {
		if _, known := domain.DestinationKindFor(opts.Category); !known {
			return ledger.Filter{}, fmt.Errorf("%w: unknown category %q", store.ErrInvalidInput, opts.Category)
		}
	}

	filter := ledger.Filter{
		Range:    rng,
		Category: opts.Category,
		Query:    opts.Query,
	}

	if opts.From != "" {
		from, err := ledger.ParseDay(opts.From)
		if err != nil {
			return ledger.Filter{}, fmt.Errorf("%w: invalid from date %q", store.ErrInvalidInput, opts.From)
		}
		filter.From = from
	}
	if opts.To != "" {
		to, err := ledger.ParseDay(opts.To)
		if err != nil {
			return ledger.Filter{}, fmt.Errorf("%w: invalid to date %q", store.ErrInvalidInput, opts.To)
		}
		filter.To = to
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return ledger.Filter{}, fmt.Errorf("%w: to date precedes from date", store.ErrInvalidInput)
	}
	if opts.Month != "" {
		month, err := strconv.Atoi(strings.TrimSpace(opts.Month))
		if err != nil || month < 1 || month > 12 {
			return ledger.Filter{}, fmt.Errorf("%w: invalid month %q", store.ErrInvalidInput, opts.Month)
		}
		filter.Month = time.Month(month)
	}
	if opts.Year != "" {
		year, err := strconv.Atoi(strings.TrimSpace(opts.Year))
		if err != nil || year < 1 {
			return ledger.Filter{}, fmt.Errorf("%w: invalid year %q", store.ErrInvalidInput, opts.Year)
		}
		filter.Year = year
	}

	if opts.Scope == ScopeCurrentShift {
		actor, ok := ActorFromContext(ctx)
		if !ok {
			return ledger.Filter{}, fmt.Errorf("actor required")
		}
		shift, err := s.repo.GetActiveShift(ctx, actor.Username)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ledger.Filter{}, store.ErrNoActiveShift
			}
			return ledger.Filter{}, err
		}
		filter.ShiftID = shift.ID
	}

	return filter, nil
}

func (s *Service) RecordSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Sale{}, fmt.Errorf("actor required")
	}

	req.Category = strings.TrimSpace(req.Category)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)
	req.Destination = strings.TrimSpace(req.Destination)
	req.BankName = strings.TrimSpace(req.BankName)

	kind, known := domain.DestinationKindFor(req.Category)
	if !known {
		return domain.Sale{}, fmt.Errorf("%w: unknown category %q", store.ErrInvalidInput, req.Category)
	}
	if req.Amount < 1 {
		return domain.Sale{}, fmt.Errorf("%w: amount must be at least 1", store.ErrInvalidInput)
	}
	if req.AdminFee < 0 {
		return domain.Sale{}, fmt.Errorf("%w: admin fee must not be negative", store.ErrInvalidInput)
	}
	if req.CustomerName == "" {
		return domain.Sale{}, fmt.Errorf("%w: customer name required", store.ErrInvalidInput)
	}

	destination, err := buildDestination(kind, req)
	if err != nil {
		return domain.Sale{}, err
	}

	sale := domain.Sale{
		ID:            xid.New("sale"),
		Category:      req.Category,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Destination:   destination,
		Amount:        req.Amount,
		AdminFee:      req.AdminFee,
		CreatedBy:     actor.Username,
		CreatedAt:     time.Now().UTC(),
	}

	if req.ProductID != "" {
		product, err := s.repo.GetProductByID(ctx, req.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Sale{}, fmt.Errorf("%w: unknown product", store.ErrInvalidInput)
			}
			return domain.Sale{}, err
		}
		sale.ProductID = product.ID
		sale.ProductName = product.Name
	}

	if shift, err := s.repo.GetActiveShift(ctx, actor.Username); err == nil {
		sale.ShiftID = shift.ID
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.Sale{}, err
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, err
	}
	s.engine.Invalidate()
	return *created, nil
}

// buildDestination validates that the request carries exactly the detail
// its category demands and assembles the tagged variant.
func buildDestination(kind string, req domain.SaleCreateRequest) (domain.DestinationDetail, error) {
	switch kind {
	case domain.DestinationPhone:
		if req.Destination == "" {
			return domain.DestinationDetail{}, fmt.Errorf("%w: destination number required for %s", store.ErrInvalidInput, req.Category)
		}
		return domain.DestinationDetail{Kind: domain.DestinationPhone, Number: req.Destination}, nil
	case domain.DestinationBankAccount:
		if req.Destination == "" || req.BankName == "" {
			return domain.DestinationDetail{}, fmt.Errorf("%w: bank name and account number required for %s", store.ErrInvalidInput, req.Category)
		}
		return domain.DestinationDetail{Kind: domain.DestinationBankAccount, BankName: req.BankName, AccountNumber: req.Destination}, nil
	default:
		if req.Destination != "" || req.BankName != "" {
			return domain.DestinationDetail{}, fmt.Errorf("%w: %s does not take a destination", store.ErrInvalidInput, req.Category)
		}
		return domain.DestinationDetail{Kind: domain.DestinationNone}, nil
	}
}

func (s *Service) ListSales(ctx context.Context, opts SaleFilterOptions) ([]domain.Sale, error) {
	filter, err := s.resolveFilter(ctx, opts)
	if err != nil {
		return nil, err
	}

	sales, err := s.repo.ListSales(ctx, store.SaleQuery{ShiftID: filter.ShiftID})
	if err != nil {
		return nil, err
	}

	matched := ledger.Apply(sales, filter)
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

func (s *Service) DeleteSale(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}

	sale, err := s.repo.GetSaleByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteSale(ctx, id); err != nil {
		return err
	}
	s.engine.Invalidate()

	s.logAudit(ctx, "sale_delete", "sale", id, fmt.Sprintf("category=%s,total=%d", sale.Category, sale.Total()))
	return nil
}

func (s *Service) Receipt(ctx context.Context, saleID string) (domain.Receipt, error) {
	sale, err := s.repo.GetSaleByID(ctx, saleID)
	if err != nil {
		return domain.Receipt{}, err
	}
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.Receipt{}, err
	}
	return domain.Receipt{Sale: *sale, Settings: *settings}, nil
}

func (s *Service) SalesSummary(ctx context.Context, opts SaleFilterOptions) (domain.SalesSummary, error) {
	filter, err := s.resolveFilter(ctx, opts)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	return s.engine.Summary(ctx, filter, func(ctx context.Context) ([]domain.Sale, error) {
		return s.repo.ListSales(ctx, store.SaleQuery{ShiftID: filter.ShiftID})
	})
}

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.ShiftResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.ShiftResponse{}, fmt.Errorf("actor required")
	}
	if req.StartingBalance < 0 {
		return domain.ShiftResponse{}, fmt.Errorf("%w: starting balance must not be negative", store.ErrInvalidInput)
	}

	shift := domain.Shift{
		ID:              xid.New("shift"),
		OpenedBy:        actor.Username,
		StartingBalance: req.StartingBalance,
		Status:          domain.ShiftStatusOpen,
		OpenedAt:        time.Now().UTC(),
	}
	saved, err := s.repo.CreateShift(ctx, shift)
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	s.logAudit(ctx, "shift_open", "shift", saved.ID, fmt.Sprintf("starting_balance=%d", saved.StartingBalance))
	return domain.ShiftResponse{Shift: *saved}, nil
}

func (s *Service) CloseShift(ctx context.Context) (domain.ShiftResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.ShiftResponse{}, fmt.Errorf("actor required")
	}

	shift, err := s.repo.GetActiveShift(ctx, actor.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ShiftResponse{}, store.ErrNoActiveShift
		}
		return domain.ShiftResponse{}, err
	}

	sales, err := s.repo.ListSales(ctx, store.SaleQuery{ShiftID: shift.ID})
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	closedAt := time.Now().UTC()
	report := ledger.BuildShiftReport(*shift, sales, closedAt)
	closed, err := s.repo.CloseShift(ctx, shift.ID, report, closedAt)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	s.engine.Invalidate()

	s.logAudit(ctx, "shift_close", "shift", closed.ID, fmt.Sprintf("total_sales=%d,expected_balance=%d", report.TotalSales, report.ExpectedBalance))
	return domain.ShiftResponse{Shift: *closed}, nil
}

// ActiveShift returns the acting user's open shift, if any.
func (s *Service) ActiveShift(ctx context.Context) (domain.ShiftResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.ShiftResponse{}, fmt.Errorf("actor required")
	}
	shift, err := s.repo.GetActiveShift(ctx, actor.Username)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	return domain.ShiftResponse{Shift: *shift}, nil
}

func (s *Service) ListShifts(ctx context.Context, limit int) ([]domain.Shift, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListShifts(ctx, limit)
}

// ShiftReport returns the frozen report of a closed shift. For a shift
// that is still open it computes a live preview; the stored report is
// only ever written at close time.
func (s *Service) ShiftReport(ctx context.Context, shiftID string) (domain.ShiftReport, error) {
	shift, err := s.repo.GetShiftByID(ctx, shiftID)
	if err != nil {
		return domain.ShiftReport{}, err
	}
	if shift.Status == domain.ShiftStatusClosed && shift.Report != nil {
		return *shift.Report, nil
	}

	sales, err := s.repo.ListSales(ctx, store.SaleQuery{ShiftID: shift.ID})
	if err != nil {
		return domain.ShiftReport{}, err
	}
	return ledger.BuildShiftReport(*shift, sales, time.Now().UTC()), nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	sales, err := s.repo.ListSales(ctx, store.SaleQuery{})
	if err != nil {
		return nil, err
	}
	return ledger.DeriveCustomers(sales), nil
}

func (s *Service) CustomerDetail(ctx context.Context, phone string) (domain.CustomerDetailResponse, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return domain.CustomerDetailResponse{}, fmt.Errorf("%w: phone required", store.ErrInvalidInput)
	}

	sales, err := s.repo.ListSales(ctx, store.SaleQuery{})
	if err != nil {
		return domain.CustomerDetailResponse{}, err
	}

	owned := make([]domain.Sale, 0, 16)
	for _, sale := range sales {
		if strings.TrimSpace(sale.CustomerPhone) == phone {
			owned = append(owned, sale)
		}
	}
	if len(owned) == 0 {
		return domain.CustomerDetailResponse{}, store.ErrNotFound
	}

	customers := ledger.DeriveCustomers(owned)
	return domain.CustomerDetailResponse{Customer: customers[0], Sales: owned}, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: product name required", store.ErrInvalidInput)
	}
	if req.Price < 0 {
		return domain.Product{}, fmt.Errorf("%w: price must not be negative", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:        xid.New("prod"),
		Name:      req.Name,
		Price:     req.Price,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Product{}, err
	}
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: product name required", store.ErrInvalidInput)
		}
		updated.Name = name
	}
	if req.Price != nil {
		if *req.Price < 0 {
			return domain.Product{}, fmt.Errorf("%w: price must not be negative", store.ErrInvalidInput)
		}
		updated.Price = *req.Price
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}
	return s.repo.DeleteProduct(ctx, id)
}

func (s *Service) GetSettings(ctx context.Context) (domain.Settings, error) {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	return *settings, nil
}

func (s *Service) UpdateSettings(ctx context.Context, req domain.SettingsUpdateRequest) (domain.Settings, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Settings{}, fmt.Errorf("admin role required")
	}

	saved, err := s.repo.UpsertSettings(ctx, domain.Settings{
		ShopName:    strings.TrimSpace(req.ShopName),
		ShopAddress: strings.TrimSpace(req.ShopAddress),
		ShopPhone:   strings.TrimSpace(req.ShopPhone),
		UpdatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return domain.Settings{}, err
	}

	s.logAudit(ctx, "settings_update", "settings", "shop", saved.ShopName)
	return *saved, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required")
	}
	return s.repo.ListUsers(ctx)
}

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.UserAccount, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.UserAccount{}, fmt.Errorf("admin role required")
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 3 {
		return domain.UserAccount{}, fmt.Errorf("%w: username must be at least 3 characters", store.ErrInvalidInput)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.UserAccount{}, fmt.Errorf("%w: username must not contain spaces", store.ErrInvalidInput)
	}
	if len(req.Password) < 6 {
		return domain.UserAccount{}, fmt.Errorf("%w: password must be at least 6 characters", store.ErrInvalidInput)
	}
	firstName := strings.TrimSpace(req.FirstName)
	if firstName == "" {
		return domain.UserAccount{}, fmt.Errorf("%w: first name required", store.ErrInvalidInput)
	}
	if req.Role != domain.RoleAdmin && req.Role != domain.RoleKasir {
		return domain.UserAccount{}, fmt.Errorf("%w: role must be admin or kasir", store.ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("failed to hash password")
	}

	user := domain.UserAccount{
		Username:  username,
		FirstName: firstName,
		LastName:  strings.TrimSpace(req.LastName),
		Email:     username + "@kasir.local",
		Password:  string(hash),
		Role:      req.Role,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return domain.UserAccount{}, err
	}

	s.logAudit(ctx, "user_create", "user", username, fmt.Sprintf("role=%s", req.Role))
	return user, nil
}

func (s *Service) DeleteUser(ctx context.Context, username string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}

	username = strings.ToLower(strings.TrimSpace(username))
	if username == actor.Username {
		return fmt.Errorf("%w: cannot delete your own account", store.ErrInvalidInput)
	}
	if err := s.repo.DeleteUser(ctx, username); err != nil {
		return err
	}

	s.logAudit(ctx, "user_delete", "user", username, "")
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, req domain.PasswordChangeRequest) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fmt.Errorf("actor required")
	}
	if len(req.NewPassword) < 6 {
		return fmt.Errorf("%w: password must be at least 6 characters", store.ErrInvalidInput)
	}

	user, err := s.repo.GetUserByUsername(ctx, actor.Username)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.CurrentPassword)) != nil {
		return fmt.Errorf("current password is incorrect")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password")
	}
	return s.repo.UpdateUserPassword(ctx, actor.Username, string(hash))
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required")
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
