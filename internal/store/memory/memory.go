package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tokoizzah/backend/internal/domain"
	"tokoizzah/backend/internal/store"
	"tokoizzah/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	salesByID       map[string]domain.Sale
	saleOrder       []string
	shiftsByID      map[string]domain.Shift
	shiftOrder      []string
	activeShiftIDs  map[string]string
	productsByID    map[string]domain.Product
	settings        domain.Settings
	usersByUsername map[string]domain.UserAccount
	auditLogs       []domain.AuditLog
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_KASIR_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in
// production (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	kasirPwd := envOr("SEED_KASIR_PASSWORD", "kasir123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_KASIR_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_KASIR_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username  string
		firstName string
		password  string
		role      string
	}{
		{"admin", "Admin", adminPwd, domain.RoleAdmin},
		{"kasir", "Kasir", kasirPwd, domain.RoleKasir},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			FirstName: u.firstName,
			Email:     u.username + "@kasir.local",
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	products := []domain.Product{
		{ID: xid.New("prod"), Name: "Pulsa 10.000", Price: 12000},
		{ID: xid.New("prod"), Name: "Pulsa 25.000", Price: 27000},
		{ID: xid.New("prod"), Name: "Pulsa 50.000", Price: 52000},
		{ID: xid.New("prod"), Name: "Paket Data 5GB", Price: 35000},
		{ID: xid.New("prod"), Name: "Token Listrik 20.000", Price: 22500},
		{ID: xid.New("prod"), Name: "Token Listrik 50.000", Price: 52500},
	}

	productMap := make(map[string]domain.Product, len(products))
	now := time.Now().UTC()
	for _, p := range products {
		p.CreatedAt = now
		productMap[p.ID] = p
	}

	return &Store{
		salesByID:      make(map[string]domain.Sale),
		saleOrder:      make([]string, 0, 256),
		shiftsByID:     make(map[string]domain.Shift),
		shiftOrder:     make([]string, 0, 32),
		activeShiftIDs: make(map[string]string),
		productsByID:   productMap,
		settings: domain.Settings{
			ShopName:    envOr("SHOP_NAME", "Toko Izzah"),
			ShopAddress: envOr("SHOP_ADDRESS", ""),
			ShopPhone:   envOr("SHOP_PHONE", ""),
			UpdatedAt:   now,
		},
		usersByUsername: seedUsers(),
		auditLogs:       make([]domain.AuditLog, 0, 128),
	}
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.Category == "" || sale.Amount < 1 || sale.AdminFee < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.salesByID[sale.ID]; exists {
		return nil, store.ErrDuplicate
	}

	s.salesByID[sale.ID] = sale
	s.saleOrder = append(s.saleOrder, sale.ID)
	created := sale
	return &created, nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySale := sale
	return &copySale, nil
}

func (s *Store) ListSales(_ context.Context, q store.SaleQuery) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.saleOrder))
	for _, id := range s.saleOrder {
		sale, exists := s.salesByID[id]
		if !exists {
			continue
		}
		if q.ShiftID != "" && sale.ShiftID != q.ShiftID {
			continue
		}
		result = append(result, sale)
	}

	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})

	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (s *Store) DeleteSale(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.salesByID, id)
	for i, saleID := range s.saleOrder {
		if saleID == id {
			s.saleOrder = append(s.saleOrder[:i], s.saleOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) CreateShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	if shift.OpenedBy == "" || shift.StartingBalance < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeShiftIDs[shift.OpenedBy] != "" {
		return nil, store.ErrShiftOpen
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.ClosedAt = nil
	shift.Report = nil

	s.shiftsByID[shift.ID] = shift
	s.shiftOrder = append(s.shiftOrder, shift.ID)
	s.activeShiftIDs[shift.OpenedBy] = shift.ID
	created := shift
	return &created, nil
}

func (s *Store) GetShiftByID(_ context.Context, id string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, exists := s.shiftsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneShift(shift), nil
}

func (s *Store) GetActiveShift(_ context.Context, openedBy string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id := s.activeShiftIDs[openedBy]
	if id == "" {
		return nil, store.ErrNotFound
	}
	shift, exists := s.shiftsByID[id]
	if !exists || shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrNotFound
	}
	return cloneShift(shift), nil
}

func (s *Store) ListShifts(_ context.Context, limit int) ([]domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Shift, 0, len(s.shiftOrder))
	for i := len(s.shiftOrder) - 1; i >= 0; i-- {
		shift, exists := s.shiftsByID[s.shiftOrder[i]]
		if !exists {
			continue
		}
		result = append(result, *cloneShift(shift))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CloseShift(_ context.Context, id string, report domain.ShiftReport, closedAt time.Time) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, exists := s.shiftsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrInvalidInput
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	shift.Status = domain.ShiftStatusClosed
	shift.ClosedAt = &closedAt
	shift.Report = &report

	s.shiftsByID[id] = shift
	if s.activeShiftIDs[shift.OpenedBy] == id {
		delete(s.activeShiftIDs, shift.OpenedBy)
	}
	return cloneShift(shift), nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Price < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.productsByID[product.ID]; exists {
		return nil, store.ErrDuplicate
	}

	s.productsByID[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Price < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.productsByID[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	product.CreatedAt = existing.CreatedAt
	s.productsByID[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.productsByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.productsByID, id)
	return nil
}

func (s *Store) GetSettings(_ context.Context) (*domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings := s.settings
	return &settings, nil
}

func (s *Store) UpsertSettings(_ context.Context, settings domain.Settings) (*domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now().UTC()
	}
	s.settings = settings
	saved := settings
	return &saved, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" || user.Role == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	if password == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) DeleteUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if _, exists := s.usersByUsername[username]; !exists {
		return store.ErrNotFound
	}
	delete(s.usersByUsername, username)
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, len(s.auditLogs))
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		result = append(result, s.auditLogs[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// cloneShift copies a shift including its frozen report so callers can
// never mutate stored state through the returned pointer.
func cloneShift(shift domain.Shift) *domain.Shift {
	copyShift := shift
	if shift.ClosedAt != nil {
		closedAt := *shift.ClosedAt
		copyShift.ClosedAt = &closedAt
	}
	if shift.Report != nil {
		report := *shift.Report
		report.Categories = slices.Clone(shift.Report.Categories)
		copyShift.Report = &report
	}
	return &copyShift
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}
