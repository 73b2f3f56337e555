package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tokoizzah/backend/internal/domain"
	"tokoizzah/backend/internal/ledger"
	"tokoizzah/backend/internal/store"
	"tokoizzah/backend/internal/store/memory"
)

func newTestService() *Service {
	repo := memory.NewSeeded()
	engine := ledger.NewEngine(nil, 0)
	return New(repo, engine)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func kasirCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "kasir", Role: domain.RoleKasir})
}

func TestRecordSalePhoneCategoryRequiresNumber(t *testing.T) {
	svc := newTestService()

	_, err := svc.RecordSale(kasirCtx(), domain.SaleCreateRequest{
		Category:     domain.CategoryPulsa,
		CustomerName: "Budi",
		Amount:       12000,
		AdminFee:     2000,
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for missing number, got %v", err)
	}

	sale, err := svc.RecordSale(kasirCtx(), domain.SaleCreateRequest{
		Category:     domain.CategoryPulsa,
		CustomerName: "Budi",
		Amount:       12000,
		AdminFee:     2000,
		Destination:  "081234567890",
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if sale.Destination.Kind != domain.DestinationPhone || sale.Destination.Number != "081234567890" {
		t.Fatalf("unexpected destination: %+v", sale.Destination)
	}
	if sale.Total() != 14000 {
		t.Fatalf("expected total 14000, got %d", sale.Total())
	}
	if sale.CreatedBy != "kasir" {
		t.Fatalf("expected sale attributed to kasir, got %s", sale.CreatedBy)
	}
}

func TestRecordSaleBankCategoryRequiresBothFields(t *testing.T) {
	svc := newTestService()

	_, err := svc.RecordSale(kasirCtx(), domain.SaleCreateRequest{
		Category:     domain.CategoryTransferBank,
		CustomerName: "Siti",
		Amount:       1000000,
		AdminFee:     7500,
		Destination:  "1234567890",
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for missing bank name, got %v", err)
	}

	sale, err := svc.RecordSale(kasirCtx(), domain.SaleCreateRequest{
		Category:     domain.CategoryTransferBank,
		CustomerName: "Siti",
		Amount:       1000000,
		AdminFee:     7500,
		Destination:  "1234567890",
		BankName:     "BCA",
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if sale.Destination.Kind != domain.DestinationBankAccount {
		t.Fatalf("expected bank destination, got %s", sale.Destination.Kind)
	}
	if got := sale.Destination.Display(); got != "BCA 1234567890" {
		t.Fatalf("unexpected destination display %q", got)
	}
}

func TestRecordSaleCashCategoryRejectsDestination(t *testing.T) {
	svc := newTestService()

	_, err := svc.RecordSale(kasirCtx(), domain.SaleCreateRequest{
		Category:     domain.CategoryTunai,
		CustomerName: "Budi",
		Amount:       50000,
		Destination:  "081234567890",
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected cash sale with destination to be rejected, got %v", err)
	}

	sale, err := svc.RecordSale(kasirCtx(), domain.SaleCreateRequest{
		Category:     domain.CategoryTunai,
		CustomerName: "Budi",
		Amount:       50000,
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if sale.Destination.Kind != domain.DestinationNone || sale.Destination.Display() != "-" {
		t.Fatalf("unexpected destination for cash sale: %+v", sale.Destination)
	}
}

func TestRecordSaleUnknownCategoryRejected(t *testing.T) {
	svc := newTestService()
	_, err := svc.RecordSale(kasirCtx(), domain.SaleCreateRequest{
		Category:     "Voucher Game",
		CustomerName: "Budi",
		Amount:       10000,
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected unknown category to be rejected, got %v", err)
	}
}

func TestRecordSaleOutsideShiftHasNoShiftID(t *testing.T) {
	svc := newTestService()

	sale, err := svc.RecordSale(kasirCtx(), domain.SaleCreateRequest{
		Category:     domain.CategoryTunai,
		CustomerName: "Budi",
		Amount:       50000,
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if sale.ShiftID != "" {
		t.Fatalf("expected sale without shift, got shift %s", sale.ShiftID)
	}
}

func TestRecordSaleAttachesActiveShift(t *testing.T) {
	svc := newTestService()

	opened, err := svc.OpenShift(kasirCtx(), domain.ShiftOpenRequest{StartingBalance: 500000})
	if err != nil {
		t.Fatalf("open shift failed: %v", err)
	}

	sale, err := svc.RecordSale(kasirCtx(), domain.SaleCreateRequest{
		Category:     domain.CategoryTunai,
		CustomerName: "Budi",
		Amount:       50000,
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if sale.ShiftID != opened.Shift.ID {
		t.Fatalf("expected sale attached to shift %s, got %s", opened.Shift.ID, sale.ShiftID)
	}
}

func TestRecordSaleDenormalizesProductName(t *testing.T) {
	svc := newTestService()

	products, err := svc.ListProducts(context.Background())
	if err != nil || len(products) == 0 {
		t.Fatalf("list products failed: %v", err)
	}

	sale, err := svc.RecordSale(kasirCtx(), domain.SaleCreateRequest{
		Category:     domain.CategoryPulsa,
		CustomerName: "Budi",
		Amount:       products[0].Price,
		Destination:  "081234567890",
		ProductID:    products[0].ID,
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if sale.ProductName != products[0].Name {
		t.Fatalf("expected product name %q, got %q", products[0].Name, sale.ProductName)
	}
}

func TestOpenShiftPerUser(t *testing.T) {
	svc := newTestService()

	adminShift, err := svc.OpenShift(adminCtx(), domain.ShiftOpenRequest{StartingBalance: 300000})
	if err != nil {
		t.Fatalf("admin open shift failed: %v", err)
	}

	// Another cashier's open shift never blocks this one.
	kasirShift, err := svc.OpenShift(kasirCtx(), domain.ShiftOpenRequest{StartingBalance: 100000})
	if err != nil {
		t.Fatalf("kasir open shift failed while admin shift open: %v", err)
	}
	if kasirShift.Shift.ID == adminShift.Shift.ID {
		t.Fatalf("expected distinct shifts per user")
	}

	// Each user's sales attach to their own shift.
	kasirSale, err := svc.RecordSale(kasirCtx(), domain.SaleCreateRequest{
		Category:     domain.CategoryTunai,
		CustomerName: "Budi",
		Amount:       50000,
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if kasirSale.ShiftID != kasirShift.Shift.ID {
		t.Fatalf("expected kasir sale on shift %s, got %s", kasirShift.Shift.ID, kasirSale.ShiftID)
	}
	adminSale, err := svc.RecordSale(adminCtx(), domain.SaleCreateRequest{
		Category:     domain.CategoryTunai,
		CustomerName: "Siti",
		Amount:       20000,
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if adminSale.ShiftID != adminShift.Shift.ID {
		t.Fatalf("expected admin sale on shift %s, got %s", adminShift.Shift.ID, adminSale.ShiftID)
	}

	// Closing the kasir shift leaves the admin shift active.
	closed, err := svc.CloseShift(kasirCtx())
	if err != nil {
		t.Fatalf("kasir close failed: %v", err)
	}
	if closed.Shift.ID != kasirShift.Shift.ID {
		t.Fatalf("kasir close touched shift %s", closed.Shift.ID)
	}
	active, err := svc.ActiveShift(adminCtx())
	if err != nil {
		t.Fatalf("admin active shift lookup failed: %v", err)
	}
	if active.Shift.ID != adminShift.Shift.ID {
		t.Fatalf("expected admin shift still active, got %s", active.Shift.ID)
	}
	if _, err := svc.ActiveShift(kasirCtx()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no active kasir shift after close, got %v", err)
	}
}

func TestOpenShiftRejectsSecondOpen(t *testing.T) {
	svc := newTestService()

	if _, err := svc.OpenShift(kasirCtx(), domain.ShiftOpenRequest{StartingBalance: 250000}); err != nil {
		t.Fatalf("open shift failed: %v", err)
	}
	_, err := svc.OpenShift(kasirCtx(), domain.ShiftOpenRequest{StartingBalance: 100000})
	if !errors.Is(err, store.ErrShiftOpen) {
		t.Fatalf("expected second open to fail with ErrShiftOpen, got %v", err)
	}
}

func TestCloseShiftWithoutOpenFails(t *testing.T) {
	svc := newTestService()
	_, err := svc.CloseShift(kasirCtx())
	if !errors.Is(err, store.ErrNoActiveShift) {
		t.Fatalf("expected ErrNoActiveShift, got %v", err)
	}
}

func TestCloseShiftFreezesReport(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	opened, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{StartingBalance: 500000})
	if err != nil {
		t.Fatalf("open shift failed: %v", err)
	}

	sale, err := svc.RecordSale(ctx, domain.SaleCreateRequest{
		Category:     domain.CategoryPulsa,
		CustomerName: "Budi",
		Amount:       12000,
		AdminFee:     2000,
		Destination:  "081234567890",
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	closed, err := svc.CloseShift(ctx)
	if err != nil {
		t.Fatalf("close shift failed: %v", err)
	}
	if closed.Shift.Status != domain.ShiftStatusClosed || closed.Shift.Report == nil {
		t.Fatalf("expected closed shift with report, got %+v", closed.Shift)
	}
	if closed.Shift.Report.TotalSales != 1 || closed.Shift.Report.ExpectedBalance != 500000+14000 {
		t.Fatalf("unexpected report: %+v", closed.Shift.Report)
	}

	// Deleting the sale afterwards must not touch the frozen report.
	if err := svc.DeleteSale(ctx, sale.ID); err != nil {
		t.Fatalf("delete sale failed: %v", err)
	}
	report, err := svc.ShiftReport(ctx, opened.Shift.ID)
	if err != nil {
		t.Fatalf("shift report failed: %v", err)
	}
	if report.TotalSales != 1 || report.ExpectedBalance != 514000 {
		t.Fatalf("frozen report changed after sale delete: %+v", report)
	}
}

func TestShiftReportLivePreviewWhileOpen(t *testing.T) {
	svc := newTestService()
	ctx := kasirCtx()

	opened, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{StartingBalance: 100000})
	if err != nil {
		t.Fatalf("open shift failed: %v", err)
	}

	report, err := svc.ShiftReport(ctx, opened.Shift.ID)
	if err != nil {
		t.Fatalf("shift report failed: %v", err)
	}
	if report.TotalSales != 0 || report.ExpectedBalance != 100000 {
		t.Fatalf("unexpected empty preview: %+v", report)
	}

	if _, err := svc.RecordSale(ctx, domain.SaleCreateRequest{
		Category:     domain.CategoryTunai,
		CustomerName: "Budi",
		Amount:       50000,
	}); err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	report, err = svc.ShiftReport(ctx, opened.Shift.ID)
	if err != nil {
		t.Fatalf("shift report failed: %v", err)
	}
	if report.TotalSales != 1 || report.ExpectedBalance != 150000 {
		t.Fatalf("expected preview to reflect new sale, got %+v", report)
	}
}

func TestDeleteSaleRequiresAdmin(t *testing.T) {
	svc := newTestService()

	sale, err := svc.RecordSale(kasirCtx(), domain.SaleCreateRequest{
		Category:     domain.CategoryTunai,
		CustomerName: "Budi",
		Amount:       50000,
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	err = svc.DeleteSale(kasirCtx(), sale.ID)
	if err == nil || !strings.Contains(err.Error(), "admin role required") {
		t.Fatalf("expected admin requirement, got %v", err)
	}

	if err := svc.DeleteSale(adminCtx(), sale.ID); err != nil {
		t.Fatalf("admin delete failed: %v", err)
	}
	if _, err := svc.Receipt(context.Background(), sale.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected deleted sale to be gone, got %v", err)
	}
}

func TestListSalesScopeCurrentShift(t *testing.T) {
	svc := newTestService()
	ctx := kasirCtx()

	// No shift open yet: scoped listing must conflict.
	_, err := svc.ListSales(ctx, SaleFilterOptions{Scope: ScopeCurrentShift})
	if !errors.Is(err, store.ErrNoActiveShift) {
		t.Fatalf("expected ErrNoActiveShift, got %v", err)
	}

	if _, err := svc.RecordSale(ctx, domain.SaleCreateRequest{
		Category:     domain.CategoryTunai,
		CustomerName: "Luar Shift",
		Amount:       10000,
	}); err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	if _, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{StartingBalance: 0}); err != nil {
		t.Fatalf("open shift failed: %v", err)
	}
	if _, err := svc.RecordSale(ctx, domain.SaleCreateRequest{
		Category:     domain.CategoryTunai,
		CustomerName: "Dalam Shift",
		Amount:       20000,
	}); err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	scoped, err := svc.ListSales(ctx, SaleFilterOptions{Scope: ScopeCurrentShift})
	if err != nil {
		t.Fatalf("scoped list failed: %v", err)
	}
	if len(scoped) != 1 || scoped[0].CustomerName != "Dalam Shift" {
		t.Fatalf("expected only the in-shift sale, got %+v", scoped)
	}

	all, err := svc.ListSales(ctx, SaleFilterOptions{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 sales overall, got %d", len(all))
	}
}

func TestListSalesRejectsUnknownRange(t *testing.T) {
	svc := newTestService()
	_, err := svc.ListSales(kasirCtx(), SaleFilterOptions{Range: "weekly"})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid range to be rejected, got %v", err)
	}
}

func TestListSalesRejectsMalformedDateFilters(t *testing.T) {
	svc := newTestService()
	ctx := kasirCtx()

	cases := []SaleFilterOptions{
		{Range: "daily", From: "10-03-2025"},
		{Range: "daily", From: "2025-03-11", To: "2025-03-10"},
		{Range: "monthly", Month: "13", Year: "2025"},
		{Range: "monthly", Month: "abc"},
		{Range: "yearly", Year: "-1"},
	}
	for i, opts := range cases {
		if _, err := svc.ListSales(ctx, opts); !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}

// mapCache is a real storing cache so summary tests cover the cached path.
type mapCache struct {
	stored map[string]domain.SalesSummary
}

func (c *mapCache) Get(_ context.Context, key string) (*domain.SalesSummary, bool, error) {
	summary, ok := c.stored[key]
	if !ok {
		return nil, false, nil
	}
	return &summary, true, nil
}

func (c *mapCache) Set(_ context.Context, key string, summary *domain.SalesSummary, _ time.Duration) error {
	if c.stored == nil {
		c.stored = make(map[string]domain.SalesSummary)
	}
	c.stored[key] = *summary
	return nil
}

func TestSalesSummaryRefreshesAfterWrite(t *testing.T) {
	svc := New(memory.NewSeeded(), ledger.NewEngine(&mapCache{}, time.Minute))
	ctx := kasirCtx()

	before, err := svc.SalesSummary(ctx, SaleFilterOptions{})
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if before.TotalSales != 0 {
		t.Fatalf("expected empty ledger, got %+v", before)
	}

	sale, err := svc.RecordSale(ctx, domain.SaleCreateRequest{
		Category:     domain.CategoryTunai,
		CustomerName: "Budi",
		Amount:       50000,
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	// A summary read right after the write must see it despite the
	// still-fresh cached snapshot.
	after, err := svc.SalesSummary(ctx, SaleFilterOptions{})
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if after.TotalSales != 1 || after.TotalRevenue != 50000 {
		t.Fatalf("summary stale after record: %+v", after)
	}

	if err := svc.DeleteSale(adminCtx(), sale.ID); err != nil {
		t.Fatalf("delete sale failed: %v", err)
	}
	final, err := svc.SalesSummary(ctx, SaleFilterOptions{})
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if final.TotalSales != 0 || final.TotalRevenue != 0 {
		t.Fatalf("summary stale after delete: %+v", final)
	}
}

func TestSalesSummaryWorkedExample(t *testing.T) {
	svc := newTestService()
	ctx := kasirCtx()

	if _, err := svc.RecordSale(ctx, domain.SaleCreateRequest{
		Category:     domain.CategoryTransferBank,
		CustomerName: "Siti",
		Amount:       500000,
		AdminFee:     21000,
		Destination:  "1234567890",
		BankName:     "BRI",
	}); err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	summary, err := svc.SalesSummary(ctx, SaleFilterOptions{})
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary.TotalAmount != 500000 || summary.TotalAdminFee != 21000 || summary.TotalRevenue != 521000 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.PopularCategory != domain.CategoryTransferBank {
		t.Fatalf("expected Transfer Bank as popular category, got %s", summary.PopularCategory)
	}
}

func TestCustomersDerivedFromSales(t *testing.T) {
	svc := newTestService()
	ctx := kasirCtx()

	for _, req := range []domain.SaleCreateRequest{
		{Category: domain.CategoryPulsa, CustomerName: "Budi", CustomerPhone: "0812", Amount: 12000, AdminFee: 2000, Destination: "0812"},
		{Category: domain.CategoryPulsa, CustomerName: "Budi Santoso", CustomerPhone: "0812", Amount: 27000, AdminFee: 2000, Destination: "0812"},
		{Category: domain.CategoryTunai, CustomerName: "Anonim", Amount: 5000},
	} {
		if _, err := svc.RecordSale(ctx, req); err != nil {
			t.Fatalf("record sale failed: %v", err)
		}
	}

	customers, err := svc.ListCustomers(context.Background())
	if err != nil {
		t.Fatalf("list customers failed: %v", err)
	}
	if len(customers) != 1 {
		t.Fatalf("expected 1 derived customer, got %d", len(customers))
	}
	if customers[0].Name != "Budi Santoso" || customers[0].TransactionCount != 2 || customers[0].TotalSpent != 43000 {
		t.Fatalf("unexpected customer: %+v", customers[0])
	}

	detail, err := svc.CustomerDetail(context.Background(), "0812")
	if err != nil {
		t.Fatalf("customer detail failed: %v", err)
	}
	if len(detail.Sales) != 2 {
		t.Fatalf("expected 2 sales for customer, got %d", len(detail.Sales))
	}

	if _, err := svc.CustomerDetail(context.Background(), "0999"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected unknown phone to 404, got %v", err)
	}
}

func TestCreateUserValidationAndEmail(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	cases := []domain.UserCreateRequest{
		{Username: "ab", FirstName: "Too", Password: "secret1", Role: domain.RoleKasir},
		{Username: "kasirbaru", FirstName: "Baru", Password: "short", Role: domain.RoleKasir},
		{Username: "kasirbaru", FirstName: "", Password: "secret1", Role: domain.RoleKasir},
		{Username: "kasirbaru", FirstName: "Baru", Password: "secret1", Role: "manager"},
	}
	for i, req := range cases {
		if _, err := svc.CreateUser(ctx, req); !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}

	user, err := svc.CreateUser(ctx, domain.UserCreateRequest{
		Username:  "KasirBaru",
		FirstName: "Baru",
		Password:  "secret1",
		Role:      domain.RoleKasir,
	})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if user.Username != "kasirbaru" {
		t.Fatalf("expected lowercased username, got %s", user.Username)
	}
	if user.Email != "kasirbaru@kasir.local" {
		t.Fatalf("unexpected email %s", user.Email)
	}
	if user.Password == "secret1" || !strings.HasPrefix(user.Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", user.Password)
	}

	if _, err := svc.CreateUser(ctx, domain.UserCreateRequest{
		Username:  "kasirbaru",
		FirstName: "Baru",
		Password:  "secret1",
		Role:      domain.RoleKasir,
	}); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate username to fail, got %v", err)
	}
}

func TestDeleteUserCannotDeleteSelf(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	if err := svc.DeleteUser(ctx, "admin"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected self-delete to be rejected, got %v", err)
	}
	if err := svc.DeleteUser(ctx, "kasir"); err != nil {
		t.Fatalf("delete other user failed: %v", err)
	}
}

func TestChangePasswordVerifiesCurrent(t *testing.T) {
	svc := newTestService()
	ctx := kasirCtx()

	err := svc.ChangePassword(ctx, domain.PasswordChangeRequest{
		CurrentPassword: "wrong",
		NewPassword:     "newsecret",
	})
	if err == nil {
		t.Fatalf("expected wrong current password to fail")
	}

	if err := svc.ChangePassword(ctx, domain.PasswordChangeRequest{
		CurrentPassword: "kasir123",
		NewPassword:     "newsecret",
	}); err != nil {
		t.Fatalf("change password failed: %v", err)
	}
}

func TestUpdateSettingsRequiresAdminAndAudits(t *testing.T) {
	svc := newTestService()

	_, err := svc.UpdateSettings(kasirCtx(), domain.SettingsUpdateRequest{ShopName: "Toko Lain"})
	if err == nil || !strings.Contains(err.Error(), "admin role required") {
		t.Fatalf("expected admin requirement, got %v", err)
	}

	saved, err := svc.UpdateSettings(adminCtx(), domain.SettingsUpdateRequest{
		ShopName:    "Toko Izzah",
		ShopAddress: "Jl. Melati No. 3",
		ShopPhone:   "0812000111",
	})
	if err != nil {
		t.Fatalf("update settings failed: %v", err)
	}
	if saved.ShopAddress != "Jl. Melati No. 3" {
		t.Fatalf("unexpected settings: %+v", saved)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	found := false
	for _, entry := range logs {
		if entry.Action == "settings_update" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected settings_update audit entry, got %+v", logs)
	}
}

func TestProductLifecycle(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	created, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Voucher 100.000", Price: 102000})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}

	newPrice := int64(101000)
	updated, err := svc.UpdateProduct(ctx, created.ID, domain.ProductUpdateRequest{Price: &newPrice})
	if err != nil {
		t.Fatalf("update product failed: %v", err)
	}
	if updated.Price != 101000 || updated.Name != "Voucher 100.000" {
		t.Fatalf("unexpected product after update: %+v", updated)
	}

	if err := svc.DeleteProduct(ctx, created.ID); err != nil {
		t.Fatalf("delete product failed: %v", err)
	}
	if err := svc.DeleteProduct(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected second delete to 404, got %v", err)
	}
}
