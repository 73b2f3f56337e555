package domain

import "time"

// Actor identifies the authenticated user performing a request.
type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

const (
	RoleAdmin = "admin"
	RoleKasir = "kasir"
)

// Transaction categories handled by the shop. Each category prescribes
// what kind of destination detail a sale must carry.
const (
	CategoryPulsa             = "Pulsa"
	CategoryPaketData         = "Paket Data"
	CategoryTokenListrik      = "Token Listrik"
	CategoryTransferBank      = "Transfer Bank"
	CategoryTransferAntarBank = "Transfer Antar Bank"
	CategoryDANA              = "DANA"
	CategoryGopay             = "Gopay"
	CategoryOVO               = "OVO"
	CategoryTunai             = "Tunai"
	CategoryLainnya           = "Lainnya"
)

// Destination detail kinds.
const (
	DestinationNone        = "none"
	DestinationPhone       = "phone"
	DestinationBankAccount = "bank_account"
)

// destinationKindByCategory maps every known category to the detail kind
// its sales must carry. Token Listrik uses the phone kind to hold the
// meter / customer number.
var destinationKindByCategory = map[string]string{
	CategoryPulsa:             DestinationPhone,
	CategoryPaketData:         DestinationPhone,
	CategoryTokenListrik:      DestinationPhone,
	CategoryDANA:              DestinationPhone,
	CategoryGopay:             DestinationPhone,
	CategoryOVO:               DestinationPhone,
	CategoryTransferBank:      DestinationBankAccount,
	CategoryTransferAntarBank: DestinationBankAccount,
	CategoryTunai:             DestinationNone,
	CategoryLainnya:           DestinationNone,
}

// DestinationKindFor returns the required destination kind for a category
// and whether the category is known at all.
func DestinationKindFor(category string) (string, bool) {
	kind, ok := destinationKindByCategory[category]
	return kind, ok
}

// DestinationDetail is a tagged variant: exactly the fields matching Kind
// may be set. Kind "none" carries nothing, "phone" carries Number, and
// "bank_account" carries BankName plus AccountNumber.
type DestinationDetail struct {
	Kind          string `json:"kind"`
	Number        string `json:"number,omitempty"`
	BankName      string `json:"bank_name,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
}

// Display renders the detail the way receipts and exports show it.
func (d DestinationDetail) Display() string {
	switch d.Kind {
	case DestinationPhone:
		return d.Number
	case DestinationBankAccount:
		if d.BankName == "" {
			return d.AccountNumber
		}
		return d.BankName + " " + d.AccountNumber
	default:
		return "-"
	}
}

// Sale is one append-only ledger entry. ShiftID is empty when the sale was
// recorded outside any open shift. Amounts are whole rupiah.
type Sale struct {
	ID            string            `json:"id"`
	Category      string            `json:"category"`
	CustomerName  string            `json:"customer_name"`
	CustomerPhone string            `json:"customer_phone,omitempty"`
	ProductID     string            `json:"product_id,omitempty"`
	ProductName   string            `json:"product_name,omitempty"`
	Destination   DestinationDetail `json:"destination"`
	Amount        int64             `json:"amount"`
	AdminFee      int64             `json:"admin_fee"`
	ShiftID       string            `json:"shift_id,omitempty"`
	CreatedBy     string            `json:"created_by"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Total is the amount charged to the customer.
func (s Sale) Total() int64 {
	return s.Amount + s.AdminFee
}

type SaleCreateRequest struct {
	Category      string `json:"category"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	ProductID     string `json:"product_id"`
	Amount        int64  `json:"amount"`
	AdminFee      int64  `json:"admin_fee"`
	Destination   string `json:"destination"`
	BankName      string `json:"bank_name"`
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
}

// Shift lifecycle status.
const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"
)

// Shift is one cash-drawer session. ClosedAt is nil while the shift is
// active. Report is populated exactly once, at close time, and never
// recomputed afterwards.
type Shift struct {
	ID              string       `json:"id"`
	OpenedBy        string       `json:"opened_by"`
	StartingBalance int64        `json:"starting_balance"`
	Status          string       `json:"status"`
	OpenedAt        time.Time    `json:"opened_at"`
	ClosedAt        *time.Time   `json:"closed_at,omitempty"`
	Report          *ShiftReport `json:"report,omitempty"`
}

// ShiftReport is the frozen close-time summary of a shift.
// ExpectedBalance = StartingBalance + TotalRevenue.
type ShiftReport struct {
	ShiftID         string            `json:"shift_id"`
	OpenedAt        time.Time         `json:"opened_at"`
	ClosedAt        time.Time         `json:"closed_at"`
	StartingBalance int64             `json:"starting_balance"`
	TotalSales      int               `json:"total_sales"`
	TotalAmount     int64             `json:"total_amount"`
	TotalAdminFee   int64             `json:"total_admin_fee"`
	TotalRevenue    int64             `json:"total_revenue"`
	ExpectedBalance int64             `json:"expected_balance"`
	Categories      []CategorySummary `json:"categories"`
}

// CategorySummary aggregates one category: Total includes admin fees.
type CategorySummary struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
	Total    int64  `json:"total"`
}

type ShiftOpenRequest struct {
	StartingBalance int64 `json:"starting_balance"`
}

type ShiftResponse struct {
	Shift Shift `json:"shift"`
}

type ShiftListResponse struct {
	Shifts []Shift `json:"shifts"`
}

// Customer is derived from the sales ledger by grouping on phone number;
// it is never stored directly. Name reflects the most recent sale.
type Customer struct {
	Phone             string    `json:"phone"`
	Name              string    `json:"name"`
	TransactionCount  int       `json:"transaction_count"`
	TotalSpent        int64     `json:"total_spent"`
	LastTransactionAt time.Time `json:"last_transaction_at"`
}

type CustomerListResponse struct {
	Customers []Customer `json:"customers"`
}

type CustomerDetailResponse struct {
	Customer Customer `json:"customer"`
	Sales    []Sale   `json:"sales"`
}

// Product is a sellable item with a reference price. Sales denormalize the
// product name so deleting a product never rewrites history.
type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`
	CreatedAt time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

type ProductUpdateRequest struct {
	Name  *string `json:"name,omitempty"`
	Price *int64  `json:"price,omitempty"`
}

// Settings holds the single shop profile row used on receipts and reports.
type Settings struct {
	ShopName    string    `json:"shop_name"`
	ShopAddress string    `json:"shop_address"`
	ShopPhone   string    `json:"shop_phone"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type SettingsUpdateRequest struct {
	ShopName    string `json:"shop_name"`
	ShopAddress string `json:"shop_address"`
	ShopPhone   string `json:"shop_phone"`
}

// UserAccount is a login account. Password holds a bcrypt hash at rest;
// seed data may carry plain text which is upgraded on first load.
type UserAccount struct {
	Username  string    `json:"username"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name,omitempty"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type UserCreateRequest struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
	Role      string `json:"role"`
}

type UserListResponse struct {
	Users []UserAccount `json:"users"`
}

type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	FirstName   string `json:"first_name"`
	ExpiresAt   string `json:"expires_at"`
}

// SalesSummary is the aggregate block dashboards and reports consume.
// TotalRevenue = TotalAmount + TotalAdminFee always holds.
type SalesSummary struct {
	TotalSales      int               `json:"total_sales"`
	TotalAmount     int64             `json:"total_amount"`
	TotalAdminFee   int64             `json:"total_admin_fee"`
	TotalRevenue    int64             `json:"total_revenue"`
	AveragePerSale  int64             `json:"average_per_sale"`
	PopularCategory string            `json:"popular_category,omitempty"`
	Categories      []CategorySummary `json:"categories"`
	Buckets         []SalesBucket     `json:"buckets,omitempty"`
}

// SalesBucket is one calendar grouping (day, month, or year).
type SalesBucket struct {
	Key      string `json:"key"`
	Count    int    `json:"count"`
	Amount   int64  `json:"amount"`
	AdminFee int64  `json:"admin_fee"`
	Revenue  int64  `json:"revenue"`
}

// AuditLog records a privileged mutation for later review.
type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// Receipt is the data a rendered receipt is built from.
type Receipt struct {
	Sale     Sale     `json:"sale"`
	Settings Settings `json:"settings"`
}
