package ledger

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"tokoizzah/backend/internal/cache"
	"tokoizzah/backend/internal/domain"
)

// shopZone is the shop's local timezone (WIB, UTC+7). All date bucketing
// is done in this zone so a sale at 23:30 local time lands on the local
// calendar day, not the UTC one.
var shopZone = time.FixedZone("WIB", 7*60*60)

// ShopTime converts a timestamp to the shop's local timezone for display.
func ShopTime(at time.Time) time.Time {
	return at.In(shopZone)
}

type Range string

const (
	RangeAll     Range = "all"
	RangeDaily   Range = "daily"
	RangeMonthly Range = "monthly"
	RangeYearly  Range = "yearly"
)

func ParseRange(raw string) (Range, bool) {
	switch Range(strings.ToLower(strings.TrimSpace(raw))) {
	case "", RangeAll:
		return RangeAll, true
	case RangeDaily:
		return RangeDaily, true
	case RangeMonthly:
		return RangeMonthly, true
	case RangeYearly:
		return RangeYearly, true
	default:
		return RangeAll, false
	}
}

// Filter narrows a sales slice. Zero values mean "no constraint"; filters
// compose and their order of application never changes the result.
//
// The window selectors are per range: daily honors From/To as an
// inclusive calendar-day span, monthly honors Month+Year, yearly honors
// Year. Unset selectors fall back to the current day, month, or year.
type Filter struct {
	Range    Range
	Category string
	Query    string
	ShiftID  string

	From  time.Time
	To    time.Time
	Month time.Month
	Year  int

	Now time.Time
}

// ParseDay parses a YYYY-MM-DD date in the shop's timezone.
func ParseDay(raw string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", strings.TrimSpace(raw), shopZone)
}

func (f Filter) now() time.Time {
	if f.Now.IsZero() {
		return time.Now()
	}
	return f.Now
}

// Apply returns the sales matching every constraint in f, preserving the
// input order. The input slice is never mutated.
func Apply(sales []domain.Sale, f Filter) []domain.Sale {
	matched := make([]domain.Sale, 0, len(sales))
	for _, sale := range sales {
		if Matches(sale, f) {
			matched = append(matched, sale)
		}
	}
	return matched
}

func Matches(sale domain.Sale, f Filter) bool {
	if f.Category != "" && sale.Category != f.Category {
		return false
	}
	if f.ShiftID != "" && sale.ShiftID != f.ShiftID {
		return false
	}
	if !f.inRange(sale.CreatedAt) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		haystack := strings.ToLower(strings.Join([]string{
			sale.CustomerName,
			sale.ProductName,
			sale.Destination.Display(),
		}, " "))
		if !strings.Contains(haystack, q) {
			return false
		}
	}
	return true
}

func (f Filter) inRange(at time.Time) bool {
	local := at.In(shopZone)
	switch f.Range {
	case RangeDaily:
		if !f.From.IsZero() || !f.To.IsZero() {
			from, to := f.From, f.To
			if from.IsZero() {
				from = to
			}
			if to.IsZero() {
				to = from
			}
			day := dayStart(local)
			return !day.Before(dayStart(from)) && !day.After(dayStart(to))
		}
		ref := f.now().In(shopZone)
		return local.Year() == ref.Year() && local.YearDay() == ref.YearDay()
	case RangeMonthly:
		year, month := f.Year, f.Month
		if year == 0 || month == 0 {
			ref := f.now().In(shopZone)
			if year == 0 {
				year = ref.Year()
			}
			if month == 0 {
				month = ref.Month()
			}
		}
		return local.Year() == year && local.Month() == month
	case RangeYearly:
		year := f.Year
		if year == 0 {
			year = f.now().In(shopZone).Year()
		}
		return local.Year() == year
	default:
		return true
	}
}

func dayStart(at time.Time) time.Time {
	local := at.In(shopZone)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, shopZone)
}

// BucketKey returns the calendar bucket a timestamp falls into for the
// given range: day for all/daily, month for monthly, year for yearly.
func BucketKey(at time.Time, rng Range) string {
	local := at.In(shopZone)
	switch rng {
	case RangeMonthly:
		return local.Format("2006-01")
	case RangeYearly:
		return local.Format("2006")
	default:
		return local.Format("2006-01-02")
	}
}

// Buckets groups sales into calendar buckets, newest bucket first. Every
// returned sale count is drawn from the input; no synthesis.
func Buckets(sales []domain.Sale, rng Range) []domain.SalesBucket {
	byKey := make(map[string]*domain.SalesBucket)
	for _, sale := range sales {
		key := BucketKey(sale.CreatedAt, rng)
		bucket, ok := byKey[key]
		if !ok {
			bucket = &domain.SalesBucket{Key: key}
			byKey[key] = bucket
		}
		bucket.Count++
		bucket.Amount += sale.Amount
		bucket.AdminFee += sale.AdminFee
		bucket.Revenue += sale.Total()
	}

	result := make([]domain.SalesBucket, 0, len(byKey))
	for _, bucket := range byKey {
		result = append(result, *bucket)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key > result[j].Key })
	return result
}

// Summarize computes the totals block for a sales slice. The revenue
// identity holds by construction: TotalRevenue = TotalAmount +
// TotalAdminFee. AveragePerSale is TotalAmount over the sale count
// (admin fees excluded), 0 for an empty slice. PopularCategory is the
// category with the highest count (ties broken by name for determinism).
func Summarize(sales []domain.Sale) domain.SalesSummary {
	summary := domain.SalesSummary{
		Categories: make([]domain.CategorySummary, 0, 8),
	}

	counts := make(map[string]*domain.CategorySummary)
	for _, sale := range sales {
		summary.TotalSales++
		summary.TotalAmount += sale.Amount
		summary.TotalAdminFee += sale.AdminFee

		cat, ok := counts[sale.Category]
		if !ok {
			cat = &domain.CategorySummary{Category: sale.Category}
			counts[sale.Category] = cat
		}
		cat.Count++
		cat.Total += sale.Total()
	}

	summary.TotalRevenue = summary.TotalAmount + summary.TotalAdminFee
	if summary.TotalSales > 0 {
		summary.AveragePerSale = summary.TotalAmount / int64(summary.TotalSales)
	}

	for _, cat := range counts {
		summary.Categories = append(summary.Categories, *cat)
	}
	sort.Slice(summary.Categories, func(i, j int) bool {
		a, b := summary.Categories[i], summary.Categories[j]
		if a.Count == b.Count {
			return a.Category < b.Category
		}
		return a.Count > b.Count
	})
	if len(summary.Categories) > 0 {
		summary.PopularCategory = summary.Categories[0].Category
	}

	return summary
}

// BuildShiftReport computes the frozen close-time report for a shift from
// the sales attributed to it. The expected drawer balance is additive:
// starting balance plus everything taken in during the shift.
func BuildShiftReport(shift domain.Shift, sales []domain.Sale, closedAt time.Time) domain.ShiftReport {
	summary := Summarize(sales)
	return domain.ShiftReport{
		ShiftID:         shift.ID,
		OpenedAt:        shift.OpenedAt,
		ClosedAt:        closedAt,
		StartingBalance: shift.StartingBalance,
		TotalSales:      summary.TotalSales,
		TotalAmount:     summary.TotalAmount,
		TotalAdminFee:   summary.TotalAdminFee,
		TotalRevenue:    summary.TotalRevenue,
		ExpectedBalance: shift.StartingBalance + summary.TotalRevenue,
		Categories:      summary.Categories,
	}
}

// DeriveCustomers groups sales by customer phone number. Sales without a
// phone are skipped. The most recent sale wins the display name; the
// result is sorted by last transaction, newest first.
func DeriveCustomers(sales []domain.Sale) []domain.Customer {
	byPhone := make(map[string]*domain.Customer)
	for _, sale := range sales {
		phone := strings.TrimSpace(sale.CustomerPhone)
		if phone == "" {
			continue
		}
		customer, ok := byPhone[phone]
		if !ok {
			customer = &domain.Customer{Phone: phone}
			byPhone[phone] = customer
		}
		customer.TransactionCount++
		customer.TotalSpent += sale.Total()
		if sale.CreatedAt.After(customer.LastTransactionAt) {
			customer.LastTransactionAt = sale.CreatedAt
			customer.Name = sale.CustomerName
		}
	}

	result := make([]domain.Customer, 0, len(byPhone))
	for _, customer := range byPhone {
		result = append(result, *customer)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.LastTransactionAt.Equal(b.LastTransactionAt) {
			return a.Phone < b.Phone
		}
		return a.LastTransactionAt.After(b.LastTransactionAt)
	})
	return result
}

// Engine fronts the summary computation with a short-lived cache so
// dashboard polling does not reload the whole ledger on every tick.
// Writes bump the generation, which is part of every cache key, so a
// summary read after a write never sees a pre-write snapshot.
type Engine struct {
	cache    cache.SummaryCache
	cacheTTL time.Duration
	gen      atomic.Int64
}

func NewEngine(cacheStore cache.SummaryCache, cacheTTL time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopSummaryCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Second
	}
	return &Engine{cache: cacheStore, cacheTTL: cacheTTL}
}

// Invalidate marks every cached summary stale. Callers bump this after
// any write that changes aggregate results.
func (e *Engine) Invalidate() {
	e.gen.Add(1)
}

// Summary returns the cached summary for the filter when fresh, otherwise
// loads the sales, computes, and caches. Cache failures are ignored; the
// computation is always correct without the cache.
func (e *Engine) Summary(ctx context.Context, f Filter, load func(ctx context.Context) ([]domain.Sale, error)) (domain.SalesSummary, error) {
	key := buildCacheKey(f, e.gen.Load())
	if cached, ok, err := e.cache.Get(ctx, key); err == nil && ok {
		return *cached, nil
	}

	sales, err := load(ctx)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	matched := Apply(sales, f)
	summary := Summarize(matched)
	summary.Buckets = Buckets(matched, f.Range)

	_ = e.cache.Set(ctx, key, &summary, e.cacheTTL)
	return summary, nil
}

func buildCacheKey(f Filter, gen int64) string {
	bucket := f.now().In(shopZone).Format("2006-01-02")
	raw := strings.Join([]string{
		string(f.Range), f.Category, strings.ToLower(f.Query), f.ShiftID,
		f.From.Format("2006-01-02"), f.To.Format("2006-01-02"),
		strconv.Itoa(int(f.Month)), strconv.Itoa(f.Year),
		bucket, strconv.FormatInt(gen, 10),
	}, "|")
	hash := sha1.Sum([]byte(raw))
	return fmt.Sprintf("ledger:summary:%s", hex.EncodeToString(hash[:]))
}
