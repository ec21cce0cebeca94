package models

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/stockcount_backend/config"
	"github.com/mmdatafocus/stockcount_backend/utils"
	"github.com/shopspring/decimal"
)

// CatalogReader is the read-only reference catalog: a point-in-time
// whole-table snapshot, no staleness guarantee beyond "as of last fetch".
type CatalogReader interface {
	FetchAll(ctx context.Context, businessId string) ([]*CatalogItem, error)
}

// CountStore is the mutable record store. Upsert must be addressable by
// the row's natural key: update when present, append when absent.
type CountStore interface {
	FetchAll(ctx context.Context, businessId string) ([]*StockCount, error)
	FindByKey(ctx context.Context, businessId, location, itemId string, misplaced bool) (*StockCount, error)
	Upsert(ctx context.Context, record *StockCount, priorVersion int) error
}

// KeyLocker serializes writers on one count key. Optional hardening: the
// default engine runs the source system's unsynchronized
// read-modify-write and is subject to lost increments under races.
type KeyLocker interface {
	Obtain(ctx context.Context, key string) (release func(), err error)
}

type redisKeyLocker struct{}

func (redisKeyLocker) Obtain(ctx context.Context, key string) (func(), error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil, errors.New("service not ready (redis lock not initialized)")
	}
	lock, err := locker.Obtain(ctx, key, 30*time.Second, nil)
	if err != nil {
		return nil, err
	}
	return func() { _ = lock.Release(ctx) }, nil
}

// CountEngine converts scan/count inputs into persisted StockCount rows,
// enforcing at most one row per (location, item, misplaced) key.
type CountEngine struct {
	catalog CatalogReader
	store   CountStore

	// nil locker = unsynchronized read-modify-write, matching the legacy
	// sheet-backed tool. STRICT_COUNT_SERIALIZATION=true installs a
	// per-key redis lock.
	locker KeyLocker

	// strictVersioning makes every update a compare-and-swap on the
	// row version instead of last-write-wins.
	strictVersioning bool

	now func() time.Time
}

func NewCountEngine(catalog CatalogReader, store CountStore) *CountEngine {
	e := &CountEngine{
		catalog: catalog,
		store:   store,
		now:     time.Now,
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("STRICT_COUNT_SERIALIZATION")), "true") {
		e.locker = redisKeyLocker{}
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("STRICT_COUNT_VERSIONING")), "true") {
		e.strictVersioning = true
	}
	return e
}

// DefaultCountEngine wires the MySQL-backed catalog and record store.
func DefaultCountEngine() *CountEngine {
	return NewCountEngine(DBCatalog{}, DBCountStore{})
}

// DeriveCountStatus classifies a counted quantity against the expected
// quantity. expected == nil means the catalog had no entry for the key;
// that is a normal outcome (Mismatch), never an error.
func DeriveCountStatus(counted decimal.Decimal, expected *decimal.Decimal) CountStatus {
	if expected == nil {
		return CountStatusLocationMismatch
	}
	switch counted.Cmp(*expected) {
	case -1:
		return CountStatusShort
	case 1:
		return CountStatusExcess
	default:
		return CountStatusOK
	}
}

func (e *CountEngine) validateKey(location, itemId string) error {
	if strings.TrimSpace(location) == "" || strings.TrimSpace(itemId) == "" {
		return fmt.Errorf("%w: location and item id are required", utils.ErrorInvalidInput)
	}
	return nil
}

func actorFromContext(ctx context.Context) (businessId string, username string, err error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return "", "", errors.New("business id is required")
	}
	username, ok = utils.GetUsernameFromContext(ctx)
	if !ok || username == "" {
		return "", "", errors.New("username is required")
	}
	return businessId, username, nil
}

// RecordCount looks up the expected quantity for the scanned key,
// derives a status and upserts the single row for that key. A catalog
// miss records the row with status Mismatch and no expected quantity so
// unexpected scans stay visible.
func (e *CountEngine) RecordCount(ctx context.Context, input *NewStockCount) (*StockCount, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrorInvalidInput, err)
	}
	if err := e.validateKey(input.Location, input.ItemId); err != nil {
		return nil, err
	}
	if input.CountedQty.IsNegative() {
		return nil, fmt.Errorf("%w: counted qty cannot be negative", utils.ErrorInvalidInput)
	}
	if !input.CountedQty.IsInteger() {
		return nil, fmt.Errorf("%w: counted qty must be a whole number", utils.ErrorInvalidInput)
	}

	businessId, username, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if e.locker != nil {
		release, err := e.locker.Obtain(ctx, countLockKey(businessId, input.Location, input.ItemId))
		if err != nil {
			return nil, err
		}
		defer release()
	}

	// point-in-time catalog snapshot; first match in fetch order wins
	catalog, err := e.catalog.FetchAll(ctx, businessId)
	if err != nil {
		return nil, err
	}
	var ref *CatalogItem
	for _, item := range catalog {
		if item.Location == input.Location && item.ItemId == input.ItemId {
			ref = item
			break
		}
	}

	existing, err := e.store.FindByKey(ctx, businessId, input.Location, input.ItemId, false)
	if err != nil {
		return nil, err
	}

	newCount := input.CountedQty
	if existing != nil && input.Mode == CountModeIncrement {
		newCount = existing.CountedQty.Add(input.CountedQty)
	}

	var expected *decimal.Decimal
	var attrs AttributeMap
	if ref != nil {
		qty := ref.ExpectedQty
		expected = &qty
		attrs = ref.Attributes
	}

	record := &StockCount{
		BusinessId:  businessId,
		Location:    input.Location,
		ItemId:      input.ItemId,
		IsMisplaced: false,
		CountedQty:  newCount,
		ExpectedQty: expected,
		Status:      DeriveCountStatus(newCount, expected),
		Attributes:  attrs,
		RecordedBy:  username,
		RecordedAt:  e.now(),
	}

	if err := e.store.Upsert(ctx, record, e.priorVersion(existing)); err != nil {
		config.LogError(config.GetLogger(), "countEngine.go", "RecordCount", "Upsert", record, err)
		return nil, err
	}
	return record, nil
}

// RecordMisplaced flags an item found at a location where the catalog
// does not expect it at all. The catalog lookup is skipped on purpose,
// expected quantity stays unset, and every repeat scan of the same key
// increments the running count by one.
func (e *CountEngine) RecordMisplaced(ctx context.Context, location, itemId string) (*StockCount, error) {
	if err := e.validateKey(location, itemId); err != nil {
		return nil, err
	}

	businessId, username, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if e.locker != nil {
		release, err := e.locker.Obtain(ctx, countLockKey(businessId, location, itemId))
		if err != nil {
			return nil, err
		}
		defer release()
	}

	existing, err := e.store.FindByKey(ctx, businessId, location, itemId, true)
	if err != nil {
		return nil, err
	}

	newCount := decimal.NewFromInt(1)
	if existing != nil {
		newCount = existing.CountedQty.Add(decimal.NewFromInt(1))
	}

	record := &StockCount{
		BusinessId:  businessId,
		Location:    location,
		ItemId:      itemId,
		IsMisplaced: true,
		CountedQty:  newCount,
		ExpectedQty: nil,
		Status:      CountStatusMisplaced,
		RecordedBy:  username,
		RecordedAt:  e.now(),
	}

	if err := e.store.Upsert(ctx, record, e.priorVersion(existing)); err != nil {
		config.LogError(config.GetLogger(), "countEngine.go", "RecordMisplaced", "Upsert", record, err)
		return nil, err
	}
	return record, nil
}

func (e *CountEngine) priorVersion(existing *StockCount) int {
	if !e.strictVersioning {
		return -1 // last write wins
	}
	if existing == nil {
		return 0
	}
	return existing.Version
}

func countLockKey(businessId, location, itemId string) string {
	return fmt.Sprintf("CountLock:%s:%s:%s", businessId, location, itemId)
}

// CountSummaryFilter narrows a summary to one actor and/or one calendar
// day (UTC).
type CountSummaryFilter struct {
	RecordedBy *string    `json:"recorded_by"`
	Date       *time.Time `json:"date"`
}

type DiscrepancyRow struct {
	Location    string           `json:"location"`
	ItemId      string           `json:"item_id"`
	ExpectedQty *decimal.Decimal `json:"expected_qty"`
	CountedQty  decimal.Decimal  `json:"counted_qty"`
	Status      CountStatus      `json:"status"`
	RecordedBy  string           `json:"recorded_by"`
	RecordedAt  time.Time        `json:"recorded_at"`
}

type CountSummary struct {
	StatusCounts  map[CountStatus]int `json:"status_counts"`
	Discrepancies []*DiscrepancyRow   `json:"discrepancies"`
}

// Summarize groups matching observations by status and projects the
// non-OK subset into the discrepancy list. Pure read-side aggregation.
func (e *CountEngine) Summarize(ctx context.Context, filter *CountSummaryFilter) (*CountSummary, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	counts, err := e.store.FetchAll(ctx, businessId)
	if err != nil {
		return nil, err
	}

	summary := &CountSummary{
		StatusCounts:  map[CountStatus]int{},
		Discrepancies: []*DiscrepancyRow{},
	}
	for _, c := range counts {
		if filter != nil {
			if filter.RecordedBy != nil && c.RecordedBy != *filter.RecordedBy {
				continue
			}
			if filter.Date != nil && !sameDay(c.RecordedAt, *filter.Date) {
				continue
			}
		}
		summary.StatusCounts[c.Status]++
		if c.Status.IsDiscrepancy() {
			summary.Discrepancies = append(summary.Discrepancies, &DiscrepancyRow{
				Location:    c.Location,
				ItemId:      c.ItemId,
				ExpectedQty: c.ExpectedQty,
				CountedQty:  c.CountedQty,
				Status:      c.Status,
				RecordedBy:  c.RecordedBy,
				RecordedAt:  c.RecordedAt,
			})
		}
	}
	return summary, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
