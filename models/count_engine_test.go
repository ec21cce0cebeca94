package models_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mmdatafocus/stockcount_backend/models"
	"github.com/mmdatafocus/stockcount_backend/utils"
	"github.com/shopspring/decimal"
)

// In-memory doubles so engine semantics are testable without MySQL/Redis.

type memCatalog struct {
	items []*models.CatalogItem
}

func (m *memCatalog) FetchAll(ctx context.Context, businessId string) ([]*models.CatalogItem, error) {
	var out []*models.CatalogItem
	for _, item := range m.items {
		if item.BusinessId == businessId {
			out = append(out, item)
		}
	}
	return out, nil
}

type memCountStore struct {
	rows []*models.StockCount
}

func storeKey(businessId, location, itemId string, misplaced bool) string {
	return fmt.Sprintf("%s|%s|%s|%v", businessId, location, itemId, misplaced)
}

func (m *memCountStore) FetchAll(ctx context.Context, businessId string) ([]*models.StockCount, error) {
	var out []*models.StockCount
	for _, r := range m.rows {
		if r.BusinessId == businessId {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memCountStore) FindByKey(ctx context.Context, businessId, location, itemId string, misplaced bool) (*models.StockCount, error) {
	for _, r := range m.rows {
		if storeKey(r.BusinessId, r.Location, r.ItemId, r.IsMisplaced) == storeKey(businessId, location, itemId, misplaced) {
			copied := *r
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memCountStore) Upsert(ctx context.Context, record *models.StockCount, priorVersion int) error {
	for i, r := range m.rows {
		if storeKey(r.BusinessId, r.Location, r.ItemId, r.IsMisplaced) ==
			storeKey(record.BusinessId, record.Location, record.ItemId, record.IsMisplaced) {
			if priorVersion >= 0 && r.Version != priorVersion {
				return utils.ErrorVersionConflict
			}
			record.Version = r.Version + 1
			copied := *record
			m.rows[i] = &copied
			return nil
		}
	}
	if priorVersion > 0 {
		return utils.ErrorVersionConflict
	}
	record.Version = 1
	copied := *record
	m.rows = append(m.rows, &copied)
	return nil
}

func testContext(businessId, username string) context.Context {
	ctx := utils.SetBusinessIdInContext(context.Background(), businessId)
	return utils.SetUsernameInContext(ctx, username)
}

func catalogItem(businessId, location, itemId string, expected int64) *models.CatalogItem {
	return &models.CatalogItem{
		BusinessId:  businessId,
		Location:    location,
		ItemId:      itemId,
		ExpectedQty: decimal.NewFromInt(expected),
	}
}

func TestRecordCountKeepsOneRowPerKey(t *testing.T) {
	catalog := &memCatalog{items: []*models.CatalogItem{catalogItem("wh1", "A1", "SKU-1", 5)}}
	store := &memCountStore{}
	engine := models.NewCountEngine(catalog, store)
	ctx := testContext("wh1", "alice")

	for i := 0; i < 10; i++ {
		if _, err := engine.RecordCount(ctx, &models.NewStockCount{
			Location:   "A1",
			ItemId:     "SKU-1",
			CountedQty: decimal.NewFromInt(int64(i)),
			Mode:       models.CountModeAbsolute,
		}); err != nil {
			t.Fatalf("RecordCount #%d: %v", i, err)
		}
	}

	if len(store.rows) != 1 {
		t.Fatalf("expected 1 row after 10 counts; got %d", len(store.rows))
	}
	row := store.rows[0]
	if !row.CountedQty.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("expected last absolute count 9; got %s", row.CountedQty)
	}
	if row.Status != models.CountStatusExcess {
		t.Fatalf("expected Excess (9 > 5); got %q", row.Status)
	}
}

func TestRecordCountAbsoluteIsIdempotent(t *testing.T) {
	catalog := &memCatalog{items: []*models.CatalogItem{catalogItem("wh1", "A1", "SKU-1", 5)}}
	store := &memCountStore{}
	engine := models.NewCountEngine(catalog, store)
	ctx := testContext("wh1", "alice")

	input := &models.NewStockCount{
		Location:   "A1",
		ItemId:     "SKU-1",
		CountedQty: decimal.NewFromInt(5),
		Mode:       models.CountModeAbsolute,
	}
	first, err := engine.RecordCount(ctx, input)
	if err != nil {
		t.Fatalf("first RecordCount: %v", err)
	}
	second, err := engine.RecordCount(ctx, input)
	if err != nil {
		t.Fatalf("second RecordCount: %v", err)
	}

	if !second.CountedQty.Equal(first.CountedQty) || second.Status != first.Status {
		t.Fatalf("absolute resubmission changed the row: first=%s/%s second=%s/%s",
			first.CountedQty, first.Status, second.CountedQty, second.Status)
	}
	if second.Status != models.CountStatusOK {
		t.Fatalf("expected OK (5 == 5); got %q", second.Status)
	}
	if len(store.rows) != 1 {
		t.Fatalf("expected 1 row; got %d", len(store.rows))
	}
}

func TestRecordCountIncrementAccumulates(t *testing.T) {
	catalog := &memCatalog{items: []*models.CatalogItem{catalogItem("wh1", "A1", "SKU-1", 10)}}
	store := &memCountStore{}
	engine := models.NewCountEngine(catalog, store)
	ctx := testContext("wh1", "alice")

	for _, qty := range []int64{4, 3, 3} {
		if _, err := engine.RecordCount(ctx, &models.NewStockCount{
			Location:   "A1",
			ItemId:     "SKU-1",
			CountedQty: decimal.NewFromInt(qty),
			Mode:       models.CountModeIncrement,
		}); err != nil {
			t.Fatalf("RecordCount(+%d): %v", qty, err)
		}
	}

	row := store.rows[0]
	if !row.CountedQty.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected accumulated 10; got %s", row.CountedQty)
	}
	if row.Status != models.CountStatusOK {
		t.Fatalf("expected OK after accumulating to expected; got %q", row.Status)
	}
}

func TestRecordCountCatalogMissIsMismatchNotError(t *testing.T) {
	catalog := &memCatalog{}
	store := &memCountStore{}
	engine := models.NewCountEngine(catalog, store)
	ctx := testContext("wh1", "alice")

	row, err := engine.RecordCount(ctx, &models.NewStockCount{
		Location:   "A1",
		ItemId:     "GHOST-SKU",
		CountedQty: decimal.NewFromInt(3),
		Mode:       models.CountModeAbsolute,
	})
	if err != nil {
		t.Fatalf("catalog miss must not be an error: %v", err)
	}
	if row.Status != models.CountStatusLocationMismatch {
		t.Fatalf("expected Mismatch; got %q", row.Status)
	}
	if row.ExpectedQty != nil {
		t.Fatalf("expected nil ExpectedQty on catalog miss; got %s", row.ExpectedQty)
	}
}

func TestRecordCountRejectsBadInputWithoutWriting(t *testing.T) {
	catalog := &memCatalog{items: []*models.CatalogItem{catalogItem("wh1", "A1", "SKU-1", 5)}}
	store := &memCountStore{}
	engine := models.NewCountEngine(catalog, store)
	ctx := testContext("wh1", "alice")

	cases := []struct {
		name  string
		input *models.NewStockCount
	}{
		{"empty location", &models.NewStockCount{Location: "  ", ItemId: "SKU-1", CountedQty: decimal.NewFromInt(1)}},
		{"empty item id", &models.NewStockCount{Location: "A1", ItemId: "", CountedQty: decimal.NewFromInt(1)}},
		{"negative qty", &models.NewStockCount{Location: "A1", ItemId: "SKU-1", CountedQty: decimal.NewFromInt(-1)}},
		{"fractional qty", &models.NewStockCount{Location: "A1", ItemId: "SKU-1", CountedQty: decimal.NewFromFloat(1.5)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.RecordCount(ctx, tc.input)
			if !errors.Is(err, utils.ErrorInvalidInput) {
				t.Fatalf("expected ErrorInvalidInput; got %v", err)
			}
		})
	}
	if len(store.rows) != 0 {
		t.Fatalf("rejected inputs must not write; store has %d rows", len(store.rows))
	}
}

func TestRecordMisplacedIncrementsByOne(t *testing.T) {
	catalog := &memCatalog{items: []*models.CatalogItem{catalogItem("wh1", "A1", "SKU-1", 5)}}
	store := &memCountStore{}
	engine := models.NewCountEngine(catalog, store)
	ctx := testContext("wh1", "alice")

	first, err := engine.RecordMisplaced(ctx, "A1", "SKU-9")
	if err != nil {
		t.Fatalf("first RecordMisplaced: %v", err)
	}
	if !first.CountedQty.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected first misplaced count 1; got %s", first.CountedQty)
	}
	second, err := engine.RecordMisplaced(ctx, "A1", "SKU-9")
	if err != nil {
		t.Fatalf("second RecordMisplaced: %v", err)
	}
	if !second.CountedQty.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected second misplaced count 2; got %s", second.CountedQty)
	}
	if second.Status != models.CountStatusMisplaced {
		t.Fatalf("expected Misplaced; got %q", second.Status)
	}
	if second.ExpectedQty != nil {
		t.Fatalf("misplaced rows carry no expected qty; got %s", second.ExpectedQty)
	}
}

func TestMisplacedAndCountedRowsAreDisjoint(t *testing.T) {
	catalog := &memCatalog{items: []*models.CatalogItem{catalogItem("wh1", "A1", "SKU-1", 5)}}
	store := &memCountStore{}
	engine := models.NewCountEngine(catalog, store)
	ctx := testContext("wh1", "alice")

	if _, err := engine.RecordCount(ctx, &models.NewStockCount{
		Location: "A1", ItemId: "SKU-1", CountedQty: decimal.NewFromInt(5),
	}); err != nil {
		t.Fatalf("RecordCount: %v", err)
	}
	if _, err := engine.RecordMisplaced(ctx, "A1", "SKU-1"); err != nil {
		t.Fatalf("RecordMisplaced: %v", err)
	}

	if len(store.rows) != 2 {
		t.Fatalf("counted and misplaced share a key only by name; expected 2 rows, got %d", len(store.rows))
	}
}

func TestLaterCountRevisesRowAndActor(t *testing.T) {
	catalog := &memCatalog{items: []*models.CatalogItem{catalogItem("wh1", "B2", "SKU-7", 5)}}
	store := &memCountStore{}
	engine := models.NewCountEngine(catalog, store)

	// alice counts the shelf clean
	if _, err := engine.RecordCount(testContext("wh1", "alice"), &models.NewStockCount{
		Location: "B2", ItemId: "SKU-7", CountedQty: decimal.NewFromInt(5),
	}); err != nil {
		t.Fatalf("alice RecordCount: %v", err)
	}
	if store.rows[0].Status != models.CountStatusOK {
		t.Fatalf("expected OK after alice; got %q", store.rows[0].Status)
	}

	// bob recounts later and finds items gone
	if _, err := engine.RecordCount(testContext("wh1", "bob"), &models.NewStockCount{
		Location: "B2", ItemId: "SKU-7", CountedQty: decimal.NewFromInt(3),
	}); err != nil {
		t.Fatalf("bob RecordCount: %v", err)
	}

	if len(store.rows) != 1 {
		t.Fatalf("recount must revise, not append; got %d rows", len(store.rows))
	}
	row := store.rows[0]
	if row.Status != models.CountStatusShort {
		t.Fatalf("expected Short after bob; got %q", row.Status)
	}
	if row.RecordedBy != "bob" {
		t.Fatalf("expected last writer bob; got %q", row.RecordedBy)
	}
}

func TestSummarizeGroupsAndProjectsDiscrepancies(t *testing.T) {
	catalog := &memCatalog{items: []*models.CatalogItem{
		catalogItem("wh1", "A1", "SKU-1", 5),
		catalogItem("wh1", "A2", "SKU-2", 4),
		catalogItem("wh1", "A3", "SKU-3", 6),
	}}
	store := &memCountStore{}
	engine := models.NewCountEngine(catalog, store)
	alice := testContext("wh1", "alice")
	bob := testContext("wh1", "bob")

	seed := []struct {
		ctx      context.Context
		location string
		itemId   string
		qty      int64
	}{
		{alice, "A1", "SKU-1", 5}, // OK
		{alice, "A2", "SKU-2", 2}, // Short
		{bob, "A3", "SKU-3", 1},   // Short
	}
	for _, s := range seed {
		if _, err := engine.RecordCount(s.ctx, &models.NewStockCount{
			Location: s.location, ItemId: s.itemId, CountedQty: decimal.NewFromInt(s.qty),
		}); err != nil {
			t.Fatalf("seed RecordCount(%s/%s): %v", s.location, s.itemId, err)
		}
	}

	summary, err := engine.Summarize(alice, nil)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.StatusCounts[models.CountStatusOK] != 1 || summary.StatusCounts[models.CountStatusShort] != 2 {
		t.Fatalf("unexpected status counts: %+v", summary.StatusCounts)
	}
	if len(summary.Discrepancies) != 2 {
		t.Fatalf("expected 2 discrepancy rows; got %d", len(summary.Discrepancies))
	}
	for _, d := range summary.Discrepancies {
		if d.Status == models.CountStatusOK {
			t.Fatalf("OK row leaked into the discrepancy list: %+v", d)
		}
	}

	// narrow to one counter
	by := "bob"
	filtered, err := engine.Summarize(alice, &models.CountSummaryFilter{RecordedBy: &by})
	if err != nil {
		t.Fatalf("Summarize(recorded_by=bob): %v", err)
	}
	if filtered.StatusCounts[models.CountStatusShort] != 1 || len(filtered.Discrepancies) != 1 {
		t.Fatalf("filter by actor failed: %+v", filtered)
	}
	if filtered.Discrepancies[0].RecordedBy != "bob" {
		t.Fatalf("expected bob's row; got %q", filtered.Discrepancies[0].RecordedBy)
	}
}

func TestSummarizeFiltersByCalendarDay(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 0, 15, 0, 0, time.UTC)
	store := &memCountStore{rows: []*models.StockCount{
		{
			BusinessId: "wh1", Location: "A1", ItemId: "SKU-1",
			CountedQty: decimal.NewFromInt(2), Status: models.CountStatusShort,
			RecordedBy: "alice", RecordedAt: day1, Version: 1,
		},
		{
			BusinessId: "wh1", Location: "A2", ItemId: "SKU-2",
			CountedQty: decimal.NewFromInt(4), Status: models.CountStatusOK,
			RecordedBy: "alice", RecordedAt: day2, Version: 1,
		},
	}}
	engine := models.NewCountEngine(&memCatalog{}, store)
	ctx := testContext("wh1", "alice")

	firstDay := time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)
	summary, err := engine.Summarize(ctx, &models.CountSummaryFilter{Date: &firstDay})
	if err != nil {
		t.Fatalf("Summarize(date=day1): %v", err)
	}
	if summary.StatusCounts[models.CountStatusShort] != 1 || summary.StatusCounts[models.CountStatusOK] != 0 {
		t.Fatalf("day filter leaked across midnight: %+v", summary.StatusCounts)
	}
	if len(summary.Discrepancies) != 1 || !summary.Discrepancies[0].RecordedAt.Equal(day1) {
		t.Fatalf("expected only the day-1 row: %+v", summary.Discrepancies)
	}

	// the day boundary is UTC: a local time on the "next" day that still
	// falls on day 1 in UTC must match day 1
	local := time.Date(2026, 3, 2, 6, 0, 0, 0, time.FixedZone("UTC+7", 7*60*60))
	summary, err = engine.Summarize(ctx, &models.CountSummaryFilter{Date: &local})
	if err != nil {
		t.Fatalf("Summarize(date=local): %v", err)
	}
	if summary.StatusCounts[models.CountStatusShort] != 1 || summary.StatusCounts[models.CountStatusOK] != 0 {
		t.Fatalf("day comparison must normalize to UTC: %+v", summary.StatusCounts)
	}

	secondDay := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	summary, err = engine.Summarize(ctx, &models.CountSummaryFilter{Date: &secondDay})
	if err != nil {
		t.Fatalf("Summarize(date=day2): %v", err)
	}
	if summary.StatusCounts[models.CountStatusOK] != 1 || summary.StatusCounts[models.CountStatusShort] != 0 {
		t.Fatalf("expected only the day-2 row: %+v", summary.StatusCounts)
	}
	if len(summary.Discrepancies) != 0 {
		t.Fatalf("day 2 has no discrepancies: %+v", summary.Discrepancies)
	}
}

func TestDuplicateCatalogRowsFirstMatchWins(t *testing.T) {
	// same key twice in the reference sheet: fetch order decides
	catalog := &memCatalog{items: []*models.CatalogItem{
		catalogItem("wh1", "A1", "SKU-1", 5),
		catalogItem("wh1", "A1", "SKU-1", 99),
	}}
	store := &memCountStore{}
	engine := models.NewCountEngine(catalog, store)
	ctx := testContext("wh1", "alice")

	row, err := engine.RecordCount(ctx, &models.NewStockCount{
		Location: "A1", ItemId: "SKU-1", CountedQty: decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("RecordCount: %v", err)
	}
	if row.ExpectedQty == nil || !row.ExpectedQty.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected first catalog row (5) to win; got %v", row.ExpectedQty)
	}
	if row.Status != models.CountStatusOK {
		t.Fatalf("expected OK; got %q", row.Status)
	}
}
