package models

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mmdatafocus/stockcount_backend/config"
	"github.com/mmdatafocus/stockcount_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// AttributeMap holds free-form descriptive columns from the reference
// sheet (brand, vertical, category). Opaque to the engine; carried
// through to count rows for display and reporting only.
type AttributeMap map[string]string

func (m AttributeMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *AttributeMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into AttributeMap", value)
	}
}

// CatalogItem is one expected-stock fact from the reference catalog.
// Owned and mutated by catalog import only; read-only to the count engine.
type CatalogItem struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BusinessId  string          `gorm:"index;not null" json:"business_id"`
	Location    string          `gorm:"size:100;index:idx_catalog_key;not null" json:"location"`
	ItemId      string          `gorm:"size:100;index:idx_catalog_key;not null" json:"item_id"`
	ExpectedQty decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"expected_qty"`
	Attributes  AttributeMap    `gorm:"type:json" json:"attributes"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCatalogItem struct {
	Location    string            `json:"location" binding:"required"`
	ItemId      string            `json:"item_id" binding:"required"`
	ExpectedQty decimal.Decimal   `json:"expected_qty"`
	Attributes  map[string]string `json:"attributes"`
}

/*
caches:
	CatalogItemList:$businessId
*/

// DBCatalog is the MySQL-backed CatalogReader with a bounded TTL cache
// in front of the whole-table fetch.
type DBCatalog struct{}

func (DBCatalog) FetchAll(ctx context.Context, businessId string) ([]*CatalogItem, error) {
	results, err := utils.RetrieveRedisList[CatalogItem](businessId)
	if err != nil {
		return nil, err
	}
	if results != nil {
		return results, nil
	}

	db := config.GetDB()
	// fetch order is the tie-break for duplicate keys: earliest row wins
	if err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Order("id").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrorStoreUnavailable, err)
	}
	if err := utils.StoreRedisList[CatalogItem](results, businessId); err != nil {
		return nil, err
	}
	return results, nil
}

func ListCatalogItems(ctx context.Context, location *string) ([]*CatalogItem, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	items, err := DBCatalog{}.FetchAll(ctx, businessId)
	if err != nil {
		return nil, err
	}
	if location == nil || *location == "" {
		return items, nil
	}
	var filtered []*CatalogItem
	for _, item := range items {
		if item.Location == *location {
			filtered = append(filtered, item)
		}
	}
	return filtered, nil
}

// UpsertCatalogItem creates or updates one reference row by its
// (location, item_id) key and invalidates the catalog cache.
func UpsertCatalogItem(ctx context.Context, input *NewCatalogItem) (*CatalogItem, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if strings.TrimSpace(input.Location) == "" || strings.TrimSpace(input.ItemId) == "" {
		return nil, fmt.Errorf("%w: location and item id are required", utils.ErrorInvalidInput)
	}
	if input.ExpectedQty.IsNegative() {
		return nil, fmt.Errorf("%w: expected qty cannot be negative", utils.ErrorInvalidInput)
	}

	item := CatalogItem{
		BusinessId:  businessId,
		Location:    input.Location,
		ItemId:      input.ItemId,
		ExpectedQty: input.ExpectedQty,
		Attributes:  input.Attributes,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing CatalogItem
		err := tx.Where("business_id = ? AND location = ? AND item_id = ?",
			businessId, input.Location, input.ItemId).
			Order("id").First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&item).Error
		}
		if err != nil {
			return err
		}
		if err := tx.Model(&existing).Updates(map[string]interface{}{
			"ExpectedQty": input.ExpectedQty,
			"Attributes":  AttributeMap(input.Attributes),
		}).Error; err != nil {
			return err
		}
		item = existing
		item.ExpectedQty = input.ExpectedQty
		item.Attributes = input.Attributes
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrorStoreUnavailable, err)
	}

	// invalidate-on-write; the next fetch re-snapshots the table
	if err := utils.RemoveRedisList[CatalogItem](businessId); err != nil {
		return nil, err
	}
	return &item, nil
}

// ImportCatalogXLSX loads the reference catalog from the first sheet of
// an XLSX workbook. Expected header row: Location | ItemId | ExpectedQty,
// any further columns become descriptive attributes.
func ImportCatalogXLSX(ctx context.Context, r io.Reader) (int, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return 0, err
	}
	if len(rows) < 2 {
		return 0, errors.New("catalog sheet has no data rows")
	}

	header := rows[0]
	if len(header) < 3 {
		return 0, errors.New("catalog sheet needs Location, ItemId and ExpectedQty columns")
	}

	imported := 0
	for i, row := range rows[1:] {
		if len(row) < 3 {
			continue
		}
		location := utils.NormalizeKey(row[0])
		itemId := utils.NormalizeKey(row[1])
		if location == "" || itemId == "" {
			continue
		}
		qty, err := decimal.NewFromString(strings.TrimSpace(row[2]))
		if err != nil {
			return imported, fmt.Errorf("row %d: bad quantity %q", i+2, row[2])
		}
		attrs := map[string]string{}
		for c := 3; c < len(row) && c < len(header); c++ {
			if strings.TrimSpace(row[c]) != "" {
				attrs[header[c]] = strings.TrimSpace(row[c])
			}
		}
		if _, err := UpsertCatalogItem(ctx, &NewCatalogItem{
			Location:    location,
			ItemId:      itemId,
			ExpectedQty: qty,
			Attributes:  attrs,
		}); err != nil {
			return imported, fmt.Errorf("row %d: %v", i+2, err)
		}
		imported++
	}
	return imported, nil
}
