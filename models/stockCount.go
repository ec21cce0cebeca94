package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/stockcount_backend/config"
	"github.com/mmdatafocus/stockcount_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockCount is one persisted reconciliation result.
//
// Grain: (business_id, location, item_id, is_misplaced) — at most one row
// per key. Counted rows and misplaced rows are disjoint key spaces; a key
// never transitions between them, later scans revise the same row in place.
type StockCount struct {
	ID          int              `gorm:"primary_key" json:"id"`
	BusinessId  string           `gorm:"size:64;not null;uniqueIndex:idx_count_key,priority:1" json:"business_id"`
	Location    string           `gorm:"size:100;not null;uniqueIndex:idx_count_key,priority:2" json:"location"`
	ItemId      string           `gorm:"size:100;not null;uniqueIndex:idx_count_key,priority:3" json:"item_id"`
	IsMisplaced bool             `gorm:"not null;default:false;uniqueIndex:idx_count_key,priority:4" json:"is_misplaced"`
	CountedQty  decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"counted_qty"`
	ExpectedQty *decimal.Decimal `gorm:"type:decimal(20,4)" json:"expected_qty"` // nil on catalog miss / misplaced
	Status      CountStatus      `gorm:"type:enum('OK','Short','Excess','Mismatch','Misplaced');size:20;not null" json:"status"`
	Attributes  AttributeMap     `gorm:"type:json" json:"attributes"`
	RecordedBy  string           `gorm:"size:100;not null" json:"recorded_by"`
	RecordedAt  time.Time        `gorm:"not null" json:"recorded_at"`
	Version     int              `gorm:"not null;default:0" json:"version"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewStockCount is the scan/count input submitted by the shell.
// Location and ItemId must already be trimmed/normalized by the caller
// (utils.NormalizeKey); the engine does not normalize. Location may be
// omitted on the wire when the session carries a current shelf; the
// handler fills it in before the engine validates.
type NewStockCount struct {
	Location   string          `json:"location" validate:"required"`
	ItemId     string          `json:"item_id" binding:"required" validate:"required"`
	CountedQty decimal.Decimal `json:"counted_qty"`
	Mode       CountMode       `json:"mode"`
}

/*
caches:
	StockCountList:$businessId
*/

// DBCountStore is the MySQL-backed CountStore. Reads are whole-table
// snapshots behind the same TTL cache as the catalog; every Upsert
// invalidates the snapshot synchronously.
type DBCountStore struct{}

func (DBCountStore) FetchAll(ctx context.Context, businessId string) ([]*StockCount, error) {
	results, err := utils.RetrieveRedisList[StockCount](businessId)
	if err != nil {
		return nil, err
	}
	if results != nil {
		return results, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Order("id").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrorStoreUnavailable, err)
	}
	if err := utils.StoreRedisList[StockCount](results, businessId); err != nil {
		return nil, err
	}
	return results, nil
}

// FindByKey returns the row for a natural key, or nil when absent.
// Reads the table directly — the upsert path must never trust the cache.
func (DBCountStore) FindByKey(ctx context.Context, businessId, location, itemId string, misplaced bool) (*StockCount, error) {
	db := config.GetDB()
	var result StockCount
	err := db.WithContext(ctx).
		Where("business_id = ? AND location = ? AND item_id = ? AND is_misplaced = ?",
			businessId, location, itemId, misplaced).
		First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrorStoreUnavailable, err)
	}
	return &result, nil
}

// Upsert writes the single reconciled row for record's key: update in
// place when the key exists, insert otherwise. priorVersion < 0 is
// last-write-wins (the source system's behavior); priorVersion >= 0 is a
// compare-and-swap that fails with ErrorVersionConflict when the stored
// version differs.
//
// The row is re-read under SELECT ... FOR UPDATE inside the transaction,
// so two racing writers serialize on the row once it exists; the unique
// key index turns a racing double-insert into a version conflict instead
// of a duplicate row.
func (DBCountStore) Upsert(ctx context.Context, record *StockCount, priorVersion int) error {
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing StockCount
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("business_id = ? AND location = ? AND item_id = ? AND is_misplaced = ?",
				record.BusinessId, record.Location, record.ItemId, record.IsMisplaced).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if priorVersion > 0 {
				return utils.ErrorVersionConflict
			}
			record.Version = 1
			if err := tx.Create(record).Error; err != nil {
				if isDuplicateKeyError(err) {
					return utils.ErrorVersionConflict
				}
				return err
			}
			return refreshCountDailySummaryTx(tx, record.BusinessId, record.RecordedAt)
		}
		if err != nil {
			return err
		}
		if priorVersion >= 0 && existing.Version != priorVersion {
			return utils.ErrorVersionConflict
		}

		if err := tx.Model(&existing).Updates(map[string]interface{}{
			"CountedQty":  record.CountedQty,
			"ExpectedQty": record.ExpectedQty,
			"Status":      record.Status,
			"Attributes":  record.Attributes,
			"RecordedBy":  record.RecordedBy,
			"RecordedAt":  record.RecordedAt,
			"Version":     existing.Version + 1,
		}).Error; err != nil {
			return err
		}
		record.ID = existing.ID
		record.Version = existing.Version + 1
		record.CreatedAt = existing.CreatedAt

		if err := refreshCountDailySummaryTx(tx, record.BusinessId, record.RecordedAt); err != nil {
			return err
		}
		// a recount can move the row to a new calendar day
		if !sameDay(existing.RecordedAt, record.RecordedAt) {
			return refreshCountDailySummaryTx(tx, record.BusinessId, existing.RecordedAt)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, utils.ErrorVersionConflict) {
			return err
		}
		return fmt.Errorf("%w: %v", utils.ErrorStoreUnavailable, err)
	}

	// invalidate-on-write
	return utils.RemoveRedisList[StockCount](record.BusinessId)
}

func isDuplicateKeyError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func ListStockCounts(ctx context.Context) ([]*StockCount, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return DBCountStore{}.FetchAll(ctx, businessId)
}

func GetStockCount(ctx context.Context, id int) (*StockCount, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[StockCount](ctx, businessId, id)
}

// DeleteStockCount removes one observation (bad scan cleanup). The next
// scan of the same key starts a fresh row.
func DeleteStockCount(ctx context.Context, id int) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}
	if err := utils.ValidateResourceId[StockCount](ctx, businessId, id); err != nil {
		return err
	}
	row, err := utils.FetchModel[StockCount](ctx, businessId, id)
	if err != nil {
		return err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("business_id = ?", businessId).
			Delete(&StockCount{}, id).Error; err != nil {
			return err
		}
		return refreshCountDailySummaryTx(tx, businessId, row.RecordedAt)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", utils.ErrorStoreUnavailable, err)
	}
	return utils.RemoveRedisList[StockCount](businessId)
}
