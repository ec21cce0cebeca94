package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/stockcount_backend/config"
	"github.com/mmdatafocus/stockcount_backend/utils"
	"gorm.io/gorm"
)

// CountDailySummary is a small, query-friendly aggregate table used by
// the end-of-day audit report.
//
// Grain: (business_id, count_date, status).
//
// Maintained synchronously: every count upsert/delete refreshes the
// affected day inside the same transaction. The table is still derived
// data and can be rebuilt from stock_counts at any time
// (cmd/backfill-daily-summary).
type CountDailySummary struct {
	BusinessId string      `gorm:"primaryKey;size:64;index:idx_cds_biz_date,priority:1" json:"business_id"`
	CountDate  time.Time   `gorm:"primaryKey;index:idx_cds_biz_date,priority:2" json:"count_date"`
	Status     CountStatus `gorm:"primaryKey;size:20" json:"status"`

	Total int `gorm:"not null;default:0" json:"total"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// refreshCountDailySummaryTx recomputes the aggregate for one business
// day inside the caller's transaction. Delete-and-reinsert is cheap at
// this grain (at most a handful of status rows per day).
func refreshCountDailySummaryTx(tx *gorm.DB, businessId string, day time.Time) error {
	d := day.UTC().Format("2006-01-02")
	if err := tx.Where("business_id = ? AND count_date = ?", businessId, d).
		Delete(&CountDailySummary{}).Error; err != nil {
		return err
	}
	sql := `
INSERT INTO count_daily_summaries (business_id, count_date, status, total, created_at, updated_at)
SELECT
	business_id,
	DATE(recorded_at) AS count_date,
	status,
	COUNT(*) AS total,
	NOW(),
	NOW()
FROM
	stock_counts
WHERE
	business_id = ?
	AND DATE(recorded_at) = ?
GROUP BY
	business_id, DATE(recorded_at), status
`
	return tx.Exec(sql, businessId, d).Error
}

// RebuildCountDailySummary recomputes the aggregate for one business
// from the stock_counts table. Delete-and-reinsert inside one
// transaction; readers only ever see a complete rebuild.
func RebuildCountDailySummary(ctx context.Context, businessId string) error {
	if businessId == "" {
		return errors.New("business id is required")
	}

	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("business_id = ?", businessId).
			Delete(&CountDailySummary{}).Error; err != nil {
			return err
		}
		sql := `
INSERT INTO count_daily_summaries (business_id, count_date, status, total, created_at, updated_at)
SELECT
	business_id,
	DATE(recorded_at) AS count_date,
	status,
	COUNT(*) AS total,
	NOW(),
	NOW()
FROM
	stock_counts
WHERE
	business_id = ?
GROUP BY
	business_id, DATE(recorded_at), status
`
		return tx.Exec(sql, businessId).Error
	})
}

func GetCountDailySummary(ctx context.Context, from, to time.Time) ([]*CountDailySummary, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var results []*CountDailySummary
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Where("count_date BETWEEN ? AND ?", from, to).
		Order("count_date, status").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
