package utils

import (
	"context"

	"github.com/mmdatafocus/stockcount_backend/config"
)

/* DB fetching */

// fetch model from db
// (may return RecordNotFound)
func FetchSingleModel[T any](ctx context.Context, id int) (*T, error) {

	db := config.GetDB()
	var result T
	err := db.WithContext(ctx).First(&result, id).Error
	if err != nil {
		return nil, ErrorRecordNotFound
	}
	return &result, nil
}

// fetch model from db
// (ctx's business_id is used in query's WHERE, may return RecordNotFound)
func FetchModel[T any](ctx context.Context, businessId string, id int) (*T, error) {

	db := config.GetDB()
	var result T
	err := db.WithContext(ctx).Where("business_id = ?", businessId).First(&result, id).Error
	if err != nil {
		return nil, ErrorRecordNotFound
	}
	return &result, nil
}

// fetch all models from db
// (ctx's business_id is used in query's WHERE)
func FetchAllModels[T any](ctx context.Context, businessId string) ([]*T, error) {

	db := config.GetDB()
	var results []*T
	err := db.WithContext(ctx).Where("business_id = ?", businessId).Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
