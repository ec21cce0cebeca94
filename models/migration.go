package models

import (
	"log"

	"github.com/mmdatafocus/stockcount_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&CatalogItem{},
		&StockCount{},
		&CountDailySummary{},
		&User{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
