// backfill-daily-summary rebuilds the count_daily_summaries aggregate
// from stock_counts. The aggregate is derived data; a rebuild is always
// safe.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/stockcount_backend/config"
	"github.com/mmdatafocus/stockcount_backend/models"
)

func main() {
	businessID := flag.String("business-id", "", "Optional: rebuild only one business. If empty, rebuilds all businesses with counts.")
	flag.Parse()

	ctx := context.Background()
	// Explicit DB connect (config no longer connects DB in init()).
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	// Ensure schema is up-to-date (creates count_daily_summaries if missing).
	models.MigrateTable()

	var businesses []string
	if strings.TrimSpace(*businessID) != "" {
		businesses = []string{strings.TrimSpace(*businessID)}
	} else {
		if err := db.WithContext(ctx).Model(&models.StockCount{}).
			Distinct("business_id").Pluck("business_id", &businesses).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to list businesses: %v\n", err)
			os.Exit(1)
		}
	}
	if len(businesses) == 0 {
		fmt.Fprintln(os.Stderr, "no businesses found to backfill")
		return
	}

	for _, bid := range businesses {
		fmt.Printf("Rebuilding count_daily_summaries business=%s\n", bid)
		if err := models.RebuildCountDailySummary(ctx, bid); err != nil {
			fmt.Fprintf(os.Stderr, "business %s rebuild failed: %v\n", bid, err)
			continue
		}
	}

	fmt.Println("Backfill complete")
}
