// catalog-import bulk-loads the expected-stock reference sheet for one
// business from an XLSX workbook. First sheet, header row
// Location | ItemId | ExpectedQty; extra columns become attributes.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	  go run ./cmd/catalog-import -business-id=wh-main -file=catalog.xlsx
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/stockcount_backend/config"
	"github.com/mmdatafocus/stockcount_backend/models"
	"github.com/mmdatafocus/stockcount_backend/utils"
)

func main() {
	businessID := flag.String("business-id", "", "Business the catalog belongs to (required)")
	file := flag.String("file", "", "Path to the XLSX workbook (required)")
	flag.Parse()

	if *businessID == "" || *file == "" {
		fmt.Fprintln(os.Stderr, "-business-id and -file are required")
		os.Exit(2)
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	models.MigrateTable()

	f, err := os.Open(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open %s: %v\n", *file, err)
		os.Exit(1)
	}
	defer f.Close()

	ctx := utils.SetBusinessIdInContext(context.Background(), *businessID)
	imported, err := models.ImportCatalogXLSX(ctx, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "import stopped after %d rows: %v\n", imported, err)
		os.Exit(1)
	}
	fmt.Printf("Imported %d catalog rows for business=%q\n", imported, *businessID)
}
