// seed-admin creates or updates the admin console user for one business.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	  go run ./cmd/seed-admin -business-id=wh-main -username=countAdmin -password=...
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/stockcount_backend/config"
	"github.com/mmdatafocus/stockcount_backend/models"
	"github.com/mmdatafocus/stockcount_backend/utils"
	"gorm.io/gorm"
)

func main() {
	businessID := flag.String("business-id", "", "Business the admin belongs to (required)")
	username := flag.String("username", "countAdmin", "Admin username")
	password := flag.String("password", "", "Admin password (required)")
	name := flag.String("name", "Stock Count Admin", "Display name")
	flag.Parse()

	if *businessID == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "-business-id and -password are required")
		os.Exit(2)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	hashed, err := utils.HashPassword(*password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	hashedStr := string(hashed)

	var existing models.User
	err = db.WithContext(ctx).Model(&models.User{}).Where("username = ?", *username).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		// Create new admin user
		u := models.User{
			Username:   *username,
			Name:       *name,
			Password:   hashedStr,
			IsActive:   utils.NewTrue(),
			Role:       models.UserRoleAdmin,
			BusinessId: *businessID,
		}
		if err := db.WithContext(ctx).Create(&u).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user: username=%q business=%q\n", *username, *businessID)
		return
	}

	// Update existing user: ensure password and admin role
	if err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", *username).Updates(map[string]any{
		"password":    hashedStr,
		"name":        *name,
		"is_active":   utils.NewTrue(),
		"business_id": *businessID,
		"role":        models.UserRoleAdmin,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	_ = existing.RemoveInstanceRedis()
	fmt.Printf("Updated admin user: username=%q business=%q\n", *username, *businessID)
}
