package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/stockcount_backend/config"
	"github.com/mmdatafocus/stockcount_backend/models"
	"github.com/mmdatafocus/stockcount_backend/utils"
	"github.com/shopspring/decimal"
)

func TestStockCountUpsertAgainstMySQL(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "stockcount_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	businessID := "wh-test"
	ctx = utils.SetBusinessIdInContext(ctx, businessID)
	ctx = utils.SetUsernameInContext(ctx, "alice")

	// Seed the reference catalog.
	if _, err := models.UpsertCatalogItem(ctx, &models.NewCatalogItem{
		Location:    "A1",
		ItemId:      "SKU-1",
		ExpectedQty: decimal.NewFromInt(5),
		Attributes:  map[string]string{"Brand": "Acme"},
	}); err != nil {
		t.Fatalf("UpsertCatalogItem: %v", err)
	}

	engine := models.DefaultCountEngine()

	// First count: clean shelf.
	row, err := engine.RecordCount(ctx, &models.NewStockCount{
		Location:   "A1",
		ItemId:     "SKU-1",
		CountedQty: decimal.NewFromInt(5),
		Mode:       models.CountModeAbsolute,
	})
	if err != nil {
		t.Fatalf("RecordCount(first): %v", err)
	}
	if row.Status != models.CountStatusOK {
		t.Fatalf("expected OK; got %q", row.Status)
	}
	if row.Attributes["Brand"] != "Acme" {
		t.Fatalf("expected catalog attributes on the count row; got %+v", row.Attributes)
	}

	// Recount by another actor revises the same row in place.
	bobCtx := utils.SetBusinessIdInContext(context.Background(), businessID)
	bobCtx = utils.SetUsernameInContext(bobCtx, "bob")
	if _, err := engine.RecordCount(bobCtx, &models.NewStockCount{
		Location:   "A1",
		ItemId:     "SKU-1",
		CountedQty: decimal.NewFromInt(3),
		Mode:       models.CountModeAbsolute,
	}); err != nil {
		t.Fatalf("RecordCount(recount): %v", err)
	}

	db := config.GetDB()
	var count int64
	if err := db.WithContext(ctx).Model(&models.StockCount{}).
		Where("business_id = ? AND location = ? AND item_id = ?", businessID, "A1", "SKU-1").
		Count(&count).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("unique key must keep one row per (location,item); got %d", count)
	}

	var stored models.StockCount
	if err := db.WithContext(ctx).
		Where("business_id = ? AND location = ? AND item_id = ? AND is_misplaced = ?", businessID, "A1", "SKU-1", false).
		First(&stored).Error; err != nil {
		t.Fatalf("fetch stored row: %v", err)
	}
	if stored.Status != models.CountStatusShort || stored.RecordedBy != "bob" {
		t.Fatalf("expected Short recorded by bob; got %q by %q", stored.Status, stored.RecordedBy)
	}
	if stored.Version != 2 {
		t.Fatalf("expected version 2 after recount; got %d", stored.Version)
	}

	// Misplaced scans live in their own key space next to the counted row.
	if _, err := engine.RecordMisplaced(ctx, "A1", "SKU-1"); err != nil {
		t.Fatalf("RecordMisplaced: %v", err)
	}
	if err := db.WithContext(ctx).Model(&models.StockCount{}).
		Where("business_id = ? AND location = ? AND item_id = ?", businessID, "A1", "SKU-1").
		Count(&count).Error; err != nil {
		t.Fatalf("count rows after misplaced: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected counted + misplaced rows; got %d", count)
	}

	// Cache invalidation: the summary must see the fresh misplaced row.
	summary, err := engine.Summarize(ctx, nil)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.StatusCounts[models.CountStatusShort] != 1 || summary.StatusCounts[models.CountStatusMisplaced] != 1 {
		t.Fatalf("unexpected status counts: %+v", summary.StatusCounts)
	}

	// The daily aggregate is maintained inside the upsert transaction;
	// it must be fresh without any manual rebuild.
	today := time.Now().UTC()
	daily, err := models.GetCountDailySummary(ctx, today.AddDate(0, 0, -1), today.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("GetCountDailySummary: %v", err)
	}
	total := 0
	for _, d := range daily {
		total += d.Total
	}
	if total != 2 {
		t.Fatalf("expected synchronously maintained daily total 2; got %d (%+v)", total, daily)
	}

	// A full rebuild must land on the same numbers.
	if err := models.RebuildCountDailySummary(ctx, businessID); err != nil {
		t.Fatalf("RebuildCountDailySummary: %v", err)
	}
	daily, err = models.GetCountDailySummary(ctx, today.AddDate(0, 0, -1), today.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("GetCountDailySummary(after rebuild): %v", err)
	}
	total = 0
	for _, d := range daily {
		total += d.Total
	}
	if total != 2 {
		t.Fatalf("rebuild diverged from synchronous aggregate; got %d (%+v)", total, daily)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("stockcount-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("stockcount-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=stockcount_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
