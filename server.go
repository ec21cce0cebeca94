package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/stockcount_backend/config"
	"github.com/mmdatafocus/stockcount_backend/middlewares"
	"github.com/mmdatafocus/stockcount_backend/models"
	"github.com/mmdatafocus/stockcount_backend/models/reports"
	"github.com/mmdatafocus/stockcount_backend/utils"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("stockcount-backend")

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

// statusFromError maps engine/store failures onto HTTP codes.
// Catalog misses are NOT errors: they surface as Mismatch rows.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, utils.ErrorInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, utils.ErrorVersionConflict):
		return http.StatusConflict
	case errors.Is(err, utils.ErrorStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func requireSession(c *gin.Context) bool {
	if _, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return false
	}
	return true
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		info, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := models.Logout(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": ok})
	}
}

// registerHandler creates a counter/admin login. Admin session required.
func registerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		if isAdmin, _ := utils.GetIsAdminFromContext(c.Request.Context()); !isAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		var input models.NewUser
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if input.BusinessId == "" {
			businessId, _ := utils.GetBusinessIdFromContext(c.Request.Context())
			input.BusinessId = businessId
		}
		user, err := models.CreateUser(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, user)
	}
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

func changePasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var req changePasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		user, err := models.ChangePassword(c.Request.Context(), req.OldPassword, req.NewPassword)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

func recordCountHandler(engine *models.CountEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var input models.NewStockCount
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		// key normalization happens at the edge, once
		input.Location = utils.NormalizeKey(input.Location)
		input.ItemId = utils.NormalizeKey(input.ItemId)
		if input.Location == "" {
			if loc, ok := utils.GetCurrentLocationFromContext(c.Request.Context()); ok {
				input.Location = loc
			}
		}

		ctx, span := tracer.Start(c.Request.Context(), "RecordCount")
		record, err := engine.RecordCount(ctx, &input)
		span.End()
		if err != nil {
			c.JSON(statusFromError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

type misplacedRequest struct {
	Location string `json:"location" binding:"required"`
	ItemId   string `json:"item_id" binding:"required"`
}

func recordMisplacedHandler(engine *models.CountEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var req misplacedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "RecordMisplaced")
		record, err := engine.RecordMisplaced(ctx, utils.NormalizeKey(req.Location), utils.NormalizeKey(req.ItemId))
		span.End()
		if err != nil {
			c.JSON(statusFromError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func listCountsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		counts, err := models.ListStockCounts(c.Request.Context())
		if err != nil {
			c.JSON(statusFromError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, counts)
	}
}

func getCountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		count, err := models.GetStockCount(c.Request.Context(), id)
		if err != nil {
			c.JSON(statusFromError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, count)
	}
}

// deleteCountHandler removes a bad scan. Admin only.
func deleteCountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		if isAdmin, _ := utils.GetIsAdminFromContext(c.Request.Context()); !isAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		if err := models.DeleteStockCount(c.Request.Context(), id); err != nil {
			c.JSON(statusFromError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": id})
	}
}

func summaryFilterFromQuery(c *gin.Context) (*models.CountSummaryFilter, error) {
	filter := &models.CountSummaryFilter{}
	if by := strings.TrimSpace(c.Query("recorded_by")); by != "" {
		filter.RecordedBy = &by
	}
	if d := strings.TrimSpace(c.Query("date")); d != "" {
		day, err := time.Parse("2006-01-02", d)
		if err != nil {
			return nil, fmt.Errorf("date must be YYYY-MM-DD")
		}
		filter.Date = &day
	}
	return filter, nil
}

func summaryHandler(engine *models.CountEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		filter, err := summaryFilterFromQuery(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		summary, err := engine.Summarize(c.Request.Context(), filter)
		if err != nil {
			c.JSON(statusFromError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func summaryExportHandler(engine *models.CountEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		filter, err := summaryFilterFromQuery(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		summary, err := engine.Summarize(c.Request.Context(), filter)
		if err != nil {
			c.JSON(statusFromError(err), gin.H{"error": err.Error()})
			return
		}
		upload := strings.EqualFold(c.Query("upload"), "true")
		if err := reports.WriteDiscrepancyExcel(c.Request.Context(), c.Writer, summary, upload); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
}

func dailySummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		from, err := time.Parse("2006-01-02", c.DefaultQuery("from", time.Now().UTC().AddDate(0, 0, -7).Format("2006-01-02")))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be YYYY-MM-DD"})
			return
		}
		to, err := time.Parse("2006-01-02", c.DefaultQuery("to", time.Now().UTC().Format("2006-01-02")))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be YYYY-MM-DD"})
			return
		}
		rows, err := models.GetCountDailySummary(c.Request.Context(), from, to)
		if err != nil {
			c.JSON(statusFromError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

func listCatalogHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var location *string
		if loc := utils.NormalizeKey(c.Query("location")); loc != "" {
			location = &loc
		}
		items, err := models.ListCatalogItems(c.Request.Context(), location)
		if err != nil {
			c.JSON(statusFromError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, items)
	}
}

func upsertCatalogHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		if isAdmin, _ := utils.GetIsAdminFromContext(c.Request.Context()); !isAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		var input models.NewCatalogItem
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		input.Location = utils.NormalizeKey(input.Location)
		input.ItemId = utils.NormalizeKey(input.ItemId)
		item, err := models.UpsertCatalogItem(c.Request.Context(), &input)
		if err != nil {
			c.JSON(statusFromError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

// catalogImportHandler bulk-loads the reference sheet. JWT-gated
// (AuthMiddleware) and addressed to an explicit business_id, so ops can
// load catalogs for any tenant.
func catalogImportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId := strings.TrimSpace(c.PostForm("business_id"))
		if businessId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "business_id is required"})
			return
		}
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		defer file.Close()

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		imported, err := models.ImportCatalogXLSX(ctx, file)
		if err != nil {
			config.LogError(config.GetLogger(), "server.go", "catalogImportHandler", "ImportCatalogXLSX", businessId, err)
			c.JSON(statusFromError(err), gin.H{"error": err.Error(), "imported": imported})
			return
		}
		c.JSON(http.StatusOK, gin.H{"imported": imported, "business_id": businessId})
	}
}

type rebuildSummaryRequest struct {
	BusinessId string `json:"business_id" binding:"required"`
}

func rebuildDailySummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req rebuildSummaryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := models.RebuildCountDailySummary(c.Request.Context(), req.BusinessId); err != nil {
			c.JSON(statusFromError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"business_id": req.BusinessId, "rebuilt": true})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-current-location")
	corsConfig.AddExposeHeaders("Content-Length", "X-Report-Url")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	engine := models.DefaultCountEngine()

	r.POST("/auth/login", loginHandler())
	r.POST("/auth/logout", logoutHandler())
	r.POST("/auth/register", registerHandler())
	r.POST("/auth/change-password", changePasswordHandler())

	api := r.Group("/api")
	api.POST("/counts", recordCountHandler(engine))
	api.POST("/counts/misplaced", recordMisplacedHandler(engine))
	api.GET("/counts", listCountsHandler())
	api.GET("/counts/:id", getCountHandler())
	api.DELETE("/counts/:id", deleteCountHandler())
	api.GET("/summary", summaryHandler(engine))
	api.GET("/summary/export", summaryExportHandler(engine))
	api.GET("/summary/daily", dailySummaryHandler())
	api.GET("/catalog", listCatalogHandler())
	api.POST("/catalog", upsertCatalogHandler())

	// Ops tooling behind the admin JWT.
	internal := r.Group("/internal", middlewares.AuthMiddleware())
	internal.POST("/catalog/import", catalogImportHandler())
	internal.POST("/summary/rebuild", rebuildDailySummaryHandler())

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("stock count API listening on http://localhost:", port)

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP() // Assuming IP-based rate limiting

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
