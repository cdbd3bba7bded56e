package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"account-service/internal/models"
	"account-service/internal/service"
	"account-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// InventoryManager is the inventory surface exposed over HTTP
type InventoryManager interface {
	CreateAccount(ctx context.Context, in service.CreateAccountInput) (*service.CreateAccountResult, error)
	Duplicate(ctx context.Context, accountID int64, count int) (*service.DuplicateResult, error)
	UpdateCredentials(ctx context.Context, in service.UpdateCredentialsInput) error
	DeleteAccount(ctx context.Context, accountID int64) (*service.DeleteResult, error)
	GroupStats(ctx context.Context, groupID string) (*models.GroupStats, error)
	GetAccount(ctx context.Context, accountID int64) (*models.Account, error)
	ListAccounts(ctx context.Context, productID int64, status string, limit, offset int) ([]models.Account, error)
	ImportCSV(ctx context.Context, productID int64, r io.Reader) (*models.ImportReport, error)
	CreateProduct(ctx context.Context, name string, price int64) (*models.Product, error)
	GetProductStock(ctx context.Context, productID int64) (int, error)
	ReconcileStock(ctx context.Context, productID int64) (*service.ReconcileResult, error)
	Reserve(ctx context.Context, orderID, productID int64, quantity int) (*service.ReservationResult, error)
	Release(ctx context.Context, orderID int64, reason string) (*service.ReservationResult, error)
	Sell(ctx context.Context, orderID int64) (*service.ReservationResult, error)
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures route protection
type Options struct {
	JWTSecret       string
	RateLimitPerSec float64
	RateLimitBurst  int
	// RateLimitIdleTTL evicts per-IP buckets unused for this long; zero disables eviction
	RateLimitIdleTTL time.Duration
}

// Handler contains HTTP handlers
type Handler struct {
	inventory InventoryManager
	deps      map[string]Pinger
	opts      Options
	limiter   *IPRateLimiter
}

// NewHandler creates a new HTTP handler
func NewHandler(inventory InventoryManager, deps map[string]Pinger, opts Options) *Handler {
	return &Handler{
		inventory: inventory,
		deps:      deps,
		opts:      opts,
		limiter:   NewIPRateLimiter(opts.RateLimitPerSec, opts.RateLimitBurst, opts.RateLimitIdleTTL),
	}
}

// Close stops background work owned by the handler
func (h *Handler) Close() {
	h.limiter.Stop()
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/products/:id", h.getProduct)
	}

	admin := v1.Group("/admin")
	admin.Use(h.limiter.Middleware())
	admin.Use(RequireRole(h.opts.JWTSecret, RoleAdmin))
	{
		admin.POST("/accounts", h.createAccount)
		admin.GET("/accounts/:id", h.getAccount)
		admin.PUT("/accounts/:id", h.updateCredentials)
		admin.DELETE("/accounts/:id", h.deleteAccount)
		admin.POST("/accounts/:id/duplicate", h.duplicateAccount)
		admin.GET("/groups/:groupId/stats", h.groupStats)

		admin.POST("/products", h.createProduct)
		admin.GET("/products/:id/accounts", h.listAccounts)
		admin.POST("/products/:id/accounts/import", h.importAccounts)
		admin.POST("/products/:id/stock/reconcile", h.reconcileStock)
	}

	reservations := v1.Group("/reservations")
	reservations.Use(RequireRole(h.opts.JWTSecret, RoleAdmin, RoleCheckout))
	{
		reservations.POST("", h.reserve)
		reservations.POST("/:orderId/release", h.release)
		reservations.POST("/:orderId/sell", h.sell)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"failing": failing,
			"time":    time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type createAccountRequest struct {
	ProductID      int64  `json:"productId" binding:"required"`
	Identifier     string `json:"identifier" binding:"required"`
	Secret         string `json:"secret" binding:"required"`
	Duplicate      bool   `json:"duplicate"`
	DuplicateCount int    `json:"duplicateCount"`
}

// createAccount handles account creation
func (h *Handler) createAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	count := 1
	if req.Duplicate || req.DuplicateCount > 1 {
		count = req.DuplicateCount
	}

	res, err := h.inventory.CreateAccount(c.Request.Context(), service.CreateAccountInput{
		ProductID:      req.ProductID,
		Identifier:     req.Identifier,
		Secret:         req.Secret,
		DuplicateCount: count,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, res)
}

// getAccount handles get account by ID
func (h *Handler) getAccount(c *gin.Context) {
	accountID, ok := pathID(c, "id")
	if !ok {
		return
	}

	account, err := h.inventory.GetAccount(c.Request.Context(), accountID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, account)
}

type duplicateRequest struct {
	Count int `json:"count"`
}

// duplicateAccount expands an account into a duplicate group
func (h *Handler) duplicateAccount(c *gin.Context) {
	accountID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req duplicateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.inventory.Duplicate(c.Request.Context(), accountID, req.Count)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, res)
}

type updateCredentialsRequest struct {
	ProductID  int64  `json:"productId"`
	Identifier string `json:"identifier" binding:"required"`
	Secret     string `json:"secret" binding:"required"`
}

// updateCredentials rewrites an account's credentials
func (h *Handler) updateCredentials(c *gin.Context) {
	accountID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req updateCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	err := h.inventory.UpdateCredentials(c.Request.Context(), service.UpdateCredentialsInput{
		AccountID:  accountID,
		ProductID:  req.ProductID,
		Identifier: req.Identifier,
		Secret:     req.Secret,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "credentials updated"})
}

// deleteAccount removes an account or a whole group
func (h *Handler) deleteAccount(c *gin.Context) {
	accountID, ok := pathID(c, "id")
	if !ok {
		return
	}

	res, err := h.inventory.DeleteAccount(c.Request.Context(), accountID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// groupStats reports a duplicate group
func (h *Handler) groupStats(c *gin.Context) {
	stats, err := h.inventory.GroupStats(c.Request.Context(), c.Param("groupId"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

type createProductRequest struct {
	Name  string `json:"name" binding:"required"`
	Price int64  `json:"price"`
}

// createProduct adds a catalog entry
func (h *Handler) createProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	product, err := h.inventory.CreateProduct(c.Request.Context(), req.Name, req.Price)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, product)
}

// getProduct serves a product's stock
func (h *Handler) getProduct(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}

	stock, err := h.inventory.GetProductStock(c.Request.Context(), productID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"productId": productID,
		"stock":     stock,
	})
}

// listAccounts pages through a product's accounts
func (h *Handler) listAccounts(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	accounts, err := h.inventory.ListAccounts(c.Request.Context(), productID, c.Query("status"), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accounts": accounts,
		"limit":    limit,
		"offset":   offset,
	})
}

// importAccounts bulk-creates accounts from an uploaded CSV file
func (h *Handler) importAccounts(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   string(models.KindValidation),
			"message": "multipart field \"file\" is required",
		})
		return
	}

	file, err := header.Open()
	if err != nil {
		badRequest(c, err)
		return
	}
	defer file.Close()

	report, err := h.inventory.ImportCSV(c.Request.Context(), productID, file)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// reconcileStock recomputes a product's stock
func (h *Handler) reconcileStock(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}

	res, err := h.inventory.ReconcileStock(c.Request.Context(), productID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

type reserveRequest struct {
	OrderID   int64 `json:"orderId" binding:"required"`
	ProductID int64 `json:"productId" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required"`
}

// reserve holds accounts for an order
func (h *Handler) reserve(c *gin.Context) {
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.inventory.Reserve(c.Request.Context(), req.OrderID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, res)
}

// release returns an order's accounts to available
func (h *Handler) release(c *gin.Context) {
	orderID, ok := pathID(c, "orderId")
	if !ok {
		return
	}

	res, err := h.inventory.Release(c.Request.Context(), orderID, service.ReleaseReasonManual)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// sell marks an order's accounts sold
func (h *Handler) sell(c *gin.Context) {
	orderID, ok := pathID(c, "orderId")
	if !ok {
		return
	}

	res, err := h.inventory.Sell(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   string(models.KindValidation),
			"message": "invalid " + name,
		})
		return 0, false
	}
	return id, true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   string(models.KindValidation),
		"message": err.Error(),
	})
}

// statusFor maps an inventory error onto an HTTP status
func statusFor(err error) int {
	switch models.KindOf(err) {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindConflict:
		switch models.CodeOf(err) {
		case models.CodeAccountUnavailable:
			return http.StatusNotFound
		case models.CodeAccountIsDuplicate:
			return http.StatusBadRequest
		}
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)

	message := "internal error"
	var ie *models.InventoryError
	if errors.As(err, &ie) && ie.Kind != models.KindStorage {
		message = ie.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
		message = "request timed out"
	}

	body := gin.H{
		"error":   string(models.KindOf(err)),
		"message": message,
	}
	if code := models.CodeOf(err); code != "" {
		body["code"] = code
	}
	c.JSON(status, body)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
