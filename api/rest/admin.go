package rest

import (
	"net/http"
	"strconv"

	"github.com/gamegems/client/backend"
	"github.com/gamegems/client/game/player"
	"github.com/gamegems/client/model"
	"github.com/gamegems/client/scheduler"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db       *gorm.DB
	sessions *player.Manager
	prices   pricesBackend
	sched    *scheduler.Scheduler
	logger   *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	db *gorm.DB,
	sessions *player.Manager,
	prices pricesBackend,
	sched *scheduler.Scheduler,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{db: db, sessions: sessions, prices: prices, sched: sched, logger: logger}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"online_sessions": h.sessions.Count(),
		"scheduler_tasks": h.sched.ListTickers(),
	})
}

type sellPricesRequest struct {
	Prices map[string]int64 `json:"prices" binding:"required"`
}

// SetSellPrices replaces the shared quick-sell price table on the backend.
// PUT /api/admin/sell-prices
func (h *AdminHandler) SetSellPrices(c *gin.Context) {
	var req sellPricesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for rarity, value := range req.Prices {
		if value <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "price for " + rarity + " must be positive"})
			return
		}
	}
	if err := h.prices.SetSellPrices(c.Request.Context(), backend.SellPrices(req.Prices)); err != nil {
		httpError(c, err)
		return
	}
	h.logger.Info("sell prices updated", zap.Int("rarities", len(req.Prices)))
	c.JSON(http.StatusOK, gin.H{"prices": req.Prices})
}

// AuditTrail returns the most recent audit log rows, newest first.
// GET /api/admin/audit?account=0x..&limit=100
func (h *AdminHandler) AuditTrail(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	q := h.db.Order("id DESC").Limit(limit)
	if account := c.Query("account"); account != "" {
		q = q.Where("account = ?", account)
	}
	var rows []model.AuditLog
	if err := q.Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": rows, "count": len(rows)})
}

// ListSchedulerTasks returns names of all registered ticker tasks.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.ListTickers()})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header against
// a bcrypt hash of the key. WARNING: if the hash is empty all admin
// endpoints are disabled (503) so the server cannot be accidentally
// deployed without protection. Set a non-empty server.admin_key_hash in
// config to enable admin routes.
func AdminAuth(adminKeyHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKeyHash == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key_hash in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if bcrypt.CompareHashAndPassword([]byte(adminKeyHash), []byte(key)) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
