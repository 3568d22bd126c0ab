package rest

import (
	"net/http"
	"time"

	"github.com/gamegems/client/audit"
	"github.com/gamegems/client/chain"
	"github.com/gamegems/client/game/market"
	"github.com/gamegems/client/game/player"
	"github.com/gamegems/client/game/reconcile"
	mw "github.com/gamegems/client/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MarketHandler exposes the NFT marketplace over REST.
type MarketHandler struct {
	market   *market.Service
	state    *reconcile.Service
	sessions *player.Manager
	audit    *audit.Service
	logger   *zap.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(
	m *market.Service,
	state *reconcile.Service,
	sessions *player.Manager,
	auditSvc *audit.Service,
	logger *zap.Logger,
) *MarketHandler {
	return &MarketHandler{market: m, state: state, sessions: sessions, audit: auditSvc, logger: logger}
}

func (h *MarketHandler) contracts(account chain.Address) chain.Contracts {
	if s := h.sessions.Get(account); s != nil {
		return s.Contracts
	}
	return chain.Contracts{}
}

func (h *MarketHandler) auditLog(c *gin.Context, account chain.Address, action string, req any, err error, started time.Time) {
	if h.audit == nil {
		return
	}
	entry := audit.AuditEntry{
		TraceID:    mw.GetTraceID(c),
		Account:    string(account),
		Action:     action,
		Request:    req,
		IP:         c.ClientIP(),
		DurationMs: int(time.Since(started).Milliseconds()),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	h.audit.Log(entry)
}

// Listings handles GET /api/market/listings.
func (h *MarketHandler) Listings(c *gin.Context) {
	account := mw.GetAccount(c)
	views, err := h.market.Listings(c.Request.Context(), account, h.contracts(account))
	if err != nil {
		httpError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": views})
}

// Owned handles GET /api/market/owned. Token ids come from the reconciled
// NFT pool; ownership is re-verified on chain before anything renders.
func (h *MarketHandler) Owned(c *gin.Context) {
	account := mw.GetAccount(c)
	snap := h.state.Snapshot(account)
	tokenIDs := make([]uint64, 0, len(snap.NFTs))
	for _, rec := range snap.NFTs {
		tokenIDs = append(tokenIDs, rec.TokenID)
	}

	views, err := h.market.Owned(c.Request.Context(), account, h.contracts(account), tokenIDs)
	if err != nil {
		httpError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owned": views})
}

type listRequest struct {
	TokenID uint64 `json:"token_id" binding:"required"`
	Price   uint64 `json:"price" binding:"required"`
}

// List handles POST /api/market/list.
func (h *MarketHandler) List(c *gin.Context) {
	started := time.Now()
	account := mw.GetAccount(c)

	var req listRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.market.List(c.Request.Context(), account, h.contracts(account), req.TokenID, req.Price)
	h.auditLog(c, account, "market_list", req, err, started)
	if err != nil {
		httpError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token_id": req.TokenID, "price": req.Price})
}

type tokenRequest struct {
	TokenID uint64 `json:"token_id" binding:"required"`
}

// Delist handles POST /api/market/delist.
func (h *MarketHandler) Delist(c *gin.Context) {
	started := time.Now()
	account := mw.GetAccount(c)

	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.market.Delist(c.Request.Context(), h.contracts(account), req.TokenID)
	h.auditLog(c, account, "market_delist", req, err, started)
	if err != nil {
		httpError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token_id": req.TokenID})
}

// Buy handles POST /api/market/buy. After a successful purchase the NFT
// pool is refreshed so the bought token shows up without a reload.
func (h *MarketHandler) Buy(c *gin.Context) {
	started := time.Now()
	account := mw.GetAccount(c)

	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.market.Buy(c.Request.Context(), account, h.contracts(account), req.TokenID)
	h.auditLog(c, account, "market_buy", req, err, started)
	if err != nil {
		httpError(c, err)
		return
	}

	snap, rerr := h.state.RefreshNFTs(c.Request.Context(), account, h.contracts(account))
	if rerr != nil {
		h.logger.Warn("post-purchase refresh failed", zap.String("account", string(account)), zap.Error(rerr))
		c.JSON(http.StatusOK, gin.H{"token_id": req.TokenID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token_id": req.TokenID, "state": snap})
}
