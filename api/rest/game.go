package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gamegems/client/audit"
	"github.com/gamegems/client/backend"
	"github.com/gamegems/client/cache"
	"github.com/gamegems/client/chain"
	"github.com/gamegems/client/game/balance"
	"github.com/gamegems/client/game/history"
	"github.com/gamegems/client/game/item"
	"github.com/gamegems/client/game/player"
	"github.com/gamegems/client/game/reconcile"
	"github.com/gamegems/client/game/wrap"
	"github.com/gamegems/client/gerr"
	mw "github.com/gamegems/client/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// pricesBackend is the slice of the remote service the price endpoints use.
type pricesBackend interface {
	SellPrices(ctx context.Context) (backend.SellPrices, error)
	SetSellPrices(ctx context.Context, p backend.SellPrices) error
}

// GameHandler exposes the core gameplay loop over REST: state reads,
// clicking, equipment transitions, quick sells, wrapping, deposits and the
// on-chain activity feed.
type GameHandler struct {
	state    *reconcile.Service
	balance  *balance.Service
	wrapper  *wrap.Service
	history  *history.Service
	sessions *player.Manager
	prices   pricesBackend
	cache    cache.Cache
	audit    *audit.Service
	logger   *zap.Logger
}

// NewGameHandler creates a GameHandler.
func NewGameHandler(
	state *reconcile.Service,
	bal *balance.Service,
	wrapper *wrap.Service,
	hist *history.Service,
	sessions *player.Manager,
	prices pricesBackend,
	c cache.Cache,
	auditSvc *audit.Service,
	logger *zap.Logger,
) *GameHandler {
	return &GameHandler{
		state:    state,
		balance:  bal,
		wrapper:  wrapper,
		history:  hist,
		sessions: sessions,
		prices:   prices,
		cache:    c,
		audit:    auditSvc,
		logger:   logger,
	}
}

// contracts returns the contract bundle dialed at login. A missing session
// (server restart, eviction) yields an empty bundle; chain operations then
// fail validation instead of panicking.
func (h *GameHandler) contracts(account chain.Address) chain.Contracts {
	if s := h.sessions.Get(account); s != nil {
		return s.Contracts
	}
	return chain.Contracts{}
}

func (h *GameHandler) auditLog(c *gin.Context, account chain.Address, action string, req, resp any, err error, started time.Time) {
	if h.audit == nil {
		return
	}
	entry := audit.AuditEntry{
		TraceID:    mw.GetTraceID(c),
		Account:    string(account),
		Action:     action,
		Request:    req,
		Response:   resp,
		IP:         c.ClientIP(),
		DurationMs: int(time.Since(started).Milliseconds()),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	h.audit.Log(entry)
}

// State handles GET /api/game/state.
func (h *GameHandler) State(c *gin.Context) {
	account := mw.GetAccount(c)
	snap := h.state.Snapshot(account)

	resp := gin.H{
		"state":      snap,
		"local_gems": h.balance.Local(account),
	}
	if bal, err := h.balance.OnChain(c.Request.Context(), account, h.contracts(account)); err == nil {
		resp["onchain_gems"] = bal
	}
	c.JSON(http.StatusOK, resp)
}

// Click handles POST /api/game/click. One click credits the equipment's gem
// yield and rolls the drop dice.
func (h *GameHandler) Click(c *gin.Context) {
	account := mw.GetAccount(c)
	snap := h.state.Snapshot(account)

	gems := h.balance.AddLocal(c.Request.Context(), account, snap.Stats.ClickYield())
	resp := gin.H{"local_gems": gems}

	drop, err := h.state.GenerateDrop(c.Request.Context(), account)
	if err != nil {
		// The drop is lost but the click still paid out.
		h.logger.Warn("drop generation failed", zap.String("account", string(account)), zap.Error(err))
	}
	if drop != nil {
		resp["drop"] = drop
	}
	c.JSON(http.StatusOK, resp)
}

type equipRequest struct {
	Slot    string `json:"slot" binding:"required"`
	Payload string `json:"payload" binding:"required"`
}

// Equip handles POST /api/game/equip. Payload is the serialized item from
// the drag event; the stored copy is authoritative.
func (h *GameHandler) Equip(c *gin.Context) {
	started := time.Now()
	account := mw.GetAccount(c)

	var req equipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.state.Equip(c.Request.Context(), account, item.SlotType(req.Slot), req.Payload)
	h.auditLog(c, account, "equip", req, nil, err, started)
	if err != nil {
		httpError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": snap})
}

type slotRequest struct {
	Slot string `json:"slot" binding:"required"`
}

// Unequip handles POST /api/game/unequip.
func (h *GameHandler) Unequip(c *gin.Context) {
	started := time.Now()
	account := mw.GetAccount(c)

	var req slotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.state.Unequip(c.Request.Context(), account, item.SlotType(req.Slot))
	h.auditLog(c, account, "unequip", req, nil, err, started)
	if err != nil {
		httpError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": snap})
}

type itemRequest struct {
	ItemID string `json:"item_id" binding:"required"`
}

// Sell handles POST /api/game/sell. The quick-sell value lands on the local
// gem counter.
func (h *GameHandler) Sell(c *gin.Context) {
	started := time.Now()
	account := mw.GetAccount(c)

	var req itemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	value, err := h.state.Sell(c.Request.Context(), account, req.ItemID)
	h.auditLog(c, account, "sell", req, gin.H{"value": value}, err, started)
	if err != nil {
		httpError(c, err)
		return
	}
	gems := h.balance.AddLocal(c.Request.Context(), account, value)
	c.JSON(http.StatusOK, gin.H{"value": value, "local_gems": gems})
}

// Wrap handles POST /api/game/wrap: mint the item as an NFT. The response
// always carries the flow state so the client can render where a failure
// stopped.
func (h *GameHandler) Wrap(c *gin.Context) {
	started := time.Now()
	account := mw.GetAccount(c)

	var req itemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.wrapper.Wrap(c.Request.Context(), account, h.contracts(account), req.ItemID)
	h.auditLog(c, account, "wrap", req, res, err, started)
	if err != nil {
		status := http.StatusConflict
		if gerr.IsKind(err, gerr.KindValidation) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error(), "result": res})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res, "state": h.state.Snapshot(account)})
}

type depositRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

// Deposit handles POST /api/game/deposit: move local gems onto the chain.
func (h *GameHandler) Deposit(c *gin.Context) {
	started := time.Now()
	account := mw.GetAccount(c)

	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	remaining, err := h.balance.Deposit(c.Request.Context(), account, h.contracts(account), req.Amount)
	h.auditLog(c, account, "deposit", req, gin.H{"local_gems": remaining}, err, started)
	if err != nil {
		httpError(c, err)
		return
	}
	resp := gin.H{"local_gems": remaining}
	if bal, berr := h.balance.OnChain(c.Request.Context(), account, h.contracts(account)); berr == nil {
		resp["onchain_gems"] = bal
	}
	c.JSON(http.StatusOK, resp)
}

type buyGemsRequest struct {
	Count uint64 `json:"count" binding:"required"`
}

// BuyGems handles POST /api/game/buy-gems: purchase GEM with native
// currency at the contract's current price.
func (h *GameHandler) BuyGems(c *gin.Context) {
	started := time.Now()
	account := mw.GetAccount(c)

	var req buyGemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.balance.BuyGems(c.Request.Context(), account, h.contracts(account), req.Count)
	h.auditLog(c, account, "buy_gems", req, nil, err, started)
	if err != nil {
		httpError(c, err)
		return
	}
	resp := gin.H{}
	if bal, berr := h.balance.OnChain(c.Request.Context(), account, h.contracts(account)); berr == nil {
		resp["onchain_gems"] = bal
	}
	c.JSON(http.StatusOK, resp)
}

// Balance handles GET /api/game/balance.
func (h *GameHandler) Balance(c *gin.Context) {
	account := mw.GetAccount(c)
	resp := gin.H{"local_gems": h.balance.Local(account)}
	if bal, err := h.balance.OnChain(c.Request.Context(), account, h.contracts(account)); err == nil {
		resp["onchain_gems"] = bal
	}
	c.JSON(http.StatusOK, resp)
}

// RefreshNFTs handles POST /api/game/nfts/refresh: re-verify on-chain
// ownership and rebuild the NFT pool.
func (h *GameHandler) RefreshNFTs(c *gin.Context) {
	account := mw.GetAccount(c)
	snap, err := h.state.RefreshNFTs(c.Request.Context(), account, h.contracts(account))
	if err != nil {
		httpError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": snap})
}

// History handles GET /api/game/history. The freshly aggregated feed is
// cached so it can still be served when the wallet session is gone.
func (h *GameHandler) History(c *gin.Context) {
	account := mw.GetAccount(c)
	contracts := h.contracts(account)

	if contracts.Gems == nil || contracts.Market == nil {
		c.JSON(http.StatusOK, gin.H{"history": h.cachedFeed(c.Request.Context(), account), "cached": true})
		return
	}

	feed := h.history.Feed(c.Request.Context(), account, contracts)
	h.cacheFeed(c.Request.Context(), account, feed)
	c.JSON(http.StatusOK, gin.H{"history": feed})
}

// SellPrices handles GET /api/game/sell-prices. The table is cached so the
// shop panel keeps rendering through backend outages.
func (h *GameHandler) SellPrices(c *gin.Context) {
	prices, err := h.prices.SellPrices(c.Request.Context())
	if err != nil {
		if cached := h.cachedSellPrices(c.Request.Context()); len(cached) > 0 {
			c.JSON(http.StatusOK, gin.H{"prices": cached, "cached": true})
			return
		}
		httpError(c, err)
		return
	}
	for rarity, value := range prices {
		_ = h.cache.HSet(c.Request.Context(), cache.KeySellPrices, rarity, strconv.FormatInt(value, 10))
	}
	c.JSON(http.StatusOK, gin.H{"prices": prices})
}

// ---- cache helpers ----

func (h *GameHandler) cacheFeed(ctx context.Context, account chain.Address, feed []history.Entry) {
	key := cache.KeyHistory(string(account.Normalize()))
	for _, e := range feed {
		raw, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if err := h.cache.ZAdd(ctx, key, float64(e.BlockNumber), string(raw)); err != nil {
			h.logger.Debug("history cache write failed", zap.Error(err))
			return
		}
	}
}

func (h *GameHandler) cachedFeed(ctx context.Context, account chain.Address) []history.Entry {
	key := cache.KeyHistory(string(account.Normalize()))
	members, err := h.cache.ZRevRange(ctx, key, 0, -1)
	if err != nil {
		return []history.Entry{}
	}
	feed := make([]history.Entry, 0, len(members))
	for _, m := range members {
		var e history.Entry
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			continue
		}
		feed = append(feed, e)
	}
	return feed
}

func (h *GameHandler) cachedSellPrices(ctx context.Context) backend.SellPrices {
	fields, err := h.cache.HGetAll(ctx, cache.KeySellPrices)
	if err != nil {
		return nil
	}
	prices := make(backend.SellPrices, len(fields))
	for rarity, raw := range fields {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		prices[rarity] = v
	}
	return prices
}
