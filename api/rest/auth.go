package rest

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gamegems/client/cache"
	"github.com/gamegems/client/chain"
	"github.com/gamegems/client/config"
	"github.com/gamegems/client/game/balance"
	"github.com/gamegems/client/game/player"
	"github.com/gamegems/client/game/reconcile"
	mw "github.com/gamegems/client/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthHandler handles wallet login and session lifecycle.
type AuthHandler struct {
	sessions *player.Manager
	balance  *balance.Service
	state    *reconcile.Service
	dialer   chain.Dialer
	cache    cache.Cache
	sec      config.SecurityConfig
	logger   *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(
	sessions *player.Manager,
	bal *balance.Service,
	state *reconcile.Service,
	dialer chain.Dialer,
	c cache.Cache,
	sec config.SecurityConfig,
	logger *zap.Logger,
) *AuthHandler {
	return &AuthHandler{
		sessions: sessions,
		balance:  bal,
		state:    state,
		dialer:   dialer,
		cache:    c,
		sec:      sec,
		logger:   logger,
	}
}

type loginRequest struct {
	Address  string `json:"address" binding:"required,min=4,max=64"`
	Nickname string `json:"nickname" binding:"max=32"`
}

// Login handles POST /api/auth/login.
// The wallet address is the identity; a backend profile is created on first
// login. Contract dialing is best effort: when the wallet integration is
// unreachable the session still opens and chain features stay disabled.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !strings.HasPrefix(strings.ToLower(req.Address), "0x") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address must be a 0x wallet address"})
		return
	}
	account := chain.Address(req.Address).Normalize()

	var contracts chain.Contracts
	if h.dialer != nil {
		var err error
		contracts, err = h.dialer.Dial(c.Request.Context(), account)
		if err != nil {
			h.logger.Warn("contract dial failed, chain features disabled",
				zap.String("account", string(account)), zap.Error(err))
			contracts = chain.Contracts{}
		}
	}

	gems, err := h.balance.Load(c.Request.Context(), account, req.Nickname)
	if err != nil {
		httpError(c, err)
		return
	}
	snap, err := h.state.Load(c.Request.Context(), account, contracts)
	if err != nil {
		httpError(c, err)
		return
	}

	h.sessions.Put(&player.Session{
		Account:   account,
		Nickname:  req.Nickname,
		Contracts: contracts,
		CreatedAt: time.Now(),
	})

	token, err := mw.GenerateToken(string(account), h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}

	// Store session in cache as a simple KV entry so Exists() works uniformly.
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Set(ctx, "session:"+token, string(account), h.sec.JWTTTLH)

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"account":    account,
		"local_gems": gems,
		"state":      snap,
		"chain":      contracts.Ready(),
	})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	header := c.GetHeader("Authorization")
	tokenStr := strings.TrimPrefix(header, "Bearer ")
	if tokenStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, "session:"+tokenStr)
	if account := mw.GetAccount(c); account != "" {
		h.sessions.Remove(account)
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	account := mw.GetAccount(c)
	if account == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	// Invalidate old token
	header := c.GetHeader("Authorization")
	oldToken := strings.TrimPrefix(header, "Bearer ")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, "session:"+oldToken)

	// Issue new token
	newToken, err := mw.GenerateToken(string(account), h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	_ = h.cache.Set(ctx, "session:"+newToken, string(account), h.sec.JWTTTLH)

	c.JSON(http.StatusOK, gin.H{"token": newToken})
}
