package rest

import (
	"github.com/gamegems/client/cache"
	"github.com/gamegems/client/config"
	mw "github.com/gamegems/client/middleware"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the REST API under /api. The auth middleware guards
// everything except login; admin routes additionally require the admin key.
func RegisterRoutes(
	r *gin.Engine,
	sec config.SecurityConfig,
	adminKeyHash string,
	c cache.Cache,
	authH *AuthHandler,
	gameH *GameHandler,
	marketH *MarketHandler,
	adminH *AdminHandler,
) {
	api := r.Group("/api")

	authG := api.Group("/auth")
	authG.POST("/login", authH.Login)
	authG.POST("/logout", mw.Auth(sec, c), authH.Logout)
	authG.POST("/refresh", mw.Auth(sec, c), authH.Refresh)

	gameG := api.Group("/game")
	gameG.Use(mw.Auth(sec, c))
	gameG.GET("/state", gameH.State)
	gameG.GET("/balance", gameH.Balance)
	gameG.GET("/history", gameH.History)
	gameG.GET("/sell-prices", gameH.SellPrices)
	gameG.POST("/click", gameH.Click)
	gameG.POST("/equip", gameH.Equip)
	gameG.POST("/unequip", gameH.Unequip)
	gameG.POST("/sell", gameH.Sell)
	gameG.POST("/wrap", gameH.Wrap)
	gameG.POST("/deposit", gameH.Deposit)
	gameG.POST("/buy-gems", gameH.BuyGems)
	gameG.POST("/nfts/refresh", gameH.RefreshNFTs)

	marketG := api.Group("/market")
	marketG.Use(mw.Auth(sec, c))
	marketG.GET("/listings", marketH.Listings)
	marketG.GET("/owned", marketH.Owned)
	marketG.POST("/list", marketH.List)
	marketG.POST("/delist", marketH.Delist)
	marketG.POST("/buy", marketH.Buy)

	adminG := api.Group("/admin")
	adminG.Use(mw.IPWhitelist(sec.AdminAllowedIPs), AdminAuth(adminKeyHash))
	adminG.GET("/metrics", adminH.Metrics)
	adminG.GET("/audit", adminH.AuditTrail)
	adminG.GET("/scheduler", adminH.ListSchedulerTasks)
	adminG.PUT("/sell-prices", adminH.SetSellPrices)
}
