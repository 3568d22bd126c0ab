package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	apirest "github.com/gamegems/client/api/rest"
	"github.com/gamegems/client/api/sse"
	"github.com/gamegems/client/audit"
	"github.com/gamegems/client/backend"
	"github.com/gamegems/client/cache"
	"github.com/gamegems/client/chain"
	"github.com/gamegems/client/chain/chaintest"
	"github.com/gamegems/client/config"
	dbadapter "github.com/gamegems/client/db"
	"github.com/gamegems/client/game/balance"
	"github.com/gamegems/client/game/history"
	"github.com/gamegems/client/game/item"
	"github.com/gamegems/client/game/market"
	"github.com/gamegems/client/game/player"
	"github.com/gamegems/client/game/reconcile"
	"github.com/gamegems/client/game/wrap"
	mw "github.com/gamegems/client/middleware"
	"github.com/gamegems/client/model"
	"github.com/gamegems/client/scheduler"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// devDialer serves contracts from the in-memory fake ledger, seeding each
// account's GEM balance on first dial. Useful for local play without a
// wallet.
type devDialer struct {
	world *chaintest.World
	seed  uint64
	seen  map[chain.Address]bool
}

func (d *devDialer) Dial(ctx context.Context, account chain.Address) (chain.Contracts, error) {
	acct := account.Normalize()
	if d.seed > 0 && !d.seen[acct] {
		d.world.SetBalance(acct, d.seed)
		d.seen[acct] = true
	}
	return d.world.Dial(ctx, acct)
}

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// Warn loudly if admin endpoints will be disabled.
	if cfg.Server.AdminKeyHash == "" {
		logger.Warn("server.admin_key_hash is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized")

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(nil)

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Backend client ----
	remote := backend.New(cfg.Backend.BaseURL, cfg.Backend.Timeout)

	// ---- Chain dialer ----
	var dialer chain.Dialer
	switch cfg.Chain.Mode {
	case "dev":
		world := chaintest.NewWorld()
		dialer = &devDialer{world: world, seed: cfg.Chain.DevSeedGems, seen: make(map[chain.Address]bool)}
		logger.Info("chain running in dev mode", zap.Uint64("seed_gems", cfg.Chain.DevSeedGems))
	default:
		// Wallet mode: the browser wallet integration supplies contracts per
		// session; without one, chain features stay disabled.
		logger.Warn("no wallet dialer configured; chain features disabled")
	}

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	// ---- Game services ----
	gen := item.NewGenerator(cfg.Game.ImageBaseURL)
	sessions := player.NewManager()
	stateSvc := reconcile.NewService(db, c, pubsub, remote, gen, logger)
	balanceSvc := balance.NewService(db, c, remote, logger)
	wrapSvc := wrap.NewService(remote, stateSvc, c, logger)
	historySvc := history.NewService(logger)
	marketSvc := market.NewService(remote, logger)

	// ---- Periodic Scheduler Tasks ----
	sched.AddTicker("gem_flush", time.Duration(cfg.Game.GemFlushIntervalS)*time.Second, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		balanceSvc.FlushDirty(ctx)
	})
	if cfg.Game.HistoryRefreshIntervalS > 0 {
		sched.AddTicker("history_refresh", time.Duration(cfg.Game.HistoryRefreshIntervalS)*time.Second, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			for _, s := range sessions.All() {
				feed := historySvc.Feed(ctx, s.Account, s.Contracts)
				key := cache.KeyHistory(string(s.Account.Normalize()))
				for _, e := range feed {
					raw, err := json.Marshal(e)
					if err != nil {
						continue
					}
					if err := c.ZAdd(ctx, key, float64(e.BlockNumber), string(raw)); err != nil {
						break
					}
				}
			}
		})
	}

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(sessions, balanceSvc, stateSvc, dialer, c, cfg.Security, logger)
	gameH := apirest.NewGameHandler(stateSvc, balanceSvc, wrapSvc, historySvc, sessions, remote, c, auditSvc, logger)
	marketH := apirest.NewMarketHandler(marketSvc, stateSvc, sessions, auditSvc, logger)
	adminH := apirest.NewAdminHandler(db, sessions, remote, sched, logger)
	apirest.RegisterRoutes(r, cfg.Security, cfg.Server.AdminKeyHash, c, authH, gameH, marketH, adminH)

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, c, cfg.Security, logger)
	r.GET("/sse", sseH.ServeSSE)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
