package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/heimchen/bossboard/api/rest"
	"github.com/heimchen/bossboard/api/sse"
	apows "github.com/heimchen/bossboard/api/ws"
	"github.com/heimchen/bossboard/cache"
	"github.com/heimchen/bossboard/config"
	dbadapter "github.com/heimchen/bossboard/db"
	mw "github.com/heimchen/bossboard/middleware"
	"github.com/heimchen/bossboard/model"
	"github.com/heimchen/bossboard/scheduler"
	"github.com/heimchen/bossboard/store"
	bsync "github.com/heimchen/bossboard/sync"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// dedupeLockKey guards the periodic dedupe pass so only one process
// runs it when several servers share a Redis.
const dedupeLockKey = "dedupe_lock"

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
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
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

	st := store.New(db, logger)

	// ---- Cache / PubSub ----
	c, err := cache.NewCache(cfg.Cache)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cfg.Cache)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Sync Hub ----
	hub, err := bsync.NewHub(pubsub, c, logger)
	if err != nil {
		log.Fatalf("hub: %v", err)
	}
	defer hub.Close()

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	runDedupe := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		ok, err := c.SetNX(ctx, dedupeLockKey, "1", 5*time.Minute)
		if err != nil {
			logger.Error("dedupe lock failed", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		removed, err := st.DedupeRegistrations()
		if err != nil {
			logger.Error("registration dedupe failed", zap.Error(err))
			return
		}
		if removed > 0 {
			logger.Info("registration dedupe removed duplicates", zap.Int("removed", removed))
		}
	}
	if cfg.Sync.DedupeInterval > 0 {
		sched.Every("registration_dedupe", cfg.Sync.DedupeInterval, runDedupe)
	}
	if cfg.Sync.DedupeOnStart {
		// Migration pass for rows that predate the unique index.
		sched.Once("registration_dedupe_boot", 10*time.Second, runDedupe)
	}

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger, "/api/events", "/api/ws"), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst,
		"/api/events", "/api/ws"))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	guildH := apirest.NewGuildHandler(st)
	regH := apirest.NewRegistrationHandler(st, hub)
	mercH := apirest.NewMercenaryHandler(st, hub)
	tplH := apirest.NewTemplateHandler(st)
	eventH := apirest.NewEventHandler(hub)
	adminH := apirest.NewAdminHandler(st, hub, sched, logger)

	api := r.Group("/api")
	{
		guildsG := api.Group("/guilds")
		guildsG.GET("", guildH.List)
		guildsG.POST("", guildH.Create)
		guildsG.GET("/:id", guildH.Detail)
		guildsG.PUT("/:id", guildH.Update)
		guildsG.DELETE("/:id", guildH.Delete)

		regsG := api.Group("/registrations")
		regsG.GET("", regH.List)
		regsG.POST("", regH.Upsert)
		regsG.GET("/version", regH.Version)
		regsG.PUT("/:id", regH.SetQuota)
		regsG.PUT("/:id/quota", regH.CASQuota)
		regsG.GET("/:id/mercenaries", mercH.ListByRegistration)
		regsG.POST("/:id/mercenaries", mercH.Add)

		api.GET("/mercenaries", mercH.ListByDate)
		api.DELETE("/mercenaries/:id", mercH.Remove)

		tplsG := api.Group("/message-templates")
		tplsG.GET("", tplH.List)
		tplsG.POST("", tplH.Create)
		tplsG.PUT("", tplH.Update)
		tplsG.DELETE("", tplH.Delete)
		tplsG.POST("/render", tplH.Render)

		api.POST("/events/broadcast", eventH.Broadcast)

		adminG := api.Group("/admin")
		adminG.Use(mw.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/scheduler", adminH.Scheduler)
		adminG.POST("/dedupe", adminH.Dedupe)
	}

	// ---- Live channels ----
	sseH := sse.NewHandler(st, hub, cfg.Sync.PingInterval, cfg.Sync.SinkBuffer, logger)
	r.GET("/api/events", sseH.ServeSSE)

	wsH := apows.NewHandler(st, hub, cfg.Security, cfg.Sync.PingInterval, cfg.Sync.SinkBuffer, logger)
	r.GET("/api/ws", wsH.ServeWS)

	// ---- Dashboard static files ----
	if cfg.Server.StaticDir != "" {
		r.Static("/assets", cfg.Server.StaticDir+"/assets")
		r.StaticFile("/", cfg.Server.StaticDir+"/index.html")
		r.NoRoute(func(ctx *gin.Context) {
			path := cfg.Server.StaticDir + ctx.Request.URL.Path
			if _, err := os.Stat(path); err == nil {
				ctx.File(path)
				return
			}
			ctx.JSON(404, gin.H{"error": "not found"})
		})
		logger.Info("Serving dashboard files", zap.String("dir", cfg.Server.StaticDir))
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
