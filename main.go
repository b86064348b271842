package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/sumire-games/nightdistrict/server/api/rest"
	"github.com/sumire-games/nightdistrict/server/api/sse"
	apows "github.com/sumire-games/nightdistrict/server/api/ws"
	"github.com/sumire-games/nightdistrict/server/audit"
	"github.com/sumire-games/nightdistrict/server/cache"
	"github.com/sumire-games/nightdistrict/server/config"
	dbadapter "github.com/sumire-games/nightdistrict/server/db"
	"github.com/sumire-games/nightdistrict/server/game/ai"
	"github.com/sumire-games/nightdistrict/server/game/player"
	"github.com/sumire-games/nightdistrict/server/game/world"
	mw "github.com/sumire-games/nightdistrict/server/middleware"
	"github.com/sumire-games/nightdistrict/server/model"
	"github.com/sumire-games/nightdistrict/server/resource"
	"github.com/sumire-games/nightdistrict/server/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm/clause"
)

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

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

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

	// ---- District Loader ----
	loader := resource.NewLoader(cfg.District.DataPath, logger)
	if err := loader.Load(); err != nil {
		logger.Warn("district load warning", zap.Error(err))
	} else {
		logger.Info("districts loaded", zap.Int("count", len(loader.Districts)))
	}

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	// ---- Game Systems ----
	sm := player.NewSessionManager(logger)
	fanout := sse.NewFanout(pubsub, c, logger)
	chaseCfg := ai.ChaseConfig{
		SightRadius:  cfg.Game.WardenSightRadius,
		BurstFrames:  cfg.Game.WardenBurstFrames,
		RepathFrames: cfg.Game.WardenRepathTicks,
	}
	wm := world.NewManager(loader, chaseCfg, fanout, logger)
	defer wm.StopAll()

	// ---- Hot reload of district files ----
	if cfg.District.WatchReload {
		watcher, err := resource.NewWatcher(cfg.District.DataPath)
		if err != nil {
			logger.Warn("district watcher disabled", zap.Error(err))
		} else {
			defer watcher.Close()
			go func() {
				for path := range watcher.Events {
					d, err := loader.Reload(path)
					if err != nil {
						logger.Warn("district reload failed",
							zap.String("path", path), zap.Error(err))
						continue
					}
					wm.Reload(d.ID)
					logger.Info("district reloaded",
						zap.Int("district_id", d.ID), zap.String("path", path))
				}
			}()
		}
	}

	// ---- Periodic Scheduler Tasks ----
	sched.AddTicker("auto_save", time.Duration(cfg.Game.SaveIntervalS)*time.Second, func() {
		for _, room := range wm.All() {
			for _, st := range room.ActorSnapshot() {
				snap := model.ActorSnapshot{
					DistrictID: room.DistrictID,
					ActorID:    st.ID,
					Name:       st.Name,
					Class:      st.Class,
					X:          st.X,
					Y:          st.Y,
					Heading:    st.Heading,
					StepKind:   st.Kind,
				}
				err := db.Clauses(clause.OnConflict{
					Columns: []clause.Column{{Name: "district_id"}, {Name: "actor_id"}},
					DoUpdates: clause.AssignmentColumns([]string{
						"name", "class", "x", "y", "heading", "step_kind", "updated_at",
					}),
				}).Create(&snap).Error
				if err != nil {
					logger.Warn("actor snapshot save failed",
						zap.Int("district_id", room.DistrictID),
						zap.Int("actor_id", st.ID),
						zap.Error(err))
				}
			}
		}
	})

	// ---- WS Router ----
	wsRouter := apows.NewRouter(logger)
	dh := apows.NewDistrictHandlers(wm, sm, c, auditSvc,
		time.Duration(cfg.Game.CommandCooldownS)*time.Second, logger)
	dh.RegisterHandlers(wsRouter)

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
	authH := apirest.NewAuthHandler(db, c, cfg.Security)
	adminH := apirest.NewAdminHandler(db, sm, wm, loader, sched, auditSvc, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(cfg.Security, c), authH.Refresh)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Security.AdminIPAllowlist))
		adminG.Use(apirest.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/viewers", adminH.ListViewers)
		adminG.GET("/districts", adminH.ListDistricts)
		adminG.GET("/districts/:id/actors", adminH.ListActors)
		adminG.POST("/districts/:id/force", adminH.ForceRoute)
		adminG.POST("/districts/:id/reset", adminH.ResetRoute)
		adminG.POST("/districts/:id/reload", adminH.ReloadDistrict)
		adminG.POST("/kick/:session_id", adminH.KickViewer)
		adminG.POST("/operators/:id/ban", adminH.BanOperator)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
	}

	// ---- WebSocket ----
	wsH := apows.NewHandler(db, c, cfg.Security, sm, wm, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, c, cfg.Security, logger)
	r.GET("/sse", sseH.ServeSSE)

	defer sm.CloseAllSessions()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
