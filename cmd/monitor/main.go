package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"contest/internal/client/tradeapi"
	"contest/internal/config"
	cronrunner "contest/internal/cron"
	"contest/internal/db"
	"contest/internal/disqualify"
	"contest/internal/handler"
	"contest/internal/logger"
	"contest/internal/queue"
	gormrepository "contest/internal/repository/gorm"
	"contest/internal/scheduler"
)

func main() {
	cfgPath := os.Getenv("CONTEST_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("CONTEST_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	tradeHTTP := &http.Client{Timeout: cfg.TradeAPI.Timeout}
	tradeClient := tradeapi.NewClient(tradeHTTP, cfg.TradeAPI.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)

	checker := &disqualify.Checker{Store: store, Logger: logger}
	disqScheduler := &disqualify.AsyncScheduler{
		Checker:  checker,
		Schedule: cronRunner,
		Delay:    cfg.Disqualify.Delay,
		Enabled:  cfg.Disqualify.Enabled,
	}

	manager := &queue.Manager{
		Store:      store,
		Fetcher:    tradeClient,
		Ticks:      cronRunner,
		Disqualify: disqScheduler,
		Throttle:   queue.DefaultThrottle,
		Config:     cfg.Queue,
		APITimeout: cfg.TradeAPI.Timeout,
		Logger:     logger,
	}

	autoUpdate := &scheduler.AutoUpdate{
		Store:  store,
		Queues: manager,
		Config: cfg.AutoUpdate,
		Logger: logger,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	queueHandler := &handler.QueueHandler{
		Manager:   manager,
		Scheduler: autoUpdate,
		Store:     store,
		Logger:    logger,
	}
	queueHandler.Register(engine)

	if cfg.Cron.Enabled {
		spec := fmt.Sprintf("@every %s", cfg.AutoUpdate.Interval)
		if _, err := cronRunner.Add(spec, autoUpdate.RunAutoUpdateTick); err != nil {
			logger.Warn("cron register auto-update failed", zap.Error(err))
		}
		sweep := fmt.Sprintf("@every %s", cfg.Cron.TimeoutSweep)
		if _, err := cronRunner.Add(sweep, manager.TimeoutSweep); err != nil {
			logger.Warn("cron register timeout sweep failed", zap.Error(err))
		}
		cleanup := fmt.Sprintf("@every %s", cfg.Cron.CleanupSweep)
		if _, err := cronRunner.Add(cleanup, func(ctx context.Context) {
			if err := manager.CleanupFinished(ctx); err != nil {
				logger.Warn("queue cleanup sweep failed", zap.Error(err))
			}
		}); err != nil {
			logger.Warn("cron register cleanup sweep failed", zap.Error(err))
		}
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
