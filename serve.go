package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/KodaTao/linguachat/config"
	"github.com/KodaTao/linguachat/gateway"
	"github.com/KodaTao/linguachat/handler"
	"github.com/KodaTao/linguachat/logger"
	"github.com/KodaTao/linguachat/model"
	"github.com/KodaTao/linguachat/ratelimit"
	"github.com/KodaTao/linguachat/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tutor HTTP and WebSocket server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	gin.SetMode(cfg.Server.Mode)
	log.Info("config loaded",
		zap.Int("port", cfg.Server.Port),
		zap.String("db", cfg.Database.Path),
		zap.String("rate_limit_backend", cfg.RateLimit.Backend),
	)

	// 初始化数据库
	db, err := model.InitDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	log.Info("database initialized")

	gw := gateway.New(cfg.Provider, log)
	if err := gw.Ready(); err != nil {
		log.Warn("model provider is not configured, /api/chat will answer with a configuration error")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter, sweeper, closeLimiter, err := buildLimiter(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLimiter()

	router, _ := handler.NewRouter(handler.Deps{
		Config:   cfg,
		Gateway:  gw,
		Limiter:  limiter,
		Registry: store.NewRegistry(store.NewSQLPersister(db), log),
		Log:      log,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if sweeper != nil {
		g.Go(func() error {
			return sweeper.Run(gctx, cfg.RateLimit.SweepDuration())
		})
	}

	return g.Wait()
}

// buildLimiter 根据配置选择内存或 Redis 限流；内存实现需要后台清理
func buildLimiter(ctx context.Context, cfg *config.Config, log *zap.Logger) (ratelimit.Limiter, *ratelimit.Window, func(), error) {
	rl := cfg.RateLimit
	if rl.Backend != "redis" {
		w := ratelimit.NewWindow(rl.MaxRequests, rl.WindowDuration())
		return w, w, func() {}, nil
	}

	rdb := goredis.NewClient(&goredis.Options{Addr: rl.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, nil, fmt.Errorf("connect redis %s: %w", rl.RedisAddr, err)
	}
	log.Info("redis rate limiter connected", zap.String("addr", rl.RedisAddr))

	closeFn := func() {
		if err := rdb.Close(); err != nil {
			log.Warn("close redis", zap.Error(err))
		}
	}
	return ratelimit.NewRedis(rdb, rl.MaxRequests, rl.WindowDuration(), log), nil, closeFn, nil
}
