package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/nemonet1337/zaiQuant/internal/config"
	"github.com/nemonet1337/zaiQuant/pkg/inventory"
	"github.com/nemonet1337/zaiQuant/pkg/inventory/storage"
)

func main() {
	// 設定読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("設定読み込みに失敗しました:", err)
	}

	// ログ設定
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatal("ログ初期化に失敗しました:", err)
	}
	defer logger.Sync()

	// データベース接続
	store, err := storage.NewPostgreSQLStorage(cfg.DSN(), logger)
	if err != nil {
		logger.Fatal("データベース接続に失敗しました", zap.Error(err))
	}
	defer store.Close()

	// メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := inventory.NewMetrics(registry)

	// クォントエンジン初期化
	manager := inventory.NewManager(store, &logPublisher{logger: logger}, logger, cfg.Engine(), inventory.WithMetrics(metrics))

	// HTTPハンドラー設定
	handlers := NewHandlers(manager, store, store, cfg.Inventory.CompanyID, logger)
	router := setupRouter(handlers, registry, cfg.API)

	// HTTPサーバー設定
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("クォントAPIサーバーを開始します", zap.Int("port", cfg.API.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("サーバー開始に失敗しました: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		runJanitor(gctx, manager, cfg.Inventory.CompanyID, cfg.Inventory.QuantTasksInterval, logger)
		return nil
	})

	// シャットダウンシグナル待機
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("サーバーをシャットダウンしています...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("サーバーが異常終了しました", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("サーバーが正常に停止しました")
}

// runJanitor runs quant maintenance every interval until ctx is done
// 一定間隔でクォント保守を実行
func runJanitor(ctx context.Context, manager *inventory.Manager, companyID int64, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := manager.QuantTasks(ctx, companyID); err != nil && ctx.Err() == nil {
				logger.Warn("定期クォント保守に失敗しました", zap.Error(err))
			}
		}
	}
}

// newLogger builds the zap logger described by the logging configuration
// ログ設定からロガーを構築
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if cfg.Output != "" {
		zcfg.OutputPaths = []string{cfg.Output}
	}
	return zcfg.Build()
}

// logPublisher writes engine events to the log
// エンジンのイベントをログに出力
type logPublisher struct {
	logger *zap.Logger
}

func (p *logPublisher) PublishQuantUpdated(ctx context.Context, event inventory.QuantUpdatedEvent) error {
	p.logger.Info("クォント更新イベント",
		zap.String("event_id", event.EventID),
		zap.Int64("product_id", event.Key.ProductID),
		zap.Int64("location_id", event.Key.LocationID),
		zap.String("delta", event.Delta.String()),
		zap.String("available", event.Available.String()),
		zap.String("user_id", event.UserID),
	)
	return nil
}

func (p *logPublisher) PublishMoveDone(ctx context.Context, event inventory.MoveDoneEvent) error {
	p.logger.Info("在庫移動完了イベント",
		zap.String("event_id", event.EventID),
		zap.Int64("move_id", event.MoveID),
		zap.String("reference", event.Reference),
		zap.String("quantity", event.Quantity.String()),
		zap.Int64("backorder_id", event.BackorderID),
		zap.String("user_id", event.UserID),
	)
	return nil
}

// setupRouter sets up HTTP routes
// HTTPルートを設定
func setupRouter(handlers *Handlers, registry *prometheus.Registry, apiCfg config.APIConfig) *mux.Router {
	router := mux.NewRouter()

	// ヘルスチェック
	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	if apiCfg.EnableMetrics {
		router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")
	}

	// API v1ルート
	api := router.PathPrefix("/api/v1").Subrouter()

	// マスタデータ
	api.HandleFunc("/categories", handlers.CreateCategory).Methods("POST")
	api.HandleFunc("/products", handlers.CreateProduct).Methods("POST")
	api.HandleFunc("/locations", handlers.CreateLocation).Methods("POST")
	api.HandleFunc("/packages", handlers.CreatePackage).Methods("POST")
	api.HandleFunc("/lots", handlers.CreateLot).Methods("POST")

	// クォント
	api.HandleFunc("/quants", handlers.Gather).Methods("GET")
	api.HandleFunc("/quants/available", handlers.GetAvailable).Methods("GET")
	api.HandleFunc("/quants/update-available", handlers.UpdateAvailable).Methods("POST")
	api.HandleFunc("/quants/update-reserved", handlers.UpdateReserved).Methods("POST")
	api.HandleFunc("/quants/tasks", handlers.QuantTasks).Methods("POST")
	api.HandleFunc("/quants/apply-inventory", handlers.ApplyCounted).Methods("POST")
	api.HandleFunc("/quants/{quantId}/inventory", handlers.SetInventory).Methods("PUT")
	api.HandleFunc("/quants/{quantId}/apply-inventory", handlers.ApplyInventory).Methods("POST")
	api.HandleFunc("/serials/check", handlers.CheckSerial).Methods("POST")

	// 在庫移動
	api.HandleFunc("/moves", handlers.CreateMove).Methods("POST")
	api.HandleFunc("/moves/{moveId}", handlers.GetMove).Methods("GET")
	api.HandleFunc("/moves/{moveId}/confirm", handlers.ConfirmMove).Methods("POST")
	api.HandleFunc("/moves/{moveId}/assign", handlers.AssignMove).Methods("POST")
	api.HandleFunc("/moves/{moveId}/unreserve", handlers.UnreserveMove).Methods("POST")
	api.HandleFunc("/moves/{moveId}/cancel", handlers.CancelMove).Methods("POST")
	api.HandleFunc("/moves/{moveId}/done", handlers.DoneMove).Methods("POST")
	api.HandleFunc("/moves/{moveId}/lines", handlers.AddMoveLine).Methods("POST")
	api.HandleFunc("/move-lines/{lineId}", handlers.EditMoveLine).Methods("PATCH")

	// レポート
	api.HandleFunc("/locations/{locationId}/report", handlers.StockReport).Methods("GET")

	// パッケージ
	api.HandleFunc("/packages/{packageId}", handlers.GetPackage).Methods("GET")
	api.HandleFunc("/packages/{packageId}/unpack", handlers.UnpackPackage).Methods("POST")

	// CORS設定
	if apiCfg.EnableCORS {
		router.Use(corsMiddleware)
	}

	// ログ機能
	router.Use(loggingMiddleware(handlers.logger))

	return router
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID, X-Company-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
// HTTPリクエストをログ出力するミドルウェア
func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// リクエスト処理
			next.ServeHTTP(w, r)

			// ログ出力
			logger.Info("HTTPリクエスト",
				zap.String("method", r.Method),
				zap.String("url", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
