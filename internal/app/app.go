// Package app wires configuration, storage and services into a running
// HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/ai-friend-coming/chatledger/internal/config"
	"github.com/ai-friend-coming/chatledger/internal/db"
	"github.com/ai-friend-coming/chatledger/internal/http/api/callback"
	"github.com/ai-friend-coming/chatledger/internal/http/api/front"
	"github.com/ai-friend-coming/chatledger/internal/ledger"
	"github.com/ai-friend-coming/chatledger/internal/logging"
	"github.com/ai-friend-coming/chatledger/internal/payment"
	"github.com/ai-friend-coming/chatledger/internal/pricing"
	"github.com/ai-friend-coming/chatledger/internal/promo"
	"github.com/ai-friend-coming/chatledger/internal/settings"
	"github.com/ai-friend-coming/chatledger/internal/summary"
)

// Run starts the server and blocks until ctx is cancelled or the server
// fails.
func Run(ctx context.Context, cfg *config.Config) error {
	logging.Setup(cfg.Log)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return fmt.Errorf("app: open database: %w", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return fmt.Errorf("app: migrate database: %w", errMigrate)
	}

	settingsSvc := settings.NewService(conn, settings.SnapshotTTL)
	if errRefresh := settingsSvc.Refresh(ctx); errRefresh != nil {
		log.WithError(errRefresh).Warn("initial settings load failed, serving defaults")
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if errPing := redisClient.Ping(ctx).Err(); errPing != nil {
			log.WithError(errPing).Warn("redis unreachable, summary locks degrade to storage guards")
		}
	}

	pricingSvc := pricing.NewService(conn)
	engine := ledger.NewEngine(conn, pricingSvc, func() int64 {
		return settingsSvc.Current(context.Background()).TrustQuotaThreshold
	})

	provider := payment.NewHMACProvider(cfg.Payment.MerchantID, cfg.Payment.Secret)
	paymentSvc := payment.NewService(conn, engine, settingsSvc, provider, nil)
	promoSvc := promo.NewService(conn, engine, settingsSvc)

	llm := summary.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.ChatModel, cfg.LLM.EmbedModel)
	pipeline := summary.NewPipeline(conn, engine, settingsSvc, llm, llm, redisClient, cfg.Summary.ModelID)
	worker := summary.NewWorker(pipeline, summary.DefaultSweepInterval)

	router := gin.New()
	router.Use(gin.Recovery())
	front.RegisterFrontRoutes(router, conn, paymentSvc, promoSvc, settingsSvc)
	callback.RegisterCallbackRoutes(router, paymentSvc)

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go sweepExpiredOrders(ctx, paymentSvc)
	go worker.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.WithField("listen", cfg.Listen).Info("chatledger server starting")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			log.WithError(errShutdown).Warn("server shutdown")
		}
		<-errCh
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", errServe)
	}
}

// sweepExpiredOrders periodically closes payment orders whose expiry
// passed without a gateway notify.
func sweepExpiredOrders(ctx context.Context, paymentSvc *payment.Service) {
	ticker := time.NewTicker(config.OrderSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			closed, errSweep := paymentSvc.CloseExpired(ctx)
			if errSweep != nil {
				log.WithError(errSweep).Warn("expired order sweep failed")
				continue
			}
			if closed > 0 {
				log.WithField("count", closed).Info("closed expired payment orders")
			}
		}
	}
}
