package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/alerts"
	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/auth"
	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/broadcast"
	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/events"
	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/gateway"
	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/poller"
	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/provider"
	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/registry"
	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/repository"
	"github.com/bblair31/marketViz-backend/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, err := config.NewLogger(cfg.App.Env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	store := repository.NewRedisStore(rdb)

	quotes := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Timeout)

	var sink events.Sink = events.NopSink{}
	if len(cfg.Kafka.Brokers) > 0 {
		sink = events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		logger.Info("Kafka alert sink enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	reg := registry.New(logger, cfg.Gateway.MaxSymbols)
	bcast := broadcast.New(reg, logger)
	evaluator := alerts.NewEvaluator(store, quotes, store, bcast, sink, logger)
	poll := poller.New(quotes, bcast, evaluator, store, logger, cfg.Poller.Interval)
	reg.SetFeed(poll)

	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret)
	manager := gateway.NewManager(reg, verifier, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", manager.HandleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	// Hook for the CRUD surface: run an on-demand evaluation pass over a
	// user's active alerts.
	mux.HandleFunc("/internal/alerts/check", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		userID := r.URL.Query().Get("userId")
		if userID == "" {
			http.Error(w, "userId is required", http.StatusBadRequest)
			return
		}
		if err := evaluator.CheckUserAlerts(r.Context(), userID); err != nil {
			logger.Error("manual alert check failed", zap.String("user_id", userID), zap.Error(err))
			http.Error(w, "alert check failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	poll.StopAll()
	if err := sink.Close(); err != nil {
		logger.Error("Error closing alert sink", zap.Error(err))
	}
	store.Close()
	logger.Info("Shutdown Complete")
}
