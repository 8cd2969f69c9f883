package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pvzzle/tokenpanel/internal/bus"
	"github.com/pvzzle/tokenpanel/internal/ledger"
	"github.com/pvzzle/tokenpanel/internal/metrics"
	"github.com/pvzzle/tokenpanel/internal/network"
	"github.com/pvzzle/tokenpanel/internal/tg"
	"github.com/pvzzle/tokenpanel/internal/token"

	"github.com/ethereum/go-ethereum/common"
	tgbot "github.com/go-telegram/bot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func Run(ctx context.Context) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	gw, err := ledger.Dial(ctx, cfg.EthRPCURL, common.HexToAddress(cfg.ContractAddress))
	if err != nil {
		return fmt.Errorf("dial eth rpc: %w", err)
	}
	defer gw.Close()

	chainID, err := gw.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}
	if meta, err := gw.Metadata(ctx); err != nil {
		log.Warn("token metadata unavailable", zap.Error(err))
	} else {
		log.Info("token contract",
			zap.String("address", gw.Contract().Hex()),
			zap.String("name", meta.Name),
			zap.String("symbol", meta.Symbol),
			zap.Uint8("decimals", meta.Decimals),
		)
	}

	notifyCh := make(chan bus.Notification, cfg.NotifyBuffer)

	sessionLog := log.Named("session")
	sessions := token.NewRegistry(func(chatID int64) *token.Session {
		return token.NewSession(gw, bus.ForChat(chatID, notifyCh), m,
			sessionLog.With(zap.Int64("chat_id", chatID)),
			token.Config{
				Account:            cfg.activeAccount(),
				MinBusy:            cfg.MinBusy,
				BalanceConcurrency: cfg.BalanceConcurrency,
			},
		)
	})

	b, err := tgbot.New(cfg.TelegramToken,
		tgbot.WithWorkers(4),
	)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}

	tgSvc := tg.NewService(b, sessions, notifyCh, tg.Options{
		NotifyRPS: cfg.NotifyRPS,
		Metrics:   m,
		Logger:    log,
	})

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsHandler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	go tgSvc.StartNotifyLoop(ctx)

	log.Info("started",
		zap.String("network", network.ResolveBig(chainID).Label),
		zap.String("metrics_addr", cfg.MetricsAddr),
		zap.Duration("min_busy", cfg.MinBusy),
	)
	b.Start(ctx)

	return nil
}

func newLogger(cfg Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	return zc.Build()
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}
