package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sentinelstack/sentinel-ingest/internal/broadcast"
	"github.com/sentinelstack/sentinel-ingest/internal/broker"
	"github.com/sentinelstack/sentinel-ingest/internal/config"
	"github.com/sentinelstack/sentinel-ingest/internal/ingest"
	"github.com/sentinelstack/sentinel-ingest/internal/metrics"
	"github.com/sentinelstack/sentinel-ingest/internal/poller"
	"github.com/sentinelstack/sentinel-ingest/internal/scheduler"
	"github.com/sentinelstack/sentinel-ingest/internal/source"
	"github.com/sentinelstack/sentinel-ingest/internal/store"
	"github.com/sentinelstack/sentinel-ingest/internal/utils"
)

// reindexSignal is the wire form on the reindex trigger channel.
type reindexSignal struct {
	Key     string         `msgpack:"key"`
	Payload map[string]any `msgpack:"payload"`
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting ingest-engine", slog.String("metrics_address", cfg.Server.MetricsAddress))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var brk *broker.Redis
	if cfg.Broker.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:        cfg.Broker.Addr,
			Username:    cfg.Broker.Username,
			Password:    cfg.Broker.Password,
			DB:          cfg.Broker.DB,
			DialTimeout: cfg.Broker.DialTimeout.Std(),
		})
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Broker.DialTimeout.Std())
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("broker unavailable, running on direct delivery only", slog.Any("error", err))
			_ = client.Close()
		} else {
			brk = broker.NewRedis(client, logger)
			defer brk.Close()
		}
	}

	// The memory store serves single-node deployments; production setups
	// plug in a database-backed store.Store here.
	st := store.NewMemory()

	hub := broadcast.NewHub(logger)
	var publisher broker.Publisher
	if brk != nil {
		publisher = brk
	}
	broadcaster := broadcast.NewBroadcaster(logger, publisher, hub, cfg.Broker.BroadcastTopic)

	gate := ingest.NewGate(logger, st, broadcaster)

	sched := scheduler.New(logger, cfg.Scheduler.Debounce.Std(), reindexJob(logger, cfg.Scheduler))

	var wg sync.WaitGroup
	if brk != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := brk.Subscribe(ctx, cfg.Broker.BroadcastTopic, broadcaster.HandleDelivery); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("broadcast consumer exited", slog.Any("error", err))
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := brk.Subscribe(ctx, cfg.Broker.ReindexChannel, func(payload []byte) {
				var sig reindexSignal
				if err := msgpack.Unmarshal(payload, &sig); err != nil || sig.Key == "" {
					logger.Warn("ignoring malformed reindex signal", slog.Any("error", err))
					return
				}
				sched.Schedule(sig.Key, sig.Payload)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("reindex consumer exited", slog.Any("error", err))
			}
		}()
	}

	for _, srcCfg := range cfg.Poller.Sources {
		client := source.NewClient(srcCfg.ID, srcCfg.BaseURL, srcCfg.EventsPath, srcCfg.Token, srcCfg.Timeout.Std())
		p := poller.New(logger, poller.Config{
			Interval:             cfg.Poller.Interval.Std(),
			MaxConsecutiveErrors: cfg.Poller.MaxConsecutiveErrors,
			ErrorBackoff:         cfg.Poller.ErrorBackoff.Std(),
			FirstRunLookback:     cfg.Poller.FirstRunLookback.Std(),
		}, client, gate, st)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	sched.Shutdown()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout.Std())
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancel()
	}

	wg.Wait()
	logger.Info("ingest-engine stopped")
}

// reindexJob builds the scheduler job body: a POST to the configured reindex
// webhook carrying the key and the latest payload. Without a webhook the run
// is logged and dropped.
func reindexJob(logger *slog.Logger, cfg config.SchedulerConfig) scheduler.JobFunc {
	client := &http.Client{Timeout: cfg.ReindexTimeout.Std()}
	return func(ctx context.Context, key string, payload any) error {
		if cfg.ReindexURL == "" {
			logger.Info("reindex requested, no webhook configured", slog.String("key", key))
			return nil
		}

		body, err := json.Marshal(map[string]any{"key": key, "payload": payload})
		if err != nil {
			return fmt.Errorf("marshal reindex request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.ReindexURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return utils.E(utils.KindTransient, "reindex", "webhook call failed", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusMultipleChoices {
			return utils.E(utils.KindTransient, "reindex", "webhook returned "+resp.Status, nil)
		}
		return nil
	}
}
