package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/tv-watchlist/internal/platform/config"
	"github.com/example/tv-watchlist/internal/platform/events"
	"github.com/example/tv-watchlist/internal/platform/httpserver"
	"github.com/example/tv-watchlist/internal/platform/logging"
	"github.com/example/tv-watchlist/internal/platform/natsconn"
	"github.com/example/tv-watchlist/internal/platform/run"
	"github.com/example/tv-watchlist/services/watchlist/internal/errpolicy"
	"github.com/example/tv-watchlist/services/watchlist/internal/handlers"
	"github.com/example/tv-watchlist/services/watchlist/internal/kv"
	"github.com/example/tv-watchlist/services/watchlist/internal/metrics"
	"github.com/example/tv-watchlist/services/watchlist/internal/pager"
	"github.com/example/tv-watchlist/services/watchlist/internal/store"
	"github.com/example/tv-watchlist/services/watchlist/internal/watchlist"

	wlconfig "github.com/example/tv-watchlist/services/watchlist/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel, logging.WithFile(cfg.LogFile))
	if err != nil {
		panic(err)
	}

	code := serve(cfg, log)
	log.Info("exit", zap.Int("code", code))
	_ = log.Sync()
	run.Exit(code)
}

// serve wires the service and blocks until shutdown. Deferred closes run
// before the process exits.
func serve(cfg config.AppConfig, log *zap.Logger) int {
	wl := wlconfig.Load()

	kvs, err := openKV(wl, log)
	if err != nil {
		log.Error("open kv backend", zap.Error(err))
		return 1
	}
	defer func() { _ = kvs.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	storage := watchlist.NewStorage(kvs,
		watchlist.WithKey(wl.Key),
		watchlist.WithLogger(log.Named("storage")),
		watchlist.WithRetry(wl.StorageRetryAttempts, wl.StorageRetryDelay),
		watchlist.WithObserver(m),
	)
	policy := errpolicy.New(errpolicy.Config{
		MaxRetries: wl.RetryMax,
		RetryDelay: wl.RetryBaseDelay,
		Logger:     log.Named("errpolicy"),
	})

	storeOpts := []store.Option{store.WithLogger(log.Named("store"))}
	if wl.EventsEnabled {
		nc, err := natsconn.Connect(natsconn.Options{URL: wl.NATSURL, Name: cfg.ServiceName, Logger: log.Named("nats")})
		if err != nil {
			log.Error("nats connect, watchlist events disabled", zap.Error(err))
		} else {
			defer nc.Close()
			js, err := nc.JetStream()
			if err != nil {
				log.Error("jetstream, watchlist events disabled", zap.Error(err))
			} else {
				if err := events.EnsureStream(js); err != nil {
					log.Warn("ensure watchlist stream", zap.Error(err))
				}
				storeOpts = append(storeOpts, store.WithPublisher(events.New(js, log.Named("events")), wl.Key))
			}
		}
	}
	st := store.New(storage, policy, storeOpts...)

	proj := pager.New[watchlist.Item](pager.Config{
		PageSize:      wl.PageSize,
		PreloadRadius: wl.PreloadRadius,
		LoadDelay:     wl.PageLoadDelay,
		PreloadDelay:  wl.PreloadDelay,
		Logger:        log.Named("pager"),
	})
	defer func() { _ = proj.Close() }()
	st.Subscribe(func(s store.State) {
		proj.SetItems(s.Items)
		m.SetItems(len(s.Items))
	})

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	if err := st.Initialize(initCtx); err != nil {
		// The error stays on the store; clients see it and can POST /retry.
		log.Warn("initial watchlist load failed", zap.Error(err))
	}
	cancelInit()

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		Logger: log,
		ReadyFunc: func() error {
			if st.IsLoading() {
				return errors.New("watchlist is loading")
			}
			return nil
		},
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	handlers.Routes(r, st, proj)

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r})

	runner := run.New(log)
	runner.DrainTimeout = cfg.ShutdownTimeout
	return runner.WithSignals(func(ctx context.Context) error {
		drained := make(chan struct{})
		go func() {
			defer close(drained)
			<-ctx.Done()
			runner.Graceful(ctx, srv.Shutdown)
		}()
		err := srv.Start(log)
		if errors.Is(err, http.ErrServerClosed) {
			// In-flight requests still hold the store.
			<-drained
		}
		return err
	})
}

func openKV(wl wlconfig.Config, log *zap.Logger) (kv.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	kc := kv.Config{
		RedisURL:    wl.RedisURL,
		DatabaseURL: wl.DatabaseURL,
		BadgerPath:  wl.BadgerPath,
		Dir:         wl.Dir,
		Production:  wl.Production,
		Logger:      log.Named("kv"),
	}
	if wl.CBEnabled {
		kc.Breaker = &kv.BreakerConfig{
			MaxRequests:      wl.CBMaxRequests,
			Interval:         wl.CBInterval,
			Timeout:          wl.CBTimeout,
			FailureThreshold: wl.CBFailureThreshold,
		}
	}
	return kv.Open(ctx, kc)
}
