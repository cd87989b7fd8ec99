package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/loceal-orders/internal/cart"
	"github.com/ariefcatur/loceal-orders/internal/catalog"
	"github.com/ariefcatur/loceal-orders/internal/chat"
	"github.com/ariefcatur/loceal-orders/internal/config"
	"github.com/ariefcatur/loceal-orders/internal/httpx"
	kafkax "github.com/ariefcatur/loceal-orders/internal/kafka"
	"github.com/ariefcatur/loceal-orders/internal/logx"
	"github.com/ariefcatur/loceal-orders/internal/memstore"
	"github.com/ariefcatur/loceal-orders/internal/metrics"
	"github.com/ariefcatur/loceal-orders/internal/orders"
	"github.com/ariefcatur/loceal-orders/internal/postgres"
	"github.com/ariefcatur/loceal-orders/internal/realtime"
	"github.com/ariefcatur/loceal-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logx.Setup(cfg.LogLevel)
	log := logx.New("api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("store", "kind", cfg.Store, "error", err.Error())
		os.Exit(1)
	}
	defer closeStore()

	// Redis: idempotency fast path, status cache, multi-instance chat fan-out
	var (
		bus    realtime.Bus = realtime.NewLocalBus()
		idem   orders.IdempotencyCache
		status orders.StatusCache
	)
	if redisEnabled(cfg.RedisAddr) {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := redisx.Ping(ctx, rdb); err != nil {
			log.Error("redis ping", "addr", cfg.RedisAddr, "error", err.Error())
			os.Exit(1)
		}
		bus = redisx.NewBus(rdb)
		idem = redisx.NewIdemCache(rdb)
		status = redisx.NewStatusCache(rdb)
	} else {
		log.Warn("redis disabled: single-instance chat fan-out, no caches")
	}

	// Kafka producer lives on its own context so it can drain after the
	// HTTP server has stopped accepting work.
	prodCtx, stopProd := context.WithCancel(context.Background())
	defer stopProd()
	prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.TopicOrderEvents, 1024)
	prod.Start(prodCtx)
	notifier := kafkax.NewNotifier(cfg.KafkaBrokers, cfg.TopicNotifications)
	defer notifier.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Services
	chatMgr := chat.NewManager(store, realtime.Publisher{Bus: bus}, m)
	hub := realtime.NewHub(chatMgr, bus, m)
	deps := orders.Deps{
		Store:   store,
		Rooms:   chatMgr,
		Events:  kafkax.NewEventPublisher(prod, cfg.ServiceName),
		Metrics: m,
	}
	ledger := orders.NewLedger(deps)
	if status != nil {
		ledger.UseStatusCache(status)
	}
	verifier := orders.NewVerifier(deps, notifier, orders.VerifierConfig{
		TTL:         cfg.OTPTTL,
		MaxAttempts: cfg.OTPMaxAttempts,
		HashCost:    cfg.OTPHashCost,
	})
	if status != nil {
		verifier.UseStatusCache(status)
	}
	coordinator := orders.NewCoordinator(deps, idem)

	router := httpx.NewRouter(
		httpx.RouterOptions{
			Metrics:   metrics.Handler(),
			WebSocket: hub.Handler(ctx, httpx.ActorFromRequest, cfg.WSAllowedOrigins),
		},
		&httpx.CartHandler{Cart: cart.NewService(store), Log: logx.New("http-cart")},
		&httpx.OrdersHandler{Coordinator: coordinator, Ledger: ledger, Verifier: verifier, Log: logx.New("http-orders")},
		&httpx.ChatHandler{Chat: chatMgr, Log: logx.New("http-chat")},
	)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP listening", "addr", cfg.HTTPAddr, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	if err := g.Wait(); err != nil {
		log.Error("api exit", "error", err.Error())
	}

	prod.Close()      // flush sisa pesan & close writer
	prod.WaitClosed() // drain
}

func openStore(ctx context.Context, cfg config.Config) (orders.Store, func(), error) {
	switch cfg.Store {
	case "memory":
		ms := memstore.New()
		if cfg.SeedFile != "" {
			ps, err := catalog.Load(cfg.SeedFile)
			if err != nil {
				return nil, nil, err
			}
			for _, p := range ps {
				ms.PutProduct(p)
			}
		}
		return ms, func() {}, nil
	case "postgres", "":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewStore(db), db.Close, nil
	}
	return nil, nil, errors.New("unknown STORE " + cfg.Store)
}

func redisEnabled(addr string) bool {
	switch strings.ToLower(strings.TrimSpace(addr)) {
	case "", "off", "none":
		return false
	}
	return true
}
