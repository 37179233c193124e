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

	"github.com/comanda-pos/api/internal/cart"
	"github.com/comanda-pos/api/internal/clientstate"
	"github.com/comanda-pos/api/internal/config"
	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/events"
	"github.com/comanda-pos/api/internal/logging"
	mw "github.com/comanda-pos/api/internal/middleware"
	"github.com/comanda-pos/api/internal/notification"
	"github.com/comanda-pos/api/internal/ordersync"
	"github.com/comanda-pos/api/internal/router"
	"github.com/comanda-pos/api/internal/service"
	"github.com/comanda-pos/api/internal/ws"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	evictInterval = time.Minute
	idleClientAge = 30 * time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(cfg.DatabaseURL); err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	queries := database.New(pool)

	state, closeState, err := openClientState(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeState()
	logger.Info("client state ready", zap.String("driver", cfg.ClientStateDriver))

	publisher, closePublisher, err := openPublisher(cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	// Order view kept current from Postgres notifications
	orderSync := ordersync.New(queries, database.NewListener(pool, database.OrdersChangedChannel), publisher, logger)
	go func() {
		if err := orderSync.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("order sync stopped", zap.Error(err))
		}
	}()

	hub := ws.NewHub()
	go hub.Run(ctx)

	index := clientstate.NewOrderIndex(state)
	notifications := notification.NewRegistry(ctx, index, orderSync, cfg.IndicatorDuration, logger)
	notifications.OnChange(ws.NotificationRelay(hub, logger))
	notifications.OnOrders(ws.ClientOrdersRelay(hub, logger))
	go notifications.Run(ctx, evictInterval, idleClientAge)

	staffFeed := ws.NewStaffFeed(orderSync, hub, logger)
	go staffFeed.Run(ctx)

	carts := cart.NewStore(state)
	orders := service.NewOrderService(pool, func(db database.DBTX) service.OrderStore {
		return database.New(db)
	}, service.Deps{
		Carts:     carts,
		Index:     index,
		Orders:    orderSync,
		Notifier:  notifications,
		Publisher: publisher,
		Logger:    logger,
	})

	limiter := mw.NewClientRateLimiter(cfg.OrderRatePerMin)
	go func() {
		ticker := time.NewTicker(evictInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Evict(idleClientAge)
			}
		}
	}()

	r := router.New(cfg, router.Services{
		Queries:       queries,
		Carts:         carts,
		Orders:        orders,
		Sync:          orderSync,
		Notifications: notifications,
		Hub:           hub,
		StaffFeed:     staffFeed,
		Limiter:       limiter,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openClientState selects where carts and per-client order numbers live.
func openClientState(ctx context.Context, cfg *config.Config) (clientstate.Store, func(), error) {
	switch cfg.ClientStateDriver {
	case "memory":
		return clientstate.NewMemory(), func() {}, nil
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return clientstate.NewRedis(rdb, cfg.ClientStateTTL), func() { rdb.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown client state driver %q", cfg.ClientStateDriver)
	}
}

// openPublisher connects to RabbitMQ when configured. Without a broker,
// order events are discarded.
func openPublisher(cfg *config.Config) (events.Publisher, func(), error) {
	if cfg.RabbitMQURL == "" {
		return events.Nop{}, func() {}, nil
	}
	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	pub, err := events.NewRabbit(ch)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return pub, func() {
		ch.Close()
		conn.Close()
	}, nil
}
