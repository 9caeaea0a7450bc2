package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"popotte/handlers"
	"popotte/internal/auth"
	"popotte/internal/cart"
	"popotte/internal/catalog"
	"popotte/internal/consul"
	"popotte/internal/debts"
	"popotte/internal/feed"
	"popotte/internal/orders"
	"popotte/internal/payments"
	"popotte/internal/reconcile"
	"popotte/internal/stores/kafka"
	"popotte/internal/stores/pgnotify"
	"popotte/migrations"
	"popotte/pkg/config"
	"popotte/pkg/logger"
	"popotte/pkg/shutdown"
)

const stopTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	log := logger.New(logger.Options{Service: cfg.ServiceName, Env: cfg.AppEnv, Level: cfg.LogLevel, AddSource: true})

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("service stopped", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("bye")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db pool: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()
	if err := migrations.Up(ctx, sqlDB); err != nil {
		return err
	}

	catalogConf, err := catalog.NewConf(pool)
	if err != nil {
		return err
	}
	ordersConf, err := orders.NewConf(pool)
	if err != nil {
		return err
	}
	debtsConf, err := debts.NewConf(pool)
	if err != nil {
		return err
	}

	hub := feed.NewHub()
	var (
		source  feed.Source
		emitter feed.Emitter = feed.NopEmitter{}
	)
	switch cfg.ChangeFeed {
	case config.FeedPostgres:
		if source, err = pgnotify.NewListener(cfg.DatabaseURL); err != nil {
			return err
		}
	case config.FeedKafka:
		k, err := kafka.NewConf(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup)
		if err != nil {
			return err
		}
		defer k.Close()
		source, emitter = k, k
	}
	log.Info("change feed", slog.String("source", cfg.ChangeFeed))

	policy := reconcile.Policy{
		SettleDelay:   cfg.Refresh.SettleDelay,
		RetryDelay:    cfg.Refresh.RetryDelay,
		MaxRetries:    uint64(cfg.Refresh.MaxRetries),
		DebounceDelay: cfg.Refresh.DebounceDelay,
		IdleTimeout:   cfg.Refresh.MemberIdle,
	}
	panels := reconcile.NewRegistry(hub, policy,
		func(ctx context.Context) (decimal.Decimal, error) {
			s, err := debtsConf.GetGlobalDebtSummary(ctx)
			return s.TotalPending, err
		},
		func(userID string) reconcile.Fetcher {
			return func(ctx context.Context) (decimal.Decimal, error) {
				s, err := debtsConf.GetUserDebtSummary(ctx, userID)
				return s.TotalPending, err
			}
		},
		"orders", "debts")
	defer panels.Close()

	keys, err := auth.NewKeys(cfg.JWTSecret)
	if err != nil {
		return err
	}
	var pay handlers.Payments
	if cfg.StripeSecretKey != "" {
		pay = payments.NewConf(payments.Options{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			Currency:      cfg.Currency,
			SuccessURL:    cfg.CheckoutSuccessURL,
			CancelURL:     cfg.CheckoutCancelURL,
		})
	} else {
		log.Info("card payments disabled")
	}

	router := handlers.API(cfg.EndpointPrefix, keys, handlers.Deps{
		Catalog:  &catalogConf,
		Orders:   ordersConf,
		Debts:    debtsConf,
		Carts:    cart.NewSessions(),
		Payments: pay,
		Panels:   panels,
		Emitter:  emitter,
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcAddr := fmt.Sprintf(":%d", cfg.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", grpcAddr, err)
	}
	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(cfg.ServiceName, healthpb.HealthCheckResponse_SERVING)

	if cfg.ConsulAddr != "" {
		client, err := consul.NewClient(cfg.ConsulAddr)
		if err != nil {
			return err
		}
		id, err := consul.Register(client, cfg.ServiceName, cfg.ServiceHost, cfg.HTTPPort)
		if err != nil {
			log.Warn("consul registration failed", slog.Any("err", err))
		} else {
			defer func() {
				if err := consul.Deregister(client, id); err != nil {
					log.Warn("consul deregistration failed", slog.Any("err", err))
				}
			}()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http starting", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("grpc starting", slog.String("addr", grpcAddr))
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	if source != nil {
		g.Go(func() error {
			err := source.Run(gctx, hub.Publish)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("change feed: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown requested")
		healthSrv.Shutdown()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()
		if err := srv.Shutdown(stopCtx); err != nil {
			log.Warn("http shutdown", slog.Any("err", err))
		}

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopCtx.Done():
			log.Warn("graceful stop timeout, forcing stop")
			grpcServer.Stop()
		case <-stopped:
		}
		return nil
	})

	return g.Wait()
}
