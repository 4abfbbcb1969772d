package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	httpAdapter "github.com/medping/golang_services/internal/broadcast_service/adapters/http"
	"github.com/medping/golang_services/internal/broadcast_service/app"
	"github.com/medping/golang_services/internal/broadcast_service/domain"
	"github.com/medping/golang_services/internal/broadcast_service/fanout"
	"github.com/medping/golang_services/internal/broadcast_service/middleware"
	"github.com/medping/golang_services/internal/broadcast_service/push"
	"github.com/medping/golang_services/internal/broadcast_service/repository/memory"
	"github.com/medping/golang_services/internal/broadcast_service/repository/postgres"
	"github.com/medping/golang_services/internal/platform/database"
	"github.com/medping/golang_services/internal/platform/logger"
	"github.com/medping/golang_services/internal/platform/messagebroker"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, live channel and push workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "apply the schema before serving (postgres only)")
}

type repositories struct {
	requests  domain.RequestRepository
	offers    domain.OfferRepository
	providers domain.ProviderDirectory
	endpoints domain.EndpointDirectory
}

// pushQueue is satisfied by both push transports.
type pushQueue interface {
	fanout.PushEnqueuer
	Run(ctx context.Context) error
}

func runServe(parent context.Context) error {
	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("Broadcast service starting...", "http_port", cfg.HTTPPort, "node_id", cfg.NodeID, "store", cfg.StoreDriver)

	mainCtx, mainCancel := context.WithCancel(parent)
	defer mainCancel()

	repos, closeStore, err := openStore(mainCtx, appLogger)
	if err != nil {
		return err
	}
	defer closeStore()

	var natsClient *messagebroker.NATSClient
	if cfg.NATSURL != "" {
		natsClient, err = messagebroker.NewNATSClient(cfg.NATSURL, appLogger, serviceName)
		if err != nil {
			return fmt.Errorf("connecting to NATS at %s: %w", cfg.NATSURL, err)
		}
		defer natsClient.Close()
		appLogger.Info("NATS client connected", "url", cfg.NATSURL)
	} else {
		appLogger.Info("NATS URL not configured; live fanout stays in this process.")
	}

	gateway, err := newGateway(mainCtx, appLogger)
	if err != nil {
		return err
	}
	dispatcher := push.NewDispatcher(repos.endpoints, gateway, appLogger, cfg.PushTimeout, cfg.PushMaxAttempts)

	var queue pushQueue
	if cfg.PushTransport == "nats" {
		queue = push.NewNATSQueue(natsClient, dispatcher, cfg.PushWorkers, cfg.PushQueueSize, appLogger)
	} else {
		queue = push.NewLocalQueue(dispatcher, cfg.PushWorkers, cfg.PushQueueSize, appLogger)
	}

	registry := fanout.NewRegistry()
	var relay *fanout.NATSRelay
	var fan *fanout.Fanout
	if natsClient != nil {
		relay = fanout.NewNATSRelay(natsClient, cfg.NodeID, appLogger)
		fan = fanout.New(registry, relay, queue, appLogger)
	} else {
		fan = fanout.New(registry, nil, queue, appLogger)
	}

	manager := app.NewLifecycleManager(repos.requests, repos.offers, repos.providers, fan, appLogger, cfg.MaxRadiusKm)
	devices := app.NewDeviceService(repos.endpoints, appLogger)
	auth := middleware.NewAuthenticator(cfg.JWTSecret, appLogger)

	handler := httpAdapter.NewHandler(manager, devices, appLogger, httpAdapter.NewValidator())
	live := httpAdapter.NewLiveHandler(auth, registry, httpAdapter.LiveOptions{
		SendQueueSize: cfg.WSSendQueueSize,
		WriteTimeout:  cfg.WSWriteTimeout,
		PingInterval:  cfg.WSPingInterval,
	}, appLogger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpAdapter.NewRouter(handler, live, auth),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		appLogger.Info("HTTP server listening", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server failed to serve", "error", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		listenAddress := fmt.Sprintf(":%d", cfg.GRPCHealthPort)
		lis, err := net.Listen("tcp", listenAddress)
		if err != nil {
			return fmt.Errorf("failed to listen for gRPC on %s: %w", listenAddress, err)
		}
		appLogger.Info("gRPC health server listening", "address", listenAddress)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			appLogger.Error("gRPC server failed to serve", "error", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		return queue.Run(groupCtx)
	})

	if relay != nil {
		g.Go(func() error {
			return relay.Run(groupCtx, fan.DeliverLocal)
		})
	}

	g.Go(func() error {
		stopSignal := make(chan os.Signal, 1)
		signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignal)
		select {
		case sig := <-stopSignal:
			appLogger.Info("Received termination signal", "signal", sig.String())
			mainCancel()
		case <-groupCtx.Done():
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		appLogger.Info("Initiating graceful shutdown...")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("HTTP server shutdown failed", "error", err)
		}
		grpcServer.GracefulStop()
		return nil
	})

	appLogger.Info("Service is ready and running.")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Service group encountered an error", "error", err)
		return err
	}
	appLogger.Info("Service shutdown complete.")
	return nil
}

func openStore(ctx context.Context, appLogger *slog.Logger) (repositories, func(), error) {
	if cfg.StoreDriver == "memory" {
		appLogger.Warn("Using in-memory store; data is lost on restart")
		store := memory.NewStore()
		return repositories{
			requests:  store.Requests(),
			offers:    store.Offers(),
			providers: store.Providers(),
			endpoints: store.Endpoints(),
		}, func() {}, nil
	}

	pool, err := database.NewDBPool(ctx, cfg.PostgresDSN, cfg.PoolSettings())
	if err != nil {
		return repositories{}, nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if autoMigrate {
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return repositories{}, nil, err
		}
		appLogger.Info("Schema migrated")
	}
	appLogger.Info("Database connection pool initialized")
	return repositories{
		requests:  postgres.NewPgRequestRepository(pool, appLogger),
		offers:    postgres.NewPgOfferRepository(pool, appLogger),
		providers: postgres.NewPgProviderRepository(pool, appLogger),
		endpoints: postgres.NewPgEndpointRepository(pool, appLogger),
	}, pool.Close, nil
}

func newGateway(ctx context.Context, appLogger *slog.Logger) (push.Gateway, error) {
	if cfg.PushDriver == "fcm" {
		gw, err := push.NewFCMGatewayFromCredentials(ctx, appLogger, cfg.FCMProjectID, cfg.FCMCredentialsFile, cfg.PushTimeout)
		if err != nil {
			return nil, fmt.Errorf("initialising FCM gateway: %w", err)
		}
		appLogger.Info("Push gateway ready", "driver", "fcm", "project_id", cfg.FCMProjectID)
		return gw, nil
	}
	appLogger.Info("Push gateway ready", "driver", "log")
	return push.NewLogGateway(appLogger), nil
}
