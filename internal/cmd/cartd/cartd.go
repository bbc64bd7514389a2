// Package cartd parses daemon configuration and runs the cart service:
// both SQLite stores, the command/query service, the projection worker, and
// a gRPC health endpoint.
package cartd

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/tkarolak/cartledger/internal/cart/app"
	"github.com/tkarolak/cartledger/internal/cart/catalog"
	"github.com/tkarolak/cartledger/internal/cart/projection"
	"github.com/tkarolak/cartledger/internal/cart/storage/sqlite"
	"github.com/tkarolak/cartledger/internal/cart/worker"
	entrypoint "github.com/tkarolak/cartledger/internal/platform/cmd"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// Config holds cartd configuration.
type Config struct {
	Port              int           `env:"CARTLEDGER_PORT" envDefault:"8090"`
	Addr              string        `env:"CARTLEDGER_ADDR"`
	EventsDBPath      string        `env:"CARTLEDGER_EVENTS_DB_PATH" envDefault:"data/cartledger-events.db"`
	ProjectionsDBPath string        `env:"CARTLEDGER_PROJECTIONS_DB_PATH" envDefault:"data/cartledger-projections.db"`
	CatalogPath       string        `env:"CARTLEDGER_CATALOG_PATH"`
	PollInterval      time.Duration `env:"CARTLEDGER_OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	OutboxBatchSize   int           `env:"CARTLEDGER_OUTBOX_BATCH_SIZE" envDefault:"50"`
	RetryAttempts     int           `env:"CARTLEDGER_COMMAND_RETRY_ATTEMPTS" envDefault:"3"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The cartd listen port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The cartd listen address (overrides -port)")
	fs.StringVar(&cfg.EventsDBPath, "events-db", cfg.EventsDBPath, "Path to the event journal database")
	fs.StringVar(&cfg.ProjectionsDBPath, "projections-db", cfg.ProjectionsDBPath, "Path to the read model database")
	fs.StringVar(&cfg.CatalogPath, "catalog", cfg.CatalogPath, "Path to the product catalog JSON file")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Projection outbox poll interval")
	fs.IntVar(&cfg.OutboxBatchSize, "outbox-batch", cfg.OutboxBatchSize, "Projection outbox batch size")
	fs.IntVar(&cfg.RetryAttempts, "retry-attempts", cfg.RetryAttempts, "Command append retry budget")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Server hosts the cart daemon: stores, service, projector, health endpoint.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	events     *sqlite.EventStore
	readModel  *sqlite.ReadModelStore
	service    *app.Service
	projector  *worker.Projector
}

// New opens stores and builds a configured daemon listening per cfg.
func New(cfg Config) (*Server, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.Port)
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	events, err := sqlite.OpenEvents(cfg.EventsDBPath)
	if err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("open events store: %w", err)
	}
	readModel, err := sqlite.OpenProjections(cfg.ProjectionsDBPath)
	if err != nil {
		_ = listener.Close()
		_ = events.Close()
		return nil, fmt.Errorf("open projections store: %w", err)
	}

	lookup, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		_ = listener.Close()
		_ = events.Close()
		_ = readModel.Close()
		return nil, err
	}

	applier := projection.NewApplier(readModel)
	service, err := app.NewService(app.Params{
		Events:      events,
		ReadModel:   readModel,
		Catalog:     lookup,
		Applier:     applier,
		MaxAttempts: cfg.RetryAttempts,
	})
	if err != nil {
		_ = listener.Close()
		_ = events.Close()
		_ = readModel.Close()
		return nil, fmt.Errorf("build cart service: %w", err)
	}
	projector, err := worker.NewProjector(events, applier.Apply, worker.Config{
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.OutboxBatchSize,
	})
	if err != nil {
		_ = listener.Close()
		_ = events.Close()
		_ = readModel.Close()
		return nil, fmt.Errorf("build projector: %w", err)
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		events:     events,
		readModel:  readModel,
		service:    service,
		projector:  projector,
	}, nil
}

func loadCatalog(path string) (catalog.Lookup, error) {
	if path == "" {
		log.Printf("no catalog file configured; every add rejects with product not found")
		return catalog.NewStatic(), nil
	}
	lookup, err := catalog.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return lookup, nil
}

// Service exposes the command/query surface for in-process consumers.
func (s *Server) Service() *app.Service {
	return s.service
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve runs the health endpoint and the projection worker until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	workerCtx, stopWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := s.projector.Run(workerCtx); err != nil && workerCtx.Err() == nil {
			log.Printf("projection worker stopped: %v", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()
	log.Printf("cartd listening on %s", s.Addr())

	select {
	case <-ctx.Done():
		s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		s.grpcServer.GracefulStop()
		<-serveErr
	case err := <-serveErr:
		stopWorker()
		<-workerDone
		s.closeStores()
		return err
	}

	stopWorker()
	<-workerDone
	s.closeStores()
	return nil
}

func (s *Server) closeStores() {
	if err := s.readModel.Close(); err != nil {
		log.Printf("close projections store: %v", err)
	}
	if err := s.events.Close(); err != nil {
		log.Printf("close events store: %v", err)
	}
}

// Run starts the cart daemon.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceCartd, func(ctx context.Context) error {
		server, err := New(cfg)
		if err != nil {
			return err
		}
		return server.Serve(ctx)
	})
}
