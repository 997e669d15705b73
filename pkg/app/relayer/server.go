// Package relayer implements app.Runner for the relayer process.
package relayer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vianetwork/bridge-relayer/pkg/app/httpserver"
	"github.com/vianetwork/bridge-relayer/pkg/config"
	"github.com/vianetwork/bridge-relayer/pkg/db"
	"github.com/vianetwork/bridge-relayer/pkg/evm"
	"github.com/vianetwork/bridge-relayer/pkg/indexer"
	"github.com/vianetwork/bridge-relayer/pkg/pgutil"
	"github.com/vianetwork/bridge-relayer/pkg/relayer"
)

// Version is stamped by the build; the health endpoint reports it.
var Version = "dev"

// TODO: take these from config
const (
	defaultGracefulShutdownTimeout = 30 * time.Second
	defaultHTTPMiddlewareTimeout   = 60 * time.Second
	defaultHTTPReadTimeout         = 15 * time.Second
	defaultHTTPWriteTimeout        = 15 * time.Second
	defaultHTTPIdleTimeout         = 60 * time.Second
)

// Server holds configuration for the relayer process.
type Server struct {
	cfg *config.Config
}

// NewServer initializes a new relayer Server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// Run wires the store, the indexer backend, both chain clients and the
// worker engine, then serves the operational endpoints. It blocks until an
// OS shutdown signal is received or a fatal server error occurs.
func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("nil config")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting Via bridge relayer", zap.String("version", Version))

	pool, err := pgutil.ConnectDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect relayer db: %w", err)
	}
	store := db.NewStore(pool)
	defer func() { _ = store.Close() }()
	logger.Info("Database connection established")

	source, err := s.openIndexer(logger)
	if err != nil {
		return fmt.Errorf("open indexer: %w", err)
	}
	defer func() { _ = source.Close() }()
	if err := source.Ping(ctx); err != nil {
		return fmt.Errorf("indexer unreachable: %w", err)
	}
	logger.Info("Indexer connection established", zap.String("backend", cfg.Indexer.Backend))

	key, err := cfg.Relayer.PrivateKeyBytes()
	if err != nil {
		return fmt.Errorf("relayer key: %w", err)
	}
	viaGas, err := cfg.Via.GasProfile()
	if err != nil {
		return fmt.Errorf("via gas profile: %w", err)
	}

	ethNode, err := evm.Dial(ctx, evm.ChainEthereum, cfg.Ethereum.Endpoints(), cfg.Ethereum.RequestTimeout, logger)
	if err != nil {
		return fmt.Errorf("dial ethereum: %w", err)
	}
	defer ethNode.Close()
	viaNode, err := evm.Dial(ctx, evm.ChainVia, cfg.Via.Endpoints(), cfg.Via.RequestTimeout, logger)
	if err != nil {
		return fmt.Errorf("dial via: %w", err)
	}
	defer viaNode.Close()

	ethSender, err := evm.NewSender(ctx, evm.ChainEthereum, ethNode, key, nil, logger)
	if err != nil {
		return fmt.Errorf("ethereum sender: %w", err)
	}
	viaSender, err := evm.NewSender(ctx, evm.ChainVia, viaNode, key, viaGas, logger)
	if err != nil {
		return fmt.Errorf("via sender: %w", err)
	}

	engine, err := relayer.NewEngine(cfg, relayer.Deps{
		Store:    store,
		Source:   source,
		Ethereum: ethSender,
		Via:      viaSender,
	}, logger)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	s.logBootReport(logger, ethSender, viaGas)

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start relayer engine: %w", err)
	}
	defer engine.Stop()

	router := s.newRouter(store, source, engine, viaGas, logger)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := newHTTPServer(serverAddr, router)

	return httpserver.ServeAndWait(ctx, logger, httpServer, defaultGracefulShutdownTimeout)
}

// openIndexer builds the configured event-source backend: a read-only mirror
// of the subgraph tables, or the remote query endpoint.
func (s *Server) openIndexer(logger *zap.Logger) (indexer.Source, error) {
	cfg := s.cfg
	switch cfg.Indexer.Backend {
	case "graph":
		return indexer.NewGraphSource(&cfg.Indexer, logger), nil
	default:
		pool, err := pgutil.ConnectDB(&cfg.Indexer.Database)
		if err != nil {
			return nil, err
		}
		return indexer.NewPgSource(pool), nil
	}
}

// logBootReport prints the effective non-secret configuration once at
// startup.
func (s *Server) logBootReport(logger *zap.Logger, ethSender *evm.Sender, viaGas *config.GasProfile) {
	cfg := s.cfg
	fields := []zap.Field{
		zap.String("relayer_address", ethSender.Address().Hex()),
		zap.Strings("ethereum_endpoints", cfg.Ethereum.Endpoints()),
		zap.Strings("via_endpoints", cfg.Via.Endpoints()),
		zap.String("ethereum_bridge", cfg.Ethereum.Bridge().Hex()),
		zap.String("via_bridge", cfg.Via.Bridge().Hex()),
		zap.String("indexer_backend", cfg.Indexer.Backend),
		zap.Duration("polling_interval", cfg.Relayer.PollingInterval),
		zap.Int("batch_size", cfg.Relayer.BatchSize),
		zap.Duration("pending_tx_timeout", cfg.Relayer.PendingTimeout),
		zap.Uint64("ethereum_confirmations", cfg.Ethereum.Confirmations),
		zap.Uint64("via_confirmations", cfg.Via.Confirmations),
		zap.Uint64("withdrawal_confirmations", cfg.Relayer.WithdrawalFinalizationConfirmations),
		zap.Bool("l1_batch_finalization", cfg.Relayer.L1BatchFinalizationEnabled),
	}
	if viaGas != nil {
		fields = append(fields,
			zap.String("l2_gas_price", viaGas.Price.String()),
			zap.String("l2_gas_limit", viaGas.Limit.String()),
			zap.String("l2_gas_per_pubdata", viaGas.PerPubdata.String()))
	}
	logger.Info("Relayer configured", fields...)
}

// healthReport is the /health response body.
type healthReport struct {
	Version string                 `json:"version"`
	Ready   bool                   `json:"ready"`
	Store   string                 `json:"store"`
	Indexer string                 `json:"indexer"`
	L2Gas   map[string]string      `json:"l2_gas,omitempty"`
	Workers []relayer.WorkerStatus `json:"workers"`
}

// pinger reports backend reachability for the operational endpoints.
type pinger interface {
	Ping(ctx context.Context) error
}

// engineStatus is the slice of the engine the endpoints read.
type engineStatus interface {
	IsReady() bool
	Health() []relayer.WorkerStatus
}

func (s *Server) newRouter(store pinger, source pinger, engine engineStatus, viaGas *config.GasProfile, logger *zap.Logger) http.Handler {
	cfg := s.cfg

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultHTTPMiddlewareTimeout))

	// NOTE: chi's middleware.Logger logs to stdlib.
	// Keep it temporarily if access logs are useful; replace with zap-based middleware later.
	r.Use(middleware.Logger)

	r.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if !engine.IsReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT_READY"))
			return
		}
		if err := store.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("STORE_UNAVAILABLE"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	})

	r.Get("/health", handleGetHealth(store, source, engine, viaGas, logger))

	if cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics enabled", zap.String("path", "/metrics"))
	}

	return r
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  defaultHTTPReadTimeout,
		WriteTimeout: defaultHTTPWriteTimeout,
		IdleTimeout:  defaultHTTPIdleTimeout,
	}
}

func handleGetHealth(store pinger, source pinger, engine engineStatus, viaGas *config.GasProfile, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		report := healthReport{
			Version: Version,
			Ready:   engine.IsReady(),
			Store:   "ok",
			Indexer: "ok",
			Workers: engine.Health(),
		}
		if err := store.Ping(req.Context()); err != nil {
			report.Store = err.Error()
		}
		if err := source.Ping(req.Context()); err != nil {
			report.Indexer = err.Error()
		}
		if viaGas != nil {
			report.L2Gas = map[string]string{
				"price":       viaGas.Price.String(),
				"limit":       viaGas.Limit.String(),
				"per_pubdata": viaGas.PerPubdata.String(),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(report); err != nil {
			logger.Error("Failed to encode response", zap.Error(err))
		}
	}
}
