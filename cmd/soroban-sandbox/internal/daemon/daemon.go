package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stellar/go-stellar-sdk/support/log"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/config"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/db"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/engine/builtin"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/sandbox"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/txstore"
)

const (
	defaultReadTimeout         = 5 * time.Second
	defaultShutdownGracePeriod = 10 * time.Second
)

type Daemon struct {
	logger          *log.Entry
	sandbox         *sandbox.Exclusive
	jsonRPCHandler  *JSONRPCHandler
	metricsRegistry *prometheus.Registry
	server          *http.Server
	adminServer     *http.Server
	listener        net.Listener
	adminListener   net.Listener
	closeOnce       sync.Once
	closeError      error
	done            chan struct{}
	closers         []func() error
}

// MustNew configures logger from cfg and builds a Daemon, exiting the process
// on failure.
func MustNew(cfg *config.Config, logger *log.Entry) *Daemon {
	logger.SetLevel(cfg.LogLevel)
	if cfg.LogFormat == config.LogFormatJSON {
		logger.UseJSONFormatter()
	}

	daemon, err := New(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("could not start the sandbox")
	}
	return daemon
}

func New(cfg *config.Config, logger *log.Entry) (*Daemon, error) {
	daemon := &Daemon{
		logger:          logger,
		metricsRegistry: prometheus.NewRegistry(),
		done:            make(chan struct{}),
	}
	daemon.registerMetrics()

	records, err := daemon.newTransactionStore(cfg)
	if err != nil {
		return nil, err
	}

	sb, err := sandbox.New(sandbox.Params{
		Logger:                 logger,
		Engine:                 builtin.New(logger),
		Records:                records,
		NetworkPassphrase:      cfg.NetworkPassphrase,
		LedgerInfo:             cfg.LedgerInfo(),
		EnableDiagnosticEvents: cfg.EnableDiagnosticEvents,
		FeeStatsWindow:         cfg.FeeStatsWindow,
		MetricsRegistry:        daemon.metricsRegistry,
	})
	if err != nil {
		_ = daemon.runClosers()
		return nil, err
	}
	daemon.sandbox = sandbox.NewExclusive(sb)

	jsonRPCHandler, err := NewJSONRPCHandler(HandlerParams{
		Sandbox:                     daemon.sandbox,
		Logger:                      logger,
		CorsAllowedOrigins:          cfg.CorsAllowedOrigins,
		MaxRequestExecutionDuration: cfg.MaxRequestExecutionDuration,
		MaxEventsLimit:              uint(cfg.MaxEventsLimit),
		DefaultEventsLimit:          uint(cfg.DefaultEventsLimit),
		MetricsRegistry:             daemon.metricsRegistry,
	})
	if err != nil {
		_ = daemon.runClosers()
		return nil, err
	}
	daemon.jsonRPCHandler = &jsonRPCHandler

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Handle("/", daemon.jsonRPCHandler)
	daemon.server = &http.Server{
		Addr:        cfg.Endpoint,
		Handler:     router,
		ReadTimeout: defaultReadTimeout,
	}

	if cfg.AdminEndpoint != "" {
		adminRouter := chi.NewRouter()
		adminRouter.Mount("/debug", middleware.Profiler())
		adminRouter.Handle("/metrics", promhttp.HandlerFor(daemon.metricsRegistry, promhttp.HandlerOpts{}))
		daemon.adminServer = &http.Server{
			Addr:        cfg.AdminEndpoint,
			Handler:     adminRouter,
			ReadTimeout: defaultReadTimeout,
		}
	}

	return daemon, nil
}

func (d *Daemon) newTransactionStore(cfg *config.Config) (txstore.Store, error) {
	switch cfg.TransactionStore {
	case config.TransactionStoreSQLite:
		store, err := db.NewTransactionStore(context.Background(), d.logger)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, store.Close)
		return store, nil
	default:
		return txstore.NewMemoryStore(), nil
	}
}

func (d *Daemon) registerMetrics() {
	buildInfoGauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: sandbox.MetricsNamespace, Subsystem: "build", Name: "info"},
		[]string{"version", "goversion", "commit", "branch", "build_timestamp"},
	)
	buildInfoGauge.With(prometheus.Labels{
		"version":         config.Version,
		"commit":          config.CommitHash,
		"branch":          config.Branch,
		"build_timestamp": config.BuildTimestamp,
		"goversion":       runtime.Version(),
	}).Inc()

	d.metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		buildInfoGauge,
	)
}

func (d *Daemon) MetricsRegistry() *prometheus.Registry {
	return d.metricsRegistry
}

func (d *Daemon) Sandbox() *sandbox.Exclusive {
	return d.sandbox
}

// Start binds the listeners and serves in the background.
func (d *Daemon) Start() error {
	listener, err := net.Listen("tcp", d.server.Addr)
	if err != nil {
		return err
	}
	d.listener = listener
	d.logger.WithField("addr", listener.Addr().String()).Info("starting HTTP server")
	go d.serve(d.server, listener)

	if d.adminServer != nil {
		adminListener, err := net.Listen("tcp", d.adminServer.Addr)
		if err != nil {
			_ = listener.Close()
			return err
		}
		d.adminListener = adminListener
		d.logger.WithField("addr", adminListener.Addr().String()).Info("starting admin HTTP server")
		go d.serve(d.adminServer, adminListener)
	}
	return nil
}

func (d *Daemon) serve(server *http.Server, listener net.Listener) {
	if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		d.logger.WithError(err).WithField("addr", listener.Addr().String()).Error("http server exited")
	}
}

// Endpoint is the address the JSON RPC server listens on, once started.
func (d *Daemon) Endpoint() string {
	if d.listener == nil {
		return d.server.Addr
	}
	return d.listener.Addr().String()
}

// AdminEndpoint is the address of the admin server, or empty if disabled.
func (d *Daemon) AdminEndpoint() string {
	if d.adminListener == nil {
		return ""
	}
	return d.adminListener.Addr().String()
}

func (d *Daemon) Close() error {
	d.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownGracePeriod)
		defer cancel()
		var closeErrors []error
		if d.listener != nil {
			if err := d.server.Shutdown(ctx); err != nil {
				d.logger.WithError(err).Error("error during HTTP server shutdown")
				closeErrors = append(closeErrors, err)
			}
		}
		if d.adminListener != nil {
			if err := d.adminServer.Shutdown(ctx); err != nil {
				d.logger.WithError(err).Error("error during admin HTTP server shutdown")
				closeErrors = append(closeErrors, err)
			}
		}
		d.jsonRPCHandler.Close()
		if err := d.runClosers(); err != nil {
			closeErrors = append(closeErrors, err)
		}
		close(d.done)
		d.closeError = errors.Join(closeErrors...)
	})
	return d.closeError
}

func (d *Daemon) runClosers() error {
	var closeErrors []error
	for _, closer := range d.closers {
		if err := closer(); err != nil {
			closeErrors = append(closeErrors, err)
		}
	}
	d.closers = nil
	return errors.Join(closeErrors...)
}

// Run serves until SIGINT or SIGTERM is received.
func (d *Daemon) Run() {
	if err := d.Start(); err != nil {
		d.logger.WithError(err).Fatal("could not start the sandbox")
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-signals:
		if err := d.Close(); err != nil {
			d.logger.WithError(err).Error("could not shut down cleanly")
		}
	case <-d.done:
	}
}
