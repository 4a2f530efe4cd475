// Command kangaroo-coordinatord runs the Pollard-kangaroo coordination
// server: the HTTP request surface of internal/api wired to a single
// internal/coordinator.Coordinator instance, backed by a buntdb file (or an
// in-memory store for --db=:memory:).
//
// Configuration is a declarative kong CLI; every flag has an
// environment-variable fallback so COORDINATOR_-style overrides work
// alongside explicit flags.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rckangaroo/coordinator/internal/api"
	"github.com/rckangaroo/coordinator/internal/coordinator"
	"github.com/rckangaroo/coordinator/internal/curveoracle"
	"github.com/rckangaroo/coordinator/internal/reaper"
	"github.com/rckangaroo/coordinator/internal/storage"
)

var cli struct {
	Host       string        `help:"Listen host." default:"0.0.0.0" env:"COORDINATOR_HOST"`
	Port       int           `help:"Listen port." default:"8080" env:"COORDINATOR_PORT"`
	DB         string        `help:"buntdb file path, or :memory: for a non-persistent store." default:"kangaroo.db" env:"COORDINATOR_DB"`
	Curve      string        `help:"Curve oracle: 'secp256k1' for full verification, 'stub' for structural-only." default:"secp256k1" enum:"secp256k1,stub" env:"COORDINATOR_CURVE"`
	LogLevel   string        `help:"zap log level." default:"info" enum:"debug,info,warn,error" env:"COORDINATOR_LOG_LEVEL"`
	ReapAfter  time.Duration `help:"Requeue assigned chunks idle longer than this back to pending. 0 disables the reaper." default:"0" env:"COORDINATOR_REAP_AFTER"`
	ReapPeriod time.Duration `help:"How often the reaper sweeps for stale chunks." default:"1m" env:"COORDINATOR_REAP_PERIOD"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("kangaroo-coordinatord"),
		kong.Description("Coordination server for a distributed Pollard-kangaroo ECDLP search."),
	)

	logger := mustLogger(cli.LogLevel)
	defer logger.Sync()

	backend, err := openStore(cli.DB)
	if err != nil {
		logger.Fatal("failed to open storage backend", zap.Error(err), zap.String("db", cli.DB))
	}
	defer backend.Close()

	oracle := openOracle(cli.Curve)

	coord := coordinator.New(backend, oracle, logger)

	reg := prometheus.NewRegistry()
	metrics := api.NewMetrics(reg)
	srv := api.New(coord, logger, metrics)

	addr := cli.Host + ":" + strconv.Itoa(cli.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var rp *reaper.Reaper
	ctx, cancelReaper := context.WithCancel(context.Background())
	if cli.ReapAfter > 0 {
		rp = reaper.New(coord.Ledger(), logger, cli.ReapPeriod, cli.ReapAfter)
		rp.Start(ctx)
		logger.Info("chunk reaper enabled", zap.Duration("reap_after", cli.ReapAfter), zap.Duration("period", cli.ReapPeriod))
	}

	go func() {
		logger.Info("kangaroo-coordinatord listening", zap.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	if rp != nil {
		rp.Stop()
	}
	cancelReaper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	logger.Info("kangaroo-coordinatord stopped")
}

func openStore(path string) (storage.Store, error) {
	if path == ":memory:" {
		return storage.NewMemoryStore(), nil
	}
	return storage.NewBuntStore(path)
}

func openOracle(name string) curveoracle.Oracle {
	if name == "stub" {
		return curveoracle.NewStubOracle()
	}
	return curveoracle.NewSecp256k1Oracle()
}

func mustLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}

