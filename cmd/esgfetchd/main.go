// Command esgfetchd is the long-running daemon entrypoint: open the
// catalog, build the host pool and writer, and run the engine until a
// shutdown signal arrives. Its shape mirrors cmd/warpd/main.go —
// construct, wire, Start, handle the one top-level error.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/warpdl/esgfetch/internal/catalog"
	"github.com/warpdl/esgfetch/internal/config"
	"github.com/warpdl/esgfetch/internal/engine"
	"github.com/warpdl/esgfetch/internal/hostpool"
	"github.com/warpdl/esgfetch/internal/httpsession"
	"github.com/warpdl/esgfetch/internal/writer"
	"github.com/warpdl/esgfetch/pkg/logger"
)

func main() {
	cfg := config.Default()

	flag.StringVar(&cfg.DatabaseFile, "db", cfg.DatabaseFile, "catalog database path")
	flag.StringVar(&cfg.BasePath, "base-path", cfg.BasePath, "directory downloaded files are written under")
	flag.StringVar(&cfg.CredentialsPath, "credentials", cfg.CredentialsPath, "ESGF client certificate PEM path")
	flag.BoolVar(&cfg.VerifyTLS, "verify-tls", cfg.VerifyTLS, "verify data node TLS certificates")
	flag.IntVar(&cfg.InitialThreadsPerHost, "threads-per-host", cfg.InitialThreadsPerHost, "initial concurrent transfers per data node")
	flag.IntVar(&cfg.MaxTotalThreads, "max-threads", cfg.MaxTotalThreads, "global concurrent transfer cap")
	flag.Parse()

	if err := run(cfg); err != nil {
		fmt.Println("esgfetchd:", err.Error())
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	lg := logger.NewStandardLogger(log.Default())

	store, err := catalog.Open(cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer store.Close()

	w := writer.New(cfg.MaxQueueLen)

	pool := hostpool.New(cfg.InitialThreadsPerHost, func(datanode string) (*httpsession.Session, error) {
		return httpsession.New(cfg.SessionConfig())
	})

	auth := &engine.FileAuthenticator{CredentialsPath: cfg.CredentialsPath}

	eng := engine.New(store, pool, w, auth, lg, engine.Config{
		Username:   cfg.Username,
		Password:   cfg.Password,
		AuthServer: cfg.AuthServer,
		BasePath:   cfg.BasePath,
		BlockSize:  cfg.BlockSize,
		GlobalMax:  cfg.MaxTotalThreads,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		// First signal requests a graceful, quiescent drain; a second
		// escalates to an urgent, abort-and-requeue shutdown.
		<-sigCh
		cancel()
		<-sigCh
		eng.StopNow()
	}()

	return eng.Run(ctx)
}
