package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freekieb7/gravel-fileserver/config"
	"github.com/freekieb7/gravel-fileserver/filesystem"
	"github.com/freekieb7/gravel-fileserver/handler"
	"github.com/freekieb7/gravel-fileserver/http"
	"github.com/freekieb7/gravel-fileserver/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalln(err)
	}
}

func run(ctx context.Context, args []string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Parse(args, os.Stderr)
	if err != nil {
		return err
	}

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.OTLPEndpoint,
		LogLevel:    cfg.LogLevel,
		Output:      os.Stderr,
	})
	if err != nil {
		return err
	}
	logger := tel.Logger
	slog.SetDefault(logger)

	files, err := filesystem.NewLocalFileSystem(cfg.Directory, cfg.IOWorkers)
	if err != nil {
		tel.Shutdown(context.Background())
		return err
	}
	defer files.Close()

	server := http.NewServer(cfg.ServiceName)
	server.ReadTimeout = cfg.ReadTimeout
	server.WriteTimeout = cfg.WriteTimeout
	server.HandlerTimeout = cfg.HandlerTimeout
	server.MaxRequestSize = cfg.MaxRequestSize
	server.Logger = logger
	server.TracerProvider = tel.TracerProvider
	server.MeterProvider = tel.MeterProvider
	server.Propagator = tel.Propagator
	server.ShutdownFunc = tel.Shutdown

	server.Router.Middleware = append(server.Router.Middleware, http.RecoverMiddleware())
	handler.Register(&server.Router, files, tel.MeterProvider)

	logger.Info("serving files", "directory", files.BaseDirectory())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe(ctx, cfg.Addr)
	}()

	served := false
	select {
	case err := <-serveErr:
		served = true
		// Serve only returns on its own when the listener could not be bound.
		if !errors.Is(err, http.ErrServerClosed) {
			tel.Shutdown(context.Background())
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	if !served {
		<-serveErr
	}
	return nil
}
