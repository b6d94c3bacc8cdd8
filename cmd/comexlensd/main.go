package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/robfig/cron/v3"

	"comexlens/internal/config"
	"comexlens/internal/providers/comexstat"
	"comexlens/internal/server"
	"comexlens/internal/session"
	"comexlens/internal/store"
	"comexlens/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "comexlens.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "comexlensd failed:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	provider, err := comexstat.New(logger)
	if err != nil {
		return err
	}

	records, err := openStore(cfg.Database.SQLitePath)
	if err != nil {
		return err
	}
	defer records.Close()

	analyzer := session.NewAnalyzer(provider, records, logger)
	analyzer.SetLookbackYears(cfg.Analysis.LookbackYears)

	srv := server.New(analyzer, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var scheduler *cron.Cron
	if cfg.Refresh.Cron != "" {
		scheduler = cron.New()
		_, err := scheduler.AddFunc(cfg.Refresh.Cron, func() {
			if err := srv.Refresh(ctx); err != nil {
				logger.Error("scheduled refresh failed", slog.Any("error", err))
			}
		})
		if err != nil {
			return fmt.Errorf("refresh cron %q: %w", cfg.Refresh.Cron, err)
		}
		scheduler.Start()
		logger.Info("refresh scheduled", slog.String("cron", cfg.Refresh.Cron))
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", cfg.Server.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func openStore(path string) (store.Store, error) {
	if strings.TrimSpace(path) == "" {
		return &store.NopStore{}, nil
	}
	return sqlite.New(path)
}
