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
	"syscall"
	"time"

	"taskmaster/internal/api"
	"taskmaster/internal/config"
	"taskmaster/internal/pkg/logger"
	"taskmaster/internal/pkg/mailqueue"
	"taskmaster/internal/pkg/notify"
)

func main() {
	configPath := flag.String("config", "configs/config.json", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewDefault(cfg.App.LogLevel)
	log.Info("starting taskmaster api",
		slog.String("env", cfg.App.Env),
		slog.String("addr", cfg.App.HTTPAddr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := api.NewServer(cfg, log)
	if err != nil {
		log.Error("init server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer server.Close()

	if err := server.SeedAdminUser(ctx); err != nil {
		log.Error("seed admin user failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 启用队列模式时，在本进程内跑一个邮件消费者
	if cfg.App.EnableMailQueue {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "api"
		}
		consumer, err := mailqueue.NewConsumer(server.Redis(), log,
			cfg.App.MailQueueStream, cfg.App.MailQueueGroup, hostname)
		if err != nil {
			log.Error("init mail consumer failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		smtp := notify.NewEmailNotifier(&cfg.Email, cfg.App.PublicURL, log)
		go consumer.Run(ctx, smtp)
	}

	httpSrv := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           server.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error("http server failed", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", slog.String("error", err.Error()))
	}

	log.Info("taskmaster api stopped")
}
