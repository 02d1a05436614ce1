package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/pliu/chatty/internal/auth"
	"github.com/pliu/chatty/internal/config"
	"github.com/pliu/chatty/internal/filter"
	"github.com/pliu/chatty/internal/handlers"
	"github.com/pliu/chatty/internal/live"
	"github.com/pliu/chatty/internal/store/sqlstore"
	"github.com/pliu/chatty/internal/welcome"
	"github.com/pliu/chatty/internal/ws"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chatty terminated with error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Moderation is mandatory: no blocklist, no server.
	mask, _ := cfg.MaskRune()
	sanitizer, err := filter.Load(ctx, log, filter.Source{URL: cfg.BlocklistURL, Path: cfg.BlocklistPath}, mask)
	if err != nil {
		return fmt.Errorf("load blocklist: %w", err)
	}

	engine := live.NewEngine(log, cfg.LiveQueryWorkers)
	defer engine.Close()

	store, err := sqlstore.New(cfg.DBDriver, cfg.DBURL,
		sqlstore.WithSanitizer(sanitizer),
		sqlstore.WithNotifier(engine),
	)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	authn := auth.NewAuthenticator(store, auth.NewTokenIssuer(cfg.TokenSecret, cfg.TokenDuration), cfg.BcryptCost, welcome.BotUsername)
	greeter := welcome.NewPolicy(store, log, authn.HashPassword)
	if err := greeter.EnsureBot(ctx); err != nil {
		return fmt.Errorf("create welcome bot: %w", err)
	}

	hub := ws.NewHub(log, cfg.ClientBufferSize)

	userHandler := &handlers.UserHandler{Store: store, Auth: authn, Welcome: greeter, Log: log}
	chatHandler := &handlers.ChatHandler{
		Store:    store,
		Engine:   engine,
		Hub:      hub,
		Auth:     authn,
		PageSize: cfg.MessagePageSize,
		Log:      log,
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.NewRouter(userHandler, chatHandler, authn, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("Starting server", "addr", server.Addr, "driver", cfg.DBDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
