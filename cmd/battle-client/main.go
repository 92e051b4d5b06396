package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/campusguess/battle-client/internal/config"
	"github.com/campusguess/battle-client/internal/httpapi"
	"github.com/campusguess/battle-client/internal/hub"
	"github.com/campusguess/battle-client/internal/lobby"
	"github.com/campusguess/battle-client/internal/logging"
	"github.com/campusguess/battle-client/internal/questions"
	"github.com/campusguess/battle-client/internal/session"
	"github.com/campusguess/battle-client/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "battle-client: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logging.New(cfg.LogLevel, cfg.LogDevelopment, stdout)
	defer log.Sync() //nolint:errcheck

	httpClient := &http.Client{}
	dialer, err := transport.NewDialer(cfg.Transports, httpClient)
	if err != nil {
		return err
	}
	conn := transport.New(dialer, transport.Options{
		BaseURL:           cfg.SocketBaseURL,
		ReconnectDelay:    cfg.ReconnectDelay,
		HeartbeatOutgoing: cfg.Heartbeat,
		HeartbeatIncoming: cfg.Heartbeat,
		ConnectTimeout:    cfg.ConnectTimeout,
		Logger:            log,
	})

	store := session.New(conn, session.Options{LogSize: cfg.EventLogSize, Logger: log})
	watch, unwatch := store.Watch()
	defer unwatch()

	h := hub.NewHub(ctx, store, watch, lobby.Options{Logger: log})
	qs := questions.New(questions.Options{
		BaseURL:    cfg.APIBaseURL,
		Token:      cfg.Token,
		HTTPClient: httpClient,
		Logger:     log,
	})

	if cfg.Username != "" {
		store.SetIdentity(cfg.Username)
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Session:   store,
			Questions: qs,
			Hub:       h,
			Logger:    log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		select {
		case h.Inbox() <- hub.ShutdownHub{}:
		case <-h.Done():
		}
		store.Close()
		return err
	})
	return g.Wait()
}
