package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/linqiu/chatdesk/backend/internal/config"
	"github.com/linqiu/chatdesk/backend/internal/handler"
	"github.com/linqiu/chatdesk/backend/internal/service/ai"
	"github.com/linqiu/chatdesk/backend/internal/service/chat"
	"github.com/linqiu/chatdesk/backend/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Restore persisted sessions before accepting traffic.
	fileStore := storage.NewFileStore(cfg.Store.Path)
	sessions := fileStore.Load()
	log.Printf("loaded %d session(s) from %s", len(sessions), cfg.Store.Path)

	chatSvc := chat.NewService(sessions, fileStore)

	gateway := ai.NewClient(cfg.AI)
	if gateway.Enabled() {
		log.Printf("completion gateway targeting %s (model %s)", cfg.AI.BaseURL, cfg.AI.Model)
	} else {
		log.Println("no completion endpoint configured, replying in demo mode")
	}

	router := handler.NewRouter(chatSvc, gateway)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("chat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
