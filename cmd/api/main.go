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

	"github.com/barberclick/whatsapp-gateway/internal/config"
	"github.com/barberclick/whatsapp-gateway/internal/driver/meow"
	"github.com/barberclick/whatsapp-gateway/internal/handler"
	"github.com/barberclick/whatsapp-gateway/internal/service/bot"
	"github.com/barberclick/whatsapp-gateway/internal/service/wa"
	"github.com/barberclick/whatsapp-gateway/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	creds, err := store.NewCredentialStore(cfg.WhatsApp.AuthDir)
	if err != nil {
		log.Fatalf("failed to open credential store: %v", err)
	}

	var decider wa.ReplyDecider
	if cfg.Bot.Enabled() {
		decider = bot.New(cfg.Bot.URL, cfg.Bot.Token)
		log.Println("inbound bot routing enabled")
	} else {
		log.Println("BOT_HANDLER_URL not set, inbound messages will be logged and dropped")
	}

	manager := wa.NewManager(meow.NewDialer(creds), creds, decider, wa.Config{
		QRTimeout:         cfg.WhatsApp.QRTimeout,
		ReconnectDelay:    cfg.WhatsApp.ReconnectDelay,
		KeepAliveInterval: cfg.WhatsApp.KeepAliveInterval,
	})
	defer manager.Close()

	// Sessions with saved credentials reconnect without a new QR handshake.
	manager.RestoreAll(ctx)
	manager.StartKeepAlive()

	router := handler.NewRouter(manager)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("WhatsApp gateway listening on %s", serverCfg.Addr)
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
