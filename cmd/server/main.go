package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/health-companion/server/internal/api"
	"github.com/health-companion/server/internal/config"
	"github.com/health-companion/server/internal/content"
	"github.com/health-companion/server/internal/logging"
	"github.com/health-companion/server/internal/reply"
	"github.com/health-companion/server/internal/session"
	"github.com/health-companion/server/internal/static"
	"github.com/health-companion/server/internal/sysinfo"
	"github.com/health-companion/server/internal/typewriter"
	"github.com/health-companion/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	host := flag.String("host", "", "Override listen host")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	} else if err := cfg.ApplyEnv(os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid environment: %v\n", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	resolver := reply.NewResolver(reply.Table(cfg.Chat.Replies), cfg.Chat.Fallback)
	scheduler := typewriter.New(cfg.Chat.ChunkInterval, cfg.Chat.ChunkSize)
	store := session.NewStore()
	hub := ws.NewHub(cfg.Server.MaxConnections)

	chat := ws.NewServer(hub, store, resolver, scheduler, ws.Options{
		SendBuffer:   cfg.Chat.SendBuffer,
		PingInterval: cfg.Chat.PingInterval,
		PongWait:     cfg.Chat.PongWait,
	}, cfg.Server.AllowedOrigins, logger.Named("ws"))

	collector, err := sysinfo.New()
	if err != nil {
		logger.Warn("system status unavailable", zap.Error(err))
	}
	var status api.StatusCollector
	if collector != nil {
		status = collector
	}

	router := mux.NewRouter()
	chat.SetupRoutes(router)
	api.New(content.MustLoad(), store, status, logger.Named("api")).Register(router)
	if static.Available(cfg.Server.ImagesDir) {
		router.PathPrefix("/images/").Handler(static.Handler("/images/", cfg.Server.ImagesDir))
	} else {
		logger.Warn("images directory not found, /images disabled", zap.String("dir", cfg.Server.ImagesDir))
	}

	handler := api.AccessLog(logger.Named("http"), router)
	handler = api.CORS(cfg.Server.AllowedOrigins)(handler)
	handler = api.Recover(logger)(handler)

	ln, err := ws.Listen(cfg.Addr())
	if err != nil {
		logger.Fatal("failed to bind", zap.Error(err))
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening",
			zap.String("addr", ln.Addr().String()),
			zap.Int("reply_entries", resolver.Len()),
			zap.Duration("chunk_interval", scheduler.Interval()),
			zap.Int("chunk_size", scheduler.ChunkSize()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down", zap.Int("clients", hub.ClientCount()))
	hub.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
