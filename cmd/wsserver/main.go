package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/stranger-chat/internal/config"
	"github.com/whisper/stranger-chat/internal/gateway"
	"github.com/whisper/stranger-chat/internal/messaging"
	"github.com/whisper/stranger-chat/internal/metrics"
	"github.com/whisper/stranger-chat/internal/pairing"
	"github.com/whisper/stranger-chat/internal/ratelimit"
	"github.com/whisper/stranger-chat/internal/store"
	"github.com/whisper/stranger-chat/internal/ws"
)

const (
	connectTimeout  = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load(config.DefaultFileName)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	serverConfig := cfg.Server()

	log.Printf("Stranger chat server starting")
	log.Printf("  listen_addr:     %s", serverConfig.ListenAddr)
	log.Printf("  worker_pool:     %d", serverConfig.WorkerPoolSize)
	log.Printf("  max_connections: %d", serverConfig.MaxConnections)
	log.Printf("  read_timeout:    %s", serverConfig.ReadTimeout)
	log.Printf("  write_timeout:   %s", serverConfig.WriteTimeout)
	log.Printf("  heartbeat:       %s", serverConfig.Heartbeat.Interval)
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  nats_url:        %s", cfg.NATSURL)
	log.Printf("  server_name:     %s", cfg.ServerName)
	log.Printf("  admin:           %v", cfg.AdminToken != "")

	// --- Redis (rate limits) ---
	var (
		redisClient *redis.Client
		limiter     *ratelimit.Limiter
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		err := redisClient.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Printf("redis unavailable at %s, rate limiting disabled: %v", cfg.RedisAddr, err)
			redisClient.Close()
			redisClient = nil
		} else {
			limiter = ratelimit.NewLimiter(redisClient)
		}
	}

	// --- PostgreSQL (message log, totals) ---
	var (
		db       *store.Store
		messages pairing.MessageStore
		counters pairing.Counters
		views    gateway.ViewRecorder
	)
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		db, err = store.Open(ctx, cfg.Store())
		cancel()
		if err != nil {
			log.Printf("database unavailable, messages will not be persisted: %v", err)
			db = nil
		} else {
			messages, counters, views = db, db, db
		}
	}

	// --- NATS (admin stats fan-out) ---
	var natsClient *messaging.NATSClient
	if cfg.NATSURL != "" {
		natsClient, err = messaging.NewNATSClient(cfg.NATS())
		if err != nil {
			log.Printf("nats unavailable, admin stats stay local: %v", err)
			natsClient = nil
		}
	}

	dispatcher := ws.NewMessageDispatcher()
	server := ws.NewServer(serverConfig, dispatcher.Dispatch)

	svc := pairing.NewService(gateway.NewNotifier(server), messages, counters)
	gw := gateway.New(svc, server, limiter, views, gateway.Config{AdminToken: cfg.AdminToken})
	gw.Register(dispatcher)

	server.SetAdmit(gw.Admit)
	server.SetOnConnect(gw.OnConnect)
	server.SetOnDisconnect(gw.OnDisconnect)
	server.Handle("/stats", gw.StatsHandler())
	server.Handle("/metrics", metrics.Handler())

	if natsClient != nil {
		svc.Subscribe(messaging.NewStatsPublisher(natsClient, cfg.ServerName))
		if err := natsClient.SubscribeStats(func(ev messaging.StatsEvent) {
			gw.StatsChanged(ev.Stats)
		}); err != nil {
			log.Printf("nats subscribe failed, admin stats stay local: %v", err)
			svc.Subscribe(gw)
		}
	} else {
		svc.Subscribe(gw)
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if natsClient != nil {
			natsClient.Close()
		}
		if db != nil {
			if err := db.Close(); err != nil {
				log.Printf("store close error: %v", err)
			}
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	<-stopped
	log.Printf("server stopped")
}
