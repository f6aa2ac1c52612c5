/**
 * @description
 * This is the main entry point for the charge service. It is responsible for
 * initializing all components of the service, including configuration, the charge
 * store, the admission counter store, the event broker, the core application
 * service, the expiration sweeper and the HTTP server. It wires everything together
 * and starts the service.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/jackc/pgx/v5, github.com/boltdb/bolt (via internal/store): Charge storage.
 * - github.com/redis/go-redis/v9: Admission counters and bans.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/rabbitmq: Charge lifecycle events.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alvaromashni/nawat-api-sub000/internal/admission"
	"github.com/alvaromashni/nawat-api-sub000/internal/api"
	"github.com/alvaromashni/nawat-api-sub000/internal/app"
	"github.com/alvaromashni/nawat-api-sub000/internal/config"
	"github.com/alvaromashni/nawat-api-sub000/internal/metrics"
	"github.com/alvaromashni/nawat-api-sub000/internal/store"
	"github.com/alvaromashni/nawat-api-sub000/pkg/qrimage"
	rmrabbit "github.com/alvaromashni/nawat-api-sub000/pkg/rabbitmq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"starting charge-service\" port=%s store=%s", cfg.ServerPort, cfg.StoreDriver)

	repository, closeRepository, err := openRepository(cfg)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"charge store init failed\" driver=%s err=%v", cfg.StoreDriver, err)
	}
	defer closeRepository()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// Initialize the RabbitMQ producer to publish lifecycle events.
	var publisher rmrabbit.Publisher = &rmrabbit.EventProducerFallback{}
	if cfg.RabbitMQURL == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; charge events disabled\" env=RABBITMQ_URL")
	} else if producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, cfg.ChargeEventsExchange); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		defer producer.Close()
		publisher = producer
		log.Printf("level=info component=bootstrap msg=\"rabbitmq producer connected\" exchange=%s", cfg.ChargeEventsExchange)
	}

	// A missing or unreachable Redis leaves the controller without a store, which admits everything.
	var admissionStore admission.Store
	if redisClient := connectRedis(cfg.RedisURL); redisClient != nil {
		defer redisClient.Close()
		admissionStore = admission.NewRedisStore(redisClient)
	}
	controller := admission.NewController(admissionStore, cfg.RedisAdmissionPrefix, collector)
	policy := app.AdmissionPolicyFromConfig(cfg)

	chargeService := app.NewService(repository, qrimage.NewPNGRenderer(cfg.QRImageSize), publisher, collector, cfg)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	sweeper := app.NewExpirationSweeper(chargeService, logger, cfg.ExpirationSweepInterval)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"expiration sweeper start failed\" err=%v", err)
	}

	if cfg.JWKSURL == "" {
		log.Println("level=warn component=bootstrap msg=\"jwks url missing; every authenticated request will be rejected\" env=JWKS_URL")
	}
	auth := api.JWTAuthMiddleware(api.NewJWKSKeySource(cfg.JWKSURL, 5*time.Minute), api.AuthOptions{
		Audience: cfg.JWTAudience,
		Issuer:   cfg.JWTIssuer,
	})
	handlers := api.NewChargeHandlers(chargeService, controller, policy, app.WithAdmission(controller, policy, collector, chargeService.FindIssued, chargeService.IssueCharge))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           api.ChargeRoutes(handlers, auth, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	select {
	case <-sweeper.Stop().Done():
	case <-ctx.Done():
		log.Println("level=warn component=sweeper msg=\"sweep still running at shutdown\"")
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// openRepository opens the configured charge store and returns its close function.
func openRepository(cfg config.Config) (store.Repository, func(), error) {
	if cfg.StoreDriver == config.StoreDriverBolt {
		repo, err := store.NewBoltRepository(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("level=info component=bootstrap msg=\"bolt store opened\" path=%s", cfg.BoltPath)
		return repo, func() { repo.Close() }, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database url parse failed: %w", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	repo := store.NewPostgresRepository(dbpool)
	if err := repo.EnsureSchema(ctx); err != nil {
		dbpool.Close()
		return nil, nil, fmt.Errorf("schema setup failed: %w", err)
	}
	log.Println("level=info component=bootstrap msg=\"database connected\"")
	return repo, dbpool.Close, nil
}

// connectRedis returns a live client, or nil when Redis is not configured or not reachable.
func connectRedis(redisURL string) *redis.Client {
	if redisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; issuance admission control disabled\" env=REDIS_URL")
		return nil
	}
	redisOptions, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; issuance admission control disabled\" err=%v", err)
		return nil
	}
	client := redis.NewClient(redisOptions)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; issuance admission control disabled\" err=%v", err)
		client.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return client
}
