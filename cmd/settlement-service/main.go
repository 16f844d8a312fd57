/**
 * @description
 * This is the main entry point for the settlement-service. It loads configuration,
 * runs database migrations, connects to PostgreSQL, Redis, RabbitMQ and both chains,
 * wires the status oracle and the settlement state machine, resumes tracking for
 * in-flight deliveries and serves the HTTP API until it receives a shutdown signal.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Cross-replica payment locks.
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - internal/api, internal/app, internal/config, internal/oracle, internal/store: Service packages.
 * - pkg/chain, pkg/rabbitmq: Chain and message broker clients.
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

	"github.com/FOwen123/Chromion-2025/internal/api"
	"github.com/FOwen123/Chromion-2025/internal/app"
	"github.com/FOwen123/Chromion-2025/internal/config"
	"github.com/FOwen123/Chromion-2025/internal/domain"
	"github.com/FOwen123/Chromion-2025/internal/oracle"
	"github.com/FOwen123/Chromion-2025/internal/store"
	"github.com/FOwen123/Chromion-2025/pkg/chain"
	rmrabbit "github.com/FOwen123/Chromion-2025/pkg/rabbitmq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"invalid configuration\" err=%v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	log.Printf("level=info component=bootstrap msg=\"starting settlement-service\" port=%s", cfg.ServerPort)

	if cfg.RunMigrations {
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database migrations failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"database migrations applied\"")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	var publisher rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		publisher = &rmrabbit.EventProducerFallback{}
	} else {
		publisher = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}
	defer publisher.Close()

	redisClient := connectRedis(cfg.RedisURL)
	if redisClient != nil {
		defer redisClient.Close()
	}

	dialCtx, cancelDial := context.WithTimeout(context.Background(), 15*time.Second)
	chainClient, err := chain.Dial(dialCtx, cfg.SourceRPCURL, cfg.DestinationRPCURL, chain.Options{
		SenderAddress:            cfg.SenderContractAddress,
		OffRampAddress:           cfg.OffRampContractAddress,
		DestinationEscrowAddress: cfg.DestinationEscrowAddress,
		DestinationChainSelector: cfg.DestinationChainSelector,
		SourceChainID:            cfg.SourceChainID,
		SignerPrivateKey:         cfg.SignerPrivateKey,
		TokenDecimals:            cfg.TokenDecimals,
	})
	cancelDial()
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"chain client init failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"chain client ready\" sender=%s", chainClient.SenderAddress().Hex())

	var sources []oracle.Source
	if len(cfg.OracleStatusEndpoints) > 0 {
		sources = append(sources, oracle.NewHTTPSource(
			cfg.OracleStatusEndpoints,
			time.Duration(cfg.OracleEndpointTimeoutMs)*time.Millisecond,
			cfg.OracleRequestsPerSecond,
		))
	} else {
		log.Println("level=warn component=bootstrap msg=\"no oracle status endpoints configured; using on-chain status only\" env=ORACLE_STATUS_ENDPOINTS")
	}
	sources = append(sources, oracle.NewChainSource(chainClient))
	resolver := oracle.NewResolver(logger, sources...)

	repository := store.NewPostgresRepository(dbpool)
	receiptTimeout := time.Duration(cfg.ReceiptTimeoutSeconds) * time.Second
	settlementService := app.NewService(repository, chainClient, resolver, publisher, logger, app.Options{
		PollInterval:               time.Duration(cfg.PollIntervalSeconds) * time.Second,
		MaxPollAttempts:            cfg.PollMaxAttempts,
		ManualOverrideAfter:        time.Duration(cfg.ManualOverrideAfterSeconds) * time.Second,
		ReceiptTimeout:             receiptTimeout,
		EventExchange:              cfg.SettlementExchange,
		MessageExplorerBaseURL:     cfg.MessageExplorerBaseURL,
		TransactionExplorerBaseURL: cfg.TransactionExplorerBaseURL,
	})
	if redisClient != nil {
		settlementService.SetLocker(app.NewRedisPaymentLocker(redisClient, cfg.RedisLockPrefix))
	}

	// Pick up deliveries left confirming by a previous process.
	resumeCtx, cancelResume := context.WithTimeout(context.Background(), 30*time.Second)
	if resumed, err := settlementService.ResumeAll(resumeCtx); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"initial resume failed\" err=%v", err)
	} else {
		log.Printf("level=info component=bootstrap msg=\"initial resume finished\" resumed=%d", resumed)
	}
	cancelResume()

	scheduler := app.NewScheduler(settlementService, logger, cfg.ReconcileSchedule)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"scheduler start failed\" err=%v", err)
	}

	if rabbitProducer != nil {
		rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; resume requests disabled\" err=%v", err)
		} else {
			defer rabbitConsumer.Close()
			resumeConsumer := app.NewResumeRequestConsumer(settlementService, logger)
			bindings := map[string]func([]byte) bool{
				domain.EventPaymentResumeRequested: resumeConsumer.HandleMessage,
			}
			if err := rabbitConsumer.ConsumeWithBindings(cfg.SettlementExchange, cfg.ResumeQueue, bindings); err != nil {
				log.Fatalf("level=fatal component=bootstrap msg=\"resume consumer start failed\" err=%v", err)
			}
		}
	}

	handlers := api.NewSettlementHandlers(settlementService)
	router := api.SettlementRoutes(handlers, api.RouterConfig{
		JWKSURL:        cfg.JWKSURL,
		Auth:           api.AuthOptions{Audience: cfg.JWTAudience, Issuer: cfg.JWTIssuer},
		InternalAPIKey: cfg.InternalAPIKey,
		AllowedOrigins: api.SplitOrigins(cfg.CORSAllowedOrigins),
		Metrics:        app.MetricsHandler(),
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
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
	<-scheduler.Stop().Done()
	if err := settlementService.Shutdown(ctx); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"tracking tasks did not stop in time\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// connectRedis returns nil when Redis is not configured or unreachable; payment
// locks then fall back to the in-process guard.
func connectRedis(redisURL string) *redis.Client {
	if redisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; cross-replica payment locks disabled\" env=REDIS_URL")
		return nil
	}
	redisOptions, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; cross-replica payment locks disabled\" err=%v", err)
		return nil
	}
	client := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; cross-replica payment locks disabled\" err=%v", err)
		client.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return client
}
