package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	log "github.com/sirupsen/logrus"

	"launchpad/internal/admission"
	"launchpad/internal/business"
	"launchpad/internal/middleware"
	"launchpad/internal/routes"
	"launchpad/internal/store"
	"launchpad/pkg/config"
	"launchpad/pkg/solana"
	"launchpad/schedule"
)

const (
	shutdownTimeout = 30 * time.Second
	rpcCheckTimeout = 2 * time.Second
)

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)

	cfg, err := config.LoadAppConfig()
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	// Initialize database
	config.InitDB()

	deps := business.Deps{
		Store:         store.New(config.DB),
		FeeWallet:     cfg.FeeWallet,
		LaunchFee:     cfg.LaunchFee,
		IssueTimeout:  cfg.IssueTimeout,
		SettleTimeout: cfg.SettleTimeout,
	}

	// Settlement events are optional; without RabbitMQ they are only logged
	var publisher *config.Publisher
	if os.Getenv("RABBITMQ_HOST") != "" {
		config.InitRabbitMQ()
		defer config.RabbitMQ.Close()

		if publisher, err = config.NewPublisher(); err != nil {
			log.Fatal("Failed to create publisher: ", err)
		}
		defer publisher.Close()
		deps.Publisher = publisher
		log.Info("RabbitMQ initialized successfully")
	} else {
		log.Warn("RabbitMQ not configured, settlement events will not be published")
	}

	hotWallet, err := cfg.HotWallet()
	if err != nil {
		log.Fatal("Failed to load hot wallet: ", err)
	}

	rpcURL, err := solana.SelectRPC(context.Background(), cfg.SolanaRPC, rpcCheckTimeout)
	if err != nil {
		log.Fatal("Failed to select Solana RPC: ", err)
	}
	client := rpc.New(rpcURL)
	ledger := solana.NewRPCLedger(client)
	issuer := solana.NewIssuer(client, hotWallet)
	log.WithField("authority", issuer.Authority().String()).Info("Issuer ready")

	queue := admission.NewQueue(cfg.TaskTimeout)
	if err := queue.Start(); err != nil {
		log.Fatal("Failed to start admission queue: ", err)
	}

	deps.Verifier = solana.NewPaymentVerifier(ledger, cfg.FinalityTimeout)
	deps.Issuer = issuer
	deps.Balances = ledger
	deps.Queue = queue
	svc := business.NewService(deps)

	statusSync, err := schedule.NewStatusSync(cfg.StatusSyncCron, svc, cfg.TaskTimeout)
	if err != nil {
		log.Fatal("Invalid STATUS_SYNC_CRON: ", err)
	}
	statusSync.Start()

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: cfg.MintRateLimit,
		Burst:             cfg.MintRateBurst,
	})

	r := routes.SetupRouter(svc, routes.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		MintLimiter:    limiter,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("Server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	<-statusSync.Stop().Done()

	// queued purchases finish before the listener closes; new ones are refused
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.TaskTimeout+shutdownTimeout)
	defer cancelDrain()
	if err := queue.Stop(drainCtx); err != nil {
		log.WithError(err).Error("Admission queue did not drain")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server shutdown failed")
	}
}
