package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"match-coordinator/config"
	"match-coordinator/handlers"
	"match-coordinator/services"
	"match-coordinator/telemetry"
	"match-coordinator/utils"
	"match-coordinator/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "match-coordinator", cfg.OTelEndpoint, cfg.OTelEnabled)
	if err != nil {
		log.Fatal("failed to initialize tracing: ", err)
	}

	if cfg.APIURL == "" {
		log.Println("⚠️  API_URL is not set, every save will fail with REQUEST_SETUP_FAILED")
	}

	// --- Match ledger sinks (optional) ---
	var sinks []workers.LedgerSink
	if cfg.DatabaseURL != "" {
		ledger, err := services.NewGormLedger(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("failed to initialize match ledger: ", err)
		}
		sinks = append(sinks, ledger)
	}
	if cfg.R2.Enabled() {
		archive, err := utils.NewR2Archive(ctx, cfg.R2.AccountID, cfg.R2.AccessKeyID, cfg.R2.AccessKeySecret, cfg.R2.Bucket)
		if err != nil {
			log.Fatal("failed to initialize R2 client: ", err)
		}
		sinks = append(sinks, archive)
	}
	ledgerWorker := workers.NewLedgerWorker(cfg.LedgerQueueSize, sinks...)

	clock := clockwork.NewRealClock()
	scheduler, err := services.NewCronExpiryScheduler(clock)
	if err != nil {
		log.Fatal("failed to start expiry scheduler: ", err)
	}

	registry := services.NewRegistry(scheduler, clock, cfg.SessionTTL)
	client := services.NewMatchServiceClient(cfg.APIURL, cfg.InternalAPIKey, cfg.SaveTimeout)
	saver := services.NewSaveOrchestrator(client, cfg.SaveTimeout)
	hub := handlers.NewHub()

	// Saves run on their own context so an in-flight save can finish during shutdown.
	dispatcher := services.NewDispatcher(context.Background(), registry, saver, hub, ledgerWorker)

	app := fiber.New(fiber.Config{
		AppName:               "match-coordinator",
		DisableStartupMessage: true,
	})
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins(),
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		MaxAge:       86400,
	}))

	handlers.SetupSessionRoutes(app, registry, dispatcher, cfg.AdminToken)
	handlers.SetupSocketRoutes(app, hub, dispatcher)

	// The ledger outlives the server so records from the last saves still land.
	ledgerCtx, stopLedger := context.WithCancel(context.Background())
	ledgerWorker.Start(ledgerCtx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("✅ Server running on http://localhost%s", cfg.Addr())
		log.Printf("✅ CORS configured for origins: %s", cfg.CORSOrigins())
		return app.Listen(cfg.Addr())
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("⚠️ Server shutdown: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("❌ Server error: %v", err)
	}
	stop()

	dispatcher.Wait()
	if err := scheduler.Shutdown(); err != nil {
		log.Printf("⚠️ Scheduler shutdown: %v", err)
	}
	stopLedger()
	<-ledgerWorker.Done()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		log.Printf("⚠️ Tracing shutdown: %v", err)
	}
	log.Println("⏹️ Match coordinator stopped")
}
