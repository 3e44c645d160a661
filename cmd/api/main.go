package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/tasklink/backend/internal/auth"
	"github.com/tasklink/backend/internal/dashboard"
	"github.com/tasklink/backend/internal/handlers"
	"github.com/tasklink/backend/internal/jobs"
	"github.com/tasklink/backend/internal/ledger"
	"github.com/tasklink/backend/internal/memstore"
	"github.com/tasklink/backend/internal/middleware"
	"github.com/tasklink/backend/internal/models"
	"github.com/tasklink/backend/internal/notify"
	"github.com/tasklink/backend/internal/repository"
	"github.com/tasklink/backend/internal/router"
	"github.com/tasklink/backend/internal/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx := context.Background()

	validator, err := services.NewValidator()
	if err != nil {
		slog.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}

	var handler http.Handler
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// In-memory demo mode. Same wiring, no Postgres and no durable
		// job queue.
		slog.Warn("DATABASE_URL not set, running with the in-memory store")
		handler = buildMemoryAPI(validator, logger)
	} else {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			slog.Error("Unable to create database pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. make dev-up or docker-compose up -d", "error", err)
			os.Exit(1)
		}
		slog.Info("Connected to PostgreSQL database successfully!")

		handler, err = buildPostgresAPI(ctx, pool, validator, logger)
		if err != nil {
			slog.Error("API init failed", "error", err)
			os.Exit(1)
		}
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   corsOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Gateway-Signature"},
		AllowCredentials: true,
	}).Handler(handler)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080" // Fallback for local development
	}
	serverAddr := "0.0.0.0:" + port

	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}

// buildPostgresAPI wires the production stack: pgx repositories and river for
// the auto-release schedule.
func buildPostgresAPI(ctx context.Context, pool *pgxpool.Pool, validator *services.Validator, logger *slog.Logger) (http.Handler, error) {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return nil, err
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return nil, err
	}
	slog.Info("River migrations applied")

	accountRepo := repository.NewAccountRepo(pool)
	taskRepo := repository.NewTaskRepo(pool)
	offerRepo := repository.NewOfferRepo(pool)
	txRepo := repository.NewTransactionRepo(pool)
	attachmentRepo := repository.NewAttachmentRepo(pool)
	notificationRepo := repository.NewNotificationRepo(pool)
	statsRepo := repository.NewStatsRepo(pool)

	dispatcher := notify.NewDispatcher(notificationRepo, logger)

	controller := services.NewLifecycleController(
		pool,
		services.NewEscrowEngine(),
		accountRepo,
		taskRepo,
		offerRepo,
		txRepo,
		attachmentRepo,
		dispatcher,
		logger,
	)

	// Auto-release insert func is set after the river client exists
	// (breaks the controller <-> worker init cycle).
	var insertMu sync.Mutex
	var insertFn services.ScheduleAutoReleaseTxFunc
	controller.ScheduleAutoRelease = func(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, at time.Time) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, taskID, at)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, jobs.NewAutoReleaseWorker(controller, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, err
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, at time.Time) error {
		_, err := riverClient.InsertTx(ctx, tx, jobs.AutoReleaseJobArgs{TaskID: taskID}, &river.InsertOpts{
			ScheduledAt: at,
		})
		return err
	}
	insertMu.Unlock()

	go func() {
		if err := riverClient.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	offerSvc := services.NewOfferService(pool, taskRepo, offerRepo, accountRepo, dispatcher, logger)
	walletSvc := ledger.NewService(pool, accountRepo, txRepo, logger)

	authSvc := auth.NewService(accountRepo)

	return buildRouter(routerDeps{
		authSvc:     authSvc,
		accounts:    accountRepo,
		controller:  controller,
		offers:      offerSvc,
		tasks:       taskRepo,
		attachments: attachmentRepo,
		taskLedger:  txRepo,
		wallet:      walletSvc,
		dispatcher:  dispatcher,
		stats:       statsRepo,
		taskLister:  taskRepo,
		validator:   validator,
		logger:      logger,
	}), nil
}

// buildMemoryAPI wires the same services over the in-memory store.
// Auto-release runs on plain timers instead of river.
func buildMemoryAPI(validator *services.Validator, logger *slog.Logger) http.Handler {
	store := memstore.New()
	dispatcher := notify.NewDispatcher(store.Notifications(), logger)

	controller := services.NewLifecycleController(
		store,
		services.NewEscrowEngine(),
		store.Accounts(),
		store.Tasks(),
		store.Offers(),
		store.Ledger(),
		store.Attachments(),
		dispatcher,
		logger,
	)
	controller.ScheduleAutoRelease = func(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, at time.Time) error {
		time.AfterFunc(time.Until(at), func() {
			_, err := controller.Transition(context.Background(), taskID, services.ActionRelease, models.AutoReleaseActorID, services.TransitionOpts{})
			if err != nil {
				logger.Info("auto-release skipped", "task_id", taskID, "reason", err)
			}
		})
		return nil
	}

	offerSvc := services.NewOfferService(store, store.Tasks(), store.Offers(), store.Accounts(), dispatcher, logger)
	walletSvc := ledger.NewService(store, store.Accounts(), store.Ledger(), logger)
	authSvc := auth.NewService(store.Accounts())

	return buildRouter(routerDeps{
		authSvc:     authSvc,
		accounts:    store.Accounts(),
		controller:  controller,
		offers:      offerSvc,
		tasks:       store.Tasks(),
		attachments: store.Attachments(),
		taskLedger:  store.Ledger(),
		wallet:      walletSvc,
		dispatcher:  dispatcher,
		stats:       store.Stats(),
		taskLister:  store.Tasks(),
		validator:   validator,
		logger:      logger,
	})
}

type routerDeps struct {
	authSvc     auth.Service
	accounts    middleware.AccountLookup
	controller  handlers.Lifecycle
	offers      handlers.Offers
	tasks       handlers.TaskReader
	attachments handlers.AttachmentStore
	taskLedger  handlers.TaskLedger
	wallet      handlers.Wallet
	dispatcher  *notify.Dispatcher
	stats       dashboard.StatsStore
	taskLister  dashboard.TaskLister
	validator   *services.Validator
	logger      *slog.Logger
}

func buildRouter(d routerDeps) http.Handler {
	taskHandler := &handlers.TaskHandler{
		Lifecycle:   d.controller,
		Offers:      d.offers,
		Tasks:       d.tasks,
		Attachments: d.attachments,
		Ledger:      d.taskLedger,
		Validator:   d.validator,
		Logger:      d.logger,
	}
	walletHandler := &handlers.WalletHandler{
		Wallet:        d.wallet,
		Validator:     d.validator,
		GatewaySecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		Logger:        d.logger,
	}
	return router.New(
		auth.NewHandler(d.authSvc, d.logger),
		taskHandler,
		walletHandler,
		notify.NewHandler(d.dispatcher, d.logger),
		dashboard.NewHandler(d.stats, d.taskLister, d.logger),
		middleware.JWTAuth(d.authSvc, d.accounts),
	)
}

func corsOrigins() []string {
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		return []string{origins}
	}
	return []string{"http://localhost:3000", "http://localhost:5173"}
}
