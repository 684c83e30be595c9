package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/learningequality/studio-sub002/internal/db"
	"github.com/learningequality/studio-sub002/internal/handlers"
	"github.com/learningequality/studio-sub002/internal/jobs"
	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/middleware"
	"github.com/learningequality/studio-sub002/internal/realtime"
	"github.com/learningequality/studio-sub002/internal/realtime/bus"
	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/server"
	"github.com/learningequality/studio-sub002/internal/services"
	syncpkg "github.com/learningequality/studio-sub002/internal/sync"
	"github.com/learningequality/studio-sub002/internal/temporalx"
	"github.com/learningequality/studio-sub002/internal/temporalx/publishrun"
	"github.com/learningequality/studio-sub002/internal/tree"
	"github.com/learningequality/studio-sub002/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	accessTokenTTL := utils.GetEnvAsInt("ACCESS_TOKEN_TTL", 3600, log)
	port := utils.GetEnv("PORT", "8080", log)
	gcRetentionDays := utils.GetEnvAsInt("CHANGE_GC_RETENTION_DAYS", 30, log)
	taskSoftBudgetSec := utils.GetEnvAsInt("TASK_SOFT_BUDGET_SECONDS", 600, log)
	searchVectorBatch := utils.GetEnvAsInt("SEARCH_VECTOR_BATCH_SIZE", 100, log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	userRepo := repos.NewUserRepo(thePG, log)
	channelRepo := repos.NewChannelRepo(thePG, log)
	channelUserRepo := repos.NewChannelUserRepo(thePG, log)
	contentNodeRepo := repos.NewContentNodeRepo(thePG, log)
	fileRepo := repos.NewFileRepo(thePG, log)
	licenseRepo := repos.NewLicenseRepo(thePG, log)
	changeRepo := repos.NewChangeRepo(thePG, log)
	channelVersionRepo := repos.NewChannelVersionRepo(thePG, log)
	auditedLicenseRepo := repos.NewAuditedLicenseRepo(thePG, log)
	secretTokenRepo := repos.NewSecretTokenRepo(thePG, log)
	taskRunRepo := repos.NewTaskRunRepo(thePG, log)
	submissionRepo := repos.NewCommunitySubmissionRepo(thePG, log)

	// Tree store and change dispatch
	treeStore := tree.NewStore(thePG, log)
	registry := syncpkg.NewRegistry(thePG, treeStore, log)
	intake := syncpkg.NewIntake(changeRepo, channelRepo, channelUserRepo, log)

	// Services
	log.Info("Setting up Services from main...")
	artifactStore, err := services.NewArtifactStore(log)
	if err != nil {
		log.Error("Could not init ArtifactStore", "error", err)
		os.Exit(1)
	}
	cacheService, err := services.NewCacheService(log)
	if err != nil {
		log.Warn("Could not init CacheService, continuing without cache", "error", err)
		cacheService = nil
	}
	exporter := services.NewExporter(contentNodeRepo, fileRepo, licenseRepo, artifactStore, log)
	tokenService := services.NewTokenService(secretTokenRepo, log)
	publishService := services.NewPublishService(thePG, channelRepo, contentNodeRepo, channelVersionRepo, changeRepo, tokenService, exporter, cacheService, log)
	auditService := services.NewAuditService(thePG, channelRepo, channelVersionRepo, contentNodeRepo, licenseRepo, auditedLicenseRepo, changeRepo, log)
	authService := services.NewAuthService(thePG, log, userRepo, jwtSecretKey, time.Duration(accessTokenTTL)*time.Second)
	submissionService := services.NewSubmissionService(thePG, channelRepo, channelVersionRepo, submissionRepo, log)
	maintenanceService := services.NewMaintenanceService(thePG, channelRepo, channelVersionRepo, fileRepo, changeRepo, cacheService, log)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Realtime
	log.Info("Setting up realtime hub from main...")
	hub := realtime.NewHub(log)
	var broadcast realtime.BroadcastFunc
	syncBus, err := bus.NewRedisBus(log)
	if err != nil {
		log.Warn("Sync bus unavailable, broadcasts stay local", "error", err)
	} else {
		err = syncBus.StartForwarder(rootCtx, func(env bus.Envelope) {
			from, _ := uuid.Parse(env.From)
			hub.Broadcast(env.Scope, from, env.Message)
		})
		if err != nil {
			log.Warn("Sync bus forwarder failed, broadcasts stay local", "error", err)
		} else {
			broadcast = func(scope string, from uuid.UUID, msg realtime.OutboundMessage) {
				env := bus.Envelope{Scope: scope, From: from.String(), Message: msg}
				if pErr := syncBus.Publish(rootCtx, env); pErr != nil {
					log.Warn("Sync bus publish failed, delivering locally", "error", pErr)
					hub.Broadcast(scope, from, msg)
				}
			}
			defer syncBus.Close()
		}
	}
	socket := realtime.NewSocket(hub, intake, channelRepo, channelUserRepo, taskRunRepo, broadcast, log)

	// Task worker
	log.Info("Setting up task worker from main...")
	jobRegistry := jobs.NewRegistry()
	mustRegister(log, jobRegistry, jobs.NewDispatchChannelHandler(registry.Dispatcher, taskRunRepo))
	mustRegister(log, jobRegistry, jobs.NewDispatchUserHandler(registry.Dispatcher, taskRunRepo))
	mustRegister(log, jobRegistry, jobs.NewPublishChannelHandler(publishService, taskRunRepo))
	mustRegister(log, jobRegistry, jobs.NewAuditVersionHandler(auditService))
	mustRegister(log, jobRegistry, jobs.NewGCHandler(maintenanceService, time.Duration(gcRetentionDays)*24*time.Hour))
	mustRegister(log, jobRegistry, jobs.NewSearchVectorHandler(maintenanceService, searchVectorBatch))
	mustRegister(log, jobRegistry, jobs.NewBackfillHandler(maintenanceService))
	worker := jobs.NewWorker(thePG, log, taskRunRepo, jobRegistry, time.Duration(taskSoftBudgetSec)*time.Second)
	worker.Start(rootCtx)

	// Temporal (optional; the task queue carries publishes when absent)
	temporalClient, err := temporalx.NewClient(log)
	if err != nil {
		log.Warn("Temporal unavailable, publishes run on the task queue", "error", err)
		temporalClient = nil
	}
	if temporalClient != nil {
		defer temporalClient.Close()
		activities := publishrun.NewActivities(publishService, auditService, log)
		runner, rErr := temporalx.NewRunner(log, temporalClient, activities)
		if rErr != nil {
			log.Error("Could not init Temporal runner", "error", rErr)
			os.Exit(1)
		}
		if sErr := runner.Start(rootCtx); sErr != nil {
			log.Error("Temporal worker failed to start", "error", sErr)
			os.Exit(1)
		}
	}

	// Handlers
	log.Info("Setting up handlers from main...")
	authHandler := handlers.NewAuthHandler(authService)
	userHandler := handlers.NewUserHandler(userRepo)
	syncHandler := handlers.NewSyncHandler(intake, registry.Dispatcher, log)
	channelHandler := handlers.NewChannelHandler(taskRunRepo, temporalClient, publishService, submissionService, log)
	socketHandler := handlers.NewSocketHandler(socket, log)

	// Middleware
	log.Info("Setting up middleware from main...")
	authMiddleware := middleware.NewAuthMiddleware(log, authService)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		AuthHandler:    authHandler,
		AuthMiddleware: authMiddleware,
		UserHandler:    userHandler,
		SyncHandler:    syncHandler,
		ChannelHandler: channelHandler,
		SocketHandler:  socketHandler,
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}
	g, gCtx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		log.Info("Server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Warn("Server failed", "error", err)
	}
}

func mustRegister(log *logger.Logger, registry *jobs.Registry, h jobs.Handler) {
	if err := registry.Register(h); err != nil {
		log.Error("Task handler registration failed", "task_type", h.Type(), "error", err)
		os.Exit(1)
	}
}
