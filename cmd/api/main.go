package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/livechat-service/internal/ai"
	httptransport "github.com/spec-kit/livechat-service/internal/api/http"
	"github.com/spec-kit/livechat-service/internal/api/http/handlers"
	"github.com/spec-kit/livechat-service/internal/api/ws"
	"github.com/spec-kit/livechat-service/internal/auth"
	"github.com/spec-kit/livechat-service/internal/config"
	"github.com/spec-kit/livechat-service/internal/events"
	"github.com/spec-kit/livechat-service/internal/observability"
	"github.com/spec-kit/livechat-service/internal/persistence"
	"github.com/spec-kit/livechat-service/internal/realtime"
	"github.com/spec-kit/livechat-service/internal/repository"
	"github.com/spec-kit/livechat-service/internal/service"
	"github.com/spec-kit/livechat-service/internal/worker"
	"github.com/spec-kit/livechat-service/migrations"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg, migrations.FS, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	hub := realtime.NewHub(cfg.Realtime.SendBuffer, logger, metrics)
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes).WithIssuer(cfg.Auth.JWTIssuer)

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	conversationRepo := repository.NewConversationRepository(pool)
	ticketRepo := repository.NewTicketRepository(pool)
	historyRepo := repository.NewTicketHistoryRepository(pool)
	messageRepo := repository.NewMessageRepository(pool)
	notificationRepo := repository.NewNotificationRepository(pool)
	roomRepo := repository.NewRoomRepository(pool)
	roomMessageRepo := repository.NewRoomMessageRepository(pool)
	imageRepo := repository.NewImageRepository(pool)

	ledgerService := service.NewLedgerService(service.LedgerDependencies{
		UserRepo:         userRepo,
		TicketLedger:     ticketRepo,
		RoomLedger:       roomRepo,
		ConversationRepo: conversationRepo,
		Broadcaster:      hub,
		Metrics:          metrics,
		Logger:           logger,
	})
	messageService := service.NewMessageService(service.MessageDependencies{
		MessageRepo:      messageRepo,
		ConversationRepo: conversationRepo,
		Broadcaster:      hub,
		Dispatcher:       dispatcher,
		Metrics:          metrics,
		Logger:           logger,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:       ticketRepo,
		ConversationRepo: conversationRepo,
		HistoryRepo:      historyRepo,
		Dispatcher:       dispatcher,
		Logger:           logger,
	})
	assignmentService := service.NewAssignmentService(service.AssignmentDependencies{
		ConversationRepo: conversationRepo,
		TicketRepo:       ticketRepo,
		UserRepo:         userRepo,
		HistoryRepo:      historyRepo,
		Dispatcher:       dispatcher,
		Logger:           logger,
	})
	conversationService := service.NewConversationService(service.ConversationDependencies{
		ConversationRepo:  conversationRepo,
		TicketRepo:        ticketRepo,
		UserRepo:          userRepo,
		TicketService:     ticketService,
		AssignmentService: assignmentService,
		MessageService:    messageService,
		Broadcaster:       hub,
		Dispatcher:        dispatcher,
		Logger:            logger,
		BanDuration:       cfg.Chat.BanDuration,
	})
	notificationService := service.NewNotificationService(service.NotificationDependencies{
		NotificationRepo: notificationRepo,
		Presence:         hub,
		Broadcaster:      hub,
		Dispatcher:       dispatcher,
		Logger:           logger,
		PageSize:         cfg.Chat.NotificationPageSize,
	})
	rateLimiter := service.NewRateLimiter(service.RateLimiterDependencies{
		Config:      cfg.Chat,
		UserRepo:    userRepo,
		MessageRepo: messageRepo,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	})

	var assistant service.Completer
	if cfg.AI.Enabled() {
		assistant = ai.NewClient(cfg.AI, logger)
	} else {
		logger.Warn("assistant disabled, no API key configured")
	}

	chatService := service.NewChatService(service.ChatDependencies{
		UserRepo:            userRepo,
		TicketRepo:          ticketRepo,
		ConversationService: conversationService,
		MessageService:      messageService,
		LedgerService:       ledgerService,
		RateLimiter:         rateLimiter,
		NotificationService: notificationService,
		Assistant:           assistant,
		Broadcaster:         hub,
		Logger:              logger,
		SystemPrompt:        cfg.AI.SystemPrompt,
		HistoryLimit:        cfg.Chat.HistoryLimit,
		AIHistoryLimit:      cfg.AI.HistoryLimit,
		AITimeout:           cfg.AI.Timeout,
	})
	roomService := service.NewRoomService(service.RoomDependencies{
		RoomRepo:        roomRepo,
		RoomMessageRepo: roomMessageRepo,
		UserRepo:        userRepo,
		LedgerService:   ledgerService,
		Broadcaster:     hub,
		Logger:          logger,
		PageSize:        cfg.Chat.HistoryLimit,
	})
	sessionService := service.NewSessionService(service.SessionDependencies{
		UserRepo:            userRepo,
		ChatService:         chatService,
		ConversationService: conversationService,
		RoomService:         roomService,
		Broadcaster:         hub,
		Logger:              logger,
	})
	imageService := service.NewImageService(service.ImageDependencies{
		ImageRepo:           imageRepo,
		UserRepo:            userRepo,
		ConversationService: conversationService,
		Logger:              logger,
		MaxBytes:            cfg.Chat.MaxImageBytes,
	})

	if _, err := roomService.EnsureGeneral(ctx); err != nil {
		logger.Warn("ensure general room", zap.Error(err))
	}

	go rateLimiter.RunJanitor(ctx)

	if cfg.Sweeper.Enabled {
		var lease worker.LeaseAcquirer
		if cfg.Sweeper.LeaseEnabled {
			lease = redis
		}
		sweeper := worker.NewInactivitySweeper(worker.SweeperDependencies{
			Config:              cfg.Sweeper,
			ConversationRepo:    conversationRepo,
			MessageRepo:         messageRepo,
			ConversationService: conversationService,
			MessageService:      messageService,
			NotificationService: notificationService,
			Lease:               lease,
			Metrics:             metrics,
			Logger:              logger,
		})
		go sweeper.Run(ctx)
	}

	exporterDone := make(chan struct{})
	if cfg.Kafka.Enabled() {
		publisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix)
		if err != nil {
			logger.Fatal("failed to init kafka publisher", zap.Error(err))
		}
		defer publisher.Close() //nolint:errcheck
		exporter := worker.NewEventExporter(publisher, cfg.Kafka.BufferSize, metrics, logger)
		worker.StartEventExporter(dispatcher, exporter)
		go func() {
			defer close(exporterDone)
			exporter.Run(ctx)
		}()
	} else {
		close(exporterDone)
	}

	app := fiber.New(fiber.Config{
		AppName:   cfg.App.Name,
		BodyLimit: cfg.App.BodyLimitBytes,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}, hub.ConnectionCount),
		Conversations:  handlers.NewConversationsHandler(conversationService, messageService, chatService, cfg.Chat.HistoryLimit),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Rooms:          handlers.NewRoomsHandler(roomService),
		Notifications:  handlers.NewNotificationsHandler(notificationService),
		Images:         handlers.NewImagesHandler(imageService, cfg.Chat.MaxImageBytes),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	gateway := ws.NewGateway(ws.GatewayDependencies{
		Tokens:              tokens,
		Hub:                 hub,
		SessionService:      sessionService,
		ChatService:         chatService,
		RoomService:         roomService,
		NotificationService: notificationService,
		AllowedOrigins:      cfg.Realtime.AllowedOrigins,
		WriteTimeout:        cfg.Realtime.WriteTimeout,
		ReadLimit:           cfg.Chat.MaxImageBytes * 2,
		Logger:              logger,
	})
	realtimeServer := &http.Server{
		Addr:              cfg.Realtime.Addr(),
		Handler:           realtimeRouter(gateway, metrics, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("realtime listener started", zap.String("addr", realtimeServer.Addr))
		if err := realtimeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("realtime listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := realtimeServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("realtime shutdown", zap.Error(err))
	}
	_ = app.ShutdownWithContext(shutdownCtx)
	<-exporterDone
}

func realtimeRouter(gateway http.Handler, metrics *observability.Metrics, hub *realtime.Hub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Handle("/ws", gateway)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"connections": hub.ConnectionCount(),
		})
	})
	return r
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
