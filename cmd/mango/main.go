package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mango-chat/mango-server/internal/api"
	"github.com/mango-chat/mango-server/internal/auth"
	"github.com/mango-chat/mango-server/internal/config"
	"github.com/mango-chat/mango-server/internal/gateway"
	"github.com/mango-chat/mango-server/internal/httputil"
	"github.com/mango-chat/mango-server/internal/notify"
	"github.com/mango-chat/mango-server/internal/permission"
	"github.com/mango-chat/mango-server/internal/postgres"
	"github.com/mango-chat/mango-server/internal/presence"
	"github.com/mango-chat/mango-server/internal/ratelimit"
	"github.com/mango-chat/mango-server/internal/redisx"
	"github.com/mango-chat/mango-server/internal/store"
	"github.com/mango-chat/mango-server/internal/store/memory"
	"github.com/mango-chat/mango-server/internal/store/pg"
	"github.com/mango-chat/mango-server/internal/voice"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
)

// server holds the shared dependencies used by route handlers and middleware.
type server struct {
	cfg         *config.Config
	store       store.Store
	rdb         *redis.Client
	authService *auth.Service
	resolver    *permission.Resolver
	presence    *presence.Store
	hub         *gateway.Hub
	notifier    *notify.Enqueuer
	voice       *voice.Client
	limiter     *ratelimit.Limiter
}

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("env", cfg.ServerEnv).
		Str("store", cfg.StoreBackend).
		Msg("Starting Mango Server")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard. Set an explicit origin when in production.")
	}

	ctx := context.Background()

	// Initialise the store. The in-memory backend is for development and
	// tests; PostgreSQL is the production backend.
	var st store.Store
	switch cfg.StoreBackend {
	case "memory":
		st = memory.New()
		log.Info().Msg("In-memory store initialised")
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer db.Close()
		log.Info().Msg("PostgreSQL connected")

		if err := postgres.Migrate(cfg.DatabaseURL, log.Logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		log.Info().Msg("Database migrations complete")

		st = pg.New(db, log.Logger)
	}

	// Connect Redis (presence, typing dedup, pending push stream).
	rdb, err := redisx.Connect(ctx, cfg.RedisURL, cfg.RedisDialTimeout)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("Redis connected")

	// Initialise services: permission resolver, auth, presence, hub,
	// notification enqueuer, voice upstream.
	resolver := permission.NewResolver(st, log.Logger)
	hasher := auth.NewHasher(cfg.Argon2Memory, cfg.Argon2Iterations, cfg.Argon2Parallelism,
		cfg.Argon2SaltLength, cfg.Argon2KeyLength)
	authService := auth.NewService(st, hasher, cfg.TokenSecret, log.Logger)
	presenceStore := presence.NewStore(rdb)
	hub := gateway.NewHub(resolver, cfg.GatewayMaxConnections, log.Logger)

	notifier := notify.NewEnqueuer(rdb, st, resolver, log.Logger)
	notifier.EnsureStream(ctx)

	voiceClient := voice.NewClient(cfg.VoiceUpstreamURL, &http.Client{Timeout: cfg.VoiceTimeout})
	if !voiceClient.Configured() {
		log.Warn().Msg("VOICE_UPSTREAM_URL is not configured. Voice endpoints will return 503.")
	}

	// Create Fiber app.
	app := fiber.New(fiber.Config{
		AppName: "Mango",
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			if e, ok := err.(*fiber.Error); ok {
				status = e.Code
				message = e.Message
			} else {
				log.Error().Err(err).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Msg("Unhandled error")
			}
			return c.Status(status).JSON(httputil.ErrorResponse{Error: message})
		},
	})

	// Global middleware.
	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger, "/v1/health"))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "Authorization"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        86400,
	}))

	srv := &server{
		cfg:         cfg,
		store:       st,
		rdb:         rdb,
		authService: authService,
		resolver:    resolver,
		presence:    presenceStore,
		hub:         hub,
		notifier:    notifier,
		voice:       voiceClient,
		limiter:     ratelimit.NewLimiter(),
	}
	srv.registerRoutes(app)

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		hub.Shutdown()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Server listening")

	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *server) registerRoutes(app *fiber.App) {
	requireAuth := auth.RequireAuth(s.authService)
	limitDefault := s.limiter.Middleware(ratelimit.RuleDefault)
	limitAuth := s.limiter.Middleware(ratelimit.RuleAuth)
	limitMessages := s.limiter.Middleware(ratelimit.RuleMessages)
	limitTyping := s.limiter.Middleware(ratelimit.RuleTyping)
	limitReactions := s.limiter.Middleware(ratelimit.RuleReaction)

	health := api.NewHealthHandler(s.store, redisPinger{client: s.rdb})
	app.Get("/v1/health", health.Health)

	// Auth routes carry the stricter auth rate class.
	authHandler := api.NewAuthHandler(s.authService, log.Logger)
	authGroup := app.Group("/v1/auth", limitAuth)
	authGroup.Post("/register", authHandler.Register)
	authGroup.Post("/login", authHandler.Login)
	authGroup.Post("/logout", requireAuth, authHandler.Logout)

	app.Get("/v1/me", limitDefault, requireAuth, authHandler.Me)
	app.Post("/v1/bot-tokens", limitDefault, requireAuth, authHandler.CreateBotToken)

	userHandler := api.NewUserHandler(s.store, log.Logger)
	app.Delete("/v1/me", limitDefault, requireAuth, userHandler.DeleteMe)
	userGroup := app.Group("/v1/users", limitDefault, requireAuth)
	userGroup.Get("/search", userHandler.Search)
	userGroup.Get("/:id", userHandler.Get)

	friendHandler := api.NewFriendHandler(s.store, log.Logger)
	friendGroup := app.Group("/v1/friends", limitDefault, requireAuth)
	friendGroup.Get("/", friendHandler.List)
	friendGroup.Get("/requests", friendHandler.ListRequests)
	friendGroup.Post("/requests", friendHandler.CreateRequest)
	friendGroup.Post("/requests/:id", friendHandler.RespondRequest)
	friendGroup.Delete("/:id", friendHandler.Remove)

	serverHandler := api.NewServerHandler(s.store, s.resolver, log.Logger)
	safetyHandler := api.NewSafetyHandler(s.store, s.resolver, log.Logger)
	serverGroup := app.Group("/v1/servers", limitDefault, requireAuth)
	serverGroup.Post("/", serverHandler.Create)
	serverGroup.Get("/", serverHandler.List)
	serverGroup.Delete("/:id", serverHandler.Delete)
	serverGroup.Delete("/:id/members/@me", serverHandler.Leave)
	serverGroup.Get("/:id/members", serverHandler.ListMembers)
	serverGroup.Put("/:id/members/:userId/roles/:roleId", serverHandler.AssignRole)
	serverGroup.Delete("/:id/members/:userId/roles/:roleId", serverHandler.UnassignRole)
	serverGroup.Post("/:id/roles", serverHandler.CreateRole)
	serverGroup.Get("/:id/roles", serverHandler.ListRoles)
	serverGroup.Delete("/:id/roles/:roleId", serverHandler.DeleteRole)
	serverGroup.Post("/:id/invites", serverHandler.CreateInvite)
	serverGroup.Get("/:id/invites", serverHandler.ListInvites)
	serverGroup.Delete("/:id/invites/:code", serverHandler.DeleteInvite)
	serverGroup.Post("/:id/moderation", serverHandler.Moderate)
	serverGroup.Get("/:id/bans", serverHandler.ListBans)
	serverGroup.Get("/:id/audit-log", serverHandler.ListAuditLog)
	serverGroup.Get("/:id/reports", safetyHandler.ListReports)

	app.Post("/v1/invites/:code/join", limitDefault, requireAuth, serverHandler.Join)

	channelHandler := api.NewChannelHandler(s.store, s.resolver, log.Logger)
	serverGroup.Post("/:id/channels", channelHandler.Create)
	serverGroup.Get("/:id/channels", channelHandler.List)

	conversationHandler := api.NewConversationHandler(s.store, s.resolver, s.hub, s.presence, log.Logger)
	messageHandler := api.NewMessageHandler(s.store, s.resolver, s.hub, s.notifier, log.Logger)
	webhookHandler := api.NewWebhookHandler(s.store, s.resolver, messageHandler, s.cfg.TokenSecret, log.Logger)
	channelGroup := app.Group("/v1/channels", requireAuth)
	channelGroup.Patch("/:id", limitDefault, channelHandler.Rename)
	channelGroup.Delete("/:id", limitDefault, channelHandler.Delete)
	channelGroup.Put("/:id/overwrites", limitDefault, channelHandler.PutOverwrite)
	channelGroup.Delete("/:id/overwrites/:targetType/:targetId", limitDefault, channelHandler.DeleteOverwrite)
	channelGroup.Post("/:id/messages", limitMessages, messageHandler.Create)
	channelGroup.Get("/:id/messages", limitDefault, messageHandler.List)
	channelGroup.Post("/:id/typing", limitTyping, conversationHandler.Typing)
	channelGroup.Get("/:id/read-marker", limitDefault, conversationHandler.GetReadMarker)
	channelGroup.Put("/:id/read-marker", limitDefault, conversationHandler.PutReadMarker)
	channelGroup.Post("/:id/webhooks", limitDefault, webhookHandler.Create)
	channelGroup.Get("/:id/webhooks", limitDefault, webhookHandler.List)

	messageGroup := app.Group("/v1/messages", requireAuth)
	messageGroup.Patch("/:id", limitMessages, messageHandler.Update)
	messageGroup.Delete("/:id", limitDefault, messageHandler.Delete)
	messageGroup.Post("/:id/reactions", limitReactions, messageHandler.AddReaction)
	messageGroup.Delete("/:id/reactions/:emoji", limitReactions, messageHandler.RemoveReaction)

	threadHandler := api.NewThreadHandler(s.store, s.hub, s.presence, messageHandler, log.Logger)
	threadGroup := app.Group("/v1/direct-threads", requireAuth)
	threadGroup.Post("/", limitDefault, threadHandler.Create)
	threadGroup.Get("/", limitDefault, threadHandler.List)
	threadGroup.Get("/:id", limitDefault, threadHandler.Get)
	threadGroup.Post("/:id/messages", limitMessages, threadHandler.CreateMessage)
	threadGroup.Get("/:id/messages", limitDefault, threadHandler.ListMessages)
	threadGroup.Get("/:id/read-marker", limitDefault, threadHandler.GetReadMarker)
	threadGroup.Put("/:id/read-marker", limitDefault, threadHandler.PutReadMarker)
	threadGroup.Post("/:id/typing", limitTyping, threadHandler.Typing)
	threadGroup.Delete("/:id/participants/@me", limitDefault, threadHandler.Leave)

	presenceHandler := api.NewPresenceHandler(s.store, s.presence, s.hub, log.Logger)
	presenceGroup := app.Group("/v1/presence", limitDefault, requireAuth)
	presenceGroup.Put("/", presenceHandler.Put)
	presenceGroup.Get("/me", presenceHandler.GetMe)
	presenceGroup.Post("/bulk", presenceHandler.Bulk)
	presenceGroup.Get("/:id", presenceHandler.Get)

	pushHandler := api.NewPushHandler(s.store, log.Logger)
	pushGroup := app.Group("/v1/notifications/push-subscriptions", limitDefault, requireAuth)
	pushGroup.Post("/", pushHandler.Create)
	pushGroup.Get("/", pushHandler.List)
	pushGroup.Delete("/:id", pushHandler.Delete)

	searchHandler := api.NewSearchHandler(s.store, s.resolver, log.Logger)
	app.Get("/v1/search", limitDefault, requireAuth, searchHandler.Search)

	app.Post("/v1/reports", limitDefault, requireAuth, safetyHandler.CreateReport)
	app.Post("/v1/appeals", limitDefault, requireAuth, safetyHandler.CreateAppeal)
	app.Get("/v1/appeals", limitDefault, requireAuth, safetyHandler.ListAppeals)

	voiceHandler := api.NewVoiceHandler(s.store, s.resolver, s.voice, s.hub, log.Logger)
	voiceGroup := app.Group("/v1/voice", limitDefault, requireAuth)
	voiceGroup.Post("/channels/:id/:action", voiceHandler.Channel)
	voiceGroup.Post("/direct-threads/:id/:action", voiceHandler.Thread)

	// Webhook execution authenticates with its own signed token, not a
	// session.
	app.Post("/v1/webhooks/:id/:token", limitMessages, webhookHandler.Execute)
	app.Delete("/v1/webhooks/:id", limitDefault, requireAuth, webhookHandler.Delete)

	// Gateway WebSocket endpoint (token authenticated at upgrade).
	gatewayHandler := api.NewGatewayHandler(s.hub, s.authService)
	app.Get("/v1/ws", gatewayHandler.Upgrade)

	// Terminal handler: Fiber treats app.Use() middleware as route matches,
	// so unmatched requests need an explicit 404.
	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})
}

// redisPinger adapts *redis.Client to the api.Pinger interface.
type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }
