package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"xpsocial/pkg/broker"
	"xpsocial/pkg/cache"
	"xpsocial/pkg/config"
	"xpsocial/pkg/database"
	"xpsocial/pkg/feed"
	"xpsocial/pkg/gateway"
	"xpsocial/pkg/handlers"
	"xpsocial/pkg/hub"
	"xpsocial/pkg/logging"
	"xpsocial/pkg/middleware"
	"xpsocial/pkg/server"
	"xpsocial/pkg/services"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

func main() {
	config.LoadDotEnvs()
	cfg := config.Load()
	logging.Init("xpsocial", cfg.LogLevel, cfg.IsDevelopment())
	log := logging.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, closeGW := openGateway(ctx, cfg)
	defer closeGW()

	wsHub := hub.New(hub.WithMaxInFlight(cfg.WSMaxInFlight))

	var (
		protoCache services.ProtoCache
		notifier   services.Notifier = handlers.LocalNotifier{Hub: wsHub}
	)
	redis, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		if !cfg.IsDevelopment() {
			log.WithError(err).Fatal("redis unavailable")
		}
		log.WithError(err).Warn("redis unavailable, running without cache and broker")
	} else {
		defer redis.Close()
		protoCache = redis

		b := broker.New(redis.Client())
		defer b.Close()
		handlers.RelayNotifications(b, wsHub)
		notifier = b
		log.Info("redis connected")
	}

	source := feed.NewSource(gw, feed.NewAggregator(gw, cfg.FeedFanoutLimit))
	trending := services.NewTrendingService(gw, protoCache, cfg.TrendingTTL)
	inbox := services.NewNotificationService(gw, notifier)
	interactions := services.NewInteractionService(gw, inbox, trending)

	feedHandler := handlers.NewFeed(wsHub, source, cfg.FeedPageSize, cfg.PopularWindowDays)
	feedHandler.RegisterActions(wsHub)
	handlers.NewInteractions(wsHub, interactions, trending).RegisterActions(wsHub)
	handlers.NewPosts(wsHub, source, inbox).RegisterActions(wsHub)

	app := server.NewApp("xpsocial", cfg.CORSOrigins)

	app.Get("/hub/status", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"clients":       wsHub.ClientCount(),
			"authenticated": wsHub.AuthenticatedCount(),
			"open_feeds":    feedHandler.OpenFeeds(),
		})
	})

	api := handlers.NewAPI(handlers.APIDeps{
		Pager:         source,
		Posts:         source,
		Interactions:  interactions,
		Notifications: inbox,
		Trending:      trending,
		PageSize:      cfg.FeedPageSize,
		WindowDays:    cfg.PopularWindowDays,
	})
	app.Use("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))
	api.Register(app, middleware.Auth(cfg.JWTSecret))

	app.Use("/ws", middleware.WSAuth(cfg.JWTSecret))
	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		viewer := middleware.ViewerFromConn(c)
		wsHub.HandleClientConn(c, viewer.ID, viewer.Username)
	}))

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Warn("shutdown")
		}
	}()

	addr := "0.0.0.0:" + cfg.Port
	log.WithField("addr", addr).WithField("gateway", cfg.GatewayDriver).Info("server starting")
	if err := app.Listen(addr); err != nil {
		log.WithError(err).Fatal("failed to start")
	}
}

// openGateway builds the configured data backend. The memory driver is seeded
// with the in-process procedures and suits local runs without Postgres.
func openGateway(ctx context.Context, cfg config.Config) (gateway.Gateway, func()) {
	log := logging.For("gateway")

	if cfg.GatewayDriver == config.DriverMemory {
		m := gateway.NewMemory()
		gateway.RegisterDefaultProcedures(m)
		log.Warn("using in-memory gateway, data is lost on exit")
		return m, func() {}
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("postgres unavailable")
	}
	if err := database.Migrate(ctx, db); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}
	return gateway.NewPostgres(db), func() { db.Close() }
}
