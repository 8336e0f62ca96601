package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"tutor-realtime/internal/aggregate"
	"tutor-realtime/internal/config"
	"tutor-realtime/internal/db"
	"tutor-realtime/internal/dualwrite"
	grpcserver "tutor-realtime/internal/grpc"
	"tutor-realtime/internal/handlers"
	"tutor-realtime/internal/livestore"
	"tutor-realtime/internal/logging"
	"tutor-realtime/internal/middleware"
	"tutor-realtime/internal/observability"
	"tutor-realtime/internal/presence"
	"tutor-realtime/internal/rabbitmq"
	"tutor-realtime/internal/repositories"
	"tutor-realtime/internal/telemetry"
	"tutor-realtime/internal/ws"
)

const auditRoutingKey = "audit.tutor_realtime"

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		boot := logging.New("info", false)
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.LogLevel, cfg.Development())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, cfg.Env)
	if err != nil {
		log.Fatal().Err(err).Msg("init tracing")
	}

	database, err := db.Connect(cfg.DatabaseDSN, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	live, err := livestore.Open(livestore.Options{Path: cfg.LiveStorePath, Logger: logging.Component(log, "livestore")})
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.LiveStorePath).Msg("open live store")
	}

	shellRepo := repositories.NewShellRepo(database)
	userRepo := repositories.NewUserRepo(database)

	if cfg.AMQPURL != "" {
		lifecyclePub, err := observability.NewBrokerPublisher(cfg.AMQPURL, cfg.AMQPExchange, logging.Component(log, "lifecycle"))
		if err != nil {
			log.Warn().Err(err).Msg("lifecycle events disabled")
		} else {
			observability.SetPublisher(lifecyclePub)
			defer lifecyclePub.Close()
		}
	}
	auditPub := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logging.Component(log, "audit"))
	defer auditPub.Close()
	audit := telemetry.NewAuditEmitter(auditPub, auditRoutingKey, observability.ServiceName, cfg.Env, logging.Component(log, "audit"))

	hub := ws.NewHub(logging.Component(log, "hub"))
	relay, err := rabbitmq.NewRelay(cfg.AMQPURL, cfg.RelayExchange, uuid.NewString(), logging.Component(log, "relay"))
	if err != nil {
		log.Fatal().Err(err).Msg("connect relay")
	}
	defer relay.Close()
	hub.SetRelay(relay)
	if err := relay.Consume(ctx, func(m rabbitmq.RelayMessage) {
		hub.Deliver(m.Scope, m.Target, m.Event, m.Data)
	}); err != nil {
		log.Fatal().Err(err).Msg("consume relay")
	}

	tracker := presence.NewTracker(userRepo, live, hub, hub, logging.Component(log, "presence"))
	unreadFeed := aggregate.NewUnreadFeed(live, hub, logging.Component(log, "unread_feed"))
	hub.SetLifecycle(ws.Lifecycles{tracker, unreadFeed})
	if err := tracker.StartSweeper(ctx, cfg.PresenceSweepCron, cfg.PresenceStaleAfter); err != nil {
		log.Fatal().Err(err).Msg("start presence sweeper")
	}

	coordinator := dualwrite.NewCoordinator(dualwrite.Deps{
		Shells:   shellRepo,
		Users:    userRepo,
		Live:     live,
		Counters: aggregate.NewMaintainer(live, logging.Component(log, "aggregate")),
		Fanout:   hub,
		Audit:    audit,
		Logger:   logging.Component(log, "dualwrite"),
	})

	verifier := middleware.NewJWTVerifier(cfg.JWTSecret)
	wsHandler := ws.NewHandler(hub, verifier, coordinator, ws.TypingLimits{Rate: cfg.TypingRate, Burst: cfg.TypingBurst}, logging.Component(log, "ws"))

	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(observability.ServiceName))
	router.Use(logging.GinMiddleware(log))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", observability.MetricsHandler())
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/ws", wsHandler.Handle)

	authed := router.Group("/", middleware.AuthMiddleware(verifier))
	handlers.NewChatHandler(coordinator, log).Register(authed)
	handlers.NewPostHandler(coordinator, log).Register(authed)
	handlers.NewNotificationHandler(coordinator, log).Register(authed)
	handlers.NewPresenceHandler(tracker, log).Register(authed)
	handlers.NewClassEventHandler(hub, log).Register(authed)
	handlers.RegisterDebugRoutes(authed, audit, hub, cfg.DebugRoutes)

	grpcSrv := grpcserver.NewServer(logging.Component(log, "grpc"))
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.GRPCPort).Msg("listen grpc")
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			log.Error().Err(err).Msg("grpc server stopped")
		}
	}()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		log.Info().Str("port", cfg.Port).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()
	grpcSrv.SetServing(true)

	<-ctx.Done()
	log.Info().Msg("shutting down")
	grpcSrv.SetServing(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	grpcSrv.Stop()

	// Hijacked websocket connections outlive srv.Shutdown.
	closed := hub.CloseAll(shutdownCtx)
	log.Info().Int("connections", closed).Msg("websocket connections closed")

	// Connections are gone; apply the offline records they armed.
	if err := live.Disconnect(); err != nil {
		log.Error().Err(err).Msg("apply disconnect writes")
	}
	if err := live.Close(); err != nil {
		log.Error().Err(err).Msg("close live store")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown tracing")
	}
}
