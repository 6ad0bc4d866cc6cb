package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"nearcast/internal/core/domain"
	"nearcast/internal/core/ports"
	"nearcast/internal/core/services"
	httphandlers "nearcast/internal/handlers/http"
	"nearcast/internal/infrastructure/control"
	"nearcast/internal/infrastructure/discovery"
	"nearcast/internal/infrastructure/events"
	"nearcast/internal/infrastructure/flagstore"
	"nearcast/internal/infrastructure/media"
	"nearcast/internal/infrastructure/middleware"
	"nearcast/internal/infrastructure/monitoring"
	repositories "nearcast/internal/infrastructure/repositories"
	"nearcast/pkg/config"
	"nearcast/pkg/logger"
	"nearcast/pkg/tracing"
	"nearcast/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/broadcaster.yaml",
		"./configs/broadcaster.yaml",
		"/etc/nearcast/broadcaster.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "nearcast-broadcaster",
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		Environment: "local",
		SampleRate:  cfg.Tracing.SampleRatio,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tracerProvider.Shutdown(ctx)
	}()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Initialize repository factory
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()
	redisClient := repoFactory.RedisClient()

	// Initialize repositories
	sessionRepo := repoFactory.CreateSessionRepository()
	pendingRepo := repoFactory.CreatePendingPairRepository()
	historyRepo := repoFactory.CreateHistoryRepository()

	// Events hub and metrics
	hub := events.NewHub(log)
	collector := monitoring.NewPrometheusCollector()

	// Media plane: the relay owns the UDP socket and must be bound before
	// the session service and control server hand its port to viewers.
	stats := &media.Stats{}
	tracker := media.NewTracker(cfg.Media.PeerFreshness, hub, log)
	relay := media.NewRelay(media.RelayConfig{
		ListenAddr:    cfg.Media.Address,
		MTU:           cfg.Media.MTU,
		QueueLen:      cfg.Media.QueueLength,
		SweepInterval: cfg.Media.SweepInterval,
	}, tracker, stats, log)
	if err := relay.Start(rootCtx); err != nil {
		log.Fatalw("failed to start media relay", "error", err)
	}

	// Initialize services
	sessionSvc := services.NewSessionService(services.SessionServiceConfig{
		CodeLength: cfg.Control.CodeLength,
		AutoAccept: cfg.Control.AutoAccept,
		MediaPort:  relay.Port(),
	}, sessionRepo, pendingRepo, historyRepo, hub, collector, stats, log)
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	telemetry := services.NewTelemetryService(cfg.Monitoring.MetricsInterval, relay, func() int {
		return sessionSvc.ActiveCount(rootCtx)
	}, hub, collector, log)

	// Control plane
	ctrl := control.NewServer(control.ServerConfig{
		ListenAddr:       cfg.Control.Address,
		MediaPort:        relay.Port(),
		HandshakeTimeout: cfg.Control.HandshakeTimeout,
		HandshakePerSec:  cfg.Control.HandshakesPerSecond,
		HandshakeBurst:   cfg.Control.HandshakeBurst,
		Heartbeat: control.HeartbeatConfig{
			Interval:  cfg.Heartbeat.Interval,
			MissLimit: cfg.Heartbeat.MissLimit,
		},
	}, sessionSvc, log)
	sessionSvc.SetController(ctrl)
	if err := ctrl.Start(rootCtx); err != nil {
		log.Fatalw("failed to start control server", "error", err)
	}

	// Broadcast switch, file-backed when configured so external tools can
	// flip it
	var broadcastFlag ports.BroadcastFlag
	if cfg.Broadcast.FlagFile != "" {
		broadcastFlag = flagstore.NewFileFlag(cfg.Broadcast.FlagFile, log)
	} else {
		broadcastFlag = flagstore.NewMemoryFlag(cfg.Broadcast.InitialOn)
	}
	broadcastOn, err := broadcastFlag.Get(rootCtx)
	if err != nil {
		log.Warnw("failed to read broadcast flag, starting off", "error", err)
	}
	relay.SetBroadcasting(broadcastOn)
	ctrl.SetBroadcast(broadcastOn)

	flagCh, err := broadcastFlag.Watch(rootCtx)
	if err != nil {
		log.Fatalw("failed to watch broadcast flag", "error", err)
	}
	go func() {
		for on := range flagCh {
			relay.SetBroadcasting(on)
			ctrl.SetBroadcast(on)
			hub.Publish(domain.NewEvent(domain.EventBroadcastChanged, map[string]interface{}{"on": on}))
		}
	}()

	// Session lifecycle gates outbound media
	sessionEvents := hub.Subscribe(rootCtx, domain.EventSessionStarted, domain.EventSessionEnded)
	go func() {
		for range sessionEvents {
			relay.SetSessionActive(sessionSvc.ActiveCount(rootCtx) > 0)
		}
	}()

	telemetry.Start(rootCtx)

	// Optional Redis event mirror for off-host dashboards
	var mirror *events.RedisMirror
	if redisClient != nil {
		mirror = events.NewRedisMirror(redisClient, hub, cfg.Node.Name, log)
		mirror.Start(rootCtx)
	}

	// mDNS advertisement so viewers can find this node without configuration
	var advertiser *discovery.Advertiser
	if cfg.Discovery.Mode == "mdns" {
		advertiser = discovery.NewAdvertiser(cfg.Node.Name, cfg.Discovery.Service, cfg.Discovery.Domain, listenerPort(ctrl.Addr()), log)
		if err := advertiser.Start(); err != nil {
			log.Warnw("mdns advertisement unavailable, viewers must use static discovery", "error", err)
			advertiser = nil
		}
	}

	// Health checks
	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddControlServerCheck(ctrl.Addr, time.Second)
	healthChecker.AddSessionStoreCheck(sessionRepo, 2*time.Second)
	healthChecker.AddCheck("relay", func(ctx context.Context) (bool, error) {
		return relay.Port() != 0, nil
	}, time.Second)
	if redisClient != nil {
		healthChecker.AddRedisCheck(redisClient, 2*time.Second)
	}

	// Initialize HTTP handlers
	authHandler := httphandlers.NewAuthHandler(authService, cfg.Auth.OperatorSecret)
	pairingHandler := httphandlers.NewPairingHandler(sessionSvc, telemetry, broadcastFlag, cfg.Node.Name, log)
	streamHandler := events.NewStreamHandler(hub, cfg.Auth.AllowedOrigins, log)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	// Token endpoint is public; it only exists when auth is on
	if cfg.Auth.Enabled {
		authHandler.SetupRoutes(router)
		log.Infow("operator auth enabled",
			"operator_secret", utils.MaskSensitive(cfg.Auth.OperatorSecret, 4))
	}

	api := router.Group("/api/v1")
	reads := api.Group("")
	ops := api.Group("")
	if cfg.Auth.Enabled {
		reads.Use(middleware.OptionalAuthMiddleware(authService))
		ops.Use(middleware.AuthMiddleware(authService))
	}
	{
		reads.GET("/pairs", pairingHandler.ListPairs)
		reads.GET("/sessions", pairingHandler.ListSessions)
		reads.GET("/status", pairingHandler.Status)
		reads.GET("/events", gin.WrapF(streamHandler.HandleWebSocket))

		ops.POST("/pairs/:id/accept", pairingHandler.AcceptPair)
		ops.POST("/pairs/:id/decline", pairingHandler.DeclinePair)
		ops.DELETE("/sessions/:id", pairingHandler.EndSession)
		ops.PUT("/broadcast", pairingHandler.SetBroadcast)
		ops.POST("/code/rotate", pairingHandler.RotateCode)
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		status := healthChecker.CheckAll(ctx)
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status.Status,
			"timestamp": status.Timestamp,
			"checks":    status.Checks,
			"uptime":    utils.FormatDuration(time.Since(startTime)),
		})
	})

	// Readiness endpoint
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		if !healthChecker.IsReady(ctx) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "timestamp": time.Now()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "timestamp": time.Now()})
	})

	// Prometheus metrics endpoint
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         cfg.API.Address,
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Infow("broadcaster up",
			"node", cfg.Node.Name,
			"api", cfg.API.Address,
			"control", ctrl.Addr(),
			"media_port", relay.Port(),
			"pairing_code", sessionSvc.CurrentCode(),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("api server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	log.Info("shutting down broadcaster...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer shutdownCancel()

	// Shutdown HTTP server gracefully
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during api server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing api server", "error", closeErr)
		}
	}

	// Stop advertising first so no new viewer dials a dying node, then close
	// control connections so sessions end and land in history before exit.
	if advertiser != nil {
		advertiser.Stop()
	}
	ctrl.Stop()
	relay.Stop()
	telemetry.Stop()
	if mirror != nil {
		mirror.Stop()
	}
	rootCancel()

	log.Info("broadcaster stopped")
}

// listenerPort extracts the port from a bound listener address.
func listenerPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}
