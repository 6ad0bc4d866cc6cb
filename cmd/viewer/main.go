package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"nearcast/internal/core/domain"
	"nearcast/internal/core/ports"
	"nearcast/internal/core/services"
	"nearcast/internal/infrastructure/control"
	"nearcast/internal/infrastructure/discovery"
	"nearcast/internal/infrastructure/events"
	"nearcast/internal/infrastructure/media"
	"nearcast/internal/infrastructure/middleware"
	"nearcast/internal/infrastructure/monitoring"
	"nearcast/internal/infrastructure/sink"
	"nearcast/pkg/config"
	"nearcast/pkg/logger"
	"nearcast/pkg/retry"
	"nearcast/pkg/tracing"
	"nearcast/pkg/utils"
	"nearcast/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// errPairingRejected marks declines and wrong codes: retrying with the same
// code cannot succeed, the operator has to act.
var errPairingRejected = errors.New("pairing rejected")

func main() {
	startTime := time.Now()

	configPath := flag.String("config", "", "path to the viewer config file")
	peerName := flag.String("peer", "", "broadcaster to connect to, default is the first one discovered")
	code := flag.String("code", "", "pairing code shown on the broadcaster")
	flag.Parse()

	var cfg *config.Config
	var err error

	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to load config:", err)
			os.Exit(1)
		}
	} else {
		// Try multiple config paths
		configPaths := []string{
			"configs/viewer.yaml",
			"./configs/viewer.yaml",
			"/etc/nearcast/viewer.yaml",
			"config.yaml",
		}
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
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	if *code == "" {
		log.Fatal("a pairing code is required, pass -code")
	}
	if err := validation.ValidatePairingCode(*code); err != nil {
		log.Fatalw("invalid pairing code", "error", err)
	}

	// Initialize tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "nearcast-viewer",
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

	// Events hub and metrics
	hub := events.NewHub(log)
	collector := monitoring.NewPrometheusCollector()

	// Frame sink: where reassembled video goes. An external decoder tails
	// this file.
	sinkPath := cfg.Sink.Path
	if sinkPath == "" {
		sinkPath = filepath.Join(os.TempDir(), "nearcast-stream.h264")
	}
	frameSink, err := sink.NewFileSink(sinkPath, log)
	if err != nil {
		log.Fatalw("failed to open frame sink", "path", sinkPath, "error", err)
	}

	// Media plane
	stats := &media.Stats{}
	reasm := media.NewReassembler(frameSink, stats, log)
	receiver := media.NewReceiver(cfg.Media.HelloInterval, reasm, stats, log)

	// Discovery
	var backend ports.Discovery
	if cfg.Discovery.Mode == "mdns" {
		backend = discovery.NewBrowser(cfg.Discovery.Service, cfg.Discovery.Domain, 0, log)
	} else {
		peers := make([]domain.CandidatePeer, 0, len(cfg.Discovery.Static))
		for _, p := range cfg.Discovery.Static {
			peers = append(peers, domain.CandidatePeer{Name: p.Name, Host: p.Host, ControlPort: p.ControlPort})
		}
		backend = discovery.NewStatic(peers)
	}
	disco := services.NewDiscoveryService(backend, cfg.Discovery.CacheTTL)

	// Control plane
	client := control.NewClient(control.ClientConfig{
		DeviceName:       cfg.Node.Name,
		DialTimeout:      5 * time.Second,
		HandshakeTimeout: cfg.Control.HandshakeTimeout,
		Heartbeat: control.HeartbeatConfig{
			Interval:  cfg.Heartbeat.Interval,
			MissLimit: cfg.Heartbeat.MissLimit,
		},
	}, log)

	vw := newViewer(client, receiver, disco, hub, log, *peerName, *code)

	telemetry := services.NewTelemetryService(cfg.Monitoring.MetricsInterval, receiver, func() int {
		if vw.paired.Load() {
			return 1
		}
		return 0
	}, hub, collector, log)
	telemetry.Start(rootCtx)

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

	api := router.Group("/api/v1")
	{
		api.GET("/status", func(c *gin.Context) {
			st := client.Status()
			snap := telemetry.Snapshot()
			sinkFrames, sinkBytes := frameSink.Written()
			c.JSON(http.StatusOK, gin.H{
				"node":             cfg.Node.Name,
				"state":            st.State,
				"peer":             st.PeerName,
				"session_id":       string(st.SessionID),
				"media_port":       st.MediaPort,
				"local_media_port": receiver.LocalPort(),
				"reason":           st.Reason,
				"armed":            receiver.Armed(),
				"sink": gin.H{
					"path":           sinkPath,
					"frames_written": sinkFrames,
					"bytes_written":  sinkBytes,
				},
				"telemetry": gin.H{
					"fps":                 snap.FPS,
					"kbps":                snap.Kbps,
					"drop_ratio":          snap.DropRatio,
					"frames_completed":    snap.FramesCompleted,
					"frames_dropped":      snap.FramesDropped,
					"datagrams_in":        snap.DatagramsIn,
					"datagrams_out":       snap.DatagramsOut,
					"datagrams_discarded": snap.DatagramsDiscarded,
					"bytes_in":            snap.BytesIn,
					"bytes_out":           snap.BytesOut,
					"quality":             snap.Quality,
				},
			})
		})
		api.GET("/events", gin.WrapF(streamHandler.HandleWebSocket))
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    utils.FormatDuration(time.Since(startTime)),
		})
	})

	// The viewer has no backing dependencies; readiness equals liveness.
	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready", "timestamp": time.Now()})
	})

	// Prometheus metrics endpoint
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         cfg.API.Address,
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("viewer up", "node", cfg.Node.Name, "api", cfg.API.Address, "sink", sinkPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- vw.run(rootCtx)
	}()

	// Wait for shutdown signals, a server error, or the pairing loop giving up
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case err := <-serverErr:
		log.Errorw("api server failed", "error", err)
		exitCode = 1
	case err := <-runErr:
		if err != nil {
			log.Errorw("pairing loop gave up", "error", err)
			exitCode = 1
		}
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	log.Info("shutting down viewer...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during api server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing api server", "error", closeErr)
		}
	}

	rootCancel()
	client.Cancel()
	receiver.Disarm()
	telemetry.Stop()
	disco.Stop()
	if err := frameSink.Close(); err != nil {
		log.Errorw("error closing frame sink", "error", err)
	}

	log.Info("viewer stopped")
	if exitCode != 0 {
		zapLogger.Sync()
		os.Exit(exitCode)
	}
}

// viewer ties the pairing client, the media receiver and the events hub
// together. The receiver is armed only while paired AND the broadcaster
// reports itself on air; either signal dropping disarms it.
type viewer struct {
	client   *control.Client
	receiver *media.Receiver
	disco    ports.DiscoveryService
	hub      *events.Hub
	log      *zap.SugaredLogger

	peerName string
	code     string

	paired atomic.Bool

	statusCh    chan domain.PairingStatus
	broadcastCh chan bool
}

func newViewer(
	client *control.Client,
	receiver *media.Receiver,
	disco ports.DiscoveryService,
	hub *events.Hub,
	log *zap.SugaredLogger,
	peerName, code string,
) *viewer {
	v := &viewer{
		client:      client,
		receiver:    receiver,
		disco:       disco,
		hub:         hub,
		log:         log,
		peerName:    peerName,
		code:        code,
		statusCh:    make(chan domain.PairingStatus, 16),
		broadcastCh: make(chan bool, 16),
	}
	client.OnStatus(func(st domain.PairingStatus) { v.statusCh <- st })
	client.OnBroadcast(func(on bool) { v.broadcastCh <- on })
	return v
}

// run keeps the viewer connected until ctx is done. Consecutive failed
// attempts back off exponentially; a link that actually paired resets the
// budget when it drops.
func (v *viewer) run(ctx context.Context) error {
	rcfg := retry.Config{
		Enabled:            true,
		MaxAttempts:        8,
		InitialDelay:       500 * time.Millisecond,
		MaxDelay:           15 * time.Second,
		Multiplier:         2,
		Jitter:             true,
		NonRetryableErrors: []error{errPairingRejected},
	}

	for {
		if err := retry.Retry(ctx, rcfg, func() error { return v.attempt(ctx) }); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		v.log.Infow("link lost, reconnecting")
	}
}

// attempt runs one pairing attempt to completion. A link that reached Paired
// returns nil when it later drops; a handshake that never paired returns an
// error, and a decline or wrong code is not retried.
func (v *viewer) attempt(ctx context.Context) error {
	// Drop events left over from a previous link. The broadcaster re-sends
	// the switch state right after accepting, so nothing is lost.
drain:
	for {
		select {
		case <-v.statusCh:
		case <-v.broadcastCh:
		default:
			break drain
		}
	}

	peer, err := pickPeer(ctx, v.disco, v.peerName)
	if err != nil {
		v.disco.Refresh()
		return err
	}

	// A failed dial means the cached candidate is likely gone; browse again
	// on the next attempt.
	if err := v.client.Connect(ctx, peer, v.code); err != nil {
		v.disco.Refresh()
		return err
	}

	onAir := false
	everPaired := false
	var mediaPort int

	defer func() {
		v.receiver.Disarm()
		v.paired.Store(false)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-v.statusCh:
			switch st.State {
			case domain.PairingConnecting, domain.PairingWaitingAcceptance:
				// In flight.
			case domain.PairingPaired:
				everPaired = true
				mediaPort = st.MediaPort
				v.paired.Store(true)
				v.hub.Publish(domain.NewEvent(domain.EventSessionStarted, map[string]interface{}{
					"session_id": string(st.SessionID),
					"peer":       peer.Name,
				}))
				if onAir {
					v.arm(ctx, peer.Host, mediaPort)
				}
			case domain.PairingFailed:
				if everPaired {
					v.receiver.Disarm()
					v.paired.Store(false)
					v.hub.Publish(domain.NewEvent(domain.EventSessionEnded, map[string]interface{}{
						"peer":   peer.Name,
						"reason": st.Reason,
					}))
					return nil
				}
				if st.Reason == "Declined" || st.Reason == "Invalid code" {
					return fmt.Errorf("%w: %s", errPairingRejected, st.Reason)
				}
				return fmt.Errorf("pairing failed: %s", st.Reason)
			case domain.PairingIdle:
				// Cancel was called.
				return nil
			}
		case on := <-v.broadcastCh:
			onAir = on
			v.hub.Publish(domain.NewEvent(domain.EventBroadcastChanged, map[string]interface{}{"on": on}))
			if !everPaired {
				continue
			}
			if on {
				v.arm(ctx, peer.Host, mediaPort)
			} else {
				v.receiver.Disarm()
			}
		}
	}
}

func (v *viewer) arm(ctx context.Context, host string, port int) {
	if err := v.receiver.Arm(ctx, host, port); err != nil {
		v.log.Errorw("failed to arm media channel", "host", host, "port", port, "error", err)
	}
}

// pickPeer returns the discovered broadcaster matching name, or the first
// candidate when name is empty.
func pickPeer(ctx context.Context, disco ports.DiscoveryService, name string) (domain.CandidatePeer, error) {
	candidates, err := disco.Candidates(ctx)
	if err != nil {
		return domain.CandidatePeer{}, fmt.Errorf("discover broadcasters: %w", err)
	}
	if name == "" {
		if len(candidates) == 0 {
			return domain.CandidatePeer{}, errors.New("no broadcasters found")
		}
		return candidates[0], nil
	}
	for _, c := range candidates {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return domain.CandidatePeer{}, fmt.Errorf("broadcaster %q not found", name)
}
