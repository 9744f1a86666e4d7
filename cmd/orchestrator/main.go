package main

import (
	"context"
	"math/rand"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/internal/core/sdp"
	"peerlink/internal/core/services"
	httphandlers "peerlink/internal/handlers/http"
	"peerlink/internal/infrastructure/middleware"
	"peerlink/internal/infrastructure/monitoring"
	memoryrepo "peerlink/internal/infrastructure/repositories/memory"
	redisrepo "peerlink/internal/infrastructure/repositories/redis"
	"peerlink/internal/infrastructure/signal"
	webrtcinfra "peerlink/internal/infrastructure/webrtc"
	"peerlink/pkg/config"
	"peerlink/pkg/logger"
	"peerlink/pkg/tracing"
	"peerlink/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
)

func main() {
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
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
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(tracing.Config{
			ServiceName:    cfg.Tracing.ServiceName,
			JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
			SampleRate:     cfg.Tracing.SampleRate,
		})
		if err != nil {
			log.Fatalw("failed to initialize tracing", "error", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				log.Errorw("error shutting down tracer provider", "error", err)
			}
		}()
	}

	// Session registry: Redis presence mirror when configured, in-memory
	// otherwise.
	var registry ports.SessionRegistry
	var redisClient *goredis.Client
	if cfg.Redis.Enabled {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		registry = redisrepo.NewRedisPresenceRegistry(redisClient, cfg.Redis.PresenceTTL)
		log.Infow("using Redis presence registry", "address", cfg.Redis.Address)
	} else {
		registry = memoryrepo.NewMemorySessionRegistry()
	}

	collector := monitoring.NewPrometheusCollector()

	sessions := services.NewSessionService(registry, collector, log)

	bandwidth := services.NewBandwidthService(services.BandwidthConfig{
		Enabled:         cfg.Bandwidth.Enabled,
		LimitPercentage: cfg.Bandwidth.LimitPercentage,
		WindowLength:    cfg.Bandwidth.WindowLength,
		UploadOnly:      cfg.Bandwidth.UploadOnly,
	}, collector, log)

	sampler := services.NewStatsSampler(services.SamplerConfig{
		Interval: cfg.Bandwidth.SampleInterval,
	}, bandwidth, collector, log)

	connectivity := services.NewConnectivityService(sessions, cfg.Quirks, sampler, bandwidth, collector, log)

	advisor := services.NewRenegotiationService(sessions, log)

	pipeline := sdp.NewPipeline(sdp.Config{
		Opus: sdp.OpusParams{
			MaxAverageBitrate: cfg.Codecs.Opus.MaxAverageBitrate,
			Stereo:            cfg.Codecs.Opus.Stereo,
			DTX:               cfg.Codecs.Opus.DTX,
			FEC:               cfg.Codecs.Opus.FEC,
		},
		VideoMaxBitrateKbps: cfg.Codecs.VideoMaxBitrateKbps,
		UnsupportedFeedback: unsupportedFeedback(cfg),
		SCTPPort:            cfg.Codecs.SCTPPort,
		DisableBundle:       cfg.Codecs.DisableBundle,
	})

	transportConfig := webrtcinfra.TransportConfig{ICEServers: iceServers(cfg)}
	transportConfig.PortRange.Min = cfg.WebRTC.PortRange.Min
	transportConfig.PortRange.Max = cfg.WebRTC.PortRange.Max
	transports := webrtcinfra.NewTransportFactory(transportConfig, log)

	signalServer := signal.NewWebSocketServer(signal.ServerConfig{
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		MessagesPerSecond: messagesPerSecond(cfg),
		MessageBurst:      cfg.RateLimiting.MessageBurst,
		TrickleICE:        cfg.Negotiation.TrickleICE,
		AllowICERestart:   cfg.Negotiation.AllowICERestart,
	}, sessions, transports.New, log)

	negotiation := services.NewNegotiationService(services.NegotiationConfig{
		LocalID:      domain.PeerID(utils.NewID()),
		LocalWeight:  rand.Uint64() % 1000000,
		ReceiveAudio: cfg.Negotiation.ReceiveAudio,
		ReceiveVideo: cfg.Negotiation.ReceiveVideo,
	}, sessions, pipeline, signalServer, advisor, collector, log)

	signalServer.Bind(negotiation)
	sessions.Bind(connectivity, negotiation, sampler, bandwidth)

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddRegistryCheck(registry, 2*time.Second)
	if redisClient != nil {
		healthChecker.AddRedisCheck(redisClient, 2*time.Second)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	authHandler := httphandlers.NewAuthHandler(authService)
	authHandler.SetupRoutes(router)

	peerHandler := httphandlers.NewPeerHandler(sessions, negotiation, advisor, healthChecker)
	peerHandler.SetupRoutes(router, middleware.AuthMiddleware(authService))

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	apiSrv := &http.Server{
		Addr:         cfg.API.Address,
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	signalMux := http.NewServeMux()
	signalMux.HandleFunc("/ws", signalServer.HandleWebSocket)
	signalSrv := &http.Server{
		Addr:    cfg.Signal.Address,
		Handler: signalMux,
	}

	serverErr := make(chan error, 2)
	go func() {
		log.Infow("starting API server", "address", cfg.API.Address)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	go func() {
		log.Infow("starting signaling server", "address", cfg.Signal.Address)
		if err := signalSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer shutdownCancel()

	if err := signalSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down signaling server", "error", err)
	}
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down API server", "error", err)
	}

	// Drop every remaining peer so transports close cleanly.
	for _, session := range sessions.Sessions() {
		if err := sessions.RemovePeer(shutdownCtx, session.ID); err != nil {
			log.Warnw("error removing peer on shutdown", "peer_id", session.ID, "error", err)
		}
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Errorw("error closing Redis client", "error", err)
		}
	}

	log.Info("orchestrator stopped")
}

func iceServers(cfg *config.Config) []webrtc.ICEServer {
	if len(cfg.WebRTC.ICEServers) == 0 {
		return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	servers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}

// unsupportedFeedback unions the feedback exclusions of every quirk profile.
// The pipeline is shared across peers, so stripping is conservative.
func unsupportedFeedback(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var mechanisms []string
	for _, quirk := range cfg.Quirks {
		for _, mechanism := range quirk.UnsupportedFeedback {
			if !seen[mechanism] {
				seen[mechanism] = true
				mechanisms = append(mechanisms, mechanism)
			}
		}
	}
	return mechanisms
}

func messagesPerSecond(cfg *config.Config) float64 {
	if !cfg.RateLimiting.Enabled {
		return 0
	}
	return cfg.RateLimiting.MessagesPerSecond
}
