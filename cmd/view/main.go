package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"camlink/internal/core/domain"
	signalws "camlink/internal/infrastructure/signal"
	webrtcinfra "camlink/internal/infrastructure/webrtc"
	"camlink/pkg/config"
	"camlink/pkg/logger"
	"camlink/pkg/utils"

	"github.com/pion/webrtc/v3"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	sessionID := flag.String("session", "", "session ID of the broadcast to watch")
	flag.Parse()

	if *sessionID == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	engine, err := webrtcinfra.NewEngine(webrtcinfra.EngineConfigFromApp(cfg))
	if err != nil {
		log.Fatalw("failed to create webrtc engine", "error", err)
	}

	endpointID := domain.EndpointID(utils.GenerateEndpointID())
	client := signalws.NewClient(cfg.Signal.URL, endpointID, log,
		signalws.WithWriteTimeout(cfg.Signal.WriteTimeout))

	stopped := make(chan string, 1)
	events := webrtcinfra.ViewerEvents{
		OnTrack: func(role domain.TrackRole, track *webrtc.TrackRemote) {
			log.Infow("receiving track",
				"role", role,
				"track_id", track.ID(),
				"codec", track.Codec().MimeType,
			)
		},
		OnScreenAbsent: func() {
			log.Warn("screen share was announced but no screen track arrived")
		},
		OnConnected: func() {
			log.Info("connected to broadcast")
		},
		OnStopped: func(reason string) {
			stopped <- reason
		},
	}

	viewer := webrtcinfra.NewViewerSession(client, engine, webrtcinfra.ViewerConfig{
		SessionID:        domain.SessionID(*sessionID),
		ScreenWaitWindow: cfg.Viewer.ScreenWaitWindow,
		ReconnectDelay:   cfg.Reconnect.RetryDelay,
		MaxReconnects:    cfg.Reconnect.MaxAttempts,
	}, events, log)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := viewer.Start(ctx); err != nil {
		cancel()
		log.Fatalw("failed to join broadcast", "error", err)
	}
	cancel()

	log.Infow("joined broadcast", "session_id", *sessionID, "endpoint_id", endpointID)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info("leaving broadcast")
		viewer.Stop()
	case reason := <-stopped:
		log.Infow("session over", "reason", reason)
	}
}
