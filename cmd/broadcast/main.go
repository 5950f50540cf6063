package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"camlink/internal/core/domain"
	signalws "camlink/internal/infrastructure/signal"
	webrtcinfra "camlink/internal/infrastructure/webrtc"
	"camlink/pkg/config"
	"camlink/pkg/logger"
	"camlink/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	name := flag.String("name", "", "broadcast display name (auto-generated if empty)")
	screenShare := flag.Bool("screen", false, "publish a screen track alongside the camera")
	flag.Parse()

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

	streamID := utils.GenerateSessionID()
	camera, err := webrtcinfra.NewVideoSource(domain.RoleCamera, "camera", streamID, log)
	if err != nil {
		log.Fatalw("failed to create camera source", "error", err)
	}
	audio, err := webrtcinfra.NewAudioSource("audio", streamID, log)
	if err != nil {
		log.Fatalw("failed to create audio source", "error", err)
	}
	var screen *webrtcinfra.SyntheticSource
	if *screenShare {
		screen, err = webrtcinfra.NewVideoSource(domain.RoleScreen, "screen", streamID, log)
		if err != nil {
			log.Fatalw("failed to create screen source", "error", err)
		}
	}

	bundle := webrtcinfra.NewTrackBundle(camera, audio, screen, log)

	broadcaster := webrtcinfra.NewBroadcaster(client, engine, bundle, webrtcinfra.BroadcasterConfig{
		Name:              *name,
		ScreenShare:       *screenShare,
		HeartbeatInterval: cfg.Session.HeartbeatInterval,
		DisconnectGrace:   cfg.Reconnect.DisconnectGrace,
	}, log)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := broadcaster.Start(ctx); err != nil {
		cancel()
		log.Fatalw("failed to start broadcast", "error", err)
	}
	cancel()

	log.Infow("broadcast is live",
		"session_id", broadcaster.SessionID(),
		"endpoint_id", endpointID,
		"screen_share", *screenShare,
	)
	fmt.Println("commands: camera on | camera off | mute | unmute | quit")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go readCommands(broadcaster, sigChan)

	<-sigChan
	log.Info("stopping broadcast")
	broadcaster.Stop()
}

// readCommands drives camera and audio toggles from stdin.
func readCommands(b *webrtcinfra.Broadcaster, quit chan<- os.Signal) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(strings.ToLower(scanner.Text())) {
		case "camera on":
			if err := b.SetCameraEnabled(true); err != nil {
				fmt.Println("error:", err)
			}
		case "camera off":
			if err := b.SetCameraEnabled(false); err != nil {
				fmt.Println("error:", err)
			}
		case "mute":
			b.SetAudioMuted(true)
		case "unmute":
			b.SetAudioMuted(false)
		case "quit", "exit":
			quit <- syscall.SIGTERM
			return
		case "":
		default:
			fmt.Println("commands: camera on | camera off | mute | unmute | quit")
		}
	}
}
