package webrtc

import (
	"fmt"

	"camlink/pkg/config"

	"github.com/pion/webrtc/v3"
)

// EngineConfig carries the ICE topology for peer connections on both the
// broadcasting and the viewing side.
type EngineConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// EngineConfigFromApp maps the application config into engine settings.
func EngineConfigFromApp(cfg *config.Config) EngineConfig {
	ec := EngineConfig{}
	for _, server := range cfg.WebRTC.ICEServers {
		ice := webrtc.ICEServer{URLs: server.URLs}
		if server.Username != "" {
			ice.Username = server.Username
			ice.Credential = server.Credential
		}
		ec.ICEServers = append(ec.ICEServers, ice)
	}
	if len(ec.ICEServers) == 0 {
		ec.ICEServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}
	ec.PortRange.Min = cfg.WebRTC.PortRange.Min
	ec.PortRange.Max = cfg.WebRTC.PortRange.Max
	return ec
}

// Engine builds peer connections with a shared API configuration.
type Engine struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("failed to set UDP port range: %w", err)
		}
	}

	return &Engine{
		api: webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		config: webrtc.Configuration{
			ICEServers:   cfg.ICEServers,
			SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
		},
	}, nil
}

func (e *Engine) NewPeerConnection() (*webrtc.PeerConnection, error) {
	return e.api.NewPeerConnection(e.config)
}
