package config

import "github.com/pion/webrtc/v4"

var (
	DefaultProductionSTUN = []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
	}
	DefaultDevelopmentSTUN = []string{
		"stun:stun.l.google.com:19302",
	}
)

type ICEConfig struct {
	STUNProduction  []string `mapstructure:"stun_production"`
	STUNDevelopment []string `mapstructure:"stun_development"`
	TURNURL         string   `mapstructure:"turn_url"`
	TURNUsername    string   `mapstructure:"turn_username"`
	TURNCredential  string   `mapstructure:"turn_credential"`
	ForceRelay      bool     `mapstructure:"force_relay"`
}

// ICEServers lists STUN servers for the mode first. A TURN server follows
// only when its URL, username and credential are all set; partial TURN
// settings are dropped.
func (c *Config) ICEServers() []webrtc.ICEServer {
	stun := c.ICE.STUNDevelopment
	if len(stun) == 0 {
		stun = DefaultDevelopmentSTUN
	}
	if c.Mode == ModeProduction {
		stun = c.ICE.STUNProduction
		if len(stun) == 0 {
			stun = DefaultProductionSTUN
		}
	}

	servers := []webrtc.ICEServer{{URLs: append([]string(nil), stun...)}}
	if c.hasTURN() {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{c.ICE.TURNURL},
			Username:   c.ICE.TURNUsername,
			Credential: c.ICE.TURNCredential,
		})
	}
	return servers
}

func (c *Config) hasTURN() bool {
	return c.ICE.TURNURL != "" && c.ICE.TURNUsername != "" && c.ICE.TURNCredential != ""
}

// WebRTCConfiguration is the peer connection configuration derived from ICEServers.
func (c *Config) WebRTCConfiguration() webrtc.Configuration {
	policy := webrtc.ICETransportPolicyAll
	if c.ICE.ForceRelay && c.hasTURN() {
		policy = webrtc.ICETransportPolicyRelay
	}
	return webrtc.Configuration{
		ICEServers:         c.ICEServers(),
		ICETransportPolicy: policy,
	}
}
