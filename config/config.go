package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string             `mapstructure:"port"`
	Environment    string             `mapstructure:"environment"`
	AllowedOrigins []string           `mapstructure:"-"`
	JWTSecret      string             `mapstructure:"jwt_secret"`
	PublicBaseURL  string             `mapstructure:"public_base_url"`
	Redis          RedisConfig        `mapstructure:"redis"`
	WS             WSConfig           `mapstructure:"ws"`
	ICEServers     []webrtc.ICEServer `mapstructure:"-"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WSConfig holds the signaling connection liveness knobs. PingPeriod must
// stay inside PongWait or every connection times out.
type WSConfig struct {
	WriteWait  time.Duration `mapstructure:"write_wait"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	ReadLimit  int64         `mapstructure:"read_limit"`
}

// Load reads configuration from an optional config.yaml plus environment
// variables (TELEHEALTH_* prefix).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("telehealth")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", "8080")
	v.SetDefault("environment", "development")
	v.SetDefault("allowed_origins", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("jwt_secret", "change-me-in-production")
	v.SetDefault("public_base_url", "http://localhost:8080")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("ws.write_wait", "10s")
	v.SetDefault("ws.pong_wait", "60s")
	v.SetDefault("ws.ping_period", "54s")
	v.SetDefault("ws.read_limit", 32768)
	v.SetDefault("ice_servers_json", "")
	v.SetDefault("stun_urls", "stun:stun.l.google.com:19302")
	v.SetDefault("turn_urls", "")
	v.SetDefault("turn_username", "")
	v.SetDefault("turn_credential", "")

	// A missing config file is fine; env vars and defaults carry it.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.AllowedOrigins = splitCommaSeparated(v.GetString("allowed_origins"))

	if cfg.WS.PingPeriod >= cfg.WS.PongWait {
		return nil, fmt.Errorf("ws.ping_period (%s) must be shorter than ws.pong_wait (%s)",
			cfg.WS.PingPeriod, cfg.WS.PongWait)
	}

	iceServers, err := parseICEServers(
		v.GetString("ice_servers_json"),
		v.GetString("stun_urls"),
		v.GetString("turn_urls"),
		v.GetString("turn_username"),
		v.GetString("turn_credential"),
	)
	if err != nil {
		return nil, err
	}
	cfg.ICEServers = iceServers

	return &cfg, nil
}

type iceServerJSON struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// parseICEServers builds the STUN/TURN list handed verbatim to joining
// clients. A full JSON list wins; otherwise the convenience stun/turn
// settings are assembled.
func parseICEServers(rawJSON, stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(rawJSON); raw != "" {
		var servers []iceServerJSON
		if err := json.Unmarshal([]byte(raw), &servers); err != nil {
			return nil, fmt.Errorf("ice_servers_json: %w", err)
		}
		out := make([]webrtc.ICEServer, 0, len(servers))
		for _, s := range servers {
			server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
			if s.Credential != "" {
				server.Credential = s.Credential
			}
			out = append(out, server)
		}
		return out, nil
	}

	var servers []webrtc.ICEServer
	if stun := splitCommaSeparated(stunURLs); len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if turn := splitCommaSeparated(turnURLs); len(turn) > 0 {
		turnUsername = strings.TrimSpace(turnUsername)
		turnCredential = strings.TrimSpace(turnCredential)
		if turnUsername == "" || turnCredential == "" {
			return nil, fmt.Errorf("turn_username and turn_credential must both be set when turn_urls is set")
		}
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   turnUsername,
			Credential: turnCredential,
		})
	}
	return servers, nil
}

func splitCommaSeparated(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
