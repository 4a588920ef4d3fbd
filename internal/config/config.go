package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Database    DatabaseConfig     `yaml:"database"`
	Auth        AuthConfig         `yaml:"auth"`
	Cache       CacheConfig        `yaml:"cache"`
	NATS        NATSConfig         `yaml:"nats"`
	Games       GamesConfig        `yaml:"games"`
	Events      EventsConfig       `yaml:"events"`
	Journal     JournalConfig      `yaml:"journal"`
	GameServers []GameServerConfig `yaml:"game_servers"`
}

// ServerConfig holds HTTP server and polling settings
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	HTTPPort     int           `yaml:"http_port"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

// CacheConfig holds query-result cache settings. When Enabled is false (the
// default) the rest of the system runs against a no-op cache; a missing cache
// section is never a startup failure.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	DefaultTTL    time.Duration `yaml:"default_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// NATSConfig holds event transport settings. Embedded runs an in-process
// broker so a single binary needs no external NATS deployment.
type NATSConfig struct {
	URL      string `yaml:"url"`
	Subject  string `yaml:"subject"`
	Embedded bool   `yaml:"embedded"`
	Port     int    `yaml:"port"`
}

// GamesConfig holds game code handling settings
type GamesConfig struct {
	Default string `yaml:"default"`
}

// EventsConfig holds dispatch settings
type EventsConfig struct {
	ConnectWindow       time.Duration `yaml:"connect_window"`
	DispatchConcurrency int           `yaml:"dispatch_concurrency"`
}

// JournalConfig holds processed-event journal settings. An empty Dir
// disables journaling.
type JournalConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// GameServerConfig represents a game server to monitor
type GameServerConfig struct {
	Name         string `yaml:"name"`
	Address      string `yaml:"address"`
	Game         string `yaml:"game"`
	RconPassword string `yaml:"rcon_password"`
	IgnoreBots   bool   `yaml:"ignore_bots"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills in defaults for unset fields.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.PollInterval == 0 {
		cfg.Server.PollInterval = 30 * time.Second
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/hlstatsd/hlstatsd.db"
	}
	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = 24 * time.Hour
	}
	if cfg.Cache.DefaultTTL == 0 {
		cfg.Cache.DefaultTTL = 5 * time.Minute
	}
	if cfg.Cache.SweepInterval == 0 {
		cfg.Cache.SweepInterval = time.Minute
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "hlstats.events"
	}
	if cfg.NATS.URL == "" && !cfg.NATS.Embedded {
		// No transport configured: run an embedded broker so the daemon
		// still works as a single binary.
		cfg.NATS.Embedded = true
	}
	if cfg.Games.Default == "" {
		cfg.Games.Default = "css"
	}
	if cfg.Events.ConnectWindow == 0 {
		cfg.Events.ConnectWindow = 5 * time.Minute
	}
	if cfg.Events.DispatchConcurrency == 0 {
		cfg.Events.DispatchConcurrency = 10
	}
	if cfg.Journal.MaxBytes == 0 {
		cfg.Journal.MaxBytes = 64 << 20
	}
}
