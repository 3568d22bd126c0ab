package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Game     GameConfig     `mapstructure:"game"`
	Security SecurityConfig `mapstructure:"security"`
}

type ServerConfig struct {
	Port  int  `mapstructure:"port"`
	Debug bool `mapstructure:"debug"`
	// AdminKeyHash is the bcrypt hash of the admin key. Admin endpoints
	// (sell-price management) are disabled when empty.
	AdminKeyHash string `mapstructure:"admin_key_hash"`
}

type BackendConfig struct {
	// BaseURL of the remote profile/inventory service.
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ChainConfig struct {
	// Mode selects the contract transport: "wallet" expects a dialer from
	// the embedding wallet integration; "dev" runs against the in-memory
	// fake ledger.
	Mode string `mapstructure:"mode"`
	// DevSeedGems is the starting on-chain GEM balance per account in dev
	// mode.
	DevSeedGems uint64 `mapstructure:"dev_seed_gems"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type GameConfig struct {
	// ImageBaseURL is where item art lives; image refs are derived from it
	// as <base>/<type>/<rarity>.jpg.
	ImageBaseURL string `mapstructure:"image_base_url"`
	// GemFlushIntervalS is how often dirty local gem counters are written
	// back to the backend profile.
	GemFlushIntervalS int `mapstructure:"gem_flush_interval_s"`
	// HistoryRefreshIntervalS drives the periodic history re-aggregation;
	// 0 disables the background job (refresh stays user-initiated).
	HistoryRefreshIntervalS int `mapstructure:"history_refresh_interval_s"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the origins permitted on the SSE endpoint.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// AdminAllowedIPs restricts admin routes to these client IPs; empty
	// means no IP restriction (the admin key still applies).
	AdminAllowedIPs []string `mapstructure:"admin_allowed_ips"`
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.debug", false)
	v.SetDefault("backend.base_url", "http://127.0.0.1:8000")
	v.SetDefault("backend.timeout", "10s")
	v.SetDefault("chain.mode", "wallet")
	v.SetDefault("chain.dev_seed_gems", 0)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/client.db")
	v.SetDefault("database.mysql_max_open", 20)
	v.SetDefault("database.mysql_max_idle", 5)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("game.image_base_url", "https://storage.yandexcloud.net/gamegems")
	v.SetDefault("game.gem_flush_interval_s", 60)
	v.SetDefault("game.history_refresh_interval_s", 0)
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 50)
	v.SetDefault("security.rate_limit_burst", 100)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
