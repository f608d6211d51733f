package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Remote    RemoteConfig
	Scheduler SchedulerConfig
	Auth      AuthConfig
	Mimir     MimirConfig
	Timezone  string
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Driver         string
	URL            string
	MaxConnections int
	MaxIdleConns   int
}

type RedisConfig struct {
	URL string
}

type CacheConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
	Prefix        string
}

type RemoteConfig struct {
	RateLimit float64
	Burst     int
	UserAgent string
}

// SchedulerConfig holds process-level timing for the scheduler. The
// interval, concurrency and default sync options live in the settings
// table and are edited at runtime.
type SchedulerConfig struct {
	Warmup        time.Duration
	BatchPause    time.Duration
	BackoffBase   time.Duration
	Retention     time.Duration
	PurgeInterval time.Duration
	AutoStart     bool
}

type AuthConfig struct {
	JWTSecret string
}

type MimirConfig struct {
	URL           string
	TenantHeader  string
	Tenant        string
	BatchSize     int
	FlushInterval time.Duration
	AuthToken     string
}

func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("UPTIME_SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if url := os.Getenv("MIMIR_URL"); url != "" {
		cfg.Mimir.URL = url
	}
	if token := os.Getenv("MIMIR_AUTH_TOKEN"); token != "" {
		cfg.Mimir.AuthToken = token
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "file:uptime-sync.db")
	v.SetDefault("database.maxconnections", 25)
	v.SetDefault("database.maxidleconns", 5)
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.sweepinterval", "1m")
	v.SetDefault("cache.prefix", "uptime")
	v.SetDefault("remote.ratelimit", 10.0)
	v.SetDefault("remote.burst", 5)
	v.SetDefault("remote.useragent", "uptime-sync/1.0")
	v.SetDefault("scheduler.warmup", "10s")
	v.SetDefault("scheduler.batchpause", "1s")
	v.SetDefault("scheduler.backoffbase", "1s")
	v.SetDefault("scheduler.retention", "720h")
	v.SetDefault("scheduler.purgeinterval", "1h")
	v.SetDefault("scheduler.autostart", true)
	v.SetDefault("mimir.tenantheader", "X-Scope-OrgID")
	v.SetDefault("mimir.tenant", "uptime-sync")
	v.SetDefault("mimir.batchsize", 1000)
	v.SetDefault("mimir.flushinterval", "30s")
	v.SetDefault("timezone", "UTC")
}

// Location resolves the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
