package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	JWT       JWTConfig       `yaml:"jwt"`
	Redis     RedisConfig     `yaml:"redis"`
	Policy    PolicyConfig    `yaml:"policy"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

type JWTConfig struct {
	Secret     string `yaml:"secret"`
	ExpireHour int    `yaml:"expire_hour"`
}

// RedisConfig backs the shared rate-limit counters and the async report queue.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PolicyConfig holds fleet policy constants. These are inputs, not protocol
// guarantees: agents must not assume exact values.
type PolicyConfig struct {
	EnrollTokenMinMinutes  int   `yaml:"enroll_token_min_minutes"`
	EnrollTokenMaxMinutes  int   `yaml:"enroll_token_max_minutes"`
	DeviceTokenExpiresDays int   `yaml:"device_token_expires_days"`
	CommandTTLHours        int   `yaml:"command_ttl_hours"`
	OnlineWindowSeconds    int   `yaml:"online_window_seconds"`
	RefreshTokenDays       int   `yaml:"refresh_token_days"`
	MaxReportSizeBytes     int64 `yaml:"max_report_size_bytes"`
	LogRetentionDays       int   `yaml:"log_retention_days"`
}

// RateLimitConfig configures the fixed-window scope limiter. Scope-specific
// entries override the default request count; the window is shared.
type RateLimitConfig struct {
	Requests      int `yaml:"requests"`
	WindowSeconds int `yaml:"window_seconds"`
	Login         int `yaml:"login"`
	Register      int `yaml:"register"`
	Enroll        int `yaml:"enroll"`
}

type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	var cfg *Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, err
		}
		cfg = &fileCfg
	}

	cfg.overrideFromEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "fleetgate.db",
		},
		JWT: JWTConfig{
			Secret:     "fleetgate-secret-key-change-in-production",
			ExpireHour: 24,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Policy: PolicyConfig{
			EnrollTokenMinMinutes:  5,
			EnrollTokenMaxMinutes:  1440,
			DeviceTokenExpiresDays: 365,
			CommandTTLHours:        24,
			OnlineWindowSeconds:    120,
			RefreshTokenDays:       30,
			MaxReportSizeBytes:     2 * 1024 * 1024,
			LogRetentionDays:       30,
		},
		RateLimit: RateLimitConfig{
			Requests:      100,
			WindowSeconds: 60,
			Login:         10,
			Register:      5,
			Enroll:        10,
		},
		CORS: CORSConfig{
			Origins: []string{"http://localhost:3000"},
		},
	}
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Server.Port == "" {
		c.Server.Port = def.Server.Port
	}
	if c.Server.Mode == "" {
		c.Server.Mode = def.Server.Mode
	}
	if c.Database.Driver == "" {
		c.Database = def.Database
	}
	if c.JWT.ExpireHour <= 0 {
		c.JWT.ExpireHour = def.JWT.ExpireHour
	}
	if c.Policy.EnrollTokenMinMinutes <= 0 {
		c.Policy.EnrollTokenMinMinutes = def.Policy.EnrollTokenMinMinutes
	}
	if c.Policy.EnrollTokenMaxMinutes <= 0 {
		c.Policy.EnrollTokenMaxMinutes = def.Policy.EnrollTokenMaxMinutes
	}
	if c.Policy.DeviceTokenExpiresDays <= 0 {
		c.Policy.DeviceTokenExpiresDays = def.Policy.DeviceTokenExpiresDays
	}
	if c.Policy.CommandTTLHours <= 0 {
		c.Policy.CommandTTLHours = def.Policy.CommandTTLHours
	}
	if c.Policy.OnlineWindowSeconds <= 0 {
		c.Policy.OnlineWindowSeconds = def.Policy.OnlineWindowSeconds
	}
	if c.Policy.RefreshTokenDays <= 0 {
		c.Policy.RefreshTokenDays = def.Policy.RefreshTokenDays
	}
	if c.Policy.MaxReportSizeBytes <= 0 {
		c.Policy.MaxReportSizeBytes = def.Policy.MaxReportSizeBytes
	}
	if c.Policy.LogRetentionDays == 0 {
		c.Policy.LogRetentionDays = def.Policy.LogRetentionDays
	}
	if c.RateLimit.Requests <= 0 {
		c.RateLimit.Requests = def.RateLimit.Requests
	}
	if c.RateLimit.WindowSeconds <= 0 {
		c.RateLimit.WindowSeconds = def.RateLimit.WindowSeconds
	}
	if c.RateLimit.Login <= 0 {
		c.RateLimit.Login = def.RateLimit.Login
	}
	if c.RateLimit.Register <= 0 {
		c.RateLimit.Register = def.RateLimit.Register
	}
	if c.RateLimit.Enroll <= 0 {
		c.RateLimit.Enroll = def.RateLimit.Enroll
	}
	if len(c.CORS.Origins) == 0 {
		c.CORS.Origins = def.CORS.Origins
	}
}

func (c *Config) validate() error {
	if c.Policy.EnrollTokenMinMinutes > c.Policy.EnrollTokenMaxMinutes {
		return fmt.Errorf("invalid enroll token TTL bounds: min %d > max %d",
			c.Policy.EnrollTokenMinMinutes, c.Policy.EnrollTokenMaxMinutes)
	}
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	return nil
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if days := os.Getenv("DEVICE_TOKEN_EXPIRES_DAYS"); days != "" {
		if v, err := strconv.Atoi(days); err == nil {
			c.Policy.DeviceTokenExpiresDays = v
		}
	}
	if hours := os.Getenv("COMMAND_TTL_HOURS"); hours != "" {
		if v, err := strconv.Atoi(hours); err == nil {
			c.Policy.CommandTTLHours = v
		}
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		c.CORS.Origins = strings.Split(origins, ",")
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
