// Package config loads server settings from defaults, .env files, the process
// environment and command-line flags, in increasing order of precedence.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DBPolicy controls what the server does when the database connection fails.
type DBPolicy string

const (
	// PolicySoft starts serving immediately and leaves the auth routes
	// unavailable if the connection attempt fails.
	PolicySoft DBPolicy = "soft"
	// PolicyStrict waits for the connection before listening and exits on failure.
	PolicyStrict DBPolicy = "strict"
)

const (
	DefaultPort             = "3000"
	DefaultMongoURI         = "mongodb://localhost:27017/mongo-signup"
	DefaultPublicDir        = "landing_page/public"
	DefaultDBConnectTimeout = 30 * time.Second
	DefaultTokenTTL         = 12 * time.Hour
	DefaultRateLimit        = 100
	DefaultRateLimitWindow  = 15 * time.Minute
	DefaultBodyLimit        = 100 << 10
	DefaultShutdownTimeout  = 10 * time.Second
)

// Config holds runtime settings for the signup server.
//
// APIKey is nil when API_KEY is not set at all, so the /api/key endpoint can
// tell "absent" from "empty".
type Config struct {
	Port             string
	MongoURI         string
	APIKey           *string
	PublicDir        string
	DBPolicy         DBPolicy
	DBConnectTimeout time.Duration

	JWTSecret string
	TokenTTL  time.Duration

	RateLimit       int
	RateLimitWindow time.Duration
	RedisURL        string

	BodyLimit       int64
	ShutdownTimeout time.Duration

	LogLevel       string
	LogFormat      string
	MetricsEnabled bool
}

// envKeys maps viper keys to the environment variables that feed them.
var envKeys = map[string]string{
	"port":               "PORT",
	"mongodb_uri":        "MONGODB_URI",
	"api_key":            "API_KEY",
	"public_dir":         "PUBLIC_DIR",
	"db_connect_policy":  "DB_CONNECT_POLICY",
	"db_connect_timeout": "DB_CONNECT_TIMEOUT",
	"jwt_secret":         "JWT_SECRET",
	"token_ttl":          "TOKEN_TTL",
	"rate_limit":         "RATE_LIMIT",
	"rate_limit_window":  "RATE_LIMIT_WINDOW",
	"redis_url":          "REDIS_URL",
	"body_limit":         "BODY_LIMIT",
	"shutdown_timeout":   "SHUTDOWN_TIMEOUT",
	"log_level":          "LOG_LEVEL",
	"log_format":         "LOG_FORMAT",
	"metrics_enabled":    "METRICS_ENABLED",
}

// LoadDefaults populates c with development defaults.
func (c *Config) LoadDefaults() {
	c.Port = DefaultPort
	c.MongoURI = DefaultMongoURI
	c.APIKey = nil
	c.PublicDir = DefaultPublicDir
	c.DBPolicy = PolicySoft
	c.DBConnectTimeout = DefaultDBConnectTimeout
	c.TokenTTL = DefaultTokenTTL
	c.RateLimit = DefaultRateLimit
	c.RateLimitWindow = DefaultRateLimitWindow
	c.BodyLimit = DefaultBodyLimit
	c.ShutdownTimeout = DefaultShutdownTimeout
	c.LogLevel = "info"
	c.LogFormat = "json"
	c.MetricsEnabled = true
}

// LoadEnvFiles loads .env style files into the process environment.
// Variables already present in the environment are left untouched and
// missing files are ignored.
func LoadEnvFiles(files ...string) {
	if len(files) == 0 {
		files = []string{".env", ".env.local"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// NewViper returns a viper instance with every setting bound to its
// environment variable.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AllowEmptyEnv(true)
	for key, env := range envKeys {
		_ = v.BindEnv(key, env)
	}
	return v
}

// Load builds a Config from defaults overlaid with whatever v resolves
// (environment, bound flags). Malformed numbers and durations keep their
// defaults; there is no error path.
func Load(v *viper.Viper) *Config {
	cfg := &Config{}
	cfg.LoadDefaults()

	if s := v.GetString("port"); s != "" {
		cfg.Port = s
	}
	if s := v.GetString("mongodb_uri"); s != "" {
		cfg.MongoURI = s
	}
	if v.IsSet("api_key") {
		key := v.GetString("api_key")
		cfg.APIKey = &key
	}
	if s := v.GetString("public_dir"); s != "" {
		cfg.PublicDir = s
	}
	if p := DBPolicy(strings.ToLower(v.GetString("db_connect_policy"))); p == PolicyStrict || p == PolicySoft {
		cfg.DBPolicy = p
	}
	if d := v.GetDuration("db_connect_timeout"); d > 0 {
		cfg.DBConnectTimeout = d
	}

	cfg.JWTSecret = v.GetString("jwt_secret")
	if d := v.GetDuration("token_ttl"); d > 0 {
		cfg.TokenTTL = d
	}

	if n := v.GetInt("rate_limit"); n > 0 {
		cfg.RateLimit = n
	}
	if d := v.GetDuration("rate_limit_window"); d > 0 {
		cfg.RateLimitWindow = d
	}
	cfg.RedisURL = v.GetString("redis_url")

	if n := v.GetInt64("body_limit"); n > 0 {
		cfg.BodyLimit = n
	}
	if d := v.GetDuration("shutdown_timeout"); d > 0 {
		cfg.ShutdownTimeout = d
	}

	if s := v.GetString("log_level"); s != "" {
		cfg.LogLevel = s
	}
	if s := v.GetString("log_format"); s != "" {
		cfg.LogFormat = s
	}
	if v.IsSet("metrics_enabled") && v.GetString("metrics_enabled") != "" {
		cfg.MetricsEnabled = v.GetBool("metrics_enabled")
	}

	return cfg
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}
