package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"eostre.org/internal/auth"
)

// Config is shared by adminserver and locationserv. Each binary reads the
// sections it needs.
type Config struct {
	App struct {
		// dev | prod
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
		// Base URL used in email validation links.
		URL string `yaml:"url"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		GRPCAddr           string   `yaml:"grpc_addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
		ShutdownTimeout    string   `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Storage struct {
		// postgres | memory
		Driver          string `yaml:"driver"`
		DSN             string `yaml:"dsn"`
		MaxOpenConns    int    `yaml:"max_open_conns"`
		MaxIdleConns    int    `yaml:"max_idle_conns"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime"`
	} `yaml:"storage"`

	JWT struct {
		PrivateKeyPath    string `yaml:"private_key_path"`
		PublicKeyPath     string `yaml:"public_key_path"`
		Algorithm         string `yaml:"algorithm"`
		Issuer            string `yaml:"issuer"`
		Audience          string `yaml:"audience"`
		KeyID             string `yaml:"key_id"`
		AccessTTLMinutes  int    `yaml:"access_ttl_minutes"`
		RefreshTTLMinutes int    `yaml:"refresh_ttl_minutes"`
		LeewaySeconds     int    `yaml:"leeway_seconds"`
	} `yaml:"jwt"`

	Cookie struct {
		// Secure is a pointer so an absent key keeps the secure default.
		Secure *bool  `yaml:"secure"`
		Domain string `yaml:"domain"`
		Name   string `yaml:"name"`
	} `yaml:"cookie"`

	Email struct {
		Enabled            bool   `yaml:"enabled"`
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		From               string `yaml:"from"`
		TLS                string `yaml:"tls"` // starttls | ssl | none
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
		ValidationTTL      string `yaml:"validation_ttl"`
	} `yaml:"email"`

	TokenEvents struct {
		// memory | redis
		Backend string `yaml:"backend"`
		Redis   struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"token_events"`

	MQTT struct {
		Broker   string `yaml:"broker"`
		ClientID string `yaml:"client_id"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Topic    string `yaml:"topic"`
		QoS      int    `yaml:"qos"`
	} `yaml:"mqtt"`

	RateLimit struct {
		Enabled   bool    `yaml:"enabled"`
		Burst     int     `yaml:"burst"`
		PerSecond float64 `yaml:"per_second"`
		// TrustedProxies lists the CIDRs (or bare IPs) of reverse proxies whose
		// X-Forwarded-For header is believed. Empty means the peer address is used.
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"rate_limit"`
}

// Default returns a config with every default applied and no file read.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads path (optional) and applies defaults and EOSTRE_* overrides.
// Validation is left to the caller because each binary needs a different subset.
func Load(path string) (*Config, error) {
	var c Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	c.applyEnvOverrides()
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.URL == "" {
		c.App.URL = "http://localhost:8080"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "postgres"
	}
	if c.JWT.Algorithm == "" {
		c.JWT.Algorithm = "RS256"
	}
	if c.JWT.AccessTTLMinutes == 0 {
		c.JWT.AccessTTLMinutes = 15
	}
	if c.JWT.RefreshTTLMinutes == 0 {
		c.JWT.RefreshTTLMinutes = 7 * 24 * 60
	}
	if c.Cookie.Secure == nil {
		secure := true
		c.Cookie.Secure = &secure
	}
	if c.Cookie.Name == "" {
		c.Cookie.Name = "access_token"
	}
	if c.Email.TLS == "" {
		c.Email.TLS = "starttls"
	}
	if c.Email.ValidationTTL == "" {
		c.Email.ValidationTTL = "2h"
	}
	if c.TokenEvents.Backend == "" {
		c.TokenEvents.Backend = "memory"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "eostre/locations"
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.RateLimit.PerSecond == 0 {
		c.RateLimit.PerSecond = 10
	}
}

// Validate checks the settings a serving binary depends on. signing reports
// whether the binary mints tokens and therefore needs the private key.
func (c *Config) Validate(signing bool) error {
	var errs []error
	if strings.TrimSpace(c.JWT.PublicKeyPath) == "" {
		errs = append(errs, errors.New("jwt.public_key_path is required"))
	}
	if signing && strings.TrimSpace(c.JWT.PrivateKeyPath) == "" {
		errs = append(errs, errors.New("jwt.private_key_path is required"))
	}
	if !auth.SupportedAlgorithm(c.JWT.Algorithm) {
		errs = append(errs, fmt.Errorf("jwt.algorithm %q is not supported", c.JWT.Algorithm))
	}
	if c.JWT.AccessTTLMinutes <= 0 || c.JWT.RefreshTTLMinutes <= 0 {
		errs = append(errs, errors.New("jwt ttl values must be positive"))
	} else if c.JWT.AccessTTLMinutes >= c.JWT.RefreshTTLMinutes {
		errs = append(errs, errors.New("jwt.access_ttl_minutes must be shorter than jwt.refresh_ttl_minutes"))
	}
	switch c.Storage.Driver {
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for the postgres driver"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}
	switch c.TokenEvents.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.TokenEvents.Redis.Addr) == "" {
			errs = append(errs, errors.New("token_events.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("token_events.backend %q is not supported", c.TokenEvents.Backend))
	}
	for _, p := range c.RateLimit.TrustedProxies {
		if !validProxy(p) {
			errs = append(errs, fmt.Errorf("rate_limit.trusted_proxies: %q is not an IP or CIDR", p))
		}
	}
	if c.Email.Enabled && (c.Email.Host == "" || c.Email.From == "") {
		errs = append(errs, errors.New("email.host and email.from are required when email is enabled"))
	}
	for name, raw := range map[string]string{
		"server.shutdown_timeout":   c.Server.ShutdownTimeout,
		"storage.conn_max_lifetime": c.Storage.ConnMaxLifetime,
		"email.validation_ttl":      c.Email.ValidationTTL,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func validProxy(raw string) bool {
	raw = strings.TrimSpace(raw)
	if _, _, err := net.ParseCIDR(raw); err == nil {
		return true
	}
	return net.ParseIP(raw) != nil
}

// LoadKeys reads the PEM pair. Without signing only the public half is loaded.
func (c *Config) LoadKeys(signing bool) (auth.KeyPair, error) {
	private := ""
	if signing {
		private = c.JWT.PrivateKeyPath
	}
	return auth.LoadKeyPair(private, c.JWT.PublicKeyPath)
}

// CodecOptions maps the jwt section onto codec options.
func (c *Config) CodecOptions() []auth.CodecOption {
	return []auth.CodecOption{
		auth.WithAlgorithm(c.JWT.Algorithm),
		auth.WithIssuer(c.JWT.Issuer),
		auth.WithAudience(c.JWT.Audience),
		auth.WithKeyID(c.JWT.KeyID),
		auth.WithLeeway(time.Duration(c.JWT.LeewaySeconds) * time.Second),
	}
}

func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.JWT.AccessTTLMinutes) * time.Minute
}

func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.JWT.RefreshTTLMinutes) * time.Minute
}

func (c *Config) SecureCookies() bool {
	return c.Cookie.Secure == nil || *c.Cookie.Secure
}

func (c *Config) ShutdownTimeout() time.Duration {
	return mustDuration(c.Server.ShutdownTimeout, 10*time.Second)
}

func (c *Config) ConnMaxLifetime() time.Duration {
	return mustDuration(c.Storage.ConnMaxLifetime, 0)
}

func (c *Config) ValidationTTL() time.Duration {
	return mustDuration(c.Email.ValidationTTL, 2*time.Hour)
}

func (c *Config) IsProd() bool {
	return strings.EqualFold(c.App.Env, "prod")
}

func mustDuration(raw string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(raw)); err == nil {
		return d
	}
	return fallback
}

// ---- env helpers ----

const envPrefix = "EOSTRE_"

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(envPrefix + key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvFloat(key string) (float64, bool) {
	if s, ok := getEnvStr(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvCSV(key string) ([]string, bool) {
	s, ok := getEnvStr(key)
	if !ok {
		return nil, false
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, true
}

// applyEnvOverrides overwrites file values with EOSTRE_* variables.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.App.LogLevel = v
	}
	if v, ok := getEnvStr("APP_URL"); ok {
		c.App.URL = v
	}

	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("GRPC_ADDR"); ok {
		c.Server.GRPCAddr = v
	}
	if v, ok := getEnvCSV("CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}

	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("PG_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("PG_MAX_OPEN_CONNS"); ok {
		c.Storage.MaxOpenConns = v
	}
	if v, ok := getEnvInt("PG_MAX_IDLE_CONNS"); ok {
		c.Storage.MaxIdleConns = v
	}

	if v, ok := getEnvStr("JWT_PRIVATE_KEY_PATH"); ok {
		c.JWT.PrivateKeyPath = v
	}
	if v, ok := getEnvStr("JWT_PUBLIC_KEY_PATH"); ok {
		c.JWT.PublicKeyPath = v
	}
	if v, ok := getEnvStr("JWT_ALGORITHM"); ok {
		c.JWT.Algorithm = strings.ToUpper(v)
	}
	if v, ok := getEnvStr("JWT_ISSUER"); ok {
		c.JWT.Issuer = v
	}
	if v, ok := getEnvStr("JWT_AUDIENCE"); ok {
		c.JWT.Audience = v
	}
	if v, ok := getEnvStr("JWT_KEY_ID"); ok {
		c.JWT.KeyID = v
	}
	if v, ok := getEnvInt("JWT_ACCESS_TTL_MINUTES"); ok {
		c.JWT.AccessTTLMinutes = v
	}
	if v, ok := getEnvInt("JWT_REFRESH_TTL_MINUTES"); ok {
		c.JWT.RefreshTTLMinutes = v
	}

	if v, ok := getEnvBool("COOKIE_SECURE"); ok {
		c.Cookie.Secure = &v
	}
	if v, ok := getEnvStr("COOKIE_DOMAIN"); ok {
		c.Cookie.Domain = v
	}

	if v, ok := getEnvBool("EMAIL_ENABLED"); ok {
		c.Email.Enabled = v
	}
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.Email.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.Email.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.Email.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.Email.Password = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.Email.From = v
	}
	if v, ok := getEnvStr("SMTP_TLS"); ok {
		c.Email.TLS = strings.ToLower(v)
	}

	if v, ok := getEnvStr("TOKEN_EVENTS_BACKEND"); ok {
		c.TokenEvents.Backend = strings.ToLower(v)
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.TokenEvents.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.TokenEvents.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.TokenEvents.Redis.DB = v
	}

	if v, ok := getEnvStr("MQTT_BROKER"); ok {
		c.MQTT.Broker = v
	}
	if v, ok := getEnvStr("MQTT_TOPIC"); ok {
		c.MQTT.Topic = v
	}
	if v, ok := getEnvStr("MQTT_USERNAME"); ok {
		c.MQTT.Username = v
	}
	if v, ok := getEnvStr("MQTT_PASSWORD"); ok {
		c.MQTT.Password = v
	}

	if v, ok := getEnvBool("RATE_LIMIT_ENABLED"); ok {
		c.RateLimit.Enabled = v
	}
	if v, ok := getEnvInt("RATE_LIMIT_BURST"); ok {
		c.RateLimit.Burst = v
	}
	if v, ok := getEnvFloat("RATE_LIMIT_PER_SECOND"); ok {
		c.RateLimit.PerSecond = v
	}
	if v, ok := getEnvCSV("RATE_LIMIT_TRUSTED_PROXIES"); ok {
		c.RateLimit.TrustedProxies = v
	}
}
