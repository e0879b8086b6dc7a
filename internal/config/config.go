package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/joeshaw/envdecode"
)

// minSessionSecretLen is the shortest HMAC key accepted for local sessions.
const minSessionSecretLen = 32

// Config aggregates every setting the portal backend needs.
type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Chat     ChatConfig
	AI       AIConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Jobs     JobsConfig
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	var db DatabaseConfig
	if err := decodeEnv(&db); err != nil {
		return nil, fmt.Errorf("database config: %w", err)
	}

	var rdb RedisConfig
	if err := decodeEnv(&rdb); err != nil {
		return nil, fmt.Errorf("redis config: %w", err)
	}

	return &Config{
		Server:   server,
		Auth:     auth,
		Chat:     chat,
		AI:       loadAIConfig(),
		Database: db,
		Redis:    rdb,
		Jobs: JobsConfig{
			OverdueSchedule: getEnvOrDefault("OVERDUE_SCHEDULE", "@every 1h"),
		},
	}, nil
}

// ServerConfig describes the HTTP listener and page serving.
type ServerConfig struct {
	Addr           string
	StaticDir      string
	AllowedOrigins []string
	// TrustedProxies are CIDRs or IPs whose forwarding headers name the
	// client. Empty means the socket address is always used.
	TrustedProxies []string
	RealIPHeaders  []string
	LogLevel       string
	LogFormat      string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	var addr string
	switch {
	case strings.Contains(port, ":"):
		// ":8080" and "127.0.0.1:8080" are used as-is.
		addr = port
	case strings.Contains(port, " "):
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	default:
		addr = ":" + port
	}

	format := strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json"))
	if format != "json" && format != "console" {
		return ServerConfig{}, fmt.Errorf("invalid LOG_FORMAT value: %q", format)
	}

	proxies := splitList(os.Getenv("TRUSTED_PROXIES"))
	for _, p := range proxies {
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			return ServerConfig{}, fmt.Errorf("invalid TRUSTED_PROXIES entry: %q", p)
		}
	}
	headers := splitList(os.Getenv("REAL_IP_HEADERS"))
	if len(headers) == 0 {
		headers = []string{"X-Real-IP", "X-Forwarded-For"}
	}

	return ServerConfig{
		Addr:           addr,
		StaticDir:      strings.TrimSpace(os.Getenv("STATIC_DIR")),
		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
		TrustedProxies: proxies,
		RealIPHeaders:  headers,
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:      format,
	}, nil
}

// AuthConfig describes the auth provider and the session cookies.
type AuthConfig struct {
	ProviderURL        string
	AnonKey            string
	AdminEmails        []string
	SessionSecret      []byte
	SessionTTL         time.Duration
	CookieSecure       bool
	UsersFile          string
	LoginRatePerMinute int
}

// ProviderEnabled reports whether the hosted auth provider is configured.
func (c AuthConfig) ProviderEnabled() bool {
	return c.ProviderURL != "" && c.AnonKey != ""
}

func loadAuthConfig() (AuthConfig, error) {
	secret := strings.TrimSpace(os.Getenv("SESSION_SECRET"))
	if len(secret) < minSessionSecretLen {
		return AuthConfig{}, fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLen)
	}

	ttl, err := parseDurationEnv("SESSION_TTL", 12*time.Hour)
	if err != nil {
		return AuthConfig{}, err
	}

	secure, err := parseBoolEnv("COOKIE_SECURE", true)
	if err != nil {
		return AuthConfig{}, err
	}

	rate := 10
	if override, err := parseOptionalIntEnv("LOGIN_RATE_PER_MIN"); err != nil {
		return AuthConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return AuthConfig{}, fmt.Errorf("invalid LOGIN_RATE_PER_MIN value %d", *override)
		}
		rate = *override
	}

	emails := splitList(os.Getenv("ADMIN_EMAILS"))
	for i := range emails {
		emails[i] = strings.ToLower(emails[i])
	}

	return AuthConfig{
		ProviderURL:        strings.TrimRight(strings.TrimSpace(os.Getenv("AUTH_PROVIDER_URL")), "/"),
		AnonKey:            strings.TrimSpace(os.Getenv("AUTH_PROVIDER_ANON_KEY")),
		AdminEmails:        emails,
		SessionSecret:      []byte(secret),
		SessionTTL:         ttl,
		CookieSecure:       secure,
		UsersFile:          strings.TrimSpace(os.Getenv("USERS_FILE")),
		LoginRatePerMinute: rate,
	}, nil
}

// ChatConfig describes the upstream chat history backend.
type ChatConfig struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	CacheTTL     time.Duration
	PollInterval time.Duration
}

func loadChatConfig() (ChatConfig, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("CHAT_API_URL")), "/")
	if baseURL == "" {
		return ChatConfig{}, errors.New("CHAT_API_URL is required")
	}

	timeout, err := parseDurationEnv("CHAT_TIMEOUT", 15*time.Second)
	if err != nil {
		return ChatConfig{}, err
	}
	cacheTTL, err := parseDurationEnv("CHAT_CACHE_TTL", time.Minute)
	if err != nil {
		return ChatConfig{}, err
	}
	poll, err := parseDurationEnv("CHAT_POLL_INTERVAL", 5*time.Second)
	if err != nil {
		return ChatConfig{}, err
	}

	return ChatConfig{
		BaseURL:      baseURL,
		APIKey:       strings.TrimSpace(os.Getenv("CHAT_API_KEY")),
		Timeout:      timeout,
		CacheTTL:     cacheTTL,
		PollInterval: poll,
	}, nil
}

// AIConfig describes the optional summarisation model.
type AIConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string
}

// Enabled reports whether the model and its credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds an Ark chat model from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, errors.New("ark model or credentials missing: set ARK_MODEL and ARK_API_KEY or ARK_ACCESS_KEY/ARK_SECRET_KEY")
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:   c.BaseURL,
		Region:    c.Region,
		APIKey:    c.APIKey,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Model:     c.Model,
	})
}

func loadAIConfig() AIConfig {
	return AIConfig{
		APIKey:    strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey: strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey: strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:     strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:   getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:    getEnvOrDefault("ARK_REGION", "cn-beijing"),
	}
}

// DatabaseConfig selects the invoice store. An empty URL keeps data in memory.
type DatabaseConfig struct {
	URL          string `env:"DATABASE_URL"`
	MaxOpenConns int    `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns int    `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	AutoMigrate  bool   `env:"DATABASE_AUTO_MIGRATE,default=true"`
}

// Enabled reports whether a Postgres DSN was supplied.
func (c DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// RedisConfig selects the cache backend. An empty address keeps the cache in memory.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
}

// Enabled reports whether a Redis address was supplied.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// JobsConfig holds background job schedules in cron syntax.
type JobsConfig struct {
	OverdueSchedule string
}

// decodeEnv fills tagged struct fields; having none of them set is not an error.
func decodeEnv(target interface{}) error {
	err := envdecode.Decode(target)
	if err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return err
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}
