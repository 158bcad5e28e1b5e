package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	MediaBackendPlaceholder = "placeholder"
	MediaBackendKIE         = "kie"
)

// Config aggregates runtime configuration for the API server and the
// services behind it.
type Config struct {
	LogLevel slog.Level

	ListenAddr        string
	CORSOrigins       []string
	PaidPerMinute     int
	HTTPWriteTimeout  time.Duration
	JWTSecret         string
	JWTAudience       string
	MySQLDSN          string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	SessionTTL        time.Duration
	LockTTL           time.Duration
	DefaultTextCredit int

	ProviderTimeout   time.Duration
	GeminiBaseURL     string
	OpenAIBaseURL     string
	AnthropicBaseURL  string
	PerplexityBaseURL string
	ResearchModel     string
	ResearchProxyURL  string
	ResearchProxyKey  string

	MediaBackend          string
	KIEBaseURL            string
	KIEPollAttempts       int
	KIEPollInterval       time.Duration
	KIEModelOverride      map[string]string
	PlaceholderImageDelay time.Duration
	PlaceholderVideoDelay time.Duration

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string

	AlertTelegramToken  string
	AlertTelegramChatID int64

	PersistAttempts int
	PersistBackoff  time.Duration
	JanitorInterval time.Duration
}

// RedisEnabled reports whether a shared Redis should back locks and sessions.
func (c Config) RedisEnabled() bool { return c.RedisAddr != "" }

// MirrorEnabled reports whether generated media is copied into S3.
func (c Config) MirrorEnabled() bool { return c.S3Bucket != "" }

func (c Config) AlertsEnabled() bool { return c.AlertTelegramToken != "" && c.AlertTelegramChatID != 0 }

// Load reads configuration from environment variables, applying sane defaults.
// A .env file is optional.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultKIEBaseURL = "https://api.kie.ai"

	cfg := Config{
		LogLevel:          parseLevel(getEnv("LOG_LEVEL", "info")),
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		CORSOrigins:       splitList(getEnv("CORS_ORIGINS", "*")),
		PaidPerMinute:     getInt("RATE_LIMIT_PAID_PER_MINUTE", 20),
		HTTPWriteTimeout:  getDuration("HTTP_WRITE_TIMEOUT", 5*time.Minute),
		JWTSecret:         os.Getenv("AUTH_JWT_SECRET"),
		JWTAudience:       getEnv("AUTH_JWT_AUDIENCE", ""),
		MySQLDSN:          os.Getenv("MYSQL_DSN"),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getInt("REDIS_DB", 0),
		SessionTTL:        getDuration("SESSION_TTL", 24*time.Hour),
		LockTTL:           getDuration("CREDIT_LOCK_TTL", 10*time.Minute),
		DefaultTextCredit: getInt("DEFAULT_TEXT_CREDITS", 10),

		ProviderTimeout:   getDuration("PROVIDER_TIMEOUT", 90*time.Second),
		GeminiBaseURL:     getEnv("GEMINI_BASE_URL", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
		AnthropicBaseURL:  getEnv("ANTHROPIC_BASE_URL", ""),
		PerplexityBaseURL: getEnv("PERPLEXITY_BASE_URL", ""),
		ResearchModel:     getEnv("PERPLEXITY_MODEL", "sonar"),
		ResearchProxyURL:  getEnv("RESEARCH_PROXY_URL", ""),
		ResearchProxyKey:  os.Getenv("RESEARCH_PROXY_TOKEN"),

		MediaBackend:          strings.ToLower(getEnv("MEDIA_BACKEND", MediaBackendPlaceholder)),
		KIEBaseURL:            normalizeKIEBaseURL(getEnv("KIE_BASE_URL", defaultKIEBaseURL), defaultKIEBaseURL),
		KIEPollAttempts:       getInt("KIE_POLL_ATTEMPTS", 60),
		KIEPollInterval:       getDuration("KIE_POLL_INTERVAL", 5*time.Second),
		KIEModelOverride:      parsePairs(getEnv("KIE_MODEL_MAP", "")),
		PlaceholderImageDelay: getDuration("PLACEHOLDER_IMAGE_DELAY", 2*time.Second),
		PlaceholderVideoDelay: getDuration("PLACEHOLDER_VIDEO_DELAY", 5*time.Second),

		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3Region:        os.Getenv("S3_REGION"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:  getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:        getEnv("S3_PREFIX", "media"),

		AlertTelegramToken:  os.Getenv("ALERT_TELEGRAM_TOKEN"),
		AlertTelegramChatID: getInt64("ALERT_TELEGRAM_CHAT_ID", 0),

		PersistAttempts: getInt("PERSIST_ATTEMPTS", 3),
		PersistBackoff:  getDuration("PERSIST_BACKOFF", 200*time.Millisecond),
		JanitorInterval: getDuration("CONTENT_JANITOR_INTERVAL", time.Hour),
	}

	var missing []string
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}
	if cfg.MirrorEnabled() {
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if cfg.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}
	if cfg.MediaBackend != MediaBackendPlaceholder && cfg.MediaBackend != MediaBackendKIE {
		return Config{}, fmt.Errorf("MEDIA_BACKEND must be %q or %q, got %q", MediaBackendPlaceholder, MediaBackendKIE, cfg.MediaBackend)
	}

	return cfg, nil
}

// normalizeKIEBaseURL ensures we always hit the API host. The root kie.ai
// domain serves HTML instead of JSON.
func normalizeKIEBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}
	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return parsed.String()
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parsePairs reads "a=b,c=d". Malformed pairs are skipped.
func parsePairs(raw string) map[string]string {
	out := map[string]string{}
	for _, item := range splitList(raw) {
		k, v, ok := strings.Cut(item, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
