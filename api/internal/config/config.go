package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Role selects defaults and validation rules.
type Role int

const (
	RoleBot Role = iota + 1
	RoleService
)

type Config struct {
	TelegramBotToken string `yaml:"telegram_token"`
	WebhookURL       string `yaml:"webhook_url"`
	Port             string `yaml:"port"`
	ReplURL          string `yaml:"repl_url"`

	ArtifactStore     string        `yaml:"artifact_store"`
	ArtifactDir       string        `yaml:"artifact_dir"`
	DatabaseURL       string        `yaml:"database_url"`
	GCSBucket         string        `yaml:"gcs_bucket"`
	ArtifactRetention time.Duration `yaml:"artifact_retention"`

	OCREngine     string        `yaml:"ocr_engine"`
	STTEngine     string        `yaml:"stt_engine"`
	OCRTimeout    time.Duration `yaml:"ocr_timeout"`
	STTTimeout    time.Duration `yaml:"stt_timeout"`
	OCRPreprocess bool          `yaml:"ocr_preprocess"`

	GeminiAPIKey   string   `yaml:"gemini_api_key"`
	GeminiModel    string   `yaml:"gemini_model"`
	OpenAIAPIKey   string   `yaml:"openai_api_key"`
	OpenAIModel    string   `yaml:"openai_model"`
	OpenAISTTModel string   `yaml:"openai_stt_model"`
	YCOAuthToken   string   `yaml:"yc_oauth_token"`
	YCFolderID     string   `yaml:"yc_folder_id"`
	OCRLangs       []string `yaml:"ocr_langs"`
	STTLanguage    string   `yaml:"stt_language"`

	LogLevel string `yaml:"log_level"`

	role Role
}

func defaults(role Role) *Config {
	c := &Config{
		Port:           "8080",
		ReplURL:        "http://localhost:8000",
		ArtifactStore:  "memory",
		ArtifactDir:    "/tmp/media-relay",
		OCREngine:      "remote",
		STTEngine:      "remote",
		OCRTimeout:     30 * time.Second,
		STTTimeout:     120 * time.Second,
		OCRPreprocess:  true,
		GeminiModel:    "gemini-2.5-flash",
		OpenAIModel:    "gpt-4o-mini",
		OpenAISTTModel: "whisper-1",
		OCRLangs:       []string{"en", "ru"},
		STTLanguage:    "en-US",
		LogLevel:       "info",
		role:           role,
	}
	// сервис обработки сам гоняет движки, remote для него не имеет смысла
	if role == RoleService {
		c.Port = "8000"
		c.OCREngine = "gemini"
		c.STTEngine = "gemini"
	}
	return c
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

// Load builds the config: defaults, then the YAML file named by
// RELAY_CONFIG, then environment variables.
func Load(role Role) (*Config, error) {
	c := defaults(role)

	if path := getEnv("RELAY_CONFIG", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if c.ArtifactStore == "postgres" && c.DatabaseURL == "" {
		c.DatabaseURL = resolveDSN()
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	c.TelegramBotToken = getEnv("TELEGRAM_TOKEN", c.TelegramBotToken)
	c.WebhookURL = getEnv("WEBHOOK_URL", c.WebhookURL)
	c.Port = getEnv("PORT", c.Port)
	c.ReplURL = getEnv("REPL_URL", c.ReplURL)
	c.ArtifactStore = strings.ToLower(getEnv("ARTIFACT_STORE", c.ArtifactStore))
	c.ArtifactDir = getEnv("ARTIFACT_DIR", c.ArtifactDir)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.GCSBucket = getEnv("GCS_BUCKET", c.GCSBucket)
	c.OCREngine = strings.ToLower(getEnv("OCR_ENGINE", c.OCREngine))
	c.STTEngine = strings.ToLower(getEnv("STT_ENGINE", c.STTEngine))
	c.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.GeminiAPIKey)
	c.GeminiModel = getEnv("GEMINI_MODEL", c.GeminiModel)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIModel = getEnv("OPENAI_MODEL", c.OpenAIModel)
	c.OpenAISTTModel = getEnv("OPENAI_STT_MODEL", c.OpenAISTTModel)
	c.YCOAuthToken = getEnv("YC_OAUTH_TOKEN", c.YCOAuthToken)
	c.YCFolderID = getEnv("YC_FOLDER_ID", c.YCFolderID)
	c.STTLanguage = getEnv("STT_LANGUAGE", c.STTLanguage)
	c.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", c.LogLevel))
	if v := getEnv("OCR_LANGS", ""); v != "" {
		c.OCRLangs = splitList(v)
	}

	var errs []error
	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"ARTIFACT_RETENTION", &c.ArtifactRetention},
		{"OCR_TIMEOUT", &c.OCRTimeout},
		{"STT_TIMEOUT", &c.STTTimeout},
	} {
		v := getEnv(d.key, "")
		if v == "" {
			continue
		}
		n, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.key, err))
			continue
		}
		*d.dst = n
	}
	if v := getEnv("OCR_PREPROCESS", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("OCR_PREPROCESS: %w", err))
		} else {
			c.OCRPreprocess = b
		}
	}
	return errors.Join(errs...)
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	missing := func(key string) { errs = append(errs, fmt.Errorf("missing required env %s", key)) }

	if c.role == RoleBot && c.TelegramBotToken == "" {
		missing("TELEGRAM_TOKEN")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("PORT %q is not a number", c.Port))
	}

	switch c.ArtifactStore {
	case "memory", "dir", "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			missing("DATABASE_URL")
		}
	case "gcs":
		if c.GCSBucket == "" {
			missing("GCS_BUCKET")
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ARTIFACT_STORE %q (memory|dir|sqlite|postgres|gcs)", c.ArtifactStore))
	}
	if (c.ArtifactStore == "dir" || c.ArtifactStore == "sqlite") && c.ArtifactDir == "" {
		missing("ARTIFACT_DIR")
	}
	if c.ArtifactRetention < 0 {
		errs = append(errs, errors.New("ARTIFACT_RETENTION must not be negative"))
	}

	switch c.OCREngine {
	case "remote":
		errs = append(errs, c.checkRemote("OCR_ENGINE")...)
	case "gemini":
		if c.GeminiAPIKey == "" {
			missing("GEMINI_API_KEY")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			missing("OPENAI_API_KEY")
		}
	case "yandex":
		if c.YCOAuthToken == "" {
			missing("YC_OAUTH_TOKEN")
		}
		if c.YCFolderID == "" {
			missing("YC_FOLDER_ID")
		}
	default:
		errs = append(errs, fmt.Errorf("unknown OCR_ENGINE %q (remote|gemini|openai|yandex)", c.OCREngine))
	}

	switch c.STTEngine {
	case "remote":
		errs = append(errs, c.checkRemote("STT_ENGINE")...)
	case "gemini":
		if c.GeminiAPIKey == "" && c.OCREngine != "gemini" {
			missing("GEMINI_API_KEY")
		}
	case "openai":
		if c.OpenAIAPIKey == "" && c.OCREngine != "openai" {
			missing("OPENAI_API_KEY")
		}
	case "speech":
	default:
		errs = append(errs, fmt.Errorf("unknown STT_ENGINE %q (remote|gemini|openai|speech)", c.STTEngine))
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) checkRemote(key string) []error {
	if c.role == RoleService {
		return []error{fmt.Errorf("%s=remote is only valid for the bot", key)}
	}
	if u, err := url.Parse(c.ReplURL); err != nil || u.Scheme == "" || u.Host == "" {
		return []error{fmt.Errorf("REPL_URL %q is not an absolute URL", c.ReplURL)}
	}
	return nil
}

// ParseLevel maps LOG_LEVEL to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown LOG_LEVEL %q", s)
}

// Level is ParseLevel that falls back to info.
func (c *Config) Level() slog.Level {
	l, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func resolveDSN() string {
	// Build DSN from POSTGRES_* / PG* env vars (single-container default)
	user := getEnv("POSTGRES_USER", "relay")
	pass := os.Getenv("POSTGRES_PASSWORD")
	host := getEnv("PGHOST", "db")
	port := getEnv("PGPORT", "5432")
	db := getEnv("POSTGRES_DB", "relay")

	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, pass),
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + db,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// SafeDSNSummary describes a DSN without the password, for logs.
func SafeDSNSummary(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "dsn: parse error"
	}
	user := u.User.Username()
	host := u.Host
	port := ""
	if h, p, err := net.SplitHostPort(u.Host); err == nil {
		host, port = h, p
	}
	db := strings.TrimPrefix(u.Path, "/")
	if port == "" {
		return fmt.Sprintf("host=%s db=%s user=%s", host, db, user)
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, db, user)
}
