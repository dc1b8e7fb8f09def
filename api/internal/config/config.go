package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	LedgerSheets = "sheets"
	LedgerXLSX   = "xlsx"

	ArchiveDrive   = "drive"
	ArchiveLocalFS = "localfs"
	ArchiveNone    = "none"
)

type Config struct {
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	GeminiAPIKey     string `yaml:"gemini_api_key"`
	GeminiModel      string `yaml:"gemini_model"`
	GeminiPromptFile string `yaml:"gemini_prompt_file"`

	GoogleCredentialsJSON string `yaml:"google_credentials_json"`
	GoogleCredentialsFile string `yaml:"google_application_credentials"`

	LedgerBackend  string `yaml:"ledger_backend"`
	SheetURL       string `yaml:"sheet_url"`
	SheetName      string `yaml:"sheet_name"`
	LedgerXLSXPath string `yaml:"ledger_xlsx_path"`
	LedgerHeader   bool   `yaml:"ledger_header"`

	ArchiveBackend string `yaml:"archive_backend"`
	DriveFolderID  string `yaml:"drive_folder_id"`
	ArchiveDir     string `yaml:"archive_dir"`
	ArchiveBaseURL string `yaml:"archive_base_url"`
	ArchivePrefix  string `yaml:"archive_prefix"`

	DatabaseURL     string        `yaml:"database_url"`
	ExtractCacheTTL time.Duration `yaml:"extract_cache_ttl"`

	SubmitTimeout      time.Duration `yaml:"submit_timeout"`
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout"`
	RateLimit          int           `yaml:"rate_limit"`
	CORSOrigins        []string      `yaml:"cors_origins"`
	MaxUploadMB        int           `yaml:"max_upload_mb"`
	JWTSecret          string        `yaml:"jwt_secret"`

	TelegramBotToken string `yaml:"telegram_bot_token"`
	WebhookURL       string `yaml:"webhook_url"`
}

func defaults() *Config {
	return &Config{
		Port:               "8000",
		LogLevel:           "info",
		LogFormat:          "json",
		GeminiModel:        "gemini-2.5-flash",
		LedgerBackend:      LedgerSheets,
		LedgerXLSXPath:     "data/cards.xlsx",
		ArchiveBackend:     ArchiveDrive,
		ArchiveDir:         "data/archive",
		ArchivePrefix:      "名片_",
		ExtractCacheTTL:    720 * time.Hour,
		SubmitTimeout:      180 * time.Second,
		BreakerOpenTimeout: 60 * time.Second,
		RateLimit:          30,
		MaxUploadMB:        10,
	}
}

// Load reads .env (if present), then the YAML file named by CARDS_CONFIG (if
// set), then the environment. Later sources win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("CARDS_CONFIG")); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("GEMINI_API_KEY", &c.GeminiAPIKey)
	str("GEMINI_MODEL", &c.GeminiModel)
	str("GEMINI_PROMPT_FILE", &c.GeminiPromptFile)
	str("GOOGLE_CREDENTIALS_JSON", &c.GoogleCredentialsJSON)
	str("GOOGLE_APPLICATION_CREDENTIALS", &c.GoogleCredentialsFile)
	str("LEDGER_BACKEND", &c.LedgerBackend)
	str("SHEET_URL", &c.SheetURL)
	str("SHEET_NAME", &c.SheetName)
	str("LEDGER_XLSX_PATH", &c.LedgerXLSXPath)
	str("ARCHIVE_BACKEND", &c.ArchiveBackend)
	str("DRIVE_FOLDER_ID", &c.DriveFolderID)
	str("ARCHIVE_DIR", &c.ArchiveDir)
	str("ARCHIVE_BASE_URL", &c.ArchiveBaseURL)
	str("ARCHIVE_PREFIX", &c.ArchivePrefix)
	str("DATABASE_URL", &c.DatabaseURL)
	str("JWT_SECRET", &c.JWTSecret)
	str("TELEGRAM_BOT_TOKEN", &c.TelegramBotToken)
	str("WEBHOOK_URL", &c.WebhookURL)

	if v := strings.TrimSpace(os.Getenv("CORS_ORIGINS")); v != "" {
		c.CORSOrigins = splitList(v)
	}

	var errs []error
	dur := func(key string, dst *time.Duration) {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
	num := func(key string, dst *int) {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
	flag := func(key string, dst *bool) {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
	dur("EXTRACT_CACHE_TTL", &c.ExtractCacheTTL)
	dur("SUBMIT_TIMEOUT", &c.SubmitTimeout)
	dur("BREAKER_OPEN_TIMEOUT", &c.BreakerOpenTimeout)
	num("RATE_LIMIT", &c.RateLimit)
	num("MAX_UPLOAD_MB", &c.MaxUploadMB)
	flag("LEDGER_HEADER", &c.LedgerHeader)

	return errors.Join(errs...)
}

func (c *Config) normalize() {
	c.LedgerBackend = strings.ToLower(strings.TrimSpace(c.LedgerBackend))
	c.ArchiveBackend = strings.ToLower(strings.TrimSpace(c.ArchiveBackend))
	if c.ArchiveBackend == "" {
		c.ArchiveBackend = ArchiveNone
	}
	// the ledger only links http(s) refs, so localfs files are served by this process
	if c.ArchiveBackend == ArchiveLocalFS && strings.TrimSpace(c.ArchiveBaseURL) == "" {
		c.ArchiveBaseURL = "http://localhost:" + c.Port + "/archive"
	}
}

// Validate reports every missing or inconsistent setting. Telegram settings
// are checked by ValidateBot.
func (c *Config) Validate() error {
	var errs []error
	if c.GeminiAPIKey == "" {
		errs = append(errs, errors.New("missing required env GEMINI_API_KEY"))
	}

	switch c.LedgerBackend {
	case LedgerSheets:
		if c.SheetURL == "" {
			errs = append(errs, errors.New("missing required env SHEET_URL for the sheets ledger"))
		}
	case LedgerXLSX:
		if c.LedgerXLSXPath == "" {
			errs = append(errs, errors.New("missing required env LEDGER_XLSX_PATH for the xlsx ledger"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LEDGER_BACKEND %q", c.LedgerBackend))
	}

	switch c.ArchiveBackend {
	case ArchiveDrive:
		if c.DriveFolderID == "" {
			errs = append(errs, errors.New("missing required env DRIVE_FOLDER_ID for the drive archive"))
		}
	case ArchiveLocalFS:
		if c.ArchiveDir == "" {
			errs = append(errs, errors.New("missing required env ARCHIVE_DIR for the localfs archive"))
		}
		if !strings.HasPrefix(c.ArchiveBaseURL, "http://") && !strings.HasPrefix(c.ArchiveBaseURL, "https://") {
			errs = append(errs, fmt.Errorf("ARCHIVE_BASE_URL %q must be an http(s) URL for the localfs archive", c.ArchiveBaseURL))
		}
	case ArchiveNone:
	default:
		errs = append(errs, fmt.Errorf("unknown ARCHIVE_BACKEND %q", c.ArchiveBackend))
	}

	if c.SubmitTimeout <= 0 {
		errs = append(errs, errors.New("SUBMIT_TIMEOUT must be positive"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("RATE_LIMIT must not be negative"))
	}
	if c.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_MB must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateBot checks the settings the Telegram front-end needs on top of
// Validate.
func (c *Config) ValidateBot() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.TelegramBotToken == "" {
		return errors.New("missing required env TELEGRAM_BOT_TOKEN")
	}
	return nil
}

// UsesGoogle reports whether any configured backend needs Google credentials.
func (c *Config) UsesGoogle() bool {
	return c.LedgerBackend == LedgerSheets || c.ArchiveBackend == ArchiveDrive
}

// MaxUploadBytes is MaxUploadMB in bytes.
func (c *Config) MaxUploadBytes() int64 { return int64(c.MaxUploadMB) << 20 }

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
