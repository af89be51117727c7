package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/evalgo/billcore/billing"
	"github.com/evalgo/billcore/notification"
	"github.com/evalgo/billcore/storage"
)

// Settings carries every operational knob in §6's table, loaded from
// environment variables with the BILLCORE prefix (BILLCORE_DATABASE_URL,
// BILLCORE_ROUTER_RETRY_ON_CONFLICT, and so on).
type Settings struct {
	Service ServiceConfig
	Server  ServerConfig

	DatabaseURL string

	LogRetention string // must be "forever"; any other value is rejected by Validate

	Router struct {
		CacheSize       int
		RetryOnConflict int
	}

	Consumer struct {
		BatchSize    int
		PoisonBudget int
	}

	OcrTimeout  time.Duration
	BlobTimeout time.Duration
	SmtpTimeout time.Duration

	File struct {
		MaxBytes            int64
		AllowedContentTypes []string
	}

	Ocr    OcrConfig
	Blob   BlobConfig
	Notify NotifyConfig
}

// OcrConfig carries the OCR service's connection parameters.
type OcrConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// BlobConfig carries the blob store's connection parameters.
type BlobConfig struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UsePathStyle  bool
	Timeout       time.Duration
	PresignExpiry time.Duration
}

// NotifyConfig carries the SMTP relay's connection parameters.
type NotifyConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// LoadSettings reads every billcore operational knob from the environment,
// applying the defaults named in §6, and validates the result.
func LoadSettings() (Settings, error) {
	env := NewEnvConfig("BILLCORE")

	var s Settings
	s.Service = LoadServiceConfig("BILLCORE")
	s.Server = LoadServerConfig("BILLCORE")

	s.DatabaseURL = env.GetString("DATABASE_URL", "")
	s.LogRetention = env.GetString("LOG_RETENTION", "forever")

	s.Router.CacheSize = env.GetInt("ROUTER_CACHE_SIZE", 10000)
	s.Router.RetryOnConflict = env.GetInt("ROUTER_RETRY_ON_CONFLICT", 3)

	s.Consumer.BatchSize = env.GetInt("CONSUMER_BATCH_SIZE", 1)
	s.Consumer.PoisonBudget = env.GetInt("CONSUMER_POISON_BUDGET", 5)

	s.OcrTimeout = env.GetDuration("OCR_TIMEOUT", 30*time.Second)
	s.BlobTimeout = env.GetDuration("BLOB_TIMEOUT", 30*time.Second)
	s.SmtpTimeout = env.GetDuration("SMTP_TIMEOUT", 10*time.Second)

	s.File.MaxBytes = int64(env.GetInt("FILE_MAX_BYTES", 10*1024*1024))
	s.File.AllowedContentTypes = env.GetStringSlice("FILE_ALLOWED_CONTENT_TYPES",
		[]string{"application/pdf", "image/png", "image/jpeg"})

	s.Ocr = OcrConfig{
		BaseURL:    env.GetString("OCR_BASE_URL", ""),
		Timeout:    s.OcrTimeout,
		MaxRetries: env.GetInt("OCR_MAX_RETRIES", 3),
	}

	s.Blob = BlobConfig{
		Endpoint:      env.GetString("BLOB_ENDPOINT", ""),
		Region:        env.GetString("BLOB_REGION", ""),
		AccessKey:     env.GetString("BLOB_ACCESS_KEY", ""),
		SecretKey:     env.GetString("BLOB_SECRET_KEY", ""),
		Bucket:        env.GetString("BLOB_BUCKET", ""),
		UsePathStyle:  env.GetBool("BLOB_USE_PATH_STYLE", false),
		Timeout:       s.BlobTimeout,
		PresignExpiry: env.GetDuration("BLOB_PRESIGN_EXPIRY", 15*time.Minute),
	}

	s.Notify = NotifyConfig{
		Host:     env.GetString("SMTP_HOST", ""),
		Port:     env.GetInt("SMTP_PORT", 587),
		Username: env.GetString("SMTP_USERNAME", ""),
		Password: env.GetString("SMTP_PASSWORD", ""),
		From:     env.GetString("SMTP_FROM", ""),
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate enforces the constraints §6 names explicitly (log.retention must
// be "forever") plus a non-empty database URL, known environment and log
// level values, and positive retry, batch, poison-budget and file-size knobs.
func (s Settings) Validate() error {
	v := NewValidator()

	if s.LogRetention != "forever" {
		return fmt.Errorf("config: log.retention must be %q, got %q", "forever", s.LogRetention)
	}

	v.RequireString("Database.URL", s.DatabaseURL)
	v.RequireOneOf("Service.Environment", s.Service.Environment,
		[]string{"development", "staging", "production"})
	v.RequireOneOf("Service.LogLevel", s.Service.LogLevel,
		[]string{"debug", "info", "warn", "error"})
	v.RequirePositiveInt("Router.RetryOnConflict", s.Router.RetryOnConflict)
	v.RequirePositiveInt("Consumer.BatchSize", s.Consumer.BatchSize)
	v.RequirePositiveInt("Consumer.PoisonBudget", s.Consumer.PoisonBudget)
	if s.File.MaxBytes <= 0 {
		v.RequirePositiveInt("File.MaxBytes", int(s.File.MaxBytes))
	}

	return v.Validate()
}

// Limits projects the file-acceptance knobs into the billing package's own
// Limits type, which is the only configuration the entity ever sees (§6).
func (s Settings) Limits() billing.Limits {
	allowed := make(map[string]struct{}, len(s.File.AllowedContentTypes))
	for _, ct := range s.File.AllowedContentTypes {
		allowed[strings.TrimSpace(ct)] = struct{}{}
	}
	return billing.Limits{
		MaxFileBytes:        s.File.MaxBytes,
		AllowedContentTypes: allowed,
	}
}

// OcrClientConfig adapts Settings into the arguments ocr.New expects.
func (s Settings) OcrClientConfig() (baseURL string, timeout time.Duration, maxRetries uint64) {
	return s.Ocr.BaseURL, s.Ocr.Timeout, uint64(s.Ocr.MaxRetries)
}

// BlobStoreConfig adapts Settings into storage.Config.
func (s Settings) BlobStoreConfig() storage.Config {
	return storage.Config{
		Endpoint:      s.Blob.Endpoint,
		Region:        s.Blob.Region,
		AccessKey:     s.Blob.AccessKey,
		SecretKey:     s.Blob.SecretKey,
		Bucket:        s.Blob.Bucket,
		UsePathStyle:  s.Blob.UsePathStyle,
		Timeout:       s.Blob.Timeout,
		PresignExpiry: s.Blob.PresignExpiry,
	}
}

// NotifyAdapterConfig adapts Settings into notification.Config.
func (s Settings) NotifyAdapterConfig() notification.Config {
	return notification.Config{
		Host:     s.Notify.Host,
		Port:     s.Notify.Port,
		Username: s.Notify.Username,
		Password: s.Notify.Password,
		From:     s.Notify.From,
	}
}
