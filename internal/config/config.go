package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/fjod/wa-commerce/internal/domain"
	"github.com/fjod/wa-commerce/internal/secret"
)

// Config holds all application configuration.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	AppURL          string        `env:"APP_URL,required"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"` // 1MB

	MongoURI    string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDBName string `env:"MONGO_DB_NAME" envDefault:"wa_commerce"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"order-events"`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"wa-commerce-notifier"`

	EncryptionKey string `env:"TENANT_ENCRYPTION_KEY,required"`

	WhatsAppVerifyToken string `env:"WHATSAPP_VERIFY_TOKEN"`
	WhatsAppAPIBase     string `env:"WHATSAPP_API_BASE" envDefault:"https://graph.facebook.com"`

	PaymentWebhookSecret string `env:"PAYMENT_WEBHOOK_SECRET"`

	AdminJWTSecret string        `env:"ADMIN_JWT_SECRET,required"`
	AdminTokenTTL  time.Duration `env:"ADMIN_TOKEN_TTL" envDefault:"24h"`

	TenantCacheTTL time.Duration `env:"TENANT_CACHE_TTL" envDefault:"5m"`
	ClientCacheTTL time.Duration `env:"CLIENT_CACHE_TTL" envDefault:"5m"`

	GeocoderURL       string        `env:"GEOCODER_URL" envDefault:"https://nominatim.openstreetmap.org/reverse"`
	GeocoderRPS       float64       `env:"GEOCODER_RPS" envDefault:"1"`
	GeocoderUserAgent string        `env:"GEOCODER_USER_AGENT" envDefault:"wa-commerce/1.0"`
	GeocodeCacheTTL   time.Duration `env:"GEOCODE_CACHE_TTL" envDefault:"24h"`
	DefaultCountry    string        `env:"DEFAULT_COUNTRY" envDefault:"India"`

	ReceiptsDir string `env:"RECEIPTS_DIR" envDefault:"./receipts"`

	EventDedupeTTL time.Duration `env:"EVENT_DEDUPE_TTL" envDefault:"24h"`
	QueueIdle      time.Duration `env:"QUEUE_IDLE_TIMEOUT" envDefault:"30s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := secret.NewCipher(c.EncryptionKey); err != nil {
		return &domain.ConfigurationError{Field: "TENANT_ENCRYPTION_KEY", Err: err}
	}
	if c.GeocoderRPS <= 0 {
		return &domain.ConfigurationError{Field: "GEOCODER_RPS", Err: fmt.Errorf("must be positive, got %v", c.GeocoderRPS)}
	}
	return nil
}

func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}
