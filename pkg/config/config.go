package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		Logger    Logger    `envPrefix:"LOGGER_"`
		Tiles     Tiles     `envPrefix:"TILES_"`
		Cache     Cache     `envPrefix:"CACHE_"`
		Map       Map       `envPrefix:"MAP_"`
		Telemetry Telemetry `envPrefix:"TELEMETRY_"`
		Debug     Debug     `envPrefix:"DEBUG_"`
	}

	Logger struct {
		Level string `env:"LEVEL" envDefault:"info"`
	}

	Tiles struct {
		URLTemplate    string        `env:"URL_TEMPLATE" envDefault:"https://tile.openstreetmap.org/{z}/{x}/{y}.png" validate:"required"`
		Subdomains     []string      `env:"SUBDOMAINS" envSeparator:","`
		UserAgent      string        `env:"USER_AGENT" envDefault:"slippymap/1.0 (+https://github.com/olablt/slippymap)"`
		Timeout        time.Duration `env:"TIMEOUT" envDefault:"30s" validate:"gt=0"`
		MaxRetries     int           `env:"MAX_RETRIES" envDefault:"3" validate:"gte=0,lte=10"`
		RetryBaseDelay time.Duration `env:"RETRY_BASE_DELAY" envDefault:"500ms" validate:"gt=0"`
		RetryMaxDelay  time.Duration `env:"RETRY_MAX_DELAY" envDefault:"8s" validate:"gtefield=RetryBaseDelay"`
		TTL            time.Duration `env:"TTL" envDefault:"1h" validate:"gte=0"`
		RetinaMode     string        `env:"RETINA_MODE" envDefault:"auto" validate:"oneof=on off auto"`
		Workers        int           `env:"WORKERS" envDefault:"6" validate:"gte=1,lte=64"`
		WorldWrap      bool          `env:"WORLD_WRAP" envDefault:"true"`
	}

	Cache struct {
		MaxSize        int     `env:"MAX_SIZE" envDefault:"512" validate:"gte=1"`
		MemoryBudgetMB float64 `env:"MEMORY_BUDGET_MB" envDefault:"256" validate:"gte=0"`
	}

	Map struct {
		MinZoom int     `env:"MIN_ZOOM" envDefault:"0" validate:"gte=0,lte=24"`
		MaxZoom int     `env:"MAX_ZOOM" envDefault:"19" validate:"gte=0,lte=24,gtefield=MinZoom"`
		Lat     float64 `env:"LAT" envDefault:"51.507222" validate:"gte=-90,lte=90"`
		Lng     float64 `env:"LNG" envDefault:"-0.1275"`
		Zoom    float64 `env:"ZOOM" envDefault:"12"`
		Bearing float64 `env:"BEARING" envDefault:"0"`
		Width   int     `env:"WIDTH" envDefault:"800" validate:"gte=1"`
		Height  int     `env:"HEIGHT" envDefault:"600" validate:"gte=1"`
	}

	Telemetry struct {
		Enabled        bool   `env:"ENABLED" envDefault:"false"`
		ServiceName    string `env:"SERVICE_NAME" envDefault:"slippymap"`
		ServiceVersion string `env:"SERVICE_VERSION" envDefault:"1.0.0"`
		Environment    string `env:"ENVIRONMENT" envDefault:"development"`
		OTLPEndpoint   string `env:"OTLP_ENDPOINT" envDefault:"localhost:4317"`
	}

	Debug struct {
		Enabled bool   `env:"ENABLED" envDefault:"false"`
		Addr    string `env:"ADDR" envDefault:"127.0.0.1:6061"`
	}
)

func New() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v\n", err)
	}

	return Parse()
}

// Parse reads the configuration from the process environment only.
func Parse() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

var validate = validator.New()

func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
