package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	NATS struct {
		URL           string        `mapstructure:"url"`
		Stream        string        `mapstructure:"stream"`        // Stream holding inbound failure notifications
		Subject       string        `mapstructure:"subject"`       // Base subject for failure notifications (e.g. v1.deadletter)
		Workers       int           `mapstructure:"workers"`       // Number of concurrent ingest workers
		MaxAgeDays    int           `mapstructure:"maxAgeDays"`    // Retention period for the notification stream (days)
		MaxDeliver    int           `mapstructure:"maxDeliver"`    // Max redelivery attempts for the ingest consumer
		AckWait       time.Duration `mapstructure:"ackWait"`       // Ack wait timeout for the ingest consumer
		MaxAckPending int           `mapstructure:"maxAckPending"` // Max pending ACKs for the ingest consumer
	} `mapstructure:"nats"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
		Transactions        bool   `mapstructure:"transactions"` // Wrap multi-statement work in DB transactions
	} `mapstructure:"database"`
	Replay struct {
		EndpointTimeout time.Duration `mapstructure:"endpointTimeout"` // Per-endpoint POST timeout
		FanoutWorkers   int           `mapstructure:"fanoutWorkers"`   // Bounded parallelism for endpoint fan-out
	} `mapstructure:"replay"`
	Notification struct {
		Enabled     bool   `mapstructure:"enabled"`
		SenderURL   string `mapstructure:"senderURL"` // Email sender API endpoint
		FromSubject string `mapstructure:"fromSubject"`
	} `mapstructure:"notification"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)

	// Ingest worker defaults
	v.SetDefault("nats.stream", "deadletter_stream")
	v.SetDefault("nats.subject", "v1.deadletter")
	v.SetDefault("nats.workers", 8)
	v.SetDefault("nats.maxAgeDays", 30)
	v.SetDefault("nats.maxDeliver", 5)
	v.SetDefault("nats.ackWait", 30*time.Second)
	v.SetDefault("nats.maxAckPending", 1000)

	// Database defaults
	v.SetDefault("database.postgresAutoMigrate", true)
	v.SetDefault("database.transactions", true)

	// Replay defaults
	v.SetDefault("replay.endpointTimeout", 5*time.Second)
	v.SetDefault("replay.fanoutWorkers", 4)

	// Notification defaults
	v.SetDefault("notification.enabled", false)
	v.SetDefault("notification.fromSubject", "New dead letter captured")

	// Config file settings
	v.SetConfigName("default")
	v.SetConfigType("yaml")

	// Add lookup paths
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.daisi-deadletter-service")
	v.AddConfigPath("/etc/daisi-deadletter-service")

	// Try to read from config file
	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map environment variables to config fields
	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}
	if sender := os.Getenv("EMAIL_SENDER_URL"); sender != "" {
		v.Set("notification.senderURL", sender)
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(parts, tag)
		key := strings.Join(path, ".")

		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		_ = v.BindEnv(key)
	}
}
