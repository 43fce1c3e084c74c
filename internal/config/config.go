package config

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `env:",prefix=SERVER_"`
	Database  DatabaseConfig  `env:",prefix=DB_"`
	Broker    BrokerConfig    `env:",prefix=AMQP_"`
	Scheduler SchedulerConfig `env:",prefix=SCHEDULER_"`
	App       AppConfig       `env:",prefix=APP_"`
}

type ServerConfig struct {
	Port string `env:"PORT,default=8080"`
	Host string `env:"HOST,default=0.0.0.0"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=postgres"`
	Password string `env:"PASSWORD,default=postgres"`
	Name     string `env:"NAME,default=chatblast"`
	SSLMode  string `env:"SSL_MODE,default=disable"`
}

// BrokerConfig holds the RabbitMQ settings for event publishing and the
// delivery-receipt worker. An empty URL disables the broker leg.
type BrokerConfig struct {
	URL           string `env:"URL"`
	EventsQueue   string `env:"EVENTS_QUEUE,default=campaign_events"`
	ReceiptsQueue string `env:"RECEIPTS_QUEUE,default=delivery_receipts"`
}

type SchedulerConfig struct {
	Enabled bool `env:"ENABLED,default=true"`
}

type AppConfig struct {
	Environment string `env:"ENVIRONMENT,default=development"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
}

// Load reads .env if present, then populates Config from the environment.
func Load(ctx context.Context) (*Config, error) {
	// Missing .env is fine; OS environment still applies.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	return &cfg, nil
}

// DSN returns the PostgreSQL connection URL.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// Addr returns the HTTP listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDevelopment returns true if running in development environment
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}
