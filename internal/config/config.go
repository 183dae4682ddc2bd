package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/applabs/tollquery/internal/browser"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Browser  BrowserConfig  `yaml:"browser"`
	Batch    BatchConfig    `yaml:"batch"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	IdleTimeout     Duration `yaml:"idle_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	User            string   `yaml:"user"`
	Password        string   `yaml:"password"`
	Database        string   `yaml:"database"`
	SSLMode         string   `yaml:"sslmode"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds the optional batch-event broker configuration.
// When Enabled is false the service runs without a broker and completion
// events are skipped.
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int      `yaml:"retry_attempts"`
	RetryInterval     Duration `yaml:"retry_interval"`
	Heartbeat         Duration `yaml:"heartbeat"`
	ConnectionTimeout Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int      `yaml:"retry_attempts"`
	RetryInterval     Duration `yaml:"retry_interval"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier"`
}

// BrowserConfig holds portal session configuration
type BrowserConfig struct {
	EntryURL           string                `yaml:"entry_url"`
	Headless           bool                  `yaml:"headless"`
	NavigationTimeout  Duration              `yaml:"navigation_timeout"`
	SettleDelay        Duration              `yaml:"settle_delay"`
	LookupTimeout      Duration              `yaml:"lookup_timeout"`
	ReadinessAttempts  int                   `yaml:"readiness_attempts"`
	ReadinessBaseDelay Duration              `yaml:"readiness_base_delay"`
	Identity           browser.IdentityPools `yaml:"identity"`
}

// BatchConfig holds batch scheduling configuration
type BatchConfig struct {
	ChunkSize          int      `yaml:"chunk_size"`
	RecycleEveryChunks int      `yaml:"recycle_every_chunks"`
	ItemDelayMin       Duration `yaml:"item_delay_min"`
	ItemDelayMax       Duration `yaml:"item_delay_max"`
	ChunkDelayMin      Duration `yaml:"chunk_delay_min"`
	ChunkDelayMax      Duration `yaml:"chunk_delay_max"`
	SyncCap            int      `yaml:"sync_cap"`
	SyncDelayMin       Duration `yaml:"sync_delay_min"`
	SyncDelayMax       Duration `yaml:"sync_delay_max"`
	Retention          Duration `yaml:"retention"`
	LookupEstimate     Duration `yaml:"lookup_estimate"`
}

// AuthConfig holds the shared-secret credentials that gate the API
type AuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Browser.EntryURL == "" {
		return fmt.Errorf("browser entry_url is required")
	}

	if c.Batch.ChunkSize <= 0 {
		return fmt.Errorf("batch chunk_size must be greater than 0")
	}

	if c.Batch.ItemDelayMax < c.Batch.ItemDelayMin {
		return fmt.Errorf("batch item_delay_max must not be less than item_delay_min")
	}

	if c.Batch.ChunkDelayMax < c.Batch.ChunkDelayMin {
		return fmt.Errorf("batch chunk_delay_max must not be less than chunk_delay_min")
	}

	if c.Batch.SyncCap <= 0 {
		return fmt.Errorf("batch sync_cap must be greater than 0")
	}

	if c.Batch.Retention <= 0 {
		return fmt.Errorf("batch retention must be greater than 0")
	}

	if c.Auth.ClientID == "" || c.Auth.ClientSecret == "" {
		return fmt.Errorf("auth client_id and client_secret are required")
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}

		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}

		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
	}

	return nil
}
