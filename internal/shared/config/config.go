package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// BaseConfig contains common configuration for all services
type BaseConfig struct {
	ServiceName string `env:"SERVICE_NAME"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"` // development, staging, production
}

// WatcherConfig contains configuration for the deployment trigger watcher
type WatcherConfig struct {
	BaseConfig `envPrefix:"WATCHER_"`

	TargetsFile string `env:"WATCHER_TARGETS_FILE" envDefault:"targets.yaml"` // Path to the deployment targets file

	EventSubject   string `env:"WATCHER_EVENT_SUBJECT" envDefault:"registry.image.push"`    // Subject carrying registry push events
	QueueGroup     string `env:"WATCHER_QUEUE_GROUP" envDefault:"tagwatch-workers"`         // Queue group for load-balanced consumption
	OutcomeSubject string `env:"WATCHER_OUTCOME_SUBJECT" envDefault:"deployment.triggered"` // Subject for published deployment outcomes

	MaxRetries   int           `env:"WATCHER_MAX_RETRIES" envDefault:"3"`          // Retries for transient control-plane failures
	RetryBackoff time.Duration `env:"WATCHER_RETRY_BACKOFF_MS" envDefault:"500ms"` // Initial backoff, doubled per retry
	CallTimeout  time.Duration `env:"WATCHER_CALL_TIMEOUT_MS" envDefault:"10s"`    // Timeout for a single control-plane call

	HealthPort int `env:"WATCHER_HEALTH_PORT" envDefault:"8090"`

	AWSRegion       string `env:"WATCHER_AWS_REGION" envDefault:"us-east-1"`
	VerifyImages    bool   `env:"WATCHER_VERIFY_IMAGES" envDefault:"false"`    // Confirm the tag exists in the registry before triggering
	ValidateTargets bool   `env:"WATCHER_VALIDATE_TARGETS" envDefault:"false"` // Describe each target against the control plane at startup

	NATS *NATSConfig `envPrefix:"WATCHER_"`
}

// NATSConfig contains configuration for NATS messaging
type NATSConfig struct {
	URLs          []string      `env:"NATS_URLS" envSeparator:"," required:"true"` // NATS server URLs
	MaxReconnects int           `env:"NATS_MAX_RECONNECTS" envDefault:"-1"`        // Maximum number of reconnect attempts (-1 for unlimited)
	ReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT_MS" envDefault:"2s"`     // Time to wait between reconnect attempts
	Timeout       time.Duration `env:"NATS_TIMEOUT_MS" envDefault:"5s"`            // Connection timeout
}

// LoadWatcherConfig loads configuration for the watcher service
func LoadWatcherConfig() (*WatcherConfig, error) {
	config, err := env.ParseAs[WatcherConfig]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse Watcher config: %w", err)
	}

	// Set service name if not provided
	if config.ServiceName == "" {
		config.ServiceName = "watcher"
	}

	// Initialize NATS config if not already set
	if config.NATS == nil {
		config.NATS = &NATSConfig{}
	}

	return &config, nil
}
