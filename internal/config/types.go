package config

import "time"

// Config represents the complete courier configuration.
type Config struct {
	Service        ServiceConfig        `yaml:"service"`
	State          StateConfig          `yaml:"state"`
	API            APIConfig            `yaml:"api,omitempty"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Queue          QueueConfig          `yaml:"queue"`
	Providers      []ProviderConfig     `yaml:"providers"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string        `yaml:"name"`
	LogLevel  string        `yaml:"log_level"`
	Retention time.Duration `yaml:"retention"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen string        `yaml:"listen"`
	Auth   APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings. An empty api_key
// disables authentication.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// RateLimitConfig defines the per-sender sliding window.
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// RetryConfig defines the per-provider retry loop.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// CircuitBreakerConfig defines per-provider failure tracking.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

// QueueConfig defines the asynchronous queue and its worker.
type QueueConfig struct {
	MaxSize            int           `yaml:"max_size"`
	BatchSize          int           `yaml:"batch_size"`
	ProcessingInterval time.Duration `yaml:"processing_interval"`
	RedriveAfter       time.Duration `yaml:"redrive_after"`
	WorkerConcurrency  int64         `yaml:"worker_concurrency"`
}

// ProviderConfig defines one simulated delivery provider. Lower priority
// values are tried first.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Priority    int           `yaml:"priority"`
	SuccessRate float64       `yaml:"success_rate"`
	MinLatency  time.Duration `yaml:"min_latency"`
	MaxLatency  time.Duration `yaml:"max_latency"`
	Healthy     *bool         `yaml:"healthy,omitempty"`
}

// Defaults returns a Config that runs out of the box.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "courier",
			LogLevel:  "info",
			Retention: 30 * 24 * time.Hour,
		},
		State: StateConfig{
			Path: "./courier.db",
		},
		API: APIConfig{
			Listen: "127.0.0.1:8080",
		},
		RateLimit: RateLimitConfig{
			MaxRequests: 100,
			Window:      time.Minute,
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  time.Minute,
		},
		Queue: QueueConfig{
			MaxSize:            1000,
			BatchSize:          10,
			ProcessingInterval: 5 * time.Second,
			RedriveAfter:       5 * time.Minute,
			WorkerConcurrency:  4,
		},
		Providers: []ProviderConfig{
			{Name: "alpha", Priority: 1, SuccessRate: 0.8, MinLatency: 50 * time.Millisecond, MaxLatency: 200 * time.Millisecond},
			{Name: "beta", Priority: 2, SuccessRate: 0.95, MinLatency: 100 * time.Millisecond, MaxLatency: 400 * time.Millisecond},
		},
	}
}
