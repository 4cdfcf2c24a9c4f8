package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Backend modes for the command channel
const (
	BackendModeLocal = "local"
	BackendModeSSH   = "ssh"
)

// Config holds the application configuration
type Config struct {
	// Server
	Environment string `envconfig:"ENVIRONMENT" default:"production"`
	ServerPort  string `envconfig:"SERVER_PORT" default:"8000"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Database (empty keeps every store in memory)
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// Inference server on the backend host
	OllamaHost  string `envconfig:"OLLAMA_HOST" default:"http://localhost:11434"`
	OllamaModel string `envconfig:"OLLAMA_MODEL" default:"gpt-oss-20b"`

	// Command channel to the backend host
	BackendMode    string        `envconfig:"BACKEND_MODE" default:"local"`
	SSHHost        string        `envconfig:"SSH_HOST"`
	SSHUser        string        `envconfig:"SSH_USER" default:"ubuntu"`
	SSHKeyPath     string        `envconfig:"SSH_KEY_PATH"`
	SSHKnownHosts  string        `envconfig:"SSH_KNOWN_HOSTS"`
	SSHInsecure    bool          `envconfig:"SSH_INSECURE_IGNORE_HOST_KEY" default:"false"`
	CommandTimeout time.Duration `envconfig:"COMMAND_TIMEOUT" default:"30s"`

	// Training jobs
	MonitorInterval     time.Duration `envconfig:"MONITOR_INTERVAL" default:"30s"`
	MonitorErrorBackoff time.Duration `envconfig:"MONITOR_ERROR_BACKOFF" default:"60s"`
	RemoteWorkRoot      string        `envconfig:"REMOTE_WORK_ROOT" default:"/tmp"`
	TrainedModelsDir    string        `envconfig:"TRAINED_MODELS_DIR" default:"/opt/models/trained"`
	BaseModelPath       string        `envconfig:"BASE_MODEL_PATH" default:"/opt/models/gpt-oss-20b"`
	PythonBin           string        `envconfig:"PYTHON_BIN" default:"python3"`

	// Enhancement streaming
	StreamChunkDelay     time.Duration `envconfig:"STREAM_CHUNK_DELAY" default:"100ms"`
	StreamExpectedChunks int           `envconfig:"STREAM_EXPECTED_CHUNKS" default:"200"`

	// Enhancement cache (empty address keeps it in memory)
	RedisAddr       string        `envconfig:"REDIS_ADDR"`
	RedisPassword   string        `envconfig:"REDIS_PASSWORD"`
	RedisDB         int           `envconfig:"REDIS_DB" default:"0"`
	EnhanceCacheTTL time.Duration `envconfig:"ENHANCE_CACHE_TTL" default:"1h"`

	// Dataset blobs (empty endpoint keeps them on local disk)
	DatasetsDir string `envconfig:"DATASETS_DIR" default:"/tmp/datasets"`
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"datasets"`
	S3UseSSL    bool   `envconfig:"S3_USE_SSL" default:"false"`

	// AWS
	AWSRegion       string `envconfig:"AWS_REGION" default:"us-east-1"`
	EC2InstanceID   string `envconfig:"EC2_INSTANCE_ID"`
	EC2InstanceType string `envconfig:"EC2_INSTANCE_TYPE" default:"g4dn.xlarge"`
}

// Load loads configuration from an optional .env file and the environment
func Load() (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every configuration problem at once
func (c *Config) Validate() error {
	var problems []string

	switch c.BackendMode {
	case BackendModeLocal:
	case BackendModeSSH:
		if c.SSHHost == "" {
			problems = append(problems, "SSH_HOST is required when BACKEND_MODE=ssh")
		}
		if c.SSHKeyPath == "" {
			problems = append(problems, "SSH_KEY_PATH is required when BACKEND_MODE=ssh")
		}
		if c.SSHKnownHosts == "" && !c.SSHInsecure {
			problems = append(problems, "SSH_KNOWN_HOSTS is required when BACKEND_MODE=ssh unless SSH_INSECURE_IGNORE_HOST_KEY=true")
		}
	default:
		problems = append(problems, fmt.Sprintf("BACKEND_MODE must be %q or %q, got %q", BackendModeLocal, BackendModeSSH, c.BackendMode))
	}

	if u, err := url.ParseRequestURI(c.OllamaHost); err != nil || u.Host == "" {
		problems = append(problems, "OLLAMA_HOST must be a valid URL")
	}

	durations := map[string]time.Duration{
		"COMMAND_TIMEOUT":       c.CommandTimeout,
		"MONITOR_INTERVAL":      c.MonitorInterval,
		"MONITOR_ERROR_BACKOFF": c.MonitorErrorBackoff,
		"ENHANCE_CACHE_TTL":     c.EnhanceCacheTTL,
	}
	for _, name := range []string{"COMMAND_TIMEOUT", "MONITOR_INTERVAL", "MONITOR_ERROR_BACKOFF", "ENHANCE_CACHE_TTL"} {
		if durations[name] <= 0 {
			problems = append(problems, name+" must be positive")
		}
	}
	if c.StreamChunkDelay < 0 {
		problems = append(problems, "STREAM_CHUNK_DELAY must not be negative")
	}
	if c.StreamExpectedChunks <= 0 {
		problems = append(problems, "STREAM_EXPECTED_CHUNKS must be positive")
	}

	if c.S3Endpoint != "" && (c.S3AccessKey == "" || c.S3SecretKey == "") {
		problems = append(problems, "S3_ACCESS_KEY and S3_SECRET_KEY must be set together with S3_ENDPOINT")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// IsDevelopment reports whether the service runs in development mode
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}
