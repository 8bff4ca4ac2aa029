package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config is the full runtime configuration. Values load in three layers:
// struct defaults, then an optional YAML file, then CSE_-prefixed
// environment variables (CSE_SERVER__PORT maps to server.port).
type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level" validate:"oneof=debug info warn warning error"`

	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Redis       RedisConfig       `koanf:"redis"`
	Analysis    AnalysisConfig    `koanf:"analysis"`
	Correlation CorrelationConfig `koanf:"correlation"`
	Alerting    AlertingConfig    `koanf:"alerting"`
	Ingestion   IngestionConfig   `koanf:"ingestion"`
	Events      EventsConfig      `koanf:"events"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	RateLimit   RateLimitConfig   `koanf:"rate_limit"`
}

type ServerConfig struct {
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"min=1"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	// ActiveAlertTTL bounds the per-patient open-alert snapshot
	ActiveAlertTTL time.Duration `koanf:"active_alert_ttl"`
	// TrendTTL bounds the latest-trend cache per (patient, test)
	TrendTTL time.Duration `koanf:"trend_ttl"`
}

// AnalysisConfig carries the trend and anomaly classification knobs. The
// defaults are engineering choices, not clinical policy; deployments tune
// them per institution.
type AnalysisConfig struct {
	TrendWindowDays           int     `koanf:"trend_window_days" validate:"min=1,max=365"`
	TrendThresholdPercent     float64 `koanf:"trend_threshold_percent" validate:"gt=0"`
	FluctuationMinSignChanges int     `koanf:"fluctuation_min_sign_changes" validate:"min=1"`
	FluctuationRangePercent   float64 `koanf:"fluctuation_range_percent" validate:"gt=0"`
	ConfidenceTargetSamples   int     `koanf:"confidence_target_samples" validate:"min=1"`
	MildMaxPercent            float64 `koanf:"mild_max_percent" validate:"gt=0"`
	ModerateMaxPercent        float64 `koanf:"moderate_max_percent" validate:"gt=0"`
	SevereMaxPercent          float64 `koanf:"severe_max_percent" validate:"gt=0"`
	EmergencyMultiple         float64 `koanf:"emergency_multiple" validate:"gt=1"`
}

type CorrelationConfig struct {
	WindowMinutes        int `koanf:"window_minutes" validate:"min=1"`
	MaxSignalsPerPatient int `koanf:"max_signals_per_patient" validate:"min=1"`
}

type AlertingConfig struct {
	SweepInterval              time.Duration `koanf:"sweep_interval"`
	AlertTTL                   time.Duration `koanf:"alert_ttl"`
	CriticalEscalationMinutes  int           `koanf:"critical_escalation_minutes" validate:"min=1"`
	EmergencyEscalationMinutes int           `koanf:"emergency_escalation_minutes" validate:"min=1"`
	EscalationPath             []string      `koanf:"escalation_path" validate:"min=1"`
}

type IngestionConfig struct {
	Workers   int `koanf:"workers" validate:"min=1"`
	QueueSize int `koanf:"queue_size" validate:"min=1"`
}

type EventsConfig struct {
	BufferSize   int           `koanf:"buffer_size" validate:"min=1"`
	Workers      int           `koanf:"workers" validate:"min=1"`
	MaxRetries   int           `koanf:"max_retries" validate:"min=0"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

type TelemetryConfig struct {
	Enabled       bool          `koanf:"enabled"`
	OTLPEndpoint  string        `koanf:"otlp_endpoint"`
	SamplingRate  float64       `koanf:"sampling_rate" validate:"gte=0,lte=1"`
	ExportTimeout time.Duration `koanf:"export_timeout"`
	BatchTimeout  time.Duration `koanf:"batch_timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `koanf:"requests_per_second" validate:"min=1"`
	BurstSize         int `koanf:"burst_size" validate:"min=1"`
}

func defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB:             0,
			ActiveAlertTTL: 30 * time.Second,
			TrendTTL:       5 * time.Minute,
		},
		Analysis: AnalysisConfig{
			TrendWindowDays:           90,
			TrendThresholdPercent:     10,
			FluctuationMinSignChanges: 2,
			FluctuationRangePercent:   15,
			ConfidenceTargetSamples:   10,
			MildMaxPercent:            25,
			ModerateMaxPercent:        50,
			SevereMaxPercent:          100,
			EmergencyMultiple:         1.5,
		},
		Correlation: CorrelationConfig{
			WindowMinutes:        60,
			MaxSignalsPerPatient: 256,
		},
		Alerting: AlertingConfig{
			SweepInterval:              30 * time.Second,
			AlertTTL:                   24 * time.Hour,
			CriticalEscalationMinutes:  15,
			EmergencyEscalationMinutes: 5,
			EscalationPath:             []string{"charge nurse", "attending physician", "rapid response team"},
		},
		Ingestion: IngestionConfig{
			Workers:   4,
			QueueSize: 256,
		},
		Events: EventsConfig{
			BufferSize:   1024,
			Workers:      2,
			MaxRetries:   3,
			RetryBackoff: 100 * time.Millisecond,
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			OTLPEndpoint:  "localhost:4317",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			BatchTimeout:  5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			BurstSize:         200,
		},
	}
}

// Load reads configuration from defaults, the optional configs/config.yaml,
// and the environment.
func Load() (*Config, error) {
	return loadFrom("configs/config.yaml", true)
}

// LoadFromFile reads configuration with an explicit file path. The file must
// exist.
func LoadFromFile(path string) (*Config, error) {
	return loadFrom(path, false)
}

func loadFrom(path string, optional bool) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	} else if !optional {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	// CSE_LOG_LEVEL -> log_level, CSE_SERVER__PORT -> server.port
	if err := k.Load(env.Provider("CSE_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, "CSE_")), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a := c.Analysis
	if !(a.MildMaxPercent < a.ModerateMaxPercent && a.ModerateMaxPercent < a.SevereMaxPercent) {
		return fmt.Errorf("invalid configuration: anomaly severity bands must be strictly increasing (mild %g, moderate %g, severe %g)",
			a.MildMaxPercent, a.ModerateMaxPercent, a.SevereMaxPercent)
	}
	if c.Alerting.SweepInterval <= 0 {
		return fmt.Errorf("invalid configuration: alerting sweep interval must be positive")
	}
	return nil
}
