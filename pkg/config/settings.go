package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/parity/pkg/engine"
)

// Settings is the application configuration.
type Settings struct {
	Server    ServerSettings    `yaml:"server" json:"server"`
	Storage   StorageSettings   `yaml:"storage" json:"storage"`
	Sessions  SessionSettings   `yaml:"sessions" json:"sessions"`
	Engine    EngineSettings    `yaml:"engine" json:"engine"`
	Hierarchy HierarchySettings `yaml:"hierarchy" json:"hierarchy"`
	Policies  PolicySettings    `yaml:"policies" json:"policies"`
	Simulator SimulatorSettings `yaml:"simulator" json:"simulator"`
	Telemetry TelemetrySettings `yaml:"telemetry" json:"telemetry"`
}

// ServerSettings configures the HTTP server.
type ServerSettings struct {
	Addr            string        `yaml:"addr" json:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gte=0"`
}

// StorageSettings configures the session registry and the progress store.
type StorageSettings struct {
	DataDir         string     `yaml:"data_dir" json:"data_dir" validate:"required"`
	RegistryPath    string     `yaml:"registry_path" json:"registry_path"`
	ProgressBackend string     `yaml:"progress_backend" json:"progress_backend" validate:"oneof=file s3"`
	S3              S3Settings `yaml:"s3" json:"s3"`
}

// S3Settings configures the object progress backend.
type S3Settings struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint" validate:"required_if=Enabled true"`
	AccessKey string `yaml:"access_key" json:"-"`
	SecretKey string `yaml:"secret_key" json:"-"`
	Bucket    string `yaml:"bucket" json:"bucket" validate:"required_if=Enabled true"`
	Region    string `yaml:"region" json:"region"`
	UseSSL    bool   `yaml:"use_ssl" json:"use_ssl"`
	Prefix    string `yaml:"prefix" json:"prefix"`

	// Enabled is derived from the progress backend and not read from YAML.
	Enabled bool `yaml:"-" json:"-"`
}

// SessionSettings bounds how much session state is retained.
type SessionSettings struct {
	MaxSessions             int `yaml:"max_sessions" json:"max_sessions" validate:"gte=1"`
	MaxExecutionsPerSession int `yaml:"max_executions_per_session" json:"max_executions_per_session" validate:"gte=1"`
}

// EngineSettings configures orchestration.
type EngineSettings struct {
	TargetEnvironment  string               `yaml:"target_environment" json:"target_environment" validate:"required"`
	StagingEnvironment string               `yaml:"staging_environment" json:"staging_environment" validate:"required"`
	DelayMin           time.Duration        `yaml:"delay_min" json:"delay_min" validate:"gte=0"`
	DelayMax           time.Duration        `yaml:"delay_max" json:"delay_max" validate:"gte=0"`
	FailurePolicy      engine.FailurePolicy `yaml:"failure_policy" json:"failure_policy" validate:"oneof=fail_fast continue"`
	NormalizeMaxDepth  int                  `yaml:"normalize_max_depth" json:"normalize_max_depth" validate:"gte=1"`
	Workers            int                  `yaml:"workers" json:"workers" validate:"gte=1"`
	QueueSize          int                  `yaml:"queue_size" json:"queue_size" validate:"gte=1"`
	StepTimeout        time.Duration        `yaml:"step_timeout" json:"step_timeout" validate:"gte=0"`
	ExecutionTimeout   time.Duration        `yaml:"execution_timeout" json:"execution_timeout" validate:"gte=0"`
}

// HierarchySettings locates the product hierarchy.
type HierarchySettings struct {
	Path string `yaml:"path" json:"path" validate:"required"`
}

// PolicySettings configures gate policies.
type PolicySettings struct {
	Dir   string `yaml:"dir" json:"dir"`
	Watch bool   `yaml:"watch" json:"watch"`
}

// SimulatorSettings configures the simulated back end.
type SimulatorSettings struct {
	FaultScript   string `yaml:"fault_script" json:"fault_script"`
	DefaultFaults bool   `yaml:"default_faults" json:"default_faults"`
}

// TelemetrySettings configures logging, tracing and metrics.
type TelemetrySettings struct {
	ServiceName     string  `yaml:"service_name" json:"service_name" validate:"required"`
	LogLevel        string  `yaml:"log_level" json:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat       string  `yaml:"log_format" json:"log_format" validate:"oneof=console json"`
	TracingEnabled  bool    `yaml:"tracing_enabled" json:"tracing_enabled"`
	TracingExporter string  `yaml:"tracing_exporter" json:"tracing_exporter" validate:"oneof=otlp stdout none"`
	TracingEndpoint string  `yaml:"tracing_endpoint" json:"tracing_endpoint"`
	SamplingRate    float64 `yaml:"sampling_rate" json:"sampling_rate" validate:"gte=0,lte=1"`
	MetricsEnabled  bool    `yaml:"metrics_enabled" json:"metrics_enabled"`
	MetricsPath     string  `yaml:"metrics_path" json:"metrics_path"`
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() *Settings {
	return &Settings{
		Server: ServerSettings{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageSettings{
			DataDir:         "data",
			ProgressBackend: "file",
			S3: S3Settings{
				Region: "us-east-1",
				Prefix: "parity",
			},
		},
		Sessions: SessionSettings{
			MaxSessions:             5,
			MaxExecutionsPerSession: 10,
		},
		Engine: EngineSettings{
			TargetEnvironment:  "DEV",
			StagingEnvironment: "STAGING",
			DelayMin:           engine.DefaultDelayMin,
			DelayMax:           engine.DefaultDelayMax,
			FailurePolicy:      engine.FailurePolicyFailFast,
			NormalizeMaxDepth:  10,
			Workers:            2,
			QueueSize:          8,
			StepTimeout:        30 * time.Second,
		},
		Hierarchy: HierarchySettings{
			Path: "config/products.json",
		},
		Simulator: SimulatorSettings{
			DefaultFaults: true,
		},
		Telemetry: TelemetrySettings{
			ServiceName:     "parity",
			LogLevel:        "info",
			LogFormat:       "console",
			TracingExporter: "none",
			SamplingRate:    1.0,
			MetricsEnabled:  true,
			MetricsPath:     "/metrics",
		},
	}
}

// LoadSettings reads settings from a YAML file over the defaults.
// ${VAR} references are expanded from the environment before parsing.
// An empty path returns the validated defaults.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, engine.NewConfigurationError("failed to read settings", err).WithResource(path)
		}
		if err := ParseSettings(data, s); err != nil {
			return nil, err
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseSettings decodes YAML settings into s, overriding only the keys present.
func ParseSettings(data []byte, s *Settings) error {
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), s); err != nil {
		return engine.NewConfigurationError("invalid settings", err).WithCode(engine.ErrCodeValidation)
	}
	return nil
}

// Validate checks field constraints and cross-field rules.
func (s *Settings) Validate() error {
	s.Storage.S3.Enabled = s.Storage.ProgressBackend == "s3"

	if err := newValidator().Struct(s); err != nil {
		return engine.NewConfigurationError(describeValidation(err), err).WithCode(engine.ErrCodeValidation)
	}

	if s.Engine.DelayMin > s.Engine.DelayMax {
		return engine.NewConfigurationError(
			fmt.Sprintf("engine.delay_min (%s) must not exceed engine.delay_max (%s)",
				s.Engine.DelayMin, s.Engine.DelayMax), nil).
			WithCode(engine.ErrCodeValidation)
	}

	return nil
}

// OrchestratorConfig maps engine settings onto the orchestrator configuration.
func (s *Settings) OrchestratorConfig() engine.OrchestratorConfig {
	return engine.OrchestratorConfig{
		TargetEnvironment:  s.Engine.TargetEnvironment,
		StagingEnvironment: s.Engine.StagingEnvironment,
		Policy:             s.Engine.FailurePolicy,
		Delay:              engine.Delay{Min: s.Engine.DelayMin, Max: s.Engine.DelayMax},
		StepTimeout:        s.Engine.StepTimeout,
	}
}

// RegistryPath returns the SQLite registry path, defaulting into the data dir.
func (s *Settings) RegistryPath() string {
	if s.Storage.RegistryPath != "" {
		return s.Storage.RegistryPath
	}
	return filepath.Join(s.Storage.DataDir, "parity.db")
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "invalid settings"
	}
	fe := verrs[0]
	return fmt.Sprintf("invalid settings: %s failed on %s", fe.Namespace(), fe.Tag())
}
