package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL         = "https://api.openai.com"
	DefaultTranscribeModel = "gpt-4o-transcribe"
	DefaultRewriteModel    = "gpt-5-mini"
	DefaultRewritePrompt   = "Rewrite the text with correct punctuation and capitalization. Preserve meaning. Return plain text only."

	// APIKeyEnv is consulted when no api_key is present in the file.
	APIKeyEnv = "LOQA_OPENAI_API_KEY"
)

type TelemetryConfig struct {
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	OTLPInsecure  bool   `yaml:"otlp_insecure"`
	TraceStdout   bool   `yaml:"trace_stdout"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Capture     CaptureConfig    `yaml:"capture"`
	STT         STTConfig        `yaml:"stt"`
	Rewrite     RewriteConfig    `yaml:"rewrite"`
	Control     ControlConfig    `yaml:"control"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// CaptureConfig selects the input device. An empty Device means the host default.
type CaptureConfig struct {
	Device         string `yaml:"device"`
	SampleFormat   string `yaml:"sample_format"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`
}

type STTConfig struct {
	Mode      string `yaml:"mode"` // openai, exec, mock
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Language  string `yaml:"language"`
	Command   string `yaml:"command"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type RewriteConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Mode      string `yaml:"mode"` // openai, ollama, exec, mock
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Prompt    string `yaml:"prompt"`
	Command   string `yaml:"command"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type ControlConfig struct {
	SubjectPrefix    string `yaml:"subject_prefix"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-dictation",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8085,
		},
		Telemetry: TelemetryConfig{
			LogLevel:      "info",
			LogFormat:     "json",
			LogMaxSizeMB:  20,
			LogMaxBackups: 3,
			LogMaxAgeDays: 14,
			OTLPEndpoint:  "",
			OTLPInsecure:  true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4223,
			Host:           "127.0.0.1",
			Servers:        []string{"nats://localhost:4223"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/dictation-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Capture: CaptureConfig{
			SampleFormat:   "float32",
			PollIntervalMS: 100,
		},
		STT: STTConfig{
			Mode:      "openai",
			BaseURL:   DefaultBaseURL,
			Model:     DefaultTranscribeModel,
			TimeoutMS: 60000,
		},
		Rewrite: RewriteConfig{
			Enabled:   true,
			Mode:      "openai",
			BaseURL:   DefaultBaseURL,
			Model:     DefaultRewriteModel,
			Prompt:    DefaultRewritePrompt,
			TimeoutMS: 60000,
		},
		Control: ControlConfig{
			SubjectPrefix:    "dictation.session",
			RequestTimeoutMS: 120000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyCredentialFallback(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "LOQA_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.LogFile, "LOQA_TELEMETRY_LOG_FILE")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "LOQA_TELEMETRY_TRACE_STDOUT")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.Host, "LOQA_BUS_HOST")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Capture.Device, "LOQA_CAPTURE_DEVICE")
	overrideString(&cfg.Capture.SampleFormat, "LOQA_CAPTURE_SAMPLE_FORMAT")
	overrideInt(&cfg.Capture.PollIntervalMS, "LOQA_CAPTURE_POLL_INTERVAL_MS")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.BaseURL, "LOQA_STT_BASE_URL")
	overrideString(&cfg.STT.APIKey, "LOQA_STT_API_KEY")
	overrideString(&cfg.STT.Model, "LOQA_STT_MODEL")
	overrideString(&cfg.STT.Language, "LOQA_STT_LANGUAGE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideInt(&cfg.STT.TimeoutMS, "LOQA_STT_TIMEOUT_MS")
	overrideBool(&cfg.Rewrite.Enabled, "LOQA_REWRITE_ENABLED")
	overrideString(&cfg.Rewrite.Mode, "LOQA_REWRITE_MODE")
	overrideString(&cfg.Rewrite.BaseURL, "LOQA_REWRITE_BASE_URL")
	overrideString(&cfg.Rewrite.APIKey, "LOQA_REWRITE_API_KEY")
	overrideString(&cfg.Rewrite.Model, "LOQA_REWRITE_MODEL")
	overrideString(&cfg.Rewrite.Prompt, "LOQA_REWRITE_PROMPT")
	overrideString(&cfg.Rewrite.Command, "LOQA_REWRITE_COMMAND")
	overrideInt(&cfg.Rewrite.TimeoutMS, "LOQA_REWRITE_TIMEOUT_MS")
	overrideString(&cfg.Control.SubjectPrefix, "LOQA_CONTROL_SUBJECT_PREFIX")
	overrideInt(&cfg.Control.RequestTimeoutMS, "LOQA_CONTROL_REQUEST_TIMEOUT_MS")
}

// applyCredentialFallback fills empty service keys from the shared API key
// variable so the secret can stay out of the config file.
func applyCredentialFallback(cfg *Config) {
	shared := strings.TrimSpace(os.Getenv(APIKeyEnv))
	if shared == "" {
		return
	}
	if cfg.STT.APIKey == "" {
		cfg.STT.APIKey = shared
	}
	if cfg.Rewrite.APIKey == "" {
		cfg.Rewrite.APIKey = shared
	}
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Telemetry.LogFormat) {
	case "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Capture.PollIntervalMS <= 0 {
		return errors.New("capture.poll_interval_ms must be positive")
	}
	switch cfg.STT.Mode {
	case "openai", "exec", "mock":
	default:
		return errors.New("stt.mode must be one of openai|exec|mock")
	}
	if cfg.STT.Mode == "openai" && cfg.STT.BaseURL == "" {
		return errors.New("stt.base_url must be set when mode=openai")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.STT.TimeoutMS <= 0 {
		return errors.New("stt.timeout_ms must be positive")
	}
	if cfg.Rewrite.Enabled {
		switch cfg.Rewrite.Mode {
		case "openai", "ollama", "exec", "mock":
		default:
			return errors.New("rewrite.mode must be one of openai|ollama|exec|mock")
		}
		if (cfg.Rewrite.Mode == "openai" || cfg.Rewrite.Mode == "ollama") && cfg.Rewrite.BaseURL == "" {
			return fmt.Errorf("rewrite.base_url must be set when mode=%s", cfg.Rewrite.Mode)
		}
		if cfg.Rewrite.Mode == "exec" && cfg.Rewrite.Command == "" {
			return errors.New("rewrite.command must be set when mode=exec")
		}
		if cfg.Rewrite.TimeoutMS <= 0 {
			return errors.New("rewrite.timeout_ms must be positive")
		}
	}
	if cfg.Control.SubjectPrefix == "" {
		return errors.New("control.subject_prefix must not be empty")
	}
	if cfg.Control.RequestTimeoutMS <= 0 {
		return errors.New("control.request_timeout_ms must be positive")
	}
	return nil
}
