package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFile        string `yaml:"log_file"` // rotated; stdout when empty
	LogMaxSizeMB   int    `yaml:"log_max_size_mb"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"` // empty serves /metrics on the http server
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	EventStore  EventStoreConfig  `yaml:"event_store"`
	LLM         LLMConfig         `yaml:"llm"`
	TTS         TTSConfig         `yaml:"tts"`
	TTA         TTAConfig         `yaml:"tta"`
	Media       MediaConfig       `yaml:"media"`
	Casting     CastingConfig     `yaml:"casting"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Jobs        JobsConfig        `yaml:"jobs"`
	Presence    PresenceConfig    `yaml:"presence"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// ObjectStoreConfig controls upload of finished tracks to a JetStream object store.
type ObjectStoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // mock, ollama, openai, exec
	Endpoint    string  `yaml:"endpoint"`
	APIKey      string  `yaml:"api_key"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSec  int     `yaml:"timeout_seconds"`
}

type TTSConfig struct {
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type TTAConfig struct {
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	SampleRate int    `yaml:"sample_rate"`
	MaxSeconds int    `yaml:"max_seconds"`
}

type MediaConfig struct {
	Command    string `yaml:"command"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type CastingConfig struct {
	VoiceDir      string `yaml:"voice_dir"`
	SeedFile      string `yaml:"seed_file"`
	UnknownGender string `yaml:"unknown_gender"`
	NarratorName  string `yaml:"narrator_name"`
}

type PipelineConfig struct {
	ResultsDir       string  `yaml:"results_dir"`
	Workers          int     `yaml:"workers"`
	AmbienceVolume   float64 `yaml:"ambience_volume"`
	MaxCrossfadeSecs int     `yaml:"max_crossfade_seconds"`
	ChapterLines     int     `yaml:"chapter_lines"` // 0 disables splitting
}

type JobsConfig struct {
	Enabled     bool `yaml:"enabled"`
	Concurrency int  `yaml:"max_concurrency"`
}

// PresenceConfig controls how a serving worker announces itself to its peers.
type PresenceConfig struct {
	NodeID            string `yaml:"node_id"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "radiodrama",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			LogMaxSizeMB: 100,
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		ObjectStore: ObjectStoreConfig{
			Enabled: false,
			Bucket:  "DRAMA_TRACKS",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/drama-events.db",
			RetentionMode: "run",
			RetentionDays: 30,
			MaxRuns:       1000,
		},
		LLM: LLMConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   16384,
			Temperature: 0.7,
			TimeoutSec:  300,
		},
		TTS: TTSConfig{
			Mode:       "mock",
			SampleRate: 24000,
			Channels:   1,
		},
		TTA: TTAConfig{
			Mode:       "mock",
			SampleRate: 16000,
			MaxSeconds: 3,
		},
		Media: MediaConfig{
			Command:    "ffmpeg",
			SampleRate: 24000,
			Channels:   2,
		},
		Casting: CastingConfig{
			VoiceDir:      "./data/speech",
			SeedFile:      "./results/role_timbre.json",
			UnknownGender: "male",
			NarratorName:  "narrator",
		},
		Pipeline: PipelineConfig{
			ResultsDir:       "./results",
			Workers:          2,
			AmbienceVolume:   0.5,
			MaxCrossfadeSecs: 2,
		},
		Jobs: JobsConfig{
			Enabled:     false,
			Concurrency: 1,
		},
		Presence: PresenceConfig{
			NodeID:            "radiodrama-1",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
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
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "DRAMA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "DRAMA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "DRAMA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "DRAMA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "DRAMA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFile, "DRAMA_TELEMETRY_LOG_FILE")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "DRAMA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "DRAMA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "DRAMA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "DRAMA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "DRAMA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "DRAMA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "DRAMA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "DRAMA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "DRAMA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "DRAMA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "DRAMA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "DRAMA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "DRAMA_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.ObjectStore.Enabled, "DRAMA_OBJECT_STORE_ENABLED")
	overrideString(&cfg.ObjectStore.Bucket, "DRAMA_OBJECT_STORE_BUCKET")
	overrideString(&cfg.EventStore.Path, "DRAMA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "DRAMA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "DRAMA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRuns, "DRAMA_EVENT_STORE_MAX_RUNS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "DRAMA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.LLM.Mode, "DRAMA_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "DRAMA_LLM_ENDPOINT")
	overrideString(&cfg.LLM.APIKey, "DRAMA_LLM_API_KEY")
	overrideString(&cfg.LLM.Command, "DRAMA_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "DRAMA_LLM_MODEL")
	overrideInt(&cfg.LLM.MaxTokens, "DRAMA_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "DRAMA_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutSec, "DRAMA_LLM_TIMEOUT_SECONDS")
	overrideString(&cfg.TTS.Mode, "DRAMA_TTS_MODE")
	overrideString(&cfg.TTS.Command, "DRAMA_TTS_COMMAND")
	overrideInt(&cfg.TTS.SampleRate, "DRAMA_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "DRAMA_TTS_CHANNELS")
	overrideString(&cfg.TTA.Mode, "DRAMA_TTA_MODE")
	overrideString(&cfg.TTA.Command, "DRAMA_TTA_COMMAND")
	overrideInt(&cfg.TTA.SampleRate, "DRAMA_TTA_SAMPLE_RATE")
	overrideInt(&cfg.TTA.MaxSeconds, "DRAMA_TTA_MAX_SECONDS")
	overrideString(&cfg.Media.Command, "DRAMA_MEDIA_COMMAND")
	overrideInt(&cfg.Media.SampleRate, "DRAMA_MEDIA_SAMPLE_RATE")
	overrideInt(&cfg.Media.Channels, "DRAMA_MEDIA_CHANNELS")
	overrideString(&cfg.Casting.VoiceDir, "DRAMA_CASTING_VOICE_DIR")
	overrideString(&cfg.Casting.SeedFile, "DRAMA_CASTING_SEED_FILE")
	overrideString(&cfg.Casting.UnknownGender, "DRAMA_CASTING_UNKNOWN_GENDER")
	overrideString(&cfg.Casting.NarratorName, "DRAMA_CASTING_NARRATOR_NAME")
	overrideString(&cfg.Pipeline.ResultsDir, "DRAMA_PIPELINE_RESULTS_DIR")
	overrideInt(&cfg.Pipeline.Workers, "DRAMA_PIPELINE_WORKERS")
	overrideFloat(&cfg.Pipeline.AmbienceVolume, "DRAMA_PIPELINE_AMBIENCE_VOLUME")
	overrideInt(&cfg.Pipeline.MaxCrossfadeSecs, "DRAMA_PIPELINE_MAX_CROSSFADE_SECONDS")
	overrideInt(&cfg.Pipeline.ChapterLines, "DRAMA_PIPELINE_CHAPTER_LINES")
	overrideBool(&cfg.Jobs.Enabled, "DRAMA_JOBS_ENABLED")
	overrideInt(&cfg.Jobs.Concurrency, "DRAMA_JOBS_MAX_CONCURRENCY")
	overrideString(&cfg.Presence.NodeID, "DRAMA_PRESENCE_NODE_ID")
	overrideInt(&cfg.Presence.HeartbeatInterval, "DRAMA_PRESENCE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Presence.HeartbeatTimeout, "DRAMA_PRESENCE_HEARTBEAT_TIMEOUT_MS")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
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
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.ObjectStore.Enabled {
		if !cfg.Bus.Enabled {
			return errors.New("object_store requires bus.enabled")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object_store.bucket must not be empty")
		}
	}
	if cfg.Jobs.Enabled {
		if !cfg.Bus.Enabled {
			return errors.New("jobs require bus.enabled")
		}
		if cfg.Jobs.Concurrency <= 0 {
			return errors.New("jobs.max_concurrency must be >= 1")
		}
		if cfg.Presence.NodeID == "" {
			return errors.New("presence.node_id must not be empty when jobs are enabled")
		}
		if cfg.Presence.HeartbeatInterval <= 0 {
			return errors.New("presence.heartbeat_interval_ms must be > 0")
		}
		if cfg.Presence.HeartbeatTimeout <= cfg.Presence.HeartbeatInterval {
			return errors.New("presence.heartbeat_timeout_ms must exceed heartbeat_interval_ms")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "run", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|run|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.LLM.Mode {
	case "mock", "exec":
	case "ollama", "openai":
		if cfg.LLM.Endpoint == "" {
			return fmt.Errorf("llm.endpoint must be set when mode=%s", cfg.LLM.Mode)
		}
	default:
		return errors.New("llm.mode must be one of mock|ollama|openai|exec")
	}
	if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when mode=exec")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec":
	default:
		return errors.New("tts.mode must be one of mock|exec")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	switch cfg.TTA.Mode {
	case "mock", "exec":
	default:
		return errors.New("tta.mode must be one of mock|exec")
	}
	if cfg.TTA.Mode == "exec" && cfg.TTA.Command == "" {
		return errors.New("tta.command must be set when mode=exec")
	}
	if cfg.TTA.MaxSeconds <= 0 {
		return errors.New("tta.max_seconds must be positive")
	}
	if cfg.Media.Command == "" {
		return errors.New("media.command must not be empty")
	}
	if cfg.Media.SampleRate <= 0 || cfg.Media.Channels <= 0 {
		return errors.New("media.sample_rate and media.channels must be positive")
	}
	switch cfg.Casting.UnknownGender {
	case "male", "female":
	default:
		return errors.New("casting.unknown_gender must be one of male|female")
	}
	if cfg.Casting.VoiceDir == "" {
		return errors.New("casting.voice_dir must not be empty")
	}
	if cfg.Casting.NarratorName == "" {
		return errors.New("casting.narrator_name must not be empty")
	}
	if cfg.Pipeline.ResultsDir == "" {
		return errors.New("pipeline.results_dir must not be empty")
	}
	if cfg.Pipeline.Workers <= 0 {
		return errors.New("pipeline.workers must be >= 1")
	}
	if cfg.Pipeline.AmbienceVolume < 0 {
		return errors.New("pipeline.ambience_volume must be >= 0")
	}
	if cfg.Pipeline.MaxCrossfadeSecs < 0 {
		return errors.New("pipeline.max_crossfade_seconds must be >= 0")
	}
	if cfg.Pipeline.ChapterLines < 0 {
		return errors.New("pipeline.chapter_lines must be >= 0")
	}
	return nil
}
