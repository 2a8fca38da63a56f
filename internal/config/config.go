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
	LogFile        string `yaml:"log_file"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
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
	JobStore    JobStoreConfig   `yaml:"job_store"`
	ChunkStore  ChunkStoreConfig `yaml:"chunk_store"`
	Chunker     ChunkerConfig    `yaml:"chunker"`
	Providers   ProvidersConfig  `yaml:"providers"`
	Extract     ExtractConfig    `yaml:"extract"`
	Narration   NarrationConfig  `yaml:"narration"`
	Artwork     ArtworkConfig    `yaml:"artwork"`
	Stream      StreamConfig     `yaml:"stream"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type JobStoreConfig struct {
	Backend       string `yaml:"backend"` // memory, sqlite, redis
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RetentionDays int    `yaml:"retention_days"`
	MaxJobs       int    `yaml:"max_jobs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ChunkStoreConfig struct {
	Dir string `yaml:"dir"`
}

type ChunkerConfig struct {
	WordsPerMinute int     `yaml:"words_per_minute"`
	SpeakingRate   float64 `yaml:"speaking_rate"`
}

// ProviderConfig holds per-backend synthesis settings. Cost is expressed in
// the job currency per 1000 characters of input text.
type ProviderConfig struct {
	Enabled      bool    `yaml:"enabled"`
	APIKey       string  `yaml:"api_key"`
	Voice        string  `yaml:"voice"`
	Model        string  `yaml:"model"`
	CostPer1K    float64 `yaml:"cost_per_1k"`
	MaxChunkSize int     `yaml:"max_chunk_size"`
	Priority     int     `yaml:"priority"`
	Command      string  `yaml:"command"`
	SampleRate   int     `yaml:"sample_rate"`
	Channels     int     `yaml:"channels"`
}

type ProvidersConfig struct {
	OpenAI     ProviderConfig `yaml:"openai"`
	ElevenLabs ProviderConfig `yaml:"elevenlabs"`
	Google     ProviderConfig `yaml:"google"`
	Exec       ProviderConfig `yaml:"exec"`
	Mock       ProviderConfig `yaml:"mock"`

	// ABRatio diverts this fraction of calls to the second-cheapest
	// available provider for comparative telemetry.
	ABRatio           float64 `yaml:"ab_ratio"`
	DefaultChunkLimit int     `yaml:"default_chunk_limit"`
}

type ExtractConfig struct {
	Mode    string `yaml:"mode"` // exec, mock
	Command string `yaml:"command"`
}

type NarrationConfig struct {
	TablesEnabled      bool    `yaml:"tables_enabled"`
	ImagesEnabled      bool    `yaml:"images_enabled"`
	OllamaEndpoint     string  `yaml:"ollama_endpoint"`
	Model              string  `yaml:"model"`
	CaptionConcurrency int     `yaml:"caption_concurrency"`
	TableUnitCost      float64 `yaml:"table_unit_cost"`
	ImageUnitCost      float64 `yaml:"image_unit_cost"`
}

type ArtworkConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Endpoint  string  `yaml:"endpoint"`
	APIKey    string  `yaml:"api_key"`
	Model     string  `yaml:"model"`
	TimeoutMS int     `yaml:"timeout_ms"`
	UnitCost  float64 `yaml:"unit_cost"`
}

type StreamConfig struct {
	KeepaliveIntervalMS int `yaml:"keepalive_interval_ms"`
	PreviewChars        int `yaml:"preview_chars"`
}

func Default() Config {
	return Config{
		RuntimeName: "lectern-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		JobStore: JobStoreConfig{
			Backend:       "sqlite",
			Path:          "./data/lectern-jobs.db",
			RetentionDays: 7,
			MaxJobs:       10000,
		},
		ChunkStore: ChunkStoreConfig{
			Dir: "./data/chunks",
		},
		Chunker: ChunkerConfig{
			WordsPerMinute: 150,
			SpeakingRate:   1.0,
		},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				Model:        "tts-1",
				Voice:        "alloy",
				CostPer1K:    0.015,
				MaxChunkSize: 4096,
				Priority:     1,
			},
			ElevenLabs: ProviderConfig{
				Voice:        "21m00Tcm4TlvDq8ikWAM",
				Model:        "eleven_monolingual_v1",
				CostPer1K:    0.30,
				MaxChunkSize: 5000,
				Priority:     3,
			},
			Google: ProviderConfig{
				Voice:        "en-US-Neural2-C",
				CostPer1K:    0.016,
				MaxChunkSize: 5000,
				Priority:     2,
			},
			Exec: ProviderConfig{
				CostPer1K:    0,
				MaxChunkSize: 2000,
				Priority:     4,
				SampleRate:   22050,
				Channels:     1,
			},
			Mock: ProviderConfig{
				CostPer1K:    0,
				MaxChunkSize: 4000,
				Priority:     99,
			},
			ABRatio:           0,
			DefaultChunkLimit: 1500,
		},
		Extract: ExtractConfig{
			Mode: "mock",
		},
		Narration: NarrationConfig{
			TablesEnabled:      true,
			ImagesEnabled:      true,
			OllamaEndpoint:     "http://localhost:11434",
			Model:              "llama3.2:latest",
			CaptionConcurrency: 3,
			TableUnitCost:      0.002,
			ImageUnitCost:      0.004,
		},
		Artwork: ArtworkConfig{
			Enabled:   false,
			Endpoint:  "https://api.openai.com/v1/images/generations",
			Model:     "dall-e-3",
			TimeoutMS: 30000,
			UnitCost:  0.04,
		},
		Stream: StreamConfig{
			KeepaliveIntervalMS: 15000,
			PreviewChars:        100,
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
	overrideString(&cfg.RuntimeName, "LECTERN_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LECTERN_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LECTERN_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LECTERN_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LECTERN_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFile, "LECTERN_TELEMETRY_LOG_FILE")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LECTERN_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LECTERN_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LECTERN_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LECTERN_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LECTERN_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LECTERN_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LECTERN_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LECTERN_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LECTERN_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LECTERN_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LECTERN_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LECTERN_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.JobStore.Backend, "LECTERN_JOB_STORE_BACKEND")
	overrideString(&cfg.JobStore.Path, "LECTERN_JOB_STORE_PATH")
	overrideString(&cfg.JobStore.RedisAddr, "LECTERN_JOB_STORE_REDIS_ADDR")
	overrideString(&cfg.JobStore.RedisPassword, "LECTERN_JOB_STORE_REDIS_PASSWORD")
	overrideInt(&cfg.JobStore.RedisDB, "LECTERN_JOB_STORE_REDIS_DB")
	overrideInt(&cfg.JobStore.RetentionDays, "LECTERN_JOB_STORE_RETENTION_DAYS")
	overrideInt(&cfg.JobStore.MaxJobs, "LECTERN_JOB_STORE_MAX_JOBS")
	overrideBool(&cfg.JobStore.VacuumOnStart, "LECTERN_JOB_STORE_VACUUM_ON_START")
	overrideString(&cfg.ChunkStore.Dir, "LECTERN_CHUNK_STORE_DIR")
	overrideInt(&cfg.Chunker.WordsPerMinute, "LECTERN_CHUNKER_WORDS_PER_MINUTE")
	overrideFloat(&cfg.Chunker.SpeakingRate, "LECTERN_CHUNKER_SPEAKING_RATE")
	overrideBool(&cfg.Providers.OpenAI.Enabled, "LECTERN_PROVIDER_OPENAI_ENABLED")
	overrideString(&cfg.Providers.OpenAI.APIKey, "LECTERN_PROVIDER_OPENAI_API_KEY")
	overrideString(&cfg.Providers.OpenAI.Voice, "LECTERN_PROVIDER_OPENAI_VOICE")
	overrideString(&cfg.Providers.OpenAI.Model, "LECTERN_PROVIDER_OPENAI_MODEL")
	overrideBool(&cfg.Providers.ElevenLabs.Enabled, "LECTERN_PROVIDER_ELEVENLABS_ENABLED")
	overrideString(&cfg.Providers.ElevenLabs.APIKey, "LECTERN_PROVIDER_ELEVENLABS_API_KEY")
	overrideString(&cfg.Providers.ElevenLabs.Voice, "LECTERN_PROVIDER_ELEVENLABS_VOICE")
	overrideBool(&cfg.Providers.Google.Enabled, "LECTERN_PROVIDER_GOOGLE_ENABLED")
	overrideString(&cfg.Providers.Google.APIKey, "LECTERN_PROVIDER_GOOGLE_API_KEY")
	overrideString(&cfg.Providers.Google.Voice, "LECTERN_PROVIDER_GOOGLE_VOICE")
	overrideBool(&cfg.Providers.Exec.Enabled, "LECTERN_PROVIDER_EXEC_ENABLED")
	overrideString(&cfg.Providers.Exec.Command, "LECTERN_PROVIDER_EXEC_COMMAND")
	overrideBool(&cfg.Providers.Mock.Enabled, "LECTERN_PROVIDER_MOCK_ENABLED")
	overrideFloat(&cfg.Providers.ABRatio, "LECTERN_PROVIDERS_AB_RATIO")
	overrideInt(&cfg.Providers.DefaultChunkLimit, "LECTERN_PROVIDERS_DEFAULT_CHUNK_LIMIT")
	overrideString(&cfg.Extract.Mode, "LECTERN_EXTRACT_MODE")
	overrideString(&cfg.Extract.Command, "LECTERN_EXTRACT_COMMAND")
	overrideBool(&cfg.Narration.TablesEnabled, "LECTERN_NARRATION_TABLES_ENABLED")
	overrideBool(&cfg.Narration.ImagesEnabled, "LECTERN_NARRATION_IMAGES_ENABLED")
	overrideString(&cfg.Narration.OllamaEndpoint, "LECTERN_NARRATION_OLLAMA_ENDPOINT")
	overrideString(&cfg.Narration.Model, "LECTERN_NARRATION_MODEL")
	overrideInt(&cfg.Narration.CaptionConcurrency, "LECTERN_NARRATION_CAPTION_CONCURRENCY")
	overrideBool(&cfg.Artwork.Enabled, "LECTERN_ARTWORK_ENABLED")
	overrideString(&cfg.Artwork.Endpoint, "LECTERN_ARTWORK_ENDPOINT")
	overrideString(&cfg.Artwork.APIKey, "LECTERN_ARTWORK_API_KEY")
	overrideString(&cfg.Artwork.Model, "LECTERN_ARTWORK_MODEL")
	overrideInt(&cfg.Artwork.TimeoutMS, "LECTERN_ARTWORK_TIMEOUT_MS")
	overrideInt(&cfg.Stream.KeepaliveIntervalMS, "LECTERN_STREAM_KEEPALIVE_INTERVAL_MS")
	overrideInt(&cfg.Stream.PreviewChars, "LECTERN_STREAM_PREVIEW_CHARS")
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
	switch cfg.JobStore.Backend {
	case "memory", "sqlite", "redis":
		// ok
	default:
		return errors.New("job_store.backend must be one of memory|sqlite|redis")
	}
	if cfg.JobStore.Backend == "sqlite" && cfg.JobStore.Path == "" {
		return errors.New("job_store.path must not be empty when backend is sqlite")
	}
	if cfg.JobStore.Backend == "redis" && cfg.JobStore.RedisAddr == "" {
		return errors.New("job_store.redis_addr must not be empty when backend is redis")
	}
	if cfg.JobStore.RetentionDays < 0 {
		return errors.New("job_store.retention_days must be >= 0")
	}
	if cfg.ChunkStore.Dir == "" {
		return errors.New("chunk_store.dir must not be empty")
	}
	if cfg.Chunker.WordsPerMinute <= 0 {
		return errors.New("chunker.words_per_minute must be positive")
	}
	if cfg.Chunker.SpeakingRate <= 0 {
		return errors.New("chunker.speaking_rate must be positive")
	}
	if cfg.Providers.ABRatio < 0 || cfg.Providers.ABRatio > 1 {
		return errors.New("providers.ab_ratio must be between 0 and 1")
	}
	if cfg.Providers.DefaultChunkLimit <= 0 {
		return errors.New("providers.default_chunk_limit must be positive")
	}
	for name, pc := range map[string]ProviderConfig{
		"openai":     cfg.Providers.OpenAI,
		"elevenlabs": cfg.Providers.ElevenLabs,
		"google":     cfg.Providers.Google,
		"exec":       cfg.Providers.Exec,
		"mock":       cfg.Providers.Mock,
	} {
		if !pc.Enabled {
			continue
		}
		if pc.MaxChunkSize <= 0 {
			return fmt.Errorf("providers.%s.max_chunk_size must be positive", name)
		}
		if pc.CostPer1K < 0 {
			return fmt.Errorf("providers.%s.cost_per_1k must be >= 0", name)
		}
	}
	if cfg.Providers.Exec.Enabled && cfg.Providers.Exec.Command == "" {
		return errors.New("providers.exec.command must be set when the exec provider is enabled")
	}
	switch cfg.Extract.Mode {
	case "exec", "mock":
	default:
		return errors.New("extract.mode must be one of exec|mock")
	}
	if cfg.Extract.Mode == "exec" && cfg.Extract.Command == "" {
		return errors.New("extract.command must be set when mode=exec")
	}
	if cfg.Narration.CaptionConcurrency <= 0 {
		return errors.New("narration.caption_concurrency must be >= 1")
	}
	if (cfg.Narration.TablesEnabled || cfg.Narration.ImagesEnabled) && cfg.Narration.OllamaEndpoint == "" {
		return errors.New("narration.ollama_endpoint must be set when table or image narration is enabled")
	}
	if cfg.Artwork.Enabled {
		if cfg.Artwork.Endpoint == "" {
			return errors.New("artwork.endpoint must not be empty when artwork is enabled")
		}
		if cfg.Artwork.TimeoutMS <= 0 {
			return errors.New("artwork.timeout_ms must be positive")
		}
	}
	if cfg.Stream.KeepaliveIntervalMS <= 0 {
		return errors.New("stream.keepalive_interval_ms must be positive")
	}
	if cfg.Stream.PreviewChars <= 0 {
		return errors.New("stream.preview_chars must be positive")
	}
	return nil
}
