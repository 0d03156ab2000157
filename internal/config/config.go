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
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// Language describes one supported language selection.
type Language struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

type SessionConfig struct {
	Languages             []Language `yaml:"languages"`
	DefaultOutputLanguage string     `yaml:"default_output_language"`
	FallbackLanguage      string     `yaml:"fallback_language"`
	SilenceTimeoutMS      int        `yaml:"silence_timeout_ms"`
	InactivityTimeoutMS   int        `yaml:"inactivity_timeout_ms"`
	Greeting              string     `yaml:"greeting"`
	GreetingLanguage      string     `yaml:"greeting_language"`
}

type CaptureConfig struct {
	Mode            string `yaml:"mode"` // mock, exec
	Command         string `yaml:"command"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FrameDurationMS int    `yaml:"frame_duration_ms"`
}

type STTConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Mode           string `yaml:"mode"` // mock, exec
	Command        string `yaml:"command"`
	ModelDir       string `yaml:"model_dir"`
	SampleRate     int    `yaml:"sample_rate"`
	Channels       int    `yaml:"channels"`
	PartialEveryMS int    `yaml:"partial_every_ms"`
	PublishInterim bool   `yaml:"publish_interim"`
}

type DetectConfig struct {
	Mode    string `yaml:"mode"` // heuristic, exec, mock
	Command string `yaml:"command"`
}

type TranslateConfig struct {
	Mode      string `yaml:"mode"` // mock, google, exec
	Endpoint  string `yaml:"endpoint"`
	Command   string `yaml:"command"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Enabled    bool              `yaml:"enabled"`
	Mode       string            `yaml:"mode"` // mock, exec
	Command    string            `yaml:"command"`
	Playback   string            `yaml:"playback"` // aplay-style player; empty discards audio
	Voices     map[string]string `yaml:"voices"`
	SampleRate int               `yaml:"sample_rate"`
	Channels   int               `yaml:"channels"`
}

type AssistantConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Mode     string `yaml:"mode"` // stub, ollama, exec
	Command  string `yaml:"command"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
}

type CapabilityConfig struct {
	ProbeAddresses   []string `yaml:"probe_addresses"`
	ProbeIntervalMS  int      `yaml:"probe_interval_ms"`
	ProbeTimeoutMS   int      `yaml:"probe_timeout_ms"`
	PlatformOverride string   `yaml:"platform_override"`
	ModelFile        string   `yaml:"model_file"`
}

type InputConfig struct {
	MotionCooldownMS int `yaml:"motion_cooldown_ms"`
}

type PhraseCacheConfig struct {
	Mode          string `yaml:"mode"` // ephemeral, persistent
	Path          string `yaml:"path"`
	MaxEntries    int    `yaml:"max_entries"`
	RetentionDays int    `yaml:"retention_days"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Session     SessionConfig     `yaml:"session"`
	Capture     CaptureConfig     `yaml:"capture"`
	STT         STTConfig         `yaml:"stt"`
	Detect      DetectConfig      `yaml:"detect"`
	Translate   TranslateConfig   `yaml:"translate"`
	TTS         TTSConfig         `yaml:"tts"`
	Assistant   AssistantConfig   `yaml:"assistant"`
	Capability  CapabilityConfig  `yaml:"capability"`
	Input       InputConfig       `yaml:"input"`
	PhraseCache PhraseCacheConfig `yaml:"phrase_cache"`
}

func Default() Config {
	return Config{
		RuntimeName: "salin-runtime",
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
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Session: SessionConfig{
			Languages: []Language{
				{Code: "en", Name: "English"},
				{Code: "tl", Name: "Filipino"},
				{Code: "ko", Name: "Korean"},
			},
			FallbackLanguage:    "en",
			SilenceTimeoutMS:    5000,
			InactivityTimeoutMS: 10000,
			Greeting:            "Hello! Welcome to the translation system.",
			GreetingLanguage:    "en",
		},
		Capture: CaptureConfig{
			Mode:            "mock",
			SampleRate:      16000,
			Channels:        1,
			FrameDurationMS: 20,
		},
		STT: STTConfig{
			Enabled:        true,
			Mode:           "mock",
			SampleRate:     16000,
			Channels:       1,
			PartialEveryMS: 800,
			PublishInterim: true,
		},
		Detect: DetectConfig{
			Mode: "heuristic",
		},
		Translate: TranslateConfig{
			Mode:      "mock",
			Endpoint:  "https://translate.googleapis.com/translate_a/single",
			TimeoutMS: 10000,
		},
		TTS: TTSConfig{
			Enabled:    true,
			Mode:       "mock",
			Voices:     map[string]string{},
			SampleRate: 22050,
			Channels:   1,
		},
		Assistant: AssistantConfig{
			Enabled:  true,
			Mode:     "stub",
			Endpoint: "http://127.0.0.1:11434",
			Model:    "llama3.2:latest",
		},
		Capability: CapabilityConfig{
			ProbeAddresses:  []string{"8.8.8.8:53", "1.1.1.1:53"},
			ProbeIntervalMS: 30000,
			ProbeTimeoutMS:  3000,
			ModelFile:       "/sys/firmware/devicetree/base/model",
		},
		Input: InputConfig{
			MotionCooldownMS: 10000,
		},
		PhraseCache: PhraseCacheConfig{
			Mode:          "persistent",
			Path:          "./data/salin-phrases.db",
			MaxEntries:    10000,
			RetentionDays: 30,
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
	overrideString(&cfg.RuntimeName, "SALIN_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SALIN_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SALIN_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SALIN_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SALIN_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SALIN_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SALIN_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "SALIN_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "SALIN_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SALIN_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "SALIN_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SALIN_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SALIN_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SALIN_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SALIN_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SALIN_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Session.DefaultOutputLanguage, "SALIN_SESSION_DEFAULT_OUTPUT_LANGUAGE")
	overrideString(&cfg.Session.FallbackLanguage, "SALIN_SESSION_FALLBACK_LANGUAGE")
	overrideInt(&cfg.Session.SilenceTimeoutMS, "SALIN_SESSION_SILENCE_TIMEOUT_MS")
	overrideInt(&cfg.Session.InactivityTimeoutMS, "SALIN_SESSION_INACTIVITY_TIMEOUT_MS")
	overrideString(&cfg.Session.Greeting, "SALIN_SESSION_GREETING")
	overrideString(&cfg.Session.GreetingLanguage, "SALIN_SESSION_GREETING_LANGUAGE")
	overrideString(&cfg.Capture.Mode, "SALIN_CAPTURE_MODE")
	overrideString(&cfg.Capture.Command, "SALIN_CAPTURE_COMMAND")
	overrideInt(&cfg.Capture.SampleRate, "SALIN_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "SALIN_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.FrameDurationMS, "SALIN_CAPTURE_FRAME_DURATION_MS")
	overrideBool(&cfg.STT.Enabled, "SALIN_STT_ENABLED")
	overrideString(&cfg.STT.Mode, "SALIN_STT_MODE")
	overrideString(&cfg.STT.Command, "SALIN_STT_COMMAND")
	overrideString(&cfg.STT.ModelDir, "SALIN_STT_MODEL_DIR")
	overrideInt(&cfg.STT.SampleRate, "SALIN_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "SALIN_STT_CHANNELS")
	overrideInt(&cfg.STT.PartialEveryMS, "SALIN_STT_PARTIAL_EVERY_MS")
	overrideBool(&cfg.STT.PublishInterim, "SALIN_STT_PUBLISH_INTERIM")
	overrideString(&cfg.Detect.Mode, "SALIN_DETECT_MODE")
	overrideString(&cfg.Detect.Command, "SALIN_DETECT_COMMAND")
	overrideString(&cfg.Translate.Mode, "SALIN_TRANSLATE_MODE")
	overrideString(&cfg.Translate.Endpoint, "SALIN_TRANSLATE_ENDPOINT")
	overrideString(&cfg.Translate.Command, "SALIN_TRANSLATE_COMMAND")
	overrideInt(&cfg.Translate.TimeoutMS, "SALIN_TRANSLATE_TIMEOUT_MS")
	overrideBool(&cfg.TTS.Enabled, "SALIN_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "SALIN_TTS_MODE")
	overrideString(&cfg.TTS.Command, "SALIN_TTS_COMMAND")
	overrideString(&cfg.TTS.Playback, "SALIN_TTS_PLAYBACK")
	overrideInt(&cfg.TTS.SampleRate, "SALIN_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "SALIN_TTS_CHANNELS")
	overrideBool(&cfg.Assistant.Enabled, "SALIN_ASSISTANT_ENABLED")
	overrideString(&cfg.Assistant.Mode, "SALIN_ASSISTANT_MODE")
	overrideString(&cfg.Assistant.Endpoint, "SALIN_ASSISTANT_ENDPOINT")
	overrideString(&cfg.Assistant.Model, "SALIN_ASSISTANT_MODEL")
	overrideString(&cfg.Assistant.Command, "SALIN_ASSISTANT_COMMAND")
	overrideStringSlice(&cfg.Capability.ProbeAddresses, "SALIN_CAPABILITY_PROBE_ADDRESSES")
	overrideInt(&cfg.Capability.ProbeIntervalMS, "SALIN_CAPABILITY_PROBE_INTERVAL_MS")
	overrideInt(&cfg.Capability.ProbeTimeoutMS, "SALIN_CAPABILITY_PROBE_TIMEOUT_MS")
	overrideString(&cfg.Capability.PlatformOverride, "SALIN_CAPABILITY_PLATFORM_OVERRIDE")
	overrideInt(&cfg.Input.MotionCooldownMS, "SALIN_INPUT_MOTION_COOLDOWN_MS")
	overrideString(&cfg.PhraseCache.Mode, "SALIN_PHRASE_CACHE_MODE")
	overrideString(&cfg.PhraseCache.Path, "SALIN_PHRASE_CACHE_PATH")
	overrideInt(&cfg.PhraseCache.MaxEntries, "SALIN_PHRASE_CACHE_MAX_ENTRIES")
	overrideInt(&cfg.PhraseCache.RetentionDays, "SALIN_PHRASE_CACHE_RETENTION_DAYS")
	overrideBool(&cfg.PhraseCache.VacuumOnStart, "SALIN_PHRASE_CACHE_VACUUM_ON_START")
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

// LanguageCodes returns the configured language codes in declaration order.
func (s SessionConfig) LanguageCodes() []string {
	codes := make([]string, 0, len(s.Languages))
	for _, l := range s.Languages {
		codes = append(codes, l.Code)
	}
	return codes
}

// LanguageName resolves a code to its display name, falling back to the code.
func (s SessionConfig) LanguageName(code string) string {
	for _, l := range s.Languages {
		if l.Code == code {
			return l.Name
		}
	}
	return code
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
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
	if len(cfg.Session.Languages) == 0 {
		return errors.New("session.languages must not be empty")
	}
	codes := map[string]bool{}
	for _, l := range cfg.Session.Languages {
		if l.Code == "" {
			return errors.New("session.languages entries must have a code")
		}
		if l.Code == "auto" {
			return errors.New("session.languages must not include the auto pseudo-code")
		}
		if codes[l.Code] {
			return fmt.Errorf("session.languages contains duplicate code %q", l.Code)
		}
		codes[l.Code] = true
	}
	if cfg.Session.DefaultOutputLanguage != "" && !codes[cfg.Session.DefaultOutputLanguage] {
		return errors.New("session.default_output_language must be a configured language code")
	}
	if !codes[cfg.Session.FallbackLanguage] {
		return errors.New("session.fallback_language must be a configured language code")
	}
	if cfg.Session.SilenceTimeoutMS <= 0 {
		return errors.New("session.silence_timeout_ms must be positive")
	}
	if cfg.Session.InactivityTimeoutMS <= 0 {
		return errors.New("session.inactivity_timeout_ms must be positive")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	if cfg.Capture.FrameDurationMS <= 0 {
		return errors.New("capture.frame_duration_ms must be positive")
	}
	switch cfg.Capture.Mode {
	case "mock", "exec":
	default:
		return errors.New("capture.mode must be one of mock|exec")
	}
	if cfg.Capture.Mode == "exec" && cfg.Capture.Command == "" {
		return errors.New("capture.command must be set when mode=exec")
	}
	if cfg.STT.Enabled {
		switch cfg.STT.Mode {
		case "mock", "exec":
		default:
			return errors.New("stt.mode must be one of mock|exec")
		}
		if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
		if cfg.STT.SampleRate <= 0 {
			return errors.New("stt.sample_rate must be positive")
		}
	}
	switch cfg.Detect.Mode {
	case "heuristic", "exec", "mock":
	default:
		return errors.New("detect.mode must be one of heuristic|exec|mock")
	}
	if cfg.Detect.Mode == "exec" && cfg.Detect.Command == "" {
		return errors.New("detect.command must be set when mode=exec")
	}
	switch cfg.Translate.Mode {
	case "mock", "google", "exec":
	default:
		return errors.New("translate.mode must be one of mock|google|exec")
	}
	if cfg.Translate.Mode == "google" && cfg.Translate.Endpoint == "" {
		return errors.New("translate.endpoint must be set when mode=google")
	}
	if cfg.Translate.Mode == "exec" && cfg.Translate.Command == "" {
		return errors.New("translate.command must be set when mode=exec")
	}
	if cfg.TTS.Enabled {
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
	}
	if cfg.Assistant.Enabled {
		switch cfg.Assistant.Mode {
		case "stub", "ollama", "exec":
		default:
			return errors.New("assistant.mode must be one of stub|ollama|exec")
		}
		if cfg.Assistant.Mode == "ollama" && cfg.Assistant.Endpoint == "" {
			return errors.New("assistant.endpoint must be set when mode=ollama")
		}
		if cfg.Assistant.Mode == "exec" && cfg.Assistant.Command == "" {
			return errors.New("assistant.command must be set when mode=exec")
		}
	}
	if len(cfg.Capability.ProbeAddresses) == 0 {
		return errors.New("capability.probe_addresses must not be empty")
	}
	if cfg.Capability.ProbeIntervalMS <= 0 {
		return errors.New("capability.probe_interval_ms must be positive")
	}
	switch cfg.PhraseCache.Mode {
	case "ephemeral", "persistent":
	default:
		return errors.New("phrase_cache.mode must be one of ephemeral|persistent")
	}
	if cfg.PhraseCache.Mode == "persistent" && cfg.PhraseCache.Path == "" {
		return errors.New("phrase_cache.path must not be empty when persistent")
	}
	if cfg.PhraseCache.RetentionDays < 0 {
		return errors.New("phrase_cache.retention_days must be >= 0")
	}
	return nil
}
