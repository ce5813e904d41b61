package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-padel/internal/score"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	// StdoutTraces pretty-prints spans when no OTLP endpoint is set.
	StdoutTraces bool `yaml:"stdout_traces"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
	// AllowedOrigins lists browser origins that may open the score stream.
	// Empty means same host only; "*" allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Match       MatchConfig      `yaml:"match"`
	Narration   NarrationConfig  `yaml:"narration"`
	Voice       VoiceConfig      `yaml:"voice"`
	Announcer   AnnouncerConfig  `yaml:"announcer"`
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

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxMatches    int    `yaml:"max_matches"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// MatchConfig is the initial rule set; it can be changed at runtime.
type MatchConfig struct {
	Rule66             string `yaml:"rule66"`
	DeuceMode          string `yaml:"deuce_mode"`
	SetsToWin          int    `yaml:"sets_to_win"`
	ProSetFirstToEight bool   `yaml:"pro_set_first_to_eight"`
}

type NarrationConfig struct {
	Locale   string `yaml:"locale"`
	TeamUs   string `yaml:"team_us"`
	TeamThem string `yaml:"team_them"`
}

type VoiceConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Voice            string        `yaml:"voice"`
	Target           string        `yaml:"target"`
	RequestTimeoutMS int           `yaml:"request_timeout_ms"`
	Phrases          PhrasesConfig `yaml:"phrases"`
}

// PhrasesConfig lists the spoken commands recognized for each intent.
type PhrasesConfig struct {
	PointUs   []string `yaml:"point_us"`
	PointThem []string `yaml:"point_them"`
	Undo      []string `yaml:"undo"`
	Reset     []string `yaml:"reset"`
}

// AnnouncerConfig controls how tts.request messages are voiced. An empty
// command logs the text instead.
type AnnouncerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Command   string `yaml:"command"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-padel",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/padel-events.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxMatches:    1000,
		},
		Match: MatchConfig{
			Rule66:    string(score.RuleTieBreak),
			DeuceMode: string(score.DeuceImmediateKiller),
		},
		Narration: NarrationConfig{
			Locale: "en-US",
		},
		Voice: VoiceConfig{
			Enabled:          true,
			Voice:            "en-US",
			Target:           "default",
			RequestTimeoutMS: 2000,
			Phrases: PhrasesConfig{
				PointUs:   []string{"point blue", "punto blu"},
				PointThem: []string{"point red", "punto rosso"},
				Undo:      []string{"undo", "annulla"},
				Reset:     []string{"reset"},
			},
		},
		Announcer: AnnouncerConfig{
			Enabled:   true,
			TimeoutMS: 10000,
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

// Rules converts the match section into scoring rules.
func (m MatchConfig) Rules() (score.MatchConfig, error) {
	rule, err := score.ParseRule66(m.Rule66)
	if err != nil {
		return score.MatchConfig{}, fmt.Errorf("match.%w", err)
	}
	mode, err := score.ParseDeuceMode(m.DeuceMode)
	if err != nil {
		return score.MatchConfig{}, fmt.Errorf("match.%w", err)
	}
	rules := score.MatchConfig{
		Rule66:             rule,
		DeuceMode:          mode,
		SetsToWin:          m.SetsToWin,
		ProSetFirstToEight: m.ProSetFirstToEight,
	}
	if err := rules.Validate(); err != nil {
		return score.MatchConfig{}, fmt.Errorf("match.%w", err)
	}
	return rules, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "PADEL_RUNTIME_NAME")
	overrideString(&cfg.Environment, "PADEL_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PADEL_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PADEL_HTTP_PORT")
	overrideStringSlice(&cfg.HTTP.AllowedOrigins, "PADEL_HTTP_ALLOWED_ORIGINS")
	overrideString(&cfg.Telemetry.LogLevel, "PADEL_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PADEL_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PADEL_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "PADEL_TELEMETRY_STDOUT_TRACES")
	overrideBool(&cfg.Bus.Enabled, "PADEL_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "PADEL_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "PADEL_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "PADEL_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "PADEL_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "PADEL_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "PADEL_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "PADEL_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "PADEL_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "PADEL_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "PADEL_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "PADEL_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "PADEL_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxMatches, "PADEL_EVENT_STORE_MAX_MATCHES")
	overrideBool(&cfg.EventStore.VacuumOnStart, "PADEL_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Match.Rule66, "PADEL_MATCH_RULE66")
	overrideString(&cfg.Match.DeuceMode, "PADEL_MATCH_DEUCE_MODE")
	overrideInt(&cfg.Match.SetsToWin, "PADEL_MATCH_SETS_TO_WIN")
	overrideBool(&cfg.Match.ProSetFirstToEight, "PADEL_MATCH_PRO_SET_FIRST_TO_EIGHT")
	overrideString(&cfg.Narration.Locale, "PADEL_NARRATION_LOCALE")
	overrideString(&cfg.Narration.TeamUs, "PADEL_NARRATION_TEAM_US")
	overrideString(&cfg.Narration.TeamThem, "PADEL_NARRATION_TEAM_THEM")
	overrideBool(&cfg.Voice.Enabled, "PADEL_VOICE_ENABLED")
	overrideString(&cfg.Voice.Voice, "PADEL_VOICE_VOICE")
	overrideString(&cfg.Voice.Target, "PADEL_VOICE_TARGET")
	overrideInt(&cfg.Voice.RequestTimeoutMS, "PADEL_VOICE_REQUEST_TIMEOUT_MS")
	overrideStringSlice(&cfg.Voice.Phrases.PointUs, "PADEL_VOICE_PHRASES_POINT_US")
	overrideStringSlice(&cfg.Voice.Phrases.PointThem, "PADEL_VOICE_PHRASES_POINT_THEM")
	overrideStringSlice(&cfg.Voice.Phrases.Undo, "PADEL_VOICE_PHRASES_UNDO")
	overrideStringSlice(&cfg.Voice.Phrases.Reset, "PADEL_VOICE_PHRASES_RESET")
	overrideBool(&cfg.Announcer.Enabled, "PADEL_ANNOUNCER_ENABLED")
	overrideString(&cfg.Announcer.Command, "PADEL_ANNOUNCER_COMMAND")
	overrideInt(&cfg.Announcer.TimeoutMS, "PADEL_ANNOUNCER_TIMEOUT_MS")
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
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
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
	switch cfg.EventStore.RetentionMode {
	case "ephemeral":
	case "session", "persistent":
		if cfg.EventStore.Path == "" {
			return errors.New("event_store.path must not be empty")
		}
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if _, err := cfg.Match.Rules(); err != nil {
		return err
	}
	if cfg.Voice.Enabled {
		if !cfg.Bus.Enabled {
			return errors.New("voice requires bus.enabled")
		}
		p := cfg.Voice.Phrases
		if len(p.PointUs) == 0 || len(p.PointThem) == 0 {
			return errors.New("voice.phrases.point_us and point_them must not be empty")
		}
		if cfg.Voice.RequestTimeoutMS <= 0 {
			return errors.New("voice.request_timeout_ms must be positive")
		}
	}
	if cfg.Announcer.Enabled {
		if !cfg.Bus.Enabled {
			return errors.New("announcer requires bus.enabled")
		}
		if cfg.Announcer.TimeoutMS <= 0 {
			return errors.New("announcer.timeout_ms must be positive")
		}
	}
	return nil
}
