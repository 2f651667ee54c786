package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Request RequestConfig `yaml:"request"`
	LLM     LLMConfig     `yaml:"llm"`
	TTS     TTSConfig     `yaml:"tts"`
	Walk    WalkConfig    `yaml:"walk"`
	Routing RoutingConfig `yaml:"routing"`
	Audio   AudioConfig   `yaml:"audio"`
	Log     LogConfig     `yaml:"log"`
	History HistoryConfig `yaml:"history"`
	DB      DBConfig      `yaml:"db"`
	Server  ServerConfig  `yaml:"server"`
}

// RequestConfig holds HTTP request settings.
type RequestConfig struct {
	Retries int           `yaml:"retries"`
	Timeout Duration      `yaml:"timeout"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// LLMConfig holds settings for the Large Language Model provider.
type LLMConfig struct {
	Provider string            `yaml:"provider"` // "gemini"
	Model    string            `yaml:"model"`    // default model for unknown intents
	Key      string            `yaml:"key"`      // API Key
	Profiles map[string]string `yaml:"profiles"` // Map of intent -> model

	// Segment narration temperature: base plus bell-curve jitter. Zero base keeps the model default.
	Temperature       float32 `yaml:"temperature"`
	TemperatureJitter float32 `yaml:"temperature_jitter"`

	// PlanThinkingBudget caps reasoning tokens for the protocol plan.
	PlanThinkingBudget int32 `yaml:"plan_thinking_budget"`
}

// TTSConfig holds Text-To-Speech settings.
type TTSConfig struct {
	Engine     string            `yaml:"engine"`      // "gemini", "edge-tts", "azure-speech"
	Model      string            `yaml:"model"`       // speech model
	SampleRate int               `yaml:"sample_rate"` // PCM rate of the returned payload
	Channels   int               `yaml:"channels"`
	Edge       EdgeTTSConfig     `yaml:"edge"`
	Azure      AzureSpeechConfig `yaml:"azure"`
}

// AzureSpeechConfig holds Azure Speech credentials. Empty key and region are
// read from AZURE_SPEECH_KEY and AZURE_SPEECH_REGION.
type AzureSpeechConfig struct {
	Key      string            `yaml:"key"`
	Region   string            `yaml:"region"`
	VoiceMap map[string]string `yaml:"voice_map"` // guardian voice -> Azure voice
}

// EdgeTTSConfig holds the Edge websocket handshake settings.
// Empty fields are read from EDGE_TTS_* environment variables.
type EdgeTTSConfig struct {
	BaseURL            string            `yaml:"base_url"`
	Origin             string            `yaml:"origin"`
	UserAgent          string            `yaml:"user_agent"`
	TrustedClientToken string            `yaml:"trusted_client_token"`
	GECVersion         string            `yaml:"sec_ms_gec_version"`
	VoiceMap           map[string]string `yaml:"voice_map"` // guardian voice -> Edge voice
}

// WalkConfig holds the segment sizing and lookahead policy.
type WalkConfig struct {
	SegmentSeconds    int      `yaml:"segment_seconds"`
	WordsPerMinute    int      `yaml:"words_per_minute"`
	Lookahead         int      `yaml:"lookahead"`
	EndTolerance      Duration `yaml:"end_tolerance"`
	GenerationTimeout Duration `yaml:"generation_timeout"`
	PortraitEnabled   bool     `yaml:"portrait_enabled"`
}

// RoutingConfig holds geocoding and routing endpoints.
type RoutingConfig struct {
	NominatimURL string   `yaml:"nominatim_url"`
	OSRMURL      string   `yaml:"osrm_url"`
	Mode         string   `yaml:"mode"`
	MaxDistance  Distance `yaml:"max_distance"`
	CacheTTL     Duration `yaml:"cache_ttl"`
}

// AudioConfig holds output device settings.
type AudioConfig struct {
	Device     string             `yaml:"device"` // "speaker" or "null" (headless)
	OutputRate int                `yaml:"output_rate"`
	Volume     float64            `yaml:"volume"`
	Effects    AudioEffectsConfig `yaml:"effects"`
}

// AudioEffectsConfig holds optional output coloring.
type AudioEffectsConfig struct {
	Headset    bool    `yaml:"headset"` // radio/earpiece band-pass
	LowCutoff  float64 `yaml:"low_cutoff"`
	HighCutoff float64 `yaml:"high_cutoff"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
	Events   LogSettings `yaml:"events"`
}

// HistoryConfig controls the prompt/speech history files.
type HistoryConfig struct {
	LLM HistorySettings `yaml:"llm"`
	TTS HistorySettings `yaml:"tts"`
}

// HistorySettings holds settings for a single history file.
type HistorySettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Request: RequestConfig{
			Retries: 3,
			Timeout: Duration(60 * time.Second),
			Backoff: BackoffConfig{
				BaseDelay: Duration(500 * time.Millisecond),
				MaxDelay:  Duration(30 * time.Second),
			},
		},
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
			Profiles: map[string]string{
				"plan":     "gemini-3-pro-preview",
				"segment":  "gemini-3-flash-preview",
				"portrait": "gemini-2.5-flash-image",
			},
			Temperature:        1.0,
			TemperatureJitter:  0.2,
			PlanThinkingBudget: 2048,
		},
		TTS: TTSConfig{
			Engine:     "gemini",
			Model:      "gemini-2.5-flash-preview-tts",
			SampleRate: 24000,
			Channels:   1,
			Edge: EdgeTTSConfig{
				VoiceMap: map[string]string{
					"Kore":   "en-US-AvaMultilingualNeural",
					"Puck":   "en-US-AndrewMultilingualNeural",
					"Charon": "en-GB-RyanNeural",
					"Fenrir": "en-US-BrianMultilingualNeural",
				},
			},
			Azure: AzureSpeechConfig{
				VoiceMap: map[string]string{
					"Kore":   "en-US-AvaMultilingualNeural",
					"Puck":   "en-US-AndrewMultilingualNeural",
					"Charon": "en-GB-RyanNeural",
					"Fenrir": "en-US-DavisNeural",
				},
			},
		},
		Walk: WalkConfig{
			SegmentSeconds:    45,
			WordsPerMinute:    140,
			Lookahead:         2,
			EndTolerance:      Duration(500 * time.Millisecond),
			GenerationTimeout: Duration(2 * time.Minute),
			PortraitEnabled:   true,
		},
		Routing: RoutingConfig{
			NominatimURL: "https://nominatim.openstreetmap.org",
			OSRMURL:      "https://router.project-osrm.org",
			Mode:         "walking",
			MaxDistance:  Distance(50000),
			CacheTTL:     Duration(7 * Day),
		},
		Audio: AudioConfig{
			Device:     "speaker",
			OutputRate: 48000,
			Volume:     1.0,
			Effects: AudioEffectsConfig{
				Headset:    false,
				LowCutoff:  400,
				HighCutoff: 3500,
			},
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
			Events: LogSettings{
				Path:  "./logs/events.log",
				Level: "INFO",
			},
		},
		History: HistoryConfig{
			LLM: HistorySettings{Enabled: true, Path: "./logs/gemini.log"},
			TTS: HistorySettings{Enabled: true, Path: "./logs/tts.log"},
		},
		DB: DBConfig{
			Path: "./data/safestep.db",
		},
		Server: ServerConfig{
			Address: "localhost:1921",
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, its values are merged over the defaults; the file itself is left untouched.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv fills secrets from the environment when the file leaves them empty.
// Env values are never written back to disk.
func applyEnv(cfg *Config) {
	if cfg.LLM.Key == "" {
		for _, name := range []string{"GEMINI_API_KEY", "API_KEY"} {
			if key := os.Getenv(name); key != "" {
				cfg.LLM.Key = key
				break
			}
		}
	}

	edge := &cfg.TTS.Edge
	for _, f := range []struct {
		dst  *string
		name string
	}{
		{&edge.BaseURL, "EDGE_TTS_BASE_URL"},
		{&edge.Origin, "EDGE_TTS_ORIGIN"},
		{&edge.UserAgent, "EDGE_TTS_USER_AGENT"},
		{&edge.TrustedClientToken, "EDGE_TTS_TRUSTED_CLIENT_TOKEN"},
		{&edge.GECVersion, "EDGE_TTS_SEC_MS_GEC_VERSION"},
		{&cfg.TTS.Azure.Key, "AZURE_SPEECH_KEY"},
		{&cfg.TTS.Azure.Region, "AZURE_SPEECH_REGION"},
	} {
		if *f.dst == "" {
			*f.dst = os.Getenv(f.name)
		}
	}
}

// Validate checks values that would otherwise surface as confusing runtime failures.
func (c *Config) Validate() error {
	if c.Walk.SegmentSeconds <= 0 {
		return fmt.Errorf("walk.segment_seconds must be positive, got %d", c.Walk.SegmentSeconds)
	}
	if c.Walk.WordsPerMinute <= 0 {
		return fmt.Errorf("walk.words_per_minute must be positive, got %d", c.Walk.WordsPerMinute)
	}
	if c.Walk.Lookahead < 1 {
		return fmt.Errorf("walk.lookahead must be at least 1, got %d", c.Walk.Lookahead)
	}
	if c.TTS.SampleRate <= 0 || c.TTS.Channels <= 0 {
		return fmt.Errorf("tts.sample_rate and tts.channels must be positive")
	}
	if c.LLM.Provider != "gemini" {
		return fmt.Errorf("invalid llm.provider '%s': only gemini is supported", c.LLM.Provider)
	}
	switch c.TTS.Engine {
	case "gemini", "edge-tts", "azure-speech":
	default:
		return fmt.Errorf("invalid tts.engine '%s': must be gemini, edge-tts or azure-speech", c.TTS.Engine)
	}
	if c.Audio.Device != "speaker" && c.Audio.Device != "null" {
		return fmt.Errorf("invalid audio.device '%s': must be speaker or null", c.Audio.Device)
	}
	if !isValidMode(c.Routing.Mode) {
		return fmt.Errorf("invalid routing.mode '%s': must be one of walking, cycling, driving", c.Routing.Mode)
	}
	return nil
}

func isValidMode(s string) bool {
	matched, _ := regexp.MatchString(`^(walking|cycling|driving)$`, s)
	return matched
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# SafeStep Configuration
# ----------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
#   Distance: m (meters), km (kilometers), mi (miles)

`)
	data = append(header, data...)

	reEngine := regexp.MustCompile(`(?m)^(\s+)engine:`)
	data = reEngine.ReplaceAll(data, []byte("${1}# Options: gemini, edge-tts, azure-speech\n${1}engine:"))

	reDevice := regexp.MustCompile(`(?m)^(\s+)device:`)
	data = reDevice.ReplaceAll(data, []byte("${1}# Options: speaker, null (no sound card)\n${1}device:"))

	reMode := regexp.MustCompile(`(?m)^(\s+)mode:`)
	data = reMode.ReplaceAll(data, []byte("${1}# Options: walking, cycling, driving\n${1}mode:"))

	reLookahead := regexp.MustCompile(`(?m)^(\s+)lookahead:`)
	data = reLookahead.ReplaceAll(data, []byte("${1}# Segments kept buffered ahead of the one playing\n${1}lookahead:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
