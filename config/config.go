// Package config handles application configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/text/language"

	"github.com/lingua-live/lingua/inference"
	"github.com/lingua-live/lingua/sequence"
	"github.com/lingua-live/lingua/translate"
	"github.com/lingua-live/lingua/window"
)

const (
	appName        = "lingua"
	configFileName = "config.json"
)

// SampleRate is the pipeline-wide capture rate in Hz. Audio is mono
// float32 throughout.
const SampleRate = 16000

// Config represents the application configuration. All durations are
// plain numbers in the file (seconds or milliseconds, per the key name)
// so the file stays hand-editable.
type Config struct {
	MicDeviceID string `json:"mic_device_id,omitempty"`
	ModelSize   string `json:"model_size"`
	Device      string `json:"device"`
	SourceLang  string `json:"source_lang"`
	TargetLang  string `json:"target_lang"`

	WindowLengthS      float64 `json:"window_length_s"`
	OverlapS           float64 `json:"overlap_s"`
	SilenceThresholdDB float64 `json:"silence_threshold_db"`
	MinSilenceMs       int     `json:"min_silence_ms"`
	MinVoicedMs        int     `json:"min_voiced_ms"`

	QueueDepth          int     `json:"queue_depth"`
	ReorderBound        int     `json:"reorder_bound"`
	TranslationTimeoutS float64 `json:"translation_timeout_s"`
	FallbackConcurrency int     `json:"fallback_concurrency"`

	CachePath     string `json:"cache_path,omitempty"`
	OpenAIAPIKey  string `json:"openai_api_key,omitempty"`
	OpenAIBaseURL string `json:"openai_base_url,omitempty"`
	OpenAIModel   string `json:"openai_model,omitempty"`
}

// Default returns the configuration used when no file exists: an
// English to Hungarian session on the CPU with the small model.
func Default() *Config {
	return &Config{
		ModelSize:           string(inference.SizeSmall),
		Device:              string(inference.DeviceCPU),
		SourceLang:          "en",
		TargetLang:          "hu",
		WindowLengthS:       4,
		OverlapS:            1,
		SilenceThresholdDB:  -40,
		MinSilenceMs:        600,
		MinVoicedMs:         500,
		QueueDepth:          4,
		ReorderBound:        8,
		TranslationTimeoutS: 5,
		FallbackConcurrency: 2,
	}
}

// Load loads configuration from the config file in the user config
// directory. Returns the default config if the file doesn't exist.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, fmt.Errorf("get config path: %w", err)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path. Keys absent from the file
// keep their default values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save persists the configuration to the user config directory.
func (c *Config) Save() error {
	path, err := configPath()
	if err != nil {
		return fmt.Errorf("get config path: %w", err)
	}
	return c.SaveFile(path)
}

// SaveFile persists the configuration to path.
func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the configuration for values the pipeline cannot run
// with.
func (c *Config) Validate() error {
	if !inference.ModelSize(c.ModelSize).Valid() {
		return fmt.Errorf("invalid model size %q", c.ModelSize)
	}
	if !inference.DeviceKind(c.Device).Valid() {
		return fmt.Errorf("invalid device %q", c.Device)
	}
	for _, code := range []string{c.SourceLang, c.TargetLang} {
		if _, err := language.Parse(code); err != nil {
			return fmt.Errorf("invalid language %q: %w", code, err)
		}
	}
	if c.WindowLengthS <= 0 {
		return fmt.Errorf("window length must be positive, got %v", c.WindowLengthS)
	}
	if c.OverlapS < 0 || c.OverlapS >= c.WindowLengthS {
		return fmt.Errorf("overlap %vs must be in [0, window length %vs)", c.OverlapS, c.WindowLengthS)
	}
	if c.QueueDepth <= 0 || c.ReorderBound <= 0 || c.FallbackConcurrency <= 0 {
		return fmt.Errorf("queue depth, reorder bound and fallback concurrency must be positive")
	}
	if c.TranslationTimeoutS <= 0 {
		return fmt.Errorf("translation timeout must be positive, got %v", c.TranslationTimeoutS)
	}
	return nil
}

// Window returns the windower configuration snapshot.
func (c *Config) Window() window.Config {
	return window.Config{
		Rate:               SampleRate,
		Length:             seconds(c.WindowLengthS),
		Overlap:            seconds(c.OverlapS),
		SilenceThresholdDB: c.SilenceThresholdDB,
		MinSilence:         time.Duration(c.MinSilenceMs) * time.Millisecond,
		MinVoiced:          time.Duration(c.MinVoicedMs) * time.Millisecond,
	}
}

// Scheduler returns the inference scheduler configuration snapshot.
func (c *Config) Scheduler() inference.Config {
	return inference.Config{
		Size:         inference.ModelSize(c.ModelSize),
		Device:       inference.DeviceKind(c.Device),
		LanguageHint: c.SourceLang,
		QueueDepth:   c.QueueDepth,
		FailureLimit: 3,
	}
}

// Router returns the translation router configuration snapshot.
func (c *Config) Router() translate.Config {
	return translate.Config{
		TargetLang:  c.TargetLang,
		Concurrency: int64(c.FallbackConcurrency),
		Timeout:     seconds(c.TranslationTimeoutS),
	}
}

// Sequencer returns the result sequencer configuration snapshot.
func (c *Config) Sequencer() sequence.Config {
	cfg := sequence.DefaultConfig()
	cfg.MaxPending = c.ReorderBound
	cfg.TranslationTimeout = seconds(c.TranslationTimeoutS)
	return cfg
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func configPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, configFileName), nil
}
