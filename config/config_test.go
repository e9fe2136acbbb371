package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.TargetLang != "hu" || cfg.SourceLang != "en" {
		t.Errorf("default languages = %s -> %s, want en -> hu", cfg.SourceLang, cfg.TargetLang)
	}
	if cfg.WindowLengthS != 4 || cfg.OverlapS != 1 {
		t.Errorf("default window = %v/%v, want 4/1", cfg.WindowLengthS, cfg.OverlapS)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")

	cfg := Default()
	cfg.MicDeviceID = "usb-mic-3"
	cfg.ModelSize = "medium"
	cfg.WindowLengthS = 6
	cfg.OverlapS = 1.5
	if err := cfg.SaveFile(path); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got.MicDeviceID != "usb-mic-3" || got.ModelSize != "medium" {
		t.Errorf("got %+v", got)
	}
	if got.WindowLengthS != 6 || got.OverlapS != 1.5 {
		t.Errorf("window = %v/%v, want 6/1.5", got.WindowLengthS, got.OverlapS)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"unknown model size", func(c *Config) { c.ModelSize = "enormous" }, true},
		{"unknown device", func(c *Config) { c.Device = "tpu" }, true},
		{"bad language", func(c *Config) { c.TargetLang = "no-such-lang!" }, true},
		{"overlap at window length", func(c *Config) { c.OverlapS = c.WindowLengthS }, true},
		{"negative overlap", func(c *Config) { c.OverlapS = -1 }, true},
		{"zero window", func(c *Config) { c.WindowLengthS = 0 }, true},
		{"zero queue depth", func(c *Config) { c.QueueDepth = 0 }, true},
		{"regional language tag", func(c *Config) { c.SourceLang = "en-US" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSnapshotDurations(t *testing.T) {
	cfg := Default()
	cfg.WindowLengthS = 4
	cfg.OverlapS = 1
	cfg.TranslationTimeoutS = 5

	if got := cfg.Window().Length; got != 4*time.Second {
		t.Errorf("window length = %v", got)
	}
	if got := cfg.Window().Overlap; got != time.Second {
		t.Errorf("overlap = %v", got)
	}
	if got := cfg.Router().Timeout; got != 5*time.Second {
		t.Errorf("router timeout = %v", got)
	}
	if got := cfg.Sequencer().MaxPending; got != cfg.ReorderBound {
		t.Errorf("max pending = %d, want %d", got, cfg.ReorderBound)
	}
}
