package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lingua-live/lingua/audiocapture"
	"github.com/lingua-live/lingua/cache"
	"github.com/lingua-live/lingua/config"
	"github.com/lingua-live/lingua/inference"
	"github.com/lingua-live/lingua/internal/types"
	"github.com/lingua-live/lingua/session"
	"github.com/lingua-live/lingua/translate"
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(devicesCmd)

	rootCmd.PersistentFlags().String("config", "", "Path to config file")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	runCmd.Flags().String("device", "", "Capture device id")
	runCmd.Flags().String("model-size", "", "Speech model size (tiny, base, small, medium, large)")
	runCmd.Flags().String("source-lang", "", "Expected source language")
	runCmd.Flags().String("target-lang", "", "Translation target language")
	runCmd.Flags().String("openai-api-key", "", "API key for the fallback translation service")
	runCmd.Flags().String("cache-path", "", "Directory for the translation cache")

	viper.BindPFlag("mic_device_id", runCmd.Flags().Lookup("device"))
	viper.BindPFlag("model_size", runCmd.Flags().Lookup("model-size"))
	viper.BindPFlag("source_lang", runCmd.Flags().Lookup("source-lang"))
	viper.BindPFlag("target_lang", runCmd.Flags().Lookup("target-lang"))
	viper.BindPFlag("openai_api_key", runCmd.Flags().Lookup("openai-api-key"))
	viper.BindPFlag("cache_path", runCmd.Flags().Lookup("cache-path"))
}

func initConfig() {
	viper.SetEnvPrefix("lingua")
	viper.AutomaticEnv()

	level := slog.LevelInfo
	if verbose, _ := rootCmd.PersistentFlags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})))
}

var rootCmd = &cobra.Command{
	Use:   "lingua",
	Short: "Live microphone transcription and translation",
	Long:  "Lingua captures microphone audio, transcribes it in near real time and translates it between English and Hungarian.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a live translation session",
	RunE:  runSession,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available capture sources",
	Run: func(cmd *cobra.Command, args []string) {
		for _, id := range builtinSources() {
			fmt.Println(id)
		}
	},
}

// builtinSources are the synthetic capture devices always available.
// Platform microphone providers register real devices alongside these.
func builtinSources() []string {
	return []string{"sine", "silence"}
}

func newProvider() audiocapture.DeviceProvider {
	p := audiocapture.NewMemoryProvider()
	p.Register("sine", func() audiocapture.Device {
		return audiocapture.SineDevice(440, config.SampleRate, 30*time.Second)
	})
	p.Register("silence", func() audiocapture.Device {
		return audiocapture.NewMemoryDevice(
			make([]float32, config.SampleRate*30), config.SampleRate, 1024, true)
	})
	return p
}

func loadConfig() (*config.Config, error) {
	path, _ := rootCmd.PersistentFlags().GetString("config")
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	// Flags and environment override the file.
	for key, set := range map[string]func(string){
		"mic_device_id":  func(v string) { cfg.MicDeviceID = v },
		"model_size":     func(v string) { cfg.ModelSize = v },
		"source_lang":    func(v string) { cfg.SourceLang = v },
		"target_lang":    func(v string) { cfg.TargetLang = v },
		"openai_api_key": func(v string) { cfg.OpenAIAPIKey = v },
		"cache_path":     func(v string) { cfg.CachePath = v },
	} {
		if v := viper.GetString(key); v != "" {
			set(v)
		}
	}
	if cfg.MicDeviceID == "" {
		cfg.MicDeviceID = "sine"
	}
	return cfg, cfg.Validate()
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := session.Options{
		Provider: newProvider(),
		Loader:   &inference.StubLoader{},
	}
	if cfg.OpenAIAPIKey != "" {
		opts.Fallback = translate.NewOpenAIService(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	}
	if cfg.CachePath != "" {
		store, err := cache.New(cfg.CachePath)
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Store = store
	}

	s, err := session.New(cfg, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Stop()

	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return nil
			}
			printEvent(ev)
		case err := <-s.Fatal():
			return fmt.Errorf("session failed: %w", err)
		case <-ctx.Done():
			return nil
		}
	}
}

func printEvent(ev types.DisplayEvent) {
	prefix := fmt.Sprintf("[%6.1fs %6.1fs]", ev.Start.Seconds(), ev.End.Seconds())
	if ev.Correction {
		prefix += " (corrected)"
	}
	switch ev.Status {
	case types.StatusOK:
		fmt.Printf("%s %s\n%*s %s\n", prefix, ev.SourceText, len(prefix), "→", ev.TranslatedText)
	case types.StatusTranslationSkipped:
		fmt.Printf("%s %s\n", prefix, ev.SourceText)
	case types.StatusTranslationPending:
		fmt.Printf("%s %s\n%*s (translating)\n", prefix, ev.SourceText, len(prefix), "→")
	default:
		fmt.Printf("%s %s\n%*s (translation unavailable)\n", prefix, ev.SourceText, len(prefix), "→")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
