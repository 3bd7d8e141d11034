// Command livescribe captures speech from a microphone or WAV file and prints
// a transcript line for every utterance.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MrWong99/livescribe/internal/app"
	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/pkg/provider/mic"
	"github.com/MrWong99/livescribe/pkg/provider/mic/portaudio"
	"github.com/MrWong99/livescribe/pkg/provider/mic/wavfile"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
	"github.com/MrWong99/livescribe/pkg/provider/stt/deepgram"
	"github.com/MrWong99/livescribe/pkg/provider/stt/openai"
	"github.com/MrWong99/livescribe/pkg/provider/stt/whisper"
	"github.com/MrWong99/livescribe/pkg/provider/vad"
)

const (
	// classifierName is the voice activity classifier registered at startup.
	classifierName = "energy"

	// defaultWhisperURL is where a local whisper.cpp server listens by default.
	defaultWhisperURL = "http://localhost:8080"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "livescribe.yaml", "path to the YAML configuration file (optional)")
	listDevices := flag.Bool("list-devices", false, "print the available input devices and exit")
	interactive := flag.Bool("interactive", false, "prompt for the input device and language")
	device := flag.Int("device", -1, "input device index (negative: system default)")
	language := flag.String("language", "", "recognition language, e.g. en-US or tr-TR")
	file := flag.String("file", "", "transcribe a WAV file instead of a microphone")
	realtime := flag.Bool("realtime", false, "with -file, replay the file at its natural pace")
	flag.Parse()

	if *listDevices {
		return printDevices(os.Stdout)
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, fromFile, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "livescribe: %v\n", err)
		return 1
	}

	// ── Flag overrides ────────────────────────────────────────────────────────
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device":
			if *device >= 0 {
				cfg.Audio.Device = device
			} else {
				cfg.Audio.Device = nil
			}
		case "language":
			cfg.Recognition.Language = *language
		case "file":
			cfg.Audio.File = *file
		}
	})
	if *interactive {
		if err := interactiveSetup(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "livescribe: %v\n", err)
			return 1
		}
	}
	if cfg.Audio.File != "" {
		// Calibrating against a recording would swallow its first second.
		cfg.Audio.Calibration = -1
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "livescribe: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	logger, closeLog, err := newLogger(cfg.Server, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "livescribe: %v\n", err)
		return 1
	}
	defer closeLog()
	slog.SetDefault(logger)

	slog.Info("livescribe starting",
		"config", *configPath,
		"config_loaded", fromFile,
		"language", cfg.Recognition.Language,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Audio backend ─────────────────────────────────────────────────────────
	if cfg.Audio.File == "" {
		terminate, err := portaudio.Initialize()
		if err != nil {
			slog.Error("failed to initialise audio", "err", err)
			return 1
		}
		defer func() {
			if err := terminate(); err != nil {
				slog.Warn("audio terminate error", "err", err)
			}
		}()
	}

	providers, err := buildProviders(cfg, reg, *realtime)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "livescribe"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(telemetry.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithLogger(logger),
		app.WithLogLevel(level),
		app.WithMetrics(metrics),
		app.WithMetricsHandler(telemetry.MetricsHandler()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if fromFile {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig, config.WithWatcherLogger(logger))
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("listening, press Ctrl+C to stop", "session_id", application.SessionID())

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

func interactiveSetup(cfg *config.Config) error {
	if cfg.Audio.File != "" {
		return promptSelections(cfg, os.Stdin, os.Stdout, nil)
	}
	terminate, err := portaudio.Initialize()
	if err != nil {
		return err
	}
	defer terminate()
	return promptSelections(cfg, os.Stdin, os.Stdout, portaudio.Enumerator{})
}

// loadConfig reads path. A missing file yields the defaults so the command
// works without any configuration.
func loadConfig(path string) (cfg *config.Config, fromFile bool, err error) {
	cfg, err = config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterTranscriber("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithDefaultLanguage(lang))
		}
		serverURL := entry.BaseURL
		if serverURL == "" {
			serverURL = defaultWhisperURL
		}
		return whisper.New(serverURL, opts...)
	})

	reg.RegisterTranscriber("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if threads := optInt(entry.Options, "threads"); threads > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(threads)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterTranscriber("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, openai.WithPrompt(prompt))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTranscriber("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithDefaultLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterClassifier(classifierName, func(level vad.Aggressiveness) (vad.Classifier, error) {
		return vad.NewEnergy(level)
	})

	for _, name := range reg.Transcribers() {
		slog.Debug("registered provider", "kind", "stt", "name", name)
	}
}

// buildProviders instantiates the audio source, the classifier and every
// configured transcriber.
func buildProviders(cfg *config.Config, reg *config.Registry, realtime bool) (*app.Providers, error) {
	ps := &app.Providers{}

	listenerOpts := []mic.ListenerOption{mic.WithLogger(slog.Default())}
	if cfg.Audio.File != "" {
		ps.Opener = &wavfile.Opener{
			Path:            cfg.Audio.File,
			Realtime:        realtime,
			ListenerOptions: listenerOpts,
		}
	} else {
		ps.Opener = &portaudio.Opener{
			SampleRate:      cfg.Audio.SampleRate,
			ListenerOptions: listenerOpts,
			Logger:          slog.Default(),
		}
	}

	level := vad.Aggressiveness(config.DefaultVADAggressiveness)
	if cfg.Audio.VADAggressiveness != nil {
		level = vad.Aggressiveness(*cfg.Audio.VADAggressiveness)
	}
	c, err := reg.CreateClassifier(classifierName, level)
	if err != nil {
		return nil, err
	}
	ps.Classifier = c

	entries := append([]config.ProviderEntry{cfg.Providers.STT}, cfg.Providers.STTFallbacks...)
	for _, entry := range entries {
		t, err := reg.CreateTranscriber(entry)
		if err != nil {
			return nil, err
		}
		ps.Transcribers = append(ps.Transcribers, app.NamedTranscriber{Name: entry.Name, Transcriber: t})
		slog.Info("provider created", "kind", "stt", "name", entry.Name)
	}
	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       livescribe: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	input := "(default device)"
	switch {
	case cfg.Audio.File != "":
		input = filepath.Base(cfg.Audio.File)
	case cfg.Audio.Device != nil:
		input = fmt.Sprintf("device #%d", *cfg.Audio.Device)
	}
	printRow("Input", input)
	printRow("Language", cfg.Recognition.Language)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	for _, fb := range cfg.Providers.STTFallbacks {
		printProvider("STT fallback", fb.Name, fb.Model)
	}
	store := "memory"
	if cfg.Store.PostgresDSN != "" {
		store = "postgres"
	}
	printRow("Store", store)
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(key, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", key, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. When cfg.LogDir is set, records are
// also written to a timestamped file there; the returned func closes it.
func newLogger(cfg config.ServerConfig, level *slog.LevelVar) (*slog.Logger, func(), error) {
	var (
		w       io.Writer = os.Stderr
		closeFn           = func() {}
	)
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		name := "livescribe_" + time.Now().Format("2006-01-02-15-04-05") + ".log"
		f, err := os.OpenFile(filepath.Join(cfg.LogDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closeFn = func() { _ = f.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.LogFormat == config.LogJSON {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h), closeFn, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer from a provider Options map. YAML decodes plain
// numbers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
