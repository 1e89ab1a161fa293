// Command uttermon listens to the microphone, cuts the audio into utterances
// at pauses and prints a transcript line for each one.
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
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/uttermon/internal/app"
	"github.com/MrWong99/uttermon/internal/config"
	"github.com/MrWong99/uttermon/internal/observe"
	"github.com/MrWong99/uttermon/internal/resilience"
	"github.com/MrWong99/uttermon/pkg/audio"
	"github.com/MrWong99/uttermon/pkg/audio/portaudio"
	"github.com/MrWong99/uttermon/pkg/provider/stt"
	sttopenai "github.com/MrWong99/uttermon/pkg/provider/stt/openai"
	"github.com/MrWong99/uttermon/pkg/provider/stt/whisper"
	"github.com/MrWong99/uttermon/pkg/provider/vad"
	"github.com/MrWong99/uttermon/pkg/provider/vad/energy"
	"github.com/MrWong99/uttermon/pkg/provider/vad/webrtc"
)

// version is set at build time via -ldflags.
var version = "dev"

const defaultConfigPath = "config.yaml"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	model := flag.String("model", "", "the size of the whisper model to use: "+strings.Join(whisper.ModelSizes, "|"))
	logLevel := flag.String("log-level", "", "override server.log_level (debug|info|warn|error)")
	flag.Parse()

	if *model != "" && !slices.Contains(whisper.ModelSizes, *model) {
		fmt.Fprintf(os.Stderr, "uttermon: -model %q is invalid; valid values: %s\n", *model, strings.Join(whisper.ModelSizes, ", "))
		return 2
	}
	if *logLevel != "" && !config.LogLevel(*logLevel).IsValid() {
		fmt.Fprintf(os.Stderr, "uttermon: -log-level %q is invalid\n", *logLevel)
		return 2
	}
	overrides := func(cfg *config.Config) {
		if *model != "" && cfg.Providers.STT.Name == config.DefaultSTTProvider {
			cfg.Providers.STT.Model = *model
		}
		if *logLevel != "" {
			cfg.Server.LogLevel = config.LogLevel(*logLevel)
		}
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, fromFile, err := loadConfig(*configPath, flagSet("config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "uttermon: %v\n", err)
		return 1
	}
	overrides(cfg)

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(levelVar))

	slog.Info("uttermon starting",
		"version", version,
		"config", configSource(*configPath, fromFile),
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(cfg, providers, app.WithLevelVar(levelVar))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		closeAll(providers.Closers)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if fromFile {
		w, err := config.NewWatcher(*configPath, application.Reload, config.WithTransform(overrides))
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("listening, press Ctrl+C to stop")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, audio.ErrDeviceOpen) {
			slog.Error("cannot capture audio", "err", err)
		} else {
			slog.Error("run error", "err", err)
		}
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…", "transcribed", application.Stats().Published)
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// loadConfig reads path. A missing file is only an error when the path was
// given explicitly; otherwise the built-in defaults are used.
func loadConfig(path string, explicit bool) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	switch {
	case err == nil:
		return cfg, true, nil
	case errors.Is(err, os.ErrNotExist) && !explicit:
		return config.Default(), false, nil
	case errors.Is(err, os.ErrNotExist):
		return nil, false, fmt.Errorf("config file %q not found", path)
	default:
		return nil, false, err
	}
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func configSource(path string, fromFile bool) string {
	if fromFile {
		return path
	}
	return "(defaults)"
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(_ config.ProviderEntry, ac config.AudioConfig) (audio.Source, error) {
		return portaudio.New(portaudio.Config{
			SampleRate: ac.SampleRate,
			BlockSize:  ac.BlockSize,
			QueueSize:  ac.QueueSize,
			Device:     ac.Device,
		}), nil
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("webrtc", func(config.ProviderEntry) (vad.Engine, error) {
		return webrtc.New(), nil
	})

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []energy.Option
		if th := entry.OptionFloat("threshold", 0); th > 0 {
			opts = append(opts, energy.WithThreshold(th))
		}
		return energy.New(opts...), nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		path, err := whisper.ModelPath(entry.OptionString("model_dir", "models"), entry.Model)
		if err != nil {
			return nil, err
		}
		var opts []whisper.NativeOption
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := entry.OptionInt("threads", 0); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(path, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptionString("organization", ""); org != "" {
			opts = append(opts, sttopenai.WithOrganization(org))
		}
		apiKey := entry.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return sttopenai.New(apiKey, entry.Model, opts...)
	})

	for _, kind := range []string{"audio", "vad", "stt"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates all providers named in cfg using the registry.
// The STT backends are wrapped in a circuit-breaking failover group.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	src, err := reg.CreateAudio(cfg.Providers.Audio, cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("create audio provider %q: %w", cfg.Providers.Audio.Name, err)
	}
	ps.Audio = src
	slog.Info("provider created", "kind", "audio", "name", cfg.Providers.Audio.Name)

	engine, err := reg.CreateVAD(cfg.Providers.VAD)
	if err != nil {
		return nil, fmt.Errorf("create vad provider %q: %w", cfg.Providers.VAD.Name, err)
	}
	ps.VAD = engine
	slog.Info("provider created", "kind", "vad", "name", cfg.Providers.VAD.Name)

	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("stt circuit breaker state changed", "provider", name, "from", from, "to", to)
			},
		},
	}
	var group *resilience.STTFallback
	for i, entry := range append([]config.ProviderEntry{cfg.Providers.STT}, cfg.Providers.STTFallbacks...) {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			closeAll(ps.Closers)
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		if c, ok := p.(io.Closer); ok {
			ps.Closers = append(ps.Closers, c)
		}
		name := entry.Name
		if i > 0 {
			name = fmt.Sprintf("%s#%d", entry.Name, i)
		}
		if group == nil {
			group = resilience.NewSTTFallback(p, name, fbCfg)
		} else {
			group.AddFallback(name, p)
		}
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "model", entry.Model, "fallback", i > 0)
	}
	ps.STT = group
	ps.STTName = cfg.Providers.STT.Name

	return ps, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			slog.Warn("close provider", "err", err)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        uttermon — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Audio", fmt.Sprintf("%s %d Hz", cfg.Providers.Audio.Name, cfg.Audio.SampleRate))
	printRow("VAD", fmt.Sprintf("%s %d ms", cfg.Providers.VAD.Name, cfg.VAD.WindowMs))
	printRow("STT", providerLabel(cfg.Providers.STT))
	printRow("Fallbacks", fmt.Sprint(len(cfg.Providers.STTFallbacks)))
	printRow("Task", cfg.Transcription.Task)
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	} else {
		printRow("Listen addr", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + " / " + e.Model
}

func printRow(label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
