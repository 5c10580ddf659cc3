// Command hermes is the main entry point for the Hermes live translation
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/hermes/internal/app"
	"github.com/MrWong99/hermes/internal/config"
	"github.com/MrWong99/hermes/internal/observe"
	"github.com/MrWong99/hermes/internal/resilience"
	"github.com/MrWong99/hermes/pkg/provider/stt"
	"github.com/MrWong99/hermes/pkg/provider/stt/deepgram"
	"github.com/MrWong99/hermes/pkg/provider/stt/whisper"
	"github.com/MrWong99/hermes/pkg/provider/translator"
	"github.com/MrWong99/hermes/pkg/provider/translator/anyllm"
	oatranslator "github.com/MrWong99/hermes/pkg/provider/translator/openai"
	"github.com/MrWong99/hermes/pkg/provider/tts"
	"github.com/MrWong99/hermes/pkg/provider/tts/coqui"
	"github.com/MrWong99/hermes/pkg/provider/tts/elevenlabs"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	once := flag.Bool("once", false, "run a single session until the audio source ends, then exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hermes: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hermes: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, level := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("hermes starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"once", *once,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "hermes",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg, logger)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithLogger(logger),
		app.WithLevelVar(level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	if *once {
		err = application.RunOnce(ctx)
	} else {
		watcher, werr := config.NewWatcher(*configPath, func(next *config.Config, d config.ConfigDiff) {
			if err := application.ApplyReload(ctx, next, d); err != nil {
				slog.Error("failed to apply reloaded config", "err", err)
			}
		}, config.WithWatcherLogger(logger))
		if werr != nil {
			slog.Warn("config hot-reload disabled", "err", werr)
		} else {
			defer watcher.Stop()
		}

		slog.Info("server ready, press Ctrl+C to shut down")
		err = application.Run(ctx)
	}
	code := 0
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with Hermes. Used for startup logging.
var builtinProviders = map[string][]string{
	"stt":        {"deepgram", "whisper", "whisper-native"},
	"translator": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":        {"elevenlabs", "coqui"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Translator ────────────────────────────────────────────────────────────

	reg.RegisterTranslator("openai", func(entry config.ProviderEntry) (translator.Provider, error) {
		var opts []oatranslator.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatranslator.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oatranslator.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oatranslator.WithTimeout(d))
		}
		return oatranslator.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining chat backends go through any-llm and share the same
	// pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterTranslator(providerName, func(entry config.ProviderEntry) (translator.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterTranslator("ollama", func(entry config.ProviderEntry) (translator.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if kws := optStrings(entry.Options, "keywords"); len(kws) > 0 {
			opts = append(opts, deepgram.WithKeywords(kws...))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the providers named in cfg and wraps each in a
// circuit-breaking fallback group. Translators form a failover chain in the
// order they are listed.
func buildProviders(cfg *config.Config, reg *config.Registry, log *slog.Logger) (*app.Providers, error) {
	ps := &app.Providers{}
	fallback := func(kind, name string) resilience.FallbackConfig {
		return resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{Name: kind + "/" + name, Logger: log},
			Kind:           kind,
			Metrics:        observe.DefaultMetrics(),
		}
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		ps.STT = resilience.NewSTTFallback(p, name, fallback("stt", name))
		slog.Info("provider created", "kind", "stt", "name", name)
	}

	var chain *resilience.TranslatorFallback
	for i, entry := range cfg.Providers.Translator {
		p, err := reg.CreateTranslator(entry)
		if err != nil {
			return nil, fmt.Errorf("create translator %d %q: %w", i, entry.Name, err)
		}
		if chain == nil {
			chain = resilience.NewTranslatorFallback(p, entry.Name, fallback("translator", entry.Name))
		} else {
			chain.AddFallback(entry.Name, p)
		}
		slog.Info("provider created", "kind", "translator", "name", entry.Name, "position", i)
	}
	if chain != nil {
		ps.Translator = chain
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		ps.TTS = resilience.NewTTSFallback(p, name, fallback("tts", name))
		slog.Info("provider created", "kind", "tts", "name", name)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Hermes : startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	if len(cfg.Providers.Translator) == 0 {
		printProvider("Translator", "", "")
	}
	for _, tr := range cfg.Providers.Translator {
		printProvider("Translator", tr.Name, tr.Model)
	}
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printRow("Languages", cfg.Settings.SourceLanguage+" → "+cfg.Settings.TargetLanguage)
	printRow("Mode", string(cfg.Settings.Mode(cfg.Pipeline.App)))
	printRow("Audio in", string(cfg.Audio.Source))
	printRow("Audio out", string(cfg.Audio.Sink))
	if cfg.Settings.OfflineMode {
		printRow("Offline", "yes")
	}
	if cfg.History.PostgresDSN != "" {
		printRow("History", "postgres")
	} else {
		printRow("History", "(disabled)")
	}
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

func printRow(label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger returns a text logger on stderr whose level can be changed later
// through the returned LevelVar.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(level.SlogLevel())
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optStrings extracts a list of strings from a provider Options map. YAML
// decodes sequences as []any; non-string elements are skipped.
func optStrings(opts map[string]any, key string) []string {
	raw, ok := opts[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// optDuration parses a Go duration string ("10s") from a provider Options
// map. Returns zero when absent or malformed.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
