// Package app wires all Hermes subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and starts the pipeline when configured to,
// and Shutdown tears everything down in order. One translation session runs
// at a time; see [SessionManager].
//
// For testing, inject mock implementations via functional options
// (WithSource, WithSink, WithHistory, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/hermes/internal/config"
	"github.com/MrWong99/hermes/internal/health"
	"github.com/MrWong99/hermes/internal/history"
	"github.com/MrWong99/hermes/internal/observe"
	"github.com/MrWong99/hermes/internal/overlay"
	"github.com/MrWong99/hermes/internal/pipeline"
	"github.com/MrWong99/hermes/internal/recognize"
	"github.com/MrWong99/hermes/internal/speech"
	"github.com/MrWong99/hermes/internal/transcript/phonetic"
	"github.com/MrWong99/hermes/internal/translate"
	"github.com/MrWong99/hermes/pkg/audio"
	"github.com/MrWong99/hermes/pkg/audio/discord"
	"github.com/MrWong99/hermes/pkg/audio/wsaudio"
	"github.com/MrWong99/hermes/pkg/display"
	"github.com/MrWong99/hermes/pkg/display/logsink"
	"github.com/MrWong99/hermes/pkg/display/wsoverlay"
	"github.com/MrWong99/hermes/pkg/provider/stt"
	"github.com/MrWong99/hermes/pkg/provider/translator"
	"github.com/MrWong99/hermes/pkg/provider/tts"
)

// ErrNoRecognizer is returned when a session is started without a speech
// recognition provider.
var ErrNoRecognizer = errors.New("app: no speech recognition provider configured")

// historyCloseTimeout bounds the flush of a session's history recorder.
const historyCloseTimeout = 5 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry;
// Translator is usually a failover chain.
type Providers struct {
	STT        stt.Provider
	Translator translator.Provider
	TTS        tts.Provider
}

// HistoryStore is the translation log. [history.Store] implements it.
type HistoryStore interface {
	history.Appender
	Search(ctx context.Context, q history.Query) ([]history.Entry, error)
	Ping(ctx context.Context) error
}

// App owns all subsystem lifetimes and orchestrates the Hermes pipeline.
type App struct {
	providers *Providers
	metrics   *observe.Metrics
	log       *slog.Logger
	level     *slog.LevelVar

	// mu guards cfg and the gateways, which are rebuilt by ApplyConfig.
	mu         sync.RWMutex
	cfg        *config.Config
	translator *translate.Gateway
	recognizer *recognize.Gateway

	// applyMu serializes ApplyConfig.
	applyMu sync.Mutex

	// Subsystems, initialised in New and torn down in Shutdown.
	source   audio.Source
	sink     audio.Sink
	display  display.Sink
	hub      *wsoverlay.Hub
	wsAudio  *wsaudio.Server
	dsession *discordgo.Session
	voice    *discord.Voice
	overlay  *overlay.Controller
	synth    *speech.StreamSynthesizer
	queue    *speech.Queue
	history  HistoryStore
	sessions *SessionManager
	health   *health.Handler
	handler  http.Handler

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects the capture source instead of building one from
// audio.source.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithSink injects the speech sink instead of building one from audio.sink.
func WithSink(s audio.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithDisplay injects the overlay display instead of the websocket hub.
func WithDisplay(d display.Sink) Option {
	return func(a *App) { a.display = d }
}

// WithHistory injects the translation log instead of connecting to
// history.postgres_dsn.
func WithHistory(h HistoryStore) Option {
	return func(a *App) { a.history = h }
}

// WithMetrics sets the metrics instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets ApplyConfig change the log level of the process logger.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// On error every subsystem created so far is closed again.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.init(ctx); err != nil {
		a.runClosers()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.cfg

	// ── 1. Overlay ───────────────────────────────────────────────────────
	a.initDisplay()

	// ── 2. Audio source and sink ─────────────────────────────────────────
	if err := a.initAudio(); err != nil {
		return fmt.Errorf("app: init audio: %w", err)
	}

	// ── 3. Speech queue ──────────────────────────────────────────────────
	a.initSpeech()

	// ── 4. Gateways ──────────────────────────────────────────────────────
	tr, err := a.buildTranslator(cfg)
	if err != nil {
		return fmt.Errorf("app: init translator: %w", err)
	}
	a.translator = tr
	a.recognizer = a.buildRecognizer(cfg)

	// ── 5. History ───────────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return fmt.Errorf("app: init history: %w", err)
	}

	// ── 6. Sessions, health, routes ──────────────────────────────────────
	a.sessions = NewSessionManager(a.newRun, a.log)
	a.initHealth()
	a.handler = a.routes()
	return nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initDisplay sets up the websocket overlay hub, mirrored to the log, and
// the overlay controller in front of it.
func (a *App) initDisplay() {
	if a.display == nil {
		a.hub = wsoverlay.New(
			wsoverlay.WithOriginPatterns(a.cfg.Server.OriginPatterns...),
			wsoverlay.WithLogger(a.log),
		)
		a.closers = append(a.closers, a.hub.Close)
		a.display = display.Multi{a.hub, logsink.New(a.log)}
	}
	a.overlay = overlay.New(a.display,
		overlay.WithHideAfter(time.Duration(a.cfg.Overlay.HideAfterMs)*time.Millisecond),
		overlay.WithMetrics(a.metrics),
		overlay.WithLogger(a.log),
	)
	a.closers = append(a.closers, func() error {
		a.overlay.Close()
		return nil
	})
}

// initSpeech creates the speech queue when a TTS provider is configured.
func (a *App) initSpeech() {
	if a.providers.TTS == nil {
		a.log.Info("app: no tts provider, translations will not be spoken")
		return
	}
	a.synth = speech.NewStreamSynthesizer(a.providers.TTS, a.sink, voiceProfile(a.cfg.Settings))
	a.queue = speech.NewQueue(a.synth,
		speech.WithFocus(speech.NewExclusiveFocus()),
		speech.WithMetrics(a.metrics),
		speech.WithLogger(a.log),
	)
	a.closers = append(a.closers, func() error {
		a.queue.Close()
		return nil
	})
}

// initHistory connects the translation log when a DSN is configured.
func (a *App) initHistory(ctx context.Context) error {
	if a.history != nil || a.cfg.History.PostgresDSN == "" {
		return nil
	}
	store, err := history.NewStore(ctx, a.cfg.History.PostgresDSN)
	if err != nil {
		return err
	}
	a.history = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

func (a *App) initHealth() {
	translatorReady := health.Ready("translator", readyFunc(func() bool {
		a.mu.RLock()
		defer a.mu.RUnlock()
		return a.cfg.Settings.OfflineMode || a.translator.Ready()
	}))
	translatorReady.Optional = a.providers.Translator == nil

	running := health.Running("pipeline", func() health.Runner {
		if p := a.sessions.Pipeline(); p != nil {
			return p
		}
		return nil
	})
	running.Optional = true

	checkers := []health.Checker{translatorReady, running}
	if a.history != nil {
		checkers = append(checkers, health.Ping("history", a.history.Ping))
	}
	a.health = health.New(checkers...)
}

// buildTranslator creates the translation gateway for cfg. Offline mode
// leaves the backend out.
func (a *App) buildTranslator(cfg *config.Config) (*translate.Gateway, error) {
	var backend translator.Provider
	if !cfg.Settings.OfflineMode {
		backend = a.providers.Translator
	}
	opts := []translate.Option{
		translate.WithCapacity(cfg.Translation.CacheCapacity),
		translate.WithLanguages(cfg.Settings.SourceLanguage, cfg.Settings.TargetLanguage),
		translate.WithMetrics(a.metrics),
		translate.WithLogger(a.log),
	}
	if cfg.Translation.DisableBuiltinPhrases {
		opts = append(opts, translate.WithoutBuiltinPhrases())
	}
	for lang, phrases := range cfg.Translation.Phrases {
		opts = append(opts, translate.WithPhrases(lang, phrases))
	}
	return translate.New(backend, opts...)
}

// buildRecognizer creates the recognition gateway for cfg, or nil without
// an STT provider.
func (a *App) buildRecognizer(cfg *config.Config) *recognize.Gateway {
	if a.providers.STT == nil {
		return nil
	}
	opts := []recognize.Option{
		recognize.WithMinChars(cfg.Recognition.MinChars),
		recognize.WithLanguage(cfg.Settings.SourceLanguage),
		recognize.WithMetrics(a.metrics),
		recognize.WithLogger(a.log),
	}
	if len(cfg.Recognition.Glossary) > 0 {
		opts = append(opts, recognize.WithCorrector(phonetic.New(cfg.Recognition.Glossary)))
	}
	return recognize.New(a.providers.STT, opts...)
}

// newRun is the [RunFactory] of the session manager.
func (a *App) newRun(id string, pc pipeline.Config) (*pipeline.Pipeline, func(), error) {
	a.mu.RLock()
	cfg, tr, rec := a.cfg, a.translator, a.recognizer
	a.mu.RUnlock()
	if rec == nil {
		return nil, nil, ErrNoRecognizer
	}

	deps := pipeline.Deps{
		Source:     a.source,
		Recognizer: rec,
		Translator: tr,
		Overlay:    a.overlay,
	}
	if a.queue != nil {
		deps.Queue = a.queue
	}

	var cleanup func()
	if a.history != nil {
		r := history.NewRecorder(a.history,
			history.WithSessionID(id),
			history.WithQueueSize(cfg.History.QueueSize),
			history.WithLogger(a.log),
		)
		deps.Recorder = r
		cleanup = func() {
			ctx, cancel := context.WithTimeout(context.Background(), historyCloseTimeout)
			defer cancel()
			if err := r.Close(ctx); err != nil {
				a.log.Warn("app: history flush incomplete", "session_id", id, "err", err)
			}
		}
	}

	opts := []pipeline.Option{
		pipeline.WithID(id),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(a.log),
	}
	if n := cfg.Pipeline.MaxInFlight; n > 0 {
		opts = append(opts, pipeline.WithMaxInFlight(n))
	}
	if n := cfg.Pipeline.MaxBacklog; n > 0 {
		opts = append(opts, pipeline.WithMaxBacklog(n))
	}
	if n := cfg.Pipeline.MaxReadErrors; n > 0 {
		opts = append(opts, pipeline.WithMaxReadErrors(n))
	}
	p, err := pipeline.New(pc, deps, opts...)
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		return nil, nil, err
	}
	return p, cleanup, nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on server.listen_addr, provisions the translation backend
// in the background and starts a session when settings.auto_start is set.
// It blocks until ctx is cancelled or the server fails. An empty listen
// address runs without HTTP.
func (a *App) Run(ctx context.Context) error {
	a.provision(ctx)

	cfg := a.Config()
	if cfg.Settings.AutoStart {
		if _, err := a.StartSession(ctx); err != nil {
			a.log.Error("app: auto start failed", "err", err)
		}
	}

	if cfg.Server.ListenAddr == "" {
		a.log.Info("app running without http server")
		<-ctx.Done()
		return ctx.Err()
	}

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", "addr", srv.Addr, "tls", cfg.Server.TLS != nil)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errc <- err
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("app: http shutdown", "err", err)
	}
	return ctx.Err()
}

// RunOnce runs a single session until the source ends or ctx is cancelled
// and waits until its results were delivered and recorded.
func (a *App) RunOnce(ctx context.Context) error {
	a.provision(ctx)
	if _, err := a.StartSession(ctx); err != nil {
		return err
	}

	p := a.sessions.Pipeline()
	if p != nil {
		select {
		case <-p.Done():
		case <-ctx.Done():
			if err := a.sessions.Stop(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrNoSession) {
				a.log.Warn("app: stop session", "err", err)
			}
		}
	}
	if err := a.sessions.Wait(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	if a.queue != nil {
		a.drainSpeech(ctx)
	}
	return ctx.Err()
}

// drainSpeech waits until the speech queue spoke everything or ctx is done.
func (a *App) drainSpeech(ctx context.Context) {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for a.queue.Len() > 0 || a.queue.State() == speech.Speaking {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// provision readies the translation backend in the background.
func (a *App) provision(ctx context.Context) {
	pv, ok := a.providers.Translator.(translator.Provisioner)
	if !ok || pv.Ready() {
		return
	}
	go func() {
		start := time.Now()
		if err := pv.Provision(ctx); err != nil {
			a.log.Error("app: translator provisioning failed, translations pass through", "err", err)
			return
		}
		a.log.Info("app: translator ready", "took", time.Since(start))
	}()
}

// StartSession starts a session with the current settings.
func (a *App) StartSession(ctx context.Context) (SessionInfo, error) {
	a.mu.RLock()
	cfg := a.cfg
	a.mu.RUnlock()
	return a.sessions.Start(ctx, pipelineConfig(cfg))
}

// StopSession ends the active session.
func (a *App) StopSession(ctx context.Context) error {
	return a.sessions.Stop(ctx)
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Handler returns the HTTP handler serving the overlay, audio, health,
// metrics and control endpoints.
func (a *App) Handler() http.Handler { return a.handler }

// Config returns the current configuration. The returned value must not be
// modified.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// ─── Live reconfiguration ────────────────────────────────────────────────────

// ApplyReload applies a reloaded config file. d is the difference between
// the previous and the new version of the file. When the file left the
// settings section alone, the live settings, including changes made over
// HTTP, are kept.
func (a *App) ApplyReload(ctx context.Context, next *config.Config, d config.ConfigDiff) error {
	if !d.SettingsChanged {
		merged := *next
		merged.Settings = a.Config().Settings
		next = &merged
	}
	return a.ApplyConfig(ctx, next)
}

// ApplyConfig moves the running server to next. Log level, voice, language
// pair, offline mode, phrase tables, glossary and the output flags take
// effect immediately, restarting the active session when the audio path or
// a gateway changed. Changes to providers, audio devices, the listen address
// or the history database are logged and need a process restart.
func (a *App) ApplyConfig(ctx context.Context, next *config.Config) error {
	a.applyMu.Lock()
	defer a.applyMu.Unlock()

	prev := a.Config()
	d := config.Diff(prev, next)

	var (
		tr      *translate.Gateway
		rec     *recognize.Gateway
		rebuilt bool
	)
	if d.OfflineChanged || d.PhrasesChanged {
		g, err := a.buildTranslator(next)
		if err != nil {
			return fmt.Errorf("app: rebuild translator: %w", err)
		}
		tr, rebuilt = g, true
	}
	if a.providers.STT != nil && (d.LanguagesChanged || d.GlossaryChanged) {
		rec, rebuilt = a.buildRecognizer(next), true
	}

	a.mu.Lock()
	a.cfg = next
	if tr != nil {
		a.translator = tr
	} else if d.LanguagesChanged {
		a.translator.SetLanguages(next.Settings.SourceLanguage, next.Settings.TargetLanguage)
	}
	if rec != nil {
		a.recognizer = rec
	}
	a.mu.Unlock()

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
	if d.VoiceChanged && a.synth != nil {
		a.synth.SetVoice(voiceProfile(next.Settings))
	}

	if !d.SettingsChanged && !rebuilt {
		return nil
	}
	if err := a.sessions.Apply(ctx, pipelineConfig(next), rebuilt); err != nil {
		return fmt.Errorf("app: apply settings: %w", err)
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the active session and tears down all subsystems in
// reverse-init order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if a.sessions != nil {
			if err := a.sessions.Stop(ctx); err != nil && !errors.Is(err, ErrNoSession) {
				a.log.Warn("stop session", "err", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.closers = nil

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// pipelineConfig derives the per-run configuration from cfg.
func pipelineConfig(cfg *config.Config) pipeline.Config {
	s := cfg.Settings
	return pipeline.Config{
		SourceLanguage: s.SourceLanguage,
		TargetLanguage: s.TargetLanguage,
		Mode:           s.Mode(cfg.Pipeline.App),
		ShowOriginal:   s.ShowOriginal,
		TTSEnabled:     s.TTSEnabled,
		Sensitivity:    s.AudioSensitivity,
		Opacity:        s.OverlayOpacity,
	}
}

// voiceProfile resolves the voice preset of s at its speaking speed.
// Unknown presets fall back to the default voice.
func voiceProfile(s config.Settings) tts.VoiceProfile {
	v, err := tts.Preset(s.VoiceType)
	if err != nil {
		v, _ = tts.Preset(tts.DefaultVoice)
	}
	return v.WithSpeed(s.TTSSpeed)
}

type readyFunc func() bool

func (f readyFunc) Ready() bool { return f() }
