package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/hermes/internal/app"
	"github.com/MrWong99/hermes/internal/config"
	"github.com/MrWong99/hermes/internal/history"
	audiomock "github.com/MrWong99/hermes/pkg/audio/mock"
	displaymock "github.com/MrWong99/hermes/pkg/display/mock"
	sttmock "github.com/MrWong99/hermes/pkg/provider/stt/mock"
	trmock "github.com/MrWong99/hermes/pkg/provider/translator/mock"
	ttsmock "github.com/MrWong99/hermes/pkg/provider/tts/mock"
	"github.com/MrWong99/hermes/pkg/types"
)

// fakeHistory is an in-memory [app.HistoryStore].
type fakeHistory struct {
	mu       sync.Mutex
	appended []string // session IDs
	results  []types.TranslationResult
	queries  []history.Query
	entries  []history.Entry
	pingErr  error
}

func (f *fakeHistory) Append(_ context.Context, sessionID string, r types.TranslationResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, sessionID)
	f.results = append(f.results, r)
	return nil
}

func (f *fakeHistory) Search(_ context.Context, q history.Query) ([]history.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.entries, nil
}

func (f *fakeHistory) Ping(context.Context) error { return f.pingErr }

func (f *fakeHistory) lastQuery() history.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

func (f *fakeHistory) snapshot() ([]string, []types.TranslationResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.appended...), append([]types.TranslationResult(nil), f.results...)
}

type env struct {
	app     *app.App
	source  *audiomock.Source
	sink    *audiomock.Sink
	display *displaymock.Sink
	history *fakeHistory
	stt     *sttmock.Provider
	tr      *trmock.Provider
	tts     *ttsmock.Provider
	level   *slog.LevelVar
}

type envOption func(*config.Config, *app.Providers)

func withoutSTT() envOption {
	return func(_ *config.Config, p *app.Providers) { p.STT = nil }
}

func newEnv(t *testing.T, src *audiomock.Source, opts ...envOption) *env {
	t.Helper()
	e := &env{
		source:  src,
		sink:    &audiomock.Sink{},
		display: &displaymock.Sink{},
		history: &fakeHistory{},
		stt:     &sttmock.Provider{Result: types.RecognitionResult{Text: "where is the bomb"}},
		tr:      &trmock.Provider{Result: "где бомба"},
		tts:     &ttsmock.Provider{SynthesizeChunks: [][]byte{make([]byte, 320)}},
		level:   new(slog.LevelVar),
	}
	cfg := config.Default()
	cfg.Server.ListenAddr = ""
	providers := &app.Providers{STT: e.stt, Translator: e.tr, TTS: e.tts}
	for _, o := range opts {
		o(cfg, providers)
	}

	a, err := app.New(context.Background(), cfg, providers,
		app.WithSource(e.source),
		app.WithSink(e.sink),
		app.WithDisplay(e.display),
		app.WithHistory(e.history),
		app.WithLevelVar(e.level),
		app.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	e.app = a
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRunOnce_DeliversToEveryOutput(t *testing.T) {
	t.Parallel()
	e := newEnv(t, &audiomock.Source{Blocks: loudBlocks(4)})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.app.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}

	if got := e.display.LastPresent(); got.Translated != "где бомба" || got.Original != "where is the bomb" {
		t.Errorf("overlay = %+v", got)
	}
	sessions, results := e.history.snapshot()
	if len(results) != 1 || results[0].Translated != "где бомба" || results[0].TargetLang != "ru" {
		t.Fatalf("history = %+v", results)
	}
	if !strings.HasPrefix(sessions[0], "session-") {
		t.Errorf("history session = %q", sessions[0])
	}
	waitFor(t, "speech", func() bool { return e.sink.Bytes() > 0 })
	if texts := e.tts.Texts(); len(texts) != 1 || texts[0] != "где бомба" {
		t.Errorf("spoken = %v", texts)
	}
	if e.app.Sessions().IsActive() {
		t.Error("session still active after RunOnce")
	}
}

func TestStartSession_NoRecognizer(t *testing.T) {
	t.Parallel()
	e := newEnv(t, &audiomock.Source{Hold: true}, withoutSTT())

	if _, err := e.app.StartSession(context.Background()); !errors.Is(err, app.ErrNoRecognizer) {
		t.Fatalf("StartSession() = %v, want ErrNoRecognizer", err)
	}

	srv := httptest.NewServer(e.app.Handler())
	defer srv.Close()
	resp := do(t, http.MethodPost, srv.URL+"/pipeline/start", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("POST /pipeline/start = %d, want 503", resp.StatusCode)
	}
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode %s: %v", resp.Request.URL.Path, err)
	}
	return v
}

type status struct {
	Active  bool `json:"active"`
	Session *struct {
		SessionID string `json:"session_id"`
	} `json:"session"`
	Translation struct {
		Target string `json:"target_language"`
		Ready  bool   `json:"ready"`
	} `json:"translation"`
}

func TestHTTP_PipelineLifecycle(t *testing.T) {
	t.Parallel()
	e := newEnv(t, &audiomock.Source{Hold: true})
	srv := httptest.NewServer(e.app.Handler())
	defer srv.Close()

	resp := do(t, http.MethodPost, srv.URL+"/pipeline/start", "")
	info := decode[app.SessionInfo](t, resp)
	if resp.StatusCode != http.StatusOK || info.SessionID == "" {
		t.Fatalf("start = %d %+v", resp.StatusCode, info)
	}

	resp = do(t, http.MethodPost, srv.URL+"/pipeline/start", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second start = %d, want 409", resp.StatusCode)
	}

	st := decode[status](t, do(t, http.MethodGet, srv.URL+"/pipeline", ""))
	if !st.Active || st.Session == nil || st.Session.SessionID != info.SessionID {
		t.Errorf("status = %+v, want active session %s", st, info.SessionID)
	}
	if !st.Translation.Ready || st.Translation.Target != "ru" {
		t.Errorf("translation = %+v", st.Translation)
	}

	resp = do(t, http.MethodPost, srv.URL+"/pipeline/stop", "")
	st = decode[status](t, resp)
	if resp.StatusCode != http.StatusOK || st.Active {
		t.Errorf("stop = %d active=%v", resp.StatusCode, st.Active)
	}

	resp = do(t, http.MethodPost, srv.URL+"/pipeline/stop", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second stop = %d, want 409", resp.StatusCode)
	}
}

func TestHTTP_Settings(t *testing.T) {
	t.Parallel()
	e := newEnv(t, &audiomock.Source{Hold: true})
	srv := httptest.NewServer(e.app.Handler())
	defer srv.Close()

	got := decode[config.Settings](t, do(t, http.MethodGet, srv.URL+"/settings", ""))
	if got != config.Default().Settings {
		t.Errorf("GET /settings = %+v, want defaults", got)
	}

	info, err := e.app.StartSession(context.Background())
	if err != nil {
		t.Fatalf("StartSession() error: %v", err)
	}

	resp := do(t, http.MethodPut, srv.URL+"/settings", `{"target_language":"DE","show_original":false}`)
	got = decode[config.Settings](t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT /settings = %d", resp.StatusCode)
	}
	if got.TargetLanguage != "de" || got.ShowOriginal || got.SourceLanguage != "en" {
		t.Errorf("PUT /settings = %+v", got)
	}
	if s := e.app.Config().Settings; s != got {
		t.Errorf("Config().Settings = %+v, want %+v", s, got)
	}

	st := decode[status](t, do(t, http.MethodGet, srv.URL+"/pipeline", ""))
	if st.Translation.Target != "de" {
		t.Errorf("translator target = %q, want de", st.Translation.Target)
	}
	if st.Session == nil || st.Session.SessionID == info.SessionID {
		t.Error("language change did not restart the session")
	}

	for _, tt := range []struct {
		body string
		want int
	}{
		{`{"overlay_opacity":150}`, http.StatusUnprocessableEntity},
		{`{"voice_type":"robot"}`, http.StatusUnprocessableEntity},
		{`{"bogus":1}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	} {
		resp := do(t, http.MethodPut, srv.URL+"/settings", tt.body)
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("PUT %s = %d, want %d", tt.body, resp.StatusCode, tt.want)
		}
	}
	if e.app.Config().Settings.OverlayOpacity != 80 {
		t.Error("rejected settings were applied")
	}
}

func TestHTTP_History(t *testing.T) {
	t.Parallel()
	e := newEnv(t, &audiomock.Source{Hold: true})
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.history.entries = []history.Entry{{
		ID:        7,
		SessionID: "s1",
		TranslationResult: types.TranslationResult{
			Seq: 3, Original: "bomb", Translated: "бомба", SourceLang: "en", TargetLang: "ru", Timestamp: ts,
		},
	}}
	srv := httptest.NewServer(e.app.Handler())
	defer srv.Close()

	resp := do(t, http.MethodGet, srv.URL+"/history?q=bomb&session=s1&limit=5&after=2026-03-01T00:00:00Z", "")
	entries := decode[[]map[string]any](t, resp)
	if resp.StatusCode != http.StatusOK || len(entries) != 1 {
		t.Fatalf("GET /history = %d %v", resp.StatusCode, entries)
	}
	if entries[0]["translated"] != "бомба" || entries[0]["session_id"] != "s1" {
		t.Errorf("entry = %v", entries[0])
	}
	q := e.history.lastQuery()
	if q.Text != "bomb" || q.SessionID != "s1" || q.Limit != 5 || !q.After.Equal(ts.Add(-12*time.Hour)) {
		t.Errorf("query = %+v", q)
	}

	for _, bad := range []string{"limit=x", "limit=-1", "before=yesterday"} {
		resp := do(t, http.MethodGet, srv.URL+"/history?"+bad, "")
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET /history?%s = %d, want 400", bad, resp.StatusCode)
		}
	}
}

func TestHTTP_HistoryDisabled(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	a, err := app.New(context.Background(), cfg, &app.Providers{},
		app.WithSource(&audiomock.Source{Hold: true}),
		app.WithSink(&audiomock.Sink{}),
		app.WithDisplay(&displaymock.Sink{}),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	defer a.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /history = %d, want 404", rec.Code)
	}
}

func TestHTTP_Health(t *testing.T) {
	t.Parallel()
	e := newEnv(t, &audiomock.Source{Hold: true})
	e.history.pingErr = errors.New("connection refused")
	h := e.app.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", rec.Code)
	}

	// No session and a failing history are both optional.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || body.Status != "degraded" {
		t.Errorf("/readyz = %d %q, want 200 degraded", rec.Code, body.Status)
	}
	if body.Checks["translator"] != "ok" || !strings.HasPrefix(body.Checks["history"], "degraded") {
		t.Errorf("checks = %v", body.Checks)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/metrics = %d, want 200", rec.Code)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()
	e := newEnv(t, &audiomock.Source{Hold: true})
	ctx := context.Background()
	info, err := e.app.StartSession(ctx)
	if err != nil {
		t.Fatalf("StartSession() error: %v", err)
	}

	t.Run("output flags keep the session", func(t *testing.T) {
		next := *e.app.Config()
		next.Settings.TTSEnabled = false
		next.Server.LogLevel = config.LogDebug
		if err := e.app.ApplyConfig(ctx, &next); err != nil {
			t.Fatalf("ApplyConfig() error: %v", err)
		}
		if got := e.app.Sessions().Info().SessionID; got != info.SessionID {
			t.Errorf("session = %s, want unchanged %s", got, info.SessionID)
		}
		if p := e.app.Sessions().Pipeline(); p.Config().TTSEnabled {
			t.Error("tts flag not applied to the running pipeline")
		}
		if e.level.Level() != slog.LevelDebug {
			t.Errorf("level = %v, want debug", e.level.Level())
		}
	})

	t.Run("offline rebuilds the translator", func(t *testing.T) {
		prev := e.app.Sessions().Info().SessionID
		next := *e.app.Config()
		next.Settings.OfflineMode = true
		if err := e.app.ApplyConfig(ctx, &next); err != nil {
			t.Fatalf("ApplyConfig() error: %v", err)
		}
		if got := e.app.Sessions().Info().SessionID; got == prev {
			t.Error("session not restarted after the translator was rebuilt")
		}
		rec := httptest.NewRecorder()
		e.app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pipeline", nil))
		var st status
		if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&st); err != nil {
			t.Fatal(err)
		}
		if st.Translation.Ready {
			t.Error("offline translator reports ready")
		}
	})
}

func TestApplyReload_KeepsLiveSettings(t *testing.T) {
	t.Parallel()
	e := newEnv(t, &audiomock.Source{Hold: true})
	ctx := context.Background()
	file := *e.app.Config()

	// A settings change that never reached the file.
	live := file
	live.Settings.TargetLanguage = "de"
	if err := e.app.ApplyConfig(ctx, &live); err != nil {
		t.Fatalf("ApplyConfig() error: %v", err)
	}

	logOnly := file
	logOnly.Server.LogLevel = config.LogDebug
	if err := e.app.ApplyReload(ctx, &logOnly, config.Diff(&file, &logOnly)); err != nil {
		t.Fatalf("ApplyReload() error: %v", err)
	}
	if got := e.app.Config().Settings.TargetLanguage; got != "de" {
		t.Errorf("target language = %q, want the live value de", got)
	}
	if e.level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", e.level.Level())
	}

	edited := logOnly
	edited.Settings.ShowOriginal = false
	if err := e.app.ApplyReload(ctx, &edited, config.Diff(&logOnly, &edited)); err != nil {
		t.Fatalf("ApplyReload() error: %v", err)
	}
	if got := e.app.Config().Settings; got != edited.Settings {
		t.Errorf("settings = %+v, want the file's %+v", got, edited.Settings)
	}
}

func TestShutdown_StopsSession(t *testing.T) {
	t.Parallel()
	e := newEnv(t, &audiomock.Source{Hold: true})
	if _, err := e.app.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession() error: %v", err)
	}
	if err := e.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if e.app.Sessions().IsActive() {
		t.Error("session active after Shutdown")
	}
	// Idempotent.
	if err := e.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
}
