package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/hermes/internal/config"
	"github.com/MrWong99/hermes/internal/history"
	"github.com/MrWong99/hermes/internal/observe"
	"github.com/MrWong99/hermes/internal/pipeline"
	"github.com/MrWong99/hermes/internal/recognize"
	"github.com/MrWong99/hermes/internal/resilience"
	"github.com/MrWong99/hermes/internal/translate"
)

// maxSettingsBody bounds the PUT /settings request body.
const maxSettingsBody = 64 << 10

// routes builds the HTTP handler:
//
//	GET  /healthz, /readyz  liveness and readiness
//	GET  /metrics           Prometheus exposition
//	GET  /overlay           overlay websocket (when the hub is used)
//	GET  /audio             audio websocket (websocket source or sink)
//	GET  /pipeline          session, pipeline and gateway status
//	POST /pipeline/start    start a session
//	POST /pipeline/stop     stop the session
//	GET  /settings          current user settings
//	PUT  /settings          change user settings
//	GET  /history           search the translation log
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.health.Healthz)
	mux.HandleFunc("GET /readyz", a.health.Readyz)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	if a.hub != nil {
		mux.Handle("GET /overlay", a.hub)
	}
	if a.wsAudio != nil {
		mux.Handle("GET /audio", a.wsAudio)
	}
	mux.HandleFunc("GET /pipeline", a.handleStatus)
	mux.HandleFunc("POST /pipeline/start", a.handleStart)
	mux.HandleFunc("POST /pipeline/stop", a.handleStop)
	mux.HandleFunc("GET /settings", a.handleGetSettings)
	mux.HandleFunc("PUT /settings", a.handlePutSettings)
	mux.HandleFunc("GET /history", a.handleHistory)
	return observe.Middleware(a.metrics)(mux)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// ─── Pipeline ────────────────────────────────────────────────────────────────

type pipelineStats struct {
	Chunks     uint64 `json:"chunks"`
	Delivered  uint64 `json:"delivered"`
	Empty      uint64 `json:"empty"`
	Dropped    uint64 `json:"dropped"`
	Discarded  uint64 `json:"discarded"`
	ReadErrors uint64 `json:"read_errors"`
}

type translationStats struct {
	Source       string `json:"source_language"`
	Target       string `json:"target_language"`
	Ready        bool   `json:"ready"`
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	PhraseHits   uint64 `json:"phrase_hits"`
	BackendCalls uint64 `json:"backend_calls"`
	Failures     uint64 `json:"failures"`
	PassThrough  uint64 `json:"pass_through"`
	Evictions    uint64 `json:"evictions"`
	Size         int    `json:"size"`
}

type recognitionStats struct {
	Recognized uint64 `json:"recognized"`
	Empty      uint64 `json:"empty"`
	Failures   uint64 `json:"failures"`
}

type speechStatus struct {
	State   string `json:"state"`
	Pending int    `json:"pending"`
}

type overlayStatus struct {
	Visible    bool   `json:"visible"`
	Original   string `json:"original,omitempty"`
	Translated string `json:"translated,omitempty"`
	Opacity    int    `json:"opacity"`
}

type backendStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

type statusResponse struct {
	Active      bool              `json:"active"`
	Session     *SessionInfo      `json:"session,omitempty"`
	Stats       *pipelineStats    `json:"stats,omitempty"`
	Translation translationStats  `json:"translation"`
	Recognition *recognitionStats `json:"recognition,omitempty"`
	Speech      *speechStatus     `json:"speech,omitempty"`
	Overlay     overlayStatus     `json:"overlay"`
	Translators []backendStatus   `json:"translators,omitempty"`
}

func (a *App) status() statusResponse {
	a.mu.RLock()
	tr, rec := a.translator, a.recognizer
	a.mu.RUnlock()

	var resp statusResponse
	if p := a.sessions.Pipeline(); p != nil {
		info := a.sessions.Info()
		resp.Active = true
		resp.Session = &info
		resp.Stats = toPipelineStats(p.Stats())
	}
	resp.Translation = toTranslationStats(tr)
	if rec != nil {
		resp.Recognition = toRecognitionStats(rec.Stats())
	}
	if a.queue != nil {
		resp.Speech = &speechStatus{State: a.queue.State().String(), Pending: a.queue.Len()}
	}
	st := a.overlay.State()
	resp.Overlay = overlayStatus{Visible: st.Visible, Original: st.Original, Translated: st.Translated, Opacity: st.Opacity}
	if fb, ok := a.providers.Translator.(*resilience.TranslatorFallback); ok {
		for _, e := range fb.Status() {
			resp.Translators = append(resp.Translators, backendStatus{Name: e.Name, State: e.State.String()})
		}
	}
	return resp
}

func toPipelineStats(s pipeline.Stats) *pipelineStats {
	return &pipelineStats{
		Chunks:     s.Chunks,
		Delivered:  s.Delivered,
		Empty:      s.Empty,
		Dropped:    s.Dropped,
		Discarded:  s.Discarded,
		ReadErrors: s.ReadErrors,
	}
}

func toTranslationStats(g *translate.Gateway) translationStats {
	s := g.Stats()
	src, tgt := g.Languages()
	return translationStats{
		Source:       src,
		Target:       tgt,
		Ready:        g.Ready(),
		Hits:         s.Hits,
		Misses:       s.Misses,
		PhraseHits:   s.PhraseHits,
		BackendCalls: s.BackendCalls,
		Failures:     s.Failures,
		PassThrough:  s.PassThrough,
		Evictions:    s.Evictions,
		Size:         s.Size,
	}
}

func toRecognitionStats(s recognize.Stats) *recognitionStats {
	return &recognitionStats{Recognized: s.Recognized, Empty: s.Empty, Failures: s.Failures}
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.status())
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	info, err := a.StartSession(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, info)
	case errors.Is(err, ErrSessionActive):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, ErrNoRecognizer), errors.Is(err, ErrCaptureClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		observe.Logger(r.Context()).Error("app: start session", "err", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *App) handleStop(w http.ResponseWriter, r *http.Request) {
	err := a.StopSession(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, a.status())
	case errors.Is(err, ErrNoSession):
		writeError(w, http.StatusConflict, err)
	default:
		observe.Logger(r.Context()).Error("app: stop session", "err", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

// ─── Settings ────────────────────────────────────────────────────────────────

func (a *App) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Config().Settings)
}

// handlePutSettings decodes the body onto the current settings, so omitted
// fields keep their value, validates the result and applies it.
func (a *App) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	next := *a.Config()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSettingsBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next.Settings); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode settings: %w", err))
		return
	}
	next.Normalize()
	if err := config.Validate(&next); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if err := a.ApplyConfig(r.Context(), &next); err != nil {
		observe.Logger(r.Context()).Error("app: apply settings", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, next.Settings)
}

// ─── History ─────────────────────────────────────────────────────────────────

type historyEntry struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Seq        uint64    `json:"seq"`
	Original   string    `json:"original"`
	Translated string    `json:"translated"`
	SourceLang string    `json:"source_language"`
	TargetLang string    `json:"target_language"`
	Timestamp  time.Time `json:"timestamp"`
}

// handleHistory serves GET /history?q=&session=&after=&before=&limit=.
// Times are RFC 3339.
func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusNotFound, errors.New("history is disabled"))
		return
	}
	q, err := parseHistoryQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entries, err := a.history.Search(r.Context(), q)
	if err != nil {
		observe.Logger(r.Context()).Error("app: history search", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			ID:         e.ID,
			SessionID:  e.SessionID,
			Seq:        e.Seq,
			Original:   e.Original,
			Translated: e.Translated,
			SourceLang: e.SourceLang,
			TargetLang: e.TargetLang,
			Timestamp:  e.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func parseHistoryQuery(r *http.Request) (history.Query, error) {
	v := r.URL.Query()
	q := history.Query{Text: v.Get("q"), SessionID: v.Get("session")}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid limit %q", s)
		}
		q.Limit = n
	}
	for _, t := range []struct {
		key string
		dst *time.Time
	}{{"after", &q.After}, {"before", &q.Before}} {
		s := v.Get(t.key)
		if s == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, fmt.Errorf("invalid %s %q: want RFC 3339", t.key, s)
		}
		*t.dst = ts
	}
	return q, nil
}
