package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/hermes/internal/observe"
	"github.com/MrWong99/hermes/internal/observe/observetest"
	"github.com/MrWong99/hermes/internal/recognize"
	"github.com/MrWong99/hermes/internal/translate"
	"github.com/MrWong99/hermes/pkg/audio"
	audiomock "github.com/MrWong99/hermes/pkg/audio/mock"
	"github.com/MrWong99/hermes/pkg/provider/stt"
	sttmock "github.com/MrWong99/hermes/pkg/provider/stt/mock"
	trmock "github.com/MrWong99/hermes/pkg/provider/translator/mock"
	"github.com/MrWong99/hermes/pkg/types"
)

// In game mode a chunk is emitted after 8000 samples, i.e. on the fourth
// block of 2048 samples.
const blocksPerChunk = 4

func block(amp int16) []int16 {
	b := make([]int16, 2048)
	for i := range b {
		b[i] = amp
	}
	return b
}

func blocks(amp int16, n int) [][]int16 {
	out := make([][]int16, n)
	for i := range out {
		out[i] = block(amp)
	}
	return out
}

func firstSample(pcm []byte) int16 {
	return int16(binary.LittleEndian.Uint16(pcm))
}

// ---- fakes ----

type fakeOverlay struct {
	mu      sync.Mutex
	shown   [][2]string
	hides   int
	configs [][2]int
}

func (f *fakeOverlay) Show(original, translated string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown = append(f.shown, [2]string{original, translated})
}

func (f *fakeOverlay) Hide() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hides++
}

func (f *fakeOverlay) Configure(opacity, sensitivity int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, [2]int{opacity, sensitivity})
}

func (f *fakeOverlay) snapshot() (shown [][2]string, hides int, configs [][2]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]string(nil), f.shown...), f.hides, append([][2]int(nil), f.configs...)
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []types.SpeechTask
	stops int
}

func (f *fakeQueue) Enqueue(task types.SpeechTask) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
}

func (f *fakeQueue) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeQueue) snapshot() ([]types.SpeechTask, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.SpeechTask(nil), f.tasks...), f.stops
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []types.TranslationResult
}

func (f *fakeRecorder) Record(_ context.Context, r types.TranslationResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
	return nil
}

type harness struct {
	src     *audiomock.Source
	stt     *sttmock.Provider
	tr      *trmock.Provider
	gw      *translate.Gateway
	overlay *fakeOverlay
	queue   *fakeQueue
	rec     *fakeRecorder
}

func newHarness(t *testing.T, src *audiomock.Source) *harness {
	t.Helper()
	h := &harness{
		src:     src,
		stt:     &sttmock.Provider{CapabilitiesResult: stt.Capabilities{Concurrent: true}},
		tr:      &trmock.Provider{},
		overlay: &fakeOverlay{},
		queue:   &fakeQueue{},
		rec:     &fakeRecorder{},
	}
	gw, err := translate.New(h.tr)
	if err != nil {
		t.Fatalf("translate.New: %v", err)
	}
	h.gw = gw
	return h
}

func (h *harness) deps() Deps {
	return Deps{
		Source:     h.src,
		Recognizer: recognize.New(h.stt),
		Translator: h.gw,
		Queue:      h.queue,
		Overlay:    h.overlay,
		Recorder:   h.rec,
	}
}

func (h *harness) start(t *testing.T, cfg Config, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(cfg, h.deps(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(p.Stop)
	return p
}

func wait(t *testing.T, p *Pipeline) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not finish")
	}
}

// ---- tests ----

func TestPipeline_GoodGameEndToEnd(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &audiomock.Source{Blocks: blocks(10000, blocksPerChunk)})
	h.stt.Result = types.RecognitionResult{Text: "gg", IsFinal: true}

	p := h.start(t, DefaultConfig())
	wait(t, p)

	shown, _, _ := h.overlay.snapshot()
	if len(shown) != 1 || shown[0] != [2]string{"gg", "хорошая игра"} {
		t.Fatalf("overlay = %v, want one gg update", shown)
	}
	tasks, _ := h.queue.snapshot()
	if len(tasks) != 1 || tasks[0].Text != "хорошая игра" {
		t.Errorf("speech tasks = %v, want one", tasks)
	}
	if got := len(h.tr.TranslateCalls); got != 0 {
		t.Errorf("backend calls = %d, want 0", got)
	}
	if len(h.rec.results) != 1 || h.rec.results[0].Seq != 1 || h.rec.results[0].TargetLang != "ru" {
		t.Errorf("recorded = %+v", h.rec.results)
	}
	st := p.Stats()
	if st.Chunks != 1 || st.Delivered != 1 {
		t.Errorf("Stats() = %+v, want 1 chunk delivered", st)
	}
}

func TestPipeline_SilenceProducesNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &audiomock.Source{Blocks: blocks(0, 20)})
	h.stt.Result = types.RecognitionResult{Text: "ghost"}

	p := h.start(t, DefaultConfig())
	wait(t, p)

	if shown, _, _ := h.overlay.snapshot(); len(shown) != 0 {
		t.Errorf("overlay updates = %d, want 0", len(shown))
	}
	if n := h.stt.CallCount(); n != 0 {
		t.Errorf("recognize calls = %d, want 0", n)
	}
	if st := p.Stats(); st.Chunks != 0 {
		t.Errorf("Chunks = %d, want 0", st.Chunks)
	}
}

func TestPipeline_DeliversInSequenceOrder(t *testing.T) {
	t.Parallel()
	src := &audiomock.Source{Blocks: append(blocks(10000, blocksPerChunk), blocks(20000, blocksPerChunk)...)}
	h := newHarness(t, src)

	secondDone := make(chan struct{})
	h.stt.RecognizeFunc = func(ctx context.Context, pcm []byte, _ stt.RecognizeConfig) (types.RecognitionResult, error) {
		if firstSample(pcm) == 10000 {
			// Finish chunk 1 only after chunk 2 completed.
			select {
			case <-secondDone:
			case <-ctx.Done():
				return types.RecognitionResult{}, ctx.Err()
			}
			return types.RecognitionResult{Text: "one"}, nil
		}
		defer close(secondDone)
		return types.RecognitionResult{Text: "two"}, nil
	}

	cfg := DefaultConfig()
	cfg.ShowOriginal = false
	p := h.start(t, cfg)
	wait(t, p)

	shown, _, _ := h.overlay.snapshot()
	if len(shown) != 2 {
		t.Fatalf("overlay updates = %v, want 2", shown)
	}
	// The mock backend answers with its input prefixed by "tr:".
	if shown[0][1] != "tr:one" || shown[1][1] != "tr:two" {
		t.Errorf("overlay order = %v, want one then two", shown)
	}
	if shown[0][0] != "" {
		t.Errorf("original shown although disabled: %q", shown[0][0])
	}
}

func TestPipeline_InvalidFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		f    audio.Format
	}{
		{"wrong rate", audio.Format{SampleRate: 44100, Channels: 1, BlockSize: 1024}},
		{"stereo", audio.Format{SampleRate: 16000, Channels: 2, BlockSize: 1024}},
		{"no buffer", audio.Format{SampleRate: 16000, Channels: 1, BlockSize: 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, &audiomock.Source{FormatResult: tc.f})
			p, err := New(DefaultConfig(), h.deps())
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			err = p.Start(context.Background())
			if !errors.Is(err, ErrInvalidFormat) {
				t.Fatalf("Start() = %v, want ErrInvalidFormat", err)
			}
			if h.stt.ResetCalls != 0 {
				t.Error("recognizer reset before the format was validated")
			}
			p.Wait()
		})
	}
}

func TestPipeline_NewRequiresCollaborators(t *testing.T) {
	t.Parallel()
	if _, err := New(DefaultConfig(), Deps{}); err == nil {
		t.Fatal("New without deps succeeded")
	}
}

func TestPipeline_StartTwice(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &audiomock.Source{Hold: true})
	p := h.start(t, DefaultConfig())
	if err := p.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start() = %v, want ErrAlreadyStarted", err)
	}
	if h.stt.ResetCalls != 1 {
		t.Errorf("recognizer resets = %d, want 1", h.stt.ResetCalls)
	}
}

func TestPipeline_Stop(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &audiomock.Source{Hold: true})
	p := h.start(t, DefaultConfig())
	if !p.Running() {
		t.Fatal("Running() = false after Start")
	}

	p.Stop()
	p.Stop()
	p.Wait()

	if p.Running() {
		t.Error("Running() = true after Stop")
	}
	_, hides, configs := h.overlay.snapshot()
	if hides != 1 {
		t.Errorf("overlay hides = %d, want 1", hides)
	}
	if len(configs) != 1 || configs[0] != [2]int{80, 50} {
		t.Errorf("overlay configured with %v, want opacity 80 sensitivity 50", configs)
	}
	if _, stops := h.queue.snapshot(); stops != 1 {
		t.Errorf("queue stops = %d, want 1", stops)
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Start after Stop = %v, want ErrAlreadyStarted", err)
	}
}

func TestPipeline_HandoffKeepsOutputs(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &audiomock.Source{Hold: true})
	p := h.start(t, DefaultConfig())

	p.Handoff()
	p.Stop()
	p.Wait()

	if p.Running() {
		t.Error("Running() = true after Handoff")
	}
	if _, hides, _ := h.overlay.snapshot(); hides != 0 {
		t.Errorf("overlay hides = %d, want 0", hides)
	}
	if _, stops := h.queue.snapshot(); stops != 0 {
		t.Errorf("queue stops = %d, want 0", stops)
	}
	if p.SourceClosed() {
		t.Error("SourceClosed() = true for a source that honors cancellation")
	}
}

func TestPipeline_StopDiscardsLateResults(t *testing.T) {
	t.Parallel()
	src := &audiomock.Source{Blocks: blocks(10000, blocksPerChunk), Hold: true}
	h := newHarness(t, src)
	started := make(chan struct{})
	h.stt.RecognizeFunc = func(ctx context.Context, _ []byte, _ stt.RecognizeConfig) (types.RecognitionResult, error) {
		close(started)
		<-ctx.Done()
		// A backend that ignores cancellation still answers.
		return types.RecognitionResult{Text: "too late"}, nil
	}

	p := h.start(t, DefaultConfig())
	<-started
	p.Stop()

	if shown, _, _ := h.overlay.snapshot(); len(shown) != 0 {
		t.Errorf("overlay = %v, want nothing after Stop", shown)
	}
	if tasks, _ := h.queue.snapshot(); len(tasks) != 0 {
		t.Errorf("speech tasks = %v, want none after Stop", tasks)
	}
}

type stuckSource struct {
	closed chan struct{}
	once   sync.Once
}

func (s *stuckSource) Format() audio.Format {
	return audio.Format{SampleRate: 16000, Channels: 1, BlockSize: 2048}
}

// Read ignores ctx and only returns after Close.
func (s *stuckSource) Read(context.Context) ([]int16, error) {
	<-s.closed
	return nil, audio.ErrClosed
}

func (s *stuckSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func TestPipeline_StopForcesStuckSource(t *testing.T) {
	t.Parallel()
	src := &stuckSource{closed: make(chan struct{})}
	p, err := New(DefaultConfig(), Deps{
		Source:     src,
		Recognizer: recognize.New(&sttmock.Provider{}),
		Translator: mustGateway(t),
	}, WithJoinTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a source that ignores cancellation")
	}
	select {
	case <-src.closed:
	default:
		t.Error("stuck source was not closed")
	}
	if !p.SourceClosed() {
		t.Error("SourceClosed() = false after forced termination")
	}
}

func mustGateway(t *testing.T) *translate.Gateway {
	t.Helper()
	gw, err := translate.New(nil)
	if err != nil {
		t.Fatalf("translate.New: %v", err)
	}
	return gw
}

func TestPipeline_ReadErrors(t *testing.T) {
	t.Parallel()
	readErr := errors.New("device hiccup")
	src := &audiomock.Source{
		Blocks: [][]int16{block(10000), block(10000), nil, nil, nil, block(10000)},
		Errors: map[int]error{2: readErr, 3: readErr, 4: readErr},
	}
	h := newHarness(t, src)
	var finals []bool
	var mu sync.Mutex
	h.stt.RecognizeFunc = func(_ context.Context, pcm []byte, _ stt.RecognizeConfig) (types.RecognitionResult, error) {
		mu.Lock()
		finals = append(finals, len(pcm) == 2*2*2048)
		mu.Unlock()
		return types.RecognitionResult{Text: "hello there"}, nil
	}

	p := h.start(t, DefaultConfig())
	wait(t, p)

	st := p.Stats()
	if st.ReadErrors != 3 {
		t.Errorf("ReadErrors = %d, want 3", st.ReadErrors)
	}
	if st.Chunks != 1 || st.Delivered != 1 {
		t.Errorf("Stats() = %+v, want the flushed chunk delivered", st)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(finals) != 1 || !finals[0] {
		t.Errorf("recognized chunks = %v, want one flushed chunk of two blocks", finals)
	}
	if src.ReadCalls != 5 {
		t.Errorf("ReadCalls = %d, want capture to stop after the third error", src.ReadCalls)
	}
}

func TestPipeline_SourceClosedEndsCapture(t *testing.T) {
	t.Parallel()
	src := &audiomock.Source{Hold: true}
	h := newHarness(t, src)
	p := h.start(t, DefaultConfig())

	src.Close()
	wait(t, p)
	if st := p.Stats(); st.ReadErrors != 0 {
		t.Errorf("ReadErrors = %d, want 0", st.ReadErrors)
	}
}

func TestPipeline_BacklogDropsResolveEmpty(t *testing.T) {
	t.Parallel()
	const chunks = 4
	h := newHarness(t, &audiomock.Source{Blocks: blocks(10000, chunks*blocksPerChunk)})
	release := make(chan struct{})
	h.stt.RecognizeFunc = func(ctx context.Context, _ []byte, _ stt.RecognizeConfig) (types.RecognitionResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return types.RecognitionResult{Text: "hold on"}, nil
	}

	m, reader := observetest.NewMetrics(t)
	p := h.start(t, DefaultConfig(), WithMaxInFlight(1), WithMaxBacklog(1), WithMetrics(m))

	deadline := time.Now().Add(5 * time.Second)
	for p.Stats().Chunks != chunks {
		if time.Now().After(deadline) {
			t.Fatalf("Chunks = %d, want %d", p.Stats().Chunks, chunks)
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	wait(t, p)

	st := p.Stats()
	// One chunk in flight and one in the backlog at most.
	if st.Dropped < chunks-2 {
		t.Errorf("Dropped = %d, want at least %d", st.Dropped, chunks-2)
	}
	if st.Delivered+st.Dropped != chunks {
		t.Errorf("Stats() = %+v, want every chunk delivered or dropped", st)
	}
	shown, _, _ := h.overlay.snapshot()
	if uint64(len(shown)) != st.Delivered {
		t.Errorf("overlay updates = %d, want %d", len(shown), st.Delivered)
	}

	if got := reader.Sum("hermes.chunks", "outcome", observe.ChunkDropped); got != int64(st.Dropped) {
		t.Errorf("dropped metric = %d, want %d", got, st.Dropped)
	}
	if got := reader.Sum("hermes.chunks", "outcome", observe.ChunkEmitted); got != chunks {
		t.Errorf("emitted metric = %d, want %d", got, chunks)
	}
}

func TestPipeline_Reconfigure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &audiomock.Source{Hold: true})
	p := h.start(t, DefaultConfig())

	cfg := p.Config()
	cfg.ShowOriginal = false
	cfg.TTSEnabled = false
	cfg.Opacity = 40
	if err := p.Reconfigure(cfg); err != nil {
		t.Fatalf("Reconfigure(flags) = %v", err)
	}
	if got := p.Config(); got.ShowOriginal || got.TTSEnabled || got.Opacity != 40 {
		t.Errorf("Config() = %+v, want new flags", got)
	}
	_, _, configs := h.overlay.snapshot()
	if last := configs[len(configs)-1]; last != [2]int{40, 50} {
		t.Errorf("last overlay config = %v, want opacity 40", last)
	}

	cfg.Mode = types.ModeMovie
	if err := p.Reconfigure(cfg); !errors.Is(err, ErrNeedsRestart) {
		t.Fatalf("Reconfigure(mode) = %v, want ErrNeedsRestart", err)
	}
	if p.Config().Mode != types.ModeGame {
		t.Error("mode changed without a restart")
	}
}

func TestNeedsRestart(t *testing.T) {
	t.Parallel()
	base := DefaultConfig()
	tests := []struct {
		name   string
		change func(*Config)
		want   bool
	}{
		{"nothing", func(*Config) {}, false},
		{"show original", func(c *Config) { c.ShowOriginal = !c.ShowOriginal }, false},
		{"tts", func(c *Config) { c.TTSEnabled = !c.TTSEnabled }, false},
		{"opacity", func(c *Config) { c.Opacity = 10 }, false},
		{"mode", func(c *Config) { c.Mode = types.ModeFast }, true},
		{"unknown mode is game", func(c *Config) { c.Mode = "bogus" }, false},
		{"sensitivity", func(c *Config) { c.Sensitivity = 90 }, true},
		{"source language", func(c *Config) { c.SourceLanguage = "de" }, true},
		{"target language", func(c *Config) { c.TargetLanguage = "uk" }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			next := base
			tc.change(&next)
			if got := NeedsRestart(base, next); got != tc.want {
				t.Errorf("NeedsRestart() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPipeline_IndependentRuns(t *testing.T) {
	t.Parallel()
	a := newHarness(t, &audiomock.Source{Blocks: blocks(10000, blocksPerChunk)})
	b := newHarness(t, &audiomock.Source{Blocks: blocks(0, blocksPerChunk)})
	a.stt.Result = types.RecognitionResult{Text: "gg"}
	b.stt.Result = types.RecognitionResult{Text: "gg"}

	pa := a.start(t, DefaultConfig())
	pb := b.start(t, DefaultConfig())
	wait(t, pa)
	wait(t, pb)

	if pa.ID() == pb.ID() {
		t.Error("pipelines share an ID")
	}
	if pa.Stats().Delivered != 1 || pb.Stats().Delivered != 0 {
		t.Errorf("delivered = %d/%d, want 1/0", pa.Stats().Delivered, pb.Stats().Delivered)
	}
}
