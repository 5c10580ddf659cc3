// Package wsaudio exchanges audio with remote clients over WebSocket.
//
// A client opens the connection with a JSON [Hello] text message announcing
// the format of the audio it captures ("pcm16" or "opus", with sample rate
// and channel count) and then sends binary messages carrying that audio.
// One client at a time may capture; the others, and clients whose Hello has
// no format, only listen.
//
// The [Server] is both the [audio.Source] the pipeline reads and an
// [audio.Sink] for synthesized speech: every Write is broadcast to all
// connected clients as a binary PCM16 message, preceded by a [SpeechHeader]
// text message whenever the sample rate changes.
package wsaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"layeh.com/gopus"

	"github.com/MrWong99/hermes/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Source = (*Server)(nil)
	_ audio.Sink   = (*Server)(nil)
	_ http.Handler = (*Server)(nil)
)

// Capture formats announced in [Hello].
const (
	FormatPCM16 = "pcm16"
	FormatOpus  = "opus"
)

const (
	defaultHelloTimeout = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultClientBuffer = 32

	// maxOpusFrameMs is the longest Opus frame a packet may carry.
	maxOpusFrameMs = 120
)

// Hello is the first message of every client.
type Hello struct {
	Type       string `json:"type"` // "hello"
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// SpeechHeader announces the sample rate of the speech messages that follow.
type SpeechHeader struct {
	Type       string `json:"type"` // "speech"
	SampleRate int    `json:"sample_rate"`
}

// Option configures a [Server].
type Option func(*Server)

// WithBlockSize sets the number of pipeline samples per Read. Default: 2048.
func WithBlockSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.blockSize = n
		}
	}
}

// WithOriginPatterns allows cross-origin clients whose host matches one of
// patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) {
		s.origins = append(s.origins, patterns...)
	}
}

// WithHelloTimeout bounds the wait for a client's Hello. Default: 10s.
func WithHelloTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.helloTimeout = d
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

type speech struct {
	pcm  []byte
	rate int
}

type client struct {
	send chan speech
}

// Server accepts audio clients.
type Server struct {
	blockSize    int
	origins      []string
	helloTimeout time.Duration
	writeTimeout time.Duration
	log          *slog.Logger

	stream *audio.Stream

	mu      sync.Mutex
	clients map[*client]struct{}
	capture *client
	closed  bool
}

// New returns a Server without clients.
func New(opts ...Option) *Server {
	s := &Server{
		blockSize:    2048,
		helloTimeout: defaultHelloTimeout,
		writeTimeout: defaultWriteTimeout,
		log:          slog.Default(),
		clients:      make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.stream = audio.NewStream(s.blockSize, 0)
	return s
}

// Format implements [audio.Source].
func (s *Server) Format() audio.Format { return s.stream.Format() }

// Read implements [audio.Source]. It blocks while no client captures.
func (s *Server) Read(ctx context.Context) ([]int16, error) { return s.stream.Read(ctx) }

// Capturing reports whether a client currently sends audio.
func (s *Server) Capturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture != nil
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, "audio closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.log.Warn("wsaudio: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()
	log := s.log.With("remote", r.RemoteAddr)

	var hello Hello
	hctx, cancel := context.WithTimeout(r.Context(), s.helloTimeout)
	err = wsjson.Read(hctx, conn, &hello)
	cancel()
	if err != nil {
		log.Debug("wsaudio: no hello", "err", err)
		conn.Close(websocket.StatusPolicyViolation, "expected hello")
		return
	}
	dec, err := newDecoder(hello)
	if err != nil {
		conn.Close(websocket.StatusUnsupportedData, err.Error())
		return
	}

	c, err := s.register(dec != nil)
	if err != nil {
		conn.Close(websocket.StatusTryAgainLater, err.Error())
		return
	}
	defer s.unregister(c)
	log.Info("wsaudio: client connected", "format", hello.Format, "sample_rate", hello.SampleRate, "channels", hello.Channels)

	ctx, stop := context.WithCancel(r.Context())
	defer stop()
	go s.writeLoop(ctx, stop, conn, c, log)

	if dec == nil {
		// Listen-only: Read handles pings and the close handshake.
		_, _, err := conn.Read(ctx)
		log.Debug("wsaudio: client left", "err", err)
		return
	}
	s.readLoop(ctx, conn, dec, log)
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, dec decoder, log *slog.Logger) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				log.Warn("wsaudio: read failed", "err", err)
			}
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		samples, err := dec.decode(data)
		if err != nil {
			log.Warn("wsaudio: dropping undecodable frame", "err", err)
			continue
		}
		if !s.stream.Push(samples) {
			log.Debug("wsaudio: capture buffer full, frame dropped")
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, stop context.CancelFunc, conn *websocket.Conn, c *client, log *slog.Logger) {
	defer stop()
	rate := 0
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "audio closed or client too slow")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
			err := s.writeSpeech(wctx, conn, m, &rate)
			cancel()
			if err != nil {
				log.Debug("wsaudio: write failed", "err", err)
				return
			}
		}
	}
}

func (s *Server) writeSpeech(ctx context.Context, conn *websocket.Conn, m speech, rate *int) error {
	if m.rate != *rate {
		if err := wsjson.Write(ctx, conn, SpeechHeader{Type: "speech", SampleRate: m.rate}); err != nil {
			return err
		}
		*rate = m.rate
	}
	return conn.Write(ctx, websocket.MessageBinary, m.pcm)
}

var errCaptureBusy = errors.New("another client is capturing")

func (s *Server) register(capture bool) (*client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, audio.ErrClosed
	}
	if capture && s.capture != nil {
		return nil, errCaptureBusy
	}
	c := &client{send: make(chan speech, defaultClientBuffer)}
	s.clients[c] = struct{}{}
	if capture {
		s.capture = c
	}
	return c, nil
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
	if s.capture == c {
		s.capture = nil
	}
}

// Write implements [audio.Sink]. The speech is queued for every client;
// clients whose queue is full are disconnected.
func (s *Server) Write(ctx context.Context, pcm []byte, sampleRate int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrClosed
	}
	m := speech{pcm: pcm, rate: sampleRate}
	for c := range s.clients {
		select {
		case c.send <- m:
		default:
			delete(s.clients, c)
			if s.capture == c {
				s.capture = nil
			}
			close(c.send)
			s.log.Warn("wsaudio: dropped slow client")
		}
	}
	return nil
}

// Close disconnects every client, rejects new ones and ends the source with
// [audio.ErrClosed]. It is idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
	s.capture = nil
	s.mu.Unlock()
	return s.stream.Close()
}

// decoder turns one binary message into pipeline samples.
type decoder interface {
	decode(data []byte) ([]int16, error)
}

// newDecoder returns nil for listen-only clients.
func newDecoder(h Hello) (decoder, error) {
	if h.Format == "" {
		return nil, nil
	}
	if h.SampleRate <= 0 {
		h.SampleRate = audio.PipelineRate
	}
	if h.Channels <= 0 {
		h.Channels = 1
	}
	switch h.Format {
	case FormatPCM16:
		return pcmDecoder{rate: h.SampleRate, channels: h.Channels}, nil
	case FormatOpus:
		dec, err := gopus.NewDecoder(h.SampleRate, h.Channels)
		if err != nil {
			return nil, fmt.Errorf("opus decoder: %w", err)
		}
		return &opusDecoder{dec: dec, rate: h.SampleRate, channels: h.Channels}, nil
	default:
		return nil, fmt.Errorf("unsupported format %q", h.Format)
	}
}

type pcmDecoder struct {
	rate, channels int
}

func (d pcmDecoder) decode(data []byte) ([]int16, error) {
	if len(data)%(2*d.channels) != 0 {
		return nil, fmt.Errorf("pcm frame of %d bytes is not a whole number of samples", len(data))
	}
	return audio.ToPipeline(audio.AudioFrame{Data: data, SampleRate: d.rate, Channels: d.channels}), nil
}

type opusDecoder struct {
	dec            *gopus.Decoder
	rate, channels int
}

func (d *opusDecoder) decode(data []byte) ([]int16, error) {
	pcm, err := d.dec.Decode(data, d.rate*maxOpusFrameMs/1000, false)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return audio.Resample(audio.Downmix(pcm, d.channels), d.rate, audio.PipelineRate), nil
}
