// Package discord captures and plays audio in a Discord voice channel via
// the bwmarrin/discordgo library.
//
// A [Voice] joins one channel. As an [audio.Source] it decodes the Opus
// packets of the speakers (optionally only some of them), downmixes and
// resamples them to the pipeline format. As an [audio.Sink] it encodes
// synthesized speech to 20 ms Opus frames and sends them to the channel.
// Packets of concurrent speakers are interleaved, not mixed; restrict the
// capture with [WithSSRCs] when several people talk at once.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/hermes/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Source = (*Voice)(nil)
	_ audio.Sink   = (*Voice)(nil)
)

// Option configures a [Voice].
type Option func(*Voice)

// WithBlockSize sets the number of pipeline samples per Read. Default: 2048.
func WithBlockSize(n int) Option {
	return func(v *Voice) {
		if n > 0 {
			v.blockSize = n
		}
	}
}

// WithSSRCs restricts capture to the given RTP sources. By default every
// speaker is captured.
func WithSSRCs(ssrcs ...uint32) Option {
	return func(v *Voice) {
		if v.allow == nil {
			v.allow = make(map[uint32]bool)
		}
		for _, s := range ssrcs {
			v.allow[s] = true
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(v *Voice) {
		v.log = l
	}
}

// Voice is a joined voice channel. It is safe for concurrent use.
type Voice struct {
	vc        *discordgo.VoiceConnection
	blockSize int
	allow     map[uint32]bool
	log       *slog.Logger

	stream *audio.Stream
	done   chan struct{}

	// disconnectVC tears down the voice connection. Defaults to
	// vc.Disconnect; replaced in tests.
	disconnectVC func() error

	sendMu sync.Mutex
	enc    *opusEncoder

	ssrcMu sync.Mutex
	ssrcs  map[uint32]time.Time // last packet per speaker
}

// Join joins channelID of guildID (unmuted, undeafened) and starts
// capturing.
func Join(session *discordgo.Session, guildID, channelID string, opts ...Option) (*Voice, error) {
	vc, err := session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	return newVoice(vc, vc.Disconnect, opts...), nil
}

func newVoice(vc *discordgo.VoiceConnection, disconnect func() error, opts ...Option) *Voice {
	v := &Voice{
		vc:           vc,
		blockSize:    2048,
		log:          slog.Default(),
		done:         make(chan struct{}),
		disconnectVC: disconnect,
		ssrcs:        make(map[uint32]time.Time),
	}
	for _, o := range opts {
		o(v)
	}
	v.stream = audio.NewStream(v.blockSize, 0)
	v.stream.OnClose(v.disconnect)
	go v.recvLoop()
	return v
}

// Format implements [audio.Source].
func (v *Voice) Format() audio.Format { return v.stream.Format() }

// Read implements [audio.Source].
func (v *Voice) Read(ctx context.Context) ([]int16, error) { return v.stream.Read(ctx) }

// Close leaves the voice channel and ends the source with [audio.ErrClosed].
// It is idempotent.
func (v *Voice) Close() error { return v.stream.Close() }

func (v *Voice) disconnect() error {
	close(v.done)
	if v.disconnectVC == nil {
		return nil
	}
	if err := v.disconnectVC(); err != nil {
		return fmt.Errorf("discord: disconnect: %w", err)
	}
	return nil
}

// Speakers returns the RTP sources heard within the last window.
func (v *Voice) Speakers(window time.Duration) []uint32 {
	v.ssrcMu.Lock()
	defer v.ssrcMu.Unlock()
	cutoff := time.Now().Add(-window)
	var out []uint32
	for ssrc, last := range v.ssrcs {
		if last.After(cutoff) {
			out = append(out, ssrc)
		}
	}
	return out
}

// recvLoop decodes incoming Opus packets per SSRC and pushes them into the
// capture stream.
func (v *Voice) recvLoop() {
	decoders := make(map[uint32]*opusDecoder)
	for {
		select {
		case <-v.done:
			return
		case pkt, ok := <-v.vc.OpusRecv:
			if !ok {
				v.stream.End()
				return
			}
			if pkt == nil || (v.allow != nil && !v.allow[pkt.SSRC]) {
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				if dec, err = newOpusDecoder(); err != nil {
					v.log.Error("discord: failed to create opus decoder", "ssrc", pkt.SSRC, "err", err)
					continue
				}
				decoders[pkt.SSRC] = dec
				v.log.Debug("discord: new speaker", "ssrc", pkt.SSRC)
			}
			v.ssrcMu.Lock()
			v.ssrcs[pkt.SSRC] = time.Now()
			v.ssrcMu.Unlock()

			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				v.log.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "err", err)
				continue
			}
			v.stream.Push(audio.Resample(audio.Downmix(pcm, opusChannels), opusSampleRate, audio.PipelineRate))
		}
	}
}

// Write implements [audio.Sink]. It converts pcm to 48 kHz stereo, pads the
// last frame with silence and sends every frame to the channel. Writes are
// serialized.
func (v *Voice) Write(ctx context.Context, pcm []byte, sampleRate int) error {
	select {
	case <-v.done:
		return audio.ErrClosed
	default:
	}

	v.sendMu.Lock()
	defer v.sendMu.Unlock()
	if v.enc == nil {
		enc, err := newOpusEncoder()
		if err != nil {
			return err
		}
		v.enc = enc
	}

	samples := audio.Upmix(audio.Resample(audio.BytesToInt16s(pcm), sampleRate, opusSampleRate), opusChannels)
	if len(samples) == 0 {
		return nil
	}
	if rem := len(samples) % opusFrameSamples; rem != 0 {
		samples = append(samples, make([]int16, opusFrameSamples-rem)...)
	}

	v.setSpeaking(true)
	defer v.setSpeaking(false)
	for off := 0; off < len(samples); off += opusFrameSamples {
		packet, err := v.enc.encode(samples[off : off+opusFrameSamples])
		if err != nil {
			return err
		}
		select {
		case v.vc.OpusSend <- packet:
		case <-ctx.Done():
			return ctx.Err()
		case <-v.done:
			return audio.ErrClosed
		}
	}
	return nil
}

func (v *Voice) setSpeaking(b bool) {
	if err := v.vc.Speaking(b); err != nil {
		v.log.Debug("discord: speaking notification failed", "speaking", b, "err", err)
	}
}
