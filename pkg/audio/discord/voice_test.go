package discord

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/hermes/pkg/audio"
)

// newTestVoice returns a Voice on fake OpusSend/OpusRecv channels without a
// real Discord connection.
func newTestVoice(t *testing.T, opts ...Option) (*Voice, *discordgo.VoiceConnection, *int) {
	t.Helper()
	vc := &discordgo.VoiceConnection{
		OpusSend: make(chan []byte, 64),
		OpusRecv: make(chan *discordgo.Packet, 16),
	}
	disconnects := 0
	v := newVoice(vc, func() error { disconnects++; return nil }, opts...)
	t.Cleanup(func() { _ = v.Close() })
	return v, vc, &disconnects
}

func silencePacket(t *testing.T) []byte {
	t.Helper()
	enc, err := newOpusEncoder()
	if err != nil {
		t.Fatalf("newOpusEncoder: %v", err)
	}
	p, err := enc.encode(make([]int16, opusFrameSamples))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return p
}

func TestVoice_CaptureDecodesToPipeline(t *testing.T) {
	t.Parallel()
	// 20 ms at 16 kHz is 320 samples.
	v, vc, _ := newTestVoice(t, WithBlockSize(320))
	if f := v.Format(); f.SampleRate != 16000 || f.Channels != 1 || f.BlockSize != 320 {
		t.Errorf("Format() = %v", f)
	}

	vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Opus: silencePacket(t)}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := v.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(b) != 320 {
		t.Errorf("block = %d samples, want 320", len(b))
	}
	if got := v.Speakers(time.Minute); len(got) != 1 || got[0] != 100 {
		t.Errorf("Speakers() = %v, want [100]", got)
	}
}

func TestVoice_SSRCFilter(t *testing.T) {
	t.Parallel()
	v, vc, _ := newTestVoice(t, WithBlockSize(320), WithSSRCs(200))
	packet := silencePacket(t)
	vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Opus: packet}
	vc.OpusRecv <- &discordgo.Packet{SSRC: 200, Opus: packet}
	close(vc.OpusRecv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := v.Read(ctx); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if _, err := v.Read(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("second Read = %v, want io.EOF after the filtered speaker", err)
	}
	if got := v.Speakers(time.Minute); len(got) != 1 || got[0] != 200 {
		t.Errorf("Speakers() = %v, want [200]", got)
	}
}

func TestVoice_WriteEncodesFrames(t *testing.T) {
	t.Parallel()
	v, vc, _ := newTestVoice(t)

	// 30 ms at 24 kHz: one full 20 ms frame plus a padded one.
	pcm := audio.Int16sToBytes(make([]int16, 720))
	if err := v.Write(context.Background(), pcm, 24000); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := len(vc.OpusSend); got != 2 {
		t.Fatalf("sent %d packets, want 2", got)
	}
	for range 2 {
		if p := <-vc.OpusSend; len(p) == 0 {
			t.Error("empty opus packet")
		}
	}
}

func TestVoice_WriteHonorsContext(t *testing.T) {
	t.Parallel()
	vc := &discordgo.VoiceConnection{OpusSend: make(chan []byte), OpusRecv: make(chan *discordgo.Packet)}
	v := newVoice(vc, nil)
	defer v.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := v.Write(ctx, audio.Int16sToBytes(make([]int16, 320)), 16000)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Write = %v, want deadline exceeded", err)
	}
}

func TestVoice_Close(t *testing.T) {
	t.Parallel()
	v, _, disconnects := newTestVoice(t)

	errc := make(chan error, 1)
	go func() {
		_, err := v.Read(context.Background())
		errc <- err
	}()
	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_ = v.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, audio.ErrClosed) {
			t.Errorf("Read = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read not unblocked by Close")
	}
	if *disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", *disconnects)
	}
	if err := v.Write(context.Background(), []byte{0, 0}, 16000); !errors.Is(err, audio.ErrClosed) {
		t.Errorf("Write after Close = %v, want ErrClosed", err)
	}
}
