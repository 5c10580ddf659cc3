package discord

import (
	"fmt"

	"layeh.com/gopus"
)

// Discord voice uses 48 kHz stereo Opus at 20 ms frame size.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960

	// opusFrameSamples is the number of interleaved samples in one frame.
	opusFrameSamples = opusFrameSize * opusChannels

	// maxOpusPacket bounds an encoded frame.
	maxOpusPacket = 4000
)

// opusDecoder decodes the packets of a single SSRC. Opus decoding is
// stateful, so every speaker needs its own decoder.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

// decode returns interleaved 48 kHz stereo samples.
func (d *opusDecoder) decode(packet []byte) ([]int16, error) {
	pcm, err := d.dec.Decode(packet, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("discord: opus decode: %w", err)
	}
	return pcm, nil
}

type opusEncoder struct {
	enc *gopus.Encoder
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode encodes exactly one frame of interleaved 48 kHz stereo samples.
func (e *opusEncoder) encode(frame []int16) ([]byte, error) {
	packet, err := e.enc.Encode(frame, opusFrameSize, maxOpusPacket)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return packet, nil
}
