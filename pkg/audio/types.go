package audio

import "time"

// AudioFrame is a block of raw PCM as delivered by a transport, before it has
// been normalised to the pipeline format. Transports that receive audio at
// other rates or channel counts (Discord voice, remote clients) produce
// frames; [ToPipeline] turns them into pipeline samples.
type AudioFrame struct {
	// Data holds little-endian int16 PCM.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for Discord Opus, 16000 for the pipeline).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}
