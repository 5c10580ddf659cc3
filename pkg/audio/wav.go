package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// wavHeaderSize is the size of the canonical header written by [EncodeWAV].
const wavHeaderSize = 44

// WAVInfo is the format metadata of a RIFF/WAVE container.
type WAVInfo struct {
	// DataOffset is the byte offset of the first PCM sample.
	DataOffset int

	// DataSize is the declared length of the data chunk. It may exceed the
	// bytes actually present when the file was written by a streaming encoder.
	DataSize int

	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Data returns the PCM payload of wav described by i. A zero or oversized
// declared length (as written by streaming encoders) extends to the end of
// the buffer.
func (i WAVInfo) Data(wav []byte) []byte {
	end := i.DataOffset + i.DataSize
	if i.DataSize == 0 || end > len(wav) {
		end = len(wav)
	}
	return wav[i.DataOffset:end]
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM in a canonical 44-byte
// RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bits = 16
	byteRate := sampleRate * channels * bits / 8
	blockAlign := channels * bits / 8
	dataSize := len(pcm)

	buf := make([]byte, wavHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bits)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// ParseWAV walks the RIFF chunks of wav and returns the format of the "fmt "
// chunk and the position of the "data" chunk. Chunk sizes are honoured, so
// headers with extension fields or LIST chunks parse correctly.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, errors.New("audio: wav: too short to be a RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return WAVInfo{}, errors.New("audio: wav: missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("audio: wav: missing WAVE identifier")
	}

	var (
		info     WAVInfo
		foundFmt bool
	)
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch id {
		case "fmt ":
			if size < 16 || offset+8+16 > len(wav) {
				return WAVInfo{}, fmt.Errorf("audio: wav: fmt chunk too short (%d bytes)", size)
			}
			f := wav[offset+8:]
			if format := binary.LittleEndian.Uint16(f[0:2]); format != 1 {
				return WAVInfo{}, fmt.Errorf("audio: wav: unsupported format tag %d", format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(f[14:16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return WAVInfo{}, errors.New("audio: wav: data chunk before fmt chunk")
			}
			info.DataOffset = offset + 8
			info.DataSize = size
			return info, nil
		}

		// Chunks are word-aligned.
		offset += 8 + size
		if size%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("audio: wav: missing data chunk")
}

// WAVToPipeline parses wav and converts its samples to 16 kHz mono. Only
// 16-bit PCM is accepted.
func WAVToPipeline(wav []byte) ([]int16, WAVInfo, error) {
	info, err := ParseWAV(wav)
	if err != nil {
		return nil, WAVInfo{}, err
	}
	if info.BitsPerSample != 16 {
		return nil, info, fmt.Errorf("audio: wav: unsupported bit depth %d", info.BitsPerSample)
	}
	samples := BytesToInt16s(info.Data(wav))
	samples = Downmix(samples, info.Channels)
	return Resample(samples, info.SampleRate, PipelineRate), info, nil
}
