package audio

import (
	"encoding/binary"
	"testing"
)

func TestEncodeParseWAV(t *testing.T) {
	t.Parallel()
	pcm := Int16sToBytes([]int16{1, -2, 3, -4})
	wav := EncodeWAV(pcm, 22050, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	info, err := ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.DataOffset != 44 {
		t.Errorf("DataOffset = %d, want 44", info.DataOffset)
	}
	if info.DataSize != len(pcm) {
		t.Errorf("DataSize = %d, want %d", info.DataSize, len(pcm))
	}
	if info.SampleRate != 22050 || info.Channels != 1 || info.BitsPerSample != 16 {
		t.Errorf("format = %d/%d/%d, want 22050/1/16", info.SampleRate, info.Channels, info.BitsPerSample)
	}
}

func TestParseWAV_SkipsUnknownChunks(t *testing.T) {
	t.Parallel()
	base := EncodeWAV([]byte{1, 0, 2, 0}, 16000, 1)

	// Insert an odd-sized LIST chunk (plus pad byte) between fmt and data.
	list := []byte("LIST")
	list = binary.LittleEndian.AppendUint32(list, 3)
	list = append(list, 'a', 'b', 'c', 0)

	wav := append([]byte{}, base[:36]...)
	wav = append(wav, list...)
	wav = append(wav, base[36:]...)

	info, err := ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if want := 36 + len(list) + 8; info.DataOffset != want {
		t.Errorf("DataOffset = %d, want %d", info.DataOffset, want)
	}
}

func TestParseWAV_Invalid(t *testing.T) {
	t.Parallel()
	good := EncodeWAV([]byte{0, 0}, 16000, 1)
	float := append([]byte{}, good...)
	binary.LittleEndian.PutUint16(float[20:22], 3)

	tests := []struct {
		name string
		wav  []byte
	}{
		{"too short", []byte("RIFF")},
		{"no riff", append([]byte("RIFX"), good[4:]...)},
		{"no wave", append(append([]byte{}, good[:8]...), append([]byte("AVI "), good[12:]...)...)},
		{"no data", good[:36]},
		{"float format", float},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseWAV(tc.wav); err == nil {
				t.Error("ParseWAV returned nil error")
			}
		})
	}
}

func TestWAVToPipeline(t *testing.T) {
	t.Parallel()
	// 32 kHz stereo, 8 frames of (100, 300) -> 4 mono samples of 200.
	stereo := make([]int16, 0, 16)
	for range 8 {
		stereo = append(stereo, 100, 300)
	}
	wav := EncodeWAV(Int16sToBytes(stereo), 32000, 2)

	samples, info, err := WAVToPipeline(wav)
	if err != nil {
		t.Fatalf("WAVToPipeline: %v", err)
	}
	if info.Channels != 2 {
		t.Errorf("Channels = %d, want 2", info.Channels)
	}
	if len(samples) != 4 {
		t.Fatalf("len(samples) = %d, want 4", len(samples))
	}
	for i, s := range samples {
		if s != 200 {
			t.Errorf("samples[%d] = %d, want 200", i, s)
		}
	}
}
