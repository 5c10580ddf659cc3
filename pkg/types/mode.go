package types

import (
	"strings"
	"time"
)

// Mode is a named tuning profile selecting capture block size, silence
// hangover and the target utterance length.
type Mode string

const (
	ModeGame   Mode = "game"
	ModeMovie  Mode = "movie"
	ModeStream Mode = "stream"
	ModeFast   Mode = "fast"

	// ModeAuto selects a mode from the captured application name via
	// [ModeForApp]. It never appears in a [ModeProfile].
	ModeAuto Mode = "auto"
)

// ModeProfile holds the tuning constants for a [Mode].
type ModeProfile struct {
	Mode Mode

	// DisplayName is shown in the overlay and in logs.
	DisplayName string

	// Delay is how long the audio may stay below the energy threshold before
	// an utterance being accumulated is closed.
	Delay time.Duration

	// BufferSize is the number of bytes read from the audio source per block.
	BufferSize int

	// ChunkDuration is the target length of an emitted utterance chunk. The
	// minimum viable chunk is half of it.
	ChunkDuration time.Duration
}

// EmitBytes returns the chunk size in bytes at which the segmenter emits.
func (p ModeProfile) EmitBytes() int {
	return int(p.ChunkDuration.Milliseconds()) * SampleRate / 1000 * BytesPerSample
}

// MinBytes returns the minimum viable chunk size in bytes.
func (p ModeProfile) MinBytes() int {
	return p.EmitBytes() / 2
}

var modeProfiles = map[Mode]ModeProfile{
	ModeGame: {
		Mode:          ModeGame,
		DisplayName:   "Game",
		Delay:         100 * time.Millisecond,
		BufferSize:    4096,
		ChunkDuration: 500 * time.Millisecond,
	},
	ModeMovie: {
		Mode:          ModeMovie,
		DisplayName:   "Movie",
		Delay:         200 * time.Millisecond,
		BufferSize:    8192,
		ChunkDuration: time.Second,
	},
	ModeStream: {
		Mode:          ModeStream,
		DisplayName:   "Stream",
		Delay:         150 * time.Millisecond,
		BufferSize:    6144,
		ChunkDuration: 750 * time.Millisecond,
	},
	ModeFast: {
		Mode:          ModeFast,
		DisplayName:   "Fast",
		Delay:         50 * time.Millisecond,
		BufferSize:    2048,
		ChunkDuration: 500 * time.Millisecond,
	},
}

// Modes returns all known concrete modes in a stable order.
func Modes() []Mode {
	return []Mode{ModeGame, ModeMovie, ModeStream, ModeFast}
}

// LookupMode returns the profile for m and whether m is a known mode.
func LookupMode(m Mode) (ModeProfile, bool) {
	p, ok := modeProfiles[Mode(strings.ToLower(string(m)))]
	return p, ok
}

// ProfileFor returns the profile for m, falling back to [ModeGame] for
// unknown modes.
func ProfileFor(m Mode) ModeProfile {
	if p, ok := LookupMode(m); ok {
		return p
	}
	return modeProfiles[ModeGame]
}

// Application classes used by ModeForApp.
var (
	remotePlayApps = []string{
		"com.playstation.remoteplay",
		"com.scee.psxandroid",
		"com.playstation.psplay",
		"remoteplay",
	}
	gameStreamingApps = []string{
		"com.nvidia.geforcenow",
		"com.google.stadia.android",
		"com.microsoft.xcloud",
		"com.valvesoftware.steamlink",
		"tv.parsec.client",
		"com.rainway",
		"com.moonlight_stream.android",
		"geforcenow",
		"steamlink",
		"parsec",
		"moonlight",
	}
	videoStreamingApps = []string{
		"com.google.android.youtube",
		"com.netflix.mediaclient",
		"com.amazon.avod.thirdpartyclient",
		"com.disney.disneyplus",
		"com.hbo.hbonow",
		"com.apple.atve.androidtv.appletv",
		"com.crunchyroll.crunchyroid",
		"netflix",
		"youtube",
		"crunchyroll",
	}
	liveStreamingApps = []string{
		"tv.twitch.android.app",
		"twitch",
		"obs",
	}
)

// ModeForApp classifies the name of the application whose audio is being
// captured (a package name or a process name) into a [Mode]. Remote-play and
// game-streaming clients map to [ModeGame], video services to [ModeMovie]
// and live-streaming clients to [ModeStream]. Anything else is [ModeGame].
func ModeForApp(app string) Mode {
	app = strings.ToLower(strings.TrimSpace(app))
	if app == "" {
		return ModeGame
	}
	switch {
	case matchesAny(app, remotePlayApps), matchesAny(app, gameStreamingApps):
		return ModeGame
	case matchesAny(app, videoStreamingApps):
		return ModeMovie
	case matchesAny(app, liveStreamingApps):
		return ModeStream
	default:
		return ModeGame
	}
}

func matchesAny(app string, names []string) bool {
	for _, n := range names {
		if app == n || strings.Contains(app, n) {
			return true
		}
	}
	return false
}
