package app

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/hermes/internal/config"
	"github.com/MrWong99/hermes/pkg/audio"
	"github.com/MrWong99/hermes/pkg/audio/discord"
	"github.com/MrWong99/hermes/pkg/audio/pcmstream"
	"github.com/MrWong99/hermes/pkg/audio/wsaudio"
	"github.com/MrWong99/hermes/pkg/types"
)

// discardSink drops speech. Synthesis still runs, so the queue keeps its
// timing without an output device.
var discardSink = audio.SinkFunc(func(context.Context, []byte, int) error { return nil })

// blockSize returns the number of samples per capture block: audio.block_size
// when set, otherwise the buffer of the configured mode.
func blockSize(cfg *config.Config) int {
	if cfg.Audio.BlockSize > 0 {
		return cfg.Audio.BlockSize
	}
	// BufferSize counts PCM16 bytes.
	return types.ProfileFor(cfg.Settings.Mode(cfg.Pipeline.App)).BufferSize / 2
}

// initAudio builds the capture source and the speech sink from audio.*
// unless they were injected.
func (a *App) initAudio() error {
	if a.source == nil {
		src, err := a.buildSource()
		if err != nil {
			return err
		}
		a.source = src
		a.closers = append(a.closers, src.Close)
	}
	if a.sink == nil {
		sink, err := a.buildSink()
		if err != nil {
			return err
		}
		a.sink = sink
	}
	return nil
}

func (a *App) buildSource() (audio.Source, error) {
	ac := a.cfg.Audio
	n := blockSize(a.cfg)
	switch ac.Source {
	case config.SourceStdin, config.SourceFile:
		path := "-"
		if ac.Source == config.SourceFile {
			path = ac.Path
		}
		opts := []pcmstream.SourceOption{pcmstream.WithBlockSize(n)}
		if ac.Realtime {
			opts = append(opts, pcmstream.WithRealtime())
		}
		src, err := pcmstream.Open(path, opts...)
		if err != nil {
			return nil, err
		}
		a.log.Info("audio source", "kind", ac.Source, "path", path, "block_size", n)
		return src, nil

	case config.SourceWebSocket:
		a.log.Info("audio source", "kind", ac.Source, "endpoint", "/audio", "block_size", n)
		return a.audioServer(), nil

	case config.SourceDiscord:
		v, err := a.joinDiscord()
		if err != nil {
			return nil, err
		}
		a.log.Info("audio source", "kind", ac.Source, "channel_id", ac.Discord.ChannelID, "block_size", n)
		return v, nil
	}
	return nil, fmt.Errorf("unknown audio source %q", ac.Source)
}

func (a *App) buildSink() (audio.Sink, error) {
	ac := a.cfg.Audio
	switch ac.Sink {
	case config.SinkNone, "":
		return discardSink, nil

	case config.SinkFile:
		s, err := pcmstream.Create(ac.SinkPath, ac.SinkRate)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		a.log.Info("speech sink", "kind", ac.Sink, "path", ac.SinkPath, "sample_rate", ac.SinkRate)
		return s, nil

	case config.SinkWebSocket:
		a.log.Info("speech sink", "kind", ac.Sink, "endpoint", "/audio")
		return a.audioServer(), nil

	case config.SinkDiscord:
		v, err := a.joinDiscord()
		if err != nil {
			return nil, err
		}
		a.log.Info("speech sink", "kind", ac.Sink, "channel_id", ac.Discord.ChannelID)
		return v, nil
	}
	return nil, fmt.Errorf("unknown speech sink %q", ac.Sink)
}

// audioServer returns the /audio websocket server, creating it on first use.
// Source and sink share it.
func (a *App) audioServer() *wsaudio.Server {
	if a.wsAudio == nil {
		a.wsAudio = wsaudio.New(
			wsaudio.WithBlockSize(blockSize(a.cfg)),
			wsaudio.WithOriginPatterns(a.cfg.Server.OriginPatterns...),
			wsaudio.WithLogger(a.log),
		)
		// Closing twice is harmless when it is also the source.
		a.closers = append(a.closers, a.wsAudio.Close)
	}
	return a.wsAudio
}

// joinDiscord opens the bot session and joins the configured voice channel,
// once. Source and sink share the voice connection.
func (a *App) joinDiscord() (*discord.Voice, error) {
	if a.voice != nil {
		return a.voice, nil
	}
	dc := a.cfg.Audio.Discord
	session, err := discordgo.New("Bot " + dc.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("open discord session: %w", err)
	}
	a.dsession = session
	a.closers = append(a.closers, session.Close)

	opts := []discord.Option{
		discord.WithBlockSize(blockSize(a.cfg)),
		discord.WithLogger(a.log),
	}
	if len(dc.SSRCs) > 0 {
		opts = append(opts, discord.WithSSRCs(dc.SSRCs...))
	}
	v, err := discord.Join(session, dc.GuildID, dc.ChannelID, opts...)
	if err != nil {
		return nil, err
	}
	a.voice = v
	a.closers = append(a.closers, v.Close)
	a.log.Info("joined discord voice channel", "guild_id", dc.GuildID, "channel_id", dc.ChannelID)
	return v, nil
}
