package bot

import (
	"errors"
	"sync"

	"github.com/bwmarrin/discordgo"
	commands "github.com/hxnx/karaoke/internal/features"
	"github.com/hxnx/karaoke/internal/music"
	"github.com/rs/zerolog"
)

var ErrMissingToken = errors.New("discord token is not set")

type Config struct {
	Token         string
	ApplicationID string
	GuildID       string
}

// PresenceSource supplies the song shown as the bot's status.
type PresenceSource interface {
	NowPlaying() music.NowPlaying
}

type Bot struct {
	config   Config
	session  *discordgo.Session
	handler  *commands.Handler
	presence PresenceSource
	logger   zerolog.Logger

	started      bool
	presenceStop chan struct{}
	presenceMu   sync.Mutex
	lastStatus   string
}

func New(cfg Config, logger zerolog.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds

	return &Bot{
		config:  cfg,
		session: s,
		logger:  logger,
	}, nil
}

// Session is exposed so the dashboard can write through the same connection.
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

func (b *Bot) Attach(handler *commands.Handler, presence PresenceSource) {
	b.handler = handler
	b.presence = presence
}

func (b *Bot) Start() error {
	if b.started {
		return nil
	}

	b.registerHandlers()
	if b.handler != nil {
		b.handler.AddHandlers(b.session)
	}

	if err := b.session.Open(); err != nil {
		return err
	}

	if b.handler != nil && b.config.ApplicationID != "" {
		if _, err := b.handler.RegisterCommands(b.session, b.config.ApplicationID, b.config.GuildID); err != nil {
			b.logger.Warn().Err(err).Msg("failed to register slash commands")
		}
	}

	b.startPresenceUpdater()
	b.started = true
	b.logger.Info().Msg("bot session opened")
	return nil
}

func (b *Bot) registerHandlers() {
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		if r.User != nil {
			b.logger.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("bot ready")
		} else {
			b.logger.Info().Msg("bot ready")
		}
		b.resetPresence()
	})
}

func (b *Bot) Stop() error {
	if !b.started {
		return nil
	}

	b.started = false
	b.stopPresenceUpdater()
	if err := b.session.Close(); err != nil {
		return err
	}
	b.logger.Info().Msg("bot session closed")
	return nil
}
