package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hxnx/karaoke/internal/broadcast"
	"github.com/hxnx/karaoke/internal/database"
	"github.com/hxnx/karaoke/internal/music"
	"github.com/rs/zerolog"
)

const (
	ClientID = "discord-dashboard"

	minUpdateInterval = 5 * time.Second
	positionBucket    = 8 * time.Second
)

// MessageClient is the slice of the discord session the dashboard writes with.
type MessageClient interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
}

type QueueSource interface {
	QueueSnapshot() ([]music.QueueEntry, string)
}

// Dashboard keeps one now-playing message per guild in sync with the player.
// It is a broadcast client: pushes are folded into the latest state and a
// worker edits the messages, skipping renders that would look the same.
type Dashboard struct {
	client MessageClient
	repo   *database.DashboardRepository
	queue  QueueSource
	logger zerolog.Logger
	now    func() time.Time

	mu             sync.Mutex
	entries        map[string]database.DashboardEntry
	latest         music.NowPlaying
	hasLatest      bool
	lastKey        string
	lastContentKey string
	lastRender     time.Time

	notify chan struct{}
}

func New(client MessageClient, repo *database.DashboardRepository, queue QueueSource, logger zerolog.Logger) *Dashboard {
	return &Dashboard{
		client:  client,
		repo:    repo,
		queue:   queue,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]database.DashboardEntry),
		notify:  make(chan struct{}, 1),
	}
}

func (d *Dashboard) ID() string {
	return ClientID
}

func (d *Dashboard) View() broadcast.View {
	return broadcast.ViewNowPlaying
}

// Send never blocks; the worker picks up the newest state.
func (d *Dashboard) Send(msg broadcast.Message) error {
	d.mu.Lock()
	switch p := msg.Payload.(type) {
	case music.NowPlaying:
		d.latest = p
		d.hasLatest = true
	case broadcast.PositionUpdate:
		d.latest.SeektrackValue = p.Position
	default:
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
	return nil
}

// Load restores the dashboards saved in the database.
func (d *Dashboard) Load(ctx context.Context) error {
	entries, err := d.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load dashboards: %w", err)
	}

	d.mu.Lock()
	for _, e := range entries {
		d.entries[e.GuildID] = e
	}
	d.mu.Unlock()
	d.logger.Info().Int("count", len(entries)).Msg("dashboards loaded")
	return nil
}

func (d *Dashboard) Entry(guildID string) (database.DashboardEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[guildID]
	return e, ok
}

// Publish posts a fresh dashboard in channelID, replacing the guild's old one.
func (d *Dashboard) Publish(ctx context.Context, guildID, channelID string) (database.DashboardEntry, error) {
	if prev, ok := d.Entry(guildID); ok {
		if err := d.client.ChannelMessageDelete(prev.ChannelID, prev.MessageID); err != nil {
			d.logger.Debug().Err(err).Str("guild", guildID).Msg("failed to delete previous dashboard")
		}
	}

	np, count := d.current()
	msg, err := d.client.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Components: BuildComponents(np, count),
		Flags:      discordgo.MessageFlagsIsComponentsV2,
	})
	if err != nil {
		return database.DashboardEntry{}, fmt.Errorf("failed to send dashboard message: %w", err)
	}

	entry := database.DashboardEntry{GuildID: guildID, ChannelID: channelID, MessageID: msg.ID}
	d.mu.Lock()
	d.entries[guildID] = entry
	d.mu.Unlock()

	if err := d.repo.Upsert(ctx, entry); err != nil {
		d.logger.Warn().Err(err).Str("guild", guildID).Msg("failed to save dashboard entry")
	}
	return entry, nil
}

func (d *Dashboard) current() (music.NowPlaying, int) {
	d.mu.Lock()
	np := d.latest
	d.mu.Unlock()

	count := 0
	if d.queue != nil {
		entries, _ := d.queue.QueueSnapshot()
		count = len(entries)
	}
	return np, count
}

func (d *Dashboard) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.notify:
			d.Flush(ctx)
		}
	}
}

// Flush edits every dashboard message if the rendered content changed.
// Position-only changes are bucketed and rate limited.
func (d *Dashboard) Flush(ctx context.Context) {
	np, count := d.current()

	d.mu.Lock()
	if !d.hasLatest || len(d.entries) == 0 {
		d.mu.Unlock()
		return
	}
	key := renderKey(np, count)
	contentKey := renderKey(np.WithoutPosition(), count)
	if key == d.lastKey {
		d.mu.Unlock()
		return
	}
	if contentKey == d.lastContentKey && d.now().Sub(d.lastRender) < minUpdateInterval {
		d.mu.Unlock()
		return
	}
	d.lastKey = key
	d.lastContentKey = contentKey
	d.lastRender = d.now()
	entries := make([]database.DashboardEntry, 0, len(d.entries))
	for _, e := range d.entries {
		entries = append(entries, e)
	}
	d.mu.Unlock()

	components := BuildComponents(np, count)
	for _, e := range entries {
		_, err := d.client.ChannelMessageEditComplex(&discordgo.MessageEdit{
			ID:         e.MessageID,
			Channel:    e.ChannelID,
			Components: &components,
			Flags:      discordgo.MessageFlagsIsComponentsV2,
		})
		if err == nil {
			continue
		}
		if isNotFound(err) {
			d.logger.Info().Str("guild", e.GuildID).Msg("dashboard message is gone, forgetting it")
			d.forget(ctx, e.GuildID)
			continue
		}
		d.logger.Warn().Err(err).Str("guild", e.GuildID).Msg("dashboard update failed")
	}
}

func (d *Dashboard) forget(ctx context.Context, guildID string) {
	d.mu.Lock()
	delete(d.entries, guildID)
	d.mu.Unlock()
	if err := d.repo.Delete(ctx, guildID); err != nil {
		d.logger.Warn().Err(err).Str("guild", guildID).Msg("failed to delete dashboard entry")
	}
}

func renderKey(np music.NowPlaying, count int) string {
	np.SeektrackValue = float64(int(np.SeektrackValue / positionBucket.Seconds()))
	return fmt.Sprintf("%+v", buildSnapshot(np, count))
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}
