package bot

import (
	"fmt"
	"time"

	"github.com/hxnx/karaoke/internal/music"
)

const (
	presenceUpdateInterval = 15 * time.Second
	idleStatus             = "노래방 대기 중"
	maxStatusLength        = 120
)

func (b *Bot) startPresenceUpdater() {
	if b.presenceStop != nil || b.presence == nil {
		return
	}
	stop := make(chan struct{})
	b.presenceStop = stop
	go func() {
		ticker := time.NewTicker(presenceUpdateInterval)
		defer ticker.Stop()

		b.updatePresence()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				b.updatePresence()
			}
		}
	}()
}

func (b *Bot) stopPresenceUpdater() {
	if b.presenceStop == nil {
		return
	}
	close(b.presenceStop)
	b.presenceStop = nil
}

func (b *Bot) updatePresence() {
	if b.presence == nil {
		return
	}
	status := presenceText(b.presence.NowPlaying())

	b.presenceMu.Lock()
	defer b.presenceMu.Unlock()
	if status == b.lastStatus {
		return
	}
	if err := b.session.UpdateGameStatus(0, status); err != nil {
		b.logger.Warn().Err(err).Msg("failed to update presence")
		return
	}
	b.lastStatus = status
}

func presenceText(np music.NowPlaying) string {
	if np.NowPlaying == "" {
		return idleStatus
	}
	status := "🎤 " + np.NowPlaying
	if np.NowPlayingUser != "" {
		status += fmt.Sprintf(" - %s", np.NowPlayingUser)
	}
	if r := []rune(status); len(r) > maxStatusLength {
		status = string(r[:maxStatusLength-1]) + "…"
	}
	return status
}

// resetPresence forces the next update through, since a reconnect clears
// the status on discord's side.
func (b *Bot) resetPresence() {
	b.presenceMu.Lock()
	b.lastStatus = ""
	b.presenceMu.Unlock()
	b.updatePresence()
}
