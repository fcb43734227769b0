package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const repoTimeout = 2 * time.Second

// DashboardEntry locates the Discord message that renders the now-playing
// dashboard for a guild.
type DashboardEntry struct {
	GuildID   string
	ChannelID string
	MessageID string
}

// DashboardRepository is nil-safe: without a database every call is a no-op,
// so the bot runs without postgres and simply forgets dashboards on restart.
type DashboardRepository struct {
	db *sql.DB
}

func NewDashboardRepository(db *sql.DB) *DashboardRepository {
	return &DashboardRepository{db: db}
}

func (r *DashboardRepository) Upsert(ctx context.Context, entry DashboardEntry) error {
	if r == nil || r.db == nil {
		return nil
	}
	if entry.GuildID == "" || entry.ChannelID == "" || entry.MessageID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	const query = `
		INSERT INTO dashboard_entries (guild_id, channel_id, message_id, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (guild_id)
		DO UPDATE SET
			channel_id = EXCLUDED.channel_id,
			message_id = EXCLUDED.message_id,
			updated_at = NOW()`

	_, err := r.db.ExecContext(ctx, query, entry.GuildID, entry.ChannelID, entry.MessageID)
	return err
}

func (r *DashboardRepository) Get(ctx context.Context, guildID string) (DashboardEntry, bool, error) {
	if r == nil || r.db == nil || guildID == "" {
		return DashboardEntry{}, false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	const query = `SELECT channel_id, message_id FROM dashboard_entries WHERE guild_id = $1`

	entry := DashboardEntry{GuildID: guildID}
	err := r.db.QueryRowContext(ctx, query, guildID).Scan(&entry.ChannelID, &entry.MessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return DashboardEntry{}, false, nil
	}
	if err != nil {
		return DashboardEntry{}, false, err
	}
	return entry, true, nil
}

// List returns every stored dashboard, used to reattach them at startup.
func (r *DashboardRepository) List(ctx context.Context) ([]DashboardEntry, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT guild_id, channel_id, message_id FROM dashboard_entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DashboardEntry
	for rows.Next() {
		var e DashboardEntry
		if err := rows.Scan(&e.GuildID, &e.ChannelID, &e.MessageID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *DashboardRepository) Delete(ctx context.Context, guildID string) error {
	if r == nil || r.db == nil || guildID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `DELETE FROM dashboard_entries WHERE guild_id = $1`, guildID)
	return err
}
