package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hxnx/karaoke/internal/features/shared"
)

// Setup handles the dashboard slash command: it finds or creates the
// dashboard channel and posts a new dashboard there.
func (d *Dashboard) Setup(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		d.respond(s, i, "이 명령어는 서버에서만 사용하실 수 있습니다.")
		return
	}
	if !shared.HasManageChannels(i) {
		d.respond(s, i, "채널을 설정할 권한이 없습니다.")
		return
	}

	categoryID, channelName := parseSetupOptions(i)
	if channelName == "" {
		channelName = DefaultChannelName
	}

	channelID := ""
	if categoryID == "" && channelName == DefaultChannelName {
		if entry, ok := d.Entry(i.GuildID); ok {
			if _, err := s.Channel(entry.ChannelID); err == nil {
				channelID = entry.ChannelID
			}
		}
	}

	if channelID == "" {
		if channels, err := s.GuildChannels(i.GuildID); err == nil {
			channelID = findTextChannel(channels, channelName, categoryID)
		}
	}

	if channelID == "" {
		channel, err := s.GuildChannelCreateComplex(i.GuildID, discordgo.GuildChannelCreateData{
			Name:     channelName,
			Type:     discordgo.ChannelTypeGuildText,
			ParentID: categoryID,
		})
		if err != nil {
			d.logger.Error().Err(err).Str("guild", i.GuildID).Msg("failed to create dashboard channel")
			d.respond(s, i, "대시보드 채널 생성에 실패했습니다.")
			return
		}
		channelID = channel.ID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := d.Publish(ctx, i.GuildID, channelID); err != nil {
		d.logger.Error().Err(err).Str("guild", i.GuildID).Msg("failed to publish dashboard")
		d.respond(s, i, "대시보드 메시지 생성에 실패했습니다.")
		return
	}

	d.respond(s, i, fmt.Sprintf("대시보드 채널을 설정했습니다.\n<#%s>", channelID))
}

func (d *Dashboard) respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if err := shared.RespondEphemeral(s, i, content); err != nil {
		d.logger.Warn().Err(err).Msg("failed to respond")
	}
}

func findTextChannel(channels []*discordgo.Channel, name, categoryID string) string {
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText || ch.Name != name {
			continue
		}
		if categoryID == "" || ch.ParentID == categoryID {
			return ch.ID
		}
	}
	return ""
}

func parseSetupOptions(i *discordgo.InteractionCreate) (string, string) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return "", ""
	}

	var categoryID, channelName string
	for _, opt := range i.ApplicationCommandData().Options {
		switch opt.Name {
		case "category":
			categoryID = opt.StringValue()
		case "channel_name":
			channelName = opt.StringValue()
		}
	}
	return categoryID, channelName
}
