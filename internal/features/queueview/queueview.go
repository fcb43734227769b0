package queueview

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/hxnx/karaoke/internal/features/shared"
	"github.com/hxnx/karaoke/internal/music"
	"github.com/samber/lo"
)

const (
	CustomIDPrefix = "karaoke_queue_page"
	DefaultPerPage = 10
	MaxPerPage     = 25
)

// PageInfo describes the slice [StartIndex, EndIndex) of the queue shown on Page.
type PageInfo struct {
	Page       int
	PerPage    int
	TotalItems int
	TotalPages int
	StartIndex int
	EndIndex   int
}

func Paginate(total, page, perPage int) PageInfo {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	perPage = min(perPage, MaxPerPage)

	pages := 1
	if total > 0 {
		pages = (total + perPage - 1) / perPage
	}
	page = max(1, min(page, pages))

	start := (page - 1) * perPage
	return PageInfo{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: pages,
		StartIndex: start,
		EndIndex:   min(start+perPage, total),
	}
}

// BuildQueueComponents renders one page of the waiting list with the singer
// next to every song.
func BuildQueueComponents(entries []music.QueueEntry, page, perPage int) ([]discordgo.MessageComponent, PageInfo) {
	info := Paginate(len(entries), page, perPage)

	list := "대기 중인 곡이 없습니다. `/노래방 검색`으로 곡을 추가해 보세요."
	if info.EndIndex > info.StartIndex {
		var b strings.Builder
		for i, e := range entries[info.StartIndex:info.EndIndex] {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "`%d.` %s", info.StartIndex+i+1, escape(songTitle(e)))
			if e.User != "" {
				fmt.Fprintf(&b, " · 🎤 %s", escape(e.User))
			}
		}
		list = b.String()
	}

	singers := lo.Uniq(lo.FilterMap(entries, func(e music.QueueEntry, _ int) (string, bool) {
		return e.User, e.User != ""
	}))
	summary := fmt.Sprintf("전체 **%d곡** · 참가자 **%d명**", info.TotalItems, len(singers))

	divider := true
	spacing := discordgo.SeparatorSpacingSizeSmall
	return []discordgo.MessageComponent{
		discordgo.Container{
			AccentColor: &shared.AccentColor,
			Components: []discordgo.MessageComponent{
				discordgo.TextDisplay{Content: "🎤 **노래방 대기열**"},
				discordgo.TextDisplay{Content: summary},
				discordgo.Separator{Divider: &divider, Spacing: &spacing},
				discordgo.TextDisplay{Content: list},
				discordgo.Separator{Divider: &divider, Spacing: &spacing},
				pageButtons(info),
			},
		},
	}, info
}

func pageButtons(info PageInfo) discordgo.ActionsRow {
	return discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.Button{
				Style:    discordgo.SecondaryButton,
				Label:    "◀",
				CustomID: MakeQueuePageCustomID(info.Page-1, info.PerPage),
				Disabled: info.Page == 1,
			},
			discordgo.Button{
				Style:    discordgo.SecondaryButton,
				Label:    fmt.Sprintf("%d / %d", info.Page, info.TotalPages),
				CustomID: CustomIDPrefix + ":indicator",
				Disabled: true,
			},
			discordgo.Button{
				Style:    discordgo.SecondaryButton,
				Label:    "▶",
				CustomID: MakeQueuePageCustomID(info.Page+1, info.PerPage),
				Disabled: info.Page == info.TotalPages,
			},
		},
	}
}

func songTitle(e music.QueueEntry) string {
	if title := strings.TrimSpace(e.Title); title != "" {
		return title
	}
	return music.TitleFromPath(e.File)
}

func MakeQueuePageCustomID(page, perPage int) string {
	page = max(page, 1)
	perPage = max(1, min(perPage, MaxPerPage))
	return CustomIDPrefix + ":" + strconv.Itoa(page) + ":" + strconv.Itoa(perPage)
}

// ParseQueuePageCustomID accepts ids of the form prefix:page:perPage.
func ParseQueuePageCustomID(customID string) (page, perPage int, ok bool) {
	rest, found := strings.CutPrefix(customID, CustomIDPrefix+":")
	if !found {
		return 0, 0, false
	}
	pageText, perPageText, found := strings.Cut(rest, ":")
	if !found || strings.Contains(perPageText, ":") {
		return 0, 0, false
	}

	page, err := strconv.Atoi(pageText)
	if err != nil || page < 1 {
		return 0, 0, false
	}
	perPage, err = strconv.Atoi(perPageText)
	if err != nil || perPage < 1 {
		return 0, 0, false
	}
	return page, min(perPage, MaxPerPage), true
}

func escape(text string) string {
	return strings.NewReplacer("*", "\\*", "_", "\\_", "`", "\\`", "~", "\\~", "|", "\\|").Replace(text)
}
