package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hxnx/karaoke/internal/features/dashboard"
	"github.com/hxnx/karaoke/internal/features/queueview"
	"github.com/hxnx/karaoke/internal/features/search"
	"github.com/hxnx/karaoke/internal/features/shared"
	"github.com/hxnx/karaoke/internal/music"
	"github.com/rs/zerolog"
)

const (
	commandKaraoke   = "노래방"
	commandDashboard = "대시보드"

	searchTimeout  = 60 * time.Second
	actionTimeout  = 15 * time.Second
	defaultRandom  = 3
	maxRandomBatch = 20
)

var (
	minTranspose = float64(-12)
	maxTranspose = float64(12)
	minRandom    = float64(1)
	maxRandom    = float64(maxRandomBatch)
)

// Karaoke is the music service as seen from discord.
type Karaoke interface {
	dashboard.Controls
	QueueSnapshot() ([]music.QueueEntry, string)
	Download(req music.DownloadRequest) string
}

type Searcher interface {
	KaraokeSearch(ctx context.Context, title string) ([]music.SearchResult, error)
}

// Handler owns the slash commands and component routing of the bot.
type Handler struct {
	karaoke   Karaoke
	searcher  Searcher
	dashboard *dashboard.Dashboard
	sessions  *search.Store
	logger    zerolog.Logger

	commandHandlers map[string]func(s *discordgo.Session, i *discordgo.InteractionCreate)
}

func New(karaoke Karaoke, searcher Searcher, dash *dashboard.Dashboard, logger zerolog.Logger) *Handler {
	h := &Handler{
		karaoke:   karaoke,
		searcher:  searcher,
		dashboard: dash,
		sessions:  search.NewStore(),
		logger:    logger,
	}
	h.commandHandlers = map[string]func(s *discordgo.Session, i *discordgo.InteractionCreate){
		commandKaraoke: h.handleKaraokeCommand,
	}
	if dash != nil {
		h.commandHandlers[commandDashboard] = dash.Setup
	}
	return h
}

var CommandList = []*discordgo.ApplicationCommand{
	{
		Name:        commandKaraoke,
		Description: "노래방 재생/관리 명령어",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "검색",
				Description: "유튜브에서 노래방 영상을 검색합니다",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "제목",
						Description: "가수와 노래 제목",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "다운로드",
				Description: "URL의 영상을 받아 대기열에 추가합니다",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "url",
						Description: "영상 주소",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        "자막",
						Description: "자막도 함께 받습니다",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "대기열",
				Description: "현재 대기열을 표시합니다",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "limit",
						Description: "페이지당 곡 수",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "스킵",
				Description: "현재 곡을 건너뜁니다",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "일시정지",
				Description: "일시정지하거나 다시 재생합니다",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "랜덤",
				Description: "라이브러리에서 무작위로 곡을 추가합니다",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "개수",
						Description: "추가할 곡 수",
						MinValue:    &minRandom,
						MaxValue:    maxRandom,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "키",
				Description: "현재 곡의 키를 바꿉니다",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "값",
						Description: "반음 단위 (-12 ~ 12)",
						Required:    true,
						MinValue:    &minTranspose,
						MaxValue:    maxTranspose,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "보컬",
				Description: "보컬 모드를 바꿉니다",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "모드",
						Description: "원곡/MR/보컬만",
						Required:    true,
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "원곡", Value: string(music.VocalModeMixed)},
							{Name: "MR", Value: string(music.VocalModeNonvocal)},
							{Name: "보컬만", Value: string(music.VocalModeVocal)},
						},
					},
				},
			},
		},
	},
	{
		Name:        commandDashboard,
		Description: "노래방 대시보드를 설정합니다",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:         discordgo.ApplicationCommandOptionChannel,
				Name:         "category",
				Description:  "대시보드 채널을 생성할 카테고리",
				ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildCategory},
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "channel_name",
				Description: "대시보드 채널 이름 (기본: " + dashboard.DefaultChannelName + ")",
			},
		},
	},
}

func (h *Handler) RegisterCommands(s *discordgo.Session, appID string, guildID string) ([]*discordgo.ApplicationCommand, error) {
	scope := "global"
	if guildID != "" {
		scope = fmt.Sprintf("guild:%s", guildID)
	}
	h.logger.Info().Int("count", len(CommandList)).Str("scope", scope).Msg("registering commands")

	cmds, err := s.ApplicationCommandBulkOverwrite(appID, guildID, CommandList)
	if err != nil {
		return nil, fmt.Errorf("cannot bulk overwrite commands: %w", err)
	}
	return cmds, nil
}

func (h *Handler) AddHandlers(s *discordgo.Session) {
	s.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		switch i.Type {
		case discordgo.InteractionApplicationCommand:
			data := i.ApplicationCommandData()
			if handler, ok := h.commandHandlers[data.Name]; ok {
				handler(s, i)
			}
		case discordgo.InteractionModalSubmit:
			if i.ModalSubmitData().CustomID == dashboard.SearchModalID {
				h.handleSearchModal(s, i)
			}
		case discordgo.InteractionMessageComponent:
			h.routeComponent(s, i)
		}
	})
}

func (h *Handler) routeComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	customID := i.MessageComponentData().CustomID

	if page, perPage, ok := queueview.ParseQueuePageCustomID(customID); ok {
		entries, _ := h.karaoke.QueueSnapshot()
		components, _ := queueview.BuildQueueComponents(entries, page, perPage)
		h.check(shared.UpdateComponents(s, i, components))
		return
	}

	switch customID {
	case search.CustomIDPrefix:
		h.handleSearchSelect(s, i)
		return
	case dashboard.ButtonQueue:
		h.respondQueue(s, i, queueview.DefaultPerPage)
		return
	case dashboard.ButtonSearch:
		h.check(s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseModal,
			Data: dashboard.SearchModal(),
		}))
		return
	}

	if !strings.HasPrefix(customID, dashboard.ButtonPrefix) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	reply, handled := dashboard.HandleControl(ctx, h.karaoke, customID)
	if !handled {
		return
	}
	if reply == "" {
		h.check(shared.DeferUpdate(s, i))
		return
	}
	h.check(shared.RespondEphemeral(s, i, reply))
}

func (h *Handler) handleKaraokeCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sub := shared.GetSubcommand(i.ApplicationCommandData())
	if sub == nil {
		h.check(shared.RespondEphemeral(s, i, "사용할 명령을 선택해 주세요."))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	switch sub.Name {
	case "검색":
		h.handleSearchCommand(s, i, shared.GetOptionString(sub.Options, "제목"))
	case "다운로드":
		h.check(shared.RespondEphemeral(s, i, h.startDownload(i, shared.GetOptionString(sub.Options, "url"), shared.GetOptionBool(sub.Options, "자막"))))
	case "대기열":
		limit, _ := shared.GetOptionInt(sub.Options, "limit")
		h.respondQueue(s, i, limit)
	case "랜덤":
		n, ok := shared.GetOptionInt(sub.Options, "개수")
		if !ok {
			n = defaultRandom
		}
		h.check(shared.RespondEphemeral(s, i, randomReply(h.karaoke.AddRandom(n), n)))
	default:
		h.check(shared.RespondEphemeral(s, i, runPlayerCommand(ctx, h.karaoke, sub)))
	}
}

// runPlayerCommand handles the subcommands that act on the current song.
func runPlayerCommand(ctx context.Context, k Karaoke, sub *discordgo.ApplicationCommandInteractionDataOption) string {
	switch sub.Name {
	case "스킵":
		if !k.Skip(ctx) {
			return "재생 중인 곡이 없습니다."
		}
		return "현재 곡을 건너뛰었습니다."
	case "일시정지":
		if !k.TogglePause(ctx) {
			return "재생 중인 곡이 없습니다."
		}
		if k.NowPlaying().IsPaused {
			return "일시정지했습니다."
		}
		return "다시 재생합니다."
	case "키":
		value, _ := shared.GetOptionInt(sub.Options, "값")
		if !k.Transpose(ctx, value) {
			return "키를 변경할 수 없습니다."
		}
		return fmt.Sprintf("키를 %+d(으)로 변경했습니다.", value)
	case "보컬":
		mode, ok := music.ParseVocalMode(shared.GetOptionString(sub.Options, "모드"))
		if !ok || mode == music.VocalModeCurrent {
			return "지원하지 않는 보컬 모드입니다."
		}
		if !k.SetVocalMode(ctx, mode, false) {
			return "보컬 모드를 변경할 수 없습니다."
		}
		return "보컬 모드를 변경했습니다."
	}
	return "지원하지 않는 노래방 명령입니다."
}

func randomReply(ok bool, n int) string {
	if !ok {
		return "추가할 수 있는 곡이 부족합니다."
	}
	return fmt.Sprintf("랜덤으로 %d곡을 대기열에 추가했습니다.", n)
}

func (h *Handler) startDownload(i *discordgo.InteractionCreate, url string, subtitles bool) string {
	url = strings.TrimSpace(url)
	if url == "" {
		return "URL을 입력해 주세요."
	}
	h.karaoke.Download(music.DownloadRequest{
		URL:       url,
		User:      shared.GetInteractionUserName(i),
		Enqueue:   true,
		Subtitles: subtitles,
	})
	return "다운로드를 시작했습니다. 완료되면 대기열에 추가됩니다."
}

func (h *Handler) respondQueue(s *discordgo.Session, i *discordgo.InteractionCreate, perPage int) {
	entries, _ := h.karaoke.QueueSnapshot()
	if len(entries) == 0 {
		h.check(shared.RespondEphemeral(s, i, "대기열이 비어 있습니다."))
		return
	}
	components, _ := queueview.BuildQueueComponents(entries, 1, perPage)
	h.check(shared.RespondComponents(s, i, components, true))
}

func (h *Handler) handleSearchCommand(s *discordgo.Session, i *discordgo.InteractionCreate, query string) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}); err != nil {
		h.logger.Warn().Err(err).Msg("search: defer failed")
		return
	}
	h.followup(s, i, h.searchComponents(i, query))
}

func (h *Handler) handleSearchModal(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}); err != nil {
		h.logger.Warn().Err(err).Msg("search: defer failed")
		return
	}
	query := dashboard.ModalInputValue(i.ModalSubmitData(), dashboard.SearchInputID)
	h.followup(s, i, h.searchComponents(i, query))
}

// searchComponents runs the search and remembers the results for the select menu.
func (h *Handler) searchComponents(i *discordgo.InteractionCreate, query string) []discordgo.MessageComponent {
	query = strings.TrimSpace(query)
	if query == "" {
		return shared.NoticeComponents("입력값이 비어 있습니다.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
	defer cancel()

	results, err := h.searcher.KaraokeSearch(ctx, query)
	if err != nil {
		if !errors.Is(err, music.ErrMissingQuery) {
			h.logger.Warn().Err(err).Str("query", query).Msg("search failed")
		}
		return shared.NoticeComponents("검색에 실패했습니다.")
	}
	if len(results) > search.MaxSelectOptions {
		results = results[:search.MaxSelectOptions]
	}

	h.sessions.Save(search.Session{
		GuildID: i.GuildID,
		UserID:  shared.GetInteractionUserID(i),
		Query:   query,
		Results: results,
	})
	return search.BuildSearchComponents(query, results)
}

func (h *Handler) handleSearchSelect(s *discordgo.Session, i *discordgo.InteractionCreate) {
	values := i.MessageComponentData().Values
	if len(values) == 0 {
		h.check(shared.DeferUpdate(s, i))
		return
	}

	userID := shared.GetInteractionUserID(i)
	result, ok := h.sessions.Pick(i.GuildID, userID, values[0])
	if !ok {
		h.check(shared.RespondEphemeral(s, i, "검색 결과가 만료되었습니다. 다시 검색해 주세요."))
		return
	}
	h.sessions.Delete(i.GuildID, userID)

	reply := h.startDownload(i, result.URL, false)
	h.check(shared.UpdateComponents(s, i, shared.NoticeComponents(fmt.Sprintf("**%s**\n%s", search.EscapeMarkdown(result.Title), reply))))
}

func (h *Handler) followup(s *discordgo.Session, i *discordgo.InteractionCreate, components []discordgo.MessageComponent) {
	_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Components: components,
		Flags:      discordgo.MessageFlagsEphemeral | discordgo.MessageFlagsIsComponentsV2,
	})
	if err != nil {
		h.logger.Warn().Err(err).Msg("followup failed")
	}
}

func (h *Handler) check(err error) {
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to respond")
	}
}
