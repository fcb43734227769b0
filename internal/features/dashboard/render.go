package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hxnx/karaoke/internal/music"
)

const (
	DefaultChannelName = "🎤-karaoke"
	progressBarSize    = 14
)

// Button custom ids. Everything under the "dashboard_" prefix is routed here.
const (
	ButtonPrefix    = "dashboard_"
	ButtonPause     = "dashboard_pause"
	ButtonSkip      = "dashboard_skip"
	ButtonVolDown   = "dashboard_vol_down"
	ButtonVolUp     = "dashboard_vol_up"
	ButtonRandom    = "dashboard_random"
	ButtonQueue     = "dashboard_queue"
	ButtonSearch    = "dashboard_search"
	ButtonVocal     = "dashboard_vocal"
	ButtonKeyDown   = "dashboard_key_down"
	ButtonKeyUp     = "dashboard_key_up"
	SearchModalID   = "dashboard_search_modal"
	SearchInputID   = "dashboard_search_query"
	randomBatchSize = 3
)

type snapshot struct {
	HasSong    bool
	Title      string
	Requester  string
	Progress   string
	Status     string
	UpNext     string
	IsPaused   bool
	QueueCount int
}

func buildSnapshot(np music.NowPlaying, queueCount int) snapshot {
	snap := snapshot{
		HasSong:    np.NowPlaying != "",
		IsPaused:   np.IsPaused,
		QueueCount: queueCount,
		Title:      "재생 중인 곡이 없습니다",
	}

	if snap.HasSong {
		snap.Title = fmt.Sprintf("**%s**", escapeDashboardText(np.NowPlaying))
		if np.NowPlayingUser != "" {
			snap.Requester = fmt.Sprintf("🙋 %s", escapeDashboardText(np.NowPlayingUser))
		}
		position := secondsToDuration(np.SeektrackValue)
		length := secondsToDuration(np.SeektrackMax)
		snap.Progress = fmt.Sprintf("`%s` %s `%s`",
			formatDuration(position),
			buildProgressBar(position, length, progressBarSize),
			formatDuration(length),
		)
	}

	meta := []string{fmt.Sprintf("🔊 %d%%", np.Volume)}
	if np.TransposeValue != 0 {
		meta = append(meta, fmt.Sprintf("🎚️ 키 %+d", np.TransposeValue))
	}
	if mode, ok := music.ModeFromInfo(np.VocalInfo); ok && snap.HasSong {
		meta = append(meta, "🎤 "+vocalLabel(mode))
	}
	if np.PlaySpeed > 0 && np.PlaySpeed != 1 {
		meta = append(meta, fmt.Sprintf("⏩ %.2fx", np.PlaySpeed))
	}
	if np.IsPaused && snap.HasSong {
		meta = append(meta, "⏸️ 일시정지됨")
	}
	snap.Status = strings.Join(meta, " • ")

	if np.UpNext != "" {
		snap.UpNext = fmt.Sprintf("⏭️ 다음 곡: %s", escapeDashboardText(np.UpNext))
		if np.NextUser != "" {
			snap.UpNext += fmt.Sprintf(" (%s)", escapeDashboardText(np.NextUser))
		}
	}
	return snap
}

// BuildComponents renders the dashboard message.
func BuildComponents(np music.NowPlaying, queueCount int) []discordgo.MessageComponent {
	return buildComponentsFromSnapshot(buildSnapshot(np, queueCount))
}

func buildComponentsFromSnapshot(snap snapshot) []discordgo.MessageComponent {
	accent := 0x3C6AA1
	divider := true
	spacing := discordgo.SeparatorSpacingSizeSmall

	components := []discordgo.MessageComponent{
		discordgo.TextDisplay{Content: "🎤 **지금 부르는 곡**"},
		discordgo.Separator{Divider: &divider, Spacing: &spacing},
		discordgo.TextDisplay{Content: snap.Title},
	}
	if snap.Requester != "" {
		components = append(components, discordgo.TextDisplay{Content: snap.Requester})
	}
	if snap.Progress != "" {
		components = append(components, discordgo.TextDisplay{Content: snap.Progress})
	}

	components = append(components,
		discordgo.Separator{Divider: &divider, Spacing: &spacing},
		discordgo.TextDisplay{Content: fmt.Sprintf("📋 대기열 **%d곡**", snap.QueueCount)},
		discordgo.TextDisplay{Content: snap.Status},
	)
	if snap.UpNext != "" {
		components = append(components, discordgo.TextDisplay{Content: snap.UpNext})
	}

	pauseLabel := "일시정지"
	pauseStyle := discordgo.SecondaryButton
	if snap.IsPaused {
		pauseLabel = "재개"
		pauseStyle = discordgo.SuccessButton
	}
	noSong := !snap.HasSong

	components = append(components,
		discordgo.Separator{Divider: &divider, Spacing: &spacing},
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{Style: pauseStyle, Label: pauseLabel, CustomID: ButtonPause, Disabled: noSong},
				discordgo.Button{Style: discordgo.DangerButton, Label: "스킵", CustomID: ButtonSkip, Disabled: noSong},
				discordgo.Button{Style: discordgo.SecondaryButton, Label: "🔉", CustomID: ButtonVolDown, Disabled: noSong},
				discordgo.Button{Style: discordgo.SecondaryButton, Label: "🔊", CustomID: ButtonVolUp, Disabled: noSong},
				discordgo.Button{Style: discordgo.SecondaryButton, Label: "보컬", CustomID: ButtonVocal, Disabled: noSong},
			},
		},
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{Style: discordgo.PrimaryButton, Label: "검색", CustomID: ButtonSearch},
				discordgo.Button{Style: discordgo.SecondaryButton, Label: "대기열", CustomID: ButtonQueue},
				discordgo.Button{Style: discordgo.SecondaryButton, Label: "랜덤 추가", CustomID: ButtonRandom},
				discordgo.Button{Style: discordgo.SecondaryButton, Label: "키 -1", CustomID: ButtonKeyDown, Disabled: noSong},
				discordgo.Button{Style: discordgo.SecondaryButton, Label: "키 +1", CustomID: ButtonKeyUp, Disabled: noSong},
			},
		},
	)

	return []discordgo.MessageComponent{
		discordgo.Container{
			AccentColor: &accent,
			Components:  components,
		},
	}
}

// SearchModal asks for a song title; results are karaoke searches.
func SearchModal() *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		CustomID: SearchModalID,
		Title:    "노래 검색",
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    SearchInputID,
						Label:       "노래 제목",
						Style:       discordgo.TextInputShort,
						Placeholder: "가수와 제목을 입력하세요",
						Required:    true,
					},
				},
			},
		},
	}
}

// ModalInputValue pulls a text input out of a submitted modal.
func ModalInputValue(data discordgo.ModalSubmitInteractionData, customID string) string {
	for _, component := range data.Components {
		var row discordgo.ActionsRow
		switch r := component.(type) {
		case discordgo.ActionsRow:
			row = r
		case *discordgo.ActionsRow:
			row = *r
		default:
			continue
		}
		for _, inner := range row.Components {
			switch input := inner.(type) {
			case discordgo.TextInput:
				if input.CustomID == customID {
					return input.Value
				}
			case *discordgo.TextInput:
				if input.CustomID == customID {
					return input.Value
				}
			}
		}
	}
	return ""
}

func vocalLabel(mode music.VocalMode) string {
	switch mode {
	case music.VocalModeNonvocal:
		return "MR"
	case music.VocalModeVocal:
		return "보컬만"
	default:
		return "원곡"
	}
}

// NextVocalMode cycles mixed, nonvocal, vocal.
func NextVocalMode(info int) music.VocalMode {
	mode, _ := music.ModeFromInfo(info)
	switch mode {
	case music.VocalModeNonvocal:
		return music.VocalModeVocal
	case music.VocalModeVocal:
		return music.VocalModeMixed
	default:
		return music.VocalModeNonvocal
	}
}

func secondsToDuration(sec float64) time.Duration {
	if sec <= 0 {
		return 0
	}
	return time.Duration(sec * float64(time.Second))
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "--:--"
	}
	totalSeconds := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", totalSeconds/60, totalSeconds%60)
}

func buildProgressBar(position, duration time.Duration, size int) string {
	if size <= 0 {
		size = 12
	}
	if duration <= 0 {
		return "○" + strings.Repeat("─", size)
	}
	ratio := float64(position) / float64(duration)
	ratio = max(0.0, min(1.0, ratio))
	marker := min(size, max(0, int(ratio*float64(size))))
	return strings.Repeat("━", marker) + "◉" + strings.Repeat("─", size-marker)
}

func escapeDashboardText(text string) string {
	replacer := strings.NewReplacer(
		"*", "\\*",
		"_", "\\_",
		"`", "\\`",
		"~", "\\~",
		"|", "\\|",
		">", "\\>",
	)
	return replacer.Replace(text)
}
