package search

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hxnx/karaoke/internal/features/shared"
	"github.com/hxnx/karaoke/internal/music"
)

const (
	MaxResults       = 5
	MaxSelectOptions = 25
	SessionTTL       = 2 * time.Minute
	CustomIDPrefix   = "karaoke_search_select"
)

// Session remembers the last result list shown to a user so the select
// menu only has to carry an index.
type Session struct {
	GuildID   string
	UserID    string
	Query     string
	Results   []music.SearchResult
	CreatedAt time.Time
}

type Store struct {
	mu   sync.Mutex
	data map[string]Session
	now  func() time.Time
}

func NewStore() *Store {
	return &Store{
		data: make(map[string]Session),
		now:  time.Now,
	}
}

func sessionKey(guildID, userID string) string {
	return guildID + ":" + userID
}

func (st *Store) Save(s Session) {
	if s.UserID == "" {
		return
	}
	s.CreatedAt = st.now()

	st.mu.Lock()
	st.data[sessionKey(s.GuildID, s.UserID)] = s
	st.mu.Unlock()
}

func (st *Store) Get(guildID, userID string) (Session, bool) {
	key := sessionKey(guildID, userID)

	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.data[key]
	if !ok {
		return Session{}, false
	}
	if st.now().Sub(s.CreatedAt) > SessionTTL {
		delete(st.data, key)
		return Session{}, false
	}
	return s, true
}

func (st *Store) Delete(guildID, userID string) {
	st.mu.Lock()
	delete(st.data, sessionKey(guildID, userID))
	st.mu.Unlock()
}

// Pick resolves the selected menu value to a result of the user's session.
func (st *Store) Pick(guildID, userID, value string) (music.SearchResult, bool) {
	s, ok := st.Get(guildID, userID)
	if !ok {
		return music.SearchResult{}, false
	}
	var idx int
	if _, err := fmt.Sscanf(value, "%d", &idx); err != nil {
		return music.SearchResult{}, false
	}
	if idx < 0 || idx >= len(s.Results) {
		return music.SearchResult{}, false
	}
	return s.Results[idx], true
}

func BuildSearchComponents(query string, results []music.SearchResult) []discordgo.MessageComponent {
	divider := true
	spacing := discordgo.SeparatorSpacingSizeSmall

	if strings.TrimSpace(query) == "" {
		query = "알 수 없음"
	}

	inner := []discordgo.MessageComponent{
		discordgo.TextDisplay{Content: "🔎 **검색 결과**"},
		discordgo.TextDisplay{Content: fmt.Sprintf("검색어: **%s**", EscapeMarkdown(query))},
		discordgo.TextDisplay{Content: buildResultSummary(results)},
	}

	if len(results) > 0 {
		options := make([]discordgo.SelectMenuOption, 0, min(len(results), MaxSelectOptions))
		for i, r := range results {
			if i >= MaxSelectOptions {
				break
			}
			options = append(options, discordgo.SelectMenuOption{
				Label:       Truncate(r.Title, 80),
				Description: Truncate(r.URL, 100),
				Value:       fmt.Sprintf("%d", i),
			})
		}
		inner = append(inner,
			discordgo.Separator{Divider: &divider, Spacing: &spacing},
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.SelectMenu{
						MenuType:    discordgo.StringSelectMenu,
						CustomID:    CustomIDPrefix,
						Placeholder: "다운로드할 곡을 선택하세요",
						Options:     options,
					},
				},
			},
		)
	}

	return []discordgo.MessageComponent{
		discordgo.Container{
			AccentColor: &shared.AccentColor,
			Components:  inner,
		},
	}
}

func buildResultSummary(results []music.SearchResult) string {
	lines := make([]string, 0, len(results))
	for i, r := range results {
		if i >= MaxResults {
			break
		}
		lines = append(lines, fmt.Sprintf("%d. **%s**", i+1, EscapeMarkdown(Truncate(r.Title, 80))))
	}
	if len(lines) == 0 {
		return "검색 결과가 없습니다."
	}
	return strings.Join(lines, "\n")
}

func EscapeMarkdown(text string) string {
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

// Truncate cuts on rune boundaries so Korean titles stay valid UTF-8.
func Truncate(text string, limit int) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	if limit == 1 {
		return string(runes[:1])
	}
	return string(runes[:limit-1]) + "…"
}
