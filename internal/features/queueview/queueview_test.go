package queueview

import (
	"fmt"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/hxnx/karaoke/internal/music"
)

func entries(n int) []music.QueueEntry {
	out := make([]music.QueueEntry, n)
	for i := range out {
		out[i] = music.QueueEntry{File: fmt.Sprintf("/songs/song%d.mp4", i), Title: fmt.Sprintf("song%d", i), User: "u"}
	}
	return out
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		total, page, perPage int
		want                 PageInfo
	}{
		{0, 1, 10, PageInfo{Page: 1, PerPage: 10, TotalPages: 1}},
		{23, 3, 10, PageInfo{Page: 3, PerPage: 10, TotalItems: 23, TotalPages: 3, StartIndex: 20, EndIndex: 23}},
		{23, 9, 10, PageInfo{Page: 3, PerPage: 10, TotalItems: 23, TotalPages: 3, StartIndex: 20, EndIndex: 23}},
		{5, 0, 0, PageInfo{Page: 1, PerPage: DefaultPerPage, TotalItems: 5, TotalPages: 1, EndIndex: 5}},
		{60, 1, 100, PageInfo{Page: 1, PerPage: MaxPerPage, TotalItems: 60, TotalPages: 3, EndIndex: 25}},
	}
	for _, tt := range tests {
		if got := Paginate(tt.total, tt.page, tt.perPage); got != tt.want {
			t.Errorf("Paginate(%d, %d, %d) = %+v, want %+v", tt.total, tt.page, tt.perPage, got, tt.want)
		}
	}
}

func TestBuildQueueComponentsButtons(t *testing.T) {
	components, info := BuildQueueComponents(entries(12), 2, 5)
	if info.Page != 2 || info.StartIndex != 5 || info.EndIndex != 10 {
		t.Fatalf("Unexpected page info %+v", info)
	}

	container := components[0].(discordgo.Container)
	list := container.Components[3].(discordgo.TextDisplay).Content
	if !strings.HasPrefix(list, "`6.` song5 · 🎤 u") {
		t.Errorf("Expected list to start at the sixth entry, got %q", list)
	}

	row := container.Components[len(container.Components)-1].(discordgo.ActionsRow)
	prev := row.Components[0].(discordgo.Button)
	indicator := row.Components[1].(discordgo.Button)
	next := row.Components[2].(discordgo.Button)
	if indicator.Label != "2 / 3" || !indicator.Disabled {
		t.Errorf("Unexpected page indicator %+v", indicator)
	}
	if prev.Disabled || next.Disabled {
		t.Error("Expected both buttons enabled on a middle page")
	}
	if prev.CustomID != "karaoke_queue_page:1:5" || next.CustomID != "karaoke_queue_page:3:5" {
		t.Errorf("Unexpected custom ids %q %q", prev.CustomID, next.CustomID)
	}
}

func TestParseQueuePageCustomID(t *testing.T) {
	page, perPage, ok := ParseQueuePageCustomID(MakeQueuePageCustomID(4, 50))
	if !ok || page != 4 || perPage != MaxPerPage {
		t.Errorf("Unexpected parse result %d %d %v", page, perPage, ok)
	}
	for _, id := range []string{"", "karaoke_queue_page", "karaoke_queue_page:x:1", "karaoke_queue_page:0:1", "other:1:1", "karaoke_queue_page:1:2:3"} {
		if _, _, ok := ParseQueuePageCustomID(id); ok {
			t.Errorf("Expected %q to be rejected", id)
		}
	}
}

func TestBuildQueueComponentsCountsSingers(t *testing.T) {
	list := []music.QueueEntry{
		{File: "/songs/a.mp4", User: "amy"},
		{File: "/songs/b---x1.mp4", User: "bob"},
		{File: "/songs/c.mp4", User: "amy"},
		{File: "/songs/d.mp4"},
	}
	components, info := BuildQueueComponents(list, 1, 10)
	if info.TotalPages != 1 {
		t.Fatalf("Expected a single page, got %+v", info)
	}

	container := components[0].(discordgo.Container)
	if summary := container.Components[1].(discordgo.TextDisplay).Content; !strings.Contains(summary, "**2명**") {
		t.Errorf("Expected two singers in %q", summary)
	}
	body := container.Components[3].(discordgo.TextDisplay).Content
	if !strings.Contains(body, "`2.` b · 🎤 bob") {
		t.Errorf("Expected title derived from the file name, got %q", body)
	}
	if !strings.HasSuffix(body, "`4.` d") {
		t.Errorf("Expected anonymous entry without singer, got %q", body)
	}
}
