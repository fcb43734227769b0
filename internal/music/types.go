package music

import (
	"path/filepath"
	"strings"
)

type QueueEntry struct {
	File  string `json:"file"`
	Title string `json:"title"`
	User  string `json:"user"`
}

type VocalMode string

const (
	VocalModeCurrent  VocalMode = ""
	VocalModeMixed    VocalMode = "mixed"
	VocalModeVocal    VocalMode = "vocal"
	VocalModeNonvocal VocalMode = "nonvocal"
)

func ParseVocalMode(s string) (VocalMode, bool) {
	switch VocalMode(strings.ToLower(strings.TrimSpace(s))) {
	case VocalModeCurrent:
		return VocalModeCurrent, true
	case VocalModeMixed:
		return VocalModeMixed, true
	case VocalModeVocal:
		return VocalModeVocal, true
	case VocalModeNonvocal:
		return VocalModeNonvocal, true
	}
	return "", false
}

type PlaybackStatus int

const (
	StatusIdle PlaybackStatus = iota
	StatusLoading
	StatusPlaying
	StatusPaused
	StatusTransposing
)

func (s PlaybackStatus) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusTransposing:
		return "transposing"
	default:
		return "idle"
	}
}

// PlayerState is the controller's view of the current song. Zero value is idle.
type PlayerState struct {
	Filename      string         `json:"filename"`
	Title         string         `json:"title"`
	User          string         `json:"user"`
	Status        PlaybackStatus `json:"status"`
	Paused        bool           `json:"paused"`
	Volume        int            `json:"volume"`
	Rate          float64        `json:"rate"`
	Position      float64        `json:"position_sec"`
	Length        float64        `json:"length_sec"`
	AudioDelay    float64        `json:"audio_delay_sec"`
	SubtitleDelay float64        `json:"subtitle_delay_sec"`
	HasVideo      bool           `json:"has_video"`
	HasSubtitle   bool           `json:"has_subtitle"`
	ShowSubtitle  bool           `json:"show_subtitle"`
	Transpose     int            `json:"transpose_semitones"`
	VocalMode     VocalMode      `json:"vocal_mode"`
}

func (s PlayerState) Active() bool {
	return s.Status != StatusIdle && s.Filename != ""
}

type DownloadStatus string

const (
	DownloadPending       DownloadStatus = "1"
	DownloadSucceeded     DownloadStatus = "0"
	DownloadEnqueued      DownloadStatus = "00"
	DownloadEnqueueFailed DownloadStatus = "01"
	DownloadFailed        DownloadStatus = "-1"
)

// NowPlaying is the payload pushed to clients on the now-playing view.
type NowPlaying struct {
	NowPlaying     string   `json:"now_playing"`
	NowPlayingUser string   `json:"now_playing_user"`
	UpNext         string   `json:"up_next"`
	NextUser       string   `json:"next_user"`
	IsPaused       bool     `json:"is_paused"`
	Volume         int      `json:"volume"`
	TransposeValue int      `json:"transpose_value"`
	SeektrackValue float64  `json:"seektrack_value"`
	SeektrackMax   float64  `json:"seektrack_max"`
	AudioDelay     float64  `json:"audio_delay"`
	SubtitleDelay  *float64 `json:"subtitle_delay,omitempty"`
	ShowSubtitle   *bool    `json:"show_subtitle,omitempty"`
	VolNorm        bool     `json:"vol_norm"`
	PlaySpeed      float64  `json:"play_speed"`
	VocalInfo      int      `json:"vocal_info"`
}

// WithoutPosition returns a copy with the continuously changing field cleared.
func (n NowPlaying) WithoutPosition() NowPlaying {
	n.SeektrackValue = 0
	return n
}

// VocalTodo is handed to the external vocal-separation worker.
type VocalTodo struct {
	DownloadPath string            `json:"download_path"`
	Queue        []string          `json:"queue"`
	UseDNN       bool              `json:"use_DNN"`
	Renamed      map[string]string `json:"renamed,omitempty"`
}

// TitleFromPath strips directory, extension and the "---<id>" download suffix.
func TitleFromPath(file string) string {
	base := filepath.Base(file)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	title, _, _ := strings.Cut(base, "---")
	return title
}

func Basename(file string) string {
	return filepath.Base(file)
}
