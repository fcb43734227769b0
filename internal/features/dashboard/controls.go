package dashboard

import (
	"context"
	"fmt"

	"github.com/hxnx/karaoke/internal/music"
)

const maxTranspose = 12

// Controls is what the dashboard buttons drive.
type Controls interface {
	NowPlaying() music.NowPlaying
	TogglePause(ctx context.Context) bool
	Skip(ctx context.Context) bool
	VolumeUp(ctx context.Context) (int, bool)
	VolumeDown(ctx context.Context) (int, bool)
	Transpose(ctx context.Context, semitones int) bool
	SetVocalMode(ctx context.Context, mode music.VocalMode, force bool) bool
	AddRandom(n int) bool
}

// HandleControl runs the player action behind a dashboard button. An empty
// reply means the action succeeded and the dashboard itself shows the result.
// handled is false for ids that are not player controls.
func HandleControl(ctx context.Context, c Controls, customID string) (reply string, handled bool) {
	np := c.NowPlaying()

	switch customID {
	case ButtonPause:
		if !c.TogglePause(ctx) {
			return "재생 중인 곡이 없습니다.", true
		}
	case ButtonSkip:
		if !c.Skip(ctx) {
			return "재생 중인 곡이 없습니다.", true
		}
	case ButtonVolUp:
		if _, ok := c.VolumeUp(ctx); !ok {
			return "볼륨을 조절할 수 없습니다.", true
		}
	case ButtonVolDown:
		if _, ok := c.VolumeDown(ctx); !ok {
			return "볼륨을 조절할 수 없습니다.", true
		}
	case ButtonKeyUp, ButtonKeyDown:
		delta := 1
		if customID == ButtonKeyDown {
			delta = -1
		}
		target := np.TransposeValue + delta
		if target > maxTranspose || target < -maxTranspose {
			return fmt.Sprintf("키는 ±%d까지 조절할 수 있습니다.", maxTranspose), true
		}
		if !c.Transpose(ctx, target) {
			return "키를 변경할 수 없습니다.", true
		}
	case ButtonVocal:
		if np.NowPlaying == "" {
			return "재생 중인 곡이 없습니다.", true
		}
		if !music.SplitAvailable(np.VocalInfo) {
			return "아직 보컬 분리가 끝나지 않았습니다.", true
		}
		if !c.SetVocalMode(ctx, NextVocalMode(np.VocalInfo), false) {
			return "보컬 모드를 변경할 수 없습니다.", true
		}
	case ButtonRandom:
		if !c.AddRandom(randomBatchSize) {
			return "추가할 수 있는 곡이 부족합니다.", true
		}
		return fmt.Sprintf("랜덤으로 %d곡을 대기열에 추가했습니다.", randomBatchSize), true
	default:
		return "", false
	}
	return "", true
}
