package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hxnx/karaoke/internal/music"
	"github.com/labstack/echo/v4"
)

// Player covers the transport controls. Every call reports false while
// nothing is playing.
type Player interface {
	TogglePause(ctx context.Context) bool
	Skip(ctx context.Context) bool
	Restart(ctx context.Context) bool
	Seek(ctx context.Context, sec float64) bool
	Transpose(ctx context.Context, semitones int) bool
	SetVocalMode(ctx context.Context, mode music.VocalMode, force bool) bool
	SetRate(ctx context.Context, rate float64) bool
	ToggleSubtitle(ctx context.Context) bool
	VolumeUp(ctx context.Context) (int, bool)
	VolumeDown(ctx context.Context) (int, bool)
	SetVolume(ctx context.Context, volume int) (int, bool)
	SetAudioDelay(ctx context.Context, arg string) (float64, bool)
	SetSubtitleDelay(ctx context.Context, arg string) (float64, bool)
}

type QueueEditor interface {
	AddRandom(n int) bool
	MoveQueue(from, to, clientSize int) bool
	BumpQueue(file, direction string) bool
	RemoveFromQueue(file string) bool
	ClearQueue(ctx context.Context)
}

func (h *handlers) registerControls(r *echo.Echo) {
	r.POST("/pause", h.pause)
	r.POST("/skip", h.simple(Player.Skip))
	r.POST("/restart", h.simple(Player.Restart))
	r.POST("/toggle_subtitle", h.simple(Player.ToggleSubtitle))
	r.POST("/seek/:sec", h.seek)
	r.POST("/transpose/:semitones", h.transpose)
	r.POST("/play_vocal/:mode", h.playVocal)
	r.POST("/play_speed/:speed", h.playSpeed)
	r.POST("/vol_up", h.volume(Player.VolumeUp))
	r.POST("/vol_down", h.volume(Player.VolumeDown))
	r.POST("/vol/:volume", h.setVolume)
	r.POST("/audio_delay", h.delay(Player.SetAudioDelay))
	r.POST("/subtitle_delay", h.delay(Player.SetSubtitleDelay))

	r.POST("/queue/addrandom", h.addRandom)
	r.POST("/queue/edit", h.queueEdit)
}

func result(c echo.Context, ok bool) error {
	return c.JSON(http.StatusOK, echo.Map{"success": ok})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

func (h *handlers) simple(op func(Player, context.Context) bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		return result(c, op(h.service, c.Request().Context()))
	}
}

func (h *handlers) pause(c echo.Context) error {
	ok := h.service.TogglePause(c.Request().Context())
	return c.JSON(http.StatusOK, echo.Map{"success": ok, "paused": h.service.NowPlaying().IsPaused})
}

func (h *handlers) seek(c echo.Context) error {
	sec, err := strconv.ParseFloat(c.Param("sec"), 64)
	if err != nil || sec < 0 {
		return badRequest(c, "invalid position")
	}
	return result(c, h.service.Seek(c.Request().Context(), sec))
}

func (h *handlers) transpose(c echo.Context) error {
	semitones, err := strconv.Atoi(c.Param("semitones"))
	if err != nil {
		return badRequest(c, "invalid semitones")
	}
	return result(c, h.service.Transpose(c.Request().Context(), semitones))
}

func (h *handlers) playVocal(c echo.Context) error {
	mode, ok := music.ParseVocalMode(c.Param("mode"))
	if !ok {
		return badRequest(c, "unknown vocal mode")
	}
	return result(c, h.service.SetVocalMode(c.Request().Context(), mode, formBool(c, "force")))
}

func (h *handlers) playSpeed(c echo.Context) error {
	rate, err := strconv.ParseFloat(c.Param("speed"), 64)
	if err != nil || rate <= 0 {
		return badRequest(c, "invalid speed")
	}
	return result(c, h.service.SetRate(c.Request().Context(), rate))
}

func (h *handlers) volume(op func(Player, context.Context) (int, bool)) echo.HandlerFunc {
	return func(c echo.Context) error {
		vol, ok := op(h.service, c.Request().Context())
		return c.JSON(http.StatusOK, echo.Map{"success": ok, "volume": vol})
	}
}

func (h *handlers) setVolume(c echo.Context) error {
	v, err := strconv.Atoi(c.Param("volume"))
	if err != nil || v < 0 {
		return badRequest(c, "invalid volume")
	}
	vol, ok := h.service.SetVolume(c.Request().Context(), v)
	return c.JSON(http.StatusOK, echo.Map{"success": ok, "volume": vol})
}

// delay reads the "value" form field: seconds, "+", "-" or empty to reset.
func (h *handlers) delay(op func(Player, context.Context, string) (float64, bool)) echo.HandlerFunc {
	return func(c echo.Context) error {
		d, ok := op(h.service, c.Request().Context(), c.FormValue("value"))
		return c.JSON(http.StatusOK, echo.Map{"success": ok, "delay": d})
	}
}

func (h *handlers) addRandom(c echo.Context) error {
	amount, err := strconv.Atoi(c.FormValue("amount"))
	if err != nil || amount <= 0 {
		return badRequest(c, "invalid amount")
	}
	return result(c, h.service.AddRandom(amount))
}

func (h *handlers) queueEdit(c echo.Context) error {
	switch action := c.FormValue("action"); action {
	case "clear":
		h.service.ClearQueue(c.Request().Context())
		return result(c, true)
	case "move":
		from, errFrom := strconv.Atoi(c.FormValue("from"))
		to, errTo := strconv.Atoi(c.FormValue("to"))
		size, errSize := strconv.Atoi(c.FormValue("size"))
		if errFrom != nil || errTo != nil || errSize != nil {
			return badRequest(c, "from, to and size must be integers")
		}
		return result(c, h.service.MoveQueue(from, to, size))
	case music.BumpUp, music.BumpDown:
		song := c.FormValue("song")
		if song == "" {
			return badRequest(c, "song is required")
		}
		return result(c, h.service.BumpQueue(song, action))
	case "delete":
		song := c.FormValue("song")
		if song == "" {
			return badRequest(c, "song is required")
		}
		return result(c, h.service.RemoveFromQueue(song))
	default:
		return badRequest(c, "unknown action")
	}
}
