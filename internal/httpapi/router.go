package httpapi

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/hxnx/karaoke/internal/music"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// Service is the part of music.Service the HTTP surface needs.
type Service interface {
	NowPlaying() music.NowPlaying
	QueueSnapshot() ([]music.QueueEntry, string)
	Enqueue(file, user string) (bool, string)
	Download(req music.DownloadRequest) string
	DownloadStatus(url string) music.DownloadStatus
	DownloadJobs() []music.DownloadJob
	VocalTodo(lastRenamed []string) music.VocalTodo
	VocalSplitterAlive(ctx context.Context) bool
	RenameSong(file, newName string) (string, error)
	DeleteSong(file string) error
	SetUseDNN(ctx context.Context, enabled bool)
	SetNormalization(ctx context.Context, enabled bool) bool
	SetSaveDelays(mode string) error
	Player
	QueueEditor
}

type Searcher interface {
	Search(ctx context.Context, query string) ([]music.SearchResult, error)
	KaraokeSearch(ctx context.Context, title string) ([]music.SearchResult, error)
}

type handlers struct {
	service  Service
	searcher Searcher
}

// NewRouter wires the JSON endpoints and the websocket feed.
func NewRouter(service Service, searcher Searcher, ws http.Handler, logger zerolog.Logger) *echo.Echo {
	h := &handlers{service: service, searcher: searcher}

	r := echo.New()
	r.HideBanner = true
	r.HidePort = true
	r.Use(middleware.Recover())
	r.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := logger.Debug()
			if v.Error != nil {
				event = logger.Warn().Err(v.Error)
			}
			event.Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Msg("request")
			return nil
		},
	}))

	r.GET("/healthz", healthCheckHandler)
	if ws != nil {
		r.GET("/ws", echo.WrapHandler(ws))
	}
	r.GET("/nowplaying", h.nowPlaying)
	r.GET("/queue/:hash", h.queue)
	r.POST("/enqueue", h.enqueue)
	r.POST("/download", h.download)
	r.Match([]string{http.MethodGet, http.MethodPost}, "/check_download", h.checkDownload)
	r.GET("/downloads", h.downloads)
	r.GET("/vocal_todo", h.vocalTodo)
	r.GET("/search", h.search)
	r.GET("/vocal_splitter", h.vocalSplitter)
	r.POST("/rename", h.rename)
	r.POST("/delete", h.deleteSong)
	r.POST("/settings", h.settings)
	h.registerControls(r)

	return r
}

func healthCheckHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (h *handlers) nowPlaying(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.NowPlaying())
}

// queue answers 204 when the caller already holds the current hash.
func (h *handlers) queue(c echo.Context) error {
	entries, hash := h.service.QueueSnapshot()
	if c.Param("hash") == hash {
		return c.NoContent(http.StatusNoContent)
	}
	if entries == nil {
		entries = []music.QueueEntry{}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"queue": entries,
		"hash":  hash,
	})
}

func (h *handlers) enqueue(c echo.Context) error {
	song := c.FormValue("song")
	if song == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "song is required"})
	}
	ok, reason := h.service.Enqueue(song, c.FormValue("user"))
	return c.JSON(http.StatusOK, echo.Map{
		"song":    music.TitleFromPath(song),
		"success": ok,
		"reason":  reason,
	})
}

func (h *handlers) download(c echo.Context) error {
	url := strings.TrimSpace(c.FormValue("song_url"))
	if url == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "song_url is required"})
	}
	id := h.service.Download(music.DownloadRequest{
		URL:         url,
		User:        c.FormValue("user"),
		Enqueue:     formBool(c, "enqueue"),
		Subtitles:   formBool(c, "include_subtitles"),
		HighQuality: formBool(c, "high_quality"),
	})
	return c.JSON(http.StatusAccepted, echo.Map{"id": id, "url": url})
}

func (h *handlers) checkDownload(c echo.Context) error {
	return c.String(http.StatusOK, string(h.service.DownloadStatus(c.FormValue("url"))))
}

func (h *handlers) downloads(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.DownloadJobs())
}

// vocalTodo acknowledges renames the worker reports, either through
// repeated "renamed" query values or the last_completed header.
func (h *handlers) vocalTodo(c echo.Context) error {
	acked := c.QueryParams()["renamed"]
	if last := c.Request().Header.Get("last_completed"); last != "" {
		acked = append(acked, last)
	}
	return c.JSON(http.StatusOK, h.service.VocalTodo(acked))
}

func (h *handlers) search(c echo.Context) error {
	if h.searcher == nil {
		return c.JSON(http.StatusNotImplemented, echo.Map{"error": "search is not configured"})
	}
	query := c.QueryParam("q")
	search := h.searcher.KaraokeSearch
	if formBool(c, "non_karaoke") {
		search = h.searcher.Search
	}

	results, err := search(c.Request().Context(), query)
	if errors.Is(err, music.ErrMissingQuery) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error()})
	}
	if results == nil {
		results = []music.SearchResult{}
	}
	return c.JSON(http.StatusOK, results)
}

func (h *handlers) vocalSplitter(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"alive": h.service.VocalSplitterAlive(c.Request().Context())})
}

func (h *handlers) rename(c echo.Context) error {
	file, newName := c.FormValue("song"), strings.TrimSpace(c.FormValue("new_name"))
	if file == "" || newName == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "song and new_name are required"})
	}
	newFile, err := h.service.RenameSong(file, newName)
	if err != nil {
		return c.JSON(libraryErrorStatus(err), echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"song": newFile})
}

func (h *handlers) deleteSong(c echo.Context) error {
	file := c.FormValue("song")
	if file == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "song is required"})
	}
	if err := h.service.DeleteSong(file); err != nil {
		return c.JSON(libraryErrorStatus(err), echo.Map{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

// settings applies only the fields present in the form.
func (h *handlers) settings(c echo.Context) error {
	ctx := c.Request().Context()
	if c.FormValue("use_dnn") != "" {
		h.service.SetUseDNN(ctx, formBool(c, "use_dnn"))
	}
	if c.FormValue("normalize") != "" {
		if !h.service.SetNormalization(ctx, formBool(c, "normalize")) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "normalization is not available"})
		}
	}
	if mode := c.FormValue("save_delays"); mode != "" {
		if err := h.service.SetSaveDelays(mode); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func libraryErrorStatus(err error) int {
	switch {
	case errors.Is(err, music.ErrSongPlaying):
		return http.StatusConflict
	case errors.Is(err, music.ErrSongNotFound), errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, music.ErrInvalidName):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// formBool accepts HTML checkbox "on" as well as strconv booleans.
func formBool(c echo.Context, name string) bool {
	v := c.FormValue(name)
	if v == "on" {
		return true
	}
	b, _ := strconv.ParseBool(v)
	return b
}
