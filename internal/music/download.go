package music

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrDownloadFailed = errors.New("download failed")

const downloadTmpDir = "tmp"

var (
	highQualityFormat = []string{"-f", "bestvideo[height<=1080]+bestaudio[abr<=160]"}
	defaultFormat     = []string{"-f", "mp4+m4a"}
)

type DownloadRequest struct {
	URL         string
	User        string
	Enqueue     bool
	Subtitles   bool
	HighQuality bool
}

// FetchOptions is one downloader invocation. A nil Format means no format
// constraints.
type FetchOptions struct {
	OutputDir string
	Format    []string
	Subtitles bool
}

// Fetcher downloads url into opts.OutputDir and returns the produced file.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts FetchOptions) (string, error)
}

// StatusMirror publishes job status somewhere other processes can read it.
type StatusMirror interface {
	SetDownloadStatus(ctx context.Context, url string, status DownloadStatus) error
}

type DownloadJob struct {
	ID     string         `json:"id"`
	URL    string         `json:"url"`
	Status DownloadStatus `json:"status"`
	File   string         `json:"file,omitempty"`
}

// DownloadCoordinator runs acquisition jobs in the background, keyed by URL.
type DownloadCoordinator struct {
	fetcher Fetcher
	catalog *Catalog
	queue   *QueueManager
	mirror  StatusMirror
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	jobs map[string]DownloadJob
}

func NewDownloadCoordinator(fetcher Fetcher, catalog *Catalog, queue *QueueManager, logger zerolog.Logger) *DownloadCoordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &DownloadCoordinator{
		fetcher: fetcher,
		catalog: catalog,
		queue:   queue,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]DownloadJob),
	}
}

func (d *DownloadCoordinator) WithMirror(mirror StatusMirror) *DownloadCoordinator {
	d.mirror = mirror
	return d
}

// Start records the job as pending before the worker starts, so a poll right
// after Start never misses it.
func (d *DownloadCoordinator) Start(req DownloadRequest) string {
	id := uuid.NewString()
	d.setJob(DownloadJob{ID: id, URL: req.URL, Status: DownloadPending})

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(id, req)
	}()
	return id
}

// Seed loads finished statuses saved by an earlier run. Pending entries are
// skipped since their workers died with that process; live jobs win.
func (d *DownloadCoordinator) Seed(statuses map[string]DownloadStatus) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	seeded := 0
	for url, status := range statuses {
		if status == DownloadPending {
			continue
		}
		if _, ok := d.jobs[url]; ok {
			continue
		}
		d.jobs[url] = DownloadJob{URL: url, Status: status}
		seeded++
	}
	return seeded
}

// Status never reports "unknown": jobs not seen yet read as pending.
func (d *DownloadCoordinator) Status(url string) DownloadStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if job, ok := d.jobs[url]; ok {
		return job.Status
	}
	return DownloadPending
}

// Jobs lists every known job ordered by URL.
func (d *DownloadCoordinator) Jobs() []DownloadJob {
	d.mu.RLock()
	out := make([]DownloadJob, 0, len(d.jobs))
	for _, job := range d.jobs {
		out = append(out, job)
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b DownloadJob) int { return strings.Compare(a.URL, b.URL) })
	return out
}

// Close cancels running jobs and waits for their workers.
func (d *DownloadCoordinator) Close() {
	d.cancel()
	d.wg.Wait()
}

func (d *DownloadCoordinator) Wait() {
	d.wg.Wait()
}

func (d *DownloadCoordinator) setJob(job DownloadJob) {
	d.mu.Lock()
	if cur, ok := d.jobs[job.URL]; ok && cur.ID != job.ID && job.Status != DownloadPending {
		// a newer request for the same URL owns the entry
		d.mu.Unlock()
		return
	}
	d.jobs[job.URL] = job
	d.mu.Unlock()

	if d.mirror != nil {
		if err := d.mirror.SetDownloadStatus(d.ctx, job.URL, job.Status); err != nil {
			d.logger.Warn().Err(err).Str("url", job.URL).Msg("failed to mirror download status")
		}
	}
}

func (d *DownloadCoordinator) run(id string, req DownloadRequest) {
	logger := d.logger.With().Str("job", id).Str("url", req.URL).Logger()
	logger.Info().Msg("downloading")

	tmp := filepath.Join(d.catalog.Dir(), downloadTmpDir)
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		logger.Error().Err(err).Msg("failed to create download dir")
		d.setJob(DownloadJob{ID: id, URL: req.URL, Status: DownloadFailed})
		return
	}

	format := defaultFormat
	if req.HighQuality {
		format = highQualityFormat
	}
	opts := FetchOptions{OutputDir: tmp, Format: format, Subtitles: req.Subtitles}

	produced, err := d.fetcher.Fetch(d.ctx, req.URL, opts)
	if err != nil && d.ctx.Err() == nil {
		logger.Warn().Err(err).Msg("download failed, retrying without format options")
		opts.Format = nil
		produced, err = d.fetcher.Fetch(d.ctx, req.URL, opts)
	}
	if err != nil {
		logger.Error().Err(err).Msg("download failed")
		d.setJob(DownloadJob{ID: id, URL: req.URL, Status: DownloadFailed})
		return
	}

	file := filepath.Join(d.catalog.Dir(), filepath.Base(produced))
	if err := os.Rename(produced, file); err != nil {
		logger.Error().Err(err).Str("file", produced).Msg("failed to move download into the library")
		d.setJob(DownloadJob{ID: id, URL: req.URL, Status: DownloadEnqueueFailed})
		return
	}
	if err := d.catalog.Refresh(); err != nil {
		logger.Warn().Err(err).Msg("failed to rescan library")
	}

	job := DownloadJob{ID: id, URL: req.URL, Status: DownloadSucceeded, File: file}
	if req.Enqueue {
		job.Status = DownloadEnqueued
		// A song already waiting in the queue is what the caller asked for.
		if ok, reason := d.queue.EnqueueFile(file, req.User); !ok && reason != reasonAlreadyQueued {
			logger.Warn().Str("reason", reason).Msg("failed to enqueue download")
			job.Status = DownloadEnqueueFailed
		}
	}
	d.setJob(job)
	logger.Info().Str("file", file).Str("status", string(job.Status)).Msg("download finished")
}

// YTDLPFetcher shells out to yt-dlp.
type YTDLPFetcher struct {
	Binary             string
	CookiesFromBrowser string
}

func NewYTDLPFetcher(binary, cookiesFromBrowser string) *YTDLPFetcher {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &YTDLPFetcher{Binary: binary, CookiesFromBrowser: cookiesFromBrowser}
}

func (f *YTDLPFetcher) args(url string, opts FetchOptions) []string {
	var args []string
	if opts.Format != nil {
		args = append(args, "--fixup", "force")
		args = append(args, opts.Format...)
	}
	if f.CookiesFromBrowser != "" && f.CookiesFromBrowser != "none" {
		args = append(args, "--cookies-from-browser", f.CookiesFromBrowser)
	}
	args = append(args,
		"--no-warnings",
		"--no-playlist",
		"-o", filepath.Join(opts.OutputDir, "%(title)s---%(id)s.%(ext)s"),
		"--print", "after_move:filepath",
	)
	if opts.Subtitles {
		args = append(args, "--sub-langs", "all", "--embed-subs")
	}
	return append(args, url)
}

func (f *YTDLPFetcher) Fetch(ctx context.Context, url string, opts FetchOptions) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", fmt.Errorf("%w: empty url", ErrDownloadFailed)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.Binary, f.args(url, opts)...)
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: yt-dlp failed: %v: %s", ErrDownloadFailed, err, strings.TrimSpace(stderr.String()))
	}

	path := lastLine(string(output))
	if path == "" {
		return "", fmt.Errorf("%w: yt-dlp printed no file path", ErrDownloadFailed)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return path, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
