package music

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"sync"
)

// referenceStd is the standard deviation of a full-scale sine wave at 1/8 of
// int16 range; loudness 1.0 means "as loud as that".
var referenceStd = 65536.0 / 8 / math.Sqrt2

const (
	minLoudness = 0.1
	maxLoudness = 10.0
)

var ErrNoAudio = errors.New("no audio samples")

// LoudnessMeter reports a relative loudness factor for a media file.
type LoudnessMeter interface {
	Loudness(ctx context.Context, file string) (float64, error)
}

// FFmpegMeter decodes the audio track to 16-bit PCM with ffmpeg and measures
// its sample standard deviation. Results are cached per file.
type FFmpegMeter struct {
	path string

	mu    sync.Mutex
	cache map[string]float64
}

func NewFFmpegMeter(path string) *FFmpegMeter {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegMeter{path: path, cache: make(map[string]float64)}
}

func (m *FFmpegMeter) Loudness(ctx context.Context, file string) (float64, error) {
	m.mu.Lock()
	if v, ok := m.cache[file]; ok {
		m.mu.Unlock()
		return v, nil
	}
	m.mu.Unlock()

	cmd := exec.CommandContext(ctx, m.path, "-i", file, "-vn", "-f", "s16le", "-acodec", "pcm_s16le", "-")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, err
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start ffmpeg: %w", err)
	}

	std, measureErr := sampleStd(stdout)
	waitErr := cmd.Wait()
	if measureErr != nil {
		return 0, measureErr
	}
	if waitErr != nil {
		return 0, fmt.Errorf("ffmpeg: %w", waitErr)
	}

	v := loudnessFromStd(std)
	m.mu.Lock()
	m.cache[file] = v
	m.mu.Unlock()
	return v, nil
}

func loudnessFromStd(std float64) float64 {
	return math.Min(math.Max(math.Sqrt(std/referenceStd), minLoudness), maxLoudness)
}

// sampleStd streams little-endian int16 samples and returns their population
// standard deviation.
func sampleStd(r io.Reader) (float64, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var (
		n          float64
		sum, sumSq float64
		buf        [2]byte
	)
	for {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return 0, err
		}
		s := float64(int16(binary.LittleEndian.Uint16(buf[:])))
		n++
		sum += s
		sumSq += s * s
	}
	if n == 0 {
		return 0, ErrNoAudio
	}
	mean := sum / n
	return math.Sqrt(math.Max(sumSq/n-mean*mean, 0)), nil
}
