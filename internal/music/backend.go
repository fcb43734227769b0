package music

import (
	"context"
	"errors"
)

var (
	ErrUnsupported         = errors.New("operation not supported by player backend")
	ErrBackendUnresponsive = errors.New("player backend unresponsive")
	ErrBackendNotRunning   = errors.New("player backend not running")
)

// Capability is a bit set of optional backend features.
type Capability uint16

const (
	CapStatus Capability = 1 << iota
	CapSeek
	CapSetVolume
	CapAdjustVolume
	CapSetRate
	CapTranspose
	CapDelays
	CapSidecar
)

func (c Capability) Has(other Capability) bool {
	return c&other == other
}

// LaunchOptions describes one player process launch.
type LaunchOptions struct {
	File          string
	StartTime     float64
	StartPaused   bool
	Sidecar       string
	AudioDelay    float64
	SubtitleDelay float64
	ShowSubtitle  bool
	Rate          float64
	Transpose     int
	// Volume is applied once the player is up; zero keeps the player's own.
	Volume int
}

// BackendStatus is what the control channel reports. Times are in seconds.
type BackendStatus struct {
	State         string
	Position      float64
	Length        float64
	Volume        int
	Rate          float64
	AudioDelay    float64
	SubtitleDelay float64
	HasVideo      bool
	HasSubtitle   bool
}

func (s BackendStatus) Paused() bool {
	return s.State == "paused"
}

// Backend drives one external player process.
type Backend interface {
	Name() string
	Capabilities() Capability
	// Launch replaces any running process and blocks until the new one
	// answers its control channel or ctx expires.
	Launch(ctx context.Context, opts LaunchOptions) (BackendStatus, error)
	Alive() bool
	Status(ctx context.Context) (BackendStatus, error)
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Seek(ctx context.Context, sec float64) error
	SetVolume(ctx context.Context, volume int) error
	AdjustVolume(ctx context.Context, delta int) error
	SetRate(ctx context.Context, rate float64) error
	SetAudioDelay(ctx context.Context, sec float64) error
	SetSubtitleDelay(ctx context.Context, sec float64) error
	Kill() error
}
