package music

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestSampleStd(t *testing.T) {
	var buf bytes.Buffer
	for _, s := range []int16{1000, -1000, 1000, -1000} {
		_ = binary.Write(&buf, binary.LittleEndian, s)
	}
	buf.WriteByte(0x7f) // trailing half sample is ignored

	std, err := sampleStd(&buf)
	if err != nil {
		t.Fatalf("sampleStd failed: %v", err)
	}
	if math.Abs(std-1000) > 1e-9 {
		t.Errorf("Expected std 1000, got %v", std)
	}

	if _, err := sampleStd(bytes.NewReader(nil)); !errors.Is(err, ErrNoAudio) {
		t.Errorf("Expected ErrNoAudio for empty input, got %v", err)
	}
}

func TestLoudnessFromStdClamps(t *testing.T) {
	tests := []struct {
		std  float64
		want float64
	}{
		{referenceStd, 1},
		{referenceStd * 4, 2},
		{0, minLoudness},
		{referenceStd * 1e6, maxLoudness},
	}
	for _, tt := range tests {
		if got := loudnessFromStd(tt.std); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("loudnessFromStd(%v) = %v, want %v", tt.std, got, tt.want)
		}
	}
}
