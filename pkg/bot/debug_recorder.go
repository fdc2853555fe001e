package bot

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vexa-ai/meeting-worker/pkg/audio"
)

// DebugRecorder optionally persists the resampled 16kHz mono stream of one
// session as a WAV file, for diagnosing acquisition/resampling issues
// without round-tripping through the transcription gateway
// (SPEC_FULL.md "Debug audio export").
type DebugRecorder struct {
	mu   sync.Mutex
	path string
	pcm  []byte
}

// NewDebugRecorder creates a recorder writing to dir/<meetingID>-<ts>.wav.
// Returns nil if dir is empty (feature disabled).
func NewDebugRecorder(dir, meetingID string) *DebugRecorder {
	if dir == "" {
		return nil
	}
	name := fmt.Sprintf("%s-%d.wav", meetingID, time.Now().UnixNano())
	return &DebugRecorder{path: filepath.Join(dir, name)}
}

// Write appends resampled float32 samples to the in-memory buffer.
func (r *DebugRecorder) Write(samples []float32) {
	if r == nil || len(samples) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pcm = append(r.pcm, audio.Float32ToPCM16LE(samples)...)
}

// Flush writes the accumulated audio to disk as a WAV file.
func (r *DebugRecorder) Flush() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	pcm := r.pcm
	path := r.path
	r.mu.Unlock()
	if len(pcm) == 0 {
		return nil
	}
	return os.WriteFile(path, audio.NewWavBuffer(pcm, TargetSampleRate), 0o644)
}
