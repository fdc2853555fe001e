package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the runtime counters/gauges exposed by one worker process
// (SPEC_FULL.md "Runtime metrics"). All names follow
// meetingworker_<subsystem>_<metric>_<unit>.
type Metrics struct {
	FramesEmitted         *prometheus.CounterVec
	TranscriptionReconnects *prometheus.CounterVec
	SpeakerEvents          *prometheus.CounterVec
	ExitReasons            *prometheus.CounterVec
	SessionActive          *prometheus.GaugeVec
}

// NewMetrics registers and returns the process metrics against the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return &Metrics{
		FramesEmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetingworker_audio_frames_emitted_total",
				Help: "Number of resampled audio frames forwarded to the transcription client.",
			},
			[]string{"platform"},
		),
		TranscriptionReconnects: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetingworker_transcription_reconnects_total",
				Help: "Number of transcription-gateway connection attempts, the initial connect included.",
			},
			[]string{"platform"},
		),
		SpeakerEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetingworker_speaker_events_total",
				Help: "Number of SPEAKER_START/SPEAKER_END events emitted.",
			},
			[]string{"platform", "kind"},
		),
		ExitReasons: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetingworker_exit_reason_total",
				Help: "Number of worker exits, labeled by structured exit reason.",
			},
			[]string{"platform", "reason"},
		),
		SessionActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meetingworker_session_active",
				Help: "1 while a meeting session is active, 0 otherwise.",
			},
			[]string{"platform", "meeting_id"},
		),
	}
}
