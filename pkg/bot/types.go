// Package bot implements the in-meeting runtime: the flow controller, the
// speaker tracker, the exit detector, and the audio pipeline shared by the
// three platform strategies.
package bot

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger is the structured-logging seam every component depends on,
// mirroring the teacher orchestrator's Logger interface so components stay
// decoupled from a concrete backend.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything. Useful as a safe zero value.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, ...interface{}) {}
func (NoOpLogger) Info(string, ...interface{})  {}
func (NoOpLogger) Warn(string, ...interface{})  {}
func (NoOpLogger) Error(string, ...interface{}) {}

// Platform identifies one of the three supported meeting providers.
type Platform string

const (
	PlatformMeet  Platform = "meet"
	PlatformTeams Platform = "teams"
	PlatformZoom  Platform = "zoom"
)

// ExitPrefix returns the platform-prefixed token used in exit reasons
// (§6): GOOGLE_MEET, TEAMS, ZOOM.
func (p Platform) ExitPrefix() string {
	switch p {
	case PlatformMeet:
		return "GOOGLE_MEET"
	case PlatformTeams:
		return "TEAMS"
	case PlatformZoom:
		return "ZOOM"
	default:
		return "UNKNOWN"
	}
}

// Task is the transcription-gateway task mode.
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// AutomaticLeaveConfig bounds the various "give up and go home" timeouts.
type AutomaticLeaveConfig struct {
	WaitingRoomTimeoutMs    int `json:"waitingRoomTimeoutMs"`
	NoOneJoinedTimeoutMs    int `json:"noOneJoinedTimeoutMs"`
	EveryoneLeftTimeoutMs   int `json:"everyoneLeftTimeoutMs"`
	StartupAloneTimeoutSecs int `json:"startupAloneTimeoutSeconds"`
}

// BotConfig is the immutable-after-startup configuration blob (§3).
type BotConfig struct {
	Platform            Platform             `json:"platform"`
	MeetingURL          string               `json:"meetingUrl,omitempty"`
	NativeMeetingID     string               `json:"nativeMeetingId"`
	BotName             string               `json:"botName"`
	AuthToken           string               `json:"authToken"`
	ConnectionID        string               `json:"connectionId"`
	MeetingID           string               `json:"meetingId"`
	BrokerURL           string               `json:"brokerUrl"`
	AutomaticLeave      AutomaticLeaveConfig `json:"automaticLeave"`
	Language            string               `json:"language,omitempty"`
	Task                Task                 `json:"task,omitempty"`
	TranscribeEnabled   *bool                `json:"transcribeEnabled,omitempty"`
	RecordingEnabled    *bool                `json:"recordingEnabled,omitempty"`
	VoiceAgentEnabled   *bool                `json:"voiceAgentEnabled,omitempty"`
	ReconnectIntervalMs int                  `json:"reconnectIntervalMs,omitempty"`
	StatusCallbackURL   string               `json:"statusCallbackUrl,omitempty"`

	// MeetSpeakingClasses overrides the Google Meet "speaking" CSS class
	// list (§9 open question). Empty means use the built-in guess list.
	MeetSpeakingClasses []string `json:"meetSpeakingClasses,omitempty"`

	// ZoomClientID/ZoomClientSecret authenticate the Zoom Meeting SDK via
	// a short-lived signed JWT (pkg/zoomsig).
	ZoomClientID     string `json:"zoomClientId,omitempty"`
	ZoomClientSecret string `json:"zoomClientSecret,omitempty"`
	ZoomPasscode     string `json:"zoomPasscode,omitempty"`

	// DebugAudioDir, when non-empty, enables a per-session WAV dump of the
	// resampled audio stream (bot.DebugRecorder).
	DebugAudioDir string `json:"debugAudioDir,omitempty"`
}

// TranscribeIsEnabled defaults to true when unset.
func (c BotConfig) TranscribeIsEnabled() bool {
	return c.TranscribeEnabled == nil || *c.TranscribeEnabled
}

// Participant is one roster entry. Identity is the ID, not the name — the
// same person may appear under variant capitalization across platforms.
type Participant struct {
	ID          string
	DisplayName string
	// Element is a platform-opaque handle (a DOM element, an SDK user
	// record); core logic never inspects it directly.
	Element interface{}
}

// Session groups everything that resets on WebSocket reconnect.
type Session struct {
	mu                    sync.RWMutex
	SessionUID            string
	audioStartWallclockMs int64
	audioStartSet         bool
	Language              string
	Task                  Task
}

// NewSession mints a fresh per-connection session (a new UUID every open,
// §3's "sessionUid: fresh-uuid-per-ws-connection").
func NewSession(language string, task Task) *Session {
	return &Session{
		SessionUID: uuid.NewString(),
		Language:   language,
		Task:       task,
	}
}

// MarkAudioStart records the wallclock origin on the first emitted frame of
// this session, if not already set. Returns the (possibly pre-existing)
// origin.
func (s *Session) MarkAudioStart(now time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.audioStartSet {
		s.audioStartWallclockMs = now.UnixMilli()
		s.audioStartSet = true
	}
	return s.audioStartWallclockMs
}

// AudioStart returns the origin and whether it has been set yet.
func (s *Session) AudioStart() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audioStartWallclockMs, s.audioStartSet
}

// RelativeMs computes now - audioStartWallclockMs, clamped to >= 0 per §3
// invariant (e); returns 0 if the origin isn't set yet.
func (s *Session) RelativeMs(now time.Time) int64 {
	origin, ok := s.AudioStart()
	if !ok {
		return 0
	}
	rel := now.UnixMilli() - origin
	if rel < 0 {
		rel = 0
	}
	return rel
}

// SpeakerEventType distinguishes start/end signals.
type SpeakerEventType string

const (
	SpeakerStart SpeakerEventType = "SPEAKER_START"
	SpeakerEnd   SpeakerEventType = "SPEAKER_END"
)

// SpeakerEvent is a discrete START/END signal for a participant (§3).
type SpeakerEvent struct {
	Kind            SpeakerEventType
	ParticipantID   string
	ParticipantName string
	RelativeMs      int64
}

// AdmissionReason classifies how waitForAdmission resolved.
type AdmissionReason string

const (
	AdmissionAdmitted AdmissionReason = "admitted"
	AdmissionRejected AdmissionReason = "rejected"
	AdmissionTimeout  AdmissionReason = "timeout"
)

// AdmissionResult is returned by PlatformStrategy.WaitForAdmission.
type AdmissionResult struct {
	Admitted bool
	Reason   AdmissionReason
}

// ExitReason is a structured, platform-prefixed label (§6).
type ExitReason string

// Reason suffixes; combine with Platform.ExitPrefix() + "_" + suffix.
const (
	ReasonAdmissionRejected         = "ADMISSION_REJECTED"
	ReasonAdmissionTimeout          = "ADMISSION_TIMEOUT"
	ReasonBotRemovedByAdmin         = "BOT_REMOVED_BY_ADMIN"
	ReasonBotLeftAloneTimeout       = "BOT_LEFT_ALONE_TIMEOUT"
	ReasonStartupAloneTimeout       = "STARTUP_ALONE_TIMEOUT"
	ReasonNormalCompletion          = "NORMAL_COMPLETION"
	ReasonDeadMeeting               = "DEAD_MEETING"
	ReasonAbsoluteSilenceTimeout    = "ABSOLUTE_SILENCE_TIMEOUT"
	ReasonSilentParticipantsTimeout = "SILENT_PARTICIPANTS_TIMEOUT"
	ReasonUIGone                    = "UI_GONE"
	ReasonJoinError                 = "JOIN_ERROR"
	ReasonStopped                   = "STOPPED"
)

// MakeExitReason joins a platform prefix with a reason suffix.
func MakeExitReason(p Platform, suffix string) ExitReason {
	return ExitReason(p.ExitPrefix() + "_" + suffix)
}

// StatusStage is a lifecycle stage reported to the status callback (§4.8).
type StatusStage string

const (
	StageJoining           StatusStage = "joining"
	StageAwaitingAdmission StatusStage = "awaiting_admission"
	StageActive            StatusStage = "active"
	StageCompleted         StatusStage = "completed"
	StageFailed            StatusStage = "failed"
)

// PlatformStrategy is the six-operation contract every platform
// implementation satisfies (§4.2).
type PlatformStrategy interface {
	// Join navigates to / opens the meeting and requests entry.
	Join(ctx context.Context, cfg BotConfig) error
	// WaitForAdmission blocks until admitted, rejected, or timed out.
	WaitForAdmission(ctx context.Context, timeout time.Duration) (AdmissionResult, error)
	// Prepare sets up instrumentation (audio interception, observers)
	// concurrently with WaitForAdmission.
	Prepare(ctx context.Context) error
	// StartRecording drives audio + speaker capture until the meeting
	// naturally ends or ctx is cancelled; returns the reason it stopped.
	StartRecording(ctx context.Context) (ExitReason, error)
	// StartRemovalMonitor watches for bot removal / meeting end
	// independent of recording; returns the reason it fired.
	StartRemovalMonitor(ctx context.Context) (ExitReason, error)
	// Leave performs a graceful departure. Always attempted, even on error
	// paths, and must not panic if called more than once.
	Leave(ctx context.Context, reason ExitReason) error

	// Platform identifies which prefix/mechanism this strategy is.
	Platform() Platform
}
