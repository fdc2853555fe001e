package bot

import (
	"os"
	"strconv"
	"time"
)

// TickInterval is the fixed cadence the exit detector is evaluated on
// (§4.6).
const TickInterval = 5 * time.Second

// ExitDetectorConfig holds the env-overridable thresholds from §4.6.
type ExitDetectorConfig struct {
	SpeechActivationThresholdSeconds   float64
	DeadMeetingTimeoutSeconds          int
	AbsoluteSilenceTimeoutSeconds      int
	RecentSpeechThresholdSeconds       int
	SilentParticipantsCountdownSeconds int
	StartupAloneTimeoutSeconds         int
	EveryoneLeftTimeoutSeconds         int
}

// DefaultExitDetectorConfig returns the §4.6 defaults.
func DefaultExitDetectorConfig() ExitDetectorConfig {
	return ExitDetectorConfig{
		SpeechActivationThresholdSeconds:   5,
		DeadMeetingTimeoutSeconds:          300,
		AbsoluteSilenceTimeoutSeconds:      600,
		RecentSpeechThresholdSeconds:       120,
		SilentParticipantsCountdownSeconds: 180,
		StartupAloneTimeoutSeconds:         1200,
		EveryoneLeftTimeoutSeconds:         10,
	}
}

// ExitDetectorConfigFromEnv loads defaults and overrides anything present
// in the environment under the matching upper-snake-case name, e.g.
// DEAD_MEETING_TIMEOUT_SECONDS.
func ExitDetectorConfigFromEnv() ExitDetectorConfig {
	cfg := DefaultExitDetectorConfig()
	if v, ok := envFloat("SPEECH_ACTIVATION_THRESHOLD_SECONDS"); ok {
		cfg.SpeechActivationThresholdSeconds = v
	}
	if v, ok := envInt("DEAD_MEETING_TIMEOUT_SECONDS"); ok {
		cfg.DeadMeetingTimeoutSeconds = v
	}
	if v, ok := envInt("ABSOLUTE_SILENCE_TIMEOUT_SECONDS"); ok {
		cfg.AbsoluteSilenceTimeoutSeconds = v
	}
	if v, ok := envInt("RECENT_SPEECH_THRESHOLD_SECONDS"); ok {
		cfg.RecentSpeechThresholdSeconds = v
	}
	if v, ok := envInt("SILENT_PARTICIPANTS_COUNTDOWN_SECONDS"); ok {
		cfg.SilentParticipantsCountdownSeconds = v
	}
	if v, ok := envInt("STARTUP_ALONE_TIMEOUT_SECONDS"); ok {
		cfg.StartupAloneTimeoutSeconds = v
	}
	if v, ok := envInt("EVERYONE_LEFT_TIMEOUT_SECONDS"); ok {
		cfg.EveryoneLeftTimeoutSeconds = v
	}
	return cfg
}

func envInt(name string) (int, bool) {
	s := os.Getenv(name)
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envFloat(name string) (float64, bool) {
	s := os.Getenv(name)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// envOrDefault returns the named environment variable, or def if unset/empty.
func envOrDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// ExitDecision is the outcome of one exit-detector tick.
type ExitDecision struct {
	ShouldExit bool
	Reason     string // reason suffix, e.g. ReasonDeadMeeting; combine with Platform.ExitPrefix()
}

// ExitDetector implements the multi-case activity state machine of §4.6.
// It is driven by a fixed tick and must be idempotent for identical inputs
// across consecutive ticks (§8 property 7) except for its own explicit
// timers (aloneSeconds, silence countdown).
type ExitDetector struct {
	cfg      ExitDetectorConfig
	joinedAt time.Time

	aloneSeconds       int
	speakersIdentified bool

	inSilenceCountdown        bool
	silenceCountdownRemaining int

	lastParticipantIDs map[string]bool
	lastSpeechSeen     time.Time
	hasLastSpeechSeen  bool
}

// NewExitDetector creates a detector whose "joined at" origin is now.
func NewExitDetector(cfg ExitDetectorConfig, joinedAt time.Time) *ExitDetector {
	return &ExitDetector{
		cfg:                cfg,
		joinedAt:           joinedAt,
		lastParticipantIDs: make(map[string]bool),
	}
}

// Tick evaluates one 5-second cycle. participantCount is the bot-inclusive
// roster size; participantListExists reports whether the platform's
// participant-list UI/roster container is still observable;
// remainingParticipantIDs is the current non-bot roster (used for case 4's
// subset check); tracker supplies meetingHasHadSpeech, last-speech time,
// and the never-spoken set.
func (d *ExitDetector) Tick(now time.Time, participantCount int, participantListExists bool, remainingParticipantIDs []string, tracker *SpeakerTracker) ExitDecision {
	if participantCount > 1 {
		d.speakersIdentified = true
	}

	// Case 0: Alone. Evaluated first per §4.6's priority table. Within
	// this family, an already-vanished participant-list container (no
	// roster left to read at all) is the more specific "case 1" signal
	// and is checked first so it can fire immediately instead of waiting
	// out the alone countdown — see DESIGN.md for the rationale.
	if participantCount <= 1 {
		if participantCount == 0 && !participantListExists {
			return ExitDecision{ShouldExit: true, Reason: ReasonUIGone}
		}

		d.aloneSeconds += int(TickInterval.Seconds())
		limit := d.cfg.StartupAloneTimeoutSeconds
		reason := ReasonStartupAloneTimeout
		if d.speakersIdentified {
			limit = d.cfg.EveryoneLeftTimeoutSeconds
			reason = ReasonBotLeftAloneTimeout
		}
		if d.aloneSeconds >= limit {
			return ExitDecision{ShouldExit: true, Reason: reason}
		}
		return ExitDecision{}
	}
	// Participants present beyond just the bot: reset the alone timer.
	d.aloneSeconds = 0

	// Case 1 standalone (roster > 1 but container vanished) isn't named
	// explicitly by the spec outside the participantCount==0 combination,
	// so it is not separately evaluated here.

	meetingHasHadSpeech := tracker.MeetingHasHadSpeech()

	// Case 2: Dead meeting.
	if !meetingHasHadSpeech && now.Sub(d.joinedAt) > time.Duration(d.cfg.DeadMeetingTimeoutSeconds)*time.Second {
		return ExitDecision{ShouldExit: true, Reason: ReasonDeadMeeting}
	}

	lastSpeech, hasSpoken := tracker.LastSpeechAt()

	// Case 3: Recent speech — stay, and reset the silence countdown since
	// the subset-silent condition (case 4) no longer holds.
	if hasSpoken && now.Sub(lastSpeech) < time.Duration(d.cfg.RecentSpeechThresholdSeconds)*time.Second {
		d.resetSilenceCountdown()
		d.recordTickState(now, remainingParticipantIDs, lastSpeech, hasSpoken)
		return ExitDecision{}
	}

	// Case 3.5: Absolute silence override, regardless of how many
	// participants remain.
	if meetingHasHadSpeech && hasSpoken && now.Sub(lastSpeech) >= time.Duration(d.cfg.AbsoluteSilenceTimeoutSeconds)*time.Second {
		return ExitDecision{ShouldExit: true, Reason: ReasonAbsoluteSilenceTimeout}
	}

	// Case 4: All remaining participants are from the never-spoken set.
	spokenSpeakers := tracker.SpokenSpeakers()
	allSilent := len(remainingParticipantIDs) > 0
	for _, id := range remainingParticipantIDs {
		if spokenSpeakers[id] {
			allSilent = false
			break
		}
	}

	newParticipantJoined := d.hasNewParticipant(remainingParticipantIDs)
	newSpeechClosed := hasSpoken && (!d.hasLastSpeechSeen || lastSpeech.After(d.lastSpeechSeen))

	if allSilent {
		if newParticipantJoined || newSpeechClosed || !d.inSilenceCountdown {
			d.inSilenceCountdown = true
			d.silenceCountdownRemaining = d.cfg.SilentParticipantsCountdownSeconds
		} else {
			d.silenceCountdownRemaining -= int(TickInterval.Seconds())
		}
		d.recordTickState(now, remainingParticipantIDs, lastSpeech, hasSpoken)
		if d.silenceCountdownRemaining <= 0 {
			return ExitDecision{ShouldExit: true, Reason: ReasonSilentParticipantsTimeout}
		}
		return ExitDecision{}
	}

	// Case 5: Mixed — stay, and drop any in-progress silence countdown
	// since it must be reset (not merely paused) by any speech or join,
	// and "all silent" no longer holds.
	d.resetSilenceCountdown()
	d.recordTickState(now, remainingParticipantIDs, lastSpeech, hasSpoken)
	return ExitDecision{}
}

func (d *ExitDetector) resetSilenceCountdown() {
	d.inSilenceCountdown = false
	d.silenceCountdownRemaining = 0
}

func (d *ExitDetector) hasNewParticipant(remaining []string) bool {
	isNew := false
	for _, id := range remaining {
		if !d.lastParticipantIDs[id] {
			isNew = true
		}
	}
	return isNew
}

func (d *ExitDetector) recordTickState(now time.Time, remaining []string, lastSpeech time.Time, hasSpoken bool) {
	d.lastParticipantIDs = make(map[string]bool, len(remaining))
	for _, id := range remaining {
		d.lastParticipantIDs[id] = true
	}
	if hasSpoken {
		d.lastSpeechSeen = lastSpeech
		d.hasLastSpeechSeen = true
	}
}
