package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/vexa-ai/meeting-worker/pkg/bot"
)

// Meet selectors are best-effort guesses at Google Meet's DOM; they drift
// and are not treated as authoritative (§9 open question).
var (
	meetNameFieldSelector  = `input[type="text"][aria-label*="name" i]`
	meetMuteMicSelector    = `div[role="button"][aria-label*="microphone" i]`
	meetMuteCameraSelector = `div[role="button"][aria-label*="camera" i]`
	meetAskToJoinSelector  = `button:has-text("Ask to join"), button:has-text("Join now")`

	// meetAdmissionSelectors are the ≥2-of-N independent in-meeting signals
	// (§4.2.1 Admission).
	meetAdmissionSelectors = []string{
		`[aria-label*="People" i]`,
		`[aria-label*="Chat with everyone" i]`,
		`div[role="button"][aria-label*="Leave call" i]`,
		`div[jsname][role="toolbar"]`,
		`[data-participant-id]`,
		`div[role="button"][aria-label*="microphone" i]`,
	}

	// defaultMeetSpeakingClasses is the built-in guess list, overridable via
	// BotConfig.MeetSpeakingClasses (§9 open question).
	defaultMeetSpeakingClasses = []string{"Oaajhc", "wEsLMd"}

	meetAudioRetryAttempts = 5
	meetAudioRetryDelay    = time.Second
	meetRosterPollInterval = 500 * time.Millisecond
)

// MeetStrategy implements bot.PlatformStrategy for Google Meet.
type MeetStrategy struct {
	page   Page
	cfg    bot.BotConfig
	logger bot.Logger

	pipeline *bot.AudioPipeline
	tracker  *bot.SpeakerTracker
	onRoster RosterCountFunc

	stopAudio func()
}

// NewMeetStrategy constructs a Meet strategy. onRoster is invoked on every
// roster poll with the exit detector's Tick inputs.
func NewMeetStrategy(page Page, cfg bot.BotConfig, pipeline *bot.AudioPipeline, tracker *bot.SpeakerTracker, onRoster RosterCountFunc, logger bot.Logger) *MeetStrategy {
	if logger == nil {
		logger = bot.NoOpLogger{}
	}
	return &MeetStrategy{page: page, cfg: cfg, pipeline: pipeline, tracker: tracker, onRoster: onRoster, logger: logger}
}

func (m *MeetStrategy) Platform() bot.Platform { return bot.PlatformMeet }

func (m *MeetStrategy) Join(ctx context.Context, cfg bot.BotConfig) error {
	if err := m.page.Goto(ctx, cfg.MeetingURL); err != nil {
		return fmt.Errorf("meet: navigate: %w", err)
	}
	// Best-effort: a missing control is not an error (§4.2.1).
	_ = m.page.Fill(ctx, meetNameFieldSelector, cfg.BotName)
	_ = m.page.Click(ctx, meetMuteMicSelector)
	_ = m.page.Click(ctx, meetMuteCameraSelector)
	if err := m.page.Click(ctx, meetAskToJoinSelector); err != nil {
		return fmt.Errorf("meet: ask to join: %w", err)
	}
	return nil
}

func (m *MeetStrategy) WaitForAdmission(ctx context.Context, timeout time.Duration) (bot.AdmissionResult, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()
	for {
		count := 0
		for _, sel := range meetAdmissionSelectors {
			ok, err := m.page.Exists(ctx, sel)
			if err == nil && ok {
				count++
			}
		}
		if count >= 2 {
			return bot.AdmissionResult{Admitted: true, Reason: bot.AdmissionAdmitted}, nil
		}
		if time.Now().After(deadline) {
			return bot.AdmissionResult{Admitted: false, Reason: bot.AdmissionTimeout}, nil
		}
		select {
		case <-ctx.Done():
			return bot.AdmissionResult{Admitted: false, Reason: bot.AdmissionTimeout}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Prepare is a no-op for Meet: unlike Teams, no pre-navigation
// instrumentation is required to make remote audio discoverable (§4.2.1
// has no analogue to Teams's WebRTC interception hook).
func (m *MeetStrategy) Prepare(ctx context.Context) error {
	return nil
}

func (m *MeetStrategy) speakingClasses() []string {
	if len(m.cfg.MeetSpeakingClasses) > 0 {
		return m.cfg.MeetSpeakingClasses
	}
	return defaultMeetSpeakingClasses
}

type meetRosterSource struct {
	page    Page
	classes []string
}

func (s *meetRosterSource) Snapshot(ctx context.Context) ([]ParticipantSnapshot, bool, error) {
	containerExists, err := s.page.Exists(ctx, `[aria-label*="People" i]`)
	if err != nil {
		return nil, false, err
	}
	elems, err := s.page.ParticipantElements(ctx)
	if err != nil {
		return nil, containerExists, err
	}
	out := make([]ParticipantSnapshot, 0, len(elems))
	for _, el := range elems {
		id, ok, _ := el.Attribute(ctx, "data-participant-id")
		if !ok || id == "" {
			continue
		}
		name, _ := el.TextContent(ctx)
		speaking := false
		classes, _ := el.ClassList(ctx)
		for _, c := range classes {
			for _, want := range s.classes {
				if c == want {
					speaking = true
				}
			}
		}
		out = append(out, ParticipantSnapshot{ID: id, Name: name, Speaking: speaking})
	}
	return out, containerExists, nil
}

func (m *MeetStrategy) StartRecording(ctx context.Context) (bot.ExitReason, error) {
	// Audio acquisition: bounded retry, then degraded monitoring mode
	// rather than failure (§4.2.1, §7 platform UI drift).
	var stopAudio func()
	for attempt := 0; attempt < meetAudioRetryAttempts; attempt++ {
		elems, err := m.page.MediaElementsWithAudio(ctx)
		if err == nil && len(elems) > 0 {
			stop, serr := m.page.SubscribeAudioFrames(ctx, m.pipeline.PushFrame)
			if serr == nil {
				stopAudio = stop
				break
			}
		}
		select {
		case <-ctx.Done():
			return "", nil
		case <-time.After(meetAudioRetryDelay):
		}
	}
	if stopAudio == nil {
		m.logger.Warn("meet: entering degraded monitoring mode", "error", bot.ErrNoAudioSource)
	} else {
		defer stopAudio()
	}

	source := &meetRosterSource{page: m.page, classes: m.speakingClasses()}
	watcher := NewRosterWatcher(source, m.tracker, meetRosterPollInterval, m.onRoster)
	watcherDone := make(chan error, 1)
	go func() { watcherDone <- watcher.Run(ctx) }()

	<-ctx.Done()
	return "", nil
}

func (m *MeetStrategy) StartRemovalMonitor(ctx context.Context) (bot.ExitReason, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", nil
		case <-ticker.C:
			inMeeting, err := m.page.Exists(ctx, meetAskToJoinSelector)
			if err == nil && inMeeting {
				// The "ask to join" control reappearing means the bot was
				// ejected back to the knock screen.
				return bot.MakeExitReason(bot.PlatformMeet, bot.ReasonBotRemovedByAdmin), nil
			}
		}
	}
}

func (m *MeetStrategy) Leave(ctx context.Context, reason bot.ExitReason) error {
	_ = m.page.Click(ctx, `div[role="button"][aria-label*="Leave call" i]`)
	return m.page.Close(ctx)
}
