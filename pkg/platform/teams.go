package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/vexa-ai/meeting-worker/pkg/bot"
)

var (
	teamsContinueInBrowserSelector = `a:has-text("Continue on this browser")`
	teamsDisableCameraSelector     = `div[aria-label*="camera" i][role="button"]`
	teamsNameFieldSelector         = `input[data-tid="prejoin-display-name-input"]`
	teamsComputerAudioSelector     = `div[data-tid="audio-device-computer"]`
	teamsJoinNowSelector           = `button[data-tid="prejoin-join-button"]`

	teamsHangupSelector  = `#hangup-button, button[data-tid="call-hangup"]`
	teamsLobbyTextSelector = `[data-tid="lobbyScreenTitle"]`

	// teamsVoiceLevelClass marks a participant tile as currently speaking.
	teamsVoiceLevelClass  = "video-stream-voice-level-indicator-animation"
	teamsSpeakingDebounce = 200 * time.Millisecond
	teamsRosterPoll       = 200 * time.Millisecond
)

// teamsWebRTCInterceptScript wraps RTCPeerConnection so incoming remote
// audio tracks get attached to a hidden media element the shared audio
// acquisition code can find — Teams does not otherwise expose remote audio
// in the DOM (§4.2.2, §9 "dynamic DOM interception").
const teamsWebRTCInterceptScript = `
(() => {
  const OrigPC = window.RTCPeerConnection;
  if (!OrigPC || OrigPC.__meetingWorkerPatched) return;
  function PatchedPC(...args) {
    const pc = new OrigPC(...args);
    pc.addEventListener('track', (evt) => {
      if (evt.track.kind !== 'audio') return;
      const el = document.createElement('audio');
      el.autoplay = true;
      el.dataset.meetingWorkerRemoteAudio = 'true';
      el.srcObject = new MediaStream([evt.track]);
      document.body.appendChild(el);
    });
    return pc;
  }
  PatchedPC.__meetingWorkerPatched = true;
  window.RTCPeerConnection = PatchedPC;
})();
`

// TeamsStrategy implements bot.PlatformStrategy for Microsoft Teams.
type TeamsStrategy struct {
	page   Page
	cfg    bot.BotConfig
	logger bot.Logger

	pipeline *bot.AudioPipeline
	tracker  *bot.SpeakerTracker
	onRoster RosterCountFunc
}

func NewTeamsStrategy(page Page, cfg bot.BotConfig, pipeline *bot.AudioPipeline, tracker *bot.SpeakerTracker, onRoster RosterCountFunc, logger bot.Logger) *TeamsStrategy {
	if logger == nil {
		logger = bot.NoOpLogger{}
	}
	return &TeamsStrategy{page: page, cfg: cfg, pipeline: pipeline, tracker: tracker, onRoster: onRoster, logger: logger}
}

func (s *TeamsStrategy) Platform() bot.Platform { return bot.PlatformTeams }

// Prepare injects the WebRTC interception hook before navigation would
// otherwise complete (§4.2.2); it must run concurrently with
// WaitForAdmission per the flow controller's sequence, but the injection
// itself is idempotent and safe to issue once.
func (s *TeamsStrategy) Prepare(ctx context.Context) error {
	return s.page.InjectInitScript(ctx, teamsWebRTCInterceptScript)
}

func (s *TeamsStrategy) Join(ctx context.Context, cfg bot.BotConfig) error {
	if err := s.page.Goto(ctx, cfg.MeetingURL); err != nil {
		return fmt.Errorf("teams: navigate: %w", err)
	}
	_ = s.page.Click(ctx, teamsContinueInBrowserSelector)
	_ = s.page.Click(ctx, teamsDisableCameraSelector)
	_ = s.page.Fill(ctx, teamsNameFieldSelector, cfg.BotName)
	_ = s.page.Click(ctx, teamsComputerAudioSelector)
	if err := s.page.Click(ctx, teamsJoinNowSelector); err != nil {
		return fmt.Errorf("teams: join now: %w", err)
	}
	return nil
}

func (s *TeamsStrategy) WaitForAdmission(ctx context.Context, timeout time.Duration) (bot.AdmissionResult, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()
	for {
		if ok, err := s.page.Exists(ctx, teamsHangupSelector); err == nil && ok {
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

// teamsRosterSource wraps the raw per-tick class observation in a 200ms
// debounce (§4.2.2): a raw speaking or silent observation must have held for
// at least teamsSpeakingDebounce of wallclock time, as seen at a later poll,
// before the reported state changes.
type teamsRosterSource struct {
	page Page

	pending map[string]pendingTeamsState
}

type pendingTeamsState struct {
	candidate bool
	since     time.Time
	confirmed bool
}

func newTeamsRosterSource(page Page) *teamsRosterSource {
	return &teamsRosterSource{page: page, pending: make(map[string]pendingTeamsState)}
}

func (s *teamsRosterSource) Snapshot(ctx context.Context) ([]ParticipantSnapshot, bool, error) {
	containerExists, err := s.page.Exists(ctx, teamsHangupSelector)
	if err != nil {
		return nil, false, err
	}
	elems, err := s.page.ParticipantElements(ctx)
	if err != nil {
		return nil, containerExists, err
	}
	now := time.Now()
	out := make([]ParticipantSnapshot, 0, len(elems))
	seen := make(map[string]bool, len(elems))
	for _, el := range elems {
		id, ok, _ := el.Attribute(ctx, "data-participant-id")
		if !ok || id == "" {
			continue
		}
		seen[id] = true
		name, _ := el.TextContent(ctx)
		raw := false
		classes, _ := el.ClassList(ctx)
		for _, c := range classes {
			if c == teamsVoiceLevelClass {
				raw = true
			}
		}

		st := s.pending[id]
		if raw != st.candidate {
			st.candidate = raw
			st.since = now
		}
		if st.candidate != st.confirmed && now.Sub(st.since) >= teamsSpeakingDebounce {
			st.confirmed = st.candidate
		}
		s.pending[id] = st

		out = append(out, ParticipantSnapshot{ID: id, Name: name, Speaking: st.confirmed})
	}
	for id := range s.pending {
		if !seen[id] {
			delete(s.pending, id)
		}
	}
	return out, containerExists, nil
}

func (s *TeamsStrategy) StartRecording(ctx context.Context) (bot.ExitReason, error) {
	var stopAudio func()
	for attempt := 0; attempt < 5; attempt++ {
		elems, err := s.page.MediaElementsWithAudio(ctx)
		if err == nil && len(elems) > 0 {
			stop, serr := s.page.SubscribeAudioFrames(ctx, s.pipeline.PushFrame)
			if serr == nil {
				stopAudio = stop
				break
			}
		}
		select {
		case <-ctx.Done():
			return "", nil
		case <-time.After(time.Second):
		}
	}
	if stopAudio == nil {
		s.logger.Warn("teams: entering degraded monitoring mode (WebRTC interception may not have attached)", "error", bot.ErrNoAudioSource)
	} else {
		defer stopAudio()
	}

	source := newTeamsRosterSource(s.page)
	watcher := NewRosterWatcher(source, s.tracker, teamsRosterPoll, s.onRoster)
	go watcher.Run(ctx)

	<-ctx.Done()
	return "", nil
}

func (s *TeamsStrategy) StartRemovalMonitor(ctx context.Context) (bot.ExitReason, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", nil
		case <-ticker.C:
			lobby, err := s.page.Exists(ctx, teamsLobbyTextSelector)
			if err == nil && lobby {
				return bot.MakeExitReason(bot.PlatformTeams, bot.ReasonBotRemovedByAdmin), nil
			}
		}
	}
}

func (s *TeamsStrategy) Leave(ctx context.Context, reason bot.ExitReason) error {
	_ = s.page.Click(ctx, teamsHangupSelector)
	return s.page.Close(ctx)
}
