package bot

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeStrategy struct {
	platform Platform

	joinErr error

	admission    AdmissionResult
	admissionErr error

	prepareErr error

	recordingReason ExitReason
	recordingErr    error
	recordingDelay  time.Duration

	removalReason ExitReason
	removalErr    error
	removalBlock  bool

	leaveCalls []ExitReason
}

func (f *fakeStrategy) Platform() Platform { return f.platform }

func (f *fakeStrategy) Join(ctx context.Context, cfg BotConfig) error { return f.joinErr }

func (f *fakeStrategy) WaitForAdmission(ctx context.Context, timeout time.Duration) (AdmissionResult, error) {
	return f.admission, f.admissionErr
}

func (f *fakeStrategy) Prepare(ctx context.Context) error { return f.prepareErr }

func (f *fakeStrategy) StartRecording(ctx context.Context) (ExitReason, error) {
	if f.recordingDelay > 0 {
		select {
		case <-time.After(f.recordingDelay):
		case <-ctx.Done():
			return "", nil
		}
	}
	return f.recordingReason, f.recordingErr
}

func (f *fakeStrategy) StartRemovalMonitor(ctx context.Context) (ExitReason, error) {
	if f.removalBlock {
		<-ctx.Done()
		return "", nil
	}
	return f.removalReason, f.removalErr
}

func (f *fakeStrategy) Leave(ctx context.Context, reason ExitReason) error {
	f.leaveCalls = append(f.leaveCalls, reason)
	return nil
}

func baseTestConfig(platform Platform) BotConfig {
	return BotConfig{
		Platform:        platform,
		MeetingURL:      "https://example.test/m",
		NativeMeetingID: "abc-defg-hij",
		BotName:         "test-bot",
		MeetingID:       "meeting-1",
		AutomaticLeave: AutomaticLeaveConfig{
			WaitingRoomTimeoutMs:    200,
			NoOneJoinedTimeoutMs:    200,
			EveryoneLeftTimeoutMs:   200,
			StartupAloneTimeoutSecs: 5,
		},
		TranscribeEnabled: boolPtr(false),
	}
}

func boolPtr(b bool) *bool { return &b }

func TestFlowController_JoinFailure(t *testing.T) {
	strat := &fakeStrategy{platform: PlatformMeet, joinErr: errors.New("navigation failed")}
	fc, err := NewFlowController(baseTestConfig(PlatformMeet), strat, nil, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewFlowController: %v", err)
	}

	reason, runErr := fc.Run(context.Background())
	if runErr == nil {
		t.Fatal("expected a join error")
	}
	if want := MakeExitReason(PlatformMeet, ReasonJoinError); reason != want {
		t.Errorf("reason = %q, want %q", reason, want)
	}
}

func TestFlowController_AdmissionRejected(t *testing.T) {
	strat := &fakeStrategy{
		platform:  PlatformMeet,
		admission: AdmissionResult{Admitted: false, Reason: AdmissionRejected},
	}
	fc, _ := NewFlowController(baseTestConfig(PlatformMeet), strat, nil, nil, nil, nil, nil)

	reason, runErr := fc.Run(context.Background())
	if runErr != nil {
		t.Fatalf("unexpected error: %v", runErr)
	}
	want := MakeExitReason(PlatformMeet, ReasonAdmissionRejected)
	if reason != want {
		t.Errorf("reason = %q, want %q", reason, want)
	}
	if len(strat.leaveCalls) != 1 {
		t.Errorf("expected exactly one Leave call, got %d", len(strat.leaveCalls))
	}
}

func TestFlowController_NormalCompletion(t *testing.T) {
	strat := &fakeStrategy{
		platform:        PlatformTeams,
		admission:       AdmissionResult{Admitted: true},
		recordingReason: MakeExitReason(PlatformTeams, ReasonNormalCompletion),
		removalBlock:    true,
	}
	fc, _ := NewFlowController(baseTestConfig(PlatformTeams), strat, nil, nil, nil, nil, nil)

	reason, runErr := fc.Run(context.Background())
	if runErr != nil {
		t.Fatalf("unexpected error: %v", runErr)
	}
	want := MakeExitReason(PlatformTeams, ReasonNormalCompletion)
	if reason != want {
		t.Errorf("reason = %q, want %q", reason, want)
	}
	if len(strat.leaveCalls) != 1 || strat.leaveCalls[0] != want {
		t.Errorf("unexpected leave calls: %+v", strat.leaveCalls)
	}
}

func TestFlowController_RemovalMonitorWinsRace(t *testing.T) {
	strat := &fakeStrategy{
		platform:       PlatformZoom,
		admission:      AdmissionResult{Admitted: true},
		recordingDelay: time.Hour, // never resolves before the monitor
		removalReason:  MakeExitReason(PlatformZoom, ReasonBotRemovedByAdmin),
	}
	fc, _ := NewFlowController(baseTestConfig(PlatformZoom), strat, nil, nil, nil, nil, nil)

	reason, runErr := fc.Run(context.Background())
	if runErr != nil {
		t.Fatalf("unexpected error: %v", runErr)
	}
	want := MakeExitReason(PlatformZoom, ReasonBotRemovedByAdmin)
	if reason != want {
		t.Errorf("reason = %q, want %q", reason, want)
	}
}
