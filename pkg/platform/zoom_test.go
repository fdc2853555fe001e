package platform

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vexa-ai/meeting-worker/pkg/bot"
)

// fakeZoomSDK implements ZoomSDK with scriptable join/admission outcomes and
// manually-fired subscription callbacks, so ZoomStrategy can be exercised
// without a real Meeting SDK binding.
type fakeZoomSDK struct {
	mu sync.Mutex

	initErr   error
	authErr   error
	joinErr   error
	inMeeting bool
	joinErr2  error // WaitJoinResult error

	rawAudioErr    error
	speakersErr    error
	statusErr      error
	leaveCalled    bool

	statusFn func(MeetingStatus)
	speakerFn func([]string)
}

func (f *fakeZoomSDK) Initialize(ctx context.Context) error { return f.initErr }
func (f *fakeZoomSDK) Authenticate(ctx context.Context, signedJWT string) error { return f.authErr }
func (f *fakeZoomSDK) Join(ctx context.Context, meetingNumber, displayName, passcode string) error {
	return f.joinErr
}
func (f *fakeZoomSDK) WaitJoinResult(ctx context.Context) (bool, error) {
	return f.inMeeting, f.joinErr2
}
func (f *fakeZoomSDK) SubscribeRawAudio(ctx context.Context, onFrame func(pcm []int16, sampleRateHz int)) (func(), error) {
	if f.rawAudioErr != nil {
		return nil, f.rawAudioErr
	}
	return func() {}, nil
}
func (f *fakeZoomSDK) SubscribeActiveSpeakers(ctx context.Context, onChange func(userIDs []string)) (func(), error) {
	if f.speakersErr != nil {
		return nil, f.speakersErr
	}
	f.mu.Lock()
	f.speakerFn = onChange
	f.mu.Unlock()
	return func() {}, nil
}
func (f *fakeZoomSDK) ResolveUserName(ctx context.Context, userID string) (string, error) {
	return "User-" + userID, nil
}
func (f *fakeZoomSDK) SubscribeMeetingStatus(ctx context.Context, onStatus func(MeetingStatus)) (func(), error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	f.mu.Lock()
	f.statusFn = onStatus
	f.mu.Unlock()
	return func() {}, nil
}
func (f *fakeZoomSDK) Leave(ctx context.Context) error {
	f.leaveCalled = true
	return nil
}

func TestZoomStrategy_JoinPropagatesInitializeError(t *testing.T) {
	sdk := &fakeZoomSDK{initErr: errors.New("init failed")}
	strat := NewZoomStrategy(sdk, bot.BotConfig{}, nil, newTestTracker(), nil, nil)

	if err := strat.Join(context.Background(), bot.BotConfig{ZoomClientID: "id", ZoomClientSecret: "secret"}); err == nil {
		t.Fatal("expected an error when SDK initialization fails")
	}
}

func TestZoomStrategy_WaitForAdmissionAdmitted(t *testing.T) {
	sdk := &fakeZoomSDK{inMeeting: true}
	strat := NewZoomStrategy(sdk, bot.BotConfig{}, nil, newTestTracker(), nil, nil)

	result, err := strat.WaitForAdmission(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("WaitForAdmission: %v", err)
	}
	if !result.Admitted || result.Reason != bot.AdmissionAdmitted {
		t.Errorf("expected admitted result, got %+v", result)
	}
}

func TestZoomStrategy_WaitForAdmissionRejected(t *testing.T) {
	sdk := &fakeZoomSDK{inMeeting: false}
	strat := NewZoomStrategy(sdk, bot.BotConfig{}, nil, newTestTracker(), nil, nil)

	result, err := strat.WaitForAdmission(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("WaitForAdmission: %v", err)
	}
	if result.Admitted || result.Reason != bot.AdmissionRejected {
		t.Errorf("expected rejected result, got %+v", result)
	}
}

func TestZoomStrategy_PrepareAndMeetingStatusTriggersRemoval(t *testing.T) {
	sdk := &fakeZoomSDK{}
	strat := NewZoomStrategy(sdk, bot.BotConfig{}, nil, newTestTracker(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := strat.Prepare(ctx); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	sdk.mu.Lock()
	statusFn := sdk.statusFn
	sdk.mu.Unlock()
	if statusFn == nil {
		t.Fatal("expected Prepare to have subscribed to meeting status")
	}
	statusFn(MeetingStatusRemovedByHost)

	reason, err := strat.StartRemovalMonitor(ctx)
	if err != nil {
		t.Fatalf("StartRemovalMonitor: %v", err)
	}
	if reason != bot.MakeExitReason(bot.PlatformZoom, bot.ReasonBotRemovedByAdmin) {
		t.Errorf("unexpected reason %q", reason)
	}
}

func TestZoomStrategy_DiffActiveSpeakersEmitsStartAndEnd(t *testing.T) {
	sdk := &fakeZoomSDK{}
	tracker := newTestTracker()
	var rosterCounts []int
	strat := NewZoomStrategy(sdk, bot.BotConfig{}, nil, tracker, func(count int, containerExists bool, ids []string) {
		rosterCounts = append(rosterCounts, count)
	}, nil)

	strat.diffActiveSpeakers(context.Background(), []string{"u1"})
	time.Sleep(5 * time.Millisecond) // give u1's interval a non-zero length
	strat.diffActiveSpeakers(context.Background(), nil)

	if !tracker.SpokenSpeakers()["u1"] {
		t.Error("expected u1 to be recorded as a spoken speaker once their interval closed")
	}

	if len(rosterCounts) != 2 {
		t.Fatalf("expected two roster-count callbacks, got %d", len(rosterCounts))
	}
	if rosterCounts[0] != 2 { // u1 + bot
		t.Errorf("expected roster count of 2 while u1 present, got %d", rosterCounts[0])
	}
	if rosterCounts[1] != 1 { // bot only
		t.Errorf("expected roster count of 1 once u1 leaves, got %d", rosterCounts[1])
	}
}

func TestZoomStrategy_LeaveCallsSDKLeave(t *testing.T) {
	sdk := &fakeZoomSDK{}
	strat := NewZoomStrategy(sdk, bot.BotConfig{}, nil, newTestTracker(), nil, nil)

	if err := strat.Leave(context.Background(), bot.MakeExitReason(bot.PlatformZoom, bot.ReasonStopped)); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if !sdk.leaveCalled {
		t.Error("expected SDK Leave to be called")
	}
}
