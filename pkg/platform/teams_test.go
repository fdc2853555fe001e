package platform

import (
	"context"
	"testing"
	"time"

	"github.com/vexa-ai/meeting-worker/pkg/bot"
)

func TestTeamsStrategy_JoinClicksThroughPrejoin(t *testing.T) {
	page := &fakePage{existing: map[string]bool{}}
	strat := NewTeamsStrategy(page, bot.BotConfig{}, nil, newTestTracker(), nil, nil)

	if err := strat.Join(context.Background(), bot.BotConfig{MeetingURL: "https://teams.microsoft.com/x", BotName: "Notetaker"}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if got := page.filled[teamsNameFieldSelector]; got != "Notetaker" {
		t.Errorf("expected the name field to be filled with %q, got %q", "Notetaker", got)
	}
	if !containsString(page.clicked, teamsJoinNowSelector) {
		t.Errorf("expected the join-now control to be clicked, clicks: %v", page.clicked)
	}
}

func TestTeamsStrategy_JoinPropagatesJoinNowFailure(t *testing.T) {
	page := &fakePage{clickErr: map[string]error{teamsJoinNowSelector: errJoinClickFailed}}
	strat := NewTeamsStrategy(page, bot.BotConfig{}, nil, newTestTracker(), nil, nil)

	if err := strat.Join(context.Background(), bot.BotConfig{}); err == nil {
		t.Fatal("expected an error when the join-now control cannot be clicked")
	}
}

func TestTeamsStrategy_PrepareInjectsWebRTCInterceptScript(t *testing.T) {
	page := &fakePage{}
	strat := NewTeamsStrategy(page, bot.BotConfig{}, nil, newTestTracker(), nil, nil)

	if err := strat.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if !containsString(page.injected, teamsWebRTCInterceptScript) {
		t.Error("expected the WebRTC intercept script to be injected")
	}
}

func TestTeamsStrategy_WaitForAdmissionSucceedsOnHangupButton(t *testing.T) {
	page := &fakePage{existing: map[string]bool{teamsHangupSelector: true}}
	strat := NewTeamsStrategy(page, bot.BotConfig{}, nil, newTestTracker(), nil, nil)

	result, err := strat.WaitForAdmission(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("WaitForAdmission: %v", err)
	}
	if !result.Admitted || result.Reason != bot.AdmissionAdmitted {
		t.Errorf("expected admitted result, got %+v", result)
	}
}

func TestTeamsStrategy_WaitForAdmissionTimesOutWithoutHangupButton(t *testing.T) {
	page := &fakePage{existing: map[string]bool{}}
	strat := NewTeamsStrategy(page, bot.BotConfig{}, nil, newTestTracker(), nil, nil)

	result, err := strat.WaitForAdmission(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForAdmission: %v", err)
	}
	if result.Admitted || result.Reason != bot.AdmissionTimeout {
		t.Errorf("expected a timeout result, got %+v", result)
	}
}

func TestTeamsStrategy_StartRemovalMonitorDetectsLobbyReappearing(t *testing.T) {
	page := &fakePage{existing: map[string]bool{}}
	strat := NewTeamsStrategy(page, bot.BotConfig{}, nil, newTestTracker(), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan bot.ExitReason, 1)
	go func() {
		reason, _ := strat.StartRemovalMonitor(ctx)
		done <- reason
	}()

	time.Sleep(10 * time.Millisecond)
	page.mu.Lock()
	page.existing[teamsLobbyTextSelector] = true
	page.mu.Unlock()

	select {
	case reason := <-done:
		if reason != bot.MakeExitReason(bot.PlatformTeams, bot.ReasonBotRemovedByAdmin) {
			t.Errorf("unexpected reason %q", reason)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("expected removal monitor to detect the lobby screen reappearing")
	}
}

// --- teamsRosterSource debounce state machine ---

func elementWithClasses(id, name string, classes ...string) *fakeElement {
	return &fakeElement{
		attrs:   map[string]string{"data-participant-id": id},
		text:    name,
		classes: classes,
	}
}

func TestTeamsRosterSource_CandidateNotConfirmedBeforeDebounce(t *testing.T) {
	page := &fakePage{
		existing: map[string]bool{teamsHangupSelector: true},
		elements: []ElementHandle{elementWithClasses("p1", "Alice", teamsVoiceLevelClass)},
	}
	src := newTeamsRosterSource(page)

	snap, containerExists, err := src.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !containerExists {
		t.Fatal("expected container to exist")
	}
	if len(snap) != 1 || snap[0].Speaking {
		t.Errorf("expected the first observation to be an unconfirmed candidate, got %+v", snap)
	}
}

func TestTeamsRosterSource_ConfirmsSpeakingAfterDebounceWindow(t *testing.T) {
	page := &fakePage{
		existing: map[string]bool{teamsHangupSelector: true},
		elements: []ElementHandle{elementWithClasses("p1", "Alice", teamsVoiceLevelClass)},
	}
	src := newTeamsRosterSource(page)

	if _, _, err := src.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	// Force the pending candidate's "since" timestamp into the past so the
	// next poll sees it past the debounce window, instead of sleeping in
	// the test for real wallclock time.
	st := src.pending["p1"]
	st.since = time.Now().Add(-2 * teamsSpeakingDebounce)
	src.pending["p1"] = st

	snap, _, err := src.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap) != 1 || !snap[0].Speaking {
		t.Errorf("expected the tile to be confirmed speaking after the debounce window, got %+v", snap)
	}
}

func TestTeamsRosterSource_CandidateFlipResetsDebounceTimer(t *testing.T) {
	page := &fakePage{
		existing: map[string]bool{teamsHangupSelector: true},
		elements: []ElementHandle{elementWithClasses("p1", "Alice", teamsVoiceLevelClass)},
	}
	src := newTeamsRosterSource(page)

	if _, _, err := src.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	st := src.pending["p1"]
	st.since = time.Now().Add(-2 * teamsSpeakingDebounce)
	src.pending["p1"] = st
	if _, _, err := src.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !src.pending["p1"].confirmed {
		t.Fatal("expected p1 to be confirmed speaking before the flip")
	}

	// Tile stops carrying the voice-level class: candidate flips to false,
	// but must not be confirmed silent until another debounce window passes.
	page.elements = []ElementHandle{elementWithClasses("p1", "Alice")}
	snap, _, err := src.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap) != 1 || !snap[0].Speaking {
		t.Errorf("expected speaking state to persist until the new debounce window elapses, got %+v", snap)
	}
	if src.pending["p1"].candidate {
		t.Error("expected the candidate flag to have flipped to false immediately")
	}
}

func TestTeamsRosterSource_RemovesPendingStateWhenTileDisappears(t *testing.T) {
	page := &fakePage{
		existing: map[string]bool{teamsHangupSelector: true},
		elements: []ElementHandle{elementWithClasses("p1", "Alice", teamsVoiceLevelClass)},
	}
	src := newTeamsRosterSource(page)
	if _, _, err := src.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, ok := src.pending["p1"]; !ok {
		t.Fatal("expected p1 to have pending state after first observation")
	}

	page.elements = nil
	if _, _, err := src.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, ok := src.pending["p1"]; ok {
		t.Error("expected p1's pending state to be cleared once it leaves the roster")
	}
}
