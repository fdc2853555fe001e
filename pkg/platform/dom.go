// Package platform implements the three PlatformStrategy backends (Google
// Meet, Microsoft Teams, Zoom) against an abstract browser/SDK seam so the
// core roster/speaker-diffing logic can be shared and unit-tested without a
// real browser or SDK.
package platform

import (
	"context"
	"sync"
	"time"

	"github.com/vexa-ai/meeting-worker/pkg/bot"
)

// Page is the abstract browser-page collaborator the DOM-based strategies
// (Meet, Teams) drive. A real implementation wraps whatever browser
// automation surface the container environment provides; it is out of
// scope for this module (§1 "out of scope: container entry/runtime setup").
type Page interface {
	Goto(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Exists(ctx context.Context, selector string) (bool, error)
	TextContent(ctx context.Context, selector string) (string, error)
	// InjectInitScript runs script before any page navigation completes;
	// used by the Teams strategy to intercept WebRTC peer connections
	// (§4.2.2, §9 "dynamic DOM interception").
	InjectInitScript(ctx context.Context, script string) error
	// ParticipantElements returns one handle per roster entry currently
	// rendered in the participant list/panel.
	ParticipantElements(ctx context.Context) ([]ElementHandle, error)
	// MediaElementsWithAudio returns handles for every live media element
	// whose source stream carries an audio track (§4.2.1 audio acquisition).
	MediaElementsWithAudio(ctx context.Context) ([]ElementHandle, error)
	// SubscribeAudioFrames starts delivering the page's mixed-audio-graph
	// output (§4.3 responsibility 1) to onFrame until the returned stop
	// func is called or ctx is cancelled.
	SubscribeAudioFrames(ctx context.Context, onFrame func(samples []float32, sampleRate int)) (stop func(), err error)
	Close(ctx context.Context) error
}

// ElementHandle is an opaque reference to one DOM node.
type ElementHandle interface {
	Attribute(ctx context.Context, name string) (string, bool, error)
	TextContent(ctx context.Context) (string, error)
	ClassList(ctx context.Context) ([]string, error)
}

// ParticipantSnapshot is one roster entry as observed at a point in time.
type ParticipantSnapshot struct {
	ID       string
	Name     string
	Speaking bool
}

// RosterSource produces the current roster and whether the roster
// container itself is still observable (§4.6 case 1, "UI gone").
type RosterSource interface {
	Snapshot(ctx context.Context) (participants []ParticipantSnapshot, containerExists bool, err error)
}

// RosterCountFunc receives the bot-inclusive participant count, whether the
// roster container is observable, and the current non-bot participant IDs —
// exactly the exit detector's Tick inputs.
type RosterCountFunc func(count int, containerExists bool, remainingIDs []string)

// RosterWatcher polls a RosterSource on a fixed interval, diffs it against
// the previous poll to drive SpeakerTracker start/end/remove calls, and
// reports roster-count signals to the exit detector (§4.2.1's 500ms Meet
// polling loop and §4.2.2's Teams voice-level-outline polling are both
// expressed as configurable instances of this one watcher).
type RosterWatcher struct {
	source   RosterSource
	tracker  *bot.SpeakerTracker
	interval time.Duration
	onCount  RosterCountFunc

	mu      sync.Mutex
	present map[string]bool
}

// NewRosterWatcher constructs a watcher. tracker may be nil in degraded
// monitoring mode (no audio, but roster/exit signals still flow).
func NewRosterWatcher(source RosterSource, tracker *bot.SpeakerTracker, interval time.Duration, onCount RosterCountFunc) *RosterWatcher {
	return &RosterWatcher{
		source:   source,
		tracker:  tracker,
		interval: interval,
		onCount:  onCount,
		present:  make(map[string]bool),
	}
}

// Run blocks, polling until ctx is cancelled.
func (w *RosterWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.poll(ctx); err != nil {
				continue // transient DOM read failure: retry next tick (§7 platform UI drift)
			}
		}
	}
}

func (w *RosterWatcher) poll(ctx context.Context) error {
	snapshot, containerExists, err := w.source.Snapshot(ctx)
	if err != nil {
		return err
	}

	w.mu.Lock()
	seen := make(map[string]bool, len(snapshot))
	ids := make([]string, 0, len(snapshot))
	for _, p := range snapshot {
		seen[p.ID] = true
		ids = append(ids, p.ID)
		if w.tracker != nil {
			w.tracker.SetSpeaking(p.ID, p.Name, p.Speaking)
		}
	}
	for id := range w.present {
		if !seen[id] && w.tracker != nil {
			w.tracker.Remove(id)
		}
	}
	w.present = seen
	w.mu.Unlock()

	if w.onCount != nil {
		// participant count is bot-inclusive (§4.6); the bot itself is never
		// a roster entry in these snapshots, so +1 accounts for it.
		w.onCount(len(snapshot)+1, containerExists, ids)
	}
	return nil
}
