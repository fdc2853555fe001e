package bot

import (
	"sync"
	"time"
)

type speakerState struct {
	name          string
	speaking      bool
	startRelMs    int64
	startWallTime time.Time
}

type spokenInterval struct {
	participantID   string
	participantName string
	startMs         int64
	endMs           int64
}

// SpeakerTracker is the per-participant speaking/silent state machine
// (§4.5): it emits SPEAKER_START/END, deduplicates consecutive events,
// maintains the duration ledger, and answers "who spoke during
// [t0,t1]" queries by interval overlap.
type SpeakerTracker struct {
	mu sync.Mutex

	session          *Session
	thresholdSeconds float64
	onEvent          func(SpeakerEvent)

	states         map[string]*speakerState
	ledger         map[string]float64
	spokenSpeakers map[string]bool
	intervals      []spokenInterval

	meetingHasHadSpeech bool
	lastSpeechWall      time.Time
	hasLastSpeech       bool
}

// NewSpeakerTracker constructs a tracker bound to session. onEvent is
// invoked synchronously for every emitted SPEAKER_START/END (the caller —
// typically the transcription client — is responsible for forwarding it
// and must not block for long, per the single-dispatch-task model in §5).
func NewSpeakerTracker(session *Session, speechActivationThresholdSeconds float64, onEvent func(SpeakerEvent)) *SpeakerTracker {
	return &SpeakerTracker{
		session:          session,
		thresholdSeconds: speechActivationThresholdSeconds,
		onEvent:          onEvent,
		states:           make(map[string]*speakerState),
		ledger:           make(map[string]float64),
		spokenSpeakers:   make(map[string]bool),
	}
}

// Rebind points the tracker at a fresh session on transcription reconnect.
// Open speaking intervals are NOT implicitly closed — logical speaking
// state survives a gateway reconnect since the participant is still
// physically speaking; only the relativeMs origin changes.
func (t *SpeakerTracker) Rebind(session *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session = session
}

// SetSpeaking reports an observed speaking/silent signal for a
// participant. It is idempotent: repeated calls with the same speaking
// value for an already-matching logical state produce no event (§4.5
// dedup rule).
func (t *SpeakerTracker) SetSpeaking(participantID, participantName string, speaking bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setSpeakingLocked(participantID, participantName, speaking, time.Now())
}

func (t *SpeakerTracker) setSpeakingLocked(participantID, participantName string, speaking bool, now time.Time) {
	st, ok := t.states[participantID]
	if !ok {
		st = &speakerState{name: participantName}
		t.states[participantID] = st
	}
	if participantName != "" {
		st.name = participantName
	}

	if speaking == st.speaking {
		return // dedup: no transition
	}

	rel := t.session.RelativeMs(now)

	if speaking {
		st.speaking = true
		st.startRelMs = rel
		st.startWallTime = now
		t.emit(SpeakerEvent{Kind: SpeakerStart, ParticipantID: participantID, ParticipantName: st.name, RelativeMs: rel})
		return
	}

	// Transition to silent: close the interval and update the ledger.
	st.speaking = false
	t.closeInterval(participantID, st.name, st.startRelMs, rel, now)
	t.emit(SpeakerEvent{Kind: SpeakerEnd, ParticipantID: participantID, ParticipantName: st.name, RelativeMs: rel})
}

// Remove synthesizes a SPEAKER_END for a departing participant who was
// still speaking (§4.5 "on participant removal while speaking").
func (t *SpeakerTracker) Remove(participantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[participantID]
	if !ok || !st.speaking {
		delete(t.states, participantID)
		return
	}
	t.setSpeakingLocked(participantID, st.name, false, time.Now())
	delete(t.states, participantID)
}

func (t *SpeakerTracker) closeInterval(id, name string, startRel, endRel int64, now time.Time) {
	dur := endRel - startRel
	if dur > 0 {
		t.ledger[id] += float64(dur) / 1000.0
		t.spokenSpeakers[id] = true
		t.intervals = append(t.intervals, spokenInterval{participantID: id, participantName: name, startMs: startRel, endMs: endRel})
		if t.ledger[id] >= t.thresholdSeconds {
			t.meetingHasHadSpeech = true
		}
	}
	t.lastSpeechWall = now
	t.hasLastSpeech = true
}

func (t *SpeakerTracker) emit(ev SpeakerEvent) {
	if t.onEvent != nil {
		t.onEvent(ev)
	}
}

// DurationLedger returns a copy of the cumulative spoken seconds per
// participant.
func (t *SpeakerTracker) DurationLedger() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(t.ledger))
	for k, v := range t.ledger {
		out[k] = v
	}
	return out
}

// MeetingHasHadSpeech reports the monotone "has anyone spoken enough to
// count" latch (§3 invariant c, §8 property 4).
func (t *SpeakerTracker) MeetingHasHadSpeech() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.meetingHasHadSpeech
}

// LastSpeechAt returns the wallclock time of the most recent closed
// speaking interval and whether any speech has occurred yet.
func (t *SpeakerTracker) LastSpeechAt() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSpeechWall, t.hasLastSpeech
}

// SpokenSpeakers returns the set of participant IDs who have ever produced
// a positive-duration speaking interval.
func (t *SpeakerTracker) SpokenSpeakers() map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]bool, len(t.spokenSpeakers))
	for k := range t.spokenSpeakers {
		out[k] = true
	}
	return out
}

// WhoSpokeDuring answers "who spoke during [t0,t1]" (relative
// milliseconds) by intersecting the window with every recorded
// START...END interval and returning the participant with the largest
// overlap; ties are broken by overlap duration, which for equal overlaps
// means the first interval encountered wins.
func (t *SpeakerTracker) WhoSpokeDuring(t0, t1 int64) (participantID string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var bestID string
	var bestOverlap int64
	for _, iv := range t.intervals {
		lo := iv.startMs
		if t0 > lo {
			lo = t0
		}
		hi := iv.endMs
		if t1 < hi {
			hi = t1
		}
		overlap := hi - lo
		if overlap > 0 && overlap > bestOverlap {
			bestOverlap = overlap
			bestID = iv.participantID
		}
	}
	if bestOverlap <= 0 {
		return "", false
	}
	return bestID, true
}
