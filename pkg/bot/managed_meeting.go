package bot

import (
	"context"
	"sync"
	"time"

	"github.com/vexa-ai/meeting-worker/pkg/transcription"
)

// ManagedMeeting owns everything that exists for the lifetime of one
// meeting's "active" phase: the audio pipeline, the speaker tracker, the
// transcription-gateway client, and the exit detector — mirroring the
// teacher's ManagedStream as the single owner of one conversation's
// pipeline state (§5: "all state... owned by one logical task").
type ManagedMeeting struct {
	cfg     BotConfig
	logger  Logger
	metrics *Metrics

	session       *Session
	pipeline      *AudioPipeline
	tracker       *SpeakerTracker
	exitDetector  *ExitDetector
	transcription *transcription.Client
	debugRecorder *DebugRecorder

	rosterMu     sync.Mutex
	rosterCount  int
	rosterExists bool
	rosterIDs    []string

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	reason   ExitReason
	hasReason bool
}

// NewManagedMeeting wires the pipeline/tracker/transcription/exit-detector
// graph for one meeting.
func NewManagedMeeting(cfg BotConfig, logger Logger, metrics *Metrics) *ManagedMeeting {
	if logger == nil {
		logger = NoOpLogger{}
	}
	m := &ManagedMeeting{cfg: cfg, logger: logger, metrics: metrics}

	m.session = NewSession(cfg.Language, cfg.EffectiveTask())

	exitCfg := ExitDetectorConfigFromEnv()
	m.tracker = NewSpeakerTracker(m.session, exitCfg.SpeechActivationThresholdSeconds, m.onSpeakerEvent)

	if cfg.DebugAudioDir != "" {
		m.debugRecorder = NewDebugRecorder(cfg.DebugAudioDir, cfg.MeetingID)
	}

	m.pipeline = NewAudioPipeline(m.session, m.transcriptionReady, m.onAudioFrame, logger)
	m.pipeline.SetDebugRecorder(m.debugRecorder)

	m.exitDetector = NewExitDetector(exitCfg, time.Now())

	if cfg.TranscribeIsEnabled() {
		m.transcription = transcription.New(transcription.Options{
			GatewayURL:          gatewayURLFromEnv(),
			Token:               cfg.AuthToken,
			Platform:            string(cfg.Platform),
			MeetingID:           cfg.MeetingID,
			MeetingURL:          cfg.MeetingURL,
			ReconnectIntervalMs: cfg.EffectiveReconnectIntervalMs(),
			Logger:              logger,
		}, transcription.Callbacks{
			OnSessionStart: m.onTranscriptionSessionStart,
			OnReady:        m.onTranscriptionReady,
			OnDisconnected: m.onTranscriptionDisconnected,
			OnSegment: func(text string) {
				logger.Info("transcript segment", "text", text)
			},
			OnLanguageDetected: func(language string) {
				logger.Info("detected language", "language", language)
			},
		}, transcription.ClientConfig{Language: cfg.Language, Task: string(cfg.EffectiveTask())})
	}

	return m
}

// gatewayURLFromEnv reads the transcription-gateway endpoint (§6
// "Transcription-gateway endpoint is read from environment").
func gatewayURLFromEnv() string {
	return envOrDefault("TRANSCRIPTION_GATEWAY_URL", "ws://localhost:9090/ws")
}

// Start begins the background work (transcription client, exit-detector
// ticking) bound to a child of parentCtx, and returns that child context —
// the context the flow controller must pass to StartRecording and
// StartRemovalMonitor. The context is cancelled either when the exit
// detector fires or when RequestStop is called.
func (m *ManagedMeeting) Start(parentCtx context.Context) context.Context {
	ctx, cancel := context.WithCancel(parentCtx)
	m.mu.Lock()
	m.ctx = ctx
	m.cancel = cancel
	m.mu.Unlock()

	if m.transcription != nil {
		go m.transcription.Run(ctx)
	}

	go m.runExitDetectorTicker(ctx)

	return ctx
}

func (m *ManagedMeeting) runExitDetectorTicker(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.rosterMu.Lock()
			count, exists, ids := m.rosterCount, m.rosterExists, m.rosterIDs
			m.rosterMu.Unlock()

			decision := m.exitDetector.Tick(now, count, exists, ids, m.tracker)
			if decision.ShouldExit {
				m.RequestStop(MakeExitReason(m.cfg.Platform, decision.Reason))
				return
			}
		}
	}
}

// OnRosterUpdate is supplied to the platform strategy as its roster-count
// callback (structurally matches platform.RosterCountFunc without this
// package depending on it).
func (m *ManagedMeeting) OnRosterUpdate(count int, containerExists bool, remainingIDs []string) {
	m.rosterMu.Lock()
	m.rosterCount = count
	m.rosterExists = containerExists
	m.rosterIDs = remainingIDs
	m.rosterMu.Unlock()
}

// RequestStop records the first reported reason and cancels the active
// context, waking anything blocked on it (StartRecording,
// StartRemovalMonitor, the exit-detector ticker, the transcription client).
func (m *ManagedMeeting) RequestStop(reason ExitReason) {
	m.mu.Lock()
	if !m.hasReason {
		m.reason = reason
		m.hasReason = true
	}
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Reason returns the recorded exit reason, if any was set before cancellation.
func (m *ManagedMeeting) Reason() (ExitReason, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason, m.hasReason
}

// Tracker exposes the speaker tracker, e.g. for a platform strategy that
// diffs speaker sets directly (Zoom).
func (m *ManagedMeeting) Tracker() *SpeakerTracker { return m.tracker }

// Pipeline exposes the audio pipeline for platform strategies to push
// frames into.
func (m *ManagedMeeting) Pipeline() *AudioPipeline { return m.pipeline }

// Reconfigure applies a runtime language/task change (§4.7 "reconfigure").
func (m *ManagedMeeting) Reconfigure(language, task string) {
	if language != "" {
		m.session.mu.Lock()
		m.session.Language = language
		m.session.mu.Unlock()
	}
	if m.transcription == nil {
		return
	}
	cfg := transcription.ClientConfig{Language: language, Task: task}
	if language == "" {
		cfg.Language = m.cfg.Language
	}
	if task == "" {
		cfg.Task = string(m.cfg.EffectiveTask())
	}
	m.transcription.Reconfigure(cfg)
}

// Close gracefully tears down the transcription client (LEAVING_MEETING +
// drain) and flushes any debug recording. Safe to call once, after Start's
// context has been cancelled.
func (m *ManagedMeeting) Close(ctx context.Context) {
	if m.transcription != nil {
		if err := m.transcription.Close(ctx); err != nil {
			m.logger.Warn("managed meeting: error closing transcription client", "error", err)
		}
	}
	if m.debugRecorder != nil {
		if err := m.debugRecorder.Flush(); err != nil {
			m.logger.Warn("managed meeting: error flushing debug recording", "error", err)
		}
	}
}

func (m *ManagedMeeting) transcriptionReady() bool {
	if !m.cfg.TranscribeIsEnabled() {
		return false
	}
	if m.transcription == nil {
		return false
	}
	return m.transcription.IsReady()
}

func (m *ManagedMeeting) onAudioFrame(frame []float32, sessionStartMs int64) {
	if m.metrics != nil {
		m.metrics.FramesEmitted.WithLabelValues(string(m.cfg.Platform)).Inc()
	}
	if m.transcription == nil {
		return
	}
	ctx := m.activeContext()
	if err := m.transcription.SendAudioFrame(ctx, frame); err != nil {
		m.logger.Warn("managed meeting: failed to send audio frame", "error", err)
	}
}

func (m *ManagedMeeting) onSpeakerEvent(ev SpeakerEvent) {
	if m.metrics != nil {
		m.metrics.SpeakerEvents.WithLabelValues(string(m.cfg.Platform), string(ev.Kind)).Inc()
	}
	if m.transcription == nil {
		return
	}
	ctx := m.activeContext()
	err := m.transcription.SendSpeakerEvent(ctx, transcription.SpeakerEventParams{
		EventType:       string(ev.Kind),
		ParticipantID:   ev.ParticipantID,
		ParticipantName: ev.ParticipantName,
		RelativeMs:      ev.RelativeMs,
	})
	if err != nil {
		m.logger.Warn("managed meeting: failed to send speaker event", "error", err)
	}
}

func (m *ManagedMeeting) onTranscriptionSessionStart(sessionUID string) {
	m.session.mu.Lock()
	m.session.SessionUID = sessionUID
	m.session.audioStartSet = false
	m.session.audioStartWallclockMs = 0
	m.session.mu.Unlock()

	m.pipeline.Rebind(m.session)
	m.tracker.Rebind(m.session)
	if m.metrics != nil {
		m.metrics.TranscriptionReconnects.WithLabelValues(string(m.cfg.Platform)).Inc()
	}
}

func (m *ManagedMeeting) onTranscriptionReady() {
	m.logger.Info("transcription client ready")
}

func (m *ManagedMeeting) onTranscriptionDisconnected() {
	m.logger.Warn("transcription client disconnected, reconnecting")
}

func (m *ManagedMeeting) activeContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx != nil {
		return m.ctx
	}
	return context.Background()
}
