package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/vexa-ai/meeting-worker/pkg/bot"
	"github.com/vexa-ai/meeting-worker/pkg/zoomsig"
)

// zoomFallbackSampleRate/zoomFallbackChannels is the fixed contract the
// virtual-sink fallback capture is pinned to, matching the SDK's raw-audio
// callback shape exactly so one resampler path serves both sources (§9 open
// question, SPEC_FULL.md "Zoom virtual-sink fallback precision").
const (
	zoomFallbackSampleRate = 32000
	zoomFallbackChannels   = 1
)

// MeetingStatus mirrors the Zoom Meeting SDK's meeting-status callback
// values relevant to removal detection (§4.2.3).
type MeetingStatus int

const (
	MeetingStatusInMeeting MeetingStatus = iota
	MeetingStatusEnded
	MeetingStatusFailed
	MeetingStatusRemovedByHost
)

// ZoomSDK is the abstract native Meeting SDK collaborator; a real binding
// sits behind cgo or a sidecar process and is out of scope for this module
// (§1 "out of scope: container entry/runtime setup").
type ZoomSDK interface {
	Initialize(ctx context.Context) error
	Authenticate(ctx context.Context, signedJWT string) error
	Join(ctx context.Context, meetingNumber, displayName, passcode string) error
	// WaitJoinResult blocks until the SDK's join callback reports in- or
	// out-of-meeting.
	WaitJoinResult(ctx context.Context) (inMeeting bool, err error)
	// SubscribeRawAudio delivers the SDK's mixed raw-audio callback (PCM
	// int16, sampleRateHz mono) until the returned stop func is called.
	SubscribeRawAudio(ctx context.Context, onFrame func(pcm []int16, sampleRateHz int)) (stop func(), err error)
	// SubscribeActiveSpeakers delivers the current active-speaker user-ID
	// set on every SDK change notification.
	SubscribeActiveSpeakers(ctx context.Context, onChange func(userIDs []string)) (stop func(), err error)
	ResolveUserName(ctx context.Context, userID string) (string, error)
	SubscribeMeetingStatus(ctx context.Context, onStatus func(MeetingStatus)) (stop func(), err error)
	Leave(ctx context.Context) error
}

// ZoomStrategy implements bot.PlatformStrategy for Zoom via the native
// Meeting SDK, with a virtual-audio-sink fallback when the raw-audio
// callback is unavailable (missing permission, SDK build without it).
type ZoomStrategy struct {
	sdk    ZoomSDK
	cfg    bot.BotConfig
	logger bot.Logger

	pipeline *bot.AudioPipeline
	tracker  *bot.SpeakerTracker
	onRoster RosterCountFunc

	mu              sync.Mutex
	activeSpeakers  map[string]bool
	removalReasonCh chan bot.ExitReason
}

func NewZoomStrategy(sdk ZoomSDK, cfg bot.BotConfig, pipeline *bot.AudioPipeline, tracker *bot.SpeakerTracker, onRoster RosterCountFunc, logger bot.Logger) *ZoomStrategy {
	if logger == nil {
		logger = bot.NoOpLogger{}
	}
	return &ZoomStrategy{
		sdk: sdk, cfg: cfg, pipeline: pipeline, tracker: tracker, onRoster: onRoster, logger: logger,
		activeSpeakers:  make(map[string]bool),
		removalReasonCh: make(chan bot.ExitReason, 1),
	}
}

func (z *ZoomStrategy) Platform() bot.Platform { return bot.PlatformZoom }

func (z *ZoomStrategy) Join(ctx context.Context, cfg bot.BotConfig) error {
	if err := z.sdk.Initialize(ctx); err != nil {
		return fmt.Errorf("zoom: initialize: %w", err)
	}
	token, err := zoomsig.Sign(cfg.ZoomClientID, cfg.ZoomClientSecret, cfg.NativeMeetingID, 0, 0)
	if err != nil {
		return fmt.Errorf("zoom: sign join token: %w", err)
	}
	if err := z.sdk.Authenticate(ctx, token); err != nil {
		return fmt.Errorf("zoom: authenticate: %w", err)
	}
	if err := z.sdk.Join(ctx, cfg.NativeMeetingID, cfg.BotName, cfg.ZoomPasscode); err != nil {
		return fmt.Errorf("zoom: join: %w", err)
	}
	return nil
}

// WaitForAdmission: admission is an SDK concern for Zoom — the join
// callback reports in-meeting directly, with no separate waiting-room
// signal to poll for (§4.2.3).
func (z *ZoomStrategy) WaitForAdmission(ctx context.Context, timeout time.Duration) (bot.AdmissionResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	inMeeting, err := z.sdk.WaitJoinResult(waitCtx)
	if err != nil {
		if waitCtx.Err() != nil {
			return bot.AdmissionResult{Admitted: false, Reason: bot.AdmissionTimeout}, nil
		}
		return bot.AdmissionResult{}, err
	}
	if !inMeeting {
		return bot.AdmissionResult{Admitted: false, Reason: bot.AdmissionRejected}, nil
	}
	return bot.AdmissionResult{Admitted: true, Reason: bot.AdmissionAdmitted}, nil
}

// Prepare subscribes to meeting-status events so StartRemovalMonitor has
// something to watch concurrently with admission.
func (z *ZoomStrategy) Prepare(ctx context.Context) error {
	stop, err := z.sdk.SubscribeMeetingStatus(ctx, func(status MeetingStatus) {
		switch status {
		case MeetingStatusEnded, MeetingStatusFailed:
			z.pushRemoval(bot.MakeExitReason(bot.PlatformZoom, bot.ReasonDeadMeeting))
		case MeetingStatusRemovedByHost:
			z.pushRemoval(bot.MakeExitReason(bot.PlatformZoom, bot.ReasonBotRemovedByAdmin))
		}
	})
	if err != nil {
		return fmt.Errorf("zoom: subscribe meeting status: %w", err)
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return nil
}

func (z *ZoomStrategy) pushRemoval(reason bot.ExitReason) {
	select {
	case z.removalReasonCh <- reason:
	default:
	}
}

func (z *ZoomStrategy) StartRecording(ctx context.Context) (bot.ExitReason, error) {
	stopAudio, err := z.sdk.SubscribeRawAudio(ctx, func(pcm []int16, sampleRateHz int) {
		z.pipeline.PushFrame(pcm16ToFloat32(pcm), sampleRateHz)
	})
	if err != nil {
		z.logger.Warn("zoom: raw-audio callback unavailable, falling back to virtual sink", "error", err)
		stopAudio, err = virtualSinkCapture(ctx, z.pipeline)
		if err != nil {
			z.logger.Warn("zoom: virtual sink capture unavailable, entering degraded monitoring mode", "error", err)
			stopAudio = func() {}
		}
	}
	defer stopAudio()

	stopSpeakers, err := z.sdk.SubscribeActiveSpeakers(ctx, func(userIDs []string) {
		z.diffActiveSpeakers(ctx, userIDs)
	})
	if err == nil {
		defer stopSpeakers()
	}

	<-ctx.Done()
	return "", nil
}

// diffActiveSpeakers synthesizes SPEAKER_START/END by comparing the SDK's
// active-speaker set against the previous one (§4.2.3).
func (z *ZoomStrategy) diffActiveSpeakers(ctx context.Context, userIDs []string) {
	z.mu.Lock()
	next := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		next[id] = true
	}
	prev := z.activeSpeakers
	z.activeSpeakers = next
	z.mu.Unlock()

	for id := range next {
		if !prev[id] {
			name, _ := z.sdk.ResolveUserName(ctx, id)
			z.tracker.SetSpeaking(id, name, true)
		}
	}
	for id := range prev {
		if !next[id] {
			name, _ := z.sdk.ResolveUserName(ctx, id)
			z.tracker.SetSpeaking(id, name, false)
		}
	}
	if z.onRoster != nil {
		ids := make([]string, 0, len(next))
		for id := range next {
			ids = append(ids, id)
		}
		z.onRoster(len(next)+1, true, ids)
	}
}

func (z *ZoomStrategy) StartRemovalMonitor(ctx context.Context) (bot.ExitReason, error) {
	select {
	case <-ctx.Done():
		return "", nil
	case reason := <-z.removalReasonCh:
		return reason, nil
	}
}

func (z *ZoomStrategy) Leave(ctx context.Context, reason bot.ExitReason) error {
	return z.sdk.Leave(ctx)
}

func pcm16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// virtualSinkCapture opens malgo's default capture device (no device is
// selected by name), fixed at zoomFallbackSampleRate/zoomFallbackChannels
// (SPEC_FULL.md "Zoom virtual-sink fallback precision").
func virtualSinkCapture(ctx context.Context, pipeline *bot.AudioPipeline) (stop func(), err error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("zoom: init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = zoomFallbackChannels
	deviceConfig.SampleRate = zoomFallbackSampleRate

	onSamples := func(_, input []byte, _ uint32) {
		if len(input) == 0 {
			return
		}
		samples := make([]int16, len(input)/2)
		for i := range samples {
			samples[i] = int16(input[i*2]) | int16(input[i*2+1])<<8
		}
		pipeline.PushFrame(pcm16ToFloat32(samples), zoomFallbackSampleRate)
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		mctx.Uninit()
		return nil, fmt.Errorf("zoom: init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		return nil, fmt.Errorf("zoom: start capture device: %w", err)
	}

	return func() {
		device.Uninit()
		mctx.Uninit()
	}, nil
}
