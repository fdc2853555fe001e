package bot

import (
	"context"
	"errors"
	"time"

	"github.com/vexa-ai/meeting-worker/pkg/controlplane"
	"github.com/vexa-ai/meeting-worker/pkg/statusreporter"
)

// admissionPollTimeout bounds WaitForAdmission; derived from the configured
// waiting-room timeout (§3 automaticLeave.waitingRoomTimeoutMs).
func admissionPollTimeout(cfg BotConfig) time.Duration {
	return time.Duration(cfg.AutomaticLeave.WaitingRoomTimeoutMs) * time.Millisecond
}

// FlowController drives one meeting bot process end to end (§4.1): join,
// race admission-wait against instrumentation setup, go active, race
// recording against removal-detection, leave, and report status at every
// stage transition.
type FlowController struct {
	cfg        BotConfig
	strategy   PlatformStrategy
	meeting    *ManagedMeeting
	reporter   *statusreporter.Reporter
	subscriber *controlplane.Subscriber
	logger     Logger
	metrics    *Metrics
}

// NewFlowController wires a strategy and its supporting ManagedMeeting
// together. subscriber may be nil (control plane is optional, §6).
func NewFlowController(cfg BotConfig, strategy PlatformStrategy, meeting *ManagedMeeting, reporter *statusreporter.Reporter, subscriber *controlplane.Subscriber, logger Logger, metrics *Metrics) (*FlowController, error) {
	if strategy == nil {
		return nil, ErrStrategyNil
	}
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &FlowController{
		cfg:        cfg,
		strategy:   strategy,
		meeting:    meeting,
		reporter:   reporter,
		subscriber: subscriber,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// Run executes the full lifecycle and returns the terminal exit reason. A
// non-nil error indicates a join/setup failure (§6 exit code 1); a nil
// error with a non-empty reason is a normal, reason-carrying departure.
func (f *FlowController) Run(ctx context.Context) (ExitReason, error) {
	f.report(ctx, StageJoining, "")

	// The subscriber must be live before Join runs: a broker "leave" sent
	// while the strategy is still navigating/authenticating must still be
	// observable and pre-empt admission (§4.1 step 2).
	stopRequested := make(chan ExitReason, 1)
	var stopSub func()
	if f.subscriber != nil {
		subCtx, cancel := context.WithCancel(ctx)
		stopSub = cancel
		go f.subscriber.Run(subCtx, f.cfg.MeetingID, controlplane.Handlers{
			OnLeave: func() {
				select {
				case stopRequested <- MakeExitReason(f.cfg.Platform, ReasonStopped):
				default:
				}
			},
			OnReconfigure: func(language, task string) {
				if f.meeting != nil {
					f.meeting.Reconfigure(language, task)
				}
			},
		})
	}
	if stopSub != nil {
		defer stopSub()
	}

	joinErrCh := make(chan error, 1)
	go func() { joinErrCh <- f.strategy.Join(ctx, f.cfg) }()

	select {
	case err := <-joinErrCh:
		if err != nil {
			reason := MakeExitReason(f.cfg.Platform, ReasonJoinError)
			_ = f.strategy.Leave(ctx, reason)
			f.report(ctx, StageFailed, string(reason))
			return reason, errors.Join(ErrJoinFailed, err)
		}
	case reason := <-stopRequested:
		_ = f.strategy.Leave(ctx, reason)
		f.report(ctx, StageCompleted, string(reason))
		return reason, nil
	}

	f.report(ctx, StageAwaitingAdmission, "")

	admissionCtx, cancelAdmission := context.WithCancel(ctx)
	type admissionOutcome struct {
		result AdmissionResult
		err    error
	}
	admissionCh := make(chan admissionOutcome, 1)
	go func() {
		res, err := f.strategy.WaitForAdmission(admissionCtx, admissionPollTimeout(f.cfg))
		admissionCh <- admissionOutcome{res, err}
	}()
	prepareErrCh := make(chan error, 1)
	go func() {
		prepareErrCh <- f.strategy.Prepare(admissionCtx)
	}()

	var admission admissionOutcome
	select {
	case admission = <-admissionCh:
	case reason := <-stopRequested:
		cancelAdmission()
		_ = f.strategy.Leave(ctx, reason)
		f.report(ctx, StageCompleted, string(reason))
		return reason, nil
	case <-ctx.Done():
		cancelAdmission()
		return "", ctx.Err()
	}
	cancelAdmission()
	<-prepareErrCh // Prepare runs concurrently with admission-wait; both must settle before going active.

	if admission.err != nil {
		reason := MakeExitReason(f.cfg.Platform, ReasonJoinError)
		f.report(ctx, StageFailed, string(reason))
		_ = f.strategy.Leave(ctx, reason)
		return reason, admission.err
	}
	if !admission.result.Admitted {
		reason := MakeExitReason(f.cfg.Platform, reasonForAdmission(admission.result.Reason))
		if admission.result.Reason != AdmissionTimeout {
			f.logger.Warn("flow: admission denied", "error", ErrAdmissionDenied, "reason", reason)
		}
		f.report(ctx, StageFailed, string(reason))
		_ = f.strategy.Leave(ctx, reason)
		return reason, nil
	}

	f.report(ctx, StageActive, "")
	if f.metrics != nil {
		f.metrics.SessionActive.WithLabelValues(string(f.cfg.Platform), f.cfg.MeetingID).Set(1)
		defer f.metrics.SessionActive.WithLabelValues(string(f.cfg.Platform), f.cfg.MeetingID).Set(0)
	}

	var activeCtx context.Context = ctx
	if f.meeting != nil {
		activeCtx = f.meeting.Start(ctx)
	}

	reason, err := f.raceRecordingAndRemoval(activeCtx, stopRequested)

	if f.meeting != nil {
		if detected, ok := f.meeting.Reason(); ok && reason == "" {
			reason = detected
		}
		f.meeting.Close(ctx)
	}
	if reason == "" {
		reason = MakeExitReason(f.cfg.Platform, ReasonNormalCompletion)
	}

	_ = f.strategy.Leave(ctx, reason)

	if f.metrics != nil {
		f.metrics.ExitReasons.WithLabelValues(string(f.cfg.Platform), string(reason)).Inc()
	}

	if err != nil {
		f.report(ctx, StageFailed, string(reason))
		return reason, err
	}
	f.report(ctx, StageCompleted, string(reason))
	return reason, nil
}

// raceRecordingAndRemoval runs StartRecording and StartRemovalMonitor
// concurrently against activeCtx; whichever resolves first wins and the
// other is cancelled cooperatively by cancelling raceCtx, a child scope of
// activeCtx (§4.1 step 5). A control-plane leave command pre-empts both.
func (f *FlowController) raceRecordingAndRemoval(activeCtx context.Context, stopRequested <-chan ExitReason) (ExitReason, error) {
	raceCtx, cancel := context.WithCancel(activeCtx)
	defer cancel()

	type outcome struct {
		reason ExitReason
		err    error
	}
	recordingCh := make(chan outcome, 1)
	removalCh := make(chan outcome, 1)

	go func() {
		reason, err := f.strategy.StartRecording(raceCtx)
		recordingCh <- outcome{reason, err}
	}()
	go func() {
		reason, err := f.strategy.StartRemovalMonitor(raceCtx)
		removalCh <- outcome{reason, err}
	}()

	select {
	case o := <-recordingCh:
		cancel()
		return o.reason, o.err
	case o := <-removalCh:
		cancel()
		return o.reason, o.err
	case reason := <-stopRequested:
		cancel()
		return reason, nil
	case <-activeCtx.Done():
		cancel()
		return "", nil
	}
}

func reasonForAdmission(r AdmissionReason) string {
	if r == AdmissionTimeout {
		return ReasonAdmissionTimeout
	}
	return ReasonAdmissionRejected
}

func (f *FlowController) report(ctx context.Context, stage StatusStage, reason string) {
	if f.reporter == nil {
		return
	}
	f.reporter.Send(ctx, statusreporter.Report{
		Stage:     statusreporter.Stage(stage),
		MeetingID: f.cfg.MeetingID,
		Reason:    reason,
	})
}
