package bot

import "errors"

var (
	// ErrInvalidConfig is returned by BotConfig.Validate for any structural
	// problem found before any side effect has happened (§7 configuration
	// errors are fatal at startup).
	ErrInvalidConfig = errors.New("invalid bot configuration")

	// ErrJoinFailed covers any platform-specific failure to enter the
	// meeting surface at all (browser/SDK launch, navigation).
	ErrJoinFailed = errors.New("failed to join meeting")

	// ErrAdmissionDenied is logged by the flow controller when the strategy
	// reports an explicit rejection rather than a timeout; it is not
	// returned to the caller.
	ErrAdmissionDenied = errors.New("admission to meeting was denied")

	// ErrNoAudioSource is logged when no live audio-bearing media could be
	// found after the bounded retry window; strategies fall back to
	// degraded monitoring mode rather than treating it as fatal.
	ErrNoAudioSource = errors.New("no audio source could be acquired")

	// ErrStrategyNil guards constructors that require a strategy.
	ErrStrategyNil = errors.New("platform strategy is nil")
)
