package bot

import (
	"encoding/json"
	"fmt"
	"io"
)

// LoadBotConfig decodes a single JSON configuration blob (§6 Configuration)
// and validates it. No side effect happens before validation succeeds.
func LoadBotConfig(r io.Reader) (BotConfig, error) {
	var cfg BotConfig
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return BotConfig{}, fmt.Errorf("%w: decode: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return BotConfig{}, err
	}
	return cfg, nil
}

// Validate checks the structural invariants of BotConfig (§3). It never
// performs I/O.
func (c BotConfig) Validate() error {
	switch c.Platform {
	case PlatformMeet, PlatformTeams, PlatformZoom:
	default:
		return fmt.Errorf("%w: unknown platform %q", ErrInvalidConfig, c.Platform)
	}

	if c.NativeMeetingID == "" {
		return fmt.Errorf("%w: nativeMeetingId is required", ErrInvalidConfig)
	}
	if c.MeetingID == "" {
		return fmt.Errorf("%w: meetingId is required", ErrInvalidConfig)
	}
	if c.BotName == "" {
		return fmt.Errorf("%w: botName is required", ErrInvalidConfig)
	}
	if c.Platform == PlatformMeet || c.Platform == PlatformTeams {
		if c.MeetingURL == "" {
			return fmt.Errorf("%w: meetingUrl is required for platform %q", ErrInvalidConfig, c.Platform)
		}
	}
	if c.Platform == PlatformZoom {
		if c.ZoomClientID == "" || c.ZoomClientSecret == "" {
			return fmt.Errorf("%w: zoomClientId/zoomClientSecret are required for platform zoom", ErrInvalidConfig)
		}
	}
	if c.Task != "" && c.Task != TaskTranscribe && c.Task != TaskTranslate {
		return fmt.Errorf("%w: unknown task %q", ErrInvalidConfig, c.Task)
	}

	a := c.AutomaticLeave
	if a.WaitingRoomTimeoutMs <= 0 {
		return fmt.Errorf("%w: automaticLeave.waitingRoomTimeoutMs must be positive", ErrInvalidConfig)
	}
	if a.NoOneJoinedTimeoutMs <= 0 {
		return fmt.Errorf("%w: automaticLeave.noOneJoinedTimeoutMs must be positive", ErrInvalidConfig)
	}
	if a.EveryoneLeftTimeoutMs <= 0 {
		return fmt.Errorf("%w: automaticLeave.everyoneLeftTimeoutMs must be positive", ErrInvalidConfig)
	}
	if a.StartupAloneTimeoutSecs <= 0 {
		return fmt.Errorf("%w: automaticLeave.startupAloneTimeoutSeconds must be positive", ErrInvalidConfig)
	}

	if c.ReconnectIntervalMs < 0 {
		return fmt.Errorf("%w: reconnectIntervalMs must not be negative", ErrInvalidConfig)
	}

	return nil
}

// EffectiveTask returns Task, defaulting to transcribe.
func (c BotConfig) EffectiveTask() Task {
	if c.Task == "" {
		return TaskTranscribe
	}
	return c.Task
}

// EffectiveReconnectIntervalMs bounds the configured reconnect interval to
// at most 1000ms, per §4.4 ("bounded by configured reconnectIntervalMs <=
// 1000ms, else 1000ms").
func (c BotConfig) EffectiveReconnectIntervalMs() int {
	if c.ReconnectIntervalMs <= 0 || c.ReconnectIntervalMs > 1000 {
		return 1000
	}
	return c.ReconnectIntervalMs
}
