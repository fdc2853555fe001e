package bot

import "github.com/rs/zerolog"

// ZerologAdapter satisfies Logger on top of a zerolog.Logger, matching the
// teacher orchestrator's pluggable-Logger seam while wiring the rest of the
// repo's zerolog component-logger convention (each caller creates a child
// logger via .With().Str("component", "...").Logger()).
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter wraps logger for use as a bot.Logger.
func NewZerologAdapter(logger zerolog.Logger) ZerologAdapter {
	return ZerologAdapter{logger: logger}
}

func (a ZerologAdapter) Debug(msg string, args ...interface{}) {
	a.event(a.logger.Debug(), args).Msg(msg)
}

func (a ZerologAdapter) Info(msg string, args ...interface{}) {
	a.event(a.logger.Info(), args).Msg(msg)
}

func (a ZerologAdapter) Warn(msg string, args ...interface{}) {
	a.event(a.logger.Warn(), args).Msg(msg)
}

func (a ZerologAdapter) Error(msg string, args ...interface{}) {
	a.event(a.logger.Error(), args).Msg(msg)
}

// event attaches args as alternating key/value pairs. A pair whose key is
// not a string is skipped, and an odd trailing value is dropped.
func (a ZerologAdapter) event(ev *zerolog.Event, args []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	return ev
}
