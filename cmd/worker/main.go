package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vexa-ai/meeting-worker/pkg/bot"
	"github.com/vexa-ai/meeting-worker/pkg/controlplane"
	"github.com/vexa-ai/meeting-worker/pkg/platform"
	"github.com/vexa-ai/meeting-worker/pkg/statusreporter"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("note: no .env file found, using system environment variables")
	}

	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load bot configuration")
	}

	logAdapter := bot.NewZerologAdapter(logger.With().Str("component", "meeting-worker").Logger())
	metrics := bot.NewMetrics()
	startMetricsServer(logger)

	var subscriber *controlplane.Subscriber
	if cfg.BrokerURL != "" {
		subscriber, err = controlplane.New(cfg.BrokerURL, logAdapter)
		if err != nil {
			logger.Warn().Err(err).Msg("control plane unavailable, continuing without runtime commands")
		}
	}
	reporter := statusreporter.New(cfg.StatusCallbackURL, logAdapter)

	meeting := bot.NewManagedMeeting(cfg, logAdapter, metrics)

	strategy, err := newStrategy(cfg, meeting, logAdapter)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct platform strategy")
	}

	flow, err := bot.NewFlowController(cfg, strategy, meeting, reporter, subscriber, logAdapter, metrics)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct flow controller")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info().Msg("received shutdown signal, leaving meeting")
		cancel()
	}()

	reason, runErr := flow.Run(ctx)
	if subscriber != nil {
		_ = subscriber.Close()
	}

	logger.Info().Str("reason", string(reason)).Err(runErr).Msg("worker exiting")
	os.Exit(exitCode(reason, runErr))
}

// exitCode maps the flow controller's outcome to the process exit codes
// described for the worker binary (§6): 0 normal completion, 1 join/setup
// error, 2 admission failed.
func exitCode(reason bot.ExitReason, err error) int {
	if err != nil {
		return 1
	}
	for _, suffix := range []string{bot.ReasonAdmissionRejected, bot.ReasonAdmissionTimeout} {
		if hasSuffix(string(reason), suffix) {
			return 2
		}
	}
	return 0
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func loadConfig() (bot.BotConfig, error) {
	path := ""
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if path == "" {
		return bot.LoadBotConfig(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return bot.BotConfig{}, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()
	return bot.LoadBotConfig(f)
}

// newStrategy selects and constructs the platform strategy, wiring it to
// the meeting's shared pipeline/tracker/roster callback. The concrete
// browser page (Meet, Teams) or Zoom Meeting SDK binding is container
// entry/runtime setup — explicitly out of scope for this service (§1) — so
// it is obtained from newPageDriver/newZoomSDKDriver, which a deployment
// wires to a real driver; here they report a clear configuration error.
func newStrategy(cfg bot.BotConfig, meeting *bot.ManagedMeeting, logger bot.Logger) (bot.PlatformStrategy, error) {
	pipeline, tracker, onRoster := meeting.Pipeline(), meeting.Tracker(), meeting.OnRosterUpdate

	switch cfg.Platform {
	case bot.PlatformMeet, bot.PlatformTeams:
		page, err := newPageDriver(cfg)
		if err != nil {
			return nil, err
		}
		if cfg.Platform == bot.PlatformMeet {
			return platform.NewMeetStrategy(page, cfg, pipeline, tracker, onRoster, logger), nil
		}
		return platform.NewTeamsStrategy(page, cfg, pipeline, tracker, onRoster, logger), nil
	case bot.PlatformZoom:
		sdk, err := newZoomSDKDriver(cfg)
		if err != nil {
			return nil, err
		}
		return platform.NewZoomStrategy(sdk, cfg, pipeline, tracker, onRoster, logger), nil
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
}

// newPageDriver and newZoomSDKDriver are the seam where a real browser
// automation or Zoom Meeting SDK binding is injected by the deployment that
// provides container entry/runtime setup (virtual display, audio sinks,
// browser launch — §1 non-goals for this repo).
func newPageDriver(cfg bot.BotConfig) (platform.Page, error) {
	return nil, fmt.Errorf("no browser driver configured for platform %q; container entry/runtime setup is provided externally", cfg.Platform)
}

func newZoomSDKDriver(cfg bot.BotConfig) (platform.ZoomSDK, error) {
	return nil, fmt.Errorf("no Zoom Meeting SDK driver configured; container entry/runtime setup is provided externally")
}

// startMetricsServer exposes promauto's default-registry collectors on
// METRICS_PORT (unset/empty disables it) — otherwise NewMetrics registers
// counters nobody can ever scrape.
func startMetricsServer(logger zerolog.Logger) {
	port := os.Getenv("METRICS_PORT")
	if port == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := ":" + port
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("addr", addr).Msg("metrics server listening")
}

func newLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level := zerolog.InfoLevel
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		level = lvl
	}
	var output io.Writer = os.Stdout
	if os.Getenv("LOG_FORMAT") == "console" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(output).Level(level).With().Timestamp().Str("service", "meeting-worker").Logger()
}
