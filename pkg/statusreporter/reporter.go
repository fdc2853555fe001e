// Package statusreporter posts lifecycle-stage notifications to the
// bot-manager's status callback URL (§4.8).
package statusreporter

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Logger is the structured-logging seam this package depends on.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type noOpLogger struct{}

func (noOpLogger) Debug(string, ...interface{}) {}
func (noOpLogger) Info(string, ...interface{})  {}
func (noOpLogger) Warn(string, ...interface{})  {}
func (noOpLogger) Error(string, ...interface{}) {}

// Stage is a lifecycle stage name (mirrors bot.StatusStage; kept as a plain
// string here so this package has no dependency on pkg/bot).
type Stage string

// Report is the POST body (§6 "status callback").
type Report struct {
	Stage     Stage       `json:"stage"`
	MeetingID string      `json:"meetingId"`
	Reason    string      `json:"reason,omitempty"`
	Extra     interface{} `json:"extra,omitempty"`
}

// Reporter POSTs Reports to a fixed URL with bounded retry/backoff.
// Delivery is best-effort: failures are logged and never block the caller
// (§4.8, §7).
type Reporter struct {
	client *resty.Client
	url    string
	logger Logger
}

// New constructs a reporter. url may be empty, in which case Send is a
// no-op (status callbacks are optional, §3's statusCallbackUrl is
// optional).
func New(url string, logger Logger) *Reporter {
	if logger == nil {
		logger = noOpLogger{}
	}
	client := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(4 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			code := r.StatusCode()
			return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
		})
	return &Reporter{client: client, url: url, logger: logger}
}

// Send posts one status report. It never returns an error to the caller —
// delivery failures are logged and swallowed, per §4.8 "best-effort".
func (r *Reporter) Send(ctx context.Context, report Report) {
	if r.url == "" {
		return
	}
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(report).
		Post(r.url)
	if err != nil {
		r.logger.Warn("statusreporter: delivery failed", "stage", report.Stage, "error", err)
		return
	}
	if resp.IsError() {
		r.logger.Warn("statusreporter: non-2xx response", "stage", report.Stage, "status", resp.StatusCode())
	}
}
