package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// Logger is the structured-logging seam this package depends on; satisfied
// by bot.ZerologAdapter or bot.NoOpLogger at the call site.
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

const maxQueuedReconfigures = 8

// connectWatchdog bounds the dial and, separately, the initial handshake
// write of a connect attempt; each gets its own connectWatchdog (§4.4).
const connectWatchdog = 3 * time.Second

// sessionControlDrain is how long Close waits for the LEAVING_MEETING
// message to flush before closing the socket (§4.4, §5).
const sessionControlDrain = 500 * time.Millisecond

var errReconfigureRequested = errors.New("transcription: reconfigure requested")

// ErrGatewayClosed wraps any read failure that ends a session (server close,
// network drop). Run's stubborn-reconnect loop treats it like any other
// runSession error: it is logged and swallowed, and a fresh connection is
// attempted after reconnectDelay — callers outside this package observe it
// only via OnDisconnected, never as a returned error.
var ErrGatewayClosed = errors.New("transcription: gateway connection closed")

// Options are the fixed (never reconfigured) parameters of a client.
type Options struct {
	GatewayURL          string
	Token               string
	Platform            string
	MeetingID           string
	MeetingURL          string
	Model               string
	ReconnectIntervalMs int
	Logger              Logger
}

// Callbacks are invoked from the client's own run goroutine; implementations
// must not block for long, matching the single-dispatch-task model in §5.
type Callbacks struct {
	// OnSessionStart fires once per connection attempt, before the
	// handshake is sent, with the freshly minted sessionUid.
	OnSessionStart func(sessionUID string)
	// OnReady fires on transition to READY.
	OnReady func()
	// OnDisconnected fires whenever the connection drops, ready or not.
	OnDisconnected func()
	// OnSegment fires once per newly observed completed-text join.
	OnSegment func(text string)
	// OnLanguageDetected fires at most once per session.
	OnLanguageDetected func(language string)
}

// SpeakerEventParams is the payload for one outbound speaker_activity
// message (§4.4).
type SpeakerEventParams struct {
	EventType       string
	ParticipantID   string
	ParticipantName string
	RelativeMs      int64
}

// Client is the transcription-gateway WebSocket client: config handshake,
// audio/metadata/speaker/session-control messages, and stubborn reconnect
// with a bounded pre-READY reconfigure queue.
type Client struct {
	opts Options
	cb   Callbacks
	log  Logger

	mu                sync.Mutex
	state             State
	activeCfg         ClientConfig
	sessionUID        string
	conn              *websocket.Conn
	reconfigureQueue  []ClientConfig
	loggedLanguage    bool
	lastCompletedText string

	closeOnce sync.Once
}

// New constructs a client bound to opts/cb, with the initial handshake
// config cfg.
func New(opts Options, cb Callbacks, cfg ClientConfig) *Client {
	log := opts.Logger
	if log == nil {
		log = noOpLogger{}
	}
	return &Client{opts: opts, cb: cb, log: log, state: StateDisconnected, activeCfg: cfg}
}

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsReady reports whether audio frames may currently be sent (§4.3 step 5).
func (c *Client) IsReady() bool {
	return c.State() == StateReady
}

// Reconfigure applies a new language/task. If the client is not yet READY,
// the request is queued (bounded to the 8 most recent, oldest dropped) and
// applied on first READY. While READY, it stores the new config and closes
// the socket with a normal close; Run handles this like a dropped connection
// (OnDisconnected, then the usual reconnect delay) and opens a new session
// with the new config, so the switch is not immediate (§4.4, §4.7).
func (c *Client) Reconfigure(cfg ClientConfig) {
	c.mu.Lock()
	if c.state != StateReady {
		c.reconfigureQueue = append(c.reconfigureQueue, cfg)
		if len(c.reconfigureQueue) > maxQueuedReconfigures {
			dropped := c.reconfigureQueue[0]
			c.reconfigureQueue = c.reconfigureQueue[1:]
			c.log.Warn("transcription: dropping oldest queued reconfigure", "dropped", dropped)
		}
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.activeCfg = cfg
	c.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "reconfigure")
	}
}

// Run drives the connect/handshake/read/reconnect loop until ctx is
// cancelled. It returns nil on context cancellation.
func (c *Client) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := c.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errReconfigureRequested) {
			continue // immediate reconnect, new config already active
		}
		if errors.Is(err, ErrGatewayClosed) {
			c.log.Warn("transcription: gateway connection closed, reconnecting", "error", err)
		}
		if c.cb.OnDisconnected != nil {
			c.cb.OnDisconnected()
		}
		delay := c.reconnectDelay()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) reconnectDelay() time.Duration {
	ms := c.opts.ReconnectIntervalMs
	if ms <= 0 || ms > 1000 {
		ms = 1000
	}
	return time.Duration(ms) * time.Millisecond
}

func (c *Client) runSession(ctx context.Context) error {
	sessionUID := uuid.NewString()

	c.mu.Lock()
	c.sessionUID = sessionUID
	c.state = StateConnecting
	c.loggedLanguage = false
	c.lastCompletedText = ""
	cfg := c.activeCfg
	c.mu.Unlock()

	if c.cb.OnSessionStart != nil {
		c.cb.OnSessionStart(sessionUID)
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectWatchdog)
	conn, _, err := websocket.Dial(dialCtx, c.opts.GatewayURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("transcription: dial: %w", err)
	}
	defer conn.Close(websocket.StatusInternalError, "session ended")

	handshake := handshakeMessage{
		UID:        sessionUID,
		Language:   cfg.Language,
		Task:       cfg.Task,
		Platform:   c.opts.Platform,
		Token:      c.opts.Token,
		MeetingID:  c.opts.MeetingID,
		MeetingURL: c.opts.MeetingURL,
		Model:      c.opts.Model,
		UseVAD:     true,
	}
	handshakeCtx, hcancel := context.WithTimeout(ctx, connectWatchdog)
	err = wsjson.Write(handshakeCtx, conn, handshake)
	hcancel()
	if err != nil {
		return fmt.Errorf("transcription: handshake: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConfigured
	c.mu.Unlock()

	for {
		msgType, payload, err := conn.Read(ctx)
		if err != nil {
			c.clearConn()
			return fmt.Errorf("%w: %v", ErrGatewayClosed, err)
		}

		switch msgType {
		case websocket.MessageText:
			if reconfigure, disconnect := c.handleTextMessage(payload); disconnect {
				conn.Close(websocket.StatusNormalClosure, "server disconnect")
				c.clearConn()
				return nil
			} else if reconfigure {
				c.clearConn()
				return errReconfigureRequested
			}
		case websocket.MessageBinary:
			c.log.Debug("transcription: unexpected inbound binary message")
		}
	}
}

// handleTextMessage applies one inbound JSON control message. It returns
// reconfigure=true if the caller should close and reconnect immediately
// with a newly-applied queued config, or disconnect=true if the server
// asked to be disconnected.
func (c *Client) handleTextMessage(payload []byte) (reconfigure, disconnect bool) {
	var msg inboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.log.Warn("transcription: malformed inbound message", "error", err)
		return false, false
	}

	switch msg.Status {
	case "SERVER_READY":
		c.mu.Lock()
		c.state = StateReady
		var next ClientConfig
		hasQueued := len(c.reconfigureQueue) > 0
		if hasQueued {
			next = c.reconfigureQueue[len(c.reconfigureQueue)-1]
			if len(c.reconfigureQueue) > 1 {
				c.log.Info("transcription: superseding earlier queued reconfigure requests", "count", len(c.reconfigureQueue)-1)
			}
			c.reconfigureQueue = nil
			c.activeCfg = next
		}
		c.mu.Unlock()
		if c.cb.OnReady != nil {
			c.cb.OnReady()
		}
		if hasQueued {
			return true, false
		}
		return false, false
	case "WAIT":
		c.log.Debug("transcription: gateway waiting", "message", msg.Message)
		return false, false
	case "ERROR":
		c.log.Warn("transcription: gateway reported error", "message", msg.Message)
		return false, false
	}

	if msg.Message == "DISCONNECT" {
		return false, true
	}

	if msg.Language != "" {
		c.mu.Lock()
		already := c.loggedLanguage
		c.loggedLanguage = true
		c.mu.Unlock()
		if !already {
			c.log.Info("transcription: detected language", "language", msg.Language)
			if c.cb.OnLanguageDetected != nil {
				c.cb.OnLanguageDetected(msg.Language)
			}
		}
		return false, false
	}

	if len(msg.Segments) > 0 {
		var completed []string
		for _, seg := range msg.Segments {
			if seg.Completed {
				completed = append(completed, seg.Text)
			}
		}
		joined := strings.Join(completed, " ")
		c.mu.Lock()
		changed := joined != "" && joined != c.lastCompletedText
		if changed {
			c.lastCompletedText = joined
		}
		c.mu.Unlock()
		if changed && c.cb.OnSegment != nil {
			c.cb.OnSegment(joined)
		}
	}
	return false, false
}

func (c *Client) clearConn() {
	c.mu.Lock()
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()
}

// SendAudioFrame writes one binary Float32 frame at 16kHz. Frames are
// dropped silently when not READY (§4.3 step 5).
func (c *Client) SendAudioFrame(ctx context.Context, frame []float32) error {
	conn, ready := c.readyConn()
	if !ready {
		return nil
	}
	meta := audioChunkMetadata{Type: "audio_chunk_metadata", Length: len(frame), SampleRate: TargetSampleRateHz}
	if err := wsjson.Write(ctx, conn, meta); err != nil {
		return fmt.Errorf("transcription: send metadata: %w", err)
	}
	buf := make([]byte, len(frame)*4)
	for i, s := range frame {
		putFloat32LE(buf[i*4:], s)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, buf); err != nil {
		return fmt.Errorf("transcription: send audio frame: %w", err)
	}
	return nil
}

// TargetSampleRateHz is the wire sample rate for outbound audio frames.
const TargetSampleRateHz = 16000

func putFloat32LE(dst []byte, f float32) {
	bits := math.Float32bits(f)
	dst[0] = byte(bits)
	dst[1] = byte(bits >> 8)
	dst[2] = byte(bits >> 16)
	dst[3] = byte(bits >> 24)
}

// SendSpeakerEvent writes a speaker_activity message.
func (c *Client) SendSpeakerEvent(ctx context.Context, p SpeakerEventParams) error {
	conn, ok := c.connForWrite()
	if !ok {
		return nil
	}
	msg := speakerActivityMessage{
		Type: "speaker_activity",
		Payload: speakerActivityPayload{
			EventType:                 p.EventType,
			ParticipantName:           p.ParticipantName,
			ParticipantIDMeet:         p.ParticipantID,
			RelativeClientTimestampMs: p.RelativeMs,
			UID:                       c.currentSessionUID(),
			Token:                     c.opts.Token,
			Platform:                  c.opts.Platform,
			MeetingID:                 c.opts.MeetingID,
			MeetingURL:                c.opts.MeetingURL,
		},
	}
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		return fmt.Errorf("transcription: send speaker event: %w", err)
	}
	return nil
}

// Close sends LEAVING_MEETING, waits for it to drain, then closes the
// socket. Safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		conn, ok := c.connForWrite()
		if !ok {
			return
		}
		msg := sessionControlMessage{
			Type: "session_control",
			Payload: sessionControlPayload{
				Event:           "LEAVING_MEETING",
				UID:             c.currentSessionUID(),
				ClientTimestamp: time.Now().UnixMilli(),
				Token:           c.opts.Token,
				Platform:        c.opts.Platform,
				MeetingID:       c.opts.MeetingID,
			},
		}
		if werr := wsjson.Write(ctx, conn, msg); werr != nil {
			c.log.Warn("transcription: failed to send LEAVING_MEETING", "error", werr)
		}
		time.Sleep(sessionControlDrain)
		err = conn.Close(websocket.StatusNormalClosure, "leaving")
		c.clearConn()
	})
	return err
}

func (c *Client) readyConn() (*websocket.Conn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady || c.conn == nil {
		return nil, false
	}
	return c.conn, true
}

func (c *Client) connForWrite() (*websocket.Conn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, false
	}
	return c.conn, true
}

func (c *Client) currentSessionUID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionUID
}
