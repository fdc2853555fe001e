// Package transcription implements the WebSocket client that streams
// resampled audio and speaker metadata to the external transcription
// gateway and carries its connection/config state machine.
package transcription

// State is the connection lifecycle (§4.4).
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConfigured   State = "CONFIGURED"
	StateReady        State = "READY"
)

// ClientConfig is the mutable-on-reconfigure subset of the handshake (§4.4,
// §4.7 reconfigure).
type ClientConfig struct {
	Language string
	Task     string
}

// handshakeMessage is the first outbound message of every connection.
type handshakeMessage struct {
	UID       string `json:"uid"`
	Language  string `json:"language,omitempty"`
	Task      string `json:"task"`
	Platform  string `json:"platform"`
	Token     string `json:"token"`
	MeetingID string `json:"meeting_id"`
	MeetingURL string `json:"meeting_url,omitempty"`
	Model     string `json:"model,omitempty"`
	UseVAD    bool   `json:"use_vad"`
}

// audioChunkMetadata precedes a binary audio frame (diagnostic only).
type audioChunkMetadata struct {
	Type       string `json:"type"`
	Length     int    `json:"length"`
	SampleRate int    `json:"sampleRate"`
}

// speakerActivityPayload mirrors the gateway's speaker_activity contract.
type speakerActivityPayload struct {
	EventType                string `json:"event_type"`
	ParticipantName           string `json:"participant_name"`
	ParticipantIDMeet         string `json:"participant_id_meet"`
	RelativeClientTimestampMs int64  `json:"relative_client_timestamp_ms"`
	UID                       string `json:"uid"`
	Token                     string `json:"token"`
	Platform                  string `json:"platform"`
	MeetingID                 string `json:"meeting_id"`
	MeetingURL                string `json:"meeting_url,omitempty"`
}

type speakerActivityMessage struct {
	Type    string                 `json:"type"`
	Payload speakerActivityPayload `json:"payload"`
}

// sessionControlPayload carries the LEAVING_MEETING notice (§4.4).
type sessionControlPayload struct {
	Event           string `json:"event"`
	UID             string `json:"uid"`
	ClientTimestamp int64  `json:"client_timestamp_ms"`
	Token           string `json:"token"`
	Platform        string `json:"platform"`
	MeetingID       string `json:"meeting_id"`
}

type sessionControlMessage struct {
	Type    string                `json:"type"`
	Payload sessionControlPayload `json:"payload"`
}

// inboundMessage is the superset decode target for every JSON message the
// gateway may send; only the fields relevant to the observed shape are
// populated.
type inboundMessage struct {
	Status   string           `json:"status"`
	Message  string           `json:"message"`
	Language string           `json:"language"`
	Segments []inboundSegment `json:"segments"`
}

type inboundSegment struct {
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}
