package wire

import (
	"encoding/json"
	"time"
)

// Kind distinguishes the three frame directions carried over the channel.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindEvent    Kind = "event"
)

// Frame is the envelope for every message exchanged with the gateway.
// Requests and responses are correlated by ID; events carry a fresh ID that
// nothing waits on.
type Frame struct {
	ID        string          `json:"id" msgpack:"id"`
	Kind      Kind            `json:"kind" msgpack:"kind"`
	Type      string          `json:"type" msgpack:"type"`
	OK        bool            `json:"ok,omitempty" msgpack:"ok,omitempty"`
	ErrorCode string          `json:"errorCode,omitempty" msgpack:"errorCode,omitempty"`
	Error     string          `json:"error,omitempty" msgpack:"error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty" msgpack:"payload,omitempty"`
	Timestamp time.Time       `json:"ts" msgpack:"ts"`
}

// Frame types for requests (the response reuses the request's type).
const (
	TypeConnect  = "connect"
	TypeHistory  = "history"
	TypeSend     = "send"
	TypeAbort    = "abort"
	TypeSessions = "sessions"
	TypePing     = "ping"
	TypeActive   = "active"
)

// Frame types for gateway-originated events.
const (
	TypeHealth = "health"
	TypeTick   = "tick"
	TypeChat   = "chat"
	TypeAgent  = "agent"
)

// Error codes a gateway response may carry.
const (
	ErrorCodeUnsupported     = "unsupported"
	ErrorCodeInvalidArgument = "invalid_argument"
	ErrorCodeNotFound        = "not_found"
)

// HostInfo describes the client host, reported once in the connect handshake.
type HostInfo struct {
	Hostname    string `json:"hostname" msgpack:"hostname"`
	OS          string `json:"os" msgpack:"os"`
	Platform    string `json:"platform,omitempty" msgpack:"platform,omitempty"`
	Arch        string `json:"arch" msgpack:"arch"`
	NumCPU      int    `json:"numCPU" msgpack:"numCPU"`
	TotalMemory uint64 `json:"totalMemory,omitempty" msgpack:"totalMemory,omitempty"`
}

// ConnectRequest is the first frame sent after the channel opens.
type ConnectRequest struct {
	ClientName    string   `json:"clientName" msgpack:"clientName"`
	ClientVersion string   `json:"clientVersion" msgpack:"clientVersion"`
	Codec         string   `json:"codec" msgpack:"codec"`
	Host          HostInfo `json:"host" msgpack:"host"`
}

type ConnectResponse struct {
	ConnectionID string `json:"connectionId" msgpack:"connectionId"`
}

// Record is one prior conversation entry returned by a history fetch.
type Record struct {
	Seq     int64     `json:"seq" msgpack:"seq"`
	Role    string    `json:"role" msgpack:"role"`
	Content string    `json:"content" msgpack:"content"`
	At      time.Time `json:"at" msgpack:"at"`
}

type HistoryRequest struct {
	SessionKey string `json:"sessionKey" msgpack:"sessionKey"`
}

// HistoryResponse carries the ordered prior records and the baseline sequence
// number. The next live event for the session must carry BaselineSeq+1.
type HistoryResponse struct {
	SessionKey  string   `json:"sessionKey" msgpack:"sessionKey"`
	BaselineSeq int64    `json:"baselineSeq" msgpack:"baselineSeq"`
	Records     []Record `json:"records" msgpack:"records"`
}

// Attachment is an opaque content reference passed through unmodified.
type Attachment struct {
	Name      string `json:"name,omitempty" msgpack:"name,omitempty"`
	MediaType string `json:"mediaType,omitempty" msgpack:"mediaType,omitempty"`
	Ref       string `json:"ref" msgpack:"ref"`
}

type SendRequest struct {
	SessionKey     string       `json:"sessionKey" msgpack:"sessionKey"`
	Message        string       `json:"message,omitempty" msgpack:"message,omitempty"`
	Thinking       string       `json:"thinking,omitempty" msgpack:"thinking,omitempty"`
	IdempotencyKey string       `json:"idempotencyKey" msgpack:"idempotencyKey"`
	Attachments    []Attachment `json:"attachments,omitempty" msgpack:"attachments,omitempty"`
}

// SendResponse identifies the run the send triggered. AcceptedSeq is the
// sequence number at which the user's own message entered the session stream,
// or 0 when the gateway did not report one.
type SendResponse struct {
	RunID       string `json:"runId" msgpack:"runId"`
	AcceptedSeq int64  `json:"acceptedSeq,omitempty" msgpack:"acceptedSeq,omitempty"`
}

type AbortRequest struct {
	SessionKey string `json:"sessionKey" msgpack:"sessionKey"`
	RunID      string `json:"runId" msgpack:"runId"`
}

type SessionsRequest struct {
	Limit int `json:"limit,omitempty" msgpack:"limit,omitempty"`
}

type SessionInfo struct {
	SessionKey string    `json:"sessionKey" msgpack:"sessionKey"`
	LastSeq    int64     `json:"lastSeq" msgpack:"lastSeq"`
	UpdatedAt  time.Time `json:"updatedAt" msgpack:"updatedAt"`
}

type SessionsResponse struct {
	Sessions []SessionInfo `json:"sessions" msgpack:"sessions"`
}

type PingResponse struct {
	OK bool `json:"ok" msgpack:"ok"`
}

// ActiveSessionRequest advertises which session the client wants pushed with
// full fidelity. Advisory; gateways may ignore it.
type ActiveSessionRequest struct {
	SessionKey string `json:"sessionKey" msgpack:"sessionKey"`
}
