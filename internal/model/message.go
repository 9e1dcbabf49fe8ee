// Package model defines the shared data types for the event hub:
// the wire protocol frame, session and channel snapshots, rate-limit
// rules and the client-side notification records.
package model

import "encoding/json"

// FrameType represents the type tag of a wire frame.
type FrameType string

const (
	FrameTypeCommand   FrameType = "command"
	FrameTypeData      FrameType = "data"
	FrameTypeHeartbeat FrameType = "heartbeat"
	FrameTypeError     FrameType = "error"
)

// Command names carried by command frames.
const (
	CommandSubscribe   = "subscribe"
	CommandUnsubscribe = "unsubscribe"
	CommandPublish     = "publish"
)

// Frame is a single wire message. The type tag comes first so receivers
// can dispatch without a shared compile-time schema.
type Frame struct {
	Type      FrameType       `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Command   string          `json:"command,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Code      string          `json:"code,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Encode serializes the frame to JSON.
func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame parses a wire frame from JSON.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Type == "" {
		return nil, ErrMalformedFrame
	}
	return &f, nil
}

// NewDataFrame builds a data frame for a channel.
func NewDataFrame(channel string, payload json.RawMessage) *Frame {
	return &Frame{
		Type:    FrameTypeData,
		Channel: channel,
		Payload: payload,
	}
}

// NewErrorFrame builds an error frame.
func NewErrorFrame(code, detail string) *Frame {
	return &Frame{
		Type:  FrameTypeError,
		Code:  code,
		Error: detail,
	}
}

// NewHeartbeatFrame builds a heartbeat frame carrying a unix-millisecond
// timestamp. The server echoes the timestamp back as the acknowledgement.
func NewHeartbeatFrame(unixMilli int64) *Frame {
	return &Frame{
		Type:      FrameTypeHeartbeat,
		Timestamp: unixMilli,
	}
}
