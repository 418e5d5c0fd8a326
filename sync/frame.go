// Package sync is the real-time core: the wire frame contract and the
// change broadcaster that fans quota events out to every live channel.
package sync

import (
	"encoding/json"
	"time"
)

// Frame types pushed to live channels.
const (
	TypeInitialData = "initial_data"
	TypeQuotaUpdate = "quota_update"
	TypePing        = "ping"
	TypeError       = "error"
)

// Frame is one server-to-client push message. quota_update frames carry
// only the changed boss date: they are a hint to refetch, never the data
// itself, so clients always pull authoritative state.
type Frame struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	BossDate  string      `json:"bossDate,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func now() int64 {
	return time.Now().UnixMilli()
}

// InitialData builds the snapshot frame sent when a channel opens.
func InitialData(data interface{}) Frame {
	return Frame{Type: TypeInitialData, Data: data, Timestamp: now()}
}

// QuotaUpdate builds the refetch hint for one boss date.
func QuotaUpdate(bossDate string) Frame {
	return Frame{Type: TypeQuotaUpdate, BossDate: bossDate, Timestamp: now()}
}

// Ping builds a keep-alive frame.
func Ping() Frame {
	return Frame{Type: TypePing, Timestamp: now()}
}

// ErrorFrame reports a server-side failure on an open channel.
func ErrorFrame(message string) Frame {
	return Frame{Type: TypeError, Message: message, Timestamp: now()}
}

// Encode serializes a frame for the pub/sub bus or an SSE data line.
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame parses a frame from its JSON encoding.
func DecodeFrame(payload []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(payload, &f)
	return f, err
}
