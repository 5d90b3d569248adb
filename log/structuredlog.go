package log

import (
	"encoding/json"
	"time"
)

// StructuredLog is one decoded telemetry event as written to the event log.
// Field order is the JSON key order; a nil MsgJSON encodes as null.
type StructuredLog struct {
	Time     time.Time       `json:"time"`
	Sender   string          `json:"sender_id"`
	MsgType  string          `json:"msg_type"`
	MsgJSON  json.RawMessage `json:"json_encoded"`
	Metadata *string         `json:"metadata,omitempty"`
}

// NewStructuredLog marshals msg and stamps it with the current UTC time.
func NewStructuredLog(msgType string, sender string, msg interface{}) (StructuredLog, error) {
	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return StructuredLog{}, err
	}
	return StructuredLog{
		Time:    time.Now().UTC(),
		Sender:  sender,
		MsgType: msgType,
		MsgJSON: msgJSON,
	}, nil
}
