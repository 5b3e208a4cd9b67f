// Package bridge connects the agent to foreground windows over WebSocket.
package bridge

import (
	"encoding/json"
	"time"
)

// Message types exchanged with windows.
const (
	TypeReply        = "reply"
	TypeGetAuthToken = "get-auth-token"
	TypeScheduleSync = "schedule-sync"
)

// Message wraps all WebSocket messages. ID is set on messages that expect a
// reply; replies carry the request ID in ReplyTo.
type Message struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	ReplyTo   string          `json:"replyTo,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// newMessage builds an outbound message. A nil data leaves Data empty.
func newMessage(msgType string, data interface{}) (Message, error) {
	msg := Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Message{}, err
		}
		msg.Data = raw
	}
	return msg, nil
}

// authTokenReply is the data of a get-auth-token reply. Token is nil when the
// window has no session.
type authTokenReply struct {
	Token *string `json:"token"`
}
