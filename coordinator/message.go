package coordinator

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType defines a public type used by authflux APIs.
//
// MessageType instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MessageType string

const (
	// TypeLeaderPing announces a tab and probes for an existing leader.
	TypeLeaderPing MessageType = "LEADER_PING"
	// TypeLeaderAck is the current leader's answer to a ping.
	TypeLeaderAck MessageType = "LEADER_ACK"
	// TypeRefreshSuccess broadcasts a rotated session's new lifetime.
	TypeRefreshSuccess MessageType = "REFRESH_SUCCESS"
	// TypeRefreshFailed broadcasts a terminal refresh rejection.
	TypeRefreshFailed MessageType = "REFRESH_FAILED"
)

// Message is the cross-tab coordination envelope. It is internal to the tab
// set and never crosses the network boundary to the Token Authority.
type Message struct {
	Type      MessageType `json:"type"`
	SenderID  string      `json:"sender_id"`
	ExpiresIn int64       `json:"expires_in,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func newMessage(t MessageType, senderID string) Message {
	return Message{
		Type:      t,
		SenderID:  senderID,
		Timestamp: time.Now().Unix(),
	}
}

// EncodeMessage renders the wire form used by cross-process buses.
func EncodeMessage(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses the wire form and validates the message type.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	switch m.Type {
	case TypeLeaderPing, TypeLeaderAck, TypeRefreshSuccess, TypeRefreshFailed:
	default:
		return Message{}, fmt.Errorf("unknown message type %q", m.Type)
	}
	if m.SenderID == "" {
		return Message{}, fmt.Errorf("message missing sender id")
	}
	return m, nil
}
