package internal

import "encoding/json"

// socketEvent is the envelope both sides exchange on the realtime connection.
// Message holds a chat.Outgoing for send and a chat.Message for receive.
type socketEvent struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

const (
	eventJoin    = "join"
	eventLeave   = "leave"
	eventSend    = "send"
	eventReceive = "receive"
	eventError   = "error"
)

func encodeEvent(eventType, roomID string, payload any) ([]byte, error) {
	event := socketEvent{Type: eventType, RoomID: roomID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		event.Message = raw
	}
	return json.Marshal(event)
}

func encodeError(roomID, text string) []byte {
	payload, _ := json.Marshal(socketEvent{Type: eventError, RoomID: roomID, Error: text})
	return payload
}
