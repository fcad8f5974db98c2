package protocol

import (
	"encoding/json"
	"errors"
)

var ErrInvalidEvent = errors.New("invalid event format")

// Event kinds exchanged over the websocket, оба направления.
const (
	EventIdentify       = "identify"
	EventChatMessage    = "chat_message"
	EventCallRequest    = "call_request"
	EventCallAnswer     = "call_answer"
	EventIceCandidate   = "ice_candidate"
	EventEndCall        = "end_call"
	EventFriendRequest  = "friend_request"
	EventFriendAccepted = "friend_accepted"
	EventPresenceUpdate = "presence_update"
	EventCallFailed     = "call_failed"
)

// Event is the envelope for every message on the wire. Only the fields
// relevant to a given Type are set; the rest are omitted from JSON.
//
// SDP and Candidate are kept as raw JSON: the hub relays signaling
// payloads byte-for-byte and never parses them.
type Event struct {
	Type string `json:"type"`

	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// chat_message
	Name      string `json:"name,omitempty"` // отображаемое имя отправителя
	Text      string `json:"text,omitempty"`
	Media     string `json:"media,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	// call signaling
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	// presence_update
	Online *bool `json:"online,omitempty"`

	// call_failed
	Reason string `json:"reason,omitempty"`
}

// Decode parses a wire frame into an Event. A frame without a type is
// rejected so the caller can drop it.
func Decode(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	if ev.Type == "" {
		return nil, ErrInvalidEvent
	}
	return &ev, nil
}

func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// PresenceUpdate builds the status notification broadcast to peers.
func PresenceUpdate(identity string, online bool) *Event {
	return &Event{
		Type:   EventPresenceUpdate,
		From:   identity,
		Online: &online,
	}
}

// FriendRequest builds the notification delivered to the target of a
// new friend request.
func FriendRequest(requester string) *Event {
	return &Event{
		Type: EventFriendRequest,
		From: requester,
	}
}

// FriendAccepted builds the notification delivered back to the
// original requester once the request is accepted.
func FriendAccepted(accepter string) *Event {
	return &Event{
		Type: EventFriendAccepted,
		From: accepter,
	}
}

// CallFailed builds the failure signal sent back to a caller.
func CallFailed(reason string) *Event {
	return &Event{
		Type:   EventCallFailed,
		Reason: reason,
	}
}
