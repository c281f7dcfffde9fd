// Package protocol defines the wire format spoken with the relay server.
//
// Control traffic is one JSON object per text WebSocket message (see
// Message). The only binary traffic is the audio reply, a length-prefixed
// JSON header followed by raw bytes (see EncodeFrame).
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType tags the Message union.
type MessageType string

const (
	// TypeAuth is sent by the client as the first message after open.
	TypeAuth MessageType = "auth"

	// TypeEvent is a fire-and-forget notification from the relay.
	TypeEvent MessageType = "event"

	// TypeRequest expects exactly one TypeResponse carrying the same
	// RequestID (or one binary frame for audio).
	TypeRequest MessageType = "request"

	// TypeResponse answers a TypeRequest.
	TypeResponse MessageType = "response"
)

// ErrMalformed is returned by Decode for text frames that are not a
// protocol message. Callers drop such frames.
var ErrMalformed = errors.New("malformed message")

// Message is the JSON envelope used for every text frame.
type Message struct {
	Type MessageType `json:"type"`

	// RequestID correlates a request with its response.
	RequestID string `json:"requestId,omitempty"`

	// Event names the event or the requested operation.
	Event string `json:"event,omitempty"`

	// Payload is decoded by whoever handles Event.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AuthPayload is the payload of the auth message.
type AuthPayload struct {
	Token string `json:"token"`
}

// ErrorPayload is the response payload for a failed request.
type ErrorPayload struct {
	Error string `json:"error"`
}

// SuccessPayload is the response payload for a request with no data to
// return.
type SuccessPayload struct {
	Success bool `json:"success"`
}

// NewAuth builds the auth message for token.
func NewAuth(token string) Message {
	data, _ := json.Marshal(AuthPayload{Token: token}) // simple struct, cannot fail
	return Message{Type: TypeAuth, Payload: data}
}

// NewResponse builds a response to requestID carrying payload.
func NewResponse(requestID string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal response payload: %w", err)
	}
	return Message{Type: TypeResponse, RequestID: requestID, Payload: data}, nil
}

// Encode serializes m for a text frame.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a text frame. Anything that is not a JSON object with a
// type field yields ErrMalformed.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return m, nil
}
