package ws

import (
	"encoding/json"
)

// MessageType represents the different kinds of messages our system can handle
type MessageType string

const (
	// client to server
	MessageTypeMove       MessageType = "move"
	MessageTypePromote    MessageType = "promote"
	MessageTypeLegalMoves MessageType = "legalMoves"

	// server to client
	MessageTypeGameState MessageType = "gameState"
	MessageTypeError     MessageType = "error"
)

// Message represents a WebSocket message in our system
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MovePayload is an origin and destination in algebraic coordinates.
type MovePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// PromotePayload names the piece a pending promotion resolves to: n, b, r or q.
type PromotePayload struct {
	Piece string `json:"piece"`
}

type LegalMovesPayload struct {
	From string `json:"from"`
}

// LegalMovesReply maps destination squares to "." for quiet moves and "x" for
// captures.
type LegalMovesReply struct {
	From         string            `json:"from"`
	Destinations map[string]string `json:"destinations"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// NewMessage marshals payload into a message of the given type.
func NewMessage(t MessageType, payload interface{}) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: data}, nil
}
