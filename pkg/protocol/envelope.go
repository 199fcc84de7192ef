package protocol

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Envelope wraps every outbound request. Payload is the RoomMessage encoded as
// a JSON string, not a nested object.
type Envelope struct {
	SessionID string `json:"id"`
	Payload   string `json:"payload"`
}

func NewEnvelope(sessionID string, msg RoomMessage) (Envelope, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "encode room message")
	}
	return Envelope{SessionID: sessionID, Payload: string(b)}, nil
}

// DecodeEnvelope parses an inbound request body and validates its payload.
func DecodeEnvelope(data []byte) (Envelope, RoomMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, RoomMessage{}, errors.Wrap(ErrDecode, err.Error())
	}
	if strings.TrimSpace(env.SessionID) == "" {
		return Envelope{}, RoomMessage{}, errors.Wrap(ErrDecode, "envelope without session id")
	}
	msg, err := Decode([]byte(env.Payload))
	if err != nil {
		return Envelope{}, RoomMessage{}, err
	}
	return env, msg, nil
}
