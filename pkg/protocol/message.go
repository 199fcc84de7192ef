// Package protocol defines the room wire format: tagged room messages and the
// envelope every request to the room service is wrapped in.
package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/go-go-golems/scenesync/pkg/scene"
)

type MessageType string

const (
	MessageTypeJoin        MessageType = "JOIN"
	MessageTypeUpdateScene MessageType = "UPDATE_SCENE"
)

// ErrDecode marks every failure to turn an inbound body into a RoomMessage.
var ErrDecode = errors.New("malformed room message")

// RoomMessage is the tagged union exchanged through a room. Elements is only
// meaningful for UPDATE_SCENE and always carries a full snapshot.
type RoomMessage struct {
	Type     MessageType     `json:"type"`
	Elements []scene.Element `json:"elements,omitempty"`
}

func Join() RoomMessage {
	return RoomMessage{Type: MessageTypeJoin}
}

func UpdateScene(elements []scene.Element) RoomMessage {
	if elements == nil {
		elements = []scene.Element{}
	}
	return RoomMessage{Type: MessageTypeUpdateScene, Elements: elements}
}

func (m RoomMessage) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case MessageTypeJoin:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
		}{m.Type})
	case MessageTypeUpdateScene:
		elements := m.Elements
		if elements == nil {
			elements = []scene.Element{}
		}
		return json.Marshal(struct {
			Type     MessageType     `json:"type"`
			Elements []scene.Element `json:"elements"`
		}{m.Type, elements})
	default:
		return nil, errors.Errorf("unknown room message type %q", m.Type)
	}
}

// Decode parses an inbound room message. All failures wrap ErrDecode.
func Decode(data []byte) (RoomMessage, error) {
	var head struct {
		Type     MessageType      `json:"type"`
		Elements *json.RawMessage `json:"elements"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return RoomMessage{}, errors.Wrap(ErrDecode, err.Error())
	}
	switch head.Type {
	case MessageTypeJoin:
		return Join(), nil
	case MessageTypeUpdateScene:
		if head.Elements == nil {
			return RoomMessage{}, errors.Wrap(ErrDecode, "UPDATE_SCENE without elements")
		}
		var elements []scene.Element
		if err := json.Unmarshal(*head.Elements, &elements); err != nil {
			return RoomMessage{}, errors.Wrap(ErrDecode, err.Error())
		}
		if elements == nil {
			return RoomMessage{}, errors.Wrap(ErrDecode, "UPDATE_SCENE with null elements")
		}
		return UpdateScene(elements), nil
	case "":
		return RoomMessage{}, errors.Wrap(ErrDecode, "missing message type")
	default:
		return RoomMessage{}, errors.Wrapf(ErrDecode, "unknown message type %q", head.Type)
	}
}
