package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/DoyleJ11/worldsync/pkg/vec"
)

var ErrMalformed = errors.New("malformed message")
var ErrUnknownType = fmt.Errorf("%w: unknown type", ErrMalformed)

const (
	MaxKindLen     = 64
	MaxMaterialLen = 128
	MaxObjectIDLen = 64
	MaxChatRunes   = 500
)

type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps m in an envelope.
func Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return json.Marshal(Envelope{Type: m.Type(), Payload: payload})
}

// MustEncode is Encode for messages built from known-good values.
func MustEncode(m Message) []byte {
	b, err := Encode(m)
	if err != nil {
		panic(err)
	}
	return b
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

func decodePayload(env Envelope, v any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return fmt.Errorf("%w: %s: missing payload", ErrMalformed, env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return nil
}

// Wire shapes used to detect missing required fields on inbound frames.
type (
	moveWire struct {
		Position *vec.Vec3 `json:"position"`
	}
	rotateWire struct {
		Rotation *vec.Vec3 `json:"rotation"`
	}
	moveObjectWire struct {
		ObjectID string    `json:"objectId"`
		Position *vec.Vec3 `json:"position"`
		Rotation *vec.Vec3 `json:"rotation"`
	}
)

// DecodeClient parses and validates a frame sent by a client. Any error
// wraps ErrMalformed.
func DecodeClient(data []byte) (Message, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case KindMove:
		var w moveWire
		if err := decodePayload(env, &w); err != nil {
			return nil, err
		}
		if err := requireVec(env.Type, "position", w.Position); err != nil {
			return nil, err
		}
		return Move{Position: *w.Position}, nil

	case KindRotate:
		var w rotateWire
		if err := decodePayload(env, &w); err != nil {
			return nil, err
		}
		if err := requireVec(env.Type, "rotation", w.Rotation); err != nil {
			return nil, err
		}
		return Rotate{Rotation: *w.Rotation}, nil

	case KindCreateObject:
		var m CreateObject
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		if err := validateCreate(m); err != nil {
			return nil, err
		}
		return m, nil

	case KindMoveObject:
		var w moveObjectWire
		if err := decodePayload(env, &w); err != nil {
			return nil, err
		}
		if err := requireID(env.Type, w.ObjectID); err != nil {
			return nil, err
		}
		if err := requireVec(env.Type, "position", w.Position); err != nil {
			return nil, err
		}
		if err := requireVec(env.Type, "rotation", w.Rotation); err != nil {
			return nil, err
		}
		return MoveObject{ObjectID: w.ObjectID, Position: *w.Position, Rotation: *w.Rotation}, nil

	case KindDeleteObject:
		var m DeleteObject
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		if err := requireID(env.Type, m.ObjectID); err != nil {
			return nil, err
		}
		return m, nil

	case KindClearObjects:
		return ClearObjects{}, nil

	case KindChatMessage:
		var m ChatMessage
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		m.Message = NormalizeChat(m.Message)
		if m.Message == "" {
			return nil, fmt.Errorf("%w: %s: empty message", ErrMalformed, env.Type)
		}
		return m, nil

	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, env.Type)
	}
}

// DecodeServer parses a frame sent by the server.
func DecodeServer(data []byte) (Message, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	var m Message
	switch env.Type {
	case KindInit:
		m, err = decodeInto[Init](env)
	case KindPlayerJoined:
		m, err = decodeInto[PlayerJoined](env)
	case KindPlayerLeft:
		m, err = decodeInto[PlayerLeft](env)
	case KindPlayerMoved:
		m, err = decodeInto[PlayerMoved](env)
	case KindPlayerRotated:
		m, err = decodeInto[PlayerRotated](env)
	case KindObjectCreated:
		m, err = decodeInto[ObjectCreated](env)
	case KindObjectMoved:
		m, err = decodeInto[ObjectMoved](env)
	case KindObjectDeleted:
		m, err = decodeInto[ObjectDeleted](env)
	case KindObjectsCleared:
		m = ObjectsCleared{}
	case KindWorldSnapshot:
		m, err = decodeInto[WorldSnapshot](env)
	case KindChatMessage:
		m, err = decodeInto[ChatBroadcast](env)
	case KindError:
		m, err = decodeInto[Error](env)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func decodeInto[T Message](env Envelope) (Message, error) {
	var v T
	if err := decodePayload(env, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// NormalizeChat trims surrounding whitespace and caps the text at
// MaxChatRunes.
func NormalizeChat(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MaxChatRunes {
		s = string([]rune(s)[:MaxChatRunes])
	}
	return s
}

func validateCreate(m CreateObject) error {
	if strings.TrimSpace(m.Kind) == "" {
		return fmt.Errorf("%w: %s: missing kind", ErrMalformed, KindCreateObject)
	}
	if len(m.Kind) > MaxKindLen || len(m.MaterialHint) > MaxMaterialLen {
		return fmt.Errorf("%w: %s: field too long", ErrMalformed, KindCreateObject)
	}
	for name, v := range map[string]*vec.Vec3{"position": m.Position, "rotation": m.Rotation, "scale": m.Scale} {
		if v != nil && !v.Finite() {
			return fmt.Errorf("%w: %s: %s not finite", ErrMalformed, KindCreateObject, name)
		}
	}
	if s := m.Scale; s != nil && (s.X <= 0 || s.Y <= 0 || s.Z <= 0) {
		return fmt.Errorf("%w: %s: scale must be positive", ErrMalformed, KindCreateObject)
	}
	return nil
}

func requireVec(kind Kind, field string, v *vec.Vec3) error {
	if v == nil {
		return fmt.Errorf("%w: %s: missing %s", ErrMalformed, kind, field)
	}
	if !v.Finite() {
		return fmt.Errorf("%w: %s: %s not finite", ErrMalformed, kind, field)
	}
	return nil
}

func requireID(kind Kind, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s: missing objectId", ErrMalformed, kind)
	}
	if len(id) > MaxObjectIDLen {
		return fmt.Errorf("%w: %s: objectId too long", ErrMalformed, kind)
	}
	return nil
}
