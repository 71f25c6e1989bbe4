package model

import (
	"encoding/json"
	"errors"
)

// Relay message types.
const (
	TypeWelcome     = "welcome"
	TypeAdvertise   = "advertise"
	TypeAdvertising = "advertising"
	TypeSubscribe   = "subscribe"
	TypeSubscribed  = "subscribed"
	TypeLocation    = "location"
	TypeError       = "error"
)

// Error texts sent to clients.
const (
	ErrTextInvalidCode = "Invalid or unknown code"
	ErrTextUnknownType = "Unknown message type"
)

var (
	ErrUnknownType = errors.New("unknown message type")
)

// Message is one of the relay wire variants below.
type Message interface {
	MessageType() string
}

type (
	Welcome struct {
		Message string `json:"message"`
	}

	// Advertise starts or replaces the sender's broadcast session.
	// Empty Code asks the server to generate one.
	Advertise struct {
		Code string `json:"code,omitempty"`
	}

	Advertising struct {
		Code string `json:"code"`
	}

	Subscribe struct {
		Code string `json:"code"`
	}

	Subscribed struct {
		Code string `json:"code"`
	}

	// Location is relayed as is, payload fields are opaque to the server.
	Location struct {
		Location json.RawMessage `json:"location,omitempty"`
		Route    json.RawMessage `json:"route,omitempty"`
	}

	Error struct {
		Message string `json:"message"`
	}
)

func (Welcome) MessageType() string     { return TypeWelcome }
func (Advertise) MessageType() string   { return TypeAdvertise }
func (Advertising) MessageType() string { return TypeAdvertising }
func (Subscribe) MessageType() string   { return TypeSubscribe }
func (Subscribed) MessageType() string  { return TypeSubscribed }
func (Location) MessageType() string    { return TypeLocation }
func (Error) MessageType() string       { return TypeError }

// DecodeMessage parses a text frame into its variant.
// Frames that are not JSON objects or carry an unrecognized type
// yield ErrUnknownType. A known type with an undecodable payload
// yields the zero value of that variant.
func DecodeMessage(b []byte) (Message, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return nil, errors.Join(ErrUnknownType, err)
	}
	switch envelope.Type {
	case TypeWelcome:
		return decodeAs[Welcome](b), nil
	case TypeAdvertise:
		return decodeAs[Advertise](b), nil
	case TypeAdvertising:
		return decodeAs[Advertising](b), nil
	case TypeSubscribe:
		return decodeAs[Subscribe](b), nil
	case TypeSubscribed:
		return decodeAs[Subscribed](b), nil
	case TypeLocation:
		return decodeAs[Location](b), nil
	case TypeError:
		return decodeAs[Error](b), nil
	}
	return nil, ErrUnknownType
}

func decodeAs[T Message](b []byte) Message {
	var msg T
	if err := json.Unmarshal(b, &msg); err != nil {
		var zero T
		return zero
	}
	return msg
}

// EncodeMessage renders msg as a JSON object with "type" as its first key.
func EncodeMessage(msg Message) ([]byte, error) {
	typ, err := json.Marshal(msg.MessageType())
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(typ)+len(body)+10)
	out = append(out, `{"type":`...)
	out = append(out, typ...)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}
