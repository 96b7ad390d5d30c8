package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Engine.IO v4 packet types (first byte of every websocket frame).
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
	eioNoop    = '6'
)

// Socket.IO v5 packet types (second byte of an Engine.IO message).
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioConnectError = '4'
)

var errMalformedPacket = errors.New("malformed packet")

// openPacket is the payload of the Engine.IO open frame.
type openPacket struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
	MaxPayload   int    `json:"maxPayload"`
}

// Event is one server-to-client event: its name and first argument.
type Event struct {
	Name string
	Data json.RawMessage
}

// encodeConnect builds the namespace CONNECT frame carrying the auth payload.
func encodeConnect(auth any) ([]byte, error) {
	body, err := json.Marshal(auth)
	if err != nil {
		return nil, fmt.Errorf("encode connect: %w", err)
	}
	return append([]byte{eioMessage, sioConnect}, body...), nil
}

// encodeEvent builds an EVENT frame: 42["name",payload].
func encodeEvent(name string, payload any) ([]byte, error) {
	args := []any{name}
	if payload != nil {
		args = append(args, payload)
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode event %q: %w", name, err)
	}
	return append([]byte{eioMessage, sioEvent}, body...), nil
}

// decodeEvent parses the body of an EVENT packet (everything after "42"):
// an optional "/namespace," prefix, an optional ack id, then a JSON array.
func decodeEvent(body []byte) (Event, error) {
	if len(body) > 0 && body[0] == '/' {
		i := bytes.IndexByte(body, ',')
		if i < 0 {
			return Event{}, errMalformedPacket
		}
		body = body[i+1:]
	}
	i := 0
	for i < len(body) && body[i] >= '0' && body[i] <= '9' {
		i++
	}
	body = body[i:]

	var args []json.RawMessage
	if err := json.Unmarshal(body, &args); err != nil {
		return Event{}, fmt.Errorf("%w: %v", errMalformedPacket, err)
	}
	if len(args) == 0 {
		return Event{}, errMalformedPacket
	}
	var ev Event
	if err := json.Unmarshal(args[0], &ev.Name); err != nil {
		return Event{}, fmt.Errorf("%w: event name: %v", errMalformedPacket, err)
	}
	if len(args) > 1 {
		ev.Data = args[1]
	}
	return ev, nil
}

// connectErrorMessage extracts the reason from a CONNECT_ERROR body.
func connectErrorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		return payload.Message
	}
	return string(body)
}
