package websocket

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	ErrTypeMsgInvalid = "msg_invalid"
)

// MsgType identifies the content of a message.
type MsgType string

const (
	MsgTypePing        MsgType = "ping"
	MsgTypePong        MsgType = "pong"
	MsgTypeQuery       MsgType = "query"
	MsgTypeQueryResult MsgType = "query_result"
	MsgTypeError       MsgType = "error"
)

// Msg is a JSON frame exchanged with a stream client.
type Msg struct {
	Type MsgType `json:"type"`

	// Copied from a request to its response.
	RequestID uint32 `json:"request_id,omitempty"`

	Data json.RawMessage `json:"data,omitempty"`
}

// NewMsg creates a message with data encoded as JSON. A nil data leaves the
// message without data.
func NewMsg(msgType MsgType, requestID uint32, data any) (Msg, error) {
	msg := Msg{
		Type:      msgType,
		RequestID: requestID,
	}

	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Msg{}, errors.New("encoding message data failed").
				WithTag("msg_type", msgType).
				Wrap(err)
		}
		msg.Data = b
	}
	return msg, nil
}

// DataTo decodes the message data into v.
func (m Msg) DataTo(v any) error {
	if len(m.Data) == 0 {
		return errors.New("message has no data").
			WithType(ErrTypeMsgInvalid).
			WithTag("msg_type", m.Type)
	}

	if err := json.Unmarshal(m.Data, v); err != nil {
		return errors.New("decoding message data failed").
			WithType(ErrTypeMsgInvalid).
			WithTag("msg_type", m.Type).
			Wrap(err)
	}
	return nil
}

// TypeString returns the message type as a string, or "unknown" when the
// type is not set.
func (m Msg) TypeString() string {
	if m.Type == "" {
		return "unknown"
	}
	return string(m.Type)
}

// Receiver reads the next message. It returns the number of bytes read.
type Receiver func() (Msg, int, error)

// Sender writes a message. It returns the number of bytes written.
type Sender func(Msg) (int, error)

// NewReceiver returns a receiver that reads text frames from conn. A frame
// that is not a message is reported with an error typed ErrTypeMsgInvalid.
func NewReceiver(conn *websocket.Conn) Receiver {
	return func() (Msg, int, error) {
		var b []byte
		if err := websocket.Message.Receive(conn, &b); err != nil {
			return Msg{}, 0, err
		}

		var msg Msg
		if err := json.Unmarshal(b, &msg); err != nil {
			return Msg{}, len(b), errors.New("decoding message failed").
				WithType(ErrTypeMsgInvalid).
				Wrap(err)
		}
		return msg, len(b), nil
	}
}

// NewSender returns a sender that writes messages to conn as text frames.
func NewSender(conn *websocket.Conn) Sender {
	return func(msg Msg) (int, error) {
		b, err := json.Marshal(msg)
		if err != nil {
			return 0, errors.New("encoding message failed").
				WithTag("msg_type", msg.Type).
				Wrap(err)
		}

		if err := websocket.Message.Send(conn, string(b)); err != nil {
			return 0, err
		}
		return len(b), nil
	}
}

// ResponseSender sends messages to the connected client.
type ResponseSender interface {
	// Sends a message with the given type and data.
	Send(msgType MsgType, requestID uint32, data any)
}
