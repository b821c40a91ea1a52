package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tOgg1/campusmarket/internal/models"
)

// FrameKind tags the decoded frame variants.
type FrameKind int

const (
	FrameUnrecognized FrameKind = iota
	FrameHandshake
	FrameMessage
)

func (k FrameKind) String() string {
	switch k {
	case FrameHandshake:
		return "handshake"
	case FrameMessage:
		return "message"
	default:
		return "unrecognized"
	}
}

// Frame is the closed union of push payloads: Handshake, MessageFrame
// or Unrecognized.
type Frame interface {
	Kind() FrameKind
}

// Handshake confirms the channel is live. It carries no message.
type Handshake struct{}

func (Handshake) Kind() FrameKind { return FrameHandshake }

// MessageFrame carries one message for the store.
type MessageFrame struct {
	Message models.Message
}

func (MessageFrame) Kind() FrameKind { return FrameMessage }

// Unrecognized is anything else. Reason says why it was rejected.
type Unrecognized struct {
	Raw    string
	Reason string
}

func (Unrecognized) Kind() FrameKind { return FrameUnrecognized }

// Err wraps the reason as an ErrParse.
func (u Unrecognized) Err() error {
	return fmt.Errorf("%w: %s", models.ErrParse, u.Reason)
}

const maxRawInUnrecognized = 256

// envelopeSchema is the outer shape shared by every frame.
type envelopeSchema struct {
	Type    *string         `json:"type"`
	Message json.RawMessage `json:"message"`
	ID      json.RawMessage `json:"_id"`
}

// messageSchema lists what a message payload must carry before it is
// decoded into a models.Message.
type messageSchema struct {
	ID      string          `json:"_id" validate:"required"`
	Content *string         `json:"content" validate:"required"`
	Sender  *models.UserRef `json:"sender" validate:"required"`
}

var frameValidator = newFrameValidator()

func newFrameValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

// DecodeFrame classifies a data payload. It is total: malformed input
// yields Unrecognized, never an error or panic.
//
// Schema:
//
//	{"type":"connected"}                                  -> Handshake
//	{"_id":string!, "content":string!, "sender":ref!, ...} -> MessageFrame
//	{"type":"message","message":{...message schema...}}   -> MessageFrame
func DecodeFrame(data []byte) Frame {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return unrecognized(data, "empty frame")
	}

	var env envelopeSchema
	if err := json.Unmarshal(data, &env); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field == "type" {
			return unrecognized(data, "type is not a string")
		}
		if typeErr == nil || typeErr.Field == "" {
			return unrecognized(data, "not a json object")
		}
	}

	if env.Type != nil {
		switch *env.Type {
		case "connected":
			return Handshake{}
		case "message":
			if len(env.Message) == 0 {
				return unrecognized(data, "message envelope without message")
			}
			return decodeMessage(env.Message)
		default:
			if len(env.ID) == 0 {
				return unrecognized(data, fmt.Sprintf("unknown frame type %q", *env.Type))
			}
		}
	}

	return decodeMessage(data)
}

func decodeMessage(data []byte) Frame {
	var schema messageSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return unrecognized(data, fmt.Sprintf("%s must be a %s", typeErr.Field, typeErr.Type))
		}
		return unrecognized(data, "not a json object")
	}
	schema.ID = strings.TrimSpace(schema.ID)

	if err := frameValidator.Struct(schema); err != nil {
		return unrecognized(data, schemaReason(err))
	}
	if err := frameValidator.Var(schema.Sender.ID, "required"); err != nil {
		return unrecognized(data, "sender has no id")
	}

	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return unrecognized(data, "invalid message: "+err.Error())
	}
	msg.ID = schema.ID
	return MessageFrame{Message: msg}
}

// schemaReason reports the first failed rule.
func schemaReason(err error) string {
	var failures validator.ValidationErrors
	if !errors.As(err, &failures) || len(failures) == 0 {
		return err.Error()
	}
	fe := failures[0]
	if fe.Tag() == "required" {
		return "missing " + fe.Field()
	}
	return fmt.Sprintf("%s fails %s", fe.Field(), fe.Tag())
}

func unrecognized(data []byte, reason string) Unrecognized {
	raw := string(data)
	if len(raw) > maxRawInUnrecognized {
		raw = raw[:maxRawInUnrecognized] + "..."
	}
	return Unrecognized{Raw: raw, Reason: reason}
}
