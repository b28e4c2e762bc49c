package router

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/a-essam23/go-relay/internal/errs"
	"github.com/a-essam23/go-relay/internal/model"
	"github.com/tidwall/gjson"
)

// Kind is the explicit discriminant of an inbound envelope.
type Kind string

const (
	KindAnnounce             Kind = "announce"
	KindJoinRoom             Kind = "join-room"
	KindLeaveRoom            Kind = "leave-room"
	KindSend                 Kind = "send"
	KindAcknowledgeDelivered Kind = "acknowledge-delivered"
	KindAcknowledgeRead      Kind = "acknowledge-read"
	KindEdit                 Kind = "edit"
	KindDeleteEveryone       Kind = "delete-everyone"
	KindDeleteForMe          Kind = "delete-for-me"
	KindReact                Kind = "react"
	KindTyping               Kind = "typing"
	KindRequestPairingCode   Kind = "request-pairing-code"
	KindCompletePairing      Kind = "complete-pairing"
)

// ClientMessage is the wire envelope shared by both directions.
type ClientMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is one decoded inbound event.
type Event interface {
	Kind() Kind
	validate() error
}

type AnnounceEvent struct {
	UserID string `json:"userId"`
	// Token proves UserID when the handshake carried no identity.
	Token string `json:"token,omitempty"`
}

type RoomEvent struct {
	kind   Kind
	RoomID string `json:"roomId"`
}

type SendEvent struct {
	RecipientID string     `json:"recipientId,omitempty"`
	RoomID      string     `json:"roomId,omitempty"`
	MsgKind     model.Kind `json:"kind,omitempty"`
	Content     string     `json:"content"`
	MediaURL    string     `json:"mediaUrl,omitempty"`
	FileName    string     `json:"fileName,omitempty"`
}

// MessageEvent carries only a message id: delivered, delete-everyone, delete-for-me.
type MessageEvent struct {
	kind      Kind
	MessageID string `json:"messageId"`
}

// ReadEvent acknowledges one message, or with PeerID every direct message from that peer.
type ReadEvent struct {
	MessageID string `json:"messageId,omitempty"`
	PeerID    string `json:"peerId,omitempty"`
}

type EditEvent struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type ReactEvent struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type TypingEvent struct {
	RoomID      string `json:"roomId,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
	IsTyping    bool   `json:"isTyping"`
}

type RequestPairingEvent struct {
	Label string `json:"label,omitempty"`
}

type CompletePairingEvent struct {
	Code       string `json:"code"`
	Credential string `json:"credential"`
	UserID     string `json:"userId"`
	Label      string `json:"label,omitempty"`
}

func (AnnounceEvent) Kind() Kind        { return KindAnnounce }
func (e RoomEvent) Kind() Kind          { return e.kind }
func (SendEvent) Kind() Kind            { return KindSend }
func (e MessageEvent) Kind() Kind       { return e.kind }
func (ReadEvent) Kind() Kind            { return KindAcknowledgeRead }
func (EditEvent) Kind() Kind            { return KindEdit }
func (ReactEvent) Kind() Kind           { return KindReact }
func (TypingEvent) Kind() Kind          { return KindTyping }
func (RequestPairingEvent) Kind() Kind  { return KindRequestPairingCode }
func (CompletePairingEvent) Kind() Kind { return KindCompletePairing }

func (e AnnounceEvent) validate() error     { return required("userId", e.UserID) }
func (e RoomEvent) validate() error         { return required("roomId", e.RoomID) }
func (e MessageEvent) validate() error      { return required("messageId", e.MessageID) }
func (RequestPairingEvent) validate() error { return nil }

func (e SendEvent) validate() error {
	if (e.RecipientID == "") == (e.RoomID == "") {
		return invalid("exactly one of recipientId or roomId is required")
	}
	if strings.TrimSpace(e.Content) == "" && e.MediaURL == "" {
		return invalid("content cannot be empty")
	}
	return nil
}

func (e ReadEvent) validate() error {
	if (e.MessageID == "") == (e.PeerID == "") {
		return invalid("exactly one of messageId or peerId is required")
	}
	return nil
}

func (e EditEvent) validate() error {
	if err := required("messageId", e.MessageID); err != nil {
		return err
	}
	if strings.TrimSpace(e.Content) == "" {
		return invalid("content cannot be empty")
	}
	return nil
}

func (e ReactEvent) validate() error {
	if err := required("messageId", e.MessageID); err != nil {
		return err
	}
	return required("emoji", e.Emoji)
}

func (e TypingEvent) validate() error {
	if (e.RecipientID == "") == (e.RoomID == "") {
		return invalid("exactly one of recipientId or roomId is required")
	}
	return nil
}

func (e CompletePairingEvent) validate() error {
	for _, f := range []struct{ name, value string }{
		{"code", e.Code},
		{"credential", e.Credential},
		{"userId", e.UserID},
	} {
		if err := required(f.name, f.value); err != nil {
			return err
		}
	}
	return nil
}

var decoders = map[Kind]func() Event{
	KindAnnounce:             func() Event { return &AnnounceEvent{} },
	KindJoinRoom:             func() Event { return &RoomEvent{kind: KindJoinRoom} },
	KindLeaveRoom:            func() Event { return &RoomEvent{kind: KindLeaveRoom} },
	KindSend:                 func() Event { return &SendEvent{} },
	KindAcknowledgeDelivered: func() Event { return &MessageEvent{kind: KindAcknowledgeDelivered} },
	KindAcknowledgeRead:      func() Event { return &ReadEvent{} },
	KindEdit:                 func() Event { return &EditEvent{} },
	KindDeleteEveryone:       func() Event { return &MessageEvent{kind: KindDeleteEveryone} },
	KindDeleteForMe:          func() Event { return &MessageEvent{kind: KindDeleteForMe} },
	KindReact:                func() Event { return &ReactEvent{} },
	KindTyping:               func() Event { return &TypingEvent{} },
	KindRequestPairingCode:   func() Event { return &RequestPairingEvent{} },
	KindCompletePairing:      func() Event { return &CompletePairingEvent{} },
}

// Decode parses an envelope into its typed event. The 'event' field is the
// only discriminant; a missing or unknown one is an ErrInvalidEvent.
func Decode(raw []byte) (Event, error) {
	if !gjson.ValidBytes(raw) {
		return nil, invalid("message is not valid JSON")
	}
	discriminant := gjson.GetBytes(raw, "event")
	if discriminant.Type != gjson.String || discriminant.Str == "" {
		return nil, invalid("missing 'event' discriminant")
	}
	kind := Kind(discriminant.Str)
	newEvent, ok := decoders[kind]
	if !ok {
		return nil, invalid(fmt.Sprintf("unknown event '%s'", kind))
	}

	ev := newEvent()
	payload := gjson.GetBytes(raw, "payload")
	if payload.Exists() && payload.Type != gjson.Null {
		if !payload.IsObject() {
			return nil, invalid(fmt.Sprintf("payload of '%s' must be an object", kind))
		}
		if err := json.Unmarshal([]byte(payload.Raw), ev); err != nil {
			return nil, fmt.Errorf("%w: payload of '%s': %v", errs.ErrInvalidEvent, kind, err)
		}
	}
	if err := ev.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	return deref(ev), nil
}

// EventName extracts the discriminant of a possibly malformed envelope for error reporting.
func EventName(raw []byte) string {
	return gjson.GetBytes(raw, "event").String()
}

// deref hands handlers values rather than pointers.
func deref(ev Event) Event {
	switch e := ev.(type) {
	case *AnnounceEvent:
		return *e
	case *RoomEvent:
		return *e
	case *SendEvent:
		return *e
	case *MessageEvent:
		return *e
	case *ReadEvent:
		return *e
	case *EditEvent:
		return *e
	case *ReactEvent:
		return *e
	case *TypingEvent:
		return *e
	case *RequestPairingEvent:
		return *e
	case *CompletePairingEvent:
		return *e
	}
	return ev
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid(fmt.Sprintf("'%s' is required", field))
	}
	return nil
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", errs.ErrInvalidEvent, reason)
}
