package router

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/a-essam23/go-relay/internal/model"
)

const (
	OutUserOnline         = "user-online"
	OutUserOffline        = "user-offline"
	OutOnlineUsers        = "online-users"
	OutMessageReceived    = "message-received"
	OutStatusUpdate       = "status-update"
	OutReadBy             = "read-by"
	OutMessageEdited      = "message-edited"
	OutMessageDeleted     = "message-deleted"
	OutReactionUpdate     = "reaction-update"
	OutTyping             = "typing"
	OutPairingCodeIssued  = "pairing-code-issued"
	OutPairingCodeExpired = "pairing-code-expired"
	OutPairingAuthSuccess = "pairing-auth-success"
	OutLocalError         = "local-error"
)

type presencePayload struct {
	UserID   string     `json:"userId"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type onlineUsersPayload struct {
	Users []string `json:"users"`
}

type statusPayload struct {
	MessageID string       `json:"messageId"`
	Status    model.Status `json:"status"`
}

type readByPayload struct {
	MessageID string    `json:"messageId"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

type editedPayload struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type deletedPayload struct {
	MessageID string `json:"messageId"`
	// ForMe marks a local hide rather than a removal for everyone.
	ForMe bool `json:"forMe,omitempty"`
}

type reactionsPayload struct {
	MessageID string           `json:"messageId"`
	Reactions []model.Reaction `json:"reactions"`
}

type typingPayload struct {
	From        string `json:"from"`
	RoomID      string `json:"roomId,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
	IsTyping    bool   `json:"isTyping"`
}

type pairingIssuedPayload struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

type pairingExpiredPayload struct {
	Code string `json:"code"`
}

type pairingSuccessPayload struct {
	Credential string `json:"credential"`
	UserID     string `json:"userId"`
	DeviceID   string `json:"deviceId"`
}

type localErrorPayload struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
	Event  string `json:"event,omitempty"`
}

// encode wraps payload in the {event, payload} envelope.
func encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal '%s' payload: %w", event, err)
	}
	msg, err := json.Marshal(ClientMessage{Event: event, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal '%s' envelope: %w", event, err)
	}
	return msg, nil
}
