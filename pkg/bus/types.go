package bus

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a message on either queue.
type Kind string

const (
	KindChat       Kind = "chat"
	KindAlarm      Kind = "alarm"
	KindToolResult Kind = "tool_result"
	KindSystem     Kind = "system"
)

var validKinds = map[Kind]bool{
	KindChat:       true,
	KindAlarm:      true,
	KindToolResult: true,
	KindSystem:     true,
}

// ErrMalformed marks an inbound message that fails shape validation.
// The router rejects these with a system-kind outbound notice; they never
// crash the loop.
var ErrMalformed = errors.New("malformed inbound message")

// InboundMessage is one unit of external input: a user chat turn, a fired
// alarm, a tool completion, or a system signal. ID is stable across
// redelivery so the router can dedupe.
type InboundMessage struct {
	ID        string
	UserID    string
	Channel   string
	ChatID    string
	Kind      Kind
	Content   string
	Timestamp time.Time
}

// OutboundMessage mirrors the inbound shape; the consumer is the external
// chat transport.
type OutboundMessage struct {
	ID        string
	UserID    string
	Channel   string
	ChatID    string
	Kind      Kind
	Content   string
	Timestamp time.Time
}

// NewInbound builds a chat-kind inbound message with a fresh id and
// timestamp. Transports use this for ordinary user turns.
func NewInbound(userID, channel, chatID, content string) InboundMessage {
	return InboundMessage{
		ID:        "msg-" + uuid.NewString(),
		UserID:    userID,
		Channel:   channel,
		ChatID:    chatID,
		Kind:      KindChat,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Validate checks the inbound message shape. A zero Kind is normalized to
// chat before checking so transports may omit it.
func (m *InboundMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.Join(ErrMalformed, errors.New("missing message id"))
	}
	if strings.TrimSpace(m.UserID) == "" {
		return errors.Join(ErrMalformed, errors.New("missing user id"))
	}
	if m.Kind == "" {
		m.Kind = KindChat
	}
	if !validKinds[m.Kind] {
		return errors.Join(ErrMalformed, errors.New("unknown message kind "+string(m.Kind)))
	}
	if m.Kind == KindChat && strings.TrimSpace(m.Content) == "" {
		return errors.Join(ErrMalformed, errors.New("empty chat content"))
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	return nil
}

// SystemNotice builds a system-kind outbound message addressed to the
// same user and transport as the inbound message it answers.
func SystemNotice(in InboundMessage, content string) OutboundMessage {
	return OutboundMessage{
		ID:        "msg-" + uuid.NewString(),
		UserID:    in.UserID,
		Channel:   in.Channel,
		ChatID:    in.ChatID,
		Kind:      KindSystem,
		Content:   content,
		Timestamp: time.Now(),
	}
}
