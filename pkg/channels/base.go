// Package channels adapts external chat transports to the message bus.
// Each transport publishes inbound messages with a stable transport id
// so redeliveries dedupe, and consumes outbound messages addressed to
// it.
package channels

import (
	"context"
	"strings"

	"github.com/dotsetgreg/kiwid/pkg/bus"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

type BaseChannel struct {
	bus       *bus.MessageBus
	running   bool
	name      string
	allowList []string
}

func NewBaseChannel(name string, messageBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		bus:       messageBus,
		name:      name,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running
}

func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	// allow compound ids like "123456|username" to match either part
	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		candidate := strings.TrimSpace(strings.TrimPrefix(allowed, "@"))
		if candidate == "" {
			continue
		}
		if candidate == senderID || candidate == idPart || (userPart != "" && candidate == userPart) {
			return true
		}
	}
	return false
}

// HandleMessage publishes one user turn. The transport message id keys
// the inbound id so a redelivered transport event dedupes in the
// router.
func (c *BaseChannel) HandleMessage(transportMsgID, senderID, chatID, content string) {
	if !c.IsAllowed(senderID) {
		return
	}

	msg := bus.InboundMessage{
		ID:      "msg-" + c.name + "-" + transportMsgID,
		UserID:  senderID,
		Channel: c.name,
		ChatID:  chatID,
		Kind:    bus.KindChat,
		Content: content,
	}
	c.bus.PublishInbound(msg)
}

func (c *BaseChannel) setRunning(running bool) {
	c.running = running
}
