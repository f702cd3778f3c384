package notify

import (
	"context"
	"fmt"
	"strings"
)

// CompositeSender sends every message through all of its senders.
type CompositeSender struct {
	senders []Sender
}

func NewCompositeSender(senders ...Sender) *CompositeSender {
	return &CompositeSender{senders: senders}
}

func (cs *CompositeSender) AddSender(sender Sender) {
	if sender != nil {
		cs.senders = append(cs.senders, sender)
	}
}

// Send collects the errors of all senders into one.
func (cs *CompositeSender) Send(ctx context.Context, msg Message) error {
	if len(cs.senders) == 0 {
		return fmt.Errorf("no senders configured in CompositeSender")
	}
	var allErrors []string
	for _, sender := range cs.senders {
		if err := sender.Send(ctx, msg); err != nil {
			allErrors = append(allErrors, err.Error())
		}
	}
	if len(allErrors) > 0 {
		return fmt.Errorf("composite send failed: [ %s ]", strings.Join(allErrors, "; "))
	}
	return nil
}

// ChannelRouter picks a sender by channel and falls back to a default.
type ChannelRouter struct {
	routes   map[Channel]Sender
	fallback Sender
}

func NewChannelRouter(fallback Sender) *ChannelRouter {
	if fallback == nil {
		fallback = &LoggingSender{}
	}
	return &ChannelRouter{routes: map[Channel]Sender{}, fallback: fallback}
}

func (r *ChannelRouter) Route(channel Channel, sender Sender) *ChannelRouter {
	r.routes[channel] = sender
	return r
}

func (r *ChannelRouter) Send(ctx context.Context, msg Message) error {
	if s, ok := r.routes[msg.Channel]; ok {
		return s.Send(ctx, msg)
	}
	return r.fallback.Send(ctx, msg)
}
