// Package notify delivers celebration messages to the group chat.
//
// Delivery is best-effort: callers log and drop errors, and a failed send
// must never affect milestone or vote state.
package notify

import "context"

// Notifier is an outbound message sink.
type Notifier interface {
	// MilestoneReached announces a player crossing a point milestone.
	MilestoneReached(ctx context.Context, playerName string, points int, action string) error
	// Message sends a plain text message.
	Message(ctx context.Context, text string) error
}

// Nop is a Notifier that discards all messages. It is used when no webhook
// is configured.
type Nop struct{}

func (Nop) MilestoneReached(context.Context, string, int, string) error { return nil }

func (Nop) Message(context.Context, string) error { return nil }
