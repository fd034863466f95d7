package platform

import (
	"context"

	"tgqqbridge/internal/models"
)

// Adapter is the transport contract a chat platform gateway implements.
// Send returns the platform-assigned identifier of the delivered message.
// Events yields inbound messages, edits and recalls; the channel is closed
// when the adapter shuts down.
type Adapter interface {
	Platform() models.Platform
	Send(ctx context.Context, chatID, text string) (destID string, err error)
	Delete(ctx context.Context, chatID, destID string) error
	Events() <-chan models.Event
}
