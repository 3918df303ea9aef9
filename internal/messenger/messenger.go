// Package messenger delivers user-facing messages through the chat-bot
// platform. The engine only sees the Messenger interface; the BotHelp client
// below is the production implementation.
package messenger

import "context"

// Messenger is the delivery collaborator the engine talks to.
type Messenger interface {
	// SendText sends a plain text message to a subscriber.
	SendText(ctx context.Context, userID, text string) error

	// SendAttachment sends a previously uploaded attachment with a caption.
	SendAttachment(ctx context.Context, userID, attachmentID, caption string) error

	// UploadAudio re-hosts audio bytes on the platform and returns the
	// attachment id to send with.
	UploadAudio(ctx context.Context, data []byte, filename string) (string, error)
}
