package models

import (
	"time"
)

// Platform identifies one of the two bridged chat platforms.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformQQ       Platform = "qq"
)

// Opposite returns the platform a message from p is forwarded to.
func (p Platform) Opposite() Platform {
	if p == PlatformTelegram {
		return PlatformQQ
	}
	return PlatformTelegram
}

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	return p == PlatformTelegram || p == PlatformQQ
}

// MessageKind classifies a normalized message payload.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindPhoto    MessageKind = "photo"
	KindVideo    MessageKind = "video"
	KindAudio    MessageKind = "audio"
	KindVoice    MessageKind = "voice"
	KindDocument MessageKind = "document"
	KindForward  MessageKind = "forward"
)

// MessageRef points at a message on a specific platform, used for reply
// targets. Sender carries the replied-to author's name when the platform
// exposes it on the reply payload.
type MessageRef struct {
	Platform Platform `json:"platform"`
	ID       string   `json:"id"`
	Sender   string   `json:"sender,omitempty"`
}

// Message is the platform-agnostic representation of one inbound chat message.
// It is immutable once produced by an adapter.
type Message struct {
	ID        string      `json:"id"`
	Platform  Platform    `json:"platform"`
	ChatID    string      `json:"chatId"`
	Sender    string      `json:"sender"`
	Body      string      `json:"body"`
	Kind      MessageKind `json:"kind"`
	ReplyTo   *MessageRef `json:"replyTo,omitempty"`
	Timestamp time.Time   `json:"timestamp"`

	// ForwardEntries carries the raw sub-entries of a merge-forward bundle.
	// Only populated when Kind is KindForward.
	ForwardEntries []ForwardEntry `json:"forwardEntries,omitempty"`
}

// ForwardEntry is one raw entry inside a merge-forward bundle, before
// decomposition into normalized sub-messages.
type ForwardEntry struct {
	Sender    string         `json:"sender"`
	Timestamp time.Time      `json:"timestamp"`
	Body      string         `json:"body"`
	Kind      MessageKind    `json:"kind"`
	Nested    []ForwardEntry `json:"nested,omitempty"`
}

// Event is one inbound occurrence on a platform: a new message, an edit,
// or a recall of a previously posted message.
type Event struct {
	Type     EventType `json:"type"`
	Message  *Message  `json:"message,omitempty"`
	RecallID string    `json:"recallId,omitempty"`
	Platform Platform  `json:"platform"`
	ChatID   string    `json:"chatId"`
}

type EventType string

const (
	EventMessage EventType = "message"
	EventEdit    EventType = "edit"
	EventRecall  EventType = "recall"
)
