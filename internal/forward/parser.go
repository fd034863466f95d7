// Package forward decomposes merge-forward bundles into ordered,
// individually dispatchable sub-messages.
package forward

import (
	"fmt"

	"tgqqbridge/internal/models"
)

const (
	placeholderUnsupported = "[不支持的消息类型]"
	placeholderNested      = "[嵌套转发消息]"
	placeholderUnparsable  = "[无法解析的转发消息]"
	unknownSender          = "Unknown"
	timeLayout             = "2006-01-02 15:04:05"
)

// SubMessage is one decomposed entry of a bundle, tagged with its position.
type SubMessage struct {
	Index     int
	Total     int
	Message   models.Message
}

// Parser turns a forward-bundle message into its sub-messages.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse returns the bundle's entries in original order, each tagged
// (index, total). Entries of unrecognized kind degrade to a placeholder
// body; a nested bundle becomes a single opaque sub-message rather than
// recursing. A bundle with no parsable entries degrades to one opaque
// sub-message, never to nothing.
func (p *Parser) Parse(msg *models.Message) []SubMessage {
	if msg == nil || msg.Kind != models.KindForward || len(msg.ForwardEntries) == 0 {
		return p.opaque(msg)
	}

	total := len(msg.ForwardEntries)
	subs := make([]SubMessage, 0, total)

	for i, entry := range msg.ForwardEntries {
		sub := models.Message{
			ID:        fmt.Sprintf("%s#%d", msg.ID, i+1),
			Platform:  msg.Platform,
			ChatID:    msg.ChatID,
			Sender:    entry.Sender,
			Body:      entry.Body,
			Kind:      entry.Kind,
			Timestamp: entry.Timestamp,
		}
		if sub.Sender == "" {
			sub.Sender = unknownSender
		}

		switch {
		case entry.Kind == models.KindForward || len(entry.Nested) > 0:
			// One level of flattening only; deeper nesting stays opaque.
			sub.Kind = models.KindText
			sub.Body = placeholderNested
		case !knownKind(entry.Kind):
			sub.Kind = models.KindText
			sub.Body = placeholderUnsupported
		case entry.Kind != models.KindText && entry.Body == "":
			sub.Body = placeholderUnsupported
		}

		subs = append(subs, SubMessage{Index: i + 1, Total: total, Message: sub})
	}

	return subs
}

func (p *Parser) opaque(msg *models.Message) []SubMessage {
	sub := models.Message{Kind: models.KindText, Body: placeholderUnparsable, Sender: unknownSender}
	if msg != nil {
		sub.ID = msg.ID
		sub.Platform = msg.Platform
		sub.ChatID = msg.ChatID
		sub.Timestamp = msg.Timestamp
		if msg.Sender != "" {
			sub.Sender = msg.Sender
		}
	}
	return []SubMessage{{Index: 1, Total: 1, Message: sub}}
}

// Format renders one sub-message for dispatch, tagged with its position in
// the bundle.
func (s SubMessage) Format() string {
	when := "未知时间"
	if !s.Message.Timestamp.IsZero() {
		when = s.Message.Timestamp.Format(timeLayout)
	}
	return fmt.Sprintf("[转发消息 %d/%d]\n👤 %s (%s)\n💬 %s",
		s.Index, s.Total, s.Message.Sender, when, s.Message.Body)
}

func knownKind(kind models.MessageKind) bool {
	switch kind {
	case models.KindText, models.KindPhoto, models.KindVideo,
		models.KindAudio, models.KindVoice, models.KindDocument:
		return true
	}
	return false
}
