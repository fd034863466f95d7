package forward

import (
	"fmt"
	"testing"
	"time"

	"tgqqbridge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bundleOf(entries ...models.ForwardEntry) *models.Message {
	return &models.Message{
		ID:             "bundle-1",
		Platform:       models.PlatformQQ,
		ChatID:         "group-1",
		Sender:         "forwarder",
		Kind:           models.KindForward,
		Timestamp:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		ForwardEntries: entries,
	}
}

func TestParse_PreservesOrderAndTagging(t *testing.T) {
	p := NewParser()

	entries := make([]models.ForwardEntry, 5)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := range entries {
		entries[i] = models.ForwardEntry{
			Sender:    fmt.Sprintf("user%d", i),
			Body:      fmt.Sprintf("message %d", i),
			Kind:      models.KindText,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
	}

	subs := p.Parse(bundleOf(entries...))
	require.Len(t, subs, 5)

	for i, sub := range subs {
		assert.Equal(t, i+1, sub.Index)
		assert.Equal(t, 5, sub.Total)
		assert.Equal(t, fmt.Sprintf("user%d", i), sub.Message.Sender)
		assert.Equal(t, fmt.Sprintf("message %d", i), sub.Message.Body)
		assert.Equal(t, base.Add(time.Duration(i)*time.Minute), sub.Message.Timestamp)
	}
}

func TestParse_IsRestartable(t *testing.T) {
	p := NewParser()
	msg := bundleOf(
		models.ForwardEntry{Sender: "a", Body: "one", Kind: models.KindText},
		models.ForwardEntry{Sender: "b", Body: "two", Kind: models.KindText},
	)

	first := p.Parse(msg)
	second := p.Parse(msg)
	assert.Equal(t, first, second)
}

func TestParse_UnrecognizedKindDegradesToPlaceholder(t *testing.T) {
	p := NewParser()
	subs := p.Parse(bundleOf(
		models.ForwardEntry{Sender: "a", Body: "ok", Kind: models.KindText},
		models.ForwardEntry{Sender: "b", Body: "raw", Kind: models.MessageKind("sticker")},
		models.ForwardEntry{Sender: "c", Body: "still ok", Kind: models.KindText},
	))

	require.Len(t, subs, 3)
	assert.Equal(t, "ok", subs[0].Message.Body)
	assert.Equal(t, placeholderUnsupported, subs[1].Message.Body)
	assert.Equal(t, models.KindText, subs[1].Message.Kind)
	assert.Equal(t, "still ok", subs[2].Message.Body)
}

func TestParse_NestedBundleStaysOpaque(t *testing.T) {
	p := NewParser()
	subs := p.Parse(bundleOf(
		models.ForwardEntry{Sender: "a", Body: "plain", Kind: models.KindText},
		models.ForwardEntry{
			Sender: "b",
			Kind:   models.KindForward,
			Nested: []models.ForwardEntry{
				{Sender: "deep", Body: "should not surface", Kind: models.KindText},
			},
		},
	))

	require.Len(t, subs, 2)
	assert.Equal(t, placeholderNested, subs[1].Message.Body)
	assert.Equal(t, "b", subs[1].Message.Sender)
	assert.NotContains(t, subs[1].Message.Body, "should not surface")
}

func TestParse_EmptyBundleDegradesToSingleOpaque(t *testing.T) {
	p := NewParser()

	subs := p.Parse(bundleOf())
	require.Len(t, subs, 1)
	assert.Equal(t, 1, subs[0].Index)
	assert.Equal(t, 1, subs[0].Total)
	assert.Equal(t, placeholderUnparsable, subs[0].Message.Body)

	subs = p.Parse(nil)
	require.Len(t, subs, 1)
	assert.Equal(t, placeholderUnparsable, subs[0].Message.Body)
}

func TestParse_MediaEntryWithoutBody(t *testing.T) {
	p := NewParser()
	subs := p.Parse(bundleOf(
		models.ForwardEntry{Sender: "a", Kind: models.KindPhoto},
	))

	require.Len(t, subs, 1)
	assert.Equal(t, placeholderUnsupported, subs[0].Message.Body)
}

func TestSubMessage_Format(t *testing.T) {
	sub := SubMessage{
		Index: 2,
		Total: 3,
		Message: models.Message{
			Sender:    "alice",
			Body:      "hello",
			Timestamp: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
		},
	}

	got := sub.Format()
	assert.Contains(t, got, "[转发消息 2/3]")
	assert.Contains(t, got, "alice")
	assert.Contains(t, got, "2024-05-01 09:30:00")
	assert.Contains(t, got, "hello")
}

func TestSubMessage_FormatZeroTime(t *testing.T) {
	sub := SubMessage{Index: 1, Total: 1, Message: models.Message{Sender: "bob", Body: "x"}}
	assert.Contains(t, sub.Format(), "未知时间")
}
