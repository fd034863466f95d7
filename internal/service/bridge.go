package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	apperrors "tgqqbridge/internal/errors"
	"tgqqbridge/internal/filter"
	"tgqqbridge/internal/forward"
	"tgqqbridge/internal/models"
	"tgqqbridge/internal/stats"
	"tgqqbridge/internal/tracing"
	"tgqqbridge/pkg/platform"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// MappingStore is the durable source-to-dest correlation store the engine
// records deliveries in.
type MappingStore interface {
	SaveMessageMapping(ctx context.Context, mapping *models.MessageMapping) error
	GetMappingBySource(ctx context.Context, platform models.Platform, id string) (*models.MessageMapping, error)
	GetMappingByDest(ctx context.Context, platform models.Platform, id string) (*models.MessageMapping, error)
	DeleteMapping(ctx context.Context, platform models.Platform, sourceID string) error
}

// RetryQueue absorbs dispatches that failed with a transient error.
type RetryQueue interface {
	Enqueue(ctx context.Context, task *models.RetryTask) error
}

// Options wires an Engine's collaborators.
type Options struct {
	Store          MappingStore
	Queue          RetryQueue
	Telegram       platform.Adapter
	QQ             platform.Adapter
	TelegramChatID string
	QQGroupID      string
	Processor      *filter.Processor
	Keywords       *filter.KeywordFilter
	Stats          *stats.Collector
	Sync           models.SyncConfig
	Logger         *logrus.Logger
}

// Engine is the bidirectional sync pipeline. Each inbound message passes
// dedup, command handling, keyword filtering and length guarding before it
// is formatted and dispatched to the opposite platform. Event order within
// a platform is preserved; the two directions run independently.
type Engine struct {
	store     MappingStore
	queue     RetryQueue
	adapters  map[models.Platform]platform.Adapter
	chats     map[models.Platform]string
	processor *filter.Processor
	keywords  *filter.KeywordFilter
	parser    *forward.Parser
	stats     *stats.Collector
	dedup     *dedupCache
	cooldown  *cooldown
	replyTpl  string
	maxLen    int
	logger    *logrus.Logger
}

func NewEngine(opts Options) *Engine {
	return &Engine{
		store: opts.Store,
		queue: opts.Queue,
		adapters: map[models.Platform]platform.Adapter{
			models.PlatformTelegram: opts.Telegram,
			models.PlatformQQ:       opts.QQ,
		},
		chats: map[models.Platform]string{
			models.PlatformTelegram: opts.TelegramChatID,
			models.PlatformQQ:       opts.QQGroupID,
		},
		processor: opts.Processor,
		keywords:  opts.Keywords,
		parser:    forward.NewParser(),
		stats:     opts.Stats,
		dedup:     newDedupCache(time.Duration(opts.Sync.DedupTTLSec) * time.Second),
		cooldown:  newCooldown(time.Duration(opts.Sync.CooldownTimeSec) * time.Second),
		replyTpl:  opts.Sync.ReplyTemplate,
		maxLen:    opts.Sync.MaxMessageLength,
		logger:    opts.Logger,
	}
}

// Run consumes both adapters' event streams until the context is cancelled
// or the streams close. One goroutine per platform keeps each direction's
// order intact.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, adapter := range e.adapters {
		wg.Add(1)
		go func(adapter platform.Adapter) {
			defer wg.Done()
			for {
				select {
				case event, ok := <-adapter.Events():
					if !ok {
						return
					}
					e.Receive(ctx, event)
				case <-ctx.Done():
					return
				}
			}
		}(adapter)
	}
	wg.Wait()
}

// Receive runs one inbound event through the pipeline.
func (e *Engine) Receive(ctx context.Context, event models.Event) {
	ctx, span := tracing.StartSpan(ctx, "bridge.receive",
		attribute.String("platform", string(event.Platform)),
		attribute.String("event_type", string(event.Type)))
	defer span.End()

	switch event.Type {
	case models.EventMessage:
		e.handleMessage(ctx, event.Message)
	case models.EventEdit:
		e.handleEdit(ctx, event.Message)
	case models.EventRecall:
		e.handleRecall(ctx, event.Platform, event.RecallID)
	default:
		e.logger.WithField("type", event.Type).Debug("Ignoring unknown event type")
	}
}

func (e *Engine) handleMessage(ctx context.Context, msg *models.Message) {
	if msg == nil {
		return
	}
	e.countReceived(msg.Platform)

	log := e.logger.WithFields(logrus.Fields{
		"platform":  msg.Platform,
		"messageId": msg.ID,
	})

	if configured := e.chats[msg.Platform]; configured != "" && msg.ChatID != configured {
		log.WithField("chatId", msg.ChatID).Debug("Dropping message from unbridged chat")
		return
	}

	if e.dedup.Seen(msg.Platform, msg.ID) {
		log.Debug("Dropping duplicate message")
		return
	}

	if strings.HasPrefix(msg.Body, e.processor.Prefix()) {
		e.stats.IncPrefixFiltered()
		if cmd, ok := e.processor.Parse(msg.Body); ok {
			response := e.processor.Execute(ctx, cmd)
			e.stats.IncCommands()
			if response != "" {
				e.respond(ctx, msg.Platform, msg.ChatID, response)
			}
		}
		return
	}

	if e.keywords.Matches(msg.Body) {
		e.stats.IncFiltered()
		log.Debug("Dropping message matching filter keyword")
		return
	}

	target := msg.Platform.Opposite()

	if msg.Kind == models.KindForward {
		for _, sub := range e.parser.Parse(msg) {
			text := fmt.Sprintf("%s %s", originTag(msg.Platform, models.KindText), sub.Format())
			source := sub.Message
			e.dispatch(ctx, target, text, &source)
		}
		return
	}

	e.dispatch(ctx, target, e.formatOutbound(ctx, msg), msg)
}

// handleEdit re-delivers the updated body. The stale copy on the far side
// is removed best-effort first; an edit with no recorded mapping is treated
// as a fresh message.
func (e *Engine) handleEdit(ctx context.Context, msg *models.Message) {
	if msg == nil {
		return
	}

	mapping, err := e.store.GetMappingBySource(ctx, msg.Platform, msg.ID)
	if err != nil {
		e.logger.WithError(err).Error("Failed to look up edited message mapping")
		return
	}
	if mapping == nil {
		e.handleMessage(ctx, msg)
		return
	}

	target := mapping.DestPlatform
	if err := e.adapters[target].Delete(ctx, e.chats[target], mapping.DestID); err != nil {
		e.logger.WithError(err).WithField("destId", mapping.DestID).Debug("Failed to remove stale copy of edited message")
	}

	e.dispatch(ctx, target, e.formatOutbound(ctx, msg), msg)
}

// handleRecall propagates a deletion to the far side and drops the mapping.
// Recalls outside the platform delete window fail on the far side; the
// mapping is removed regardless so it does not linger past its usefulness.
func (e *Engine) handleRecall(ctx context.Context, source models.Platform, recallID string) {
	log := e.logger.WithFields(logrus.Fields{
		"platform": source,
		"recallId": recallID,
	})

	mapping, err := e.store.GetMappingBySource(ctx, source, recallID)
	if err != nil {
		log.WithError(err).Error("Failed to look up recalled message mapping")
		return
	}
	if mapping == nil {
		log.Debug("Recall for unmapped message, nothing to propagate")
		return
	}

	target := mapping.DestPlatform
	if err := e.adapters[target].Delete(ctx, e.chats[target], mapping.DestID); err != nil {
		log.WithError(err).Warn("Failed to propagate recall")
	}

	if err := e.store.DeleteMapping(ctx, source, recallID); err != nil {
		log.WithError(err).Error("Failed to drop mapping for recalled message")
	}
}

// Dispatch re-sends a queued task. Implements the delivery scheduler's
// dispatcher contract; a successful re-delivery is recorded in the mapping
// store just like a first-pass send.
func (e *Engine) Dispatch(ctx context.Context, task *models.RetryTask) error {
	adapter, ok := e.adapters[task.TargetPlatform]
	if !ok || adapter == nil {
		return apperrors.NewPermanentDeliveryError(apperrors.ErrCodeUnknownChat,
			fmt.Errorf("no adapter for platform %q", task.TargetPlatform))
	}

	if err := e.cooldown.Wait(ctx, task.TargetPlatform); err != nil {
		return apperrors.WrapRetryable(err, apperrors.ErrCodeTimeout, "cooldown wait interrupted")
	}

	destID, err := adapter.Send(ctx, task.ChatID, task.Body)
	if err != nil {
		return err
	}
	e.countSent(task.TargetPlatform)

	if task.SourceID != "" {
		mapping := &models.MessageMapping{
			SourcePlatform: task.SourcePlatform,
			SourceID:       task.SourceID,
			DestPlatform:   task.TargetPlatform,
			DestID:         destID,
			ChatID:         task.ChatID,
		}
		if err := e.store.SaveMessageMapping(ctx, mapping); err != nil {
			e.logger.WithError(err).Error("Failed to record mapping for re-delivered message")
		}
	}
	return nil
}

func (e *Engine) dispatch(ctx context.Context, target models.Platform, text string, source *models.Message) {
	if err := e.cooldown.Wait(ctx, target); err != nil {
		return
	}

	log := e.logger.WithFields(logrus.Fields{
		"target":   target,
		"sourceId": source.ID,
	})

	chatID := e.chats[target]
	destID, err := e.adapters[target].Send(ctx, chatID, text)
	if err == nil {
		e.countSent(target)
		mapping := &models.MessageMapping{
			SourcePlatform: source.Platform,
			SourceID:       source.ID,
			DestPlatform:   target,
			DestID:         destID,
			ChatID:         source.ChatID,
		}
		if saveErr := e.store.SaveMessageMapping(ctx, mapping); saveErr != nil {
			log.WithError(saveErr).Error("Failed to record message mapping")
		}
		return
	}

	if apperrors.IsRetryable(err) {
		task := &models.RetryTask{
			TargetPlatform: target,
			ChatID:         chatID,
			Body:           text,
			SourcePlatform: source.Platform,
			SourceID:       source.ID,
		}
		if qErr := e.queue.Enqueue(ctx, task); qErr != nil {
			log.WithError(qErr).Error("Failed to queue message for retry")
			e.stats.IncDeliveryFailed()
			return
		}
		log.WithError(err).Warn("Dispatch failed, queued for retry")
		return
	}

	e.stats.IncDeliveryFailed()
	tracing.RecordError(ctx, err)
	log.WithError(err).Error("Dispatch failed permanently")
}

// respond sends a command response back to the chat it came from, outside
// the mapping and retry machinery.
func (e *Engine) respond(ctx context.Context, origin models.Platform, chatID, text string) {
	if err := e.cooldown.Wait(ctx, origin); err != nil {
		return
	}
	if _, err := e.adapters[origin].Send(ctx, chatID, text); err != nil {
		e.logger.WithError(err).Warn("Failed to send command response")
	}
}

// formatOutbound renders the cross-platform form of a message: origin tag,
// sender, reply annotation and length guard. The reply annotation is only
// rendered when the referenced message is known to the mapping store; a
// reply to an unmapped message forwards as a plain message.
func (e *Engine) formatOutbound(ctx context.Context, msg *models.Message) string {
	body := truncate(msg.Body, e.maxLen)

	if msg.ReplyTo != nil && e.replyTargetMapped(ctx, msg.Platform, msg.ReplyTo.ID) {
		body = e.renderReply(msg.ReplyTo, body)
	}

	return fmt.Sprintf("%s %s: %s", originTag(msg.Platform, msg.Kind), msg.Sender, body)
}

// replyTargetMapped reports whether the referenced message has a recorded
// mapping. A reply usually references the synced copy on the origin side,
// so the dest index is checked first; the source index covers replies to
// messages that originated on the same platform. Lookup errors count as a
// miss so a degraded store never blocks delivery.
func (e *Engine) replyTargetMapped(ctx context.Context, origin models.Platform, id string) bool {
	mapping, err := e.store.GetMappingByDest(ctx, origin, id)
	if err != nil {
		e.logger.WithError(err).WithField("replyToId", id).Warn("Failed to look up reply target mapping")
		return false
	}
	if mapping != nil {
		return true
	}
	mapping, err = e.store.GetMappingBySource(ctx, origin, id)
	if err != nil {
		e.logger.WithError(err).WithField("replyToId", id).Warn("Failed to look up reply target mapping")
		return false
	}
	return mapping != nil
}

func (e *Engine) renderReply(ref *models.MessageRef, body string) string {
	username := sanitizeUsername(ref.Sender)
	if username == "" {
		username = "未知用户"
	}
	return strings.NewReplacer(
		"{username}", username,
		"{message}", body,
	).Replace(e.replyTpl)
}

func (e *Engine) countReceived(p models.Platform) {
	if p == models.PlatformTelegram {
		e.stats.IncTelegramReceived()
	} else {
		e.stats.IncQQReceived()
	}
}

func (e *Engine) countSent(p models.Platform) {
	if p == models.PlatformTelegram {
		e.stats.IncTelegramSent()
	} else {
		e.stats.IncQQSent()
	}
}

// originTag marks where a message came from, with the payload kind for
// non-text messages: [TG], [QQ-PHOTO], and so on.
func originTag(p models.Platform, kind models.MessageKind) string {
	prefix := "QQ"
	if p == models.PlatformTelegram {
		prefix = "TG"
	}
	if kind == models.KindText || kind == "" {
		return "[" + prefix + "]"
	}
	return fmt.Sprintf("[%s-%s]", prefix, strings.ToUpper(string(kind)))
}

// markdownStripChars are characters with markup meaning on either platform;
// they are removed from usernames before template substitution.
const markdownStripChars = "*[]()~`>#+-=|{}.!"

func sanitizeUsername(name string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(markdownStripChars, r) {
			return -1
		}
		return r
	}, name)
}

func truncate(body string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(body) <= maxLen {
		return body
	}
	return string([]rune(body)[:maxLen])
}
