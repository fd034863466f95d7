package integration

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"tgqqbridge/internal/database"
	"tgqqbridge/internal/delivery"
	"tgqqbridge/internal/filter"
	"tgqqbridge/internal/models"
	"tgqqbridge/internal/service"
	"tgqqbridge/internal/stats"
	"tgqqbridge/pkg/platform"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fakeAdapter stands in for a platform client. Sends are recorded, and the
// per-call error script lets a test simulate outages that recover.
type fakeAdapter struct {
	platform models.Platform
	events   chan models.Event

	mu      sync.Mutex
	sent    []sentMessage
	deleted []string
	errs    []error
	nextID  int
}

type sentMessage struct {
	ChatID string
	Text   string
}

func newFakeAdapter(p models.Platform) *fakeAdapter {
	return &fakeAdapter{
		platform: p,
		events:   make(chan models.Event, 16),
	}
}

func (f *fakeAdapter) Platform() models.Platform   { return f.platform }
func (f *fakeAdapter) Events() <-chan models.Event { return f.events }

func (f *fakeAdapter) Send(ctx context.Context, chatID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}

	f.nextID++
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text})
	return "dest-" + strconv.Itoa(f.nextID), nil
}

func (f *fakeAdapter) Delete(ctx context.Context, chatID, destID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, destID)
	return nil
}

// failNext scripts errors for upcoming Send calls; a nil entry means the
// call succeeds.
func (f *fakeAdapter) failNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

func (f *fakeAdapter) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeAdapter) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deleted))
	copy(out, f.deleted)
	return out
}

// environment wires a real sqlite-backed store to the engine and scheduler,
// with fake platform adapters on both sides.
type environment struct {
	db        *database.Database
	engine    *service.Engine
	scheduler *delivery.Scheduler
	collector *stats.Collector
	telegram  *fakeAdapter
	qq        *fakeAdapter
}

func newEnvironment(t *testing.T, retryCfg models.RetryConfig) *environment {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	db, err := database.New(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	collector := stats.NewCollector()
	keywords := filter.NewKeywordFilter([]string{"广告"})
	processor := filter.NewProcessor("!", keywords, collector, db)

	tg := newFakeAdapter(models.PlatformTelegram)
	qq := newFakeAdapter(models.PlatformQQ)

	var engine *service.Engine
	scheduler := delivery.NewScheduler(db, delivery.DispatcherFunc(func(ctx context.Context, task *models.RetryTask) error {
		return engine.Dispatch(ctx, task)
	}), collector, retryCfg, logger)

	engine = service.NewEngine(service.Options{
		Store:          db,
		Queue:          scheduler,
		Telegram:       tg,
		QQ:             qq,
		TelegramChatID: "-100555",
		QQGroupID:      "12345",
		Processor:      processor,
		Keywords:       keywords,
		Stats:          collector,
		Sync: models.SyncConfig{
			FilterPrefix:     "!",
			ReplyTemplate:    "[回复 @{username}] {message}",
			MaxMessageLength: 4096,
			DedupTTLSec:      300,
			CooldownTimeSec:  0,
		},
		Logger: logger,
	})

	return &environment{
		db:        db,
		engine:    engine,
		scheduler: scheduler,
		collector: collector,
		telegram:  tg,
		qq:        qq,
	}
}

// startScheduler runs the delivery scheduler for the duration of the test.
func (e *environment) startScheduler(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.scheduler.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("scheduler did not stop")
		}
	})
}

func telegramMessage(id, body string) models.Event {
	return models.Event{
		Type:     models.EventMessage,
		Platform: models.PlatformTelegram,
		ChatID:   "-100555",
		Message: &models.Message{
			ID:        id,
			Platform:  models.PlatformTelegram,
			ChatID:    "-100555",
			Sender:    "alice",
			Body:      body,
			Kind:      models.KindText,
			Timestamp: time.Now(),
		},
	}
}

func qqMessage(id, body string) models.Event {
	return models.Event{
		Type:     models.EventMessage,
		Platform: models.PlatformQQ,
		ChatID:   "12345",
		Message: &models.Message{
			ID:        id,
			Platform:  models.PlatformQQ,
			ChatID:    "12345",
			Sender:    "小明",
			Body:      body,
			Kind:      models.KindText,
			Timestamp: time.Now(),
		},
	}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

var _ platform.Adapter = (*fakeAdapter)(nil)
