package config

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"tgqqbridge/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherLoadsInitialConfig(t *testing.T) {
	path := writeConfig(t, validConfig)
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	w := NewWatcher(path, logger)
	w.pollInterval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		assert.NoError(t, w.Start(ctx))
		close(done)
	}()

	require.Eventually(t, func() bool {
		return w.GetConfig() != nil
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "123:abc", w.GetConfig().Telegram.BotToken)

	cancel()
	<-done
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := writeConfig(t, validConfig)
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	w := NewWatcher(path, logger)
	w.pollInterval = 20 * time.Millisecond

	var mu sync.Mutex
	var reloaded *models.Config
	w.OnReload(func(cfg *models.Config) {
		mu.Lock()
		reloaded = cfg
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx) }()

	require.Eventually(t, func() bool {
		return w.GetConfig() != nil
	}, 3*time.Second, 10*time.Millisecond)

	updated := `{
		"telegram": {"bot_token": "123:abc", "chat_id": "-100555"},
		"qq": {"gateway_url": "ws://localhost:6700", "group_id": "12345"},
		"database": {"path": "/tmp/bridge.db"},
		"sync": {"filter_keywords": ["新关键词"]}
	}`
	// ModTime granularity can be a full second on some filesystems.
	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return reloaded != nil
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"新关键词"}, reloaded.Sync.FilterKeywords)
}

func TestWatcherKeepsConfigOnBadReload(t *testing.T) {
	path := writeConfig(t, validConfig)
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	w := NewWatcher(path, logger)
	w.pollInterval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx) }()

	require.Eventually(t, func() bool {
		return w.GetConfig() != nil
	}, 3*time.Second, 10*time.Millisecond)

	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0644))

	// Old config stays in place.
	time.Sleep(200 * time.Millisecond)
	require.NotNil(t, w.GetConfig())
	assert.Equal(t, "123:abc", w.GetConfig().Telegram.BotToken)
}

func TestWatcherStartFailsOnMissingFile(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	w := NewWatcher("/nonexistent/config.json", logger)
	err := w.Start(context.Background())
	assert.Error(t, err)
}
