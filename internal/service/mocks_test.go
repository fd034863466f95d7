package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tgqqbridge/internal/models"
)

type sentMessage struct {
	ChatID string
	Text   string
}

type deletedMessage struct {
	ChatID string
	DestID string
}

type mockAdapter struct {
	platform models.Platform
	events   chan models.Event

	mu        sync.Mutex
	sent      []sentMessage
	deleted   []deletedMessage
	sendErr   error
	deleteErr error
	nextID    int
}

func newMockAdapter(p models.Platform) *mockAdapter {
	return &mockAdapter{
		platform: p,
		events:   make(chan models.Event, 16),
	}
}

func (a *mockAdapter) Platform() models.Platform   { return a.platform }
func (a *mockAdapter) Events() <-chan models.Event { return a.events }

func (a *mockAdapter) Send(ctx context.Context, chatID, text string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return "", a.sendErr
	}
	a.nextID++
	a.sent = append(a.sent, sentMessage{ChatID: chatID, Text: text})
	return fmt.Sprintf("dest-%d", a.nextID), nil
}

func (a *mockAdapter) Delete(ctx context.Context, chatID, destID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deleteErr != nil {
		return a.deleteErr
	}
	a.deleted = append(a.deleted, deletedMessage{ChatID: chatID, DestID: destID})
	return nil
}

func (a *mockAdapter) sentMessages() []sentMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]sentMessage, len(a.sent))
	copy(out, a.sent)
	return out
}

func (a *mockAdapter) deletedMessages() []deletedMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]deletedMessage, len(a.deleted))
	copy(out, a.deleted)
	return out
}

func (a *mockAdapter) setSendErr(err error) {
	a.mu.Lock()
	a.sendErr = err
	a.mu.Unlock()
}

type mockStore struct {
	mu       sync.Mutex
	mappings map[string]*models.MessageMapping
	saveErr  error
	getErr   error
}

func newMockStore() *mockStore {
	return &mockStore{mappings: make(map[string]*models.MessageMapping)}
}

func mappingKey(p models.Platform, id string) string {
	return string(p) + ":" + id
}

func (s *mockStore) SaveMessageMapping(ctx context.Context, mapping *models.MessageMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	stored := *mapping
	stored.CreatedAt = time.Now()
	s.mappings[mappingKey(mapping.SourcePlatform, mapping.SourceID)] = &stored
	return nil
}

func (s *mockStore) GetMappingBySource(ctx context.Context, p models.Platform, id string) (*models.MessageMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	if m, ok := s.mappings[mappingKey(p, id)]; ok {
		found := *m
		return &found, nil
	}
	return nil, nil
}

func (s *mockStore) GetMappingByDest(ctx context.Context, p models.Platform, id string) (*models.MessageMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mappings {
		if m.DestPlatform == p && m.DestID == id {
			found := *m
			return &found, nil
		}
	}
	return nil, nil
}

func (s *mockStore) DeleteMapping(ctx context.Context, p models.Platform, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mappings, mappingKey(p, sourceID))
	return nil
}

func (s *mockStore) mapping(p models.Platform, id string) *models.MessageMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mappings[mappingKey(p, id)]
}

func (s *mockStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mappings)
}

type mockQueue struct {
	mu    sync.Mutex
	tasks []*models.RetryTask
	err   error
}

func (q *mockQueue) Enqueue(ctx context.Context, task *models.RetryTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *mockQueue) queued() []*models.RetryTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.RetryTask, len(q.tasks))
	copy(out, q.tasks)
	return out
}

type mockQueueSource struct {
	stats *models.QueueStats
	err   error
}

func (q *mockQueueSource) QueueStats(ctx context.Context) (*models.QueueStats, error) {
	return q.stats, q.err
}

type mockCleanupStore struct {
	mu            sync.Mutex
	mappingCalls  int
	taskCalls     int
	mappingPurged int64
	tasksPurged   int64
	err           error
}

func (s *mockCleanupStore) PurgeMappingsOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappingCalls++
	return s.mappingPurged, s.err
}

func (s *mockCleanupStore) PurgeTerminalTasks(ctx context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskCalls++
	return s.tasksPurged, s.err
}

func (s *mockCleanupStore) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mappingCalls, s.taskCalls
}
