package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/core/ports/driven"
)

// Ensure interface compliance
var (
	_ driven.CredentialProvider    = (*MockCredentialProvider)(nil)
	_ driven.TaskQueue             = (*MockTaskQueue)(nil)
	_ driven.DistributedLock       = (*MockLock)(nil)
	_ driven.NotificationDebouncer = (*MockDebouncer)(nil)
)

// MockCredentialProvider returns a fixed token or error.
type MockCredentialProvider struct {
	Token string
	Err   error

	Calls int
}

func (m *MockCredentialProvider) AccessToken(ctx context.Context, userID string, family domain.ResourceFamily) (string, error) {
	m.Calls++
	if m.Err != nil {
		return "", m.Err
	}
	if m.Token == "" {
		return "test-token", nil
	}
	return m.Token, nil
}

// MockTaskQueue is a slice-backed queue recording everything enqueued.
type MockTaskQueue struct {
	mu    sync.Mutex
	Tasks []*domain.Task

	EnqueueErr error
}

func NewMockTaskQueue() *MockTaskQueue {
	return &MockTaskQueue{}
}

func (m *MockTaskQueue) Enqueue(ctx context.Context, task *domain.Task) error {
	if m.EnqueueErr != nil {
		return m.EnqueueErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tasks = append(m.Tasks, task)
	return nil
}

func (m *MockTaskQueue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.Tasks {
		if t.Status == domain.TaskStatusPending {
			t.MarkProcessing()
			return t, nil
		}
	}
	return nil, nil
}

func (m *MockTaskQueue) Ack(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.Tasks {
		if t.ID == taskID {
			t.MarkCompleted()
		}
	}
	return nil
}

func (m *MockTaskQueue) Nack(ctx context.Context, taskID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.Tasks {
		if t.ID == taskID {
			if t.CanRetry() {
				t.Retry(reason, 0)
			} else {
				t.MarkFailed(reason)
			}
		}
	}
	return nil
}

func (m *MockTaskQueue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.Tasks {
		if t.ID == taskID {
			return t, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockTaskQueue) Ping(ctx context.Context) error { return nil }

func (m *MockTaskQueue) Close() error { return nil }

// Enqueued returns a snapshot of all tasks seen so far.
func (m *MockTaskQueue) Enqueued() []*domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Task, len(m.Tasks))
	copy(out, m.Tasks)
	return out
}

// MockLock is an in-memory DistributedLock.
type MockLock struct {
	mu   sync.Mutex
	held map[string]bool

	AcquireErr error
}

func NewMockLock() *MockLock {
	return &MockLock{held: map[string]bool{}}
}

func (m *MockLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if m.AcquireErr != nil {
		return false, m.AcquireErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[name] {
		return false, nil
	}
	m.held[name] = true
	return true, nil
}

func (m *MockLock) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, name)
	return nil
}

func (m *MockLock) Ping(ctx context.Context) error { return nil }

// MockDebouncer tracks keys seen within their window.
type MockDebouncer struct {
	mu   sync.Mutex
	seen map[string]time.Time

	AllowErr error
}

func NewMockDebouncer() *MockDebouncer {
	return &MockDebouncer{seen: map[string]time.Time{}}
}

func (m *MockDebouncer) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	if m.AllowErr != nil {
		return false, m.AllowErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if until, ok := m.seen[key]; ok && time.Now().Before(until) {
		return false, nil
	}
	m.seen[key] = time.Now().Add(window)
	return true, nil
}
