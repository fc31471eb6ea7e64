package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/shaharia-lab/dispatchd/internal/storage"
)

// MockNotificationStore is a mock implementation of storage.NotificationStore.
type MockNotificationStore struct {
	mock.Mock
}

//nolint:revive
func (m *MockNotificationStore) Create(ctx context.Context, n *storage.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

//nolint:revive
func (m *MockNotificationStore) Update(
	ctx context.Context, id string, patch storage.NotificationPatch,
) (*storage.Notification, error) {
	args := m.Called(ctx, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Notification), args.Error(1)
}

//nolint:revive
func (m *MockNotificationStore) Get(ctx context.Context, id string) (*storage.Notification, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Notification), args.Error(1)
}

//nolint:revive
func (m *MockNotificationStore) List(
	ctx context.Context, filter storage.NotificationFilter,
) ([]*storage.Notification, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*storage.Notification), args.Int(1), args.Error(2)
}

//nolint:revive
func (m *MockNotificationStore) ListByStatus(
	ctx context.Context, status storage.NotificationStatus, updatedBefore time.Time,
) ([]*storage.Notification, error) {
	args := m.Called(ctx, status, updatedBefore)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*storage.Notification), args.Error(1)
}

//nolint:revive
func (m *MockNotificationStore) Stats(ctx context.Context, window time.Duration) (*storage.NotificationStats, error) {
	args := m.Called(ctx, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.NotificationStats), args.Error(1)
}

//nolint:revive
func (m *MockNotificationStore) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	args := m.Called(ctx, age)
	return args.Get(0).(int64), args.Error(1)
}
