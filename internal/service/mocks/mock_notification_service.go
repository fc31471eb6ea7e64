package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/shaharia-lab/dispatchd/internal/notification"
	"github.com/shaharia-lab/dispatchd/internal/service"
	"github.com/shaharia-lab/dispatchd/internal/storage"
)

// MockNotificationService is a mock implementation of service.NotificationService.
type MockNotificationService struct {
	mock.Mock
}

//nolint:revive
func (m *MockNotificationService) Submit(ctx context.Context, req service.NotificationRequest) (*service.SubmitResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SubmitResult), args.Error(1)
}

//nolint:revive
func (m *MockNotificationService) SubmitBulk(ctx context.Context, reqs []service.NotificationRequest) []service.BulkResult {
	args := m.Called(ctx, reqs)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]service.BulkResult)
}

//nolint:revive
func (m *MockNotificationService) Retry(ctx context.Context, id string) (*service.RetryResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RetryResult), args.Error(1)
}

//nolint:revive
func (m *MockNotificationService) Get(ctx context.Context, id string) (*storage.Notification, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Notification), args.Error(1)
}

//nolint:revive
func (m *MockNotificationService) History(ctx context.Context, filter storage.NotificationFilter) (*service.History, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.History), args.Error(1)
}

//nolint:revive
func (m *MockNotificationService) Statistics(ctx context.Context, window time.Duration) (*service.Statistics, error) {
	args := m.Called(ctx, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Statistics), args.Error(1)
}

//nolint:revive
func (m *MockNotificationService) Providers() []notification.ProviderInfo {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]notification.ProviderInfo)
}

//nolint:revive
func (m *MockNotificationService) TestProvider(ctx context.Context, typ string) (*notification.ConnectionResult, error) {
	args := m.Called(ctx, typ)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notification.ConnectionResult), args.Error(1)
}

//nolint:revive
func (m *MockNotificationService) DeliveryStatus(ctx context.Context, typ, messageID string) (*notification.DeliveryStatus, error) {
	args := m.Called(ctx, typ, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notification.DeliveryStatus), args.Error(1)
}

//nolint:revive
func (m *MockNotificationService) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}
