package gateway

import (
	"context"

	"github.com/stretchr/testify/mock"

	"qabot/internal/history"
)

// MockService is a mock implementation of Service using testify/mock.
type MockService struct {
	mock.Mock
}

func (m *MockService) Ask(ctx context.Context, req AskRequest) (Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(Result), args.Error(1)
}

func (m *MockService) HealthSnapshot() HealthReport {
	args := m.Called()
	return args.Get(0).(HealthReport)
}

func (m *MockService) History(ctx context.Context, limit int) ([]history.Entry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]history.Entry), args.Error(1)
}
