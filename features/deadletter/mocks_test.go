package deadletter_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"ragline/features/deadletter"
)

type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) Save(ctx context.Context, l *deadletter.Letter) error {
	args := m.Called(ctx, l)
	return args.Error(0)
}

func (m *MockRepo) List(ctx context.Context) ([]deadletter.Letter, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]deadletter.Letter), args.Error(1)
}

func (m *MockRepo) Get(ctx context.Context, id string) (*deadletter.Letter, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*deadletter.Letter), args.Error(1)
}

func (m *MockRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}
