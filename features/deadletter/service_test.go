package deadletter_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"ragline/features/deadletter"
)

type slowPublisher struct {
	delay time.Duration
}

func (p *slowPublisher) Publish(topic string, body []byte) error {
	time.Sleep(p.delay)
	return nil
}

func TestService_Retry(t *testing.T) {
	repo := new(MockRepo)
	pub := new(MockPublisher)
	svc := deadletter.NewService(repo, pub, slog.Default())

	payload := []byte(`{"document_key":"k1"}`)
	repo.On("Get", mock.Anything, "dl-1").Return(&deadletter.Letter{ID: "dl-1", Topic: "ingest.document", Payload: payload}, nil)
	pub.On("Publish", "ingest.document", mock.MatchedBy(func(b []byte) bool { return string(b) == string(payload) })).Return(nil)
	repo.On("Delete", mock.Anything, "dl-1").Return(nil)

	assert.NoError(t, svc.Retry(context.Background(), "dl-1"))
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestService_RetryKeepsLetterWhenPublishFails(t *testing.T) {
	repo := new(MockRepo)
	pub := new(MockPublisher)
	svc := deadletter.NewService(repo, pub, slog.Default())

	repo.On("Get", mock.Anything, "dl-1").Return(&deadletter.Letter{ID: "dl-1", Topic: "ingest.document"}, nil)
	pub.On("Publish", "ingest.document", mock.Anything).Return(errors.New("nsqd down"))

	err := svc.Retry(context.Background(), "dl-1")
	assert.EqualError(t, err, "nsqd down")
	repo.AssertNotCalled(t, "Delete", mock.Anything, "dl-1")
}

func TestService_RetryTimeout(t *testing.T) {
	repo := new(MockRepo)
	repo.On("Get", mock.Anything, "dl-1").Return(&deadletter.Letter{ID: "dl-1", Topic: "ingest.document"}, nil)

	svc := deadletter.NewService(repo, &slowPublisher{delay: 200 * time.Millisecond}, slog.Default()).
		WithPublishTimeout(20 * time.Millisecond)

	err := svc.Retry(context.Background(), "dl-1")
	assert.ErrorIs(t, err, deadletter.ErrPublishTimeout)
	repo.AssertNotCalled(t, "Delete", mock.Anything, "dl-1")
}
