package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ragline/features/deadletter"
	"ragline/internal/config"
	"ragline/internal/middleware"
	"ragline/internal/worker"
)

func message(t *testing.T, job worker.IngestionJob, attempts uint16) *nsq.Message {
	t.Helper()
	body, err := json.Marshal(job)
	require.NoError(t, err)
	return &nsq.Message{Body: body, Attempts: attempts}
}

func TestIngestConsumer_Success(t *testing.T) {
	runner := new(MockRunner)
	dl := new(MockDeadLetters)
	h := worker.NewIngestConsumer(runner, dl, 3, time.Minute, nil)

	job := ingestionJob("u1/a.txt")
	job.CorrelationID = "corr-1"
	runner.On("Run", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Value(middleware.CorrelationKey) == "corr-1"
	}), job).Return(&worker.PersistenceJob{ChunkCount: 2}, nil)

	assert.NoError(t, h.HandleMessage(message(t, job, 1)))
	runner.AssertExpectations(t)
	dl.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestIngestConsumer_EmptyBody(t *testing.T) {
	h := worker.NewIngestConsumer(new(MockRunner), new(MockDeadLetters), 3, 0, nil)
	assert.NoError(t, h.HandleMessage(&nsq.Message{Body: []byte{}}))
}

func TestIngestConsumer_InvalidPayloadIsDeadLettered(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"missing owner", `{"document_key":"k"}`},
		{"key under another owner", `{"document_key":"victim/secret.pdf","owner_id":"attacker"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := new(MockRunner)
			dl := new(MockDeadLetters)
			h := worker.NewIngestConsumer(runner, dl, 3, 0, nil)

			var saved *deadletter.Letter
			dl.On("Save", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
				saved = args.Get(1).(*deadletter.Letter)
			}).Return(nil)

			assert.NoError(t, h.HandleMessage(&nsq.Message{Body: []byte(tt.body), Attempts: 1}))
			require.NotNil(t, saved)
			assert.Equal(t, string(worker.ReasonInvalidPayload), saved.Reason)
			assert.True(t, json.Valid(saved.Payload))
			runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
		})
	}
}

func TestIngestConsumer_TerminalFailureIsDeadLettered(t *testing.T) {
	runner := new(MockRunner)
	dl := new(MockDeadLetters)
	h := worker.NewIngestConsumer(runner, dl, 3, 0, nil)

	job := ingestionJob("u1/missing.pdf")
	runner.On("Run", mock.Anything, mock.Anything).Return(nil, &worker.JobError{
		Reason: worker.ReasonNotFound, State: worker.StateReceived, Err: errors.New("blob not found"),
	})
	dl.On("Save", mock.Anything, mock.MatchedBy(func(l *deadletter.Letter) bool {
		return l.Reason == "NotFound" &&
			l.Topic == config.TopicIngestDocument &&
			l.DocumentKey == "u1/missing.pdf" &&
			l.OwnerID == "u1" &&
			l.Attempts == 1
	})).Return(nil)

	assert.NoError(t, h.HandleMessage(message(t, job, 1)))
	dl.AssertExpectations(t)
}

func TestIngestConsumer_RetryableFailureRequeuesUntilLastAttempt(t *testing.T) {
	runner := new(MockRunner)
	dl := new(MockDeadLetters)
	h := worker.NewIngestConsumer(runner, dl, 3, 0, nil)

	runner.On("Run", mock.Anything, mock.Anything).Return(nil, &worker.JobError{
		Reason: worker.ReasonIndexWrite, State: worker.StateChunked, Err: errors.New("index down"),
	})
	dl.On("Save", mock.Anything, mock.Anything).Return(nil)

	job := ingestionJob("u1/a.txt")
	assert.Error(t, h.HandleMessage(message(t, job, 1)))
	assert.Error(t, h.HandleMessage(message(t, job, 2)))
	dl.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)

	assert.NoError(t, h.HandleMessage(message(t, job, 3)))
	dl.AssertNumberOfCalls(t, "Save", 1)
}

func TestIngestConsumer_UntypedErrorIsTreatedAsTransient(t *testing.T) {
	runner := new(MockRunner)
	h := worker.NewIngestConsumer(runner, new(MockDeadLetters), 3, 0, nil)
	runner.On("Run", mock.Anything, mock.Anything).Return(nil, errors.New("unexpected"))

	err := h.HandleMessage(message(t, ingestionJob("u1/k.txt"), 1))
	var jerr *worker.JobError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, worker.ReasonTransientIO, jerr.Reason)
}

func TestIngestConsumer_DeadLetterSaveFailureRequeues(t *testing.T) {
	runner := new(MockRunner)
	dl := new(MockDeadLetters)
	h := worker.NewIngestConsumer(runner, dl, 3, 0, nil)

	runner.On("Run", mock.Anything, mock.Anything).Return(nil, &worker.JobError{Reason: worker.ReasonParseError, Err: errors.New("bad")})
	dl.On("Save", mock.Anything, mock.Anything).Return(errors.New("db down"))

	assert.Error(t, h.HandleMessage(message(t, ingestionJob("u1/k.txt"), 1)))
}

func TestIngestConsumer_LogFailedMessage(t *testing.T) {
	h := worker.NewIngestConsumer(new(MockRunner), new(MockDeadLetters), 3, 0, nil)
	assert.NotPanics(t, func() {
		h.LogFailedMessage(&nsq.Message{Body: []byte(`{"document_key":"k"}`), Attempts: 9})
	})
}
