package outbox

import (
	"context"
	"errors"
	"testing"

	"cv-filter/internal/constants"
	"cv-filter/internal/storage/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fakePublisher struct {
	err       error
	published []string
}

func (f *fakePublisher) PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, exchangeName+"/"+routingKey+":"+string(message))
	return nil
}

func TestPublishMarksSent(t *testing.T) {
	pub := &fakePublisher{}
	r := NewMessageRelay(nil, pub, nil)
	msg := &models.OutboxMessage{
		ID:               "1",
		Payload:          `{"email":"a@b.com"}`,
		TargetExchange:   "cv.events",
		TargetRoutingKey: "candidate.ingested",
		Status:           constants.OutboxStatusPending,
		ErrorMessage:     "old",
	}

	assert.True(t, r.publish(context.Background(), msg))
	assert.Equal(t, constants.OutboxStatusSent, msg.Status)
	assert.NotNil(t, msg.ProcessedAt)
	assert.Empty(t, msg.ErrorMessage)
	assert.Equal(t, []string{`cv.events/candidate.ingested:{"email":"a@b.com"}`}, pub.published)
}

func TestPublishFailureRetriesThenFails(t *testing.T) {
	r := NewMessageRelay(nil, &fakePublisher{err: errors.New("channel closed")}, nil)
	msg := &models.OutboxMessage{ID: "1", Status: constants.OutboxStatusPending}

	for i := 1; i < maxRetryCount; i++ {
		assert.False(t, r.publish(context.Background(), msg))
		assert.Equal(t, i, msg.RetryCount)
		assert.Equal(t, constants.OutboxStatusPending, msg.Status)
	}
	assert.False(t, r.publish(context.Background(), msg))
	assert.Equal(t, constants.OutboxStatusFailed, msg.Status)
	assert.Equal(t, "channel closed", msg.ErrorMessage)
	assert.Nil(t, msg.ProcessedAt)
}

func TestPublishFailureMarksSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx, span := tp.Tracer("test").Start(context.Background(), "batch")

	r := NewMessageRelay(nil, &fakePublisher{err: errors.New("channel closed")}, nil)
	assert.False(t, r.publish(ctx, &models.OutboxMessage{ID: "42", Status: constants.OutboxStatusPending}))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "rabbitmq", attrs["error.type"])
	assert.Equal(t, "42", attrs["messaging.message.id"])
}

func TestOptions(t *testing.T) {
	r := NewMessageRelay(nil, &fakePublisher{}, nil, WithBatchSize(3), WithPollingInterval(0))
	assert.Equal(t, 3, r.batchSize)
	assert.Equal(t, defaultPollingInterval, r.pollingInterval)
}

func TestStartStop(t *testing.T) {
	r := NewMessageRelay(nil, &fakePublisher{}, nil)
	r.Start(context.Background())
	r.Stop()
	r.Stop()
}
