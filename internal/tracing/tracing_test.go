package tracing

import (
	"context"
	"errors"
	"testing"

	"cv-filter/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMaskPII(t *testing.T) {
	assert.Equal(t, "", MaskPII(""))
	assert.Equal(t, "*", MaskPII("a"))
	assert.Equal(t, "张*", MaskPII("张三"))
	assert.Equal(t, "王*明", MaskPII("王小明"))
	assert.Equal(t, "09******89", MaskPII("0912345689"))
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "ng****an@example.com", MaskEmail("nguyenan@example.com"))
	assert.Equal(t, "no*****il", MaskEmail("not-email"))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "ab", TruncateString("abcdef", 2))
	assert.Equal(t, "hello", TruncateString("hello", 5))
	assert.Equal(t, "Ng...ện", TruncateString("Nguyễn Văn Thiện", 7))
}

func TestRecordError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	_, span := tp.Tracer("test").Start(context.Background(), "op")

	RecordError(span, errors.New("boom"), ErrorTypeDB)
	RecordError(span, nil, ErrorTypeDB)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)

	var found bool
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "error.type" {
			found = true
			assert.Equal(t, "db", kv.Value.AsString())
		}
	}
	assert.True(t, found)
}

func TestInitProviderWithoutEndpoint(t *testing.T) {
	shutdown, err := InitProvider(context.Background(), config.TracingConfig{ServiceName: "cv-filter"}, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
