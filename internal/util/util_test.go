package util

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func TestInitLoggerUsesConfiguredServiceAndLevel(t *testing.T) {
	require.NoError(t, InitLogger(LogOptions{Service: "inventory-canary", Env: "production", Level: "warn"}))
	defer SyncLogger()

	assert.Equal(t, "inventory-canary", ServiceName())
	assert.False(t, GetLogger().Core().Enabled(zap.InfoLevel))
	assert.True(t, GetLogger().Core().Enabled(zap.WarnLevel))
}

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	err := InitLogger(LogOptions{Env: "development", Level: "loud"})

	assert.Error(t, err)
}

func TestSamplerFollowsRatio(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "root:AlwaysOnSampler")
	assert.Contains(t, sampler(0).Description(), "root:AlwaysOffSampler")
	assert.Contains(t, sampler(0.25).Description(), "root:TraceIDRatioBased{0.25}")
}

func TestFinishSpanRecordsError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tr := tp.Tracer("test")

	_, failed := tr.Start(context.Background(), "reserve")
	FinishSpan(failed, errors.New("insufficient stock"))
	_, ok := tr.Start(context.Background(), "sell")
	FinishSpan(ok, nil)

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "insufficient stock", ended[0].Status().Description)
	assert.Len(t, ended[0].Events(), 1)
	assert.Equal(t, codes.Unset, ended[1].Status().Code)
}
