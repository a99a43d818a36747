package otel

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.Equal(t, noop.Meter{}, p.Meter("playback"))
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledWithoutSink(t *testing.T) {
	_, err := New(Config{Enabled: true})
	assert.ErrorIs(t, err, ErrNoExporter)
}

func TestNew_WriterExporter(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{Enabled: true, LogWriter: &buf, ServiceVersion: "1.2.3", BatchTimeout: time.Second})
	require.NoError(t, err)
	require.NotNil(t, p.LoggerProvider())
	assert.Equal(t, "tasbridge", p.config.ServiceName)

	var rec log.Record
	rec.SetBody(log.StringValue("run started"))
	p.LoggerProvider().Logger("test").Emit(context.Background(), rec)

	require.NoError(t, p.Flush(context.Background()))
	assert.Contains(t, buf.String(), "run started")
	assert.Contains(t, buf.String(), "tasbridge")
	assert.Contains(t, buf.String(), "1.2.3")
	assert.NotNil(t, p.Meter("playback"))
	require.NoError(t, p.Shutdown(context.Background()))
}
