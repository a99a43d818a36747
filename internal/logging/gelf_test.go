package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gelfSpy struct {
	messages []*gelf.Message
}

func (s *gelfSpy) WriteMessage(m *gelf.Message) error {
	s.messages = append(s.messages, m)
	return nil
}

func TestGelfHandler_Message(t *testing.T) {
	spy := &gelfSpy{}
	logger := slog.New(NewGelfHandler(spy, "tashost", slog.LevelInfo))

	logger.Debug("filtered")
	logger.Warn("Command failed", "command", "Console, nope", "line", 4, "id", "abc")

	require.Len(t, spy.messages, 1)
	m := spy.messages[0]
	assert.Equal(t, "Command failed", m.Short)
	assert.Equal(t, "tashost", m.Facility)
	assert.Equal(t, int32(gelf.LOG_WARNING), m.Level)
	assert.Equal(t, "Console, nope", m.Extra["_command"])
	assert.EqualValues(t, 4, m.Extra["_line"])
	assert.Equal(t, "abc", m.Extra["_id_"])
	assert.NotZero(t, m.TimeUnix)
}

func TestGelfHandler_AttrsAndGroups(t *testing.T) {
	spy := &gelfSpy{}
	logger := slog.New(NewGelfHandler(spy, "tashost", slog.LevelDebug)).
		With("run", "r1").
		WithGroup("playback").
		With("state", "Running")

	logger.Info("tick", "frame", 9, slog.Group("pos", "x", 1.5))

	require.Len(t, spy.messages, 1)
	extra := spy.messages[0].Extra
	assert.Equal(t, "r1", extra["_run"])
	assert.Equal(t, "Running", extra["_playback.state"])
	assert.EqualValues(t, 9, extra["_playback.frame"])
	assert.Equal(t, 1.5, extra["_playback.pos.x"])
}

func TestSyslogLevel(t *testing.T) {
	assert.Equal(t, int32(gelf.LOG_DEBUG), syslogLevel(slog.LevelDebug))
	assert.Equal(t, int32(gelf.LOG_INFO), syslogLevel(slog.LevelInfo))
	assert.Equal(t, int32(gelf.LOG_WARNING), syslogLevel(slog.LevelWarn))
	assert.Equal(t, int32(gelf.LOG_ERR), syslogLevel(slog.LevelError))
}

func TestSetup_WithGraylogAndContext(t *testing.T) {
	spy := &gelfSpy{}
	var buf bytes.Buffer

	m := NewSlogManager()
	m.Setup(Options{
		File:    &buf,
		Level:   "info",
		Graylog: spy,
		Context: func() []slog.Attr {
			return []slog.Attr{slog.Int("frame", 12), slog.String("state", "Paused")}
		},
	})
	m.Logger().Info("hello")

	assert.Contains(t, buf.String(), "frame=12")
	assert.Contains(t, buf.String(), "state=Paused")
	require.NotEmpty(t, spy.messages)
	last := spy.messages[len(spy.messages)-1]
	assert.Equal(t, "hello", last.Short)
	assert.EqualValues(t, 12, last.Extra["_frame"])
}

func TestWithContext_NilProvider(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, nil)
	h := withContext(inner, nil)
	assert.Same(t, inner, h)
	require.NoError(t, h.Handle(context.Background(), slog.NewRecord(time.Time{}, slog.LevelInfo, "plain", 0)))
	assert.Contains(t, buf.String(), "plain")
}

func TestWithContext_EmptyAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := withContext(slog.NewTextHandler(&buf, nil), func() []slog.Attr { return nil })
	slog.New(h).With("component", "playback").Info("idle")
	assert.Contains(t, buf.String(), "component=playback")
	assert.NotContains(t, buf.String(), "frame=")
}
