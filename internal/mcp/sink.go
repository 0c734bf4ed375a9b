package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/aservis/maestro/pkg/protocol"
)

// LogSink mirrors slog records to connections that subscribed via
// logging/setLevel, as notifications/message. It implements
// slog.Handler and is installed through logger.SetMirror; the logger's
// fanout replays accumulated attrs onto the record before handing it
// over, so WithAttrs never has to track state here.
type LogSink struct {
	mu   sync.RWMutex
	subs map[*jsonrpc2.Conn]slog.Level
}

func newLogSink() *LogSink {
	return &LogSink{subs: make(map[*jsonrpc2.Conn]slog.Level)}
}

func (s *LogSink) Subscribe(conn *jsonrpc2.Conn, level slog.Level) {
	s.mu.Lock()
	s.subs[conn] = level
	s.mu.Unlock()
}

func (s *LogSink) Unsubscribe(conn *jsonrpc2.Conn) {
	s.mu.Lock()
	delete(s.subs, conn)
	s.mu.Unlock()
}

func (s *LogSink) Enabled(_ context.Context, level slog.Level) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, min := range s.subs {
		if level >= min {
			return true
		}
	}
	return false
}

func (s *LogSink) Handle(_ context.Context, rec slog.Record) error {
	var component string
	fields := map[string]interface{}{"message": rec.Message}
	rec.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = a.Value.String()
			return true
		}
		fields[a.Key] = a.Value.Any()
		return true
	})

	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	params := protocol.LogMessageParams{
		Level:  levelName(rec.Level),
		Logger: component,
		Data:   data,
	}

	s.mu.RLock()
	targets := make([]*jsonrpc2.Conn, 0, len(s.subs))
	for conn, min := range s.subs {
		if rec.Level >= min {
			targets = append(targets, conn)
		}
	}
	s.mu.RUnlock()

	// Send failures are dropped; a dead connection gets reaped by its
	// own read loop soon enough.
	for _, conn := range targets {
		conn.Notify(context.Background(), "notifications/message", params)
	}
	return nil
}

func (s *LogSink) WithAttrs([]slog.Attr) slog.Handler { return s }
func (s *LogSink) WithGroup(string) slog.Handler      { return s }

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warning"
	case l >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
