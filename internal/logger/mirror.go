package logger

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// mirror is an optional second handler that receives every record the
// process logs, regardless of the primary handler's level. The MCP
// server installs one to forward records to subscribed connections.
var mirror atomic.Pointer[slog.Handler]

// SetMirror installs (or, with nil, removes) the mirror handler.
func SetMirror(h slog.Handler) {
	if h == nil {
		mirror.Store(nil)
		return
	}
	mirror.Store(&h)
}

// fanout wraps the primary handler and copies records to the mirror.
// Attributes accumulated through With are replayed onto mirrored records
// so a mirror installed mid-run still sees component tags.
type fanout struct {
	primary slog.Handler
	attrs   []slog.Attr
}

func (f *fanout) Enabled(ctx context.Context, l slog.Level) bool {
	if f.primary.Enabled(ctx, l) {
		return true
	}
	if m := mirror.Load(); m != nil {
		return (*m).Enabled(ctx, l)
	}
	return false
}

func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if f.primary.Enabled(ctx, r.Level) {
		err = f.primary.Handle(ctx, r)
	}
	if m := mirror.Load(); m != nil && (*m).Enabled(ctx, r.Level) {
		mr := r.Clone()
		if len(f.attrs) > 0 {
			mr.AddAttrs(f.attrs...)
		}
		(*m).Handle(ctx, mr)
	}
	return err
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(f.attrs)+len(attrs))
	merged = append(merged, f.attrs...)
	merged = append(merged, attrs...)
	return &fanout{primary: f.primary.WithAttrs(attrs), attrs: merged}
}

func (f *fanout) WithGroup(name string) slog.Handler {
	return &fanout{primary: f.primary.WithGroup(name), attrs: f.attrs}
}
