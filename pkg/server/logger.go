package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
)

// LogSink stores log records of a job.
type LogSink interface {
	AppendLog(ctx context.Context, jobID uuid.UUID, ts time.Time, level, message string, metadata json.RawMessage) error
}

// DBLogHandler is a slog.Handler that writes records to the job's log table
// and, when Next is set, forwards them to Next as well.
type DBLogHandler struct {
	Sink  LogSink
	JobID uuid.UUID
	Next  slog.Handler

	attrs  []scopedAttr
	groups []string
}

// scopedAttr is an attribute added by WithAttrs under the groups open at the time.
type scopedAttr struct {
	groups []string
	attr   slog.Attr
}

func NewDBLogHandler(sink LogSink, jobID uuid.UUID, next slog.Handler) *DBLogHandler {
	if next != nil {
		next = next.WithAttrs([]slog.Attr{slog.String("job_id", jobID.String())})
	}
	return &DBLogHandler{Sink: sink, JobID: jobID, Next: next}
}

func (h *DBLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *DBLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.Next != nil && h.Next.Enabled(ctx, r.Level) {
		_ = h.Next.Handle(ctx, r.Clone())
	}

	meta := make(map[string]any)
	for _, sa := range h.attrs {
		addAttr(groupMap(meta, sa.groups), sa.attr)
	}
	if r.NumAttrs() > 0 {
		target := groupMap(meta, h.groups)
		r.Attrs(func(a slog.Attr) bool {
			addAttr(target, a)
			return true
		})
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		metaJSON = []byte("{}")
	}

	// records must outlive request contexts
	return h.Sink.AppendLog(context.Background(), h.JobID, r.Time, r.Level.String(), r.Message, metaJSON)
}

func (h *DBLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	out := h.clone()
	for _, a := range attrs {
		out.attrs = append(out.attrs, scopedAttr{groups: h.groups, attr: a})
	}
	if out.Next != nil {
		out.Next = out.Next.WithAttrs(attrs)
	}
	return out
}

func (h *DBLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	out := h.clone()
	out.groups = append(out.groups, name)
	if out.Next != nil {
		out.Next = out.Next.WithGroup(name)
	}
	return out
}

func (h *DBLogHandler) clone() *DBLogHandler {
	return &DBLogHandler{
		Sink:   h.Sink,
		JobID:  h.JobID,
		Next:   h.Next,
		attrs:  slices.Clone(h.attrs),
		groups: slices.Clip(h.groups),
	}
}

// groupMap returns the nested map for groups, creating it as needed.
func groupMap(m map[string]any, groups []string) map[string]any {
	for _, g := range groups {
		sub, ok := m[g].(map[string]any)
		if !ok {
			sub = make(map[string]any)
			m[g] = sub
		}
		m = sub
	}
	return m
}

func addAttr(m map[string]any, a slog.Attr) {
	v := a.Value.Resolve()
	if a.Key == "" && v.Kind() != slog.KindGroup {
		return
	}
	switch v.Kind() {
	case slog.KindGroup:
		target := m
		if a.Key != "" {
			target = groupMap(m, []string{a.Key})
		}
		for _, ga := range v.Group() {
			addAttr(target, ga)
		}
	case slog.KindTime:
		m[a.Key] = v.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		m[a.Key] = v.Duration().String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			m[a.Key] = err.Error()
			return
		}
		m[a.Key] = v.Any()
	default:
		m[a.Key] = v.Any()
	}
}
