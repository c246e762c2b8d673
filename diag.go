package cinema

import (
	"context"
	"log/slog"
	"os"
)

// CodeTeleportDeprecated is the diagnostic a host emits for every update
// carrying the teleport option.
const CodeTeleportDeprecated = "DatabaseUpdateOperation#teleport"

type suppressKey struct{}

// WithSuppressed returns a context under which records whose "code" attribute
// is one of codes are dropped by DiagHandler. Codes accumulate across calls.
func WithSuppressed(ctx context.Context, codes ...string) context.Context {
	prev, _ := ctx.Value(suppressKey{}).(map[string]struct{})
	set := make(map[string]struct{}, len(prev)+len(codes))
	for c := range prev {
		set[c] = struct{}{}
	}
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return context.WithValue(ctx, suppressKey{}, set)
}

func isSuppressed(ctx context.Context, code string) bool {
	if ctx == nil || code == "" {
		return false
	}
	set, _ := ctx.Value(suppressKey{}).(map[string]struct{})
	_, ok := set[code]
	return ok
}

// DiagHandler wraps an slog.Handler and drops records carrying a diagnostic
// code the record's context suppresses. Records without a code, or with a
// code nobody suppressed, always pass.
type DiagHandler struct {
	next slog.Handler
	code string // bound with WithAttrs
}

// NewDiagHandler wraps next.
func NewDiagHandler(next slog.Handler) *DiagHandler {
	return &DiagHandler{next: next}
}

func (h *DiagHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *DiagHandler) Handle(ctx context.Context, r slog.Record) error {
	code := h.code
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "code" {
			code = a.Value.String()
			return false
		}
		return true
	})
	if isSuppressed(ctx, code) {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *DiagHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	code := h.code
	for _, a := range attrs {
		if a.Key == "code" {
			code = a.Value.String()
		}
	}
	return &DiagHandler{next: h.next.WithAttrs(attrs), code: code}
}

func (h *DiagHandler) WithGroup(name string) slog.Handler {
	return &DiagHandler{next: h.next.WithGroup(name), code: h.code}
}

// NewLogger returns the default logger: text records on stderr behind a
// DiagHandler.
func NewLogger() *slog.Logger {
	return slog.New(NewDiagHandler(slog.NewTextHandler(os.Stderr, nil)))
}
