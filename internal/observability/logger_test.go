package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_LevelMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		level        string
		debugEnabled bool
		infoEnabled  bool
	}{
		{name: "debug level", level: "debug", debugEnabled: true, infoEnabled: true},
		{name: "info level", level: "info", infoEnabled: true},
		{name: "mixed case warn", level: " WARN ", infoEnabled: false},
		{name: "empty level defaults to info", level: "", infoEnabled: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tc.level)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tc.debugEnabled {
				t.Fatalf("debug enabled=%v, want=%v", got, tc.debugEnabled)
			}
			if got := logger.Core().Enabled(zapcore.InfoLevel); got != tc.infoEnabled {
				t.Fatalf("info enabled=%v, want=%v", got, tc.infoEnabled)
			}
		})
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger("not-a-level")
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
	if logger != nil {
		t.Fatal("expected nil logger for invalid level")
	}
}

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := WithUserID(WithCorrelationID(context.Background(), "cid-123"), "user-ok")

	if got, ok := CorrelationIDFromContext(ctx); !ok || got != "cid-123" {
		t.Fatalf("correlation id=%q ok=%v, want cid-123", got, ok)
	}
	if got, ok := UserIDFromContext(ctx); !ok || got != "user-ok" {
		t.Fatalf("user id=%q ok=%v, want user-ok", got, ok)
	}

	if _, ok := CorrelationIDFromContext(context.Background()); ok {
		t.Fatal("expected correlation id to be missing")
	}
	if _, ok := UserIDFromContext(WithUserID(context.Background(), "")); ok {
		t.Fatal("expected empty user id to be treated as missing")
	}
}

func TestContextHelpers_NilContext(t *testing.T) {
	t.Parallel()

	//nolint:staticcheck // nil context is tolerated on purpose
	ctx := WithCorrelationID(nil, "cid-456")
	if got, ok := CorrelationIDFromContext(ctx); !ok || got != "cid-456" {
		t.Fatalf("correlation id=%q ok=%v, want cid-456", got, ok)
	}
	//nolint:staticcheck // nil context is tolerated on purpose
	if _, ok := UserIDFromContext(nil); ok {
		t.Fatal("expected user id to be missing on nil context")
	}
}

func TestWithContextLogger(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name            string
		ctx             context.Context
		wantCorrelation any
		wantUser        any
	}{
		{
			name:            "both fields",
			ctx:             WithUserID(WithCorrelationID(context.Background(), "cid-789"), "user-ok"),
			wantCorrelation: "cid-789",
			wantUser:        "user-ok",
		},
		{
			name:            "correlation only",
			ctx:             WithCorrelationID(context.Background(), "cid-1"),
			wantCorrelation: "cid-1",
		},
		{
			name: "no fields",
			ctx:  context.Background(),
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			core, recorded := observer.New(zapcore.InfoLevel)
			WithContextLogger(zap.New(core), tc.ctx).Info("batch change accepted")

			entries := recorded.All()
			if len(entries) != 1 {
				t.Fatalf("entries=%d, want=1", len(entries))
			}
			fields := entries[0].ContextMap()
			if got := fields["correlationId"]; got != tc.wantCorrelation {
				t.Fatalf("correlationId=%v, want=%v", got, tc.wantCorrelation)
			}
			if got := fields["userId"]; got != tc.wantUser {
				t.Fatalf("userId=%v, want=%v", got, tc.wantUser)
			}
		})
	}
}

func TestWithContextLogger_NilLogger(t *testing.T) {
	t.Parallel()

	if got := WithContextLogger(nil, context.Background()); got != nil {
		t.Fatal("expected nil logger")
	}
}
