package ai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"planify/app/session"
)

func modelReply(t *testing.T, text string) string {
	t.Helper()
	return `{"candidates":[{"content":{"parts":[{"text":` + jsonString(text) + `}]}}]}`
}

func jsonString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "test-key", Model: "gemini-2.0-flash", BaseURL: srv.URL}, srv.Client())
}

func TestExtractEventParsesReply(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-2.0-flash") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("api key missing from query")
		}
		w.Write([]byte(modelReply(t,
			`{"summary":"Lunch with Anna","start":"2026-09-02T12:00:00Z","end":"2026-09-02T13:00:00Z","location":"Cafe Luna"}`)))
	})

	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	draft, err := c.ExtractEvent(context.Background(), "lunch with Anna tomorrow at noon", now)
	if err != nil {
		t.Fatalf("ExtractEvent: %v", err)
	}
	if draft.Summary != "Lunch with Anna" {
		t.Errorf("Summary = %q", draft.Summary)
	}
	if draft.Start.Hour() != 12 || draft.Start.Day() != 2 {
		t.Errorf("Start = %v", draft.Start)
	}
	if draft.Location != "Cafe Luna" {
		t.Errorf("Location = %q", draft.Location)
	}
}

func TestExtractEventStripsMarkdownFences(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(modelReply(t,
			"```json\n{\"summary\":\"Standup\",\"start\":\"2026-09-02T09:00:00Z\"}\n```")))
	})

	draft, err := c.ExtractEvent(context.Background(), "standup tomorrow 9am", time.Now())
	if err != nil {
		t.Fatalf("ExtractEvent: %v", err)
	}
	if draft.Summary != "Standup" {
		t.Errorf("Summary = %q", draft.Summary)
	}
	// Missing end defaults to one hour after start.
	if got := draft.End.Sub(draft.Start); got != time.Hour {
		t.Errorf("End-Start = %v, want 1h", got)
	}
}

func TestExtractEventRejectsNonEvents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(modelReply(t, `{"summary":""}`)))
	})

	_, err := c.ExtractEvent(context.Background(), "how are you?", time.Now())
	if !errors.Is(err, session.ErrExtraction) {
		t.Fatalf("err = %v, want ErrExtraction", err)
	}
}

func TestExtractEventBackendError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"message":"quota"}}`))
	})

	_, err := c.ExtractEvent(context.Background(), "lunch tomorrow", time.Now())
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	if errors.Is(err, session.ErrExtraction) {
		t.Error("backend failures must not look like unparsable text")
	}
}
