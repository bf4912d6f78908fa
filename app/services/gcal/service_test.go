package gcal

import (
	"errors"
	"testing"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"planify/app/session"
)

func TestToEventItemTimedEvent(t *testing.T) {
	item := toEventItem(&calendar.Event{
		Id:       "abc",
		Summary:  "Standup",
		HtmlLink: "https://calendar.example/abc",
		Start:    &calendar.EventDateTime{DateTime: "2026-09-02T09:00:00Z"},
		End:      &calendar.EventDateTime{DateTime: "2026-09-02T09:15:00Z"},
	})

	if item.ID != "abc" || item.Summary != "Standup" {
		t.Errorf("item = %+v", item)
	}
	if item.Start.IsZero() || item.End.Sub(item.Start) != 15*time.Minute {
		t.Errorf("times = %v .. %v", item.Start, item.End)
	}
}

func TestToEventItemAllDayEvent(t *testing.T) {
	item := toEventItem(&calendar.Event{
		Id:    "d1",
		Start: &calendar.EventDateTime{Date: "2026-09-05"},
		End:   &calendar.EventDateTime{Date: "2026-09-06"},
	})
	if item.Start.IsZero() {
		t.Error("all-day start should parse from the bare date")
	}
	if item.Start.Day() != 5 {
		t.Errorf("Start = %v, want the 5th", item.Start)
	}
}

func TestFromDraftDefaultsEnd(t *testing.T) {
	start := time.Date(2026, 9, 2, 12, 0, 0, 0, time.UTC)
	ev := fromDraft(session.Draft{Summary: "Lunch", Start: start})

	if ev.Start.DateTime != start.Format(time.RFC3339) {
		t.Errorf("Start = %q", ev.Start.DateTime)
	}
	wantEnd := start.Add(time.Hour).Format(time.RFC3339)
	if ev.End.DateTime != wantEnd {
		t.Errorf("End = %q, want %q", ev.End.DateTime, wantEnd)
	}
}

func TestMapAPIErrorUnauthorized(t *testing.T) {
	err := mapAPIError("gcal: listing events", &googleapi.Error{Code: 401})
	if !errors.Is(err, session.ErrUnauthorized) {
		t.Errorf("401 should map to ErrUnauthorized, got %v", err)
	}

	err = mapAPIError("gcal: listing events", &googleapi.Error{Code: 500})
	if errors.Is(err, session.ErrUnauthorized) {
		t.Errorf("500 must not look like an auth failure")
	}
}
