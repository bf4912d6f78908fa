package gcal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"planify/app/session"
	"planify/core/logger"
	tghelpers "planify/core/telegram/helpers"
)

// Config declares the Google Calendar backend settings.
type Config struct {
	ClientID     string `yaml:"client_id" envconfig:"GOOGLE_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" envconfig:"GOOGLE_CLIENT_SECRET"`
	CalendarID   string `yaml:"calendar_id" envconfig:"GOOGLE_CALENDAR_ID" default:"primary"`
}

// CredentialStore persists per-user OAuth tokens. Credential returns nil
// bytes (and no error) when the user has never authorized.
type CredentialStore interface {
	Credential(ctx context.Context, userID int64) ([]byte, error)
	SaveCredential(ctx context.Context, userID int64, data []byte) error
}

// Service talks to Google Calendar on behalf of individual users. It
// implements session.Calendar and session.Authorizer.
type Service struct {
	cfg   Config
	oauth *oauth2.Config
	creds CredentialStore
}

// NewService builds the calendar backend. The out-of-band redirect keeps
// the grant flow inside the chat: the user pastes the code back as text.
func NewService(cfg Config, creds CredentialStore) (*Service, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("gcal: client id and secret are required")
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}

	return &Service{
		cfg:   cfg,
		creds: creds,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{calendar.CalendarEventsScope},
			Endpoint:     google.Endpoint,
		},
	}, nil
}

// Initiate starts a fresh grant flow. The flow ID doubles as the OAuth
// state parameter.
func (s *Service) Initiate(ctx context.Context, userID int64) (session.AuthFlow, error) {
	flow := session.AuthFlow{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}
	flow.URL = s.oauth.AuthCodeURL(flow.ID, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	logger.Info(ctx, "svc.gcal", "auth.url.issued",
		slog.Int64("user_id", userID),
		slog.String("flow_id", flow.ID),
	)
	return flow, nil
}

// Complete exchanges the pasted code and stores the resulting token.
func (s *Service) Complete(ctx context.Context, userID int64, flowID, code string) error {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("gcal: code exchange failed: %w", err)
	}

	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("gcal: encoding token: %w", err)
	}
	if err := s.creds.SaveCredential(ctx, userID, data); err != nil {
		return fmt.Errorf("gcal: storing credential: %w", err)
	}

	logger.Info(ctx, "svc.gcal", "auth.token.stored",
		slog.Int64("user_id", userID),
		slog.String("flow_id", flowID),
	)
	return nil
}

// ListEvents returns the user's next events starting from now.
func (s *Service) ListEvents(ctx context.Context, userID int64, max int) ([]session.EventItem, error) {
	svc, ts, prev, err := s.serviceFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer s.persistRefreshed(ctx, userID, ts, prev)

	if max <= 0 {
		max = 10
	}

	res, err := svc.Events.List(s.cfg.CalendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(time.Now().Format(time.RFC3339)).
		MaxResults(int64(max)).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapAPIError("gcal: listing events", err)
	}

	// The API only orders ascending; the overview shows the latest first.
	items := make([]session.EventItem, 0, len(res.Items))
	for i := len(res.Items) - 1; i >= 0; i-- {
		items = append(items, toEventItem(res.Items[i]))
	}

	logger.Debug(ctx, "svc.gcal", "events.list.ok",
		slog.Int64("user_id", userID),
		slog.Int("count", len(items)),
	)
	return items, nil
}

// CreateEvent writes a confirmed draft to the user's calendar.
func (s *Service) CreateEvent(ctx context.Context, userID int64, d session.Draft) (session.EventItem, error) {
	svc, ts, prev, err := s.serviceFor(ctx, userID)
	if err != nil {
		return session.EventItem{}, err
	}
	defer s.persistRefreshed(ctx, userID, ts, prev)

	created, err := svc.Events.Insert(s.cfg.CalendarID, fromDraft(d)).Context(ctx).Do()
	if err != nil {
		return session.EventItem{}, mapAPIError("gcal: creating event", err)
	}

	logger.Info(ctx, "svc.gcal", "events.create.ok",
		slog.Int64("user_id", userID),
		slog.String("event_id", created.Id),
	)
	return toEventItem(created), nil
}

// DeleteEvent removes an event by ID.
func (s *Service) DeleteEvent(ctx context.Context, userID int64, eventID string) error {
	svc, ts, prev, err := s.serviceFor(ctx, userID)
	if err != nil {
		return err
	}
	defer s.persistRefreshed(ctx, userID, ts, prev)

	if err := svc.Events.Delete(s.cfg.CalendarID, eventID).Context(ctx).Do(); err != nil {
		return mapAPIError("gcal: deleting event", err)
	}

	logger.Info(ctx, "svc.gcal", "events.delete.ok",
		slog.Int64("user_id", userID),
		slog.String("event_id", eventID),
	)
	return nil
}

func (s *Service) serviceFor(ctx context.Context, userID int64) (*calendar.Service, oauth2.TokenSource, *oauth2.Token, error) {
	data, err := s.creds.Credential(ctx, userID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("gcal: loading credential: %w", err)
	}
	if len(data) == 0 {
		return nil, nil, nil, session.ErrUnauthorized
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, nil, nil, fmt.Errorf("gcal: decoding credential: %w", err)
	}

	ts := s.oauth.TokenSource(ctx, &tok)
	svc, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("gcal: building service: %w", err)
	}
	return svc, ts, &tok, nil
}

// persistRefreshed stores the token back if the source rotated it, so the
// next call does not need another refresh round-trip.
func (s *Service) persistRefreshed(ctx context.Context, userID int64, ts oauth2.TokenSource, prev *oauth2.Token) {
	if ts == nil || prev == nil {
		return
	}
	cur, err := ts.Token()
	if err != nil || cur.AccessToken == prev.AccessToken {
		return
	}
	data, err := json.Marshal(cur)
	if err != nil {
		return
	}
	if err := s.creds.SaveCredential(ctx, userID, data); err != nil {
		logger.Warn(ctx, "svc.gcal", "auth.token.refresh_store_fail",
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
		return
	}
	logger.Debug(ctx, "svc.gcal", "auth.token.refreshed", slog.Int64("user_id", userID))
}

// mapAPIError folds credential failures into the unauthorized sentinel so
// the dialogue layer can restart the grant flow.
func mapAPIError(op string, err error) error {
	var ge *googleapi.Error
	if errors.As(err, &ge) && (ge.Code == 401 || ge.Code == 403) {
		return fmt.Errorf("%s: %w", op, session.ErrUnauthorized)
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return fmt.Errorf("%s: %w", op, session.ErrUnauthorized)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func toEventItem(ev *calendar.Event) session.EventItem {
	item := session.EventItem{
		ID:      ev.Id,
		Summary: ev.Summary,
		Link:    ev.HtmlLink,
	}
	if ev.Start != nil {
		item.Start = parseEventDateTime(ev.Start)
	}
	if ev.End != nil {
		item.End = parseEventDateTime(ev.End)
	}
	return item
}

func parseEventDateTime(dt *calendar.EventDateTime) time.Time {
	raw := dt.DateTime
	if raw == "" {
		raw = dt.Date // all-day events carry a bare date
	}
	t, _ := tghelpers.ParseEventTime(raw, time.Local)
	return t
}

func fromDraft(d session.Draft) *calendar.Event {
	end := d.End
	if end.IsZero() {
		end = d.Start.Add(time.Hour)
	}
	ev := &calendar.Event{
		Summary:     d.Summary,
		Description: d.Description,
		Location:    d.Location,
		Start:       &calendar.EventDateTime{DateTime: d.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339)},
	}
	for _, a := range d.Attendees {
		att := &calendar.EventAttendee{DisplayName: a}
		if strings.Contains(a, "@") {
			att.Email = a
		}
		ev.Attendees = append(ev.Attendees, att)
	}
	return ev
}
