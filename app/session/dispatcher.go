package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"planify/core/logger"
)

const defaultListPageSize = 10

// Config bounds the dispatcher's facade calls. Zero values fall back to
// conservative defaults.
type Config struct {
	ListPageSize    int
	ExtractTimeout  time.Duration
	CalendarTimeout time.Duration
	AuthTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.ListPageSize <= 0 {
		c.ListPageSize = defaultListPageSize
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = 30 * time.Second
	}
	if c.CalendarTimeout <= 0 {
		c.CalendarTimeout = 15 * time.Second
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 15 * time.Second
	}
	return c
}

// Dispatcher routes inbound events through the per-user state machine and
// produces outbound intents. It holds the user's state lock for the whole
// of Handle, so per-user processing is strictly sequential.
type Dispatcher struct {
	store     *Store
	extractor Extractor
	calendar  Calendar
	auth      Authorizer
	users     Users
	cfg       Config
}

// NewDispatcher wires the state machine to its backends.
func NewDispatcher(store *Store, ex Extractor, cal Calendar, auth Authorizer, users Users, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:     store,
		extractor: ex,
		calendar:  cal,
		auth:      auth,
		users:     users,
		cfg:       cfg.withDefaults(),
	}
}

// Store exposes the underlying state store for routing checks and adapter
// feedback.
func (d *Dispatcher) Store() *Store { return d.store }

// Handle processes one inbound event to completion and returns the outbound
// intents to apply, in order.
func (d *Dispatcher) Handle(ctx context.Context, ev InboundEvent) ([]Intent, error) {
	if ev.UserID == 0 {
		return nil, errors.New("session: event without user id")
	}
	if ev.Now.IsZero() {
		ev.Now = time.Now()
	}

	e := d.store.acquire(ev.UserID)
	defer e.release()

	logger.Debug(ctx, "session", "route",
		slog.String("kind", string(ev.Kind)),
		slog.String("phase", e.phase.String()),
		slog.Int64("user_id", ev.UserID),
	)

	switch ev.Kind {
	case KindCommand:
		return d.handleCommand(ctx, e, ev)
	case KindText:
		return d.handleText(ctx, e, ev)
	case KindCallback:
		return d.handleCallback(ctx, e, ev)
	default:
		return nil, fmt.Errorf("session: unknown event kind %q", ev.Kind)
	}
}

// Facade wrappers apply per-call deadlines so a stuck backend cannot pin a
// user's lock indefinitely.

func (d *Dispatcher) extract(ctx context.Context, text string, now time.Time) (Draft, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ExtractTimeout)
	defer cancel()
	return d.extractor.ExtractEvent(ctx, text, now)
}

func (d *Dispatcher) listEvents(ctx context.Context, userID int64) ([]EventItem, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.CalendarTimeout)
	defer cancel()
	return d.calendar.ListEvents(ctx, userID, d.cfg.ListPageSize)
}

func (d *Dispatcher) createEvent(ctx context.Context, userID int64, draft Draft) (EventItem, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.CalendarTimeout)
	defer cancel()
	return d.calendar.CreateEvent(ctx, userID, draft)
}

func (d *Dispatcher) deleteEvent(ctx context.Context, userID int64, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.CalendarTimeout)
	defer cancel()
	return d.calendar.DeleteEvent(ctx, userID, eventID)
}

func (d *Dispatcher) authInitiate(ctx context.Context, userID int64) (AuthFlow, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.AuthTimeout)
	defer cancel()
	return d.auth.Initiate(ctx, userID)
}

func (d *Dispatcher) authComplete(ctx context.Context, userID int64, flowID, code string) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.AuthTimeout)
	defer cancel()
	return d.auth.Complete(ctx, userID, flowID, code)
}

func (d *Dispatcher) authorized(ctx context.Context, userID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.AuthTimeout)
	defer cancel()
	return d.users.Authorized(ctx, userID)
}
