package session

import (
	"context"
	"time"
)

// Extractor turns free text into a structured event draft.
// Implementations return ErrExtraction (possibly wrapped) when the text
// does not describe a schedulable event.
type Extractor interface {
	ExtractEvent(ctx context.Context, text string, now time.Time) (Draft, error)
}

// Calendar is the storage backend for confirmed events. List and Delete
// return ErrUnauthorized (possibly wrapped) when the user has no valid
// credential.
type Calendar interface {
	ListEvents(ctx context.Context, userID int64, max int) ([]EventItem, error)
	CreateEvent(ctx context.Context, userID int64, d Draft) (EventItem, error)
	DeleteEvent(ctx context.Context, userID int64, eventID string) error
}

// Authorizer drives the out-of-band credential grant. Initiate returns a
// fresh flow with a user-visible URL; Complete exchanges the code pasted
// back by the user and persists the credential.
type Authorizer interface {
	Initiate(ctx context.Context, userID int64) (AuthFlow, error)
	Complete(ctx context.Context, userID int64, flowID, code string) error
}

// Users persists profiles and answers authorization checks.
type Users interface {
	Upsert(ctx context.Context, p Profile) error
	Authorized(ctx context.Context, userID int64) (bool, error)
	GetSettings(ctx context.Context, userID int64) (Settings, error)
	SaveSettings(ctx context.Context, userID int64, s Settings) error
}
