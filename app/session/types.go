package session

import "time"

// Phase is the dialogue position of a single user. Exactly one phase is
// active per user at any time; it decides how the next free-text message
// is interpreted.
type Phase int

const (
	// PhaseIdle means no pending draft and no pending continuation.
	PhaseIdle Phase = iota
	// PhaseAwaitingAuthCode captures the next text message as an OAuth code.
	PhaseAwaitingAuthCode
	// PhaseDraftPending means a proposal keyboard is on screen and the user
	// has not yet confirmed, edited, or cancelled it.
	PhaseDraftPending
	// PhaseAwaitingEditText captures the next text message as a correction
	// to the pending draft.
	PhaseAwaitingEditText
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingAuthCode:
		return "awaiting_auth_code"
	case PhaseDraftPending:
		return "draft_pending"
	case PhaseAwaitingEditText:
		return "awaiting_edit_text"
	default:
		return "unknown"
	}
}

// MessageRef points at a previously sent chat message so it can be edited
// or deleted later. The zero value means "no message".
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// IsZero reports whether the reference points at nothing.
func (r MessageRef) IsZero() bool {
	return r.ChatID == 0 && r.MessageID == 0
}

// Draft is an event proposal extracted from free text. It stays in memory
// until the user confirms or cancels it; nothing is written to the calendar
// before confirmation.
type Draft struct {
	Summary     string
	Start       time.Time
	End         time.Time
	Description string
	Location    string
	Attendees   []string
	Category    string

	// Source is the raw user text the draft was extracted from. Corrections
	// are re-extracted against this text, not against the structured fields.
	Source string

	// ProposalRef is the chat message carrying the confirm/edit/cancel
	// keyboard for this draft.
	ProposalRef MessageRef
}

// EventItem is a stored calendar entry as returned by the backend.
type EventItem struct {
	ID      string
	Summary string
	Start   time.Time
	End     time.Time
	Link    string
}

// AuthFlow tracks one in-flight authorization attempt. A new flow replaces
// any previous one for the same user; codes are only accepted against the
// current flow.
type AuthFlow struct {
	ID        string
	URL       string
	StartedAt time.Time
}

// Profile is the minimal identity captured from the transport on contact.
type Profile struct {
	ID        int64
	Username  string
	FirstName string
	Language  string
}

// Settings holds per-user preferences stored alongside the profile.
// Colors maps an event category to a calendar color name. Notifications
// defaults to enabled when the field is absent.
type Settings struct {
	Colors        map[string]string `json:"colors,omitempty"`
	Notifications *bool             `json:"notifications,omitempty"`
}

// NotificationsEnabled reports whether event reminders are on.
func (s Settings) NotificationsEnabled() bool {
	return s.Notifications == nil || *s.Notifications
}

// ColorFor resolves the color name for a category, falling back to
// "Default" for unknown or empty categories.
func (s Settings) ColorFor(category string) string {
	if category != "" {
		if color, ok := s.Colors[category]; ok && color != "" {
			return color
		}
	}
	return "Default"
}
