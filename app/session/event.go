package session

import "time"

// EventKind classifies an inbound update after transport decoding.
type EventKind string

const (
	KindCommand  EventKind = "command"
	KindText     EventKind = "text"
	KindCallback EventKind = "callback"
)

// InboundEvent is a transport-neutral inbound update. The adapter fills it
// from the raw update; the dispatcher never sees transport types.
type InboundEvent struct {
	Kind   EventKind
	UserID int64
	ChatID int64

	// Command is the slash command without arguments, e.g. "/list".
	Command string
	// Text is the free-text body for KindText events.
	Text string

	// Callback is the callback key; Payload its argument, if any.
	Callback string
	Payload  string
	// Message is the chat message the callback button was attached to.
	Message MessageRef

	// Profile is set on first-contact events so the dispatcher can persist it.
	Profile *Profile

	// Now is the reference instant for relative-date extraction.
	Now time.Time
}

// IntentKind tells the adapter what to do with an Intent.
type IntentKind string

const (
	// IntentSend posts a new chat message.
	IntentSend IntentKind = "send"
	// IntentEdit rewrites an existing message in place.
	IntentEdit IntentKind = "edit"
	// IntentDelete removes an existing message.
	IntentDelete IntentKind = "delete"
	// IntentAck answers a callback with a short toast.
	IntentAck IntentKind = "ack"
)

// Button is one inline keyboard button. Either Callback (with optional
// Payload) or URL is set, never both.
type Button struct {
	Label    string
	Callback string
	Payload  string
	URL      string
}

// Intent is one outbound effect produced by the dispatcher. Intents are
// applied by the adapter in order; the dispatcher itself never talks to
// the transport.
type Intent struct {
	Kind     IntentKind
	Text     string
	Keyboard [][]Button
	// Ref targets an existing message for edit and delete intents.
	Ref MessageRef

	// Marker tags the sent message so the adapter can report its MessageRef
	// back to the store (used for proposal keyboards).
	Marker string
}

// MarkerProposal tags the message carrying a draft proposal keyboard.
const MarkerProposal = "proposal"

// Send builds a plain outbound message intent.
func Send(text string) Intent {
	return Intent{Kind: IntentSend, Text: text}
}

// SendKB builds an outbound message with an inline keyboard.
func SendKB(text string, kb [][]Button) Intent {
	return Intent{Kind: IntentSend, Text: text, Keyboard: kb}
}

// EditMsg builds an in-place edit of ref.
func EditMsg(ref MessageRef, text string, kb [][]Button) Intent {
	return Intent{Kind: IntentEdit, Ref: ref, Text: text, Keyboard: kb}
}

// DeleteMsg builds a deletion of ref.
func DeleteMsg(ref MessageRef) Intent {
	return Intent{Kind: IntentDelete, Ref: ref}
}

// Ack builds a short callback acknowledgement toast.
func Ack(text string) Intent {
	return Intent{Kind: IntentAck, Text: text}
}
