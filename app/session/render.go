package session

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Callback keys understood by the dispatcher. The adapter registers one
// transport handler per key.
const (
	CBDraftConfirm = "draft_confirm"
	CBDraftEdit    = "draft_edit"
	CBDraftCancel  = "draft_cancel"
	CBListRefresh  = "list_refresh"
	CBListView     = "list_view"
	CBListDelete   = "list_delete"
	CBListBack     = "list_back"
	CBMenuCreate   = "menu_create"
	CBMenuList     = "menu_list"
	CBMenuSettings = "menu_settings"
	CBMenuAuth     = "menu_auth"
)

const (
	msgGreeting = "Hi! Describe an event in plain words, like \"lunch with Anna tomorrow at noon\", and I'll put it on your calendar."
	msgHelp     = "Send me a plain-text description of an event and I'll propose a calendar entry.\n\n" +
		"/list - show upcoming events\n" +
		"/connect - connect your Google Calendar\n" +
		"/settings - your preferences\n" +
		"/cancel - discard the pending proposal\n" +
		"/help - this message"
	msgAuthPrompt      = "First, let's connect your Google Calendar. Open the link, allow access, then paste the code you get back here."
	msgAuthDone        = "Connected! Now describe an event and I'll schedule it."
	msgAuthFailed      = "Authorization failed. Use /connect to try again."
	msgAuthRequired    = "You need to connect your Google Calendar first. Tap the button below to get started."
	msgExtractFailed   = "I couldn't understand that as an event. Try including what and when, like \"dentist on Friday at 10am\"."
	msgEditPrompt      = "What should I change? Describe the correction in plain words."
	msgCreateFailed    = "Couldn't save the event. Please try again."
	msgCreated         = "Event created!"
	msgCancelled       = "Cancelled."
	msgDeleted         = "Deleted."
	msgDeleteFailed    = "Failed to delete."
	msgListEmpty       = "No upcoming events found."
	msgListHeader      = "Your upcoming events:"
	msgProposalStale   = "This proposal is no longer active."
	msgAuthStartFailed = "Couldn't start authorization. Please try again later."
	msgAuthNeeded      = "Authorization needed."
	msgListFailed      = "Couldn't fetch your events. Please try again."
	msgEventGone       = "Event not found."
	msgUnknownCommand  = "Unknown command. Try /help."
	msgNothingToCancel = "Nothing to cancel."
	msgSettingsNote    = "Changing settings from chat is coming soon."
	msgCreateHint      = "Just describe the event in plain words, like \"team sync on Thursday at 3pm\"."
	msgTryAgain        = "Something went wrong. Please try again."
)

func formatEventTime(t time.Time) string {
	if t.IsZero() {
		return "unscheduled"
	}
	return t.Format("Mon, 02 Jan 15:04")
}

func formatEventRange(start, end time.Time) string {
	if end.IsZero() || end.Equal(start) {
		return formatEventTime(start)
	}
	if start.Year() == end.Year() && start.YearDay() == end.YearDay() {
		return formatEventTime(start) + " - " + end.Format("15:04")
	}
	return formatEventTime(start) + " - " + formatEventTime(end)
}

// renderMenu builds the main menu keyboard shown by /start and /help.
func renderMenu() [][]Button {
	return [][]Button{
		{{Label: "📝 Create Task", Callback: CBMenuCreate}},
		{{Label: "📅 My Tasks", Callback: CBMenuList}},
		{
			{Label: "⚙️ Settings", Callback: CBMenuSettings},
			{Label: "🔑 Auth", Callback: CBMenuAuth},
		},
	}
}

// renderProposal builds the draft confirmation message with its keyboard.
// color is the resolved calendar color name for the draft's category.
func renderProposal(d Draft, color string) (string, [][]Button) {
	var b strings.Builder
	b.WriteString("Here's what I understood:\n\n")
	fmt.Fprintf(&b, "*%s*\n", d.Summary)
	fmt.Fprintf(&b, "%s\n", formatEventRange(d.Start, d.End))
	if d.Location != "" {
		fmt.Fprintf(&b, "at %s\n", d.Location)
	}
	if d.Category != "" {
		fmt.Fprintf(&b, "Category: %s (%s)\n", d.Category, color)
	}
	if len(d.Attendees) > 0 {
		fmt.Fprintf(&b, "With: %s\n", strings.Join(d.Attendees, ", "))
	}
	if d.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", d.Description)
	}
	b.WriteString("\nShall I add it to your calendar?")

	kb := [][]Button{{
		{Label: "✅ Confirm", Callback: CBDraftConfirm},
		{Label: "✏️ Edit", Callback: CBDraftEdit},
		{Label: "❌ Cancel", Callback: CBDraftCancel},
	}}
	return b.String(), kb
}

// renderCreated builds the in-place replacement for a confirmed proposal.
func renderCreated(item EventItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ *%s*\n%s", item.Summary, formatEventRange(item.Start, item.End))
	if item.Link != "" {
		fmt.Fprintf(&b, "\n[Open in calendar](%s)", item.Link)
	}
	return b.String()
}

// renderList builds the upcoming-events overview with one button per event.
func renderList(items []EventItem) (string, [][]Button) {
	if len(items) == 0 {
		return msgListEmpty, nil
	}
	kb := make([][]Button, 0, len(items)+1)
	for _, it := range items {
		label := fmt.Sprintf("%s · %s", it.Summary, formatEventTime(it.Start))
		kb = append(kb, []Button{{Label: label, Callback: CBListView, Payload: it.ID}})
	}
	kb = append(kb, []Button{{Label: "🔄 Refresh", Callback: CBListRefresh}})
	return msgListHeader, kb
}

// renderEventDetail builds the drill-down view for one event.
func renderEventDetail(item EventItem) (string, [][]Button) {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n%s", item.Summary, formatEventRange(item.Start, item.End))
	if item.Link != "" {
		fmt.Fprintf(&b, "\n[Open in calendar](%s)", item.Link)
	}
	kb := [][]Button{{
		{Label: "🗑 Delete", Callback: CBListDelete, Payload: item.ID},
		{Label: "⬅️ Back", Callback: CBListBack},
	}}
	return b.String(), kb
}

// renderAuthRequired nudges an unauthorized user toward the auth action.
// It only offers the affordance; no flow starts until the user takes it.
func renderAuthRequired() (string, [][]Button) {
	kb := [][]Button{{
		{Label: "🔑 Connect Google Calendar", Callback: CBMenuAuth},
	}}
	return msgAuthRequired, kb
}

// failureText carries the backend detail through to the user.
func failureText(msg string, err error) string {
	if err == nil {
		return msg
	}
	return msg + "\n" + err.Error()
}

// renderAuthPrompt builds the authorization message with the grant link.
func renderAuthPrompt(flow AuthFlow) (string, [][]Button) {
	kb := [][]Button{{
		{Label: "🔗 Connect Google Calendar", URL: flow.URL},
	}}
	return msgAuthPrompt, kb
}

// renderSettings shows the stored preferences.
func renderSettings(s Settings) string {
	var b strings.Builder
	b.WriteString("Your settings:\n\n")
	if s.NotificationsEnabled() {
		b.WriteString("Notifications: on\n")
	} else {
		b.WriteString("Notifications: off\n")
	}
	if len(s.Colors) == 0 {
		b.WriteString("Category colors: defaults\n")
	} else {
		b.WriteString("Category colors:\n")
		for _, category := range sortedKeys(s.Colors) {
			fmt.Fprintf(&b, "  %s: %s\n", category, s.Colors[category])
		}
	}
	b.WriteString("\n" + msgSettingsNote)
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// correctionText merges the pending draft with the user's correction so the
// extractor sees one self-contained sentence.
func correctionText(d Draft, correction string) string {
	return fmt.Sprintf("Summary: %s, Time: %s. Correction: %s",
		d.Summary, formatEventRange(d.Start, d.End), correction)
}
