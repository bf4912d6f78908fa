package session

import "testing"

func TestSettingsColorFor(t *testing.T) {
	s := Settings{Colors: map[string]string{"Work": "Tomato"}}

	if got := s.ColorFor("Work"); got != "Tomato" {
		t.Errorf("ColorFor(Work) = %q, want Tomato", got)
	}
	if got := s.ColorFor("Personal"); got != "Default" {
		t.Errorf("ColorFor(Personal) = %q, want Default", got)
	}
	if got := s.ColorFor(""); got != "Default" {
		t.Errorf("ColorFor(empty) = %q, want Default", got)
	}
	if got := (Settings{}).ColorFor("Work"); got != "Default" {
		t.Errorf("zero settings ColorFor = %q, want Default", got)
	}
}

func TestSettingsNotificationsDefaultOn(t *testing.T) {
	if !(Settings{}).NotificationsEnabled() {
		t.Error("notifications should default to enabled")
	}
	off := false
	if (Settings{Notifications: &off}).NotificationsEnabled() {
		t.Error("explicit false should disable notifications")
	}
}
