package middleware

import (
	"testing"

	tele "gopkg.in/telebot.v4"
)

type senderContext struct {
	tele.Context
	user *tele.User
}

func (c senderContext) Sender() *tele.User { return c.user }

func TestWithAdminCheckBlocksNonAdmin(t *testing.T) {
	var calls int
	h := WithAdminCheck(AdminOptions{AdminID: 42}, true, func(tele.Context) error {
		calls++
		return nil
	})

	if err := h(senderContext{user: &tele.User{ID: 7}}); err != nil {
		t.Fatalf("non-admin: %v", err)
	}
	if calls != 0 {
		t.Error("non-admin reached the handler")
	}

	if err := h(senderContext{user: &tele.User{ID: 42}}); err != nil {
		t.Fatalf("admin: %v", err)
	}
	if calls != 1 {
		t.Error("admin should reach the handler")
	}
}

func TestWithAdminCheckRejectHandler(t *testing.T) {
	var rejected int
	h := WithAdminCheck(AdminOptions{
		AdminID:  42,
		OnReject: func(tele.Context) error { rejected++; return nil },
	}, true, func(tele.Context) error {
		t.Error("handler must not run for a rejected sender")
		return nil
	})

	if err := h(senderContext{user: &tele.User{ID: 7}}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected != 1 {
		t.Errorf("OnReject called %d times, want 1", rejected)
	}
}

func TestWithAdminCheckPassthrough(t *testing.T) {
	var calls int
	handler := func(tele.Context) error { calls++; return nil }

	// No admin configured: the check is a no-op even for admin-only commands.
	h := WithAdminCheck(AdminOptions{}, true, handler)
	if err := h(senderContext{user: &tele.User{ID: 7}}); err != nil {
		t.Fatalf("unconfigured: %v", err)
	}

	// Regular commands run for everyone.
	h = WithAdminCheck(AdminOptions{AdminID: 42}, false, handler)
	if err := h(senderContext{user: &tele.User{ID: 7}}); err != nil {
		t.Fatalf("regular: %v", err)
	}

	if calls != 2 {
		t.Errorf("handler ran %d times, want 2", calls)
	}
}
