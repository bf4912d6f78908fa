package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeExtractor struct {
	mu     sync.Mutex
	draft  Draft
	err    error
	inputs []string
	delay  time.Duration
}

func (f *fakeExtractor) ExtractEvent(ctx context.Context, text string, now time.Time) (Draft, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, text)
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return Draft{}, f.err
	}
	return f.draft, nil
}

type fakeCalendar struct {
	items     []EventItem
	created   []Draft
	deleted   []string
	listCalls int
	createErr error
	listErr   error
	deleteErr error
}

func (f *fakeCalendar) ListEvents(ctx context.Context, userID int64, max int) ([]EventItem, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.items, nil
}

func (f *fakeCalendar) CreateEvent(ctx context.Context, userID int64, d Draft) (EventItem, error) {
	if f.createErr != nil {
		return EventItem{}, f.createErr
	}
	f.created = append(f.created, d)
	return EventItem{ID: "ev-1", Summary: d.Summary, Start: d.Start, End: d.End}, nil
}

func (f *fakeCalendar) DeleteEvent(ctx context.Context, userID int64, eventID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, eventID)
	return nil
}

type fakeAuthorizer struct {
	flow        AuthFlow
	initErr     error
	completeErr error
	completed   [][2]string
}

func (f *fakeAuthorizer) Initiate(ctx context.Context, userID int64) (AuthFlow, error) {
	if f.initErr != nil {
		return AuthFlow{}, f.initErr
	}
	return f.flow, nil
}

func (f *fakeAuthorizer) Complete(ctx context.Context, userID int64, flowID, code string) error {
	f.completed = append(f.completed, [2]string{flowID, code})
	return f.completeErr
}

type fakeUsers struct {
	authorized bool
	authErr    error
	upserts    []Profile
	settings   Settings
}

func (f *fakeUsers) Upsert(ctx context.Context, p Profile) error {
	f.upserts = append(f.upserts, p)
	return nil
}

func (f *fakeUsers) Authorized(ctx context.Context, userID int64) (bool, error) {
	return f.authorized, f.authErr
}

func (f *fakeUsers) GetSettings(ctx context.Context, userID int64) (Settings, error) {
	return f.settings, nil
}

func (f *fakeUsers) SaveSettings(ctx context.Context, userID int64, s Settings) error {
	f.settings = s
	return nil
}

type harness struct {
	d   *Dispatcher
	ex  *fakeExtractor
	cal *fakeCalendar
	au  *fakeAuthorizer
	us  *fakeUsers
}

func newHarness() *harness {
	ex := &fakeExtractor{draft: Draft{
		Summary: "Lunch with Anna",
		Start:   time.Date(2026, 9, 2, 12, 0, 0, 0, time.UTC),
		End:     time.Date(2026, 9, 2, 13, 0, 0, 0, time.UTC),
	}}
	cal := &fakeCalendar{}
	au := &fakeAuthorizer{flow: AuthFlow{ID: "flow-1", URL: "https://accounts.example/grant"}}
	us := &fakeUsers{authorized: true}

	return &harness{
		d:   NewDispatcher(NewStore(), ex, cal, au, us, Config{}),
		ex:  ex,
		cal: cal,
		au:  au,
		us:  us,
	}
}

func textEvent(userID int64, text string) InboundEvent {
	return InboundEvent{Kind: KindText, UserID: userID, ChatID: userID, Text: text}
}

func cmdEvent(userID int64, cmd string) InboundEvent {
	return InboundEvent{Kind: KindCommand, UserID: userID, ChatID: userID, Command: cmd}
}

func cbEvent(userID int64, key, payload string) InboundEvent {
	return InboundEvent{
		Kind:     KindCallback,
		UserID:   userID,
		ChatID:   userID,
		Callback: key,
		Payload:  payload,
		Message:  MessageRef{ChatID: userID, MessageID: 77},
	}
}

func findIntent(intents []Intent, kind IntentKind) (Intent, bool) {
	for _, in := range intents {
		if in.Kind == kind {
			return in, true
		}
	}
	return Intent{}, false
}

func TestTextProducesProposal(t *testing.T) {
	h := newHarness()

	intents, err := h.d.Handle(context.Background(), textEvent(1, "lunch with Anna tomorrow at noon"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	send, ok := findIntent(intents, IntentSend)
	if !ok {
		t.Fatal("expected a send intent")
	}
	if send.Marker != MarkerProposal {
		t.Errorf("proposal marker missing, got %q", send.Marker)
	}
	if len(send.Keyboard) == 0 || len(send.Keyboard[0]) != 3 {
		t.Errorf("expected confirm/edit/cancel row, got %v", send.Keyboard)
	}
	if !strings.Contains(send.Text, "Lunch with Anna") {
		t.Errorf("proposal text missing summary: %q", send.Text)
	}
	if got := h.d.Store().Phase(1); got != PhaseDraftPending {
		t.Errorf("phase = %v, want draft_pending", got)
	}
	if len(h.cal.created) != 0 {
		t.Errorf("nothing should reach the calendar before confirmation")
	}
}

func TestConfirmCreatesEventExactlyOnce(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if _, err := h.d.Handle(ctx, textEvent(1, "lunch tomorrow")); err != nil {
		t.Fatalf("text: %v", err)
	}
	h.d.Store().SetProposalRef(1, MessageRef{ChatID: 1, MessageID: 77})

	intents, err := h.d.Handle(ctx, cbEvent(1, CBDraftConfirm, ""))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if len(h.cal.created) != 1 {
		t.Fatalf("created %d events, want 1", len(h.cal.created))
	}
	ack, ok := findIntent(intents, IntentAck)
	if !ok || ack.Text != msgCreated {
		t.Errorf("ack = %+v, want %q", ack, msgCreated)
	}
	if _, ok := findIntent(intents, IntentEdit); !ok {
		t.Error("expected the proposal message to be rewritten in place")
	}
	if got := h.d.Store().Phase(1); got != PhaseIdle {
		t.Errorf("phase = %v, want idle", got)
	}

	// Second tap on the same keyboard must not create a second event.
	intents, err = h.d.Handle(ctx, cbEvent(1, CBDraftConfirm, ""))
	if err != nil {
		t.Fatalf("stale confirm: %v", err)
	}
	if len(h.cal.created) != 1 {
		t.Fatalf("stale confirm created an event")
	}
	ack, ok = findIntent(intents, IntentAck)
	if !ok || ack.Text != msgProposalStale {
		t.Errorf("stale ack = %+v, want %q", ack, msgProposalStale)
	}
}

func TestCreateFailureKeepsDraft(t *testing.T) {
	h := newHarness()
	h.cal.createErr = errors.New("backend down")
	ctx := context.Background()

	if _, err := h.d.Handle(ctx, textEvent(1, "lunch tomorrow")); err != nil {
		t.Fatalf("text: %v", err)
	}

	intents, err := h.d.Handle(ctx, cbEvent(1, CBDraftConfirm, ""))
	if err == nil {
		t.Fatal("expected wrapped backend error")
	}
	send, ok := findIntent(intents, IntentSend)
	if !ok || !strings.Contains(send.Text, msgCreateFailed) {
		t.Errorf("send = %+v, want %q", send, msgCreateFailed)
	}
	if !strings.Contains(send.Text, "backend down") {
		t.Errorf("failure message should carry the backend detail: %q", send.Text)
	}
	if got := h.d.Store().Phase(1); got != PhaseDraftPending {
		t.Errorf("phase = %v, draft should stay pending for retry", got)
	}

	// Retry succeeds once the backend recovers.
	h.cal.createErr = nil
	if _, err := h.d.Handle(ctx, cbEvent(1, CBDraftConfirm, "")); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(h.cal.created) != 1 {
		t.Fatalf("created %d events after retry, want 1", len(h.cal.created))
	}
}

func TestCancelCallbackDeletesProposal(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if _, err := h.d.Handle(ctx, textEvent(1, "lunch tomorrow")); err != nil {
		t.Fatalf("text: %v", err)
	}

	intents, err := h.d.Handle(ctx, cbEvent(1, CBDraftCancel, ""))
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if ack, ok := findIntent(intents, IntentAck); !ok || ack.Text != msgCancelled {
		t.Errorf("ack = %+v, want %q", ack, msgCancelled)
	}
	if del, ok := findIntent(intents, IntentDelete); !ok || del.Ref.MessageID != 77 {
		t.Errorf("delete = %+v, want the proposal message removed", del)
	}
	if got := h.d.Store().Phase(1); got != PhaseIdle {
		t.Errorf("phase = %v, want idle", got)
	}
	if len(h.cal.created) != 0 {
		t.Error("cancel must not touch the calendar")
	}
}

func TestEditReextractsWithCorrection(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if _, err := h.d.Handle(ctx, textEvent(1, "lunch tomorrow")); err != nil {
		t.Fatalf("text: %v", err)
	}
	h.d.Store().SetProposalRef(1, MessageRef{ChatID: 1, MessageID: 55})

	if _, err := h.d.Handle(ctx, cbEvent(1, CBDraftEdit, "")); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if got := h.d.Store().Phase(1); got != PhaseAwaitingEditText {
		t.Fatalf("phase = %v, want awaiting_edit_text", got)
	}

	intents, err := h.d.Handle(ctx, textEvent(1, "make it 5pm"))
	if err != nil {
		t.Fatalf("correction: %v", err)
	}

	last := h.ex.inputs[len(h.ex.inputs)-1]
	if !strings.Contains(last, "Correction: make it 5pm") {
		t.Errorf("extractor input missing correction: %q", last)
	}
	if !strings.Contains(last, "Lunch with Anna") {
		t.Errorf("extractor input missing prior summary: %q", last)
	}

	if del, ok := findIntent(intents, IntentDelete); !ok || del.Ref.MessageID != 55 {
		t.Errorf("old proposal should be deleted, got %+v", del)
	}
	if send, ok := findIntent(intents, IntentSend); !ok || send.Marker != MarkerProposal {
		t.Error("expected a fresh proposal message")
	}
	if got := h.d.Store().Phase(1); got != PhaseDraftPending {
		t.Errorf("phase = %v, want draft_pending", got)
	}
}

func TestExtractionFailureKeepsAwaitingEdit(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if _, err := h.d.Handle(ctx, textEvent(1, "lunch tomorrow")); err != nil {
		t.Fatalf("text: %v", err)
	}
	if _, err := h.d.Handle(ctx, cbEvent(1, CBDraftEdit, "")); err != nil {
		t.Fatalf("edit: %v", err)
	}

	h.ex.err = errors.New("no event in text")
	intents, err := h.d.Handle(ctx, textEvent(1, "gibberish"))
	if err != nil {
		t.Fatalf("correction: %v", err)
	}
	if send, ok := findIntent(intents, IntentSend); !ok || send.Text != msgExtractFailed {
		t.Errorf("send = %+v, want %q", send, msgExtractFailed)
	}
	if got := h.d.Store().Phase(1); got != PhaseAwaitingEditText {
		t.Errorf("phase = %v, user should be able to retry the correction", got)
	}
}

func TestNewDraftReplacesPendingOne(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if _, err := h.d.Handle(ctx, textEvent(1, "lunch tomorrow")); err != nil {
		t.Fatalf("first text: %v", err)
	}
	h.d.Store().SetProposalRef(1, MessageRef{ChatID: 1, MessageID: 31})

	intents, err := h.d.Handle(ctx, textEvent(1, "dentist on friday"))
	if err != nil {
		t.Fatalf("second text: %v", err)
	}

	if del, ok := findIntent(intents, IntentDelete); !ok || del.Ref.MessageID != 31 {
		t.Errorf("stale proposal should be deleted, got %+v", del)
	}
	if got := h.d.Store().Phase(1); got != PhaseDraftPending {
		t.Errorf("phase = %v, want draft_pending", got)
	}
}

func hasAuthButton(in Intent) bool {
	for _, row := range in.Keyboard {
		for _, b := range row {
			if b.Callback == CBMenuAuth {
				return true
			}
		}
	}
	return false
}

func TestUnauthorizedTextPromptsConnect(t *testing.T) {
	h := newHarness()
	h.us.authorized = false
	ctx := context.Background()

	intents, err := h.d.Handle(ctx, textEvent(1, "lunch tomorrow"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(h.ex.inputs) != 0 {
		t.Error("extraction must not run for unauthorized users")
	}
	send, ok := findIntent(intents, IntentSend)
	if !ok || !hasAuthButton(send) {
		t.Errorf("send = %+v, want the connect affordance", send)
	}
	if got := h.d.Store().Phase(1); got != PhaseIdle {
		t.Errorf("phase = %v, gated text must not create state", got)
	}
	if st := h.d.Store().Snapshot(); st.AuthFlows != 0 {
		t.Errorf("auth flows = %d, want 0 before the user acts", st.AuthFlows)
	}

	// The next description is plain text again, never an OAuth code.
	intents, err = h.d.Handle(ctx, textEvent(1, "dentist on friday at 10am"))
	if err != nil {
		t.Fatalf("second text: %v", err)
	}
	if len(h.au.completed) != 0 {
		t.Fatalf("text was exchanged as an auth code: %v", h.au.completed)
	}
	if send, ok := findIntent(intents, IntentSend); !ok || !hasAuthButton(send) {
		t.Errorf("second send = %+v, want the connect affordance again", send)
	}
}

func TestStartUnauthorizedOffersConnect(t *testing.T) {
	h := newHarness()
	h.us.authorized = false

	intents, err := h.d.Handle(context.Background(), cmdEvent(1, "/start"))
	if err != nil {
		t.Fatalf("/start: %v", err)
	}

	var offered bool
	for _, in := range intents {
		if in.Kind == IntentSend && hasAuthButton(in) {
			offered = true
		}
	}
	if !offered {
		t.Error("greeting should be followed by the connect affordance")
	}
	if got := h.d.Store().Phase(1); got != PhaseIdle {
		t.Errorf("phase = %v, /start must not start a flow", got)
	}
}

func TestConnectReissuesGrantWhenAuthorized(t *testing.T) {
	h := newHarness() // authorized user

	intents, err := h.d.Handle(context.Background(), cmdEvent(1, "/connect"))
	if err != nil {
		t.Fatalf("/connect: %v", err)
	}

	send, ok := findIntent(intents, IntentSend)
	if !ok || len(send.Keyboard) == 0 || send.Keyboard[0][0].URL == "" {
		t.Errorf("send = %+v, want a fresh grant URL for re-authorization", send)
	}
	if got := h.d.Store().Phase(1); got != PhaseAwaitingAuthCode {
		t.Errorf("phase = %v, want awaiting_auth_code", got)
	}
}

func TestAuthCommandStartsFlow(t *testing.T) {
	h := newHarness()

	if _, err := h.d.Handle(context.Background(), cmdEvent(1, "/auth")); err != nil {
		t.Fatalf("/auth: %v", err)
	}
	if got := h.d.Store().Phase(1); got != PhaseAwaitingAuthCode {
		t.Errorf("phase = %v, want awaiting_auth_code", got)
	}
}

func TestAuthCodeCompletesFlow(t *testing.T) {
	h := newHarness()
	h.us.authorized = false
	ctx := context.Background()

	if _, err := h.d.Handle(ctx, cmdEvent(1, "/connect")); err != nil {
		t.Fatalf("prompt: %v", err)
	}

	h.us.authorized = true // credential lands during Complete
	intents, err := h.d.Handle(ctx, textEvent(1, "  4/0AbCdEf  "))
	if err != nil {
		t.Fatalf("code: %v", err)
	}

	if len(h.au.completed) != 1 {
		t.Fatalf("Complete called %d times, want 1", len(h.au.completed))
	}
	if got := h.au.completed[0]; got[0] != "flow-1" || got[1] != "4/0AbCdEf" {
		t.Errorf("Complete(%q, %q), want flow-1 with trimmed code", got[0], got[1])
	}
	if send, ok := findIntent(intents, IntentSend); !ok || send.Text != msgAuthDone {
		t.Errorf("send = %+v, want %q", send, msgAuthDone)
	}
	if got := h.d.Store().Phase(1); got != PhaseIdle {
		t.Errorf("phase = %v, want idle", got)
	}
}

func TestAuthCodeFailureConsumesFlow(t *testing.T) {
	h := newHarness()
	h.us.authorized = false
	h.au.completeErr = errors.New("invalid_grant")
	ctx := context.Background()

	if _, err := h.d.Handle(ctx, cmdEvent(1, "/connect")); err != nil {
		t.Fatalf("prompt: %v", err)
	}

	intents, err := h.d.Handle(ctx, textEvent(1, "bad-code"))
	if err != nil {
		t.Fatalf("code: %v", err)
	}
	if send, ok := findIntent(intents, IntentSend); !ok || send.Text != msgAuthFailed {
		t.Errorf("send = %+v, want %q", send, msgAuthFailed)
	}
	// The failed flow is consumed; the next text starts a fresh one instead
	// of retrying the dead code exchange.
	if got := h.d.Store().Phase(1); got == PhaseAwaitingAuthCode {
		t.Errorf("phase still awaiting_auth_code after failed exchange")
	}
}

func TestCommandCancelsContinuationButKeepsDraft(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if _, err := h.d.Handle(ctx, textEvent(1, "lunch tomorrow")); err != nil {
		t.Fatalf("text: %v", err)
	}
	if _, err := h.d.Handle(ctx, cbEvent(1, CBDraftEdit, "")); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if got := h.d.Store().Phase(1); got != PhaseAwaitingEditText {
		t.Fatalf("phase = %v, want awaiting_edit_text", got)
	}

	if _, err := h.d.Handle(ctx, cmdEvent(1, "/help")); err != nil {
		t.Fatalf("/help: %v", err)
	}

	// The one-shot edit continuation is gone but the draft still waits.
	if got := h.d.Store().Phase(1); got != PhaseDraftPending {
		t.Errorf("phase = %v, want draft_pending", got)
	}
}

func TestCancelCommandClearsDraftAndFlow(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if _, err := h.d.Handle(ctx, textEvent(1, "lunch tomorrow")); err != nil {
		t.Fatalf("text: %v", err)
	}
	h.d.Store().SetProposalRef(1, MessageRef{ChatID: 1, MessageID: 12})

	intents, err := h.d.Handle(ctx, cmdEvent(1, "/cancel"))
	if err != nil {
		t.Fatalf("/cancel: %v", err)
	}
	if del, ok := findIntent(intents, IntentDelete); !ok || del.Ref.MessageID != 12 {
		t.Errorf("proposal message should be deleted, got %+v", del)
	}
	if got := h.d.Store().Phase(1); got != PhaseIdle {
		t.Errorf("phase = %v, want idle", got)
	}

	intents, err = h.d.Handle(ctx, cmdEvent(1, "/cancel"))
	if err != nil {
		t.Fatalf("second /cancel: %v", err)
	}
	if send, ok := findIntent(intents, IntentSend); !ok || send.Text != msgNothingToCancel {
		t.Errorf("send = %+v, want %q", send, msgNothingToCancel)
	}
}

func TestListEmptyAndPopulated(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	intents, err := h.d.Handle(ctx, cmdEvent(1, "/list"))
	if err != nil {
		t.Fatalf("/list: %v", err)
	}
	if send, ok := findIntent(intents, IntentSend); !ok || send.Text != msgListEmpty {
		t.Errorf("send = %+v, want %q", send, msgListEmpty)
	}

	h.cal.items = []EventItem{
		{ID: "a", Summary: "Standup", Start: time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC)},
		{ID: "b", Summary: "Dentist", Start: time.Date(2026, 9, 3, 10, 0, 0, 0, time.UTC)},
	}
	intents, err = h.d.Handle(ctx, cmdEvent(1, "/list"))
	if err != nil {
		t.Fatalf("/list: %v", err)
	}
	send, ok := findIntent(intents, IntentSend)
	if !ok {
		t.Fatal("expected list message")
	}
	// One row per event plus the refresh row.
	if len(send.Keyboard) != 3 {
		t.Fatalf("keyboard rows = %d, want 3", len(send.Keyboard))
	}
	if send.Keyboard[0][0].Payload != "a" || send.Keyboard[1][0].Payload != "b" {
		t.Errorf("event buttons should carry event ids, got %v", send.Keyboard)
	}
}

func TestListExpiredCredentialPromptsConnect(t *testing.T) {
	h := newHarness()
	h.cal.listErr = WrapFacade("calendar.list", "UNAUTHORIZED", ErrUnauthorized)
	ctx := context.Background()

	intents, err := h.d.Handle(ctx, cmdEvent(1, "/list"))
	if err != nil {
		t.Fatalf("/list: %v", err)
	}
	send, ok := findIntent(intents, IntentSend)
	if !ok || !hasAuthButton(send) {
		t.Errorf("send = %+v, want the connect affordance", send)
	}
	if got := h.d.Store().Phase(1); got != PhaseIdle {
		t.Errorf("phase = %v, expired credential must not start a flow by itself", got)
	}
}

func TestDeleteCallbackRemovesEventAndRefreshes(t *testing.T) {
	h := newHarness()
	h.cal.items = []EventItem{
		{ID: "a", Summary: "Standup", Start: time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC)},
	}
	ctx := context.Background()

	intents, err := h.d.Handle(ctx, cbEvent(1, CBListDelete, "a"))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(h.cal.deleted) != 1 || h.cal.deleted[0] != "a" {
		t.Fatalf("deleted = %v, want [a]", h.cal.deleted)
	}
	if ack, ok := findIntent(intents, IntentAck); !ok || ack.Text != msgDeleted {
		t.Errorf("ack = %+v, want %q", ack, msgDeleted)
	}
	if _, ok := findIntent(intents, IntentEdit); !ok {
		t.Error("list message should be refreshed in place")
	}
}

func TestDeleteFailureOnlyToasts(t *testing.T) {
	h := newHarness()
	h.cal.deleteErr = errors.New("gone")
	ctx := context.Background()

	intents, err := h.d.Handle(ctx, cbEvent(1, CBListDelete, "a"))
	if err == nil {
		t.Fatal("expected wrapped backend error")
	}
	ack, ok := findIntent(intents, IntentAck)
	if !ok || !strings.Contains(ack.Text, msgDeleteFailed) {
		t.Errorf("ack = %+v, want %q", ack, msgDeleteFailed)
	}
	if !strings.Contains(ack.Text, "gone") {
		t.Errorf("toast should carry the backend detail: %q", ack.Text)
	}
}

func TestUsersAreIndependent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if _, err := h.d.Handle(ctx, textEvent(1, "lunch tomorrow")); err != nil {
		t.Fatalf("user 1: %v", err)
	}
	if got := h.d.Store().Phase(2); got != PhaseIdle {
		t.Errorf("user 2 phase = %v, want idle", got)
	}

	if _, err := h.d.Handle(ctx, cbEvent(2, CBDraftConfirm, "")); err != nil {
		t.Fatalf("user 2 stale confirm: %v", err)
	}
	if len(h.cal.created) != 0 {
		t.Error("user 2 must not confirm user 1's draft")
	}
	if got := h.d.Store().Phase(1); got != PhaseDraftPending {
		t.Errorf("user 1 phase = %v, want draft_pending", got)
	}
}

func TestSameUserHandledSequentially(t *testing.T) {
	h := newHarness()
	h.ex.delay = 20 * time.Millisecond
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.d.Handle(ctx, textEvent(1, "lunch tomorrow"))
		}()
	}
	wg.Wait()

	// Serialized handling means every extraction saw a consistent store:
	// exactly one draft survives and it is the pending one.
	if got := h.d.Store().Phase(1); got != PhaseDraftPending {
		t.Errorf("phase = %v, want draft_pending", got)
	}
	st := h.d.Store().Snapshot()
	if st.Drafts != 1 {
		t.Errorf("drafts = %d, want 1", st.Drafts)
	}
}

func TestStartGreetsAndUpsertsProfile(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	ev := cmdEvent(1, "/start")
	ev.Profile = &Profile{ID: 1, Username: "anna", FirstName: "Anna"}

	intents, err := h.d.Handle(ctx, ev)
	if err != nil {
		t.Fatalf("/start: %v", err)
	}
	if len(h.us.upserts) != 1 || h.us.upserts[0].Username != "anna" {
		t.Errorf("upserts = %v, want the sender profile", h.us.upserts)
	}
	if send, ok := findIntent(intents, IntentSend); !ok || send.Text != msgGreeting {
		t.Errorf("send = %+v, want greeting", send)
	} else if len(send.Keyboard) == 0 {
		t.Error("greeting should carry the main menu keyboard")
	}
}

func TestProposalShowsCategoryColor(t *testing.T) {
	h := newHarness()
	h.ex.draft.Category = "Work"
	h.us.settings = Settings{Colors: map[string]string{"Work": "Tomato"}}

	intents, err := h.d.Handle(context.Background(), textEvent(1, "standup tomorrow at 9"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	send, ok := findIntent(intents, IntentSend)
	if !ok {
		t.Fatal("expected a send intent")
	}
	if !strings.Contains(send.Text, "Work (Tomato)") {
		t.Errorf("proposal missing category color: %q", send.Text)
	}
}

func TestProposalUnknownCategoryFallsBack(t *testing.T) {
	h := newHarness()
	h.ex.draft.Category = "Hobby"

	intents, err := h.d.Handle(context.Background(), textEvent(1, "guitar practice tonight"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	send, _ := findIntent(intents, IntentSend)
	if !strings.Contains(send.Text, "Hobby (Default)") {
		t.Errorf("proposal should fall back to the default color: %q", send.Text)
	}
}

func TestMenuCreatePromptsForText(t *testing.T) {
	h := newHarness()

	intents, err := h.d.Handle(context.Background(), cbEvent(1, CBMenuCreate, ""))
	if err != nil {
		t.Fatalf("menu create: %v", err)
	}
	if send, ok := findIntent(intents, IntentSend); !ok || send.Text != msgCreateHint {
		t.Errorf("send = %+v, want the create hint", send)
	}
	if got := h.d.Store().Phase(1); got != PhaseIdle {
		t.Errorf("phase = %v, want idle", got)
	}
}

func TestMenuCreateRequiresAuth(t *testing.T) {
	h := newHarness()
	h.us.authorized = false

	intents, err := h.d.Handle(context.Background(), cbEvent(1, CBMenuCreate, ""))
	if err != nil {
		t.Fatalf("menu create: %v", err)
	}
	send, ok := findIntent(intents, IntentSend)
	if !ok || !hasAuthButton(send) {
		t.Errorf("send = %+v, want the connect affordance", send)
	}
	if send.Text == msgCreateHint {
		t.Error("unauthorized user must not get the create hint")
	}
}

func TestHelpRegistersProfile(t *testing.T) {
	h := newHarness()

	ev := cmdEvent(1, "/help")
	ev.Profile = &Profile{ID: 1, Username: "anna", FirstName: "Anna"}

	intents, err := h.d.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("/help: %v", err)
	}
	if len(h.us.upserts) != 1 || h.us.upserts[0].Username != "anna" {
		t.Errorf("upserts = %v, want the sender profile", h.us.upserts)
	}
	if send, ok := findIntent(intents, IntentSend); !ok || send.Text != msgHelp {
		t.Errorf("send = %+v, want the help text", send)
	}
}

func TestMenuListShowsEvents(t *testing.T) {
	h := newHarness()
	h.cal.items = []EventItem{
		{ID: "a", Summary: "Standup", Start: time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC)},
	}

	intents, err := h.d.Handle(context.Background(), cbEvent(1, CBMenuList, ""))
	if err != nil {
		t.Fatalf("menu list: %v", err)
	}
	send, ok := findIntent(intents, IntentSend)
	if !ok || send.Text != msgListHeader {
		t.Errorf("send = %+v, want the list header", send)
	}
}

func TestListViewUsesLastOverview(t *testing.T) {
	h := newHarness()
	h.cal.items = []EventItem{
		{ID: "a", Summary: "Standup", Start: time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC)},
	}
	ctx := context.Background()

	if _, err := h.d.Handle(ctx, cmdEvent(1, "/list")); err != nil {
		t.Fatalf("/list: %v", err)
	}
	calls := h.cal.listCalls

	intents, err := h.d.Handle(ctx, cbEvent(1, CBListView, "a"))
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	edit, ok := findIntent(intents, IntentEdit)
	if !ok || !strings.Contains(edit.Text, "Standup") {
		t.Errorf("edit = %+v, want the event detail", edit)
	}
	if h.cal.listCalls != calls {
		t.Errorf("drill-down made %d extra backend calls", h.cal.listCalls-calls)
	}

	// An ID the overview never showed gets a toast, not a lookup.
	intents, err = h.d.Handle(ctx, cbEvent(1, CBListView, "zzz"))
	if err != nil {
		t.Fatalf("stale view: %v", err)
	}
	if ack, ok := findIntent(intents, IntentAck); !ok || ack.Text != msgEventGone {
		t.Errorf("ack = %+v, want %q", ack, msgEventGone)
	}
	if h.cal.listCalls != calls {
		t.Errorf("stale drill-down hit the backend")
	}
}
