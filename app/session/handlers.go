package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"planify/core/logger"
)

func (d *Dispatcher) handleCommand(ctx context.Context, e *entry, ev InboundEvent) ([]Intent, error) {
	// A command always cancels a pending one-shot continuation. The draft
	// itself survives everything except /cancel.
	if e.phase == PhaseAwaitingAuthCode || e.phase == PhaseAwaitingEditText {
		e.phase = e.basePhase()
	}

	switch ev.Command {
	case "/start":
		return d.cmdStart(ctx, e, ev)
	case "/help":
		d.registerProfile(ctx, ev)
		return []Intent{SendKB(msgHelp, renderMenu())}, nil
	case "/connect", "/auth":
		return d.cmdConnect(ctx, e, ev)
	case "/list":
		return d.cmdList(ctx, e, ev)
	case "/settings":
		return d.cmdSettings(ctx, ev)
	case "/cancel":
		return d.cmdCancel(e), nil
	default:
		return []Intent{Send(msgUnknownCommand)}, nil
	}
}

func (d *Dispatcher) cmdStart(ctx context.Context, e *entry, ev InboundEvent) ([]Intent, error) {
	d.registerProfile(ctx, ev)

	intents := []Intent{SendKB(msgGreeting, renderMenu())}

	ok, err := d.authorized(ctx, ev.UserID)
	if err != nil {
		return intents, WrapFacade("users.authorized", "USERS_BACKEND", err)
	}
	if !ok {
		intents = append(intents, SendKB(renderAuthRequired()))
	}
	return intents, nil
}

// registerProfile keeps the sender's profile current. Failures are logged
// and swallowed so greeting a user never depends on the database.
func (d *Dispatcher) registerProfile(ctx context.Context, ev InboundEvent) {
	if ev.Profile == nil {
		return
	}
	if err := d.upsertUser(ctx, *ev.Profile); err != nil {
		logger.Warn(ctx, "session", "user.upsert.fail",
			slog.Int64("user_id", ev.UserID),
			slog.String("err", err.Error()),
		)
	}
}

// cmdConnect always issues a fresh grant URL, even for users with a stored
// credential, so a revoked or broken token can be replaced.
func (d *Dispatcher) cmdConnect(ctx context.Context, e *entry, ev InboundEvent) ([]Intent, error) {
	return d.beginAuth(ctx, e, ev.UserID)
}

func (d *Dispatcher) cmdList(ctx context.Context, e *entry, ev InboundEvent) ([]Intent, error) {
	ok, err := d.authorized(ctx, ev.UserID)
	if err != nil {
		return []Intent{Send(msgListFailed)}, WrapFacade("users.authorized", "USERS_BACKEND", err)
	}
	if !ok {
		return []Intent{SendKB(renderAuthRequired())}, nil
	}

	items, err := d.listEvents(ctx, ev.UserID)
	if errors.Is(err, ErrUnauthorized) {
		return []Intent{SendKB(renderAuthRequired())}, nil
	}
	if err != nil {
		return []Intent{Send(failureText(msgListFailed, err))}, WrapFacade("calendar.list", "CALENDAR_BACKEND", err)
	}

	e.listed = items
	text, kb := renderList(items)
	return []Intent{SendKB(text, kb)}, nil
}

func (d *Dispatcher) cmdSettings(ctx context.Context, ev InboundEvent) ([]Intent, error) {
	s, err := d.getSettings(ctx, ev.UserID)
	if err != nil {
		return []Intent{Send(msgListFailed)}, WrapFacade("users.settings", "USERS_BACKEND", err)
	}
	return []Intent{Send(renderSettings(s))}, nil
}

func (d *Dispatcher) cmdCancel(e *entry) []Intent {
	var intents []Intent
	switch {
	case e.draft != nil:
		if !e.draft.ProposalRef.IsZero() {
			intents = append(intents, DeleteMsg(e.draft.ProposalRef))
		}
		e.draft = nil
		intents = append(intents, Send(msgCancelled))
	case e.flow != nil:
		intents = append(intents, Send(msgCancelled))
	default:
		intents = append(intents, Send(msgNothingToCancel))
	}
	e.flow = nil
	e.phase = PhaseIdle
	return intents
}

func (d *Dispatcher) handleText(ctx context.Context, e *entry, ev InboundEvent) ([]Intent, error) {
	switch e.phase {
	case PhaseAwaitingAuthCode:
		return d.textAuthCode(ctx, e, ev)
	case PhaseAwaitingEditText:
		return d.textCorrection(ctx, e, ev)
	default:
		return d.textNewDraft(ctx, e, ev)
	}
}

func (d *Dispatcher) textAuthCode(ctx context.Context, e *entry, ev InboundEvent) ([]Intent, error) {
	if e.flow == nil {
		// Lost flow (restart); fall back to normal text handling.
		e.phase = e.basePhase()
		return d.textNewDraft(ctx, e, ev)
	}

	code := strings.TrimSpace(ev.Text)
	err := d.authComplete(ctx, ev.UserID, e.flow.ID, code)

	// The flow is consumed either way; a failed exchange needs a fresh URL.
	e.flow = nil
	e.phase = e.basePhase()

	if err != nil {
		logger.Warn(ctx, "session", "auth.complete.fail",
			slog.Int64("user_id", ev.UserID),
			slog.String("err", err.Error()),
		)
		return []Intent{Send(msgAuthFailed)}, nil
	}

	logger.Info(ctx, "session", "auth.complete.ok", slog.Int64("user_id", ev.UserID))
	return []Intent{Send(msgAuthDone)}, nil
}

func (d *Dispatcher) textCorrection(ctx context.Context, e *entry, ev InboundEvent) ([]Intent, error) {
	if e.draft == nil {
		e.phase = PhaseIdle
		return d.textNewDraft(ctx, e, ev)
	}

	composite := correctionText(*e.draft, ev.Text)
	draft, err := d.extract(ctx, composite, ev.Now)
	if err != nil {
		// Still awaiting the correction; the user can just try again.
		return []Intent{Send(msgExtractFailed)}, nil
	}
	draft.Source = composite

	oldRef := e.draft.ProposalRef
	e.draft = &draft
	e.phase = PhaseDraftPending

	return proposalIntents(draft, d.draftColor(ctx, ev.UserID, draft), oldRef), nil
}

func (d *Dispatcher) textNewDraft(ctx context.Context, e *entry, ev InboundEvent) ([]Intent, error) {
	ok, err := d.authorized(ctx, ev.UserID)
	if err != nil {
		return []Intent{Send(msgTryAgain)}, WrapFacade("users.authorized", "USERS_BACKEND", err)
	}
	if !ok {
		// No flow starts here; the user has to take the auth action first.
		return []Intent{SendKB(renderAuthRequired())}, nil
	}

	draft, err := d.extract(ctx, ev.Text, ev.Now)
	if err != nil {
		logger.Debug(ctx, "session", "extract.fail",
			slog.Int64("user_id", ev.UserID),
			slog.String("err", err.Error()),
		)
		return []Intent{Send(msgExtractFailed)}, nil
	}
	draft.Source = ev.Text

	// A fresh draft replaces any pending one; its proposal message goes away.
	var oldRef MessageRef
	if e.draft != nil {
		oldRef = e.draft.ProposalRef
	}
	e.draft = &draft
	e.phase = PhaseDraftPending

	return proposalIntents(draft, d.draftColor(ctx, ev.UserID, draft), oldRef), nil
}

// draftColor resolves the draft category against the user's color map.
// Settings lookup failures fall back to the default palette.
func (d *Dispatcher) draftColor(ctx context.Context, userID int64, draft Draft) string {
	s, err := d.getSettings(ctx, userID)
	if err != nil {
		return Settings{}.ColorFor(draft.Category)
	}
	return s.ColorFor(draft.Category)
}

func proposalIntents(d Draft, color string, oldRef MessageRef) []Intent {
	var intents []Intent
	if !oldRef.IsZero() {
		intents = append(intents, DeleteMsg(oldRef))
	}
	text, kb := renderProposal(d, color)
	in := SendKB(text, kb)
	in.Marker = MarkerProposal
	return append(intents, in)
}

func (d *Dispatcher) handleCallback(ctx context.Context, e *entry, ev InboundEvent) ([]Intent, error) {
	switch ev.Callback {
	case CBDraftConfirm:
		return d.cbDraftConfirm(ctx, e, ev)
	case CBDraftEdit:
		return d.cbDraftEdit(e), nil
	case CBDraftCancel:
		return d.cbDraftCancel(e, ev), nil
	case CBListRefresh:
		return d.cbListRefresh(ctx, e, ev)
	case CBListView:
		return d.cbListView(e, ev), nil
	case CBListDelete:
		return d.cbListDelete(ctx, e, ev)
	case CBListBack:
		return d.cbListBack(e, ev), nil
	case CBMenuCreate:
		return d.cbMenuCreate(ctx, ev)
	case CBMenuList:
		intents, err := d.cmdList(ctx, e, ev)
		return append([]Intent{Ack("")}, intents...), err
	case CBMenuSettings:
		intents, err := d.cmdSettings(ctx, ev)
		return append([]Intent{Ack("")}, intents...), err
	case CBMenuAuth:
		intents, err := d.cmdConnect(ctx, e, ev)
		return append([]Intent{Ack("")}, intents...), err
	default:
		return []Intent{Ack(msgProposalStale)}, nil
	}
}

func (d *Dispatcher) cbDraftConfirm(ctx context.Context, e *entry, ev InboundEvent) ([]Intent, error) {
	if e.draft == nil {
		return []Intent{Ack(msgProposalStale)}, nil
	}

	item, err := d.createEvent(ctx, ev.UserID, *e.draft)
	if errors.Is(err, ErrUnauthorized) {
		// Draft stays pending; confirmation works once the user reconnects.
		return []Intent{Ack(msgAuthNeeded), SendKB(renderAuthRequired())}, nil
	}
	if err != nil {
		// Draft stays pending so the user can retry confirmation.
		return []Intent{Ack(""), Send(failureText(msgCreateFailed, err))}, WrapFacade("calendar.create", "CALENDAR_BACKEND", err)
	}

	ref := ev.Message
	if ref.IsZero() {
		ref = e.draft.ProposalRef
	}
	e.draft = nil
	e.phase = PhaseIdle

	logger.Info(ctx, "session", "draft.confirm.ok",
		slog.Int64("user_id", ev.UserID),
		slog.String("event_id", item.ID),
		slog.String("draft_summary", logger.SanitizeLimit(item.Summary, 128)),
	)

	return []Intent{Ack(msgCreated), EditMsg(ref, renderCreated(item), nil)}, nil
}

func (d *Dispatcher) cbDraftEdit(e *entry) []Intent {
	if e.draft == nil {
		return []Intent{Ack(msgProposalStale)}
	}
	e.phase = PhaseAwaitingEditText
	return []Intent{Ack(""), Send(msgEditPrompt)}
}

func (d *Dispatcher) cbDraftCancel(e *entry, ev InboundEvent) []Intent {
	if e.draft == nil {
		return []Intent{Ack(msgProposalStale)}
	}

	ref := ev.Message
	if ref.IsZero() {
		ref = e.draft.ProposalRef
	}
	e.draft = nil
	e.phase = PhaseIdle

	intents := []Intent{Ack(msgCancelled)}
	if !ref.IsZero() {
		intents = append(intents, DeleteMsg(ref))
	}
	return intents
}

func (d *Dispatcher) cbListRefresh(ctx context.Context, e *entry, ev InboundEvent) ([]Intent, error) {
	items, err := d.listEvents(ctx, ev.UserID)
	if errors.Is(err, ErrUnauthorized) {
		return []Intent{Ack(msgAuthNeeded), SendKB(renderAuthRequired())}, nil
	}
	if err != nil {
		return []Intent{Ack(failureText(msgListFailed, err))}, WrapFacade("calendar.list", "CALENDAR_BACKEND", err)
	}

	e.listed = items
	text, kb := renderList(items)
	intents := []Intent{Ack("")}
	if !ev.Message.IsZero() {
		intents = append(intents, DeleteMsg(ev.Message))
	}
	return append(intents, SendKB(text, kb)), nil
}

// cbListView edits the overview into a detail view. It works off the last
// rendered overview, so a stale keyboard never triggers a backend call.
func (d *Dispatcher) cbListView(e *entry, ev InboundEvent) []Intent {
	for _, it := range e.listed {
		if it.ID == ev.Payload {
			text, kb := renderEventDetail(it)
			return []Intent{Ack(""), EditMsg(ev.Message, text, kb)}
		}
	}

	text, kb := renderList(e.listed)
	return []Intent{Ack(msgEventGone), EditMsg(ev.Message, text, kb)}
}

func (d *Dispatcher) cbListDelete(ctx context.Context, e *entry, ev InboundEvent) ([]Intent, error) {
	err := d.deleteEvent(ctx, ev.UserID, ev.Payload)
	if errors.Is(err, ErrUnauthorized) {
		return []Intent{Ack(msgAuthNeeded), SendKB(renderAuthRequired())}, nil
	}
	if err != nil {
		return []Intent{Ack(failureText(msgDeleteFailed, err))}, WrapFacade("calendar.delete", "CALENDAR_BACKEND", err)
	}

	logger.Info(ctx, "session", "event.delete.ok",
		slog.Int64("user_id", ev.UserID),
		slog.String("event_id", ev.Payload),
	)

	items, err := d.listEvents(ctx, ev.UserID)
	if err != nil {
		// Deleted fine; just could not refresh the overview.
		return []Intent{Ack(msgDeleted)}, nil
	}
	e.listed = items
	text, kb := renderList(items)
	return []Intent{Ack(msgDeleted), EditMsg(ev.Message, text, kb)}, nil
}

func (d *Dispatcher) cbListBack(e *entry, ev InboundEvent) []Intent {
	text, kb := renderList(e.listed)
	return []Intent{Ack(""), EditMsg(ev.Message, text, kb)}
}

func (d *Dispatcher) cbMenuCreate(ctx context.Context, ev InboundEvent) ([]Intent, error) {
	ok, err := d.authorized(ctx, ev.UserID)
	if err != nil {
		return []Intent{Ack(msgTryAgain)}, WrapFacade("users.authorized", "USERS_BACKEND", err)
	}
	if !ok {
		return []Intent{Ack(""), SendKB(renderAuthRequired())}, nil
	}
	return []Intent{Ack(""), Send(msgCreateHint)}, nil
}

// beginAuth starts (or restarts) an authorization flow and produces the
// grant prompt. Any previous flow is superseded.
func (d *Dispatcher) beginAuth(ctx context.Context, e *entry, userID int64) ([]Intent, error) {
	flow, err := d.authInitiate(ctx, userID)
	if err != nil {
		return []Intent{Send(msgAuthStartFailed)}, WrapFacade("auth.initiate", "AUTH_BACKEND", err)
	}

	e.flow = &flow
	e.phase = PhaseAwaitingAuthCode

	logger.Info(ctx, "session", "auth.initiate",
		slog.Int64("user_id", userID),
		slog.String("flow_id", flow.ID),
	)

	text, kb := renderAuthPrompt(flow)
	return []Intent{SendKB(text, kb)}, nil
}

func (d *Dispatcher) upsertUser(ctx context.Context, p Profile) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.AuthTimeout)
	defer cancel()
	return d.users.Upsert(ctx, p)
}

func (d *Dispatcher) getSettings(ctx context.Context, userID int64) (Settings, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.AuthTimeout)
	defer cancel()
	return d.users.GetSettings(ctx, userID)
}
