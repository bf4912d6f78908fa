package bot

import (
	"log/slog"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	"planify/app/session"
	"planify/core/logger"
	"planify/core/telegram/callbacks"
	tghelpers "planify/core/telegram/helpers"
	"planify/core/telegram/keyboard"
)

// inboundBase fills the transport-independent envelope from the update.
func inboundBase(c tele.Context) session.InboundEvent {
	ev := session.InboundEvent{Now: time.Now()}
	if u := c.Sender(); u != nil {
		ev.UserID = u.ID
	}
	if ch := c.Chat(); ch != nil {
		ev.ChatID = ch.ID
	}
	return ev
}

func profileOf(c tele.Context) *session.Profile {
	u := c.Sender()
	if u == nil {
		return nil
	}
	return &session.Profile{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		Language:  u.LanguageCode,
	}
}

func textEvent(c tele.Context) session.InboundEvent {
	ev := inboundBase(c)
	ev.Kind = session.KindText
	ev.Text = c.Text()
	return ev
}

func commandEvent(c tele.Context, cmd string) session.InboundEvent {
	ev := inboundBase(c)
	ev.Kind = session.KindCommand
	ev.Command = cmd
	return ev
}

func callbackEvent(c tele.Context, key string) session.InboundEvent {
	ev := inboundBase(c)
	ev.Kind = session.KindCallback
	ev.Callback = key

	cb := c.Callback()
	if cb != nil {
		if cb.Unique != "" {
			ev.Payload = cb.Data
		} else {
			_, ev.Payload = callbacks.ParseCallbackData(cb)
		}
		if cb.Message != nil {
			ev.Message = session.MessageRef{
				ChatID:    ev.ChatID,
				MessageID: cb.Message.ID,
			}
		}
	}
	return ev
}

// dispatch runs the event through the state machine and applies the
// resulting intents against the transport.
func (a *App) dispatch(c tele.Context, ev session.InboundEvent) error {
	ctx := tghelpers.BuildContext(c)

	intents, err := a.sessions.Handle(ctx, ev)
	applyErr := a.applyIntents(c, ev, intents)

	if err != nil {
		return err
	}
	return applyErr
}

func (a *App) applyIntents(c tele.Context, ev session.InboundEvent, intents []session.Intent) error {
	var firstErr error
	for _, in := range intents {
		if err := a.applyIntent(c, ev, in); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *App) applyIntent(c tele.Context, ev session.InboundEvent, in session.Intent) error {
	switch in.Kind {
	case session.IntentAck:
		if c.Callback() == nil {
			return nil
		}
		resp := &tele.CallbackResponse{Text: in.Text}
		return c.Respond(resp)

	case session.IntentSend:
		markup := toMarkup(in.Keyboard)
		if in.Marker == session.MarkerProposal {
			// Proposal messages are sent synchronously: the message ID must
			// flow back into the draft before the user can press a button.
			opts := &tele.SendOptions{ParseMode: tele.ModeMarkdown, ReplyMarkup: markup}
			msg, err := c.Bot().Send(&tele.Chat{ID: ev.ChatID}, in.Text, opts)
			if err != nil {
				return err
			}
			a.sessions.Store().SetProposalRef(ev.UserID, session.MessageRef{
				ChatID:    ev.ChatID,
				MessageID: msg.ID,
			})
			return nil
		}
		if markup != nil {
			return tghelpers.SendMD(c, in.Text, markup)
		}
		return tghelpers.SendMD(c, in.Text)

	case session.IntentEdit:
		opts := &tele.SendOptions{ParseMode: tele.ModeMarkdown, ReplyMarkup: toMarkup(in.Keyboard)}
		if editsOwnMessage(c, in.Ref) {
			return c.Edit(in.Text, opts)
		}
		_, err := c.Bot().Edit(storedMessage(in.Ref), in.Text, opts)
		return err

	case session.IntentDelete:
		// Best effort: the message may already be gone.
		if err := c.Bot().Delete(storedMessage(in.Ref)); err != nil {
			logger.Debug(tghelpers.BuildContext(c), "tg", "message.delete.skip",
				slog.Int("message_id", in.Ref.MessageID),
				slog.String("err", err.Error()),
			)
		}
		return nil

	default:
		return nil
	}
}

// editsOwnMessage reports whether ref points at the message the callback
// came from, in which case the plain context edit applies.
func editsOwnMessage(c tele.Context, ref session.MessageRef) bool {
	cb := c.Callback()
	if cb == nil || cb.Message == nil {
		return false
	}
	return ref.IsZero() || ref.MessageID == cb.Message.ID
}

func storedMessage(ref session.MessageRef) tele.Editable {
	return &tele.StoredMessage{
		MessageID: strconv.Itoa(ref.MessageID),
		ChatID:    ref.ChatID,
	}
}

func toMarkup(kb [][]session.Button) *tele.ReplyMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]keyboard.InlineBtn, len(kb))
	for i, row := range kb {
		r := make([]keyboard.InlineBtn, len(row))
		for j, b := range row {
			r[j] = keyboard.InlineBtn{
				Text:   b.Label,
				Unique: b.Callback,
				Data:   b.Payload,
				URL:    b.URL,
			}
		}
		rows[i] = r
	}
	return keyboard.InlineButtonsRows(rows...)
}
