package bot

import (
	"fmt"
	"time"

	tele "gopkg.in/telebot.v4"

	appconfig "planify/app/config"
	"planify/app/session"
	"planify/core/buildinfo"
	tg "planify/core/telegram"
	"planify/core/telegram/commands"
	tghelpers "planify/core/telegram/helpers"
	"planify/core/telegram/router"
)

// App binds the dialogue state machine to the Telegram runtime.
type App struct {
	cfg       *appconfig.Config
	sessions  *session.Dispatcher
	startedAt time.Time
}

// New builds the bot application.
func New(cfg *appconfig.Config, sessions *session.Dispatcher) *App {
	return &App{
		cfg:       cfg,
		sessions:  sessions,
		startedAt: time.Now(),
	}
}

// InProgress implements router.Conversation: a user mid-dialogue captures
// the next text message regardless of command lookup.
func (a *App) InProgress(userID int64) bool {
	return a.sessions.Store().InProgress(userID)
}

// HandleText implements router.Conversation.
func (a *App) HandleText(c tele.Context) error {
	return a.dispatch(c, textEvent(c))
}

// TelegramRunOptions assembles the registry, routes, and middleware chain.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	reg := tg.NewRegistry()
	a.registerCommands(reg)
	if err := a.registerCallbacks(reg); err != nil {
		return tg.RunOptions{}, err
	}
	reg.SetTextFallback(a.HandleText)

	adminID := a.cfg.Core.Telegram.AdminID
	routes := router.CommandRoutes(reg, router.CommandRouteOptions{AdminID: adminID})
	routes = append(routes, router.TextRoutes(a, reg, router.TextOptions{})...)
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))

	return tg.RunOptions{
		Config:      a.cfg.CoreConfig(),
		Registry:    reg,
		Middlewares: tg.DefaultMiddlewares(a.cfg.CoreConfig(), nil),
		Routes:      routes,
	}, nil
}

func (a *App) registerCommands(reg *tg.Registry) {
	cmd := func(name string) tele.HandlerFunc {
		return func(c tele.Context) error {
			ev := commandEvent(c, name)
			// Entry commands register the sender in the user store.
			if name == "/start" || name == "/help" {
				ev.Profile = profileOf(c)
			}
			return a.dispatch(c, ev)
		}
	}

	reg.RegisterCommand("/start", commands.Command{
		Handler:     cmd("/start"),
		Description: "Start the bot",
	})
	reg.RegisterCommand("/help", commands.Command{
		Handler:     cmd("/help"),
		Description: "How to use the bot",
	})
	reg.RegisterCommand("/list", commands.Command{
		Handler:     cmd("/list"),
		Description: "Show upcoming events",
	})
	reg.RegisterCommand("/connect", commands.Command{
		Handler:     cmd("/connect"),
		Description: "Connect your Google Calendar",
	})
	reg.RegisterCommand("/auth", commands.Command{
		Handler:     cmd("/auth"),
		Description: "Connect your Google Calendar",
		Hidden:      true,
	})
	reg.RegisterCommand("/settings", commands.Command{
		Handler:     cmd("/settings"),
		Description: "Your preferences",
	})
	reg.RegisterCommand("/cancel", commands.Command{
		Handler:     cmd("/cancel"),
		Description: "Discard the pending proposal",
	})
	reg.RegisterCommand("/stats", commands.Command{
		Handler:     a.statsHandler,
		Description: "Runtime statistics",
		AdminOnly:   true,
		Hidden:      true,
	})
}

func (a *App) registerCallbacks(reg *tg.Registry) error {
	keys := []string{
		session.CBDraftConfirm,
		session.CBDraftEdit,
		session.CBDraftCancel,
		session.CBListRefresh,
		session.CBListView,
		session.CBListDelete,
		session.CBListBack,
		session.CBMenuCreate,
		session.CBMenuList,
		session.CBMenuSettings,
		session.CBMenuAuth,
	}
	for _, key := range keys {
		key := key
		handler := func(c tele.Context) error {
			return a.dispatch(c, callbackEvent(c, key))
		}
		if err := reg.RegisterCallback(key, handler); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) statsHandler(c tele.Context) error {
	st := a.sessions.Store().Snapshot()
	text := fmt.Sprintf(
		"*planify %s*\nuptime: %s\nusers: %d\npending drafts: %d\nauth flows: %d",
		buildinfo.Version,
		time.Since(a.startedAt).Round(time.Second),
		st.Users,
		st.Drafts,
		st.AuthFlows,
	)
	return tghelpers.SendMD(c, text)
}
