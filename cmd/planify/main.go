package main

import (
	"log"

	"github.com/joho/godotenv"

	"planify/app/bot"
	appconfig "planify/app/config"
	"planify/app/services/ai"
	"planify/app/services/gcal"
	"planify/app/services/users"
	"planify/app/session"
	corebootstrap "planify/core/bootstrap"
	corecmd "planify/core/cmd"
)

func main() {
	// Local development convenience; production uses real env vars.
	_ = godotenv.Load()

	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			return appconfig.Load(path)
		},
		Bootstrap: func(carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
			cfg := carrier.(*appconfig.Config)

			res, err := corebootstrap.Run(corebootstrap.Options{
				Config:   cfg.CoreConfig(),
				Database: cfg.Database,
			})
			if err != nil {
				return nil, err
			}

			userSvc := users.NewService(res.DB)
			calSvc, err := gcal.NewService(cfg.Google, userSvc)
			if err != nil {
				return nil, err
			}
			extractor := ai.NewClient(cfg.AI, nil)

			sessions := session.NewDispatcher(
				session.NewStore(),
				extractor,
				calSvc,
				calSvc,
				userSvc,
				cfg.SessionConfig(),
			)

			return bot.New(cfg, sessions), nil
		},
	})
	if err != nil {
		log.Fatalf("planify: %v", err)
	}
}
