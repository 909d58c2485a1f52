// Command storebot runs the storefront API and its Telegram bot.
package main

import (
	"context"
	"log"

	"github.com/m3rciful/storebot/core/bootstrap"
	corecmd "github.com/m3rciful/storebot/core/cmd"
	coreconfig "github.com/m3rciful/storebot/core/config"
	"github.com/m3rciful/storebot/internal/app"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "config.yaml",
		Bootstrap: func(ctx context.Context, cfg *coreconfig.Config) (corecmd.Application, error) {
			infra, err := bootstrap.Run(ctx, bootstrap.Options{Config: cfg})
			if err != nil {
				return nil, err
			}
			a, err := app.New(cfg, infra)
			if err != nil {
				_ = infra.Close()
				return nil, err
			}
			return a, nil
		},
	})
	if err != nil {
		log.Fatalf("storebot: %v", err)
	}
}
