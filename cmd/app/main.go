package main

import (
	"github.com/SlavaLB/it-school/internal/app"
	"github.com/SlavaLB/it-school/internal/config"

	"github.com/wb-go/wbf/zlog"
)

func main() {
	zlog.Init()

	cfg, err := config.MustLoad()
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to load config")
	}

	a := app.NewApp(cfg)
	a.Run()
}
