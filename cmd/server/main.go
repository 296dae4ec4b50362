package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/ai-friend-coming/chatledger/internal/app"
	"github.com/ai-friend-coming/chatledger/internal/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg := config.Default()
	if _, errStat := os.Stat(*configPath); errStat == nil {
		loaded, errLoad := config.Load(*configPath)
		if errLoad != nil {
			log.WithError(errLoad).Fatal("load config")
		}
		cfg = loaded
	} else {
		log.WithField("path", *configPath).Warn("config file not found, using defaults")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if errRun := app.Run(ctx, cfg); errRun != nil {
		log.WithError(errRun).Fatal("server exited")
	}
}
