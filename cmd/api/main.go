package main

import (
	"log"

	"brokercrm-backend/internal/bootstrap"
	"brokercrm-backend/internal/shared/config"
	"brokercrm-backend/internal/shared/server"
)

func main() {
	cfg := config.Load()
	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	addr := server.Addr(cfg.Port)
	log.Printf("Starting API server on %s (env=%s queue=%s)", addr, cfg.Env, cfg.QueueBackend)

	if err := app.Router.Run(addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
