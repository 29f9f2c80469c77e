package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"kartsync/server/internal/app"
)

func main() {
	configPath := flag.String("config", "kartsync.toml", "path to the server configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, app.Config{ConfigPath: *configPath}); err != nil {
		log.Fatalf("%v", err)
	}
}
