// Package main starts the audience-interaction service and handles
// termination.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	interactioncmd "github.com/louisbranch/auditorium.live/internal/cmd/interaction"
	"github.com/louisbranch/auditorium.live/internal/platform/config"
)

func main() {
	cfg, err := interactioncmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[INTERACTION] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := interactioncmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
