// Package main provides administrative maintenance utilities for cartledger.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	cartctlcmd "github.com/tkarolak/cartledger/internal/cmd/cartctl"
	"github.com/tkarolak/cartledger/internal/platform/config"
)

func main() {
	log.SetPrefix("[CARTCTL] ")
	cfg, err := cartctlcmd.ParseConfig()
	if err != nil {
		config.Exitf("parse config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cartctlcmd.Run(ctx, cfg, os.Args[1:], os.Stdout); err != nil {
		config.Exitf("Error: %v", err)
	}
}
