// Package main runs the relay probe, a smoke-test client for operators.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	probecmd "github.com/louisbranch/watchparty/internal/cmd/relayprobe"
	"github.com/louisbranch/watchparty/internal/platform/config"
)

func main() {
	cfg, err := probecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("relayprobe: %v", err)
	}
	log.SetPrefix("[RELAYPROBE] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := probecmd.Run(ctx, cfg); err != nil {
		log.Fatalf("probe failed: %v", err)
	}
}
