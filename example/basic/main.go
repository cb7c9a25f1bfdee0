package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/vkanta/glsp-mcp-sub001"
)

func main() {
	flow, err := sensorreplay.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := flow.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("runtime exited: %v", err)
	}
}
