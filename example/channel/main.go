package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/vkanta/glsp-mcp-sub001"
)

func main() {
	flow, err := sensorreplay.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub, frames, closeFrames := sensorreplay.NewChannelPublisher("fanout", 32)
	defer closeFrames()

	go fanoutWorker("replay", frames)

	if err := flow.Run(ctx, sensorreplay.StreamOutPublisher(pub)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}

func fanoutWorker(name string, frames <-chan *sensorreplay.SensorFrame) {
	for f := range frames {
		fmt.Printf("[%s] frame %d with %d readings at %s\n", name, f.FrameNumber, len(f.Readings), time.Now().Format(time.RFC3339))
	}
}
