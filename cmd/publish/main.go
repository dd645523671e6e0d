package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os"

	"github.com/WailSalutem-Health-Care/board-publisher/internal/config"
	"github.com/WailSalutem-Health-Care/board-publisher/internal/messaging"
)

// Publishes one JSON document, given as the first argument or on stdin.
//
//	publish '{"name":"alpha","payload":42}'
//	cat board.json | publish
func main() {
	log.Println("Board Publish Job - Starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var body []byte
	if len(os.Args) > 1 {
		body = []byte(os.Args[1])
	} else {
		body, err = io.ReadAll(os.Stdin)
		if err != nil {
			log.Fatalf("Failed to read message from stdin: %v", err)
		}
	}
	if !json.Valid(body) {
		log.Fatal("Message is not valid JSON")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PublishTimeout)
	defer cancel()

	publisher, err := messaging.Connect(ctx, cfg.PublisherOptions())
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	if err := publisher.Publish(ctx, json.RawMessage(body)); err != nil {
		publisher.Close()
		log.Fatalf("Publish failed: %v", err)
	}

	log.Printf("✓ Published to queue %s", cfg.QueueName)
	log.Println("Board Publish Job - Finished")
}
