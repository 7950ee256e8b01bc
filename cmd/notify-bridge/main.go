package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sitetrade/backend/internal/config"
	"github.com/sitetrade/backend/internal/db"
	"github.com/sitetrade/backend/internal/events"
	"go.uber.org/zap"
)

// Notify Bridge: small service that subscribes to the redis notify
// stream and forwards user notifications to the notification webhook.

// A hung webhook must not pin the forwarding goroutine.
var webhookClient = &http.Client{Timeout: 10 * time.Second}

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)

	log.Info("notify-bridge started")

	_ = subscriber.Subscribe(ctx, events.StreamNotify, func(event events.Event) {
		log.Info("forwarding notification", zap.String("type", event.Type))
		forward(cfg.NotifyWebhookURL, event, log)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}

func forward(webhookURL string, event events.Event, log *zap.Logger) {
	userID, ok := event.Payload["user_id"]
	if !ok {
		return
	}

	message, _ := event.Payload["message"].(string)
	if message == "" {
		message = fmt.Sprintf("Event: %s", event.Type)
	}

	body, _ := json.Marshal(map[string]any{
		"user_id":    userID,
		"kind":       event.Payload["kind"],
		"title":      event.Payload["title"],
		"message":    message,
		"related_id": event.Payload["related_id"],
	})

	resp, err := webhookClient.Post(webhookURL, "application/json", strings.NewReader(string(body)))
	if err != nil {
		log.Warn("failed to forward notification", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("notification webhook returned non-200", zap.Int("status", resp.StatusCode))
	}
}
