package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sitetrade/backend/internal/events"
	"go.uber.org/zap"
)

func TestWebhookClientHasBoundedTimeout(t *testing.T) {
	if webhookClient.Timeout <= 0 {
		t.Fatal("webhook client must not wait forever on a hung endpoint")
	}
}

func TestForwardPostsNotificationPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("webhook received non-JSON body: %v", err)
		}
	}))
	defer srv.Close()

	forward(srv.URL, events.Event{
		Type: events.EventUserNotification,
		Payload: map[string]any{
			"user_id":    "11111111-1111-1111-1111-111111111111",
			"kind":       "credentials_received",
			"title":      "Credentials received",
			"message":    "The seller delivered the access credentials.",
			"related_id": "22222222-2222-2222-2222-222222222222",
		},
	}, zap.NewNop())

	if got["user_id"] != "11111111-1111-1111-1111-111111111111" {
		t.Errorf("user_id = %v", got["user_id"])
	}
	if got["kind"] != "credentials_received" {
		t.Errorf("kind = %v", got["kind"])
	}
	if got["message"] == "" {
		t.Error("message missing from forwarded payload")
	}
}

func TestForwardSkipsEventsWithoutUserID(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	forward(srv.URL, events.Event{Type: events.EventUserNotification, Payload: map[string]any{}}, zap.NewNop())

	if called {
		t.Error("events without a user_id must not reach the webhook")
	}
}
