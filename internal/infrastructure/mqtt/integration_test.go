//go:build integration

package mqtt

import (
	"encoding/json"
	"testing"
	"time"
)

// These tests require a running MQTT broker at 127.0.0.1:1883.
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...

func TestIntegration_PublishSubscribeRoundtrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "wagerline-int-roundtrip"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	received := make(chan map[string]string, 1)
	topic := Topics{}.Request(RequestKindAdmission, RequestEventReviewed)
	err = client.Subscribe(Topics{}.AllRequests(), 1, func(got string, payload []byte) error {
		if got != topic {
			return nil
		}
		var m map[string]string
		if err := json.Unmarshal(payload, &m); err != nil {
			return err
		}
		received <- m
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(Topics{}.AllRequests()) {
		t.Error("subscription not tracked")
	}

	if err := client.PublishJSON(topic, map[string]string{"request_id": "adr-1"}); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case m := <-received:
		if m["request_id"] != "adr-1" {
			t.Errorf("request_id = %q", m["request_id"])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}

	if err := client.Unsubscribe(Topics{}.AllRequests()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
}

func TestIntegration_CloseMarksDisconnected(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "wagerline-int-close"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Fatal("IsConnected() = false after Connect")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}
