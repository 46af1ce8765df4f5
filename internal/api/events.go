package api

import (
	"encoding/json"
	"time"

	"github.com/wagerline/wagerline-core/internal/infrastructure/mqtt"
)

// WebSocket event channels.
const (
	// ChannelRequestCreated and ChannelRequestReviewed carry request
	// lifecycle events to reviewers.
	ChannelRequestCreated  = "device_request.created"
	ChannelRequestReviewed = "device_request.reviewed"

	// ChannelSessionRevoked tells an account's open connections that some
	// of its sessions stopped working.
	ChannelSessionRevoked = "session.revoked"
)

// requestEvent is published for every device request lifecycle change.
type requestEvent struct {
	Kind       string `json:"kind"`
	Event      string `json:"event"`
	RequestID  string `json:"request_id"`
	AccountID  string `json:"account_id"`
	Status     string `json:"status"`
	ReviewedBy string `json:"reviewed_by,omitempty"`
	Timestamp  string `json:"timestamp"`
	Detail     any    `json:"detail,omitempty"`
}

// sessionEvent is published when sessions of an account are revoked.
type sessionEvent struct {
	AccountID string `json:"account_id"`
	DeviceID  string `json:"device_id,omitempty"`
	Reason    string `json:"reason"`
	Revoked   int64  `json:"revoked_sessions"`
	Timestamp string `json:"timestamp"`
}

func channelFor(event string) string {
	if event == mqtt.RequestEventReviewed {
		return ChannelRequestReviewed
	}
	return ChannelRequestCreated
}

// publishRequestEvent fans a request event out to reviewers. With a
// connected broker the event goes through MQTT and reaches the hub via the
// relay subscription, so every replica's reviewers see it. Otherwise the
// local hub is told directly.
func (s *Server) publishRequestEvent(kind, event, requestID, accountID, status, reviewedBy string, detail any) {
	ev := requestEvent{
		Kind:       kind,
		Event:      event,
		RequestID:  requestID,
		AccountID:  accountID,
		Status:     status,
		ReviewedBy: reviewedBy,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Detail:     detail,
	}

	topics := mqtt.Topics{}
	if s.mqtt.IsConnected() && s.mqtt.HasSubscription(topics.AllRequests()) {
		err := s.mqtt.PublishJSON(topics.Request(kind, event), ev)
		if err == nil {
			return
		}
		s.logger.Warn("publishing request event failed, broadcasting locally",
			"kind", kind, "event", event, "request_id", requestID, "error", err)
	}
	s.hub.Broadcast(channelFor(event), ev)
}

// notifySessionsRevoked tells the account's WebSocket clients and the broker
// that sessions were revoked.
func (s *Server) notifySessionsRevoked(accountID, deviceID, reason string, revoked int64) {
	if revoked == 0 {
		return
	}
	ev := sessionEvent{
		AccountID: accountID,
		DeviceID:  deviceID,
		Reason:    reason,
		Revoked:   revoked,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	s.hub.SendToAccount(accountID, ChannelSessionRevoked, ev)

	if s.mqtt.IsConnected() {
		if err := s.mqtt.PublishJSON(mqtt.Topics{}.Session(accountID), ev); err != nil {
			s.logger.Warn("publishing session event failed", "account_id", accountID, "error", err)
		}
	}
}

// subscribeRequestEvents relays request events from the broker to the hub.
func (s *Server) subscribeRequestEvents() error {
	if s.mqtt == nil {
		return nil
	}
	topic := mqtt.Topics{}.AllRequests()
	s.logger.Info("subscribing to request events for WebSocket relay", "topic", topic)
	return s.mqtt.Subscribe(topic, 1, func(t string, payload []byte) error {
		var ev requestEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			s.logger.Warn("failed to parse request event", "topic", t, "error", err)
			return nil
		}
		s.hub.Broadcast(channelFor(ev.Event), ev)
		return nil
	})
}
