package api

import "encoding/json"

type (
	// SubscribeRequest is sent by clients to subscribe to run events
	SubscribeRequest struct {
		Type string             `json:"type"`
		Data ClientSubscription `json:"data"`
	}

	// ClientSubscription configures which events a WebSocket client receives.
	// Empty lists match everything
	ClientSubscription struct {
		RunIDs     []RunID     `json:"run_ids,omitempty"`
		EventTypes []EventType `json:"event_types,omitempty"`
	}
)

type (
	// SubscribedResult is sent once a subscription is applied. Runs holds
	// the current record of each subscribed run that could be found
	SubscribedResult struct {
		Type string       `json:"type"`
		Runs []*RunRecord `json:"runs,omitempty"`
	}

	// WebSocketEvent is a run event as delivered to WebSocket clients
	WebSocketEvent struct {
		Data      json.RawMessage `json:"data"`
		Type      EventType       `json:"type"`
		RunID     RunID           `json:"run_id"`
		Timestamp int64           `json:"timestamp"`
	}
)
