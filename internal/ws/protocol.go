// Package ws carries the portal's real-time channel: a WebSocket hub that
// feeds client events into the presence service and fans presence broadcasts
// back out to room members.
package ws

import (
	"encoding/json"
	"fmt"
)

// Client-to-server event names.
const (
	EventAuthenticate     = "authenticate"
	EventJoinWorkflow     = "join_workflow"
	EventHeartbeat        = "heartbeat"
	EventSaveNotification = "workflow_save_notification"
	EventGetActiveUsers   = "get_active_users"
	EventGetAllWorkflows  = "get_all_workflows"
)

// Server-to-client reply event names. Room-scoped event names live in the
// presence package next to the code that emits them.
const (
	EventActiveUsers  = "active_users"
	EventAllWorkflows = "all_workflows"
)

// Message is the envelope every frame on the channel uses, in both
// directions.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseMessage parses a channel message from JSON.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid channel message: %w", err)
	}
	if msg.Event == "" {
		return nil, fmt.Errorf("missing event name")
	}
	return &msg, nil
}

// NewMessage builds an outbound message with the given event and payload.
func NewMessage(event string, payload interface{}) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling %v payload: %w", event, err)
	}
	b, err := json.Marshal(Message{Event: event, Payload: payloadBytes})
	if err != nil {
		return nil, fmt.Errorf("marshalling %v message: %w", event, err)
	}
	return b, nil
}

// AuthPayload is the payload of an authenticate event.
type AuthPayload struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// JoinPayload is the payload of a join_workflow event.
type JoinPayload struct {
	WorkflowID   string `json:"workflowId"`
	WorkflowName string `json:"workflowName,omitempty"`
}

// ParseJoinPayload accepts both shapes clients send: a full object, or a bare
// workflow id string.
func ParseJoinPayload(raw json.RawMessage) (JoinPayload, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return JoinPayload{WorkflowID: id}, nil
	}
	var payload JoinPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return JoinPayload{}, fmt.Errorf("invalid join payload: %w", err)
	}
	return payload, nil
}

// ParseWorkflowID accepts a bare workflow id string or an object with a
// workflowId field, used by heartbeat, save-notification, and lookup events.
func ParseWorkflowID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("missing workflow id")
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	var payload struct {
		WorkflowID string `json:"workflowId"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("invalid workflow id payload: %w", err)
	}
	return payload.WorkflowID, nil
}
