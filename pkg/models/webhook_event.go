package models

import "time"

// WebhookEvent is the audit record of one inbound callback delivery. Events
// are persisted before processing so duplicate and unmatched deliveries stay
// inspectable.
type WebhookEvent struct {
	ID          string         `json:"id"`
	Source      string         `json:"source"       validate:"required"`
	ExternalRef string         `json:"external_ref" validate:"required"`
	Payload     map[string]any `json:"payload,omitempty"`
	ReceivedAt  time.Time      `json:"received_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	Result      string         `json:"result,omitempty"`
}
