package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent stores provider webhook payloads for deduplicated processing.
type WebhookEvent struct {
	ID              uint           `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"size:20;not null;uniqueIndex:ux_webhook_events_provider_event,priority:1"`
	EventID         string         `json:"event_id" gorm:"size:191;not null;uniqueIndex:ux_webhook_events_provider_event,priority:2"`
	EventType       string         `json:"event_type" gorm:"size:100;not null;index"`
	Payload         datatypes.JSON `json:"payload"`
	ProcessedAt     *time.Time     `json:"processed_at"`
	ProcessingError string         `json:"processing_error"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
