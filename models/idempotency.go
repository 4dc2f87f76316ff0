package models

import "time"

const (
	IdempotencyStatusProcessing = "processing"
	IdempotencyStatusCompleted  = "completed"
	IdempotencyStatusFailed     = "failed"
)

// IdempotencyKey stores the first successful response for a client key.
// It is unique per (workspace, endpoint, key).
type IdempotencyKey struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	WorkspaceID    string     `json:"workspace_id" gorm:"size:36;not null;uniqueIndex:idx_idempotency_scope_key,priority:1"`
	Endpoint       string     `json:"endpoint" gorm:"size:255;not null;uniqueIndex:idx_idempotency_scope_key,priority:2"`
	Key            string     `json:"key" gorm:"column:idempotency_key;size:128;not null;uniqueIndex:idx_idempotency_scope_key,priority:3"`
	RequestHash    string     `json:"request_hash" gorm:"size:64"` // sha256 of method|path|body|workspace|user
	UserID         string     `json:"user_id" gorm:"size:36"`
	Status         string     `json:"status" gorm:"size:20;not null;index"`
	ResponseStatus int        `json:"response_status"` // 0 => not completed yet
	ResponseBody   []byte     `json:"-"`
	LastError      string     `json:"last_error,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at" gorm:"index;not null"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at"`
}
