package models

import "time"

// SessionRecord is the persisted form of a session: its options as strings (as they
// were set) and its full history.
type SessionRecord struct {
	Key          string            `json:"key"`
	Options      map[string]string `json:"options,omitempty"`
	Turns        []Turn            `json:"turns"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActiveAt time.Time         `json:"last_active_at"`
}
