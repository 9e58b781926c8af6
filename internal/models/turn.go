package models

import (
	"fmt"
	"time"
)

// Role identifies the author of a turn or prompt block.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole validates r against the known roles.
func ParseRole(r string) (Role, error) {
	switch Role(r) {
	case RoleSystem, RoleUser, RoleAssistant:
		return Role(r), nil
	default:
		return "", fmt.Errorf("unknown role %q", r)
	}
}

// Turn is one entry of a session history. Turns are never modified after they are appended.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Tokens    int       `json:"tokens"`
}

// Message is one role-tagged block of a prompt payload sent to a backend.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
