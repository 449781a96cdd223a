// Package domain contains core domain types for the BiocBot tutoring backend.
package domain

import (
	"strings"
	"time"
)

// TopicState reflects whether intervention is currently firing for a topic.
type TopicState string

const (
	// TopicActive means the struggle count has exceeded the threshold and
	// intervention directives are being injected for this topic.
	TopicActive TopicState = "Active"
	// TopicInactive means the topic is below the threshold.
	TopicInactive TopicState = "Inactive"
)

// StruggleRecord holds the per-topic struggle counters for one student,
// accumulated across all of their chat sessions.
type StruggleRecord struct {
	UserID string                `json:"user_id"`
	Counts map[string]int        `json:"counts"`
	States map[string]TopicState `json:"states"`
}

// Student is the minimal identity projection the backend keeps for
// attributing struggle events on instructor dashboards.
type Student struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NormalizeTopic canonicalizes a classifier-produced topic name so that
// "Photosynthesis " and "photosynthesis" count against the same counter.
func NormalizeTopic(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}
