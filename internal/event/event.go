package event

import (
	"encoding/json"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	PlayerRegistered Type = "player.registered"
	PointsAwarded    Type = "points.awarded"

	VoteCreated  Type = "vote.created"
	VoteResolved Type = "vote.resolved"
)

// Event represents a single domain event in the audit trail.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// PlayerRegisteredData is the payload for PlayerRegistered events.
type PlayerRegisteredData struct {
	Name string `json:"name"`
}

// PointsAwardedData is the payload for PointsAwarded events.
type PointsAwardedData struct {
	PlayerID string `json:"player_id"`
	Delta    int    `json:"delta"`
	Reason   string `json:"reason"`
}

// VoteCreatedData is the payload for VoteCreated events.
type VoteCreatedData struct {
	TargetID    string    `json:"target_id"`
	CreatedByID string    `json:"created_by_id"`
	Reason      string    `json:"reason"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// VoteResolvedData is the payload for VoteResolved events.
type VoteResolvedData struct {
	Status       string  `json:"status"`
	Agree        int     `json:"agree"`
	Disagree     int     `json:"disagree"`
	ResolvedByID *string `json:"resolved_by_id,omitempty"`
}
