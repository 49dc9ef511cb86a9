package models

import "time"

// SessionState is the lifecycle position of a match session.
type SessionState string

const (
	StateForming          SessionState = "forming"
	StateTeamsAssigned    SessionState = "teams_assigned"
	StateCollectingScores SessionState = "collecting_scores"
	StateValidated        SessionState = "validated"
	StateSaving           SessionState = "saving"
	StateSaved            SessionState = "saved"
	StateSaveFailed       SessionState = "save_failed"
	StateFinalized        SessionState = "finalized"
	StateExpired          SessionState = "expired"
	StateCleared          SessionState = "cleared"
)

// Terminal reports whether the session is done and must be destroyed.
func (s SessionState) Terminal() bool {
	return s == StateFinalized || s == StateExpired || s == StateCleared
}

// ResultLocked reports whether a validated result is being or has been saved.
func (s SessionState) ResultLocked() bool {
	return s == StateValidated || s == StateSaving || s == StateSaved
}

// SaveState tracks the external save of the current result generation.
type SaveState string

const (
	SaveStateIdle      SaveState = "idle"
	SaveStateInFlight  SaveState = "in_flight"
	SaveStateSucceeded SaveState = "succeeded"
	SaveStateFailed    SaveState = "failed"
)

// SessionView is a read-only snapshot of a session for the admin API.
type SessionView struct {
	MatchID         string           `json:"match_id"`
	State           SessionState     `json:"state"`
	SaveState       SaveState        `json:"save_state"`
	Roster          []Player         `json:"roster"`
	Teams           *TeamAssignment  `json:"teams,omitempty"`
	Reporters       []string         `json:"reporters"`
	Result          *ValidatedResult `json:"result,omitempty"`
	Generation      int              `json:"generation"`
	ExternalMatchID string           `json:"external_match_id,omitempty"`
	LeaderClaimed   bool             `json:"leader_claimed"`
	CreatedAt       time.Time        `json:"created_at"`
	ExpiresAt       time.Time        `json:"expires_at"`
}
