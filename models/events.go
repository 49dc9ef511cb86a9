package models

import "encoding/json"

// Inbound event names.
const (
	EventJoin              = "join"
	EventAssignTeams       = "assign-teams"
	EventSubmitScore       = "submit-score"
	EventClaimLeaderTask   = "claim-leader-task"
	EventLeaderTaskOutcome = "leader-task-outcome"
	EventDisconnect        = "disconnect"
	EventClearSession      = "clear-session"
)

// Outbound event names.
const (
	EventRosterUpdated           = "roster-updated"
	EventTeamsAssigned           = "teams-assigned"
	EventScoreValidationResult   = "score-validation-result"
	EventSaveSucceeded           = "save-succeeded"
	EventSaveFailed              = "save-failed"
	EventLeaderPermissionGranted = "leader-permission-granted"
	EventSessionFinalized        = "session-finalized"
	EventSessionExpired          = "session-expired"
	EventSessionCleared          = "session-cleared"
	EventError                   = "error"
)

// Envelope wraps every message on the socket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is an outbound delivery intent produced by a session. Exactly one
// of Room and ConnectionID is set: Room broadcasts to every participant,
// ConnectionID sends privately.
type Message struct {
	Event        string
	Room         string
	ConnectionID string
	Payload      any
}

// Broadcast builds a room-wide message.
func Broadcast(room, event string, payload any) Message {
	return Message{Event: event, Room: room, Payload: payload}
}

// Private builds a message for a single connection.
func Private(connectionID, event string, payload any) Message {
	return Message{Event: event, ConnectionID: connectionID, Payload: payload}
}

// Inbound payloads

type JoinPayload struct {
	MatchID     string `json:"match_id"`
	DisplayName string `json:"display_name"`
	ExternalID  string `json:"external_id"`
}

type AssignTeamsPayload struct {
	MatchID string   `json:"match_id"`
	Team1   []string `json:"team1"`
	Team2   []string `json:"team2"`
}

// SubmitScorePayload uses pointers so a missing score is distinguishable
// from a zero.
type SubmitScorePayload struct {
	MatchID       string `json:"match_id"`
	ReporterName  string `json:"reporter_name"`
	SelfScore     *int   `json:"self_score"`
	OpponentScore *int   `json:"opponent_score"`
	Location      string `json:"location"`
}

type MatchRef struct {
	MatchID string `json:"match_id"`
}

type LeaderTaskOutcomePayload struct {
	MatchID            string   `json:"match_id"`
	EarnedAchievements []string `json:"earned_achievements"`
	ErrorMessage       string   `json:"error_message,omitempty"`
}

// Outbound payloads

type RosterUpdated struct {
	MatchID string   `json:"match_id"`
	Players []Player `json:"players"`
}

type TeamsAssigned struct {
	MatchID string   `json:"match_id"`
	Team1   []string `json:"team1"`
	Team2   []string `json:"team2"`
}

type ScoreValidationResult struct {
	MatchID string `json:"match_id"`
	OK      bool   `json:"ok"`
	Code    string `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Team    int    `json:"team,omitempty"`
}

// SaveSucceeded carries everything the follow-up leader task needs.
type SaveSucceeded struct {
	MatchID         string   `json:"match_id"`
	Team1IDs        []string `json:"team1_ids"`
	Team2IDs        []string `json:"team2_ids"`
	WinnerIDs       []string `json:"winner_ids"`
	WinningTeam     *int     `json:"winning_team"`
	Team1Score      int      `json:"team1_score"`
	Team2Score      int      `json:"team2_score"`
	Location        string   `json:"location"`
	ExternalMatchID string   `json:"external_match_id"`
}

type SaveFailed struct {
	MatchID string `json:"match_id"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type SessionFinalized struct {
	MatchID            string   `json:"match_id"`
	OK                 bool     `json:"ok"`
	PartialFailure     bool     `json:"partial_failure,omitempty"`
	Message            string   `json:"message"`
	EarnedAchievements []string `json:"earned_achievements"`
}

type SessionExpired struct {
	MatchID string `json:"match_id"`
	Message string `json:"message"`
}

type SessionCleared struct {
	MatchID string `json:"match_id"`
}

// Rejection is sent privately when an inbound event is refused.
type Rejection struct {
	MatchID string `json:"match_id,omitempty"`
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
