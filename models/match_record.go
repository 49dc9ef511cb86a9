package models

import "time"

// MatchOutcome is the reason a ledger record was written.
type MatchOutcome string

const (
	OutcomeFinalized  MatchOutcome = "finalized"
	OutcomeSaveFailed MatchOutcome = "save_failed"
	OutcomeExpired    MatchOutcome = "expired"
	OutcomeCleared    MatchOutcome = "cleared"
)

// MatchRecord is a write-only audit row for a session that reached a save
// outcome or a terminal state. Never read back to restore sessions.
type MatchRecord struct {
	ID              string       `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID         string       `gorm:"index;not null" json:"match_id"`
	Outcome         MatchOutcome `gorm:"type:varchar(16);index;not null" json:"outcome"`
	Reason          string       `json:"reason,omitempty"`
	ExternalMatchID string       `gorm:"index" json:"external_match_id,omitempty"`
	Team1IDs        string       `json:"team1_ids"` // comma separated external ids
	Team2IDs        string       `json:"team2_ids"`
	Team1Score      *int         `json:"team1_score,omitempty"`
	Team2Score      *int         `json:"team2_score,omitempty"`
	WinningTeam     *int         `json:"winning_team,omitempty"`
	Location        string       `json:"location,omitempty"`
	PartialFailure  bool         `json:"partial_failure" gorm:"default:false"`
	FinishedAt      time.Time    `gorm:"index" json:"finished_at"`
	CreatedAt       time.Time    `json:"created_at" gorm:"autoCreateTime"`
}
