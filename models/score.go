package models

import (
	"errors"
	"fmt"
)

// Team identifies one side of a doubles match.
type Team int

const (
	TeamNone Team = iota // tie, no winner
	Team1
	Team2
)

func (t Team) String() string {
	switch t {
	case Team1:
		return "team1"
	case Team2:
		return "team2"
	default:
		return "none"
	}
}

// Ptr returns nil for TeamNone so JSON payloads carry a null winner on a tie.
func (t Team) Ptr() *int {
	if t == TeamNone {
		return nil
	}
	v := int(t)
	return &v
}

// TeamAssignment is the agreed composition of both teams, by display name.
type TeamAssignment struct {
	Team1 []string `json:"team1"`
	Team2 []string `json:"team2"`
}

// Validate checks that both teams are non-empty, disjoint and free of blank
// or duplicate names.
func (a TeamAssignment) Validate() error {
	if len(a.Team1) == 0 || len(a.Team2) == 0 {
		return errors.New("both teams need at least one player")
	}
	seen := make(map[string]Team, a.Size())
	for _, side := range []struct {
		team  Team
		names []string
	}{{Team1, a.Team1}, {Team2, a.Team2}} {
		for _, name := range side.names {
			if name == "" {
				return fmt.Errorf("%s contains a blank player name", side.team)
			}
			if prev, ok := seen[name]; ok {
				if prev == side.team {
					return fmt.Errorf("%q is listed twice on %s", name, side.team)
				}
				return fmt.Errorf("%q is on both teams", name)
			}
			seen[name] = side.team
		}
	}
	return nil
}

// TeamOf returns the team a player belongs to.
func (a TeamAssignment) TeamOf(name string) (Team, bool) {
	for _, n := range a.Team1 {
		if n == name {
			return Team1, true
		}
	}
	for _, n := range a.Team2 {
		if n == name {
			return Team2, true
		}
	}
	return TeamNone, false
}

// Members lists every player, team 1 first, in assignment order.
func (a TeamAssignment) Members() []string {
	out := make([]string, 0, a.Size())
	out = append(out, a.Team1...)
	return append(out, a.Team2...)
}

// Size is the number of score reports needed for a complete set.
func (a TeamAssignment) Size() int {
	return len(a.Team1) + len(a.Team2)
}

// Names returns the roster of one team.
func (a TeamAssignment) Names(t Team) []string {
	if t == Team1 {
		return a.Team1
	}
	return a.Team2
}

// ScoreReport is one player's view of the final score.
type ScoreReport struct {
	ReporterName  string `json:"reporter_name"`
	SelfScore     int    `json:"self_score"`
	OpponentScore int    `json:"opponent_score"`
	Location      string `json:"location,omitempty"`
}

// SameScore reports whether two reports carry identical scores.
func (r ScoreReport) SameScore(other ScoreReport) bool {
	return r.SelfScore == other.SelfScore && r.OpponentScore == other.OpponentScore
}

// ValidatedResult is the agreed outcome of a match. Immutable once built.
type ValidatedResult struct {
	Team1Score  int    `json:"team1_score"`
	Team2Score  int    `json:"team2_score"`
	Location    string `json:"location"`
	WinningTeam Team   `json:"-"`
}

// WinnerFor derives the winning team from the two scores.
func WinnerFor(team1Score, team2Score int) Team {
	switch {
	case team1Score > team2Score:
		return Team1
	case team2Score > team1Score:
		return Team2
	default:
		return TeamNone
	}
}
