package services

import (
	"fmt"
	"strconv"

	"match-coordinator/apperrors"
	"match-coordinator/models"
)

var errScoresIncomplete = apperrors.New(apperrors.CodeScoresIncomplete, "waiting for every player to submit a score")

// ValidateScores decides whether a full set of score reports agrees. It holds
// no state and must be re-run on every complete set, since any resubmission
// can change the outcome.
//
// Teams are checked for internal agreement first (team 1, then team 2), and
// only then against each other. A tie is valid and has no winner.
func ValidateScores(teams models.TeamAssignment, reports map[string]models.ScoreReport) (models.ValidatedResult, error) {
	if len(reports) != teams.Size() {
		return models.ValidatedResult{}, errScoresIncomplete
	}
	for _, name := range teams.Members() {
		if _, ok := reports[name]; !ok {
			return models.ValidatedResult{}, errScoresIncomplete
		}
	}

	team1, err := teamView(teams, reports, models.Team1)
	if err != nil {
		return models.ValidatedResult{}, err
	}
	team2, err := teamView(teams, reports, models.Team2)
	if err != nil {
		return models.ValidatedResult{}, err
	}

	if team1.SelfScore != team2.OpponentScore || team2.SelfScore != team1.OpponentScore {
		return models.ValidatedResult{}, apperrors.New(apperrors.CodeCrossTeamMismatch, fmt.Sprintf(
			"Teams disagree: team 1 reported %d-%d, team 2 reported %d-%d. Please try again.",
			team1.SelfScore, team1.OpponentScore, team2.SelfScore, team2.OpponentScore))
	}

	return models.ValidatedResult{
		Team1Score:  team1.SelfScore,
		Team2Score:  team2.SelfScore,
		Location:    resultLocation(teams, reports),
		WinningTeam: models.WinnerFor(team1.SelfScore, team2.SelfScore),
	}, nil
}

// teamView returns the single score a team agrees on internally.
func teamView(teams models.TeamAssignment, reports map[string]models.ScoreReport, team models.Team) (models.ScoreReport, error) {
	names := teams.Names(team)
	first := reports[names[0]]
	for _, name := range names[1:] {
		if !reports[name].SameScore(first) {
			return models.ScoreReport{}, apperrors.WithMetadata(apperrors.CodeIntraTeamMismatch,
				fmt.Sprintf("Players on team %d reported different scores. Please try again.", team),
				map[string]string{"team": strconv.Itoa(int(team))})
		}
	}
	return first, nil
}

// resultLocation picks the first non-empty location in assignment order so
// the result does not depend on arrival order.
func resultLocation(teams models.TeamAssignment, reports map[string]models.ScoreReport) string {
	for _, name := range teams.Members() {
		if loc := reports[name].Location; loc != "" {
			return loc
		}
	}
	return ""
}
