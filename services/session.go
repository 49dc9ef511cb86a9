package services

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"match-coordinator/apperrors"
	"match-coordinator/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var errSessionGone = apperrors.New(apperrors.CodeSessionExpired, "This match session has ended. Please start a new one.")

// SaveRequest is handed out by a session at most once per validated result.
type SaveRequest struct {
	MatchID    string
	Generation int
	Teams      models.TeamAssignment
	Identities map[string]string // display name -> external id
	Result     models.ValidatedResult
}

// SaveOutcome is the orchestrator's answer to one SaveRequest.
type SaveOutcome struct {
	MatchID         string
	Generation      int
	Team1IDs        []string
	Team2IDs        []string
	WinnerIDs       []string
	ExternalMatchID string
	Err             *apperrors.Error
}

// LeaderTaskOutcome is what the elected client reports once the follow-up
// task is done.
type LeaderTaskOutcome struct {
	EarnedAchievements []string
	ErrorMessage       string
}

// Effects is everything a session operation wants to happen outside of its
// lock. The session never delivers anything itself.
type Effects struct {
	Messages []models.Message
	Save     *SaveRequest
	Record   *models.MatchRecord
	Terminal bool
}

func (e *Effects) broadcast(room, event string, payload any) {
	e.Messages = append(e.Messages, models.Broadcast(room, event, payload))
}

func (e *Effects) private(connectionID, event string, payload any) {
	e.Messages = append(e.Messages, models.Private(connectionID, event, payload))
}

// Session is the state machine for one match. Every exported operation runs
// under the session's own mutex, so events for a match apply one at a time.
type Session struct {
	mu    sync.Mutex
	clock clockwork.Clock

	matchID    string
	state      models.SessionState
	roster     []models.Player
	identities map[string]string
	teams      *models.TeamAssignment
	reports    map[string]models.ScoreReport

	result     *models.ValidatedResult
	generation int
	saveState  models.SaveState
	saved      *SaveOutcome

	leaderClaimed bool
	leaderConn    string

	createdAt    time.Time
	expiresAt    time.Time
	cancelExpiry func()
}

func newSession(matchID string, clock clockwork.Clock, ttl time.Duration) *Session {
	now := clock.Now()
	return &Session{
		clock:      clock,
		matchID:    matchID,
		state:      models.StateForming,
		identities: make(map[string]string),
		reports:    make(map[string]models.ScoreReport),
		saveState:  models.SaveStateIdle,
		createdAt:  now,
		expiresAt:  now.Add(ttl),
	}
}

// MatchID is the session's identity and room key.
func (s *Session) MatchID() string {
	return s.matchID
}

// ExpiresAt is the fixed deadline after which the session is torn down.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// Closed reports whether the session reached a terminal state.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Terminal()
}

// armExpiry stores the cancel func for the session's expiry timer. A session
// that already ended cancels the timer straight away.
func (s *Session) armExpiry(cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		cancel()
		return
	}
	s.cancelExpiry = cancel
}

// Join adds a player, or moves an existing player to a new connection.
func (s *Session) Join(displayName, externalID, connectionID string) (Effects, error) {
	var eff Effects
	name := models.NormalizeName(displayName)
	externalID = strings.TrimSpace(externalID)
	if name == "" {
		return eff, apperrors.New(apperrors.CodeInvalidInput, "display name is required")
	}
	if externalID == "" {
		return eff, apperrors.New(apperrors.CodeInvalidInput, "external id is required")
	}
	if connectionID == "" {
		return eff, apperrors.New(apperrors.CodeInvalidInput, "connection id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return eff, errSessionGone
	}

	rejoined := false
	for i := range s.roster {
		if s.roster[i].DisplayName == name {
			s.roster[i].ConnectionID = connectionID
			rejoined = true
			break
		}
	}
	if !rejoined {
		s.roster = append(s.roster, models.Player{DisplayName: name, ExternalID: externalID, ConnectionID: connectionID})
		s.identities[name] = externalID
	}

	log.Printf("[SESSION] match=%s player=%q joined (rejoin=%t, roster=%d)", s.matchID, name, rejoined, len(s.roster))
	eff.broadcast(s.matchID, models.EventRosterUpdated, s.rosterPayload())
	return eff, nil
}

// AssignTeams records the team composition. Only allowed before scoring starts.
func (s *Session) AssignTeams(team1, team2 []string) (Effects, error) {
	var eff Effects
	teams := models.TeamAssignment{Team1: models.NormalizeNames(team1), Team2: models.NormalizeNames(team2)}
	if err := teams.Validate(); err != nil {
		return eff, apperrors.Wrap(apperrors.CodeInvalidInput, err.Error(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return eff, errSessionGone
	}
	if s.state != models.StateForming && s.state != models.StateTeamsAssigned {
		return eff, apperrors.New(apperrors.CodeInvalidState, "teams cannot change once scoring has started")
	}

	s.teams = &teams
	s.state = models.StateTeamsAssigned

	log.Printf("[SESSION] match=%s teams set: %v vs %v", s.matchID, teams.Team1, teams.Team2)
	eff.broadcast(s.matchID, models.EventTeamsAssigned, models.TeamsAssigned{
		MatchID: s.matchID,
		Team1:   append([]string(nil), teams.Team1...),
		Team2:   append([]string(nil), teams.Team2...),
	})
	return eff, nil
}

// SubmitScore records a reporter's view of the score and, once every team
// member has reported, runs consensus. On agreement the save guard is set and
// the returned Effects carry the one SaveRequest for this result.
func (s *Session) SubmitScore(report models.ScoreReport) (Effects, error) {
	var eff Effects
	report.ReporterName = models.NormalizeName(report.ReporterName)
	report.Location = strings.TrimSpace(report.Location)
	if report.ReporterName == "" {
		return eff, apperrors.New(apperrors.CodeInvalidInput, "reporter name is required")
	}
	if report.SelfScore < 0 || report.OpponentScore < 0 {
		return eff, apperrors.New(apperrors.CodeInvalidInput, "scores cannot be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return eff, errSessionGone
	}
	if s.teams == nil {
		return eff, apperrors.New(apperrors.CodeSessionNotReady, "teams have not been set yet")
	}
	if s.state.ResultLocked() {
		return eff, apperrors.New(apperrors.CodeResultLocked, "the score for this match has already been agreed")
	}
	if _, ok := s.teams.TeamOf(report.ReporterName); !ok {
		return eff, apperrors.New(apperrors.CodeInvalidInput, fmt.Sprintf("%q is not on either team", report.ReporterName))
	}

	s.reports[report.ReporterName] = report
	if s.state == models.StateTeamsAssigned || s.state == models.StateSaveFailed {
		s.state = models.StateCollectingScores
	}
	if len(s.reports) < s.teams.Size() {
		return eff, nil
	}

	result, err := ValidateScores(*s.teams, s.reports)
	if err != nil {
		appErr, _ := apperrors.As(err)
		if appErr == nil || appErr.Code == apperrors.CodeScoresIncomplete {
			return eff, nil
		}
		team, _ := strconv.Atoi(appErr.Metadata["team"])
		log.Printf("[SESSION] match=%s scores rejected: %s", s.matchID, appErr.Code)
		eff.broadcast(s.matchID, models.EventScoreValidationResult, models.ScoreValidationResult{
			MatchID: s.matchID,
			OK:      false,
			Code:    string(appErr.Code),
			Reason:  appErr.Message,
			Team:    team,
		})
		return eff, nil
	}

	// Save guard: never a second save while one is in flight or after success.
	if s.saveState == models.SaveStateInFlight || s.saveState == models.SaveStateSucceeded {
		return eff, apperrors.New(apperrors.CodeResultLocked, "the score for this match has already been agreed")
	}

	s.result = &result
	s.generation++
	s.state = models.StateValidated
	eff.broadcast(s.matchID, models.EventScoreValidationResult, models.ScoreValidationResult{MatchID: s.matchID, OK: true})
	log.Printf("[SESSION] ✅ match=%s scores agreed %d-%d (generation %d)", s.matchID, result.Team1Score, result.Team2Score, s.generation)

	// The guard for the new generation is set here, once, under the lock.
	s.saveState = models.SaveStateInFlight
	s.state = models.StateSaving
	eff.Save = &SaveRequest{
		MatchID:    s.matchID,
		Generation: s.generation,
		Teams:      *s.teams,
		Identities: s.identitySnapshot(),
		Result:     result,
	}
	return eff, nil
}

// CompleteSave applies the orchestrator's outcome. Outcomes for an older
// result generation, or arriving after the session ended, are dropped.
func (s *Session) CompleteSave(outcome SaveOutcome) Effects {
	var eff Effects

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		log.Printf("[SAVE] match=%s outcome arrived after session ended (state=%s), dropping", s.matchID, s.state)
		return eff
	}
	if outcome.Generation != s.generation || s.saveState != models.SaveStateInFlight {
		log.Printf("[SAVE] match=%s stale outcome for generation %d (current %d, save=%s), dropping",
			s.matchID, outcome.Generation, s.generation, s.saveState)
		return eff
	}

	if outcome.Err == nil {
		s.saveState = models.SaveStateSucceeded
		s.state = models.StateSaved
		s.saved = &outcome
		log.Printf("[SAVE] ✅ match=%s recorded as %s", s.matchID, outcome.ExternalMatchID)
		eff.broadcast(s.matchID, models.EventSaveSucceeded, s.savePayload())
		return eff
	}

	// The guard for this generation stays set; a retry needs a fresh
	// consensus, so the old reports are discarded.
	s.saveState = models.SaveStateFailed
	s.state = models.StateSaveFailed
	s.reports = make(map[string]models.ScoreReport)
	log.Printf("[SAVE] ❌ match=%s save failed (%s): %s", s.matchID, outcome.Err.Code, outcome.Err.Message)
	eff.broadcast(s.matchID, models.EventSaveFailed, models.SaveFailed{
		MatchID: s.matchID,
		Reason:  string(outcome.Err.Code),
		Message: outcome.Err.Message,
	})
	eff.Record = s.record(models.OutcomeSaveFailed, string(outcome.Err.Code))
	return eff
}

// ClaimLeaderTask grants the follow-up task to the first caller after a
// successful save. Every later call, and every call before the save, gets
// nothing.
func (s *Session) ClaimLeaderTask(connectionID string) (Effects, error) {
	var eff Effects

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return eff, errSessionGone
	}
	if s.state != models.StateSaved || s.leaderClaimed {
		return eff, nil
	}

	s.leaderClaimed = true
	s.leaderConn = connectionID
	log.Printf("[SESSION] match=%s leader task granted to connection %s", s.matchID, connectionID)
	eff.private(connectionID, models.EventLeaderPermissionGranted, s.savePayload())
	return eff, nil
}

// ReportLeaderTaskOutcome finalizes the session once the elected client has
// done the follow-up task.
func (s *Session) ReportLeaderTaskOutcome(connectionID string, outcome LeaderTaskOutcome) (Effects, error) {
	var eff Effects

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return eff, errSessionGone
	}
	if !s.leaderClaimed {
		return eff, apperrors.New(apperrors.CodeInvalidState, "no leader task has been granted for this match")
	}
	if connectionID != s.leaderConn {
		return eff, apperrors.New(apperrors.CodeNotLeader, "only the elected client can report the leader task outcome")
	}

	achievements := outcome.EarnedAchievements
	if achievements == nil {
		achievements = []string{}
	}
	payload := models.SessionFinalized{
		MatchID:            s.matchID,
		OK:                 true,
		Message:            "Match and achievements successfully saved!",
		EarnedAchievements: achievements,
	}
	if outcome.ErrorMessage != "" {
		payload.PartialFailure = true
		payload.Message = "Match saved, but there was an issue updating achievements."
		payload.EarnedAchievements = []string{}
		log.Printf("[SESSION] match=%s leader task partially failed: %s", s.matchID, outcome.ErrorMessage)
	}

	s.finish(models.StateFinalized)
	eff.broadcast(s.matchID, models.EventSessionFinalized, payload)
	eff.Record = s.record(models.OutcomeFinalized, outcome.ErrorMessage)
	eff.Record.PartialFailure = payload.PartialFailure
	eff.Terminal = true
	return eff, nil
}

// Disconnect removes every roster entry owned by the connection. It never
// ends the session.
func (s *Session) Disconnect(connectionID string) Effects {
	var eff Effects

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return eff
	}

	kept := s.roster[:0]
	removed := 0
	for _, p := range s.roster {
		if p.ConnectionID == connectionID {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	s.roster = kept
	if removed == 0 {
		return eff
	}

	log.Printf("[SESSION] match=%s connection %s left (%d player(s), roster=%d)", s.matchID, connectionID, removed, len(s.roster))
	eff.broadcast(s.matchID, models.EventRosterUpdated, s.rosterPayload())
	return eff
}

// Expire tears the session down when its deadline passes, whatever it was
// doing. Expiring an ended session is a no-op.
func (s *Session) Expire() Effects {
	var eff Effects

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return eff
	}

	log.Printf("[SESSION] ⏰ match=%s expired in state %s", s.matchID, s.state)
	eff.Record = s.record(models.OutcomeExpired, string(s.state))
	s.finish(models.StateExpired)
	eff.broadcast(s.matchID, models.EventSessionExpired, models.SessionExpired{
		MatchID: s.matchID,
		Message: "This match session expired before it was completed.",
	})
	eff.Terminal = true
	return eff
}

// Clear ends the session on explicit request.
func (s *Session) Clear() (Effects, error) {
	var eff Effects

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return eff, errSessionGone
	}

	log.Printf("[SESSION] match=%s cleared in state %s", s.matchID, s.state)
	eff.Record = s.record(models.OutcomeCleared, string(s.state))
	s.finish(models.StateCleared)
	eff.broadcast(s.matchID, models.EventSessionCleared, models.SessionCleared{MatchID: s.matchID})
	eff.Terminal = true
	return eff, nil
}

// Snapshot returns a copy of the session for read-only inspection.
func (s *Session) Snapshot() models.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := models.SessionView{
		MatchID:       s.matchID,
		State:         s.state,
		SaveState:     s.saveState,
		Roster:        append([]models.Player{}, s.roster...),
		Reporters:     make([]string, 0, len(s.reports)),
		Generation:    s.generation,
		LeaderClaimed: s.leaderClaimed,
		CreatedAt:     s.createdAt,
		ExpiresAt:     s.expiresAt,
	}
	if s.teams != nil {
		teams := models.TeamAssignment{
			Team1: append([]string(nil), s.teams.Team1...),
			Team2: append([]string(nil), s.teams.Team2...),
		}
		view.Teams = &teams
	}
	for name := range s.reports {
		view.Reporters = append(view.Reporters, name)
	}
	sort.Strings(view.Reporters)
	if s.result != nil {
		result := *s.result
		view.Result = &result
	}
	if s.saved != nil {
		view.ExternalMatchID = s.saved.ExternalMatchID
	}
	return view
}

// finish moves to a terminal state and cancels the expiry timer. Callers hold s.mu.
func (s *Session) finish(state models.SessionState) {
	s.state = state
	if s.cancelExpiry != nil {
		cancel := s.cancelExpiry
		s.cancelExpiry = nil
		cancel()
	}
}

func (s *Session) rosterPayload() models.RosterUpdated {
	return models.RosterUpdated{
		MatchID: s.matchID,
		Players: append([]models.Player{}, s.roster...),
	}
}

func (s *Session) identitySnapshot() map[string]string {
	out := make(map[string]string, len(s.identities))
	for name, id := range s.identities {
		out[name] = id
	}
	return out
}

func (s *Session) savePayload() models.SaveSucceeded {
	return models.SaveSucceeded{
		MatchID:         s.matchID,
		Team1IDs:        s.saved.Team1IDs,
		Team2IDs:        s.saved.Team2IDs,
		WinnerIDs:       s.saved.WinnerIDs,
		WinningTeam:     s.result.WinningTeam.Ptr(),
		Team1Score:      s.result.Team1Score,
		Team2Score:      s.result.Team2Score,
		Location:        s.result.Location,
		ExternalMatchID: s.saved.ExternalMatchID,
	}
}

func (s *Session) record(outcome models.MatchOutcome, reason string) *models.MatchRecord {
	rec := &models.MatchRecord{
		ID:         uuid.NewString(),
		MatchID:    s.matchID,
		Outcome:    outcome,
		Reason:     reason,
		FinishedAt: s.clock.Now().UTC(),
	}
	if s.result != nil {
		t1, t2 := s.result.Team1Score, s.result.Team2Score
		rec.Team1Score = &t1
		rec.Team2Score = &t2
		rec.WinningTeam = s.result.WinningTeam.Ptr()
		rec.Location = s.result.Location
	}
	if s.saved != nil {
		rec.ExternalMatchID = s.saved.ExternalMatchID
		rec.Team1IDs = strings.Join(s.saved.Team1IDs, ",")
		rec.Team2IDs = strings.Join(s.saved.Team2IDs, ",")
	}
	return rec
}
