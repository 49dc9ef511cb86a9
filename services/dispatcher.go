package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"

	"match-coordinator/apperrors"
	"match-coordinator/models"
)

// Transport delivers outbound events. Rooms are keyed by match id.
type Transport interface {
	Subscribe(room, connectionID string)
	Broadcast(room, event string, payload any)
	Send(connectionID, event string, payload any)
}

// RecordSink receives the audit record of every finished or failed match.
type RecordSink interface {
	Enqueue(rec models.MatchRecord)
}

// Saver runs the external save for an agreed result.
type Saver interface {
	TrySave(ctx context.Context, req SaveRequest) SaveOutcome
}

// Dispatcher routes inbound events to sessions and carries out the effects
// they return.
type Dispatcher struct {
	registry  *Registry
	saver     Saver
	transport Transport
	records   RecordSink

	ctx   context.Context
	saves sync.WaitGroup
}

// NewDispatcher wires the dispatcher into the registry's expiry path. Saves
// started by the dispatcher inherit ctx.
func NewDispatcher(ctx context.Context, registry *Registry, saver Saver, transport Transport, records RecordSink) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		saver:     saver,
		transport: transport,
		records:   records,
		ctx:       ctx,
	}
	registry.OnExpire(func(s *Session, eff Effects) {
		d.apply(s, eff)
	})
	return d
}

// Dispatch decodes one inbound envelope and routes it.
func (d *Dispatcher) Dispatch(connectionID, event string, raw json.RawMessage) {
	switch event {
	case models.EventJoin:
		var p models.JoinPayload
		if d.decode(connectionID, event, raw, &p) {
			d.Join(connectionID, p)
		}
	case models.EventAssignTeams:
		var p models.AssignTeamsPayload
		if d.decode(connectionID, event, raw, &p) {
			d.AssignTeams(connectionID, p)
		}
	case models.EventSubmitScore:
		var p models.SubmitScorePayload
		if d.decode(connectionID, event, raw, &p) {
			d.SubmitScore(connectionID, p)
		}
	case models.EventClaimLeaderTask:
		var p models.MatchRef
		if d.decode(connectionID, event, raw, &p) {
			d.ClaimLeaderTask(connectionID, p.MatchID)
		}
	case models.EventLeaderTaskOutcome:
		var p models.LeaderTaskOutcomePayload
		if d.decode(connectionID, event, raw, &p) {
			d.ReportLeaderTaskOutcome(connectionID, p)
		}
	case models.EventClearSession:
		var p models.MatchRef
		if d.decode(connectionID, event, raw, &p) {
			if err := d.ClearSession(p.MatchID); err != nil {
				d.reject(connectionID, p.MatchID, event, err)
			}
		}
	default:
		// disconnect is raised by the transport itself, never by a client.
		d.reject(connectionID, "", event, apperrors.New(apperrors.CodeInvalidInput, "unsupported event "+event))
	}
}

// Join creates the session on first use and subscribes the connection to
// the match room.
func (d *Dispatcher) Join(connectionID string, p models.JoinPayload) {
	// Only a valid join may create a session and start its deadline.
	if models.NormalizeName(p.DisplayName) == "" || strings.TrimSpace(p.ExternalID) == "" {
		d.reject(connectionID, p.MatchID, models.EventJoin,
			apperrors.New(apperrors.CodeInvalidInput, "display name and external id are required"))
		return
	}
	for attempt := 0; attempt < 2; attempt++ {
		s, _, err := d.registry.GetOrCreate(p.MatchID)
		if err != nil {
			d.reject(connectionID, p.MatchID, models.EventJoin, err)
			return
		}
		eff, err := s.Join(p.DisplayName, p.ExternalID, connectionID)
		if errors.Is(err, errSessionGone) {
			// Ended between lookup and join; the next lookup replaces it.
			continue
		}
		if err != nil {
			d.reject(connectionID, p.MatchID, models.EventJoin, err)
			return
		}
		d.transport.Subscribe(s.MatchID(), connectionID)
		d.apply(s, eff)
		return
	}
	d.reject(connectionID, p.MatchID, models.EventJoin, errSessionGone)
}

func (d *Dispatcher) AssignTeams(connectionID string, p models.AssignTeamsPayload) {
	s, ok := d.lookup(connectionID, p.MatchID)
	if !ok {
		return
	}
	eff, err := s.AssignTeams(p.Team1, p.Team2)
	d.finish(connectionID, models.EventAssignTeams, s, eff, err)
}

func (d *Dispatcher) SubmitScore(connectionID string, p models.SubmitScorePayload) {
	if p.SelfScore == nil || p.OpponentScore == nil {
		d.reject(connectionID, p.MatchID, models.EventSubmitScore,
			apperrors.New(apperrors.CodeInvalidInput, "both scores are required"))
		return
	}
	s, ok := d.lookup(connectionID, p.MatchID)
	if !ok {
		return
	}
	eff, err := s.SubmitScore(models.ScoreReport{
		ReporterName:  p.ReporterName,
		SelfScore:     *p.SelfScore,
		OpponentScore: *p.OpponentScore,
		Location:      p.Location,
	})
	d.finish(connectionID, models.EventSubmitScore, s, eff, err)
}

func (d *Dispatcher) ClaimLeaderTask(connectionID, matchID string) {
	s, ok := d.lookup(connectionID, matchID)
	if !ok {
		return
	}
	eff, err := s.ClaimLeaderTask(connectionID)
	d.finish(connectionID, models.EventClaimLeaderTask, s, eff, err)
}

func (d *Dispatcher) ReportLeaderTaskOutcome(connectionID string, p models.LeaderTaskOutcomePayload) {
	s, ok := d.lookup(connectionID, p.MatchID)
	if !ok {
		return
	}
	eff, err := s.ReportLeaderTaskOutcome(connectionID, LeaderTaskOutcome{
		EarnedAchievements: p.EarnedAchievements,
		ErrorMessage:       p.ErrorMessage,
	})
	d.finish(connectionID, models.EventLeaderTaskOutcome, s, eff, err)
}

// ClearSession ends a session on request, from a client or the admin API.
func (d *Dispatcher) ClearSession(matchID string) error {
	s, ok := d.registry.Get(matchID)
	if !ok {
		return apperrors.New(apperrors.CodeSessionNotFound, "no active session for match "+matchID)
	}
	eff, err := s.Clear()
	if err != nil {
		d.registry.Remove(s)
		return err
	}
	d.apply(s, eff)
	return nil
}

// Disconnect drops the connection from every session roster it appears in.
func (d *Dispatcher) Disconnect(connectionID string) {
	for _, s := range d.registry.Sessions() {
		d.apply(s, s.Disconnect(connectionID))
	}
}

// Wait blocks until every save started so far has been applied.
func (d *Dispatcher) Wait() {
	d.saves.Wait()
}

func (d *Dispatcher) lookup(connectionID, matchID string) (*Session, bool) {
	s, ok := d.registry.Get(matchID)
	if !ok || s.Closed() {
		d.gone(connectionID, matchID)
		return nil, false
	}
	return s, true
}

func (d *Dispatcher) finish(connectionID, event string, s *Session, eff Effects, err error) {
	if err != nil {
		if errors.Is(err, errSessionGone) {
			d.registry.Remove(s)
		}
		d.reject(connectionID, s.MatchID(), event, err)
		return
	}
	d.apply(s, eff)
}

// apply carries out a session's effects in order: drop a finished session,
// deliver its messages, hand off the audit record, then start the save.
func (d *Dispatcher) apply(s *Session, eff Effects) {
	if eff.Terminal {
		d.registry.Remove(s)
	}
	for _, msg := range eff.Messages {
		if msg.ConnectionID != "" {
			d.transport.Send(msg.ConnectionID, msg.Event, msg.Payload)
		} else {
			d.transport.Broadcast(msg.Room, msg.Event, msg.Payload)
		}
	}
	if eff.Record != nil && d.records != nil {
		d.records.Enqueue(*eff.Record)
	}
	if eff.Save != nil {
		req := *eff.Save
		d.saves.Add(1)
		go func() {
			defer d.saves.Done()
			outcome := d.saver.TrySave(d.ctx, req)
			d.apply(s, s.CompleteSave(outcome))
		}()
	}
}

func (d *Dispatcher) decode(connectionID, event string, raw json.RawMessage, into any) bool {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		d.reject(connectionID, "", event, apperrors.Wrap(apperrors.CodeInvalidInput, "malformed payload", err))
		return false
	}
	return true
}

func (d *Dispatcher) gone(connectionID, matchID string) {
	d.transport.Send(connectionID, models.EventSessionExpired, models.SessionExpired{
		MatchID: matchID,
		Message: "This match session has ended. Please start a new one.",
	})
}

func (d *Dispatcher) reject(connectionID, matchID, event string, err error) {
	code := apperrors.CodeOf(err)
	if code.IsGone() {
		d.gone(connectionID, matchID)
		return
	}
	log.Printf("[SESSION] ⚠️ rejected %s from %s (match=%s): %s %v", event, connectionID, matchID, code, err)
	d.transport.Send(connectionID, models.EventError, models.Rejection{
		MatchID: matchID,
		Event:   event,
		Code:    string(code),
		Message: err.Error(),
	})
}
