package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"match-coordinator/apperrors"
	"match-coordinator/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SaveOrchestrator performs the external save for a validated result. It is
// stateless; the exactly-once guard lives on the session.
type SaveOrchestrator struct {
	service RecordService
	timeout time.Duration
	tracer  trace.Tracer
}

func NewSaveOrchestrator(service RecordService, timeout time.Duration) *SaveOrchestrator {
	return &SaveOrchestrator{
		service: service,
		timeout: timeout,
		tracer:  otel.Tracer("match-coordinator/save"),
	}
}

// TrySave resolves player ids, checks rating eligibility and records the
// match. It never returns a Go error: failures are carried in the outcome.
func (o *SaveOrchestrator) TrySave(ctx context.Context, req SaveRequest) SaveOutcome {
	ctx, span := o.tracer.Start(ctx, "save.match",
		trace.WithAttributes(
			attribute.String("match.id", req.MatchID),
			attribute.Int("match.generation", req.Generation),
		),
	)
	defer span.End()

	out := SaveOutcome{MatchID: req.MatchID, Generation: req.Generation}

	team1IDs, err := resolveIDs(req.Teams.Team1, req.Identities)
	if err == nil {
		out.Team2IDs, err = resolveIDs(req.Teams.Team2, req.Identities)
	}
	if err != nil {
		return o.fail(span, out, err)
	}
	out.Team1IDs = team1IDs

	allIDs := append(append([]string{}, out.Team1IDs...), out.Team2IDs...)
	activated, err := o.checkEligibility(ctx, allIDs)
	if err != nil {
		return o.fail(span, out, err)
	}
	logToDupr := true
	for _, id := range allIDs {
		if !activated[id] {
			logToDupr = false
			break
		}
	}

	switch req.Result.WinningTeam {
	case models.Team1:
		out.WinnerIDs = append([]string{}, out.Team1IDs...)
	case models.Team2:
		out.WinnerIDs = append([]string{}, out.Team2IDs...)
	default:
		out.WinnerIDs = []string{}
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	resp, err := o.service.RecordMatch(callCtx, RecordMatchRequest{
		MatchID:   req.MatchID,
		Team1:     TeamScore{Players: out.Team1IDs, Score: req.Result.Team1Score},
		Team2:     TeamScore{Players: out.Team2IDs, Score: req.Result.Team2Score},
		Winners:   out.WinnerIDs,
		Location:  req.Result.Location,
		LogToDupr: logToDupr,
	})
	if err != nil {
		return o.fail(span, out, err)
	}
	if resp.ExternalMatchID == "" {
		return o.fail(span, out, apperrors.New(apperrors.CodeMalformedResponse,
			"API returned a success status but was missing the match ID."))
	}

	out.ExternalMatchID = resp.ExternalMatchID
	span.SetAttributes(
		attribute.String("match.external_id", resp.ExternalMatchID),
		attribute.Bool("match.log_to_dupr", logToDupr),
	)
	span.SetStatus(codes.Ok, "")
	return out
}

func (o *SaveOrchestrator) checkEligibility(ctx context.Context, ids []string) (map[string]bool, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return o.service.CheckEligibility(ctx, ids)
}

func (o *SaveOrchestrator) fail(span trace.Span, out SaveOutcome, err error) SaveOutcome {
	out.Err = classify(err)
	out.WinnerIDs = nil
	span.RecordError(err)
	span.SetAttributes(attribute.String("save.failure", string(out.Err.Code)))
	span.SetStatus(codes.Error, out.Err.Message)
	log.Printf("[SAVE] match=%s generation=%d failed: %s (%v)", out.MatchID, out.Generation, out.Err.Code, err)
	return out
}

func resolveIDs(names []string, identities map[string]string) ([]string, error) {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		id, ok := identities[name]
		if !ok || id == "" {
			return nil, apperrors.New(apperrors.CodeRequestSetupFailed,
				fmt.Sprintf("no account is linked to player %q", name))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// classify maps any error into one of the save failure reasons.
func classify(err error) *apperrors.Error {
	if appErr, ok := apperrors.As(err); ok && appErr.Code.IsSaveFailure() {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.Wrap(apperrors.CodeUpstreamUnreachable, "Could not connect to the API service.", err)
	}
	return apperrors.Wrap(apperrors.CodeRequestSetupFailed, "The match could not be prepared for saving.", err)
}
