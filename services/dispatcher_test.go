package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"match-coordinator/apperrors"
	"match-coordinator/models"

	"github.com/jonboulle/clockwork"
)

type delivery struct {
	Room         string
	ConnectionID string
	Event        string
	Payload      any
}

type fakeTransport struct {
	mu         sync.Mutex
	subscribed map[string][]string
	sent       []delivery
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subscribed: make(map[string][]string)}
}

func (f *fakeTransport) Subscribe(room, connectionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[room] = append(f.subscribed[room], connectionID)
}

func (f *fakeTransport) Broadcast(room, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, delivery{Room: room, Event: event, Payload: payload})
}

func (f *fakeTransport) Send(connectionID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, delivery{ConnectionID: connectionID, Event: event, Payload: payload})
}

func (f *fakeTransport) events(event string) []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []delivery
	for _, d := range f.sent {
		if d.Event == event {
			out = append(out, d)
		}
	}
	return out
}

type fakeSaver struct {
	mu      sync.Mutex
	calls   int
	outcome func(SaveRequest) SaveOutcome
}

func (f *fakeSaver) TrySave(ctx context.Context, req SaveRequest) SaveOutcome {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.outcome(req)
}

func (f *fakeSaver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRecords struct {
	mu   sync.Mutex
	recs []models.MatchRecord
}

func (f *fakeRecords) Enqueue(rec models.MatchRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
}

type dispatcherFixture struct {
	d         *Dispatcher
	registry  *Registry
	sched     *fakeScheduler
	transport *fakeTransport
	saver     *fakeSaver
	records   *fakeRecords
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	f := &dispatcherFixture{
		sched:     newFakeScheduler(),
		transport: newFakeTransport(),
		records:   &fakeRecords{},
		saver: &fakeSaver{outcome: func(req SaveRequest) SaveOutcome {
			return SaveOutcome{MatchID: req.MatchID, Generation: req.Generation, ExternalMatchID: "m-1",
				Team1IDs: []string{"ext-A", "ext-B"}, Team2IDs: []string{"ext-C", "ext-D"}, WinnerIDs: []string{"ext-A", "ext-B"}}
		}},
	}
	f.registry = NewRegistry(f.sched, clockwork.NewFakeClock(), time.Hour)
	f.d = NewDispatcher(context.Background(), f.registry, f.saver, f.transport, f.records)
	return f
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func intp(v int) *int { return &v }

func (f *dispatcherFixture) setup(t *testing.T) {
	t.Helper()
	for _, name := range []string{"A", "B", "C", "D"} {
		f.d.Dispatch("conn-"+name, models.EventJoin, raw(t, models.JoinPayload{
			MatchID: "court-7", DisplayName: name, ExternalID: "ext-" + name,
		}))
	}
	f.d.Dispatch("conn-A", models.EventAssignTeams, raw(t, models.AssignTeamsPayload{
		MatchID: "court-7", Team1: []string{"A", "B"}, Team2: []string{"C", "D"},
	}))
}

func (f *dispatcherFixture) score(t *testing.T, name string, self, opp int) {
	t.Helper()
	f.d.Dispatch("conn-"+name, models.EventSubmitScore, raw(t, models.SubmitScorePayload{
		MatchID: "court-7", ReporterName: name, SelfScore: intp(self), OpponentScore: intp(opp),
	}))
}

func TestDispatcherFullMatch(t *testing.T) {
	f := newDispatcherFixture(t)
	f.setup(t)

	if got := f.transport.subscribed["court-7"]; len(got) != 4 {
		t.Fatalf("expected 4 subscribers, got %v", got)
	}
	if got := f.transport.events(models.EventRosterUpdated); len(got) != 4 {
		t.Fatalf("expected a roster update per join, got %d", len(got))
	}

	f.score(t, "A", 11, 4)
	f.score(t, "B", 11, 4)
	f.score(t, "C", 4, 11)
	f.score(t, "D", 4, 11)
	f.d.Wait()

	if f.saver.count() != 1 {
		t.Fatalf("expected exactly one save, got %d", f.saver.count())
	}
	saved := f.transport.events(models.EventSaveSucceeded)
	if len(saved) != 1 || saved[0].Room != "court-7" {
		t.Fatalf("expected one save-succeeded broadcast, got %+v", saved)
	}

	f.d.Dispatch("conn-B", models.EventClaimLeaderTask, raw(t, models.MatchRef{MatchID: "court-7"}))
	f.d.Dispatch("conn-C", models.EventClaimLeaderTask, raw(t, models.MatchRef{MatchID: "court-7"}))
	grants := f.transport.events(models.EventLeaderPermissionGranted)
	if len(grants) != 1 || grants[0].ConnectionID != "conn-B" {
		t.Fatalf("expected a single private grant to conn-B, got %+v", grants)
	}

	f.d.Dispatch("conn-B", models.EventLeaderTaskOutcome, raw(t, models.LeaderTaskOutcomePayload{MatchID: "court-7"}))
	if got := f.transport.events(models.EventSessionFinalized); len(got) != 1 {
		t.Fatalf("expected session-finalized, got %d", len(got))
	}
	if f.registry.Len() != 0 {
		t.Fatalf("expected finalized session removed, got %d", f.registry.Len())
	}
	if len(f.records.recs) != 1 || f.records.recs[0].Outcome != models.OutcomeFinalized {
		t.Fatalf("expected a finalized ledger record, got %+v", f.records.recs)
	}

	// Events for the destroyed session get a private session-expired.
	f.score(t, "A", 11, 4)
	gone := f.transport.events(models.EventSessionExpired)
	if len(gone) != 1 || gone[0].ConnectionID != "conn-A" {
		t.Fatalf("expected private session-expired to conn-A, got %+v", gone)
	}
}

func TestDispatcherConcurrentFinalSubmitsSaveOnce(t *testing.T) {
	f := newDispatcherFixture(t)
	f.setup(t)
	f.score(t, "A", 11, 4)
	f.score(t, "B", 11, 4)
	f.score(t, "C", 4, 11)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.score(t, "D", 4, 11)
		}()
	}
	wg.Wait()
	f.d.Wait()

	if f.saver.count() != 1 {
		t.Fatalf("expected exactly one save, got %d", f.saver.count())
	}
	locked := 0
	for _, d := range f.transport.events(models.EventError) {
		if d.Payload.(models.Rejection).Code == string(apperrors.CodeResultLocked) {
			locked++
		}
	}
	if locked != 15 {
		t.Fatalf("expected 15 RESULT_LOCKED rejections, got %d", locked)
	}
}

func TestDispatcherSaveFailure(t *testing.T) {
	f := newDispatcherFixture(t)
	f.saver.outcome = func(req SaveRequest) SaveOutcome {
		return SaveOutcome{MatchID: req.MatchID, Generation: req.Generation,
			Err: apperrors.New(apperrors.CodeUpstreamUnreachable, "Could not connect to the API service.")}
	}
	f.setup(t)
	f.score(t, "A", 11, 4)
	f.score(t, "B", 11, 4)
	f.score(t, "C", 4, 11)
	f.score(t, "D", 4, 11)
	f.d.Wait()

	failed := f.transport.events(models.EventSaveFailed)
	if len(failed) != 1 || failed[0].Payload.(models.SaveFailed).Reason != string(apperrors.CodeUpstreamUnreachable) {
		t.Fatalf("expected one save-failed broadcast, got %+v", failed)
	}
	if f.registry.Len() != 1 {
		t.Fatalf("expected the session to survive a failed save")
	}
	if len(f.records.recs) != 1 || f.records.recs[0].Outcome != models.OutcomeSaveFailed {
		t.Fatalf("expected a save_failed record, got %+v", f.records.recs)
	}
}

func TestDispatcherRejections(t *testing.T) {
	f := newDispatcherFixture(t)

	f.d.Dispatch("conn-X", "fly-to-moon", nil)
	f.d.Dispatch("conn-X", models.EventJoin, json.RawMessage(`{"match_id":`))
	f.d.Dispatch("conn-X", models.EventJoin, raw(t, models.JoinPayload{MatchID: "court-7"}))
	f.d.Dispatch("conn-X", models.EventSubmitScore, raw(t, models.SubmitScorePayload{MatchID: "court-7", ReporterName: "A"}))
	f.d.Dispatch("conn-X", models.EventDisconnect, nil)

	errs := f.transport.events(models.EventError)
	if len(errs) != 5 {
		t.Fatalf("expected 5 rejections, got %d: %+v", len(errs), errs)
	}
	for _, e := range errs {
		if e.ConnectionID != "conn-X" || e.Payload.(models.Rejection).Code != string(apperrors.CodeInvalidInput) {
			t.Fatalf("expected a private INVALID_INPUT rejection, got %+v", e)
		}
	}

	if f.registry.Len() != 0 {
		t.Fatalf("expected an invalid join not to create a session")
	}

	f.d.Dispatch("conn-X", models.EventAssignTeams, raw(t, models.AssignTeamsPayload{MatchID: "nowhere"}))
	if got := f.transport.events(models.EventSessionExpired); len(got) != 1 {
		t.Fatalf("expected session-expired for an unknown match, got %d", len(got))
	}
}

func TestDispatcherDisconnect(t *testing.T) {
	f := newDispatcherFixture(t)
	f.setup(t)

	f.d.Disconnect("conn-C")
	updates := f.transport.events(models.EventRosterUpdated)
	last := updates[len(updates)-1].Payload.(models.RosterUpdated)
	if len(last.Players) != 3 {
		t.Fatalf("expected 3 players after disconnect, got %d", len(last.Players))
	}
	if f.registry.Len() != 1 {
		t.Fatalf("expected disconnect to leave the session alive")
	}
}

func TestDispatcherExpiryBroadcastsAndRemoves(t *testing.T) {
	f := newDispatcherFixture(t)
	f.setup(t)

	f.sched.fire("session-expiry:court-7")

	expired := f.transport.events(models.EventSessionExpired)
	if len(expired) != 1 || expired[0].Room != "court-7" {
		t.Fatalf("expected a room-wide session-expired, got %+v", expired)
	}
	if f.registry.Len() != 0 {
		t.Fatalf("expected expired session removed")
	}
	if len(f.records.recs) != 1 || f.records.recs[0].Outcome != models.OutcomeExpired {
		t.Fatalf("expected an expired record, got %+v", f.records.recs)
	}

	// Any other event for the expired match is answered privately.
	f.score(t, "B", 11, 4)
	expired = f.transport.events(models.EventSessionExpired)
	if len(expired) != 2 || expired[1].ConnectionID != "conn-B" || expired[1].Room != "" {
		t.Fatalf("expected a private session-expired to conn-B, got %+v", expired)
	}
	if f.registry.Len() != 0 {
		t.Fatalf("expected a late event not to recreate the session")
	}

	// The same match id starts over with a fresh session.
	f.d.Dispatch("conn-A", models.EventJoin, raw(t, models.JoinPayload{MatchID: "court-7", DisplayName: "A", ExternalID: "ext-A"}))
	s, ok := f.registry.Get("court-7")
	if !ok || s.Snapshot().State != models.StateForming {
		t.Fatalf("expected a fresh forming session")
	}
}

func TestDispatcherClearSession(t *testing.T) {
	f := newDispatcherFixture(t)
	f.setup(t)

	if err := f.d.ClearSession("court-7"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := f.transport.events(models.EventSessionCleared); len(got) != 1 {
		t.Fatalf("expected session-cleared broadcast, got %d", len(got))
	}
	if err := f.d.ClearSession("court-7"); apperrors.CodeOf(err) != apperrors.CodeSessionNotFound {
		t.Fatalf("expected SESSION_NOT_FOUND, got %v", err)
	}
	if f.sched.cancelCount("session-expiry:court-7") != 1 {
		t.Fatalf("expected the expiry timer cancelled on clear")
	}
}
