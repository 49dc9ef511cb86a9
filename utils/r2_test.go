package utils

import (
	"testing"
	"time"

	"match-coordinator/models"
)

func TestArchiveKey(t *testing.T) {
	rec := models.MatchRecord{
		ID:         "1a2b3c4d-0000-4000-8000-000000000000",
		MatchID:    "Court 7 Finals",
		Outcome:    models.OutcomeExpired,
		FinishedAt: time.Date(2026, 10, 19, 23, 30, 0, 0, time.FixedZone("PDT", -7*3600)),
	}

	got := ArchiveKey(rec)
	want := "matches/2026/10/20/court-7-finals-expired-1a2b3c4d.json"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestArchiveKeyFallsBackForUnsluggableIDs(t *testing.T) {
	rec := models.MatchRecord{ID: "abc", MatchID: "!!!", Outcome: models.OutcomeCleared, FinishedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}
	if got := ArchiveKey(rec); got != "matches/2026/01/02/match-cleared-abc.json" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestNewHTTPClientTimeout(t *testing.T) {
	if c := NewHTTPClient(3 * time.Second); c.Timeout != 3*time.Second {
		t.Fatalf("expected 3s timeout, got %s", c.Timeout)
	}
}
