package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"match-coordinator/models"
	"match-coordinator/services"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
)

type noopScheduler struct{}

func (noopScheduler) Schedule(string, time.Time, func()) (func(), error) {
	return func() {}, nil
}

type stubSaver struct{}

func (stubSaver) TrySave(_ context.Context, req services.SaveRequest) services.SaveOutcome {
	return services.SaveOutcome{MatchID: req.MatchID, Generation: req.Generation, ExternalMatchID: "m-1"}
}

func newTestApp(t *testing.T) (*fiber.App, *services.Registry, *Hub) {
	t.Helper()
	registry := services.NewRegistry(noopScheduler{}, clockwork.NewFakeClock(), time.Hour)
	hub := NewHub()
	dispatcher := services.NewDispatcher(context.Background(), registry, stubSaver{}, hub, nil)

	app := fiber.New()
	SetupSessionRoutes(app, registry, dispatcher, "s3cret")
	SetupSocketRoutes(app, hub, dispatcher)

	dispatcher.Join("conn-1", models.JoinPayload{MatchID: "court-7", DisplayName: "A", ExternalID: "ext-A"})
	return app, registry, hub
}

func doRequest(t *testing.T, app *fiber.App, method, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func TestHealthz(t *testing.T) {
	app, _, _ := newTestApp(t)

	status, body := doRequest(t, app, "GET", "/healthz")
	if status != fiber.StatusOK || body["status"] != "ok" || body["sessions"] != float64(1) {
		t.Fatalf("unexpected health response %d %v", status, body)
	}
}

func TestAdminSessionRoutes(t *testing.T) {
	app, registry, _ := newTestApp(t)

	status, body := doRequest(t, app, "GET", "/admin/sessions")
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if list, ok := body["sessions"].([]any); !ok || len(list) != 1 {
		t.Fatalf("expected one session, got %v", body["sessions"])
	}

	status, body = doRequest(t, app, "GET", "/admin/sessions/court-7")
	if status != fiber.StatusOK || body["state"] != string(models.StateForming) {
		t.Fatalf("unexpected session view %d %v", status, body)
	}

	if status, _ = doRequest(t, app, "GET", "/admin/sessions/nowhere"); status != fiber.StatusNotFound {
		t.Fatalf("expected 404 for an unknown session, got %d", status)
	}

	if status, _ = doRequest(t, app, "DELETE", "/admin/sessions/court-7"); status != fiber.StatusNoContent {
		t.Fatalf("expected 204 on clear, got %d", status)
	}
	if registry.Len() != 0 {
		t.Fatalf("expected the session removed")
	}
	if status, _ = doRequest(t, app, "DELETE", "/admin/sessions/court-7"); status != fiber.StatusNotFound {
		t.Fatalf("expected 404 on second clear, got %d", status)
	}
}

func TestSocketRouteRequiresUpgrade(t *testing.T) {
	app, _, _ := newTestApp(t)

	status, _ := doRequest(t, app, "GET", "/ws")
	if status != fiber.StatusUpgradeRequired {
		t.Fatalf("expected 426 without an upgrade, got %d", status)
	}
}
