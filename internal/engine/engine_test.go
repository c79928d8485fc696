package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"jointly/internal/config"
	"jointly/internal/db"
	"jointly/internal/domain"
	"jointly/internal/engine"
	"jointly/internal/migrate"
	"jointly/internal/wizard"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func advance(t *testing.T, eng engine.Engine, id string) {
	t.Helper()
	if _, err := eng.Continue(id); err != nil {
		t.Fatalf("continue: %v", err)
	}
}

func TestContractConstructionEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	sv, err := env.Engine.StartSession("landowner", "contract-construction")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if sv.Step != "brief" {
		t.Fatalf("step = %s, want brief", sv.Step)
	}
	advance(t, env.Engine, sv.ID)

	if _, err := env.Engine.SetAnswers(sv.ID, wizard.Answers{
		"landownerName":      "Asha",
		"ward":               "12",
		"propertyDimensions": "30×40",
		"propertyFacing":     "North",
		"roadWidth":          "30",
	}); err != nil {
		t.Fatal(err)
	}
	advance(t, env.Engine, sv.ID) // property -> far
	advance(t, env.Engine, sv.ID) // far -> pid
	advance(t, env.Engine, sv.ID) // pid -> intent

	if _, err := env.Engine.SetAnswers(sv.ID, wizard.Answers{
		"timeline":    "Within a month",
		"projectType": "Duplex house",
	}); err != nil {
		t.Fatal(err)
	}
	rec, err := env.Engine.Submit(env.Ctx, sv.ID, "tester")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.Type != domain.CategoryContractConstruction || rec.Role != domain.RoleLandowner {
		t.Fatalf("record tags = %s/%s", rec.Role, rec.Type)
	}
	if rec.SchemaVersion != domain.SchemaVersion {
		t.Fatalf("schema version = %d", rec.SchemaVersion)
	}

	var payload domain.ContractConstruction
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.FAR != "2.75" {
		t.Errorf("far = %q, want 2.75", payload.FAR)
	}
	if payload.ProjectIntent.Type != "Duplex house" {
		t.Errorf("project type = %q", payload.ProjectIntent.Type)
	}
	if payload.PropertyLocation.City != "Bangalore" {
		t.Errorf("city = %q, want default Bangalore", payload.PropertyLocation.City)
	}
	if payload.PIDValidation != nil {
		t.Errorf("pid validation should be absent when not opted in")
	}

	// the record landed in the role-scoped list
	list, err := env.Engine.ListSubmissions(env.Ctx, "landowner")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != rec.ID {
		t.Fatalf("list = %v", list)
	}

	// session is gone after submit
	if _, err := env.Engine.Session(sv.ID); !errors.Is(err, engine.ErrUnknownSession) {
		t.Fatalf("session after submit: %v", err)
	}

	// the publish event was appended in the same transaction
	evs, err := env.Engine.Store.ListEventsAfter(env.Ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 || evs[0].Type != "submission.published" || evs[0].EntityID != rec.ID {
		t.Fatalf("events = %+v", evs)
	}
}

func TestPidOptInProducesValidationObject(t *testing.T) {
	env := newTestEnv(t)
	sv, _ := env.Engine.StartSession("landowner", "contract-construction")
	advance(t, env.Engine, sv.ID)
	_, _ = env.Engine.SetAnswers(sv.ID, wizard.Answers{
		"landownerName":      "Asha",
		"ward":               "12",
		"propertyDimensions": "30×40",
		"propertyFacing":     "North",
		"roadWidth":          "30",
		"wantPidValidation":  true,
		"pidNumber":          "PID-42",
	})
	advance(t, env.Engine, sv.ID)
	advance(t, env.Engine, sv.ID)
	advance(t, env.Engine, sv.ID)
	_, _ = env.Engine.SetAnswers(sv.ID, wizard.Answers{"timeline": "Within a month", "projectType": "Villa"})
	rec, err := env.Engine.Submit(env.Ctx, sv.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	var payload domain.ContractConstruction
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.PIDValidation == nil || payload.PIDValidation.PIDNumber != "PID-42" || payload.PIDValidation.Validated {
		t.Fatalf("pid validation = %+v", payload.PIDValidation)
	}
	if !rec.Verified() {
		t.Error("record with pidValidation should count as verified")
	}
}

func TestJointVentureFreezesFeasibility(t *testing.T) {
	env := newTestEnv(t)
	sv, _ := env.Engine.StartSession("landowner", "joint-venture")
	advance(t, env.Engine, sv.ID)
	_, _ = env.Engine.SetAnswers(sv.ID, wizard.Answers{
		"propertyOwnerName":           "Ravi",
		"googleMapsLocation":          "https://maps.example/xyz",
		"propertyDimensions":          "30×40",
		"propertyFacing":              "East",
		"roadWidth":                   "30",
		"khathaType":                  "A-Khatha",
		"ekhathaStatus":               "Yes",
		"taxPaidDetails":              "Paid through 2026",
		"pidNumber":                   "PID-7",
		"postConstructionExpectation": []any{"Built-up area sharing"},
		"hasPresetIdea":               "no",
	})
	advance(t, env.Engine, sv.ID) // verification -> preferences
	advance(t, env.Engine, sv.ID) // preferences -> feasibility
	advance(t, env.Engine, sv.ID) // feasibility -> visibility
	rec, err := env.Engine.Submit(env.Ctx, sv.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	var payload domain.JointVenture
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	f := payload.Feasibility
	if f == nil {
		t.Fatal("feasibility missing")
	}
	if f.PlotArea != 1200 || f.FAR != 2.75 || f.TotalBuildableArea != 3300 || f.NetBuildableArea != 900 || f.ApproximateUnits != 4 {
		t.Fatalf("feasibility = %+v", f)
	}
	if payload.JVPreferences.PresetIdeaExplain != "" {
		t.Errorf("preset idea explanation should be dropped when answer is no")
	}
}

func TestBuilderSubmissionFreezesAnswers(t *testing.T) {
	env := newTestEnv(t)
	sv, _ := env.Engine.StartSession("builder", "contract-construction")
	advance(t, env.Engine, sv.ID)
	_, _ = env.Engine.SetAnswers(sv.ID, wizard.Answers{
		"companyName":     "Acme Constructions",
		"yearsExperience": "15",
		"address":         "Indiranagar, Bangalore",
		"projectTypes":    []any{"Residential – Duplexes, villas, multi-story buildings"},
		"imageCount":      float64(9),
		"pricing": map[string]any{
			"residential": map[string]any{"basic": "1800", "standard": "2200", "luxury": "2800"},
		},
	})
	rec, err := env.Engine.Submit(env.Ctx, sv.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Role != domain.RoleBuilder {
		t.Fatalf("role = %s", rec.Role)
	}
	var payload domain.BuilderProfile
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.CompanyName != "Acme Constructions" || len(payload.ProjectTypes) != 1 {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.ImageCount != 5 {
		t.Errorf("image count = %d, want clamp to 5", payload.ImageCount)
	}
	if payload.Pricing["residential"].Standard != "2200" {
		t.Errorf("pricing = %+v", payload.Pricing)
	}
	if payload.Verified != nil || rec.Verified() {
		t.Error("new builder profiles start unverified")
	}
}

func TestSubmitRefusedBeforeLastStep(t *testing.T) {
	env := newTestEnv(t)
	sv, _ := env.Engine.StartSession("landowner", "interior")
	if _, err := env.Engine.Submit(env.Ctx, sv.ID, "tester"); !errors.Is(err, wizard.ErrNotLastStep) {
		t.Fatalf("submit from brief: %v", err)
	}
	advance(t, env.Engine, sv.ID)
	if _, err := env.Engine.Submit(env.Ctx, sv.ID, "tester"); !errors.Is(err, wizard.ErrStepIncomplete) {
		t.Fatalf("submit with empty form: %v", err)
	}
	// nothing was persisted by the refused submits
	list, err := env.Engine.ListSubmissions(env.Ctx, "landowner")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("refused submit persisted %d records", len(list))
	}
}

func TestSubmitRetriesAfterStorageFault(t *testing.T) {
	env := newTestEnv(t)
	sv, _ := env.Engine.StartSession("landowner", "interior")
	advance(t, env.Engine, sv.ID)
	_, _ = env.Engine.SetAnswers(sv.ID, wizard.Answers{
		"buildingType": "Flat",
		"location":     "Jayanagar, Bangalore",
		"isEndToEnd":   "yes",
		"commence":     "Within a month",
	})

	// Take the submissions table away so the insert fails mid-submit.
	if _, err := env.Engine.DB.Exec(`ALTER TABLE submissions RENAME TO submissions_offline`); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Submit(env.Ctx, sv.ID, "tester"); err == nil {
		t.Fatal("submit should fail without the submissions table")
	}

	// The session backed out of done and kept its answers.
	got, err := env.Engine.Session(sv.ID)
	if err != nil {
		t.Fatalf("session after failed submit: %v", err)
	}
	if got.Done || got.Step != "form" {
		t.Fatalf("session state = %s done=%v, want form not done", got.Step, got.Done)
	}
	if got.Answers.Str("buildingType") != "Flat" {
		t.Fatalf("answers lost: %+v", got.Answers)
	}

	if _, err := env.Engine.DB.Exec(`ALTER TABLE submissions_offline RENAME TO submissions`); err != nil {
		t.Fatal(err)
	}
	rec, err := env.Engine.Submit(env.Ctx, sv.ID, "tester")
	if err != nil {
		t.Fatalf("retry submit: %v", err)
	}
	if rec.Type != domain.CategoryInterior {
		t.Fatalf("type = %s", rec.Type)
	}
	if _, err := env.Engine.Session(sv.ID); !errors.Is(err, engine.ErrUnknownSession) {
		t.Fatalf("session after successful retry: %v", err)
	}
	list, err := env.Engine.ListSubmissions(env.Ctx, "landowner")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("want exactly one record after retry, got %d", len(list))
	}
}

func TestStartSessionRejectsUnknownPairs(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.StartSession("tenant", "interior"); err == nil {
		t.Error("unknown role accepted")
	}
	if _, err := env.Engine.StartSession("landowner", "landscaping"); err == nil {
		t.Error("unknown category accepted")
	}
}
