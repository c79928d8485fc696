package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"jointly/internal/config"
	"jointly/internal/domain"
	"jointly/internal/events"
	"jointly/internal/feasibility"
	"jointly/internal/store"
	"jointly/internal/wizard"
)

// ErrUnknownSession means the session id is not in flight. Submitted
// sessions are discarded, so a stale id lands here too.
var ErrUnknownSession = errors.New("session not found")

const maxPortfolioImages = 5

// Engine drives wizard sessions and turns submitted ones into durable
// records. Sessions live in memory; only submissions persist.
type Engine struct {
	DB     *sql.DB
	Store  store.Store
	Events events.Writer
	Config *config.Config
	Calc   feasibility.Calculator
	Now    func() time.Time

	mu       *sync.Mutex
	sessions map[string]*wizard.Session
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:       db,
		Store:    store.Store{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Calc:     feasibility.New(cfg),
		Now:      time.Now,
		mu:       &sync.Mutex{},
		sessions: make(map[string]*wizard.Session),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// SessionView is the client-facing snapshot of a session.
type SessionView struct {
	ID       string          `json:"id"`
	Role     domain.Role     `json:"role"`
	Category domain.Category `json:"category"`
	Step     string          `json:"step"`
	Steps    []string        `json:"steps"`
	Answers  wizard.Answers  `json:"answers"`
	Done     bool            `json:"done"`
}

func view(s *wizard.Session) SessionView {
	def := s.Definition()
	return SessionView{
		ID:       s.ID,
		Role:     def.Role,
		Category: def.Category,
		Step:     string(s.Step()),
		Steps:    def.StepNames(),
		Answers:  s.Answers(),
		Done:     s.Done(),
	}
}

// StartSession opens a wizard session for a (role, category) pair.
func (e Engine) StartSession(role, category string) (SessionView, error) {
	if !domain.ValidRole(role) {
		return SessionView{}, fmt.Errorf("%w: unknown role %q", wizard.ErrNoDefinition, role)
	}
	if !domain.ValidCategory(category) {
		return SessionView{}, fmt.Errorf("%w: unknown category %q", wizard.ErrNoDefinition, category)
	}
	def, err := wizard.For(domain.Role(role), domain.Category(category))
	if err != nil {
		return SessionView{}, err
	}
	s := wizard.NewSession(def)
	e.mu.Lock()
	e.sessions[s.ID] = s
	e.mu.Unlock()
	return view(s), nil
}

func (e Engine) session(id string) (*wizard.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return s, nil
}

// Session returns a snapshot of an in-flight session.
func (e Engine) Session(id string) (SessionView, error) {
	s, err := e.session(id)
	if err != nil {
		return SessionView{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return view(s), nil
}

// SetAnswers merges fields into the session without advancing it.
func (e Engine) SetAnswers(id string, fields wizard.Answers) (SessionView, error) {
	s, err := e.session(id)
	if err != nil {
		return SessionView{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.Set(fields); err != nil {
		return SessionView{}, err
	}
	return view(s), nil
}

// Continue advances the session one step.
func (e Engine) Continue(id string) (SessionView, error) {
	s, err := e.session(id)
	if err != nil {
		return SessionView{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.Continue(); err != nil {
		return SessionView{}, err
	}
	return view(s), nil
}

// Back returns the session to the previous step.
func (e Engine) Back(id string) (SessionView, error) {
	s, err := e.session(id)
	if err != nil {
		return SessionView{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.Back(); err != nil {
		return SessionView{}, err
	}
	return view(s), nil
}

// Submit freezes the session's answers into a SubmissionRecord, appends it
// with a publish event in one transaction, and discards the session.
func (e Engine) Submit(ctx context.Context, id, actorID string) (domain.SubmissionRecord, error) {
	s, err := e.session(id)
	if err != nil {
		return domain.SubmissionRecord{}, err
	}

	e.mu.Lock()
	def := s.Definition()
	frozen, err := s.Submit()
	e.mu.Unlock()
	if err != nil {
		return domain.SubmissionRecord{}, err
	}

	payload, err := e.assemblePayload(def.Role, def.Category, frozen)
	if err != nil {
		e.reopen(s)
		return domain.SubmissionRecord{}, err
	}

	rec := domain.SubmissionRecord{
		ID:            uuid.NewString(),
		Role:          def.Role,
		Type:          def.Category,
		SchemaVersion: domain.SchemaVersion,
		Payload:       payload,
		SubmittedAt:   e.now().UTC().Format(time.RFC3339),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.reopen(s)
		return domain.SubmissionRecord{}, err
	}
	defer tx.Rollback()
	if err := e.Store.InsertSubmission(ctx, tx, rec); err != nil {
		e.reopen(s)
		return domain.SubmissionRecord{}, fmt.Errorf("insert submission: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "submission.published", string(def.Role), "submission", rec.ID, actorID, events.EventPayload{
		"type":       string(def.Category),
		"session_id": id,
	}); err != nil {
		e.reopen(s)
		return domain.SubmissionRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		e.reopen(s)
		return domain.SubmissionRecord{}, err
	}

	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()
	return rec, nil
}

// reopen backs a session out of done after a failed persist. The answers are
// untouched, so the caller can retry Submit once the fault clears.
func (e Engine) reopen(s *wizard.Session) {
	e.mu.Lock()
	s.Reopen()
	e.mu.Unlock()
}

// FeasibilityPreview exposes the calculator for the feasibility review step.
func (e Engine) FeasibilityPreview(dimensions, roadWidth string) *domain.Feasibility {
	return e.Calc.Compute(dimensions, roadWidth)
}

// ListSubmissions returns a role's records in insertion order.
func (e Engine) ListSubmissions(ctx context.Context, role string) ([]domain.SubmissionRecord, error) {
	if !domain.ValidRole(role) {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	return e.Store.ListSubmissions(ctx, domain.Role(role))
}

// FilterSubmissions narrows a role's records by category and verification.
func (e Engine) FilterSubmissions(ctx context.Context, role, category string, verified *bool) ([]domain.SubmissionRecord, error) {
	if !domain.ValidRole(role) {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	if category != "" && !domain.ValidCategory(category) {
		return nil, fmt.Errorf("invalid category %q", category)
	}
	return e.Store.FilterSubmissions(ctx, domain.Role(role), category, verified)
}

// resolveOther swaps a select value for its free-text companion when the
// sentinel option was chosen.
func resolveOther(value, other, sentinel string) string {
	if value == sentinel {
		return other
	}
	return value
}

func (e Engine) assemblePayload(role domain.Role, category domain.Category, a wizard.Answers) (json.RawMessage, error) {
	var payload any
	if role == domain.RoleBuilder {
		payload = e.builderPayload(category, a)
	} else {
		switch category {
		case domain.CategoryContractConstruction:
			payload = e.contractConstructionPayload(a)
		case domain.CategoryJointVenture:
			payload = e.jointVenturePayload(a)
		case domain.CategoryInterior:
			payload = interiorPayload(a)
		case domain.CategoryReconstruction:
			payload = reconstructionPayload(a)
		default:
			return nil, fmt.Errorf("invalid category %q", category)
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}

func (e Engine) contractConstructionPayload(a wizard.Answers) domain.ContractConstruction {
	city := a.Str("city")
	if city == "" {
		city = e.Config.City
	}
	projectCategory := a.Str("projectCategory")
	if projectCategory == "" {
		projectCategory = "residential"
	}
	cc := domain.ContractConstruction{
		LandownerName: a.Str("landownerName"),
		PropertyLocation: domain.PropertyLocation{
			City:     city,
			Ward:     a.Str("ward"),
			Landmark: a.Str("landmark"),
			MapsLink: a.Str("googleMapsLocation"),
		},
		PropertyDetails: domain.PropertyDetails{
			Dimensions: resolveOther(a.Str("propertyDimensions"), a.Str("propertyDimensionsOther"), wizard.OtherFreeText),
			Facing:     a.Str("propertyFacing"),
			IsCorner:   a.Bool("isCornerProperty"),
			RoadWidth:  a.Str("roadWidth"),
		},
		FAR: e.Calc.FARString(a.Str("roadWidth")),
		ProjectIntent: domain.ProjectIntent{
			Timeline: a.Str("timeline"),
			Category: projectCategory,
			Type:     resolveOther(a.Str("projectType"), a.Str("projectTypeOther"), wizard.OthersFreeText),
		},
	}
	if cc.PropertyDetails.IsCorner {
		cc.PropertyDetails.CornerFacings = a.Str("cornerFacings")
	}
	if a.Bool("wantPidValidation") {
		cc.PIDValidation = &domain.PIDValidation{PIDNumber: a.Str("pidNumber"), Validated: false}
	}
	return cc
}

func (e Engine) jointVenturePayload(a wizard.Answers) domain.JointVenture {
	jv := domain.JointVenture{
		PropertyOwnerName: a.Str("propertyOwnerName"),
		PropertyLocation: domain.PropertyLocation{
			MapsLink: a.Str("googleMapsLocation"),
		},
		PropertyDetails: domain.PropertyDetails{
			Dimensions:     resolveOther(a.Str("propertyDimensions"), a.Str("propertyDimensionsOther"), wizard.OtherFreeText),
			Facing:         a.Str("propertyFacing"),
			IsCorner:       a.Bool("isCornerProperty"),
			RoadWidth:      a.Str("roadWidth"),
			KhathaType:     a.Str("khathaType"),
			EkhathaStatus:  a.Str("ekhathaStatus"),
			TaxPaidDetails: a.Str("taxPaidDetails"),
			PIDNumber:      a.Str("pidNumber"),
		},
		JVPreferences: domain.JVPreferences{
			PostConstructionExpectation: a.List("postConstructionExpectation"),
			HasPresetIdea:               a.Str("hasPresetIdea"),
		},
		// The select value, not the resolved free text, feeds the
		// calculator; a free-text dimension yields no feasibility.
		Feasibility: e.Calc.Compute(a.Str("propertyDimensions"), a.Str("roadWidth")),
	}
	if jv.PropertyDetails.IsCorner {
		jv.PropertyDetails.CornerFacings = a.Str("cornerFacings")
	}
	if jv.JVPreferences.HasPresetIdea == "yes" {
		jv.JVPreferences.PresetIdeaExplain = a.Str("presetIdeaExplain")
	}
	return jv
}

func interiorPayload(a wizard.Answers) domain.Interior {
	in := domain.Interior{
		BuildingType: resolveOther(a.Str("buildingType"), a.Str("buildingTypeOther"), wizard.OtherFreeText),
		Location: domain.SiteLocation{
			Address:  a.Str("location"),
			MapsLink: a.Str("googleMapsLocation"),
		},
		ProjectScope: domain.ProjectScope{
			IsEndToEnd: a.Str("isEndToEnd") == "yes",
		},
		Timeline: a.Str("commence"),
	}
	if a.Str("isEndToEnd") == "no" {
		in.ProjectScope.ScopeExplain = a.Str("scopeExplain")
	}
	return in
}

func reconstructionPayload(a wizard.Answers) domain.Reconstruction {
	category := a.Str("propertyCategory")
	propType := a.Str("propertyType")
	if propType == wizard.OtherFreeText || category == "other" {
		propType = a.Str("otherProperty")
	}
	scope := a.List("scope")
	rc := domain.Reconstruction{
		PropertyType: domain.PropertyType{Category: category, Type: propType},
		Location: domain.SiteLocation{
			Address:  a.Str("location"),
			MapsLink: a.Str("googleMapsLocation"),
		},
		ScopeOfWork: domain.ScopeOfWork{Selected: scope},
		Timeline:    a.Str("commence"),
	}
	for _, s := range scope {
		if s == wizard.OtherFreeText {
			rc.ScopeOfWork.Other = a.Str("scopeOther")
		}
	}
	return rc
}

// builderPayload shapes the builder profile. Contract construction carries
// the richest field set; the other categories freeze the validated answers
// as provided.
func (e Engine) builderPayload(category domain.Category, a wizard.Answers) any {
	if category != domain.CategoryContractConstruction {
		return map[string]any(a)
	}
	p := domain.BuilderProfile{
		CompanyName:         a.Str("companyName"),
		YearsExperience:     a.Str("yearsExperience"),
		EntityType:          a.Str("entityType"),
		LicenseRERA:         a.Str("licenseRera"),
		GSTNumber:           a.Str("gstNumber"),
		Address:             a.Str("address"),
		ProjectTypes:        a.List("projectTypes"),
		PreferredLocation:   a.Str("preferredLocation"),
		ProjectsCompleted:   a.Str("projectsCompleted"),
		ProjectDetails:      a.Str("projectDetails"),
		TeamType:            a.Str("teamType"),
		SubcontractorScopes: a.List("subcontractorScopes"),
		SubcontractorOther:  a.Str("subcontractorOther"),
		TypicalSize:         a.Str("typicalSize"),
		TypicalSizeOther:    a.Str("typicalSizeOther"),
		Pricing:             pricingTiers(a["pricing"]),
		ImageCount:          imageCount(a["imageCount"]),
	}
	return p
}

func pricingTiers(v any) map[string]domain.PricingTier {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]domain.PricingTier, len(m))
	for segment, tiers := range m {
		tm, ok := tiers.(map[string]any)
		if !ok {
			continue
		}
		str := func(k string) string {
			s, _ := tm[k].(string)
			return s
		}
		out[segment] = domain.PricingTier{
			Basic:    str("basic"),
			Standard: str("standard"),
			Luxury:   str("luxury"),
		}
	}
	return out
}

// imageCount clamps the portfolio size to the upload limit.
func imageCount(v any) int {
	n, ok := v.(float64)
	if !ok || n < 0 {
		return 0
	}
	if n > maxPortfolioImages {
		return maxPortfolioImages
	}
	return int(n)
}
