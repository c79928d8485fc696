package domain

import "encoding/json"

// Role distinguishes the two intake funnels.
type Role string

const (
	RoleLandowner Role = "landowner"
	RoleBuilder   Role = "builder"
)

// ValidRole reports whether s names a known funnel role.
func ValidRole(s string) bool {
	return Role(s) == RoleLandowner || Role(s) == RoleBuilder
}

// Category tags the four intake flavours shared by both roles.
type Category string

const (
	CategoryContractConstruction Category = "contract-construction"
	CategoryJointVenture         Category = "joint-venture"
	CategoryInterior             Category = "interior"
	CategoryReconstruction       Category = "reconstruction"
)

// Categories lists every intake category in display order.
var Categories = []Category{
	CategoryContractConstruction,
	CategoryJointVenture,
	CategoryInterior,
	CategoryReconstruction,
}

// ValidCategory reports whether s names a known intake category.
func ValidCategory(s string) bool {
	for _, c := range Categories {
		if Category(s) == c {
			return true
		}
	}
	return false
}

// SchemaVersion is stamped on every new SubmissionRecord so payload shapes
// can evolve without corrupting older rows.
const SchemaVersion = 1

// SubmissionRecord is a frozen wizard outcome. Immutable once appended.
type SubmissionRecord struct {
	ID            string          `json:"id"`
	Role          Role            `json:"role" enum:"landowner,builder"`
	Type          Category        `json:"type" enum:"contract-construction,joint-venture,interior,reconstruction"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
	SubmittedAt   string          `json:"submitted_at" format:"date-time"`
}

// Verified reports whether the record carries its role-specific validation
// sub-object: pidValidation for landowner records, verified for builder
// profiles. A record lacking the field is unverified, never an error.
func (r SubmissionRecord) Verified() bool {
	var probe struct {
		PIDValidation json.RawMessage `json:"pidValidation"`
		Verified      json.RawMessage `json:"verified"`
	}
	if err := json.Unmarshal(r.Payload, &probe); err != nil {
		return false
	}
	present := func(raw json.RawMessage) bool {
		return len(raw) > 0 && string(raw) != "null"
	}
	switch r.Role {
	case RoleBuilder:
		return present(probe.Verified)
	default:
		return present(probe.PIDValidation)
	}
}

// PropertyLocation describes where a landowner plot sits.
type PropertyLocation struct {
	City     string `json:"city,omitempty"`
	Ward     string `json:"ward,omitempty"`
	Landmark string `json:"landmark,omitempty"`
	MapsLink string `json:"googleMapsLocation,omitempty"`
}

// PropertyDetails are the plot facts shared by the construction-flavoured
// intakes. The khatha/tax/PID fields are only populated for joint ventures,
// where property verification is mandatory.
type PropertyDetails struct {
	Dimensions     string `json:"dimensions"`
	Facing         string `json:"facing"`
	IsCorner       bool   `json:"isCornerProperty"`
	CornerFacings  string `json:"cornerFacings,omitempty"`
	RoadWidth      string `json:"roadWidth"`
	KhathaType     string `json:"khathaType,omitempty"`
	EkhathaStatus  string `json:"ekhathaStatus,omitempty"`
	TaxPaidDetails string `json:"taxPaidDetails,omitempty"`
	PIDNumber      string `json:"pidNumber,omitempty"`
}

// PIDValidation records an opted-in property verification request.
type PIDValidation struct {
	PIDNumber string `json:"pidNumber"`
	Validated bool   `json:"validated"`
}

// ProjectIntent captures what the landowner wants built and when.
type ProjectIntent struct {
	Timeline string `json:"timeline"`
	Category string `json:"category"`
	Type     string `json:"type"`
}

// Setbacks are the minimum boundary distances for a plot-area band. The
// "Above 250 sq m (percentage)" band expresses the three numbers as
// percentages rather than meters; every other band uses meters. The
// discontinuity is carried verbatim from the published rules.
type Setbacks struct {
	Front    float64 `json:"front"`
	Rear     float64 `json:"rear"`
	Sides    float64 `json:"sides"`
	Category string  `json:"category"`
}

// Percentage reports whether the band's numbers are percentages of plot
// dimensions instead of absolute meters.
func (s Setbacks) Percentage() bool {
	return s.Category == "Above 250 sq m (percentage)"
}

// Feasibility is the advisory development estimate shown during joint
// venture intake and frozen into the submission payload.
type Feasibility struct {
	PlotArea           float64  `json:"plotArea"`
	FAR                float64  `json:"far"`
	TotalBuildableArea float64  `json:"totalBuildableArea"`
	NetBuildableArea   float64  `json:"netBuildableArea"`
	Setbacks           Setbacks `json:"setbacks"`
	AllowedFloors      string   `json:"allowedFloors"`
	ApproximateUnits   int      `json:"approximateUnits"`
}

// ContractConstruction is the landowner contract-construction payload.
type ContractConstruction struct {
	LandownerName    string           `json:"landownerName"`
	PropertyLocation PropertyLocation `json:"propertyLocation"`
	PropertyDetails  PropertyDetails  `json:"propertyDetails"`
	FAR              string           `json:"far"`
	PIDValidation    *PIDValidation   `json:"pidValidation,omitempty"`
	ProjectIntent    ProjectIntent    `json:"projectIntent"`
}

// JVPreferences captures the landowner's post-construction expectations.
type JVPreferences struct {
	PostConstructionExpectation []string `json:"postConstructionExpectation"`
	HasPresetIdea               string   `json:"hasPresetIdea"`
	PresetIdeaExplain           string   `json:"presetIdeaExplain,omitempty"`
}

// JointVenture is the landowner joint-venture payload. All verification
// fields are mandatory for this category.
type JointVenture struct {
	PropertyOwnerName string           `json:"propertyOwnerName"`
	PropertyLocation  PropertyLocation `json:"propertyLocation"`
	PropertyDetails   PropertyDetails  `json:"propertyDetails"`
	JVPreferences     JVPreferences    `json:"jvPreferences"`
	Feasibility       *Feasibility     `json:"feasibility,omitempty"`
}

// SiteLocation is a free-form address plus optional maps pin.
type SiteLocation struct {
	Address  string `json:"address"`
	MapsLink string `json:"googleMapsLocation,omitempty"`
}

// ProjectScope says whether an interior job is end-to-end or partial.
type ProjectScope struct {
	IsEndToEnd   bool   `json:"isEndToEnd"`
	ScopeExplain string `json:"scopeExplain,omitempty"`
}

// Interior is the landowner interior payload.
type Interior struct {
	BuildingType string       `json:"buildingType"`
	Location     SiteLocation `json:"location"`
	ProjectScope ProjectScope `json:"projectScope"`
	Timeline     string       `json:"timeline"`
}

// PropertyType pairs a coarse category with a concrete building type.
type PropertyType struct {
	Category string `json:"category"`
	Type     string `json:"type"`
}

// ScopeOfWork is the multi-select work breakdown for reconstruction.
type ScopeOfWork struct {
	Selected []string `json:"selected"`
	Other    string   `json:"other,omitempty"`
}

// Reconstruction is the landowner reconstruction payload.
type Reconstruction struct {
	PropertyType PropertyType `json:"propertyType"`
	Location     SiteLocation `json:"location"`
	ScopeOfWork  ScopeOfWork  `json:"scopeOfWork"`
	Timeline     string       `json:"timeline"`
}

// PricingTier holds the builder's indicative per-sqft rates.
type PricingTier struct {
	Basic    string `json:"basic,omitempty"`
	Standard string `json:"standard,omitempty"`
	Luxury   string `json:"luxury,omitempty"`
}

// BuilderVerification marks a builder profile as platform-verified.
// Profiles are created unverified; the field is attached out of band.
type BuilderVerification struct {
	VerifiedAt string `json:"verifiedAt" format:"date-time"`
}

// BuilderProfile is the builder-side payload for every category; the
// category tag on the record distinguishes which service the profile offers.
type BuilderProfile struct {
	CompanyName         string                 `json:"companyName"`
	YearsExperience     string                 `json:"yearsExperience"`
	EntityType          string                 `json:"entityType,omitempty"`
	LicenseRERA         string                 `json:"licenseRera,omitempty"`
	GSTNumber           string                 `json:"gstNumber,omitempty"`
	Address             string                 `json:"address,omitempty"`
	ProjectTypes        []string               `json:"projectTypes"`
	PreferredLocation   string                 `json:"preferredLocation,omitempty"`
	ProjectsCompleted   string                 `json:"projectsCompleted,omitempty"`
	ProjectDetails      string                 `json:"projectDetails,omitempty"`
	TeamType            string                 `json:"teamType,omitempty"`
	SubcontractorScopes []string               `json:"subcontractorScopes,omitempty"`
	SubcontractorOther  string                 `json:"subcontractorOther,omitempty"`
	TypicalSize         string                 `json:"typicalSize,omitempty"`
	TypicalSizeOther    string                 `json:"typicalSizeOther,omitempty"`
	Pricing             map[string]PricingTier `json:"pricing,omitempty"`
	ImageCount          int                    `json:"imageCount"`
	Verified            *BuilderVerification   `json:"verified,omitempty"`
}

// User is the normalized account shape consumed by the route guard.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role" enum:"landowner,builder"`
}

// AuthSession holds the token pair issued by the auth backend. Refresh
// replaces both tokens; logout clears the whole session.
type AuthSession struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

// Event is one row of the append-only activity log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	Role       string `json:"role,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates non-interactive callers against the funnel API.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Role      Role   `json:"role"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
