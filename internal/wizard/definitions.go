package wizard

import "jointly/internal/domain"

// Option catalogs clients render as selects. Free-text companions are
// keyed off the "Other" sentinel values below.
const (
	OtherFreeText  = "Other (free text)"
	OthersFreeText = "Others (free text)"
)

var (
	DimensionOptions = []string{
		"30×40", "20×30", "30×50", "20×40", "40×60", "50×60", "50×80", OtherFreeText,
	}

	FacingOptions = []string{
		"North", "South", "East", "West",
		"North-East", "North-West", "South-East", "South-West",
	}

	ConstructionTimelines = []string{
		"Within a month", "Within 3 months", "Within this year", "Exploring options",
	}

	ProjectTypesByCategory = map[string][]string{
		"residential": {"Duplex house", "Villa", "Multi-storey structure", OthersFreeText},
		"commercial":  {"Rental / PG", "Hotel", "Office space", "School", OthersFreeText},
		"industrial":  {"Warehouse", "Factory", "Eccentric structure", OthersFreeText},
	}

	PostConstructionOptions = []string{
		"Built-up area sharing",
		"Revenue sharing on the property",
	}

	EkhathaStatusOptions = []string{"Yes", "No", "In Process"}

	InteriorBuildingTypes = []string{
		"Duplex house", "Flat", "Office space", "Commercial buildings",
		"Ongoing project", OtherFreeText,
	}

	InteriorTimelines = []string{
		"Within a month", "Within 3 months", "Within 6 months", "Just here for research",
	}

	ReconstructionPropertyTypes = map[string][]string{
		"residential": {"Duplex house", "Villa", "Flat", OtherFreeText},
		"commercial":  {"Rental", "Hotels", "Office space", OtherFreeText},
		"industrial":  {"Warehouse", "Factories", OtherFreeText},
	}

	ReconstructionScopeOptions = []string{
		"Repair work", "Add a new floor", "Repaint", "Redo of flooring", OtherFreeText,
	}

	ReconstructionTimelines = []string{
		"Within a month", "Within 3 months", "Within 6 months", "Just for research purpose",
	}

	BuilderProjectTypes = []string{
		"Residential – Duplexes, villas, multi-story buildings",
		"Commercial – Hotels, offices, schools, rental/PG spaces",
		"Industrial – Warehouses, factories, industrial buildings",
		"Interior Design – Homes, commercial spaces, apartments",
	}

	BuilderProjectCaps = []string{
		"Residential Construction – Duplexes, villas, multi-story buildings",
		"Commercial Construction – Hotels, offices, schools, rental/PG spaces",
		"Industrial Construction – Warehouses, factories, industrial buildings",
	}
)

// Catalog returns the select options relevant to a flow, keyed by field.
func Catalog(role domain.Role, category domain.Category) map[string][]string {
	if role == domain.RoleBuilder {
		key := "projectTypes"
		opts := BuilderProjectTypes
		if category == domain.CategoryJointVenture || category == domain.CategoryReconstruction {
			key = "projectCaps"
			opts = BuilderProjectCaps
		}
		return map[string][]string{key: opts}
	}
	switch category {
	case domain.CategoryContractConstruction:
		return map[string][]string{
			"propertyDimensions": DimensionOptions,
			"propertyFacing":     FacingOptions,
			"timeline":           ConstructionTimelines,
			"projectType":        flatten(ProjectTypesByCategory),
		}
	case domain.CategoryJointVenture:
		return map[string][]string{
			"propertyDimensions":          DimensionOptions,
			"propertyFacing":              FacingOptions,
			"ekhathaStatus":               EkhathaStatusOptions,
			"postConstructionExpectation": PostConstructionOptions,
		}
	case domain.CategoryInterior:
		return map[string][]string{
			"buildingType": InteriorBuildingTypes,
			"commence":     InteriorTimelines,
		}
	case domain.CategoryReconstruction:
		return map[string][]string{
			"propertyType": flatten(ReconstructionPropertyTypes),
			"scope":        ReconstructionScopeOptions,
			"commence":     ReconstructionTimelines,
		}
	}
	return nil
}

func flatten(m map[string][]string) []string {
	var out []string
	for _, key := range []string{"residential", "commercial", "industrial"} {
		out = append(out, m[key]...)
	}
	return out
}

// definitions hold the eight intake flows. Validators are transcriptions of
// the funnel's continue/submit gating; a nil validator means the step is
// informational and always passes.
var definitions = []*Definition{
	{
		Role:     domain.RoleLandowner,
		Category: domain.CategoryContractConstruction,
		Steps:    []Step{StepBrief, StepProperty, StepFAR, StepPID, StepIntent, StepDone},
		validators: map[Step]Validator{
			StepProperty: func(a Answers) bool {
				return a.Has("landownerName") && a.Has("ward") &&
					a.Has("propertyDimensions") && a.Has("propertyFacing") && a.Has("roadWidth")
			},
			StepIntent: func(a Answers) bool {
				return a.Has("timeline") && a.Has("projectType")
			},
		},
	},
	{
		Role:     domain.RoleLandowner,
		Category: domain.CategoryJointVenture,
		Steps:    []Step{StepBrief, StepVerification, StepPreferences, StepFeasibility, StepVisibility, StepDone},
		validators: map[Step]Validator{
			StepVerification: func(a Answers) bool {
				for _, f := range []string{
					"propertyOwnerName", "googleMapsLocation", "propertyDimensions",
					"propertyFacing", "roadWidth", "khathaType", "ekhathaStatus",
					"taxPaidDetails", "pidNumber",
				} {
					if !a.Has(f) {
						return false
					}
				}
				return true
			},
			StepPreferences: func(a Answers) bool {
				if len(a.List("postConstructionExpectation")) == 0 || !a.Has("hasPresetIdea") {
					return false
				}
				if a.Str("hasPresetIdea") == "yes" && a.Str("presetIdeaExplain") == "" {
					return false
				}
				return true
			},
		},
	},
	{
		Role:     domain.RoleLandowner,
		Category: domain.CategoryInterior,
		Steps:    []Step{StepBrief, StepForm, StepDone},
		validators: map[Step]Validator{
			StepForm: func(a Answers) bool {
				if !a.Has("buildingType") || !a.Has("location") || !a.Has("isEndToEnd") || !a.Has("commence") {
					return false
				}
				if a.Str("buildingType") == OtherFreeText && a.Str("buildingTypeOther") == "" {
					return false
				}
				if a.Str("isEndToEnd") == "no" && a.Str("scopeExplain") == "" {
					return false
				}
				return true
			},
		},
	},
	{
		Role:     domain.RoleLandowner,
		Category: domain.CategoryReconstruction,
		Steps:    []Step{StepBrief, StepForm, StepDone},
		validators: map[Step]Validator{
			StepForm: func(a Answers) bool {
				if !a.Has("propertyCategory") || !a.Has("location") || !a.Has("commence") {
					return false
				}
				category := a.Str("propertyCategory")
				if category != "other" && !a.Has("propertyType") {
					return false
				}
				if category == "other" && a.Str("otherProperty") == "" {
					return false
				}
				scope := a.List("scope")
				if len(scope) == 0 {
					return false
				}
				for _, s := range scope {
					if s == OtherFreeText && a.Str("scopeOther") == "" {
						return false
					}
				}
				return true
			},
		},
	},
	builderDefinition(domain.CategoryContractConstruction, "projectTypes", true),
	builderDefinition(domain.CategoryJointVenture, "projectCaps", true),
	builderDefinition(domain.CategoryInterior, "projectTypes", false),
	builderDefinition(domain.CategoryReconstruction, "projectCaps", false),
}

// builderDefinition builds the single-form builder flows, which differ only
// in the capability field key and whether an office address is required.
func builderDefinition(category domain.Category, capsField string, requireAddress bool) *Definition {
	return &Definition{
		Role:     domain.RoleBuilder,
		Category: category,
		Steps:    []Step{StepBrief, StepForm, StepDone},
		validators: map[Step]Validator{
			StepForm: func(a Answers) bool {
				if !a.Has("companyName") || !a.Has("yearsExperience") {
					return false
				}
				if requireAddress && !a.Has("address") {
					return false
				}
				return len(a.List(capsField)) > 0
			},
		},
	}
}
