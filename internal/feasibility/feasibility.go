package feasibility

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"jointly/internal/config"
	"jointly/internal/domain"
)

// SqFtPerSqM converts plot area from square feet to square meters.
const SqFtPerSqM = 10.764

// Calculator produces the advisory FAR, setback, and buildable-area numbers
// shown during intake. All methods are pure; the FAR table and feasibility
// constants come from config.
type Calculator struct {
	baseFAR       float64
	bands         []config.FARBand
	efficiency    float64
	sqftPerUnit   float64
	allowedFloors string
}

// New builds a Calculator from config. The band table is evaluated
// widest-road-first so the first matching band wins.
func New(cfg *config.Config) Calculator {
	return Calculator{
		baseFAR:       cfg.FAR.Base,
		bands:         cfg.SortedFARBands(),
		efficiency:    cfg.Feasibility.EfficiencyFactor,
		sqftPerUnit:   cfg.Feasibility.SqFtPerUnit,
		allowedFloors: cfg.Feasibility.AllowedFloors,
	}
}

// FAR returns the floor-area ratio granted for a road of the given width in
// feet. The result is a step function of road width; widths below every
// configured band get the base FAR.
func (c Calculator) FAR(roadWidthFeet float64) float64 {
	for _, b := range c.bands {
		if roadWidthFeet >= b.MinRoadWidth {
			return b.FAR
		}
	}
	return c.baseFAR
}

// FARString computes FAR from a raw road-width string, formatted to two
// decimals for display and persistence.
func (c Calculator) FARString(roadWidth string) string {
	return fmt.Sprintf("%.2f", c.FAR(ParseRoadWidth(roadWidth)))
}

// ParseRoadWidth reads a road width in feet, clamping unparseable input to
// zero so it lands in the base-FAR branch rather than erroring.
func ParseRoadWidth(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// ParseDimensions splits a plot dimension string such as "30×40" into its
// two factors in feet. The ASCII forms "30x40" and "30X40" are accepted too.
// ok is false when the string does not contain exactly two numbers.
func ParseDimensions(s string) (width, depth float64, ok bool) {
	norm := strings.NewReplacer("x", "×", "X", "×").Replace(s)
	parts := strings.Split(norm, "×")
	if len(parts) != 2 {
		return 0, 0, false
	}
	width, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, false
	}
	depth, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, false
	}
	return width, depth, true
}

// Setbacks returns the boundary distances for a plot area in square meters.
// Band upper bounds are inclusive. The "Above 250 sq m" band deliberately
// switches units from meters to percentages; the label carries the switch
// and callers must not reinterpret the numbers.
func Setbacks(plotAreaSqM float64) domain.Setbacks {
	switch {
	case plotAreaSqM <= 60:
		return domain.Setbacks{Front: 0.7, Rear: 0, Sides: 0.6, Category: "Up to 60 sq m"}
	case plotAreaSqM <= 150:
		return domain.Setbacks{Front: 0.9, Rear: 0.7, Sides: 0.7, Category: "60-150 sq m"}
	case plotAreaSqM <= 250:
		return domain.Setbacks{Front: 1.0, Rear: 0.8, Sides: 0.8, Category: "150-250 sq m"}
	case plotAreaSqM <= 4000:
		return domain.Setbacks{Front: 0.12, Rear: 0.08, Sides: 0.08, Category: "Above 250 sq m (percentage)"}
	default:
		return domain.Setbacks{Front: 5, Rear: 5, Sides: 5, Category: "Above 4000 sq m"}
	}
}

// Compute derives the full feasibility estimate from a dimension string and
// a raw road-width value. It returns nil, not an error, when the dimensions
// cannot be parsed; callers omit the feasibility display in that case.
//
// Net buildable area applies a flat efficiency factor and is intentionally
// not reconciled with the setback numbers; both are advisory.
func (c Calculator) Compute(dimensions, roadWidth string) *domain.Feasibility {
	width, depth, ok := ParseDimensions(dimensions)
	if !ok {
		return nil
	}
	plotArea := width * depth
	far := c.FAR(ParseRoadWidth(roadWidth))
	total := plotArea * far
	return &domain.Feasibility{
		PlotArea:           plotArea,
		FAR:                far,
		TotalBuildableArea: total,
		NetBuildableArea:   plotArea * c.efficiency,
		Setbacks:           Setbacks(plotArea / SqFtPerSqM),
		AllowedFloors:      c.allowedFloors,
		ApproximateUnits:   int(math.Floor(total / c.sqftPerUnit)),
	}
}
