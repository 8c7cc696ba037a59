package apportion

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/apportion/internal/model"
)

// Method selects which block totals are written back to an area.
type Method int

const (
	// MethodNone computes summaries without updating areas.
	MethodNone Method = iota
	// MethodAll counts every block intersecting the area.
	MethodAll
	// MethodGT50 counts blocks with more than half their area inside the area.
	MethodGT50
	// MethodWeighted weights each block by the share of its area inside the area.
	MethodWeighted
)

// ParseMethod maps a method name to a Method. Unknown names are an error.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all":
		return MethodAll, nil
	case "gt50":
		return MethodGT50, nil
	case "wtd", "weighted":
		return MethodWeighted, nil
	case "none", "":
		return MethodNone, nil
	default:
		return MethodNone, eris.Errorf("apportion: unknown method %q (want all, gt50, wtd or none)", s)
	}
}

// String returns the name accepted by ParseMethod.
func (m Method) String() string {
	switch m {
	case MethodAll:
		return "all"
	case MethodGT50:
		return "gt50"
	case MethodWeighted:
		return "wtd"
	default:
		return "none"
	}
}

// Label is the human-readable value stored in an area's method field.
func (m Method) Label() string {
	switch m {
	case MethodAll:
		return "all"
	case MethodGT50:
		return "greater than 50%"
	case MethodWeighted:
		return "weighted"
	default:
		return ""
	}
}

// Totals returns the population and housing totals the method selects.
func (m Method) Totals(s *model.AreaSummary) (pop, hu int64, ok bool) {
	switch m {
	case MethodAll:
		return s.PopAll, s.HUAll, true
	case MethodGT50:
		return s.PopGT50, s.HUGT50, true
	case MethodWeighted:
		return s.PopWtd, s.HUWtd, true
	default:
		return 0, 0, false
	}
}

// ApplyMethod writes the method's rounded totals, the area size and the method
// label to area. It returns false and leaves area untouched for MethodNone.
func ApplyMethod(area *model.Area, s *model.AreaSummary, m Method) (bool, error) {
	pop, hu, ok := m.Totals(s)
	if !ok {
		return false, nil
	}

	popRounded, err := RoundSignificant(float64(pop), 2)
	if err != nil {
		return false, eris.Wrapf(err, "apportion: round population for area %s", area.ID)
	}
	huRounded, err := RoundSignificant(float64(hu), 2)
	if err != nil {
		return false, eris.Wrapf(err, "apportion: round housing for area %s", area.ID)
	}

	popInt := int64(popRounded)
	huInt := int64(huRounded)
	sqMi := s.AreaSqMi
	label := m.Label()

	area.Population = &popInt
	area.Housing = &huInt
	area.AreaSqMi = &sqMi
	area.Method = &label
	return true, nil
}
