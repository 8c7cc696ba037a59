package model

// AreaSummary holds the unrounded block totals for one area under every
// summary method, plus any problems met while computing them.
type AreaSummary struct {
	AreaID     string        `json:"area_id" yaml:"area_id"`
	BlocksAll  int           `json:"no_blocks_all" yaml:"no_blocks_all"`
	BlocksGT50 int           `json:"no_blocks_gt50" yaml:"no_blocks_gt50"`
	PopAll     int64         `json:"pop_all" yaml:"pop_all"`
	PopGT50    int64         `json:"pop_gt50" yaml:"pop_gt50"`
	PopWtd     int64         `json:"pop_wtd" yaml:"pop_wtd"`
	HUAll      int64         `json:"hu_all" yaml:"hu_all"`
	HUGT50     int64         `json:"hu_gt50" yaml:"hu_gt50"`
	HUWtd      int64         `json:"hu_wtd" yaml:"hu_wtd"`
	AreaSqMi   float64       `json:"area_sq_mi" yaml:"area_sq_mi"`
	Errors     []string      `json:"errors,omitempty" yaml:"errors,omitempty"`
	Warnings   []string      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Update     *UpdateResult `json:"update_results,omitempty" yaml:"update_results,omitempty"`
}

// HasIssues reports whether any error or warning was recorded, including a
// failed write of the area's updated fields.
func (s *AreaSummary) HasIssues() bool {
	if s == nil {
		return false
	}
	if len(s.Errors) > 0 || len(s.Warnings) > 0 {
		return true
	}
	return s.Update != nil && !s.Update.Success
}

// FieldResult is the write outcome for a single area attribute.
type FieldResult struct {
	Field   string `json:"field" yaml:"field"`
	Success bool   `json:"success" yaml:"success"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// UpdateResult is what an area sink reports after persisting an area.
type UpdateResult struct {
	AreaID  string        `json:"area_id" yaml:"area_id"`
	Success bool          `json:"success" yaml:"success"`
	Error   string        `json:"error,omitempty" yaml:"error,omitempty"`
	Fields  []FieldResult `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// AreaFields lists the area attributes written by a summary method.
var AreaFields = []string{"population", "housing", "area_sq_mi", "method"}

// NewUpdateResult builds an UpdateResult where every area field shares the
// same outcome.
func NewUpdateResult(areaID string, err error) *UpdateResult {
	res := &UpdateResult{AreaID: areaID, Success: err == nil}
	if err != nil {
		res.Error = err.Error()
	}
	for _, f := range AreaFields {
		res.Fields = append(res.Fields, FieldResult{Field: f, Success: res.Success, Error: res.Error})
	}
	return res
}
