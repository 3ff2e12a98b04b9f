package entities

// Facet is the clinical classification of a code. At most one exists per (code, code_system).
type Facet struct {
	Code              string         `json:"code" db:"code"`
	CodeSystem        CodeSystem     `json:"code_system" db:"code_system"`
	BodyRegion        *string        `json:"body_region,omitempty" db:"body_region"`
	BodySystem        *string        `json:"body_system,omitempty" db:"body_system"`
	ProcedureCategory *string        `json:"procedure_category,omitempty" db:"procedure_category"`
	ComplexityLevel   *string        `json:"complexity_level,omitempty" db:"complexity_level"`
	ServiceLocation   *string        `json:"service_location,omitempty" db:"service_location"`
	EMLevel           *string        `json:"em_level,omitempty" db:"em_level"`
	EMPatientType     *string        `json:"em_patient_type,omitempty" db:"em_patient_type"`
	IsMajorSurgery    *bool          `json:"is_major_surgery,omitempty" db:"is_major_surgery"`
	SurgicalApproach  *string        `json:"surgical_approach,omitempty" db:"surgical_approach"`
	ImagingModality   *string        `json:"imaging_modality,omitempty" db:"imaging_modality"`
	Extensions        map[string]any `json:"extensions,omitempty" db:"extensions"`
}

// CodeKey returns the key the facet is stored under
func (f *Facet) CodeKey() CodeKey {
	return CodeKey{Code: f.Code, CodeSystem: f.CodeSystem}
}

// FacetConstraints holds equality/boolean filters for faceted search.
// Nil fields are not applied.
type FacetConstraints struct {
	BodyRegion        *string
	BodySystem        *string
	ProcedureCategory *string
	ComplexityLevel   *string
	ServiceLocation   *string
	EMLevel           *string
	EMPatientType     *string
	IsMajorSurgery    *bool
	ImagingModality   *string
}

// IsEmpty reports whether no constraint is set
func (c FacetConstraints) IsEmpty() bool {
	return c.BodyRegion == nil &&
		c.BodySystem == nil &&
		c.ProcedureCategory == nil &&
		c.ComplexityLevel == nil &&
		c.ServiceLocation == nil &&
		c.EMLevel == nil &&
		c.EMPatientType == nil &&
		c.IsMajorSurgery == nil &&
		c.ImagingModality == nil
}
