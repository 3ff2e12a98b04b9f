package entities

import (
	"fmt"
	"strings"
	"time"
)

// CodeSystem identifies the coding standard a code belongs to
type CodeSystem string

const (
	CodeSystemCPT   CodeSystem = "CPT"
	CodeSystemHCPCS CodeSystem = "HCPCS"
)

// IsValid reports whether the system is one the catalog stores
func (s CodeSystem) IsValid() bool {
	switch s {
	case CodeSystemCPT, CodeSystemHCPCS:
		return true
	}
	return false
}

// ParseCodeSystem normalizes user input such as "cpt" or " HCPCS "
func ParseCodeSystem(value string) (CodeSystem, error) {
	system := CodeSystem(strings.ToUpper(strings.TrimSpace(value)))
	if !system.IsValid() {
		return "", fmt.Errorf("unknown code system %q", value)
	}
	return system, nil
}

// LicenseStatus tells whether official descriptor text may be displayed
type LicenseStatus string

const (
	LicenseStatusFree     LicenseStatus = "free"
	LicenseStatusLicensed LicenseStatus = "licensed"
)

// CodeIdentity is the unique key of a versioned code entry
type CodeIdentity struct {
	Code        string     `json:"code"`
	CodeSystem  CodeSystem `json:"code_system"`
	VersionYear int        `json:"version_year"`
}

// Key returns the identity as a single comparable string
func (i CodeIdentity) Key() string {
	return fmt.Sprintf("%s|%s|%d", i.Code, i.CodeSystem, i.VersionYear)
}

// CodeKey identifies a code across version years. Facets and mappings are keyed this way.
type CodeKey struct {
	Code       string     `json:"code"`
	CodeSystem CodeSystem `json:"code_system"`
}

// CodeEntry represents one versioned CPT/HCPCS code
type CodeEntry struct {
	Code                string        `json:"code" db:"code"`
	CodeSystem          CodeSystem    `json:"code_system" db:"code_system"`
	VersionYear         int           `json:"version_year" db:"version_year"`
	LicenseStatus       LicenseStatus `json:"license_status" db:"license_status"`
	OpenDescription     string        `json:"open_description" db:"open_description"`
	LicensedDescription *string       `json:"licensed_description,omitempty" db:"licensed_description"`
	LongDescriptor      *string       `json:"long_descriptor,omitempty" db:"long_descriptor"`
	ShortDescriptor     *string       `json:"short_descriptor,omitempty" db:"short_descriptor"`
	Category            string        `json:"category" db:"category"`
	ProcedureType       string        `json:"procedure_type" db:"procedure_type"`
	IsActive            bool          `json:"is_active" db:"is_active"`
	EffectiveDate       *time.Time    `json:"effective_date,omitempty" db:"effective_date"`
	ExpiryDate          *time.Time    `json:"expiry_date,omitempty" db:"expiry_date"`

	// HasEmbedding is false until the ingestion job has computed a vector for the entry.
	// The vector itself stays in the store; similarity is computed there.
	HasEmbedding bool `json:"has_embedding" db:"has_embedding"`
}

// Identity returns the entry's unique key
func (e *CodeEntry) Identity() CodeIdentity {
	return CodeIdentity{Code: e.Code, CodeSystem: e.CodeSystem, VersionYear: e.VersionYear}
}

// CodeKey returns the year-independent key used for facets and mappings
func (e *CodeEntry) CodeKey() CodeKey {
	return CodeKey{Code: e.Code, CodeSystem: e.CodeSystem}
}
