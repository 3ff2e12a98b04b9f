package entities

// Mapping is a directed cross-reference from a code in one system to a code in another
type Mapping struct {
	FromSystem CodeSystem `json:"from_system" db:"from_system"`
	FromCode   string     `json:"from_code" db:"from_code"`
	ToSystem   string     `json:"to_system" db:"to_system"`
	ToCode     string     `json:"to_code" db:"to_code"`
	MapType    string     `json:"map_type" db:"map_type"`
	Confidence *float64   `json:"confidence,omitempty" db:"confidence"`
}

// SourceKey returns the key of the code the mapping starts from
func (m Mapping) SourceKey() CodeKey {
	return CodeKey{Code: m.FromCode, CodeSystem: m.FromSystem}
}
