package entities

// IsLicensed reports whether official descriptor text may be shown for the entry
func (e *CodeEntry) IsLicensed() bool {
	return e.LicenseStatus == LicenseStatusLicensed
}

// DisplayDescription picks the single description to show for an entry:
// the licensed text when the entry is licensed and has one, otherwise the open text.
func DisplayDescription(e *CodeEntry) string {
	if e == nil {
		return ""
	}
	if e.IsLicensed() && e.LicensedDescription != nil && *e.LicensedDescription != "" {
		return *e.LicensedDescription
	}
	return e.OpenDescription
}

// Redact returns a copy of the entry safe to hand to callers.
// Licensed-only fields are cleared whenever the entry is not licensed, whatever storage holds.
func Redact(e *CodeEntry) *CodeEntry {
	if e == nil {
		return nil
	}

	out := *e
	if !e.IsLicensed() {
		out.LicensedDescription = nil
		out.LongDescriptor = nil
		out.ShortDescriptor = nil
	}
	return &out
}
