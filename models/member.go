package models

// Column names, in the order they are written to CSV.
const (
	KeyProfileURL = "profile_url"
	KeyName       = "name"
	KeyHeadline   = "headline"
	KeyCountry    = "country"
)

// CanonicalKeys lists every known record key in output order.
var CanonicalKeys = []string{KeyProfileURL, KeyName, KeyHeadline, KeyCountry}

// MemberRecord is one discovered group member. Optional fields are nil
// when the page did not provide them.
type MemberRecord struct {
	ProfileURL string  `json:"profile_url"`
	Name       *string `json:"name"`
	Headline   *string `json:"headline"`
	Country    *string `json:"country"`
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Keys returns the keys that carry a value, in canonical order.
func (m MemberRecord) Keys() []string {
	keys := []string{KeyProfileURL}
	if m.Name != nil {
		keys = append(keys, KeyName)
	}
	if m.Headline != nil {
		keys = append(keys, KeyHeadline)
	}
	if m.Country != nil {
		keys = append(keys, KeyCountry)
	}
	return keys
}

// Get returns the value stored under key and whether it is present.
func (m MemberRecord) Get(key string) (string, bool) {
	var v *string
	switch key {
	case KeyProfileURL:
		return m.ProfileURL, true
	case KeyName:
		v = m.Name
	case KeyHeadline:
		v = m.Headline
	case KeyCountry:
		v = m.Country
	}
	if v == nil {
		return "", false
	}
	return *v, true
}

// Set stores value under key. Unknown keys are ignored.
func (m *MemberRecord) Set(key, value string) {
	switch key {
	case KeyProfileURL:
		m.ProfileURL = value
	case KeyName:
		m.Name = StringPtr(value)
	case KeyHeadline:
		m.Headline = StringPtr(value)
	case KeyCountry:
		m.Country = StringPtr(value)
	}
}

// Overlay copies every non-nil optional field of other onto m.
func (m *MemberRecord) Overlay(other MemberRecord) {
	if other.Name != nil {
		m.Name = other.Name
	}
	if other.Headline != nil {
		m.Headline = other.Headline
	}
	if other.Country != nil {
		m.Country = other.Country
	}
}

// FillMissing copies fields from other only where m has none.
func (m *MemberRecord) FillMissing(other MemberRecord) {
	if m.Name == nil {
		m.Name = other.Name
	}
	if m.Headline == nil {
		m.Headline = other.Headline
	}
	if m.Country == nil {
		m.Country = other.Country
	}
}

// UnionKeys returns every key present in at least one record, in canonical order.
func UnionKeys(records []MemberRecord) []string {
	present := make(map[string]bool, len(CanonicalKeys))
	for _, r := range records {
		for _, k := range r.Keys() {
			present[k] = true
		}
	}
	keys := make([]string, 0, len(present))
	for _, k := range CanonicalKeys {
		if present[k] {
			keys = append(keys, k)
		}
	}
	return keys
}

// ProfileURLs returns the profile URL of every record, in order.
func ProfileURLs(records []MemberRecord) []string {
	urls := make([]string, 0, len(records))
	for _, r := range records {
		urls = append(urls, r.ProfileURL)
	}
	return urls
}
