package model

import "time"

// Profile field values inferred from query texts.
const (
	QueryStyleShort    = "short"
	QueryStyleBalanced = "balanced"
	QueryStyleVerbose  = "verbose"
)

// Business domains tracked by the domain focus counters.
const (
	DomainHR         = "HR"
	DomainInventory  = "Inventory"
	DomainProduction = "Production"
	DomainSales      = "Sales"
)

// maxErrorPatterns caps the error ring kept on a profile.
const maxErrorPatterns = 10

// UserProfile is the durable per-user preference record, keyed uniquely
// by user ID. Created lazily on the first successful query.
type UserProfile struct {
	UserID           string            `firestore:"user_id"`
	QueryStyle       string            `firestore:"query_style"`
	OutputPreference string            `firestore:"output_preference"`
	FrequentFilters  map[string]string `firestore:"frequent_filters"`
	ErrorPatterns    []string          `firestore:"error_patterns"`
	DomainFocus      map[string]int    `firestore:"domain_focus"`
	TotalQueries     int               `firestore:"total_queries"`
	UpdatedAt        time.Time         `firestore:"updated_at"`
}

// DefaultProfile returns the skeleton profile for a user with no history.
func DefaultProfile(userID string) *UserProfile {
	return &UserProfile{
		UserID:           userID,
		QueryStyle:       QueryStyleBalanced,
		OutputPreference: "table",
		FrequentFilters:  map[string]string{},
		DomainFocus: map[string]int{
			DomainHR:         0,
			DomainInventory:  0,
			DomainProduction: 0,
			DomainSales:      0,
		},
	}
}

// ProfilePatch is a partial profile update. Zero-valued fields leave the
// stored profile untouched, so unrelated fields survive partial updates.
type ProfilePatch struct {
	QueryStyle       string
	OutputPreference string
	Filters          map[string]string
	Domains          []string
	ErrorPattern     string
	QueryDelta       int
}

// Apply merges the patch into the profile in place.
func (p *UserProfile) Apply(patch *ProfilePatch) {
	if patch.QueryStyle != "" {
		p.QueryStyle = patch.QueryStyle
	}
	if patch.OutputPreference != "" {
		p.OutputPreference = patch.OutputPreference
	}
	if len(patch.Filters) > 0 {
		if p.FrequentFilters == nil {
			p.FrequentFilters = map[string]string{}
		}
		for k, v := range patch.Filters {
			p.FrequentFilters[k] = v
		}
	}
	if len(patch.Domains) > 0 {
		if p.DomainFocus == nil {
			p.DomainFocus = map[string]int{}
		}
		for _, d := range patch.Domains {
			p.DomainFocus[d]++
		}
	}
	if patch.ErrorPattern != "" {
		p.ErrorPatterns = append(p.ErrorPatterns, patch.ErrorPattern)
		if len(p.ErrorPatterns) > maxErrorPatterns {
			p.ErrorPatterns = p.ErrorPatterns[len(p.ErrorPatterns)-maxErrorPatterns:]
		}
	}
	p.TotalQueries += patch.QueryDelta
}

// Hints is the compact projection of a profile injected into the
// generation prompt. Only actionable fields are carried.
type Hints struct {
	QueryStyle       string
	OutputPreference string
	FrequentFilters  map[string]string
	PrimaryDomain    string
}

// Hints builds the prompt hints for the profile. Returns nil when the
// profile holds nothing actionable yet.
func (p *UserProfile) Hints() *Hints {
	h := &Hints{
		QueryStyle:       p.QueryStyle,
		OutputPreference: p.OutputPreference,
	}
	if len(p.FrequentFilters) > 0 {
		h.FrequentFilters = p.FrequentFilters
	}

	top, count := "", 0
	for d, c := range p.DomainFocus {
		if c > count || (c == count && c > 0 && d < top) {
			top, count = d, c
		}
	}
	if count > 0 {
		h.PrimaryDomain = top
	}

	if h.FrequentFilters == nil && h.PrimaryDomain == "" && p.TotalQueries == 0 {
		return nil
	}
	return h
}
