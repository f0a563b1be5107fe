// Package gtm reverse-parses published Google Tag Manager container
// JavaScript into a normalized inventory of tags, triggers, and variables.
//
// The published artifact is undocumented, obfuscated, and versioned without
// notice, so everything in this package is best-effort: extraction and
// decoding degrade to empty or partial results instead of failing.
package gtm

// RawContainer is the decoded but not yet normalized configuration object
// embedded in the container JavaScript. All cross-references between rules,
// predicates, tags, and macros are positional integer indices and must be
// treated as untrusted: out-of-range indices signal a degraded field, never
// a fatal error.
type RawContainer struct {
	Version    string
	Tags       []map[string]any
	Predicates []map[string]any
	Rules      [][]any
	Macros     []map[string]any
	Entities   map[int]map[string]any
}

// IsEmpty reports whether the container carries no decodable entries at all.
func (rc *RawContainer) IsEmpty() bool {
	return len(rc.Tags) == 0 && len(rc.Macros) == 0 && len(rc.Rules) == 0
}

// TagRecord is one normalized tag. Identity is positional when the raw map
// carries no stable id, so records from different fetches must not be merged.
type TagRecord struct {
	ID                  string
	Name                string
	Type                string
	Vendor              string
	Priority            int
	FiringTriggerIDs    []string
	ConsentRequirements []string
	FiringOption        string
	SetupTagIDs         []string
	RawSource           map[string]any
}

// TriggerRecord is synthesized by joining the rules and predicates arrays;
// triggers have no first-class representation in the published artifact.
type TriggerRecord struct {
	ID                string
	Name              string
	Type              string
	EventName         string
	ConditionsSummary string
	ExceptionsSummary string
	RawSource         map[string]any
}

// VariableRecord is one normalized macro entry.
type VariableRecord struct {
	ID             string
	Name           string
	Type           string
	DefaultValue   string
	DataLayerPath  string
	DetailsSummary string
	RawSource      map[string]any
}

// Inventory is the full normalized output of one decode pass.
type Inventory struct {
	Tags      []TagRecord
	Triggers  []TriggerRecord
	Variables []VariableRecord
}

// Firing option labels, in precedence order when multiple flags are set.
const (
	FiringOncePerEvent = "Once per event"
	FiringOncePerPage  = "Once per page"
	FiringUnlimited    = "Unlimited"
)
