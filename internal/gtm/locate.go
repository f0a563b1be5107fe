package gtm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

// Caps for the exhaustive fallback strategy. The scan runs inside a request
// with a hard latency ceiling, so both the number of candidate positions and
// the number of parse attempts are bounded.
const (
	fallbackMaxCandidates = 1000
	fallbackMinObjectSize = 512
	fallbackMaxParses     = 20
)

var (
	varDataPattern   = regexp.MustCompile(`var\s+data\s*=\s*\{`)
	pushCallPattern  = regexp.MustCompile(`\.push\(\s*\{`)
	resourceLiteral  = `{"resource"`
	keyedPatternFmt  = `"%s"\s*:\s*\{`
	indexedPatternFt = `\[\s*['"]%s['"]\s*\]\s*=\s*\{`
)

// Locator finds the embedded configuration object inside container
// JavaScript. The published format has no contract, so Locate layers
// independent heuristics from most specific to most general and treats the
// failure of every one of them as a valid, empty result.
type Locator struct {
	logger *slog.Logger
}

func NewLocator(logger *slog.Logger) *Locator {
	return &Locator{logger: logger}
}

type locateStrategy struct {
	name string
	run  func(source, containerID string) (*RawContainer, bool)
}

// Locate tries each strategy in order and returns the first container it can
// decode. It never fails for "not found": exhausting every strategy yields an
// empty container, which callers must treat as a reportable outcome rather
// than an error.
func (l *Locator) Locate(source, containerID string) *RawContainer {
	strategies := []locateStrategy{
		{"var-data-assignment", l.locateVarData},
		{"container-keyed-object", l.locateKeyed},
		{"push-call-literal", l.locatePushCall},
		{"indexed-assignment", l.locateIndexed},
		{"legacy-resource-literal", l.locateLegacyResource},
		{"exhaustive-scan", l.locateExhaustive},
	}

	for _, s := range strategies {
		rc, ok := s.run(source, containerID)
		if !ok {
			continue
		}
		l.logger.Debug("Located container configuration",
			slog.String("strategy", s.name),
			slog.String("container_id", containerID),
			slog.Int("tags", len(rc.Tags)),
			slog.Int("macros", len(rc.Macros)))
		return rc
	}

	l.logger.Warn("No locator strategy matched; container format not recognized",
		slog.String("container_id", containerID),
		slog.Int("source_bytes", len(source)))
	return &RawContainer{}
}

// Strategy 1: `var data = {...}` wrapping a resource sub-object. The literal
// legally mixes quoting styles, so all evaluator tiers are allowed.
func (l *Locator) locateVarData(source, _ string) (*RawContainer, bool) {
	loc := varDataPattern.FindStringIndex(source)
	if loc == nil {
		return nil, false
	}
	candidate, ok := ExtractBalancedObject(source, loc[1]-1)
	if !ok {
		return nil, false
	}
	v, err := EvaluateObjectLiteral(candidate)
	if err != nil {
		return nil, false
	}
	return containerFromValue(v)
}

// Strategy 2: the modern direct-assignment format keyed by the container id.
// This shape is emitted as strict JSON, so only the strict tier applies.
func (l *Locator) locateKeyed(source, containerID string) (*RawContainer, bool) {
	re, err := regexp.Compile(fmt.Sprintf(keyedPatternFmt, regexp.QuoteMeta(containerID)))
	if err != nil {
		return nil, false
	}
	loc := re.FindStringIndex(source)
	if loc == nil {
		return nil, false
	}
	return l.extractStrictJSON(source, loc[1]-1)
}

// Strategy 3: array-append call with an object literal argument. All matches
// are scanned; the first whose decoded shape exposes container keys wins.
func (l *Locator) locatePushCall(source, _ string) (*RawContainer, bool) {
	for _, loc := range pushCallPattern.FindAllStringIndex(source, -1) {
		candidate, ok := ExtractBalancedObject(source, loc[1]-1)
		if !ok {
			continue
		}
		v, err := EvaluateObjectLiteral(candidate)
		if err != nil {
			continue
		}
		if rc, ok := containerFromValue(v); ok {
			return rc, true
		}
	}
	return nil, false
}

// Strategy 4: bracket-indexed assignment variant of strategy 2.
func (l *Locator) locateIndexed(source, containerID string) (*RawContainer, bool) {
	re, err := regexp.Compile(fmt.Sprintf(indexedPatternFt, regexp.QuoteMeta(containerID)))
	if err != nil {
		return nil, false
	}
	loc := re.FindStringIndex(source)
	if loc == nil {
		return nil, false
	}
	return l.extractStrictJSON(source, loc[1]-1)
}

// Strategy 5: legacy bare `{"resource": {...}}` top-level object.
func (l *Locator) locateLegacyResource(source, _ string) (*RawContainer, bool) {
	idx := strings.Index(source, resourceLiteral)
	if idx < 0 {
		return nil, false
	}
	return l.extractStrictJSON(source, idx)
}

// Strategy 6: enumerate a bounded window of brace positions, extract each as
// a balanced object, and JSON-parse the largest candidates first. Largest
// wins because the real payload dwarfs incidental object literals.
func (l *Locator) locateExhaustive(source, _ string) (*RawContainer, bool) {
	positions := make([]int, 0, fallbackMaxCandidates)
	for i := len(source) - 1; i >= 0 && len(positions) < fallbackMaxCandidates; i-- {
		if source[i] == '{' {
			positions = append(positions, i)
		}
	}

	type candidate struct {
		start int
		text  string
	}
	candidates := make([]candidate, 0, len(positions))
	for _, pos := range positions {
		text, ok := ExtractBalancedObject(source, pos)
		if !ok || len(text) < fallbackMinObjectSize {
			continue
		}
		candidates = append(candidates, candidate{start: pos, text: text})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return len(candidates[i].text) > len(candidates[j].text)
	})

	parses := 0
	for _, c := range candidates {
		if parses >= fallbackMaxParses {
			break
		}
		parses++
		var v any
		if err := json.Unmarshal([]byte(c.text), &v); err != nil {
			continue
		}
		if rc, ok := containerFromValue(v); ok {
			return rc, true
		}
	}
	return nil, false
}

func (l *Locator) extractStrictJSON(source string, start int) (*RawContainer, bool) {
	candidate, ok := ExtractBalancedObject(source, start)
	if !ok {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(candidate), &v); err != nil {
		return nil, false
	}
	return containerFromValue(v)
}

// containerFromValue navigates a decoded value down to the resource object
// and converts it into a RawContainer. The value qualifies only when it
// exposes array-typed tags or macros, directly or under a "resource" key.
func containerFromValue(v any) (*RawContainer, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	if res, ok := m["resource"].(map[string]any); ok {
		m = res
	}

	tags := mapSlice(m["tags"])
	macros := mapSlice(m["macros"])
	if _, hasTags := m["tags"].([]any); !hasTags {
		if _, hasMacros := m["macros"].([]any); !hasMacros {
			return nil, false
		}
	}

	rc := &RawContainer{
		Version:    stringValue(m["version"]),
		Tags:       tags,
		Macros:     macros,
		Predicates: mapSlice(m["predicates"]),
		Rules:      ruleSlice(m["rules"]),
		Entities:   entityTable(m["entities"]),
	}
	return rc, true
}

// mapSlice converts a decoded []any into a slice of raw maps, keeping a
// placeholder empty map for entries of the wrong type so positional identity
// stays aligned with the source array.
func mapSlice(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, len(list))
	for i, e := range list {
		if m, ok := e.(map[string]any); ok {
			out[i] = m
		} else {
			out[i] = map[string]any{}
		}
	}
	return out
}

func ruleSlice(v any) [][]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([][]any, len(list))
	for i, e := range list {
		if r, ok := e.([]any); ok {
			out[i] = r
		}
	}
	return out
}

// entityTable accepts both object and array encodings of the sparse
// auxiliary metadata table. Published output usually omits it entirely.
func entityTable(v any) map[int]map[string]any {
	out := map[int]map[string]any{}
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			idx, err := parseIndex(k)
			if err != nil {
				continue
			}
			if m, ok := e.(map[string]any); ok {
				out[idx] = m
			}
		}
	case []any:
		for i, e := range t {
			if m, ok := e.(map[string]any); ok {
				out[i] = m
			}
		}
	}
	return out
}

func parseIndex(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
