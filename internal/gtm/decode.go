package gtm

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Limits applied to synthesized trigger names and event-name extraction.
const (
	maxSynthesizedNameLen = 40
	maxEventNameLen       = 64
	maxSummaryConditions  = 3
)

// Tag parameters tried, in order, when a tag has no explicit name. These are
// vendor identifier fields, so the resulting label at least says where the
// tag points.
var tagNameParamFallbacks = []string{
	"vtp_measurementId",
	"vtp_measurementIdOverride",
	"vtp_tagId",
	"vtp_trackingId",
	"vtp_conversionId",
	"vtp_containerId",
	"vtp_pixelId",
	"vtp_advertiserId",
}

// Variable parameters tried per function identifier when a macro has no
// explicit name.
var variableNameParams = map[string]string{
	"__v":    "vtp_name",
	"__u":    "vtp_component",
	"__c":    "vtp_value",
	"__j":    "vtp_name",
	"__k":    "vtp_name",
	"__jsm":  "vtp_javascript",
	"__aev":  "vtp_varType",
	"__gas":  "vtp_trackingId",
	"__smm":  "vtp_input",
	"__remm": "vtp_input",
	"__d":    "vtp_elementId",
}

var predicateOpText = map[string]string{
	"_eq":  "equals",
	"_cn":  "contains",
	"_sw":  "starts with",
	"_ew":  "ends with",
	"_re":  "matches RegEx",
	"_lt":  "less than",
	"_le":  "less than or equal to",
	"_gt":  "greater than",
	"_ge":  "greater than or equal to",
	"_css": "matches CSS selector",
	"_em":  "matches element",
}

// Built-in gtm.* event names to coarse trigger-type labels.
var builtinEventTypes = map[string]string{
	"gtm.js":            "Page View",
	"gtm.dom":           "DOM Ready",
	"gtm.load":          "Window Loaded",
	"gtm.click":         "Click",
	"gtm.linkClick":     "Just Links",
	"gtm.formSubmit":    "Form Submission",
	"gtm.historyChange": "History Change",
	"gtm.timer":         "Timer",
	"gtm.scrollDepth":   "Scroll Depth",
	"gtm.video":         "YouTube Video",
	"gtm.init":          "Initialization",
	"gtm.init_consent":  "Consent Initialization",
}

var (
	urlShapedPattern = regexp.MustCompile(`(?i)^(?:https?:)?//|^/|\.(?:com|net|org|io|co|dev)(?:/|$)`)
	eventTokenShape  = regexp.MustCompile(`^[a-z0-9_.]+$`)
	titleCaser       = cases.Title(language.English)
)

// Decoder turns raw containers into normalized inventories. It is pure and
// stateless; the same raw document always decodes to the same output.
type Decoder struct {
	logger *slog.Logger
}

func NewDecoder(logger *slog.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// Decode normalizes the raw container. One malformed record never aborts the
// batch: each tag, trigger, and variable decodes in isolation and degrades to
// a placeholder record so output counts stay aligned with the source arrays.
func (d *Decoder) Decode(rc *RawContainer) *Inventory {
	inv := &Inventory{}

	tagTriggers := triggerReferencesByTag(rc)

	for i, raw := range rc.Tags {
		inv.Tags = append(inv.Tags, d.decodeTag(rc, raw, i, tagTriggers[i]))
	}
	for i, rule := range rc.Rules {
		inv.Triggers = append(inv.Triggers, d.decodeTrigger(rc, rule, i))
	}
	for i, raw := range rc.Macros {
		inv.Variables = append(inv.Variables, d.decodeVariable(rc, raw, i))
	}

	return inv
}

// triggerReferencesByTag inverts the rules array: each "add" op lists tag
// indices fired by that rule, and the rule position is the synthetic trigger
// id. Out-of-range tag indices are dropped, not fatal.
func triggerReferencesByTag(rc *RawContainer) map[int][]string {
	refs := map[int][]string{}
	for ruleIdx, rule := range rc.Rules {
		for _, tagIdx := range ruleOpIndices(rule, "add") {
			if tagIdx < 0 || tagIdx >= len(rc.Tags) {
				continue
			}
			refs[tagIdx] = append(refs[tagIdx], strconv.Itoa(ruleIdx+1))
		}
	}
	return refs
}

// ruleOpIndices collects the integer operands of every op with the given
// verb, e.g. ["if",0,2] or ["add",1]. Non-integer operands are skipped.
func ruleOpIndices(rule []any, verb string) []int {
	var out []int
	for _, op := range rule {
		opList, ok := op.([]any)
		if !ok || len(opList) < 1 {
			continue
		}
		if v, ok := opList[0].(string); !ok || v != verb {
			continue
		}
		for _, operand := range opList[1:] {
			if idx, ok := intValue(operand); ok {
				out = append(out, idx)
			}
		}
	}
	return out
}

func (d *Decoder) decodeTag(rc *RawContainer, raw map[string]any, pos int, triggerIDs []string) (rec TagRecord) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("Tag decode degraded to placeholder",
				slog.Int("position", pos), slog.Any("panic", r))
			rec = TagRecord{
				ID:           fmt.Sprintf("tag-%d", pos+1),
				Type:         "Unknown",
				Vendor:       "Unknown",
				FiringOption: FiringUnlimited,
				RawSource:    raw,
			}
		}
	}()

	function := stringValue(raw["function"])

	rec = TagRecord{
		ID:                  tagIdentity(raw, function, pos),
		Name:                d.resolveTagName(rc, raw, pos),
		Type:                classifyTagType(function),
		Vendor:              classifyTagVendor(function, raw),
		Priority:            priorityValue(raw["priority"]),
		FiringTriggerIDs:    triggerIDs,
		ConsentRequirements: consentTokens(raw["consent"]),
		FiringOption:        firingOption(raw),
		SetupTagIDs:         setupTagIDs(raw["setup_tags"]),
		RawSource:           raw,
	}
	return rec
}

// tagIdentity prefers an explicit numeric id; without one, identity is the
// function identifier plus the array position. Positional identity is not
// stable across fetches, which is an accepted limitation of the artifact.
func tagIdentity(raw map[string]any, function string, pos int) string {
	if id, ok := intValue(raw["tag_id"]); ok {
		return strconv.Itoa(id)
	}
	base := strings.TrimPrefix(function, "__")
	if base == "" {
		base = "tag"
	}
	return fmt.Sprintf("%s-%d", base, pos+1)
}

// resolveTagName runs the name cascade: explicit field, embedded metadata
// pairs, the entities table, then vendor identifier parameters. Every
// resolver is optional; exhausting all of them yields the empty string.
func (d *Decoder) resolveTagName(rc *RawContainer, raw map[string]any, pos int) string {
	resolvers := []func() string{
		func() string { return stringValue(raw["name"]) },
		func() string { return metadataName(raw["metadata"]) },
		func() string { return entityName(rc, pos) },
		func() string {
			for _, param := range tagNameParamFallbacks {
				if v := stringValue(raw[param]); v != "" {
					return v
				}
			}
			return ""
		},
	}
	for _, resolve := range resolvers {
		if name := resolve(); name != "" {
			return name
		}
	}
	return ""
}

// metadataName scans a ["map", key, value, ...] metadata array for a "name"
// pair.
func metadataName(v any) string {
	list, ok := v.([]any)
	if !ok || len(list) < 3 || stringValue(list[0]) != "map" {
		return ""
	}
	pairs := list[1:]
	for i := 0; i+1 < len(pairs); i += 2 {
		if stringValue(pairs[i]) == "name" {
			return stringValue(pairs[i+1])
		}
	}
	return ""
}

// entityName looks up auxiliary metadata by position. The index mapping is
// not documented by the vendor, so this stays the last resolver before the
// parameter fallbacks: tags occupy [0, len(tags)) and macros follow them.
func entityName(rc *RawContainer, pos int) string {
	entity, ok := rc.Entities[pos]
	if !ok {
		return ""
	}
	return stringValue(entity["name"])
}

func priorityValue(v any) int {
	if n, ok := intValue(v); ok {
		return n
	}
	return 0
}

// consentTokens extracts consent categories only from the tagged-list shape
// ["list", token, token, ...]. Any other shape yields no requirements rather
// than a guess.
func consentTokens(v any) []string {
	list, ok := v.([]any)
	if !ok || len(list) < 2 || stringValue(list[0]) != "list" {
		return nil
	}
	var tokens []string
	for _, e := range list[1:] {
		if s := stringValue(e); s != "" {
			tokens = append(tokens, s)
		}
	}
	return tokens
}

// firingOption resolves the two independent boolean flags; once-per-event
// wins when both are set.
func firingOption(raw map[string]any) string {
	if boolValue(raw["once_per_event"]) {
		return FiringOncePerEvent
	}
	if boolValue(raw["once_per_load"]) || boolValue(raw["once_per_page"]) {
		return FiringOncePerPage
	}
	return FiringUnlimited
}

// setupTagIDs reads the ["list", ["tag", id, ...], ...] structure naming tags
// that must fire first. Malformed entries are skipped.
func setupTagIDs(v any) []string {
	list, ok := v.([]any)
	if !ok || len(list) < 2 || stringValue(list[0]) != "list" {
		return nil
	}
	var ids []string
	for _, e := range list[1:] {
		entry, ok := e.([]any)
		if !ok || len(entry) < 2 || stringValue(entry[0]) != "tag" {
			continue
		}
		if id, ok := intValue(entry[1]); ok {
			ids = append(ids, strconv.Itoa(id))
		}
	}
	return ids
}

// condition is one resolved predicate reference within a rule.
type condition struct {
	text       string
	operand    string
	function   string
	testsEvent bool
}

func (d *Decoder) decodeTrigger(rc *RawContainer, rule []any, pos int) (rec TriggerRecord) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("Trigger decode degraded to placeholder",
				slog.Int("position", pos), slog.Any("panic", r))
			rec = TriggerRecord{
				ID:                strconv.Itoa(pos + 1),
				Name:              fmt.Sprintf("Trigger #%d", pos+1),
				Type:              "Custom Trigger",
				ConditionsSummary: "All Pages",
				ExceptionsSummary: "None",
				RawSource:         map[string]any{"rule": rule},
			}
		}
	}()

	positives := d.resolveConditions(rc, ruleOpIndices(rule, "if"))
	exceptions := d.resolveConditions(rc, ruleOpIndices(rule, "unless"))

	eventName := extractEventName(positives)

	rec = TriggerRecord{
		ID:                strconv.Itoa(pos + 1),
		Name:              synthesizeTriggerName(rc, positives, pos),
		Type:              triggerType(positives, eventName),
		EventName:         eventName,
		ConditionsSummary: summarizeConditions(positives, "All Pages"),
		ExceptionsSummary: summarizeConditions(exceptions, "None"),
		RawSource: map[string]any{
			"rule":       rule,
			"conditions": conditionTexts(positives),
			"exceptions": conditionTexts(exceptions),
		},
	}
	return rec
}

// resolveConditions maps predicate indices to resolved conditions, skipping
// unresolved (out-of-range) references.
func (d *Decoder) resolveConditions(rc *RawContainer, indices []int) []condition {
	var out []condition
	for _, idx := range indices {
		if idx < 0 || idx >= len(rc.Predicates) {
			d.logger.Debug("Skipping out-of-range predicate reference", slog.Int("index", idx))
			continue
		}
		out = append(out, describePredicate(rc, rc.Predicates[idx]))
	}
	return out
}

// describePredicate renders one atomic condition. Predicates look like
// {"function":"_eq","arg0":["macro",0],"arg1":"gtm.js"}; a "!" prefix on the
// function negates it.
func describePredicate(rc *RawContainer, pred map[string]any) condition {
	fn := stringValue(pred["function"])
	negated := strings.HasPrefix(fn, "!")
	fn = strings.TrimPrefix(fn, "!")

	opText, ok := predicateOpText[fn]
	if !ok {
		opText = fn
	}
	if negated {
		opText = "does not " + opText // e.g. "does not equals"; terse but unambiguous
	}

	lhs, testsEvent := describeOperand(rc, pred["arg0"])
	rhs, _ := describeOperand(rc, pred["arg1"])

	return condition{
		text:       fmt.Sprintf("%s %s %q", lhs, opText, rhs),
		operand:    stringValue(pred["arg1"]),
		function:   fn,
		testsEvent: testsEvent,
	}
}

// describeOperand renders a predicate operand. ["macro", N] references are
// resolved to the macro's name; the reserved first-position macro (or any
// macro with the event function) is the built-in event variable.
func describeOperand(rc *RawContainer, v any) (text string, isEvent bool) {
	ref, ok := v.([]any)
	if ok && len(ref) >= 2 && stringValue(ref[0]) == "macro" {
		idx, ok := intValue(ref[1])
		if !ok || idx < 0 || idx >= len(rc.Macros) {
			return "macro ?", false
		}
		macro := rc.Macros[idx]
		fn := stringValue(macro["function"])
		if idx == 0 || fn == "__e" {
			return "event", true
		}
		if name := stringValue(macro["vtp_name"]); name != "" {
			return name, false
		}
		return fmt.Sprintf("macro %d", idx), false
	}
	return stringValue(v), false
}

// extractEventName returns the literal operand when a positive condition is
// an equality or contains test against the built-in event variable and the
// operand is not URL-shaped. Redirect conditions legitimately test URLs, so
// the shape filter keeps those out of the event column.
func extractEventName(positives []condition) string {
	for _, c := range positives {
		if !c.testsEvent {
			continue
		}
		if c.function != "_eq" && c.function != "_cn" && c.function != "_re" {
			continue
		}
		if c.operand == "" || len(c.operand) > maxEventNameLen {
			continue
		}
		if urlShapedPattern.MatchString(c.operand) {
			continue
		}
		return c.operand
	}
	return ""
}

// synthesizeTriggerName builds a best-effort label: explicit metadata is not
// published for rules, so the first one or two matched conditions' literal
// operands are joined and truncated; failing that, a positional placeholder.
func synthesizeTriggerName(rc *RawContainer, positives []condition, pos int) string {
	var parts []string
	for _, c := range positives {
		if c.operand == "" {
			continue
		}
		parts = append(parts, humanizeToken(c.operand))
		if len(parts) == 2 {
			break
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Trigger #%d", pos+1)
	}
	name := strings.Join(parts, " + ")
	if len(name) > maxSynthesizedNameLen {
		name = name[:maxSynthesizedNameLen]
	}
	return name
}

// humanizeToken title-cases machine event tokens ("add_to_cart" becomes
// "Add To Cart") and leaves anything else untouched.
func humanizeToken(s string) string {
	if !eventTokenShape.MatchString(s) {
		return s
	}
	return titleCaser.String(strings.NewReplacer("_", " ", ".", " ").Replace(s))
}

func triggerType(positives []condition, eventName string) string {
	if label, ok := builtinEventTypes[eventName]; ok {
		return label
	}
	if eventName != "" {
		return "Custom Event"
	}
	if len(positives) == 0 {
		return "Page View"
	}
	return "Custom Trigger"
}

func summarizeConditions(conds []condition, empty string) string {
	if len(conds) == 0 {
		return empty
	}
	limit := len(conds)
	if limit > maxSummaryConditions {
		limit = maxSummaryConditions
	}
	texts := conditionTexts(conds[:limit])
	summary := strings.Join(texts, "; ")
	if len(conds) > limit {
		summary += fmt.Sprintf(" (+%d more)", len(conds)-limit)
	}
	return summary
}

func conditionTexts(conds []condition) []string {
	out := make([]string, len(conds))
	for i, c := range conds {
		out[i] = c.text
	}
	return out
}

func (d *Decoder) decodeVariable(rc *RawContainer, raw map[string]any, pos int) (rec VariableRecord) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("Variable decode degraded to placeholder",
				slog.Int("position", pos), slog.Any("panic", r))
			rec = VariableRecord{
				ID:        fmt.Sprintf("variable-%d", pos+1),
				Name:      fmt.Sprintf("Variable #%d", pos+1),
				Type:      "Unknown",
				RawSource: raw,
			}
		}
	}()

	function := stringValue(raw["function"])

	rec = VariableRecord{
		ID:             variableIdentity(function, pos),
		Name:           d.resolveVariableName(rc, raw, function, pos),
		Type:           classifyVariableType(function),
		DefaultValue:   variableDefault(raw),
		DataLayerPath:  dataLayerPath(raw, function),
		DetailsSummary: variableDetails(raw),
		RawSource:      raw,
	}
	return rec
}

func variableIdentity(function string, pos int) string {
	base := strings.TrimPrefix(function, "__")
	if base == "" {
		base = "variable"
	}
	return fmt.Sprintf("%s-%d", base, pos+1)
}

func (d *Decoder) resolveVariableName(rc *RawContainer, raw map[string]any, function string, pos int) string {
	resolvers := []func() string{
		func() string { return stringValue(raw["name"]) },
		func() string { return metadataName(raw["metadata"]) },
		func() string {
			if param, ok := variableNameParams[function]; ok {
				return stringValue(raw[param])
			}
			return ""
		},
		func() string { return entityName(rc, len(rc.Tags)+pos) },
	}
	for _, resolve := range resolvers {
		if name := resolve(); name != "" {
			return name
		}
	}
	// Positional placeholder keeps the function identifier for traceability.
	return fmt.Sprintf("Variable #%d (%s)", pos+1, function)
}

// variableDefault extracts the default only when the source explicitly flags
// it as enabled.
func variableDefault(raw map[string]any) string {
	if !boolValue(raw["vtp_setDefaultValue"]) {
		return ""
	}
	return stringValue(raw["vtp_defaultValue"])
}

// dataLayerPath applies only to the data-layer-reading function identifier.
func dataLayerPath(raw map[string]any, function string) string {
	if function != "__v" {
		return ""
	}
	return stringValue(raw["vtp_name"])
}

// variableDetails compacts the vtp_* parameters into a short, deterministic
// summary for the details column.
func variableDetails(raw map[string]any) string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		if strings.HasPrefix(k, "vtp_") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) > maxSummaryConditions {
		keys = keys[:maxSummaryConditions]
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", strings.TrimPrefix(k, "vtp_"), compactValue(raw[k])))
	}
	return strings.Join(parts, ", ")
}

// compactValue renders a raw parameter value on one short line.
func compactValue(v any) string {
	s := stringValue(v)
	if s == "" {
		s = fmt.Sprintf("%v", v)
	}
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxSynthesizedNameLen {
		s = s[:maxSynthesizedNameLen] + "…"
	}
	return s
}

// stringValue returns v as a string when it is one, or a canonical rendering
// for JSON numbers and booleans. Structured values yield the empty string.
func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// intValue converts JSON numbers and numeric strings to int.
func intValue(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// boolValue treats JSON true and the string forms GTM emits ("true", 1) as
// set.
func boolValue(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "1"
	case float64:
		return t == 1
	default:
		return false
	}
}
