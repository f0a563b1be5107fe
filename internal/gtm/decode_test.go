package gtm

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDecoder() *Decoder {
	return NewDecoder(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDecodeCustomHTMLTag(t *testing.T) {
	rc := &RawContainer{
		Tags: []map[string]any{
			{
				"function": "__html",
				"vtp_html": "<script>fbq('init','123456789012345');</script>",
			},
		},
	}

	inv := testDecoder().Decode(rc)
	require.Len(t, inv.Tags, 1)

	tag := inv.Tags[0]
	assert.Equal(t, "Custom HTML", tag.Type)
	assert.Equal(t, "Meta (Facebook)", tag.Vendor)
	assert.Equal(t, FiringUnlimited, tag.FiringOption)
	assert.Empty(t, tag.ConsentRequirements)
	assert.Equal(t, rc.Tags[0], tag.RawSource)
}

func TestDecodeTagNameCascade(t *testing.T) {
	testCases := []struct {
		name     string
		raw      map[string]any
		entities map[int]map[string]any
		expected string
	}{
		{
			name:     "Explicit name field wins",
			raw:      map[string]any{"function": "__googtag", "name": "GA4 Base", "vtp_measurementId": "G-AAAA1111"},
			expected: "GA4 Base",
		},
		{
			name:     "Metadata map pair",
			raw:      map[string]any{"function": "__googtag", "metadata": []any{"map", "name", "From Metadata"}},
			expected: "From Metadata",
		},
		{
			name:     "Entity table by position",
			raw:      map[string]any{"function": "__googtag"},
			entities: map[int]map[string]any{0: {"name": "Entity Name"}},
			expected: "Entity Name",
		},
		{
			name:     "Vendor parameter fallback",
			raw:      map[string]any{"function": "__googtag", "vtp_measurementId": "G-BBBB2222"},
			expected: "G-BBBB2222",
		},
		{
			name:     "Nothing resolvable",
			raw:      map[string]any{"function": "__googtag"},
			expected: "",
		},
		{
			name:     "Malformed metadata falls through",
			raw:      map[string]any{"function": "__googtag", "metadata": []any{"not-a-map", "name", "X"}, "vtp_trackingId": "UA-1234-5"},
			expected: "UA-1234-5",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rc := &RawContainer{Tags: []map[string]any{tc.raw}, Entities: tc.entities}
			if rc.Entities == nil {
				rc.Entities = map[int]map[string]any{}
			}
			inv := testDecoder().Decode(rc)
			require.Len(t, inv.Tags, 1)
			assert.Equal(t, tc.expected, inv.Tags[0].Name)
		})
	}
}

func TestDecodeConsentRequirements(t *testing.T) {
	testCases := []struct {
		name     string
		consent  any
		expected []string
	}{
		{
			name:     "Tagged list shape",
			consent:  []any{"list", "ad_storage", "analytics_storage"},
			expected: []string{"ad_storage", "analytics_storage"},
		},
		{
			name:     "Missing field",
			consent:  nil,
			expected: nil,
		},
		{
			name:     "Malformed shape yields none",
			consent:  map[string]any{"ad_storage": true},
			expected: nil,
		},
		{
			name:     "List tag without tokens",
			consent:  []any{"list"},
			expected: nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			raw := map[string]any{"function": "__googtag"}
			if tc.consent != nil {
				raw["consent"] = tc.consent
			}
			inv := testDecoder().Decode(&RawContainer{Tags: []map[string]any{raw}})
			require.Len(t, inv.Tags, 1)
			assert.ElementsMatch(t, tc.expected, inv.Tags[0].ConsentRequirements)
		})
	}
}

func TestDecodeFiringOptionPrecedence(t *testing.T) {
	testCases := []struct {
		name     string
		raw      map[string]any
		expected string
	}{
		{
			name:     "Both flags set: once per event wins",
			raw:      map[string]any{"once_per_event": true, "once_per_load": true},
			expected: FiringOncePerEvent,
		},
		{
			name:     "Once per page only",
			raw:      map[string]any{"once_per_load": true},
			expected: FiringOncePerPage,
		},
		{
			name:     "No flags",
			raw:      map[string]any{},
			expected: FiringUnlimited,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			inv := testDecoder().Decode(&RawContainer{Tags: []map[string]any{tc.raw}})
			require.Len(t, inv.Tags, 1)
			assert.Equal(t, tc.expected, inv.Tags[0].FiringOption)
		})
	}
}

func TestDecodeSetupTags(t *testing.T) {
	raw := map[string]any{
		"function": "__googtag",
		"setup_tags": []any{
			"list",
			[]any{"tag", float64(12), float64(0)},
			"malformed entry",
			[]any{"tag", "not-a-number"},
			[]any{"tag", float64(7)},
		},
	}

	inv := testDecoder().Decode(&RawContainer{Tags: []map[string]any{raw}})
	require.Len(t, inv.Tags, 1)
	assert.Equal(t, []string{"12", "7"}, inv.Tags[0].SetupTagIDs)
}

func TestDecodeTriggerSynthesis(t *testing.T) {
	rc := &RawContainer{
		Macros: []map[string]any{
			{"function": "__e"},
			{"function": "__v", "vtp_name": "page_path"},
		},
		Tags: []map[string]any{
			{"function": "__gaawe", "name": "Purchase Event"},
		},
		Predicates: []map[string]any{
			{"function": "_eq", "arg0": []any{"macro", float64(0)}, "arg1": "purchase"},
			{"function": "_cn", "arg0": []any{"macro", float64(1)}, "arg1": "/checkout"},
		},
		Rules: [][]any{
			{
				[]any{"if", float64(0)},
				[]any{"unless", float64(1)},
				[]any{"add", float64(0)},
			},
		},
	}

	inv := testDecoder().Decode(rc)
	require.Len(t, inv.Triggers, 1)

	trig := inv.Triggers[0]
	assert.Equal(t, "1", trig.ID)
	assert.Equal(t, "Custom Event", trig.Type)
	assert.Equal(t, "purchase", trig.EventName)
	assert.Contains(t, trig.ConditionsSummary, `event equals "purchase"`)
	assert.Contains(t, trig.ExceptionsSummary, `page_path contains "/checkout"`)

	// The rule's add op links the tag back to this trigger.
	require.Len(t, inv.Tags, 1)
	assert.Equal(t, []string{"1"}, inv.Tags[0].FiringTriggerIDs)
}

func TestDecodeTriggerOutOfRangePredicate(t *testing.T) {
	rc := &RawContainer{
		Tags: []map[string]any{{"function": "__html"}},
		Rules: [][]any{
			{
				[]any{"if", float64(99)},
				[]any{"add", float64(0)},
			},
		},
	}

	inv := testDecoder().Decode(rc)
	require.Len(t, inv.Triggers, 1)
	assert.Equal(t, "All Pages", inv.Triggers[0].ConditionsSummary)
	assert.Equal(t, "None", inv.Triggers[0].ExceptionsSummary)
}

func TestDecodeTriggerEventNameFilters(t *testing.T) {
	testCases := []struct {
		name     string
		operand  string
		expected string
	}{
		{"Plain event token", "add_to_cart", "add_to_cart"},
		{"Built-in event", "gtm.js", "gtm.js"},
		{"Absolute URL rejected", "https://example.com/landing", ""},
		{"Protocol-relative URL rejected", "//cdn.example.com/x.js", ""},
		{"Path rejected", "/checkout/complete", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rc := &RawContainer{
				Macros: []map[string]any{{"function": "__e"}},
				Predicates: []map[string]any{
					{"function": "_eq", "arg0": []any{"macro", float64(0)}, "arg1": tc.operand},
				},
				Rules: [][]any{{[]any{"if", float64(0)}}},
			}
			inv := testDecoder().Decode(rc)
			require.Len(t, inv.Triggers, 1)
			assert.Equal(t, tc.expected, inv.Triggers[0].EventName)
		})
	}
}

func TestDecodeTriggerTypes(t *testing.T) {
	testCases := []struct {
		name     string
		event    string
		expected string
	}{
		{"Page view", "gtm.js", "Page View"},
		{"DOM ready", "gtm.dom", "DOM Ready"},
		{"Window loaded", "gtm.load", "Window Loaded"},
		{"Click", "gtm.click", "Click"},
		{"Custom event", "newsletter_signup", "Custom Event"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rc := &RawContainer{
				Macros: []map[string]any{{"function": "__e"}},
				Predicates: []map[string]any{
					{"function": "_eq", "arg0": []any{"macro", float64(0)}, "arg1": tc.event},
				},
				Rules: [][]any{{[]any{"if", float64(0)}}},
			}
			inv := testDecoder().Decode(rc)
			require.Len(t, inv.Triggers, 1)
			assert.Equal(t, tc.expected, inv.Triggers[0].Type)
		})
	}
}

func TestDecodeVariables(t *testing.T) {
	rc := &RawContainer{
		Macros: []map[string]any{
			{"function": "__v", "vtp_name": "ecommerce.items"},
			{"function": "__mystery"},
			{"function": "__c", "vtp_value": "store-eu"},
			{"function": "__v", "vtp_name": "user.id", "vtp_setDefaultValue": true, "vtp_defaultValue": "anonymous"},
		},
	}

	inv := testDecoder().Decode(rc)
	require.Len(t, inv.Variables, 4)

	dlv := inv.Variables[0]
	assert.Equal(t, "Data Layer Variable", dlv.Type)
	assert.Equal(t, "ecommerce.items", dlv.DataLayerPath)
	assert.Equal(t, "ecommerce.items", dlv.Name)
	assert.Empty(t, dlv.DefaultValue)

	mystery := inv.Variables[1]
	assert.Equal(t, "__mystery", mystery.Type)
	assert.Empty(t, mystery.DataLayerPath)
	assert.Equal(t, "Variable #2 (__mystery)", mystery.Name)

	constant := inv.Variables[2]
	assert.Equal(t, "Constant", constant.Type)
	assert.Equal(t, "store-eu", constant.Name)

	withDefault := inv.Variables[3]
	assert.Equal(t, "anonymous", withDefault.DefaultValue)
}

func TestDecodeIsIdempotent(t *testing.T) {
	rc := &RawContainer{
		Macros: []map[string]any{
			{"function": "__e"},
			{"function": "__v", "vtp_name": "order.total"},
		},
		Tags: []map[string]any{
			{"function": "__gaawe", "vtp_measurementId": "G-ZZZZ9999", "once_per_event": true},
			{"function": "__html", "vtp_html": "<script>ttq.load('ABCDEFGHIJ1234567890');</script>"},
		},
		Predicates: []map[string]any{
			{"function": "_eq", "arg0": []any{"macro", float64(0)}, "arg1": "purchase"},
		},
		Rules: [][]any{
			{[]any{"if", float64(0)}, []any{"add", float64(0), float64(1)}},
		},
	}

	d := testDecoder()
	first := d.Decode(rc)
	second := d.Decode(rc)
	assert.Equal(t, first, second)
}

func TestDecodeCountsStayAlignedWithSource(t *testing.T) {
	// Corrupt entries decode to placeholders, never drop.
	rc := &RawContainer{
		Tags:   []map[string]any{{"function": "__html"}, {}, {"function": float64(12)}},
		Macros: []map[string]any{{}, {"function": "__v"}},
		Rules:  [][]any{nil, {[]any{"if", "junk"}}},
	}

	inv := testDecoder().Decode(rc)
	assert.Len(t, inv.Tags, len(rc.Tags))
	assert.Len(t, inv.Variables, len(rc.Macros))
	assert.Len(t, inv.Triggers, len(rc.Rules))
}
