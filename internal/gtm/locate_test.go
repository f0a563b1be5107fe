package gtm

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLocator() *Locator {
	return NewLocator(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

const testContainerID = "GTM-TEST123"

func TestLocateVarDataAssignment(t *testing.T) {
	// The var-data format legally mixes quoting styles, so this literal is
	// deliberately not valid JSON.
	source := `(function(){var data = {'resource': {'version': '7', 'tags': [{'function': '__html'}], 'macros': [], 'predicates': [], 'rules': []}};start(data);})();`

	rc := testLocator().Locate(source, testContainerID)
	require.Len(t, rc.Tags, 1)
	assert.Equal(t, "7", rc.Version)
	assert.Equal(t, "__html", rc.Tags[0]["function"])
}

func TestLocateContainerKeyedObject(t *testing.T) {
	source := fmt.Sprintf(`var gtm = {"%s": {"resource": {"tags": [{"function": "__googtag"}], "macros": [{"function": "__e"}], "predicates": [], "rules": []}}};`, testContainerID)

	rc := testLocator().Locate(source, testContainerID)
	require.Len(t, rc.Tags, 1)
	require.Len(t, rc.Macros, 1)
}

func TestLocatePushCallScansAllMatches(t *testing.T) {
	// The first push carries an unrelated payload; the locator must keep
	// scanning until a candidate exposes container keys.
	source := `q.push({"event": "gtm.js"});q.push({"tags": [{"function": "__ua"}], "macros": [], "predicates": [], "rules": []});`

	rc := testLocator().Locate(source, testContainerID)
	require.Len(t, rc.Tags, 1)
	assert.Equal(t, "__ua", rc.Tags[0]["function"])
}

// Synthetic source matching only the indexed-assignment pattern: strategies
// one through three must fall through without short-circuiting the cascade.
func TestLocateIndexedAssignmentFallthrough(t *testing.T) {
	source := fmt.Sprintf(`window.google_tag_manager["%s"] = {"tags": [{"function": "__awct"}], "macros": [], "predicates": [], "rules": []};`, testContainerID)

	rc := testLocator().Locate(source, testContainerID)
	require.Len(t, rc.Tags, 1)
	assert.Equal(t, "__awct", rc.Tags[0]["function"])
}

func TestLocateLegacyResourceLiteral(t *testing.T) {
	source := `/* gtm */ load({"resource": {"version": "1", "tags": [], "macros": [{"function": "__v", "vtp_name": "page"}], "predicates": [], "rules": []}});`

	rc := testLocator().Locate(source, testContainerID)
	require.Len(t, rc.Macros, 1)
	assert.Equal(t, "page", rc.Macros[0]["vtp_name"])
}

func TestLocateExhaustiveFallback(t *testing.T) {
	// No targeted pattern matches this shape; only the exhaustive scan can
	// find the payload. Padding pushes it over the minimum-size filter.
	padding := strings.Repeat("x", fallbackMinObjectSize)
	payload := fmt.Sprintf(`{"version": "9", "tags": [{"function": "__html", "vtp_html": "%s"}], "macros": [], "predicates": [], "rules": []}`, padding)
	source := "!function(a){a.settings(" + payload + ")}(w);"

	rc := testLocator().Locate(source, testContainerID)
	require.Len(t, rc.Tags, 1)
	assert.Equal(t, "9", rc.Version)
}

func TestLocateTotalFailureReturnsEmptyContainer(t *testing.T) {
	testCases := []struct {
		name   string
		source string
	}{
		{"No structure at all", "console.log('nothing to see here');"},
		{"Empty source", ""},
		{"Unbalanced braces", "var broken = {\"tags\": ["},
		{"Objects without container keys", `a({"foo": 1});b({"bar": [2]});`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rc := testLocator().Locate(tc.source, testContainerID)
			require.NotNil(t, rc)
			assert.True(t, rc.IsEmpty())
		})
	}
}

func TestContainerFromValueKeepsPositionalAlignment(t *testing.T) {
	// A non-map entry in tags must keep its slot so positional identity
	// stays aligned with the source array.
	v := map[string]any{
		"tags":   []any{map[string]any{"function": "__html"}, "corrupt", map[string]any{"function": "__ua"}},
		"macros": []any{},
	}

	rc, ok := containerFromValue(v)
	require.True(t, ok)
	require.Len(t, rc.Tags, 3)
	assert.Equal(t, "__ua", rc.Tags[2]["function"])
	assert.Empty(t, rc.Tags[1])
}
