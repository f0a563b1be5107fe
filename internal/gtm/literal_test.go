package gtm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateObjectLiteralStrictJSON(t *testing.T) {
	v, err := EvaluateObjectLiteral(`{"tags":[{"function":"__html"}],"version":"42"}`)
	require.NoError(t, err)

	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "42", m["version"])
	assert.Len(t, m["tags"], 1)
}

func TestEvaluateObjectLiteralLooseSyntax(t *testing.T) {
	testCases := []struct {
		name    string
		literal string
		check   func(t *testing.T, v any)
	}{
		{
			name:    "Single quotes",
			literal: `{'key': 'value'}`,
			check: func(t *testing.T, v any) {
				assert.Equal(t, map[string]any{"key": "value"}, v)
			},
		},
		{
			name:    "Trailing commas",
			literal: `{"a": [1, 2, 3,], "b": {"c": 1,},}`,
			check: func(t *testing.T, v any) {
				m := v.(map[string]any)
				assert.Equal(t, []any{float64(1), float64(2), float64(3)}, m["a"])
			},
		},
		{
			name:    "Line and block comments",
			literal: "{\n// leading comment\n\"a\": 1, /* inline */ \"b\": 2\n}",
			check: func(t *testing.T, v any) {
				m := v.(map[string]any)
				assert.Equal(t, float64(1), m["a"])
				assert.Equal(t, float64(2), m["b"])
			},
		},
		{
			name:    "Bare keys",
			literal: `{resource: {tags: [], macros: []}}`,
			check: func(t *testing.T, v any) {
				m := v.(map[string]any)
				assert.Contains(t, m, "resource")
			},
		},
		{
			name:    "Mixed quoting with embedded double quote",
			literal: `{'html': '<a href="x">link</a>'}`,
			check: func(t *testing.T, v any) {
				m := v.(map[string]any)
				assert.Equal(t, `<a href="x">link</a>`, m["html"])
			},
		},
		{
			name:    "JavaScript-only primitives",
			literal: `{a: undefined, b: true, c: null, d: 0x1F}`,
			check: func(t *testing.T, v any) {
				m := v.(map[string]any)
				assert.Nil(t, m["a"])
				assert.Equal(t, true, m["b"])
				assert.Nil(t, m["c"])
				assert.Equal(t, float64(31), m["d"])
			},
		},
		{
			name:    "Escapes inside single quotes",
			literal: `{a: 'it\'s \x41 é'}`,
			check: func(t *testing.T, v any) {
				m := v.(map[string]any)
				assert.Equal(t, "it's A é", m["a"])
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := EvaluateObjectLiteral(tc.literal)
			require.NoError(t, err)
			tc.check(t, v)
		})
	}
}

func TestEvaluateObjectLiteralRejectsGarbage(t *testing.T) {
	inputs := []string{
		`{a: function(){ return 1; }}`,
		`{"unterminated": "string}`,
		`{: 1}`,
		`not an object at all`,
		`{"a": 1} trailing garbage`,
	}

	for _, input := range inputs {
		_, err := EvaluateObjectLiteral(input)
		assert.Error(t, err, "expected failure for %q", input)
	}
}

func TestEvaluateObjectLiteralDepthCap(t *testing.T) {
	deep := ""
	for i := 0; i < maxLiteralDepth+10; i++ {
		deep += `{"a":`
	}
	deep += "1"
	for i := 0; i < maxLiteralDepth+10; i++ {
		deep += "}"
	}

	// Strict JSON may still accept it, so feed something only tier 3 can
	// read to force the permissive parser down the deep path.
	_, err := EvaluateObjectLiteral("{x: " + deep + "}")
	assert.Error(t, err)
}
