package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Evoltonnac/quota-board/pkg/api"
)

func testScopes() *scopes {
	return &scopes{
		outputs: map[api.Name]any{
			"token": "from-outputs",
			"count": 42,
		},
		context: map[api.Name]any{
			"token":    "from-context",
			"api_base": "https://api.example",
			"payload":  map[string]any{"a": 1},
		},
		secrets: map[api.Name]any{
			"token":   "from-secrets",
			"api_key": "sk-123",
		},
	}
}

func TestResolvePriority(t *testing.T) {
	sc := testScopes()

	args := resolveArgs(api.Args{"v": "{token}"}, sc)
	assert.Equal(t, "from-outputs", args["v"])

	sc.outputs = map[api.Name]any{}
	args = resolveArgs(api.Args{"v": "{token}"}, sc)
	assert.Equal(t, "from-context", args["v"])

	sc.context = map[api.Name]any{}
	args = resolveArgs(api.Args{"v": "{token}"}, sc)
	assert.Equal(t, "from-secrets", args["v"])
}

func TestResolveTypedPassthrough(t *testing.T) {
	sc := testScopes()

	args := resolveArgs(api.Args{
		"count":   "{count}",
		"payload": "{payload}",
	}, sc)

	assert.Equal(t, 42, args["count"])
	assert.Equal(t, map[string]any{"a": 1}, args["payload"])
}

func TestResolveInterpolation(t *testing.T) {
	sc := testScopes()

	args := resolveArgs(api.Args{
		"url":    "{api_base}/v1/usage",
		"header": "Bearer {api_key}",
		"multi":  "{count} of {count}",
	}, sc)

	assert.Equal(t, "https://api.example/v1/usage", args["url"])
	assert.Equal(t, "Bearer sk-123", args["header"])
	assert.Equal(t, "42 of 42", args["multi"])
}

func TestResolveMissingLeftUnchanged(t *testing.T) {
	sc := testScopes()

	args := resolveArgs(api.Args{
		"whole":   "{nope}",
		"partial": "prefix {nope} suffix",
	}, sc)

	assert.Equal(t, "{nope}", args["whole"])
	assert.Equal(t, "prefix {nope} suffix", args["partial"])
}

func TestResolveNested(t *testing.T) {
	sc := testScopes()

	args := resolveArgs(api.Args{
		"headers": map[string]any{
			"Authorization": "Bearer {api_key}",
		},
		"list": []any{"{count}", "literal"},
	}, sc)

	headers := args["headers"].(map[string]any)
	assert.Equal(t, "Bearer sk-123", headers["Authorization"])

	list := args["list"].([]any)
	assert.Equal(t, 42, list[0])
	assert.Equal(t, "literal", list[1])
}

func TestResolveNonStringUntouched(t *testing.T) {
	sc := testScopes()

	args := resolveArgs(api.Args{
		"n": 7,
		"b": true,
	}, sc)

	assert.Equal(t, 7, args["n"])
	assert.Equal(t, true, args["b"])
}

func TestIsWholePlaceholder(t *testing.T) {
	assert.True(t, isWholePlaceholder("{a}"))
	assert.False(t, isWholePlaceholder("{}"))
	assert.False(t, isWholePlaceholder("x{a}"))
	assert.False(t, isWholePlaceholder("{a}{b}"))
	assert.False(t, isWholePlaceholder("plain"))
}
