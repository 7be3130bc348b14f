package vars

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestValueText(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{"string", NewString("app-prod-rg"), "app-prod-rg"},
		{"int number", NewNumber(8080), "8080"},
		{"float number", NewNumber(1.5), "1.5"},
		{"bool true", NewBool(true), "true"},
		{"bool false", NewBool(false), "false"},
		{"null", Null(), ""},
		{"list", NewList(NewString("a"), NewNumber(2)), `["a",2]`},
		{
			"map preserves order",
			NewMap(
				MapEntry{Key: "env", Value: NewString("prod")},
				MapEntry{Key: "count", Value: NewNumber(3)},
			),
			`{"env":"prod","count":3}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.value.Text())
		})
	}
}

func TestFromYAMLNode(t *testing.T) {
	var node yaml.Node
	err := yaml.Unmarshal([]byte("tags:\n  env: prod\n  team: infra\nports: [443, 8080]\nenabled: true\n"), &node)
	require.NoError(t, err)

	v, err := FromYAMLNode(&node)
	require.NoError(t, err)
	require.Equal(t, KindMap, v.Kind())

	tags, ok := v.Index("tags")
	require.True(t, ok)
	assert.Equal(t, `{"env":"prod","team":"infra"}`, tags.Text())

	ports, ok := v.Index("ports")
	require.True(t, ok)
	first, ok := ports.At(0)
	require.True(t, ok)
	assert.Equal(t, "443", first.Text())

	enabled, ok := v.Index("enabled")
	require.True(t, ok)
	assert.Equal(t, "true", enabled.Text())
}

func TestContextPrecedence(t *testing.T) {
	ctx := NewContext(
		map[string]Value{"region": NewString("us-east-1")},
		map[string]Value{MetaStackEnv: NewString("prod")},
	)
	ctx.SetGlobal("region", NewString("us-west-2"))
	ctx.SetGlobal("vpc_cidr", NewString("10.0.0.0/16"))
	ctx.Export("vpc_cidr", NewString("192.168.0.0/16"))
	ctx.Export("vpc_id", NewString("vpc-123"))

	// Environment override beats the rendered global.
	v, ok := ctx.Get("region")
	require.True(t, ok)
	assert.Equal(t, "us-east-1", v.Text())

	// A global beats an export of the same name.
	v, ok = ctx.Get("vpc_cidr")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.0/16", v.Text())

	// Exports are reachable when nothing shadows them.
	v, ok = ctx.Get("vpc_id")
	require.True(t, ok)
	assert.Equal(t, "vpc-123", v.Text())

	_, ok = ctx.Get("missing")
	assert.False(t, ok)
}

func TestSnapshotDoesNotSeeLaterExports(t *testing.T) {
	ctx := NewContext(nil, nil)
	ctx.Export("early", NewString("yes"))

	scope := ctx.Snapshot(map[string]Value{"prop": NewString("p")})

	ctx.Export("late", NewString("no"))

	_, ok := scope.Get("late")
	assert.False(t, ok, "export made after snapshot must not be visible")

	v, ok := scope.Get("early")
	require.True(t, ok)
	assert.Equal(t, "yes", v.Text())

	v, ok = scope.Get("prop")
	require.True(t, ok)
	assert.Equal(t, "p", v.Text())
}

func TestSnapshotPropsShadowGlobals(t *testing.T) {
	ctx := NewContext(map[string]Value{"name": NewString("override")}, nil)
	ctx.SetGlobal("name", NewString("global"))
	ctx.SetGlobal("other", NewString("g2"))

	scope := ctx.Snapshot(map[string]Value{"other": NewString("prop")})

	v, _ := scope.Get("name")
	assert.Equal(t, "override", v.Text(), "env override beats props and globals")

	v, _ = scope.Get("other")
	assert.Equal(t, "prop", v.Text(), "props beat globals")
}
