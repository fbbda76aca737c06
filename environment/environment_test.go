package environment

import (
	"context"
	"strings"
	"testing"

	"github.com/brookvale/stencil/op"
	"github.com/brookvale/stencil/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type buf struct{ strings.Builder }

func (b *buf) WriteString(s string) (int, error) { return b.Builder.WriteString(s) }

func TestMapEnvironmentTemplateLookup(t *testing.T) {
	env := NewMapEnvironment(100)
	tmpl := &CompiledTemplate{TemplateName: "base.html", AutoEscape: op.AutoEscapeHTML}
	env.Templates["base.html"] = tmpl

	got, ok := env.GetTemplate("base.html")
	require.True(t, ok)
	assert.Equal(t, "base.html", got.Name())
	assert.Equal(t, op.AutoEscapeHTML, got.InitialAutoEscape())

	_, ok = env.GetTemplate("missing.html")
	assert.False(t, ok)
}

func TestFormatHTMLEscaping(t *testing.T) {
	env := NewMapEnvironment(10)
	var out buf
	require.NoError(t, env.Format(context.Background(), value.NewString("<b>"), op.AutoEscapeHTML, &out))
	assert.Equal(t, "&lt;b&gt;", out.String())
}

func TestFormatHTMLSafeBypassesEscaping(t *testing.T) {
	env := NewMapEnvironment(10)
	var out buf
	require.NoError(t, env.Format(context.Background(), value.NewSafeString("<b>"), op.AutoEscapeHTML, &out))
	assert.Equal(t, "<b>", out.String())
}

func TestFormatJSONScalarsAndContainers(t *testing.T) {
	env := NewMapEnvironment(10)
	var out buf
	m := value.NewMap()
	m.Set("a", value.NewInt(1))
	m.Set("b", value.NewString("x"))
	require.NoError(t, env.Format(context.Background(), m, op.AutoEscapeJSON, &out))
	assert.Equal(t, `{"a":1,"b":"x"}`, out.String())
}

func TestFormatUndefinedWritesNothing(t *testing.T) {
	env := NewMapEnvironment(10)
	var out buf
	require.NoError(t, env.Format(context.Background(), value.Undefined, op.AutoEscapeHTML, &out))
	assert.Equal(t, "", out.String())
}

func TestFilterAndTestRegistration(t *testing.T) {
	env := NewMapEnvironment(10)
	env.Filters["upper"] = func(ctx context.Context, val value.Value, args []value.Value) (value.Value, error) {
		return value.NewString(strings.ToUpper(val.String())), nil
	}
	env.Tests["even"] = func(ctx context.Context, val value.Value, args []value.Value) (bool, error) {
		i, ok := val.(value.Int)
		return ok && i.Val%2 == 0, nil
	}

	f, ok := env.GetFilter("upper")
	require.True(t, ok)
	result, err := f(context.Background(), value.NewString("hi"), nil)
	require.NoError(t, err)
	assert.Equal(t, "HI", result.String())

	_, ok = env.GetFilter("nope")
	assert.False(t, ok)

	tf, ok := env.GetTest("even")
	require.True(t, ok)
	yes, err := tf(context.Background(), value.NewInt(4), nil)
	require.NoError(t, err)
	assert.True(t, yes)
}
