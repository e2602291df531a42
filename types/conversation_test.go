package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNewContext(t *testing.T) {
	ctx := NewContext("42")
	require.NotNil(t, ctx)
	assert.Equal(t, "42", ctx.UserID)
	assert.NotNil(t, ctx.State)
	assert.Empty(t, ctx.CurrentIntent)
	assert.Empty(t, ctx.CurrentDomain)
}

func TestContext_Clone(t *testing.T) {
	orig := NewContext("1")
	orig.CurrentIntent = "add"
	orig.CurrentDomain = "finance"
	orig.State["pending"] = "record"

	cp := orig.Clone()
	require.NotNil(t, cp)
	assert.Equal(t, orig.CurrentIntent, cp.CurrentIntent)
	assert.Equal(t, orig.CurrentDomain, cp.CurrentDomain)
	assert.Equal(t, orig.State, cp.State)

	// Mutating the clone must not leak into the original.
	cp.State["pending"] = "changed"
	assert.Equal(t, "record", orig.State["pending"])
}

func TestContext_Clone_Nil(t *testing.T) {
	var c *Context
	assert.Nil(t, c.Clone())
}

// Clone must preserve every field the caller set, for arbitrary state maps.
func TestContext_Clone_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := NewContext(rapid.StringN(1, 16, 16).Draw(t, "user"))
		c.CurrentIntent = rapid.SampledFrom([]string{"", "add", "query"}).Draw(t, "intent")
		c.CurrentDomain = rapid.SampledFrom([]string{"", "finance", "work"}).Draw(t, "domain")
		keys := rapid.SliceOfN(rapid.StringN(1, 8, 8), 0, 8).Draw(t, "keys")
		for _, k := range keys {
			c.State[k] = rapid.String().Draw(t, "val")
		}

		cp := c.Clone()
		assert.Equal(t, c.UserID, cp.UserID)
		assert.Equal(t, c.CurrentIntent, cp.CurrentIntent)
		assert.Equal(t, c.CurrentDomain, cp.CurrentDomain)
		assert.Equal(t, c.State, cp.State)
	})
}

func TestDecision_Valid(t *testing.T) {
	tests := []struct {
		name string
		d    *Decision
		want bool
	}{
		{name: "complete", d: &Decision{Plugin: "finance", Action: "add"}, want: true},
		{name: "missing plugin", d: &Decision{Action: "add"}, want: false},
		{name: "missing action", d: &Decision{Plugin: "finance"}, want: false},
		{name: "nil", d: nil, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.d.Valid())
		})
	}
}

func TestEnvelopeHelpers(t *testing.T) {
	ok := Ok("saved", map[string]any{"id": 1})
	assert.True(t, ok.Success)
	assert.Equal(t, "saved", ok.Message)
	assert.Empty(t, ok.Error)

	fail := Fail("plugin unavailable")
	assert.False(t, fail.Success)
	assert.Equal(t, "plugin unavailable", fail.Error)
	assert.Nil(t, fail.Data)

	failErr := FailErr(NewError(ErrRouting, "no decision"))
	assert.False(t, failErr.Success)
	assert.Contains(t, failErr.Error, "no decision")

	assert.Equal(t, "unknown error", FailErr(nil).Error)
}
