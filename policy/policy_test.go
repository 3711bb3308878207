package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy(t *testing.T) {
	t.Run("New preserves declaration order", func(t *testing.T) {
		p, err := New("orders",
			Assertion{Type: AssertionCorrelation},
			Assertion{Type: AssertionSigning},
			Assertion{Type: AssertionCompression},
		)
		require.NoError(t, err)

		assert.Equal(t, "orders", p.ID())
		assert.Equal(t, "orders", p.Key())
		require.Equal(t, 3, p.Len())
		assert.Equal(t, AssertionCorrelation, p.Assertion(0).Type)
		assert.Equal(t, AssertionSigning, p.Assertion(1).Type)
		assert.Equal(t, AssertionCompression, p.Assertion(2).Type)
	})

	t.Run("Policy is immutable", func(t *testing.T) {
		params := Params{"algorithm": "zstd"}
		in := []Assertion{{Type: AssertionCompression, Params: params}}
		p := MustNew("", in...)

		params["algorithm"] = "lz4"
		in[0].Type = "other"

		got := p.Assertions()
		assert.Equal(t, AssertionCompression, got[0].Type)
		assert.Equal(t, "zstd", got[0].Params["algorithm"])

		got[0].Params["algorithm"] = "none"
		assert.Equal(t, "zstd", p.Assertion(0).Params["algorithm"])
	})

	t.Run("Fingerprint is deterministic", func(t *testing.T) {
		a := MustNew("", Assertion{Type: AssertionCompression, Params: Params{"a": 1, "b": "x"}})
		b := MustNew("", Assertion{Type: AssertionCompression, Params: Params{"b": "x", "a": 1}})
		c := MustNew("", Assertion{Type: AssertionSigning})

		assert.Equal(t, a.Fingerprint(), b.Fingerprint())
		assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
		assert.Equal(t, a.Fingerprint(), a.Key())
		assert.Contains(t, a.Key(), "pol-")
	})

	t.Run("New rejects empty assertion", func(t *testing.T) {
		_, err := New("bad", Assertion{})
		assert.ErrorIs(t, err, ErrInvalidPolicy)
	})

	t.Run("New rejects invalid role", func(t *testing.T) {
		_, err := New("bad", Assertion{Type: AssertionSigning, Roles: []Role{Role(7)}})
		assert.ErrorIs(t, err, ErrInvalidPolicy)
	})

	t.Run("MustNew panics on error", func(t *testing.T) {
		assert.Panics(t, func() { MustNew("", Assertion{}) })
	})
}

func TestAssertionAppliesTo(t *testing.T) {
	tests := []struct {
		name       string
		roles      []Role
		fallback   []Role
		role       Role
		applicable bool
	}{
		{"unrestricted", nil, nil, Provider, true},
		{"fallback restricts", nil, []Role{Requester}, Provider, false},
		{"fallback allows", nil, []Role{Requester}, Requester, true},
		{"assertion overrides fallback", []Role{Provider}, []Role{Requester}, Provider, true},
		{"assertion restricts", []Role{Requester}, nil, Provider, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Assertion{Type: AssertionSigning, Roles: tt.roles}
			assert.Equal(t, tt.applicable, a.AppliesTo(tt.role, tt.fallback))
		})
	}
}

func TestRole(t *testing.T) {
	t.Run("ParseRole accepts aliases", func(t *testing.T) {
		r, err := ParseRole("Provider")
		require.NoError(t, err)
		assert.Equal(t, Provider, r)

		r, err = ParseRole("consumer")
		require.NoError(t, err)
		assert.Equal(t, Requester, r)

		_, err = ParseRole("broker")
		assert.ErrorIs(t, err, ErrInvalidPolicy)
	})

	t.Run("Text round trip", func(t *testing.T) {
		b, err := Requester.MarshalText()
		require.NoError(t, err)
		var r Role
		require.NoError(t, r.UnmarshalText(b))
		assert.Equal(t, Requester, r)

		_, err = Role(0).MarshalText()
		assert.Error(t, err)
	})

	t.Run("String", func(t *testing.T) {
		assert.Equal(t, "requester", Requester.String())
		assert.Equal(t, "provider", Provider.String())
		assert.Equal(t, "role(5)", Role(5).String())
	})
}

func TestParams(t *testing.T) {
	p := Params{
		"s":     "text",
		"b":     true,
		"i":     3,
		"i64":   int64(4),
		"f":     float64(5),
		"frac":  1.5,
		"list":  []interface{}{"a", "b"},
		"mixed": []interface{}{"a", 1},
		"strs":  []string{"x"},
	}

	s, ok := p.GetString("s")
	assert.True(t, ok)
	assert.Equal(t, "text", s)
	assert.Equal(t, "fallback", p.GetStringOr("missing", "fallback"))
	assert.Equal(t, "text", p.GetStringOr("s", "fallback"))

	b, ok := p.GetBool("b")
	assert.True(t, ok)
	assert.True(t, b)

	for _, key := range []string{"i", "i64", "f"} {
		_, ok := p.GetInt(key)
		assert.True(t, ok, key)
	}
	_, ok = p.GetInt("frac")
	assert.False(t, ok)

	list, ok := p.GetStrings("list")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, list)
	_, ok = p.GetStrings("mixed")
	assert.False(t, ok)
	strs, ok := p.GetStrings("strs")
	assert.True(t, ok)
	assert.Equal(t, []string{"x"}, strs)

	assert.Nil(t, Params(nil).Clone())
}

const sampleDocument = `
id: orders
assertions:
  - type: correlation
  - type: signing
    roles: [requester]
  - type: compression
    params:
      algorithm: zstd
    allow:
      zstd-compressor: true
  - type: extension
    capability: acme.audit
`

func TestParseYAML(t *testing.T) {
	t.Run("Parses document", func(t *testing.T) {
		p, err := ParseYAML([]byte(sampleDocument))
		require.NoError(t, err)

		assert.Equal(t, "orders", p.ID())
		require.Equal(t, 4, p.Len())
		assert.Equal(t, []Role{Requester}, p.Assertion(1).Roles)
		assert.Equal(t, "zstd", p.Assertion(2).Params.GetStringOr("algorithm", ""))
		assert.True(t, p.Assertion(2).Allow["zstd-compressor"])
		assert.Equal(t, "acme.audit", p.Assertion(3).Capability)
	})

	t.Run("Rejects unknown role", func(t *testing.T) {
		_, err := ParseYAML([]byte("assertions:\n  - type: signing\n    roles: [broker]\n"))
		assert.ErrorIs(t, err, ErrInvalidPolicy)
	})

	t.Run("Rejects malformed yaml", func(t *testing.T) {
		_, err := ParseYAML([]byte("assertions: ["))
		assert.ErrorIs(t, err, ErrInvalidPolicy)
	})

	t.Run("LoadYAML reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		require.NoError(t, os.WriteFile(path, []byte(sampleDocument), 0o600))

		p, err := LoadYAML(path)
		require.NoError(t, err)
		assert.Equal(t, 4, p.Len())

		_, err = LoadYAML(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}
