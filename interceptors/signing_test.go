package interceptors

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-policy/contracts"
	"github.com/glimte/mmate-policy/policy"
)

func TestSigning(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, SigningKeySize)

	signed := func(t *testing.T, s *Signing, body string) *contracts.Exchange {
		ex := contracts.NewExchange("T", contracts.Outbound, []byte(body))
		ex.SetHeader(contracts.HeaderCorrelationID, "corr-1")
		require.NoError(t, s.Process(context.Background(), ex, nil))
		sig, ok := ex.Header(contracts.HeaderSignature)
		require.True(t, ok)
		require.Len(t, sig, 64)
		ex.Direction = contracts.Inbound
		return ex
	}

	t.Run("Rejects short key", func(t *testing.T) {
		_, err := NewSigning([]byte("short"))
		assert.Error(t, err)
	})

	t.Run("Sign then verify", func(t *testing.T) {
		s, err := NewSigning(key)
		require.NoError(t, err)

		ex := signed(t, s, "hello")
		require.NoError(t, s.Process(context.Background(), ex, nil))
		verified, _ := ex.Props().Get("signing.verified")
		assert.Equal(t, true, verified)
	})

	t.Run("Tampered body fails", func(t *testing.T) {
		s, err := NewSigning(key)
		require.NoError(t, err)

		ex := signed(t, s, "hello")
		ex.Body = []byte("hellO")
		assert.ErrorIs(t, s.Process(context.Background(), ex, nil), ErrSignatureMismatch)
	})

	t.Run("Tampered signed header fails", func(t *testing.T) {
		s, err := NewSigning(key)
		require.NoError(t, err)

		ex := signed(t, s, "hello")
		ex.SetHeader(contracts.HeaderCorrelationID, "corr-2")
		assert.ErrorIs(t, s.Process(context.Background(), ex, nil), ErrSignatureMismatch)
	})

	t.Run("Different key fails", func(t *testing.T) {
		s, err := NewSigning(key)
		require.NoError(t, err)
		other, err := NewSigning(bytes.Repeat([]byte{0x24}, SigningKeySize))
		require.NoError(t, err)

		ex := signed(t, s, "hello")
		assert.ErrorIs(t, other.Process(context.Background(), ex, nil), ErrSignatureMismatch)
	})

	t.Run("Missing and malformed signatures", func(t *testing.T) {
		s, err := NewSigning(key)
		require.NoError(t, err)

		ex := contracts.NewExchange("T", contracts.Inbound, []byte("hello"))
		assert.ErrorIs(t, s.Process(context.Background(), ex, nil), ErrSignatureMissing)

		ex.SetHeader(contracts.HeaderSignature, "zz")
		assert.ErrorIs(t, s.Process(context.Background(), ex, nil), ErrSignatureMismatch)
	})

	t.Run("Headers parameter selects signed headers", func(t *testing.T) {
		s, err := NewSigning(key)
		require.NoError(t, err)
		params := policy.Params{"headers": []interface{}{"X-Tenant"}}

		ex := contracts.NewExchange("T", contracts.Outbound, []byte("hello"))
		ex.SetHeader("X-Tenant", "acme")
		require.NoError(t, s.Process(context.Background(), ex, params))

		ex.Direction = contracts.Inbound
		ex.SetHeader(contracts.HeaderCorrelationID, "not signed")
		require.NoError(t, s.Process(context.Background(), ex, params))

		ex.SetHeader("X-Tenant", "evil")
		assert.ErrorIs(t, s.Process(context.Background(), ex, params), ErrSignatureMismatch)
	})
}
